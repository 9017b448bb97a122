package match

import (
	"context"

	"github.com/sells-group/resolve-cli/internal/model"
)

// Gateway abstracts the lead store reads the pipeline needs. All methods
// are side-effect free. Implementations wrap store failures with
// model.ErrLookupUnavailable so the pipeline can degrade to the next tier
// instead of aborting the participant.
type Gateway interface {
	// FindByExactEmail returns the lead with the given normalized email,
	// or nil when none exists.
	FindByExactEmail(ctx context.Context, email string) (*model.Lead, error)

	// FindCandidatesByCompany returns a bounded candidate set of leads
	// whose company resembles the given one, most recently active first.
	FindCandidatesByCompany(ctx context.Context, company string, limit int) ([]model.Lead, error)

	// FindByDomain returns leads whose email domain equals the given
	// (non-generic) domain.
	FindByDomain(ctx context.Context, domain string) ([]model.Lead, error)

	// FindByPhone returns leads whose normalized phone key equals the
	// given key.
	FindByPhone(ctx context.Context, phoneKey string) ([]model.Lead, error)
}

// EnrichedProfile is the corroborating signal returned by the external
// profile-lookup collaborator.
type EnrichedProfile struct {
	Company    string
	Title      string
	Confidence float64
}

// Enricher is the optional profile-enrichment collaborator. Lookup returns
// (nil, nil) when no profile is found; errors are treated as
// model.ErrEnrichmentUnavailable and never fail the decision.
type Enricher interface {
	Lookup(ctx context.Context, email, name string) (*EnrichedProfile, error)
}
