package store

import (
	"context"
	"time"

	"github.com/sells-group/resolve-cli/internal/model"
)

// Resolution describes how a verification request leaves the pending
// state. Exactly one of LeadID / NewLead is set for the approval statuses;
// both stay empty for a rejection. The store applies the status flip and
// any lead insert in a single transaction.
type Resolution struct {
	Status   model.VerificationStatus
	LeadID   string      // approved_match: the chosen lead
	NewLead  *model.Lead // approved_new_lead: inserted in the same transaction
	Reviewer string
	Note     string
	At       time.Time
}

// PendingFilter bounds a pending-verification query.
type PendingFilter struct {
	Reviewer      string    // only requests assigned to this reviewer
	CreatedBefore time.Time // only requests older than this instant (zero = all)
	MinConfidence float64   // only requests at or above this confidence
	Limit         int       // 0 = no limit
}

// Store is the persistence interface for leads and verification requests.
//
// CreateLead returns model.ErrDuplicateLeadRace when the email uniqueness
// constraint rejects the insert. Lookups return (nil, nil) rather than an
// error when no row matches; Get* by id return the model's not-found
// sentinels.
type Store interface {
	// Leads
	CreateLead(ctx context.Context, l *model.Lead) error
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	GetLeadByEmail(ctx context.Context, email string) (*model.Lead, error)
	ListLeadsByCompanyPrefix(ctx context.Context, prefix string, limit int) ([]model.Lead, error)
	ListLeadsByDomain(ctx context.Context, domain string, limit int) ([]model.Lead, error)
	ListLeadsByPhoneKey(ctx context.Context, phoneKey string) ([]model.Lead, error)
	TouchLeadActivity(ctx context.Context, id string, at time.Time) error

	// Verification requests
	CreateVerification(ctx context.Context, v *model.VerificationRequest) error
	GetVerification(ctx context.Context, id string) (*model.VerificationRequest, error)
	ResolveVerification(ctx context.Context, id string, res Resolution) (*model.VerificationRequest, error)
	ListPendingVerifications(ctx context.Context, filter PendingFilter) ([]model.VerificationRequest, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
