// Package provision creates new leads from unmatched participants.
// Creation is idempotent with respect to email uniqueness: the provisioner
// re-checks before insert and recovers benign duplicate races by
// re-fetching the winner.
package provision

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/resolve-cli/internal/match"
	"github.com/sells-group/resolve-cli/internal/model"
	"github.com/sells-group/resolve-cli/internal/store"
)

// Provisioner creates leads with duplicate-race protection.
type Provisioner struct {
	store store.Store
	cfg   match.Config
	now   func() time.Time
}

// New creates a provisioner. The match config supplies the generic-domain
// classification used when deriving a company from an email domain.
func New(st store.Store, cfg match.Config) *Provisioner {
	return &Provisioner{store: st, cfg: cfg, now: time.Now}
}

// WithNow fixes the clock for tests.
func (p *Provisioner) WithNow(now func() time.Time) *Provisioner {
	p.now = now
	return p
}

// Provision creates a lead for an unmatched participant, or returns the
// existing lead when one with the same email already exists (created
// concurrently or in a prior pass). The bool reports whether a new lead
// was created.
func (p *Provisioner) Provision(ctx context.Context, rec model.ParticipantRecord) (*model.Lead, bool, error) {
	if !rec.HasIdentity() {
		return nil, false, eris.Wrap(model.ErrInvalidParticipant, "provision")
	}

	lead := DeriveLead(rec, p.cfg, p.now().UTC())

	// Re-check inside the provisioning step: a concurrent resolution for
	// an overlapping participant may have created the lead since the
	// pipeline ran.
	if lead.Email != "" {
		existing, err := p.store.GetLeadByEmail(ctx, lead.Email)
		if err != nil {
			return nil, false, eris.Wrap(err, "provision: pre-check email")
		}
		if existing != nil {
			zap.L().Debug("provision: lead already exists",
				zap.String("email", lead.Email),
				zap.String("lead_id", existing.ID),
			)
			return existing, false, nil
		}
	}

	if err := p.store.CreateLead(ctx, lead); err != nil {
		if errors.Is(err, model.ErrDuplicateLeadRace) && lead.Email != "" {
			// Benign: the uniqueness constraint caught a race the
			// pre-check missed. Re-fetch and return the winner.
			existing, ferr := p.store.GetLeadByEmail(ctx, lead.Email)
			if ferr != nil {
				return nil, false, eris.Wrap(ferr, "provision: refetch after duplicate race")
			}
			if existing != nil {
				zap.L().Debug("provision: recovered duplicate race",
					zap.String("email", lead.Email),
					zap.String("lead_id", existing.ID),
				)
				return existing, false, nil
			}
		}
		return nil, false, eris.Wrap(err, "provision: create lead")
	}

	zap.L().Info("provision: created new lead",
		zap.String("lead_id", lead.ID),
		zap.String("email", lead.Email),
		zap.String("company", lead.Company),
	)
	return lead, true, nil
}

// DeriveLead builds a lead from a participant record, filling gaps from
// the email address: names from the local part split on non-alphanumeric
// separators, company from the domain with the TLD stripped. A local part
// with no separators stays a single first-name token ("jsmith" becomes
// first name "Jsmith").
func DeriveLead(rec model.ParticipantRecord, cfg match.Config, now time.Time) *model.Lead {
	email := match.NormalizeEmail(rec.Email)
	domain := match.ExtractDomain(email)

	first, last := splitName(rec.Name)
	if first == "" && last == "" && email != "" {
		first, last = namesFromLocalPart(email)
	}

	company := strings.TrimSpace(rec.Company)
	if company == "" && domain != "" && !cfg.IsGenericDomain(domain) {
		company = companyFromDomain(domain)
	}

	digits := match.NormalizePhone(rec.Phone)

	return &model.Lead{
		Email:          email,
		FirstName:      first,
		LastName:       last,
		Company:        company,
		Phone:          strings.TrimSpace(rec.Phone),
		PhoneDigits:    digits,
		Source:         model.SourceMeeting,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// splitName breaks a display name into first and last: first token is the
// first name, everything after joins into the last name.
func splitName(name string) (string, string) {
	fields := strings.Fields(strings.TrimSpace(name))
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}

// namesFromLocalPart derives names from the email local part, splitting
// on non-alphanumeric separators and title-casing each token.
func namesFromLocalPart(email string) (string, string) {
	local := email
	if at := strings.LastIndex(email, "@"); at > 0 {
		local = email[:at]
	}
	tokens := splitNonAlnum(local)
	if len(tokens) == 0 {
		return "", ""
	}
	first := titleToken(tokens[0])
	if len(tokens) == 1 {
		return first, ""
	}
	rest := make([]string, 0, len(tokens)-1)
	for _, t := range tokens[1:] {
		rest = append(rest, titleToken(t))
	}
	return first, strings.Join(rest, " ")
}

// companyFromDomain strips the TLD and title-cases the first label.
func companyFromDomain(domain string) string {
	label := domain
	if i := strings.IndexByte(domain, '.'); i > 0 {
		label = domain[:i]
	}
	return titleToken(label)
}

func splitNonAlnum(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func titleToken(s string) string {
	if s == "" {
		return ""
	}
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
