package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/resolve-cli/internal/match"
	"github.com/sells-group/resolve-cli/internal/model"
)

// LeadGateway adapts a Store to the pipeline's read-only match.Gateway.
// Every read failure is classified as model.ErrLookupUnavailable so the
// pipeline degrades to the next tier instead of aborting the participant.
type LeadGateway struct {
	store Store
	limit int
}

// NewLeadGateway wraps a store with a default candidate limit for the
// bounded lookups.
func NewLeadGateway(s Store, candidateLimit int) *LeadGateway {
	if candidateLimit <= 0 {
		candidateLimit = 25
	}
	return &LeadGateway{store: s, limit: candidateLimit}
}

func (g *LeadGateway) FindByExactEmail(ctx context.Context, email string) (*model.Lead, error) {
	lead, err := g.store.GetLeadByEmail(ctx, email)
	if err != nil {
		return nil, eris.Wrapf(model.ErrLookupUnavailable, "gateway: exact email: %v", err)
	}
	return lead, nil
}

func (g *LeadGateway) FindCandidatesByCompany(ctx context.Context, company string, limit int) ([]model.Lead, error) {
	prefix := match.CompanyPrefixToken(company)
	if prefix == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = g.limit
	}
	leads, err := g.store.ListLeadsByCompanyPrefix(ctx, prefix, limit)
	if err != nil {
		return nil, eris.Wrapf(model.ErrLookupUnavailable, "gateway: company candidates: %v", err)
	}
	return leads, nil
}

func (g *LeadGateway) FindByDomain(ctx context.Context, domain string) ([]model.Lead, error) {
	leads, err := g.store.ListLeadsByDomain(ctx, domain, g.limit)
	if err != nil {
		return nil, eris.Wrapf(model.ErrLookupUnavailable, "gateway: domain: %v", err)
	}
	return leads, nil
}

func (g *LeadGateway) FindByPhone(ctx context.Context, phoneKey string) ([]model.Lead, error) {
	leads, err := g.store.ListLeadsByPhoneKey(ctx, phoneKey)
	if err != nil {
		return nil, eris.Wrapf(model.ErrLookupUnavailable, "gateway: phone: %v", err)
	}
	return leads, nil
}
