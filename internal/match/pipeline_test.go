package match

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/resolve-cli/internal/model"
)

// stubGateway lets each test control exactly what every tier sees.
type stubGateway struct {
	byEmail   func(email string) (*model.Lead, error)
	byCompany func(company string) ([]model.Lead, error)
	byDomain  func(domain string) ([]model.Lead, error)
	byPhone   func(phoneKey string) ([]model.Lead, error)

	emailCalls int
}

func (s *stubGateway) FindByExactEmail(_ context.Context, email string) (*model.Lead, error) {
	s.emailCalls++
	if s.byEmail == nil {
		return nil, nil
	}
	return s.byEmail(email)
}

func (s *stubGateway) FindCandidatesByCompany(_ context.Context, company string, _ int) ([]model.Lead, error) {
	if s.byCompany == nil {
		return nil, nil
	}
	return s.byCompany(company)
}

func (s *stubGateway) FindByDomain(_ context.Context, domain string) ([]model.Lead, error) {
	if s.byDomain == nil {
		return nil, nil
	}
	return s.byDomain(domain)
}

func (s *stubGateway) FindByPhone(_ context.Context, phoneKey string) ([]model.Lead, error) {
	if s.byPhone == nil {
		return nil, nil
	}
	return s.byPhone(phoneKey)
}

type stubEnricher struct {
	profile *EnrichedProfile
	err     error
	calls   int
}

func (s *stubEnricher) Lookup(context.Context, string, string) (*EnrichedProfile, error) {
	s.calls++
	return s.profile, s.err
}

func TestResolveRejectsEmptyParticipant(t *testing.T) {
	t.Parallel()

	p := NewPipeline(&stubGateway{}, nil, DefaultConfig())
	_, err := p.Resolve(context.Background(), model.ParticipantRecord{Phone: "555"}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidParticipant))
}

func TestResolveExactEmailAutoMatches(t *testing.T) {
	t.Parallel()

	lead := model.Lead{ID: "lead-1", Email: "jane@acme.com"}
	gw := &stubGateway{
		byEmail: func(email string) (*model.Lead, error) {
			assert.Equal(t, "jane@acme.com", email)
			return &lead, nil
		},
		byCompany: func(string) ([]model.Lead, error) {
			t.Fatal("later tiers must not run after an exact email hit")
			return nil, nil
		},
	}
	p := NewPipeline(gw, nil, DefaultConfig())

	d, err := p.Resolve(context.Background(), model.ParticipantRecord{
		Email:   "Jane@Acme.COM",
		Name:    "Jane Doe",
		Company: "Acme",
	}, false)
	require.NoError(t, err)

	assert.True(t, d.AutoMatched())
	assert.Equal(t, model.MethodExactEmail, d.Method)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Equal(t, "lead-1", d.Lead.ID)
}

func TestResolveNameCompanyVariant(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{
		byCompany: func(string) ([]model.Lead, error) {
			return []model.Lead{
				{ID: "lead-1", FirstName: "John", LastName: "Doe", Company: "Acme Corp"},
				{ID: "lead-2", FirstName: "Alice", LastName: "Wong", Company: "Acme Corp"},
			}, nil
		},
	}
	p := NewPipeline(gw, nil, DefaultConfig())

	d, err := p.Resolve(context.Background(), model.ParticipantRecord{
		Email:   "jdoe@unknown-mail.com",
		Name:    "Jon Doe",
		Company: "Acme Corporation",
	}, false)
	require.NoError(t, err)

	assert.True(t, d.AutoMatched())
	assert.Equal(t, model.MethodNameCompany, d.Method)
	assert.Equal(t, "lead-1", d.Lead.ID)
	assert.GreaterOrEqual(t, d.Confidence, 0.85)
	assert.LessOrEqual(t, d.Confidence, 0.99)
}

func TestResolveNameCompanyConfidenceMonotonic(t *testing.T) {
	t.Parallel()

	// Same company throughout, so confidence varies with name similarity
	// alone. Lead names are ordered from identical to barely similar.
	participant := model.ParticipantRecord{
		Name:    "Jonathan Smithers",
		Company: "Acme Corporation",
	}
	leadNames := []struct {
		first, last string
	}{
		{"Jonathan", "Smithers"},
		{"Jonathon", "Smithers"},
		{"Jonathan", "Smith"},
	}

	cfg := DefaultConfig()
	prevSim := 1.1
	prevConf := 1.1
	for _, ln := range leadNames {
		fullName := ln.first + " " + ln.last
		sim := NameSimilarity(participant.Name, fullName)
		require.Less(t, sim, prevSim, "lead names must be ordered by decreasing similarity")
		prevSim = sim

		gw := &stubGateway{
			byCompany: func(string) ([]model.Lead, error) {
				return []model.Lead{
					{ID: "lead-1", FirstName: ln.first, LastName: ln.last, Company: "Acme Corp"},
				}, nil
			},
		}
		d, err := NewPipeline(gw, nil, cfg).Resolve(context.Background(), participant, false)
		require.NoError(t, err)

		require.Equal(t, model.MethodNameCompany, d.Method, "lead %q", fullName)
		want := cfg.NameWeight*sim + cfg.CompanyWeight*1.0
		if want > cfg.NameCompanyCap {
			want = cfg.NameCompanyCap
		}
		assert.InDelta(t, want, d.Confidence, 1e-9, "lead %q", fullName)
		assert.LessOrEqual(t, d.Confidence, prevConf, "confidence must not rise as similarity falls")
		assert.LessOrEqual(t, d.Confidence, cfg.NameCompanyCap)
		prevConf = d.Confidence
	}

	// An identical name and company hits the cap, never a perfect score.
	gw := &stubGateway{
		byCompany: func(string) ([]model.Lead, error) {
			return []model.Lead{
				{ID: "lead-1", FirstName: "Jonathan", LastName: "Smithers", Company: "Acme Corporation"},
			}, nil
		},
	}
	d, err := NewPipeline(gw, nil, cfg).Resolve(context.Background(), participant, false)
	require.NoError(t, err)
	assert.InDelta(t, cfg.NameCompanyCap, d.Confidence, 1e-9)

	// Below the similarity gate the tier stays silent regardless of the
	// company score.
	gw = &stubGateway{
		byCompany: func(string) ([]model.Lead, error) {
			return []model.Lead{
				{ID: "lead-1", FirstName: "Jon", LastName: "S", Company: "Acme Corporation"},
			}, nil
		},
	}
	d, err = NewPipeline(gw, nil, cfg).Resolve(context.Background(), participant, false)
	require.NoError(t, err)
	assert.NotEqual(t, model.MethodNameCompany, d.Method)
}

func TestResolveDomainSingleLeadGoesToReview(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{
		byDomain: func(domain string) ([]model.Lead, error) {
			assert.Equal(t, "acme.com", domain)
			return []model.Lead{{ID: "lead-1", Email: "other@acme.com"}}, nil
		},
	}
	p := NewPipeline(gw, nil, DefaultConfig())

	d, err := p.Resolve(context.Background(), model.ParticipantRecord{Email: "new.hire@acme.com"}, false)
	require.NoError(t, err)

	assert.False(t, d.AutoMatched())
	assert.True(t, d.RequiresVerification)
	assert.Equal(t, model.MethodDomain, d.Method)
	assert.Equal(t, 0.75, d.Confidence)
}

func TestResolveDomainMultipleLeadsDilutesConfidence(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	gw := &stubGateway{
		byDomain: func(string) ([]model.Lead, error) {
			return []model.Lead{
				{ID: "lead-1", LastActivityAt: base},
				{ID: "lead-2", LastActivityAt: base.Add(-time.Hour)},
			}, nil
		},
	}
	p := NewPipeline(gw, nil, DefaultConfig())

	d, err := p.Resolve(context.Background(), model.ParticipantRecord{Email: "who@acme.com"}, false)
	require.NoError(t, err)

	assert.True(t, d.RequiresVerification)
	assert.Equal(t, 0.65, d.Confidence)
	assert.Equal(t, "lead-1", d.Lead.ID, "most recent activity wins the tie")
}

func TestResolveGenericDomainSkipsDomainTier(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{
		byDomain: func(string) ([]model.Lead, error) {
			t.Fatal("domain tier must not query generic providers")
			return nil, nil
		},
	}
	p := NewPipeline(gw, nil, DefaultConfig())

	d, err := p.Resolve(context.Background(), model.ParticipantRecord{Email: "someone@gmail.com"}, false)
	require.NoError(t, err)
	assert.True(t, d.ShouldCreateLead)
}

func TestResolvePhoneMatchGoesToReview(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{
		byPhone: func(key string) ([]model.Lead, error) {
			assert.Equal(t, "5551234567", key)
			return []model.Lead{{ID: "lead-1"}}, nil
		},
	}
	p := NewPipeline(gw, nil, DefaultConfig())

	d, err := p.Resolve(context.Background(), model.ParticipantRecord{
		Name:  "Unknown Caller",
		Phone: "+1 (555) 123-4567",
	}, false)
	require.NoError(t, err)

	assert.True(t, d.RequiresVerification)
	assert.Equal(t, model.MethodPhone, d.Method)
	assert.Equal(t, 0.65, d.Confidence)
}

func TestResolveFuzzyNameBand(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{
		byCompany: func(string) ([]model.Lead, error) {
			return []model.Lead{
				// Similar enough for the fuzzy tier, too weak for tier 2.
				{ID: "lead-1", FirstName: "Jonathan", LastName: "Doerr", Company: "Globex"},
			}, nil
		},
	}
	p := NewPipeline(gw, nil, DefaultConfig())

	d, err := p.Resolve(context.Background(), model.ParticipantRecord{
		Name:    "Jon Doe",
		Company: "Acme",
	}, false)
	require.NoError(t, err)

	if d.Method == model.MethodFuzzyName {
		assert.True(t, d.RequiresVerification)
		assert.GreaterOrEqual(t, d.Confidence, 0.40)
		assert.LessOrEqual(t, d.Confidence, 0.65)
	} else {
		assert.True(t, d.ShouldCreateLead)
	}
}

func TestResolveNoMatchCreatesLead(t *testing.T) {
	t.Parallel()

	p := NewPipeline(&stubGateway{}, nil, DefaultConfig())

	d, err := p.Resolve(context.Background(), model.ParticipantRecord{
		Email: "totally.new@nowhere.io",
		Name:  "Totally New",
	}, false)
	require.NoError(t, err)

	assert.True(t, d.ShouldCreateLead)
	assert.False(t, d.RequiresVerification)
	assert.Nil(t, d.Lead)
	assert.Equal(t, model.MethodNone, d.Method)
}

func TestResolveLookupFailureSkipsTier(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{
		byEmail: func(string) (*model.Lead, error) {
			return nil, eris.Wrap(model.ErrLookupUnavailable, "store down")
		},
		byCompany: func(string) ([]model.Lead, error) {
			return []model.Lead{
				{ID: "lead-1", FirstName: "Jane", LastName: "Doe", Company: "Acme"},
			}, nil
		},
	}
	p := NewPipeline(gw, nil, DefaultConfig())

	d, err := p.Resolve(context.Background(), model.ParticipantRecord{
		Email:   "jane@acme.com",
		Name:    "Jane Doe",
		Company: "Acme",
	}, false)
	require.NoError(t, err)

	assert.True(t, d.AutoMatched())
	assert.Equal(t, model.MethodNameCompany, d.Method)
}

func TestResolveAmbiguousTieForcesVerification(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	gw := &stubGateway{
		byCompany: func(string) ([]model.Lead, error) {
			return []model.Lead{
				{ID: "lead-1", FirstName: "Jane", LastName: "Doe", Company: "Acme", LastActivityAt: base},
				{ID: "lead-2", FirstName: "Jane", LastName: "Doe", Company: "Acme", LastActivityAt: base},
			}, nil
		},
	}
	p := NewPipeline(gw, nil, DefaultConfig())

	d, err := p.Resolve(context.Background(), model.ParticipantRecord{
		Name:    "Jane Doe",
		Company: "Acme",
	}, false)
	require.NoError(t, err)

	assert.True(t, d.Ambiguous)
	assert.True(t, d.RequiresVerification, "ties go to review even above the auto threshold")
	assert.False(t, d.AutoMatched())
}

func TestResolveEnrichmentBoostsCorroboratedMatch(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{
		byDomain: func(string) ([]model.Lead, error) {
			return []model.Lead{{ID: "lead-1", Company: "Acme Corp"}}, nil
		},
	}
	enr := &stubEnricher{profile: &EnrichedProfile{Company: "Acme Corporation", Confidence: 0.9}}
	p := NewPipeline(gw, enr, DefaultConfig())

	d, err := p.Resolve(context.Background(), model.ParticipantRecord{Email: "jane@acme.com"}, true)
	require.NoError(t, err)

	assert.Equal(t, 1, enr.calls)
	assert.True(t, d.EnrichmentApplied)
	assert.InDelta(t, 0.85, d.Confidence, 1e-9)
	assert.True(t, d.AutoMatched(), "0.75 + 0.10 bonus crosses the auto threshold")
}

func TestResolveEnrichmentMismatchLeavesDecision(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{
		byDomain: func(string) ([]model.Lead, error) {
			return []model.Lead{{ID: "lead-1", Company: "Acme Corp"}}, nil
		},
	}
	enr := &stubEnricher{profile: &EnrichedProfile{Company: "Globex Industries"}}
	p := NewPipeline(gw, enr, DefaultConfig())

	d, err := p.Resolve(context.Background(), model.ParticipantRecord{Email: "jane@acme.com"}, true)
	require.NoError(t, err)

	assert.False(t, d.EnrichmentApplied)
	assert.Equal(t, 0.75, d.Confidence)
	assert.True(t, d.RequiresVerification)
}

func TestResolveEnrichmentFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{
		byDomain: func(string) ([]model.Lead, error) {
			return []model.Lead{{ID: "lead-1", Company: "Acme Corp"}}, nil
		},
	}
	enr := &stubEnricher{err: eris.New("enrichment service down")}
	p := NewPipeline(gw, enr, DefaultConfig())

	d, err := p.Resolve(context.Background(), model.ParticipantRecord{Email: "jane@acme.com"}, true)
	require.NoError(t, err)

	assert.False(t, d.EnrichmentApplied)
	assert.Equal(t, 0.75, d.Confidence)
	assert.True(t, d.RequiresVerification)
}

func TestResolveEnrichmentSkippedWhenDisabled(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{
		byDomain: func(string) ([]model.Lead, error) {
			return []model.Lead{{ID: "lead-1", Company: "Acme Corp"}}, nil
		},
	}
	enr := &stubEnricher{profile: &EnrichedProfile{Company: "Acme Corp"}}
	p := NewPipeline(gw, enr, DefaultConfig())

	d, err := p.Resolve(context.Background(), model.ParticipantRecord{Email: "jane@acme.com"}, false)
	require.NoError(t, err)

	assert.Equal(t, 0, enr.calls)
	assert.False(t, d.EnrichmentApplied)
}

func TestResolveTierOrderOverride(t *testing.T) {
	t.Parallel()

	gw := &stubGateway{
		byEmail: func(string) (*model.Lead, error) {
			return &model.Lead{ID: "email-lead"}, nil
		},
		byPhone: func(string) ([]model.Lead, error) {
			return []model.Lead{{ID: "phone-lead"}}, nil
		},
	}
	cfg := DefaultConfig()
	cfg.TierOrder = []string{string(model.MethodPhone)}
	p := NewPipeline(gw, nil, cfg)

	d, err := p.Resolve(context.Background(), model.ParticipantRecord{
		Email: "jane@acme.com",
		Phone: "5551234567",
	}, false)
	require.NoError(t, err)

	assert.Equal(t, 0, gw.emailCalls)
	assert.Equal(t, model.MethodPhone, d.Method)
	assert.Equal(t, "phone-lead", d.Lead.ID)
}
