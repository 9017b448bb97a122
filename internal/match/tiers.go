package match

import (
	"context"

	"github.com/sells-group/resolve-cli/internal/model"
)

// participantKeys carries the precomputed comparison keys for one
// participant so each tier evaluator stays a pure lookup-and-score step.
type participantKeys struct {
	record   model.ParticipantRecord
	email    string
	domain   string
	phoneKey string
	name     string
	company  string
}

func newParticipantKeys(rec model.ParticipantRecord) participantKeys {
	return participantKeys{
		record:   rec,
		email:    NormalizeEmail(rec.Email),
		domain:   ExtractDomain(rec.Email),
		phoneKey: PhoneKey(NormalizePhone(rec.Phone)),
		name:     NormalizeName(rec.Name),
		company:  NormalizeCompany(rec.Company),
	}
}

// scoredLead is one candidate lead with its tier confidence.
type scoredLead struct {
	lead       model.Lead
	confidence float64
}

// tierResult is the common output contract shared by every tier
// evaluator. A nil result or empty candidate list means the tier did not
// fire and the cascade moves on.
type tierResult struct {
	method     model.MatchMethod
	candidates []scoredLead
}

// tier pairs a method tag with its evaluator. Evaluators only return
// candidates that already meet the tier's acceptance threshold.
type tier struct {
	method   model.MatchMethod
	evaluate func(ctx context.Context, keys participantKeys) (*tierResult, error)
}

func (p *Pipeline) tierExactEmail(ctx context.Context, keys participantKeys) (*tierResult, error) {
	if keys.email == "" {
		return nil, nil
	}
	lead, err := p.gateway.FindByExactEmail(ctx, keys.email)
	if err != nil {
		return nil, err
	}
	if lead == nil {
		return nil, nil
	}
	return &tierResult{
		method:     model.MethodExactEmail,
		candidates: []scoredLead{{lead: *lead, confidence: 1.0}},
	}, nil
}

func (p *Pipeline) tierNameCompany(ctx context.Context, keys participantKeys) (*tierResult, error) {
	if keys.name == "" || keys.company == "" {
		return nil, nil
	}
	leads, err := p.gateway.FindCandidatesByCompany(ctx, keys.record.Company, p.cfg.CandidateLimit)
	if err != nil {
		return nil, err
	}

	res := &tierResult{method: model.MethodNameCompany}
	for _, lead := range leads {
		ns := NameSimilarity(keys.record.Name, lead.FirstName+" "+lead.LastName)
		cs := CompanySimilarity(keys.record.Company, lead.Company)
		if ns < p.cfg.NameSimilarityMin || cs < p.cfg.CompanySimilarityMin {
			continue
		}
		combined := p.cfg.NameWeight*ns + p.cfg.CompanyWeight*cs
		if combined < p.cfg.AutoMatchThreshold {
			continue
		}
		if combined > p.cfg.NameCompanyCap {
			combined = p.cfg.NameCompanyCap
		}
		res.candidates = append(res.candidates, scoredLead{lead: lead, confidence: combined})
	}
	if len(res.candidates) == 0 {
		return nil, nil
	}
	return res, nil
}

func (p *Pipeline) tierDomain(ctx context.Context, keys participantKeys) (*tierResult, error) {
	if keys.domain == "" || p.cfg.IsGenericDomain(keys.domain) {
		return nil, nil
	}
	leads, err := p.gateway.FindByDomain(ctx, keys.domain)
	if err != nil {
		return nil, err
	}
	if len(leads) == 0 {
		return nil, nil
	}

	// Multiple leads sharing the domain dilute the signal.
	conf := p.cfg.DomainConfidence
	if len(leads) > 1 {
		conf = p.cfg.DomainAmbiguousConfidence
	}
	res := &tierResult{method: model.MethodDomain}
	for _, lead := range leads {
		res.candidates = append(res.candidates, scoredLead{lead: lead, confidence: conf})
	}
	return res, nil
}

func (p *Pipeline) tierPhone(ctx context.Context, keys participantKeys) (*tierResult, error) {
	if keys.phoneKey == "" {
		return nil, nil
	}
	leads, err := p.gateway.FindByPhone(ctx, keys.phoneKey)
	if err != nil {
		return nil, err
	}
	if len(leads) == 0 {
		return nil, nil
	}
	res := &tierResult{method: model.MethodPhone}
	for _, lead := range leads {
		res.candidates = append(res.candidates, scoredLead{lead: lead, confidence: p.cfg.PhoneConfidence})
	}
	return res, nil
}

func (p *Pipeline) tierFuzzyName(ctx context.Context, keys participantKeys) (*tierResult, error) {
	if keys.name == "" || keys.company == "" {
		return nil, nil
	}
	leads, err := p.gateway.FindCandidatesByCompany(ctx, keys.record.Company, p.cfg.CandidateLimit)
	if err != nil {
		return nil, err
	}

	res := &tierResult{method: model.MethodFuzzyName}
	for _, lead := range leads {
		ns := NameSimilarity(keys.record.Name, lead.FirstName+" "+lead.LastName)
		if ns < p.cfg.FuzzyNameMin {
			continue
		}
		conf := p.cfg.FuzzyNameMin + 0.5*(ns-p.cfg.FuzzyNameMin)
		if conf > p.cfg.FuzzyNameCap {
			conf = p.cfg.FuzzyNameCap
		}
		res.candidates = append(res.candidates, scoredLead{lead: lead, confidence: conf})
	}
	if len(res.candidates) == 0 {
		return nil, nil
	}
	return res, nil
}

// orderedTiers builds the cascade in the configured order, defaulting to
// the standard rank order 1→5.
func (p *Pipeline) orderedTiers() []tier {
	all := map[model.MatchMethod]tier{
		model.MethodExactEmail:  {model.MethodExactEmail, p.tierExactEmail},
		model.MethodNameCompany: {model.MethodNameCompany, p.tierNameCompany},
		model.MethodDomain:      {model.MethodDomain, p.tierDomain},
		model.MethodPhone:       {model.MethodPhone, p.tierPhone},
		model.MethodFuzzyName:   {model.MethodFuzzyName, p.tierFuzzyName},
	}

	order := p.cfg.TierOrder
	if len(order) == 0 {
		order = []string{
			string(model.MethodExactEmail),
			string(model.MethodNameCompany),
			string(model.MethodDomain),
			string(model.MethodPhone),
			string(model.MethodFuzzyName),
		}
	}

	tiers := make([]tier, 0, len(order))
	for _, m := range order {
		if t, ok := all[model.MatchMethod(m)]; ok {
			tiers = append(tiers, t)
		}
	}
	return tiers
}
