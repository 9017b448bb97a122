package match

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/resolve-cli/internal/model"
)

// Pipeline evaluates the five-tier matching cascade for one participant at
// a time. Tiers execute strictly in rank order and short-circuit on the
// first tier that produces an accepted candidate; a failed lookup skips
// only the affected tier.
type Pipeline struct {
	gateway  Gateway
	enricher Enricher // optional
	cfg      Config
}

// NewPipeline creates a pipeline over the given lead gateway. The enricher
// may be nil when profile enrichment is disabled.
func NewPipeline(gateway Gateway, enricher Enricher, cfg Config) *Pipeline {
	return &Pipeline{gateway: gateway, enricher: enricher, cfg: cfg}
}

// Resolve produces the match decision for a single participant record.
// It returns model.ErrInvalidParticipant when the record has no usable
// identifying field; every other failure degrades into the decision
// itself rather than erroring out.
func (p *Pipeline) Resolve(ctx context.Context, rec model.ParticipantRecord, useEnrichment bool) (model.MatchDecision, error) {
	if !rec.HasIdentity() {
		return model.MatchDecision{}, eris.Wrap(model.ErrInvalidParticipant, "match: resolve")
	}

	keys := newParticipantKeys(rec)
	log := zap.L().With(zap.String("participant", participantLabel(rec)))

	decision := model.MatchDecision{
		Participant: rec,
		Method:      model.MethodNone,
	}

	for _, t := range p.orderedTiers() {
		res, err := t.evaluate(ctx, keys)
		if err != nil {
			if errors.Is(err, model.ErrLookupUnavailable) {
				log.Warn("match: tier lookup unavailable, skipping",
					zap.String("tier", string(t.method)),
					zap.Error(err),
				)
				continue
			}
			// Unexpected read failures degrade the same way: favor a
			// partial decision over aborting the participant.
			log.Warn("match: tier evaluation failed, skipping",
				zap.String("tier", string(t.method)),
				zap.Error(err),
			)
			continue
		}
		if res == nil || len(res.candidates) == 0 {
			continue
		}

		best, ambiguous := pickBest(res.candidates)
		decision.Lead = &best.lead
		decision.Confidence = best.confidence
		decision.Method = res.method
		decision.Ambiguous = ambiguous

		log.Debug("match: tier accepted",
			zap.String("tier", string(res.method)),
			zap.Float64("confidence", best.confidence),
			zap.Int("candidates", len(res.candidates)),
			zap.Bool("ambiguous", ambiguous),
		)
		break
	}

	p.route(&decision)

	if useEnrichment && p.enricher != nil && decision.RequiresVerification && decision.Lead != nil {
		p.applyEnrichment(ctx, keys, &decision, log)
		p.route(&decision)
	}

	return decision, nil
}

// route applies the confidence bands to set the primary outcome. Ambiguity
// always forces verification regardless of the computed confidence.
func (p *Pipeline) route(d *model.MatchDecision) {
	switch {
	case d.Lead == nil:
		d.ShouldCreateLead = true
		d.RequiresVerification = false
	case d.Ambiguous:
		d.ShouldCreateLead = false
		d.RequiresVerification = true
	case d.Confidence >= p.cfg.AutoMatchThreshold:
		d.ShouldCreateLead = false
		d.RequiresVerification = false
	case d.Confidence >= p.cfg.ReviewLowerBound:
		d.ShouldCreateLead = false
		d.RequiresVerification = true
	default:
		d.Lead = nil
		d.Method = model.MethodNone
		d.Confidence = 0
		d.ShouldCreateLead = true
		d.RequiresVerification = false
	}
}

// applyEnrichment asks the external profile collaborator to corroborate a
// tentative match. A corroborating company boosts confidence by a fixed
// bonus; failures and timeouts leave the decision untouched.
func (p *Pipeline) applyEnrichment(ctx context.Context, keys participantKeys, d *model.MatchDecision, log *zap.Logger) {
	timeout := time.Duration(p.cfg.EnrichmentTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ectx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prof, err := p.enricher.Lookup(ectx, keys.email, keys.record.Name)
	if err != nil {
		log.Debug("match: enrichment unavailable",
			zap.Error(eris.Wrap(model.ErrEnrichmentUnavailable, err.Error())),
		)
		return
	}
	if prof == nil {
		return
	}

	if !p.corroborates(prof, keys, d.Lead) {
		return
	}

	boosted := d.Confidence + p.cfg.EnrichmentBonus
	if boosted > p.cfg.EnrichmentCap {
		boosted = p.cfg.EnrichmentCap
	}
	log.Debug("match: enrichment corroborated candidate",
		zap.Float64("confidence", d.Confidence),
		zap.Float64("boosted", boosted),
	)
	d.Confidence = boosted
	d.EnrichmentApplied = true
}

// corroborates checks whether the fetched profile supports the tentative
// lead: the profile company must resemble the lead's company, or the
// profile title must match the participant's stated title.
func (p *Pipeline) corroborates(prof *EnrichedProfile, keys participantKeys, lead *model.Lead) bool {
	if prof.Company != "" && lead.Company != "" &&
		CompanySimilarity(prof.Company, lead.Company) >= p.cfg.CompanySimilarityMin {
		return true
	}
	if prof.Title != "" && keys.record.Title != "" &&
		NameSimilarity(prof.Title, keys.record.Title) >= p.cfg.NameSimilarityMin {
		return true
	}
	return false
}

func participantLabel(rec model.ParticipantRecord) string {
	if rec.Email != "" {
		return rec.Email
	}
	return rec.Name
}
