// Package batch resolves every participant of a meeting in one pass:
// parallel matching, then sequential aggregation in input order so the
// outcome is deterministic regardless of scheduling.
package batch

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/resolve-cli/internal/match"
	"github.com/sells-group/resolve-cli/internal/model"
	"github.com/sells-group/resolve-cli/internal/provision"
	"github.com/sells-group/resolve-cli/internal/store"
)

// Options tunes a single batch run.
type Options struct {
	// UseEnrichment enables the third-party profile lookup for decisions
	// landing in the verification band.
	UseEnrichment bool
}

// MeetingBatch pairs one meeting with its participant list for backlog
// runs.
type MeetingBatch struct {
	MeetingID    string                    `json:"meeting_id"`
	Participants []model.ParticipantRecord `json:"participants"`
}

// FailedMeeting records a meeting whose run could not complete.
type FailedMeeting struct {
	MeetingID string `json:"meeting_id"`
	Error     string `json:"error"`
}

// BacklogResult aggregates a backlog run, one entry per meeting in input
// order.
type BacklogResult struct {
	Meetings []Result        `json:"meetings"`
	Failed   []FailedMeeting `json:"failed,omitempty"`
}

// SkippedParticipant records a participant excluded before matching.
type SkippedParticipant struct {
	Participant model.ParticipantRecord `json:"participant"`
	Reason      string                  `json:"reason"`
}

// Result summarizes one meeting's resolution run. A participant appears
// in exactly one bucket.
type Result struct {
	MeetingID           string                      `json:"meeting_id"`
	Matched             []model.MatchDecision       `json:"matched"`
	NewLeads            []model.Lead                `json:"new_leads"`
	PendingVerification []model.VerificationRequest `json:"pending_verification"`
	Skipped             []SkippedParticipant        `json:"skipped"`
}

// Orchestrator runs the match pipeline across a participant list and
// applies the outcomes through the provisioner and store.
type Orchestrator struct {
	pipeline    *match.Pipeline
	provisioner *provision.Provisioner
	store       store.Store
	concurrency int
	now         func() time.Time

	// requireNewLeadReview routes would-be auto-creations through the
	// verification queue instead of provisioning immediately.
	requireNewLeadReview bool
}

// NewOrchestrator wires the batch runner. Concurrency bounds the number
// of participants matched in parallel.
func NewOrchestrator(p *match.Pipeline, prov *provision.Provisioner, st store.Store, concurrency int) *Orchestrator {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Orchestrator{
		pipeline:    p,
		provisioner: prov,
		store:       st,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// WithNow fixes the clock for tests.
func (o *Orchestrator) WithNow(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// WithNewLeadReview makes unmatched participants queue for verification
// instead of auto-provisioning.
func (o *Orchestrator) WithNewLeadReview(on bool) *Orchestrator {
	o.requireNewLeadReview = on
	return o
}

// Resolve matches all participants of a meeting. Matching runs in
// parallel; outcome application runs sequentially in input order, which
// is what makes the duplicate-target rule and re-run idempotence hold.
// A participant whose resolution fails degrades to the verification
// queue rather than failing the batch.
func (o *Orchestrator) Resolve(ctx context.Context, meetingID string, participants []model.ParticipantRecord, opts Options) (*Result, error) {
	result := &Result{MeetingID: meetingID}

	type slot struct {
		rec      model.ParticipantRecord
		decision model.MatchDecision
		err      error
	}
	slots := make([]slot, 0, len(participants))
	for _, rec := range participants {
		if !rec.HasIdentity() {
			result.Skipped = append(result.Skipped, SkippedParticipant{
				Participant: rec,
				Reason:      "no email, name, or phone to match on",
			})
			continue
		}
		slots = append(slots, slot{rec: rec})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i := range slots {
		g.Go(func() error {
			d, err := o.pipeline.Resolve(gctx, slots[i].rec, opts.UseEnrichment)
			slots[i].decision = d
			slots[i].err = err
			// Failures stay with their slot so one participant cannot
			// abort the rest of the meeting.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "batch: match phase")
	}

	// Aggregation pass. claimed tracks lead IDs already auto-matched in
	// this run: a second auto-match against the same lead demotes to
	// verification because two distinct participants rarely share one
	// CRM identity.
	claimed := make(map[string]string, len(slots))
	for i := range slots {
		s := &slots[i]
		if s.err != nil {
			zap.L().Warn("batch: participant resolution failed, queueing for review",
				zap.String("meeting_id", meetingID),
				zap.String("email", s.rec.Email),
				zap.Error(s.err),
			)
			req, qerr := o.queueVerification(ctx, meetingID, model.MatchDecision{
				Participant:          s.rec,
				Method:               model.MethodNone,
				RequiresVerification: true,
			})
			if qerr != nil {
				return nil, qerr
			}
			result.PendingVerification = append(result.PendingVerification, *req)
			continue
		}

		d := s.decision
		if d.AutoMatched() && d.Lead != nil {
			if firstEmail, dup := claimed[d.Lead.ID]; dup {
				zap.L().Info("batch: duplicate auto-match target, demoting to verification",
					zap.String("meeting_id", meetingID),
					zap.String("lead_id", d.Lead.ID),
					zap.String("first_email", firstEmail),
					zap.String("email", s.rec.Email),
				)
				d.RequiresVerification = true
				d.Ambiguous = true
			} else {
				claimed[d.Lead.ID] = s.rec.Email
			}
		}

		switch {
		case d.AutoMatched() && d.Lead != nil:
			if err := o.store.TouchLeadActivity(ctx, d.Lead.ID, o.now().UTC()); err != nil {
				zap.L().Warn("batch: touch lead activity failed",
					zap.String("lead_id", d.Lead.ID), zap.Error(err))
			}
			result.Matched = append(result.Matched, d)

		case d.RequiresVerification:
			req, err := o.queueVerification(ctx, meetingID, d)
			if err != nil {
				return nil, err
			}
			result.PendingVerification = append(result.PendingVerification, *req)

		case o.requireNewLeadReview:
			req, err := o.queueVerification(ctx, meetingID, d)
			if err != nil {
				return nil, err
			}
			result.PendingVerification = append(result.PendingVerification, *req)

		default:
			lead, created, err := o.provisioner.Provision(ctx, s.rec)
			if err != nil {
				zap.L().Warn("batch: provision failed, queueing for review",
					zap.String("meeting_id", meetingID),
					zap.String("email", s.rec.Email),
					zap.Error(err),
				)
				req, qerr := o.queueVerification(ctx, meetingID, model.MatchDecision{
					Participant:          s.rec,
					Method:               model.MethodNone,
					RequiresVerification: true,
				})
				if qerr != nil {
					return nil, qerr
				}
				result.PendingVerification = append(result.PendingVerification, *req)
				continue
			}
			if created {
				result.NewLeads = append(result.NewLeads, *lead)
			} else {
				// A prior run (or concurrent meeting) already created this
				// lead; report it as a match so re-runs are idempotent.
				result.Matched = append(result.Matched, model.MatchDecision{
					Participant: s.rec,
					Lead:        lead,
					Confidence:  1.0,
					Method:      model.MethodExactEmail,
				})
			}
		}
	}

	zap.L().Info("batch: meeting resolved",
		zap.String("meeting_id", meetingID),
		zap.Int("participants", len(participants)),
		zap.Int("matched", len(result.Matched)),
		zap.Int("new_leads", len(result.NewLeads)),
		zap.Int("pending_verification", len(result.PendingVerification)),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

// ResolveBacklog resolves several meetings in sequence. Duplicate-target
// state is scoped to each meeting, so a lead claimed in one meeting can
// auto-match again in the next. A meeting whose run fails is recorded and
// the backlog continues; only cancellation stops the run.
func (o *Orchestrator) ResolveBacklog(ctx context.Context, meetings []MeetingBatch, opts Options) (*BacklogResult, error) {
	out := &BacklogResult{}
	for _, m := range meetings {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "batch: backlog interrupted")
		}
		res, err := o.Resolve(ctx, m.MeetingID, m.Participants, opts)
		if err != nil {
			zap.L().Warn("batch: meeting failed, continuing backlog",
				zap.String("meeting_id", m.MeetingID), zap.Error(err))
			out.Failed = append(out.Failed, FailedMeeting{MeetingID: m.MeetingID, Error: err.Error()})
			continue
		}
		out.Meetings = append(out.Meetings, *res)
	}

	zap.L().Info("batch: backlog resolved",
		zap.Int("meetings", len(meetings)),
		zap.Int("failed", len(out.Failed)),
	)
	return out, nil
}

func (o *Orchestrator) queueVerification(ctx context.Context, meetingID string, d model.MatchDecision) (*model.VerificationRequest, error) {
	req := &model.VerificationRequest{
		MeetingID:   meetingID,
		Participant: d.Participant,
		Confidence:  d.Confidence,
		Method:      d.Method,
		Ambiguous:   d.Ambiguous,
		Status:      model.StatusPending,
	}
	if d.Lead != nil {
		req.CandidateLeadID = d.Lead.ID
	}
	if err := o.store.CreateVerification(ctx, req); err != nil {
		return nil, eris.Wrapf(err, "batch: queue verification for %s", d.Participant.Email)
	}
	return req, nil
}
