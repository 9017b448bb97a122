// Package verify implements the human-review workflow for match decisions
// the pipeline could not resolve automatically. Requests move
// pending → {approved_match, approved_new_lead, rejected}; every terminal
// state is final.
package verify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/resolve-cli/internal/match"
	"github.com/sells-group/resolve-cli/internal/model"
	"github.com/sells-group/resolve-cli/internal/provision"
	"github.com/sells-group/resolve-cli/internal/store"
)

// Workflow exposes the verification resolution actions over the store.
type Workflow struct {
	store       store.Store
	cfg         match.Config
	now         func() time.Time
	skipMethods map[model.MatchMethod]bool
}

// NewWorkflow creates a verification workflow.
func NewWorkflow(st store.Store, cfg match.Config) *Workflow {
	return &Workflow{store: st, cfg: cfg, now: time.Now}
}

// WithNow fixes the clock for tests.
func (w *Workflow) WithNow(now func() time.Time) *Workflow {
	w.now = now
	return w
}

// WithBulkSkipMethods excludes the named match methods from bulk
// approval; requests carrying them always need an individual reviewer.
func (w *Workflow) WithBulkSkipMethods(methods []string) *Workflow {
	if len(methods) == 0 {
		w.skipMethods = nil
		return w
	}
	w.skipMethods = make(map[model.MatchMethod]bool, len(methods))
	for _, m := range methods {
		w.skipMethods[model.MatchMethod(m)] = true
	}
	return w
}

// ApproveMatch resolves a pending request as a match against the chosen
// lead, which may differ from the original candidate when the reviewer
// overrides it. Fails with model.ErrInvalidState once resolved.
func (w *Workflow) ApproveMatch(ctx context.Context, requestID, leadID, reviewer, note string) (*model.VerificationRequest, error) {
	if _, err := w.store.GetLead(ctx, leadID); err != nil {
		return nil, eris.Wrap(err, "verify: approve match")
	}

	updated, err := w.store.ResolveVerification(ctx, requestID, store.Resolution{
		Status:   model.StatusApprovedMatch,
		LeadID:   leadID,
		Reviewer: reviewer,
		Note:     note,
		At:       w.now().UTC(),
	})
	if err != nil {
		return nil, eris.Wrap(err, "verify: approve match")
	}

	if terr := w.store.TouchLeadActivity(ctx, leadID, w.now().UTC()); terr != nil {
		zap.L().Warn("verify: touch lead activity failed",
			zap.String("lead_id", leadID), zap.Error(terr))
	}

	zap.L().Info("verify: approved as match",
		zap.String("request_id", requestID),
		zap.String("lead_id", leadID),
		zap.String("reviewer", reviewer),
	)
	return updated, nil
}

// ApproveNewLead resolves a pending request by provisioning a lead from
// its participant snapshot. The status flip and the lead insert happen in
// one store transaction; an email collision inside the transaction
// resolves to the existing lead instead of failing.
func (w *Workflow) ApproveNewLead(ctx context.Context, requestID, reviewer, note string) (*model.VerificationRequest, *model.Lead, error) {
	req, err := w.store.GetVerification(ctx, requestID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "verify: approve new lead")
	}
	if req.Status != model.StatusPending {
		return nil, nil, eris.Wrapf(model.ErrInvalidState, "verify: request %s is %s", requestID, req.Status)
	}

	lead := provision.DeriveLead(req.Participant, w.cfg, w.now().UTC())
	updated, err := w.store.ResolveVerification(ctx, requestID, store.Resolution{
		Status:   model.StatusApprovedNewLead,
		NewLead:  lead,
		Reviewer: reviewer,
		Note:     note,
		At:       w.now().UTC(),
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "verify: approve new lead")
	}

	created, err := w.store.GetLead(ctx, updated.ResolvedLeadID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "verify: fetch provisioned lead")
	}

	zap.L().Info("verify: approved as new lead",
		zap.String("request_id", requestID),
		zap.String("lead_id", created.ID),
		zap.String("reviewer", reviewer),
	)
	return updated, created, nil
}

// Reject resolves a pending request with no lead attached or created; the
// participant stays unresolved for its meeting.
func (w *Workflow) Reject(ctx context.Context, requestID, reviewer, note string) (*model.VerificationRequest, error) {
	updated, err := w.store.ResolveVerification(ctx, requestID, store.Resolution{
		Status:   model.StatusRejected,
		Reviewer: reviewer,
		Note:     note,
		At:       w.now().UTC(),
	})
	if err != nil {
		return nil, eris.Wrap(err, "verify: reject")
	}
	zap.L().Info("verify: rejected",
		zap.String("request_id", requestID),
		zap.String("reviewer", reviewer),
	)
	return updated, nil
}

// BulkOutcome labels one request's fate within a bulk approval run.
type BulkOutcome string

const (
	BulkApproved BulkOutcome = "approved"
	BulkSkipped  BulkOutcome = "skipped"
	BulkFailed   BulkOutcome = "failed"
)

// BulkItem is the per-request result of a bulk approval.
type BulkItem struct {
	RequestID string      `json:"request_id"`
	Outcome   BulkOutcome `json:"outcome"`
	Reason    string      `json:"reason,omitempty"`
}

// BulkResult aggregates a bulk approval run. Failed items remain pending,
// so a partial run is resumable by running again.
type BulkResult struct {
	Approved int        `json:"approved"`
	Skipped  int        `json:"skipped"`
	Failed   int        `json:"failed"`
	Items    []BulkItem `json:"items,omitempty"`
}

// BulkApproveAbove approves every pending request at or above the
// threshold as a match, non-interactively. Ambiguous requests, requests
// without a candidate lead, and requests whose match method is on the
// configured skip list are skipped regardless of confidence. Atomic per
// request only: one failure never blocks the rest.
func (w *Workflow) BulkApproveAbove(ctx context.Context, threshold float64, reviewer string) (*BulkResult, error) {
	pending, err := w.store.ListPendingVerifications(ctx, store.PendingFilter{
		MinConfidence: threshold,
	})
	if err != nil {
		return nil, eris.Wrap(err, "verify: bulk approve list")
	}

	result := &BulkResult{}
	for _, req := range pending {
		item := BulkItem{RequestID: req.ID}
		switch {
		case req.Ambiguous:
			item.Outcome = BulkSkipped
			item.Reason = "ambiguous tie requires human judgment"
			result.Skipped++
		case req.CandidateLeadID == "":
			item.Outcome = BulkSkipped
			item.Reason = "no candidate lead to approve"
			result.Skipped++
		case w.skipMethods[req.Method]:
			item.Outcome = BulkSkipped
			item.Reason = "method " + string(req.Method) + " excluded from bulk approval"
			result.Skipped++
		default:
			_, aerr := w.ApproveMatch(ctx, req.ID, req.CandidateLeadID, reviewer, "bulk approval")
			if aerr != nil {
				item.Outcome = BulkFailed
				item.Reason = aerr.Error()
				result.Failed++
				zap.L().Warn("verify: bulk approve item failed",
					zap.String("request_id", req.ID), zap.Error(aerr))
			} else {
				item.Outcome = BulkApproved
				result.Approved++
			}
		}
		result.Items = append(result.Items, item)
	}

	zap.L().Info("verify: bulk approve complete",
		zap.Float64("threshold", threshold),
		zap.Int("approved", result.Approved),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// ListPending returns pending requests, optionally filtered by assigned
// reviewer.
func (w *Workflow) ListPending(ctx context.Context, reviewer string) ([]model.VerificationRequest, error) {
	out, err := w.store.ListPendingVerifications(ctx, store.PendingFilter{Reviewer: reviewer})
	return out, eris.Wrap(err, "verify: list pending")
}

// ListOverdue returns pending requests older than the given age. Overdue
// is derived from created_at, never stored.
func (w *Workflow) ListOverdue(ctx context.Context, age time.Duration) ([]model.VerificationRequest, error) {
	cutoff := w.now().UTC().Add(-age)
	out, err := w.store.ListPendingVerifications(ctx, store.PendingFilter{CreatedBefore: cutoff})
	return out, eris.Wrap(err, "verify: list overdue")
}
