package batch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/resolve-cli/internal/match"
	"github.com/sells-group/resolve-cli/internal/model"
	"github.com/sells-group/resolve-cli/internal/provision"
	"github.com/sells-group/resolve-cli/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newOrchestrator(t *testing.T, st *store.MemoryStore) *Orchestrator {
	t.Helper()
	cfg := match.DefaultConfig()
	gateway := store.NewLeadGateway(st, cfg.CandidateLimit)
	pipeline := match.NewPipeline(gateway, nil, cfg)
	provisioner := provision.New(st, cfg).WithNow(func() time.Time { return testNow })
	return NewOrchestrator(pipeline, provisioner, st, 4).
		WithNow(func() time.Time { return testNow })
}

func TestResolveMeetingBuckets(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	known := &model.Lead{Email: "jane@acme.com", FirstName: "Jane", LastName: "Doe", Company: "Acme"}
	require.NoError(t, st.CreateLead(context.Background(), known))
	domainMate := &model.Lead{Email: "peer@globex.com", Company: "Globex"}
	require.NoError(t, st.CreateLead(context.Background(), domainMate))

	o := newOrchestrator(t, st)
	result, err := o.Resolve(context.Background(), "mtg-1", []model.ParticipantRecord{
		{Email: "jane@acme.com", Name: "Jane Doe"},       // exact email, auto
		{Email: "new.face@globex.com"},                   // domain tier, review
		{Email: "stranger@nowhere.io", Name: "Stranger"}, // no match, new lead
		{Phone: "5550001111"},                            // no identity, skipped
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, "mtg-1", result.MeetingID)
	require.Len(t, result.Matched, 1)
	assert.Equal(t, known.ID, result.Matched[0].Lead.ID)
	assert.Equal(t, model.MethodExactEmail, result.Matched[0].Method)

	require.Len(t, result.PendingVerification, 1)
	assert.Equal(t, "mtg-1", result.PendingVerification[0].MeetingID)
	assert.Equal(t, domainMate.ID, result.PendingVerification[0].CandidateLeadID)
	assert.Equal(t, model.StatusPending, result.PendingVerification[0].Status)

	require.Len(t, result.NewLeads, 1)
	assert.Equal(t, "stranger@nowhere.io", result.NewLeads[0].Email)

	require.Len(t, result.Skipped, 1)
	assert.NotEmpty(t, result.Skipped[0].Reason)
}

func TestResolveTouchesMatchedLead(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	known := &model.Lead{Email: "jane@acme.com", LastActivityAt: testNow.Add(-240 * time.Hour)}
	require.NoError(t, st.CreateLead(context.Background(), known))

	o := newOrchestrator(t, st)
	_, err := o.Resolve(context.Background(), "mtg-1", []model.ParticipantRecord{
		{Email: "jane@acme.com"},
	}, Options{})
	require.NoError(t, err)

	got, err := st.GetLead(context.Background(), known.ID)
	require.NoError(t, err)
	assert.Equal(t, testNow, got.LastActivityAt)
}

func TestResolveDuplicateTargetDemotesSecondMatch(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	// One lead, reachable by exact email for two distinct participants via
	// the same address family is impossible; use phone ordering instead:
	// both participants carry the same email so both hit the same lead.
	lead := &model.Lead{Email: "shared@acme.com"}
	require.NoError(t, st.CreateLead(context.Background(), lead))

	o := newOrchestrator(t, st)
	result, err := o.Resolve(context.Background(), "mtg-1", []model.ParticipantRecord{
		{Email: "shared@acme.com", Name: "First Claimer"},
		{Email: "shared@acme.com", Name: "Second Claimer"},
	}, Options{})
	require.NoError(t, err)

	require.Len(t, result.Matched, 1)
	assert.Equal(t, "First Claimer", result.Matched[0].Participant.Name)

	require.Len(t, result.PendingVerification, 1)
	assert.Equal(t, "Second Claimer", result.PendingVerification[0].Participant.Name)
	assert.True(t, result.PendingVerification[0].Ambiguous)
	assert.Equal(t, lead.ID, result.PendingVerification[0].CandidateLeadID)
}

func TestResolveRerunIsIdempotent(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	o := newOrchestrator(t, st)
	participants := []model.ParticipantRecord{
		{Email: "new@nowhere.io", Name: "New Person"},
	}

	first, err := o.Resolve(context.Background(), "mtg-1", participants, Options{})
	require.NoError(t, err)
	require.Len(t, first.NewLeads, 1)

	second, err := o.Resolve(context.Background(), "mtg-1", participants, Options{})
	require.NoError(t, err)
	assert.Empty(t, second.NewLeads, "second run must not duplicate the lead")
	require.Len(t, second.Matched, 1)
	assert.Equal(t, first.NewLeads[0].ID, second.Matched[0].Lead.ID)
}

func TestResolveNewLeadReviewGate(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	o := newOrchestrator(t, st).WithNewLeadReview(true)

	result, err := o.Resolve(context.Background(), "mtg-1", []model.ParticipantRecord{
		{Email: "new@nowhere.io", Name: "New Person"},
	}, Options{})
	require.NoError(t, err)

	assert.Empty(t, result.NewLeads)
	require.Len(t, result.PendingVerification, 1)
	assert.Empty(t, result.PendingVerification[0].CandidateLeadID)
}

func TestResolveDegradedStoreQueuesVerification(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	st.FailReads = true

	o := newOrchestrator(t, st)
	result, err := o.Resolve(context.Background(), "mtg-1", []model.ParticipantRecord{
		{Email: "jane@acme.com", Name: "Jane Doe"},
	}, Options{})
	require.NoError(t, err)

	// Every tier lookup fails, so the cascade finds nothing and the
	// participant routes to lead creation, whose email pre-check also
	// fails. The batch must not error out; the participant lands in the
	// verification queue instead.
	assert.Empty(t, result.Matched)
	assert.Empty(t, result.NewLeads)
	require.Len(t, result.PendingVerification, 1)
	assert.Equal(t, model.MethodNone, result.PendingVerification[0].Method)
}

func TestResolveBacklogResetsCollisionStatePerMeeting(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	lead := &model.Lead{Email: "shared@acme.com"}
	require.NoError(t, st.CreateLead(context.Background(), lead))

	o := newOrchestrator(t, st)
	result, err := o.ResolveBacklog(context.Background(), []MeetingBatch{
		{MeetingID: "mtg-1", Participants: []model.ParticipantRecord{
			{Email: "shared@acme.com", Name: "Monday Caller"},
		}},
		{MeetingID: "mtg-2", Participants: []model.ParticipantRecord{
			{Email: "shared@acme.com", Name: "Tuesday Caller"},
		}},
	}, Options{})
	require.NoError(t, err)

	// The same lead auto-matches in both meetings: the duplicate-target
	// rule applies within one meeting, never across the backlog.
	require.Len(t, result.Meetings, 2)
	assert.Empty(t, result.Failed)
	assert.Equal(t, "mtg-1", result.Meetings[0].MeetingID)
	assert.Equal(t, "mtg-2", result.Meetings[1].MeetingID)
	for _, meeting := range result.Meetings {
		require.Len(t, meeting.Matched, 1, "meeting %s", meeting.MeetingID)
		assert.Equal(t, lead.ID, meeting.Matched[0].Lead.ID)
		assert.Empty(t, meeting.PendingVerification)
	}
}

func TestResolveBacklogHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newOrchestrator(t, store.NewMemory())
	_, err := o.ResolveBacklog(ctx, []MeetingBatch{
		{MeetingID: "mtg-1"},
	}, Options{})
	require.Error(t, err)
}

func TestResolveEmptyInput(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(t, store.NewMemory())
	result, err := o.Resolve(context.Background(), "mtg-1", nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Matched)
	assert.Empty(t, result.NewLeads)
	assert.Empty(t, result.PendingVerification)
	assert.Empty(t, result.Skipped)
}
