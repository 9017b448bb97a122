package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParticipantHasIdentity(t *testing.T) {
	t.Parallel()

	assert.True(t, ParticipantRecord{Email: "a@b.com"}.HasIdentity())
	assert.True(t, ParticipantRecord{Name: "Jane"}.HasIdentity())
	assert.False(t, ParticipantRecord{Phone: "5551234567"}.HasIdentity())
	assert.False(t, ParticipantRecord{Email: "  "}.HasIdentity())
}

func TestLeadHasCompleteContact(t *testing.T) {
	t.Parallel()

	assert.True(t, Lead{Email: "a@b.com", PhoneDigits: "5551234567"}.HasCompleteContact())
	assert.False(t, Lead{Email: "a@b.com"}.HasCompleteContact())
	assert.False(t, Lead{PhoneDigits: "5551234567"}.HasCompleteContact())
}

func TestMatchDecisionAutoMatched(t *testing.T) {
	t.Parallel()

	lead := &Lead{ID: "x"}
	assert.True(t, MatchDecision{Lead: lead}.AutoMatched())
	assert.False(t, MatchDecision{Lead: lead, RequiresVerification: true}.AutoMatched())
	assert.False(t, MatchDecision{ShouldCreateLead: true}.AutoMatched())
	assert.False(t, MatchDecision{}.AutoMatched())
}

func TestVerificationStatusResolved(t *testing.T) {
	t.Parallel()

	assert.False(t, StatusPending.Resolved())
	assert.True(t, StatusApprovedMatch.Resolved())
	assert.True(t, StatusApprovedNewLead.Resolved())
	assert.True(t, StatusRejected.Resolved())
}

func TestVerificationOverdue(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	pending := VerificationRequest{Status: StatusPending, CreatedAt: now.Add(-72 * time.Hour)}
	assert.True(t, pending.Overdue(48*time.Hour, now))
	assert.False(t, pending.Overdue(96*time.Hour, now))

	resolved := VerificationRequest{Status: StatusRejected, CreatedAt: now.Add(-72 * time.Hour)}
	assert.False(t, resolved.Overdue(48*time.Hour, now))
}
