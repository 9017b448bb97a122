package model

import "github.com/rotisserie/eris"

// Error taxonomy for the resolution engine. Callers classify with
// errors.Is; eris-wrapped chains preserve the sentinels.
var (
	// ErrLookupUnavailable marks a lead store read failure. The pipeline
	// skips the affected tier and continues rather than aborting the
	// participant's decision.
	ErrLookupUnavailable = eris.New("lead lookup unavailable")

	// ErrEnrichmentUnavailable marks a profile enrichment timeout or
	// failure. Non-fatal: the decision proceeds without the bonus.
	ErrEnrichmentUnavailable = eris.New("profile enrichment unavailable")

	// ErrDuplicateLeadRace marks a lead insert that lost a uniqueness race
	// on email. Benign: the provisioner recovers by re-fetching.
	ErrDuplicateLeadRace = eris.New("duplicate lead race")

	// ErrInvalidState marks a resolution action against an already
	// resolved verification request. Surfaced to the caller, not retried.
	ErrInvalidState = eris.New("verification request already resolved")

	// ErrInvalidParticipant marks a participant record with no usable
	// identifying field. The participant is excluded from the batch with a
	// recorded skip reason.
	ErrInvalidParticipant = eris.New("participant record has no identifying fields")

	// ErrLeadNotFound marks a lead id that does not exist in the store.
	ErrLeadNotFound = eris.New("lead not found")

	// ErrVerificationNotFound marks an unknown verification request id.
	ErrVerificationNotFound = eris.New("verification request not found")
)
