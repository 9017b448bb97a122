package model

import (
	"strings"
	"time"
)

// LeadSource identifies where a lead record originated.
const SourceMeeting = "meeting"

// ParticipantRecord is a raw meeting participant harvested from a calendar
// invite. All fields are optional strings as supplied by the calendar
// provider; at least one of Email or Name must be present for the record
// to be resolvable.
type ParticipantRecord struct {
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Company string `json:"company,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Title   string `json:"title,omitempty"`
}

// HasIdentity reports whether the record carries at least one usable
// identifying field.
func (p ParticipantRecord) HasIdentity() bool {
	return strings.TrimSpace(p.Email) != "" || strings.TrimSpace(p.Name) != ""
}

// Lead is a CRM lead record. The resolution engine reads and creates leads
// but never deletes them; ownership stays with the CRM subsystem.
type Lead struct {
	ID             string    `json:"id"`
	Email          string    `json:"email,omitempty"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Company        string    `json:"company,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	PhoneDigits    string    `json:"phone_digits,omitempty"`
	Source         string    `json:"source"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// HasCompleteContact reports whether the lead has both an email and a phone.
// Used as the second tie-break criterion between equally scored candidates.
func (l Lead) HasCompleteContact() bool {
	return l.Email != "" && l.PhoneDigits != ""
}

// MatchMethod tags which tier of the cascade produced a decision.
type MatchMethod string

const (
	MethodExactEmail  MatchMethod = "exact_email"
	MethodNameCompany MatchMethod = "name_company"
	MethodDomain      MatchMethod = "domain"
	MethodPhone       MatchMethod = "phone"
	MethodFuzzyName   MatchMethod = "fuzzy_name"
	MethodNone        MatchMethod = "none"
)

// MatchDecision is the pipeline output for a single participant.
//
// Exactly one of {Lead set as auto-match, ShouldCreateLead,
// RequiresVerification} is the primary outcome. A tentative Lead may
// co-occur with RequiresVerification as a low-confidence suggestion.
type MatchDecision struct {
	Participant          ParticipantRecord `json:"participant"`
	Lead                 *Lead             `json:"lead,omitempty"`
	Confidence           float64           `json:"confidence"`
	Method               MatchMethod       `json:"method"`
	ShouldCreateLead     bool              `json:"should_create_lead"`
	RequiresVerification bool              `json:"requires_verification"`

	// Ambiguous records a tie the tie-break rules could not resolve (or a
	// duplicate-target collision within a batch). Ambiguous decisions are
	// always routed to verification and excluded from bulk approval.
	Ambiguous bool `json:"ambiguous,omitempty"`

	// EnrichmentApplied is set when a corroborating external profile
	// boosted the confidence score.
	EnrichmentApplied bool `json:"enrichment_applied,omitempty"`
}

// AutoMatched reports whether the decision resolved to a lead without
// human review.
func (d MatchDecision) AutoMatched() bool {
	return d.Lead != nil && !d.RequiresVerification && !d.ShouldCreateLead
}

// VerificationStatus is the review state of a verification request.
type VerificationStatus string

const (
	StatusPending         VerificationStatus = "pending"
	StatusApprovedMatch   VerificationStatus = "approved_match"
	StatusApprovedNewLead VerificationStatus = "approved_new_lead"
	StatusRejected        VerificationStatus = "rejected"
)

// Resolved reports whether the status is terminal.
func (s VerificationStatus) Resolved() bool {
	return s == StatusApprovedMatch || s == StatusApprovedNewLead || s == StatusRejected
}

// VerificationRequest is a persisted, reviewable record for a match the
// pipeline could not resolve automatically. The participant snapshot is
// immutable; the request mutates only through the four resolution actions
// and is terminal once resolved.
type VerificationRequest struct {
	ID               string             `json:"id"`
	MeetingID        string             `json:"meeting_id,omitempty"`
	Participant      ParticipantRecord  `json:"participant"`
	CandidateLeadID  string             `json:"candidate_lead_id,omitempty"`
	Confidence       float64            `json:"confidence"`
	Method           MatchMethod        `json:"method"`
	Ambiguous        bool               `json:"ambiguous,omitempty"`
	Status           VerificationStatus `json:"status"`
	AssignedReviewer string             `json:"assigned_reviewer,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	ResolvedAt       *time.Time         `json:"resolved_at,omitempty"`
	ResolvedLeadID   string             `json:"resolved_lead_id,omitempty"`
	ResolutionNote   string             `json:"resolution_note,omitempty"`
}

// Overdue reports whether a pending request is older than the given age.
// Derived, never stored.
func (v VerificationRequest) Overdue(age time.Duration, now time.Time) bool {
	return v.Status == StatusPending && now.Sub(v.CreatedAt) > age
}
