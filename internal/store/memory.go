package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/resolve-cli/internal/match"
	"github.com/sells-group/resolve-cli/internal/model"
)

// MemoryStore is an in-process Store used by the "memory" driver and the
// test suites of the packages above the store. Safe for concurrent use.
type MemoryStore struct {
	mu            sync.Mutex
	leads         map[string]model.Lead
	verifications map[string]model.VerificationRequest

	// FailReads makes every lead lookup return an error, simulating an
	// unavailable store for pipeline degradation tests.
	FailReads bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		leads:         make(map[string]model.Lead),
		verifications: make(map[string]model.VerificationRequest),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func (s *MemoryStore) readErr() error {
	if s.FailReads {
		return eris.New("memory: store unavailable")
	}
	return nil
}

func (s *MemoryStore) CreateLead(_ context.Context, l *model.Lead) error {
	prepareLead(l)
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.Email != "" {
		for _, existing := range s.leads {
			if existing.Email == l.Email {
				return eris.Wrapf(model.ErrDuplicateLeadRace, "memory: lead email %s", l.Email)
			}
		}
	}
	s.leads[l.ID] = *l
	return nil
}

func (s *MemoryStore) GetLead(_ context.Context, id string) (*model.Lead, error) {
	if err := s.readErr(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return nil, eris.Wrapf(model.ErrLeadNotFound, "memory: lead %s", id)
	}
	return &l, nil
}

func (s *MemoryStore) GetLeadByEmail(_ context.Context, email string) (*model.Lead, error) {
	if err := s.readErr(); err != nil {
		return nil, err
	}
	email = match.NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.Email == email {
			lead := l
			return &lead, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListLeadsByCompanyPrefix(_ context.Context, prefix string, limit int) ([]model.Lead, error) {
	if err := s.readErr(); err != nil {
		return nil, err
	}
	if prefix == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Lead
	for _, l := range s.leads {
		if strings.HasPrefix(match.NormalizeCompany(l.Company), prefix) {
			out = append(out, l)
		}
	}
	sortLeadsByActivity(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListLeadsByDomain(_ context.Context, domain string, limit int) ([]model.Lead, error) {
	if err := s.readErr(); err != nil {
		return nil, err
	}
	domain = strings.ToLower(domain)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Lead
	for _, l := range s.leads {
		if match.ExtractDomain(l.Email) == domain {
			out = append(out, l)
		}
	}
	sortLeadsByActivity(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListLeadsByPhoneKey(_ context.Context, phoneKey string) ([]model.Lead, error) {
	if err := s.readErr(); err != nil {
		return nil, err
	}
	if phoneKey == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Lead
	for _, l := range s.leads {
		if match.PhoneKey(l.PhoneDigits) == phoneKey {
			out = append(out, l)
		}
	}
	sortLeadsByActivity(out)
	return out, nil
}

func (s *MemoryStore) TouchLeadActivity(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return eris.Wrapf(model.ErrLeadNotFound, "memory: lead %s", id)
	}
	l.LastActivityAt = at.UTC()
	s.leads[id] = l
	return nil
}

func (s *MemoryStore) CreateVerification(_ context.Context, v *model.VerificationRequest) error {
	prepareVerification(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifications[v.ID] = *v
	return nil
}

func (s *MemoryStore) GetVerification(_ context.Context, id string) (*model.VerificationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.verifications[id]
	if !ok {
		return nil, eris.Wrapf(model.ErrVerificationNotFound, "memory: verification %s", id)
	}
	return &v, nil
}

func (s *MemoryStore) ResolveVerification(_ context.Context, id string, res Resolution) (*model.VerificationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.verifications[id]
	if !ok {
		return nil, eris.Wrapf(model.ErrVerificationNotFound, "memory: verification %s", id)
	}
	if v.Status != model.StatusPending {
		return nil, eris.Wrapf(model.ErrInvalidState, "memory: verification %s is %s", id, v.Status)
	}

	resolvedLeadID := res.LeadID
	if res.NewLead != nil {
		prepareLead(res.NewLead)
		l := *res.NewLead
		existingID := ""
		if l.Email != "" {
			for _, existing := range s.leads {
				if existing.Email == l.Email {
					existingID = existing.ID
					break
				}
			}
		}
		if existingID != "" {
			resolvedLeadID = existingID
		} else {
			s.leads[l.ID] = l
			resolvedLeadID = l.ID
		}
	}

	at := res.At.UTC()
	v.Status = res.Status
	v.AssignedReviewer = res.Reviewer
	v.ResolvedAt = &at
	v.ResolvedLeadID = resolvedLeadID
	v.ResolutionNote = res.Note
	s.verifications[id] = v
	return &v, nil
}

func (s *MemoryStore) ListPendingVerifications(_ context.Context, filter PendingFilter) ([]model.VerificationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.VerificationRequest
	for _, v := range s.verifications {
		if v.Status != model.StatusPending {
			continue
		}
		if filter.Reviewer != "" && v.AssignedReviewer != filter.Reviewer {
			continue
		}
		if !filter.CreatedBefore.IsZero() && !v.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}
		if filter.MinConfidence > 0 && v.Confidence < filter.MinConfidence {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func sortLeadsByActivity(leads []model.Lead) {
	sort.Slice(leads, func(i, j int) bool {
		if !leads[i].LastActivityAt.Equal(leads[j].LastActivityAt) {
			return leads[i].LastActivityAt.After(leads[j].LastActivityAt)
		}
		return leads[i].ID < leads[j].ID
	})
}
