package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nutrikit/adapt/internal/domain/model"
)

// MemStore implements Store in memory. It backs tests and dev mode; the
// durable implementation is SQLiteStore. All methods are safe for
// concurrent use, and TransitionProposal performs its compare-and-set and
// target write under one lock so the pair is atomic.
type MemStore struct {
	mu        sync.RWMutex
	metrics   map[string]map[time.Time]model.DailyMetricRecord
	profiles  map[string]model.Profile
	proposals map[string]model.AdaptationProposal
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		metrics:   make(map[string]map[time.Time]model.DailyMetricRecord),
		profiles:  make(map[string]model.Profile),
		proposals: make(map[string]model.AdaptationProposal),
	}
}

// UpsertMetric writes one (user, date) observation, overwriting any
// earlier submission for the same date.
func (s *MemStore) UpsertMetric(_ context.Context, rec model.DailyMetricRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := model.DateOf(rec.Date)
	rec.Date = day
	byDate, ok := s.metrics[rec.UserID]
	if !ok {
		byDate = make(map[time.Time]model.DailyMetricRecord)
		s.metrics[rec.UserID] = byDate
	}
	byDate[day] = rec
	return nil
}

// MetricsSince returns the user's records dated at or after since,
// ascending by date.
func (s *MemStore) MetricsSince(_ context.Context, userID string, since time.Time) ([]model.DailyMetricRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := model.DateOf(since)
	out := make([]model.DailyMetricRecord, 0, len(s.metrics[userID]))
	for day, rec := range s.metrics[userID] {
		if day.Before(cutoff) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// UserIDs lists every user with a profile.
func (s *MemStore) UserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.profiles))
	for id := range s.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Profile returns the user's profile or ErrNotFound.
func (s *MemStore) Profile(_ context.Context, userID string) (model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return model.Profile{}, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return p, nil
}

// SaveProfile creates or replaces a profile.
func (s *MemStore) SaveProfile(_ context.Context, p model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[p.UserID] = p
	return nil
}

// CreateProposal persists a new proposal, writing the live target in the
// same critical section when targetKcal is set.
func (s *MemStore) CreateProposal(_ context.Context, p *model.AdaptationProposal, targetKcal *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.proposals[p.ID]; exists {
		return fmt.Errorf("proposal %s already exists", p.ID)
	}
	if p.Status == model.StatusPending {
		for _, existing := range s.proposals {
			if existing.UserID == p.UserID && existing.Status == model.StatusPending {
				return fmt.Errorf("user %s has proposal %s pending: %w", p.UserID, existing.ID, ErrOpenProposalExists)
			}
		}
	}
	if targetKcal != nil {
		prof, ok := s.profiles[p.UserID]
		if !ok {
			return fmt.Errorf("profile %s: %w", p.UserID, ErrNotFound)
		}
		prof.DailyCalories = *targetKcal
		s.profiles[p.UserID] = prof
	}
	s.proposals[p.ID] = *p
	return nil
}

// Proposal returns a proposal by id or ErrNotFound.
func (s *MemStore) Proposal(_ context.Context, id string) (model.AdaptationProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proposals[id]
	if !ok {
		return model.AdaptationProposal{}, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	return p, nil
}

// PendingProposals lists the user's pending proposals, newest first.
func (s *MemStore) PendingProposals(_ context.Context, userID string) ([]model.AdaptationProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AdaptationProposal
	for _, p := range s.proposals {
		if p.UserID == userID && p.Status == model.StatusPending {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// OpenProposal returns the user's single pending proposal, or nil.
func (s *MemStore) OpenProposal(_ context.Context, userID string) (*model.AdaptationProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.proposals {
		if p.UserID == userID && p.Status == model.StatusPending {
			open := p
			return &open, nil
		}
	}
	return nil, nil
}

// TransitionProposal compare-and-sets the status and applies the target
// write atomically under the store lock.
func (s *MemStore) TransitionProposal(_ context.Context, id string, expect, next model.ProposalStatus, at time.Time, targetKcal *int) (model.AdaptationProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[id]
	if !ok {
		return model.AdaptationProposal{}, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	if p.Status != expect {
		return p, fmt.Errorf("proposal %s is %s, expected %s: %w", id, p.Status, expect, ErrStatusConflict)
	}

	if targetKcal != nil {
		prof, ok := s.profiles[p.UserID]
		if !ok {
			return p, fmt.Errorf("profile %s: %w", p.UserID, ErrNotFound)
		}
		prof.DailyCalories = *targetKcal
		s.profiles[p.UserID] = prof
	}

	p.Status = next
	stamp := at
	switch next {
	case model.StatusApproved, model.StatusDeclined:
		p.DecidedAt = &stamp
	case model.StatusApplied:
		if p.DecidedAt == nil {
			p.DecidedAt = &stamp
		}
		p.AppliedAt = &stamp
	case model.StatusRolledBack:
		p.RolledBackAt = &stamp
	}
	s.proposals[id] = p
	return p, nil
}
