package payment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used in tests and single-process setups.
type MemoryStore struct {
	mu       sync.RWMutex
	payments map[string]Payment // keyed by intent ref
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[string]Payment),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(ctx context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[p.StripePaymentIntentID]; ok {
		return ErrAlreadyExists
	}
	s.payments[p.StripePaymentIntentID] = *p
	return nil
}

func (s *MemoryStore) GetByIntentID(ctx context.Context, intentID string) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[intentID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Payment
	for _, p := range s.payments {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpsertSucceeded(ctx context.Context, ref IntentRef, paidAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p, ok := s.payments[ref.IntentID]
	if !ok {
		p = newFromRef(ref, now)
	}

	settled := p.PaidAt == nil
	p.Status = StatusSucceeded
	p.FailureMessage = ""
	if settled {
		p.PaidAt = &paidAt
	}
	p.UpdatedAt = now
	s.payments[ref.IntentID] = p
	return settled, nil
}

func (s *MemoryStore) UpsertFailed(ctx context.Context, ref IntentRef, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p, ok := s.payments[ref.IntentID]
	if !ok {
		p = newFromRef(ref, now)
	}

	// A success already observed wins over a late failure delivery.
	if p.Status == StatusSucceeded || p.Status == StatusRefunded {
		return nil
	}

	p.Status = StatusFailed
	p.FailureMessage = reason
	p.UpdatedAt = now
	s.payments[ref.IntentID] = p
	return nil
}

func (s *MemoryStore) SetRefunded(ctx context.Context, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[intentID]
	if !ok {
		return ErrNotFound
	}

	p.Status = StatusRefunded
	p.UpdatedAt = s.now()
	s.payments[intentID] = p
	return nil
}

func newFromRef(ref IntentRef, now time.Time) Payment {
	return Payment{
		StripePaymentIntentID: ref.IntentID,
		UserID:                ref.UserID,
		Amount:                ref.Amount,
		Currency:              ref.Currency,
		Status:                StatusPending,
		CreatedAt:             now,
	}
}
