package transaction

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Transaction
	byCode map[string]string // code -> id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Transaction),
		byCode: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, t *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.byID[t.ID] = &cp
	s.byCode[t.Code] = t.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok || t.DeletedAt != nil {
		return nil, ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) GetByCode(ctx context.Context, code string) (*Transaction, error) {
	s.mu.RLock()
	id, ok := s.byCode[code]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return s.Get(ctx, id)
}

func (s *MemoryStore) Transition(_ context.Context, t *Transaction, from Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[t.ID]
	if !ok || stored.DeletedAt != nil {
		return ErrStaleStatus
	}
	if stored.Status != from {
		return ErrStaleStatus
	}
	cp := *t
	s.byID[t.ID] = &cp
	return nil
}

func (s *MemoryStore) List(_ context.Context, f ListFilter) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Transaction
	for _, t := range s.byID {
		if t.DeletedAt != nil {
			continue
		}
		if f.ActorID != "" && t.BuyerID != f.ActorID && t.SellerID != f.ActorID && t.DealerID != f.ActorID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if !f.CreatedBefore.IsZero() && !t.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ListPaymentDeadlineElapsed(_ context.Context, before time.Time, limit int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Transaction
	for _, t := range s.byID {
		if t.DeletedAt != nil || t.Status != StatusAwaitingPayment {
			continue
		}
		if t.PaymentDeadline == nil || !t.PaymentDeadline.Before(before) {
			continue
		}
		cp := *t
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) ListInspectionElapsed(_ context.Context, before time.Time, limit int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Transaction
	for _, t := range s.byID {
		if t.DeletedAt != nil || t.Status != StatusInspectionPeriod {
			continue
		}
		if t.InspectionDeadline == nil || !t.InspectionDeadline.Before(before) {
			continue
		}
		cp := *t
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok || t.DeletedAt != nil {
		return ErrTransactionNotFound
	}
	now := time.Now()
	t.DeletedAt = &now
	return nil
}

var _ Store = (*MemoryStore)(nil)
