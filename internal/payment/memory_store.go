package payment

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests. It enforces
// the same (transaction_id, type) uniqueness as the Postgres schema for
// deposit, release, and refund rows.
type MemoryStore struct {
	mu       sync.Mutex
	payments map[string]*Payment
	unique   map[string]string // transactionID/type -> payment ID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[string]*Payment),
		unique:   make(map[string]string),
	}
}

func uniqueKey(transactionID string, t Type) (string, bool) {
	switch t {
	case TypeDeposit, TypeRelease, TypeRefund:
		return transactionID + "/" + string(t), true
	}
	return "", false
}

func (s *MemoryStore) Create(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, guarded := uniqueKey(p.TransactionID, p.Type); guarded {
		if _, exists := s.unique[key]; exists {
			return ErrDuplicatePayment
		}
		s.unique[key] = p.ID
	}
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetByTransactionAndType(_ context.Context, transactionID string, t Type) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.TransactionID == transactionID && p.Type == t {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (s *MemoryStore) Update(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ID]; !ok {
		return ErrPaymentNotFound
	}
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

func (s *MemoryStore) ListByTransaction(_ context.Context, transactionID string) ([]*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Payment
	for _, p := range s.payments {
		if p.TransactionID == transactionID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
