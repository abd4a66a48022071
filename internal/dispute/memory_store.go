package dispute

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests. It enforces
// the one-open-dispute-per-transaction rule the same way the Postgres
// partial unique index does.
type MemoryStore struct {
	mu       sync.Mutex
	disputes map[string]*Dispute
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{disputes: make(map[string]*Dispute)}
}

func (s *MemoryStore) Create(_ context.Context, d *Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.disputes {
		if existing.TransactionID == d.TransactionID &&
			existing.DeletedAt == nil && !existing.Status.IsTerminal() {
			return ErrDisputeAlreadyOpen
		}
	}
	cp := *d
	s.disputes[d.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[id]
	if !ok || d.DeletedAt != nil {
		return nil, ErrDisputeNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) GetOpenByTransaction(_ context.Context, transactionID string) (*Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.disputes {
		if d.TransactionID == transactionID && d.DeletedAt == nil && !d.Status.IsTerminal() {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrDisputeNotFound
}

func (s *MemoryStore) ListByTransaction(_ context.Context, transactionID string) ([]*Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Dispute
	for _, d := range s.disputes {
		if d.TransactionID == transactionID && d.DeletedAt == nil {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, d *Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.disputes[d.ID]; !ok {
		return ErrDisputeNotFound
	}
	cp := *d
	s.disputes[d.ID] = &cp
	return nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[id]
	if !ok || d.DeletedAt != nil {
		return ErrDisputeNotFound
	}
	now := time.Now()
	d.DeletedAt = &now
	return nil
}

var _ Store = (*MemoryStore)(nil)
