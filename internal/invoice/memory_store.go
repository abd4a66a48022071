package invoice

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu            sync.Mutex
	sequences     map[int]int
	invoices      map[string]*Invoice
	byTransaction map[string]string
	byNumber      map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sequences:     make(map[int]int),
		invoices:      make(map[string]*Invoice),
		byTransaction: make(map[string]string),
		byNumber:      make(map[string]string),
	}
}

func (s *MemoryStore) NextSequence(_ context.Context, year int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[year]++
	return s.sequences[year], nil
}

func (s *MemoryStore) Create(_ context.Context, inv *Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byTransaction[inv.TransactionID]; exists {
		return ErrDuplicateInvoice
	}
	cp := *inv
	s.invoices[inv.ID] = &cp
	s.byTransaction[inv.TransactionID] = inv.ID
	s.byNumber[inv.Number] = inv.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *MemoryStore) GetByTransaction(ctx context.Context, transactionID string) (*Invoice, error) {
	s.mu.Lock()
	id, ok := s.byTransaction[transactionID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	return s.Get(ctx, id)
}

func (s *MemoryStore) GetByNumber(ctx context.Context, number string) (*Invoice, error) {
	s.mu.Lock()
	id, ok := s.byNumber[number]
	s.mu.Unlock()
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	return s.Get(ctx, id)
}

var _ Store = (*MemoryStore)(nil)
