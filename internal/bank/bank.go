// Package bank manages payout accounts for users and dealers.
//
// An account holder is a tagged {kind, id} pair rather than a polymorphic
// relation: both private sellers and dealerships can own accounts, and the
// payment subsystem resolves the default account when routing a payout.
package bank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/autovault/autovault/internal/idgen"
	"github.com/autovault/autovault/internal/validation"
)

var (
	ErrAccountNotFound = errors.New("bank account not found")
	ErrInvalidIBAN     = errors.New("invalid IBAN")
)

// HolderKind distinguishes who owns an account.
type HolderKind string

const (
	HolderUser   HolderKind = "user"
	HolderDealer HolderKind = "dealer"
)

// Holder identifies an account owner.
type Holder struct {
	Kind HolderKind `json:"kind"`
	ID   string     `json:"id"`
}

// Account is a payout destination. The IBAN is stored in full but rendered
// masked everywhere outside the payout path.
type Account struct {
	ID         string     `json:"id"`
	Holder     Holder     `json:"holder"`
	BankName   string     `json:"bankName"`
	HolderName string     `json:"holderName"`
	IBAN       string     `json:"-"`
	IBANMasked string     `json:"iban"`
	IsDefault  bool       `json:"isDefault"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	DeletedAt  *time.Time `json:"-"`
}

// Store persists bank accounts.
type Store interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, id string) (*Account, error)
	DefaultForHolder(ctx context.Context, h Holder) (*Account, error)
	ListByHolder(ctx context.Context, h Holder) ([]*Account, error)
	ClearDefault(ctx context.Context, h Holder) error
	SoftDelete(ctx context.Context, id string) error
}

// AddRequest contains the parameters for registering an account.
type AddRequest struct {
	BankName   string `json:"bankName" binding:"required"`
	HolderName string `json:"holderName" binding:"required"`
	IBAN       string `json:"iban" binding:"required"`
	IsDefault  bool   `json:"isDefault"`
}

// Service implements payout account management.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a bank account service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Add registers a payout account for a holder. The first account for a
// holder always becomes the default.
func (s *Service) Add(ctx context.Context, h Holder, req AddRequest) (*Account, error) {
	if errs := validation.Validate(
		validation.Required("bankName", req.BankName),
		validation.Required("holderName", req.HolderName),
		validation.MaxLen("bankName", req.BankName, 100),
		validation.MaxLen("holderName", req.HolderName, 100),
	); len(errs) > 0 {
		return nil, errs
	}

	iban := normalizeIBAN(req.IBAN)
	if !validIBAN(iban) {
		return nil, ErrInvalidIBAN
	}

	existing, err := s.store.ListByHolder(ctx, h)
	if err != nil {
		return nil, err
	}
	isDefault := req.IsDefault || len(existing) == 0
	if isDefault && len(existing) > 0 {
		if err := s.store.ClearDefault(ctx, h); err != nil {
			return nil, fmt.Errorf("failed to clear previous default account: %w", err)
		}
	}

	now := time.Now()
	a := &Account{
		ID:         idgen.WithPrefix("ba_"),
		Holder:     h,
		BankName:   req.BankName,
		HolderName: req.HolderName,
		IBAN:       iban,
		IBANMasked: MaskIBAN(iban),
		IsDefault:  isDefault,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create bank account: %w", err)
	}
	return a, nil
}

// ForHolder returns the holder's default payout account.
func (s *Service) ForHolder(ctx context.Context, h Holder) (*Account, error) {
	return s.store.DefaultForHolder(ctx, h)
}

// List returns all accounts for a holder.
func (s *Service) List(ctx context.Context, h Holder) ([]*Account, error) {
	return s.store.ListByHolder(ctx, h)
}

// Remove soft-deletes an account, keeping it around for payout audit.
func (s *Service) Remove(ctx context.Context, h Holder, id string) error {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Holder != h {
		return ErrAccountNotFound
	}
	return s.store.SoftDelete(ctx, id)
}

func normalizeIBAN(iban string) string {
	return strings.ToUpper(strings.ReplaceAll(iban, " ", ""))
}

// validIBAN checks shape only (country code, check digits, length). Full
// mod-97 validation happens at the bank, not here.
func validIBAN(iban string) bool {
	if len(iban) < 15 || len(iban) > 34 {
		return false
	}
	for i, c := range iban {
		switch {
		case i < 2 && (c < 'A' || c > 'Z'):
			return false
		case i >= 2 && i < 4 && (c < '0' || c > '9'):
			return false
		case !((c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')):
			return false
		}
	}
	return true
}

// MaskIBAN keeps the country code and the last four characters visible.
func MaskIBAN(iban string) string {
	if len(iban) <= 8 {
		return iban
	}
	return iban[:4] + strings.Repeat("*", len(iban)-8) + iban[len(iban)-4:]
}
