// Package payment records fund movements for a transaction and verifies
// manually wired bank transfers.
//
// Transfers happen outside the platform: the buyer wires the total to the
// escrow account and uploads proof. An admin matches the proof against the
// bank statement before the transaction may proceed. Terminal release and
// refund rows are created exactly once per transaction; a unique constraint
// in storage backs up the application guard so even a logic bug cannot
// produce a double payout.
package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/autovault/autovault/internal/bank"
	"github.com/autovault/autovault/internal/idgen"
	"github.com/autovault/autovault/internal/metrics"
	"github.com/autovault/autovault/internal/transaction"
)

var (
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrEvidenceRequired = errors.New("payment evidence is required")
	ErrReasonRequired   = errors.New("a rejection reason is required")
	ErrInvalidStatus    = errors.New("invalid payment status for this operation")

	// ErrDuplicatePayment is returned by stores when a unique constraint on
	// (transaction_id, type) blocks an insert.
	ErrDuplicatePayment = errors.New("payment already exists for this transaction and type")

	// ErrLedgerInconsistency means the storage constraint blocked a second
	// release or refund. It should never occur; when it does it is alerted,
	// not swallowed.
	ErrLedgerInconsistency = errors.New("ledger inconsistency: duplicate payout attempt blocked")
)

// Type classifies a fund movement.
type Type string

const (
	TypeDeposit    Type = "deposit"    // buyer's wire into the escrow account
	TypeRelease    Type = "release"    // payout to the seller
	TypeRefund     Type = "refund"     // return to the buyer
	TypeFee        Type = "fee"        // platform's cut (service + seller fee + VAT)
	TypeCommission Type = "commission" // dealer's cut
)

// Status represents the state of a payment.
type Status string

const (
	StatusPending   Status = "pending"   // expected but not yet evidenced
	StatusSubmitted Status = "submitted" // proof uploaded, awaiting review
	StatusInReview  Status = "in_review" // admin picked it up
	StatusVerified  Status = "verified"  // matched against the bank statement
	StatusRejected  Status = "rejected"  // proof did not match
	StatusCompleted Status = "completed" // funds moved out (release/refund/fee)
	StatusFailed    Status = "failed"    // outbound movement failed
)

// Payment represents one fund movement tied to a transaction.
type Payment struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId"`
	Type          Type   `json:"type"`
	AmountCents   int64  `json:"amountCents"`
	Currency      string `json:"currency"`
	Status        Status `json:"status"`

	EvidenceHash string `json:"evidenceHash,omitempty"` // sha256 of the uploaded proof
	EvidenceURL  string `json:"evidenceUrl,omitempty"`

	VerifiedBy   string     `json:"verifiedBy,omitempty"`
	VerifiedAt   *time.Time `json:"verifiedAt,omitempty"`
	RejectReason string     `json:"rejectReason,omitempty"`
	Notes        string     `json:"notes,omitempty"`

	PayoutAccountID string `json:"payoutAccountId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists payment data. Create must return ErrDuplicatePayment when
// the (transaction_id, type) uniqueness rule is violated.
type Store interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	GetByTransactionAndType(ctx context.Context, transactionID string, t Type) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
	ListByTransaction(ctx context.Context, transactionID string) ([]*Payment, error)
}

// Transactions is the slice of the state machine the payment subsystem
// drives. Implemented by *transaction.Service.
type Transactions interface {
	Get(ctx context.Context, id string, actor transaction.Actor) (*transaction.Transaction, error)
	MarkPaymentSubmitted(ctx context.Context, id string, actor transaction.Actor) (*transaction.Transaction, error)
	MarkPaymentVerified(ctx context.Context, id string, actor transaction.Actor) (*transaction.Transaction, error)
	RejectPayment(ctx context.Context, id string, actor transaction.Actor, reason string) (*transaction.Transaction, error)
}

// PayoutAccounts resolves where released funds should land.
type PayoutAccounts interface {
	ForHolder(ctx context.Context, holder bank.Holder) (*bank.Account, error)
}

// SubmitProofRequest carries the buyer's transfer evidence.
type SubmitProofRequest struct {
	Evidence string `json:"evidence" binding:"required"` // document reference or inline content
	Notes    string `json:"notes"`
}

// Service implements payment verification and payout authorization.
type Service struct {
	store    Store
	txns     Transactions
	accounts PayoutAccounts
	logger   *slog.Logger
}

// NewService creates a payment service.
func NewService(store Store, txns Transactions, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		txns:   txns,
		logger: logger,
	}
}

// WithAccounts wires bank account resolution for payout rows.
func (s *Service) WithAccounts(a PayoutAccounts) *Service {
	s.accounts = a
	return s
}

// SubmitProof records the buyer's transfer evidence on the deposit payment
// and moves the transaction to payment_submitted.
func (s *Service) SubmitProof(ctx context.Context, transactionID string, actor transaction.Actor, req SubmitProofRequest) (*Payment, error) {
	if req.Evidence == "" {
		return nil, ErrEvidenceRequired
	}

	t, err := s.txns.Get(ctx, transactionID, actor)
	if err != nil {
		return nil, err
	}

	p, err := s.store.GetByTransactionAndType(ctx, transactionID, TypeDeposit)
	if errors.Is(err, ErrPaymentNotFound) {
		p, err = s.openDeposit(ctx, t)
	}
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending && p.Status != StatusRejected {
		return nil, ErrInvalidStatus
	}

	prior := *p
	now := time.Now()
	p.Status = StatusSubmitted
	p.EvidenceHash = hashEvidence(req.Evidence)
	p.EvidenceURL = req.Evidence
	p.Notes = req.Notes
	p.RejectReason = ""
	p.UpdatedAt = now
	if err := s.store.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to record payment evidence: %w", err)
	}

	if _, err := s.txns.MarkPaymentSubmitted(ctx, transactionID, actor); err != nil {
		// Roll the evidence back so a later attempt starts clean.
		if compErr := s.store.Update(ctx, &prior); compErr != nil {
			s.logger.Error("failed to revert payment evidence after rejected transition",
				"payment_id", p.ID, "transaction_id", transactionID, "error", compErr)
		}
		return nil, err
	}

	metrics.PaymentsTotal.WithLabelValues(string(TypeDeposit), string(StatusSubmitted)).Inc()
	return p, nil
}

// Verify confirms the deposit matched the bank statement and drives the
// payment_submitted → payment_verified transition. Calling it again on an
// already-verified payment is a no-op success.
func (s *Service) Verify(ctx context.Context, transactionID string, actor transaction.Actor, notes string) (*Payment, error) {
	p, err := s.store.GetByTransactionAndType(ctx, transactionID, TypeDeposit)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusVerified {
		// Idempotent retry: same state, no duplicate events.
		return p, nil
	}
	if p.Status != StatusSubmitted && p.Status != StatusInReview {
		return nil, ErrInvalidStatus
	}

	prior := *p
	now := time.Now()
	p.Status = StatusVerified
	p.VerifiedBy = actor.ID
	p.VerifiedAt = &now
	if notes != "" {
		p.Notes = notes
	}
	p.UpdatedAt = now
	if err := s.store.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to verify payment: %w", err)
	}

	if _, err := s.txns.MarkPaymentVerified(ctx, transactionID, actor); err != nil {
		if errors.Is(err, transaction.ErrAlreadyProcessed) {
			// Transaction already moved on, keep the verified payment row.
			return p, nil
		}
		if compErr := s.store.Update(ctx, &prior); compErr != nil {
			s.logger.Error("failed to revert payment verification after rejected transition",
				"payment_id", p.ID, "transaction_id", transactionID, "error", compErr)
		}
		return nil, err
	}

	metrics.PaymentsTotal.WithLabelValues(string(TypeDeposit), string(StatusVerified)).Inc()
	return p, nil
}

// Reject marks the deposit proof as not matching and sends the transaction
// back to awaiting_payment. A reason is mandatory.
func (s *Service) Reject(ctx context.Context, transactionID string, actor transaction.Actor, reason string) (*Payment, error) {
	if reason == "" {
		return nil, ErrReasonRequired
	}

	p, err := s.store.GetByTransactionAndType(ctx, transactionID, TypeDeposit)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusSubmitted && p.Status != StatusInReview {
		return nil, ErrInvalidStatus
	}

	prior := *p
	now := time.Now()
	p.Status = StatusRejected
	p.RejectReason = reason
	p.VerifiedBy = actor.ID
	p.UpdatedAt = now
	if err := s.store.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to reject payment: %w", err)
	}

	if _, err := s.txns.RejectPayment(ctx, transactionID, actor, reason); err != nil {
		if compErr := s.store.Update(ctx, &prior); compErr != nil {
			s.logger.Error("failed to revert payment rejection after rejected transition",
				"payment_id", p.ID, "transaction_id", transactionID, "error", compErr)
		}
		return nil, err
	}

	metrics.PaymentsTotal.WithLabelValues(string(TypeDeposit), string(StatusRejected)).Inc()
	return p, nil
}

// ListByTransaction returns all payments for a transaction, visible to its
// parties and admins.
func (s *Service) ListByTransaction(ctx context.Context, transactionID string, actor transaction.Actor) ([]*Payment, error) {
	if _, err := s.txns.Get(ctx, transactionID, actor); err != nil {
		return nil, err
	}
	return s.store.ListByTransaction(ctx, transactionID)
}

// OpenDeposit creates the pending deposit row for a new transaction.
// Part of the transaction.PaymentAuthorizer contract.
func (s *Service) OpenDeposit(ctx context.Context, t *transaction.Transaction) error {
	_, err := s.openDeposit(ctx, t)
	return err
}

func (s *Service) openDeposit(ctx context.Context, t *transaction.Transaction) (*Payment, error) {
	now := time.Now()
	p := &Payment{
		ID:            idgen.WithPrefix("pay_"),
		TransactionID: t.ID,
		Type:          TypeDeposit,
		AmountCents:   t.TotalCents,
		Currency:      t.Currency,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := s.store.Create(ctx, p)
	if errors.Is(err, ErrDuplicatePayment) {
		// Already opened, reuse the existing row.
		return s.store.GetByTransactionAndType(ctx, t.ID, TypeDeposit)
	}
	if err != nil {
		return nil, err
	}
	metrics.PaymentsTotal.WithLabelValues(string(TypeDeposit), string(StatusPending)).Inc()
	return p, nil
}

// AuthorizeRelease creates the seller payout exactly once, together with the
// platform fee row and the dealer commission row when applicable. Called only
// by the state machine on completion.
func (s *Service) AuthorizeRelease(ctx context.Context, t *transaction.Transaction) error {
	release := &Payment{
		ID:            idgen.WithPrefix("pay_"),
		TransactionID: t.ID,
		Type:          TypeRelease,
		AmountCents:   t.NetPayoutCents,
		Currency:      t.Currency,
		Status:        StatusCompleted,
	}

	if s.accounts != nil {
		acct, err := s.accounts.ForHolder(ctx, bank.Holder{Kind: bank.HolderUser, ID: t.SellerID})
		if err != nil {
			s.logger.Warn("no payout account for seller, release requires manual routing",
				"transaction_id", t.ID, "seller_id", t.SellerID, "error", err)
		} else {
			release.PayoutAccountID = acct.ID
		}
	}

	if err := s.createTerminal(ctx, release); err != nil {
		return err
	}

	// Bookkeeping rows for the platform's and dealer's cut. Not payout-
	// guarded; duplicates here are harmless and skipped.
	fee := &Payment{
		ID:            idgen.WithPrefix("pay_"),
		TransactionID: t.ID,
		Type:          TypeFee,
		AmountCents:   t.ServiceFeeCents + t.SellerFeeCents + t.VATCents,
		Currency:      t.Currency,
		Status:        StatusCompleted,
	}
	if err := s.createBookkeeping(ctx, fee); err != nil {
		return err
	}
	if t.HasDealer() {
		commission := &Payment{
			ID:            idgen.WithPrefix("pay_"),
			TransactionID: t.ID,
			Type:          TypeCommission,
			AmountCents:   t.DealerCommissionCents,
			Currency:      t.Currency,
			Status:        StatusCompleted,
		}
		if err := s.createBookkeeping(ctx, commission); err != nil {
			return err
		}
	}
	return nil
}

// AuthorizeRefund creates the buyer refund exactly once. Called only by the
// state machine when a dispute resolves in the buyer's favor.
func (s *Service) AuthorizeRefund(ctx context.Context, t *transaction.Transaction, amountCents int64) error {
	refund := &Payment{
		ID:            idgen.WithPrefix("pay_"),
		TransactionID: t.ID,
		Type:          TypeRefund,
		AmountCents:   amountCents,
		Currency:      t.Currency,
		Status:        StatusCompleted,
	}
	if s.accounts != nil {
		acct, err := s.accounts.ForHolder(ctx, bank.Holder{Kind: bank.HolderUser, ID: t.BuyerID})
		if err != nil {
			s.logger.Warn("no payout account for buyer, refund requires manual routing",
				"transaction_id", t.ID, "buyer_id", t.BuyerID, "error", err)
		} else {
			refund.PayoutAccountID = acct.ID
		}
	}
	return s.createTerminal(ctx, refund)
}

// createTerminal inserts a release or refund row. A duplicate here means a
// double-payout attempt slipped past the state machine.
func (s *Service) createTerminal(ctx context.Context, p *Payment) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	err := s.store.Create(ctx, p)
	if errors.Is(err, ErrDuplicatePayment) {
		metrics.LedgerInconsistenciesTotal.Inc()
		s.logger.Error("CRITICAL: duplicate payout attempt blocked by storage constraint",
			"transaction_id", p.TransactionID, "type", p.Type, "amount_cents", p.AmountCents)
		return ErrLedgerInconsistency
	}
	if err != nil {
		return fmt.Errorf("failed to create %s payment: %w", p.Type, err)
	}
	metrics.PaymentsTotal.WithLabelValues(string(p.Type), string(p.Status)).Inc()
	return nil
}

func (s *Service) createBookkeeping(ctx context.Context, p *Payment) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	err := s.store.Create(ctx, p)
	if errors.Is(err, ErrDuplicatePayment) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create %s payment: %w", p.Type, err)
	}
	metrics.PaymentsTotal.WithLabelValues(string(p.Type), string(p.Status)).Inc()
	return nil
}

func hashEvidence(evidence string) string {
	sum := sha256.Sum256([]byte(evidence))
	return hex.EncodeToString(sum[:])
}

// Compile-time assertion that Service satisfies the state machine contract.
var _ transaction.PaymentAuthorizer = (*Service)(nil)
