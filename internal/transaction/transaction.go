// Package transaction owns the authoritative state of a vehicle sale.
//
// Flow:
//  1. Buyer requests a purchase → transaction created, fees frozen, payment reference issued
//  2. Buyer wires the total and uploads proof → payment_submitted
//  3. Admin matches the bank proof → payment_verified, invoice issued
//  4. Seller hands the vehicle over → inspection_period
//  5. Buyer confirms (or the inspection deadline elapses) → completed, payout released
//  6. Buyer or seller raises a dispute instead → disputed, resolution decides the outcome
//
// Every transition is validated against the current persisted status and the
// caller's role, and applied as a conditional update so two concurrent
// requests from the same state cannot both win.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/autovault/autovault/internal/idgen"
	"github.com/autovault/autovault/internal/ledger"
	"github.com/autovault/autovault/internal/metrics"
	"github.com/autovault/autovault/internal/notify"
	"github.com/autovault/autovault/internal/retry"
	"github.com/autovault/autovault/internal/syncutil"
	"github.com/autovault/autovault/internal/traces"
	"github.com/autovault/autovault/internal/validation"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrUnauthorized        = errors.New("not authorized for this transaction operation")
	ErrDeadlinePassed      = errors.New("deadline has passed")
	ErrAlreadyProcessed    = errors.New("action already processed")

	// ErrStaleStatus is returned by stores when a conditional status update
	// matched no row: the persisted status moved on since it was read.
	ErrStaleStatus = errors.New("transaction status changed concurrently")
)

// Status represents the state of a transaction.
type Status string

const (
	StatusPending          Status = "pending"           // Created, fees frozen, reference not yet issued
	StatusAwaitingPayment  Status = "awaiting_payment"  // Buyer must wire funds before the payment deadline
	StatusPaymentSubmitted Status = "payment_submitted" // Proof uploaded, waiting for admin review
	StatusPaymentVerified  Status = "payment_verified"  // Funds confirmed in the escrow account
	StatusInspectionPeriod Status = "inspection_period" // Vehicle handed over, buyer inspecting
	StatusDisputed         Status = "disputed"          // Open dispute pins the transaction here
	StatusCompleted        Status = "completed"         // Payout released to seller
	StatusCancelled        Status = "cancelled"         // Withdrawn or payment deadline missed
	StatusRefunded         Status = "refunded"          // Dispute resolved in the buyer's favor
)

// transitions is the canonical table of allowed status changes. Anything
// not listed here is rejected regardless of who asks.
var transitions = map[Status][]Status{
	StatusPending:          {StatusAwaitingPayment, StatusCancelled},
	StatusAwaitingPayment:  {StatusPaymentSubmitted, StatusCancelled},
	StatusPaymentSubmitted: {StatusPaymentVerified, StatusAwaitingPayment, StatusCancelled},
	StatusPaymentVerified:  {StatusInspectionPeriod},
	StatusInspectionPeriod: {StatusCompleted, StatusDisputed},
	StatusDisputed:         {StatusCompleted, StatusRefunded},
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the status is final.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Role identifies the capability of a caller.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleDealer Role = "dealer"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system" // scheduler and dispute callbacks
)

// Actor is the identity performing an operation. Every mutating call must
// carry one; role guards are enforced against it.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsAdmin() bool  { return a.Role == RoleAdmin }
func (a Actor) IsSystem() bool { return a.Role == RoleSystem }

// Transaction represents one sale attempt. Money fields are in cents and are
// frozen at creation; they never change after payment_verified.
type Transaction struct {
	ID               string `json:"id"`
	Code             string `json:"code"`             // human-facing, e.g. AV-7H2K9MXQ
	PaymentReference string `json:"paymentReference"` // wire transfer reference, e.g. PAY-X4J2R8Tx

	BuyerID   string `json:"buyerId"`
	SellerID  string `json:"sellerId"`
	DealerID  string `json:"dealerId,omitempty"`
	VehicleID string `json:"vehicleId"`

	AmountCents           int64  `json:"amountCents"`
	Currency              string `json:"currency"`
	ServiceFeeCents       int64  `json:"serviceFeeCents"`
	SellerFeeCents        int64  `json:"sellerFeeCents"`
	DealerCommissionCents int64  `json:"dealerCommissionCents"`
	VATCents              int64  `json:"vatCents"`
	TotalCents            int64  `json:"totalCents"`
	NetPayoutCents        int64  `json:"netPayoutCents"`

	Status Status `json:"status"`

	PaymentDeadline    *time.Time `json:"paymentDeadline,omitempty"`
	PaymentVerifiedAt  *time.Time `json:"paymentVerifiedAt,omitempty"`
	InspectionDeadline *time.Time `json:"inspectionDeadline,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	CancelledAt        *time.Time `json:"cancelledAt,omitempty"`
	CancelReason       string     `json:"cancelReason,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// HasDealer reports whether a dealer brokered the sale.
func (t *Transaction) HasDealer() bool { return t.DealerID != "" }

// ListFilter narrows List results. Zero values mean "no constraint".
type ListFilter struct {
	ActorID       string // matches buyer, seller, or dealer
	Status        Status
	CreatedBefore time.Time // cursor position, exclusive
	Limit         int
}

// Store persists transaction data.
type Store interface {
	Create(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	GetByCode(ctx context.Context, code string) (*Transaction, error)

	// Transition persists t only if the stored status still equals from.
	// Returns ErrStaleStatus when the conditional update matches no row.
	Transition(ctx context.Context, t *Transaction, from Status) error

	List(ctx context.Context, f ListFilter) ([]*Transaction, error)
	ListPaymentDeadlineElapsed(ctx context.Context, before time.Time, limit int) ([]*Transaction, error)
	ListInspectionElapsed(ctx context.Context, before time.Time, limit int) ([]*Transaction, error)
	SoftDelete(ctx context.Context, id string) error
}

// PaymentAuthorizer abstracts the payment subsystem so transaction doesn't
// import payment. Release and refund rows are created at most once per
// transaction; the storage constraint backs that up.
type PaymentAuthorizer interface {
	OpenDeposit(ctx context.Context, t *Transaction) error
	AuthorizeRelease(ctx context.Context, t *Transaction) error
	AuthorizeRefund(ctx context.Context, t *Transaction, amountCents int64) error
}

// InvoiceIssuer produces the invoice once funds are verified. Issue is
// idempotent per transaction.
type InvoiceIssuer interface {
	Issue(ctx context.Context, t *Transaction) (string, error)
}

// EventEmitter publishes domain events. Delivery never blocks or rolls back
// a committed transition.
type EventEmitter interface {
	Emit(event notify.Event)
}

// Deadlines holds the time windows applied to new transactions.
type Deadlines struct {
	Payment    time.Duration // wire transfer must be proven within this window
	Inspection time.Duration // buyer may dispute within this window after handover
}

// CreateRequest contains the parameters for creating a transaction.
type CreateRequest struct {
	BuyerID   string `json:"buyerId" binding:"required"`
	SellerID  string `json:"sellerId" binding:"required"`
	DealerID  string `json:"dealerId"`
	VehicleID string `json:"vehicleId" binding:"required"`
	Amount    string `json:"amount" binding:"required"` // decimal string, e.g. "10000.00"
	Currency  string `json:"currency" binding:"required"`
}

// Service implements the transaction state machine.
type Service struct {
	store     Store
	rates     ledger.Rates
	deadlines Deadlines
	payments  PaymentAuthorizer
	invoices  InvoiceIssuer
	events    EventEmitter
	locks     *syncutil.ContextShardedMutex
	logger    *slog.Logger
}

// NewService creates a transaction service.
func NewService(store Store, rates ledger.Rates, deadlines Deadlines, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		rates:     rates,
		deadlines: deadlines,
		locks:     syncutil.NewContextShardedMutex(),
		logger:    logger,
	}
}

// WithPayments wires the payment subsystem for deposit, release and refund rows.
func (s *Service) WithPayments(p PaymentAuthorizer) *Service {
	s.payments = p
	return s
}

// WithInvoices wires the invoice generator invoked on payment verification.
func (s *Service) WithInvoices(i InvoiceIssuer) *Service {
	s.invoices = i
	return s
}

// WithEvents wires the domain event emitter.
func (s *Service) WithEvents(e EventEmitter) *Service {
	s.events = e
	return s
}

// Create creates a transaction, freezes its fee breakdown, and moves it to
// awaiting_payment with a payment deadline.
func (s *Service) Create(ctx context.Context, req CreateRequest, actor Actor) (*Transaction, error) {
	if errs := validation.Validate(
		validation.Required("buyerId", req.BuyerID),
		validation.Required("sellerId", req.SellerID),
		validation.Required("vehicleId", req.VehicleID),
		validation.ValidAmount("amount", req.Amount),
		validation.ValidCurrency("currency", req.Currency),
	); len(errs) > 0 {
		return nil, errs
	}
	if req.BuyerID == req.SellerID {
		return nil, errors.New("buyer and seller cannot be the same party")
	}
	switch actor.Role {
	case RoleBuyer:
		if actor.ID != req.BuyerID {
			return nil, ErrUnauthorized
		}
	case RoleDealer, RoleAdmin:
		// Dealers open transactions on behalf of their buyers.
	default:
		return nil, ErrUnauthorized
	}

	amountCents, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	breakdown, err := ledger.Compute(amountCents, s.rates, req.DealerID != "")
	if err != nil {
		return nil, err
	}

	ctx, span := traces.StartSpan(ctx, "transaction.create",
		traces.ActorRole(string(actor.Role)),
		traces.AmountCents(breakdown.TotalCents),
	)
	defer span.End()

	now := time.Now()
	t := &Transaction{
		ID:                    idgen.WithPrefix("txn_"),
		Code:                  idgen.Code("AV"),
		PaymentReference:      idgen.Code("PAY"),
		BuyerID:               req.BuyerID,
		SellerID:              req.SellerID,
		DealerID:              req.DealerID,
		VehicleID:             req.VehicleID,
		AmountCents:           breakdown.AmountCents,
		Currency:              strings.ToUpper(req.Currency),
		ServiceFeeCents:       breakdown.ServiceFeeCents,
		SellerFeeCents:        breakdown.SellerFeeCents,
		DealerCommissionCents: breakdown.DealerCommissionCents,
		VATCents:              breakdown.VATCents,
		TotalCents:            breakdown.TotalCents,
		NetPayoutCents:        breakdown.NetPayoutCents,
		Status:                StatusPending,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	if s.payments != nil {
		// The deposit row is recreated on proof submission if this fails.
		if err := s.payments.OpenDeposit(ctx, t); err != nil {
			s.logger.Warn("failed to open deposit payment", "transaction_id", t.ID, "error", err)
		}
	}

	// Reference and deadline are in place, open the payment window.
	deadline := now.Add(s.deadlines.Payment)
	t.Status = StatusAwaitingPayment
	t.PaymentDeadline = &deadline
	t.UpdatedAt = time.Now()
	if err := s.persistTransition(ctx, t, StatusPending); err != nil {
		return nil, err
	}

	s.emit(notify.EventTransactionCreated, t, actor.ID, t.TotalCents, nil)
	return t, nil
}

// MarkPaymentSubmitted records that the buyer uploaded transfer proof.
// Invoked by the payment subsystem after the deposit row is updated.
func (s *Service) MarkPaymentSubmitted(ctx context.Context, id string, actor Actor) (*Transaction, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.ID != t.BuyerID && !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if err := validateFrom(t, StatusAwaitingPayment, StatusPaymentSubmitted); err != nil {
		return alreadyOr(t, err)
	}
	if t.PaymentDeadline != nil && time.Now().After(*t.PaymentDeadline) {
		return nil, ErrDeadlinePassed
	}

	t.Status = StatusPaymentSubmitted
	t.UpdatedAt = time.Now()
	if err := s.persistTransition(ctx, t, StatusAwaitingPayment); err != nil {
		return nil, err
	}

	s.emit(notify.EventPaymentSubmitted, t, actor.ID, t.TotalCents, nil)
	return t, nil
}

// MarkPaymentVerified confirms the bank transfer matched. Admin only.
// Issues the invoice after the transition commits.
func (s *Service) MarkPaymentVerified(ctx context.Context, id string, actor Actor) (*Transaction, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !actor.IsSystem() {
		return nil, ErrUnauthorized
	}
	if err := validateFrom(t, StatusPaymentSubmitted, StatusPaymentVerified); err != nil {
		return alreadyOr(t, err)
	}

	now := time.Now()
	t.Status = StatusPaymentVerified
	t.PaymentVerifiedAt = &now
	t.UpdatedAt = now
	if err := s.persistTransition(ctx, t, StatusPaymentSubmitted); err != nil {
		return nil, err
	}

	s.issueInvoice(ctx, t)
	s.emit(notify.EventPaymentVerified, t, actor.ID, t.TotalCents, nil)
	return t, nil
}

// RejectPayment sends the transaction back to awaiting_payment because the
// uploaded proof did not match. Admin only; the reason lands on the payment row.
func (s *Service) RejectPayment(ctx context.Context, id string, actor Actor, reason string) (*Transaction, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if err := validateFrom(t, StatusPaymentSubmitted, StatusAwaitingPayment); err != nil {
		return alreadyOr(t, err)
	}

	// The original payment deadline stays in force.
	t.Status = StatusAwaitingPayment
	t.UpdatedAt = time.Now()
	if err := s.persistTransition(ctx, t, StatusPaymentSubmitted); err != nil {
		return nil, err
	}

	s.emit(notify.EventPaymentRejected, t, actor.ID, t.TotalCents, map[string]string{"reason": reason})
	return t, nil
}

// StartInspection marks the vehicle as handed over and opens the inspection
// window. Seller or admin.
func (s *Service) StartInspection(ctx context.Context, id string, actor Actor) (*Transaction, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.ID != t.SellerID && !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if err := validateFrom(t, StatusPaymentVerified, StatusInspectionPeriod); err != nil {
		return alreadyOr(t, err)
	}

	now := time.Now()
	deadline := now.Add(s.deadlines.Inspection)
	t.Status = StatusInspectionPeriod
	t.InspectionDeadline = &deadline
	t.UpdatedAt = now
	if err := s.persistTransition(ctx, t, StatusPaymentVerified); err != nil {
		return nil, err
	}

	s.emit(notify.EventInspectionStarted, t, actor.ID, t.AmountCents, nil)
	return t, nil
}

// ConfirmDelivery completes the sale on the buyer's say-so and releases the
// payout to the seller.
func (s *Service) ConfirmDelivery(ctx context.Context, id string, actor Actor) (*Transaction, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.ID != t.BuyerID && !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if err := validateFrom(t, StatusInspectionPeriod, StatusCompleted); err != nil {
		return alreadyOr(t, err)
	}

	return s.complete(ctx, t, actor, nil)
}

// AutoComplete completes the sale because the inspection deadline elapsed
// with no dispute. Scheduler only.
func (s *Service) AutoComplete(ctx context.Context, id string) (*Transaction, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under lock: a buyer confirmation or dispute may have won the race.
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := validateFrom(t, StatusInspectionPeriod, StatusCompleted); err != nil {
		return nil, err
	}
	if t.InspectionDeadline == nil || time.Now().Before(*t.InspectionDeadline) {
		return nil, ErrInvalidTransition
	}

	return s.complete(ctx, t, Actor{Role: RoleSystem}, map[string]string{"trigger": "inspection_deadline"})
}

// complete releases the payout and persists the terminal state. Callers hold
// the per-transaction lock and have already validated the from-status.
func (s *Service) complete(ctx context.Context, t *Transaction, actor Actor, meta map[string]string) (*Transaction, error) {
	from := t.Status

	if s.payments != nil {
		if err := s.payments.AuthorizeRelease(ctx, t); err != nil {
			return nil, fmt.Errorf("failed to authorize release payout: %w", err)
		}
	}

	now := time.Now()
	t.Status = StatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	if err := s.persistTransition(ctx, t, from); err != nil {
		// The payout row exists but the status write lost. The unique
		// constraint on release payments keeps a retry from paying twice,
		// so surface for manual resolution instead of compensating blindly.
		s.logger.Error("CRITICAL: payout released but status update failed",
			"transaction_id", t.ID, "seller_id", t.SellerID, "error", err)
		return nil, fmt.Errorf("failed to complete transaction after payout (requires manual resolution): %w", err)
	}

	s.emit(notify.EventTransactionCompleted, t, actor.ID, t.NetPayoutCents, meta)
	return t, nil
}

// BeginDispute pins the transaction in disputed. Invoked by the dispute
// subsystem after the dispute row is created; only valid during inspection.
func (s *Service) BeginDispute(ctx context.Context, id string, actor Actor) (*Transaction, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.ID != t.BuyerID && actor.ID != t.SellerID && !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if err := validateFrom(t, StatusInspectionPeriod, StatusDisputed); err != nil {
		return nil, err
	}

	t.Status = StatusDisputed
	t.UpdatedAt = time.Now()
	if err := s.persistTransition(ctx, t, StatusInspectionPeriod); err != nil {
		return nil, err
	}

	s.emit(notify.EventDisputeOpened, t, actor.ID, t.AmountCents, nil)
	return t, nil
}

// CompleteFromDispute resolves a dispute in the seller's favor. Dispute
// subsystem callback only.
func (s *Service) CompleteFromDispute(ctx context.Context, id, resolutionType, resolverID string) (*Transaction, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := validateFrom(t, StatusDisputed, StatusCompleted); err != nil {
		return nil, err
	}

	return s.complete(ctx, t, Actor{ID: resolverID, Role: RoleSystem},
		map[string]string{"resolution": resolutionType})
}

// RefundFromDispute resolves a dispute in the buyer's favor and authorizes
// the refund. amountCents <= 0 means a full refund of the buyer's total.
func (s *Service) RefundFromDispute(ctx context.Context, id, resolutionType, resolverID string, amountCents int64) (*Transaction, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := validateFrom(t, StatusDisputed, StatusRefunded); err != nil {
		return nil, err
	}

	if amountCents <= 0 || amountCents > t.TotalCents {
		amountCents = t.TotalCents
	}
	if s.payments != nil {
		if err := s.payments.AuthorizeRefund(ctx, t, amountCents); err != nil {
			return nil, fmt.Errorf("failed to authorize refund: %w", err)
		}
	}

	now := time.Now()
	t.Status = StatusRefunded
	t.UpdatedAt = now
	if err := s.persistTransition(ctx, t, StatusDisputed); err != nil {
		s.logger.Error("CRITICAL: refund authorized but status update failed",
			"transaction_id", t.ID, "buyer_id", t.BuyerID, "error", err)
		return nil, fmt.Errorf("failed to refund transaction after authorization (requires manual resolution): %w", err)
	}

	s.emit(notify.EventTransactionRefunded, t, resolverID, amountCents,
		map[string]string{"resolution": resolutionType})
	return t, nil
}

// Cancel withdraws a transaction. Allowed for either party or an admin while
// no funds are verified; the scheduler cancels expired payment windows.
func (s *Service) Cancel(ctx context.Context, id string, actor Actor, reason string) (*Transaction, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.ID != t.BuyerID && actor.ID != t.SellerID && !actor.IsAdmin() && !actor.IsSystem() {
		return nil, ErrUnauthorized
	}
	from := t.Status
	if err := validateFrom(t, from, StatusCancelled); err != nil {
		return alreadyOr(t, err)
	}

	now := time.Now()
	t.Status = StatusCancelled
	t.CancelledAt = &now
	t.CancelReason = reason
	t.UpdatedAt = now
	if err := s.persistTransition(ctx, t, from); err != nil {
		return nil, err
	}

	s.emit(notify.EventTransactionCancelled, t, actor.ID, 0, map[string]string{"reason": reason})
	return t, nil
}

// Get returns a transaction by ID, visible only to its parties and admins.
// A non-party gets not-found so the ID's existence is not disclosed.
func (s *Service) Get(ctx context.Context, id string, actor Actor) (*Transaction, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.canView(t, actor) {
		return nil, ErrTransactionNotFound
	}
	return t, nil
}

// GetByCode returns a transaction by its human-facing code. Same visibility
// rule as Get: outsiders cannot distinguish a hidden code from a missing one.
func (s *Service) GetByCode(ctx context.Context, code string, actor Actor) (*Transaction, error) {
	t, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !s.canView(t, actor) {
		return nil, ErrTransactionNotFound
	}
	return t, nil
}

// List returns transactions visible to the actor, newest first. Non-admin
// callers are always scoped to their own transactions.
func (s *Service) List(ctx context.Context, f ListFilter, actor Actor) ([]*Transaction, error) {
	if !actor.IsAdmin() && !actor.IsSystem() {
		f.ActorID = actor.ID
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	return s.store.List(ctx, f)
}

// ListPaymentDeadlineElapsed returns awaiting_payment transactions whose
// deadline passed. Used by the scheduler.
func (s *Service) ListPaymentDeadlineElapsed(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	return s.store.ListPaymentDeadlineElapsed(ctx, before, limit)
}

// ListInspectionElapsed returns inspection_period transactions whose deadline
// passed. An open dispute pins a transaction in disputed, so these are
// guaranteed dispute-free. Used by the scheduler.
func (s *Service) ListInspectionElapsed(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	return s.store.ListInspectionElapsed(ctx, before, limit)
}

func (s *Service) canView(t *Transaction, actor Actor) bool {
	if actor.IsAdmin() || actor.IsSystem() {
		return true
	}
	return actor.ID == t.BuyerID || actor.ID == t.SellerID || actor.ID == t.DealerID
}

// validateFrom rejects a request whose from-status no longer matches, keeping
// terminal-state retries distinguishable from plain conflicts.
func validateFrom(t *Transaction, from, to Status) error {
	if t.Status == to {
		return ErrAlreadyProcessed
	}
	if t.Status != from {
		return ErrInvalidTransition
	}
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}
	return nil
}

// alreadyOr hands the current row back alongside ErrAlreadyProcessed so a
// retried request can be answered with the state it found. Callers must have
// cleared the actor guard before reaching for it.
func alreadyOr(t *Transaction, err error) (*Transaction, error) {
	if errors.Is(err, ErrAlreadyProcessed) {
		return t, err
	}
	return nil, err
}

// persistTransition writes the new status conditionally and maps a lost race
// to the conflict error the caller surfaces.
func (s *Service) persistTransition(ctx context.Context, t *Transaction, from Status) error {
	ctx, span := traces.StartSpan(ctx, "transaction.transition",
		traces.TransactionID(t.ID),
		traces.TransactionStatus(string(t.Status)),
	)
	defer span.End()

	err := s.store.Transition(ctx, t, from)
	if err == nil {
		metrics.TransitionsTotal.WithLabelValues(string(from), string(t.Status)).Inc()
		s.logger.Info("transaction transitioned",
			"transaction_id", t.ID, "from", from, "to", t.Status)
		return nil
	}
	if errors.Is(err, ErrStaleStatus) {
		metrics.TransitionConflictsTotal.Inc()
		if _, getErr := s.store.Get(ctx, t.ID); errors.Is(getErr, ErrTransactionNotFound) {
			return ErrTransactionNotFound
		}
		return ErrInvalidTransition
	}
	return fmt.Errorf("failed to persist transition: %w", err)
}

// issueInvoice asks the invoice generator for a number. Failures are retried
// and then logged; they never roll back the verified payment.
func (s *Service) issueInvoice(ctx context.Context, t *Transaction) {
	if s.invoices == nil {
		return
	}
	var number string
	err := retry.Do(ctx, 3, 250*time.Millisecond, func() error {
		var issueErr error
		number, issueErr = s.invoices.Issue(ctx, t)
		return issueErr
	})
	if err != nil {
		s.logger.Error("invoice issuance failed", "transaction_id", t.ID, "error", err)
		return
	}
	s.logger.Info("invoice issued", "transaction_id", t.ID, "invoice_number", number)
}

func (s *Service) emit(eventType notify.EventType, t *Transaction, actorID string, amountCents int64, meta map[string]string) {
	if s.events == nil {
		return
	}
	s.events.Emit(notify.Event{
		Type:          eventType,
		TransactionID: t.ID,
		ActorID:       actorID,
		AmountCents:   amountCents,
		Meta:          meta,
	})
}
