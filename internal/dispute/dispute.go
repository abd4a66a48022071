// Package dispute runs the secondary state machine scoped to a transaction.
//
// A dispute is raised during the inspection window and immediately pins the
// parent transaction in disputed, which suspends the scheduler's auto-release.
// At most one open dispute exists per transaction. Resolution feeds back into
// the transaction state machine as a terminal transition.
package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/autovault/autovault/internal/idgen"
	"github.com/autovault/autovault/internal/ledger"
	"github.com/autovault/autovault/internal/metrics"
	"github.com/autovault/autovault/internal/notify"
	"github.com/autovault/autovault/internal/transaction"
	"github.com/autovault/autovault/internal/validation"
)

var (
	ErrDisputeNotFound    = errors.New("dispute not found")
	ErrDisputeAlreadyOpen = errors.New("a dispute is already open for this transaction")
	ErrInvalidStatus      = errors.New("invalid dispute status for this operation")
	ErrInvalidResolution  = errors.New("invalid resolution type")
)

// Status represents the state of a dispute.
type Status string

const (
	StatusOpen             Status = "open"
	StatusInReview         Status = "in_review"
	StatusInvestigating    Status = "investigating"
	StatusAwaitingResponse Status = "awaiting_response"
	StatusResolved         Status = "resolved"
	StatusClosed           Status = "closed"
	StatusEscalated        Status = "escalated"
)

// IsTerminal returns true if the dispute is settled.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// transitions is the allowed dispute status flow. Escalation is not a dead
// end: a senior admin can still resolve or close an escalated dispute.
var transitions = map[Status][]Status{
	StatusOpen:             {StatusInReview, StatusEscalated},
	StatusInReview:         {StatusInvestigating, StatusAwaitingResponse, StatusEscalated},
	StatusInvestigating:    {StatusAwaitingResponse, StatusEscalated},
	StatusAwaitingResponse: {StatusInvestigating, StatusEscalated},
}

func canTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// ResolutionType decides the parent transaction's terminal state.
type ResolutionType string

const (
	ResolutionRefundBuyer   ResolutionType = "refund_buyer"   // full refund, transaction refunded
	ResolutionReleaseSeller ResolutionType = "release_seller" // payout released, transaction completed
	ResolutionPartialRefund ResolutionType = "partial_refund" // partial amount back, transaction refunded
	ResolutionRelistVehicle ResolutionType = "relist_vehicle" // sale unwound, vehicle back on the market
	ResolutionDismissed     ResolutionType = "dismissed"      // dispute without merit, transaction completed
)

func validResolution(r ResolutionType) bool {
	switch r {
	case ResolutionRefundBuyer, ResolutionReleaseSeller, ResolutionPartialRefund,
		ResolutionRelistVehicle, ResolutionDismissed:
		return true
	}
	return false
}

// Dispute represents one disagreement over a transaction.
type Dispute struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId"`
	RaisedBy      string `json:"raisedBy"`
	RaisedByRole  string `json:"raisedByRole"`
	Type          string `json:"type"` // e.g. "not_as_described", "undisclosed_damage"
	Reason        string `json:"reason"`
	Status        Status `json:"status"`

	Resolution        string         `json:"resolution,omitempty"`
	ResolutionType    ResolutionType `json:"resolutionType,omitempty"`
	RefundAmountCents int64          `json:"refundAmountCents,omitempty"`
	ResolvedBy        string         `json:"resolvedBy,omitempty"`
	ResolvedAt        *time.Time     `json:"resolvedAt,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"-"`
}

// Store persists dispute data. Create must return ErrDisputeAlreadyOpen when
// an undeleted, unresolved dispute already exists for the transaction.
type Store interface {
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, id string) (*Dispute, error)
	GetOpenByTransaction(ctx context.Context, transactionID string) (*Dispute, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]*Dispute, error)
	Update(ctx context.Context, d *Dispute) error
	SoftDelete(ctx context.Context, id string) error
}

// Transactions is the slice of the state machine disputes drive.
// Implemented by *transaction.Service.
type Transactions interface {
	Get(ctx context.Context, id string, actor transaction.Actor) (*transaction.Transaction, error)
	BeginDispute(ctx context.Context, id string, actor transaction.Actor) (*transaction.Transaction, error)
	CompleteFromDispute(ctx context.Context, id, resolutionType, resolverID string) (*transaction.Transaction, error)
	RefundFromDispute(ctx context.Context, id, resolutionType, resolverID string, amountCents int64) (*transaction.Transaction, error)
}

// OpenRequest contains the parameters for raising a dispute.
type OpenRequest struct {
	Type   string `json:"type" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// ResolveRequest contains the parameters for settling a dispute.
type ResolveRequest struct {
	ResolutionType ResolutionType `json:"resolutionType" binding:"required"`
	Resolution     string         `json:"resolution" binding:"required"`
	RefundAmount   string         `json:"refundAmount,omitempty"` // decimal, partial_refund only
}

// Service implements dispute handling.
type Service struct {
	store  Store
	txns   Transactions
	events transaction.EventEmitter
	logger *slog.Logger
}

// NewService creates a dispute service.
func NewService(store Store, txns Transactions, logger *slog.Logger) *Service {
	return &Service{store: store, txns: txns, logger: logger}
}

// WithEvents wires the domain event emitter.
func (s *Service) WithEvents(e transaction.EventEmitter) *Service {
	s.events = e
	return s
}

// Open raises a dispute and pins the parent transaction in disputed. The
// dispute row is created first so the uniqueness guard settles concurrent
// attempts; the parent transition follows, compensated on failure.
func (s *Service) Open(ctx context.Context, transactionID string, actor transaction.Actor, req OpenRequest) (*Dispute, error) {
	if errs := validation.Validate(
		validation.Required("type", req.Type),
		validation.Required("reason", req.Reason),
		validation.MaxLen("reason", req.Reason, 2000),
	); len(errs) > 0 {
		return nil, errs
	}

	// Visibility check doubles as the party guard.
	if _, err := s.txns.Get(ctx, transactionID, actor); err != nil {
		return nil, err
	}
	if _, err := s.store.GetOpenByTransaction(ctx, transactionID); err == nil {
		return nil, ErrDisputeAlreadyOpen
	}

	now := time.Now()
	d := &Dispute{
		ID:            idgen.WithPrefix("dsp_"),
		TransactionID: transactionID,
		RaisedBy:      actor.ID,
		RaisedByRole:  string(actor.Role),
		Type:          req.Type,
		Reason:        req.Reason,
		Status:        StatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, err
	}

	if _, err := s.txns.BeginDispute(ctx, transactionID, actor); err != nil {
		// The parent was not in its inspection window (or a concurrent
		// transition won). Take the dispute row back out.
		if delErr := s.store.SoftDelete(ctx, d.ID); delErr != nil {
			s.logger.Error("failed to remove dispute after rejected transition",
				"dispute_id", d.ID, "transaction_id", transactionID, "error", delErr)
		}
		return nil, err
	}

	metrics.DisputesTotal.WithLabelValues("opened").Inc()
	return d, nil
}

// Get returns a dispute, visible to the transaction's parties and admins.
func (s *Service) Get(ctx context.Context, id string, actor transaction.Actor) (*Dispute, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.txns.Get(ctx, d.TransactionID, actor); err != nil {
		return nil, ErrDisputeNotFound
	}
	return d, nil
}

// ListByTransaction returns all disputes ever raised on a transaction.
func (s *Service) ListByTransaction(ctx context.Context, transactionID string, actor transaction.Actor) ([]*Dispute, error) {
	if _, err := s.txns.Get(ctx, transactionID, actor); err != nil {
		return nil, err
	}
	return s.store.ListByTransaction(ctx, transactionID)
}

// UpdateStatus moves a dispute through its review flow. Admin only; terminal
// states are reached via Resolve.
func (s *Service) UpdateStatus(ctx context.Context, id string, actor transaction.Actor, to Status) (*Dispute, error) {
	if !actor.IsAdmin() {
		return nil, transaction.ErrUnauthorized
	}

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status.IsTerminal() {
		return nil, ErrInvalidStatus
	}
	if !canTransition(d.Status, to) {
		return nil, ErrInvalidStatus
	}

	from := d.Status
	d.Status = to
	d.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to update dispute: %w", err)
	}

	if to == StatusEscalated {
		metrics.DisputesTotal.WithLabelValues("escalated").Inc()
	}
	s.logger.Info("dispute status changed",
		"dispute_id", d.ID, "transaction_id", d.TransactionID, "from", from, "to", to)
	return d, nil
}

// Resolve settles a dispute and drives the parent transaction to its
// terminal state. Admin only.
func (s *Service) Resolve(ctx context.Context, id string, actor transaction.Actor, req ResolveRequest) (*Dispute, error) {
	if !actor.IsAdmin() {
		return nil, transaction.ErrUnauthorized
	}
	if !validResolution(req.ResolutionType) {
		return nil, ErrInvalidResolution
	}
	if errs := validation.Validate(
		validation.Required("resolution", req.Resolution),
		validation.MaxLen("resolution", req.Resolution, 2000),
	); len(errs) > 0 {
		return nil, errs
	}

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status.IsTerminal() {
		return nil, ErrInvalidStatus
	}

	refundCents, err := refundAmountFor(req)
	if err != nil {
		return nil, err
	}

	// Drive the parent first; if its transition is rejected the dispute
	// stays unresolved and can be retried.
	switch req.ResolutionType {
	case ResolutionReleaseSeller, ResolutionDismissed:
		_, err = s.txns.CompleteFromDispute(ctx, d.TransactionID, string(req.ResolutionType), actor.ID)
	case ResolutionRefundBuyer, ResolutionPartialRefund, ResolutionRelistVehicle:
		_, err = s.txns.RefundFromDispute(ctx, d.TransactionID, string(req.ResolutionType), actor.ID, refundCents)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	d.Status = StatusResolved
	d.Resolution = req.Resolution
	d.ResolutionType = req.ResolutionType
	d.RefundAmountCents = refundCents
	d.ResolvedBy = actor.ID
	d.ResolvedAt = &now
	d.UpdatedAt = now
	if err := s.store.Update(ctx, d); err != nil {
		// The parent already reached its terminal state; the dispute row is
		// catch-up bookkeeping at this point.
		s.logger.Error("CRITICAL: transaction settled but dispute update failed",
			"dispute_id", d.ID, "transaction_id", d.TransactionID, "error", err)
		return nil, fmt.Errorf("failed to update dispute after settlement (requires manual resolution): %w", err)
	}

	metrics.DisputesTotal.WithLabelValues("resolved").Inc()
	if s.events != nil {
		s.events.Emit(notify.Event{
			Type:          notify.EventDisputeResolved,
			TransactionID: d.TransactionID,
			ActorID:       actor.ID,
			AmountCents:   refundCents,
			Meta: map[string]string{
				"dispute_id": d.ID,
				"resolution": string(req.ResolutionType),
			},
		})
	}
	return d, nil
}

// Close dismisses a dispute without merit. Shorthand for resolving with
// dismissed, but the dispute record carries the closed status.
func (s *Service) Close(ctx context.Context, id string, actor transaction.Actor, note string) (*Dispute, error) {
	if !actor.IsAdmin() {
		return nil, transaction.ErrUnauthorized
	}

	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status.IsTerminal() {
		return nil, ErrInvalidStatus
	}

	if _, err := s.txns.CompleteFromDispute(ctx, d.TransactionID, string(ResolutionDismissed), actor.ID); err != nil {
		return nil, err
	}

	now := time.Now()
	d.Status = StatusClosed
	d.Resolution = note
	d.ResolutionType = ResolutionDismissed
	d.ResolvedBy = actor.ID
	d.ResolvedAt = &now
	d.UpdatedAt = now
	if err := s.store.Update(ctx, d); err != nil {
		s.logger.Error("CRITICAL: transaction settled but dispute update failed",
			"dispute_id", d.ID, "transaction_id", d.TransactionID, "error", err)
		return nil, fmt.Errorf("failed to close dispute after settlement (requires manual resolution): %w", err)
	}

	metrics.DisputesTotal.WithLabelValues("closed").Inc()
	return d, nil
}

// refundAmountFor computes the refund in cents for the resolution. Partial
// refunds require an explicit amount; full refunds pass zero and let the
// state machine fall back to the buyer's total.
func refundAmountFor(req ResolveRequest) (int64, error) {
	if req.ResolutionType != ResolutionPartialRefund {
		return 0, nil
	}
	if req.RefundAmount == "" {
		return 0, ErrInvalidResolution
	}
	cents, err := ledger.ParseAmount(req.RefundAmount)
	if err != nil {
		return 0, ErrInvalidResolution
	}
	return cents, nil
}
