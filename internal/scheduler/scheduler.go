// Package scheduler runs the periodic deadline sweep.
//
// Two time-driven triggers exist: a missed payment deadline cancels the
// transaction, and an elapsed inspection window auto-completes it. The sweep
// is idempotent: every firing goes through the state machine's status guard,
// so re-running after a transition already happened does nothing.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/autovault/autovault/internal/metrics"
	"github.com/autovault/autovault/internal/transaction"
)

// sweepBatch caps how many transactions one sweep touches per trigger.
const sweepBatch = 100

// Transactions is the slice of the state machine the sweeper drives.
// Implemented by *transaction.Service.
type Transactions interface {
	ListPaymentDeadlineElapsed(ctx context.Context, before time.Time, limit int) ([]*transaction.Transaction, error)
	ListInspectionElapsed(ctx context.Context, before time.Time, limit int) ([]*transaction.Transaction, error)
	Cancel(ctx context.Context, id string, actor transaction.Actor, reason string) (*transaction.Transaction, error)
	AutoComplete(ctx context.Context, id string) (*transaction.Transaction, error)
}

// Sweeper periodically fires deadline-driven transitions.
type Sweeper struct {
	txns     Transactions
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewSweeper creates a deadline sweeper.
func NewSweeper(txns Transactions, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		txns:     txns,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in deadline sweep", "panic", fmt.Sprint(r))
		}
	}()
	s.Sweep(ctx)
}

// Sweep runs one pass over both deadline triggers. Exported so tests and
// operational tooling can force a pass without waiting for the ticker.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now()
	s.cancelExpiredPayments(ctx, now)
	s.completeElapsedInspections(ctx, now)
}

// cancelExpiredPayments cancels transactions whose payment window closed
// with no proof submitted.
func (s *Sweeper) cancelExpiredPayments(ctx context.Context, now time.Time) {
	expired, err := s.txns.ListPaymentDeadlineElapsed(ctx, now, sweepBatch)
	if err != nil {
		s.logger.Warn("failed to list expired payment deadlines", "error", err)
		return
	}

	for _, t := range expired {
		_, err := s.txns.Cancel(ctx, t.ID,
			transaction.Actor{Role: transaction.RoleSystem}, "payment deadline elapsed")
		if err != nil {
			// A buyer submission or manual cancellation won the race.
			s.logger.Debug("skipped expired payment cancellation",
				"transaction_id", t.ID, "error", err)
			continue
		}
		metrics.SweepFiringsTotal.WithLabelValues("payment_expired").Inc()
		s.logger.Info("cancelled transaction after missed payment deadline",
			"transaction_id", t.ID,
			"payment_deadline", t.PaymentDeadline,
			"buyer_id", t.BuyerID,
		)
	}
}

// completeElapsedInspections auto-releases transactions whose inspection
// window closed without a dispute. An open dispute pins its transaction in
// disputed, so the inspection_period scan never returns it.
func (s *Sweeper) completeElapsedInspections(ctx context.Context, now time.Time) {
	elapsed, err := s.txns.ListInspectionElapsed(ctx, now, sweepBatch)
	if err != nil {
		s.logger.Warn("failed to list elapsed inspection windows", "error", err)
		return
	}

	for _, t := range elapsed {
		_, err := s.txns.AutoComplete(ctx, t.ID)
		if err != nil {
			s.logger.Debug("skipped inspection auto-completion",
				"transaction_id", t.ID, "error", err)
			continue
		}
		metrics.SweepFiringsTotal.WithLabelValues("inspection_elapsed").Inc()
		s.logger.Info("auto-completed transaction after inspection window",
			"transaction_id", t.ID,
			"inspection_deadline", t.InspectionDeadline,
			"seller_id", t.SellerID,
		)
	}
}
