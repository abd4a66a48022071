package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autovault/autovault/internal/ledger"
	"github.com/autovault/autovault/internal/notify"
	"github.com/autovault/autovault/internal/transaction"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *captureEmitter) Emit(event notify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureEmitter) count(eventType notify.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(deadlines transaction.Deadlines) (*transaction.Service, *captureEmitter) {
	rates := ledger.Rates{BuyerFeeBps: 250, SellerFeeBps: 150, DealerCommissionBps: 300, VATBps: 1900}
	events := &captureEmitter{}
	svc := transaction.NewService(transaction.NewMemoryStore(), rates, deadlines, testLogger()).
		WithEvents(events)
	return svc, events
}

func createTransaction(t *testing.T, svc *transaction.Service) *transaction.Transaction {
	t.Helper()
	tx, err := svc.Create(context.Background(), transaction.CreateRequest{
		BuyerID:   "usr_buyer",
		SellerID:  "usr_seller",
		VehicleID: "veh_1",
		Amount:    "10000.00",
		Currency:  "EUR",
	}, transaction.Actor{ID: "usr_buyer", Role: transaction.RoleBuyer})
	require.NoError(t, err)
	return tx
}

func TestSweep_CancelsExpiredPaymentDeadline(t *testing.T) {
	// A negative window puts the deadline in the past at creation time.
	svc, events := newTestService(transaction.Deadlines{Payment: -time.Hour, Inspection: 72 * time.Hour})
	tx := createTransaction(t, svc)

	sweeper := NewSweeper(svc, time.Minute, testLogger())
	sweeper.Sweep(context.Background())

	got, err := svc.Get(context.Background(), tx.ID, transaction.Actor{Role: transaction.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusCancelled, got.Status)
	assert.Equal(t, "payment deadline elapsed", got.CancelReason)
	require.NotNil(t, got.CancelledAt)

	// A second pass finds nothing to do.
	sweeper.Sweep(context.Background())
	assert.Equal(t, 1, events.count(notify.EventTransactionCancelled))
}

func TestSweep_AutoCompletesElapsedInspection(t *testing.T) {
	svc, events := newTestService(transaction.Deadlines{Payment: 48 * time.Hour, Inspection: -time.Hour})
	tx := createTransaction(t, svc)

	ctx := context.Background()
	buyer := transaction.Actor{ID: "usr_buyer", Role: transaction.RoleBuyer}
	seller := transaction.Actor{ID: "usr_seller", Role: transaction.RoleSeller}
	admin := transaction.Actor{ID: "usr_admin", Role: transaction.RoleAdmin}

	_, err := svc.MarkPaymentSubmitted(ctx, tx.ID, buyer)
	require.NoError(t, err)
	_, err = svc.MarkPaymentVerified(ctx, tx.ID, admin)
	require.NoError(t, err)
	_, err = svc.StartInspection(ctx, tx.ID, seller)
	require.NoError(t, err)

	sweeper := NewSweeper(svc, time.Minute, testLogger())
	sweeper.Sweep(ctx)

	got, err := svc.Get(ctx, tx.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	sweeper.Sweep(ctx)
	assert.Equal(t, 1, events.count(notify.EventTransactionCompleted))
}

func TestSweep_LeavesDisputedTransactionAlone(t *testing.T) {
	svc, _ := newTestService(transaction.Deadlines{Payment: 48 * time.Hour, Inspection: -time.Hour})
	tx := createTransaction(t, svc)

	ctx := context.Background()
	buyer := transaction.Actor{ID: "usr_buyer", Role: transaction.RoleBuyer}
	seller := transaction.Actor{ID: "usr_seller", Role: transaction.RoleSeller}
	admin := transaction.Actor{ID: "usr_admin", Role: transaction.RoleAdmin}

	_, err := svc.MarkPaymentSubmitted(ctx, tx.ID, buyer)
	require.NoError(t, err)
	_, err = svc.MarkPaymentVerified(ctx, tx.ID, admin)
	require.NoError(t, err)
	_, err = svc.StartInspection(ctx, tx.ID, seller)
	require.NoError(t, err)
	_, err = svc.BeginDispute(ctx, tx.ID, buyer)
	require.NoError(t, err)

	NewSweeper(svc, time.Minute, testLogger()).Sweep(ctx)

	got, err := svc.Get(ctx, tx.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusDisputed, got.Status)
}

func TestStartStop(t *testing.T) {
	svc, _ := newTestService(transaction.Deadlines{Payment: 48 * time.Hour, Inspection: 72 * time.Hour})
	sweeper := NewSweeper(svc, 10*time.Millisecond, testLogger())

	done := make(chan struct{})
	go func() {
		sweeper.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, sweeper.Running, time.Second, 5*time.Millisecond)
	sweeper.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.False(t, sweeper.Running())
}
