package payment

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
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

func (c *captureEmitter) count(t notify.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newHarness wires a payment service to a real transaction service over
// in-memory stores, the same shape the server assembles.
func newHarness() (*Service, *transaction.Service, *captureEmitter) {
	logger := testLogger()
	events := &captureEmitter{}
	rates := ledger.Rates{BuyerFeeBps: 250, SellerFeeBps: 150, DealerCommissionBps: 300, VATBps: 1900}
	deadlines := transaction.Deadlines{Payment: 48 * time.Hour, Inspection: 72 * time.Hour}

	txns := transaction.NewService(transaction.NewMemoryStore(), rates, deadlines, logger).
		WithEvents(events)
	pays := NewService(NewMemoryStore(), txns, logger)
	txns.WithPayments(pays)
	return pays, txns, events
}

func buyer() transaction.Actor {
	return transaction.Actor{ID: "usr_buyer", Role: transaction.RoleBuyer}
}

func admin() transaction.Actor {
	return transaction.Actor{ID: "usr_admin", Role: transaction.RoleAdmin}
}

func createTransaction(t *testing.T, txns *transaction.Service) *transaction.Transaction {
	t.Helper()
	tx, err := txns.Create(context.Background(), transaction.CreateRequest{
		BuyerID:   "usr_buyer",
		SellerID:  "usr_seller",
		DealerID:  "dlr_1",
		VehicleID: "veh_1",
		Amount:    "10000.00",
		Currency:  "EUR",
	}, buyer())
	require.NoError(t, err)
	return tx
}

func TestSubmitProof_RecordsEvidenceAndAdvancesTransaction(t *testing.T) {
	pays, txns, _ := newHarness()
	ctx := context.Background()
	tx := createTransaction(t, txns)

	p, err := pays.SubmitProof(ctx, tx.ID, buyer(), SubmitProofRequest{
		Evidence: "https://docs.example/proof-123.pdf",
		Notes:    "wired this morning",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, p.Status)
	assert.Equal(t, TypeDeposit, p.Type)
	assert.Equal(t, tx.TotalCents, p.AmountCents)
	assert.Len(t, p.EvidenceHash, 64)

	got, err := txns.Get(ctx, tx.ID, admin())
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPaymentSubmitted, got.Status)
}

func TestSubmitProof_RequiresEvidence(t *testing.T) {
	pays, txns, _ := newHarness()
	tx := createTransaction(t, txns)

	_, err := pays.SubmitProof(context.Background(), tx.ID, buyer(), SubmitProofRequest{})
	assert.ErrorIs(t, err, ErrEvidenceRequired)
}

func TestSubmitProof_RevertedWhenTransitionFails(t *testing.T) {
	pays, txns, _ := newHarness()
	ctx := context.Background()
	tx := createTransaction(t, txns)

	// Cancel underneath the submission so the transition is rejected.
	_, err := txns.Cancel(ctx, tx.ID, buyer(), "withdrawn")
	require.NoError(t, err)

	_, err = pays.SubmitProof(ctx, tx.ID, buyer(), SubmitProofRequest{Evidence: "proof"})
	assert.Error(t, err)

	p, err := pays.store.GetByTransactionAndType(ctx, tx.ID, TypeDeposit)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Empty(t, p.EvidenceHash)
}

func TestVerify_HappyPath(t *testing.T) {
	pays, txns, _ := newHarness()
	ctx := context.Background()
	tx := createTransaction(t, txns)

	_, err := pays.SubmitProof(ctx, tx.ID, buyer(), SubmitProofRequest{Evidence: "proof"})
	require.NoError(t, err)

	p, err := pays.Verify(ctx, tx.ID, admin(), "matches statement line 42")
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, p.Status)
	assert.Equal(t, "usr_admin", p.VerifiedBy)
	assert.NotNil(t, p.VerifiedAt)

	got, err := txns.Get(ctx, tx.ID, admin())
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPaymentVerified, got.Status)
}

func TestVerify_IdempotentOnRetry(t *testing.T) {
	pays, txns, events := newHarness()
	ctx := context.Background()
	tx := createTransaction(t, txns)

	_, err := pays.SubmitProof(ctx, tx.ID, buyer(), SubmitProofRequest{Evidence: "proof"})
	require.NoError(t, err)

	first, err := pays.Verify(ctx, tx.ID, admin(), "")
	require.NoError(t, err)

	// A network retry of the same call succeeds without changing anything.
	second, err := pays.Verify(ctx, tx.ID, admin(), "")
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.VerifiedAt, second.VerifiedAt)
	assert.Equal(t, 1, events.count(notify.EventPaymentVerified))
}

func TestVerify_RequiresSubmittedPayment(t *testing.T) {
	pays, txns, _ := newHarness()
	tx := createTransaction(t, txns)

	// Deposit exists but no proof was uploaded yet.
	_, err := pays.Verify(context.Background(), tx.ID, admin(), "")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestReject_ReturnsTransactionToAwaitingPayment(t *testing.T) {
	pays, txns, _ := newHarness()
	ctx := context.Background()
	tx := createTransaction(t, txns)

	_, err := pays.SubmitProof(ctx, tx.ID, buyer(), SubmitProofRequest{Evidence: "blurry screenshot"})
	require.NoError(t, err)

	_, err = pays.Reject(ctx, tx.ID, admin(), "")
	assert.ErrorIs(t, err, ErrReasonRequired)

	p, err := pays.Reject(ctx, tx.ID, admin(), "amount does not match")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, p.Status)
	assert.Equal(t, "amount does not match", p.RejectReason)

	got, err := txns.Get(ctx, tx.ID, admin())
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusAwaitingPayment, got.Status)

	// The buyer can try again with better evidence.
	p, err = pays.SubmitProof(ctx, tx.ID, buyer(), SubmitProofRequest{Evidence: "bank confirmation pdf"})
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, p.Status)
	assert.Empty(t, p.RejectReason)
}

func TestAuthorizeRelease_ExactlyOnce(t *testing.T) {
	pays, txns, _ := newHarness()
	ctx := context.Background()
	tx := createTransaction(t, txns)

	// Hammer the authorization concurrently; the uniqueness guard must let
	// exactly one release row through.
	var wg sync.WaitGroup
	var successes, blocked int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pays.AuthorizeRelease(ctx, tx)
			switch {
			case err == nil:
				atomic.AddInt32(&successes, 1)
			case err == ErrLedgerInconsistency:
				atomic.AddInt32(&blocked, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&successes))
	assert.Equal(t, int32(19), atomic.LoadInt32(&blocked))

	all, err := pays.store.ListByTransaction(ctx, tx.ID)
	require.NoError(t, err)
	releases := 0
	for _, p := range all {
		if p.Type == TypeRelease {
			releases++
			assert.Equal(t, tx.NetPayoutCents, p.AmountCents)
		}
	}
	assert.Equal(t, 1, releases)
}

func TestAuthorizeRefund_ExactlyOnce(t *testing.T) {
	pays, txns, _ := newHarness()
	ctx := context.Background()
	tx := createTransaction(t, txns)

	require.NoError(t, pays.AuthorizeRefund(ctx, tx, tx.TotalCents))
	err := pays.AuthorizeRefund(ctx, tx, tx.TotalCents)
	assert.ErrorIs(t, err, ErrLedgerInconsistency)
}

func TestAuthorizeRelease_CreatesFeeAndCommissionRows(t *testing.T) {
	pays, txns, _ := newHarness()
	ctx := context.Background()
	tx := createTransaction(t, txns)

	require.NoError(t, pays.AuthorizeRelease(ctx, tx))

	all, err := pays.store.ListByTransaction(ctx, tx.ID)
	require.NoError(t, err)

	byType := map[Type]*Payment{}
	for _, p := range all {
		byType[p.Type] = p
	}
	require.Contains(t, byType, TypeFee)
	require.Contains(t, byType, TypeCommission)
	assert.Equal(t, tx.ServiceFeeCents+tx.SellerFeeCents+tx.VATCents, byType[TypeFee].AmountCents)
	assert.Equal(t, tx.DealerCommissionCents, byType[TypeCommission].AmountCents)
}

func TestHashEvidence_Deterministic(t *testing.T) {
	a := hashEvidence("proof-123")
	b := hashEvidence("proof-123")
	c := hashEvidence("proof-124")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
