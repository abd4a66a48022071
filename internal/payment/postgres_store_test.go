package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autovault/autovault/internal/idgen"
	"github.com/autovault/autovault/internal/testutil"
	"github.com/autovault/autovault/internal/transaction"
)

// seedTransaction satisfies the foreign key from payments.
func seedTransaction(t *testing.T, store *transaction.PostgresStore) string {
	t.Helper()
	now := time.Now().UTC()
	tx := &transaction.Transaction{
		ID:               idgen.WithPrefix("txn_"),
		Code:             idgen.Code("AV"),
		PaymentReference: idgen.Code("PAY"),
		BuyerID:          "usr_buyer",
		SellerID:         "usr_seller",
		VehicleID:        "veh_1",
		AmountCents:      1_000_000,
		Currency:         "EUR",
		TotalCents:       1_032_600,
		NetPayoutCents:   985_000,
		Status:           transaction.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, store.Create(context.Background(), tx))
	return tx.ID
}

func pgPayment(transactionID string, typ Type) *Payment {
	now := time.Now().UTC()
	return &Payment{
		ID:            idgen.WithPrefix("pay_"),
		TransactionID: transactionID,
		Type:          typ,
		AmountCents:   985_000,
		Currency:      "EUR",
		Status:        StatusCompleted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestPostgresStore_DuplicateReleaseBlocked(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	txnID := seedTransaction(t, transaction.NewPostgresStore(db))
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pgPayment(txnID, TypeRelease)))

	// The unique index is the last line of defense against a double payout.
	err := store.Create(ctx, pgPayment(txnID, TypeRelease))
	assert.ErrorIs(t, err, ErrDuplicatePayment)

	// A refund row for the same transaction is a different movement.
	require.NoError(t, store.Create(ctx, pgPayment(txnID, TypeRefund)))
}

func TestPostgresStore_BookkeepingRowsNotUnique(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	txnID := seedTransaction(t, transaction.NewPostgresStore(db))
	ctx := context.Background()

	// Fee rows are bookkeeping; the partial index does not apply to them.
	require.NoError(t, store.Create(ctx, pgPayment(txnID, TypeFee)))
	require.NoError(t, store.Create(ctx, pgPayment(txnID, TypeFee)))
}

func TestPostgresStore_UpdateAndList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	txnID := seedTransaction(t, transaction.NewPostgresStore(db))
	ctx := context.Background()

	dep := pgPayment(txnID, TypeDeposit)
	dep.Status = StatusPending
	dep.AmountCents = 1_032_600
	require.NoError(t, store.Create(ctx, dep))

	dep.Status = StatusSubmitted
	dep.EvidenceHash = "abc123"
	dep.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.Update(ctx, dep))

	got, err := store.GetByTransactionAndType(ctx, txnID, TypeDeposit)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, got.Status)
	assert.Equal(t, "abc123", got.EvidenceHash)

	all, err := store.ListByTransaction(ctx, txnID)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	missing := pgPayment(txnID, TypeRefund)
	err = store.Update(ctx, missing)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}
