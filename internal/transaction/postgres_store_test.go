package transaction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autovault/autovault/internal/idgen"
	"github.com/autovault/autovault/internal/testutil"
)

func pgTransaction() *Transaction {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &Transaction{
		ID:               idgen.WithPrefix("txn_"),
		Code:             idgen.Code("AV"),
		PaymentReference: idgen.Code("PAY"),
		BuyerID:          "usr_buyer",
		SellerID:         "usr_seller",
		VehicleID:        "veh_1",
		AmountCents:      1_000_000,
		Currency:         "EUR",
		ServiceFeeCents:  25_000,
		SellerFeeCents:   15_000,
		VATCents:         7_600,
		TotalCents:       1_032_600,
		NetPayoutCents:   985_000,
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestPostgresStore_CreateAndGet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	tx := pgTransaction()
	require.NoError(t, store.Create(ctx, tx))

	got, err := store.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.Code, got.Code)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, int64(1_032_600), got.TotalCents)
	assert.Nil(t, got.PaymentDeadline)

	byCode, err := store.GetByCode(ctx, tx.Code)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, byCode.ID)

	_, err = store.Get(ctx, "txn_missing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestPostgresStore_ConditionalTransition(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	tx := pgTransaction()
	require.NoError(t, store.Create(ctx, tx))

	deadline := time.Now().Add(48 * time.Hour)
	tx.Status = StatusAwaitingPayment
	tx.PaymentDeadline = &deadline
	tx.UpdatedAt = time.Now()
	require.NoError(t, store.Transition(ctx, tx, StatusPending))

	// The persisted status is no longer pending, so a second writer
	// expecting pending loses.
	stale := *tx
	stale.Status = StatusCancelled
	err := store.Transition(ctx, &stale, StatusPending)
	assert.ErrorIs(t, err, ErrStaleStatus)

	got, err := store.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingPayment, got.Status)
	require.NotNil(t, got.PaymentDeadline)
}

func TestPostgresStore_DeadlineScans(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	expired := pgTransaction()
	expired.Status = StatusAwaitingPayment
	expired.PaymentDeadline = &past
	require.NoError(t, store.Create(ctx, expired))

	fresh := pgTransaction()
	fresh.Status = StatusAwaitingPayment
	fresh.PaymentDeadline = &future
	require.NoError(t, store.Create(ctx, fresh))

	inspecting := pgTransaction()
	inspecting.Status = StatusInspectionPeriod
	inspecting.InspectionDeadline = &past
	require.NoError(t, store.Create(ctx, inspecting))

	payDue, err := store.ListPaymentDeadlineElapsed(ctx, time.Now(), 100)
	require.NoError(t, err)
	require.Len(t, payDue, 1)
	assert.Equal(t, expired.ID, payDue[0].ID)

	inspDue, err := store.ListInspectionElapsed(ctx, time.Now(), 100)
	require.NoError(t, err)
	require.Len(t, inspDue, 1)
	assert.Equal(t, inspecting.ID, inspDue[0].ID)
}

func TestPostgresStore_ListScopedToActor(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	mine := pgTransaction()
	require.NoError(t, store.Create(ctx, mine))

	other := pgTransaction()
	other.BuyerID = "usr_other"
	require.NoError(t, store.Create(ctx, other))

	got, err := store.List(ctx, ListFilter{ActorID: "usr_buyer", Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].ID)

	// Sellers see the same row through the seller column.
	got, err = store.List(ctx, ListFilter{ActorID: "usr_seller", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestPostgresStore_SoftDeleteHidesRow(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	tx := pgTransaction()
	require.NoError(t, store.Create(ctx, tx))
	require.NoError(t, store.SoftDelete(ctx, tx.ID))

	_, err := store.Get(ctx, tx.ID)
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	err = store.SoftDelete(ctx, tx.ID)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}
