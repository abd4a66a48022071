package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autovault/autovault/internal/transaction"
)

func testService() *Service {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewService(NewMemoryStore(), logger)
}

func verifiedTransaction(id string) *transaction.Transaction {
	return &transaction.Transaction{
		ID:              id,
		BuyerID:         "usr_buyer",
		AmountCents:     1_000_000,
		ServiceFeeCents: 25_000,
		SellerFeeCents:  15_000,
		VATCents:        7_600,
		TotalCents:      1_032_600,
		Currency:        "EUR",
	}
}

func TestIssue_FormatsNumber(t *testing.T) {
	svc := testService()
	ctx := context.Background()

	number, err := svc.Issue(ctx, verifiedTransaction("txn_1"))
	require.NoError(t, err)
	assert.Equal(t, FormatNumber(time.Now().Year(), 1), number)

	inv, err := svc.ForTransaction(ctx, "txn_1")
	require.NoError(t, err)
	assert.Equal(t, number, inv.Number)
	assert.Equal(t, int64(1_032_600), inv.TotalCents)
}

func TestIssue_SequenceIsMonotonic(t *testing.T) {
	svc := testService()
	ctx := context.Background()

	year := time.Now().Year()
	for i := 1; i <= 3; i++ {
		number, err := svc.Issue(ctx, verifiedTransaction(fmt.Sprintf("txn_%d", i)))
		require.NoError(t, err)
		assert.Equal(t, FormatNumber(year, i), number)
	}
}

func TestIssue_IdempotentPerTransaction(t *testing.T) {
	svc := testService()
	ctx := context.Background()
	tx := verifiedTransaction("txn_retry")

	first, err := svc.Issue(ctx, tx)
	require.NoError(t, err)

	// A retried issuance returns the same number and burns nothing.
	second, err := svc.Issue(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	next, err := svc.Issue(ctx, verifiedTransaction("txn_next"))
	require.NoError(t, err)
	assert.Equal(t, FormatNumber(time.Now().Year(), 2), next)
}

func TestIssue_ConcurrentRetries_OneNumber(t *testing.T) {
	svc := testService()
	ctx := context.Background()
	tx := verifiedTransaction("txn_conc")

	var wg sync.WaitGroup
	numbers := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := svc.Issue(ctx, tx)
			if err == nil {
				numbers <- number
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[string]bool{}
	for n := range numbers {
		seen[n] = true
	}
	assert.Len(t, seen, 1, "all retries must converge on one invoice number")
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "INV-2026-00001", FormatNumber(2026, 1))
	assert.Equal(t, "INV-2026-00042", FormatNumber(2026, 42))
	assert.Equal(t, "INV-2027-12345", FormatNumber(2027, 12345))
}
