package transaction

import (
	"context"
	"database/sql"
	"strconv"
	"time"
)

// PostgresStore persists transaction data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, t *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, code, payment_reference,
			buyer_id, seller_id, dealer_id, vehicle_id,
			amount_cents, currency, service_fee_cents, seller_fee_cents,
			dealer_commission_cents, vat_cents, total_cents, net_payout_cents,
			status, payment_deadline, payment_verified_at, inspection_deadline,
			completed_at, cancelled_at, cancel_reason,
			created_at, updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19,
			$20, $21, $22,
			$23, $24
		)`,
		t.ID, t.Code, t.PaymentReference,
		t.BuyerID, t.SellerID, nullString(t.DealerID), t.VehicleID,
		t.AmountCents, t.Currency, t.ServiceFeeCents, t.SellerFeeCents,
		t.DealerCommissionCents, t.VATCents, t.TotalCents, t.NetPayoutCents,
		string(t.Status), nullTime(t.PaymentDeadline), nullTime(t.PaymentVerifiedAt), nullTime(t.InspectionDeadline),
		nullTime(t.CompletedAt), nullTime(t.CancelledAt), nullString(t.CancelReason),
		t.CreatedAt, t.UpdatedAt,
	)
	return err
}

const transactionColumns = `id, code, payment_reference,
		       buyer_id, seller_id, dealer_id, vehicle_id,
		       amount_cents, currency, service_fee_cents, seller_fee_cents,
		       dealer_commission_cents, vat_cents, total_cents, net_payout_cents,
		       status, payment_deadline, payment_verified_at, inspection_deadline,
		       completed_at, cancelled_at, cancel_reason,
		       created_at, updated_at, deleted_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1 AND deleted_at IS NULL`, id)

	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	return t, err
}

func (p *PostgresStore) GetByCode(ctx context.Context, code string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE code = $1 AND deleted_at IS NULL`, code)

	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	return t, err
}

// Transition is the conditional status write. The WHERE clause on the old
// status makes two racing writers resolve so exactly one wins.
func (p *PostgresStore) Transition(ctx context.Context, t *Transaction, from Status) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE transactions SET
			status = $1, payment_deadline = $2, payment_verified_at = $3,
			inspection_deadline = $4, completed_at = $5, cancelled_at = $6,
			cancel_reason = $7, updated_at = $8
		WHERE id = $9 AND status = $10 AND deleted_at IS NULL`,
		string(t.Status), nullTime(t.PaymentDeadline), nullTime(t.PaymentVerifiedAt),
		nullTime(t.InspectionDeadline), nullTime(t.CompletedAt), nullTime(t.CancelledAt),
		nullString(t.CancelReason), t.UpdatedAt,
		t.ID, string(from),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, f ListFilter) ([]*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE deleted_at IS NULL`
	args := []interface{}{}
	idx := 1

	if f.ActorID != "" {
		query += ` AND (buyer_id = $1 OR seller_id = $1 OR dealer_id = $1)`
		args = append(args, f.ActorID)
		idx++
	}
	if f.Status != "" {
		query += ` AND status = $` + strconv.Itoa(idx)
		args = append(args, string(f.Status))
		idx++
	}
	if !f.CreatedBefore.IsZero() {
		query += ` AND created_at < $` + strconv.Itoa(idx)
		args = append(args, f.CreatedBefore)
		idx++
	}
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(idx)
	args = append(args, f.Limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

func (p *PostgresStore) ListPaymentDeadlineElapsed(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = 'awaiting_payment'
		  AND payment_deadline < $1
		  AND deleted_at IS NULL
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

func (p *PostgresStore) ListInspectionElapsed(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = 'inspection_period'
		  AND inspection_deadline < $1
		  AND deleted_at IS NULL
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

func (p *PostgresStore) SoftDelete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE transactions SET deleted_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(s scanner) (*Transaction, error) {
	t := &Transaction{}
	var (
		dealerID           sql.NullString
		status             string
		paymentDeadline    sql.NullTime
		paymentVerifiedAt  sql.NullTime
		inspectionDeadline sql.NullTime
		completedAt        sql.NullTime
		cancelledAt        sql.NullTime
		cancelReason       sql.NullString
		deletedAt          sql.NullTime
	)

	err := s.Scan(
		&t.ID, &t.Code, &t.PaymentReference,
		&t.BuyerID, &t.SellerID, &dealerID, &t.VehicleID,
		&t.AmountCents, &t.Currency, &t.ServiceFeeCents, &t.SellerFeeCents,
		&t.DealerCommissionCents, &t.VATCents, &t.TotalCents, &t.NetPayoutCents,
		&status, &paymentDeadline, &paymentVerifiedAt, &inspectionDeadline,
		&completedAt, &cancelledAt, &cancelReason,
		&t.CreatedAt, &t.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	t.DealerID = dealerID.String
	t.CancelReason = cancelReason.String
	if paymentDeadline.Valid {
		t.PaymentDeadline = &paymentDeadline.Time
	}
	if paymentVerifiedAt.Valid {
		t.PaymentVerifiedAt = &paymentVerifiedAt.Time
	}
	if inspectionDeadline.Valid {
		t.InspectionDeadline = &inspectionDeadline.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	if cancelledAt.Valid {
		t.CancelledAt = &cancelledAt.Time
	}
	if deletedAt.Valid {
		t.DeletedAt = &deletedAt.Time
	}

	return t, nil
}

func scanTransactions(rows *sql.Rows) ([]*Transaction, error) {
	var result []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
