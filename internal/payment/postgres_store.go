package payment

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists payment data in PostgreSQL. The partial unique
// index on (transaction_id, type) for deposit, release, and refund rows is
// the storage-level double-payout guard.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, pay *Payment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payments (
			id, transaction_id, type, amount_cents, currency, status,
			evidence_hash, evidence_url, verified_by, verified_at,
			reject_reason, notes, payout_account_id,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14, $15
		)`,
		pay.ID, pay.TransactionID, string(pay.Type), pay.AmountCents, pay.Currency, string(pay.Status),
		nullString(pay.EvidenceHash), nullString(pay.EvidenceURL), nullString(pay.VerifiedBy), nullTime(pay.VerifiedAt),
		nullString(pay.RejectReason), nullString(pay.Notes), nullString(pay.PayoutAccountID),
		pay.CreatedAt, pay.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicatePayment
	}
	return err
}

const paymentColumns = `id, transaction_id, type, amount_cents, currency, status,
		       evidence_hash, evidence_url, verified_by, verified_at,
		       reject_reason, notes, payout_account_id,
		       created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Payment, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE id = $1`, id)

	pay, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	return pay, err
}

func (p *PostgresStore) GetByTransactionAndType(ctx context.Context, transactionID string, t Type) (*Payment, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE transaction_id = $1 AND type = $2
		ORDER BY created_at DESC
		LIMIT 1`, transactionID, string(t))

	pay, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	return pay, err
}

func (p *PostgresStore) Update(ctx context.Context, pay *Payment) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE payments SET
			status = $1, evidence_hash = $2, evidence_url = $3,
			verified_by = $4, verified_at = $5, reject_reason = $6,
			notes = $7, payout_account_id = $8, updated_at = $9
		WHERE id = $10`,
		string(pay.Status), nullString(pay.EvidenceHash), nullString(pay.EvidenceURL),
		nullString(pay.VerifiedBy), nullTime(pay.VerifiedAt), nullString(pay.RejectReason),
		nullString(pay.Notes), nullString(pay.PayoutAccountID), pay.UpdatedAt,
		pay.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (p *PostgresStore) ListByTransaction(ctx context.Context, transactionID string) ([]*Payment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE transaction_id = $1
		ORDER BY created_at`, transactionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Payment
	for rows.Next() {
		pay, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pay)
	}
	return result, rows.Err()
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(s scanner) (*Payment, error) {
	pay := &Payment{}
	var (
		typ             string
		status          string
		evidenceHash    sql.NullString
		evidenceURL     sql.NullString
		verifiedBy      sql.NullString
		verifiedAt      sql.NullTime
		rejectReason    sql.NullString
		notes           sql.NullString
		payoutAccountID sql.NullString
	)

	err := s.Scan(
		&pay.ID, &pay.TransactionID, &typ, &pay.AmountCents, &pay.Currency, &status,
		&evidenceHash, &evidenceURL, &verifiedBy, &verifiedAt,
		&rejectReason, &notes, &payoutAccountID,
		&pay.CreatedAt, &pay.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	pay.Type = Type(typ)
	pay.Status = Status(status)
	pay.EvidenceHash = evidenceHash.String
	pay.EvidenceURL = evidenceURL.String
	pay.VerifiedBy = verifiedBy.String
	pay.RejectReason = rejectReason.String
	pay.Notes = notes.String
	pay.PayoutAccountID = payoutAccountID.String
	if verifiedAt.Valid {
		pay.VerifiedAt = &verifiedAt.Time
	}

	return pay, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
