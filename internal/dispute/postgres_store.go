package dispute

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists dispute data in PostgreSQL. A partial unique index
// on transaction_id over non-terminal, undeleted rows enforces the single
// open dispute rule under concurrency.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed dispute store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, d *Dispute) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disputes (
			id, transaction_id, raised_by, raised_by_role, type, reason, status,
			resolution, resolution_type, refund_amount_cents, resolved_by, resolved_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14
		)`,
		d.ID, d.TransactionID, d.RaisedBy, d.RaisedByRole, d.Type, d.Reason, string(d.Status),
		nullString(d.Resolution), nullString(string(d.ResolutionType)), d.RefundAmountCents,
		nullString(d.ResolvedBy), nullTime(d.ResolvedAt),
		d.CreatedAt, d.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDisputeAlreadyOpen
	}
	return err
}

const disputeColumns = `id, transaction_id, raised_by, raised_by_role, type, reason, status,
		       resolution, resolution_type, refund_amount_cents, resolved_by, resolved_at,
		       created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE id = $1 AND deleted_at IS NULL`, id)

	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func (p *PostgresStore) GetOpenByTransaction(ctx context.Context, transactionID string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE transaction_id = $1
		  AND status NOT IN ('resolved', 'closed')
		  AND deleted_at IS NULL
		LIMIT 1`, transactionID)

	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	return d, err
}

func (p *PostgresStore) ListByTransaction(ctx context.Context, transactionID string) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE transaction_id = $1 AND deleted_at IS NULL
		ORDER BY created_at`, transactionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, d *Dispute) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE disputes SET
			status = $1, resolution = $2, resolution_type = $3,
			refund_amount_cents = $4, resolved_by = $5, resolved_at = $6,
			updated_at = $7
		WHERE id = $8 AND deleted_at IS NULL`,
		string(d.Status), nullString(d.Resolution), nullString(string(d.ResolutionType)),
		d.RefundAmountCents, nullString(d.ResolvedBy), nullTime(d.ResolvedAt),
		d.UpdatedAt,
		d.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func (p *PostgresStore) SoftDelete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE disputes SET deleted_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDispute(s scanner) (*Dispute, error) {
	d := &Dispute{}
	var (
		status         string
		resolution     sql.NullString
		resolutionType sql.NullString
		resolvedBy     sql.NullString
		resolvedAt     sql.NullTime
	)

	err := s.Scan(
		&d.ID, &d.TransactionID, &d.RaisedBy, &d.RaisedByRole, &d.Type, &d.Reason, &status,
		&resolution, &resolutionType, &d.RefundAmountCents, &resolvedBy, &resolvedAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Status = Status(status)
	d.Resolution = resolution.String
	d.ResolutionType = ResolutionType(resolutionType.String)
	d.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		d.ResolvedAt = &resolvedAt.Time
	}

	return d, nil
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
