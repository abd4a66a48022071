package bank

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists bank accounts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed bank account store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, a *Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bank_accounts (
			id, holder_kind, holder_id, bank_name, holder_name,
			iban, iban_masked, is_default, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, string(a.Holder.Kind), a.Holder.ID, a.BankName, a.HolderName,
		a.IBAN, a.IBANMasked, a.IsDefault, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

const accountColumns = `id, holder_kind, holder_id, bank_name, holder_name,
		       iban, iban_masked, is_default, created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Account, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM bank_accounts
		WHERE id = $1 AND deleted_at IS NULL`, id)

	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	return a, err
}

func (p *PostgresStore) DefaultForHolder(ctx context.Context, h Holder) (*Account, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM bank_accounts
		WHERE holder_kind = $1 AND holder_id = $2 AND is_default AND deleted_at IS NULL
		LIMIT 1`, string(h.Kind), h.ID)

	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	return a, err
}

func (p *PostgresStore) ListByHolder(ctx context.Context, h Holder) ([]*Account, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM bank_accounts
		WHERE holder_kind = $1 AND holder_id = $2 AND deleted_at IS NULL
		ORDER BY created_at`, string(h.Kind), h.ID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (p *PostgresStore) ClearDefault(ctx context.Context, h Holder) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE bank_accounts SET is_default = FALSE, updated_at = $3
		WHERE holder_kind = $1 AND holder_id = $2 AND is_default AND deleted_at IS NULL`,
		string(h.Kind), h.ID, time.Now(),
	)
	return err
}

func (p *PostgresStore) SoftDelete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE bank_accounts SET deleted_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(s scanner) (*Account, error) {
	a := &Account{}
	var kind string
	err := s.Scan(
		&a.ID, &kind, &a.Holder.ID, &a.BankName, &a.HolderName,
		&a.IBAN, &a.IBANMasked, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Holder.Kind = HolderKind(kind)
	return a, nil
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
