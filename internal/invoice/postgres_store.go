package invoice

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// PostgresStore persists invoices in PostgreSQL. The per-year sequence lives
// in its own table and only ever moves forward; burned numbers leave gaps,
// which is fine, reuse is not.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed invoice store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) NextSequence(ctx context.Context, year int) (int, error) {
	var value int
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO invoice_sequences (year, value)
		VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET value = invoice_sequences.value + 1
		RETURNING value`, year).Scan(&value)
	return value, err
}

func (p *PostgresStore) Create(ctx context.Context, inv *Invoice) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO invoices (
			id, number, transaction_id, buyer_id,
			amount_cents, service_fee_cents, seller_fee_cents,
			dealer_commission_cents, vat_cents, total_cents, currency,
			issued_at, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10, $11,
			$12, $13
		)`,
		inv.ID, inv.Number, inv.TransactionID, inv.BuyerID,
		inv.AmountCents, inv.ServiceFeeCents, inv.SellerFeeCents,
		inv.DealerCommissionCents, inv.VATCents, inv.TotalCents, inv.Currency,
		inv.IssuedAt, inv.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateInvoice
	}
	return err
}

const invoiceColumns = `id, number, transaction_id, buyer_id,
		       amount_cents, service_fee_cents, seller_fee_cents,
		       dealer_commission_cents, vat_cents, total_cents, currency,
		       issued_at, created_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Invoice, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE id = $1`, id)
	return scanInvoice(row)
}

func (p *PostgresStore) GetByTransaction(ctx context.Context, transactionID string) (*Invoice, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE transaction_id = $1`, transactionID)
	return scanInvoice(row)
}

func (p *PostgresStore) GetByNumber(ctx context.Context, number string) (*Invoice, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE number = $1`, number)
	return scanInvoice(row)
}

func scanInvoice(row *sql.Row) (*Invoice, error) {
	inv := &Invoice{}
	err := row.Scan(
		&inv.ID, &inv.Number, &inv.TransactionID, &inv.BuyerID,
		&inv.AmountCents, &inv.ServiceFeeCents, &inv.SellerFeeCents,
		&inv.DealerCommissionCents, &inv.VATCents, &inv.TotalCents, &inv.Currency,
		&inv.IssuedAt, &inv.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
