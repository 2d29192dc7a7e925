package listing

import (
	"context"
	"database/sql"
	"time"

	"github.com/baratto/baratto/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed listing store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Listing, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, seller_id, title, description, credit_price, open, created_at, updated_at
		FROM listings WHERE id = $1
	`, id)
	return scanListing(row)
}

func (p *PostgresStore) Create(ctx context.Context, l *Listing) error {
	if l.ID == "" {
		l.ID = idgen.WithPrefix("lst_")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO listings (id, seller_id, title, description, credit_price, open, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, l.ID, l.SellerID, l.Title, nullString(l.Description), l.CreditPrice, l.Open, l.CreatedAt, l.UpdatedAt)
	return err
}

func (p *PostgresStore) SetOpen(ctx context.Context, id string, open bool) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE listings SET open = $2, updated_at = NOW() WHERE id = $1
	`, id, open)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, seller_id, title, description, credit_price, open, created_at, updated_at
		FROM listings
		WHERE seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, sellerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var listings []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanListing(s scanner) (*Listing, error) {
	l := &Listing{}
	var description sql.NullString
	var createdAt, updatedAt time.Time

	err := s.Scan(&l.ID, &l.SellerID, &l.Title, &description, &l.CreditPrice,
		&l.Open, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	l.Description = description.String
	l.CreatedAt = createdAt
	l.UpdatedAt = updatedAt
	return l, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
