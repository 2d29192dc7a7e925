package proposal

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

// NewPostgresStore creates a new PostgreSQL-backed proposal store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, pr *Proposal) error {
	if pr.ID == "" {
		pr.ID = idgen.WithPrefix("prp_")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO proposals (
			id, listing_id, buyer_id, seller_id, amount, status,
			last_offer_by, counter_round, message, reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, pr.ID, pr.ListingID, pr.BuyerID, pr.SellerID, pr.Amount, string(pr.Status),
		pr.LastOfferBy, pr.CounterRound, nullString(pr.Message), nullString(pr.Reason),
		pr.CreatedAt, pr.UpdatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Proposal, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, listing_id, buyer_id, seller_id, amount, status,
		       last_offer_by, counter_round, message, reason, created_at, updated_at
		FROM proposals WHERE id = $1
	`, id)
	return scanProposal(row)
}

func (p *PostgresStore) HasOpen(ctx context.Context, listingID, buyerID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM proposals
			WHERE listing_id = $1 AND buyer_id = $2 AND status = 'pending'
		)
	`, listingID, buyerID).Scan(&exists)
	return exists, err
}

// UpdateOffer rewrites the current offer; the status = 'pending' guard
// rejects counters racing a terminal transition.
func (p *PostgresStore) UpdateOffer(ctx context.Context, id string, amount int64, offerBy, message string, round int) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE proposals SET
			amount        = $2,
			last_offer_by = $3,
			message       = $4,
			counter_round = $5,
			updated_at    = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, amount, offerBy, nullString(message), round)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

// Transition applies a guarded status change. Zero rows affected means the
// caller lost the race, not an error.
func (p *PostgresStore) Transition(ctx context.Context, id string, from, to Status, reason string) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE proposals SET
			status     = $3,
			reason     = $4,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), nullString(reason))
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Proposal, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, listing_id, buyer_id, seller_id, amount, status,
		       last_offer_by, counter_round, message, reason, created_at, updated_at
		FROM proposals
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectProposals(rows)
}

func (p *PostgresStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*Proposal, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, listing_id, buyer_id, seller_id, amount, status,
		       last_offer_by, counter_round, message, reason, created_at, updated_at
		FROM proposals
		WHERE status = 'pending' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectProposals(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProposal(s scanner) (*Proposal, error) {
	pr := &Proposal{}
	var status string
	var message, reason sql.NullString

	err := s.Scan(&pr.ID, &pr.ListingID, &pr.BuyerID, &pr.SellerID, &pr.Amount,
		&status, &pr.LastOfferBy, &pr.CounterRound, &message, &reason,
		&pr.CreatedAt, &pr.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	pr.Status = Status(status)
	pr.Message = message.String
	pr.Reason = reason.String
	return pr, nil
}

func collectProposals(rows *sql.Rows) ([]*Proposal, error) {
	var proposals []*Proposal
	for rows.Next() {
		pr, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, pr)
	}
	return proposals, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
