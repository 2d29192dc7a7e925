package exchange

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed exchange store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateFromProposal inserts the exchange and flips its proposal from
// pending to accepted in one transaction. The guarded proposal update
// decides the race: if another accept, cancel, reject, or expiry got there
// first, or a counter-offer changed the amount after the accept path read
// it, nothing is written and ErrProposalTaken is returned.
func (p *PostgresStore) CreateFromProposal(ctx context.Context, e *Exchange) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE proposals SET status = 'accepted', updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND amount = $2
	`, e.ProposalID, e.Amount)
	if err != nil {
		return fmt.Errorf("accept proposal: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrProposalTaken
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO exchanges (
			id, proposal_id, buyer_id, seller_id, amount, state,
			confirm_buyer, confirm_seller, reason, accepted_at, expires_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, FALSE, FALSE, NULL, $7, $8, NULL)
	`, e.ID, e.ProposalID, e.BuyerID, e.SellerID, e.Amount, string(e.State),
		e.AcceptedAt, e.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}

	return tx.Commit()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Exchange, error) {
	row := p.db.QueryRowContext(ctx, selectExchange+` WHERE id = $1`, id)
	return scanExchange(row)
}

func (p *PostgresStore) GetByProposal(ctx context.Context, proposalID string) (*Exchange, error) {
	row := p.db.QueryRowContext(ctx, selectExchange+` WHERE proposal_id = $1`, proposalID)
	return scanExchange(row)
}

// Confirm sets the role's confirmation flag and, when both flags hold while
// the row is still active, completes the exchange in the same transaction.
// The returned bool reports whether this call performed the completion.
func (p *PostgresStore) Confirm(ctx context.Context, id string, role Role) (*Exchange, bool, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	column := "confirm_buyer"
	if role == RoleSeller {
		column = "confirm_seller"
	}

	// The state guard keeps flags monotone: once terminal, nothing changes.
	var confirmBuyer, confirmSeller bool
	err = tx.QueryRowContext(ctx, `
		UPDATE exchanges SET `+column+` = TRUE
		WHERE id = $1 AND state = 'active'
		RETURNING confirm_buyer, confirm_seller
	`, id).Scan(&confirmBuyer, &confirmSeller)
	if err == sql.ErrNoRows {
		return nil, false, ErrNotActive
	}
	if err != nil {
		return nil, false, fmt.Errorf("set confirmation: %w", err)
	}

	won := false
	if confirmBuyer && confirmSeller {
		result, err := tx.ExecContext(ctx, `
			UPDATE exchanges SET state = 'completed', completed_at = NOW()
			WHERE id = $1 AND state = 'active'
		`, id)
		if err != nil {
			return nil, false, fmt.Errorf("complete exchange: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return nil, false, err
		}
		won = n > 0
	}

	row := tx.QueryRowContext(ctx, selectExchange+` WHERE id = $1`, id)
	e, err := scanExchange(row)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return e, won, nil
}

// Terminate applies a guarded active→terminal transition. Zero rows
// affected means another caller won; not an error.
func (p *PostgresStore) Terminate(ctx context.Context, id string, to State, reason string) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE exchanges SET state = $2, reason = $3
		WHERE id = $1 AND state = 'active'
	`, id, string(to), nullString(reason))
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Exchange, error) {
	rows, err := p.db.QueryContext(ctx, selectExchange+`
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY accepted_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectExchanges(rows)
}

func (p *PostgresStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*Exchange, error) {
	rows, err := p.db.QueryContext(ctx, selectExchange+`
		WHERE state = 'active' AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectExchanges(rows)
}

const selectExchange = `
	SELECT id, proposal_id, buyer_id, seller_id, amount, state,
	       confirm_buyer, confirm_seller, reason, accepted_at, expires_at, completed_at
	FROM exchanges`

type scanner interface {
	Scan(dest ...any) error
}

func scanExchange(s scanner) (*Exchange, error) {
	e := &Exchange{}
	var state string
	var reason sql.NullString
	var completedAt sql.NullTime

	err := s.Scan(&e.ID, &e.ProposalID, &e.BuyerID, &e.SellerID, &e.Amount,
		&state, &e.ConfirmBuyer, &e.ConfirmSeller, &reason,
		&e.AcceptedAt, &e.ExpiresAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	e.State = State(state)
	e.Reason = reason.String
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	return e, nil
}

func collectExchanges(rows *sql.Rows) ([]*Exchange, error) {
	var exchanges []*Exchange
	for rows.Next() {
		e, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		exchanges = append(exchanges, e)
	}
	return exchanges, rows.Err()
}

// CountOverdueActive counts exchanges still active past their expiry as of
// the given instant. The sweeper should have resolved these already.
func (p *PostgresStore) CountOverdueActive(ctx context.Context, asOf time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM exchanges WHERE state = 'active' AND expires_at < $1
	`, asOf).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count overdue exchanges: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
