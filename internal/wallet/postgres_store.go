package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/baratto/baratto/internal/idgen"
	"github.com/baratto/baratto/internal/pagination"
)

// PostgresStore implements Store with PostgreSQL.
//
// All balance arithmetic happens inside the UPDATE statements with guard
// predicates in the WHERE clause, so the precondition check and the write
// are one atomic step. CHECK constraints on the wallets table back this up
// at the schema level.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Balance retrieves a user's balance. A user with no wallet row yet has a
// zero balance, not an error.
func (p *PostgresStore) Balance(ctx context.Context, userID string) (*Balance, error) {
	bal := &Balance{UserID: userID}

	err := p.db.QueryRowContext(ctx, `
		SELECT available, held, updated_at
		FROM wallets WHERE user_id = $1
	`, userID).Scan(&bal.Available, &bal.Held, &bal.UpdatedAt)

	if err == sql.ErrNoRows {
		return &Balance{UserID: userID, UpdatedAt: time.Now()}, nil
	}
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// Hold moves amount from available to held in one transaction.
func (p *PostgresStore) Hold(ctx context.Context, userID string, amount int64, ref Ref) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	applied, err := alreadyApplied(ctx, tx, ref.Key())
	if err != nil {
		return err
	}
	if applied {
		return tx.Commit()
	}

	// Guarded move: the available >= amount predicate makes the precondition
	// check and the write a single atomic step.
	var availableAfter, heldAfter int64
	err = tx.QueryRowContext(ctx, `
		UPDATE wallets SET
			available  = available - $2,
			held       = held + $2,
			updated_at = NOW()
		WHERE user_id = $1 AND available >= $2
		RETURNING available, held
	`, userID, amount).Scan(&availableAfter, &heldAfter)
	if err == sql.ErrNoRows {
		return ErrInsufficientFunds
	}
	if err != nil {
		return fmt.Errorf("hold: update wallet: %w", err)
	}

	if err := insertEntryPair(ctx, tx, ref,
		entryLeg{userID, AccountAvailable, -amount, availableAfter, EntryEscrowHold},
		entryLeg{userID, AccountHeld, amount, heldAfter, EntryEscrowHold},
	); err != nil {
		return err
	}

	return tx.Commit()
}

// Release moves amount from held back to available in one transaction.
func (p *PostgresStore) Release(ctx context.Context, userID string, amount int64, ref Ref) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	applied, err := alreadyApplied(ctx, tx, ref.Key())
	if err != nil {
		return err
	}
	if applied {
		return tx.Commit()
	}

	var availableAfter, heldAfter int64
	err = tx.QueryRowContext(ctx, `
		UPDATE wallets SET
			available  = available + $2,
			held       = held - $2,
			updated_at = NOW()
		WHERE user_id = $1 AND held >= $2
		RETURNING available, held
	`, userID, amount).Scan(&availableAfter, &heldAfter)
	if err == sql.ErrNoRows {
		// Held balance smaller than the hold being released: a caller bug
		// or corrupted state, never a retryable condition.
		return fmt.Errorf("%w: release %d exceeds held balance of %s", ErrInvariantViolation, amount, userID)
	}
	if err != nil {
		return fmt.Errorf("release: update wallet: %w", err)
	}

	if err := insertEntryPair(ctx, tx, ref,
		entryLeg{userID, AccountHeld, -amount, heldAfter, EntryEscrowRelease},
		entryLeg{userID, AccountAvailable, amount, availableAfter, EntryEscrowRelease},
	); err != nil {
		return err
	}

	return tx.Commit()
}

// Settle moves amount from fromUser's held to toUser's available, both legs
// in the same transaction.
func (p *PostgresStore) Settle(ctx context.Context, fromUser, toUser string, amount int64, ref Ref) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	applied, err := alreadyApplied(ctx, tx, ref.Key())
	if err != nil {
		return err
	}
	if applied {
		return tx.Commit()
	}

	// Debit the buyer's held bucket.
	var fromHeldAfter int64
	err = tx.QueryRowContext(ctx, `
		UPDATE wallets SET
			held       = held - $2,
			updated_at = NOW()
		WHERE user_id = $1 AND held >= $2
		RETURNING held
	`, fromUser, amount).Scan(&fromHeldAfter)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: settle %d exceeds held balance of %s", ErrInvariantViolation, amount, fromUser)
	}
	if err != nil {
		return fmt.Errorf("settle: debit hold: %w", err)
	}

	// Credit the seller's available bucket, creating the wallet if needed.
	var toAvailableAfter int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO wallets (user_id, available, held, updated_at)
		VALUES ($1, $2, 0, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			available  = wallets.available + $2,
			updated_at = NOW()
		RETURNING available
	`, toUser, amount).Scan(&toAvailableAfter)
	if err != nil {
		return fmt.Errorf("settle: credit seller: %w", err)
	}

	if err := insertEntryPair(ctx, tx, ref,
		entryLeg{fromUser, AccountHeld, -amount, fromHeldAfter, EntryEscrowSettle},
		entryLeg{toUser, AccountAvailable, amount, toAvailableAfter, EntryEscrowSettle},
	); err != nil {
		return err
	}

	return tx.Commit()
}

// Credit adds amount to a user's available balance, creating the wallet row
// on first use.
func (p *PostgresStore) Credit(ctx context.Context, userID string, amount int64, entryType string, ref Ref) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	applied, err := alreadyApplied(ctx, tx, ref.Key())
	if err != nil {
		return err
	}
	if applied {
		return tx.Commit()
	}

	var availableAfter int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO wallets (user_id, available, held, updated_at)
		VALUES ($1, $2, 0, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			available  = wallets.available + $2,
			updated_at = NOW()
		RETURNING available
	`, userID, amount).Scan(&availableAfter)
	if err != nil {
		return fmt.Errorf("credit: update wallet: %w", err)
	}

	if err := insertEntryPair(ctx, tx, ref,
		entryLeg{userID, AccountAvailable, amount, availableAfter, entryType},
	); err != nil {
		return err
	}

	return tx.Commit()
}

// History retrieves a user's ledger entries newest first, optionally
// starting after a pagination cursor.
func (p *PostgresStore) History(ctx context.Context, userID string, before *pagination.Cursor, limit int) ([]*Entry, error) {
	query := `
		SELECT id, user_id, account, amount, balance_before, balance_after,
		       type, ref_type, ref_id, idempotency_key, created_at
		FROM ledger_entries
		WHERE user_id = $1`
	args := []any{userID}
	if before != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, before.CreatedAt, before.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var account string
		var refType, refID sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &account, &e.Amount, &e.BalanceBefore,
			&e.BalanceAfter, &e.Type, &refType, &refID, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Account = Account(account)
		e.RefType = refType.String
		e.RefID = refID.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// entryLeg describes one ledger entry to append within a transaction.
type entryLeg struct {
	userID       string
	account      Account
	amount       int64
	balanceAfter int64
	entryType    string
}

// insertEntryPair appends one or two ledger entries sharing a reference key.
func insertEntryPair(ctx context.Context, tx *sql.Tx, ref Ref, legs ...entryLeg) error {
	for _, leg := range legs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (
				id, user_id, account, amount, balance_before, balance_after,
				type, ref_type, ref_id, idempotency_key, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		`, idgen.New(), leg.userID, string(leg.account), leg.amount,
			leg.balanceAfter-leg.amount, leg.balanceAfter,
			leg.entryType, nullString(ref.Type), nullString(ref.ID), ref.Key())
		if err != nil {
			return fmt.Errorf("append ledger entry: %w", err)
		}
	}
	return nil
}

// SumBalances totals available and held credits across every wallet.
func (p *PostgresStore) SumBalances(ctx context.Context) (int64, int64, error) {
	var available, held int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(available), 0), COALESCE(SUM(held), 0) FROM wallets
	`).Scan(&available, &held)
	if err != nil {
		return 0, 0, fmt.Errorf("sum balances: %w", err)
	}
	return available, held, nil
}

// SumLedger totals the signed amounts of every ledger entry.
func (p *PostgresStore) SumLedger(ctx context.Context) (int64, error) {
	var total int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries
	`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return total, nil
}

// alreadyApplied reports whether an operation with this idempotency key has
// committed before. Running inside the caller's serializable transaction,
// the check also serializes two concurrent replays of the same key: the
// second commit aborts on the unique index and the caller may safely retry.
func alreadyApplied(ctx context.Context, tx *sql.Tx, key string) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE idempotency_key = $1)
	`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("idempotency check: %w", err)
	}
	return exists, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
