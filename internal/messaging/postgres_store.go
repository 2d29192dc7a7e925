package messaging

import (
	"context"
	"database/sql"

	"github.com/baratto/baratto/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed message store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Append(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = idgen.WithPrefix("msg_")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO messages (id, proposal_id, sender_id, text, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, m.ID, m.ProposalID, m.SenderID, m.Text, m.CreatedAt)
	return err
}

func (p *PostgresStore) ListByProposal(ctx context.Context, proposalID string, limit int) ([]*Message, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, proposal_id, sender_id, text, created_at
		FROM messages
		WHERE proposal_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, proposalID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var messages []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.ProposalID, &m.SenderID, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
