// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/presence persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			company_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_company_session
			ON conversations(company_id, session_id);

		CREATE TABLE IF NOT EXISTS conversation_messages (
			id          TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL,
			sender_type TEXT NOT NULL,
			content     TEXT NOT NULL,
			created_at  DATETIME NOT NULL,

			CHECK (sender_type IN ('user', 'agent', 'bot'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session_created
			ON conversation_messages(session_id, created_at);

		CREATE TABLE IF NOT EXISTS handoff_sessions (
			id                TEXT PRIMARY KEY,
			company_id        TEXT NOT NULL,
			session_id        TEXT NOT NULL,
			status            TEXT NOT NULL,
			priority          TEXT NOT NULL,
			assigned_agent_id TEXT,
			escalation_reason TEXT NOT NULL,
			notes             TEXT,
			created_at        DATETIME NOT NULL,
			resolved_at       DATETIME,

			CHECK (status IN ('pending', 'active', 'completed', 'cancelled')),
			CHECK (priority IN ('low', 'medium', 'high', 'urgent')),
			CHECK (status != 'active' OR assigned_agent_id IS NOT NULL),
			CHECK (status NOT IN ('completed', 'cancelled') OR resolved_at IS NOT NULL)
		);

		-- At most one non-terminal handoff per conversation. This is what
		-- makes Escalate's create-if-absent idempotence transactional.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_handoffs_open
			ON handoff_sessions(company_id, session_id)
			WHERE resolved_at IS NULL;

		CREATE INDEX IF NOT EXISTS idx_handoffs_company_status
			ON handoff_sessions(company_id, status);

		CREATE TABLE IF NOT EXISTS session_transfers (
			id             TEXT PRIMARY KEY,
			handoff_id     TEXT NOT NULL,
			from_agent_id  TEXT,
			to_agent_id    TEXT,
			reason         TEXT NOT NULL,
			transferred_at DATETIME NOT NULL,
			transferred_by TEXT NOT NULL,

			FOREIGN KEY (handoff_id) REFERENCES handoff_sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_transfers_handoff
			ON session_transfers(handoff_id, transferred_at);

		CREATE TABLE IF NOT EXISTS agent_presence (
			agent_id             TEXT PRIMARY KEY,
			company_id           TEXT NOT NULL,
			status               TEXT NOT NULL,
			first_login_complete INTEGER NOT NULL DEFAULT 0,
			last_active          DATETIME,
			last_assigned        DATETIME,
			updated_at           DATETIME NOT NULL,

			CHECK (status IN ('pending', 'available', 'busy', 'offline'))
		);

		CREATE INDEX IF NOT EXISTS idx_presence_company_status
			ON agent_presence(company_id, status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateConversation inserts a new conversation record.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, company_id, session_id, created_at) VALUES (?, ?, ?, ?)`,
		conv.ID, conv.CompanyID, conv.SessionID, conv.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// GetConversation looks up a conversation by company and session key.
func (s *SQLiteStore) GetConversation(ctx context.Context, companyID, sessionID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, company_id, session_id, created_at FROM conversations
		 WHERE company_id = ? AND session_id = ?`,
		companyID, sessionID,
	)
	conv := &Conversation{}
	err := row.Scan(&conv.ID, &conv.CompanyID, &conv.SessionID, &conv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	return conv, nil
}

// AppendMessage persists a single chat message.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *ConversationMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_messages (id, session_id, sender_type, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.SenderType, msg.Content, msg.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// GetMessages returns messages for a session in chronological order.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]*ConversationMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, sender_type, content, created_at
		 FROM conversation_messages WHERE session_id = ?
		 ORDER BY created_at ASC, id ASC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*ConversationMessage
	for rows.Next() {
		m := &ConversationMessage{}
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderType, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ProvisionAgent creates a presence record for a newly provisioned agent
// identity with status pending. Idempotent: an existing record is left alone.
func (s *SQLiteStore) ProvisionAgent(ctx context.Context, agentID, companyID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_presence (agent_id, company_id, status, first_login_complete, updated_at)
		 VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT(agent_id) DO NOTHING`,
		agentID, companyID, AgentStatusPending, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("provisioning agent: %w", err)
	}
	return nil
}

// GetPresence returns the presence record for an agent.
func (s *SQLiteStore) GetPresence(ctx context.Context, agentID string) (*AgentPresence, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT agent_id, company_id, status, first_login_complete, last_active, last_assigned, updated_at
		 FROM agent_presence WHERE agent_id = ?`,
		agentID,
	)
	return scanPresence(row)
}

// SavePresence writes the full presence record for an agent.
func (s *SQLiteStore) SavePresence(ctx context.Context, p *AgentPresence) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_presence
		 SET status = ?, first_login_complete = ?, last_active = ?, last_assigned = ?, updated_at = ?
		 WHERE agent_id = ?`,
		p.Status, boolToInt(p.FirstLoginComplete), nullTime(p.LastActive), nullTime(p.LastAssigned),
		p.UpdatedAt.UTC(), p.AgentID,
	)
	if err != nil {
		return fmt.Errorf("updating presence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("presence rows affected: %w", err)
	}
	if n == 0 {
		return ErrAgentUnknown
	}
	return nil
}

// ListPresenceByCompany returns all presence records for a company.
func (s *SQLiteStore) ListPresenceByCompany(ctx context.Context, companyID string) ([]*AgentPresence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, company_id, status, first_login_complete, last_active, last_assigned, updated_at
		 FROM agent_presence WHERE company_id = ?`,
		companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying presence: %w", err)
	}
	defer rows.Close()

	var out []*AgentPresence
	for rows.Next() {
		p, err := scanPresence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanPresence(row scanner) (*AgentPresence, error) {
	p := &AgentPresence{}
	var firstLogin int
	var lastActive, lastAssigned sql.NullTime
	err := row.Scan(&p.AgentID, &p.CompanyID, &p.Status, &firstLogin, &lastActive, &lastAssigned, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAgentUnknown
	}
	if err != nil {
		return nil, fmt.Errorf("scanning presence: %w", err)
	}
	p.FirstLoginComplete = firstLogin != 0
	if lastActive.Valid {
		t := lastActive.Time
		p.LastActive = &t
	}
	if lastAssigned.Valid {
		t := lastAssigned.Time
		p.LastAssigned = &t
	}
	return p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
