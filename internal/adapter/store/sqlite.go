package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"chorus/internal/domain"
)

var (
	_ domain.AgentStore        = (*SQLiteStore)(nil)
	_ domain.ConversationStore = (*SQLiteStore)(nil)
)

// SQLiteStore keeps personas and conversation transcripts in one SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs the
// schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS agents (
			user_id    TEXT NOT NULL,
			id         TEXT NOT NULL,
			persona    TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (user_id, id)
		);
		CREATE TABLE IF NOT EXISTS messages (
			conversation_id TEXT    NOT NULL,
			seq             INTEGER NOT NULL,
			user_id         TEXT    NOT NULL,
			role            TEXT    NOT NULL,
			content         TEXT    NOT NULL,
			agent_id        TEXT    NOT NULL DEFAULT '',
			speaker         TEXT    NOT NULL DEFAULT '',
			created_at      TEXT    NOT NULL,
			PRIMARY KEY (conversation_id, seq)
		);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// PutAgent inserts or replaces the persona owned by userID.
func (s *SQLiteStore) PutAgent(ctx context.Context, userID string, p domain.AgentPersona) error {
	if p.AgentID == "" {
		return domain.NewDomainError("SQLiteStore.PutAgent", domain.ErrInvalidInput, "agent id is empty")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal persona: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (user_id, id, persona, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, id) DO UPDATE SET persona = excluded.persona, updated_at = excluded.updated_at`,
		userID, p.AgentID, string(data), now, now,
	)
	return err
}

// GetAgent implements domain.AgentStore.
func (s *SQLiteStore) GetAgent(ctx context.Context, userID, agentID string) (domain.AgentPersona, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT persona FROM agents WHERE user_id = ? AND id = ?", userID, agentID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AgentPersona{}, domain.NewSubSystemError("agent", "SQLiteStore.GetAgent", domain.ErrNotFound, agentID)
	}
	if err != nil {
		return domain.AgentPersona{}, err
	}
	return decodePersona(raw)
}

// ListAgents returns userID's personas in creation order.
func (s *SQLiteStore) ListAgents(ctx context.Context, userID string) ([]domain.AgentPersona, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT persona FROM agents WHERE user_id = ? ORDER BY created_at, id", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AgentPersona
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		p, err := decodePersona(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func decodePersona(raw string) (domain.AgentPersona, error) {
	var p domain.AgentPersona
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("unmarshal persona: %w", err)
	}
	return p, nil
}

// LoadMessages implements domain.ConversationStore. An unknown conversation
// has no messages.
func (s *SQLiteStore) LoadMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, agent_id, speaker, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var created string
		if err := rows.Scan(&m.Role, &m.Content, &m.AgentID, &m.Speaker, &created); err != nil {
			return nil, err
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// AppendMessages implements domain.ConversationStore. Sequence numbers
// continue from the stored tail.
func (s *SQLiteStore) AppendMessages(ctx context.Context, conversationID, userID string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	var seq int64
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = ?", conversationID,
	).Scan(&seq); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (conversation_id, seq, user_id, role, content, agent_id, speaker, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range msgs {
		seq++
		ts := m.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, conversationID, seq, userID,
			m.Role, m.Content, m.AgentID, m.Speaker, ts.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert message %d: %w", seq, err)
		}
	}
	return tx.Commit()
}
