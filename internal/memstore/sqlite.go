// Package memstore implements the Memory Store (C2): the durable,
// embedded-by-default record of conversations, messages, facts, and cost
// rows. The schema and migration sequence are grounded on the reference
// Python prototype's memory/schema.py and memory/migration.py — same
// tables, same CHECK constraints, same migration numbering — expressed
// with database/sql over modernc.org/sqlite, the teacher's own embedded
// driver (see go.mod).
package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/san-techie21/gulama-gateway/internal/store"
)

// CurrentSchemaVersion is the highest migration version this binary knows
// how to apply.
const CurrentSchemaVersion = 5

const initialSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	channel TEXT NOT NULL,
	user_id TEXT,
	started_at TEXT NOT NULL,
	ended_at TEXT,
	summary TEXT,
	token_count INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role TEXT NOT NULL CHECK(role IN ('user', 'assistant', 'system', 'tool')),
	content TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	token_count INTEGER DEFAULT 0,
	embedding_id TEXT
);

CREATE TABLE IF NOT EXISTS facts (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL CHECK(category IN ('preference', 'identity', 'knowledge', 'skill', 'context', 'conversation_summary', 'decision')),
	content TEXT NOT NULL,
	source_message_id TEXT REFERENCES messages(id),
	confidence REAL DEFAULT 1.0 CHECK(confidence BETWEEN 0.0 AND 1.0),
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	embedding_id TEXT
);

CREATE TABLE IF NOT EXISTS cost_tracking (
	id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0.0,
	channel TEXT,
	skill TEXT,
	conversation_id TEXT REFERENCES conversations(id)
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
CREATE INDEX IF NOT EXISTS idx_facts_category ON facts(category);
CREATE INDEX IF NOT EXISTS idx_cost_timestamp ON cost_tracking(timestamp);
CREATE INDEX IF NOT EXISTS idx_cost_provider ON cost_tracking(provider);
`

// migration is one versioned, idempotent schema change applied after the
// initial schema. Statements that fail with "duplicate column" are
// tolerated so re-running apply() is always safe.
type migration struct {
	version     int
	description string
	statements  []string
}

var migrations = []migration{
	{2, "embedding_id columns for vector store integration", []string{
		`ALTER TABLE messages ADD COLUMN embedding_id TEXT`,
		`ALTER TABLE facts ADD COLUMN embedding_id TEXT`,
	}},
	{3, "user_id index on conversations", []string{
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id)`,
	}},
	{4, "personas table", []string{
		`CREATE TABLE IF NOT EXISTS personas (
			name TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			config_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}},
	{5, "scheduled tasks table", []string{
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			cron_expression TEXT NOT NULL,
			action_type TEXT NOT NULL,
			action_config TEXT NOT NULL,
			enabled INTEGER DEFAULT 1,
			last_run TEXT,
			next_run TEXT,
			created_at TEXT NOT NULL
		)`,
	}},
}

// Store is the embedded-SQLite Memory Store. It is safe for concurrent
// use; the pool is capped at one open connection, so concurrent calls
// are serialized rather than run in parallel.
type Store struct {
	db *sql.DB
}

// Open creates the database file's parent directory if needed, opens the
// connection, enables WAL + foreign keys, and applies the schema and any
// pending migrations. A missing database file is treated as an empty
// store (CREATE TABLE IF NOT EXISTS); a partially-applied migration
// fails loudly rather than leaving the schema in an unknown state.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("memstore: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memstore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: a single connection serializes all reads and writes

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("memstore: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(initialSchema); err != nil {
		return fmt.Errorf("memstore: initial schema: %w", err)
	}
	var hasVersion sql.NullInt64
	s.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&hasVersion)
	if !hasVersion.Valid {
		if _, err := s.db.Exec(`INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (1, ?)`, nowISO()); err != nil {
			return fmt.Errorf("memstore: seed schema_version: %w", err)
		}
	}

	current, err := s.SchemaVersion(context.Background())
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("memstore: migration %d: begin: %w", m.version, err)
		}
		for _, stmt := range m.statements {
			if _, err := tx.Exec(stmt); err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
					continue
				}
				tx.Rollback()
				return fmt.Errorf("memstore: migration %d failed (schema left at prior version, not proceeding): %w", m.version, err)
			}
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_version (version, applied_at) VALUES (?, ?)`, m.version, nowISO()); err != nil {
			tx.Rollback()
			return fmt.Errorf("memstore: migration %d: record version: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("memstore: migration %d: commit: %w", m.version, err)
		}
		slog.Info("memstore.migration_applied", "version", m.version, "description", m.description)
	}
	return nil
}

func nowISO() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func newID() string { return uuid.NewString() }

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for schema checks and data-migration
// hooks; regular callers go through the MemoryStore interface.
func (s *Store) DB() *sql.DB { return s.db }

// --- Conversations ---

func (s *Store) CreateConversation(ctx context.Context, channel, userID string) (*store.Conversation, error) {
	c := &store.Conversation{
		ID:        newID(),
		Channel:   channel,
		UserID:    userID,
		StartedAt: nowISO(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, channel, user_id, started_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Channel, nullable(c.UserID), c.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("memstore: create conversation: %w", err)
	}
	return c, nil
}

func (s *Store) EndConversation(ctx context.Context, id, summary string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET ended_at = ?, summary = ? WHERE id = ?`,
		nowISO(), nullable(summary), id)
	if err != nil {
		return fmt.Errorf("memstore: end conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel, COALESCE(user_id,''), started_at, COALESCE(ended_at,''), COALESCE(summary,''), token_count FROM conversations WHERE id = ?`, id)
	c := &store.Conversation{}
	if err := row.Scan(&c.ID, &c.Channel, &c.UserID, &c.StartedAt, &c.EndedAt, &c.Summary, &c.TokenCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("memstore: get conversation: %w", err)
	}
	return c, nil
}

// ListIdleConversations returns open conversations whose newest message
// is older than idleBefore — candidates for background summarization.
func (s *Store) ListIdleConversations(ctx context.Context, idleBefore time.Time, limit int) ([]store.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.channel, COALESCE(c.user_id,''), c.started_at, COALESCE(c.ended_at,''), COALESCE(c.summary,''), c.token_count
		FROM conversations c
		WHERE c.ended_at IS NULL
		  AND EXISTS (SELECT 1 FROM messages m WHERE m.conversation_id = c.id)
		  AND (SELECT MAX(m.timestamp) FROM messages m WHERE m.conversation_id = c.id) < ?
		ORDER BY c.started_at
		LIMIT ?`,
		idleBefore.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, fmt.Errorf("memstore: list idle conversations: %w", err)
	}
	defer rows.Close()

	var out []store.Conversation
	for rows.Next() {
		var c store.Conversation
		if err := rows.Scan(&c.ID, &c.Channel, &c.UserID, &c.StartedAt, &c.EndedAt, &c.Summary, &c.TokenCount); err != nil {
			return nil, fmt.Errorf("memstore: scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Messages ---

func (s *Store) AddMessage(ctx context.Context, conversationID, role, content string, tokenCount int) (*store.Message, error) {
	m := &store.Message{
		ID:             newID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      nowISO(),
		TokenCount:     tokenCount,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, timestamp, token_count) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content, m.Timestamp, m.TokenCount)
	if err != nil {
		return nil, fmt.Errorf("memstore: add message: %w", err)
	}
	return m, nil
}

// GetMessages returns messages ordered by timestamp ascending, satisfying
// the invariant that get_messages(c) is sorted chronologically.
func (s *Store) GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, timestamp, token_count, COALESCE(embedding_id,'')
		 FROM messages WHERE conversation_id = ? ORDER BY timestamp ASC LIMIT ? OFFSET ?`,
		conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("memstore: get messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *Store) GetRecentMessages(ctx context.Context, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, timestamp, token_count, COALESCE(embedding_id,'')
		 FROM messages ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("memstore: get recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]store.Message, error) {
	var out []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Timestamp, &m.TokenCount, &m.EmbeddingID); err != nil {
			return nil, fmt.Errorf("memstore: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Facts ---

func (s *Store) AddFact(ctx context.Context, category, content, sourceMessageID string, confidence float64) (*store.Fact, error) {
	now := nowISO()
	f := &store.Fact{
		ID:              newID(),
		Category:        category,
		Content:         content,
		SourceMessageID: sourceMessageID,
		Confidence:      confidence,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO facts (id, category, content, source_message_id, confidence, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Category, f.Content, nullable(f.SourceMessageID), f.Confidence, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("memstore: add fact: %w", err)
	}
	return f, nil
}

func (s *Store) GetFacts(ctx context.Context, category string, limit int) ([]store.Fact, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sql.Rows
	var err error
	if category != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, category, content, COALESCE(source_message_id,''), confidence, created_at, updated_at, COALESCE(embedding_id,'')
			 FROM facts WHERE category = ? ORDER BY updated_at DESC LIMIT ?`, category, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, category, content, COALESCE(source_message_id,''), confidence, created_at, updated_at, COALESCE(embedding_id,'')
			 FROM facts ORDER BY updated_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("memstore: get facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// SearchFacts performs the substring fallback search spec.md's Context
// Builder falls back to when no vector store is configured.
func (s *Store) SearchFacts(ctx context.Context, query string, limit int) ([]store.Fact, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, category, content, COALESCE(source_message_id,''), confidence, created_at, updated_at, COALESCE(embedding_id,'')
		 FROM facts WHERE content LIKE ? ORDER BY confidence DESC LIMIT ?`,
		"%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("memstore: search facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

func scanFacts(rows *sql.Rows) ([]store.Fact, error) {
	var out []store.Fact
	for rows.Next() {
		var f store.Fact
		if err := rows.Scan(&f.ID, &f.Category, &f.Content, &f.SourceMessageID, &f.Confidence, &f.CreatedAt, &f.UpdatedAt, &f.EmbeddingID); err != nil {
			return nil, fmt.Errorf("memstore: scan fact: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// --- Cost tracking ---

func (s *Store) RecordCost(ctx context.Context, row store.CostRow) (string, error) {
	row.ID = newID()
	row.Timestamp = nowISO()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cost_tracking (id, timestamp, provider, model, input_tokens, output_tokens, cost_usd, channel, skill, conversation_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.Timestamp, row.Provider, row.Model, row.InputTokens, row.OutputTokens, row.CostUSD,
		nullable(row.Channel), nullable(row.Skill), nullable(row.ConversationID))
	if err != nil {
		return "", fmt.Errorf("memstore: record cost: %w", err)
	}
	return row.ID, nil
}

// GetTodayCost returns today's aggregate cost in UTC, the value
// check_budget() compares against the configured daily budget.
func (s *Store) GetTodayCost(ctx context.Context) (float64, error) {
	today := time.Now().UTC().Format("2006-01-02")
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0.0) FROM cost_tracking WHERE substr(timestamp, 1, 10) = ?`, today).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("memstore: get today cost: %w", err)
	}
	return total, nil
}

func (s *Store) GetCostSummary(ctx context.Context, days int) ([]store.CostSummaryRow, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx,
		`SELECT substr(timestamp, 1, 10) as day, provider, model,
		        SUM(input_tokens), SUM(output_tokens), SUM(cost_usd)
		 FROM cost_tracking WHERE timestamp >= ?
		 GROUP BY day, provider, model ORDER BY day DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("memstore: get cost summary: %w", err)
	}
	defer rows.Close()
	var out []store.CostSummaryRow
	for rows.Next() {
		var r store.CostSummaryRow
		if err := rows.Scan(&r.Day, &r.Provider, &r.Model, &r.InputTokens, &r.OutputTokens, &r.CostUSD); err != nil {
			return nil, fmt.Errorf("memstore: scan cost summary: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Maintenance ---

func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&v); err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return 0, nil
		}
		return 0, fmt.Errorf("memstore: schema version: %w", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	stats := map[string]int{}
	for _, table := range []string{"conversations", "messages", "facts", "cost_tracking"} {
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("memstore: stats %s: %w", table, err)
		}
		stats[table] = n
	}
	return stats, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

var _ store.MemoryStore = (*Store)(nil)
