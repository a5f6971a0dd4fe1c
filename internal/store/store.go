// Package store provides the SQLite-backed persistence collaborator: durable
// agent profiles, per-session conversation transcripts, detected lead
// signals, a per-source ingestion ledger, and daily analytics counters.
// The core engines never write here directly — the server and CLI layers
// persist the structured results the engines return.
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

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/thisal-thulnith/agent-flow-sub001/internal/leads"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/schema"
)

// ErrNotFound is returned when a requested agent does not exist.
var ErrNotFound = errors.New("store: not found")

// SourceRecord is one row of the per-agent ingestion ledger.
type SourceRecord struct {
	// SourceID identifies the source within the agent's knowledge base.
	SourceID string `json:"source_id"`
	// Kind is the source kind it was ingested as (document, url, faq).
	Kind string `json:"kind"`
	// Name is the human-readable source label.
	Name string `json:"name"`
	// ChunkCount is the number of chunks the last ingestion wrote.
	ChunkCount int `json:"chunk_count"`
	// IngestedAt is when the source was last (re-)ingested.
	IngestedAt time.Time `json:"ingested_at"`
}

// SQLiteStore is the persistence collaborator backed by a local SQLite
// database. It also implements leads.Sink. Safe for concurrent use.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default database path, ~/.agentflow/agentflow.db,
// creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".agentflow")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "agentflow.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS agents (
    id          TEXT PRIMARY KEY,
    profile     TEXT    NOT NULL,  -- JSON field map
    created_at  INTEGER NOT NULL,  -- Unix timestamp (seconds)
    updated_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS conversations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id    TEXT    NOT NULL,
    session_id  TEXT    NOT NULL,
    role        TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content     TEXT    NOT NULL,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_session
    ON conversations (agent_id, session_id, created_at);
CREATE TABLE IF NOT EXISTS lead_signals (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id    TEXT    NOT NULL,
    session_id  TEXT    NOT NULL DEFAULT '',
    name        TEXT    NOT NULL DEFAULT '',
    email       TEXT    NOT NULL DEFAULT '',
    phone       TEXT    NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lead_signals_agent
    ON lead_signals (agent_id, created_at);
CREATE TABLE IF NOT EXISTS sources (
    agent_id    TEXT    NOT NULL,
    source_id   TEXT    NOT NULL,
    kind        TEXT    NOT NULL,
    name        TEXT    NOT NULL DEFAULT '',
    chunk_count INTEGER NOT NULL,
    ingested_at INTEGER NOT NULL,
    PRIMARY KEY (agent_id, source_id)
);
CREATE TABLE IF NOT EXISTS daily_stats (
    agent_id    TEXT    NOT NULL,
    day         TEXT    NOT NULL,  -- YYYY-MM-DD (UTC)
    metric      TEXT    NOT NULL,
    count       INTEGER NOT NULL,
    PRIMARY KEY (agent_id, day, metric)
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// SaveAgent inserts or replaces an agent profile.
func (s *SQLiteStore) SaveAgent(ctx context.Context, id string, profile schema.ExtractionRecord) error {
	blob, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("store: marshal profile: %w", err)
	}
	now := time.Now().Unix()
	const q = `
INSERT INTO agents (id, profile, created_at, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET profile = excluded.profile, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, q, id, string(blob), now, now); err != nil {
		return fmt.Errorf("store: save agent: %w", err)
	}
	return nil
}

// GetAgent returns the profile stored for id, or ErrNotFound.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (schema.ExtractionRecord, error) {
	const q = `SELECT profile FROM agents WHERE id = ?`
	var blob string
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: agent %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get agent: %w", err)
	}
	var profile schema.ExtractionRecord
	if err := json.Unmarshal([]byte(blob), &profile); err != nil {
		return nil, fmt.Errorf("store: unmarshal profile of %q: %w", id, err)
	}
	return profile, nil
}

// DeleteAgent removes the agent and everything keyed to it: conversations,
// lead signals, the source ledger, and analytics counters.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: delete agent begin: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM agents WHERE id = ?`,
		`DELETE FROM conversations WHERE agent_id = ?`,
		`DELETE FROM lead_signals WHERE agent_id = ?`,
		`DELETE FROM sources WHERE agent_id = ?`,
		`DELETE FROM daily_stats WHERE agent_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("store: delete agent: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: delete agent commit: %w", err)
	}
	return nil
}

// AppendTurn persists one conversation turn for (agent, session).
func (s *SQLiteStore) AppendTurn(ctx context.Context, agentID, sessionID string, role schema.Role, content string) error {
	const q = `INSERT INTO conversations (agent_id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, agentID, sessionID, string(role), content, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: append turn: %w", err)
	}
	return nil
}

// RecentTurns returns the most recent n turns of (agent, session), ordered
// oldest-first so they slot straight into the prompt history.
func (s *SQLiteStore) RecentTurns(ctx context.Context, agentID, sessionID string, n int) (schema.Transcript, error) {
	const q = `
SELECT role, content FROM (
    SELECT id, role, content, created_at
    FROM   conversations
    WHERE  agent_id = ? AND session_id = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, agentID, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent turns: %w", err)
	}
	defer rows.Close()

	var out schema.Transcript
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("store: recent turns scan: %w", err)
		}
		out = append(out, schema.ConversationTurn{Role: schema.Role(role), Text: content})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent turns rows: %w", err)
	}
	return out, nil
}

// Record persists a detected lead signal and bumps the daily leads counter.
// This satisfies leads.Sink so the store can be wired directly into the
// answering engine.
func (s *SQLiteStore) Record(ctx context.Context, sig leads.Signal) error {
	const q = `INSERT INTO lead_signals (agent_id, session_id, name, email, phone, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, sig.AgentID, sig.SessionID, sig.Name, sig.Email, sig.Phone, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: record lead: %w", err)
	}
	return s.IncrementStat(ctx, sig.AgentID, "leads")
}

// LeadsFor returns the lead signals recorded for an agent, newest first,
// capped at limit.
func (s *SQLiteStore) LeadsFor(ctx context.Context, agentID string, limit int) ([]leads.Signal, error) {
	const q = `
SELECT session_id, name, email, phone FROM lead_signals
WHERE agent_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: leads for %q: %w", agentID, err)
	}
	defer rows.Close()

	var out []leads.Signal
	for rows.Next() {
		sig := leads.Signal{AgentID: agentID}
		if err := rows.Scan(&sig.SessionID, &sig.Name, &sig.Email, &sig.Phone); err != nil {
			return nil, fmt.Errorf("store: leads scan: %w", err)
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: leads rows: %w", err)
	}
	return out, nil
}

// UpsertSource records the outcome of a source ingestion in the ledger.
func (s *SQLiteStore) UpsertSource(ctx context.Context, agentID, sourceID, kind, name string, chunkCount int) error {
	const q = `
INSERT INTO sources (agent_id, source_id, kind, name, chunk_count, ingested_at) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(agent_id, source_id) DO UPDATE SET
    kind = excluded.kind, name = excluded.name,
    chunk_count = excluded.chunk_count, ingested_at = excluded.ingested_at`
	if _, err := s.db.ExecContext(ctx, q, agentID, sourceID, kind, name, chunkCount, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: upsert source: %w", err)
	}
	return nil
}

// DeleteSource drops one entry from the ledger.
func (s *SQLiteStore) DeleteSource(ctx context.Context, agentID, sourceID string) error {
	const q = `DELETE FROM sources WHERE agent_id = ? AND source_id = ?`
	if _, err := s.db.ExecContext(ctx, q, agentID, sourceID); err != nil {
		return fmt.Errorf("store: delete source: %w", err)
	}
	return nil
}

// Sources lists the ingestion ledger for an agent, newest first.
func (s *SQLiteStore) Sources(ctx context.Context, agentID string) ([]SourceRecord, error) {
	const q = `
SELECT source_id, kind, name, chunk_count, ingested_at
FROM sources WHERE agent_id = ? ORDER BY ingested_at DESC`

	rows, err := s.db.QueryContext(ctx, q, agentID)
	if err != nil {
		return nil, fmt.Errorf("store: sources for %q: %w", agentID, err)
	}
	defer rows.Close()

	var out []SourceRecord
	for rows.Next() {
		var r SourceRecord
		var ts int64
		if err := rows.Scan(&r.SourceID, &r.Kind, &r.Name, &r.ChunkCount, &ts); err != nil {
			return nil, fmt.Errorf("store: sources scan: %w", err)
		}
		r.IngestedAt = time.Unix(ts, 0)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: sources rows: %w", err)
	}
	return out, nil
}

// IncrementStat bumps the named counter for today's UTC date.
func (s *SQLiteStore) IncrementStat(ctx context.Context, agentID, metric string) error {
	day := time.Now().UTC().Format("2006-01-02")
	const q = `
INSERT INTO daily_stats (agent_id, day, metric, count) VALUES (?, ?, ?, 1)
ON CONFLICT(agent_id, day, metric) DO UPDATE SET count = count + 1`
	if _, err := s.db.ExecContext(ctx, q, agentID, day, metric); err != nil {
		return fmt.Errorf("store: increment stat: %w", err)
	}
	return nil
}

// StatsFor returns the counters recorded for an agent on one UTC day
// (format 2006-01-02).
func (s *SQLiteStore) StatsFor(ctx context.Context, agentID, day string) (map[string]int, error) {
	const q = `SELECT metric, count FROM daily_stats WHERE agent_id = ? AND day = ?`
	rows, err := s.db.QueryContext(ctx, q, agentID, day)
	if err != nil {
		return nil, fmt.Errorf("store: stats for %q: %w", agentID, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var metric string
		var count int
		if err := rows.Scan(&metric, &count); err != nil {
			return nil, fmt.Errorf("store: stats scan: %w", err)
		}
		out[metric] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: stats rows: %w", err)
	}
	return out, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
