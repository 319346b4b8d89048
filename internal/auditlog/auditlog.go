// Package auditlog persists the extraction audit trail and pipeline event
// history in a local DuckDB database.
package auditlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
)

const schemaSequencesSQL = `
CREATE SEQUENCE IF NOT EXISTS extraction_audit_id_seq;
CREATE SEQUENCE IF NOT EXISTS extraction_events_id_seq;
`

const schemaTablesSQL = `
CREATE TABLE IF NOT EXISTS extraction_audit (
    audit_id    BIGINT PRIMARY KEY DEFAULT nextval('extraction_audit_id_seq'),
    extractor   VARCHAR NOT NULL,
    ticket_key  VARCHAR NOT NULL,
    file_name   VARCHAR NOT NULL,
    file_path   VARCHAR NOT NULL,
    created_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS extraction_events (
    event_id    BIGINT PRIMARY KEY DEFAULT nextval('extraction_events_id_seq'),
    ticket_key  VARCHAR NOT NULL,
    state       VARCHAR NOT NULL,
    message     VARCHAR,
    event_time  TIMESTAMP NOT NULL,
    duration_ms BIGINT
);
CREATE INDEX IF NOT EXISTS idx_extraction_audit_ticket ON extraction_audit (ticket_key, created_at);
CREATE INDEX IF NOT EXISTS idx_extraction_events_ticket ON extraction_events (ticket_key, event_time);
`

// Store owns the audit database connection. Appends are atomic row inserts,
// safe for concurrent pipeline runs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the DuckDB audit database at path and initializes
// the schema. Use ":memory:" for an in-memory store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database %s: %w", path, err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit database %s: %w", path, err)
	}
	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initializeSchema(db *sql.DB) error {
	// Sequences first, then the tables referencing them.
	if _, err := db.Exec(schemaSequencesSQL); err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("create audit sequences: %w", err)
	}
	if _, err := db.Exec(schemaTablesSQL); err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("create audit tables: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// AppendAudit records one completed extraction run.
func (s *Store) AppendAudit(ctx context.Context, extractor, ticketKey, fileName, filePath string, createdAt time.Time) error {
	const query = `
        INSERT INTO extraction_audit (extractor, ticket_key, file_name, file_path, created_at)
        VALUES (?, ?, ?, ?, ?);
    `
	if _, err := s.db.ExecContext(ctx, query, extractor, ticketKey, fileName, filePath, createdAt.UTC()); err != nil {
		return fmt.Errorf("append audit row for %s: %w", ticketKey, err)
	}
	return nil
}

// LogEvent records one pipeline state transition for a ticket.
func (s *Store) LogEvent(ctx context.Context, ticketKey, state, message string, duration time.Duration) error {
	const query = `
        INSERT INTO extraction_events (ticket_key, state, message, event_time, duration_ms)
        VALUES (?, ?, ?, ?, ?);
    `
	var durationMs sql.NullInt64
	if duration > 0 {
		durationMs = sql.NullInt64{Int64: duration.Milliseconds(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		ticketKey,
		state,
		sql.NullString{String: message, Valid: message != ""},
		time.Now().UTC(),
		durationMs,
	)
	if err != nil {
		return fmt.Errorf("log event %s for %s: %w", state, ticketKey, err)
	}
	return nil
}

// AuditRecord is one row of the extraction audit trail.
type AuditRecord struct {
	Extractor string
	TicketKey string
	FileName  string
	FilePath  string
	CreatedAt time.Time
}

// RecentAudits returns the newest audit rows, most recent first.
func (s *Store) RecentAudits(ctx context.Context, limit int) ([]AuditRecord, error) {
	const query = `
        SELECT extractor, ticket_key, file_name, file_path, created_at
        FROM extraction_audit
        ORDER BY created_at DESC, audit_id DESC
        LIMIT ?;
    `
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var r AuditRecord
		if err := rows.Scan(&r.Extractor, &r.TicketKey, &r.FileName, &r.FilePath, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}
	return out, nil
}

// EventRecord is one pipeline state transition.
type EventRecord struct {
	TicketKey  string
	State      string
	Message    string
	EventTime  time.Time
	DurationMs int64
}

// RecentEvents returns the newest pipeline events, optionally filtered to one
// ticket key, most recent first.
func (s *Store) RecentEvents(ctx context.Context, ticketKey string, limit int) ([]EventRecord, error) {
	query := `
        SELECT ticket_key, state, message, event_time, duration_ms
        FROM extraction_events
    `
	args := []any{}
	if ticketKey != "" {
		query += " WHERE ticket_key = ?"
		args = append(args, ticketKey)
	}
	query += " ORDER BY event_time DESC, event_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query event history: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var r EventRecord
		var msg sql.NullString
		var dur sql.NullInt64
		if err := rows.Scan(&r.TicketKey, &r.State, &msg, &r.EventTime, &dur); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		r.Message = msg.String
		r.DurationMs = dur.Int64
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return out, nil
		}
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return out, nil
}
