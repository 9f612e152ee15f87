package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS artifacts (
		id                 TEXT PRIMARY KEY,
		origin             TEXT NOT NULL,
		created_at         INTEGER NOT NULL,
		last_accessed_at   INTEGER NOT NULL,
		size_bytes         INTEGER NOT NULL DEFAULT 0,
		has_transcription  INTEGER NOT NULL DEFAULT 0,
		transcription_path TEXT NOT NULL DEFAULT ''
	);
`

// Record is the persisted form of an artifact's metadata.
type Record struct {
	ID                string
	Origin            string
	CreatedAt         time.Time
	LastAccessedAt    time.Time
	SizeBytes         int64
	HasTranscription  bool
	TranscriptionPath string
}

// Catalog persists artifact metadata in SQLite.
type Catalog struct {
	db *sql.DB
}

// Open opens (creating if needed) the catalog database at path.
func Open(path string) (*Catalog, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create catalog schema: %w", err)
	}

	return &Catalog{db: db}, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Upsert inserts or replaces the record for r.ID.
func (c *Catalog) Upsert(ctx context.Context, r Record) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, origin, created_at, last_accessed_at, size_bytes, has_transcription, transcription_path)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			origin = excluded.origin,
			last_accessed_at = excluded.last_accessed_at,
			size_bytes = excluded.size_bytes,
			has_transcription = excluded.has_transcription,
			transcription_path = excluded.transcription_path
	`, r.ID, r.Origin, r.CreatedAt.UnixNano(), r.LastAccessedAt.UnixNano(),
		r.SizeBytes, r.HasTranscription, r.TranscriptionPath)
	if err != nil {
		return fmt.Errorf("upsert artifact %s: %w", r.ID, err)
	}
	return nil
}

// Delete removes the record for id. Deleting a missing record is not an error.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete artifact %s: %w", id, err)
	}
	return nil
}

// All returns every record ordered by creation time.
func (c *Catalog) All(ctx context.Context) ([]Record, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, origin, created_at, last_accessed_at, size_bytes, has_transcription, transcription_path
		FROM artifacts
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var createdAt, lastAccessedAt int64
		if err := rows.Scan(&r.ID, &r.Origin, &createdAt, &lastAccessedAt,
			&r.SizeBytes, &r.HasTranscription, &r.TranscriptionPath); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		r.CreatedAt = time.Unix(0, createdAt)
		r.LastAccessedAt = time.Unix(0, lastAccessedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}
