package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// timeFormat is the ISO 8601 format used for all timestamps in SQLite.
const timeFormat = "2006-01-02T15:04:05.000Z"

// SQLiteStore is the content index backed by a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dsn and initializes the schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite database: %w", err)
	}
	return s, nil
}

// initDB applies PRAGMAs and creates the tables. Safe to call repeatedly.
func (s *SQLiteStore) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS attachments (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			guid       TEXT NOT NULL,
			file       TEXT NOT NULL,
			mime_type  TEXT NOT NULL DEFAULT 'application/octet-stream',
			title      TEXT NOT NULL DEFAULT '',
			metadata   TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_attachments_file ON attachments(file);

		CREATE TABLE IF NOT EXISTS options (
			name  TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT ''
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (1, ?)`,
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}
	return nil
}

// Close closes the underlying SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// ---- Attachments ----

// InsertAttachment stores a new attachment and returns its ID. A zero
// CreatedAt is set to the current time.
func (s *SQLiteStore) InsertAttachment(ctx context.Context, a *Attachment) (int64, error) {
	if a.File == "" {
		return 0, fmt.Errorf("attachment has no file")
	}
	meta := "{}"
	if len(a.Metadata) > 0 {
		meta = string(a.Metadata)
	}
	mimeType := a.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO attachments (guid, file, mime_type, title, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.GUID, a.File, mimeType, a.Title, meta, created.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting attachment %q: %w", a.File, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading attachment id: %w", err)
	}
	return id, nil
}

// GetAttachment returns the attachment with the given ID, or nil if there
// is none.
func (s *SQLiteStore) GetAttachment(ctx context.Context, id int64) (*Attachment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, guid, file, mime_type, title, metadata, created_at
		 FROM attachments WHERE id = ?`,
		id,
	)
	a, err := scanAttachment(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting attachment %d: %w", id, err)
	}
	return a, nil
}

// AttachedFile returns the local path of an attachment, or "" when the ID
// is unknown.
func (s *SQLiteStore) AttachedFile(ctx context.Context, id int64) (string, error) {
	var file string
	err := s.db.QueryRowContext(ctx, `SELECT file FROM attachments WHERE id = ?`, id).Scan(&file)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolving attachment %d: %w", id, err)
	}
	return file, nil
}

// UpdateMetadata replaces the metadata of an attachment.
func (s *SQLiteStore) UpdateMetadata(ctx context.Context, id int64, meta json.RawMessage) error {
	if !json.Valid(meta) {
		return fmt.Errorf("metadata for attachment %d is not valid JSON", id)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE attachments SET metadata = ? WHERE id = ?`, string(meta), id)
	if err != nil {
		return fmt.Errorf("updating metadata of attachment %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("attachment %d not found", id)
	}
	return nil
}

// DeleteAttachment removes an attachment record. Deleting an unknown ID is
// not an error.
func (s *SQLiteStore) DeleteAttachment(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting attachment %d: %w", id, err)
	}
	return nil
}

// ListAttachments returns all attachments ordered by ID.
func (s *SQLiteStore) ListAttachments(ctx context.Context) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, guid, file, mime_type, title, metadata, created_at
		 FROM attachments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing attachments: %w", err)
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		a, err := scanAttachment(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning attachment: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attachments: %w", err)
	}
	return out, nil
}

func scanAttachment(scan func(dest ...any) error) (*Attachment, error) {
	var a Attachment
	var meta, created string
	if err := scan(&a.ID, &a.GUID, &a.File, &a.MimeType, &a.Title, &meta, &created); err != nil {
		return nil, err
	}
	a.Metadata = json.RawMessage(meta)
	a.CreatedAt, _ = time.Parse(timeFormat, created)
	return &a, nil
}

// ---- Options ----

// GetOption returns the value of an option, or "" if it was never set.
func (s *SQLiteStore) GetOption(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM options WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting option %q: %w", name, err)
	}
	return value, nil
}

// PutOption creates or replaces an option.
func (s *SQLiteStore) PutOption(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO options (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		name, value,
	)
	if err != nil {
		return fmt.Errorf("putting option %q: %w", name, err)
	}
	return nil
}
