package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRecordStore keeps book and chapter records in Postgres. It is the
// backend for multi-instance deployments where the filesystem store cannot be
// shared.
type PostgresRecordStore struct {
	db *pgxpool.Pool
}

// NewPostgresRecordStore connects a record store to an existing pool.
func NewPostgresRecordStore(db *pgxpool.Pool) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

// EnsureSchema creates the record tables if they do not exist.
func (s *PostgresRecordStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS audiobook_books (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL DEFAULT '',
	format     TEXT NOT NULL DEFAULT '',
	settings   JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS audiobook_chapters (
	book_id    TEXT NOT NULL,
	owner_id   TEXT NOT NULL DEFAULT '',
	idx        INTEGER NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	duration   DOUBLE PRECISION NOT NULL DEFAULT 0,
	format     TEXT NOT NULL DEFAULT '',
	file_name  TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (book_id, idx)
);`
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure record schema: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) UpsertBook(ctx context.Context, book BookRecord) error {
	const q = `
INSERT INTO audiobook_books (id, owner_id, title, format, settings, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	owner_id = EXCLUDED.owner_id,
	title = EXCLUDED.title,
	format = EXCLUDED.format,
	settings = EXCLUDED.settings,
	updated_at = EXCLUDED.updated_at`
	if _, err := s.db.Exec(ctx, q, book.ID, book.OwnerID, book.Title, book.Format, book.Settings, book.CreatedAt, book.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert book %s: %w", book.ID, err)
	}
	return nil
}

func (s *PostgresRecordStore) GetBook(ctx context.Context, id string, allowedOwners []string) (*BookRecord, error) {
	const q = `
SELECT id, owner_id, title, format, settings, created_at, updated_at
FROM audiobook_books WHERE id = $1`
	var book BookRecord
	err := s.db.QueryRow(ctx, q, id).Scan(
		&book.ID, &book.OwnerID, &book.Title, &book.Format,
		&book.Settings, &book.CreatedAt, &book.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get book %s: %w", id, err)
	}
	if !ownerAllowed(book.OwnerID, allowedOwners) {
		return nil, ErrNotFound
	}
	return &book, nil
}

func (s *PostgresRecordStore) DeleteBook(ctx context.Context, id, ownerID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM audiobook_books WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete book %s: %w", id, err)
	}
	return nil
}

func (s *PostgresRecordStore) UpsertChapter(ctx context.Context, ch ChapterRecord) error {
	const q = `
INSERT INTO audiobook_chapters (book_id, owner_id, idx, title, duration, format, file_name, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (book_id, idx) DO UPDATE SET
	owner_id = EXCLUDED.owner_id,
	title = EXCLUDED.title,
	duration = EXCLUDED.duration,
	format = EXCLUDED.format,
	file_name = EXCLUDED.file_name,
	updated_at = EXCLUDED.updated_at`
	if _, err := s.db.Exec(ctx, q, ch.BookID, ch.OwnerID, ch.Index, ch.Title, ch.Duration, ch.Format, ch.FileName, ch.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert chapter %s/%d: %w", ch.BookID, ch.Index, err)
	}
	return nil
}

func (s *PostgresRecordStore) ListChapters(ctx context.Context, bookID string) ([]ChapterRecord, error) {
	const q = `
SELECT book_id, owner_id, idx, title, duration, format, file_name, updated_at
FROM audiobook_chapters WHERE book_id = $1 ORDER BY idx`
	rows, err := s.db.Query(ctx, q, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chapters for %s: %w", bookID, err)
	}
	defer rows.Close()

	var chapters []ChapterRecord
	for rows.Next() {
		var ch ChapterRecord
		if err := rows.Scan(&ch.BookID, &ch.OwnerID, &ch.Index, &ch.Title, &ch.Duration, &ch.Format, &ch.FileName, &ch.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chapter row: %w", err)
		}
		chapters = append(chapters, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chapter rows: %w", err)
	}
	return chapters, nil
}

func (s *PostgresRecordStore) DeleteChapters(ctx context.Context, bookID, ownerID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM audiobook_chapters WHERE book_id = $1`, bookID); err != nil {
		return fmt.Errorf("failed to delete chapters for %s: %w", bookID, err)
	}
	return nil
}
