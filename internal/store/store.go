// Package store provides the pluggable storage backends for audiobook data:
// a byte-object store for encoded audio and a record store for book/chapter
// metadata. The core pipeline is written against the two interfaces so the
// same logic runs against local files, a remote object bucket, a relational
// database, or in-memory fakes in tests.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by reads of absent objects or records.
var ErrNotFound = errors.New("not found")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	// Key is the full object key, e.g. "bookid/001__Intro.mp3".
	Key string
	// Size is the object size in bytes when known (0 otherwise).
	Size int64
}

// ObjectStore is a flat key/value byte store. Keys are forward-slash paths
// whose first segment is the book id.
type ObjectStore interface {
	// Put stores data under key, replacing any existing object. The write
	// must not be observable half-done by concurrent readers.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get returns the object bytes, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns all objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes one object. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every object whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// BookRecord is the persisted metadata for one audiobook.
type BookRecord struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Title   string `json:"title"`
	// Format is the container format shared by every chapter ("mp3"/"m4b").
	Format string `json:"format"`
	// Settings is the recorded generation-settings snapshot (opaque JSON),
	// used only for consistency checking across resumed sessions.
	Settings  []byte    `json:"settings,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChapterRecord is the persisted metadata for one chapter.
type ChapterRecord struct {
	BookID  string `json:"bookId"`
	OwnerID string `json:"ownerId"`
	Index   int    `json:"index"`
	Title   string `json:"title"`
	// Duration is the probed duration in seconds, authoritative once set.
	Duration float64 `json:"duration"`
	Format   string  `json:"format"`
	// FileName is the canonical object file name for this chapter.
	FileName  string    `json:"fileName"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RecordStore persists book and chapter metadata. Lookups are keyed by
// (bookID, ownerID); chapter listings come back sorted by index ascending.
type RecordStore interface {
	// UpsertBook creates or updates a book record.
	UpsertBook(ctx context.Context, book BookRecord) error

	// GetBook returns the book record, or ErrNotFound. When allowedOwners is
	// non-empty the record must belong to one of them.
	GetBook(ctx context.Context, id string, allowedOwners []string) (*BookRecord, error)

	// DeleteBook removes the book record. Idempotent.
	DeleteBook(ctx context.Context, id, ownerID string) error

	// UpsertChapter creates or replaces the chapter record at
	// (BookID, Index).
	UpsertChapter(ctx context.Context, ch ChapterRecord) error

	// ListChapters returns all chapter records for the book, sorted by index
	// ascending. An unknown book yields an empty list, not an error.
	ListChapters(ctx context.Context, bookID string) ([]ChapterRecord, error)

	// DeleteChapters removes every chapter record for the book. Idempotent.
	DeleteChapters(ctx context.Context, bookID, ownerID string) error
}

func ownerAllowed(ownerID string, allowedOwners []string) bool {
	if len(allowedOwners) == 0 {
		return true
	}
	for _, o := range allowedOwners {
		if o == ownerID {
			return true
		}
	}
	return false
}
