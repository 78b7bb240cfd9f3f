// Package audiobook implements the chapter generation pipeline: per-chapter
// ingestion and storage, gap-aware index allocation, and deterministic
// whole-book assembly with chapter-mark metadata and artifact caching.
package audiobook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openreader/audiobookd/internal/media"
)

var (
	// ErrInvalidBookID means a caller-supplied book id is not URL and
	// filesystem safe.
	ErrInvalidBookID = errors.New("invalid book id")

	// ErrInvalidIndex means an explicit chapter index is negative or not an
	// integer.
	ErrInvalidIndex = errors.New("invalid chapter index")

	// ErrBookNotFound means the book has no record and no stored chapters.
	ErrBookNotFound = errors.New("book not found")

	// ErrChapterNotFound means the book has no chapter at the requested
	// index.
	ErrChapterNotFound = errors.New("chapter not found")

	// ErrNoChapters means assembly was requested for a book with no stored
	// chapters.
	ErrNoChapters = errors.New("no chapters found")

	// ErrMixedFormats means the stored chapters do not share one container
	// format. The book must be reset before it can be assembled.
	ErrMixedFormats = errors.New("chapters have mixed formats")

	// ErrFormatConflict means an ingest requested a format different from
	// the format the book's existing chapters already use.
	ErrFormatConflict = errors.New("chapter format conflicts with existing chapters")
)

// SettingsMismatchError is returned when an ingest carries generation
// settings that differ from the settings recorded for the book. It carries
// the stored settings so the caller can surface them.
type SettingsMismatchError struct {
	Stored Settings
	Fields []string
}

func (e *SettingsMismatchError) Error() string {
	return fmt.Sprintf("generation settings mismatch (fields: %s)", strings.Join(e.Fields, ", "))
}

// IsCancelled reports whether err represents a caller-initiated abort,
// whether it surfaced from a killed transcode subprocess or from a storage
// call observing the cancelled context.
func IsCancelled(err error) bool {
	return errors.Is(err, media.ErrCancelled) || errors.Is(err, context.Canceled)
}
