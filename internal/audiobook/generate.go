package audiobook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openreader/audiobookd/internal/media"
	"github.com/openreader/audiobookd/internal/store"
)

// Service is the generation orchestrator: the entry point the HTTP layer
// calls for "ingest next chapter", "regenerate chapter i", "fetch the full
// book", and "reset". Operations on the same book are serialized with a
// per-book lock; different books proceed concurrently.
type Service struct {
	chapters  *ChapterStore
	assembler *Assembler
	records   store.RecordStore
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService wires an orchestrator over the chapter store and assembler.
func NewService(chapters *ChapterStore, assembler *Assembler, records store.RecordStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		chapters:  chapters,
		assembler: assembler,
		records:   records,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockBook serializes writers of one book. The lock map only grows; book ids
// are few and small, so entries are never evicted.
func (s *Service) lockBook(bookID string) func() {
	s.mu.Lock()
	l, ok := s.locks[bookID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[bookID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// IngestInput carries one chapter-ingestion request.
type IngestInput struct {
	// BookID is optional; a new id is generated when empty. Caller-supplied
	// ids must be URL and filesystem safe.
	BookID  string
	OwnerID string
	Title   string
	Audio   []byte
	// Format is the requested container format; existing chapters win.
	Format media.Format
	// Index, when non-nil, pins the chapter index instead of allocating the
	// next free one.
	Index *int
	// Settings is the generation-settings snapshot accompanying the request.
	Settings *Settings
}

// ChapterResult reports a stored chapter back to the caller.
type ChapterResult struct {
	BookID   string
	Index    int
	Title    string
	Duration float64
	Format   media.Format
}

// IngestChapter stores one chapter of an audiobook, creating the book on
// first use. When the book already has chapters, the request's settings and
// format must match what the book was started with.
func (s *Service) IngestChapter(ctx context.Context, in IngestInput) (*ChapterResult, error) {
	bookID, err := resolveBookID(in.BookID)
	if err != nil {
		return nil, err
	}
	if in.Index != nil && *in.Index < 0 {
		return nil, ErrInvalidIndex
	}

	unlock := s.lockBook(bookID)
	defer unlock()

	return s.ingestLocked(ctx, bookID, in, true, false)
}

// RegenerateChapter replaces the chapter at an explicit index. It skips the
// settings-mismatch check: regeneration is expected to use the caller's
// current settings. The chapter must already exist; regeneration never
// grows the book.
func (s *Service) RegenerateChapter(ctx context.Context, in IngestInput) (*ChapterResult, error) {
	if in.BookID == "" || !ValidBookID(in.BookID) {
		return nil, ErrInvalidBookID
	}
	if in.Index == nil || *in.Index < 0 {
		return nil, ErrInvalidIndex
	}

	unlock := s.lockBook(in.BookID)
	defer unlock()

	if _, err := s.bookExists(ctx, in.BookID); err != nil {
		return nil, err
	}
	return s.ingestLocked(ctx, in.BookID, in, false, true)
}

func (s *Service) ingestLocked(ctx context.Context, bookID string, in IngestInput, checkSettings, requireChapter bool) (*ChapterResult, error) {
	book, err := s.records.GetBook(ctx, bookID, ownerScope(in.OwnerID))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up book: %w", err)
	}

	existing, err := s.chapters.List(ctx, bookID)
	if err != nil {
		return nil, err
	}

	if requireChapter {
		found := false
		for _, ch := range existing {
			if in.Index != nil && ch.Index == *in.Index {
				found = true
				break
			}
		}
		if !found {
			return nil, ErrChapterNotFound
		}
	}

	if checkSettings && book != nil && len(existing) > 0 && len(book.Settings) > 0 && in.Settings != nil {
		var stored Settings
		if err := json.Unmarshal(book.Settings, &stored); err != nil {
			s.logger.Warn("discarding unreadable stored settings", "book_id", bookID, "error", err)
		} else if fields := stored.Diff(*in.Settings); len(fields) > 0 {
			return nil, &SettingsMismatchError{Stored: stored, Fields: fields}
		}
	}

	format := in.Format
	if len(existing) > 0 {
		if format != "" && format != existing[0].Format {
			return nil, ErrFormatConflict
		}
		format = existing[0].Format
	}
	if format == "" {
		format = media.FormatMP3
	}

	index := 0
	if in.Index != nil {
		index = *in.Index
	} else {
		next := 0
		for _, ch := range existing {
			if ch.Index != next {
				break
			}
			next++
		}
		index = next
	}

	var tempo float64
	if in.Settings != nil {
		tempo = in.Settings.PostSpeed
	}

	result, err := s.chapters.Ingest(ctx, IngestRequest{
		BookID:  bookID,
		OwnerID: in.OwnerID,
		Index:   index,
		Title:   in.Title,
		Audio:   in.Audio,
		Format:  format,
		Tempo:   tempo,
	})
	if err != nil {
		return nil, err
	}

	if err := s.recordBook(ctx, bookID, book, in, format); err != nil {
		// The chapter is durably stored; a failed book upsert only loses the
		// settings snapshot.
		s.logger.Warn("failed to record book metadata", "book_id", bookID, "error", err)
	}

	return &ChapterResult{
		BookID:   bookID,
		Index:    index,
		Title:    in.Title,
		Duration: result.Duration,
		Format:   format,
	}, nil
}

// recordBook creates the book record on first ingest and records the
// settings snapshot once.
func (s *Service) recordBook(ctx context.Context, bookID string, book *store.BookRecord, in IngestInput, format media.Format) error {
	now := time.Now().UTC()
	rec := store.BookRecord{
		ID:        bookID,
		OwnerID:   in.OwnerID,
		Format:    string(format),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if book != nil {
		rec.OwnerID = book.OwnerID
		rec.Title = book.Title
		rec.Settings = book.Settings
		rec.CreatedAt = book.CreatedAt
	}
	if len(rec.Settings) == 0 && in.Settings != nil && !in.Settings.IsZero() {
		data, err := json.Marshal(in.Settings)
		if err != nil {
			return fmt.Errorf("failed to encode settings: %w", err)
		}
		rec.Settings = data
	}
	if rec.Title == "" {
		rec.Title = in.Title
	}
	return s.records.UpsertBook(ctx, rec)
}

// FullBook returns the assembled audiobook for the book, in the chapters'
// stored format.
func (s *Service) FullBook(ctx context.Context, bookID string, requested media.Format) ([]byte, media.Format, error) {
	if bookID == "" || !ValidBookID(bookID) {
		return nil, "", ErrInvalidBookID
	}
	return s.assembler.FullBook(ctx, bookID, requested)
}

// ListChapters returns the book's chapters for display.
func (s *Service) ListChapters(ctx context.Context, bookID string) ([]Chapter, error) {
	if bookID == "" || !ValidBookID(bookID) {
		return nil, ErrInvalidBookID
	}
	return s.chapters.List(ctx, bookID)
}

// ChapterAudio returns the stored audio bytes of one chapter.
func (s *Service) ChapterAudio(ctx context.Context, bookID string, index int) ([]byte, *Chapter, error) {
	if bookID == "" || !ValidBookID(bookID) {
		return nil, nil, ErrInvalidBookID
	}
	if index < 0 {
		return nil, nil, ErrInvalidIndex
	}
	chapters, err := s.chapters.List(ctx, bookID)
	if err != nil {
		return nil, nil, err
	}
	for _, ch := range chapters {
		if ch.Index != index {
			continue
		}
		data, err := s.chapters.objects.Get(ctx, bookID+"/"+ch.FileName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to fetch chapter %d: %w", index, err)
		}
		return data, &ch, nil
	}
	return nil, nil, ErrChapterNotFound
}

// Reset deletes the book, its chapters, and any assembled artifact. It
// reports whether the book existed and is idempotent.
func (s *Service) Reset(ctx context.Context, bookID, ownerID string) (bool, error) {
	if bookID == "" || !ValidBookID(bookID) {
		return false, ErrInvalidBookID
	}

	unlock := s.lockBook(bookID)
	defer unlock()

	return s.chapters.Remove(ctx, bookID, ownerID)
}

// bookExists confirms the book has a record or stored chapters.
func (s *Service) bookExists(ctx context.Context, bookID string) (bool, error) {
	if _, err := s.records.GetBook(ctx, bookID, nil); err == nil {
		return true, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("failed to look up book: %w", err)
	}
	chapters, err := s.chapters.List(ctx, bookID)
	if err != nil {
		return false, err
	}
	if len(chapters) == 0 {
		return false, ErrBookNotFound
	}
	return true, nil
}

func resolveBookID(id string) (string, error) {
	if id == "" {
		return uuid.NewString(), nil
	}
	if !ValidBookID(id) {
		return "", ErrInvalidBookID
	}
	return id, nil
}

func ownerScope(ownerID string) []string {
	if ownerID == "" {
		return nil
	}
	return []string{ownerID}
}
