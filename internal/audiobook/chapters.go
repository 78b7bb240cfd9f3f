package audiobook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/openreader/audiobookd/internal/media"
	"github.com/openreader/audiobookd/internal/store"
)

// Transcoder is the slice of the media transcoder the pipeline depends on.
// *media.Transcoder satisfies it; tests substitute a counting fake.
type Transcoder interface {
	Encode(ctx context.Context, input []byte, opts media.EncodeOptions) ([]byte, float64, error)
	ProbeDurationBytes(ctx context.Context, data []byte) (float64, error)
	Concat(ctx context.Context, job media.ConcatJob) ([]byte, error)
}

// Chapter is one stored chapter as seen by callers: the merged view of the
// chapter's object and its metadata record.
type Chapter struct {
	Index    int
	Title    string
	Duration float64
	Format   media.Format
	FileName string
}

// ChapterStore persists and retrieves individual chapter audio, keyed by
// (book id, chapter index), on top of the pluggable object and record
// stores.
type ChapterStore struct {
	objects store.ObjectStore
	records store.RecordStore
	tc      Transcoder
	logger  *slog.Logger
}

// NewChapterStore builds a chapter store over the given backends.
func NewChapterStore(objects store.ObjectStore, records store.RecordStore, tc Transcoder, logger *slog.Logger) *ChapterStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChapterStore{objects: objects, records: records, tc: tc, logger: logger}
}

// List returns the book's chapters sorted by index ascending. The object
// listing is the source of truth for which chapters exist; the record store
// contributes durations. Duplicate objects at one index (possible after a
// race) are collapsed to the lexicographically greatest file name.
func (s *ChapterStore) List(ctx context.Context, bookID string) ([]Chapter, error) {
	infos, err := s.objects.List(ctx, bookID+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list chapter objects: %w", err)
	}

	byIndex := make(map[int]Chapter)
	for _, info := range infos {
		name := strings.TrimPrefix(info.Key, bookID+"/")
		if IsArtifactFileName(name) {
			continue
		}
		index, title, format, err := ParseChapterFileName(name)
		if err != nil {
			s.logger.Warn("skipping unrecognized object", "book_id", bookID, "key", info.Key, "error", err)
			continue
		}
		if prev, ok := byIndex[index]; ok && prev.FileName >= name {
			continue
		}
		byIndex[index] = Chapter{Index: index, Title: title, Format: format, FileName: name}
	}

	records, err := s.records.ListChapters(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chapter records: %w", err)
	}
	for _, rec := range records {
		ch, ok := byIndex[rec.Index]
		if !ok || ch.FileName != rec.FileName {
			// Record for an object that no longer exists (or was replaced
			// under a new name without its record catching up).
			continue
		}
		ch.Duration = rec.Duration
		byIndex[rec.Index] = ch
	}

	chapters := make([]Chapter, 0, len(byIndex))
	for _, ch := range byIndex {
		chapters = append(chapters, ch)
	}
	sort.Slice(chapters, func(i, j int) bool { return chapters[i].Index < chapters[j].Index })
	return chapters, nil
}

// NextIndex returns the smallest non-negative index not already used by a
// stored chapter. Gaps left by cancelled sessions are filled first.
func (s *ChapterStore) NextIndex(ctx context.Context, bookID string) (int, error) {
	chapters, err := s.List(ctx, bookID)
	if err != nil {
		return 0, err
	}
	next := 0
	for _, ch := range chapters {
		if ch.Index != next {
			break
		}
		next++
	}
	return next, nil
}

// IngestRequest describes one chapter ingestion.
type IngestRequest struct {
	BookID  string
	OwnerID string
	Index   int
	Title   string
	Audio   []byte
	Format  media.Format
	// Tempo is the post-synthesis speed adjustment (0 or 1.0 = none).
	Tempo float64
}

// IngestResult reports a stored chapter.
type IngestResult struct {
	Duration float64
	FileName string
}

// Ingest transcodes the raw audio, stores it under the canonical chapter
// file name, removes any stale objects left at the same index by an earlier
// title, records the chapter metadata, and invalidates the assembled
// artifact. A transcode failure writes nothing; re-ingesting the same index
// is last-write-wins.
func (s *ChapterStore) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	encoded, duration, err := s.tc.Encode(ctx, req.Audio, media.EncodeOptions{
		Format: req.Format,
		Tempo:  req.Tempo,
		Title:  req.Title,
	})
	if err != nil {
		return nil, err
	}

	fileName := ChapterFileName(req.Index, req.Title, req.Format)
	key := req.BookID + "/" + fileName
	if err := s.objects.Put(ctx, key, encoded, req.Format.ContentType()); err != nil {
		return nil, fmt.Errorf("failed to store chapter object: %w", err)
	}

	s.cleanupIndex(ctx, req.BookID, req.Index, fileName)

	if err := s.records.UpsertChapter(ctx, store.ChapterRecord{
		BookID:    req.BookID,
		OwnerID:   req.OwnerID,
		Index:     req.Index,
		Title:     req.Title,
		Duration:  duration,
		Format:    string(req.Format),
		FileName:  fileName,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("failed to record chapter metadata: %w", err)
	}

	// The chapter set changed, so any assembled artifact is stale.
	InvalidateArtifacts(ctx, s.objects, s.logger, req.BookID)

	return &IngestResult{Duration: duration, FileName: fileName}, nil
}

// cleanupIndex deletes every other object stored at the chapter's index,
// which handles a retitled chapter leaving its old file behind. Best-effort:
// a failed delete leaves a duplicate that List's tie-break masks.
func (s *ChapterStore) cleanupIndex(ctx context.Context, bookID string, index int, keep string) {
	prefix := bookID + "/" + IndexPrefix(index)
	infos, err := s.objects.List(ctx, prefix)
	if err != nil {
		s.logger.Warn("failed to list stale chapter objects", "book_id", bookID, "index", index, "error", err)
		return
	}
	for _, info := range infos {
		name := strings.TrimPrefix(info.Key, bookID+"/")
		if name == keep {
			continue
		}
		if err := s.objects.Delete(ctx, info.Key); err != nil {
			s.logger.Warn("failed to delete stale chapter object", "key", info.Key, "error", err)
		}
	}
}

// Remove deletes all chapter objects, chapter records, and the book record.
// It reports whether the book existed, and is idempotent.
func (s *ChapterStore) Remove(ctx context.Context, bookID, ownerID string) (bool, error) {
	existed := false
	if _, err := s.records.GetBook(ctx, bookID, nil); err == nil {
		existed = true
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("failed to look up book: %w", err)
	}
	if !existed {
		infos, err := s.objects.List(ctx, bookID+"/")
		if err != nil {
			return false, fmt.Errorf("failed to list book objects: %w", err)
		}
		existed = len(infos) > 0
	}

	if err := s.objects.DeletePrefix(ctx, bookID+"/"); err != nil {
		return false, fmt.Errorf("failed to delete book objects: %w", err)
	}
	if err := s.records.DeleteChapters(ctx, bookID, ownerID); err != nil {
		return false, fmt.Errorf("failed to delete chapter records: %w", err)
	}
	if err := s.records.DeleteBook(ctx, bookID, ownerID); err != nil {
		return false, fmt.Errorf("failed to delete book record: %w", err)
	}
	return existed, nil
}
