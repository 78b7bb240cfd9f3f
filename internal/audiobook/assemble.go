package audiobook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/openreader/audiobookd/internal/media"
	"github.com/openreader/audiobookd/internal/store"
)

// ManifestEntry is one line of the artifact manifest: the (index, fileName)
// pair of a chapter that went into the assembled file.
type ManifestEntry struct {
	Index    int    `json:"index"`
	FileName string `json:"fileName"`
}

// Assembler concatenates a book's chapters into one deliverable file. The
// result is cached next to the chapters; the cache is valid exactly when the
// stored manifest equals the current chapter signature.
type Assembler struct {
	chapters    *ChapterStore
	objects     store.ObjectStore
	tc          Transcoder
	scratchRoot string
	logger      *slog.Logger
}

// NewAssembler builds an assembler. scratchRoot hosts the per-build staging
// directories; empty means the system temp dir.
func NewAssembler(chapters *ChapterStore, objects store.ObjectStore, tc Transcoder, scratchRoot string, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{chapters: chapters, objects: objects, tc: tc, scratchRoot: scratchRoot, logger: logger}
}

// FullBook returns the assembled audiobook bytes for the book, building and
// caching the artifact when the cached copy is missing or stale. The
// returned format is the chapters' actual format, which wins over the
// requested one.
func (a *Assembler) FullBook(ctx context.Context, bookID string, requested media.Format) ([]byte, media.Format, error) {
	chapters, err := a.chapters.List(ctx, bookID)
	if err != nil {
		return nil, "", err
	}
	if len(chapters) == 0 {
		return nil, "", ErrNoChapters
	}

	format := chapters[0].Format
	for _, ch := range chapters[1:] {
		if ch.Format != format {
			return nil, "", ErrMixedFormats
		}
	}
	if requested != "" && requested != format {
		// Chapters are the source of truth for format once they exist.
		a.logger.Warn("requested format ignored", "book_id", bookID, "requested", requested, "stored", format)
	}

	signature := make([]ManifestEntry, len(chapters))
	for i, ch := range chapters {
		signature[i] = ManifestEntry{Index: ch.Index, FileName: ch.FileName}
	}

	if cached, ok := a.cachedArtifact(ctx, bookID, format, signature); ok {
		return cached, format, nil
	}

	out, err := a.build(ctx, bookID, format, chapters)
	if err != nil {
		return nil, "", err
	}

	manifest, err := json.Marshal(signature)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := a.objects.Put(ctx, ArtifactKey(bookID, format), out, format.ContentType()); err != nil {
		return nil, "", fmt.Errorf("failed to store assembled artifact: %w", err)
	}
	if err := a.objects.Put(ctx, ManifestKey(bookID, format), manifest, "application/json"); err != nil {
		// Without a manifest the artifact can never validate; remove it so
		// the next request rebuilds cleanly.
		if delErr := a.objects.Delete(ctx, ArtifactKey(bookID, format)); delErr != nil {
			a.logger.Warn("failed to remove artifact after manifest failure", "book_id", bookID, "error", delErr)
		}
		return nil, "", fmt.Errorf("failed to store artifact manifest: %w", err)
	}

	return out, format, nil
}

// cachedArtifact returns the cached artifact bytes when the stored manifest
// exactly matches the current signature.
func (a *Assembler) cachedArtifact(ctx context.Context, bookID string, format media.Format, signature []ManifestEntry) ([]byte, bool) {
	stored, err := a.objects.Get(ctx, ManifestKey(bookID, format))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Warn("failed to read artifact manifest", "book_id", bookID, "error", err)
		}
		return nil, false
	}

	want, err := json.Marshal(signature)
	if err != nil || !bytes.Equal(stored, want) {
		// Stale: drop both halves before rebuilding so a concurrent reader
		// never pairs the old artifact with a half-updated manifest.
		a.Invalidate(ctx, bookID, format)
		return nil, false
	}

	artifact, err := a.objects.Get(ctx, ArtifactKey(bookID, format))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Warn("failed to read cached artifact", "book_id", bookID, "error", err)
		}
		return nil, false
	}
	return artifact, true
}

// build stages the chapter objects into a scratch directory, fills in any
// missing durations by probing, and runs the concatenation.
func (a *Assembler) build(ctx context.Context, bookID string, format media.Format, chapters []Chapter) ([]byte, error) {
	scratch, err := os.MkdirTemp(a.scratchRoot, "assemble-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			a.logger.Warn("failed to remove staging dir", "dir", scratch, "error", err)
		}
	}()

	inputs := make([]string, 0, len(chapters))
	marks := make([]media.ChapterMark, 0, len(chapters))
	for i, ch := range chapters {
		if err := ctx.Err(); err != nil {
			return nil, media.ErrCancelled
		}

		data, err := a.objects.Get(ctx, bookID+"/"+ch.FileName)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch chapter %d: %w", ch.Index, err)
		}

		duration := ch.Duration
		if duration <= 0 {
			duration, err = a.tc.ProbeDurationBytes(ctx, data)
			if err != nil {
				return nil, fmt.Errorf("failed to probe chapter %d: %w", ch.Index, err)
			}
		}

		staged := filepath.Join(scratch, fmt.Sprintf("%03d.%s", i, format.Ext()))
		if err := os.WriteFile(staged, data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to stage chapter %d: %w", ch.Index, err)
		}

		inputs = append(inputs, staged)
		marks = append(marks, media.ChapterMark{Title: ch.Title, Duration: duration})
	}

	return a.tc.Concat(ctx, media.ConcatJob{Format: format, Inputs: inputs, Chapters: marks})
}

// Invalidate removes the cached artifact and manifest for the given formats
// (all formats when none are named). Best-effort: failures are logged, never
// propagated, so chapter ingestion is not blocked by cache cleanup.
func (a *Assembler) Invalidate(ctx context.Context, bookID string, formats ...media.Format) {
	InvalidateArtifacts(ctx, a.objects, a.logger, bookID, formats...)
}

// InvalidateArtifacts deletes the artifact and manifest objects for the
// given formats of a book, defaulting to every known format.
func InvalidateArtifacts(ctx context.Context, objects store.ObjectStore, logger *slog.Logger, bookID string, formats ...media.Format) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(formats) == 0 {
		formats = []media.Format{media.FormatMP3, media.FormatM4B}
	}
	for _, f := range formats {
		for _, key := range []string{ManifestKey(bookID, f), ArtifactKey(bookID, f)} {
			if err := objects.Delete(ctx, key); err != nil {
				logger.Warn("failed to delete stale artifact object", "key", key, "error", err)
			}
		}
	}
}
