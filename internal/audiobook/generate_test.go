package audiobook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/openreader/audiobookd/internal/media"
	"github.com/openreader/audiobookd/internal/store"
)

// fakeTranscoder stands in for ffmpeg: Encode prefixes the input, Concat
// joins the staged files, and both count their calls so tests can assert
// cache hits.
type fakeTranscoder struct {
	encodeCalls int
	probeCalls  int
	concatCalls int

	encodeErr error
	duration  float64
}

func (f *fakeTranscoder) Encode(ctx context.Context, input []byte, opts media.EncodeOptions) ([]byte, float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, media.ErrCancelled
	}
	if f.encodeErr != nil {
		return nil, 0, f.encodeErr
	}
	f.encodeCalls++
	d := f.duration
	if d == 0 {
		d = 10.0
	}
	out := []byte(fmt.Sprintf("enc[%s|%s]", opts.Title, input))
	return out, d, nil
}

func (f *fakeTranscoder) ProbeDurationBytes(ctx context.Context, data []byte) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, media.ErrCancelled
	}
	f.probeCalls++
	return 10.0, nil
}

func (f *fakeTranscoder) Concat(ctx context.Context, job media.ConcatJob) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, media.ErrCancelled
	}
	f.concatCalls++
	var buf bytes.Buffer
	for _, p := range job.Inputs {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, &media.TranscodeError{Op: "concat", Err: err}
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

type pipeline struct {
	svc     *Service
	tc      *fakeTranscoder
	objects *store.MemObjectStore
	records *store.MemRecordStore
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	tc := &fakeTranscoder{}
	objects := store.NewMemObjectStore()
	records := store.NewMemRecordStore()
	chapters := NewChapterStore(objects, records, tc, logger)
	assembler := NewAssembler(chapters, objects, tc, t.TempDir(), logger)
	return &pipeline{
		svc:     NewService(chapters, assembler, records, logger),
		tc:      tc,
		objects: objects,
		records: records,
	}
}

func (p *pipeline) ingest(t *testing.T, bookID, title string, format media.Format, index *int) *ChapterResult {
	t.Helper()
	res, err := p.svc.IngestChapter(context.Background(), IngestInput{
		BookID: bookID,
		Title:  title,
		Audio:  []byte("raw-" + title),
		Format: format,
		Index:  index,
	})
	if err != nil {
		t.Fatalf("IngestChapter(%q) error = %v", title, err)
	}
	return res
}

func intp(n int) *int { return &n }

func TestIngestAllocatesGapAwareIndices(t *testing.T) {
	p := newPipeline(t)

	// Explicit indices 0, 1, 3 leave a gap at 2.
	p.ingest(t, "book1", "Zero", media.FormatMP3, intp(0))
	p.ingest(t, "book1", "One", media.FormatMP3, intp(1))
	p.ingest(t, "book1", "Three", media.FormatMP3, intp(3))

	res := p.ingest(t, "book1", "Two", media.FormatMP3, nil)
	if res.Index != 2 {
		t.Errorf("auto-allocated index = %d, want 2 (first gap)", res.Index)
	}

	// With the gap filled the next allocation appends.
	res = p.ingest(t, "book1", "Four", media.FormatMP3, nil)
	if res.Index != 4 {
		t.Errorf("auto-allocated index = %d, want 4", res.Index)
	}
}

func TestIngestFirstChapterOfEmptyBook(t *testing.T) {
	p := newPipeline(t)

	res, err := p.svc.IngestChapter(context.Background(), IngestInput{
		Title:  "Intro",
		Audio:  []byte("pcm"),
		Format: media.FormatMP3,
	})
	if err != nil {
		t.Fatalf("IngestChapter() error = %v", err)
	}
	if res.BookID == "" {
		t.Error("IngestChapter() did not generate a book id")
	}
	if res.Index != 0 {
		t.Errorf("first index = %d, want 0", res.Index)
	}
	if res.Duration != 10.0 {
		t.Errorf("duration = %v, want probed 10.0", res.Duration)
	}
}

func TestReingestSameIndexReplacesObject(t *testing.T) {
	p := newPipeline(t)

	p.ingest(t, "book1", "Old Title", media.FormatMP3, intp(2))
	p.ingest(t, "book1", "New Title", media.FormatMP3, intp(2))

	var indexObjects []string
	for _, key := range p.objects.Keys() {
		if strings.HasPrefix(key, "book1/003__") {
			indexObjects = append(indexObjects, key)
		}
	}
	if len(indexObjects) != 1 {
		t.Fatalf("index 2 has %d stored objects %v, want exactly 1", len(indexObjects), indexObjects)
	}
	if want := "book1/" + ChapterFileName(2, "New Title", media.FormatMP3); indexObjects[0] != want {
		t.Errorf("surviving object = %q, want %q", indexObjects[0], want)
	}

	chapters, err := p.svc.ListChapters(context.Background(), "book1")
	if err != nil {
		t.Fatalf("ListChapters() error = %v", err)
	}
	if len(chapters) != 1 || chapters[0].Title != "New Title" {
		t.Errorf("ListChapters() = %+v, want single chapter titled New Title", chapters)
	}
}

func TestFullBookCachesArtifact(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.ingest(t, "book1", "One", media.FormatMP3, nil)
	p.ingest(t, "book1", "Two", media.FormatMP3, nil)

	first, format, err := p.svc.FullBook(ctx, "book1", media.FormatMP3)
	if err != nil {
		t.Fatalf("FullBook() error = %v", err)
	}
	if format != media.FormatMP3 {
		t.Errorf("FullBook() format = %s, want mp3", format)
	}
	if p.tc.concatCalls != 1 {
		t.Fatalf("concat calls after first build = %d, want 1", p.tc.concatCalls)
	}

	// Unchanged book: the cached artifact is served without transcoding.
	second, _, err := p.svc.FullBook(ctx, "book1", media.FormatMP3)
	if err != nil {
		t.Fatalf("FullBook() cached error = %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("cached FullBook() bytes differ from the built artifact")
	}
	if p.tc.concatCalls != 1 {
		t.Errorf("concat calls after cache hit = %d, want still 1", p.tc.concatCalls)
	}
}

func TestFullBookRebuildsAfterNewChapter(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.ingest(t, "book1", "One", media.FormatMP3, nil)
	if _, _, err := p.svc.FullBook(ctx, "book1", media.FormatMP3); err != nil {
		t.Fatalf("FullBook() error = %v", err)
	}

	p.ingest(t, "book1", "Two", media.FormatMP3, nil)

	if _, _, err := p.svc.FullBook(ctx, "book1", media.FormatMP3); err != nil {
		t.Fatalf("FullBook() after new chapter error = %v", err)
	}
	if p.tc.concatCalls != 2 {
		t.Errorf("concat calls = %d, want 2 (rebuild after chapter change)", p.tc.concatCalls)
	}

	manifest, err := p.objects.Get(ctx, ManifestKey("book1", media.FormatMP3))
	if err != nil {
		t.Fatalf("manifest Get() error = %v", err)
	}
	var entries []ManifestEntry
	if err := json.Unmarshal(manifest, &entries); err != nil {
		t.Fatalf("manifest decode error = %v", err)
	}
	if len(entries) != 2 || entries[1].Index != 1 {
		t.Errorf("manifest = %+v, want both chapters in index order", entries)
	}
}

func TestFullBookErrors(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if _, _, err := p.svc.FullBook(ctx, "empty-book", ""); !errors.Is(err, ErrNoChapters) {
		t.Errorf("FullBook() of empty book error = %v, want ErrNoChapters", err)
	}
	if _, _, err := p.svc.FullBook(ctx, "bad/id", ""); !errors.Is(err, ErrInvalidBookID) {
		t.Errorf("FullBook() with bad id error = %v, want ErrInvalidBookID", err)
	}
}

func TestFullBookIgnoresMismatchedRequestedFormat(t *testing.T) {
	p := newPipeline(t)

	p.ingest(t, "book1", "One", media.FormatM4B, nil)

	_, format, err := p.svc.FullBook(context.Background(), "book1", media.FormatMP3)
	if err != nil {
		t.Fatalf("FullBook() error = %v", err)
	}
	if format != media.FormatM4B {
		t.Errorf("FullBook() format = %s, want stored m4b to win over requested mp3", format)
	}
}

func TestMixedFormatIngestRejected(t *testing.T) {
	p := newPipeline(t)

	p.ingest(t, "book1", "One", media.FormatM4B, nil)
	before := len(p.objects.Keys())

	_, err := p.svc.IngestChapter(context.Background(), IngestInput{
		BookID: "book1",
		Title:  "Two",
		Audio:  []byte("raw"),
		Format: media.FormatMP3,
	})
	if !errors.Is(err, ErrFormatConflict) {
		t.Fatalf("IngestChapter() with conflicting format error = %v, want ErrFormatConflict", err)
	}
	if got := len(p.objects.Keys()); got != before {
		t.Errorf("object count changed %d -> %d, conflicting ingest must write nothing", before, got)
	}
}

func TestSettingsMismatchRejected(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.svc.IngestChapter(ctx, IngestInput{
		BookID:   "book1",
		Title:    "One",
		Audio:    []byte("raw"),
		Format:   media.FormatMP3,
		Settings: &Settings{Voice: "a"},
	})
	if err != nil {
		t.Fatalf("IngestChapter() error = %v", err)
	}

	_, err = p.svc.IngestChapter(ctx, IngestInput{
		BookID:   "book1",
		Title:    "Two",
		Audio:    []byte("raw"),
		Format:   media.FormatMP3,
		Settings: &Settings{Voice: "b"},
	})
	var mismatch *SettingsMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("IngestChapter() with changed voice error = %v, want SettingsMismatchError", err)
	}
	if mismatch.Stored.Voice != "a" {
		t.Errorf("mismatch carries stored voice %q, want %q", mismatch.Stored.Voice, "a")
	}

	// Matching settings still ingest fine.
	if _, err := p.svc.IngestChapter(ctx, IngestInput{
		BookID:   "book1",
		Title:    "Two",
		Audio:    []byte("raw"),
		Format:   media.FormatMP3,
		Settings: &Settings{Voice: "a"},
	}); err != nil {
		t.Errorf("IngestChapter() with matching settings error = %v", err)
	}
}

func TestRegenerateChapter(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.ingest(t, "book1", "One", media.FormatMP3, nil)
	p.ingest(t, "book1", "Two", media.FormatMP3, nil)

	res, err := p.svc.RegenerateChapter(ctx, IngestInput{
		BookID: "book1",
		Title:  "One Revised",
		Audio:  []byte("raw2"),
		Format: media.FormatMP3,
		Index:  intp(0),
		// Regeneration does not re-check settings.
		Settings: &Settings{Voice: "different"},
	})
	if err != nil {
		t.Fatalf("RegenerateChapter() error = %v", err)
	}
	if res.Index != 0 {
		t.Errorf("RegenerateChapter() index = %d, want 0", res.Index)
	}

	chapters, err := p.svc.ListChapters(ctx, "book1")
	if err != nil {
		t.Fatalf("ListChapters() error = %v", err)
	}
	if len(chapters) != 2 {
		t.Fatalf("chapter count after regenerate = %d, want preserved 2", len(chapters))
	}
	if chapters[0].Title != "One Revised" {
		t.Errorf("chapter 0 title = %q, want %q", chapters[0].Title, "One Revised")
	}
}

func TestRegenerateChapterValidation(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if _, err := p.svc.RegenerateChapter(ctx, IngestInput{BookID: "book1", Audio: []byte("x")}); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("RegenerateChapter() without index error = %v, want ErrInvalidIndex", err)
	}
	if _, err := p.svc.RegenerateChapter(ctx, IngestInput{BookID: "absent", Index: intp(0), Audio: []byte("x")}); !errors.Is(err, ErrBookNotFound) {
		t.Errorf("RegenerateChapter() of absent book error = %v, want ErrBookNotFound", err)
	}
}

func TestRegenerateAbsentIndexPreservesCount(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.ingest(t, "book1", "One", media.FormatMP3, nil)
	p.ingest(t, "book1", "Two", media.FormatMP3, nil)

	_, err := p.svc.RegenerateChapter(ctx, IngestInput{
		BookID: "book1",
		Title:  "Seven",
		Audio:  []byte("raw"),
		Format: media.FormatMP3,
		Index:  intp(7),
	})
	if !errors.Is(err, ErrChapterNotFound) {
		t.Fatalf("RegenerateChapter() at absent index error = %v, want ErrChapterNotFound", err)
	}

	chapters, err := p.svc.ListChapters(ctx, "book1")
	if err != nil {
		t.Fatalf("ListChapters() error = %v", err)
	}
	if len(chapters) != 2 {
		t.Errorf("chapter count after regenerating absent index = %d, want preserved 2", len(chapters))
	}
}

func TestIngestCancelledWritesNothing(t *testing.T) {
	p := newPipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.svc.IngestChapter(ctx, IngestInput{
		BookID: "book1",
		Title:  "One",
		Audio:  []byte("raw"),
		Format: media.FormatMP3,
	})
	if !IsCancelled(err) {
		t.Fatalf("IngestChapter() with cancelled context error = %v, want a cancelled outcome", err)
	}
	if got := len(p.objects.Keys()); got != 0 {
		t.Errorf("cancelled ingest left %d objects, want 0", got)
	}
}

func TestTranscodeFailureWritesNothing(t *testing.T) {
	p := newPipeline(t)
	p.tc.encodeErr = &media.TranscodeError{Op: "encode", Err: errors.New("boom")}

	_, err := p.svc.IngestChapter(context.Background(), IngestInput{
		BookID: "book1",
		Title:  "One",
		Audio:  []byte("raw"),
		Format: media.FormatMP3,
	})
	var tErr *media.TranscodeError
	if !errors.As(err, &tErr) {
		t.Fatalf("IngestChapter() error = %v, want TranscodeError", err)
	}
	if got := len(p.objects.Keys()); got != 0 {
		t.Errorf("failed ingest left %d objects, want 0", got)
	}
	if chapters, _ := p.svc.ListChapters(context.Background(), "book1"); len(chapters) != 0 {
		t.Errorf("failed ingest left %d chapter records, want 0", len(chapters))
	}
}

func TestResetIdempotence(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	existed, err := p.svc.Reset(ctx, "never-created", "")
	if err != nil {
		t.Fatalf("Reset() of absent book error = %v", err)
	}
	if existed {
		t.Error("Reset() of absent book reported existed = true")
	}

	p.ingest(t, "book1", "One", media.FormatMP3, nil)

	existed, err = p.svc.Reset(ctx, "book1", "")
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if !existed {
		t.Error("Reset() of existing book reported existed = false")
	}
	if got := len(p.objects.Keys()); got != 0 {
		t.Errorf("Reset() left %d objects, want 0", got)
	}

	existed, err = p.svc.Reset(ctx, "book1", "")
	if err != nil {
		t.Fatalf("second Reset() error = %v", err)
	}
	if existed {
		t.Error("second Reset() reported existed = true")
	}
}

func TestChapterAudio(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.ingest(t, "book1", "One", media.FormatMP3, nil)

	data, ch, err := p.svc.ChapterAudio(ctx, "book1", 0)
	if err != nil {
		t.Fatalf("ChapterAudio() error = %v", err)
	}
	if ch.Title != "One" || len(data) == 0 {
		t.Errorf("ChapterAudio() = (%d bytes, %+v)", len(data), ch)
	}

	if _, _, err := p.svc.ChapterAudio(ctx, "book1", 7); !errors.Is(err, ErrChapterNotFound) {
		t.Errorf("ChapterAudio() of absent index error = %v, want ErrChapterNotFound", err)
	}
}

func TestInvalidBookIDs(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	for _, id := range []string{"a/b", "..", "has space"} {
		if _, err := p.svc.IngestChapter(ctx, IngestInput{BookID: id, Audio: []byte("x")}); !errors.Is(err, ErrInvalidBookID) {
			t.Errorf("IngestChapter(%q) error = %v, want ErrInvalidBookID", id, err)
		}
		if _, err := p.svc.Reset(ctx, id, ""); !errors.Is(err, ErrInvalidBookID) {
			t.Errorf("Reset(%q) error = %v, want ErrInvalidBookID", id, err)
		}
	}
}
