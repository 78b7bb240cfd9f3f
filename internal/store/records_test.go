package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recordStoreBackends(t *testing.T) map[string]RecordStore {
	t.Helper()

	fs, err := NewFSRecordStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSRecordStore() error = %v", err)
	}
	return map[string]RecordStore{
		"fs":  fs,
		"mem": NewMemRecordStore(),
	}
}

func TestRecordStoreUpsertGetBook(t *testing.T) {
	ctx := context.Background()
	for name, s := range recordStoreBackends(t) {
		t.Run(name, func(t *testing.T) {
			created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
			book := BookRecord{
				ID:        "book1",
				OwnerID:   "owner-a",
				Title:     "Moby Dick",
				Format:    "mp3",
				Settings:  []byte(`{"voice":"alloy"}`),
				CreatedAt: created,
				UpdatedAt: created,
			}
			if err := s.UpsertBook(ctx, book); err != nil {
				t.Fatalf("UpsertBook() error = %v", err)
			}

			got, err := s.GetBook(ctx, "book1", nil)
			if err != nil {
				t.Fatalf("GetBook() error = %v", err)
			}
			if got.Title != "Moby Dick" || got.Format != "mp3" {
				t.Errorf("GetBook() = %+v, want title/format preserved", got)
			}
			if string(got.Settings) != `{"voice":"alloy"}` {
				t.Errorf("GetBook() settings = %s", got.Settings)
			}

			// A later upsert updates fields but keeps the original creation
			// time.
			book.Title = "Moby Dick; or, The Whale"
			book.CreatedAt = created.Add(48 * time.Hour)
			book.UpdatedAt = created.Add(48 * time.Hour)
			if err := s.UpsertBook(ctx, book); err != nil {
				t.Fatalf("UpsertBook() update error = %v", err)
			}
			got, err = s.GetBook(ctx, "book1", nil)
			if err != nil {
				t.Fatalf("GetBook() after update error = %v", err)
			}
			if got.Title != "Moby Dick; or, The Whale" {
				t.Errorf("GetBook() title = %q, not updated", got.Title)
			}
			if !got.CreatedAt.Equal(created) {
				t.Errorf("GetBook() createdAt = %v, want original %v", got.CreatedAt, created)
			}
		})
	}
}

func TestRecordStoreGetBookOwnerScope(t *testing.T) {
	ctx := context.Background()
	for name, s := range recordStoreBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.UpsertBook(ctx, BookRecord{ID: "book1", OwnerID: "owner-a"}); err != nil {
				t.Fatalf("UpsertBook() error = %v", err)
			}

			if _, err := s.GetBook(ctx, "book1", []string{"owner-a"}); err != nil {
				t.Errorf("GetBook() as owner error = %v", err)
			}
			if _, err := s.GetBook(ctx, "book1", []string{"owner-b"}); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetBook() as stranger error = %v, want ErrNotFound", err)
			}
			if _, err := s.GetBook(ctx, "absent", nil); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetBook() of absent book error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestRecordStoreChapters(t *testing.T) {
	ctx := context.Background()
	for name, s := range recordStoreBackends(t) {
		t.Run(name, func(t *testing.T) {
			// Insert out of order; listing must come back sorted by index.
			for _, idx := range []int{2, 0, 1} {
				ch := ChapterRecord{
					BookID:   "book1",
					Index:    idx,
					Title:    "Chapter",
					Duration: float64(idx) + 0.5,
					Format:   "mp3",
				}
				if err := s.UpsertChapter(ctx, ch); err != nil {
					t.Fatalf("UpsertChapter(%d) error = %v", idx, err)
				}
			}

			chapters, err := s.ListChapters(ctx, "book1")
			if err != nil {
				t.Fatalf("ListChapters() error = %v", err)
			}
			if len(chapters) != 3 {
				t.Fatalf("ListChapters() returned %d chapters, want 3", len(chapters))
			}
			for i, ch := range chapters {
				if ch.Index != i {
					t.Errorf("chapter %d has index %d, want sorted ascending", i, ch.Index)
				}
			}

			// Re-upserting an index replaces the record instead of adding a
			// second one.
			if err := s.UpsertChapter(ctx, ChapterRecord{BookID: "book1", Index: 1, Duration: 99}); err != nil {
				t.Fatalf("UpsertChapter() replace error = %v", err)
			}
			chapters, err = s.ListChapters(ctx, "book1")
			if err != nil {
				t.Fatalf("ListChapters() after replace error = %v", err)
			}
			if len(chapters) != 3 {
				t.Fatalf("ListChapters() after replace returned %d chapters, want 3", len(chapters))
			}
			if chapters[1].Duration != 99 {
				t.Errorf("chapter 1 duration = %v, want 99", chapters[1].Duration)
			}
		})
	}
}

func TestRecordStoreListChaptersUnknownBook(t *testing.T) {
	ctx := context.Background()
	for name, s := range recordStoreBackends(t) {
		t.Run(name, func(t *testing.T) {
			chapters, err := s.ListChapters(ctx, "absent")
			if err != nil {
				t.Fatalf("ListChapters() error = %v", err)
			}
			if len(chapters) != 0 {
				t.Errorf("ListChapters() of unknown book returned %d chapters, want 0", len(chapters))
			}
		})
	}
}

func TestRecordStoreDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range recordStoreBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.UpsertBook(ctx, BookRecord{ID: "book1", OwnerID: "owner-a"}); err != nil {
				t.Fatalf("UpsertBook() error = %v", err)
			}
			if err := s.UpsertChapter(ctx, ChapterRecord{BookID: "book1", Index: 0}); err != nil {
				t.Fatalf("UpsertChapter() error = %v", err)
			}

			if err := s.DeleteChapters(ctx, "book1", "owner-a"); err != nil {
				t.Fatalf("DeleteChapters() error = %v", err)
			}
			chapters, err := s.ListChapters(ctx, "book1")
			if err != nil {
				t.Fatalf("ListChapters() error = %v", err)
			}
			if len(chapters) != 0 {
				t.Errorf("ListChapters() after delete returned %d chapters, want 0", len(chapters))
			}

			if err := s.DeleteBook(ctx, "book1", "owner-a"); err != nil {
				t.Fatalf("DeleteBook() error = %v", err)
			}
			if _, err := s.GetBook(ctx, "book1", nil); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetBook() after delete error = %v, want ErrNotFound", err)
			}

			// Both deletes are idempotent.
			if err := s.DeleteBook(ctx, "book1", "owner-a"); err != nil {
				t.Errorf("DeleteBook() repeat error = %v", err)
			}
			if err := s.DeleteChapters(ctx, "book1", "owner-a"); err != nil {
				t.Errorf("DeleteChapters() repeat error = %v", err)
			}
		})
	}
}
