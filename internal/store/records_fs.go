package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FSRecordStore persists book and chapter records as one JSON document per
// book. It is the default backend for single-host deployments, keeping the
// metadata next to the audio objects.
type FSRecordStore struct {
	root string
	mu   sync.Mutex
}

type bookDocument struct {
	Book     BookRecord      `json:"book"`
	Chapters []ChapterRecord `json:"chapters"`
}

// NewFSRecordStore creates a filesystem record store rooted at root.
func NewFSRecordStore(root string) (*FSRecordStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create record store root: %w", err)
	}
	return &FSRecordStore{root: root}, nil
}

func (s *FSRecordStore) docPath(bookID string) (string, error) {
	if bookID == "" || strings.ContainsAny(bookID, "/\\") {
		return "", fmt.Errorf("invalid book id %q", bookID)
	}
	return filepath.Join(s.root, bookID+".json"), nil
}

func (s *FSRecordStore) read(bookID string) (*bookDocument, error) {
	p, err := s.docPath(bookID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read book record %s: %w", bookID, err)
	}
	var doc bookDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode book record %s: %w", bookID, err)
	}
	return &doc, nil
}

func (s *FSRecordStore) write(bookID string, doc *bookDocument) error {
	p, err := s.docPath(bookID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode book record %s: %w", bookID, err)
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp record: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write book record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp record: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish book record: %w", err)
	}
	return nil
}

func (s *FSRecordStore) UpsertBook(ctx context.Context, book BookRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(book.ID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		doc = &bookDocument{}
	}
	if !doc.Book.CreatedAt.IsZero() {
		book.CreatedAt = doc.Book.CreatedAt
	}
	doc.Book = book
	return s.write(book.ID, doc)
}

func (s *FSRecordStore) GetBook(ctx context.Context, id string, allowedOwners []string) (*BookRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(id)
	if err != nil {
		return nil, err
	}
	if !ownerAllowed(doc.Book.OwnerID, allowedOwners) {
		return nil, ErrNotFound
	}
	book := doc.Book
	return &book, nil
}

func (s *FSRecordStore) DeleteBook(ctx context.Context, id, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.docPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete book record %s: %w", id, err)
	}
	return nil
}

func (s *FSRecordStore) UpsertChapter(ctx context.Context, ch ChapterRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(ch.BookID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		// Chapter for a book with no record yet: keep a minimal book stub so
		// the chapter is not lost.
		doc = &bookDocument{Book: BookRecord{ID: ch.BookID, OwnerID: ch.OwnerID, Format: ch.Format}}
	}

	replaced := false
	for i := range doc.Chapters {
		if doc.Chapters[i].Index == ch.Index {
			doc.Chapters[i] = ch
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Chapters = append(doc.Chapters, ch)
	}
	sort.Slice(doc.Chapters, func(i, j int) bool { return doc.Chapters[i].Index < doc.Chapters[j].Index })

	return s.write(ch.BookID, doc)
}

func (s *FSRecordStore) ListChapters(ctx context.Context, bookID string) ([]ChapterRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(bookID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	chapters := make([]ChapterRecord, len(doc.Chapters))
	copy(chapters, doc.Chapters)
	return chapters, nil
}

func (s *FSRecordStore) DeleteChapters(ctx context.Context, bookID, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(bookID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	doc.Chapters = nil
	return s.write(bookID, doc)
}
