package store

import (
	"context"
	"sort"
	"sync"
)

// MemRecordStore is an in-memory RecordStore for tests.
type MemRecordStore struct {
	mu       sync.Mutex
	books    map[string]BookRecord
	chapters map[string]map[int]ChapterRecord

	// UpsertErr, when set, is returned by the next write call.
	UpsertErr error
}

// NewMemRecordStore creates an empty in-memory record store.
func NewMemRecordStore() *MemRecordStore {
	return &MemRecordStore{
		books:    make(map[string]BookRecord),
		chapters: make(map[string]map[int]ChapterRecord),
	}
}

func (s *MemRecordStore) UpsertBook(ctx context.Context, book BookRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	if prev, ok := s.books[book.ID]; ok && !prev.CreatedAt.IsZero() {
		book.CreatedAt = prev.CreatedAt
	}
	s.books[book.ID] = book
	return nil
}

func (s *MemRecordStore) GetBook(ctx context.Context, id string, allowedOwners []string) (*BookRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	book, ok := s.books[id]
	if !ok || !ownerAllowed(book.OwnerID, allowedOwners) {
		return nil, ErrNotFound
	}
	out := book
	return &out, nil
}

func (s *MemRecordStore) DeleteBook(ctx context.Context, id, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.books, id)
	return nil
}

func (s *MemRecordStore) UpsertChapter(ctx context.Context, ch ChapterRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	byIndex, ok := s.chapters[ch.BookID]
	if !ok {
		byIndex = make(map[int]ChapterRecord)
		s.chapters[ch.BookID] = byIndex
	}
	byIndex[ch.Index] = ch
	return nil
}

func (s *MemRecordStore) ListChapters(ctx context.Context, bookID string) ([]ChapterRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byIndex := s.chapters[bookID]
	out := make([]ChapterRecord, 0, len(byIndex))
	for _, ch := range byIndex {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *MemRecordStore) DeleteChapters(ctx context.Context, bookID, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chapters, bookID)
	return nil
}
