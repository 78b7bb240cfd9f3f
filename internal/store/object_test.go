package store

import (
	"context"
	"errors"
	"testing"
)

// objectStoreBackends returns a fresh instance of each local ObjectStore
// implementation so the shared contract is tested against all of them.
func objectStoreBackends(t *testing.T) map[string]ObjectStore {
	t.Helper()

	fs, err := NewFSObjectStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSObjectStore() error = %v", err)
	}
	return map[string]ObjectStore{
		"fs":  fs,
		"mem": NewMemObjectStore(),
	}
}

func TestObjectStorePutGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range objectStoreBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Put(ctx, "book1/001__Intro.mp3", []byte("audio-1"), "audio/mpeg"); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			got, err := s.Get(ctx, "book1/001__Intro.mp3")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if string(got) != "audio-1" {
				t.Errorf("Get() = %q, want %q", got, "audio-1")
			}

			// Overwrite replaces, never appends.
			if err := s.Put(ctx, "book1/001__Intro.mp3", []byte("audio-2"), "audio/mpeg"); err != nil {
				t.Fatalf("Put() overwrite error = %v", err)
			}
			got, err = s.Get(ctx, "book1/001__Intro.mp3")
			if err != nil {
				t.Fatalf("Get() after overwrite error = %v", err)
			}
			if string(got) != "audio-2" {
				t.Errorf("Get() after overwrite = %q, want %q", got, "audio-2")
			}
		})
	}
}

func TestObjectStoreGetNotFound(t *testing.T) {
	ctx := context.Background()
	for name, s := range objectStoreBackends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get(ctx, "missing/001__Nope.mp3"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestObjectStoreListPrefix(t *testing.T) {
	ctx := context.Background()
	for name, s := range objectStoreBackends(t) {
		t.Run(name, func(t *testing.T) {
			keys := []string{
				"book1/001__One.mp3",
				"book1/002__Two.mp3",
				"book2/001__Other.mp3",
			}
			for _, k := range keys {
				if err := s.Put(ctx, k, []byte("x"), "audio/mpeg"); err != nil {
					t.Fatalf("Put(%q) error = %v", k, err)
				}
			}

			infos, err := s.List(ctx, "book1/")
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(infos) != 2 {
				t.Fatalf("List(book1/) returned %d objects, want 2", len(infos))
			}
			for _, info := range infos {
				if info.Key != "book1/001__One.mp3" && info.Key != "book1/002__Two.mp3" {
					t.Errorf("List() returned unexpected key %q", info.Key)
				}
				if info.Size != 1 {
					t.Errorf("List() key %q size = %d, want 1", info.Key, info.Size)
				}
			}

			infos, err = s.List(ctx, "book3/")
			if err != nil {
				t.Fatalf("List() of absent prefix error = %v", err)
			}
			if len(infos) != 0 {
				t.Errorf("List(book3/) returned %d objects, want 0", len(infos))
			}
		})
	}
}

func TestObjectStoreDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range objectStoreBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Put(ctx, "book1/001__One.mp3", []byte("x"), "audio/mpeg"); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if err := s.Delete(ctx, "book1/001__One.mp3"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := s.Get(ctx, "book1/001__One.mp3"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
			}

			// Deleting again is not an error.
			if err := s.Delete(ctx, "book1/001__One.mp3"); err != nil {
				t.Errorf("Delete() of absent key error = %v", err)
			}
		})
	}
}

func TestObjectStoreDeletePrefix(t *testing.T) {
	ctx := context.Background()
	for name, s := range objectStoreBackends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"book1/001__One.mp3", "book1/complete.mp3", "book2/001__Keep.mp3"} {
				if err := s.Put(ctx, k, []byte("x"), "audio/mpeg"); err != nil {
					t.Fatalf("Put(%q) error = %v", k, err)
				}
			}

			if err := s.DeletePrefix(ctx, "book1/"); err != nil {
				t.Fatalf("DeletePrefix() error = %v", err)
			}

			infos, err := s.List(ctx, "book1/")
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(infos) != 0 {
				t.Errorf("List(book1/) after DeletePrefix returned %d objects, want 0", len(infos))
			}

			if _, err := s.Get(ctx, "book2/001__Keep.mp3"); err != nil {
				t.Errorf("Get() of unrelated key after DeletePrefix error = %v", err)
			}

			// Prefix with no objects is a no-op.
			if err := s.DeletePrefix(ctx, "book9/"); err != nil {
				t.Errorf("DeletePrefix() of absent prefix error = %v", err)
			}
		})
	}
}

func TestFSObjectStoreRejectsTraversal(t *testing.T) {
	s, err := NewFSObjectStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSObjectStore() error = %v", err)
	}

	ctx := context.Background()
	for _, key := range []string{"", "..", "../escape", "book1/../../escape", "/abs/path"} {
		if err := s.Put(ctx, key, []byte("x"), ""); err == nil {
			t.Errorf("Put(%q) succeeded, want error", key)
		}
		if _, err := s.Get(ctx, key); err == nil {
			t.Errorf("Get(%q) succeeded, want error", key)
		}
	}
}
