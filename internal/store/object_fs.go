package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FSObjectStore stores objects as files under a root directory. Object keys
// map directly to relative paths; writes are published atomically via a temp
// file and rename so concurrent readers never see partial content.
type FSObjectStore struct {
	root string
}

// NewFSObjectStore creates a filesystem object store rooted at root.
func NewFSObjectStore(root string) (*FSObjectStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object store root: %w", err)
	}
	return &FSObjectStore{root: root}, nil
}

func (s *FSObjectStore) keyPath(key string) (string, error) {
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != key {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// Put writes data to key. The content type is implied by the file extension
// on this backend.
func (s *FSObjectStore) Put(ctx context.Context, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp object: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp object: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish object: %w", err)
	}
	return nil
}

func (s *FSObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

func (s *FSObjectStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var infos []ObjectInfo
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info := ObjectInfo{Key: key}
		if fi, err := d.Info(); err == nil {
			info.Size = fi.Size()
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	return infos, nil
}

func (s *FSObjectStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

func (s *FSObjectStore) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// A whole-directory prefix (the common "bookID/" case) is removed in one
	// call; anything else falls back to list-and-delete.
	if strings.HasSuffix(prefix, "/") && !strings.Contains(strings.TrimSuffix(prefix, "/"), "/") {
		dir := filepath.Join(s.root, filepath.FromSlash(strings.TrimSuffix(prefix, "/")))
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to delete prefix %s: %w", prefix, err)
		}
		return nil
	}

	infos, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if err := s.Delete(ctx, info.Key); err != nil {
			return err
		}
	}
	return nil
}
