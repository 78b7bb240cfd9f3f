package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/nats-io/nats.go"
)

// NATSObjectStore implements ObjectStore on a NATS JetStream object-store
// bucket, for deployments where chapter audio lives off the serving host.
type NATSObjectStore struct {
	conn   *nats.Conn
	bucket string
	store  nats.ObjectStore
}

// NATSConfig configures a NATSObjectStore.
type NATSConfig struct {
	URL    string
	Bucket string
}

// NewNATSObjectStore connects to NATS and creates or binds the object-store
// bucket. The initial connection is retried briefly to ride out server
// startup ordering.
func NewNATSObjectStore(cfg NATSConfig) (*NATSObjectStore, error) {
	conn, err := retry.DoWithData(
		func() (*nats.Conn, error) {
			return nats.Connect(cfg.URL)
		},
		retry.Attempts(5),
		retry.Delay(500*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	// Create-first; bind when the bucket already exists.
	objStore, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      cfg.Bucket,
		Description: fmt.Sprintf("Audio objects for the %s bucket.", cfg.Bucket),
		Storage:     nats.FileStorage,
	})
	if err != nil {
		objStore, err = js.ObjectStore(cfg.Bucket)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create or bind object store bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &NATSObjectStore{conn: conn, bucket: cfg.Bucket, store: objStore}, nil
}

// NewNATSObjectStoreFromConn builds a store over an existing connection
// (used by tests running an embedded server).
func NewNATSObjectStoreFromConn(conn *nats.Conn, bucket string) (*NATSObjectStore, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}
	objStore, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:  bucket,
		Storage: nats.MemoryStorage,
	})
	if err != nil {
		objStore, err = js.ObjectStore(bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to create or bind object store bucket %q: %w", bucket, err)
		}
	}
	return &NATSObjectStore{conn: conn, bucket: bucket, store: objStore}, nil
}

// Close releases the NATS connection.
func (s *NATSObjectStore) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *NATSObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	meta := &nats.ObjectMeta{Name: key}
	if contentType != "" {
		meta.Metadata = map[string]string{"content-type": contentType}
	}
	if _, err := s.store.Put(meta, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to put object %q in bucket %q: %w", key, s.bucket, err)
	}
	return nil
}

func (s *NATSObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	obj, err := s.store.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get object %q from bucket %q: %w", key, s.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()
	if readErr != nil {
		return nil, fmt.Errorf("failed to read object %q: %w", key, readErr)
	}
	if closeErr != nil {
		return data, fmt.Errorf("failed to close object %q: %w", key, closeErr)
	}
	return data, nil
}

func (s *NATSObjectStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	objs, err := s.store.List()
	if err != nil {
		if errors.Is(err, nats.ErrNoObjectsFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list bucket %q: %w", s.bucket, err)
	}

	var infos []ObjectInfo
	for _, obj := range objs {
		if obj.Deleted || !strings.HasPrefix(obj.Name, prefix) {
			continue
		}
		infos = append(infos, ObjectInfo{Key: obj.Name, Size: int64(obj.Size)})
	}
	return infos, nil
}

func (s *NATSObjectStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.store.Delete(key); err != nil && !errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf("failed to delete object %q from bucket %q: %w", key, s.bucket, err)
	}
	return nil
}

func (s *NATSObjectStore) DeletePrefix(ctx context.Context, prefix string) error {
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
