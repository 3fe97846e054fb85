// Package objectstore keeps task audio and sync maps in NATS JetStream object stores.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/align-service/internal/core"
)

// ErrObjectNotFound is returned for keys the bucket does not hold.
var ErrObjectNotFound = errors.New("object not found")

// NatsObjectStore implements core.ObjectStore on a JetStream object store bucket.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// New binds to bucketName, creating the bucket when it does not exist yet.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Storage for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if errors.Is(err, jetstream.ErrBucketExists) || errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
	}

	return &NatsObjectStore{bucket: bucketName, store: store}, nil
}

// Download retrieves an object. A missing key wraps ErrObjectNotFound.
func (n *NatsObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key, nats.Context(ctx))
	if err != nil {
		return nil, n.wrap(key, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload saves data under key, replacing any previous object.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// Stat reports whether key exists without downloading it.
func (n *NatsObjectStore) Stat(ctx context.Context, key string) error {
	_, err := n.store.GetInfo(key, nats.Context(ctx))
	if err != nil {
		return n.wrap(key, err)
	}

	return nil
}

// Source returns the object under key as task audio.
func (n *NatsObjectStore) Source(key string) core.AudioSource {
	return &Source{store: n, key: key}
}

func (n *NatsObjectStore) wrap(key string, err error) error {
	if errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf("%w: %w: '%s' in bucket '%s'", core.ErrInvalidInput, ErrObjectNotFound, key, n.bucket)
	}

	return fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
}

// Source is task audio held in an object store bucket.
type Source struct {
	store *NatsObjectStore
	key   string
}

// Name returns the object key.
func (s *Source) Name() string {
	return s.key
}

// Open downloads the object.
func (s *Source) Open(ctx context.Context) ([]byte, error) {
	return s.store.Download(ctx, s.key)
}

// Check verifies that the object exists.
func (s *Source) Check(ctx context.Context) error {
	return s.store.Stat(ctx, s.key)
}

var (
	_ core.ObjectStore = (*NatsObjectStore)(nil)
	_ core.AudioSource = (*Source)(nil)
)
