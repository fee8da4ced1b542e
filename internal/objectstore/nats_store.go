// Package objectstore mirrors generated artifacts into external object storage.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NatsArtifactStore keeps a copy of every artifact in a JetStream object store bucket.
type NatsArtifactStore struct {
	bucket string
	store  nats.ObjectStore
}

// NewNatsArtifactStore creates the bucket, or binds to it when it already exists.
func NewNatsArtifactStore(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsArtifactStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: "Generated documents published by docgen-service.",
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsArtifactStore{bucket: bucketName, store: store}, nil
}

// Name identifies the mirror in logs.
func (n *NatsArtifactStore) Name() string {
	return "nats:" + n.bucket
}

// Upload stores data under key, replacing nothing since keys are unique.
func (n *NatsArtifactStore) Upload(_ context.Context, key string, data []byte) error {
	_, err := n.store.Put(&nats.ObjectMeta{Name: key}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}
