package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrBucketRequired indicates an S3 mirror configured without a bucket.
var ErrBucketRequired = errors.New("s3 bucket name is required")

// S3Options configures the S3/MinIO mirror.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Secure    bool
}

// S3ArtifactStore keeps a copy of every artifact in an S3-compatible bucket.
type S3ArtifactStore struct {
	client *minio.Client
	bucket string
}

// NewS3ArtifactStore connects to the endpoint and makes sure the bucket exists.
func NewS3ArtifactStore(ctx context.Context, opts S3Options) (*S3ArtifactStore, error) {
	if opts.Bucket == "" {
		return nil, ErrBucketRequired
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client for '%s': %w", opts.Endpoint, err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket '%s': %w", opts.Bucket, err)
	}

	if !exists {
		err = client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket '%s': %w", opts.Bucket, err)
		}
	}

	return &S3ArtifactStore{client: client, bucket: opts.Bucket}, nil
}

// Name identifies the mirror in logs.
func (s *S3ArtifactStore) Name() string {
	return "s3:" + s.bucket
}

// Upload puts data under key with a content type derived from its extension.
func (s *S3ArtifactStore) Upload(ctx context.Context, key string, data []byte) error {
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}
