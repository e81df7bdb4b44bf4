// Package objectstore wraps an S3-compatible client so the upload pipeline's Phase B (the PUT with no surrounding
// transaction) and the admin read path can share one small interface.
package objectstore

import (
	"context"
	"errors"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Sentinel errors for storage operations.
var ErrStorageKeyNotFound = errors.New("storage key not found")

// StorageProvider abstracts the object store so the ingest pipeline can be tested against a fake without a live
// S3-compatible endpoint.
type StorageProvider interface {
	// Put writes size bytes read from r to the given key. The caller is responsible for closing r.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Get opens the object at key for reading. The caller must close the returned ReadCloser. Returns
	// ErrStorageKeyNotFound when the key does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object at key. Missing keys are not treated as errors.
	Delete(ctx context.Context, key string) error

	// URL returns a reference to the object's location, for display purposes only; it is not presumed to be
	// publicly fetchable.
	URL(key string) string

	// Ping reports whether the backing store is reachable and the configured bucket exists, for health checks.
	Ping(ctx context.Context) error
}

// Config groups the connection parameters for the S3-compatible backend.
type Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	UseTLS    bool
}

// MinioProvider implements StorageProvider against any S3-compatible endpoint via minio-go.
type MinioProvider struct {
	client *minio.Client
	bucket string
}

// NewMinioProvider dials the configured endpoint and returns a ready-to-use provider. It does not verify the bucket
// exists; callers that need that guarantee should call EnsureBucket during startup.
func NewMinioProvider(cfg Config) (*MinioProvider, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	return &MinioProvider{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the configured bucket if it does not already exist.
func (p *MinioProvider) EnsureBucket(ctx context.Context, region string) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: region})
}

// Put streams r to the object store. The size must be known up front: the ingest pipeline spools uploads to a
// temporary file in Phase A specifically so this call can avoid buffering the whole body in memory.
func (p *MinioProvider) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := p.client.PutObject(ctx, p.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// Get opens the object at key.
func (p *MinioProvider) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := p.client.GetObject(ctx, p.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrStorageKeyNotFound
		}
		return nil, err
	}
	// GetObject is lazy; force the first read so a missing key surfaces here rather than on the caller's first Read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, ErrStorageKeyNotFound
		}
		return nil, err
	}
	return obj, nil
}

// Delete removes the object at key. A missing key is not an error.
func (p *MinioProvider) Delete(ctx context.Context, key string) error {
	err := p.client.RemoveObject(ctx, p.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return err
	}
	return nil
}

// URL returns the bucket-relative key as a reference string; the object store is not configured for public reads.
func (p *MinioProvider) URL(key string) string {
	return p.bucket + "/" + key
}

// Ping checks that the configured bucket is reachable and exists.
func (p *MinioProvider) Ping(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return errors.New("bucket does not exist")
	}
	return nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey"
}

// IsTransient reports whether err from a Put call is worth retrying: server-side failures and throttling, as opposed
// to permanent rejections like bad credentials or a malformed request.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "NoSuchBucket":
		return false
	}
	if resp.StatusCode == 0 {
		// Not a recognized S3 error response — likely a network-level failure (timeout, connection reset). Treat as
		// transient since retrying is the safer default for Phase B.
		return true
	}
	return resp.StatusCode >= 500 || resp.StatusCode == 429
}
