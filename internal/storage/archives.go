// Package storage publishes finished artifacts to object storage: batch
// archives to MinIO and transcript exports to S3.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	apperrors "github.com/scriptgen/backend/internal/errors"
)

const archivePrefix = "archives/"

// ArchiveConfig holds the MinIO connection settings.
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// LinkTTL bounds how long presigned download links stay valid.
	LinkTTL time.Duration
}

// ArchiveStore uploads batch archives and hands out presigned links.
type ArchiveStore struct {
	client  *minio.Client
	bucket  string
	linkTTL time.Duration
	retry   *apperrors.RetryConfig
}

func NewArchiveStore(cfg *ArchiveConfig) (*ArchiveStore, error) {
	// minio-go expects host:port
	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	ttl := cfg.LinkTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ArchiveStore{
		client:  client,
		bucket:  cfg.Bucket,
		linkTTL: ttl,
		retry:   apperrors.StorageRetryConfig(),
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *ArchiveStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// PublishArchive uploads the zip at localPath and returns a presigned GET
// link for it.
func (s *ArchiveStore) PublishArchive(ctx context.Context, localPath, objectName string) (string, error) {
	key := ArchiveKey(objectName)
	err := apperrors.Retry(ctx, s.retry, func(ctx context.Context) error {
		_, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
			ContentType: "application/zip",
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload archive %s: %w", key, err)
	}

	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf(`attachment; filename="%s"`, objectName))
	link, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.linkTTL, params)
	if err != nil {
		return "", fmt.Errorf("failed to presign archive %s: %w", key, err)
	}
	return link.String(), nil
}

// RemoveArchive deletes a published archive; missing objects are not an error.
func (s *ArchiveStore) RemoveArchive(ctx context.Context, objectName string) error {
	err := s.client.RemoveObject(ctx, s.bucket, ArchiveKey(objectName), minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("failed to delete archive %s: %w", objectName, err)
	}
	return nil
}

// Bucket returns the bucket name.
func (s *ArchiveStore) Bucket() string {
	return s.bucket
}

// Ping checks that storage is reachable.
func (s *ArchiveStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// ArchiveKey is the object key for an archive file name.
func ArchiveKey(objectName string) string {
	return archivePrefix + objectName
}
