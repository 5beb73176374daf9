package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	apperrors "github.com/scriptgen/backend/internal/errors"
	"github.com/scriptgen/backend/internal/transcript"
)

// TranscriptConfig holds the S3 settings for transcript exports.
type TranscriptConfig struct {
	Region    string
	Bucket    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// s3API is the subset of the S3 client the exporter uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// TranscriptExporter writes every completed transcript to S3 as a JSON
// document and a plain-text copy.
type TranscriptExporter struct {
	client s3API
	bucket string
	retry  *apperrors.RetryConfig
}

func NewTranscriptExporter(cfg *TranscriptConfig) *TranscriptExporter {
	opts := s3.Options{
		Region:      cfg.Region,
		Credentials: awscreds.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	// custom endpoints are MinIO or other S3-compatible servers
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return &TranscriptExporter{
		client: s3.New(opts),
		bucket: cfg.Bucket,
		retry:  apperrors.StorageRetryConfig(),
	}
}

// TranscriptKeys returns the JSON and text object keys for a job.
func TranscriptKeys(jobID string) (jsonKey, textKey string) {
	base := "transcripts/" + jobID + "/transcript"
	return base + ".json", base + ".txt"
}

// ExportTranscript uploads both renditions of a finished transcript.
func (e *TranscriptExporter) ExportTranscript(ctx context.Context, jobID string, doc transcript.Document, plainText string) error {
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}
	jsonKey, textKey := TranscriptKeys(jobID)

	if err := e.put(ctx, jsonKey, body, "application/json"); err != nil {
		return err
	}
	return e.put(ctx, textKey, []byte(plainText), "text/plain; charset=utf-8")
}

func (e *TranscriptExporter) put(ctx context.Context, key string, body []byte, contentType string) error {
	err := apperrors.Retry(ctx, e.retry, func(ctx context.Context) error {
		_, err := e.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(e.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(body),
			ContentLength: aws.Int64(int64(len(body))),
			ContentType:   aws.String(contentType),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (e *TranscriptExporter) Ping(ctx context.Context) error {
	_, err := e.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(e.bucket)})
	return err
}
