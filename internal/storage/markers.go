package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vidstab-bot/messenger-webhook-go/internal/dedup"
)

// MarkerStore keeps dedup markers as objects in a private bucket. Objects
// are never deleted.
type MarkerStore struct {
	client S3API
	bucket string
}

// ConditionalMarkerStore is a MarkerStore that also writes with
// If-None-Match, which S3 evaluates atomically.
type ConditionalMarkerStore struct {
	*MarkerStore
}

var (
	_ dedup.KeyStore         = (*MarkerStore)(nil)
	_ dedup.ConditionalStore = (*ConditionalMarkerStore)(nil)
)

// NewMarkerStore returns the store for bucket. When conditional is false
// (for S3-compatible services without conditional writes) the returned store
// only supports the separate existence check and write.
func NewMarkerStore(client S3API, bucket string, conditional bool) dedup.KeyStore {
	base := &MarkerStore{client: client, bucket: bucket}
	if conditional {
		return &ConditionalMarkerStore{MarkerStore: base}
	}
	return base
}

func (s *MarkerStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head object %s/%s: %w", s.bucket, key, err)
}

func (s *MarkerStore) Put(ctx context.Context, key string) error {
	_, err := s.client.PutObject(ctx, s.putInput(key))
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *ConditionalMarkerStore) PutIfAbsent(ctx context.Context, key string) (bool, error) {
	input := s.putInput(key)
	input.IfNoneMatch = aws.String("*")

	_, err := s.client.PutObject(ctx, input)
	if err == nil {
		return true, nil
	}
	if isPreconditionFailed(err) {
		return false, nil
	}
	return false, fmt.Errorf("conditional put object %s/%s: %w", s.bucket, key, err)
}

func (s *MarkerStore) putInput(key string) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          strings.NewReader(dedup.Marker),
		ContentLength: aws.Int64(int64(len(dedup.Marker))),
	}
}
