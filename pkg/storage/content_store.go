package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ContentKind names one deliverable attached to a completed reading.
type ContentKind string

const (
	KindPDF     ContentKind = "pdf"
	KindAudio   ContentKind = "audio"
	KindMandala ContentKind = "mandala"
)

// ParseContentKind validates a kind query parameter.
func ParseContentKind(raw string) (ContentKind, bool) {
	switch ContentKind(raw) {
	case KindPDF, KindAudio, KindMandala:
		return ContentKind(raw), true
	default:
		return "", false
	}
}

// ObjectKey maps an order and kind to the object storage key the automation
// system uploads to.
func ObjectKey(orderID string, kind ContentKind) string {
	switch kind {
	case KindAudio:
		return fmt.Sprintf("orders/%s/lecture.mp3", orderID)
	case KindMandala:
		return fmt.Sprintf("orders/%s/mandala.svg", orderID)
	default:
		return fmt.Sprintf("orders/%s/lecture.pdf", orderID)
	}
}

func contentType(kind ContentKind) string {
	switch kind {
	case KindAudio:
		return "audio/mpeg"
	case KindMandala:
		return "image/svg+xml"
	default:
		return "application/pdf"
	}
}

// ContentStore provides access to delivered content files.
type ContentStore interface {
	Put(ctx context.Context, orderID string, kind ContentKind, r io.Reader, size int64) error
	PresignGet(ctx context.Context, orderID string, kind ContentKind, expiry time.Duration) (string, error)
}

// MinioContentStore implements ContentStore for MinIO/S3 compatible storage.
type MinioContentStore struct {
	client *minio.Client
	bucket string
}

// NewMinioContentStore connects to MinIO and ensures the bucket exists.
func NewMinioContentStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioContentStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioContentStore{client: client, bucket: bucket}, nil
}

// Put uploads a deliverable for an order.
func (m *MinioContentStore) Put(ctx context.Context, orderID string, kind ContentKind, r io.Reader, size int64) error {
	key := ObjectKey(orderID, kind)
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType(kind),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// PresignGet generates a pre-signed GET URL for a deliverable.
func (m *MinioContentStore) PresignGet(ctx context.Context, orderID string, kind ContentKind, expiry time.Duration) (string, error) {
	key := ObjectKey(orderID, kind)
	url, err := m.client.PresignedGetObject(ctx, m.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return url.String(), nil
}
