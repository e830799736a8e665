package services

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/sondeo-app/sondeo/config"
	"github.com/sondeo-app/sondeo/utils"
)

// MediaStore persists raw capture blobs (voice recordings, scanned forms) and
// hands out short-lived URLs for the extraction service to read them back.
type MediaStore interface {
	Put(ctx context.Context, key string, contentType string, data []byte) error
	PresignedGetURL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// MediaStoreImpl implements MediaStore on S3-compatible object storage
type MediaStoreImpl struct {
	config *config.MediaConfig

	mu     sync.Mutex
	client *s3.Client
}

// NewMediaStore creates a new media store instance
func NewMediaStore(cfg *config.MediaConfig) MediaStore {
	return &MediaStoreImpl{
		config: cfg,
	}
}

// MediaStorageKey builds the object key for a capture blob, partitioned by
// upload date so buckets stay listable
func MediaStorageKey(deliveryUUID uuid.UUID) string {
	d := utils.UTCNow()
	return fmt.Sprintf("captures/%d/%02d/%02d/%s/%s", d.Year(), d.Month(), d.Day(), deliveryUUID, uuid.New())
}

func (s *MediaStoreImpl) getClient(ctx context.Context) (*s3.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(s.config.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.AccessKey,
			s.config.SecretKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	s.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s.config.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(s.config.BaseEndpoint)
		}
		o.UsePathStyle = s.config.UsePathStyle
	})

	return s.client, nil
}

// Put uploads a blob under the given key
func (s *MediaStoreImpl) Put(ctx context.Context, key string, contentType string, data []byte) error {
	client, err := s.getClient(ctx)
	if err != nil {
		return err
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.config.Bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload media %s: %w", key, err)
	}

	return nil
}

// PresignedGetURL returns a short-lived read URL for the given key
func (s *MediaStoreImpl) PresignedGetURL(ctx context.Context, key string) (string, error) {
	client, err := s.getClient(ctx)
	if err != nil {
		return "", err
	}

	presignClient := s3.NewPresignClient(client)

	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.config.Bucket,
		Key:    &key,
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return "", fmt.Errorf("failed to presign media %s: %w", key, err)
	}

	return req.URL, nil
}

// Delete removes a blob
func (s *MediaStoreImpl) Delete(ctx context.Context, key string) error {
	client, err := s.getClient(ctx)
	if err != nil {
		return err
	}

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.config.Bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("failed to delete media %s: %w", key, err)
	}

	return nil
}

// MockMediaStore implements MediaStore in memory for testing
type MockMediaStore struct {
	mu      sync.Mutex
	Objects map[string][]byte
}

// NewMockMediaStore creates a new mock media store
func NewMockMediaStore() *MockMediaStore {
	return &MockMediaStore{
		Objects: make(map[string][]byte),
	}
}

// Put stores a blob in memory
func (m *MockMediaStore) Put(ctx context.Context, key string, contentType string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Objects[key] = data
	return nil
}

// PresignedGetURL returns a fake URL for the given key
func (m *MockMediaStore) PresignedGetURL(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Objects[key]; !ok {
		return "", fmt.Errorf("media %s not found", key)
	}
	return "https://media.test/" + key, nil
}

// Delete removes a blob from memory
func (m *MockMediaStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Objects, key)
	return nil
}
