package attachments

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"llm_chat/internal/config"
	"llm_chat/internal/utils"
)

// BlobStore persists objects and returns the URL they are served from
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// ObjectKey builds the storage key of an upload owned by userID
func ObjectKey(userID, ext string) string {
	return fmt.Sprintf("uploads/%s/%s%s", userID, uuid.NewString(), ext)
}

// S3Store writes objects to an S3 bucket
type S3Store struct {
	client    *s3.Client
	bucket    string
	prefix    string
	publicURL string
	logger    *utils.Logger
}

// NewS3Store creates a store from the attachments configuration
func NewS3Store(ctx context.Context, cfg config.AttachmentsConfig) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("attachments bucket is not configured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3StoreFromClient(client, cfg), nil
}

// NewS3StoreFromClient wraps an existing client
func NewS3StoreFromClient(client *s3.Client, cfg config.AttachmentsConfig) *S3Store {
	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.S3Bucket, cfg.S3Region)
	}
	return &S3Store{
		client:    client,
		bucket:    cfg.S3Bucket,
		prefix:    cfg.S3Prefix,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    utils.NewLogger("attachments"),
	}
}

// Put uploads body under the configured prefix
func (s *S3Store) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	fullKey := s.prefix + key

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	s.logger.Info("Stored object",
		"bucket", s.bucket,
		"key", fullKey,
		"size", len(body),
	)

	return s.publicURL + "/" + fullKey, nil
}

// Object is a blob held by MemoryStore
type Object struct {
	ContentType string
	Body        []byte
}

// MemoryStore keeps objects in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
	baseURL string
}

// NewMemoryStore creates a memory store whose URLs start with baseURL
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]Object),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Put stores a copy of body
func (m *MemoryStore) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = Object{ContentType: contentType, Body: append([]byte(nil), body...)}
	return m.baseURL + "/" + key, nil
}

// Get returns a stored object
func (m *MemoryStore) Get(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Len returns the number of stored objects
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
