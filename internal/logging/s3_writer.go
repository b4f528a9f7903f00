package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"llm_chat/internal/config"
	"llm_chat/internal/utils"
)

// BatchWriter persists a batch of turn records and returns where it went
type BatchWriter interface {
	WriteBatch(ctx context.Context, records []*TurnRecord) (string, error)
}

// S3Writer handles writing batches of turn records to S3
type S3Writer struct {
	client  *s3.Client
	bucket  string
	prefix  string
	podName string
	now     func() time.Time
	logger  *utils.Logger
}

// NewS3Writer creates a writer from the turn log configuration
func NewS3Writer(ctx context.Context, cfg config.TurnLogConfig) (*S3Writer, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("turn log bucket is not configured")
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
	return NewS3WriterFromClient(client, cfg), nil
}

// NewS3WriterFromClient wraps an existing client
func NewS3WriterFromClient(client *s3.Client, cfg config.TurnLogConfig) *S3Writer {
	return &S3Writer{
		client:  client,
		bucket:  cfg.S3Bucket,
		prefix:  cfg.S3Prefix,
		podName: cfg.PodName,
		now:     time.Now,
		logger:  utils.NewLogger("turn-log"),
	}
}

// ObjectKey returns the key of a batch written by podName at t.
// Format: turns/2026/10/18/chat-0-20261018-143022-123456789.jsonl
func ObjectKey(prefix, podName string, t time.Time) string {
	return fmt.Sprintf("%s%04d/%02d/%02d/%s-%s-%d.jsonl",
		prefix, t.Year(), t.Month(), t.Day(), podName, t.Format("20060102-150405"), t.Nanosecond())
}

// EncodeLines renders records as JSON Lines, skipping any that fail to encode
func EncodeLines(records []*TurnRecord) ([]byte, int) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	written := 0
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			continue
		}
		written++
	}
	return buf.Bytes(), written
}

// WriteBatch uploads records as one JSON Lines object
func (w *S3Writer) WriteBatch(ctx context.Context, records []*TurnRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	key := ObjectKey(w.prefix, w.podName, w.now().UTC())
	body, count := EncodeLines(records)

	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	w.logger.Info("Wrote turn batch to S3", "key", key, "count", count, "bytes", len(body))
	return key, nil
}

// LogWriter writes each record to the process log. Used when no bucket is configured.
type LogWriter struct {
	logger *utils.Logger
}

func NewLogWriter() *LogWriter {
	return &LogWriter{logger: utils.NewLogger("turn-log")}
}

func (w *LogWriter) WriteBatch(_ context.Context, records []*TurnRecord) (string, error) {
	for _, r := range records {
		w.logger.Info("Turn completed",
			"user_id", r.UserID,
			"thread_id", r.ThreadID,
			"message_id", r.MessageID,
			"model", r.Model,
			"provider", r.Provider,
			"status", r.Status,
			"input_tokens", r.InputTokens,
			"output_tokens", r.OutputTokens,
			"duration_ms", r.DurationMs,
		)
	}
	return "", nil
}
