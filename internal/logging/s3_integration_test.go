package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_chat/internal/config"
)

// Run against a local Minio:
//
//	MINIO_ENDPOINT=http://localhost:9000 go test ./internal/logging -run TestS3Integration
const testBucketName = "chat-turns-test"

func minioClient(t *testing.T) *s3.Client {
	t.Helper()

	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set")
	}
	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	if accessKey == "" {
		accessKey = "minioadmin"
	}
	secretKey := os.Getenv("MINIO_SECRET_KEY")
	if secretKey == "" {
		secretKey = "minioadmin"
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	require.NoError(t, err)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.ListBuckets(ctx, &s3.ListBucketsInput{}); err != nil {
		t.Skipf("Minio not available for testing: %v", err)
	}
	if _, err := client.HeadBucket(context.Background(), &s3.HeadBucketInput{Bucket: aws.String(testBucketName)}); err != nil {
		_, err = client.CreateBucket(context.Background(), &s3.CreateBucketInput{Bucket: aws.String(testBucketName)})
		require.NoError(t, err)
	}
	return client
}

func TestS3Integration_WriteBatch(t *testing.T) {
	client := minioClient(t)
	ctx := context.Background()

	w := NewS3WriterFromClient(client, config.TurnLogConfig{
		S3Bucket: testBucketName,
		S3Prefix: "test-turns/",
		PodName:  "test-pod",
	})

	key, err := w.WriteBatch(ctx, []*TurnRecord{turn("m1"), turn("m2")})
	require.NoError(t, err)
	assert.Contains(t, key, "test-turns/")
	assert.Contains(t, key, "test-pod-")
	defer client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(testBucketName), Key: aws.String(key)})

	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(testBucketName), Key: aws.String(key)})
	require.NoError(t, err)
	defer out.Body.Close()
	assert.Equal(t, "application/x-ndjson", aws.ToString(out.ContentType))

	var count int
	sc := bufio.NewScanner(out.Body)
	for sc.Scan() {
		var rec TurnRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		assert.Equal(t, "user-1", rec.UserID)
		count++
	}
	assert.Equal(t, 2, count)
}

func TestS3Integration_EmptyBatch(t *testing.T) {
	client := minioClient(t)
	w := NewS3WriterFromClient(client, config.TurnLogConfig{S3Bucket: testBucketName})

	key, err := w.WriteBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, key)
}
