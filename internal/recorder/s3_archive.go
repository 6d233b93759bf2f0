package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"costshield/internal/logging"
	"costshield/internal/models"
)

// S3Archive writes persisted usage batches to S3 as JSON Lines files,
// partitioned by day for downstream billing jobs.
type S3Archive struct {
	client  *s3.Client
	bucket  string
	prefix  string
	podName string
	logger  *logging.Logger
}

// NewS3Archive creates an S3 archive using the default AWS credential chain
func NewS3Archive(ctx context.Context, bucket, region, prefix, podName string) (*S3Archive, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Archive{
		client:  s3.NewFromConfig(cfg),
		bucket:  bucket,
		prefix:  prefix,
		podName: podName,
		logger:  logging.NewLogger("s3-archive"),
	}, nil
}

// WriteBatch uploads a batch as one JSONL object and returns its key.
// Key format: usage/2026/08/31/gateway-0-20260831-143022-123456789.jsonl
func (a *S3Archive) WriteBatch(ctx context.Context, records []*models.UsageRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	now := time.Now()
	key := fmt.Sprintf("%s%04d/%02d/%02d/%s-%s-%d.jsonl",
		a.prefix,
		now.Year(),
		now.Month(),
		now.Day(),
		a.podName,
		now.Format("20060102-150405"),
		now.Nanosecond(),
	)

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			a.logger.Error("failed to encode usage record", "request_id", record.RequestID, "error", err)
			continue
		}
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	a.logger.Info("wrote usage batch to S3", "key", key, "count", len(records), "bytes", buf.Len())
	return key, nil
}
