package replication

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// S3Canary measures object-store replication lag: a timestamp object is
// written to the source bucket and the target bucket is polled until the
// copy lands. Cross-region replication on the bucket pair does the actual
// transfer; this adapter only times it.
type S3Canary struct {
	source       *s3.Client
	target       *s3.Client
	sourceBucket string
	targetBucket string
	key          string
	pollEvery    time.Duration
	logger       *zap.Logger
}

// S3CanaryConfig configures the object-store canary
type S3CanaryConfig struct {
	SourceRegion string
	TargetRegion string
	SourceBucket string
	TargetBucket string
	AccessKey    string
	SecretKey    string
	Endpoint     string // optional, for S3-compatible stores
	Key          string
}

// NewS3Canary creates clients for both regions of the bucket pair
func NewS3Canary(ctx context.Context, cfg S3CanaryConfig, logger *zap.Logger) (*S3Canary, error) {
	if cfg.SourceBucket == "" || cfg.TargetBucket == "" {
		return nil, fmt.Errorf("replication: source and target buckets required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Key == "" {
		cfg.Key = "meridian/lag-canary"
	}

	newClient := func(region string) (*s3.Client, error) {
		opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
		if cfg.AccessKey != "" {
			opts = append(opts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
				o.UsePathStyle = true
			}
		}), nil
	}

	source, err := newClient(cfg.SourceRegion)
	if err != nil {
		return nil, err
	}
	target, err := newClient(cfg.TargetRegion)
	if err != nil {
		return nil, err
	}

	return &S3Canary{
		source:       source,
		target:       target,
		sourceBucket: cfg.SourceBucket,
		targetBucket: cfg.TargetBucket,
		key:          cfg.Key,
		pollEvery:    500 * time.Millisecond,
		logger:       logger,
	}, nil
}

// MeasureLag writes a canary object and waits for the replicated copy
func (c *S3Canary) MeasureLag(ctx context.Context) (time.Duration, error) {
	token := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := c.source.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.sourceBucket),
		Key:    aws.String(c.key),
		Body:   strings.NewReader(token),
	})
	if err != nil {
		return 0, fmt.Errorf("put canary object %s/%s: %w", c.sourceBucket, c.key, err)
	}
	start := time.Now()

	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		body, err := c.readTarget(ctx)
		if err == nil && body == token {
			return time.Since(start), nil
		}
		if err != nil {
			c.logger.Debug("canary object not yet replicated",
				zap.String("bucket", c.targetBucket),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("canary object did not replicate in time: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *S3Canary) readTarget(ctx context.Context) (string, error) {
	out, err := c.target.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.targetBucket),
		Key:    aws.String(c.key),
	})
	if err != nil {
		return "", fmt.Errorf("get object %s/%s: %w", c.targetBucket, c.key, err)
	}
	defer func() { _ = out.Body.Close() }()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("read object body: %w", err)
	}
	return string(body), nil
}
