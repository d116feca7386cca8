package services

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
)

// ObjectAPI is the part of the S3 client the publisher needs
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Publisher makes a finished archive downloadable
type Publisher interface {
	Publish(ctx context.Context, job *models.ClipJob) (string, error)
}

// S3Publisher uploads finished archives to object storage and returns presigned download URLs
type S3Publisher struct {
	client    ObjectAPI
	presigner *s3.PresignClient
	bucket    string
	prefix    string
	expiry    time.Duration
	retry     lib.RetryConfig
	logger    *lib.Logger
}

var _ Publisher = (*S3Publisher)(nil)

// NewS3Publisher creates a publisher from configuration.
// Static credentials are used when set; otherwise the default AWS chain applies.
func NewS3Publisher(ctx context.Context, cfg models.S3Config, retry models.RetryConfig, logger *lib.Logger) (*S3Publisher, error) {
	if !cfg.PublishingEnabled() {
		return nil, lib.ErrInvalidConfig("s3.bucket", "publishing requires a bucket")
	}
	if logger == nil {
		logger = lib.DefaultLogger
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Publisher{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		expiry:    time.Duration(cfg.PresignMinutes) * time.Minute,
		retry:     lib.NewRetryConfigFromModel(retry),
		logger:    logger,
	}, nil
}

// ObjectKey returns <prefix>/<user>/<job>.zip; the user segment is omitted when empty
func ObjectKey(prefix, userID, jobID string) string {
	parts := []string{}
	if prefix != "" {
		parts = append(parts, prefix)
	}
	if userID != "" {
		parts = append(parts, userID)
	}
	parts = append(parts, jobID+".zip")
	return path.Join(parts...)
}

// Publish uploads the job's archive and returns a presigned GET URL.
// Transient upload errors are retried.
func (p *S3Publisher) Publish(ctx context.Context, job *models.ClipJob) (string, error) {
	if job.ArchivePath == "" {
		return "", fmt.Errorf("job %s has no archive", job.JobID)
	}
	key := ObjectKey(p.prefix, job.Params.UserID, job.JobID)

	upload := func(attempt int) error {
		f, err := os.Open(job.ArchivePath)
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
		defer func() { _ = f.Close() }()

		_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:             aws.String(p.bucket),
			Key:                aws.String(key),
			Body:               f,
			ContentType:        aws.String("application/zip"),
			ContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", filepath.Base(job.ArchivePath))),
		})
		if err != nil {
			return fmt.Errorf("failed to upload archive (attempt %d): %w", attempt, err)
		}
		return nil
	}

	retrier := lib.Retrier{
		Config:    p.retry,
		Retryable: lib.IsNetworkError,
		OnRetry: func(attempt int, err error) {
			lib.LogRetry(p.logger, "upload "+key, attempt, p.retry.MaxAttempts, err)
		},
	}
	if err := retrier.Do(ctx, upload); err != nil {
		return "", err
	}

	req, err := p.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.expiry))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	p.logger.Info("Archive published", "job_id", job.JobID, "key", key)
	return req.URL, nil
}
