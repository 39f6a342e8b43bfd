package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/sakif/clipstream/internal/apperror"
)

var _ Store = (*S3Store)(nil)

// S3Config configures S3Store. Endpoint is only set for S3-compatible
// services (MinIO, LocalStack); it switches the client to path-style URLs.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	URLPrefix string // defaults to the bucket's virtual-hosted URL
}

// S3Store keeps assets in a single S3 bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix
	logger *slog.Logger
}

// NewS3Store builds the client with aws-sdk-go-v2. Static credentials are
// used when both keys are given, otherwise the default provider chain
// (environment, shared config, instance role) applies.
func NewS3Store(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: S3 bucket name is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	urlPrefix := cfg.URLPrefix
	if urlPrefix == "" {
		urlPrefix = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix(urlPrefix),
		logger: logger,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("storage: putting %s to s3://%s: %w", key, s.bucket, err)
	}

	s.logger.Debug("asset stored", slog.String("bucket", s.bucket), slog.String("key", key))
	return s.Ref(key), nil
}

// Get returns apperror.ErrNotFound for a missing key.
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	if err := checkKey(key); err != nil {
		return nil, "", err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, "", apperror.NotFound("asset", key)
		}
		return nil, "", fmt.Errorf("storage: getting %s from s3://%s: %w", key, s.bucket, err)
	}

	return out.Body, aws.ToString(out.ContentType), nil
}

// Delete removes the object. S3 answers 204 for keys that do not exist,
// which gives the idempotence the Store contract asks for.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("storage: deleting %s from s3://%s: %w", key, s.bucket, err)
	}

	s.logger.Debug("asset deleted", slog.String("bucket", s.bucket), slog.String("key", key))
	return nil
}

// isNoSuchKey reports whether err is S3's missing-object answer. Some
// S3-compatible services send a plain "NotFound" code instead of the
// modeled NoSuchKey error.
func isNoSuchKey(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
