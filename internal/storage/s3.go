package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// DefaultS3Region は AWS_REGION 未指定時のリージョンです。
const DefaultS3Region = "ap-southeast-1"

const pdfContentType = "application/pdf"

// S3Config configures the S3 artifact store.
//
// Credentials: explicit AccessKeyID/SecretAccessKey take precedence, otherwise
// the AWS SDK v2 default chain (env, shared config, instance role) is used.
// For S3-compatible stores set Endpoint and usually ForcePathStyle.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
	// PublicBaseURL overrides the URL returned for stored objects.
	PublicBaseURL string
}

// Validate checks that required configuration is present.
func (c *S3Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("s3 config: bucket name is required")
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return fmt.Errorf("s3 config: both access key ID and secret access key must be provided together")
	}
	return nil
}

// s3API is the subset of the S3 client used by S3Store.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store は S3 上に成果物を保存します。
type S3Store struct {
	client        s3API
	bucket        string
	region        string
	endpoint      string
	publicBaseURL string
	logger        *zap.Logger
}

var _ Store = (*S3Store)(nil)

// NewS3Store は S3Store を作成します。
func NewS3Store(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &Error{Op: "New", Backend: "s3", Err: err}
	}
	if awsCfg.Region == "" {
		awsCfg.Region = DefaultS3Region
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &S3Store{
		client:        client,
		bucket:        cfg.Bucket,
		region:        awsCfg.Region,
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:        logger,
	}, nil
}

// Exists は HeadObject でキーの存在を確認します。
func (s *S3Store) Exists(ctx context.Context, key string) (string, bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		wrapped := s.wrapError("HeadObject", key, err)
		if errors.Is(wrapped, ErrNotFound) {
			return "", false, nil
		}
		return "", false, wrapped
	}
	return s.URL(key), true, nil
}

// Put はファイルを application/pdf としてアップロードします。
func (s *S3Store) Put(ctx context.Context, key, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat artifact: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(pdfContentType),
	})
	if err != nil {
		return "", s.wrapError("PutObject", key, err)
	}

	s.logger.Info("uploaded artifact",
		zap.String("bucket", s.bucket),
		zap.String("key", key),
		zap.Int64("size", info.Size()))
	return s.URL(key), nil
}

// URL は key の公開URLを返します。
func (s *S3Store) URL(key string) string {
	switch {
	case s.publicBaseURL != "":
		return s.publicBaseURL + "/" + key
	case s.endpoint != "":
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
	}
}

// wrapError converts S3 errors to store errors with sentinel causes.
func (s *S3Store) wrapError(op, key string, err error) error {
	wrapped := &Error{Op: op, Backend: "s3", Key: key, Err: err}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		wrapped.Err = ErrNotFound
		return wrapped
	case errors.As(err, &noSuchBucket):
		wrapped.Err = ErrBucketNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			wrapped.Err = ErrNotFound
		case "NoSuchBucket":
			wrapped.Err = ErrBucketNotFound
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Err = fmt.Errorf("%w: %s", ErrAccessDenied, apiErr.ErrorCode())
		case "ServiceUnavailable", "InternalError", "SlowDown":
			wrapped.Err = fmt.Errorf("%w: %s", ErrUnavailable, apiErr.ErrorCode())
		}
	}
	return wrapped
}
