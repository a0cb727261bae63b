package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/joseph-ayodele/deckconvert/internal/common"
)

// S3Store keeps artifacts in an S3 bucket and hands out presigned GET URLs.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	expiry  time.Duration
	logger  *slog.Logger
}

// S3StoreConfig holds configuration for S3Store.
type S3StoreConfig struct {
	Bucket    string
	Region    string
	Endpoint  string // Optional custom endpoint (for MinIO, LocalStack, etc.)
	Prefix    string // Optional key prefix
	URLExpiry time.Duration
}

// NewS3Store creates a new S3-backed artifact store.
func NewS3Store(ctx context.Context, cfg S3StoreConfig, logger *slog.Logger) (*S3Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	})

	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		expiry:  expiry,
		logger:  logger,
	}, nil
}

func (s *S3Store) objectKey(key string) *string { return aws.String(s.prefix + key) }

// Put buffers r so the SDK can sign a seekable body with a known length.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", common.ErrStorage, key, err)
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           s.objectKey(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		s.logger.Error("storage.s3.put_error", "key", key, "error", err)
		return fmt.Errorf("%w: s3 put %s: %v", common.ErrStorage, key, err)
	}
	s.logger.Debug("storage.s3.put", "bucket", s.bucket, "key", key, "bytes", len(data))
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.objectKey(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("artifact %s: %w", key, common.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: s3 get %s: %v", common.ErrStorage, key, err)
	}
	return out.Body, nil
}

// URL presigns a GET for key, valid for the configured expiry.
func (s *S3Store) URL(ctx context.Context, key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.objectKey(key),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return "", fmt.Errorf("%w: presign %s: %v", common.ErrStorage, key, err)
	}
	return req.URL, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.objectKey(key),
	}); err != nil {
		return fmt.Errorf("%w: s3 delete %s: %v", common.ErrStorage, key, err)
	}
	return nil
}

// New builds the store selected by cfg.
func New(ctx context.Context, cfg common.StorageConfig, publicURL string, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			Prefix:    cfg.Prefix,
			URLExpiry: cfg.URLExpiry,
		}, logger)
	case "fs", "":
		return NewFSStore(cfg.Dir, publicURL, logger)
	default:
		return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown storage driver %q", cfg.Driver), common.ErrConfig)
	}
}
