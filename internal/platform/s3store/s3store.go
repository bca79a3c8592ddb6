package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/yungbote/pdfsum-backend/internal/platform/envutil"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
	"github.com/yungbote/pdfsum-backend/internal/platform/objectstore"
)

// Config points at an S3 bucket or an S3-compatible endpoint (MinIO, R2).
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

func ConfigFromEnv() Config {
	return Config{
		Bucket:          envutil.String("S3_BUCKET", ""),
		Region:          envutil.String("S3_REGION", "us-east-1"),
		Endpoint:        envutil.String("S3_ENDPOINT", ""),
		AccessKeyID:     envutil.String("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: envutil.String("S3_SECRET_ACCESS_KEY", ""),
		UsePathStyle:    envutil.Bool("S3_USE_PATH_STYLE", false),
	}
}

type Store struct {
	log    *logger.Logger
	client *s3.Client
	bucket string
}

var _ objectstore.ReadWriter = (*Store)(nil)

func New(log *logger.Logger, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("S3_BUCKET: %w", objectstore.ErrNoBucket)
	}
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	} else {
		opts.Credentials = aws.AnonymousCredentials{}
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(strings.TrimRight(cfg.Endpoint, "/"))
	}
	s := &Store{
		log:    log.With("service", "S3Store"),
		client: s3.New(opts),
		bucket: cfg.Bucket,
	}
	s.log.Info("Object storage initialized",
		"mode", "s3",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"endpoint", cfg.Endpoint,
		"path_style", cfg.UsePathStyle,
	)
	return s, nil
}

func (s *Store) OpenRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	switch {
	case length >= 0:
		in.Range = aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	case offset > 0:
		in.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}
	out, err := s.client.GetObject(ctx, in)
	if err != nil {
		return nil, wrapErr(key, "get object", err)
	}
	return out.Body, nil
}

func (s *Store) Size(ctx context.Context, key string) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, wrapErr(key, "head object", err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// Put buffers the body so the SDK can sign and checksum a seekable payload.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read upload body: %w", err)
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return wrapErr(key, "put object", err)
	}
	return nil
}

// Delete is idempotent: S3 reports success for missing keys.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return nil
	}
	if err = wrapErr(key, "delete object", err); errors.Is(err, objectstore.ErrNotFound) {
		return nil
	}
	return err
}

func wrapErr(key, op string, err error) error {
	var noKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	var status interface{ HTTPStatusCode() int }
	switch {
	case errors.As(err, &noKey), errors.As(err, &notFound):
		return fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
	case errors.As(err, &status) && status.HTTPStatusCode() == 404:
		return fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
	}
	return fmt.Errorf("s3 %s %s: %w", op, key, err)
}
