package releases

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrStorageDisabled is returned when artifact storage is not configured.
var ErrStorageDisabled = errors.New("release storage not configured")

// s3Client is an interface for testability.
type s3Client interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration. Artifacts live in a
// private bucket; the download endpoint streams them after the license gate.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Storage streams release artifacts from S3-compatible storage.
type Storage struct {
	cfg    S3Config
	client s3Client
}

// NewStorage creates a Storage. With an incomplete config the storage is
// disabled and Fetch returns ErrStorageDisabled.
func NewStorage(cfg S3Config) *Storage {
	st := &Storage{cfg: cfg}
	if cfg.Bucket != "" && cfg.AccessKey != "" && cfg.SecretKey != "" {
		st.client = newS3Client(cfg)
	}
	return st
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Configured returns true when a bucket and credentials are set.
func (st *Storage) Configured() bool {
	return st.client != nil
}

// Fetch opens the artifact at key for streaming. The caller must close the
// returned reader. size is the object's content length, or 0 if unknown.
func (st *Storage) Fetch(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if st.client == nil {
		return nil, 0, ErrStorageDisabled
	}

	out, err := st.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(st.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("fetch artifact %s: %w", key, err)
	}

	var size int64
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}
