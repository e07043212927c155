// Package objectstore uploads finalized call artifacts to durable storage.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrMissingBucket is returned by NewS3Store when no bucket is configured.
var ErrMissingBucket = errors.New("missing s3 bucket")

// S3Config selects the bucket and endpoint. Endpoint is optional and enables
// path-style addressing for S3-compatible servers such as MinIO.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store puts objects into a single bucket.
type S3Store struct {
	client putObjectAPI
	bucket string
}

// NewS3Store loads the default AWS credential chain and returns a store for cfg.Bucket.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, ErrMissingBucket
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3StoreWithClient(client, cfg.Bucket), nil
}

func newS3StoreWithClient(client putObjectAPI, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// Put uploads body under key. The body must be seekable so the SDK can sign
// the payload and retry at the transport level.
func (s *S3Store) Put(ctx context.Context, key string, body io.ReadSeeker, contentType string, metadata map[string]string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
		Metadata:    metadata,
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// String names the destination for logs.
func (s *S3Store) String() string {
	return "s3://" + s.bucket
}
