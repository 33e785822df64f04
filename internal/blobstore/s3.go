package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type s3Store struct {
	api        S3API
	bucket     string
	ks         keyspace
	maxGetSize int64
}

func newS3(cfg Config) (*s3Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", ErrInvalidConfig)
	}
	if cfg.S3Client == nil {
		return nil, fmt.Errorf("%w: s3 client is required", ErrInvalidConfig)
	}
	maxGet := cfg.MaxGetSize
	if maxGet <= 0 {
		maxGet = defaultMaxGetSize
	}
	return &s3Store{
		api:        cfg.S3Client,
		bucket:     bucket,
		ks:         newKeyspace(cfg.Prefix),
		maxGetSize: maxGet,
	}, nil
}

func (s *s3Store) Put(ctx context.Context, key string, payload []byte, opts PutOptions) error {
	logical, full, err := s.ks.resolve(key)
	if err != nil {
		return err
	}
	in := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(full),
		Body:     bytes.NewReader(payload),
		Metadata: copyMetadata(opts.Metadata),
	}
	if ct := strings.TrimSpace(opts.ContentType); ct != "" {
		in.ContentType = aws.String(ct)
	}
	if _, err := s.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("blobstore/s3: put %q: %w", logical, err)
	}
	return nil
}

func (s *s3Store) Get(ctx context.Context, key string) (Object, error) {
	logical, full, err := s.ks.resolve(key)
	if err != nil {
		return Object{}, err
	}
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		if isNotFound(err) {
			return Object{}, fmt.Errorf("%w: %s", ErrNotFound, logical)
		}
		return Object{}, fmt.Errorf("blobstore/s3: get %q: %w", logical, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(out.Body, s.maxGetSize+1))
	if err != nil {
		return Object{}, fmt.Errorf("blobstore/s3: read %q: %w", logical, err)
	}
	if int64(len(data)) > s.maxGetSize {
		return Object{}, fmt.Errorf("%w: key %q exceeds max %d bytes", ErrTooLarge, logical, s.maxGetSize)
	}
	return Object{
		Key:          logical,
		Data:         data,
		ContentType:  aws.ToString(out.ContentType),
		Metadata:     copyMetadata(out.Metadata),
		ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

func (s *s3Store) Delete(ctx context.Context, key string) error {
	logical, full, err := s.ks.resolve(key)
	if err != nil {
		return err
	}
	_, err = s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("blobstore/s3: delete %q: %w", logical, err)
	}
	return nil
}

func (s *s3Store) Exists(ctx context.Context, key string) (bool, error) {
	logical, full, err := s.ks.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("blobstore/s3: head %q: %w", logical, err)
	}
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound", "404":
		return true
	}
	return false
}
