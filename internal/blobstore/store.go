// Package blobstore persists conversion artifacts (decryption proofs, finalized unshield
// summaries) in S3 or in process memory.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	DriverS3     = "s3"
	DriverMemory = "memory"

	defaultMaxGetSize int64 = 16 << 20
)

var (
	ErrInvalidConfig = errors.New("blobstore: invalid config")
	ErrInvalidKey    = errors.New("blobstore: invalid key")
	ErrNotFound      = errors.New("blobstore: not found")
	ErrTooLarge      = errors.New("blobstore: object too large")
)

type Store interface {
	Put(ctx context.Context, key string, payload []byte, opts PutOptions) error
	Get(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

type Object struct {
	Key          string
	Data         []byte
	ContentType  string
	Metadata     map[string]string
	ETag         string
	LastModified time.Time
}

type Config struct {
	Driver string
	Prefix string

	// MaxGetSize bounds bytes returned by Get. Defaults to 16 MiB when <= 0.
	MaxGetSize int64

	Bucket   string
	S3Client S3API
}

// S3API is the subset of *s3.Client used by the S3 driver.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

func New(cfg Config) (Store, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case DriverMemory:
		return NewMemory(cfg.Prefix), nil
	case DriverS3, "":
		s, err := newS3(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

// Open builds a store for driver, loading the default AWS configuration for S3.
func Open(ctx context.Context, driver, bucket, prefix string) (Store, error) {
	cfg := Config{Driver: driver, Bucket: bucket, Prefix: prefix}
	if d := strings.ToLower(strings.TrimSpace(driver)); d == DriverS3 || d == "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("blobstore: load aws config: %w", err)
		}
		cfg.S3Client = s3.NewFromConfig(awsCfg)
	}
	return New(cfg)
}

// cleanKey validates a logical key. A single leading slash is tolerated.
func cleanKey(key string) (string, error) {
	if key != strings.TrimSpace(key) {
		return "", fmt.Errorf("%w: key has leading or trailing whitespace", ErrInvalidKey)
	}
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if strings.IndexFunc(key, func(r rune) bool { return r < 0x20 || r == 0x7f }) >= 0 {
		return "", fmt.Errorf("%w: key contains control characters", ErrInvalidKey)
	}
	return key, nil
}

type keyspace string

func newKeyspace(prefix string) keyspace {
	return keyspace(strings.Trim(strings.TrimSpace(prefix), "/"))
}

func (k keyspace) resolve(key string) (logical, full string, err error) {
	logical, err = cleanKey(key)
	if err != nil {
		return "", "", err
	}
	if k == "" {
		return logical, logical, nil
	}
	return logical, string(k) + "/" + logical, nil
}

func copyMetadata(v map[string]string) map[string]string {
	out := make(map[string]string, len(v))
	for k, val := range v {
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(val)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
