package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/ethereum/go-ethereum/common"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "memory", cfg: Config{Driver: DriverMemory}},
		{name: "unsupported driver", cfg: Config{Driver: "gcs"}, wantErr: true},
		{name: "s3 missing bucket", cfg: Config{Driver: DriverS3, S3Client: &fakeS3{}}, wantErr: true},
		{name: "s3 missing client", cfg: Config{Driver: DriverS3, Bucket: "unshield-artifacts"}, wantErr: true},
		{name: "default driver is s3", cfg: Config{Bucket: "unshield-artifacts", S3Client: &fakeS3{}}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store, err := New(tc.cfg)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
				if store != nil {
					t.Fatalf("expected nil store on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if store == nil {
				t.Fatalf("New returned nil store")
			}
		})
	}
}

func TestMemory_RoundTripAndCopies(t *testing.T) {
	t.Parallel()

	store := NewMemory("worker-a/")
	ctx := context.Background()
	key := UnshieldKey(common.HexToHash("0xaa"), ArtifactDecryptionProof)

	payload := []byte{0xff, 0xee}
	if err := store.Put(ctx, "/"+key, payload, PutOptions{
		ContentType: "application/octet-stream",
		Metadata:    map[string]string{"artifact-type": "unshield-decryption-proof"},
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	payload[0] = 0x00

	ok, err := store.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Exists: %v %v", ok, err)
	}

	obj, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if obj.Key != key {
		t.Fatalf("key: got %q want %q", obj.Key, key)
	}
	if !bytes.Equal(obj.Data, []byte{0xff, 0xee}) {
		t.Fatalf("payload must be copied on put: %x", obj.Data)
	}
	obj.Data[0] = 0x01
	obj.Metadata["artifact-type"] = "changed"

	again, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get again: %v", err)
	}
	if again.Data[0] != 0xff || again.Metadata["artifact-type"] != "unshield-decryption-proof" {
		t.Fatalf("stored object mutated through returned copy")
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRejectsInvalidKeys(t *testing.T) {
	t.Parallel()

	store := NewMemory("")
	for _, key := range []string{"", "   ", " padded", "\x00bad", "new\nline"} {
		if err := store.Put(context.Background(), key, []byte("x"), PutOptions{}); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("Put(%q): expected ErrInvalidKey, got %v", key, err)
		}
		if _, err := store.Get(context.Background(), key); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("Get(%q): expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestPutJSON_GetJSON(t *testing.T) {
	t.Parallel()

	type summary struct {
		UnwrapTxHash string `json:"unwrapTxHash"`
		ClearAmount  string `json:"clearAmount"`
	}
	store := NewMemory("")
	key := UnshieldKey(common.HexToHash("0xbb"), ArtifactUnshieldResult)
	if !strings.HasPrefix(key, "unshields/00000000") || !strings.HasSuffix(key, "/result.json") {
		t.Fatalf("unexpected key layout %q", key)
	}

	in := summary{UnwrapTxHash: "0x01", ClearAmount: "42"}
	if err := PutJSON(context.Background(), store, key, in, nil); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}
	obj, _ := store.Get(context.Background(), key)
	if obj.ContentType != "application/json" {
		t.Fatalf("content type: %q", obj.ContentType)
	}

	var out summary
	if err := GetJSON(context.Background(), store, key, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out != in {
		t.Fatalf("round trip: got %+v want %+v", out, in)
	}
}

func TestS3_PrefixesKeysAndMapsMetadata(t *testing.T) {
	t.Parallel()

	const want = "prod/unshields/abc/result.json"
	var puts, heads, deletes int
	client := &fakeS3{
		putFn: func(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			puts++
			if aws.ToString(in.Bucket) != "unshield-artifacts" || aws.ToString(in.Key) != want {
				t.Errorf("put target: %s/%s", aws.ToString(in.Bucket), aws.ToString(in.Key))
			}
			if aws.ToString(in.ContentType) != "application/json" || in.Metadata["artifact-type"] != "unshield-result" {
				t.Errorf("put attrs: %q %v", aws.ToString(in.ContentType), in.Metadata)
			}
			return &s3.PutObjectOutput{}, nil
		},
		getFn: func(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			if aws.ToString(in.Key) != want {
				t.Errorf("get key: %s", aws.ToString(in.Key))
			}
			return &s3.GetObjectOutput{
				Body:        io.NopCloser(strings.NewReader(`{}`)),
				ContentType: aws.String("application/json"),
				ETag:        aws.String(`"etag-1"`),
			}, nil
		},
		headFn: func(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
			heads++
			return &s3.HeadObjectOutput{}, nil
		},
		deleteFn: func(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
			deletes++
			return nil, fakeAPIError{code: "NoSuchKey"}
		},
	}
	store, err := New(Config{Driver: DriverS3, Bucket: "unshield-artifacts", Prefix: "/prod/", S3Client: client})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := store.Put(ctx, "unshields/abc/result.json", []byte(`{}`), PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"artifact-type": "unshield-result"},
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	obj, err := store.Get(ctx, "unshields/abc/result.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if obj.Key != "unshields/abc/result.json" || obj.ETag != "etag-1" {
		t.Fatalf("object: %+v", obj)
	}
	if ok, err := store.Exists(ctx, "unshields/abc/result.json"); err != nil || !ok {
		t.Fatalf("Exists: %v %v", ok, err)
	}
	if err := store.Delete(ctx, "unshields/abc/result.json"); err != nil {
		t.Fatalf("Delete of missing object should succeed: %v", err)
	}
	if puts != 1 || heads != 1 || deletes != 1 {
		t.Fatalf("calls: put=%d head=%d delete=%d", puts, heads, deletes)
	}
}

func TestS3_NotFoundAndSizeLimit(t *testing.T) {
	t.Parallel()

	missing := &fakeS3{
		getFn: func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return nil, fakeAPIError{code: "NoSuchKey"}
		},
		headFn: func(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
			return nil, fakeAPIError{code: "NotFound"}
		},
	}
	store, err := New(Config{Bucket: "b", S3Client: missing})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.Get(context.Background(), "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get: expected ErrNotFound, got %v", err)
	}
	if ok, err := store.Exists(context.Background(), "k"); err != nil || ok {
		t.Fatalf("Exists: %v %v", ok, err)
	}

	oversized := &fakeS3{
		getFn: func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("0123456789"))}, nil
		},
	}
	store, err = New(Config{Bucket: "b", S3Client: oversized, MaxGetSize: 8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.Get(context.Background(), "k"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

type fakeS3 struct {
	putFn    func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	getFn    func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	deleteFn func(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	headFn   func(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putFn == nil {
		return &s3.PutObjectOutput{}, nil
	}
	return f.putFn(ctx, in, opts...)
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getFn == nil {
		return nil, errors.New("unexpected GetObject call")
	}
	return f.getFn(ctx, in, opts...)
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.deleteFn == nil {
		return &s3.DeleteObjectOutput{}, nil
	}
	return f.deleteFn(ctx, in, opts...)
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headFn == nil {
		return &s3.HeadObjectOutput{}, nil
	}
	return f.headFn(ctx, in, opts...)
}

type fakeAPIError struct {
	code string
}

func (f fakeAPIError) ErrorCode() string             { return f.code }
func (f fakeAPIError) ErrorMessage() string          { return "missing" }
func (f fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }
func (f fakeAPIError) Error() string                 { return f.code + ": missing" }
