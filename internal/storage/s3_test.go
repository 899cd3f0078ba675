package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockAPIError implements smithy.APIError for testing.
type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return e.code + ": " + e.message }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

type fakeS3 struct {
	headErr error
	putErr  error

	putInput *s3.PutObjectInput
	putBody  []byte
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(1)}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.putInput = in
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.putBody = body
	return &s3.PutObjectOutput{}, nil
}

func newTestS3Store(client s3API) *S3Store {
	return &S3Store{
		client: client,
		bucket: "books-bucket",
		region: "ap-southeast-1",
		logger: zap.NewNop(),
	}
}

func TestS3Config_Validate(t *testing.T) {
	cfg := S3Config{}
	assert.Error(t, cfg.Validate())

	cfg = S3Config{Bucket: "b", AccessKeyID: "only-id"}
	assert.Error(t, cfg.Validate())

	cfg = S3Config{Bucket: "b", AccessKeyID: "id", SecretAccessKey: "secret"}
	assert.NoError(t, cfg.Validate())
}

func TestS3Store_URL(t *testing.T) {
	s := newTestS3Store(&fakeS3{})
	assert.Equal(t, "https://books-bucket.s3.ap-southeast-1.amazonaws.com/books/a/translated_zh.pdf",
		s.URL("books/a/translated_zh.pdf"))

	s.endpoint = "http://localhost:9000"
	assert.Equal(t, "http://localhost:9000/books-bucket/k.pdf", s.URL("k.pdf"))

	s.publicBaseURL = "https://cdn.example.com"
	assert.Equal(t, "https://cdn.example.com/k.pdf", s.URL("k.pdf"))
}

func TestS3Store_Exists(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		s := newTestS3Store(&fakeS3{})
		url, ok, err := s.Exists(context.Background(), "k.pdf")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, s.URL("k.pdf"), url)
	})

	t.Run("typed not found", func(t *testing.T) {
		s := newTestS3Store(&fakeS3{headErr: &types.NotFound{}})
		url, ok, err := s.Exists(context.Background(), "k.pdf")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, url)
	})

	t.Run("api not found", func(t *testing.T) {
		s := newTestS3Store(&fakeS3{headErr: &mockAPIError{code: "NotFound"}})
		_, ok, err := s.Exists(context.Background(), "k.pdf")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("access denied is an error", func(t *testing.T) {
		s := newTestS3Store(&fakeS3{headErr: &mockAPIError{code: "AccessDenied", message: "nope"}})
		_, ok, err := s.Exists(context.Background(), "k.pdf")
		require.Error(t, err)
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrAccessDenied)
	})
}

func TestS3Store_Put(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7 translated"), 0o644))

	fake := &fakeS3{}
	s := newTestS3Store(fake)
	url, err := s.Put(context.Background(), "books/a/translated_pages/page_1_zh.pdf", path)
	require.NoError(t, err)

	assert.Equal(t, s.URL("books/a/translated_pages/page_1_zh.pdf"), url)
	require.NotNil(t, fake.putInput)
	assert.Equal(t, "books-bucket", aws.ToString(fake.putInput.Bucket))
	assert.Equal(t, "application/pdf", aws.ToString(fake.putInput.ContentType))
	assert.Equal(t, int64(len("%PDF-1.7 translated")), aws.ToInt64(fake.putInput.ContentLength))
	assert.Equal(t, "%PDF-1.7 translated", string(fake.putBody))
}

func TestS3Store_PutErrors(t *testing.T) {
	s := newTestS3Store(&fakeS3{})
	_, err := s.Put(context.Background(), "k.pdf", filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "out.pdf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	s = newTestS3Store(&fakeS3{putErr: &mockAPIError{code: "SlowDown"}})
	_, err = s.Put(context.Background(), "k.pdf", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestS3Store_WrapError(t *testing.T) {
	s := newTestS3Store(&fakeS3{})

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such key", &types.NoSuchKey{}, ErrNotFound},
		{"no such bucket", &types.NoSuchBucket{}, ErrBucketNotFound},
		{"api no such bucket", &mockAPIError{code: "NoSuchBucket"}, ErrBucketNotFound},
		{"forbidden", &mockAPIError{code: "Forbidden"}, ErrAccessDenied},
		{"internal", &mockAPIError{code: "InternalError"}, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.wrapError("HeadObject", "k", tt.err)
			assert.ErrorIs(t, err, tt.want)

			var storeErr *Error
			require.True(t, errors.As(err, &storeErr))
			assert.Equal(t, "s3", storeErr.Backend)
			assert.Equal(t, "k", storeErr.Key)
		})
	}

	plain := errors.New("boom")
	err := s.wrapError("PutObject", "k", plain)
	assert.ErrorIs(t, err, plain)
}
