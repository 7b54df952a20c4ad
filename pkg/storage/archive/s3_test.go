package archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tally/pkg/storage"
)

type fakeS3 struct {
	puts       []*s3.PutObjectInput
	bodies     []string
	putErr     error
	headErr    error
	createErr  error
	createdFor []string
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, _ := io.ReadAll(in.Body)
	f.puts = append(f.puts, in)
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.createdFor = append(f.createdFor, aws.ToString(in.Bucket))
	return &s3.CreateBucketOutput{}, f.createErr
}

func TestObjectKey(t *testing.T) {
	a := New(&fakeS3{}, "tally-archive")
	day := time.Date(2024, 3, 1, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))
	assert.Equal(t, "events/2024-03-02.ndjson", a.ObjectKey(day))
}

func TestUpload(t *testing.T) {
	fake := &fakeS3{}
	a := New(fake, "tally-archive")

	key, err := a.Upload(context.Background(), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), []byte("{\"id\":\"e1\"}\n"), 1)
	require.NoError(t, err)
	assert.Equal(t, "events/2024-03-01.ndjson", key)

	require.Len(t, fake.puts, 1)
	put := fake.puts[0]
	assert.Equal(t, "tally-archive", aws.ToString(put.Bucket))
	assert.Equal(t, "application/x-ndjson", aws.ToString(put.ContentType))
	assert.Equal(t, "1", put.Metadata["rows"])
	assert.Len(t, put.Metadata["checksum-sha256"], 64)
	assert.Equal(t, "{\"id\":\"e1\"}\n", fake.bodies[0])
}

func TestUpload_Error(t *testing.T) {
	a := New(&fakeS3{putErr: errors.New("access denied")}, "b")
	_, err := a.Upload(context.Background(), time.Now(), nil, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestEnsureBucket(t *testing.T) {
	existing := &fakeS3{}
	require.NoError(t, New(existing, "b").EnsureBucket(context.Background()))
	assert.Empty(t, existing.createdFor)

	missing := &fakeS3{headErr: errors.New("NotFound")}
	require.NoError(t, New(missing, "b").EnsureBucket(context.Background()))
	assert.Equal(t, []string{"b"}, missing.createdFor)

	raced := &fakeS3{headErr: errors.New("NotFound"), createErr: &types.BucketAlreadyOwnedByYou{}}
	assert.NoError(t, New(raced, "b").EnsureBucket(context.Background()))

	denied := &fakeS3{headErr: errors.New("NotFound"), createErr: errors.New("forbidden")}
	assert.Error(t, New(denied, "b").EnsureBucket(context.Background()))
}

func TestNewS3Client(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.S3Endpoint = "http://localhost:9000"
	cfg.S3AccessKey = "minio"
	cfg.S3SecretKey = "minio123"
	cfg.S3UsePathStyle = true

	client, err := NewS3Client(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, client)
}
