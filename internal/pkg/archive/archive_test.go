package archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	if in.Body != nil {
		f.body, _ = io.ReadAll(in.Body)
	}
	return &s3.PutObjectOutput{}, f.err
}

func TestObjectKey(t *testing.T) {
	created := time.Date(2026, 3, 1, 23, 30, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "webhooks/2026/03/evt_1.json", ObjectKey("evt_1", created))
}

func TestArchiveUploadsPayload(t *testing.T) {
	fake := &fakeS3{}
	a := &Archive{client: fake, bucket: "palm-archive"}

	err := a.Archive(context.Background(), "evt_1", time.Date(2026, 11, 5, 0, 0, 0, 0, time.UTC), []byte(`{"id":"evt_1"}`))
	require.NoError(t, err)
	assert.Equal(t, "palm-archive", aws.ToString(fake.input.Bucket))
	assert.Equal(t, "webhooks/2026/11/evt_1.json", aws.ToString(fake.input.Key))
	assert.Equal(t, "application/json", aws.ToString(fake.input.ContentType))
	assert.Equal(t, `{"id":"evt_1"}`, string(fake.body))
}

func TestArchiveErrors(t *testing.T) {
	fake := &fakeS3{err: errors.New("access denied")}
	a := &Archive{client: fake, bucket: "b"}

	assert.Error(t, a.Archive(context.Background(), "", time.Now(), nil))
	err := a.Archive(context.Background(), "evt_1", time.Now(), []byte("{}"))
	assert.ErrorContains(t, err, "access denied")
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("S3_ARCHIVE_ENABLED", "false")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)

	_, err = New(context.Background(), cfg)
	assert.Error(t, err)

	t.Setenv("S3_ARCHIVE_ENABLED", "true")
	t.Setenv("S3_ACCESS_KEY_ID", "key")
	t.Setenv("S3_SECRET_ACCESS_KEY", "")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "S3_SECRET_ACCESS_KEY")

	t.Setenv("S3_SECRET_ACCESS_KEY", "secret")
	t.Setenv("S3_BUCKET_NAME", "palm")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "palm", cfg.BucketName)
}
