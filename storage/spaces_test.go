package storage

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nijaru/yt-script/errors"
	"github.com/nijaru/yt-script/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBucket struct {
	objects map[string][]byte
}

func (m *memoryBucket) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *memoryBucket) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, stderrors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestSaveAndGetResult(t *testing.T) {
	bucket := &memoryBucket{objects: map[string][]byte{}}
	client := newSpacesClient(bucket, "archive")

	run := &models.Run{
		ID:     "run-1",
		URL:    "https://youtu.be/abcdefghijk",
		Status: models.StatusCompleted,
		Artifacts: models.Artifacts{
			Duration:    "00:04:10",
			FinalResult: "script",
		},
	}
	require.NoError(t, client.SaveResult(context.Background(), run))
	assert.Contains(t, bucket.objects, "archive/results/run-1.json")

	got, err := client.GetResult(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "script", got.Run.Artifacts.FinalResult)
	assert.False(t, got.ArchivedAt.IsZero())
}

func TestGetResultMissing(t *testing.T) {
	client := newSpacesClient(&memoryBucket{objects: map[string][]byte{}}, "archive")

	_, err := client.GetResult(context.Background(), "nope")
	assert.True(t, errors.IsNotFound(err))
}

func TestSpacesConfigEnabled(t *testing.T) {
	assert.False(t, SpacesConfig{}.Enabled())
	assert.True(t, SpacesConfig{Bucket: "b"}.Enabled())
}
