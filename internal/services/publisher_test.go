package services

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
)

type fakeObjectAPI struct {
	failures int
	calls    int
	key      string
	body     []byte
}

func (f *fakeObjectAPI) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset by peer")
	}
	f.key = aws.ToString(params.Key)
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.body = data
	return &s3.PutObjectOutput{}, nil
}

func newTestPublisher(api ObjectAPI) *S3Publisher {
	client := s3.New(s3.Options{
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider("AKID", "SECRET", ""),
		BaseEndpoint: aws.String("http://localhost:9000"),
		UsePathStyle: true,
	})
	return &S3Publisher{
		client:    api,
		presigner: s3.NewPresignClient(client),
		bucket:    "archives",
		prefix:    "results",
		expiry:    time.Hour,
		retry:     lib.RetryConfig{MaxAttempts: 3, InitialBackoffMs: 1, MaxBackoffMs: 1},
		logger:    lib.DefaultLogger,
	}
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix, user, job string
		want              string
	}{
		{"results", "u1", "j1", "results/u1/j1.zip"},
		{"results", "", "j1", "results/j1.zip"},
		{"", "u1", "j1", "u1/j1.zip"},
		{"", "", "j1", "j1.zip"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ObjectKey(tt.prefix, tt.user, tt.job))
		})
	}
}

func TestS3Publisher_Publish(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "job1.zip")
	require.NoError(t, os.WriteFile(archivePath, []byte("zip bytes"), 0644))
	api := &fakeObjectAPI{failures: 1}
	publisher := newTestPublisher(api)

	url, err := publisher.Publish(context.Background(), &models.ClipJob{
		JobID:       "job1",
		ArchivePath: archivePath,
		Params:      models.JobParameters{UserID: "u1"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, api.calls)
	assert.Equal(t, "results/u1/job1.zip", api.key)
	assert.Equal(t, []byte("zip bytes"), api.body)
	assert.Contains(t, url, "/archives/results/u1/job1.zip")
	assert.Contains(t, url, "X-Amz-Expires=3600")
}

func TestS3Publisher_Errors(t *testing.T) {
	publisher := newTestPublisher(&fakeObjectAPI{})

	_, err := publisher.Publish(context.Background(), &models.ClipJob{JobID: "job1"})
	assert.ErrorContains(t, err, "has no archive")

	_, err = publisher.Publish(context.Background(), &models.ClipJob{JobID: "job1", ArchivePath: "/missing/job1.zip"})
	assert.ErrorContains(t, err, "failed to open archive")
}

func TestNewS3Publisher_RequiresBucket(t *testing.T) {
	_, err := NewS3Publisher(context.Background(), models.S3Config{}, models.DefaultConfig().Retry, nil)
	assert.True(t, lib.IsKind(err, lib.KindInvalidConfig))
}
