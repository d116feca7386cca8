package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/gdmclip/internal/models"
)

type recordingClient struct {
	task *asynq.Task
	opts []asynq.Option
	err  error
}

func (c *recordingClient) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.task = task
	c.opts = opts
	return &asynq.TaskInfo{ID: "id", Queue: "clip", Type: task.Type()}, nil
}

func optionValues(opts []asynq.Option) map[asynq.OptionType]interface{} {
	out := make(map[asynq.OptionType]interface{}, len(opts))
	for _, o := range opts {
		out[o.Type()] = o.Value()
	}
	return out
}

func TestClipTaskRoundTrip(t *testing.T) {
	task, err := NewClipTask("job-1")
	require.NoError(t, err)
	assert.Equal(t, TaskTypeClip, task.Type())

	payload, err := ParseClipTask(task)
	require.NoError(t, err)
	assert.Equal(t, "job-1", payload.JobID)
}

func TestParseClipTask_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "nope"},
		{"missing id", `{"jobId": ""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseClipTask(asynq.NewTask(TaskTypeClip, []byte(tt.payload)))
			assert.Error(t, err)
		})
	}
}

func TestQueue_Enqueue(t *testing.T) {
	client := &recordingClient{}
	cfg := models.DefaultConfig().Queue
	cfg.MaxRetry = 2
	queue := NewQueue(client, cfg)

	info, err := queue.Enqueue(context.Background(), &models.ClipJob{JobID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, TaskTypeClip, info.Type)

	values := optionValues(client.opts)
	assert.Equal(t, "clip", values[asynq.QueueOpt])
	assert.Equal(t, "job-1", values[asynq.TaskIDOpt])
	assert.Equal(t, 2, values[asynq.MaxRetryOpt])
	assert.Equal(t, 60*time.Minute, values[asynq.TimeoutOpt])
	assert.Equal(t, 24*time.Hour, values[asynq.RetentionOpt])
}

func TestQueue_EnqueueError(t *testing.T) {
	queue := NewQueue(&recordingClient{err: errors.New("redis down")}, models.DefaultConfig().Queue)

	_, err := queue.Enqueue(context.Background(), &models.ClipJob{JobID: "job-1"})
	assert.ErrorContains(t, err, "failed to enqueue task: redis down")
}

func TestRedisClientOpt(t *testing.T) {
	opt := RedisClientOpt(models.RedisConfig{Addr: "redis:6379", Password: "pw", DB: 2})
	assert.Equal(t, "redis:6379", opt.Addr)
	assert.Equal(t, "pw", opt.Password)
	assert.Equal(t, 2, opt.DB)
}
