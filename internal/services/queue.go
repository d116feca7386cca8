package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/trobanga/gdmclip/internal/models"
)

// TaskTypeClip is the asynq task type of a clip job
const TaskTypeClip = "gdmclip:clip"

// ClipTaskPayload is the body of a clip task
type ClipTaskPayload struct {
	JobID string `json:"jobId"`
}

// Enqueuer is the part of asynq.Client the queue needs
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue enqueues clip jobs for the worker
type Queue struct {
	client Enqueuer
	cfg    models.QueueConfig
}

// NewQueue creates a queue
func NewQueue(client Enqueuer, cfg models.QueueConfig) *Queue {
	return &Queue{client: client, cfg: cfg}
}

// RedisClientOpt converts the redis config into asynq connection options
func RedisClientOpt(cfg models.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewClipTask builds the task of one job
func NewClipTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(ClipTaskPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeClip, data), nil
}

// ParseClipTask decodes a clip task payload
func ParseClipTask(t *asynq.Task) (ClipTaskPayload, error) {
	var payload ClipTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if payload.JobID == "" {
		return payload, fmt.Errorf("task payload has no job id")
	}
	return payload, nil
}

// Enqueue submits the job; the task id is the job id so a job is queued at most once
func (q *Queue) Enqueue(ctx context.Context, job *models.ClipJob) (*asynq.TaskInfo, error) {
	task, err := NewClipTask(job.JobID)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	info, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.cfg.Name),
		asynq.TaskID(job.JobID),
		asynq.MaxRetry(q.cfg.MaxRetry),
		asynq.Timeout(q.cfg.Timeout()),
		asynq.Retention(q.cfg.Retention()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return info, nil
}
