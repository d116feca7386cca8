package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
	"github.com/trobanga/gdmclip/internal/pipeline"
)

const (
	jobKeyPrefix = "gdmclip:job:"
	jobIndexKey  = "gdmclip:jobs" // ZSET of job ids scored by creation time

	// DefaultListLimit caps List results
	DefaultListLimit = 100
)

// RedisJobStore keeps job records in redis under gdmclip:job:<id> with a TTL.
// A sorted index allows listing recent jobs.
type RedisJobStore struct {
	redis *redis.Client
	ttl   time.Duration
	limit int64
}

var _ pipeline.JobStore = (*RedisJobStore)(nil)

// NewRedisJobStore creates a store; a ttl of zero keeps records forever
func NewRedisJobStore(client *redis.Client, ttl time.Duration) *RedisJobStore {
	return &RedisJobStore{redis: client, ttl: ttl, limit: DefaultListLimit}
}

// NewRedisClient connects to redis with the configured credentials
func NewRedisClient(cfg models.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Save writes the record and refreshes its TTL
func (s *RedisJobStore) Save(ctx context.Context, job *models.ClipJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid job: %w", err)
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job state: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, jobKey(job.JobID), data, s.ttl)
	pipe.ZAdd(ctx, jobIndexKey, redis.Z{Score: float64(job.CreatedAt.UnixNano()), Member: job.JobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.JobID, err)
	}
	return nil
}

// Load reads one record
func (s *RedisJobStore) Load(ctx context.Context, jobID string) (*models.ClipJob, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, lib.ErrJobNotFound(jobID)
		}
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	var job models.ClipJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, lib.ErrCorruptedJobState(jobID, err)
	}
	return &job, nil
}

// List returns the most recent jobs, newest first.
// Index entries whose record expired are pruned.
func (s *RedisJobStore) List(ctx context.Context) ([]*models.ClipJob, error) {
	ids, err := s.redis.ZRevRange(ctx, jobIndexKey, 0, s.limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*models.ClipJob, 0, len(ids))
	var expired []interface{}
	for _, id := range ids {
		job, err := s.Load(ctx, id)
		if err != nil {
			if lib.IsKind(err, lib.KindJobNotFound) {
				expired = append(expired, id)
				continue
			}
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if len(expired) > 0 {
		if err := s.redis.ZRem(ctx, jobIndexKey, expired...).Err(); err != nil {
			lib.DefaultLogger.Debug("Failed to prune job index", "error", err)
		}
	}
	return jobs, nil
}

// Delete removes a record and its index entry
func (s *RedisJobStore) Delete(ctx context.Context, jobID string) error {
	pipe := s.redis.TxPipeline()
	del := pipe.Del(ctx, jobKey(jobID))
	pipe.ZRem(ctx, jobIndexKey, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}
	if del.Val() == 0 {
		return lib.ErrJobNotFound(jobID)
	}
	return nil
}

// Ping checks the redis connection
func (s *RedisJobStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func jobKey(jobID string) string {
	return jobKeyPrefix + jobID
}
