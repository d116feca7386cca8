package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisJobStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewRedisClient(models.RedisConfig{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisJobStore(client, ttl), mr
}

func TestRedisJobStore_SaveLoad(t *testing.T) {
	store, mr := newRedisStore(t, time.Hour)
	ctx := context.Background()
	job := newJob(time.Now())
	job.State = models.JobStateLayerProcessing
	job.Progress = 50

	require.NoError(t, store.Save(ctx, job))
	assert.Equal(t, time.Hour, mr.TTL(jobKey(job.JobID)))

	loaded, err := store.Load(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateLayerProcessing, loaded.State)
	assert.Equal(t, 50, loaded.Progress)
}

func TestRedisJobStore_LoadErrors(t *testing.T) {
	store, mr := newRedisStore(t, 0)
	ctx := context.Background()

	_, err := store.Load(ctx, "missing")
	assert.True(t, lib.IsKind(err, lib.KindJobNotFound))

	require.NoError(t, mr.Set(jobKey("broken"), "{"))
	_, err = store.Load(ctx, "broken")
	assert.True(t, lib.IsKind(err, lib.KindCorruptedJobState))
}

func TestRedisJobStore_ListNewestFirstAndPrunes(t *testing.T) {
	store, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()

	older := newJob(time.Now().Add(-time.Hour))
	newer := newJob(time.Now())
	require.NoError(t, store.Save(ctx, older))
	require.NoError(t, store.Save(ctx, newer))

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, newer.JobID, jobs[0].JobID)

	// Records expire, the index entry is dropped on the next list
	mr.FastForward(2 * time.Minute)
	jobs, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	assert.False(t, mr.Exists(jobIndexKey))
}

func TestRedisJobStore_Ping(t *testing.T) {
	store, mr := newRedisStore(t, 0)
	require.NoError(t, store.Ping(context.Background()))

	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}

func TestRedisJobStore_Delete(t *testing.T) {
	store, mr := newRedisStore(t, time.Hour)
	ctx := context.Background()
	job := newJob(time.Now())
	require.NoError(t, store.Save(ctx, job))

	require.NoError(t, store.Delete(ctx, job.JobID))
	assert.False(t, mr.Exists(jobKey(job.JobID)))
	assert.False(t, mr.Exists(jobIndexKey))

	assert.True(t, lib.IsKind(store.Delete(ctx, job.JobID), lib.KindJobNotFound))
}
