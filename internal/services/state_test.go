package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trobanga/gdmclip/internal/lib"
	"github.com/trobanga/gdmclip/internal/models"
)

func newJob(created time.Time) *models.ClipJob {
	return &models.ClipJob{
		JobID:     uuid.New().String(),
		CreatedAt: created,
		UpdatedAt: created,
		State:     models.JobStatePending,
		Params: models.JobParameters{
			ProjectID:      "city",
			Layers:         "roads",
			ClipGeometry:   "POLYGON((0 0,1 0,1 1,0 1,0 0))",
			OutputBasePath: "/out",
		},
	}
}

func TestFileJobStore_SaveLoad(t *testing.T) {
	store := NewFileJobStore(t.TempDir())
	ctx := context.Background()
	job := newJob(time.Now())
	job.Progress = 42

	require.NoError(t, store.Save(ctx, job))
	assert.FileExists(t, GetStateFilePath(store.Dir, job.JobID))

	loaded, err := store.Load(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.JobID, loaded.JobID)
	assert.Equal(t, 42, loaded.Progress)
	assert.Equal(t, "city", loaded.Params.ProjectID)

	// No temp files left behind
	entries, err := os.ReadDir(GetJobDir(store.Dir, job.JobID))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileJobStore_Errors(t *testing.T) {
	store := NewFileJobStore(t.TempDir())
	ctx := context.Background()

	_, err := store.Load(ctx, uuid.New().String())
	assert.True(t, lib.IsKind(err, lib.KindJobNotFound))

	_, err = store.Load(ctx, "../etc")
	assert.True(t, lib.IsKind(err, lib.KindJobNotFound))

	id := uuid.New().String()
	require.NoError(t, os.MkdirAll(GetJobDir(store.Dir, id), 0755))
	require.NoError(t, os.WriteFile(GetStateFilePath(store.Dir, id), []byte("{not json"), 0644))
	_, err = store.Load(ctx, id)
	assert.True(t, lib.IsKind(err, lib.KindCorruptedJobState))

	invalid := newJob(time.Now())
	invalid.JobID = "not-a-uuid"
	assert.Error(t, store.Save(ctx, invalid))
}

func TestFileJobStore_List(t *testing.T) {
	store := NewFileJobStore(t.TempDir())
	ctx := context.Background()

	empty, err := NewFileJobStore(filepath.Join(t.TempDir(), "missing")).List(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	older := newJob(time.Now().Add(-time.Hour))
	newer := newJob(time.Now())
	require.NoError(t, store.Save(ctx, older))
	require.NoError(t, store.Save(ctx, newer))
	require.NoError(t, os.MkdirAll(filepath.Join(store.Dir, "stray"), 0755))
	corrupted := uuid.New().String()
	require.NoError(t, os.MkdirAll(GetJobDir(store.Dir, corrupted), 0755))
	require.NoError(t, os.WriteFile(GetStateFilePath(store.Dir, corrupted), []byte("{"), 0644))

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, newer.JobID, jobs[0].JobID)
	assert.Equal(t, older.JobID, jobs[1].JobID)
}

func TestFileJobStore_Delete(t *testing.T) {
	store := NewFileJobStore(t.TempDir())
	job := newJob(time.Now())
	require.NoError(t, store.Save(context.Background(), job))

	ctx := context.Background()
	require.NoError(t, store.Delete(ctx, job.JobID))
	assert.NoDirExists(t, GetJobDir(store.Dir, job.JobID))
	assert.True(t, lib.IsKind(store.Delete(ctx, job.JobID), lib.KindJobNotFound))
	assert.True(t, lib.IsKind(store.Delete(ctx, ".."), lib.KindJobNotFound))
}
