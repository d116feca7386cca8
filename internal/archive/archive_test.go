package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0644))
	}
}

func TestPack_FlatSortedMembers(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "OUTPUT.gpkg", "roads.tif", "basemap.tif", "OUTPUT.gpkg-wal", "stale.zip.part")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0755))
	writeFiles(t, filepath.Join(dir, "nested"), "ignored.txt")

	path, err := Pack(dir, "OUTPUT.zip", []string{".gpkg-wal", ".gpkg-shm"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "OUTPUT.zip"), path)

	members, err := Members(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"OUTPUT.gpkg", "basemap.tif", "roads.tif"}, members)

	_, err = os.Stat(path + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestPack_ExcludesPreviousArchive(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "OUTPUT.gpkg")

	_, err := Pack(dir, "OUTPUT.zip", nil)
	require.NoError(t, err)
	path, err := Pack(dir, "OUTPUT.zip", nil)
	require.NoError(t, err)

	members, err := Members(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"OUTPUT.gpkg"}, members)
}

func TestPack_SkipsNestedJobLocks(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "OUTPUT.gpkg", ".job1.lock", ".job2.lock")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "job1"), 0755))

	path, err := Pack(dir, "OUTPUT.zip", nil)
	require.NoError(t, err)

	members, err := Members(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"OUTPUT.gpkg"}, members)
	assert.FileExists(t, filepath.Join(dir, ".job1.lock"))
}

func TestPack_InvalidName(t *testing.T) {
	_, err := Pack(t.TempDir(), "../escape.zip", nil)
	assert.ErrorContains(t, err, "invalid archive name")

	_, err = Pack(t.TempDir(), "", nil)
	assert.Error(t, err)
}

func TestPack_MissingDir(t *testing.T) {
	_, err := Pack(filepath.Join(t.TempDir(), "missing"), "OUTPUT.zip", nil)
	assert.ErrorContains(t, err, "failed to read output directory")
}

func TestPurge(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "OUTPUT.gpkg", "roads.TIF", "OUTPUT.zip", "notes.txt")

	errs := Purge(dir, []string{".gpkg", ".tif"})
	assert.Empty(t, errs)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"OUTPUT.zip", "notes.txt"}, names)
}

func TestPurge_MissingDir(t *testing.T) {
	errs := Purge(filepath.Join(t.TempDir(), "missing"), []string{".gpkg"})
	assert.Len(t, errs, 1)
}
