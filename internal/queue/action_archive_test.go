package queue_test

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mangadexzip/internal/queue"
)

func withTempPath(t *testing.T, reg *queue.Registry) string {
	t.Helper()
	dir := t.TempDir()
	reg.SetTempPath(dir)
	return dir
}

func TestArchiveContentsPacksAndCleansUp(t *testing.T) {
	reg := queue.NewRegistry()
	withTempPath(t, reg)

	task := queue.NewTask(reg, "archive-task", "download_archive")
	dir := queue.TaskDir(reg, task)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Ch.1"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Ch.1", "001.png"), []byte("page one"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Ch.1", "002.png"), []byte("page two"), 0644))

	action := &queue.ArchiveContents{}
	require.NoError(t, action.Run(reg, task))

	require.True(t, task.Completed)
	require.False(t, task.Failed)
	require.Equal(t, filepath.Join(dir, "archive.zip"), task.Result)
	require.Equal(t, "Task is ready for download", task.Status)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "archive.zip", entries[0].Name())

	zr, err := zip.OpenReader(task.Result)
	require.NoError(t, err)
	defer zr.Close()

	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
		require.Equal(t, zip.Store, f.Method)
	}
	require.True(t, names["Ch.1/001.png"])
	require.True(t, names["Ch.1/002.png"])
}

func TestArchiveContentsEmptyDirectoryProducesEmptyArchive(t *testing.T) {
	reg := queue.NewRegistry()
	withTempPath(t, reg)

	task := queue.NewTask(reg, "empty-task", "download_archive")
	require.NoError(t, os.MkdirAll(queue.TaskDir(reg, task), 0755))

	action := &queue.ArchiveContents{}
	require.NoError(t, action.Run(reg, task))

	zr, err := zip.OpenReader(task.Result)
	require.NoError(t, err)
	defer zr.Close()
	require.Empty(t, zr.File)
}
