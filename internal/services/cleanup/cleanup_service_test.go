package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aws-face-recognition-go/config"
	"aws-face-recognition-go/internal/core/index"
	"aws-face-recognition-go/internal/core/models"
)

type recordingSink struct {
	calls []models.RecognitionIndex
}

func (r *recordingSink) ReplaceIndex(idx models.RecognitionIndex) {
	r.calls = append(r.calls, idx)
}

func writeSnapshot(t *testing.T, dir, name string, age time.Duration) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("img"), 0o644))
	mod := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestRunCleanupRemovesFilesAndPrunesIndex(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "recognition_a.jpg", 3*time.Hour)
	writeSnapshot(t, dir, "recognition_b.jpg", 2*time.Hour)
	writeSnapshot(t, dir, "recognition_c.jpg", time.Hour)
	writeSnapshot(t, dir, index.LatestFile, 5*time.Hour)

	require.NoError(t, index.WriteAtomic(index.Path(dir), models.RecognitionIndex{
		UpdatedAt: "2024-01-01T00:00:00Z",
		Items: []models.RecognitionIndexEntry{
			{File: "recognition_d.jpg", Timestamp: "2024-01-01T00:00:04Z"},
			{File: "recognition_c.jpg", Timestamp: "2024-01-01T00:00:03Z"},
			{File: "recognition_b.jpg", Timestamp: "2024-01-01T00:00:02Z"},
			{File: "recognition_a.jpg", Timestamp: "2024-01-01T00:00:01Z"},
		},
	}))

	sink := &recordingSink{}
	svc := NewCleanupService(func() config.ProcessingConfig {
		return config.ProcessingConfig{SaveFileFolder: dir, MaxSavedFiles: 2}
	}, sink, time.Minute)

	res, err := svc.RunCleanup()
	require.NoError(t, err)
	assert.Equal(t, 1, res.RemovedFiles)
	assert.Equal(t, 2, res.PrunedItems)

	assert.NoFileExists(t, filepath.Join(dir, "recognition_a.jpg"))
	assert.FileExists(t, filepath.Join(dir, index.LatestFile))

	require.Len(t, sink.calls, 1)
	var files []string
	for _, it := range sink.calls[0].Items {
		files = append(files, it.File)
	}
	assert.Equal(t, []string{"recognition_c.jpg", "recognition_b.jpg"}, files)
	assert.Len(t, index.Load(index.Path(dir)).Items, 2)

	// Ein zweiter Lauf findet nichts mehr
	res, err = svc.RunCleanup()
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Len(t, sink.calls, 1)
}

func TestRunCleanupWithoutFolderIsNoop(t *testing.T) {
	sink := &recordingSink{}
	svc := NewCleanupService(func() config.ProcessingConfig { return config.ProcessingConfig{} }, sink, 0)

	res, err := svc.RunCleanup()
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, sink.calls)
	assert.Equal(t, time.Hour, svc.checkInterval)
}
