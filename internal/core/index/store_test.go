package index

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aws-face-recognition-go/internal/core/models"
)

func touch(t *testing.T, dir, name string, mod time.Time) {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	require.NoError(t, os.Chtimes(p, mod, mod))
}

func entry(file, ts string) models.RecognitionIndexEntry {
	return models.RecognitionIndexEntry{
		File:       file,
		Timestamp:  ts,
		Recognized: []string{},
		Objects:    map[string]int{},
	}
}

func files(idx models.RecognitionIndex) []string {
	out := make([]string, 0, len(idx.Items))
	for _, it := range idx.Items {
		out = append(out, it.File)
	}
	return out
}

func TestLoadMissingAndMalformed(t *testing.T) {
	dir := t.TempDir()

	idx := Load(filepath.Join(dir, "missing.json"))
	assert.NotEmpty(t, idx.UpdatedAt)
	assert.Empty(t, idx.Items)
	assert.NotNil(t, idx.Items)

	bad := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))
	idx = Load(bad)
	assert.Empty(t, idx.Items)
}

func TestUpsertPrunesMissingFilesIdempotently(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)

	existing := map[string]bool{"a.jpg": true, "b.jpg": true, "c.jpg": true}
	_, err := UpsertAndSave(path, entry("a.jpg", "2024-01-01T00:00:01Z"), 10, existing)
	require.NoError(t, err)
	_, err = UpsertAndSave(path, entry("b.jpg", "2024-01-01T00:00:02Z"), 10, existing)
	require.NoError(t, err)
	_, err = UpsertAndSave(path, entry("c.jpg", "2024-01-01T00:00:03Z"), 10, existing)
	require.NoError(t, err)

	delete(existing, "b.jpg")
	for i := 0; i < 3; i++ {
		idx, err := UpsertAndSave(path, models.RecognitionIndexEntry{}, 10, existing)
		require.NoError(t, err)
		assert.Equal(t, []string{"c.jpg", "a.jpg"}, files(idx))
	}
	assert.Equal(t, []string{"c.jpg", "a.jpg"}, files(Load(path)))
}

func TestUpsertRetentionBound(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)
	existing := map[string]bool{}

	for i := 0; i < 12; i++ {
		name := fmt.Sprintf("recognition_%02d.jpg", i)
		existing[name] = true
		// gleiche Zeitstempel werden über den Dateinamen sortiert
		ts := fmt.Sprintf("2024-01-01T00:00:%02dZ", i/2)
		idx, err := UpsertAndSave(path, entry(name, ts), 4, existing)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(idx.Items), 4)
	}

	idx := Load(path)
	assert.Equal(t, []string{"recognition_11.jpg", "recognition_10.jpg", "recognition_09.jpg", "recognition_08.jpg"}, files(idx))
}

func TestUpsertReplacesEntryForSameFile(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)
	existing := map[string]bool{"x.jpg": true}

	_, err := UpsertAndSave(path, entry("x.jpg", "2024-01-01T00:00:01Z"), 5, existing)
	require.NoError(t, err)
	updated := entry("x.jpg", "2024-01-01T00:00:09Z")
	updated.Recognized = []string{"Alice"}
	idx, err := UpsertAndSave(path, updated, 5, existing)
	require.NoError(t, err)

	require.Len(t, idx.Items, 1)
	assert.Equal(t, []string{"Alice"}, idx.Items[0].Recognized)
}

func TestUpsertKeepHasMinimumOfOne(t *testing.T) {
	dir := t.TempDir()
	existing := map[string]bool{"a.jpg": true, "b.jpg": true}
	_, err := UpsertAndSave(Path(dir), entry("a.jpg", "2024-01-01T00:00:01Z"), 0, existing)
	require.NoError(t, err)
	idx, err := UpsertAndSave(Path(dir), entry("b.jpg", "2024-01-01T00:00:02Z"), -5, existing)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.jpg"}, files(idx))
}

func TestWriteAtomicFormatAndNoLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)
	nowFunc = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	defer func() { nowFunc = time.Now }()

	_, err := UpsertAndSave(path, models.RecognitionIndexEntry{
		File:       "recognition_20240102_030405.jpg",
		Timestamp:  "2024-01-02T03:04:05Z",
		Recognized: []string{"Alice", "Bob"},
		Objects:    map[string]int{"dog": 1},
	}, 10, map[string]bool{"recognition_20240102_030405.jpg": true})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasSuffix(text, "}\n"))
	assert.Contains(t, text, "\n  \"updated_at\": \"2024-01-02T03:04:05Z\"")
	assert.Contains(t, text, "\"Alice\"")

	var decoded models.RecognitionIndex
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []string{"Alice", "Bob"}, decoded.Items[0].Recognized)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary file must be renamed away")
}

func TestInterruptedWriteKeepsPreviousIndex(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)
	existing := map[string]bool{"a.jpg": true}
	_, err := UpsertAndSave(path, entry("a.jpg", "2024-01-01T00:00:01Z"), 5, existing)
	require.NoError(t, err)

	// Ein abgebrochener Schreibvorgang hinterlässt nur eine temporäre Datei
	require.NoError(t, os.WriteFile(filepath.Join(dir, "."+FileName+".123.tmp"), []byte(`{"updated_at": "2024-`), 0644))

	idx := Load(path)
	assert.Equal(t, []string{"a.jpg"}, files(idx))
}

func TestCleanupOldFiles(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		touch(t, dir, fmt.Sprintf("recognition_2024010%d_000000.jpg", i), base.Add(time.Duration(i)*time.Minute))
	}
	touch(t, dir, LatestFile, base.Add(-time.Hour))
	touch(t, dir, "recognition.jpg", base.Add(-time.Hour))
	touch(t, dir, "other.jpg", base.Add(-time.Hour))

	removed := CleanupOldFiles(dir, 2, FilePrefix, FixedFiles()...)
	assert.Equal(t, 3, removed)

	left := ExistingFiles(dir, FilePrefix)
	assert.Equal(t, map[string]bool{
		"recognition_20240103_000000.jpg": true,
		"recognition_20240104_000000.jpg": true,
		LatestFile:                        true,
	}, left)
	assert.FileExists(t, filepath.Join(dir, "recognition.jpg"))
	assert.FileExists(t, filepath.Join(dir, "other.jpg"))
}

func TestExistingFilesExcludes(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "recognition_1.jpg", time.Now())
	touch(t, dir, LatestFile, time.Now())
	require.NoError(t, os.WriteFile(Path(dir), []byte("{}"), 0644))

	got := ExistingFiles(dir, FilePrefix, FixedFiles()...)
	assert.Equal(t, map[string]bool{"recognition_1.jpg": true}, got)
}
