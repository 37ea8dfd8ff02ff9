package repository

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aws-face-recognition-go/internal/core/models"
	"aws-face-recognition-go/internal/db"
)

func newRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })
	return NewSQLiteRepository(conn)
}

func TestGetMissingKey(t *testing.T) {
	repo := newRepo(t)
	var usage models.UsageCounters
	found, err := repo.Get(KeyUsage, &usage)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPutOverwritesValue(t *testing.T) {
	repo := newRepo(t)

	require.NoError(t, repo.Put(KeyUsage, models.UsageCounters{Month: "2024-01", ScansMonth: 1}))
	require.NoError(t, repo.Put(KeyUsage, models.UsageCounters{Month: "2024-02", ScansMonth: 5, LastMonthScans: 1}))

	var usage models.UsageCounters
	found, err := repo.Get(KeyUsage, &usage)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2024-02", usage.Month)
	assert.Equal(t, 5, usage.ScansMonth)
	assert.Equal(t, 1, usage.LastMonthScans)
}

func TestDeleteKey(t *testing.T) {
	repo := newRepo(t)
	require.NoError(t, repo.Put(KeyGallery, models.FacesIndex{Persons: map[string]models.PersonSummary{"Alice": {Count: 1}}}))
	require.NoError(t, repo.Delete(KeyGallery))

	var faces models.FacesIndex
	found, err := repo.Get(KeyGallery, &faces)
	require.NoError(t, err)
	assert.False(t, found)
}
