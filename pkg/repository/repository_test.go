package repository

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (repos *Repositories, cleanup func()) {
	t.Helper()

	// create temp file for test database
	tmpFile, err := os.CreateTemp("", "test-*.db")
	require.NoError(t, err)
	tmpFile.Close()

	cfg := Config{
		DSN: "file:" + tmpFile.Name() + "?mode=rwc",
	}

	repos, err = NewRepositories(context.Background(), cfg)
	require.NoError(t, err)

	cleanup = func() {
		repos.Close()
		os.Remove(tmpFile.Name())
	}

	return repos, cleanup
}

func TestNewRepositories(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()

	require.NotNil(t, repos.Tree)
	require.NotNil(t, repos.Content)
	assert.NoError(t, repos.Ping(context.Background()))
}

func TestSchemaCreatesFTS(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()

	var count int
	err := repos.DB.Get(&count, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='content_fts'`)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "FTS table should exist")
}

func TestIsLockError(t *testing.T) {
	assert.False(t, isLockError(nil))
	assert.False(t, isLockError(errors.New("syntax error")))
	assert.True(t, isLockError(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, isLockError(errors.New("database table is locked")))
}
