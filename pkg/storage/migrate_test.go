package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationFS.ReadDir("migrations")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	up, err := migrationFS.ReadFile("migrations/000001_init.up.sql")
	require.NoError(t, err)
	for _, table := range []string{"anomalies", "sessions", "processed_files"} {
		assert.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS "+table)
	}
	assert.Contains(t, string(up), "ml_algorithm_details JSONB")
	assert.Contains(t, string(up), "ensemble_vote")

	down, err := migrationFS.ReadFile("migrations/000001_init.down.sql")
	require.NoError(t, err)
	assert.Contains(t, string(down), "DROP TABLE IF EXISTS anomalies")
}
