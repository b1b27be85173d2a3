package duckdb

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedDB writes a small table to a fresh file and returns its path.
func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stats.duckdb")

	db, err := Open(context.Background(), path, false)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE players (name VARCHAR, team VARCHAR, runs INTEGER, avg DECIMAL(5,2));
		INSERT INTO players VALUES
			('Kohli', 'RCB', 973, 81.08),
			('Buttler', 'RR', 863, 57.53),
			('Gill', 'GT', 890, 59.33);
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	return path
}

func TestExecutor_Select(t *testing.T) {
	t.Parallel()

	db, err := Open(context.Background(), seedDB(t), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	exec := NewExecutor(db, 100, 5*time.Second)
	rows, err := exec.Execute(context.Background(), "SELECT name, runs, avg FROM players ORDER BY runs DESC;")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Kohli", rows[0]["name"])
	assert.Equal(t, int32(973), rows[0]["runs"])
	assert.InDelta(t, 81.08, rows[0]["avg"], 0.001)
}

func TestExecutor_RowLimitAndAggregates(t *testing.T) {
	t.Parallel()

	db, err := Open(context.Background(), seedDB(t), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	exec := NewExecutor(db, 2, 0)
	rows, err := exec.Execute(context.Background(), "SELECT * FROM players")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = exec.Execute(context.Background(), "SELECT SUM(runs) AS total FROM players")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2726), rows[0]["total"])
}

func TestExecutor_EmptyResult(t *testing.T) {
	t.Parallel()

	db, err := Open(context.Background(), seedDB(t), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := NewExecutor(db, 10, 0).Execute(context.Background(), "SELECT * FROM players WHERE runs > 5000")
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestExecutor_ReadOnlyRejectsWrites(t *testing.T) {
	t.Parallel()

	db, err := Open(context.Background(), seedDB(t), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = NewExecutor(db, 0, 0).Execute(context.Background(), "DELETE FROM players")
	require.Error(t, err)
	assert.Contains(t, strings.ToLower(err.Error()), "read-only")
}

func TestOpen_InMemory(t *testing.T) {
	t.Parallel()

	db, err := Open(context.Background(), "", true)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	rows, err := NewExecutor(db, 10, 0).Execute(context.Background(), "SELECT 42 AS answer")
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"answer": int32(42)}}, rows)
}
