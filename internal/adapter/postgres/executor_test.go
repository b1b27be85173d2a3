package postgres_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/HArsh-ri01/nl-to-sql/internal/adapter/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_Explain(t *testing.T) {
	pool := setupTestDB(t)
	executor := postgres.NewExecutor(pool, true, 100, 10*time.Second)

	results, err := executor.Execute(context.Background(), "EXPLAIN SELECT * FROM matches")
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestExecute_Select(t *testing.T) {
	pool := setupTestDB(t)
	executor := postgres.NewExecutor(pool, true, 100, 10*time.Second)

	results, err := executor.Execute(context.Background(),
		"SELECT winner, COUNT(*) AS titles, MAX(margin) AS best FROM matches GROUP BY winner ORDER BY titles DESC, winner;")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "CSK", results[0]["winner"])
	assert.Equal(t, int64(2), results[0]["titles"])
	assert.Equal(t, 27.0, results[0]["best"])
}

func TestExecute_Select_RowLimit(t *testing.T) {
	pool := setupTestDB(t)
	executor := postgres.NewExecutor(pool, true, 3, 10*time.Second)

	results, err := executor.Execute(context.Background(), "SELECT id, season FROM matches")
	require.NoError(t, err)
	assert.Len(t, results, 3, "should be limited to maxRows=3")
}

func TestExecute_EmptyResult(t *testing.T) {
	pool := setupTestDB(t)
	executor := postgres.NewExecutor(pool, true, 100, 10*time.Second)

	results, err := executor.Execute(context.Background(), "SELECT * FROM matches WHERE season = 1900")
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestExecute_ReadOnlyRejectsWrites(t *testing.T) {
	pool := setupTestDB(t)
	executor := postgres.NewExecutor(pool, true, 0, 10*time.Second)

	_, err := executor.Execute(context.Background(), "INSERT INTO matches (season) VALUES (2024)")
	require.Error(t, err)
	assert.Contains(t, strings.ToLower(err.Error()), "read-only")
}

func TestExecute_StatementTimeout(t *testing.T) {
	pool := setupTestDB(t)

	// pg_sleep(30) should be cancelled by the 1s statement_timeout.
	executor := postgres.NewExecutor(pool, true, 100, 1*time.Second)

	_, err := executor.Execute(context.Background(), "SELECT pg_sleep(30)")
	require.Error(t, err)

	// PostgreSQL cancels with SQLSTATE 57014 (query_canceled), or the Go
	// context expires first.
	errMsg := strings.ToLower(err.Error())
	assert.True(t,
		strings.Contains(errMsg, "statement timeout") ||
			strings.Contains(errMsg, "cancel") ||
			strings.Contains(errMsg, "57014") ||
			strings.Contains(errMsg, "deadline exceeded") ||
			strings.Contains(errMsg, "timeout"),
		"expected timeout-related error, got: %s", err,
	)
}

func TestNewPool(t *testing.T) {
	pool := setupTestDB(t)
	connStr := pool.Config().ConnString()

	p, err := postgres.NewPool(context.Background(), connStr, postgres.PoolConfig{MaxConns: 3, MinConns: 1, MaxConnLifetime: time.Minute})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, int32(3), p.Config().MaxConns)

	_, err = postgres.NewPool(context.Background(), "not a url ::", postgres.PoolConfig{})
	assert.Error(t, err)
}
