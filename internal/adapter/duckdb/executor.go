// Package duckdb executes admitted queries against a local DuckDB file, for
// analytical datasets that are shipped as a single database file.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/HArsh-ri01/nl-to-sql/internal/core/domain"
	"github.com/marcboeker/go-duckdb"
)

// Open connects to the DuckDB file at path. A read-only handle lets several
// processes share the file and refuses writes at the engine level.
func Open(ctx context.Context, path string, readOnly bool) (*sql.DB, error) {
	if path == "" {
		path = ":memory:"
	}
	dsn := path
	if readOnly && path != ":memory:" {
		dsn += "?access_mode=read_only"
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging duckdb: %w", err)
	}
	return db, nil
}

// Executor runs validated statements on DuckDB with a row cap and timeout.
type Executor struct {
	db           *sql.DB
	maxRows      int
	queryTimeout time.Duration
}

func NewExecutor(db *sql.DB, maxRows int, queryTimeout time.Duration) *Executor {
	return &Executor{db: db, maxRows: maxRows, queryTimeout: queryTimeout}
}

func (e *Executor) Execute(ctx context.Context, query string) ([]map[string]any, error) {
	if e.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.queryTimeout)
		defer cancel()
	}

	stmt := domain.TrimStatement(query)
	if e.maxRows > 0 && !domain.IsExplain(stmt) {
		stmt = fmt.Sprintf("SELECT * FROM (%s) AS _q LIMIT %d", stmt, e.maxRows)
	}

	rows, err := e.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	result := []map[string]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("reading row values: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = jsonValue(vals[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return result, nil
}

func jsonValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		return x.String()
	case duckdb.Decimal:
		return x.Float64()
	default:
		return v
	}
}
