package port

import "context"

// QueryExecutor runs an already validated SQL statement and returns its rows.
type QueryExecutor interface {
	Execute(ctx context.Context, sql string) ([]map[string]any, error)
}
