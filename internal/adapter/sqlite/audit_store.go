package sqlite

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/HArsh-ri01/nl-to-sql/internal/core/port"
)

// AuditStore appends audit records to the query_history table.
type AuditStore struct {
	db     *sql.DB
	logger *slog.Logger
	owned  bool
}

// NewAuditStore writes to db. Close does not close a shared db unless owned
// is true.
func NewAuditStore(db *sql.DB, logger *slog.Logger, owned bool) *AuditStore {
	return &AuditStore{db: db, logger: logger, owned: owned}
}

func (s *AuditStore) Record(ctx context.Context, rec port.AuditRecord) {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var errText sql.NullString
	if rec.Err != nil {
		errText = sql.NullString{String: rec.Err.Error(), Valid: true}
	}

	_, err := s.db.ExecContext(context.WithoutCancel(ctx),
		`INSERT INTO query_history
		   (id, tool, identity, question, sql_text, succeeded, rule, detail, rows_returned, duration_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Tool, rec.Identity, rec.Question, rec.SQL, rec.Succeeded,
		string(rec.Rule), rec.Detail, rec.RowsReturned, rec.DurationMS, errText,
		ts.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		s.logger.WarnContext(ctx, "writing query history failed", slog.String("error", err.Error()))
	}
}

func (s *AuditStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
