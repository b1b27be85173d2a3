package port

import (
	"context"
	"time"

	"github.com/HArsh-ri01/nl-to-sql/internal/core/domain"
)

// AuditRecord is one completed pipeline run: a question, the SQL produced for
// it, and whether it was answered.
type AuditRecord struct {
	ID           string      `json:"id"`
	Tool         string      `json:"tool,omitempty"`
	Identity     string      `json:"identity"`
	Question     string      `json:"question,omitempty"`
	SQL          string      `json:"sql"`
	Succeeded    bool        `json:"succeeded"`
	Rule         domain.Rule `json:"rule,omitempty"`
	Detail       string      `json:"detail,omitempty"`
	RowsReturned int         `json:"rows_returned"`
	DurationMS   int64       `json:"duration_ms"`
	Err          error       `json:"-"`
	Timestamp    time.Time   `json:"timestamp"`
}

// QueryAuditor records query audit events. Implementations must be safe for
// concurrent use; Record never fails the request it describes.
type QueryAuditor interface {
	Record(ctx context.Context, rec AuditRecord)
	Close() error
}
