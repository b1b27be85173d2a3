package audit

import (
	"time"

	"github.com/HArsh-ri01/nl-to-sql/internal/core/port"
)

// entry is the JSON form of an audit record shared by the file and NATS sinks.
type entry struct {
	ID           string  `json:"id"`
	Timestamp    string  `json:"ts"`
	Tool         string  `json:"tool,omitempty"`
	Identity     string  `json:"identity"`
	Question     string  `json:"question,omitempty"`
	SQL          string  `json:"sql"`
	Succeeded    bool    `json:"succeeded"`
	Rule         string  `json:"rule,omitempty"`
	Detail       string  `json:"detail,omitempty"`
	RowsReturned int     `json:"rows_returned"`
	DurationMS   int64   `json:"duration_ms"`
	Error        *string `json:"error"`
}

func toEntry(rec port.AuditRecord) entry {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	e := entry{
		ID:           rec.ID,
		Timestamp:    ts.UTC().Format(time.RFC3339),
		Tool:         rec.Tool,
		Identity:     rec.Identity,
		Question:     rec.Question,
		SQL:          rec.SQL,
		Succeeded:    rec.Succeeded,
		Rule:         string(rec.Rule),
		Detail:       rec.Detail,
		RowsReturned: rec.RowsReturned,
		DurationMS:   rec.DurationMS,
	}
	if rec.Err != nil {
		s := rec.Err.Error()
		e.Error = &s
	}
	return e
}
