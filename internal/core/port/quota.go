package port

import (
	"context"

	"github.com/HArsh-ri01/nl-to-sql/internal/core/domain"
)

// QuotaStore persists daily counters for one quota scope. The per-identity
// and global counters are separate instances.
//
// Consume is the admission primitive: it must perform the read, compare and
// write for key as one atomic unit, applying domain.Consume semantics.
// Stores wrap driver failures with domain.ErrStoreUnavailable.
type QuotaStore interface {
	Consume(ctx context.Context, key string, limit int, today domain.Day) (domain.Usage, error)

	// Refund undoes one admission recorded for key today. It is a no-op when
	// the record is missing, stale, or already zero.
	Refund(ctx context.Context, key string, today domain.Day) error

	// Peek reads a counter without modifying it.
	Peek(ctx context.Context, key string, today domain.Day) (domain.Counter, bool, error)

	// Purge deletes records whose window is before the given day and reports
	// how many were removed.
	Purge(ctx context.Context, before domain.Day) (int64, error)
}
