package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/HArsh-ri01/nl-to-sql/internal/core/domain"
)

// consumeSQL is the whole admission decision in one statement. A stale
// window restarts at 1; a current one increments only while under the limit.
// When the WHERE clause rejects the update no row is returned.
const consumeSQL = `
INSERT INTO quota_counters (scope, key, count, window_date)
VALUES (?, ?, 1, ?)
ON CONFLICT (scope, key) DO UPDATE SET
    count = CASE
        WHEN quota_counters.window_date < excluded.window_date THEN 1
        ELSE quota_counters.count + 1
    END,
    window_date = excluded.window_date
WHERE quota_counters.window_date < excluded.window_date
   OR quota_counters.count < ?
RETURNING count`

// QuotaStore keeps the counters of one scope in the quota_counters table.
type QuotaStore struct {
	db    *sql.DB
	scope domain.QuotaScope
}

func NewQuotaStore(db *sql.DB, scope domain.QuotaScope) *QuotaStore {
	return &QuotaStore{db: db, scope: scope}
}

func (s *QuotaStore) Consume(ctx context.Context, key string, limit int, today domain.Day) (domain.Usage, error) {
	var count int
	err := sql.ErrNoRows
	if limit > 0 {
		err = s.db.QueryRowContext(ctx, consumeSQL, s.scope, key, today, limit).Scan(&count)
	}
	if errors.Is(err, sql.ErrNoRows) {
		c, _, err := s.Peek(ctx, key, today)
		if err != nil {
			return domain.Usage{}, err
		}
		return domain.Usage{Count: c.Count}, nil
	}
	if err != nil {
		return domain.Usage{}, fmt.Errorf("%w: consuming %s quota: %w", domain.ErrStoreUnavailable, s.scope, err)
	}
	return domain.Usage{Allowed: true, Count: count}, nil
}

func (s *QuotaStore) Refund(ctx context.Context, key string, today domain.Day) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE quota_counters SET count = count - 1
		 WHERE scope = ? AND key = ? AND window_date = ? AND count > 0`,
		s.scope, key, today)
	if err != nil {
		return fmt.Errorf("%w: refunding %s quota: %w", domain.ErrStoreUnavailable, s.scope, err)
	}
	return nil
}

func (s *QuotaStore) Peek(ctx context.Context, key string, _ domain.Day) (domain.Counter, bool, error) {
	var c domain.Counter
	err := s.db.QueryRowContext(ctx,
		`SELECT count, window_date FROM quota_counters WHERE scope = ? AND key = ?`,
		s.scope, key).Scan(&c.Count, &c.Window)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Counter{}, false, nil
	}
	if err != nil {
		return domain.Counter{}, false, fmt.Errorf("%w: reading %s quota: %w", domain.ErrStoreUnavailable, s.scope, err)
	}
	return c, true, nil
}

func (s *QuotaStore) Purge(ctx context.Context, before domain.Day) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM quota_counters WHERE scope = ? AND window_date < ?`,
		s.scope, before)
	if err != nil {
		return 0, fmt.Errorf("%w: purging %s quota: %w", domain.ErrStoreUnavailable, s.scope, err)
	}
	return res.RowsAffected()
}
