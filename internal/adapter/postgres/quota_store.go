package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/HArsh-ri01/nl-to-sql/internal/core/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate creates the quota table.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("opening embedded migrations: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

const consumeSQL = `
INSERT INTO sqlgate_quota_counters AS q (scope, key, count, window_date)
VALUES ($1, $2, 1, $3)
ON CONFLICT (scope, key) DO UPDATE SET
    count = CASE WHEN q.window_date < excluded.window_date THEN 1 ELSE q.count + 1 END,
    window_date = excluded.window_date
WHERE q.window_date < excluded.window_date OR q.count < $4
RETURNING count`

// QuotaStore keeps the counters of one scope in sqlgate_quota_counters.
// Row locks taken by the upsert serialize concurrent consumers.
type QuotaStore struct {
	pool  *pgxpool.Pool
	scope domain.QuotaScope
}

func NewQuotaStore(pool *pgxpool.Pool, scope domain.QuotaScope) *QuotaStore {
	return &QuotaStore{pool: pool, scope: scope}
}

func (s *QuotaStore) Consume(ctx context.Context, key string, limit int, today domain.Day) (domain.Usage, error) {
	day, err := parseDay(today)
	if err != nil {
		return domain.Usage{}, err
	}

	var count int
	err = pgx.ErrNoRows
	if limit > 0 {
		err = s.pool.QueryRow(ctx, consumeSQL, string(s.scope), key, day, limit).Scan(&count)
	}
	if errors.Is(err, pgx.ErrNoRows) {
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
	day, err := parseDay(today)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE sqlgate_quota_counters SET count = count - 1
		 WHERE scope = $1 AND key = $2 AND window_date = $3 AND count > 0`,
		string(s.scope), key, day)
	if err != nil {
		return fmt.Errorf("%w: refunding %s quota: %w", domain.ErrStoreUnavailable, s.scope, err)
	}
	return nil
}

func (s *QuotaStore) Peek(ctx context.Context, key string, _ domain.Day) (domain.Counter, bool, error) {
	var (
		count  int
		window time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT count, window_date FROM sqlgate_quota_counters WHERE scope = $1 AND key = $2`,
		string(s.scope), key).Scan(&count, &window)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Counter{}, false, nil
	}
	if err != nil {
		return domain.Counter{}, false, fmt.Errorf("%w: reading %s quota: %w", domain.ErrStoreUnavailable, s.scope, err)
	}
	return domain.Counter{Count: count, Window: domain.DayOf(window, time.UTC)}, true, nil
}

func (s *QuotaStore) Purge(ctx context.Context, before domain.Day) (int64, error) {
	day, err := parseDay(before)
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sqlgate_quota_counters WHERE scope = $1 AND window_date < $2`,
		string(s.scope), day)
	if err != nil {
		return 0, fmt.Errorf("%w: purging %s quota: %w", domain.ErrStoreUnavailable, s.scope, err)
	}
	return tag.RowsAffected(), nil
}

func parseDay(d domain.Day) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, string(d))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid quota day %q: %w", d, err)
	}
	return t, nil
}
