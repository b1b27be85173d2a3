package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/HArsh-ri01/nl-to-sql/internal/adapter/duckdb"
	"github.com/HArsh-ri01/nl-to-sql/internal/adapter/memory"
	"github.com/HArsh-ri01/nl-to-sql/internal/adapter/postgres"
	"github.com/HArsh-ri01/nl-to-sql/internal/adapter/redis"
	"github.com/HArsh-ri01/nl-to-sql/internal/adapter/sqlite"
	"github.com/HArsh-ri01/nl-to-sql/internal/audit"
	"github.com/HArsh-ri01/nl-to-sql/internal/config"
	"github.com/HArsh-ri01/nl-to-sql/internal/core/domain"
	"github.com/HArsh-ri01/nl-to-sql/internal/core/port"
	"github.com/jackc/pgx/v5/pgxpool"
)

// resources collects everything that must be closed on shutdown, in
// reverse order of acquisition.
type resources struct {
	closers []func()
	pool    *pgxpool.Pool
}

func (r *resources) onClose(f func()) { r.closers = append(r.closers, f) }

func (r *resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// postgresPool opens the shared pool on first use.
func (r *resources) postgresPool(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	if r.pool != nil {
		return r.pool, nil
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxConns:        cfg.PoolMaxConns,
		MinConns:        cfg.PoolMinConns,
		MaxConnLifetime: cfg.PoolMaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database %s: %w", redactDSN(cfg.DatabaseURL), err)
	}
	r.pool = pool
	r.onClose(pool.Close)

	logger.Info("database pool connected",
		slog.String("db.system", "postgresql"),
		slog.Int("pool.max_conns", int(cfg.PoolMaxConns)),
		slog.Int("pool.min_conns", int(cfg.PoolMinConns)),
		slog.String("pool.max_conn_lifetime", cfg.PoolMaxConnLifetime.String()),
	)
	return pool, nil
}

func buildExecutor(ctx context.Context, cfg *config.Config, res *resources, logger *slog.Logger) (port.QueryExecutor, string, error) {
	switch cfg.Engine {
	case "duckdb":
		db, err := duckdb.Open(ctx, cfg.DuckDBPath, cfg.ReadOnly)
		if err != nil {
			return nil, "", err
		}
		res.onClose(func() { _ = db.Close() })
		logger.Info("duckdb opened", slog.String("db.system", "duckdb"), slog.String("path", cfg.DuckDBPath))
		return duckdb.NewExecutor(db, cfg.MaxRows, cfg.QueryTimeout), "duckdb", nil
	default:
		pool, err := res.postgresPool(ctx, cfg, logger)
		if err != nil {
			return nil, "", err
		}
		return postgres.NewExecutor(pool, cfg.ReadOnly, cfg.MaxRows, cfg.QueryTimeout), "postgresql", nil
	}
}

// buildQuotaStores returns the per-identity and global stores for the
// configured backend.
func buildQuotaStores(ctx context.Context, cfg *config.Config, res *resources, logger *slog.Logger) (port.QuotaStore, port.QuotaStore, error) {
	switch cfg.QuotaStore {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.QuotaSQLitePath)
		if err != nil {
			return nil, nil, err
		}
		res.onClose(func() { _ = db.Close() })
		logger.Info("quota store ready", slog.String("quota.store", "sqlite"), slog.String("path", cfg.QuotaSQLitePath))
		return sqlite.NewQuotaStore(db, domain.ScopeIdentity), sqlite.NewQuotaStore(db, domain.ScopeGlobal), nil

	case "redis":
		rdb, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		res.onClose(func() { _ = rdb.Close() })
		logger.Info("quota store ready", slog.String("quota.store", "redis"))
		return redis.NewQuotaStore(rdb, domain.ScopeIdentity, 0), redis.NewQuotaStore(rdb, domain.ScopeGlobal, 0), nil

	case "postgres":
		pool, err := res.postgresPool(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			return nil, nil, err
		}
		logger.Info("quota store ready", slog.String("quota.store", "postgres"))
		return postgres.NewQuotaStore(pool, domain.ScopeIdentity), postgres.NewQuotaStore(pool, domain.ScopeGlobal), nil

	default:
		logger.Info("quota store ready", slog.String("quota.store", "memory"))
		return memory.NewQuotaStore(), memory.NewQuotaStore(), nil
	}
}

// buildAuditor combines every configured audit sink. With none configured
// audit records are dropped.
func buildAuditor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (port.QueryAuditor, error) {
	var sinks audit.MultiAuditor

	if cfg.AuditLog != "" {
		fa, err := audit.NewFileAuditor(cfg.AuditLog)
		if err != nil {
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
		sinks = append(sinks, fa)
		logger.Info("audit logging enabled", slog.String("path", cfg.AuditLog))
	}

	if cfg.AuditDB != "" {
		db, err := openAuditDB(ctx, cfg.AuditDB)
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, sqlite.NewAuditStore(db, logger, true))
		logger.Info("query history enabled", slog.String("path", cfg.AuditDB))
	}

	if cfg.NATSURL != "" {
		na, err := audit.NewNATSAuditor(ctx, cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, na)
		logger.Info("audit events enabled", slog.String("nats.subject", cfg.NATSSubject))
	}

	switch len(sinks) {
	case 0:
		return audit.NoopAuditor{}, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

func openAuditDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	return db, nil
}
