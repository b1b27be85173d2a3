package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/HArsh-ri01/nl-to-sql/internal/core/port"
)

// Sweep deletes quota records from both stores whose window ended before
// yesterday. Such records can no longer affect an admission decision.
func (c *AdmissionController) Sweep(ctx context.Context) (int64, error) {
	cutoff := c.Today().AddDays(-1)

	var (
		errs  []error
		total int64
	)
	for _, store := range []port.QuotaStore{c.identities, c.global} {
		n, err := store.Purge(ctx, cutoff)
		if err != nil {
			errs = append(errs, storeErr(err))
			continue
		}
		total += n
	}
	return total, errors.Join(errs...)
}

// RunSweeper calls Sweep every interval until ctx is cancelled. Failed sweeps
// are logged and retried on the next tick.
func RunSweeper(ctx context.Context, c *AdmissionController, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := c.Sweep(ctx)
			if err != nil {
				logger.WarnContext(ctx, "quota sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				logger.InfoContext(ctx, "quota sweep", slog.Int64("quota.purged", n))
			}
		}
	}
}
