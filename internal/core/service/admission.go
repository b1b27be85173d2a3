package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/HArsh-ri01/nl-to-sql/internal/core/domain"
	"github.com/HArsh-ri01/nl-to-sql/internal/core/port"
)

// FailurePolicy decides what Admit does when a quota store cannot be reached.
type FailurePolicy string

const (
	FailClosed FailurePolicy = "closed"
	FailOpen   FailurePolicy = "open"
)

// ParseFailurePolicy accepts "open" or "closed".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case FailClosed, FailOpen:
		return p, nil
	default:
		return "", fmt.Errorf("unknown store failure policy %q (want open or closed)", s)
	}
}

// AdmissionReason explains an admission outcome.
type AdmissionReason string

const (
	ReasonAdmitted         AdmissionReason = "admitted"
	ReasonIdentityQuota    AdmissionReason = "identity_quota_exceeded"
	ReasonGlobalQuota      AdmissionReason = "global_quota_exceeded"
	ReasonStoreUnavailable AdmissionReason = "store_unavailable"
	ReasonFailOpen         AdmissionReason = "store_unavailable_fail_open"
	ReasonInvalidIdentity  AdmissionReason = "invalid_identity"
)

// Admission is the outcome of one admission attempt. Err is set for denials
// and wraps domain.ErrQuotaExceeded, domain.ErrStoreUnavailable or
// domain.ErrEmptyIdentity.
type Admission struct {
	Allowed bool
	Reason  AdmissionReason
	Err     error
}

// AdmissionConfig holds the limits and policies of an AdmissionController.
type AdmissionConfig struct {
	PerIdentityLimit int
	MaxGlobalDaily   int
	FailurePolicy    FailurePolicy

	// Location decides where the calendar day rolls over. Nil means UTC.
	Location *time.Location

	// Now defaults to time.Now.
	Now func() time.Time
}

// AdmissionController enforces per-identity and global daily request quotas.
// Day rollover is lazy: a counter from an earlier day is reset by the first
// request that touches it.
type AdmissionController struct {
	identities port.QuotaStore
	global     port.QuotaStore
	cfg        AdmissionConfig
	logger     *slog.Logger
	inst       port.Instrumentation
}

func NewAdmissionController(identities, global port.QuotaStore, cfg AdmissionConfig, logger *slog.Logger, inst port.Instrumentation) (*AdmissionController, error) {
	if identities == nil || global == nil {
		return nil, errors.New("admission controller needs an identity store and a global store")
	}
	if cfg.PerIdentityLimit < 0 || cfg.MaxGlobalDaily < 0 {
		return nil, fmt.Errorf("quota limits must not be negative (identity %d, global %d)", cfg.PerIdentityLimit, cfg.MaxGlobalDaily)
	}
	if _, err := ParseFailurePolicy(string(cfg.FailurePolicy)); err != nil {
		return nil, err
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	return &AdmissionController{
		identities: identities,
		global:     global,
		cfg:        cfg,
		logger:     logger,
		inst:       inst,
	}, nil
}

// Today returns the current quota window.
func (c *AdmissionController) Today() domain.Day {
	return domain.DayOf(c.cfg.Now(), c.cfg.Location)
}

// Admit consumes one request from the identity's quota and, if that
// succeeds, from the global quota. When the global check denies, the
// identity consumption is refunded so that no partial admission persists.
func (c *AdmissionController) Admit(ctx context.Context, identity string) Admission {
	if strings.TrimSpace(identity) == "" {
		return c.deny(ctx, identity, ReasonInvalidIdentity, domain.ErrEmptyIdentity)
	}

	today := c.Today()

	identityCounted := true
	usage, err := c.identities.Consume(ctx, identity, c.cfg.PerIdentityLimit, today)
	switch {
	case err != nil:
		if c.cfg.FailurePolicy != FailOpen {
			return c.deny(ctx, identity, ReasonStoreUnavailable, storeErr(err))
		}
		c.logger.WarnContext(ctx, "identity quota store failed, admitting",
			slog.String("client.identity", identity),
			slog.String("error", err.Error()),
		)
		identityCounted = false
	case !usage.Allowed:
		return c.deny(ctx, identity, ReasonIdentityQuota,
			fmt.Errorf("%w: %d requests per identity per day", domain.ErrQuotaExceeded, c.cfg.PerIdentityLimit))
	}

	usage, err = c.global.Consume(ctx, domain.GlobalKey, c.cfg.MaxGlobalDaily, today)
	switch {
	case err != nil:
		if c.cfg.FailurePolicy != FailOpen {
			c.refund(ctx, identity, today, identityCounted)
			return c.deny(ctx, identity, ReasonStoreUnavailable, storeErr(err))
		}
		c.logger.WarnContext(ctx, "global quota store failed, admitting",
			slog.String("client.identity", identity),
			slog.String("error", err.Error()),
		)
		return Admission{Allowed: true, Reason: ReasonFailOpen}
	case !usage.Allowed:
		c.refund(ctx, identity, today, identityCounted)
		return c.deny(ctx, identity, ReasonGlobalQuota,
			fmt.Errorf("%w: %d requests per day across all clients", domain.ErrQuotaExceeded, c.cfg.MaxGlobalDaily))
	}

	if !identityCounted {
		return Admission{Allowed: true, Reason: ReasonFailOpen}
	}
	return Admission{Allowed: true, Reason: ReasonAdmitted}
}

// RemainingForIdentity reports how many requests identity may still make
// today. It never modifies the counter.
func (c *AdmissionController) RemainingForIdentity(ctx context.Context, identity string) (int, error) {
	return c.remaining(ctx, c.identities, identity, c.cfg.PerIdentityLimit)
}

// RemainingGlobal reports how many requests all clients together may still
// make today.
func (c *AdmissionController) RemainingGlobal(ctx context.Context) (int, error) {
	return c.remaining(ctx, c.global, domain.GlobalKey, c.cfg.MaxGlobalDaily)
}

func (c *AdmissionController) remaining(ctx context.Context, store port.QuotaStore, key string, limit int) (int, error) {
	today := c.Today()
	counter, ok, err := store.Peek(ctx, key, today)
	if err != nil {
		return 0, storeErr(err)
	}
	return domain.Remaining(counter, ok, today, limit), nil
}

func (c *AdmissionController) refund(ctx context.Context, identity string, today domain.Day, counted bool) {
	if !counted {
		return
	}
	if err := c.identities.Refund(ctx, identity, today); err != nil {
		c.logger.ErrorContext(ctx, "refunding identity quota failed",
			slog.String("client.identity", identity),
			slog.String("error", err.Error()),
		)
	}
}

func (c *AdmissionController) deny(ctx context.Context, identity string, reason AdmissionReason, err error) Admission {
	c.logger.WarnContext(ctx, "admission denied",
		slog.String("client.identity", identity),
		slog.String("admission.reason", string(reason)),
	)
	c.inst.IncrementAdmissionDenied(ctx, string(reason))
	return Admission{Reason: reason, Err: err}
}

func storeErr(err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}
