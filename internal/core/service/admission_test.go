package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HArsh-ri01/nl-to-sql/internal/adapter/memory"
	"github.com/HArsh-ri01/nl-to-sql/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- failing QuotaStore ---

type failingStore struct {
	refunds atomic.Int32
}

var errStoreDown = errors.New("connection refused")

func (*failingStore) Consume(context.Context, string, int, domain.Day) (domain.Usage, error) {
	return domain.Usage{}, errStoreDown
}

func (f *failingStore) Refund(context.Context, string, domain.Day) error {
	f.refunds.Add(1)
	return errStoreDown
}

func (*failingStore) Peek(context.Context, string, domain.Day) (domain.Counter, bool, error) {
	return domain.Counter{}, false, errStoreDown
}

func (*failingStore) Purge(context.Context, domain.Day) (int64, error) {
	return 0, errStoreDown
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newController(t *testing.T, perIdentity, global int) (*AdmissionController, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	c, err := NewAdmissionController(memory.NewQuotaStore(), memory.NewQuotaStore(), AdmissionConfig{
		PerIdentityLimit: perIdentity,
		MaxGlobalDaily:   global,
		FailurePolicy:    FailClosed,
		Now:              clk.Now,
	}, testLogger(), nil)
	require.NoError(t, err)
	return c, clk
}

// --- tests ---

func TestAdmission_IdentityLimit(t *testing.T) {
	t.Parallel()

	c, _ := newController(t, 5, 5000)
	ctx := context.Background()

	for i := range 5 {
		a := c.Admit(ctx, "192.0.2.1")
		require.True(t, a.Allowed, "request %d", i+1)
		assert.Equal(t, ReasonAdmitted, a.Reason)
	}

	a := c.Admit(ctx, "192.0.2.1")
	assert.False(t, a.Allowed)
	assert.Equal(t, ReasonIdentityQuota, a.Reason)
	assert.True(t, errors.Is(a.Err, domain.ErrQuotaExceeded))

	// Another identity is unaffected.
	assert.True(t, c.Admit(ctx, "192.0.2.2").Allowed)

	closed, _ := newController(t, 0, 5000)
	a = closed.Admit(ctx, "192.0.2.1")
	assert.False(t, a.Allowed)
	assert.Equal(t, ReasonIdentityQuota, a.Reason)
	remaining, err := closed.RemainingForIdentity(ctx, "192.0.2.1")
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestAdmission_ZeroLimits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		perIdentity int
		global      int
		wantReason  AdmissionReason
	}{
		{"zero identity limit", 0, 5000, ReasonIdentityQuota},
		{"zero global limit", 5, 0, ReasonGlobalQuota},
		{"both zero", 0, 0, ReasonIdentityQuota},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, _ := newController(t, tt.perIdentity, tt.global)
			ctx := context.Background()

			for range 3 {
				a := c.Admit(ctx, "192.0.2.7")
				assert.False(t, a.Allowed)
				assert.Equal(t, tt.wantReason, a.Reason)
				assert.True(t, errors.Is(a.Err, domain.ErrQuotaExceeded))
			}

			global, err := c.RemainingGlobal(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.global, global)
			identity, err := c.RemainingForIdentity(ctx, "192.0.2.7")
			require.NoError(t, err)
			assert.Equal(t, tt.perIdentity, identity)
		})
	}
}

func TestAdmission_DayRollover(t *testing.T) {
	t.Parallel()

	c, clk := newController(t, 2, 5000)
	ctx := context.Background()

	require.True(t, c.Admit(ctx, "a").Allowed)
	require.True(t, c.Admit(ctx, "a").Allowed)
	require.False(t, c.Admit(ctx, "a").Allowed)

	clk.Advance(24 * time.Hour)

	assert.True(t, c.Admit(ctx, "a").Allowed)
	remaining, err := c.RemainingForIdentity(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestAdmission_GlobalLimitRefundsIdentity(t *testing.T) {
	t.Parallel()

	c, _ := newController(t, 10, 3)
	ctx := context.Background()

	require.True(t, c.Admit(ctx, "a").Allowed)
	require.True(t, c.Admit(ctx, "a").Allowed)
	require.True(t, c.Admit(ctx, "b").Allowed)

	a := c.Admit(ctx, "b")
	assert.False(t, a.Allowed)
	assert.Equal(t, ReasonGlobalQuota, a.Reason)
	assert.True(t, errors.Is(a.Err, domain.ErrQuotaExceeded))

	remaining, err := c.RemainingForIdentity(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 9, remaining, "global denial must not consume identity quota")

	global, err := c.RemainingGlobal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, global)
}

func TestAdmission_Remaining(t *testing.T) {
	t.Parallel()

	c, _ := newController(t, 5, 5000)
	ctx := context.Background()

	remaining, err := c.RemainingForIdentity(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	for range 3 {
		require.True(t, c.Admit(ctx, "x").Allowed)
	}
	remaining, err = c.RemainingForIdentity(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	global, err := c.RemainingGlobal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4997, global)
}

func TestAdmission_Concurrent(t *testing.T) {
	t.Parallel()

	const n = 100
	c, _ := newController(t, n, 5000)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Admit(ctx, "shared").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(n), allowed.Load())
	remaining, err := c.RemainingForIdentity(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
	assert.False(t, c.Admit(ctx, "shared").Allowed)
}

func TestAdmission_EmptyIdentity(t *testing.T) {
	t.Parallel()

	c, _ := newController(t, 5, 5000)
	a := c.Admit(context.Background(), "  ")
	assert.False(t, a.Allowed)
	assert.Equal(t, ReasonInvalidIdentity, a.Reason)
	assert.True(t, errors.Is(a.Err, domain.ErrEmptyIdentity))
}

func TestAdmission_StoreFailurePolicy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	closed, err := NewAdmissionController(&failingStore{}, &failingStore{}, AdmissionConfig{
		PerIdentityLimit: 5, MaxGlobalDaily: 10, FailurePolicy: FailClosed,
	}, testLogger(), nil)
	require.NoError(t, err)
	a := closed.Admit(ctx, "a")
	assert.False(t, a.Allowed)
	assert.Equal(t, ReasonStoreUnavailable, a.Reason)
	assert.True(t, errors.Is(a.Err, domain.ErrStoreUnavailable))
	assert.True(t, errors.Is(a.Err, errStoreDown))

	open, err := NewAdmissionController(&failingStore{}, &failingStore{}, AdmissionConfig{
		PerIdentityLimit: 5, MaxGlobalDaily: 10, FailurePolicy: FailOpen,
	}, testLogger(), nil)
	require.NoError(t, err)
	a = open.Admit(ctx, "a")
	assert.True(t, a.Allowed)
	assert.Equal(t, ReasonFailOpen, a.Reason)

	_, err = open.RemainingForIdentity(ctx, "a")
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
}

func TestAdmission_GlobalStoreFailureRefundsIdentity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	identities := memory.NewQuotaStore()

	c, err := NewAdmissionController(identities, &failingStore{}, AdmissionConfig{
		PerIdentityLimit: 5, MaxGlobalDaily: 10, FailurePolicy: FailClosed,
	}, testLogger(), nil)
	require.NoError(t, err)

	a := c.Admit(ctx, "a")
	assert.False(t, a.Allowed)
	assert.Equal(t, ReasonStoreUnavailable, a.Reason)

	remaining, err := c.RemainingForIdentity(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)
}

func TestNewAdmissionController_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewAdmissionController(memory.NewQuotaStore(), memory.NewQuotaStore(), AdmissionConfig{
		PerIdentityLimit: 5, MaxGlobalDaily: 10,
	}, nil, nil)
	assert.Error(t, err, "zero-value failure policy is rejected")

	_, err = NewAdmissionController(memory.NewQuotaStore(), nil, AdmissionConfig{FailurePolicy: FailOpen}, nil, nil)
	assert.Error(t, err)

	_, err = NewAdmissionController(memory.NewQuotaStore(), memory.NewQuotaStore(), AdmissionConfig{
		PerIdentityLimit: -1, FailurePolicy: FailOpen,
	}, nil, nil)
	assert.Error(t, err)
}

func TestParseFailurePolicy(t *testing.T) {
	t.Parallel()

	p, err := ParseFailurePolicy(" Open ")
	require.NoError(t, err)
	assert.Equal(t, FailOpen, p)

	_, err = ParseFailurePolicy("sometimes")
	assert.Error(t, err)
}
