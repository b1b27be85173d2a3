package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDayOf(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, Day("2026-03-01"), DayOf(ts, nil))

	tokyo := time.FixedZone("JST", 9*60*60)
	assert.Equal(t, Day("2026-03-02"), DayOf(ts, tokyo))
}

func TestDay_AddDays(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Day("2026-03-01"), Day("2026-02-28").AddDays(1))
	assert.Equal(t, Day("2025-12-31"), Day("2026-01-01").AddDays(-1))
	assert.True(t, Day("2025-12-31").Before("2026-01-01"))
}

func TestConsume(t *testing.T) {
	t.Parallel()

	today := Day("2026-05-10")
	yesterday := today.AddDays(-1)

	tests := []struct {
		name        string
		counter     Counter
		exists      bool
		limit       int
		wantCounter Counter
		wantAllowed bool
	}{
		{"first request creates record", Counter{}, false, 5, Counter{1, today}, true},
		{"increments under limit", Counter{2, today}, true, 5, Counter{3, today}, true},
		{"last slot is allowed", Counter{4, today}, true, 5, Counter{5, today}, true},
		{"at limit is denied and unchanged", Counter{5, today}, true, 5, Counter{5, today}, false},
		{"yesterday at limit resets", Counter{5, yesterday}, true, 5, Counter{1, today}, true},
		{"older window resets", Counter{3, today.AddDays(-30)}, true, 5, Counter{1, today}, true},
		{"zero limit denies first request", Counter{}, false, 0, Counter{}, false},
		{"zero limit denies stale record", Counter{2, yesterday}, true, 0, Counter{2, yesterday}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, allowed := Consume(tt.counter, tt.exists, today, tt.limit)
			assert.Equal(t, tt.wantAllowed, allowed)
			assert.Equal(t, tt.wantCounter, got)
		})
	}
}

func TestRemaining(t *testing.T) {
	t.Parallel()

	today := Day("2026-05-10")

	assert.Equal(t, 5, Remaining(Counter{}, false, today, 5))
	assert.Equal(t, 2, Remaining(Counter{3, today}, true, today, 5))
	assert.Equal(t, 5, Remaining(Counter{5, today.AddDays(-1)}, true, today, 5))
	assert.Equal(t, 0, Remaining(Counter{9, today}, true, today, 5), "never negative")
}
