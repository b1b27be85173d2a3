package domain

import "time"

const dayLayout = "2006-01-02"

// Day is a calendar date in YYYY-MM-DD form. Lexical order equals
// chronological order, which lets stores compare windows as plain text.
type Day string

// DayOf returns the calendar day containing t in loc. A nil loc means UTC.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	return Day(t.In(loc).Format(dayLayout))
}

func (d Day) Before(other Day) bool { return d < other }

// AddDays shifts the day by n calendar days.
func (d Day) AddDays(n int) Day {
	t, err := time.Parse(dayLayout, string(d))
	if err != nil {
		return d
	}
	return Day(t.AddDate(0, 0, n).Format(dayLayout))
}

func (d Day) String() string { return string(d) }

// QuotaScope distinguishes the per-identity table from the global singleton.
type QuotaScope string

const (
	ScopeIdentity QuotaScope = "identity"
	ScopeGlobal   QuotaScope = "global"
)

// GlobalKey is the single row key of the global counter.
const GlobalKey = "daily_total"

// Counter is the persisted state of one quota record: how many requests were
// admitted during Window.
type Counter struct {
	Count  int
	Window Day
}

// Consume applies one admission attempt to a counter. exists reports whether
// a record was stored before. The returned counter is what must be written
// back; when allowed is false the counter is unchanged and nothing should be
// written.
//
// A record from an earlier day restarts at 1 regardless of how much of the
// old window was used. A limit of zero or less admits nothing.
func Consume(c Counter, exists bool, today Day, limit int) (next Counter, allowed bool) {
	if limit <= 0 {
		return c, false
	}
	if !exists || c.Window.Before(today) {
		return Counter{Count: 1, Window: today}, true
	}
	if c.Count >= limit {
		return c, false
	}
	return Counter{Count: c.Count + 1, Window: c.Window}, true
}

// Remaining reports how many admissions are left today. Records from earlier
// days count as unused. Never negative.
func Remaining(c Counter, exists bool, today Day, limit int) int {
	if !exists || c.Window.Before(today) {
		return limit
	}
	return max(0, limit-c.Count)
}

// Usage is the outcome of a store-level consume.
type Usage struct {
	Allowed bool
	Count   int
}
