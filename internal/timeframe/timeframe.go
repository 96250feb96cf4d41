package timeframe

import (
	"fmt"
	"time"
)

// DefaultDateRange is used when no usable date range was requested.
const DefaultDateRange = 30

// MaxDateRange is the widest relative range the dashboard accepts.
const MaxDateRange = 365

// DateFormat is the calendar date layout used for explicit dates and cache keys.
const DateFormat = "2006-01-02"

// ChartLabelFormat is the per-day label shown on the dashboard chart.
const ChartLabelFormat = "Jan 02"

type TimeProvider interface {
	Now(loc *time.Location) time.Time
}

// DefaultTimeProvider uses the system clock.
type DefaultTimeProvider struct{}

// Now returns the current time in loc.
func (p *DefaultTimeProvider) Now(loc *time.Location) time.Time {
	return time.Now().In(loc)
}

// FixedTimeProvider always returns the same instant. Used by tests and backfills.
type FixedTimeProvider struct {
	Time time.Time
}

// Now returns the fixed instant in loc.
func (p *FixedTimeProvider) Now(loc *time.Location) time.Time {
	return p.Time.In(loc)
}

// DateWindow is the inclusive time range a dashboard query is scoped to.
type DateWindow struct {
	Start    time.Time
	End      time.Time
	Days     int
	CacheKey string
}

// WindowParams selects either an explicit date pair or a relative range.
// Explicit dates win only when both are set.
type WindowParams struct {
	StartDate *time.Time
	EndDate   *time.Time
	DateRange int
}

// HasExplicitDates reports whether both calendar dates were given.
func (p WindowParams) HasExplicitDates() bool {
	return p.StartDate != nil && p.EndDate != nil
}

// Resolver turns WindowParams into concrete windows in a fixed location.
type Resolver struct {
	timeProvider TimeProvider
	loc          *time.Location
}

// NewResolver creates a Resolver. A nil location means UTC.
func NewResolver(loc *time.Location, timeProvider ...TimeProvider) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	var provider TimeProvider = &DefaultTimeProvider{}
	if len(timeProvider) > 0 && timeProvider[0] != nil {
		provider = timeProvider[0]
	}
	return &Resolver{timeProvider: provider, loc: loc}
}

// Location returns the location windows are resolved in.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// Resolve builds the window for params.
//
// Explicit dates span start_date 00:00:00 through end_date 23:59:59.
// Otherwise the window runs from the start of the day N days ago through
// the end of today, and Days is N.
func (r *Resolver) Resolve(params WindowParams) DateWindow {
	if params.HasExplicitDates() {
		start := StartOfDay(params.StartDate.In(r.loc))
		end := EndOfDay(params.EndDate.In(r.loc))
		return newWindow(start, end, DaysBetween(start, end))
	}

	days := params.DateRange
	if days <= 0 {
		days = DefaultDateRange
	}
	now := r.timeProvider.Now(r.loc)
	start := StartOfDay(now.AddDate(0, 0, -days))
	end := EndOfDay(now)
	return newWindow(start, end, days)
}

// FromCacheKey rebuilds the window a cache key was derived from.
func (r *Resolver) FromCacheKey(key string, days int) (DateWindow, error) {
	if len(key) != 2*len(DateFormat)+1 {
		return DateWindow{}, fmt.Errorf("invalid window cache key %q", key)
	}
	start, err := time.ParseInLocation(DateFormat, key[:len(DateFormat)], r.loc)
	if err != nil {
		return DateWindow{}, fmt.Errorf("invalid window start in %q: %w", key, err)
	}
	end, err := time.ParseInLocation(DateFormat, key[len(DateFormat)+1:], r.loc)
	if err != nil {
		return DateWindow{}, fmt.Errorf("invalid window end in %q: %w", key, err)
	}
	return newWindow(StartOfDay(start), EndOfDay(end), days), nil
}

func newWindow(start, end time.Time, days int) DateWindow {
	return DateWindow{
		Start:    start,
		End:      end,
		Days:     days,
		CacheKey: fmt.Sprintf("%s_%s", start.Format(DateFormat), end.Format(DateFormat)),
	}
}

// Contains reports whether t falls inside the window, bounds included.
func (w DateWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// CalendarDays returns the start of every calendar day from Start to End, inclusive.
func (w DateWindow) CalendarDays() []time.Time {
	if w.End.Before(w.Start) {
		return nil
	}
	loc := w.Start.Location()
	last := StartOfDay(w.End.In(loc))

	var days []time.Time
	for day := StartOfDay(w.Start); !day.After(last); day = day.AddDate(0, 0, 1) {
		days = append(days, day)
	}
	return days
}

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the last nanosecond of t's calendar day in t's location.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}

// DaysBetween counts whole calendar days from start's date to end's date.
func DaysBetween(start, end time.Time) int {
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	from := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	to := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}
