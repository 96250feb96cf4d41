package analytics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Summary holds the headline numbers of a window.
type Summary struct {
	Views            int64  `json:"views"`
	Visitors         int64  `json:"visitors"`
	BounceRate       string `json:"bounce_rate"`
	AverageVisitTime string `json:"average_visit_time"`
}

// GetSummary computes views, visitors, bounce rate and average visit time.
//
// Single page sessions are counted from the window start with no upper bound
// and across every category, so bounce rate can include sessions newer than
// the window end.
func (e *Engine) GetSummary(ctx context.Context, f Filter) (*Summary, error) {
	var views int64
	if err := e.base(ctx, f).Count(&views).Error; err != nil {
		return nil, fmt.Errorf("error fetching page views: %w", err)
	}

	visitors, err := e.countVisitors(ctx, f)
	if err != nil {
		return nil, err
	}

	singlePageSessions, err := e.countSinglePageSessions(ctx, f.Window.Start)
	if err != nil {
		return nil, err
	}

	averageSeconds, err := e.averageVisitSeconds(ctx, f)
	if err != nil {
		return nil, err
	}

	return &Summary{
		Views:            views,
		Visitors:         visitors,
		BounceRate:       formatPercent(percentage(singlePageSessions, visitors)),
		AverageVisitTime: FormatDuration(averageSeconds),
	}, nil
}

func (e *Engine) countVisitors(ctx context.Context, f Filter) (int64, error) {
	var visitors int64
	if err := e.base(ctx, f).Distinct("session_id").Count(&visitors).Error; err != nil {
		return 0, fmt.Errorf("error fetching visitors: %w", err)
	}
	return visitors, nil
}

func (e *Engine) countSinglePageSessions(ctx context.Context, since time.Time) (int64, error) {
	sub := e.store.Query(ctx).
		Select("session_id").
		Where("visited_at >= ?", since.UTC()).
		Group("session_id").
		Having("COUNT(*) = 1")

	var count int64
	err := e.store.DB().WithContext(ctx).
		Table("(?) AS single_page_sessions", sub).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("error fetching single page sessions: %w", err)
	}
	return count, nil
}

// averageVisitSeconds averages max-min visit time over sessions that lasted at
// least one whole second. Spans are truncated to seconds before filtering.
func (e *Engine) averageVisitSeconds(ctx context.Context, f Filter) (float64, error) {
	type span struct {
		first time.Time
		last  time.Time
	}
	spans := make(map[string]*span)

	err := e.eachVisit(ctx, f, func(sessionID string, visitedAt time.Time) {
		s, ok := spans[sessionID]
		if !ok {
			spans[sessionID] = &span{first: visitedAt, last: visitedAt}
			return
		}
		if visitedAt.Before(s.first) {
			s.first = visitedAt
		}
		if visitedAt.After(s.last) {
			s.last = visitedAt
		}
	})
	if err != nil {
		return 0, fmt.Errorf("error fetching visit durations: %w", err)
	}

	var total int64
	var sessions int
	for _, s := range spans {
		seconds := int64(s.last.Sub(s.first) / time.Second)
		if seconds <= 0 {
			continue
		}
		total += seconds
		sessions++
	}
	if sessions == 0 {
		return 0, nil
	}
	return round1(float64(total) / float64(sessions)), nil
}

// eachVisit streams the session id and visit time of every row in the window.
func (e *Engine) eachVisit(ctx context.Context, f Filter, fn func(sessionID string, visitedAt time.Time)) error {
	rows, err := e.base(ctx, f).Select("session_id, visited_at").Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var sessionID string
		var visitedAt dbTime
		if err := rows.Scan(&sessionID, &visitedAt); err != nil {
			return err
		}
		fn(sessionID, visitedAt.Time)
	}
	return rows.Err()
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}

var durationUnits = []struct {
	suffix  string
	seconds int64
}{
	{"y", 12 * 4 * 7 * 24 * 60 * 60},
	{"mo", 4 * 7 * 24 * 60 * 60},
	{"w", 7 * 24 * 60 * 60},
	{"d", 24 * 60 * 60},
	{"h", 60 * 60},
	{"m", 60},
	{"s", 1},
}

// FormatDuration renders seconds in short human form, e.g. "1h 2m 5s".
// Fractions of a second are dropped; zero or less renders "0s".
func FormatDuration(seconds float64) string {
	remaining := int64(seconds)
	if remaining <= 0 {
		return "0s"
	}

	var parts []string
	for _, unit := range durationUnits {
		if remaining < unit.seconds {
			continue
		}
		parts = append(parts, strconv.FormatInt(remaining/unit.seconds, 10)+unit.suffix)
		remaining %= unit.seconds
	}
	return strings.Join(parts, " ")
}
