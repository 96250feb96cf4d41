package analytics

import (
	"context"
	"fmt"
)

// PageStat is one row of the top pages breakdown.
type PageStat struct {
	Path       string   `json:"path"`
	Views      int64    `json:"views"`
	Percentage *float64 `json:"percentage,omitempty"`
}

// BrowserStat is one row of the top browsers breakdown.
type BrowserStat struct {
	Browser    string   `json:"browser"`
	Count      int64    `json:"count"`
	Percentage *float64 `json:"percentage,omitempty"`
}

// NameCount is one row of the device and operating system breakdowns.
type NameCount struct {
	Name       string   `json:"name"`
	Count      int64    `json:"count"`
	Percentage *float64 `json:"percentage,omitempty"`
}

type countOptions struct {
	distinctSessions bool
	excludeEmpty     bool
	limit            int
}

// topCounts groups the window by column and returns label/total rows ordered
// by total descending, label ascending.
func (e *Engine) topCounts(ctx context.Context, f Filter, column string, opts countOptions) ([]countRow, error) {
	metric := "COUNT(*)"
	if opts.distinctSessions {
		metric = "COUNT(DISTINCT session_id)"
	}

	q := e.base(ctx, f).
		Select(fmt.Sprintf("%s AS label, %s AS total", column, metric)).
		Where(column + " IS NOT NULL")
	if opts.excludeEmpty {
		q = q.Where(column+" <> ?", "")
	}
	q = q.Group(column).Order("total DESC").Order(column + " ASC")
	if opts.limit > 0 {
		q = q.Limit(opts.limit)
	}

	var rows []countRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// shares computes each row's percentage of total, or nil when percentages are off.
// A zero total yields no rows.
func shares(rows []countRow, total int64, withPercentages bool) ([]countRow, []*float64) {
	if withPercentages && total <= 0 {
		return nil, nil
	}
	pcts := make([]*float64, len(rows))
	if !withPercentages {
		return rows, pcts
	}
	for i, r := range rows {
		p := percentage(r.Total, total)
		pcts[i] = &p
	}
	return rows, pcts
}

// GetTopPages ranks paths by views.
func (e *Engine) GetTopPages(ctx context.Context, f Filter, withPercentages bool) ([]PageStat, error) {
	rows, err := e.topCounts(ctx, f, "path", countOptions{limit: TopLimit})
	if err != nil {
		return nil, fmt.Errorf("error fetching top pages: %w", err)
	}

	rows, pcts := shares(rows, sumTotals(rows), withPercentages)
	results := make([]PageStat, len(rows))
	for i, r := range rows {
		results[i] = PageStat{Path: r.Label, Views: r.Total, Percentage: pcts[i]}
	}
	return results, nil
}

// GetTopBrowsers ranks browsers by views.
func (e *Engine) GetTopBrowsers(ctx context.Context, f Filter, withPercentages bool) ([]BrowserStat, error) {
	rows, err := e.topCounts(ctx, f, "browser", countOptions{limit: TopLimit})
	if err != nil {
		return nil, fmt.Errorf("error fetching top browsers: %w", err)
	}

	rows, pcts := shares(rows, sumTotals(rows), withPercentages)
	results := make([]BrowserStat, len(rows))
	for i, r := range rows {
		results[i] = BrowserStat{Browser: r.Label, Count: r.Total, Percentage: pcts[i]}
	}
	return results, nil
}

// GetTopDevices ranks devices by views.
func (e *Engine) GetTopDevices(ctx context.Context, f Filter, withPercentages bool) ([]NameCount, error) {
	rows, err := e.topCounts(ctx, f, "device", countOptions{limit: TopLimit})
	if err != nil {
		return nil, fmt.Errorf("error fetching top devices: %w", err)
	}
	return toNameCounts(rows, sumTotals(rows), withPercentages), nil
}

// GetTopOperatingSystems ranks operating systems by distinct sessions.
// Percentages are shares of all distinct sessions in the window, so a session
// seen on two systems counts once in the denominator.
func (e *Engine) GetTopOperatingSystems(ctx context.Context, f Filter, withPercentages bool) ([]NameCount, error) {
	totalSessions, err := e.countVisitors(ctx, f)
	if err != nil {
		return nil, err
	}
	if totalSessions == 0 {
		return []NameCount{}, nil
	}

	rows, err := e.topCounts(ctx, f, "operating_system", countOptions{distinctSessions: true, limit: TopLimit})
	if err != nil {
		return nil, fmt.Errorf("error fetching top operating systems: %w", err)
	}
	return toNameCounts(rows, totalSessions, withPercentages), nil
}

func toNameCounts(rows []countRow, total int64, withPercentages bool) []NameCount {
	rows, pcts := shares(rows, total, withPercentages)
	results := make([]NameCount, len(rows))
	for i, r := range rows {
		results[i] = NameCount{Name: r.Label, Count: r.Total, Percentage: pcts[i]}
	}
	return results
}
