// Package analytics computes dashboard statistics from captured request events.
//
// The package is organized into focused modules:
//   - analytics.go: Engine, query filters and shared result types
//   - summary.go: views, visitors, bounce rate and average visit time
//   - chart.go: per-day views and visitors
//   - breakdowns.go: top-N pages, browsers, devices, operating systems
//   - referrers.go: referrer domain extraction and ranking
//   - countries.go: country ranking and the name to code table
//   - visitors.go: paginated visitor roster
//   - pageviews.go: paginated raw page view log
package analytics

import (
	"context"
	"log/slog"
	"math"
	"time"

	"gorm.io/gorm"

	"requestanalytics/internal/requests"
	"requestanalytics/internal/timeframe"
)

// TopLimit is the number of rows every top-N breakdown returns.
const TopLimit = 10

// Filter scopes every engine query. An empty Category matches all requests.
type Filter struct {
	Window   timeframe.DateWindow
	Category requests.Category
}

// Engine runs read-only aggregations against the request events table.
type Engine struct {
	store  *requests.Store
	loc    *time.Location
	logger *slog.Logger
}

// NewEngine creates an Engine. Days are bucketed in loc; nil means UTC.
func NewEngine(store *requests.Store, loc *time.Location, logger *slog.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, loc: loc, logger: logger}
}

// Location returns the location chart days are bucketed in.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// base returns a new statement filtered to the window and category.
// Every call builds a fresh statement so callers can add clauses freely.
func (e *Engine) base(ctx context.Context, f Filter) *gorm.DB {
	q := e.store.Query(ctx).
		Where("visited_at BETWEEN ? AND ?", f.Window.Start.UTC(), f.Window.End.UTC())
	if f.Category != "" {
		q = q.Where("request_category = ?", f.Category)
	}
	return q
}

// countRow is the raw shape of every grouped count query.
type countRow struct {
	Label string
	Total int64
}

// percentage returns count/total*100 rounded to one decimal. Zero total gives zero.
func percentage(count, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return round1(float64(count) / float64(total) * 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func sumTotals(rows []countRow) int64 {
	var total int64
	for _, r := range rows {
		total += r.Total
	}
	return total
}
