package analytics

import (
	"context"
	"fmt"
	"time"

	"requestanalytics/internal/visitors"
)

// DefaultPerPage is the page size for roster and log listings.
const DefaultPerPage = 50

// MaxPerPage caps the page size callers can ask for.
const MaxPerPage = 100

// Pagination selects one page of a listing. Values below 1 use the defaults.
type Pagination struct {
	Page    int
	PerPage int
}

func (p Pagination) normalized() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

func (p Pagination) offset() int {
	return (p.Page - 1) * p.PerPage
}

// Page is one page of a listing.
type Page[T any] struct {
	Data        []T   `json:"data"`
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
	LastPage    int   `json:"last_page"`
}

func newPage[T any](data []T, p Pagination, total int64) *Page[T] {
	lastPage := int((total + int64(p.PerPage) - 1) / int64(p.PerPage))
	if lastPage < 1 {
		lastPage = 1
	}
	if data == nil {
		data = []T{}
	}
	return &Page[T]{
		Data:        data,
		CurrentPage: p.Page,
		PerPage:     p.PerPage,
		Total:       total,
		LastPage:    lastPage,
	}
}

// VisitorStat is one visitor's activity within the window.
type VisitorStat struct {
	VisitorID   string    `json:"visitor_id"`
	Alias       string    `json:"alias"`
	PageViews   int64     `json:"page_views"`
	Sessions    int64     `json:"sessions"`
	FirstVisit  time.Time `json:"first_visit"`
	LastVisit   time.Time `json:"last_visit"`
	UniquePages int64     `json:"unique_pages"`
}

// GetVisitors lists visitors active in the window, most recent first.
// Requests without a visitor id are not listed.
func (e *Engine) GetVisitors(ctx context.Context, f Filter, p Pagination) (*Page[VisitorStat], error) {
	p = p.normalized()

	var total int64
	if err := e.base(ctx, f).
		Where("visitor_id IS NOT NULL").
		Distinct("visitor_id").
		Count(&total).Error; err != nil {
		return nil, fmt.Errorf("error counting visitors: %w", err)
	}

	rows, err := e.base(ctx, f).
		Select(`visitor_id,
			COUNT(*) AS page_views,
			COUNT(DISTINCT session_id) AS sessions,
			MIN(visited_at) AS first_visit,
			MAX(visited_at) AS last_visit,
			COUNT(DISTINCT path) AS unique_pages`).
		Where("visitor_id IS NOT NULL").
		Group("visitor_id").
		Order("last_visit DESC").
		Order("visitor_id ASC").
		Limit(p.PerPage).
		Offset(p.offset()).
		Rows()
	if err != nil {
		return nil, fmt.Errorf("error fetching visitors: %w", err)
	}
	defer rows.Close()

	var stats []VisitorStat
	for rows.Next() {
		var stat VisitorStat
		var first, last dbTime
		if err := rows.Scan(&stat.VisitorID, &stat.PageViews, &stat.Sessions, &first, &last, &stat.UniquePages); err != nil {
			return nil, fmt.Errorf("error scanning visitor: %w", err)
		}
		stat.Alias = visitors.Alias(stat.VisitorID)
		stat.FirstVisit = first.Time.In(e.loc)
		stat.LastVisit = last.Time.In(e.loc)
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error fetching visitors: %w", err)
	}

	return newPage(stats, p, total), nil
}
