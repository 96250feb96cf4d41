package analytics

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"requestanalytics/internal/requests"
)

// GetPageViews lists raw page views in the window, newest first.
// A non-empty pathFilter keeps only paths containing it.
func (e *Engine) GetPageViews(ctx context.Context, f Filter, pathFilter string, p Pagination) (*Page[requests.RequestEvent], error) {
	p = p.normalized()

	q := e.base(ctx, f)
	if pathFilter = strings.TrimSpace(pathFilter); pathFilter != "" {
		q = q.Where("path LIKE ?", "%"+pathFilter+"%")
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("error counting page views: %w", err)
	}

	var events []requests.RequestEvent
	if err := q.Session(&gorm.Session{}).
		Order("visited_at DESC").
		Order("id DESC").
		Limit(p.PerPage).
		Offset(p.offset()).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("error fetching page views: %w", err)
	}

	return newPage(events, p, total), nil
}
