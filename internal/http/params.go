package http

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/karloscodes/cartridge"

	"requestanalytics/internal/analytics"
	"requestanalytics/internal/dashboard"
	"requestanalytics/internal/requests"
	"requestanalytics/internal/timeframe"
)

// parseDashboardParams reads start_date, end_date, date_range and
// request_category. An unusable date_range falls back to the default.
func parseDashboardParams(ctx *cartridge.Context, loc *time.Location) (dashboard.Params, error) {
	window, err := timeframe.ParseWindowQuery(timeframe.WindowQuery{
		StartDate: ctx.Query("start_date"),
		EndDate:   ctx.Query("end_date"),
		DateRange: ctx.Query("date_range"),
	}, loc)
	if err != nil {
		return dashboard.Params{}, err
	}

	category := requests.Category(strings.TrimSpace(ctx.Query("request_category")))
	if category != "" && !category.IsValid() {
		return dashboard.Params{}, &timeframe.ParamError{
			Field:   "request_category",
			Message: "must be one of: web, api",
		}
	}

	params := dashboard.Params{Window: window, Category: category}
	if ctx.Query("date_range") != "" && !window.HasExplicitDates() {
		params.DateRange = window.DateRange
	}
	return params, nil
}

// parsePagination reads page (>= 1) and per_page (1..MaxPerPage).
func parsePagination(ctx *cartridge.Context) (analytics.Pagination, error) {
	page, err := intParam(ctx, "page", 1, 1, 0)
	if err != nil {
		return analytics.Pagination{}, err
	}
	perPage, err := intParam(ctx, "per_page", analytics.DefaultPerPage, 1, analytics.MaxPerPage)
	if err != nil {
		return analytics.Pagination{}, err
	}
	return analytics.Pagination{Page: page, PerPage: perPage}, nil
}

// intParam parses an optional integer query parameter. max of zero means unbounded.
func intParam(ctx *cartridge.Context, field string, fallback, min, max int) (int, error) {
	raw := strings.TrimSpace(ctx.Query(field))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &timeframe.ParamError{Field: field, Message: "must be an integer"}
	}
	if n < min {
		return 0, &timeframe.ParamError{Field: field, Message: fmt.Sprintf("must be at least %d", min)}
	}
	if max > 0 && n > max {
		return 0, &timeframe.ParamError{Field: field, Message: fmt.Sprintf("may not be greater than %d", max)}
	}
	return n, nil
}
