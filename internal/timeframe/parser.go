package timeframe

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParamError describes one rejected query parameter.
type ParamError struct {
	Field   string
	Message string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// WindowQuery holds the raw dashboard query parameters.
type WindowQuery struct {
	StartDate string
	EndDate   string
	DateRange string
}

// ParseWindowQuery validates raw parameters into WindowParams.
//
// A non-numeric or non-positive date_range falls back to DefaultDateRange.
// Ranges above MaxDateRange, malformed dates, and an end date before the
// start date are rejected.
func ParseWindowQuery(q WindowQuery, loc *time.Location) (WindowParams, error) {
	if loc == nil {
		loc = time.UTC
	}

	params := WindowParams{DateRange: parseDateRange(q.DateRange)}
	if params.DateRange > MaxDateRange {
		return WindowParams{}, &ParamError{
			Field:   "date_range",
			Message: fmt.Sprintf("must be between 1 and %d", MaxDateRange),
		}
	}

	start, err := parseDate("start_date", q.StartDate, loc)
	if err != nil {
		return WindowParams{}, err
	}
	end, err := parseDate("end_date", q.EndDate, loc)
	if err != nil {
		return WindowParams{}, err
	}

	if start != nil && end != nil {
		if end.Before(*start) {
			return WindowParams{}, &ParamError{
				Field:   "end_date",
				Message: "must be a date after or equal to start_date",
			}
		}
		params.StartDate = start
		params.EndDate = end
	}

	return params, nil
}

func parseDateRange(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultDateRange
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return DefaultDateRange
	}
	return n
}

func parseDate(field, raw string, loc *time.Location) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(DateFormat, raw, loc)
	if err != nil {
		return nil, &ParamError{Field: field, Message: "must be a date in YYYY-MM-DD format"}
	}
	return &t, nil
}
