package analytics

import (
	"context"
	"fmt"
	"time"

	"requestanalytics/internal/timeframe"
)

// Dataset labels
const (
	ViewsDataset    = "Views"
	VisitorsDataset = "Visitors"
)

// Dataset is one chart series.
type Dataset struct {
	Label string  `json:"label"`
	Data  []int64 `json:"data"`
}

// Chart is the per-day time series of a window. Labels and series are parallel.
type Chart struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// Views returns the views series.
func (c *Chart) Views() []int64 {
	return c.series(ViewsDataset)
}

// Visitors returns the visitors series.
func (c *Chart) Visitors() []int64 {
	return c.series(VisitorsDataset)
}

func (c *Chart) series(label string) []int64 {
	for _, d := range c.Datasets {
		if d.Label == label {
			return d.Data
		}
	}
	return nil
}

// GetChart returns views and distinct-session visitors for every calendar day
// of the window, zero filled, in chronological order.
func (e *Engine) GetChart(ctx context.Context, f Filter) (*Chart, error) {
	days := f.Window.CalendarDays()
	index := make(map[string]int, len(days))
	for i, day := range days {
		index[day.In(e.loc).Format(timeframe.DateFormat)] = i
	}

	views := make([]int64, len(days))
	sessions := make([]map[string]struct{}, len(days))

	err := e.eachVisit(ctx, f, func(sessionID string, visitedAt time.Time) {
		i, ok := index[visitedAt.In(e.loc).Format(timeframe.DateFormat)]
		if !ok {
			return
		}
		views[i]++
		if sessions[i] == nil {
			sessions[i] = make(map[string]struct{})
		}
		sessions[i][sessionID] = struct{}{}
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching chart data: %w", err)
	}

	labels := make([]string, len(days))
	visitors := make([]int64, len(days))
	for i, day := range days {
		labels[i] = day.In(e.loc).Format(timeframe.ChartLabelFormat)
		visitors[i] = int64(len(sessions[i]))
	}

	return &Chart{
		Labels: labels,
		Datasets: []Dataset{
			{Label: ViewsDataset, Data: views},
			{Label: VisitorsDataset, Data: visitors},
		},
	}, nil
}
