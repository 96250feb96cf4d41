package dashboard

import "requestanalytics/internal/analytics"

// Style is presentation metadata for one chart series.
type Style struct {
	BackgroundColor      string  `json:"backgroundColor"`
	BorderColor          string  `json:"borderColor"`
	BorderWidth          int     `json:"borderWidth"`
	Fill                 bool    `json:"fill"`
	Tension              float64 `json:"tension"`
	PointBackgroundColor string  `json:"pointBackgroundColor"`
	PointBorderColor     string  `json:"pointBorderColor"`
	PointBorderWidth     int     `json:"pointBorderWidth"`
	PointRadius          int     `json:"pointRadius"`
	PointHoverRadius     int     `json:"pointHoverRadius"`
	BorderDash           []int   `json:"borderDash"`
}

// StyledDataset is a chart series with its style flattened alongside.
type StyledDataset struct {
	analytics.Dataset
	Style
}

// DefaultStyles colors views pink and visitors green with a dashed line.
var DefaultStyles = map[string]Style{
	analytics.ViewsDataset:    lineStyle("220, 38, 127", []int{}),
	analytics.VisitorsDataset: lineStyle("34, 197, 94", []int{10, 5}),
}

func lineStyle(rgb string, dash []int) Style {
	return Style{
		BackgroundColor:      "rgba(" + rgb + ", 0.1)",
		BorderColor:          "rgba(" + rgb + ", 1)",
		BorderWidth:          4,
		Fill:                 false,
		Tension:              0.3,
		PointBackgroundColor: "rgba(" + rgb + ", 1)",
		PointBorderColor:     "#fff",
		PointBorderWidth:     3,
		PointRadius:          6,
		PointHoverRadius:     8,
		BorderDash:           dash,
	}
}

// Decorate attaches a style to every dataset. Datasets without a style keep
// the zero style with an empty dash pattern.
func Decorate(datasets []analytics.Dataset, styles map[string]Style) []StyledDataset {
	styled := make([]StyledDataset, len(datasets))
	for i, d := range datasets {
		style, ok := styles[d.Label]
		if !ok {
			style = Style{}
		}
		if style.BorderDash == nil {
			style.BorderDash = []int{}
		}
		styled[i] = StyledDataset{Dataset: d, Style: style}
	}
	return styled
}
