package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"requestanalytics/internal/pkg/referrers"
)

// DirectReferrer labels referrers whose domain could not be extracted.
const DirectReferrer = "(direct)"

// referrerScanLimit bounds how many distinct referrer URLs are folded into
// domains. URLs beyond the most frequent ones are the long tail of tracking
// query strings and are left out of the ranking.
var referrerScanLimit = 5000

// ReferrerStat is one row of the top referrers breakdown.
type ReferrerStat struct {
	Domain     string            `json:"domain"`
	Visits     int64             `json:"visits"`
	Percentage *float64          `json:"percentage,omitempty"`
	Source     *referrers.Source `json:"source,omitempty"`
}

// ExtractDomain returns the host part of a referrer URL.
// The scheme, path, query and fragment are removed; "www." is kept.
func ExtractDomain(referrer string) string {
	domain := strings.TrimSpace(referrer)
	if i := strings.Index(domain, "://"); i >= 0 {
		domain = domain[i+3:]
	}
	if i := strings.IndexAny(domain, "/?#"); i >= 0 {
		domain = domain[:i]
	}
	return domain
}

// GetTopReferrers ranks referrer domains by visits. Requests without a
// referrer are excluded, and only the most frequent referrerScanLimit URLs
// are folded.
func (e *Engine) GetTopReferrers(ctx context.Context, f Filter, withPercentages bool) ([]ReferrerStat, error) {
	rows, err := e.topCounts(ctx, f, "referrer", countOptions{excludeEmpty: true, limit: referrerScanLimit})
	if err != nil {
		return nil, fmt.Errorf("error fetching top referrers: %w", err)
	}

	byDomain := make(map[string]int64)
	for _, r := range rows {
		domain := ExtractDomain(r.Label)
		if domain == "" {
			domain = DirectReferrer
		}
		byDomain[domain] += r.Total
	}

	folded := make([]countRow, 0, len(byDomain))
	for domain, total := range byDomain {
		folded = append(folded, countRow{Label: domain, Total: total})
	}
	sort.Slice(folded, func(i, j int) bool {
		if folded[i].Total != folded[j].Total {
			return folded[i].Total > folded[j].Total
		}
		return folded[i].Label < folded[j].Label
	})
	if len(folded) > TopLimit {
		folded = folded[:TopLimit]
	}

	folded, pcts := shares(folded, sumTotals(folded), withPercentages)
	results := make([]ReferrerStat, len(folded))
	for i, r := range folded {
		results[i] = ReferrerStat{Domain: r.Label, Visits: r.Total, Percentage: pcts[i]}
		if r.Label != DirectReferrer {
			src := referrers.Classify(r.Label)
			results[i].Source = &src
		}
	}
	return results, nil
}
