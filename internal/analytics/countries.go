package analytics

import (
	"context"
	"fmt"
	"strings"
)

// CountryStat is one row of the top countries breakdown.
type CountryStat struct {
	Name       string   `json:"name"`
	Count      int64    `json:"count"`
	Percentage *float64 `json:"percentage,omitempty"`
	Code       string   `json:"code"`
}

var countryCodes = map[string]string{
	"Afghanistan":          "af",
	"Albania":              "al",
	"Algeria":              "dz",
	"Argentina":            "ar",
	"Australia":            "au",
	"Austria":              "at",
	"Bangladesh":           "bd",
	"Belgium":              "be",
	"Brazil":               "br",
	"Bulgaria":             "bg",
	"Canada":               "ca",
	"Chile":                "cl",
	"China":                "cn",
	"Colombia":             "co",
	"Croatia":              "hr",
	"Czech Republic":       "cz",
	"Denmark":              "dk",
	"Egypt":                "eg",
	"Finland":              "fi",
	"France":               "fr",
	"Germany":              "de",
	"Greece":               "gr",
	"Hungary":              "hu",
	"Iceland":              "is",
	"India":                "in",
	"Indonesia":            "id",
	"Iran":                 "ir",
	"Iraq":                 "iq",
	"Ireland":              "ie",
	"Israel":               "il",
	"Italy":                "it",
	"Japan":                "jp",
	"Jordan":               "jo",
	"Kenya":                "ke",
	"Malaysia":             "my",
	"Mexico":               "mx",
	"Netherlands":          "nl",
	"New Zealand":          "nz",
	"Nigeria":              "ng",
	"Norway":               "no",
	"Pakistan":             "pk",
	"Philippines":          "ph",
	"Poland":               "pl",
	"Portugal":             "pt",
	"Romania":              "ro",
	"Russia":               "ru",
	"Saudi Arabia":         "sa",
	"Singapore":            "sg",
	"Slovakia":             "sk",
	"Slovenia":             "si",
	"South Africa":         "za",
	"South Korea":          "kr",
	"Spain":                "es",
	"Sweden":               "se",
	"Switzerland":          "ch",
	"Thailand":             "th",
	"Turkey":               "tr",
	"Ukraine":              "ua",
	"United Arab Emirates": "ae",
	"United Kingdom":       "gb",
	"United States":        "us",
	"Vietnam":              "vn",
}

// CountryCode maps a country name to its lowercase two letter code.
// Unknown names fall back to their first two letters, lowercased.
func CountryCode(name string) string {
	if code, ok := countryCodes[name]; ok {
		return code
	}
	runes := []rune(name)
	if len(runes) > 2 {
		runes = runes[:2]
	}
	return strings.ToLower(string(runes))
}

// GetTopCountries ranks countries by views.
func (e *Engine) GetTopCountries(ctx context.Context, f Filter, withPercentages bool) ([]CountryStat, error) {
	rows, err := e.topCounts(ctx, f, "country", countOptions{excludeEmpty: true, limit: TopLimit})
	if err != nil {
		return nil, fmt.Errorf("error fetching top countries: %w", err)
	}

	rows, pcts := shares(rows, sumTotals(rows), withPercentages)
	results := make([]CountryStat, len(rows))
	for i, r := range rows {
		results[i] = CountryStat{
			Name:       r.Label,
			Count:      r.Total,
			Percentage: pcts[i],
			Code:       CountryCode(r.Label),
		}
	}
	return results, nil
}
