package analytics_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"requestanalytics/internal/analytics"
	"requestanalytics/internal/requests"
	"requestanalytics/internal/testsupport"
	"requestanalytics/internal/timeframe"
	"requestanalytics/internal/visitors"
)

func setupEngine(t *testing.T) (*analytics.Engine, *gorm.DB) {
	t.Helper()
	store := testsupport.SetupTestStore(t)
	return analytics.NewEngine(store, time.UTC, testsupport.GetLogger()), store.DB()
}

// januaryWindow covers 2024-01-01 00:00:00 through 2024-01-10 23:59:59 UTC.
func januaryWindow() analytics.Filter {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	window := timeframe.NewResolver(time.UTC).Resolve(timeframe.WindowParams{StartDate: &start, EndDate: &end})
	return analytics.Filter{Window: window}
}

func at(day, hour, minute, second int) time.Time {
	return time.Date(2024, 1, day, hour, minute, second, 0, time.UTC)
}

func pct(t *testing.T, p *float64) float64 {
	t.Helper()
	require.NotNil(t, p)
	return *p
}

func TestEmptyWindow(t *testing.T) {
	engine, _ := setupEngine(t)
	ctx := context.Background()
	f := januaryWindow()

	summary, err := engine.GetSummary(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, &analytics.Summary{Views: 0, Visitors: 0, BounceRate: "0%", AverageVisitTime: "0s"}, summary)

	chart, err := engine.GetChart(ctx, f)
	require.NoError(t, err)
	assert.Len(t, chart.Labels, f.Window.Days+1)
	for _, v := range chart.Views() {
		assert.Zero(t, v)
	}
	for _, v := range chart.Visitors() {
		assert.Zero(t, v)
	}

	pages, err := engine.GetTopPages(ctx, f, true)
	require.NoError(t, err)
	assert.Empty(t, pages)

	referrers, err := engine.GetTopReferrers(ctx, f, true)
	require.NoError(t, err)
	assert.Empty(t, referrers)

	browsers, err := engine.GetTopBrowsers(ctx, f, true)
	require.NoError(t, err)
	assert.Empty(t, browsers)

	devices, err := engine.GetTopDevices(ctx, f, true)
	require.NoError(t, err)
	assert.Empty(t, devices)

	systems, err := engine.GetTopOperatingSystems(ctx, f, true)
	require.NoError(t, err)
	assert.Empty(t, systems)

	countries, err := engine.GetTopCountries(ctx, f, true)
	require.NoError(t, err)
	assert.Empty(t, countries)
}

func TestSummaryBounceAndVisitTime(t *testing.T) {
	engine, db := setupEngine(t)
	ctx := context.Background()

	// One single page session and one session lasting 5m30s.
	testsupport.CreateRequestEvent(t, db, "bouncer", "/", at(2, 9, 0, 0))
	testsupport.CreateRequestEvent(t, db, "reader", "/", at(3, 10, 0, 0))
	testsupport.CreateRequestEvent(t, db, "reader", "/docs", at(3, 10, 5, 30))

	summary, err := engine.GetSummary(ctx, januaryWindow())
	require.NoError(t, err)

	assert.Equal(t, int64(3), summary.Views)
	assert.Equal(t, int64(2), summary.Visitors)
	assert.Equal(t, "50%", summary.BounceRate)
	assert.Equal(t, "5m 30s", summary.AverageVisitTime)
}

func TestSummaryBounceCountsSessionsAfterWindowEnd(t *testing.T) {
	engine, db := setupEngine(t)
	ctx := context.Background()

	testsupport.CreateRequestEvent(t, db, "bouncer", "/", at(2, 9, 0, 0))
	testsupport.CreateRequestEvent(t, db, "reader", "/", at(3, 10, 0, 0))
	testsupport.CreateRequestEvent(t, db, "reader", "/docs", at(3, 10, 1, 0))
	// Outside the window, still counted as a single page session.
	testsupport.CreateRequestEvent(t, db, "late", "/", at(20, 9, 0, 0))
	// Before the window start, never counted.
	testsupport.CreateRequestEvent(t, db, "early", "/", time.Date(2023, 12, 20, 9, 0, 0, 0, time.UTC))

	summary, err := engine.GetSummary(ctx, januaryWindow())
	require.NoError(t, err)

	assert.Equal(t, int64(2), summary.Visitors)
	assert.Equal(t, "100%", summary.BounceRate)
}

func TestSummaryIgnoresZeroLengthSessionsInAverage(t *testing.T) {
	engine, db := setupEngine(t)
	ctx := context.Background()

	testsupport.CreateRequestEvent(t, db, "a", "/", at(4, 8, 0, 0))
	testsupport.CreateRequestEvent(t, db, "a", "/x", at(4, 9, 2, 5))
	testsupport.CreateRequestEvent(t, db, "b", "/", at(4, 8, 0, 0))
	testsupport.CreateRequestEvent(t, db, "b", "/y", at(4, 8, 0, 0))

	summary, err := engine.GetSummary(ctx, januaryWindow())
	require.NoError(t, err)
	assert.Equal(t, "1h 2m 5s", summary.AverageVisitTime)
	assert.Equal(t, "0%", summary.BounceRate)
}

func TestSummaryTruncatesVisitTimeToWholeSeconds(t *testing.T) {
	engine, db := setupEngine(t)
	ctx := context.Background()

	testsupport.CreateRequestEvent(t, db, "quick", "/", at(3, 10, 0, 0))
	testsupport.CreateRequestEvent(t, db, "quick", "/app.js", at(3, 10, 0, 0).Add(500*time.Millisecond))
	testsupport.CreateRequestEvent(t, db, "long", "/", at(3, 11, 0, 0))
	testsupport.CreateRequestEvent(t, db, "long", "/about", at(3, 11, 0, 10))

	summary, err := engine.GetSummary(ctx, januaryWindow())
	require.NoError(t, err)
	assert.Equal(t, "10s", summary.AverageVisitTime)
}

func TestSummaryAveragesTruncatedSpans(t *testing.T) {
	engine, db := setupEngine(t)
	ctx := context.Background()

	// 1.9s, 2.9s and 2.9s truncate to 1s, 2s and 2s.
	testsupport.CreateRequestEvent(t, db, "a", "/", at(3, 10, 0, 0))
	testsupport.CreateRequestEvent(t, db, "a", "/x", at(3, 10, 0, 1).Add(900*time.Millisecond))
	testsupport.CreateRequestEvent(t, db, "b", "/", at(3, 11, 0, 0))
	testsupport.CreateRequestEvent(t, db, "b", "/y", at(3, 11, 0, 2).Add(900*time.Millisecond))
	testsupport.CreateRequestEvent(t, db, "c", "/", at(3, 12, 0, 0))
	testsupport.CreateRequestEvent(t, db, "c", "/z", at(3, 12, 0, 2).Add(900*time.Millisecond))

	summary, err := engine.GetSummary(ctx, januaryWindow())
	require.NoError(t, err)
	assert.Equal(t, "1s", summary.AverageVisitTime)
}

func TestChartMatchesSummary(t *testing.T) {
	engine, db := setupEngine(t)
	ctx := context.Background()
	f := januaryWindow()

	testsupport.CreateRequestEvent(t, db, "s1", "/", at(1, 0, 0, 0))
	testsupport.CreateRequestEvent(t, db, "s1", "/a", at(1, 12, 0, 0))
	testsupport.CreateRequestEvent(t, db, "s2", "/", at(1, 13, 0, 0))
	testsupport.CreateRequestEvent(t, db, "s3", "/", at(5, 8, 0, 0))
	testsupport.CreateRequestEvent(t, db, "s3", "/b", at(10, 23, 59, 59))
	testsupport.CreateRequestEvent(t, db, "s4", "/", at(11, 0, 0, 0))

	chart, err := engine.GetChart(ctx, f)
	require.NoError(t, err)
	summary, err := engine.GetSummary(ctx, f)
	require.NoError(t, err)

	require.Len(t, chart.Labels, f.Window.Days+1)
	assert.Equal(t, "Jan 01", chart.Labels[0])
	assert.Equal(t, "Jan 10", chart.Labels[9])

	views := chart.Views()
	visitors := chart.Visitors()
	assert.Equal(t, int64(3), views[0])
	assert.Equal(t, int64(2), visitors[0])
	assert.Equal(t, int64(1), views[4])
	assert.Equal(t, int64(1), views[9])

	var totalViews int64
	for _, v := range views {
		totalViews += v
	}
	assert.Equal(t, summary.Views, totalViews)
}

func TestTopPagesPercentages(t *testing.T) {
	engine, db := setupEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		testsupport.CreateRequestEvent(t, db, "s1", "/pricing", at(2, 10, i, 0))
	}
	testsupport.CreateRequestEvent(t, db, "s2", "/about", at(2, 11, 0, 0))

	pages, err := engine.GetTopPages(ctx, januaryWindow(), true)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "/pricing", pages[0].Path)
	assert.Equal(t, int64(3), pages[0].Views)
	assert.Equal(t, 75.0, pct(t, pages[0].Percentage))
	assert.Equal(t, 25.0, pct(t, pages[1].Percentage))

	withoutPct, err := engine.GetTopPages(ctx, januaryWindow(), false)
	require.NoError(t, err)
	require.Len(t, withoutPct, 2)
	assert.Nil(t, withoutPct[0].Percentage)

	again, err := engine.GetTopPages(ctx, januaryWindow(), true)
	require.NoError(t, err)
	assert.Equal(t, pages, again)
}

func TestTopPagesLimitAndPercentageSum(t *testing.T) {
	engine, db := setupEngine(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		for j := 0; j <= i%3; j++ {
			testsupport.CreateRequestEvent(t, db, "s", "/page-"+string(rune('a'+i)), at(3, i, j, 0))
		}
	}

	pages, err := engine.GetTopPages(ctx, januaryWindow(), true)
	require.NoError(t, err)
	assert.Len(t, pages, analytics.TopLimit)

	var sum float64
	for _, p := range pages {
		sum += pct(t, p.Percentage)
	}
	assert.LessOrEqual(t, sum, 100.0+0.1*float64(len(pages)))
}

func TestTopOperatingSystemsUsesDistinctSessions(t *testing.T) {
	engine, db := setupEngine(t)
	ctx := context.Background()

	testsupport.CreateRequestEvent(t, db, "s1", "/", at(2, 10, 0, 0), testsupport.WithOS("Windows 10"))
	testsupport.CreateRequestEvent(t, db, "s1", "/a", at(2, 10, 1, 0), testsupport.WithOS("Windows 10"))
	testsupport.CreateRequestEvent(t, db, "s1", "/b", at(2, 10, 2, 0), testsupport.WithOS("Mac OS X"))
	testsupport.CreateRequestEvent(t, db, "s2", "/", at(2, 11, 0, 0), testsupport.WithOS("Windows 10"))

	systems, err := engine.GetTopOperatingSystems(ctx, januaryWindow(), true)
	require.NoError(t, err)
	require.Len(t, systems, 2)

	assert.Equal(t, "Windows 10", systems[0].Name)
	assert.Equal(t, int64(2), systems[0].Count)
	assert.Equal(t, 100.0, pct(t, systems[0].Percentage))

	assert.Equal(t, "Mac OS X", systems[1].Name)
	assert.Equal(t, int64(1), systems[1].Count)
	assert.Equal(t, 50.0, pct(t, systems[1].Percentage))
}

func TestTopBrowsersAndDevices(t *testing.T) {
	engine, db := setupEngine(t)
	ctx := context.Background()

	testsupport.CreateRequestEvent(t, db, "s1", "/", at(2, 10, 0, 0), testsupport.WithBrowser("Firefox"), testsupport.WithDevice("iPhone"))
	testsupport.CreateRequestEvent(t, db, "s2", "/", at(2, 10, 0, 0), testsupport.WithBrowser("Chrome"), testsupport.WithDevice("iPhone"))
	testsupport.CreateRequestEvent(t, db, "s3", "/", at(2, 10, 0, 0), testsupport.WithBrowser("Chrome"), testsupport.WithDevice("Android"))

	browsers, err := engine.GetTopBrowsers(ctx, januaryWindow(), true)
	require.NoError(t, err)
	require.Len(t, browsers, 2)
	assert.Equal(t, "Chrome", browsers[0].Browser)
	assert.Equal(t, 66.7, pct(t, browsers[0].Percentage))
	assert.Equal(t, 33.3, pct(t, browsers[1].Percentage))

	devices, err := engine.GetTopDevices(ctx, januaryWindow(), true)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "iPhone", devices[0].Name)
	assert.Equal(t, int64(2), devices[0].Count)
}

func TestTopReferrersByDomain(t *testing.T) {
	engine, db := setupEngine(t)
	ctx := context.Background()

	refs := []string{
		"https://www.google.com/search?q=go",
		"https://www.google.com/",
		"http://google.com",
		"https://news.ycombinator.com/item?id=1",
		"/",
		"",
	}
	for i, ref := range refs {
		testsupport.CreateRequestEvent(t, db, "s", "/", at(2, 10, i, 0), testsupport.WithReferrer(ref))
	}

	referrers, err := engine.GetTopReferrers(ctx, januaryWindow(), true)
	require.NoError(t, err)
	require.Len(t, referrers, 4)

	assert.Equal(t, "www.google.com", referrers[0].Domain)
	assert.Equal(t, int64(2), referrers[0].Visits)
	assert.Equal(t, 40.0, pct(t, referrers[0].Percentage))

	domains := []string{referrers[1].Domain, referrers[2].Domain, referrers[3].Domain}
	assert.Equal(t, []string{analytics.DirectReferrer, "google.com", "news.ycombinator.com"}, domains)

	require.NotNil(t, referrers[0].Source)
	assert.Equal(t, "Google", referrers[0].Source.Name)
	assert.Nil(t, referrers[1].Source)
	require.NotNil(t, referrers[3].Source)
	assert.Equal(t, "Hacker News", referrers[3].Source.Name)
}

func TestTopReferrersFoldsOnlyMostFrequentURLs(t *testing.T) {
	analytics.SetReferrerScanLimit(t, 2)
	engine, db := setupEngine(t)
	ctx := context.Background()

	refs := map[string]int{
		"https://a.example/landing?utm_source=x": 3,
		"https://a.example/pricing":              2,
		"https://b.example/once":                 1,
	}
	minute := 0
	for ref, n := range refs {
		for range n {
			testsupport.CreateRequestEvent(t, db, "s", "/", at(2, 10, minute, 0), testsupport.WithReferrer(ref))
			minute++
		}
	}

	referrers, err := engine.GetTopReferrers(ctx, januaryWindow(), true)
	require.NoError(t, err)
	require.Len(t, referrers, 1)
	assert.Equal(t, "a.example", referrers[0].Domain)
	assert.Equal(t, int64(5), referrers[0].Visits)
	assert.Equal(t, 100.0, pct(t, referrers[0].Percentage))
}

func TestTopCountries(t *testing.T) {
	engine, db := setupEngine(t)
	ctx := context.Background()

	testsupport.CreateRequestEvent(t, db, "s1", "/", at(2, 10, 0, 0), testsupport.WithCountry("United States"))
	testsupport.CreateRequestEvent(t, db, "s2", "/", at(2, 10, 0, 0), testsupport.WithCountry("United States"))
	testsupport.CreateRequestEvent(t, db, "s3", "/", at(2, 10, 0, 0), testsupport.WithCountry("Atlantis"))
	testsupport.CreateRequestEvent(t, db, "s4", "/", at(2, 10, 0, 0), testsupport.WithCountry(""))

	countries, err := engine.GetTopCountries(ctx, januaryWindow(), true)
	require.NoError(t, err)
	require.Len(t, countries, 2)

	assert.Equal(t, analytics.CountryStat{Name: "United States", Count: 2, Percentage: countries[0].Percentage, Code: "us"}, countries[0])
	assert.Equal(t, "at", countries[1].Code)
	assert.Equal(t, 66.7, pct(t, countries[0].Percentage))
}

func TestCategoryFilter(t *testing.T) {
	engine, db := setupEngine(t)
	ctx := context.Background()

	testsupport.CreateRequestEvent(t, db, "s1", "/", at(2, 10, 0, 0))
	testsupport.CreateRequestEvent(t, db, "s2", "/api/users", at(2, 10, 0, 0), testsupport.WithCategory(requests.CategoryAPI))

	f := januaryWindow()
	f.Category = requests.CategoryAPI
	summary, err := engine.GetSummary(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Views)

	pages, err := engine.GetTopPages(ctx, f, true)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "/api/users", pages[0].Path)
}

func TestGetVisitors(t *testing.T) {
	engine, db := setupEngine(t)
	ctx := context.Background()

	testsupport.CreateRequestEvent(t, db, "s1", "/", at(2, 10, 0, 0), testsupport.WithVisitor("v1"))
	testsupport.CreateRequestEvent(t, db, "s1", "/a", at(2, 10, 5, 0), testsupport.WithVisitor("v1"))
	testsupport.CreateRequestEvent(t, db, "s2", "/a", at(3, 9, 0, 0), testsupport.WithVisitor("v1"))
	testsupport.CreateRequestEvent(t, db, "s3", "/", at(4, 9, 0, 0), testsupport.WithVisitor("v2"))
	testsupport.CreateRequestEvent(t, db, "s4", "/", at(4, 9, 0, 0))

	page, err := engine.GetVisitors(ctx, januaryWindow(), analytics.Pagination{Page: 1, PerPage: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, 2, page.LastPage)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "v2", page.Data[0].VisitorID)

	page, err = engine.GetVisitors(ctx, januaryWindow(), analytics.Pagination{Page: 2, PerPage: 1})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)

	v1 := page.Data[0]
	assert.Equal(t, "v1", v1.VisitorID)
	assert.Equal(t, visitors.Alias("v1"), v1.Alias)
	assert.Equal(t, int64(3), v1.PageViews)
	assert.Equal(t, int64(2), v1.Sessions)
	assert.Equal(t, int64(2), v1.UniquePages)
	assert.True(t, v1.FirstVisit.Equal(at(2, 10, 0, 0)))
	assert.True(t, v1.LastVisit.Equal(at(3, 9, 0, 0)))
}

func TestGetPageViews(t *testing.T) {
	engine, db := setupEngine(t)
	ctx := context.Background()

	testsupport.CreateRequestEvent(t, db, "s1", "/blog/one", at(2, 10, 0, 0))
	testsupport.CreateRequestEvent(t, db, "s1", "/blog/two", at(2, 11, 0, 0))
	testsupport.CreateRequestEvent(t, db, "s1", "/pricing", at(2, 12, 0, 0))

	page, err := engine.GetPageViews(ctx, januaryWindow(), "blog", analytics.Pagination{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, analytics.DefaultPerPage, page.PerPage)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "/blog/two", page.Data[0].Path)
	assert.Equal(t, "/blog/one", page.Data[1].Path)
}

func TestBreakdownsAreRepeatable(t *testing.T) {
	engine, db := setupEngine(t)
	ctx := context.Background()
	f := januaryWindow()

	testsupport.CreateRequestEvent(t, db, "s1", "/", at(1, 9, 0, 0),
		testsupport.WithReferrer("https://www.google.com/search?q=a"), testsupport.WithBrowser("Firefox"), testsupport.WithOS("Linux"))
	testsupport.CreateRequestEvent(t, db, "s1", "/docs", at(1, 9, 3, 0),
		testsupport.WithBrowser("Firefox"), testsupport.WithOS("Linux"))
	testsupport.CreateRequestEvent(t, db, "s2", "/", at(4, 12, 0, 0),
		testsupport.WithDevice("iPhone"), testsupport.WithCountry("Germany"), testsupport.WithReferrer("https://t.co/abc"))
	testsupport.CreateRequestEvent(t, db, "s3", "/api/items", at(7, 18, 0, 0),
		testsupport.WithCategory(requests.CategoryAPI), testsupport.WithBrowser("curl"))
	testsupport.CreateRequestEvent(t, db, "s4", "/docs", at(9, 23, 59, 0),
		testsupport.WithCountry("Atlantis"), testsupport.WithDevice("Pixel 7"))

	breakdowns := map[string]func() (any, error){
		"summary":   func() (any, error) { return engine.GetSummary(ctx, f) },
		"chart":     func() (any, error) { return engine.GetChart(ctx, f) },
		"pages":     func() (any, error) { return engine.GetTopPages(ctx, f, true) },
		"referrers": func() (any, error) { return engine.GetTopReferrers(ctx, f, true) },
		"browsers":  func() (any, error) { return engine.GetTopBrowsers(ctx, f, true) },
		"devices":   func() (any, error) { return engine.GetTopDevices(ctx, f, true) },
		"systems":   func() (any, error) { return engine.GetTopOperatingSystems(ctx, f, true) },
		"countries": func() (any, error) { return engine.GetTopCountries(ctx, f, true) },
		"visitors":  func() (any, error) { return engine.GetVisitors(ctx, f, analytics.Pagination{Page: 1, PerPage: 10}) },
	}

	for name, run := range breakdowns {
		t.Run(name, func(t *testing.T) {
			first, err := run()
			require.NoError(t, err)
			second, err := run()
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}
