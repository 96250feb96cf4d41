// Package dashboard assembles analytics results into the payloads served to
// the dashboard and its JSON API.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"requestanalytics/internal/analytics"
	"requestanalytics/internal/metrics"
	"requestanalytics/internal/pkg/async"
	"requestanalytics/internal/requests"
	"requestanalytics/internal/timeframe"
)

// Params is a validated dashboard request.
// DateRange echoes the requested date_range; zero means it was not given.
type Params struct {
	Window    timeframe.WindowParams
	Category  requests.Category
	DateRange int
}

// Payload is everything the dashboard view renders.
type Payload struct {
	Browsers         []analytics.BrowserStat  `json:"browsers"`
	OperatingSystems []analytics.NameCount    `json:"operatingSystems"`
	Devices          []analytics.NameCount    `json:"devices"`
	Pages            []analytics.PageStat     `json:"pages"`
	Referrers        []analytics.ReferrerStat `json:"referrers"`
	Labels           []string                 `json:"labels"`
	Datasets         []StyledDataset          `json:"datasets"`
	Average          *analytics.Summary       `json:"average"`
	Countries        []analytics.CountryStat  `json:"countries"`
	DateRange        int                      `json:"dateRange"`
}

// Overview is the JSON API view of the same statistics.
type Overview struct {
	Summary          *analytics.Summary       `json:"summary"`
	Chart            *analytics.Chart         `json:"chart"`
	TopPages         []analytics.PageStat     `json:"top_pages"`
	TopReferrers     []analytics.ReferrerStat `json:"top_referrers"`
	Browsers         []analytics.BrowserStat  `json:"browsers"`
	Devices          []analytics.NameCount    `json:"devices"`
	Countries        []analytics.CountryStat  `json:"countries"`
	OperatingSystems []analytics.NameCount    `json:"operating_systems"`
}

// Options configures a Service.
type Options struct {
	Engine   *analytics.Engine
	Resolver *timeframe.Resolver
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	// CacheTTL of zero disables caching.
	CacheTTL time.Duration
	// Redis selects the shared cache; nil keeps payloads in process.
	Redis  *redis.Client
	Styles map[string]Style
}

// Service resolves windows, fans queries out to the engine and caches payloads.
type Service struct {
	engine   *analytics.Engine
	resolver *timeframe.Resolver
	logger   *slog.Logger
	metrics  *metrics.Metrics
	pool     *async.Pool
	cache    payloadCache
	styles   map[string]Style
}

// NewService creates a Service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	styles := opts.Styles
	if styles == nil {
		styles = DefaultStyles
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = timeframe.NewResolver(opts.Engine.Location())
	}

	s := &Service{
		engine:   opts.Engine,
		resolver: resolver,
		logger:   logger,
		metrics:  opts.Metrics,
		pool:     async.NewPool(8),
		styles:   styles,
	}

	switch {
	case opts.CacheTTL <= 0:
		s.cache = &noCache{fetch: s.fetch}
	case opts.Redis != nil:
		s.cache = newRedisCache(opts.Redis, opts.CacheTTL, s.fetch, logger, opts.Metrics)
	default:
		s.cache = newMemoryCache(logger, opts.CacheTTL, s.fetch, opts.Metrics)
	}

	return s
}

// Engine returns the underlying analytics engine.
func (s *Service) Engine() *analytics.Engine {
	return s.engine
}

// Filter resolves params into an engine filter.
func (s *Service) Filter(params Params) analytics.Filter {
	return analytics.Filter{
		Window:   s.resolver.Resolve(params.Window),
		Category: params.Category,
	}
}

// GetDashboard returns the dashboard payload, served from cache when possible.
func (s *Service) GetDashboard(ctx context.Context, params Params) (*Payload, error) {
	started := time.Now()
	defer s.metrics.ObserveDashboard("dashboard", started)

	f := s.Filter(params)
	dateRange := params.DateRange
	if dateRange <= 0 {
		dateRange = f.Window.Days
	}

	return s.cache.Get(ctx, cacheKey(f, dateRange))
}

// GetOverview returns every statistic for the window, uncached.
func (s *Service) GetOverview(ctx context.Context, params Params) (*Overview, error) {
	started := time.Now()
	defer s.metrics.ObserveDashboard("overview", started)

	r, err := s.collect(ctx, s.Filter(params))
	if err != nil {
		return nil, err
	}
	return &Overview{
		Summary:          r.summary,
		Chart:            r.chart,
		TopPages:         r.pages,
		TopReferrers:     r.referrers,
		Browsers:         r.browsers,
		Devices:          r.devices,
		Countries:        r.countries,
		OperatingSystems: r.systems,
	}, nil
}

// ClearCache drops every cached payload.
func (s *Service) ClearCache(ctx context.Context) error {
	return s.cache.Clear(ctx)
}

// Close releases the cache's background resources.
func (s *Service) Close() error {
	return s.cache.Close()
}

func cacheKey(f analytics.Filter, dateRange int) string {
	return fmt.Sprintf("%s:%s:%d:%d", f.Window.CacheKey, f.Category, dateRange, f.Window.Days)
}

// fetch rebuilds the payload a cache key stands for.
func (s *Service) fetch(ctx context.Context, key string) (*Payload, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid dashboard cache key %q", key)
	}
	dateRange, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, fmt.Errorf("invalid date range in cache key %q: %w", key, err)
	}
	days, err := strconv.Atoi(parts[3])
	if err != nil {
		return nil, fmt.Errorf("invalid day count in cache key %q: %w", key, err)
	}
	window, err := s.resolver.FromCacheKey(parts[0], days)
	if err != nil {
		return nil, err
	}

	return s.build(ctx, analytics.Filter{Window: window, Category: requests.Category(parts[1])}, dateRange)
}

func (s *Service) build(ctx context.Context, f analytics.Filter, dateRange int) (*Payload, error) {
	r, err := s.collect(ctx, f)
	if err != nil {
		return nil, err
	}

	return &Payload{
		Browsers:         r.browsers,
		OperatingSystems: r.systems,
		Devices:          r.devices,
		Pages:            r.pages,
		Referrers:        r.referrers,
		Labels:           r.chart.Labels,
		Datasets:         Decorate(r.chart.Datasets, s.styles),
		Average:          r.summary,
		Countries:        r.countries,
		DateRange:        dateRange,
	}, nil
}

type collected struct {
	summary   *analytics.Summary
	chart     *analytics.Chart
	pages     []analytics.PageStat
	referrers []analytics.ReferrerStat
	browsers  []analytics.BrowserStat
	devices   []analytics.NameCount
	systems   []analytics.NameCount
	countries []analytics.CountryStat
}

// collect runs every engine query for f concurrently, percentages on.
func (s *Service) collect(ctx context.Context, f analytics.Filter) (*collected, error) {
	e := s.engine
	tasks := []async.Task{
		{Name: "summary", Execute: func(ctx context.Context) (any, error) { return e.GetSummary(ctx, f) }},
		{Name: "chart", Execute: func(ctx context.Context) (any, error) { return e.GetChart(ctx, f) }},
		{Name: "pages", Execute: func(ctx context.Context) (any, error) { return e.GetTopPages(ctx, f, true) }},
		{Name: "referrers", Execute: func(ctx context.Context) (any, error) { return e.GetTopReferrers(ctx, f, true) }},
		{Name: "browsers", Execute: func(ctx context.Context) (any, error) { return e.GetTopBrowsers(ctx, f, true) }},
		{Name: "devices", Execute: func(ctx context.Context) (any, error) { return e.GetTopDevices(ctx, f, true) }},
		{Name: "operatingSystems", Execute: func(ctx context.Context) (any, error) { return e.GetTopOperatingSystems(ctx, f, true) }},
		{Name: "countries", Execute: func(ctx context.Context) (any, error) { return e.GetTopCountries(ctx, f, true) }},
	}

	results := s.pool.Execute(ctx, tasks)
	names := make([]string, len(tasks))
	for i, task := range tasks {
		names[i] = task.Name
	}
	if err := async.FirstError(results, names...); err != nil {
		s.logger.Error("Failed to build dashboard",
			slog.String("window", f.Window.CacheKey),
			slog.Any("error", err))
		return nil, err
	}

	return &collected{
		summary:   results["summary"].Data.(*analytics.Summary),
		chart:     results["chart"].Data.(*analytics.Chart),
		pages:     results["pages"].Data.([]analytics.PageStat),
		referrers: results["referrers"].Data.([]analytics.ReferrerStat),
		browsers:  results["browsers"].Data.([]analytics.BrowserStat),
		devices:   results["devices"].Data.([]analytics.NameCount),
		systems:   results["operatingSystems"].Data.([]analytics.NameCount),
		countries: results["countries"].Data.([]analytics.CountryStat),
	}, nil
}
