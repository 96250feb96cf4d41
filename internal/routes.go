package internal

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"requestanalytics/internal/analytics"
	"requestanalytics/internal/capture"
	"requestanalytics/internal/config"
	"requestanalytics/internal/dashboard"
	"requestanalytics/internal/http"
	"requestanalytics/internal/metrics"
	"requestanalytics/internal/pkg/geoip"
	"requestanalytics/internal/requests"
	"requestanalytics/internal/timeframe"
)

// Components are the long-lived services shared by routes, workers and jobs.
type Components struct {
	Config    *config.Config
	Store     *requests.Store
	Dashboard *dashboard.Service
	Recorder  *capture.Recorder
	Metrics   *metrics.Metrics
	Locator   geoip.Locator

	workers []cartridge.BackgroundWorker
	redis   *redis.Client
	logger  *slog.Logger
}

// NewComponents builds the store, dashboard, dispatcher and recorder from cfg.
func NewComponents(cfg *config.Config, db *gorm.DB, logger *slog.Logger) (*Components, error) {
	comps := &Components{Config: cfg, logger: logger}
	if cfg.MetricsEnabled {
		comps.Metrics = metrics.New(nil)
	}

	comps.Store = requests.NewStore(db, cfg.TableName, logger)

	if cfg.CacheDriver == config.RedisCache && cfg.GetCacheTTL() > 0 {
		client, err := dashboard.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect dashboard cache: %w", err)
		}
		comps.redis = client
	}

	loc := cfg.GetLocation()
	comps.Dashboard = dashboard.NewService(dashboard.Options{
		Engine:   analytics.NewEngine(comps.Store, loc, logger),
		Resolver: timeframe.NewResolver(loc),
		Logger:   logger,
		Metrics:  comps.Metrics,
		CacheTTL: cfg.GetCacheTTL(),
		Redis:    comps.redis,
	})

	locator, err := newLocator(cfg, logger)
	if err != nil {
		comps.Close()
		return nil, err
	}
	comps.Locator = locator

	dispatcher := comps.newDispatcher()
	comps.Recorder = capture.NewRecorder(capture.RecorderOptions{
		Settings:   capture.SettingsFromConfig(cfg),
		Dispatcher: dispatcher,
		Locator:    locator,
		Logger:     logger,
		Metrics:    comps.Metrics,
	})

	return comps, nil
}

func newLocator(cfg *config.Config, logger *slog.Logger) (geoip.Locator, error) {
	if !cfg.GeoEnabled {
		return geoip.DisabledLocator{}, nil
	}
	if cfg.GeoProvider == config.MaxMindGeoProvider {
		locator, err := geoip.OpenMaxMind(cfg.GeoDBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open geolocation database: %w", err)
		}
		return locator, nil
	}
	return geoip.HeaderLocator{}, nil
}

// newDispatcher picks how captured events reach the store. Queued dispatchers
// are registered as workers so they start and drain with the application.
func (c *Components) newDispatcher() capture.Dispatcher {
	cfg := c.Config
	if !cfg.QueueEnabled {
		return capture.NewSyncDispatcher(c.Store, c.logger, c.Metrics)
	}

	switch cfg.QueueDriver {
	case config.KafkaQueue:
		writer := capture.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic, c.logger, c.Metrics)
		dispatcher := capture.NewKafkaDispatcher(writer, c.logger)
		consumer := capture.NewKafkaConsumer(
			capture.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaConsumerGroup),
			c.Store, c.logger, c.Metrics, cfg.QueueBatchSize, cfg.GetQueueFlushInterval(),
		)
		c.workers = append(c.workers, dispatcher, consumer)
		return dispatcher
	default:
		queue := capture.NewMemoryQueue(c.Store, c.logger, c.Metrics, capture.QueueOptions{
			BufferSize:    cfg.QueueBufferSize,
			BatchSize:     cfg.QueueBatchSize,
			FlushInterval: cfg.GetQueueFlushInterval(),
			Workers:       cfg.QueueWorkers,
		})
		c.workers = append(c.workers, queue)
		return queue
	}
}

// Start starts the queue workers, if any.
func (c *Components) Start() error {
	for _, w := range c.workers {
		if err := w.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Stop drains the workers in reverse order and releases external resources.
func (c *Components) Stop() {
	for i := len(c.workers) - 1; i >= 0; i-- {
		c.workers[i].Stop()
	}
	c.Close()
}

// Close releases the dashboard cache, its redis connection and the geolocation database.
func (c *Components) Close() {
	if c.Dashboard != nil {
		if err := c.Dashboard.Close(); err != nil {
			c.logger.Warn("Failed to close dashboard cache", slog.Any("error", err))
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.logger.Warn("Failed to close redis client", slog.Any("error", err))
		}
	}
	if closer, ok := c.Locator.(*geoip.MaxMindLocator); ok {
		if err := closer.Close(); err != nil {
			c.logger.Warn("Failed to close geolocation database", slog.Any("error", err))
		}
	}
}

// MountAppRoutes builds components on the server's database and mounts every route.
func MountAppRoutes(srv *cartridge.Server) (*Components, error) {
	cfg := config.GetConfig()
	comps, err := NewComponents(cfg, srv.GetDBManager().GetConnection(), srv.GetLogger())
	if err != nil {
		return nil, err
	}
	MountRoutes(srv, comps)
	return comps, nil
}

// MountRoutes registers the capture middleware, the dashboard and its API.
func MountRoutes(srv *cartridge.Server, comps *Components) {
	cfg := comps.Config

	// Registered first so it wraps every route below.
	srv.App().Use(comps.Recorder.Middleware())

	// Rate limiting would interfere with development and tests.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	apiConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{conditionalRateLimiter(cartridgemiddleware.RateLimiter(
			cartridgemiddleware.WithMax(120),
			cartridgemiddleware.WithDuration(time.Minute),
		))},
	}

	// Ingestion comes from other services, not browsers.
	ingestConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
		CustomMiddleware: []fiber.Handler{conditionalRateLimiter(cartridgemiddleware.RateLimiter(
			cartridgemiddleware.WithMax(600),
			cartridgemiddleware.WithDuration(time.Minute),
		))},
	}

	handlers := http.NewHandlers(comps.Dashboard, comps.Recorder, comps.Store)

	srv.Get("/_health", handlers.HealthIndexAction)
	srv.Head("/_health", handlers.HealthIndexAction)

	if comps.Metrics != nil {
		srv.App().Get("/metrics", adaptor.HTTPHandler(comps.Metrics.Handler()))
	}

	base := cfg.GetDashboardPath()
	srv.Get(base, handlers.DashboardAction)
	srv.Get(base+"/api/overview", handlers.OverviewAction, apiConfig)
	srv.Get(base+"/api/visitors", handlers.VisitorsAction, apiConfig)
	srv.Get(base+"/api/page-views", handlers.PageViewsAction, apiConfig)
	srv.Post(base+"/api/events", handlers.IngestEventsAction, ingestConfig)
}
