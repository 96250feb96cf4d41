package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"requestanalytics/internal"
	"requestanalytics/internal/config"
	"requestanalytics/internal/requests"
)

// Subtests share their root test's database.
var (
	dbsMu sync.Mutex
	dbs   = map[string]*gorm.DB{}
)

func rootTestName(t *testing.T) string {
	name, _, _ := strings.Cut(t.Name(), "/")
	return name
}

// SetupTestDB opens an in-memory database with the request events table
// migrated. Repeated calls from one test tree return the same handle.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	root := rootTestName(t)
	dbsMu.Lock()
	defer dbsMu.Unlock()
	if db, ok := dbs[root]; ok {
		return db
	}

	dsn := fmt.Sprintf("file:ra_%s_%d?mode=memory&cache=shared", root, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err, "open test database")
	require.NoError(t, requests.Migrate(db, requests.DefaultTableName), "migrate request events")

	dbs[root] = db
	t.Cleanup(func() {
		dbsMu.Lock()
		delete(dbs, root)
		dbsMu.Unlock()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SetupTestStore returns a store over a fresh test database.
func SetupTestStore(t *testing.T) *requests.Store {
	t.Helper()
	return requests.NewStore(SetupTestDB(t), requests.DefaultTableName, GetLogger())
}

// GetLogger logs errors only so test output stays readable.
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// EventOption customizes an event built by CreateRequestEvent.
type EventOption func(*requests.RequestEvent)

// WithBrowser sets the browser.
func WithBrowser(browser string) EventOption {
	return func(e *requests.RequestEvent) { e.Browser = browser }
}

// WithOS sets the operating system.
func WithOS(os string) EventOption {
	return func(e *requests.RequestEvent) { e.OperatingSystem = os }
}

// WithDevice sets the device.
func WithDevice(device string) EventOption {
	return func(e *requests.RequestEvent) { e.Device = device }
}

// WithCountry sets the country name.
func WithCountry(country string) EventOption {
	return func(e *requests.RequestEvent) { e.Country = country }
}

// WithReferrer sets the referrer.
func WithReferrer(referrer string) EventOption {
	return func(e *requests.RequestEvent) { e.Referrer = referrer }
}

// WithCategory sets the request category.
func WithCategory(category requests.Category) EventOption {
	return func(e *requests.RequestEvent) { e.RequestCategory = category }
}

// WithVisitor sets the visitor id.
func WithVisitor(visitorID string) EventOption {
	return func(e *requests.RequestEvent) { e.VisitorID = &visitorID }
}

// CreateRequestEvent writes one event straight to the table, bypassing capture.
func CreateRequestEvent(t *testing.T, db *gorm.DB, sessionID, path string, visitedAt time.Time, opts ...EventOption) requests.RequestEvent {
	t.Helper()

	event := requests.RequestEvent{
		Path:            path,
		SessionID:       sessionID,
		HTTPMethod:      "GET",
		RequestCategory: requests.CategoryWeb,
		OperatingSystem: "Windows 10",
		Browser:         "Chrome",
		Device:          requests.Unknown,
		Country:         "United States",
		VisitedAt:       visitedAt.UTC(),
	}
	for _, opt := range opts {
		opt(&event)
	}

	require.NoError(t, db.Table(requests.DefaultTableName).Create(&event).Error)
	return event
}

// CreateMinimalTestApp returns a fiber app with every route mounted over db.
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	appConfig := config.GetConfig()
	appConfig.Environment = config.Test

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = ctestsupport.NewTestDBManager(db)
	cfg.EnableSecFetchSite = false

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	_, err = internal.MountAppRoutes(srv)
	require.NoError(t, err)
	return srv.App()
}
