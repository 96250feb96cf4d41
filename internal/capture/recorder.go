package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
	"go.elara.ws/pcre"

	"requestanalytics/internal/config"
	"requestanalytics/internal/metrics"
	"requestanalytics/internal/pkg/errreport"
	"requestanalytics/internal/pkg/geoip"
	"requestanalytics/internal/pkg/user_agent"
	"requestanalytics/internal/requests"
	"requestanalytics/internal/visitors"
)

const (
	// DefaultSessionCookie holds the browser session id used to group requests.
	DefaultSessionCookie = "ra_session"
	// UserIDLocal is the fiber.Locals key an auth middleware sets for signed-in users.
	UserIDLocal = "user_id"

	maxTitleScan    = 64 << 10
	dispatchTimeout = 5 * time.Second
)

var titlePattern = pcre.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// Settings decide which requests are recorded and how.
type Settings struct {
	CaptureWeb    bool
	CaptureAPI    bool
	CaptureBots   bool
	APIPrefix     string
	IgnorePaths   []string
	AnonymizeIP   bool
	RespectDNT    bool
	VisitorKey    string
	SessionCookie string
	SecureCookie  bool
}

// SettingsFromConfig derives capture settings. The dashboard itself is never
// recorded.
func SettingsFromConfig(cfg *config.Config) Settings {
	dashboard := strings.Trim(cfg.Pathname, "/")
	ignore := append([]string{}, cfg.IgnorePaths...)
	ignore = append(ignore, dashboard, dashboard+"/*", "_health", "metrics")

	return Settings{
		CaptureWeb:    cfg.CaptureWeb,
		CaptureAPI:    cfg.CaptureAPI,
		CaptureBots:   cfg.CaptureBots,
		APIPrefix:     cfg.APIPrefix,
		IgnorePaths:   ignore,
		AnonymizeIP:   cfg.AnonymizeIP,
		RespectDNT:    cfg.RespectDNT,
		VisitorKey:    cfg.PrivateKey,
		SessionCookie: cfg.AppName + "_session",
		SecureCookie:  cfg.IsProduction(),
	}
}

// RecorderOptions wires a Recorder.
type RecorderOptions struct {
	Settings   Settings
	Dispatcher Dispatcher
	// Locator resolves countries; nil trusts the CDN header only.
	Locator geoip.Locator
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Recorder turns observed requests into request events.
type Recorder struct {
	settings   Settings
	dispatcher Dispatcher
	locator    geoip.Locator
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewRecorder(opts RecorderOptions) *Recorder {
	if opts.Settings.SessionCookie == "" {
		opts.Settings.SessionCookie = DefaultSessionCookie
	}
	if opts.Locator == nil {
		opts.Locator = geoip.HeaderLocator{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Recorder{
		settings:   opts.Settings,
		dispatcher: opts.Dispatcher,
		locator:    opts.Locator,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Clock,
	}
}

// Dispatcher returns the dispatcher events are handed to.
func (r *Recorder) Dispatcher() Dispatcher {
	return r.dispatcher
}

// Middleware records every request after the downstream handlers have run.
// Capture problems are logged and reported and never change the response.
func (r *Recorder) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		started := r.now()
		err := c.Next()
		r.capture(c, started)
		return err
	}
}

// Record dispatches an already-built event, counting the outcome.
func (r *Recorder) Record(ctx context.Context, event *requests.RequestEvent) error {
	outcome, err := r.dispatcher.Dispatch(ctx, event)
	r.metrics.Captured(string(event.RequestCategory), outcome)
	return err
}

func (r *Recorder) capture(c *fiber.Ctx, started time.Time) {
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("panic while capturing request: %v", p)
			r.logger.Error("Panic recovered in request capture", slog.Any("error", err))
			errreport.Capture(err, "capture", nil)
		}
	}()

	event := r.build(c, started)
	if event == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	if err := r.Record(ctx, event); err != nil {
		r.logger.Error("Failed to capture request",
			slog.String("path", event.Path),
			slog.String("dispatcher", r.dispatcher.Name()),
			slog.Any("error", err))
		errreport.Capture(err, "capture", map[string]string{
			"dispatcher": r.dispatcher.Name(),
			"category":   string(event.RequestCategory),
		})
	}
}

// build returns nil when the request should not be recorded.
func (r *Recorder) build(c *fiber.Ctx, started time.Time) *requests.RequestEvent {
	path := utils.CopyString(c.Path())
	for _, pattern := range r.settings.IgnorePaths {
		if matchPath(pattern, path) {
			return nil
		}
	}

	category := requests.CategoryWeb
	if hasPathPrefix(path, r.settings.APIPrefix) {
		category = requests.CategoryAPI
	}
	if (category == requests.CategoryWeb && !r.settings.CaptureWeb) ||
		(category == requests.CategoryAPI && !r.settings.CaptureAPI) {
		return nil
	}

	if r.settings.RespectDNT && c.Get("DNT") == "1" {
		r.metrics.Captured(string(category), metrics.OutcomeSkipped)
		return nil
	}

	userAgent := utils.CopyString(c.Get(fiber.HeaderUserAgent))
	parsed := user_agent.ParseUserAgent(userAgent)
	if parsed.Bot && !r.settings.CaptureBots {
		r.metrics.Captured(string(category), metrics.OutcomeSkipped)
		return nil
	}

	now := r.now()
	clientIP := utils.CopyString(c.IP())
	storedIP := clientIP
	if r.settings.AnonymizeIP {
		storedIP = AnonymizeIP(clientIP)
	}

	responseTime := now.Sub(started).Milliseconds()
	event := &requests.RequestEvent{
		Path:            path,
		PageTitle:       extractTitle(c),
		IPAddress:       storedIP,
		OperatingSystem: parsed.OS,
		Browser:         parsed.Browser,
		Device:          parsed.Device,
		Referrer:        utils.CopyString(c.Get(fiber.HeaderReferer)),
		Country:         r.locator.Country(clientIP, c.Get(geoip.CountryHeader)),
		Language:        requests.Clamp(utils.CopyString(c.Get(fiber.HeaderAcceptLanguage)), requests.MaxLanguageLength),
		QueryParams:     r.queryParams(c),
		SessionID:       r.sessionID(c),
		VisitorID:       r.visitorID(clientIP, userAgent, now),
		UserID:          userID(c.Locals(UserIDLocal)),
		HTTPMethod:      utils.CopyString(c.Method()),
		RequestCategory: category,
		ResponseTime:    &responseTime,
		VisitedAt:       now.UTC(),
	}
	return event
}

// sessionID reads the session cookie, issuing a new one when it is missing.
func (r *Recorder) sessionID(c *fiber.Ctx) string {
	if id := c.Cookies(r.settings.SessionCookie); id != "" && len(id) <= 128 {
		return utils.CopyString(id)
	}
	id := uuid.NewString()
	c.Cookie(&fiber.Cookie{
		Name:     r.settings.SessionCookie,
		Value:    id,
		Path:     "/",
		HTTPOnly: true,
		Secure:   r.settings.SecureCookie,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return id
}

func (r *Recorder) visitorID(ip, userAgent string, at time.Time) *string {
	if r.settings.VisitorKey == "" {
		return nil
	}
	id, err := visitors.BuildVisitorID(r.settings.VisitorKey, ip, userAgent, at)
	if err != nil {
		r.logger.Warn("Failed to derive visitor id", slog.Any("error", err))
		return nil
	}
	return &id
}

func (r *Recorder) queryParams(c *fiber.Ctx) string {
	queries := c.Queries()
	if len(queries) == 0 {
		return ""
	}
	data, err := json.Marshal(queries)
	if err != nil {
		r.logger.Warn("Failed to encode query params", slog.Any("error", err))
		return ""
	}
	return string(data)
}

// extractTitle pulls <title> out of an uncompressed HTML response.
func extractTitle(c *fiber.Ctx) string {
	resp := c.Response()
	if !strings.HasPrefix(strings.ToLower(string(resp.Header.ContentType())), fiber.MIMETextHTML) {
		return ""
	}
	if len(resp.Header.Peek(fiber.HeaderContentEncoding)) > 0 {
		return ""
	}

	body := resp.Body()
	if len(body) > maxTitleScan {
		body = body[:maxTitleScan]
	}
	matches := titlePattern.FindStringSubmatch(string(body))
	if len(matches) < 2 {
		return ""
	}
	title := strings.Join(strings.Fields(html.UnescapeString(matches[1])), " ")
	return requests.Clamp(title, requests.MaxPageTitleLength)
}

// userID accepts the integer and string forms auth middlewares commonly store.
func userID(v any) *uint64 {
	var id uint64
	switch val := v.(type) {
	case uint:
		id = uint64(val)
	case uint64:
		id = val
	case uint32:
		id = uint64(val)
	case int:
		if val <= 0 {
			return nil
		}
		id = uint64(val)
	case int64:
		if val <= 0 {
			return nil
		}
		id = uint64(val)
	case string:
		parsed, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return nil
		}
		id = parsed
	default:
		return nil
	}
	if id == 0 {
		return nil
	}
	return &id
}
