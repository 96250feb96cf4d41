// Package seeder fills the request events table with realistic sample traffic.
package seeder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"requestanalytics/internal/pkg/geoip"
	"requestanalytics/internal/pkg/user_agent"
	"requestanalytics/internal/requests"
	"requestanalytics/internal/visitors"
)

const flushEvery = 500

// Seeder generates sessions that walk through typical page journeys.
type Seeder struct {
	Store      *requests.Store
	Logger     *slog.Logger
	EventCount int
	// Days spreads sessions over the trailing window.
	Days int
	Key  string

	rand *rand.Rand
	now  func() time.Time
}

// NewSeeder creates a new seeder instance
func NewSeeder(store *requests.Store, logger *slog.Logger, eventCount int, key string) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		Store:      store,
		Logger:     logger,
		EventCount: eventCount,
		Days:       30,
		Key:        key,
		rand:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		now:        time.Now,
	}
}

// WithSeed makes generation reproducible.
func (s *Seeder) WithSeed(seed uint64) *Seeder {
	s.rand = rand.New(rand.NewPCG(seed, seed))
	return s
}

// WithClock overrides the time sessions are generated relative to.
func (s *Seeder) WithClock(now func() time.Time) *Seeder {
	s.now = now
	return s
}

var journeyTemplates = [][]string{
	{"/", "/about", "/contact"},
	{"/", "/features", "/pricing", "/signup"},
	{"/", "/blog", "/blog/article-1", "/signup"},
	{"/pricing", "/features", "/signup"},
	{"/", "/products", "/products/widget-a", "/products/gadget-b", "/pricing"},
	{"/", "/docs", "/docs/getting-started", "/docs/api-reference"},
	{"/", "/signup"},
	{"/blog/article-1"},
	{"/"},
	{"/login", "/dashboard", "/settings"},
}

var apiJourneys = [][]string{
	{"/api/users", "/api/users/1"},
	{"/api/orders"},
	{"/api/products", "/api/products/42", "/api/cart"},
}

var titles = map[string]string{
	"/":         "Home",
	"/about":    "About us",
	"/contact":  "Contact",
	"/features": "Features",
	"/pricing":  "Pricing",
	"/signup":   "Create your account",
	"/blog":     "Blog",
	"/docs":     "Documentation",
}

// Run generates EventCount events and inserts them in batches.
func (s *Seeder) Run(ctx context.Context) (int, error) {
	start := time.Now()
	s.Logger.Info("Starting database seeding...", slog.Int("eventCount", s.EventCount))

	ipPool := generateIPPool(s.rand, 100)
	userAgents := getUserAgents()
	referrers := getReferrers()
	countries := getCountryCodes()
	days := s.Days
	if days < 1 {
		days = 1
	}

	batch := make([]requests.RequestEvent, 0, flushEvery)
	created := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		stored, err := s.Store.InsertBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("failed to insert seeded events: %w", err)
		}
		created += stored
		batch = batch[:0]
		return nil
	}

	for generated := 0; generated < s.EventCount; {
		if ctx.Err() != nil {
			return created, ctx.Err()
		}

		category := requests.CategoryWeb
		journey := journeyTemplates[s.rand.IntN(len(journeyTemplates))]
		if s.rand.Float64() < 0.15 {
			category = requests.CategoryAPI
			journey = apiJourneys[s.rand.IntN(len(apiJourneys))]
		}

		ip := ipPool[s.rand.IntN(len(ipPool))]
		rawUA := userAgents[s.rand.IntN(len(userAgents))]
		ua := user_agent.ParseUserAgent(rawUA)
		referrer := referrers[s.rand.IntN(len(referrers))]
		country := geoip.CountryName(countries[s.rand.IntN(len(countries))])
		sessionID := uuid.NewString()

		at := s.now().Add(-time.Duration(s.rand.IntN(days*24*60*60)) * time.Second)
		visitorID, err := visitors.BuildVisitorID(s.Key, ip, rawUA, at)
		if err != nil {
			return created, err
		}

		for i, path := range journey {
			if generated >= s.EventCount {
				break
			}
			if i > 0 {
				at = at.Add(time.Duration(s.rand.IntN(110)+10) * time.Second)
			}

			vid := visitorID
			responseTime := int64(s.rand.IntN(400) + 20)
			event := requests.RequestEvent{
				Path:            path,
				PageTitle:       titles[path],
				IPAddress:       ip,
				OperatingSystem: ua.OS,
				Browser:         ua.Browser,
				Device:          ua.Device,
				Referrer:        referrer,
				Country:         country,
				Language:        "en-US",
				SessionID:       sessionID,
				VisitorID:       &vid,
				HTTPMethod:      "GET",
				RequestCategory: category,
				ResponseTime:    &responseTime,
				VisitedAt:       at.UTC(),
			}
			if category == requests.CategoryAPI {
				event.PageTitle = ""
			}
			if i == 0 {
				event.QueryParams = s.queryParams()
			}

			batch = append(batch, event)
			generated++
			// Only the landing page carries the referrer.
			referrer = ""

			if len(batch) >= flushEvery {
				if err := flush(); err != nil {
					return created, err
				}
			}
		}
	}

	if err := flush(); err != nil {
		return created, err
	}

	s.Logger.Info("Seeding completed successfully",
		slog.Int("events", created),
		slog.Duration("elapsed", time.Since(start)))
	return created, nil
}

// queryParams occasionally tags a landing page with campaign parameters.
func (s *Seeder) queryParams() string {
	if s.rand.Float64() >= 0.3 {
		return ""
	}
	sources := []string{"google", "newsletter", "twitter", "producthunt"}
	params := map[string]string{
		"utm_source": sources[s.rand.IntN(len(sources))],
		"utm_medium": "referral",
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func generateIPPool(r *rand.Rand, size int) []string {
	pool := make([]string, size)
	for i := range pool {
		pool[i] = fmt.Sprintf("%d.%d.%d.%d", r.IntN(223)+1, r.IntN(256), r.IntN(256), r.IntN(254)+1)
	}
	return pool
}

func getUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
		"Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
	}
}

func getReferrers() []string {
	return []string{
		"",
		"",
		"https://www.google.com/",
		"https://news.ycombinator.com/",
		"https://twitter.com/",
		"https://www.reddit.com/r/golang/",
		"https://duckduckgo.com/",
		"https://github.com/",
	}
}

func getCountryCodes() []string {
	return []string{"US", "US", "GB", "DE", "FR", "ES", "CA", "BR", "IN", "JP", "AU", "NL"}
}
