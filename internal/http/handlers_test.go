package http_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"requestanalytics/internal/requests"
	"requestanalytics/internal/testsupport"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func doRequest(t *testing.T, app *fiber.App, method, target string, body []byte) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("User-Agent", chromeUA)
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		require.NoErrorf(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp.StatusCode, decoded
}

func fieldErrors(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	errs, ok := body["errors"].(map[string]any)
	require.Truef(t, ok, "expected errors object in %v", body)
	return errs
}

func TestDashboardAction(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	recent := time.Now().Add(-time.Hour)

	testsupport.CreateRequestEvent(t, db, "s1", "/", recent, testsupport.WithReferrer("https://www.google.com/"))
	testsupport.CreateRequestEvent(t, db, "s1", "/pricing", recent.Add(time.Minute))
	testsupport.CreateRequestEvent(t, db, "s2", "/", recent, testsupport.WithBrowser("Firefox"))

	t.Run("returns the dashboard payload", func(t *testing.T) {
		status, body := doRequest(t, app, fiber.MethodGet, "/analytics", nil)
		require.Equal(t, fiber.StatusOK, status)

		for _, key := range []string{"browsers", "operatingSystems", "devices", "pages", "referrers", "labels", "datasets", "average", "countries"} {
			assert.Contains(t, body, key)
		}
		assert.Len(t, body["labels"], 31)
	})

	t.Run("echoes an explicit date range", func(t *testing.T) {
		status, body := doRequest(t, app, fiber.MethodGet, "/analytics?date_range=7", nil)
		require.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, float64(7), body["dateRange"])
		assert.Len(t, body["labels"], 8)
	})

	t.Run("rejects an unknown category", func(t *testing.T) {
		status, body := doRequest(t, app, fiber.MethodGet, "/analytics?request_category=graphql", nil)
		require.Equal(t, fiber.StatusUnprocessableEntity, status)
		assert.Contains(t, fieldErrors(t, body), "request_category")
	})

	t.Run("rejects a range above the maximum", func(t *testing.T) {
		status, body := doRequest(t, app, fiber.MethodGet, "/analytics?date_range=400", nil)
		require.Equal(t, fiber.StatusUnprocessableEntity, status)
		assert.Contains(t, fieldErrors(t, body), "date_range")
	})

	t.Run("rejects an end date before the start date", func(t *testing.T) {
		status, body := doRequest(t, app, fiber.MethodGet, "/analytics?start_date=2024-02-10&end_date=2024-02-01", nil)
		require.Equal(t, fiber.StatusUnprocessableEntity, status)
		assert.Contains(t, fieldErrors(t, body), "end_date")
	})

	t.Run("rejects a malformed date", func(t *testing.T) {
		status, body := doRequest(t, app, fiber.MethodGet, "/analytics?start_date=yesterday&end_date=2024-02-01", nil)
		require.Equal(t, fiber.StatusUnprocessableEntity, status)
		assert.Contains(t, fieldErrors(t, body), "start_date")
	})
}

func TestOverviewAction(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	recent := time.Now().Add(-time.Hour)

	testsupport.CreateRequestEvent(t, db, "s1", "/", recent)
	testsupport.CreateRequestEvent(t, db, "s2", "/api/users", recent, testsupport.WithCategory(requests.CategoryAPI))

	status, body := doRequest(t, app, fiber.MethodGet, "/analytics/api/overview?request_category=web", nil)
	require.Equal(t, fiber.StatusOK, status)

	for _, key := range []string{"summary", "chart", "top_pages", "top_referrers", "browsers", "devices", "countries", "operating_systems"} {
		assert.Contains(t, body, key)
	}

	pages, ok := body["top_pages"].([]any)
	require.True(t, ok)
	require.Len(t, pages, 1)
	assert.Equal(t, "/", pages[0].(map[string]any)["path"])
}

func TestVisitorsAction(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	recent := time.Now().Add(-time.Hour)

	testsupport.CreateRequestEvent(t, db, "s1", "/", recent, testsupport.WithVisitor("v1"))
	testsupport.CreateRequestEvent(t, db, "s2", "/", recent, testsupport.WithVisitor("v2"))
	testsupport.CreateRequestEvent(t, db, "s3", "/", recent, testsupport.WithVisitor("v3"))

	t.Run("paginates", func(t *testing.T) {
		status, body := doRequest(t, app, fiber.MethodGet, "/analytics/api/visitors?per_page=2", nil)
		require.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, float64(3), body["total"])
		assert.Equal(t, float64(2), body["last_page"])
		assert.Len(t, body["data"], 2)
	})

	for _, query := range []string{"per_page=0", "per_page=101", "page=0", "page=abc"} {
		t.Run("rejects "+query, func(t *testing.T) {
			status, _ := doRequest(t, app, fiber.MethodGet, "/analytics/api/visitors?"+query, nil)
			assert.Equal(t, fiber.StatusUnprocessableEntity, status)
		})
	}
}

func TestPageViewsAction(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)
	recent := time.Now().Add(-time.Hour)

	testsupport.CreateRequestEvent(t, db, "s1", "/blog/one", recent)
	testsupport.CreateRequestEvent(t, db, "s1", "/blog/two", recent.Add(time.Minute))
	testsupport.CreateRequestEvent(t, db, "s2", "/pricing", recent)

	status, body := doRequest(t, app, fiber.MethodGet, "/analytics/api/page-views?path=blog", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(2), body["total"])

	status, body = doRequest(t, app, fiber.MethodGet, "/analytics/api/page-views", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(3), body["total"])
}

func TestIngestEventsAction(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	t.Run("stores valid events and rejects the rest", func(t *testing.T) {
		payload, err := json.Marshal(map[string]any{
			"events": []map[string]any{
				{"path": "/checkout", "session_id": "abc", "http_method": "POST", "request_category": "web"},
				{"path": "/orphan"},
				{"path": "/api/x", "session_id": "abc", "http_method": "GET", "request_category": "rpc"},
			},
		})
		require.NoError(t, err)

		status, body := doRequest(t, app, fiber.MethodPost, "/analytics/api/events", payload)
		require.Equal(t, fiber.StatusAccepted, status)
		assert.Equal(t, float64(1), body["accepted"])
		assert.Equal(t, float64(2), body["rejected"])

		var stored requests.RequestEvent
		require.NoError(t, db.Table(requests.DefaultTableName).Where("path = ?", "/checkout").First(&stored).Error)
		assert.Equal(t, "abc", stored.SessionID)
		assert.False(t, stored.VisitedAt.IsZero())
	})

	t.Run("clamps oversized fields to their columns", func(t *testing.T) {
		longReferrer := "https://example.com/?utm=" + strings.Repeat("x", 5000)
		payload, err := json.Marshal(map[string]any{
			"events": []map[string]any{
				{"path": "/long-ref", "session_id": "clamp", "referrer": longReferrer},
			},
		})
		require.NoError(t, err)

		status, body := doRequest(t, app, fiber.MethodPost, "/analytics/api/events", payload)
		require.Equal(t, fiber.StatusAccepted, status)
		assert.Equal(t, float64(1), body["accepted"])

		var stored requests.RequestEvent
		require.NoError(t, db.Table(requests.DefaultTableName).Where("session_id = ?", "clamp").First(&stored).Error)
		assert.Len(t, stored.Referrer, requests.MaxPathLength)
		assert.Equal(t, longReferrer[:requests.MaxPathLength], stored.Referrer)
	})

	t.Run("rejects an empty batch", func(t *testing.T) {
		status, body := doRequest(t, app, fiber.MethodPost, "/analytics/api/events", []byte(`{"events":[]}`))
		require.Equal(t, fiber.StatusUnprocessableEntity, status)
		assert.Contains(t, fieldErrors(t, body), "events")
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		status, _ := doRequest(t, app, fiber.MethodPost, "/analytics/api/events", []byte(`{"events":`))
		assert.Equal(t, fiber.StatusBadRequest, status)
	})
}

func TestHealthIndexAction(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	status, body := doRequest(t, app, fiber.MethodGet, "/_health", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["db_status"])
	assert.Equal(t, "ok", body["table_status"])
}

func TestCaptureMiddlewareRecordsApplicationRequests(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	// No route matches, but the request is still recorded.
	status, _ := doRequest(t, app, fiber.MethodGet, "/pricing?plan=pro", nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	// Dashboard traffic is never recorded.
	status, _ = doRequest(t, app, fiber.MethodGet, "/analytics", nil)
	require.Equal(t, fiber.StatusOK, status)

	var events []requests.RequestEvent
	require.NoError(t, db.Table(requests.DefaultTableName).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, "/pricing", events[0].Path)
	assert.Equal(t, "Chrome", events[0].Browser)
	assert.Equal(t, requests.CategoryWeb, events[0].RequestCategory)
	assert.JSONEq(t, `{"plan":"pro"}`, events[0].QueryParams)
}
