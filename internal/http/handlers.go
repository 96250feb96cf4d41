// Package http holds the dashboard, API and health handlers.
package http

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"requestanalytics/internal/capture"
	"requestanalytics/internal/dashboard"
	"requestanalytics/internal/requests"
	"requestanalytics/internal/timeframe"
)

// Handlers serve the dashboard and its JSON API.
type Handlers struct {
	dashboard *dashboard.Service
	recorder  *capture.Recorder
	store     *requests.Store
}

func NewHandlers(service *dashboard.Service, recorder *capture.Recorder, store *requests.Store) *Handlers {
	return &Handlers{dashboard: service, recorder: recorder, store: store}
}

// validationResponse mirrors the usual 422 body: a message plus per-field errors.
type validationResponse struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

// respondError turns parameter problems into 422 and everything else into 500.
func respondError(ctx *cartridge.Context, action string, err error) error {
	var paramErr *timeframe.ParamError
	if errors.As(err, &paramErr) {
		return ctx.Status(fiber.StatusUnprocessableEntity).JSON(validationResponse{
			Message: paramErr.Error(),
			Errors:  map[string][]string{paramErr.Field: {paramErr.Message}},
		})
	}

	ctx.Logger.Error("Request failed",
		slog.String("action", action),
		slog.String("path", ctx.Path()),
		slog.Any("error", err))
	return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to load analytics",
	})
}

// DashboardAction returns the full dashboard payload.
func (h *Handlers) DashboardAction(ctx *cartridge.Context) error {
	params, err := parseDashboardParams(ctx, h.dashboard.Engine().Location())
	if err != nil {
		return respondError(ctx, "dashboard", err)
	}

	payload, err := h.dashboard.GetDashboard(ctx.UserContext(), params)
	if err != nil {
		return respondError(ctx, "dashboard", err)
	}
	return ctx.JSON(payload)
}

// OverviewAction returns every statistic for the window in API form.
func (h *Handlers) OverviewAction(ctx *cartridge.Context) error {
	params, err := parseDashboardParams(ctx, h.dashboard.Engine().Location())
	if err != nil {
		return respondError(ctx, "overview", err)
	}

	overview, err := h.dashboard.GetOverview(ctx.UserContext(), params)
	if err != nil {
		return respondError(ctx, "overview", err)
	}
	return ctx.JSON(overview)
}

// VisitorsAction lists visitors active in the window.
func (h *Handlers) VisitorsAction(ctx *cartridge.Context) error {
	params, err := parseDashboardParams(ctx, h.dashboard.Engine().Location())
	if err != nil {
		return respondError(ctx, "visitors", err)
	}
	page, err := parsePagination(ctx)
	if err != nil {
		return respondError(ctx, "visitors", err)
	}

	visitors, err := h.dashboard.Engine().GetVisitors(ctx.UserContext(), h.dashboard.Filter(params), page)
	if err != nil {
		return respondError(ctx, "visitors", err)
	}
	return ctx.JSON(visitors)
}

// PageViewsAction lists raw page views, optionally filtered by path.
func (h *Handlers) PageViewsAction(ctx *cartridge.Context) error {
	params, err := parseDashboardParams(ctx, h.dashboard.Engine().Location())
	if err != nil {
		return respondError(ctx, "page_views", err)
	}
	page, err := parsePagination(ctx)
	if err != nil {
		return respondError(ctx, "page_views", err)
	}

	views, err := h.dashboard.Engine().GetPageViews(ctx.UserContext(), h.dashboard.Filter(params), ctx.Query("path"), page)
	if err != nil {
		return respondError(ctx, "page_views", err)
	}
	return ctx.JSON(views)
}
