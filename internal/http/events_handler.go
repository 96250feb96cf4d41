package http

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"requestanalytics/internal/requests"
)

// maxIngestBatch bounds how many events one ingest call may carry.
const maxIngestBatch = 500

// IngestRequest carries request events captured by another service.
type IngestRequest struct {
	Events []requests.RequestEvent `json:"events"`
}

// IngestResponse reports how many events were accepted.
type IngestResponse struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// IngestEventsAction accepts externally captured request events and hands
// them to the configured dispatcher unchanged, apart from defaults for
// missing fields.
func (h *Handlers) IngestEventsAction(ctx *cartridge.Context) error {
	var req IngestRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid JSON body"})
	}
	if len(req.Events) == 0 {
		return ctx.Status(fiber.StatusUnprocessableEntity).JSON(validationResponse{
			Message: "events: must contain at least one event",
			Errors:  map[string][]string{"events": {"must contain at least one event"}},
		})
	}
	if len(req.Events) > maxIngestBatch {
		return ctx.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "Too many events in one request",
		})
	}

	var resp IngestResponse
	for i := range req.Events {
		event := &req.Events[i]
		event.ID = 0
		if event.SessionID == "" {
			resp.Rejected++
			continue
		}
		if event.VisitedAt.IsZero() {
			event.VisitedAt = time.Now().UTC()
		}
		if event.RequestCategory == "" {
			event.RequestCategory = requests.CategoryWeb
		}
		if !event.RequestCategory.IsValid() {
			resp.Rejected++
			continue
		}

		if err := h.recorder.Record(ctx.UserContext(), event); err != nil {
			ctx.Logger.Error("Failed to ingest request event",
				slog.String("path", event.Path),
				slog.Any("error", err))
			resp.Rejected++
			continue
		}
		resp.Accepted++
	}

	status := fiber.StatusAccepted
	if resp.Accepted == 0 {
		status = fiber.StatusUnprocessableEntity
	}
	return ctx.Status(status).JSON(resp)
}
