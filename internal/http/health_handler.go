package http

import (
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	DBStatus    string    `json:"db_status"`
	TableStatus string    `json:"table_status"`
}

// HealthIndexAction checks that the database answers and the events table exists.
func (h *Handlers) HealthIndexAction(ctx *cartridge.Context) error {
	dbStatus := "ok"
	tableStatus := "ok"

	db := h.store.DB()
	sqlDB, err := db.DB()
	if err != nil {
		dbStatus = "error"
		ctx.Logger.Error("Database connection error", slog.Any("error", err))
	} else if err := sqlDB.PingContext(ctx.UserContext()); err != nil {
		dbStatus = "error"
		ctx.Logger.Error("Database ping failed", slog.Any("error", err))
	}

	if dbStatus == "ok" && !db.Migrator().HasTable(h.store.Table()) {
		tableStatus = "missing"
		ctx.Logger.Error("Request events table is missing", slog.String("table", h.store.Table()))
	}

	health := HealthStatus{
		Status:      "ok",
		Timestamp:   time.Now(),
		DBStatus:    dbStatus,
		TableStatus: tableStatus,
	}

	if dbStatus != "ok" || tableStatus != "ok" {
		health.Status = "degraded"
	}

	return ctx.JSON(health)
}
