// Package app exposes the request analytics application to embedding programs.
package app

import (
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"requestanalytics/internal"
	"requestanalytics/internal/capture"
	"requestanalytics/internal/config"
	"requestanalytics/internal/database"
	"requestanalytics/internal/requests"
)

// Re-export core types
type (
	Application  = internal.Application
	Components   = internal.Components
	Config       = config.Config
	DBManager    = database.DBManager
	RequestEvent = requests.RequestEvent
	Recorder     = capture.Recorder
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	return config.GetConfig()
}

// NewApp creates a new application with default routes
func NewApp() (*Application, error) {
	return internal.NewApp()
}

// NewComponents builds the capture and dashboard services on an existing connection,
// for programs that mount them on their own Fiber server.
func NewComponents(cfg *Config, db *gorm.DB, srv *cartridge.Server) (*Components, error) {
	return internal.NewComponents(cfg, db, srv.GetLogger())
}

// MountRoutes registers the capture middleware and dashboard routes on srv
func MountRoutes(srv *cartridge.Server, comps *Components) {
	internal.MountRoutes(srv, comps)
}

// Migrate creates the request events table on db
func Migrate(db *gorm.DB, table string) error {
	return requests.Migrate(db, table)
}
