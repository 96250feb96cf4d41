// Command requestanalytics serves the analytics dashboard and records traffic.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"requestanalytics/internal"
)

const shutdownGrace = 30 * time.Second

func main() {
	err := run()
	internal.FlushErrors()
	if err != nil {
		log.Printf("requestanalytics: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app, err := internal.NewApp()
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Printf("request events table %q is up to date", app.Components.Store.Table())

	if err := app.StartAsync(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	log.Println("listening; dashboard at", app.Components.Config.GetDashboardPath())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	<-ctx.Done()
	stop()
	log.Println("shutting down, draining capture queue")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Println("stopped")
	return nil
}
