// main.go - Admin control tool for request analytics
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"requestanalytics/internal"
	"requestanalytics/internal/dashboard"
	"requestanalytics/internal/jobs"
	"requestanalytics/internal/seeder"
	"requestanalytics/internal/timeframe"
)

const (
	closeTimeout = 30 * time.Second
)

// Command is one ractl subcommand.
type Command interface {
	Name() string
	Description() string
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// commands in the order help lists them.
var commands = []Command{
	&MigrateCommand{},
	&PruneCommand{},
	&SeedCommand{},
	&OverviewCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	cmdName, args := parseArgs()
	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	if err := execute(ctx, cmd, args); err != nil {
		log.Printf("%s: %v", cmd.Name(), err)
		os.Exit(1)
	}
	log.Printf("%s: ok", cmd.Name())
}

// execute runs cmd against a fully wired application and releases it
// before returning. help needs no application.
func execute(ctx context.Context, cmd Command, args []string) error {
	if cmd.Name() == "help" {
		return cmd.Execute(ctx, nil, args)
	}

	app, err := internal.NewApp()
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := app.Shutdown(closeCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
		internal.FlushErrors()
	}()

	return cmd.Execute(ctx, app, args)
}

// MigrateCommand creates or updates the request events table.
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Creates or updates the request events table" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	log.Printf("migrating %s", app.Components.Store.Table())
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("migration done")
	return nil
}

// PruneCommand deletes events older than the retention period once
type PruneCommand struct{}

func (c *PruneCommand) Name() string        { return "prune" }
func (c *PruneCommand) Description() string { return "Deletes request events older than -days (default from config)" }

func (c *PruneCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	cfg := app.Components.Config
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	days := fs.Int("days", cfg.PruningDays, "retention in days")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *days <= 0 {
		return fmt.Errorf("retention must be at least one day")
	}

	job := jobs.NewPruneJob(app.Components.Store, slog.Default(), nil, *days, cfg.PruningBatchSize)
	deleted, err := job.Run(ctx)
	if err != nil {
		return err
	}
	log.Printf("Deleted %d events older than %s", deleted, job.Cutoff().Format(time.RFC3339))
	return nil
}

// SeedCommand populates the DB with sample traffic
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds the database with sample request events" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	events := fs.Int("events", 10000, "number of events to generate")
	days := fs.Int("days", 30, "spread events over this many trailing days")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s := seeder.NewSeeder(app.Components.Store, slog.Default(), *events, app.Components.Config.PrivateKey)
	s.Days = *days
	if _, err := s.Run(ctx); err != nil {
		return err
	}
	return app.Components.Dashboard.ClearCache(ctx)
}

// OverviewCommand prints the overview statistics as JSON
type OverviewCommand struct{}

func (c *OverviewCommand) Name() string        { return "overview" }
func (c *OverviewCommand) Description() string { return "Prints overview statistics as JSON (-range, -start, -end)" }

func (c *OverviewCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("overview", flag.ContinueOnError)
	dateRange := fs.String("range", "", "trailing days")
	start := fs.String("start", "", "start date (YYYY-MM-DD)")
	end := fs.String("end", "", "end date (YYYY-MM-DD)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	service := app.Components.Dashboard
	window, err := timeframe.ParseWindowQuery(timeframe.WindowQuery{
		StartDate: *start,
		EndDate:   *end,
		DateRange: *dateRange,
	}, service.Engine().Location())
	if err != nil {
		return err
	}

	overview, err := service.GetOverview(ctx, dashboard.Params{Window: window})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(overview)
}

// StatusCommand prints table and connection pool facts.
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Print row count, oldest event and pool stats" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	store := app.Components.Store

	count, err := store.Count(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	oldest, err := store.OldestVisit(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	log.Println("status:")
	log.Println("- database: reachable")
	log.Printf("- Table: %s", store.Table())
	log.Printf("- Request events: %d", count)
	if oldest != nil {
		log.Printf("- Oldest event: %s", oldest.Format(time.RFC3339))
	}
	log.Printf("- Dispatcher: %s", app.Components.Recorder.Dispatcher().Name())

	sqlDB, err := store.DB().DB()
	if err != nil {
		return fmt.Errorf("status: pool: %w", err)
	}
	stats := sqlDB.Stats()
	log.Printf("- Max Open Connections: %d", stats.MaxOpenConnections)
	log.Printf("- Open Connections: %d", stats.OpenConnections)
	log.Printf("- In Use: %d", stats.InUse)
	log.Printf("- Idle: %d", stats.Idle)
	return nil
}

// HelpCommand lists the commands.
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

func parseArgs() (string, []string) {
	args := flag.Args()
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: ractl [command] [args...]")
	fmt.Println("Commands:")
	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
