package database

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	_ "github.com/lib/pq"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"requestanalytics/internal/config"
	"requestanalytics/internal/requests"
)

// DBManager wraps cartridge's sqlite.Manager and adds MySQL and PostgreSQL connections.
// SQLite stays the default; the other drivers replace the connection returned by GetConnection.
type DBManager struct {
	*sqlite.Manager
	cfg      *config.Config
	logger   *slog.Logger
	external *gorm.DB
}

// NewDBManager creates a new database manager for the configured driver.
func NewDBManager(cfg *config.Config, logger *slog.Logger) *DBManager {
	sqliteCfg := sqlite.Config{
		Path:         cfg.DatabaseName,
		MaxOpenConns: cfg.GetMaxOpenConns(),
		MaxIdleConns: cfg.GetMaxIdleConns(),
		Logger:       logger,
		EnableWAL:    true,
		TxImmediate:  true,
		BusyTimeout:  5000,
	}

	return &DBManager{
		Manager: sqlite.NewManager(sqliteCfg),
		cfg:     cfg,
		logger:  logger,
	}
}

// Init initializes the database connection.
func (dm *DBManager) Init() error {
	switch dm.cfg.DatabaseType {
	case config.MySQLDatabase, config.PostgresDatabase:
		db, err := dm.openExternal()
		if err != nil {
			return err
		}
		dm.external = db
		dm.logger.Info("Connected to database",
			slog.String("driver", dm.cfg.DatabaseType))
		return nil
	default:
		_, err := dm.Manager.Connect()
		return err
	}
}

// GetConnection returns the active connection for the configured driver.
func (dm *DBManager) GetConnection() *gorm.DB {
	if dm.external != nil {
		return dm.external
	}
	return dm.Manager.GetConnection()
}

// IsSQLite reports whether the manager serves a SQLite database.
func (dm *DBManager) IsSQLite() bool {
	return dm.external == nil
}

// Release closes a MySQL or PostgreSQL pool. SQLite connections are owned by cartridge.
func (dm *DBManager) Release() error {
	if dm.external == nil {
		return nil
	}
	sqlDB, err := dm.external.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (dm *DBManager) openExternal() (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dm.cfg.DatabaseType {
	case config.MySQLDatabase:
		dialector = mysql.Open(dm.cfg.DatabaseDSN())
	case config.PostgresDatabase:
		dialector = postgres.New(postgres.Config{
			DriverName: "postgres",
			DSN:        dm.cfg.DatabaseDSN(),
		})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dm.cfg.DatabaseType)
	}

	logLevel := logger.Warn
	if dm.cfg.IsProduction() {
		logLevel = logger.Error
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("error opening %s connection: %w", dm.cfg.DatabaseType, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("error getting %s pool: %w", dm.cfg.DatabaseType, err)
	}
	sqlDB.SetMaxOpenConns(dm.cfg.GetMaxOpenConns())
	sqlDB.SetMaxIdleConns(dm.cfg.GetMaxIdleConns())
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("error pinging %s: %w", dm.cfg.DatabaseType, err)
	}

	return db, nil
}

// MigrateDatabase creates or updates the request events table.
func (dm *DBManager) MigrateDatabase() error {
	db := dm.GetConnection()
	if db == nil {
		return gorm.ErrInvalidDB
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return requests.Migrate(tx, dm.cfg.TableName)
	})
	if err != nil {
		dm.logger.Error("Failed to auto-migrate database", slog.Any("error", err))
		return err
	}

	if dm.IsSQLite() {
		if err := dm.CheckpointWAL("FULL"); err != nil {
			dm.logger.Warn("Failed to checkpoint WAL after migration", slog.Any("error", err))
		}
	}

	dm.logger.Info("Database migration completed successfully",
		slog.String("table", dm.cfg.TableName))
	return nil
}
