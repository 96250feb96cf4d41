// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database drivers
const (
	SQLiteDatabase   = "sqlite"
	MySQLDatabase    = "mysql"
	PostgresDatabase = "postgres"
)

// Queue drivers used when the capture queue is enabled
const (
	MemoryQueue = "memory"
	KafkaQueue  = "kafka"
)

// Cache drivers for dashboard payloads
const (
	MemoryCache = "memory"
	RedisCache  = "redis"
)

// Geolocation providers
const (
	HeaderGeoProvider  = "header"
	MaxMindGeoProvider = "maxmind"
)

const defaultPrivateKey = "88888888888888888888888888888888"

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	PrivateKey  string   `mapstructure:"privatekey"`
	Timezone    string   `mapstructure:"timezone"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseDSNValue     string `mapstructure:"dbdsn"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`
	TableName            string `mapstructure:"tablename"`

	// Dashboard settings
	Pathname        string `mapstructure:"pathname"`
	CacheDriver     string `mapstructure:"cachedriver"`
	CacheTTLMinutes int    `mapstructure:"cachettlminutes"`
	RedisAddr       string `mapstructure:"redisaddr"`
	RedisPassword   string `mapstructure:"redispassword"`
	RedisDB         int    `mapstructure:"redisdb"`

	// Capture settings
	CaptureWeb  bool     `mapstructure:"captureweb"`
	CaptureAPI  bool     `mapstructure:"captureapi"`
	CaptureBots bool     `mapstructure:"capturebots"`
	APIPrefix   string   `mapstructure:"apiprefix"`
	IgnorePaths []string `mapstructure:"ignorepaths"`
	AnonymizeIP bool     `mapstructure:"anonymizeip"`
	RespectDNT  bool     `mapstructure:"respectdnt"`

	// Queue settings
	QueueEnabled         bool     `mapstructure:"queueenabled"`
	QueueDriver          string   `mapstructure:"queuedriver"`
	QueueBufferSize      int      `mapstructure:"queuebuffersize"`
	QueueBatchSize       int      `mapstructure:"queuebatchsize"`
	QueueFlushIntervalMs int      `mapstructure:"queueflushintervalms"`
	QueueWorkers         int      `mapstructure:"queueworkers"`
	KafkaBrokers         []string `mapstructure:"kafkabrokers"`
	KafkaTopic           string   `mapstructure:"kafkatopic"`
	KafkaConsumerGroup   string   `mapstructure:"kafkaconsumergroup"`

	// Geolocation settings
	GeoEnabled  bool   `mapstructure:"geoenabled"`
	GeoProvider string `mapstructure:"geoprovider"`
	GeoDBPath   string `mapstructure:"geodbpath"`

	// Data retention settings
	PruningEnabled       bool `mapstructure:"pruningenabled"`
	PruningDays          int  `mapstructure:"pruningdays"`
	PruningIntervalHours int  `mapstructure:"pruningintervalhours"`
	PruningBatchSize     int  `mapstructure:"pruningbatchsize"`

	// Observability
	SentryDSN      string `mapstructure:"sentrydsn"`
	MetricsEnabled bool   `mapstructure:"metricsenabled"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		// A missing .env is the normal case outside local development.
		_ = godotenv.Load()

		v := viper.New()

		v.SetDefault("appname", "requestanalytics")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", defaultPrivateKey)
		v.SetDefault("timezone", "UTC")
		v.SetDefault("storagepath", "storage")
		v.SetDefault("publicdir", "public")
		v.SetDefault("publicassetsurlprefix", "/")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbdsn", "")
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("tablename", "request_analytics")
		v.SetDefault("pathname", "analytics")
		v.SetDefault("cachedriver", MemoryCache)
		v.SetDefault("cachettlminutes", 5)
		v.SetDefault("redisaddr", "localhost:6379")
		v.SetDefault("redisdb", 0)
		v.SetDefault("captureweb", true)
		v.SetDefault("captureapi", true)
		v.SetDefault("capturebots", false)
		v.SetDefault("apiprefix", "/api")
		v.SetDefault("ignorepaths", []string{"analytics", "broadcasting/auth", "livewire/*"})
		v.SetDefault("anonymizeip", false)
		v.SetDefault("respectdnt", true)
		v.SetDefault("queueenabled", false)
		v.SetDefault("queuedriver", MemoryQueue)
		v.SetDefault("queuebuffersize", 1024)
		v.SetDefault("queuebatchsize", 100)
		v.SetDefault("queueflushintervalms", 1000)
		v.SetDefault("queueworkers", 2)
		v.SetDefault("kafkabrokers", []string{"localhost:9092"})
		v.SetDefault("kafkatopic", "request-analytics")
		v.SetDefault("kafkaconsumergroup", "request-analytics-writer")
		v.SetDefault("geoenabled", true)
		v.SetDefault("geoprovider", HeaderGeoProvider)
		v.SetDefault("geodbpath", "storage/GeoLite2-City.mmdb")
		v.SetDefault("pruningenabled", true)
		v.SetDefault("pruningdays", 90)
		v.SetDefault("pruningintervalhours", 24)
		v.SetDefault("pruningbatchsize", 1000)
		v.SetDefault("metricsenabled", true)

		v.BindEnv("appname", "REQUEST_ANALYTICS_APP_NAME")
		v.BindEnv("appport", "REQUEST_ANALYTICS_APP_PORT")
		v.BindEnv("environment", "REQUEST_ANALYTICS_ENV")
		v.BindEnv("loglevel", "REQUEST_ANALYTICS_LOG_LEVEL")
		v.BindEnv("privatekey", "REQUEST_ANALYTICS_PRIVATE_KEY")
		v.BindEnv("timezone", "REQUEST_ANALYTICS_TIMEZONE")
		v.BindEnv("storagepath", "REQUEST_ANALYTICS_STORAGE_PATH")
		v.BindEnv("publicdir", "REQUEST_ANALYTICS_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "REQUEST_ANALYTICS_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("logsdir", "REQUEST_ANALYTICS_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "REQUEST_ANALYTICS_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "REQUEST_ANALYTICS_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "REQUEST_ANALYTICS_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "REQUEST_ANALYTICS_DB_CONNECTION")
		v.BindEnv("dbdsn", "REQUEST_ANALYTICS_DB_DSN")
		v.BindEnv("dbmaxopenconns", "REQUEST_ANALYTICS_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "REQUEST_ANALYTICS_DB_MAX_IDLE_CONNS")
		v.BindEnv("tablename", "REQUEST_ANALYTICS_TABLE_NAME")
		v.BindEnv("pathname", "REQUEST_ANALYTICS_PATHNAME")
		v.BindEnv("cachedriver", "REQUEST_ANALYTICS_CACHE_DRIVER")
		v.BindEnv("cachettlminutes", "REQUEST_ANALYTICS_CACHE_TTL")
		v.BindEnv("redisaddr", "REQUEST_ANALYTICS_REDIS_ADDR")
		v.BindEnv("redispassword", "REQUEST_ANALYTICS_REDIS_PASSWORD")
		v.BindEnv("redisdb", "REQUEST_ANALYTICS_REDIS_DB")
		v.BindEnv("captureweb", "REQUEST_ANALYTICS_CAPTURE_WEB")
		v.BindEnv("captureapi", "REQUEST_ANALYTICS_CAPTURE_API")
		v.BindEnv("capturebots", "REQUEST_ANALYTICS_CAPTURE_BOTS")
		v.BindEnv("apiprefix", "REQUEST_ANALYTICS_API_PREFIX")
		v.BindEnv("ignorepaths", "REQUEST_ANALYTICS_IGNORE_PATHS")
		v.BindEnv("anonymizeip", "REQUEST_ANALYTICS_ANONYMIZE_IP")
		v.BindEnv("respectdnt", "REQUEST_ANALYTICS_RESPECT_DNT")
		v.BindEnv("queueenabled", "REQUEST_ANALYTICS_QUEUE_ENABLED")
		v.BindEnv("queuedriver", "REQUEST_ANALYTICS_QUEUE_DRIVER")
		v.BindEnv("queuebuffersize", "REQUEST_ANALYTICS_QUEUE_BUFFER_SIZE")
		v.BindEnv("queuebatchsize", "REQUEST_ANALYTICS_QUEUE_BATCH_SIZE")
		v.BindEnv("queueflushintervalms", "REQUEST_ANALYTICS_QUEUE_FLUSH_INTERVAL_MS")
		v.BindEnv("queueworkers", "REQUEST_ANALYTICS_QUEUE_WORKERS")
		v.BindEnv("kafkabrokers", "REQUEST_ANALYTICS_KAFKA_BROKERS")
		v.BindEnv("kafkatopic", "REQUEST_ANALYTICS_KAFKA_TOPIC")
		v.BindEnv("kafkaconsumergroup", "REQUEST_ANALYTICS_KAFKA_CONSUMER_GROUP")
		v.BindEnv("geoenabled", "REQUEST_ANALYTICS_GEO_ENABLED")
		v.BindEnv("geoprovider", "REQUEST_ANALYTICS_GEO_PROVIDER")
		v.BindEnv("geodbpath", "REQUEST_ANALYTICS_MAXMIND_DB_PATH")
		v.BindEnv("pruningenabled", "REQUEST_ANALYTICS_PRUNING_ENABLED")
		v.BindEnv("pruningdays", "REQUEST_ANALYTICS_PRUNING_DAYS")
		v.BindEnv("pruningintervalhours", "REQUEST_ANALYTICS_PRUNING_INTERVAL_HOURS")
		v.BindEnv("pruningbatchsize", "REQUEST_ANALYTICS_PRUNING_BATCH_SIZE")
		v.BindEnv("sentrydsn", "REQUEST_ANALYTICS_SENTRY_DSN")
		v.BindEnv("metricsenabled", "REQUEST_ANALYTICS_METRICS_ENABLED")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()

		if cfg.PrivateKey == "" {
			log.Fatal("Private key is required")
		}
		if cfg.IsProduction() && cfg.PrivateKey == defaultPrivateKey {
			log.Fatal("Production requires a unique REQUEST_ANALYTICS_PRIVATE_KEY (cannot use default)")
		}
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase:   true,
		MySQLDatabase:    true,
		PostgresDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}
	if c.DatabaseType != SQLiteDatabase && c.DatabaseDSNValue == "" {
		return fmt.Errorf("database type %s requires REQUEST_ANALYTICS_DB_DSN", c.DatabaseType)
	}
	if c.DatabaseType == MySQLDatabase {
		if _, err := mysqlDSN(c.DatabaseDSNValue); err != nil {
			return fmt.Errorf("invalid MySQL DSN: %w", err)
		}
	}

	if c.TableName == "" {
		return fmt.Errorf("table name cannot be empty")
	}

	if c.QueueDriver != MemoryQueue && c.QueueDriver != KafkaQueue {
		return fmt.Errorf("invalid queue driver: %s", c.QueueDriver)
	}
	if c.QueueEnabled && c.QueueDriver == KafkaQueue && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka queue requires at least one broker")
	}

	if c.CacheDriver != MemoryCache && c.CacheDriver != RedisCache {
		return fmt.Errorf("invalid cache driver: %s", c.CacheDriver)
	}

	if c.GeoProvider != HeaderGeoProvider && c.GeoProvider != MaxMindGeoProvider {
		return fmt.Errorf("invalid geolocation provider: %s", c.GeoProvider)
	}

	if c.PruningDays < 0 {
		return fmt.Errorf("pruning days cannot be negative: %d", c.PruningDays)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
// For SQLite this is the database file path. MySQL DSNs always carry
// parseTime=true so DATETIME columns scan into time.Time.
func (c *Config) DatabaseDSN() string {
	switch c.DatabaseType {
	case SQLiteDatabase:
		return c.GetDatabasePath()
	case MySQLDatabase:
		dsn, err := mysqlDSN(c.DatabaseDSNValue)
		if err != nil {
			return c.DatabaseDSNValue
		}
		return dsn
	default:
		return c.DatabaseDSNValue
	}
}

func mysqlDSN(raw string) (string, error) {
	parsed, err := mysqldriver.ParseDSN(raw)
	if err != nil {
		return "", err
	}
	parsed.ParseTime = true
	parsed.Loc = time.UTC
	return parsed.FormatDSN(), nil
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetLocation returns the timezone used to bucket dashboard days.
func (c *Config) GetLocation() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetDashboardPath returns the dashboard mount point with a leading slash.
func (c *Config) GetDashboardPath() string {
	return "/" + strings.Trim(c.Pathname, "/")
}

// GetCacheTTL returns how long dashboard payloads stay cached. Zero disables caching.
func (c *Config) GetCacheTTL() time.Duration {
	if c.CacheTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// GetQueueFlushInterval returns the in-process queue flush interval.
func (c *Config) GetQueueFlushInterval() time.Duration {
	if c.QueueFlushIntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(c.QueueFlushIntervalMs) * time.Millisecond
}

// GetPruningInterval returns how often the prune job runs.
func (c *Config) GetPruningInterval() time.Duration {
	if c.PruningIntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.PruningIntervalHours) * time.Hour
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1 (required for test stability)
// - Development/Production: 10 (allows concurrent reads for parallel dashboard queries)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
