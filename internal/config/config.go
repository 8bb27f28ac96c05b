package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	Logger LoggerConfig

	HTTPAddr string

	Metrics MetricsConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Engine EngineConfig
}

type LoggerConfig struct {
	Level string
}

type MetricsConfig struct {
	Enabled  bool
	Exporter string
	Endpoint string
}

// EngineConfig tunes the rating pipeline and its error policy.
type EngineConfig struct {
	// ReportingMode decides whether per-record rating faults are attached to
	// the record ("local") or abort the whole batch ("strict").
	ReportingMode string
	Workers       int
	BatchSize     int
	// QueueHighWater is the outbound queue depth past which a stage stops
	// pushing and waits for the consumer to drain.
	QueueHighWater int
	QueueCapacity  int
}

const (
	ReportingModeLocal  = "local"
	ReportingModeStrict = "strict"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "ratecore"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		Logger: LoggerConfig{
			Level: getenv("LOG_LEVEL", "info"),
		},
		HTTPAddr: getenv("HTTP_ADDR", ":8080"),
		Metrics: MetricsConfig{
			Enabled:  getenvBool("METRICS_ENABLED", false),
			Exporter: strings.ToLower(getenv("METRICS_EXPORTER", "")),
			Endpoint: strings.TrimSpace(getenv("METRICS_ENDPOINT", "")),
		},
		DBType:     getenv("DATABASE_TYPE", "postgres"),
		DBHost:     getenv("DATABASE_HOST", "localhost"),
		DBPort:     getenv("DATABASE_PORT", "5432"),
		DBName:     getenv("DATABASE_NAME", "ratecore"),
		DBUser:     getenv("DATABASE_USER", "postgres"),
		DBPassword: getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:  getenv("DATABASE_SSLMODE", "disable"),

		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Engine: EngineConfig{
			ReportingMode:  normalizeReportingMode(getenv("ENGINE_REPORTING_MODE", ReportingModeLocal)),
			Workers:        getenvInt("ENGINE_WORKERS", 4),
			BatchSize:      getenvInt("ENGINE_BATCH_SIZE", 500),
			QueueHighWater: getenvInt("ENGINE_QUEUE_HIGH_WATER", 64),
			QueueCapacity:  getenvInt("ENGINE_QUEUE_CAPACITY", 128),
		},
	}

	return cfg
}

func normalizeReportingMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ReportingModeStrict:
		return ReportingModeStrict
	default:
		return ReportingModeLocal
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// Module wires application configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewDiscountConfigHolder),
)
