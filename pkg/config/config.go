package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Observability ObservabilityConfig
	Profiling     ProfilingConfig
	Statement     StatementConfig
	OCR           OCRConfig
	Storage       StorageConfig
	Inbox         InboxConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	RateLimitPerSecond int
	RateLimitBurst     int
	CORSAllowedOrigins []string
	MaxUploadBytes     int64
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsPort    int
	LogLevel       slog.Level
}

type ProfilingConfig struct {
	Enabled bool
	Port    int
}

// StatementConfig describes how statement lines are written
type StatementConfig struct {
	CurrencyMarker string // Literal before amounts, "RD$"
	CurrencyCode   string // ISO-4217 code for display, "DOP"
	NumberFormat   string // dominican | us | auto
}

// OCRConfig controls the recognition fallback
type OCRConfig struct {
	Languages     string
	DPI           int
	MinTextLength int
	MinDateLines  int
	Concurrency   int
	Timeout       time.Duration
	Preprocess    bool
	TesseractBin  string
	TessdataDir   string
	PdftoppmBin   string
	MagickBin     string
}

type StorageConfig struct {
	LocalPath string
}

// InboxConfig drives the scheduled sweep of a drop folder. Empty Dir disables it.
type InboxConfig struct {
	Dir           string
	Schedule      string
	BankName      string
	AccountNumber string
}

// Load reads configuration from environment variables, after loading a .env file when present
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "localhost"),
			Port:               getEnvAsInt("SERVER_PORT", 8080),
			RateLimitPerSecond: getEnvAsInt("SERVER_RATE_LIMIT_PER_SECOND", 20),
			RateLimitBurst:     getEnvAsInt("SERVER_RATE_LIMIT_BURST", 40),
			CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			MaxUploadBytes:     int64(getEnvAsInt("MAX_UPLOAD_BYTES", 20<<20)),
		},
		Database: DatabaseConfig{
			Host:            getEnv("POSTGRES_HOST", "localhost"),
			Port:            getEnvAsInt("POSTGRES_PORT", 5432),
			User:            getEnv("POSTGRES_USER", "postgres"),
			Password:        getEnv("POSTGRES_PASSWORD", "postgres"),
			Database:        getEnv("POSTGRES_DB", "statement-ledger"),
			SSLMode:         getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns:        getEnvAsInt("POSTGRES_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("POSTGRES_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("POSTGRES_MAX_CONN_LIFETIME", time.Hour),
			MaxConnIdleTime: getEnvAsDuration("POSTGRES_MAX_CONN_IDLE_TIME", 30*time.Minute),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
			LogLevel:       getEnvAsLogLevel("LOG_LEVEL", slog.LevelInfo),
		},
		Profiling: ProfilingConfig{
			Enabled: getEnvAsBool("PPROF_ENABLED", false),
			Port:    getEnvAsInt("PPROF_PORT", 6060),
		},
		Statement: StatementConfig{
			CurrencyMarker: getEnv("STATEMENT_CURRENCY_MARKER", "RD$"),
			CurrencyCode:   getEnv("STATEMENT_CURRENCY_CODE", "DOP"),
			NumberFormat:   strings.ToLower(getEnv("STATEMENT_NUMBER_FORMAT", "dominican")),
		},
		OCR: OCRConfig{
			Languages:     getEnv("OCR_LANGUAGES", "eng+spa"),
			DPI:           getEnvAsInt("OCR_DPI", 300),
			MinTextLength: getEnvAsInt("OCR_MIN_TEXT_LENGTH", 100),
			MinDateLines:  getEnvAsInt("OCR_MIN_DATE_LINES", 2),
			Concurrency:   getEnvAsInt("OCR_CONCURRENCY", runtime.GOMAXPROCS(0)),
			Timeout:       getEnvAsDuration("OCR_TIMEOUT", 2*time.Minute),
			Preprocess:    getEnvAsBool("OCR_PREPROCESS", false),
			TesseractBin:  getEnv("TESSERACT_BIN", "tesseract"),
			TessdataDir:   getEnv("TESSDATA_DIR", ""),
			PdftoppmBin:   getEnv("PDFTOPPM_BIN", "pdftoppm"),
			MagickBin:     getEnv("MAGICK_BIN", "magick"),
		},
		Storage: StorageConfig{
			LocalPath: getEnv("STORAGE_LOCAL_PATH", "./data/statements"),
		},
		Inbox: InboxConfig{
			Dir:           getEnv("INBOX_DIR", ""),
			Schedule:      getEnv("INBOX_SCHEDULE", "@every 5m"),
			BankName:      getEnv("INBOX_BANK_NAME", ""),
			AccountNumber: getEnv("INBOX_ACCOUNT_NUMBER", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Statement.CurrencyMarker) == "" {
		errs = append(errs, errors.New("STATEMENT_CURRENCY_MARKER is required"))
	}
	switch c.Statement.NumberFormat {
	case "dominican", "european", "us", "auto":
	default:
		errs = append(errs, fmt.Errorf("STATEMENT_NUMBER_FORMAT %q is not one of dominican, us, auto", c.Statement.NumberFormat))
	}
	if c.OCR.DPI <= 0 {
		errs = append(errs, fmt.Errorf("OCR_DPI must be positive, got %d", c.OCR.DPI))
	}
	if c.OCR.MinTextLength <= 0 || c.OCR.MinDateLines <= 0 {
		errs = append(errs, errors.New("OCR thresholds must be positive"))
	}
	if c.OCR.Timeout <= 0 {
		errs = append(errs, errors.New("OCR_TIMEOUT must be positive"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}

	return errors.Join(errs...)
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsLogLevel(key string, defaultValue slog.Level) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv(key))); err == nil {
		return level
	}
	return defaultValue
}
