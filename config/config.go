/*
config.go - Server configuration

PURPOSE:
  Builds the server configuration from, in increasing precedence:
  built-in defaults, a .env file, environment variables, command-line flags.

ENVIRONMENT:
  PAYROLL_ENV_FILE      .env file to load (default: .env, missing is fine)
  PAYROLL_PORT          HTTP port (default: 8080)
  PAYROLL_DB            SQLite path, ":memory:" for in-memory (default: payroll.db)
  PAYROLL_LOG_LEVEL     debug, info, warn, error (default: info)
  PAYROLL_LOG_FORMAT    json or text (default: json)
  PAYROLL_AUDIT_BUFFER  Audit dispatcher queue size (default: 256)
  PAYROLL_SCENARIO      Demo scenario to load at startup (default: none)
  PAYROLL_CORS_ORIGINS  Comma-separated allowed origins

FLAGS:
  -port -db -log-level -log-format -audit-buffer -scenario -cors-origins
  override the matching variables.
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            int
	DBPath          string
	LogLevel        slog.Level
	LogFormat       string
	AuditBuffer     int
	Scenario        string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// Addr is the listen address.
func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// Load reads configuration for a process started with args (without the
// program name).
func Load(args []string) (Config, error) {
	envFile := os.Getenv("PAYROLL_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	// Existing variables win over the file.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	port, err := envInt("PAYROLL_PORT", 8080)
	if err != nil {
		return Config{}, err
	}
	buffer, err := envInt("PAYROLL_AUDIT_BUFFER", 256)
	if err != nil {
		return Config{}, err
	}

	fset := flag.NewFlagSet("payroll", flag.ContinueOnError)
	var (
		cfg     = Config{ShutdownTimeout: 30 * time.Second}
		level   string
		origins string
	)
	fset.IntVar(&cfg.Port, "port", port, "HTTP server port")
	fset.StringVar(&cfg.DBPath, "db", envOr("PAYROLL_DB", "payroll.db"), "SQLite database path")
	fset.StringVar(&level, "log-level", envOr("PAYROLL_LOG_LEVEL", "info"), "Log level")
	fset.StringVar(&cfg.LogFormat, "log-format", envOr("PAYROLL_LOG_FORMAT", "json"), "Log format: json or text")
	fset.IntVar(&cfg.AuditBuffer, "audit-buffer", buffer, "Audit dispatcher queue size")
	fset.StringVar(&cfg.Scenario, "scenario", os.Getenv("PAYROLL_SCENARIO"), "Demo scenario to load at startup")
	fset.StringVar(&origins, "cors-origins", os.Getenv("PAYROLL_CORS_ORIGINS"), "Comma-separated allowed origins")

	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
		return Config{}, fmt.Errorf("log level: %w", err)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return Config{}, fmt.Errorf("log format %q: want json or text", cfg.LogFormat)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("port %d out of range", cfg.Port)
	}
	if cfg.AuditBuffer <= 0 {
		return Config{}, fmt.Errorf("audit buffer must be positive, got %d", cfg.AuditBuffer)
	}
	cfg.CORSOrigins = splitList(origins)
	return cfg, nil
}

// Logger builds the process logger.
func (c Config) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
