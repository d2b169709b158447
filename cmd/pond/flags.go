package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	MetricsPort     int
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("POND_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: POND_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("POND_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: POND_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("POND_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: POND_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("POND_LOG_FORMAT", "json"),
		"Log format: json, text (env: POND_LOG_FORMAT)")

	flag.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("POND_METRICS_PORT", 8080),
		"Metrics and health port, 0 to disable (env: POND_METRICS_PORT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("POND_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: POND_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printDetailedHelp

	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Event-Sourced Actor Runtime

Usage:
  %s [flags]

Flags:
  -config, -c        Path to configuration file (JSON or YAML)
  -log-level         Log level: debug, info, warn, error
  -log-format        Log format: json, text
  -metrics-port      Metrics and health port, 0 to disable
  -shutdown-timeout  Graceful shutdown timeout
  -validate          Validate configuration and exit
  -version, -v       Show version information
  -help, -h          Show this help

Environment:
  POND_CONFIG, POND_LOG_LEVEL, POND_LOG_FORMAT, POND_METRICS_PORT,
  POND_SHUTDOWN_TIMEOUT plus the config overrides documented in the
  config package (POND_SOURCE_ID, POND_EVENT_BACKEND, ...).
`, appName, appName)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
