package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variable names for overrides.
const (
	EnvConfig            = "MONITOR_CONFIG"
	EnvWatchDir          = "MONITOR_WATCH_DIR"
	EnvCacheDir          = "MONITOR_CACHE_DB_DIR"
	EnvLockFilename      = "MONITOR_LOCK_FILENAME"
	EnvOutputDir         = "OUTPUT_DIR"
	EnvWatchBackend      = "MONITOR_WATCH_BACKEND"
	EnvPollInterval      = "MONITOR_POLL_INTERVAL"
	EnvExportMode        = "EXPORT_MODE"
	EnvExportCommand     = "EXPORT_COMMAND"
	EnvExportURL         = "EXPORT_URL"
	EnvOutputStyle       = "OUTPUT_STYLE"
	EnvConversationTypes = "CONVERSATION_TYPES"
	EnvExportTimeout     = "EXPORT_TIMEOUT"
	EnvLogLevel          = "LOG_LEVEL_MONITOR"
	EnvLogFormat         = "LOG_FORMAT"
	EnvMetricsAddr       = "MONITOR_METRICS_ADDR"
)

// defaultEnvFile is loaded from the working directory when --env-file is not given.
const defaultEnvFile = ".env"

// EnvOverrides holds values derived from environment variables. Empty
// strings mean "not set".
type EnvOverrides struct {
	ConfigPath        string
	WatchDir          string
	CacheDir          string
	LockFilename      string
	OutputDir         string
	WatchBackend      string
	PollInterval      string
	ExportMode        string
	ExportCommand     string // space separated
	ExportURL         string
	OutputStyle       string
	ConversationTypes string // comma separated
	ExportTimeout     string
	LogLevel          string
	LogFormat         string
	MetricsAddr       string
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify a Config; Resolve applies the fields.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	env := EnvOverrides{
		ConfigPath:        os.Getenv(EnvConfig),
		WatchDir:          os.Getenv(EnvWatchDir),
		CacheDir:          os.Getenv(EnvCacheDir),
		LockFilename:      os.Getenv(EnvLockFilename),
		OutputDir:         os.Getenv(EnvOutputDir),
		WatchBackend:      os.Getenv(EnvWatchBackend),
		PollInterval:      os.Getenv(EnvPollInterval),
		ExportMode:        os.Getenv(EnvExportMode),
		ExportCommand:     os.Getenv(EnvExportCommand),
		ExportURL:         os.Getenv(EnvExportURL),
		OutputStyle:       os.Getenv(EnvOutputStyle),
		ConversationTypes: os.Getenv(EnvConversationTypes),
		ExportTimeout:     os.Getenv(EnvExportTimeout),
		LogLevel:          os.Getenv(EnvLogLevel),
		LogFormat:         os.Getenv(EnvLogFormat),
		MetricsAddr:       os.Getenv(EnvMetricsAddr),
	}

	logger.Debug("read environment overrides",
		slog.String("config", env.ConfigPath),
		slog.String("watch_dir", env.WatchDir),
		slog.String("output_dir", env.OutputDir),
	)

	return env
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set keep their value. An empty path loads
// ./.env if it exists; an explicitly named file must exist.
func LoadEnvFile(path string, logger *slog.Logger) error {
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}

	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("config: env file %s: %w", path, err)
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: loading env file %s: %w", path, err)
	}

	logger.Debug("loaded env file", slog.String("path", path))

	return nil
}

// applyEnv copies every set environment override onto cfg.
func applyEnv(cfg *Config, env EnvOverrides) {
	setString(&cfg.WatchDir, env.WatchDir)
	setString(&cfg.CacheDir, env.CacheDir)
	setString(&cfg.LockFilename, env.LockFilename)
	setString(&cfg.OutputDir, env.OutputDir)
	setString(&cfg.Watch.Backend, env.WatchBackend)
	setString(&cfg.Watch.PollInterval, env.PollInterval)
	setString(&cfg.Export.Mode, env.ExportMode)
	setString(&cfg.Export.URL, env.ExportURL)
	setString(&cfg.Export.OutputStyle, env.OutputStyle)
	setString(&cfg.Export.Timeout, env.ExportTimeout)
	setString(&cfg.Logging.LogLevel, env.LogLevel)
	setString(&cfg.Logging.LogFormat, env.LogFormat)
	setString(&cfg.Metrics.ListenAddr, env.MetricsAddr)

	if fields := strings.Fields(env.ExportCommand); len(fields) > 0 {
		cfg.Export.Command = fields
	}

	if types := splitList(env.ConversationTypes); len(types) > 0 {
		cfg.Export.ConversationTypes = types
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// splitList splits a comma separated list, dropping empty items.
func splitList(s string) []string {
	var out []string

	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}

	return out
}
