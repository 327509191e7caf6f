// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for the extraction monitor. Values are
// resolved through a four-layer override chain: defaults -> config file ->
// environment -> CLI flags. A .env file, when present, is loaded into the
// environment before the chain runs.
package config

import (
	"time"

	"github.com/dustin/go-humanize"
)

// Config is the fully resolved monitor configuration. It is passed by value
// or pointer to every constructor that needs it; nothing reads it globally.
type Config struct {
	WatchDir     string `toml:"watch_dir" json:"watch_dir"`
	CacheDir     string `toml:"cache_dir" json:"cache_dir"`
	LockFilename string `toml:"lock_filename" json:"lock_filename"`
	OutputDir    string `toml:"output_dir" json:"output_dir"`

	Watch   WatchConfig   `toml:"watch" json:"watch"`
	Export  ExportConfig  `toml:"export" json:"export"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
	Metrics MetricsConfig `toml:"metrics" json:"metrics"`
}

// WatchConfig selects the event source and the startup reconciliation budget.
// Ignore holds gitignore-style patterns, relative to the watch root, for
// subtrees the monitor must not touch.
type WatchConfig struct {
	Backend            string   `toml:"backend" json:"backend"`
	PollInterval       string   `toml:"poll_interval" json:"poll_interval"`
	SafetyScanInterval string   `toml:"safety_scan_interval" json:"safety_scan_interval"`
	ReconcileAttempts  int      `toml:"reconcile_attempts" json:"reconcile_attempts"`
	Ignore             []string `toml:"ignore" json:"ignore"`
}

// ExportConfig describes how complete datasets reach the export tool.
// Mode "command" runs Command as a subprocess in WorkDir (empty = the
// monitor's working directory); mode "http" posts to URL. MaxPerMinute
// throttles export starts and MinFreeSpace (e.g. "2GB") refuses exports
// while the output volume is nearly full; zero disables either.
type ExportConfig struct {
	Mode              string   `toml:"mode" json:"mode"`
	Command           []string `toml:"command" json:"command"`
	WorkDir           string   `toml:"work_dir" json:"work_dir"`
	URL               string   `toml:"url" json:"url"`
	OutputStyle       string   `toml:"output_style" json:"output_style"`
	ConversationTypes []string `toml:"conversation_types" json:"conversation_types"`
	Timeout           string   `toml:"timeout" json:"timeout"`
	MaxPerMinute      int      `toml:"max_per_minute" json:"max_per_minute"`
	MinFreeSpace      string   `toml:"min_free_space" json:"min_free_space"`
}

// LoggingConfig controls log level and handler format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level" json:"log_level"`
	LogFormat string `toml:"log_format" json:"log_format"`
}

// MetricsConfig enables the Prometheus endpoint when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr" json:"listen_addr"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use env or default)
	EnvFile    string  // --env-file flag (empty = ./.env if present)
	WatchDir   *string // --watch-dir flag
}

// PollDuration returns watch.poll_interval as a duration. Durations are kept
// as strings in TOML; an unparsable value (only possible on a Config that
// skipped Validate) falls back to the default.
func (w WatchConfig) PollDuration() time.Duration {
	return durationOr(w.PollInterval, defaultPollIntervalDur)
}

// SafetyScanDuration returns watch.safety_scan_interval as a duration.
func (w WatchConfig) SafetyScanDuration() time.Duration {
	return durationOr(w.SafetyScanInterval, defaultSafetyScanDur)
}

// TimeoutDuration returns export.timeout; zero means no timeout.
func (e ExportConfig) TimeoutDuration() time.Duration {
	return durationOr(e.Timeout, 0)
}

// MinFreeBytes returns export.min_free_space in bytes; zero disables the
// check.
func (e ExportConfig) MinFreeBytes() uint64 {
	if e.MinFreeSpace == "" || e.MinFreeSpace == "0" {
		return 0
	}

	n, err := humanize.ParseBytes(e.MinFreeSpace)
	if err != nil {
		return 0
	}

	return n
}

// CachePath returns the path of the cache database file.
func (c *Config) CachePath() string {
	return cacheDBPath(c.CacheDir)
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}

	return d
}
