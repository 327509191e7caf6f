package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/pipeline"
)

// Validation range constants.
const (
	minPollInterval       = 100 * time.Millisecond
	minSafetyScanInterval = 10 * time.Second
	minReconcileAttempts  = 1
	maxReconcileAttempts  = 1000
	maxExportsPerMinute   = 6000
)

var (
	validBackends   = []string{BackendPoll, BackendFsnotify}
	validModes      = []string{ExportModeCommand, ExportModeHTTP}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
)

// Validate checks every configured value and returns all errors found,
// so a user can fix the whole file in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateTop(cfg)...)
	errs = append(errs, validateWatch(&cfg.Watch)...)
	errs = append(errs, validateExport(&cfg.Export)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateMetrics(&cfg.Metrics)...)

	return errors.Join(errs...)
}

// ValidateResolved checks the constraints that only hold once every layer
// has been applied: required directories are present and absolute.
func ValidateResolved(cfg *Config) error {
	var errs []error

	for _, d := range []struct{ key, val string }{
		{"watch_dir", cfg.WatchDir},
		{"output_dir", cfg.OutputDir},
		{"cache_dir", cfg.CacheDir},
	} {
		switch {
		case d.val == "":
			errs = append(errs, fmt.Errorf("%s: must be set", d.key))
		case !filepath.IsAbs(d.val):
			errs = append(errs, fmt.Errorf("%s: must be absolute, got %q", d.key, d.val))
		}
	}

	if cfg.WatchDir != "" && cfg.OutputDir != "" && within(cfg.OutputDir, cfg.WatchDir) {
		errs = append(errs, fmt.Errorf("output_dir: %q must not be inside watch_dir %q", cfg.OutputDir, cfg.WatchDir))
	}

	return errors.Join(errs...)
}

func validateTop(cfg *Config) []error {
	var errs []error

	name := cfg.LockFilename
	if name == "" {
		errs = append(errs, errors.New("lock_filename: must not be empty"))
	} else if strings.ContainsRune(name, '/') || name == "." || name == ".." {
		errs = append(errs, fmt.Errorf("lock_filename: must be a plain file name, got %q", name))
	}

	return errs
}

func validateWatch(w *WatchConfig) []error {
	var errs []error

	if !slices.Contains(validBackends, w.Backend) {
		errs = append(errs, fmt.Errorf("watch.backend: must be one of %s, got %q",
			strings.Join(validBackends, ", "), w.Backend))
	}

	if err := checkDuration(w.PollInterval, minPollInterval); err != nil {
		errs = append(errs, fmt.Errorf("watch.poll_interval: %w", err))
	}

	if err := checkDuration(w.SafetyScanInterval, minSafetyScanInterval); err != nil {
		errs = append(errs, fmt.Errorf("watch.safety_scan_interval: %w", err))
	}

	for _, pattern := range w.Ignore {
		if strings.TrimSpace(pattern) == "" {
			errs = append(errs, errors.New("watch.ignore: patterns must not be empty"))
			break
		}
	}

	if w.ReconcileAttempts < minReconcileAttempts || w.ReconcileAttempts > maxReconcileAttempts {
		errs = append(errs, fmt.Errorf("watch.reconcile_attempts: must be between %d and %d, got %d",
			minReconcileAttempts, maxReconcileAttempts, w.ReconcileAttempts))
	}

	return errs
}

func validateExport(e *ExportConfig) []error {
	var errs []error

	switch e.Mode {
	case ExportModeCommand:
		if len(e.Command) == 0 || strings.TrimSpace(e.Command[0]) == "" {
			errs = append(errs, errors.New("export.command: must name a program in command mode"))
		}
	case ExportModeHTTP:
		if err := checkURL(e.URL); err != nil {
			errs = append(errs, fmt.Errorf("export.url: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("export.mode: must be one of %s, got %q",
			strings.Join(validModes, ", "), e.Mode))
	}

	if _, err := pipeline.ParseStyle(e.OutputStyle); err != nil {
		errs = append(errs, fmt.Errorf("export.output_style: %w", err))
	}

	if len(e.ConversationTypes) == 0 {
		errs = append(errs, errors.New("export.conversation_types: must not be empty"))
	} else if _, err := pipeline.ParseConversationTypes(e.ConversationTypes); err != nil {
		errs = append(errs, fmt.Errorf("export.conversation_types: %w", err))
	}

	if err := checkDuration(e.Timeout, 0); err != nil {
		errs = append(errs, fmt.Errorf("export.timeout: %w", err))
	}

	if e.MaxPerMinute < 0 || e.MaxPerMinute > maxExportsPerMinute {
		errs = append(errs, fmt.Errorf("export.max_per_minute: must be between 0 and %d, got %d",
			maxExportsPerMinute, e.MaxPerMinute))
	}

	if e.MinFreeSpace != "" && e.MinFreeSpace != "0" {
		if _, err := humanize.ParseBytes(e.MinFreeSpace); err != nil {
			errs = append(errs, fmt.Errorf("export.min_free_space: %w", err))
		}
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !slices.Contains(validLogLevels, strings.ToLower(l.LogLevel)) {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of %s, got %q",
			strings.Join(validLogLevels, ", "), l.LogLevel))
	}

	if !slices.Contains(validLogFormats, strings.ToLower(l.LogFormat)) {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of %s, got %q",
			strings.Join(validLogFormats, ", "), l.LogFormat))
	}

	return errs
}

func validateMetrics(m *MetricsConfig) []error {
	if m.ListenAddr == "" {
		return nil
	}

	if _, _, err := net.SplitHostPort(m.ListenAddr); err != nil {
		return []error{fmt.Errorf("metrics.listen_addr: %w", err)}
	}

	return nil
}

// checkDuration parses s and enforces a lower bound. "0" is accepted only
// when floor is zero.
func checkDuration(s string, floor time.Duration) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	if d < floor {
		return fmt.Errorf("must be at least %s, got %s", floor, d)
	}

	return nil
}

func checkURL(raw string) error {
	if raw == "" {
		return errors.New("must be set in http mode")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) URL, got %q", raw)
	}

	return nil
}

// within reports whether path equals dir or lies below it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
