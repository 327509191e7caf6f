package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.WatchDir = "/data/in"
	cfg.OutputDir = "/data/out"
	cfg.CacheDir = "/var/lib/monitor"

	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
	require.NoError(t, ValidateResolved(validConfig()))
}

func TestValidate_AccumulatesErrors(t *testing.T) {
	cfg := validConfig()
	cfg.LockFilename = "a/b"
	cfg.Watch.ReconcileAttempts = 0
	cfg.Watch.SafetyScanInterval = "1s"
	cfg.Export.ConversationTypes = []string{"chats", "stories"}
	cfg.Export.Timeout = "-1s"
	cfg.Logging.LogLevel = "trace"
	cfg.Logging.LogFormat = "xml"
	cfg.Metrics.ListenAddr = "9090"
	cfg.Watch.Ignore = []string{"tmp/", " "}
	cfg.Export.MaxPerMinute = -1
	cfg.Export.MinFreeSpace = "lots"

	err := Validate(cfg)
	require.Error(t, err)

	for _, key := range []string{
		"lock_filename", "watch.reconcile_attempts", "watch.safety_scan_interval",
		"export.conversation_types", "export.timeout", "logging.log_level",
		"logging.log_format", "metrics.listen_addr", "watch.ignore",
		"export.max_per_minute", "export.min_free_space",
	} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestValidate_ExportModes(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ExportConfig)
		wantErr string
	}{
		{"command default", func(*ExportConfig) {}, ""},
		{"empty command", func(e *ExportConfig) { e.Command = nil }, "export.command"},
		{"http without url", func(e *ExportConfig) { e.Mode = ExportModeHTTP }, "export.url"},
		{"http relative url", func(e *ExportConfig) {
			e.Mode = ExportModeHTTP
			e.URL = "/export"
		}, "export.url"},
		{"http ok", func(e *ExportConfig) {
			e.Mode = ExportModeHTTP
			e.URL = "https://exporter/export"
		}, ""},
		{"unknown mode", func(e *ExportConfig) { e.Mode = "queue" }, "export.mode"},
		{"no types", func(e *ExportConfig) { e.ConversationTypes = nil }, "export.conversation_types"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg.Export)

			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateResolved(t *testing.T) {
	cfg := validConfig()
	cfg.WatchDir = "relative/in"
	cfg.CacheDir = ""

	err := ValidateResolved(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch_dir: must be absolute")
	assert.Contains(t, err.Error(), "cache_dir: must be set")
}

func TestValidateResolved_OutputInsideWatchTree(t *testing.T) {
	cfg := validConfig()
	cfg.OutputDir = "/data/in/exports"

	err := ValidateResolved(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not be inside watch_dir")

	cfg.OutputDir = "/data/input-exports"
	assert.NoError(t, ValidateResolved(cfg))
}

func TestWithin(t *testing.T) {
	assert.True(t, within("/a/b", "/a"))
	assert.True(t, within("/a", "/a/"))
	assert.False(t, within("/ab", "/a"))
	assert.False(t, within("/", "/a"))
}

func TestExportConfig_MinFreeBytes(t *testing.T) {
	tests := map[string]uint64{
		"":      0,
		"0":     0,
		"1GB":   1_000_000_000,
		"2GiB":  2 << 30,
		"512MB": 512_000_000,
		"junk":  0,
	}

	for raw, want := range tests {
		assert.Equal(t, want, ExportConfig{MinFreeSpace: raw}.MinFreeBytes(), raw)
	}
}
