package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEffective_RoundTrips(t *testing.T) {
	cfg := validConfig()
	cfg.Export.Mode = ExportModeHTTP
	cfg.Export.URL = "http://exporter/export"
	cfg.Metrics.ListenAddr = ":9090"
	cfg.Watch.Ignore = []string{"quarantine/"}
	cfg.Export.MaxPerMinute = 30
	cfg.Export.MinFreeSpace = "2GB"

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(cfg, "/etc/monitor.toml", &buf))

	out := buf.String()
	assert.Contains(t, out, "# Effective configuration (file: /etc/monitor.toml)")
	assert.Contains(t, out, `watch_dir = "/data/in"`)
	assert.Contains(t, out, "[export]")
	assert.Contains(t, out, `listen_addr = ":9090"`)

	path := filepath.Join(t.TempDir(), "shown.toml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	loaded, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestRenderEffective_DefaultsSource(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderEffective(DefaultConfig(), "", &buf))
	assert.Contains(t, buf.String(), "(defaults)")
}
