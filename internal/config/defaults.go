package config

import (
	"time"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/pipeline"
)

// Default values for configuration options. These are layer 0 of the
// override chain. watch_dir and output_dir have no default and must be
// supplied by a later layer.
const (
	defaultLockFilename       = "Lock.lck"
	defaultWatchBackend       = BackendPoll
	defaultPollInterval       = "1s"
	defaultSafetyScanInterval = "5m"
	defaultReconcileAttempts  = 10
	defaultExportMode         = ExportModeCommand
	defaultOutputStyle        = string(pipeline.StyleFormattedText)
	defaultExportTimeout      = "0"
	defaultMinFreeSpace       = "0"
	defaultLogLevel           = "info"
	defaultLogFormat          = "auto"

	defaultPollIntervalDur = time.Second
	defaultSafetyScanDur   = 5 * time.Minute
)

// Watch backends.
const (
	BackendPoll     = "poll"
	BackendFsnotify = "fsnotify"
)

// Export modes.
const (
	ExportModeCommand = "command"
	ExportModeHTTP    = "http"
)

// DefaultConversationTypes selects every record family.
var DefaultConversationTypes = func() []string {
	out := make([]string, len(pipeline.AllConversationTypes))
	for i, ct := range pipeline.AllConversationTypes {
		out[i] = string(ct)
	}

	return out
}()

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding, so unset fields keep
// their defaults.
func DefaultConfig() *Config {
	return &Config{
		CacheDir:     DefaultDataDir(),
		LockFilename: defaultLockFilename,
		Watch: WatchConfig{
			Backend:            defaultWatchBackend,
			PollInterval:       defaultPollInterval,
			SafetyScanInterval: defaultSafetyScanInterval,
			ReconcileAttempts:  defaultReconcileAttempts,
		},
		Export: ExportConfig{
			Mode:              defaultExportMode,
			Command:           append([]string(nil), pipeline.DefaultCommand...),
			OutputStyle:       defaultOutputStyle,
			ConversationTypes: append([]string(nil), DefaultConversationTypes...),
			Timeout:           defaultExportTimeout,
			MinFreeSpace:      defaultMinFreeSpace,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
