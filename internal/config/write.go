package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// configFilePermissions is the standard permission mode for config files.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// ErrConfigExists is returned by WriteTemplate when the target file exists.
var ErrConfigExists = errors.New("config: file already exists")

// configTemplate is the starter config written by "config init". The two
// required directories are filled in; everything else is a commented-out
// default so users can discover each option without reading docs.
const configTemplate = `# extraction-monitor configuration

# Root of the extraction tree: {watch_dir}/{dossier}/{device}/{session}/...
watch_dir = %q

# Root of the export output: {output_dir}/{dossier}/{device}/{session}
output_dir = %q

# Directory holding cache.db (default: platform data dir)
# cache_dir = ""

# Marker file that suspends processing of its directory subtree
# lock_filename = "Lock.lck"

[watch]
# poll or fsnotify
# backend = "poll"
# poll_interval = "1s"
# safety_scan_interval = "5m"
# reconcile_attempts = 10
# gitignore-style patterns relative to watch_dir
# ignore = ["quarantine/", "*/database/whatsapp/*/tmp"]

[export]
# command or http
# mode = "command"
# command = ["python", "main.py"]
# work_dir = ""
# url = ""
# output_style = "formatted_txt"
# conversation_types = ["call_logs", "chats", "contacts"]
# timeout = "0"
# max_per_minute = 0
# min_free_space = "0"

[logging]
# log_level = "info"
# log_format = "auto"

[metrics]
# listen_addr = ":9090"
`

// WriteTemplate creates a new config file at path. It refuses to overwrite
// an existing file. The write is atomic and parent directories are created
// as needed.
func WriteTemplate(path, watchDir, outputDir string, logger *slog.Logger) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	logger.Info("writing config file",
		slog.String("path", path),
		slog.String("watch_dir", watchDir),
		slog.String("output_dir", outputDir),
	)

	return atomicWriteFile(path, []byte(fmt.Sprintf(configTemplate, watchDir, outputDir)))
}

// atomicWriteFile writes data to a temp file in the target directory and
// renames it into place.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("config: creating directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("config: creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("config: writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("config: closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("config: setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("config: renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
