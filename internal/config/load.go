package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file and validates the values it
// sets. Unknown keys are fatal errors with "did you mean?" suggestions.
// Required settings are not checked here because the environment or CLI
// may still supply them; see Resolve.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, err)
	}

	logger.Debug("loaded config file", slog.String("path", path))

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("no config file, using defaults", slog.String("path", path))
		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// ConfigPath picks the config file location: CLI > env > default.
func ConfigPath(env EnvOverrides, cli CLIOverrides) string {
	switch {
	case cli.ConfigPath != "":
		return cli.ConfigPath
	case env.ConfigPath != "":
		return env.ConfigPath
	default:
		return DefaultConfigPath()
	}
}

// Resolve applies the four-layer override chain (defaults -> config file ->
// environment variables -> CLI flags) and returns a validated Config with
// every directory expanded.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Config, error) {
	cfgPath := ConfigPath(env, cli)

	cfg, err := LoadOrDefault(cfgPath, logger)
	if err != nil {
		return nil, err
	}

	applyEnv(cfg, env)

	if cli.WatchDir != nil {
		cfg.WatchDir = *cli.WatchDir
	}

	cfg.WatchDir = expandTilde(cfg.WatchDir)
	cfg.CacheDir = expandTilde(cfg.CacheDir)
	cfg.OutputDir = expandTilde(cfg.OutputDir)
	cfg.Export.WorkDir = expandTilde(cfg.Export.WorkDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := ValidateResolved(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger.Debug("resolved config",
		slog.String("config_path", cfgPath),
		slog.String("watch_dir", cfg.WatchDir),
		slog.String("output_dir", cfg.OutputDir),
		slog.String("backend", cfg.Watch.Backend),
		slog.String("export_mode", cfg.Export.Mode),
	)

	return cfg, nil
}
