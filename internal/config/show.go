package config

import (
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
)

// RenderEffective writes the resolved configuration as TOML to w, preceded
// by a comment naming the file it was loaded from. This powers "config show":
// the output is itself a valid config file.
func RenderEffective(cfg *Config, source string, w io.Writer) error {
	if source == "" {
		source = "(defaults)"
	}

	if _, err := fmt.Fprintf(w, "# Effective configuration (file: %s)\n\n", source); err != nil {
		return fmt.Errorf("config: writing header: %w", err)
	}

	enc := toml.NewEncoder(w)
	enc.Indent = "  "

	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}

	return nil
}
