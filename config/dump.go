package config

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
)

// DumpTOML renders cfg as TOML for the "--dump-config" startup
// diagnostic (spec §7 / SPEC_FULL.md §B.5) — never used to parse
// config, only to show an operator the fully resolved tree a binary
// is about to run with.
func DumpTOML(cfg Config) (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return "", fmt.Errorf("config: encode dump: %w", err)
	}
	return buf.String(), nil
}
