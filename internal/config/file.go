package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// LoadFile merges an optional TOML defaults file over base. Fields absent
// from the file are left untouched (BurntSushi/toml only sets keys it
// finds), so the precedence this produces is: TOML file > base. Callers
// register CLI flags with the result as their default, so an explicit
// flag still wins over both (spec §10: "flag > env > file > built-in
// default", scaled down — this tool has no env-var config overrides
// beyond the sink API key, which is handled separately).
func LoadFile(path string, base RunConfig) (RunConfig, error) {
	if path == "" {
		return base, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return base, nil
	}
	cfg := base
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return RunConfig{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return cfg, nil
}
