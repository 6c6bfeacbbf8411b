// Package config loads this module's own settings — the per-mnemonic
// extra-flags multimap and pool/recording sizing knobs spec §9
// recommends keeping out of any global/default object. Loading the
// surrounding build system's configuration at large remains an external
// collaborator (spec §1 Non-goals); this is strictly the runner's own
// settings file.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Settings is decoded from a TOML document, mirroring the shape and
// validation style of pingcap-ticdc's multi-cluster-consistency-checker
// config loader: os.Stat existence check, toml.DecodeFile into a
// validated struct, wrapped errors.
type Settings struct {
	// ExtraFlags maps a mnemonic to the extra startup flags appended
	// after "--persistent_worker" (spec §4.1).
	ExtraFlags map[string][]string `toml:"extra-flags"`

	// RecordingWindowBytes bounds the diagnostic recording buffer used
	// on parse failure (spec §4.5/§7); defaults to 4096 when zero.
	RecordingWindowBytes int `toml:"recording-window-bytes"`

	// PoolMaxPerKey bounds how many live workers a single WorkerKey may
	// occupy at once.
	PoolMaxPerKey int `toml:"pool-max-per-key"`

	Resources ResourceBudget `toml:"resources"`
}

// ResourceBudget is the total local-resource budget the resource manager
// (internal/resource) enforces across all concurrent Exec calls.
type ResourceBudget struct {
	CPU    float64 `toml:"cpu"`
	MemMB  int64   `toml:"mem-mb"`
}

// Load reads and validates Settings from a TOML file at path.
func Load(path string) (*Settings, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	s := &Settings{ExtraFlags: make(map[string][]string)}
	if _, err := toml.DecodeFile(path, s); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if s.PoolMaxPerKey <= 0 {
		s.PoolMaxPerKey = 4
	}
	if s.RecordingWindowBytes <= 0 {
		s.RecordingWindowBytes = 4096
	}
	for mnemonic := range s.ExtraFlags {
		if mnemonic == "" {
			return nil, fmt.Errorf("extra-flags has an empty mnemonic key")
		}
	}
	if s.Resources.CPU <= 0 {
		s.Resources.CPU = 4
	}
	if s.Resources.MemMB <= 0 {
		s.Resources.MemMB = 4096
	}

	return s, nil
}
