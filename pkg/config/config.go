// Package config loads the optional slvm.toml file that tunes resource
// limits (stack sizes) and the default trace setting, following the
// same "absent file is not an error" tolerance the teacher's manifest
// package applies to maggie.toml.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/chazu/slvm/pkg/vm"
)

// Stack configures the fixed sizes of the two stacks, in words. Both
// default to spec.md's 2^20.
type Stack struct {
	ValueWords int `toml:"value_words"`
	CallWords  int `toml:"call_words"`
}

// Run configures default CLI behavior that a config file can override.
type Run struct {
	Trace bool `toml:"trace"`
}

// Config is the parsed shape of slvm.toml. Values here configure
// Machine construction and CLI defaults only; they never change
// bytecode semantics, so no invariant in spec.md §8 depends on them.
type Config struct {
	Stack Stack `toml:"stack"`
	Run   Run   `toml:"run"`
}

// Default returns the configuration a missing or empty slvm.toml implies:
// spec.md's 2^20-word stacks, tracing off.
func Default() *Config {
	return &Config{
		Stack: Stack{ValueWords: vm.VStackSize, CallWords: vm.CStackSize},
		Run:   Run{Trace: false},
	}
}

// Load parses the TOML file at path. A missing file is not an error: it
// yields Default(), matching mag's "skip loading ~/.maggierc if absent"
// tolerance. Any other read or parse failure is returned as-is (an
// IOError-class failure at the CLI layer).
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.Stack.ValueWords <= 0 {
		cfg.Stack.ValueWords = vm.VStackSize
	}
	if cfg.Stack.CallWords <= 0 {
		cfg.Stack.CallWords = vm.CStackSize
	}
	return cfg, nil
}
