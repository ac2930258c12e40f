package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown fields are rejected so typos surface
// immediately. Useful in tests where configs are string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Ops.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("ops.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Ops.LogLevel))
	}
	if cfg.Ops.ListenAddr == "" {
		errs = append(errs, errors.New("ops.listen_addr is required"))
	}

	if cfg.Assistant.Endpoint == "" {
		errs = append(errs, errors.New("assistant.endpoint is required"))
	} else if !strings.HasPrefix(cfg.Assistant.Endpoint, "ws://") && !strings.HasPrefix(cfg.Assistant.Endpoint, "wss://") {
		errs = append(errs, fmt.Errorf("assistant.endpoint %q must use the ws:// or wss:// scheme", cfg.Assistant.Endpoint))
	}
	if cfg.Assistant.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("assistant.connect_timeout %v must be positive", cfg.Assistant.ConnectTimeout))
	}

	if cfg.Audio.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must be positive", cfg.Audio.BlockSize))
	}

	return errors.Join(errs...)
}
