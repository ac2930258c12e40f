// Package config provides the configuration schema, loader, and file watcher
// for the opsvox client.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a [time.Duration] that unmarshals from YAML strings like "5s"
// or "250ms", or from bare integers interpreted as nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("config: invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Ops       OpsConfig       `yaml:"ops"`
	Assistant AssistantConfig `yaml:"assistant"`
	Audio     AudioConfig     `yaml:"audio"`
}

// OpsConfig holds the local operations endpoint and logging settings.
type OpsConfig struct {
	// ListenAddr is the TCP address the ops HTTP server listens on,
	// serving /metrics, /healthz, and /readyz (e.g., "127.0.0.1:9090").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Reloadable at runtime via the watcher.
	LogLevel LogLevel `yaml:"log_level"`
}

// AssistantConfig describes the remote assistant endpoint.
type AssistantConfig struct {
	// Endpoint is the ws:// or wss:// URL of the assistant's streaming
	// endpoint.
	Endpoint string `yaml:"endpoint"`

	// ConnectTimeout bounds a single channel connect attempt.
	// Defaults to 5s.
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// AudioConfig holds capture-side audio parameters. Playback always runs at
// the wire rate.
type AudioConfig struct {
	// BlockSize is the samples-per-block the input device delivers.
	// Defaults to 4096.
	BlockSize int `yaml:"block_size"`

	// Voice processing toggles requested from the input device.
	EchoCancellation bool `yaml:"echo_cancellation"`
	NoiseSuppression bool `yaml:"noise_suppression"`
	AutoGainControl  bool `yaml:"auto_gain_control"`
}

// Default returns a Config with sensible defaults: a loopback ops listener,
// info logging, the standard block size, and all voice processing enabled.
func Default() *Config {
	return &Config{
		Ops: OpsConfig{
			ListenAddr: "127.0.0.1:9090",
			LogLevel:   LogInfo,
		},
		Assistant: AssistantConfig{
			ConnectTimeout: Duration(5 * time.Second),
		},
		Audio: AudioConfig{
			BlockSize:        4096,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
	}
}

// applyDefaults fills zero-valued fields from [Default]. Booleans are left
// alone: an explicit false in the file must stick.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Ops.ListenAddr == "" {
		c.Ops.ListenAddr = d.Ops.ListenAddr
	}
	if c.Ops.LogLevel == "" {
		c.Ops.LogLevel = d.Ops.LogLevel
	}
	if c.Assistant.ConnectTimeout == 0 {
		c.Assistant.ConnectTimeout = d.Assistant.ConnectTimeout
	}
	if c.Audio.BlockSize == 0 {
		c.Audio.BlockSize = d.Audio.BlockSize
	}
}
