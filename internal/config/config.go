package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Built-in trial credentials. Sessions running on these are capped to
// one minute of recording per activation.
const (
	TrialAppID       = "9106283284"
	TrialAccessToken = "jGEzfiNFgDgnAGpAp-Kc8skAcBswUjXZ"
)

// Environment variable overrides for credentials.
const (
	EnvAppID       = "ASR_APP_ID"
	EnvAccessToken = "ASR_ACCESS_TOKEN"
)

// Config is the complete engine configuration.
type Config struct {
	Connection  ConnectionConfig  `yaml:"connection"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Audio       AudioConfig       `yaml:"audio"`
	Finalize    FinalizeConfig    `yaml:"finalize"`
	Delivery    DeliveryConfig    `yaml:"delivery"`
	HTTP        HTTPConfig        `yaml:"http"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ConnectionConfig contains the recognition service endpoint and auth.
type ConnectionConfig struct {
	BaseURL     string `yaml:"base_url"`
	AppID       string `yaml:"app_id"`
	AccessToken string `yaml:"access_token"`
	ResourceID  string `yaml:"resource_id"`
	UID         string `yaml:"uid"`
	UseGzip     bool   `yaml:"use_gzip"`
}

// RecognitionConfig contains recognition behavior switches.
type RecognitionConfig struct {
	Mode       string `yaml:"mode"` // bidi, bidi_async or nostream
	EnablePunc bool   `yaml:"enable_punc"`
	EnableDDC  bool   `yaml:"enable_ddc"`
	Hotwords   string `yaml:"hotwords"`
}

// AudioConfig contains the outbound audio shape. The wire format is
// fixed 16-bit mono at 16 kHz; only the chunk cadence is tunable.
type AudioConfig struct {
	ChunkMS int `yaml:"chunk_ms"`
}

// FinalizeConfig bounds session teardown.
type FinalizeConfig struct {
	TimeoutMS       int `yaml:"timeout_ms"`
	RecordingLimitS int `yaml:"recording_limit_s"`
}

// DeliveryConfig selects how finalized text reaches the user.
type DeliveryConfig struct {
	Mode       string `yaml:"mode"` // clipboard, type, paste or auto
	PasteCombo string `yaml:"paste_combo"`
}

// HTTPConfig contains the local status API configuration.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when a field or the whole
// file is absent.
func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{
			BaseURL:     "wss://openspeech.bytedance.com/api/v3/sauc",
			AppID:       TrialAppID,
			AccessToken: TrialAccessToken,
			ResourceID:  "volc.seedasr.sauc.duration",
			UID:         "demo_uid",
			UseGzip:     true,
		},
		Recognition: RecognitionConfig{
			Mode:       "bidi",
			EnablePunc: true,
		},
		Audio: AudioConfig{
			ChunkMS: 200,
		},
		Finalize: FinalizeConfig{
			TimeoutMS:       1500,
			RecordingLimitS: 60,
		},
		Delivery: DeliveryConfig{
			Mode:       "clipboard",
			PasteCombo: "ctrl+v",
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Address: "127.0.0.1",
			Port:    8090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads the configuration file on top of the defaults, applies
// environment credential overrides, and validates the result. An
// empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvAppID)); v != "" {
		c.Connection.AppID = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAccessToken)); v != "" {
		c.Connection.AccessToken = v
	}
}

// UsingTrialCredentials reports whether the built-in trial credentials
// are in effect.
func (c *Config) UsingTrialCredentials() bool {
	return strings.TrimSpace(c.Connection.AppID) == TrialAppID &&
		strings.TrimSpace(c.Connection.AccessToken) == TrialAccessToken
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Connection.Validate(); err != nil {
		return fmt.Errorf("connection config: %w", err)
	}
	if err := c.Recognition.Validate(); err != nil {
		return fmt.Errorf("recognition config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Finalize.Validate(); err != nil {
		return fmt.Errorf("finalize config: %w", err)
	}
	if err := c.Delivery.Validate(); err != nil {
		return fmt.Errorf("delivery config: %w", err)
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates connection configuration.
func (c *ConnectionConfig) Validate() error {
	if !strings.HasPrefix(c.BaseURL, "ws://") && !strings.HasPrefix(c.BaseURL, "wss://") {
		return fmt.Errorf("base_url must use the ws or wss scheme, got %q", c.BaseURL)
	}
	if strings.TrimSpace(c.AppID) == "" {
		return fmt.Errorf("app_id cannot be empty")
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		return fmt.Errorf("access_token cannot be empty")
	}
	if c.ResourceID == "" {
		return fmt.Errorf("resource_id cannot be empty")
	}
	return nil
}

// Validate validates recognition configuration.
func (r *RecognitionConfig) Validate() error {
	validModes := map[string]bool{"bidi": true, "bidi_async": true, "nostream": true}
	if !validModes[r.Mode] {
		return fmt.Errorf("mode must be one of [bidi, bidi_async, nostream], got %q", r.Mode)
	}
	return nil
}

// Validate validates audio configuration.
func (a *AudioConfig) Validate() error {
	if a.ChunkMS < 10 || a.ChunkMS > 2000 {
		return fmt.Errorf("chunk_ms must be between 10 and 2000, got %d", a.ChunkMS)
	}
	return nil
}

// Validate validates finalize configuration.
func (f *FinalizeConfig) Validate() error {
	if f.TimeoutMS < 100 {
		return fmt.Errorf("timeout_ms must be at least 100, got %d", f.TimeoutMS)
	}
	if f.RecordingLimitS < 1 {
		return fmt.Errorf("recording_limit_s must be at least 1, got %d", f.RecordingLimitS)
	}
	return nil
}

// Validate validates delivery configuration.
func (d *DeliveryConfig) Validate() error {
	validModes := map[string]bool{"clipboard": true, "type": true, "paste": true, "auto": true}
	if !validModes[d.Mode] {
		return fmt.Errorf("mode must be one of [clipboard, type, paste, auto], got %q", d.Mode)
	}
	return nil
}

// Validate validates HTTP configuration.
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
		}
		if h.Address == "" {
			return fmt.Errorf("address cannot be empty when the status API is enabled")
		}
	}
	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got %q", l.Format)
	}
	return nil
}

// FinalizeTimeout returns the completion-marker wait as a Duration.
func (f *FinalizeConfig) FinalizeTimeout() time.Duration {
	return time.Duration(f.TimeoutMS) * time.Millisecond
}

// RecordingLimit returns the trial recording cap as a Duration.
func (f *FinalizeConfig) RecordingLimit() time.Duration {
	return time.Duration(f.RecordingLimitS) * time.Second
}
