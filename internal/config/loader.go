package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Discord
	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}

	// Segmenter
	for _, field := range []struct {
		name  string
		value int
	}{
		{"segmenter.min_frames", cfg.Segmenter.MinFrames},
		{"segmenter.reset_window_ms", cfg.Segmenter.ResetWindowMs},
		{"segmenter.finish_after_ms", cfg.Segmenter.FinishAfterMs},
		{"segmenter.gap_threshold_ms", cfg.Segmenter.GapThresholdMs},
	} {
		if field.value < 0 {
			errs = append(errs, fmt.Errorf("%s %d is negative", field.name, field.value))
		}
	}
	if cfg.Segmenter.MinFrames > 500 {
		slog.Warn("segmenter.min_frames is very high; short utterances will be dropped",
			"min_frames", cfg.Segmenter.MinFrames)
	}

	// Recognition instances
	if len(cfg.Recognition.Instances) == 0 {
		slog.Warn("no recognition instances configured; transcription will not be available")
	}
	portsSeen := make(map[int]int, len(cfg.Recognition.Instances))
	for i, inst := range cfg.Recognition.Instances {
		prefix := fmt.Sprintf("recognition.instances[%d]", i)
		if inst.Port != 0 && (inst.Port < 1024 || inst.Port > 65535) {
			errs = append(errs, fmt.Errorf("%s.port %d is out of range [1024, 65535]", prefix, inst.Port))
			continue
		}
		if inst.Port != 0 {
			if prev, ok := portsSeen[inst.Port]; ok {
				errs = append(errs, fmt.Errorf("%s.port %d is a duplicate of recognition.instances[%d]", prefix, inst.Port, prev))
			}
			portsSeen[inst.Port] = i
		}
	}

	// Synthesis
	if cfg.Synthesis.BaseURL != "" {
		if u, err := url.Parse(cfg.Synthesis.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("synthesis.base_url %q is not a valid URL", cfg.Synthesis.BaseURL))
		}
	} else {
		slog.Warn("synthesis.base_url is empty; speech output will not be available")
	}
	if cfg.Synthesis.Speed != 0 && (cfg.Synthesis.Speed < 0.5 || cfg.Synthesis.Speed > 2.0) {
		errs = append(errs, fmt.Errorf("synthesis.speed %.2f is out of range [0.5, 2.0]", cfg.Synthesis.Speed))
	}
	if cfg.Synthesis.Pitch != 0 && (cfg.Synthesis.Pitch < 0.5 || cfg.Synthesis.Pitch > 2.0) {
		errs = append(errs, fmt.Errorf("synthesis.pitch %.2f is out of range [0.5, 2.0]", cfg.Synthesis.Pitch))
	}

	// Settings
	if cfg.Settings.PostgresDSN == "" {
		slog.Warn("settings.postgres_dsn is empty; settings will not survive restarts")
	}

	return errors.Join(errs...)
}
