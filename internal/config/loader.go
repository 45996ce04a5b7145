package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidBackendNames lists the inference backends known to ship with the
// engine. Used by [Validate] to warn about unrecognised names.
var ValidBackendNames = []string{"reference"}

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
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
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
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if rl := cfg.Server.RateLimit; rl.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit.requests_per_second %.2f must not be negative", rl.RequestsPerSecond))
	}
	if rl := cfg.Server.RateLimit; rl.Burst < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit.burst %d must not be negative", rl.Burst))
	}

	// Synthesizer
	if _, err := cfg.Synthesizer.Mode(); err != nil {
		errs = append(errs, fmt.Errorf("synthesizer.acceleration_mode: %w", err))
	}
	validateBackendName(cfg.Synthesizer.Backend.Name)
	for i, fb := range cfg.Synthesizer.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("synthesizer.fallbacks[%d].name must not be empty", i))
			continue
		}
		validateBackendName(fb.Name)
	}
	if cb := cfg.Synthesizer.CircuitBreaker; cb.MaxFailures < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("synthesizer.circuit_breaker values must not be negative"))
	}

	// Models
	if cfg.Models.OpenConcurrency < 0 {
		errs = append(errs, fmt.Errorf("models.open_concurrency %d must not be negative", cfg.Models.OpenConcurrency))
	}
	for i, f := range cfg.Models.Files {
		if f == "" {
			errs = append(errs, fmt.Errorf("models.files[%d] is empty", i))
		}
	}
	if cfg.Models.Dir == "" && len(cfg.Models.Files) == 0 {
		slog.Warn("no voice models configured; synthesis requests will fail until a model is loaded")
	}

	// Analyzer
	if cfg.Analyzer.DictDir == "" {
		slog.Warn("analyzer.dict_dir is empty; only kana input will be accepted")
	}

	// User dictionary
	ud := cfg.UserDict
	switch {
	case !ud.Store.IsValid():
		errs = append(errs, fmt.Errorf("user_dict.store %q is invalid; valid values: file, sqlite, postgres", ud.Store))
	case (ud.Store == StoreFile || ud.Store == StoreSQLite) && ud.Path == "":
		errs = append(errs, fmt.Errorf("user_dict.path is required when store is %s", ud.Store))
	case ud.Store == StorePostgres && ud.DSN == "":
		errs = append(errs, errors.New("user_dict.dsn is required when store is postgres"))
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not one of
// [ValidBackendNames].
func validateBackendName(name string) {
	if name == "" || slices.Contains(ValidBackendNames, name) {
		return
	}
	slog.Warn("unknown inference backend name; may be a typo or a third-party backend",
		"name", name,
		"known", ValidBackendNames,
	)
}
