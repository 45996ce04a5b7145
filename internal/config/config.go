// Package config provides the configuration schema, loader, and backend
// registry for the voicevox engine.
package config

import (
	"time"

	"github.com/takejohn/voicevox-core/pkg/types"
)

// LogLevel controls log verbosity for the engine.
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

// StoreKind selects where the user dictionary is persisted.
type StoreKind string

const (
	// StoreNone keeps the user dictionary in memory only.
	StoreNone StoreKind = ""

	// StoreFile persists the dictionary as a JSON document.
	StoreFile StoreKind = "file"

	// StoreSQLite persists the dictionary in a local SQLite database.
	StoreSQLite StoreKind = "sqlite"

	// StorePostgres persists the dictionary in a PostgreSQL table.
	StorePostgres StoreKind = "postgres"
)

// IsValid reports whether k is a recognised store kind.
func (k StoreKind) IsValid() bool {
	switch k {
	case StoreNone, StoreFile, StoreSQLite, StorePostgres:
		return true
	}
	return false
}

// Config is the root configuration structure.
type Config struct {
	// Server holds the HTTP listener and logging settings.
	Server ServerConfig `yaml:"server"`

	// Synthesizer holds the inference backend and device settings.
	Synthesizer SynthesizerConfig `yaml:"synthesizer"`

	// Analyzer holds the text analyzer settings. An empty DictDir disables
	// text input; kana input keeps working.
	Analyzer AnalyzerConfig `yaml:"analyzer"`

	// Models lists the voice model bundles loaded at startup.
	Models ModelsConfig `yaml:"models"`

	// UserDict selects the user dictionary store.
	UserDict UserDictConfig `yaml:"user_dict"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on (e.g., ":50021").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls log verbosity. Defaults to "info" if empty.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures optional TLS for the listener.
	TLS *TLSConfig `yaml:"tls"`

	// RateLimit throttles the HTTP API. A zero RequestsPerSecond disables it.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// TLSConfig holds paths to the TLS certificate and private key.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// RateLimitConfig configures the token bucket shared by all API requests.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the bucket size. Defaults to 1 when a rate is set.
	Burst int `yaml:"burst"`
}

// SynthesizerConfig configures synthesizer construction.
type SynthesizerConfig struct {
	// AccelerationMode is AUTO, CPU or GPU. Empty means AUTO.
	AccelerationMode string `yaml:"acceleration_mode"`

	// CPUNumThreads bounds concurrent kernel calls. Zero uses every core.
	CPUNumThreads uint16 `yaml:"cpu_num_threads"`

	// Backend selects the inference backend by registered name.
	Backend BackendEntry `yaml:"backend"`

	// Fallbacks are tried in order when Backend keeps failing.
	Fallbacks []BackendEntry `yaml:"fallbacks"`

	// CircuitBreaker tunes the breaker guarding each backend. Only used when
	// Fallbacks is non-empty.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes backend failover. Zero values pick defaults.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive backend faults that open the
	// breaker. Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker rejects calls. Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// Mode parses AccelerationMode. It fails on values [Validate] would reject.
func (c SynthesizerConfig) Mode() (types.AccelerationMode, error) {
	return types.ParseAccelerationMode(c.AccelerationMode)
}

// BackendEntry names an inference backend and carries its free-form options.
type BackendEntry struct {
	// Name is the registered backend name (e.g., "reference").
	Name string `yaml:"name"`

	// Options holds backend-specific settings.
	Options map[string]any `yaml:"options"`
}

// AnalyzerConfig configures the text analyzer.
type AnalyzerConfig struct {
	// DictDir is the directory holding lexicon.yaml.
	DictDir string `yaml:"dict_dir"`
}

// ModelsConfig lists voice model bundles.
type ModelsConfig struct {
	// Dir is scanned for *.vvm files.
	Dir string `yaml:"dir"`

	// Files are loaded in addition to those found in Dir.
	Files []string `yaml:"files"`

	// OpenConcurrency bounds parallel bundle decoding. Zero means one per CPU.
	OpenConcurrency int `yaml:"open_concurrency"`
}

// UserDictConfig selects where the user dictionary lives.
type UserDictConfig struct {
	// Store is file, sqlite or postgres. Empty keeps the dictionary in memory.
	Store StoreKind `yaml:"store"`

	// Path is the JSON file or SQLite database path.
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`

	// Name distinguishes dictionaries sharing one PostgreSQL table.
	Name string `yaml:"name"`
}
