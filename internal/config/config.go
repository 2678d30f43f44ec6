package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Preset  string        `toml:"preset"`
	Model   ModelConfig   `toml:"model"`
	Server  ServerConfig  `toml:"server"`
	Prepare PrepareConfig `toml:"prepare"`
	Cache   CacheConfig   `toml:"cache"`
	Trace   TraceConfig   `toml:"trace"`
	Metrics MetricsConfig `toml:"metrics"`
}

type ModelConfig struct {
	Backend          string `toml:"backend"`
	ID               string `toml:"id"`
	FP16             *bool  `toml:"fp16"`
	Role             string `toml:"role"`
	QueryInstruction *string `toml:"query_instruction"`
	PassagePrefix    *string `toml:"passage_prefix"`
	CacheDir         string `toml:"cache_dir"`
	BaseURL          string `toml:"base_url"`
	APIKey           string `toml:"api_key"`
	Dimensions       int    `toml:"dimensions"`
	Preload          bool   `toml:"preload"`
}

type ServerConfig struct {
	Addr          string        `toml:"addr"`
	Normalize     string        `toml:"normalize"` // "caller" or "always"
	Response      string        `toml:"response"`  // "full" or "minimal"
	MaxTextLength int           `toml:"max_text_length"`
	MaxBatchSize  int           `toml:"max_batch_size"`
	ReadTimeout   time.Duration `toml:"read_timeout"`
	WriteTimeout  time.Duration `toml:"write_timeout"`
}

type PrepareConfig struct {
	Input         string        `toml:"input"`
	Output        string        `toml:"output"`
	BatchSize     int           `toml:"batch_size"`
	RetryAttempts int           `toml:"retry_attempts"`
	RetryDelay    time.Duration `toml:"retry_delay"`
}

type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
	Size    int    `toml:"size"`
}

type TraceConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
	URLPath  string `toml:"url_path"`
	APIKey   string `toml:"api_key"`
	Insecure bool   `toml:"insecure"`
}

type MetricsConfig struct {
	Enabled           bool `toml:"enabled"`
	DefaultCollectors bool `toml:"default_collectors"`
}

// Normalization modes.
const (
	NormalizeCaller = "caller"
	NormalizeAlways = "always"
)

// Response shapes.
const (
	ResponseFull    = "full"
	ResponseMinimal = "minimal"
)

// Override adjusts the configuration after the file and environment have been
// applied and before the preset fills in the blanks. Command-line flags use it.
type Override func(*Config)

// Load builds the configuration from defaults, the TOML file at path (or the
// default location when path is empty), the environment, overrides and finally
// the selected preset. It is meant to be called once at process start.
func Load(path string, overrides ...Override) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv("VECTORIZE_CONFIG")
	}
	explicit := path != ""
	if !explicit {
		path = configPath()
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file: %w", err)
	}

	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}
	applyBackendEnv(cfg, os.Getenv)
	if err := cfg.applyPreset(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Preset: PresetBGE,
		Model: ModelConfig{
			Backend:  "hugot",
			CacheDir: defaultModelDir(),
			Preload:  true,
		},
		Server: ServerConfig{
			Addr:          ":8000",
			MaxTextLength: 10000,
			MaxBatchSize:  100,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  5 * time.Minute,
		},
		Prepare: PrepareConfig{
			Input:         "./phrases.json",
			Output:        "./vectors.json",
			BatchSize:     32,
			RetryAttempts: 2,
			RetryDelay:    5 * time.Second,
		},
		Cache: CacheConfig{
			Path: defaultCachePath(),
			Size: 10000,
		},
		Trace: TraceConfig{
			Insecure: true,
		},
		Metrics: MetricsConfig{
			Enabled:           true,
			DefaultCollectors: true,
		},
	}
}

// applyEnv overrides fields from environment variables. getenv is injected so
// tests don't have to touch the process environment.
func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("EMBEDDING_PRESET"); v != "" {
		cfg.Preset = v
	}
	if v := getenv("EMBEDDING_BACKEND"); v != "" {
		cfg.Model.Backend = v
	}
	if v := getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Model.ID = v
	}
	if v := getenv("USE_FP16"); v != "" {
		fp16 := strings.EqualFold(v, "true")
		cfg.Model.FP16 = &fp16
	}
	if v := getenv("EMBEDDING_CACHE"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true")
	}
	if v := getenv("OPENAI_API_KEY"); v != "" && cfg.Model.APIKey == "" {
		cfg.Model.APIKey = v
	}

	port := getenv("EMBEDDING_SERVICE_PORT")
	if port == "" {
		port = getenv("PORT")
	}
	if port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid port %q: %w", port, err)
		}
		cfg.Server.Addr = ":" + port
	}

	if v := getenv("PHRASES_FILE"); v != "" {
		cfg.Prepare.Input = v
	}
	if v := getenv("VECTORS_FILE"); v != "" {
		cfg.Prepare.Output = v
	}
	if v := getenv("BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BATCH_SIZE %q: %w", v, err)
		}
		cfg.Prepare.BatchSize = n
	}
	return nil
}

// applyBackendEnv points the model client at the server named by the
// environment. It runs after overrides so the backend it matches against is
// final.
func applyBackendEnv(cfg *Config, getenv func(string) string) {
	var v string
	switch cfg.Model.Backend {
	case "ollama":
		v = getenv("OLLAMA_HOST")
	case "openai":
		v = getenv("OPENAI_BASE_URL")
	}
	if v != "" {
		cfg.Model.BaseURL = v
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Model.Backend {
	case "hugot", "ollama", "openai", "mock":
	default:
		return fmt.Errorf("unknown model backend %q", c.Model.Backend)
	}
	if c.Model.ID == "" {
		return fmt.Errorf("model id is required")
	}
	switch c.Model.Role {
	case "query", "passage":
	default:
		return fmt.Errorf("unknown model role %q", c.Model.Role)
	}
	switch c.Server.Normalize {
	case NormalizeCaller, NormalizeAlways:
	default:
		return fmt.Errorf("unknown normalize mode %q", c.Server.Normalize)
	}
	switch c.Server.Response {
	case ResponseFull, ResponseMinimal:
	default:
		return fmt.Errorf("unknown response shape %q", c.Server.Response)
	}
	if c.Server.MaxTextLength <= 0 {
		return fmt.Errorf("max_text_length must be positive")
	}
	if c.Server.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive")
	}
	if c.Prepare.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.Prepare.RetryAttempts <= 0 {
		return fmt.Errorf("retry_attempts must be positive")
	}
	return nil
}

// UseFP16 reports the effective precision mode.
func (m ModelConfig) UseFP16() bool {
	return m.FP16 != nil && *m.FP16
}

// QueryInstructionValue returns the query instruction, "" when unset.
func (m ModelConfig) QueryInstructionValue() string {
	if m.QueryInstruction == nil {
		return ""
	}
	return *m.QueryInstruction
}

// PassagePrefixValue returns the passage prefix, "" when unset.
func (m ModelConfig) PassagePrefixValue() string {
	if m.PassagePrefix == nil {
		return ""
	}
	return *m.PassagePrefix
}

func configPath() string {
	dir, _ := os.UserConfigDir()
	return filepath.Join(dir, "vectorize", "config.toml")
}

func defaultModelDir() string {
	dir, _ := os.UserCacheDir()
	return filepath.Join(dir, "vectorize", "models")
}

func defaultCachePath() string {
	dir, _ := os.UserHomeDir()
	return filepath.Join(dir, ".local", "share", "vectorize", "cache.db")
}
