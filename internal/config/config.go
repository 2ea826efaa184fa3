// Package config loads and holds the process configuration.
// Settings are layered: built-in defaults, then anonymizer.yaml, then
// environment variables (a .env file in the working directory is loaded into
// the environment first). Command-line flags override the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "anonymizer.yaml"

// Config holds the full process configuration.
type Config struct {
	ConfigDir      string   `yaml:"configDir"`
	DefaultProfile string   `yaml:"defaultProfile"`
	Recognizers    []string `yaml:"recognizers"`
	LogLevel       string   `yaml:"logLevel"`
	Workers        int      `yaml:"workers"`
	WatchConfig    bool     `yaml:"watchConfig"`

	BindAddress  string `yaml:"bindAddress"`
	APIPort      int    `yaml:"apiPort"`
	APIToken     string `yaml:"apiToken"`
	EnableH2C    bool   `yaml:"enableH2C"`
	MaxBodyBytes int64  `yaml:"maxBodyBytes"`

	NERURL         string   `yaml:"nerURL"`
	NEREntities    []string `yaml:"nerEntities"`
	NERScore       float64  `yaml:"nerScore"`
	NERRuneOffsets bool     `yaml:"nerRuneOffsets"`

	OllamaEndpoint  string  `yaml:"ollamaEndpoint"`
	OllamaModel     string  `yaml:"ollamaModel"`
	OllamaThreshold float64 `yaml:"ollamaThreshold"`

	ExternalTimeout time.Duration `yaml:"externalTimeout"`
	CachePath       string        `yaml:"cachePath"`
	CacheCapacity   int           `yaml:"cacheCapacity"`
	// DisableCache sends every external detection to the detector.
	DisableCache bool `yaml:"disableCache"`
}

// Load returns the defaults overridden by the config file at path (or
// DefaultFile when path is empty) and the environment. A missing file is
// not an error unless path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := defaults()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := loadFile(cfg, path, explicit); err != nil {
		return nil, err
	}
	// Best-effort: variables already set in the environment win over .env.
	_ = godotenv.Load()
	loadEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ConfigDir:       "config",
		DefaultProfile:  "default",
		LogLevel:        "info",
		BindAddress:     "127.0.0.1",
		APIPort:         8000,
		MaxBodyBytes:    1 << 20,
		NERScore:        0.9,
		OllamaEndpoint:  "http://localhost:11434",
		OllamaModel:     "qwen2.5:3b",
		OllamaThreshold: 0.8,
		ExternalTimeout: 10 * time.Second,
		CacheCapacity:   10000,
	}
}

func loadFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil // file is optional
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("CONFIG_DIR"); v != "" {
		cfg.ConfigDir = v
	}
	if v := os.Getenv("DEFAULT_PROFILE"); v != "" {
		cfg.DefaultProfile = v
	}
	if v := os.Getenv("RECOGNIZERS"); v != "" {
		cfg.Recognizers = SplitList(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("WATCH_CONFIG"); v != "" {
		cfg.WatchConfig = parseBool(v, cfg.WatchConfig)
	}
	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.APIPort = n
		}
	}
	if v := os.Getenv("API_TOKEN"); v != "" {
		cfg.APIToken = v
	}
	if v := os.Getenv("ENABLE_H2C"); v != "" {
		cfg.EnableH2C = parseBool(v, cfg.EnableH2C)
	}
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxBodyBytes = n
		}
	}
	if v := os.Getenv("NER_URL"); v != "" {
		cfg.NERURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("NER_ENTITIES"); v != "" {
		cfg.NEREntities = SplitList(v)
	}
	if v := os.Getenv("NER_SCORE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.NERScore = f
		}
	}
	if v := os.Getenv("NER_RUNE_OFFSETS"); v != "" {
		cfg.NERRuneOffsets = parseBool(v, cfg.NERRuneOffsets)
	}
	if v := os.Getenv("OLLAMA_ENDPOINT"); v != "" {
		cfg.OllamaEndpoint = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.OllamaModel = v
	}
	if v := os.Getenv("OLLAMA_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.OllamaThreshold = f
		}
	}
	if v := os.Getenv("EXTERNAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ExternalTimeout = d
		}
	}
	if v := os.Getenv("CACHE_PATH"); v != "" {
		cfg.CachePath = v
	}
	if v := os.Getenv("DISABLE_CACHE"); v != "" {
		cfg.DisableCache = parseBool(v, cfg.DisableCache)
	}
	if v := os.Getenv("CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheCapacity = n
		}
	}
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if c.ConfigDir == "" {
		return errors.New("configDir must not be empty")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("apiPort out of range: %d", c.APIPort)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if c.NERScore < 0 || c.NERScore > 1 {
		return fmt.Errorf("nerScore must be within [0,1], got %v", c.NERScore)
	}
	if c.OllamaThreshold < 0 || c.OllamaThreshold > 1 {
		return fmt.Errorf("ollamaThreshold must be within [0,1], got %v", c.OllamaThreshold)
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("cacheCapacity must be positive, got %d", c.CacheCapacity)
	}
	return nil
}

// Addr returns the REST API listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.APIPort)
}

// SplitList splits a comma-separated value, trimming blanks.
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}
