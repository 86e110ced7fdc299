// Package config loads the YAML configuration of a database.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mnohosten/laura-core/pkg/database"
	"github.com/mnohosten/laura-core/pkg/index"
	"github.com/mnohosten/laura-core/pkg/metrics"
	"github.com/mnohosten/laura-core/pkg/text"
)

//go:embed schema.json
var schemaJSON string

var schemaLoader = gojsonschema.NewStringLoader(schemaJSON)

// Config holds the database configuration.
type Config struct {
	Name    string        `yaml:"name"`
	Limits  LimitsConfig  `yaml:"limits"`
	TTL     TTLConfig     `yaml:"ttl"`
	Text    TextConfig    `yaml:"text"`
	Scan    ScanConfig    `yaml:"scan"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
}

// LimitsConfig bounds indexes and locking per collection.
type LimitsConfig struct {
	MaxIndexes         int `yaml:"max_indexes"`
	MaxIndexNameLength int `yaml:"max_index_name_length"`
	MaxCompoundFields  int `yaml:"max_compound_fields"`
	LockStripes        int `yaml:"lock_stripes"`
}

// TTLConfig holds the TTL sweeper settings.
type TTLConfig struct {
	Enabled  *bool  `yaml:"enabled"`  // default: true
	Interval string `yaml:"interval"` // Go duration, default 60s
}

// TextConfig holds text search settings.
type TextConfig struct {
	DefaultLanguage string `yaml:"default_language"` // snowball language or "none"
}

// ScanConfig holds the parallel scan settings.
type ScanConfig struct {
	ParallelThreshold *int `yaml:"parallel_threshold"` // default 1000, 0 disables parallel scans
	Workers           int  `yaml:"workers"`            // 0 = NumCPU
	BatchSize         int  `yaml:"batch_size"`
}

// CacheConfig sizes the compiled filter cache.
type CacheConfig struct {
	Filters *int `yaml:"filters"` // default 256, 0 disables the cache
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Env   string `yaml:"env"`   // prod, dev, local (default: local)
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// Load reads the configuration from a YAML file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse reads the configuration from YAML. ${VAR} and ${VAR:-default}
// are replaced by environment variables first; the result is checked
// against the embedded JSON schema before it is decoded.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}
	if err := checkSchema(raw); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func checkSchema(raw map[string]interface{}) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(raw))
	if err != nil {
		return fmt.Errorf("config schema validation error: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("config does not match schema: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	limits := index.DefaultLimits()
	if c.Limits.MaxIndexes <= 0 {
		c.Limits.MaxIndexes = limits.MaxIndexes
	}
	if c.Limits.MaxIndexNameLength <= 0 {
		c.Limits.MaxIndexNameLength = limits.MaxNameLength
	}
	if c.Limits.MaxCompoundFields <= 0 {
		c.Limits.MaxCompoundFields = limits.MaxCompoundFields
	}
	if c.Limits.LockStripes <= 0 {
		c.Limits.LockStripes = 256
	}
	if c.TTL.Enabled == nil {
		enabled := true
		c.TTL.Enabled = &enabled
	}
	if c.TTL.Interval == "" {
		c.TTL.Interval = "60s"
	}
	if c.Text.DefaultLanguage == "" {
		c.Text.DefaultLanguage = text.DefaultLanguage
	}
	if c.Scan.ParallelThreshold == nil {
		threshold := 1000
		c.Scan.ParallelThreshold = &threshold
	}
	if c.Cache.Filters == nil {
		size := 256
		c.Cache.Filters = &size
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "local"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	d, err := time.ParseDuration(c.TTL.Interval)
	if err != nil {
		return fmt.Errorf("ttl.interval: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("ttl.interval must be positive, got %s", c.TTL.Interval)
	}
	if _, err := text.NewAnalyzer(c.Text.DefaultLanguage); err != nil {
		return fmt.Errorf("text.default_language: %w", err)
	}
	if t := c.scanThreshold(); t > 0 && c.Scan.BatchSize > t {
		return fmt.Errorf("scan.batch_size (%d) must not exceed scan.parallel_threshold (%d)", c.Scan.BatchSize, t)
	}
	return nil
}

// TTLInterval returns the parsed sweep interval.
func (c *Config) TTLInterval() time.Duration {
	d, err := time.ParseDuration(c.TTL.Interval)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

func (c *Config) scanThreshold() int {
	if c.Scan.ParallelThreshold == nil {
		return 0
	}
	return *c.Scan.ParallelThreshold
}

func (c *Config) filterCacheSize() int {
	if c.Cache.Filters == nil {
		return 0
	}
	return *c.Cache.Filters
}

// TTLEnabled reports whether the sweeper should run.
func (c *Config) TTLEnabled() bool {
	return c.TTL.Enabled == nil || *c.TTL.Enabled
}

// Database maps the configuration to database options. logger and m may
// be nil.
func (c *Config) Database(logger *zap.Logger, m *metrics.Collector) *database.Config {
	return &database.Config{
		Name: c.Name,
		IndexLimits: index.Limits{
			MaxIndexes:        c.Limits.MaxIndexes,
			MaxNameLength:     c.Limits.MaxIndexNameLength,
			MaxCompoundFields: c.Limits.MaxCompoundFields,
		},
		LockStripes:           c.Limits.LockStripes,
		ParallelScanThreshold: c.scanThreshold(),
		ParallelWorkers:       c.Scan.Workers,
		ParallelBatchSize:     c.Scan.BatchSize,
		FilterCacheSize:       c.filterCacheSize(),
		TTLInterval:           c.TTLInterval(),
		TextLanguage:          c.Text.DefaultLanguage,
		Logger:                logger,
		Metrics:               m,
	}
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
