package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration from a YAML file,
// then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return finish(cfg)
}

// Default returns the configuration used when no file is given.
// Environment variable overrides still apply.
func Default() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyDefaults sets default values for configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Version == "" {
		cfg.Version = "1.0"
	}

	// Output defaults
	if cfg.Output.Path == "" {
		cfg.Output.Path = "-"
	}
	if cfg.Output.RecordsKey == "" {
		cfg.Output.RecordsKey = "records"
	}

	// Input defaults
	if cfg.Input.Path == "" {
		cfg.Input.Path = "-"
	}
	if cfg.Input.Source == "" {
		cfg.Input.Source = "stdin"
	}
	if cfg.Input.MaxRecordSize == 0 {
		cfg.Input.MaxRecordSize = 1024 * 1024
	}

	// Index defaults
	if cfg.Index.DBPath == "" {
		cfg.Index.DBPath = "spans.db"
	}
	if cfg.Index.BufferSize == 0 {
		cfg.Index.BufferSize = 1000
	}
	if cfg.Index.FlushInterval == 0 {
		cfg.Index.FlushInterval = time.Second
	}
	if cfg.Index.FlushTimeout == 0 {
		cfg.Index.FlushTimeout = 5 * time.Second
	}

	// Filter defaults
	if cfg.Filter.Mode == "" {
		cfg.Filter.Mode = "enforce"
	}
	if cfg.Filter.PolicyDir == "" {
		cfg.Filter.PolicyDir = "policies"
	}
	if cfg.Filter.Query == "" {
		cfg.Filter.Query = "data.jsonstream.filter.decision"
	}

	// Metrics defaults - disabled by default
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "jsonstream"
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "0.0.0.0"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Health defaults - disabled by default
	if cfg.Health.Address == "" {
		cfg.Health.Address = "0.0.0.0"
	}
	if cfg.Health.Port == 0 {
		cfg.Health.Port = 8080
	}
	if cfg.Health.LivenessPath == "" {
		cfg.Health.LivenessPath = "/health"
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = "/ready"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format JSONSTREAM_<SECTION>_<KEY> (uppercase, underscores).
func applyEnvOverrides(cfg *Config) {
	envMappings := map[string]func(string){
		"JSONSTREAM_OUTPUT_PATH":           func(v string) { cfg.Output.Path = v },
		"JSONSTREAM_OUTPUT_RECORDS_KEY":    func(v string) { cfg.Output.RecordsKey = v },
		"JSONSTREAM_INPUT_PATH":            func(v string) { cfg.Input.Path = v },
		"JSONSTREAM_INPUT_SOURCE":          func(v string) { cfg.Input.Source = v },
		"JSONSTREAM_INPUT_MAX_RECORD_SIZE": func(v string) { cfg.Input.MaxRecordSize = parseInt(v, cfg.Input.MaxRecordSize) },
		"JSONSTREAM_INPUT_STOP_ON_INVALID": func(v string) { cfg.Input.StopOnInvalid = parseBool(v) },
		"JSONSTREAM_INDEX_ENABLED":         func(v string) { cfg.Index.Enabled = parseBool(v) },
		"JSONSTREAM_INDEX_DB_PATH":         func(v string) { cfg.Index.DBPath = v },
		"JSONSTREAM_INDEX_BUFFER_SIZE":     func(v string) { cfg.Index.BufferSize = parseInt(v, cfg.Index.BufferSize) },
		"JSONSTREAM_INDEX_FLUSH_INTERVAL":  func(v string) { cfg.Index.FlushInterval = parseDuration(v, cfg.Index.FlushInterval) },
		"JSONSTREAM_FILTER_ENABLED":        func(v string) { cfg.Filter.Enabled = parseBool(v) },
		"JSONSTREAM_FILTER_MODE":           func(v string) { cfg.Filter.Mode = v },
		"JSONSTREAM_FILTER_POLICY_DIR":     func(v string) { cfg.Filter.PolicyDir = v },
		"JSONSTREAM_FILTER_DATA_FILE":      func(v string) { cfg.Filter.DataFile = v },
		"JSONSTREAM_METRICS_ENABLED":       func(v string) { cfg.Metrics.Enabled = parseBool(v) },
		"JSONSTREAM_METRICS_PORT":          func(v string) { cfg.Metrics.Port = parseInt(v, cfg.Metrics.Port) },
		"JSONSTREAM_HEALTH_ENABLED":        func(v string) { cfg.Health.Enabled = parseBool(v) },
		"JSONSTREAM_HEALTH_PORT":           func(v string) { cfg.Health.Port = parseInt(v, cfg.Health.Port) },
		"JSONSTREAM_LOGGING_LEVEL":         func(v string) { cfg.Logging.Level = v },
		"JSONSTREAM_LOGGING_FORMAT":        func(v string) { cfg.Logging.Format = v },
		"JSONSTREAM_LOGGING_OUTPUT":        func(v string) { cfg.Logging.Output = v },
	}

	for env, setter := range envMappings {
		if value := os.Getenv(env); value != "" {
			setter(value)
		}
	}
}

// validate checks the configuration for errors.
func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Output.RecordsKey) == "" {
		return fmt.Errorf("invalid output records_key: must not be blank")
	}

	if cfg.Input.MaxRecordSize < 1 {
		return fmt.Errorf("invalid input max_record_size: %d", cfg.Input.MaxRecordSize)
	}

	if cfg.Index.BufferSize < 1 {
		return fmt.Errorf("invalid index buffer_size: %d", cfg.Index.BufferSize)
	}

	validFilterModes := map[string]bool{"audit": true, "enforce": true}
	if !validFilterModes[cfg.Filter.Mode] {
		return fmt.Errorf("invalid filter mode: %s (must be audit or enforce)", cfg.Filter.Mode)
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port < 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}
	if cfg.Health.Enabled && (cfg.Health.Port < 0 || cfg.Health.Port > 65535) {
		return fmt.Errorf("invalid health port: %d", cfg.Health.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", cfg.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s (must be json or text)", cfg.Logging.Format)
	}

	return nil
}

// parseInt parses a string to int, returning defaultVal on error.
func parseInt(s string, defaultVal int) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return defaultVal
}

// parseBool parses a string to bool.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}

func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if v, err := time.ParseDuration(s); err == nil {
		return v
	}
	return defaultVal
}

// String returns a string representation of the config for logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{version=%s, output=%s, index=%t, filter=%t/%s}",
		c.Version, c.Output.Path, c.Index.Enabled, c.Filter.Enabled, c.Filter.Mode)
}

// GetEnvMapping returns a map of configuration paths to environment variable names.
func GetEnvMapping() map[string]string {
	return map[string]string{
		"output.path":           "JSONSTREAM_OUTPUT_PATH",
		"output.records_key":    "JSONSTREAM_OUTPUT_RECORDS_KEY",
		"input.path":            "JSONSTREAM_INPUT_PATH",
		"input.source":          "JSONSTREAM_INPUT_SOURCE",
		"input.max_record_size": "JSONSTREAM_INPUT_MAX_RECORD_SIZE",
		"input.stop_on_invalid": "JSONSTREAM_INPUT_STOP_ON_INVALID",
		"index.enabled":         "JSONSTREAM_INDEX_ENABLED",
		"index.db_path":         "JSONSTREAM_INDEX_DB_PATH",
		"index.buffer_size":     "JSONSTREAM_INDEX_BUFFER_SIZE",
		"index.flush_interval":  "JSONSTREAM_INDEX_FLUSH_INTERVAL",
		"filter.enabled":        "JSONSTREAM_FILTER_ENABLED",
		"filter.mode":           "JSONSTREAM_FILTER_MODE",
		"filter.policy_dir":     "JSONSTREAM_FILTER_POLICY_DIR",
		"filter.data_file":      "JSONSTREAM_FILTER_DATA_FILE",
		"metrics.enabled":       "JSONSTREAM_METRICS_ENABLED",
		"metrics.port":          "JSONSTREAM_METRICS_PORT",
		"health.enabled":        "JSONSTREAM_HEALTH_ENABLED",
		"health.port":           "JSONSTREAM_HEALTH_PORT",
		"logging.level":         "JSONSTREAM_LOGGING_LEVEL",
		"logging.format":        "JSONSTREAM_LOGGING_FORMAT",
		"logging.output":        "JSONSTREAM_LOGGING_OUTPUT",
	}
}
