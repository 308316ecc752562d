package config

import "time"

// Config is the root configuration structure for the jsonstream tool.
type Config struct {
	Version string        `yaml:"version"`
	Output  OutputConfig  `yaml:"output"`
	Input   InputConfig   `yaml:"input"`
	Index   IndexConfig   `yaml:"index"`
	Filter  FilterConfig  `yaml:"filter"`
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
	Logging LoggingConfig `yaml:"logging"`
}

// OutputConfig defines where documents are written.
type OutputConfig struct {
	Path       string `yaml:"path"`        // "-" writes to stdout
	RecordsKey string `yaml:"records_key"` // member holding the records array
}

// InputConfig defines how NDJSON input is read.
type InputConfig struct {
	Path          string `yaml:"path"`            // "-" reads stdin
	Source        string `yaml:"source"`          // recorded in the document header
	MaxRecordSize int    `yaml:"max_record_size"` // bytes
	StopOnInvalid bool   `yaml:"stop_on_invalid"`
}

// IndexConfig defines the span index settings.
type IndexConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DBPath        string        `yaml:"db_path"`        // SQLite database path
	BufferSize    int           `yaml:"buffer_size"`    // Max spans to buffer
	FlushInterval time.Duration `yaml:"flush_interval"` // How often to flush
	FlushTimeout  time.Duration `yaml:"flush_timeout"`
}

// FilterConfig defines the OPA record filter settings.
type FilterConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Mode      string `yaml:"mode"` // audit, enforce
	PolicyDir string `yaml:"policy_dir"`
	DataFile  string `yaml:"data_file"`
	Query     string `yaml:"query"`
}

// MetricsConfig defines Prometheus metrics settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Address   string `yaml:"address"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
}

// HealthConfig defines health check endpoint settings.
type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Address       string `yaml:"address"`
	Port          int    `yaml:"port"`
	LivenessPath  string `yaml:"liveness_path"`
	ReadinessPath string `yaml:"readiness_path"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	Output string `yaml:"output"` // stdout, stderr
}
