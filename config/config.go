// Package config loads the knnshard command configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full command configuration.
type Config struct {
	Model   ModelConfig   `yaml:"model"`
	Run     RunConfig     `yaml:"run"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Publish PublishConfig `yaml:"publish"`
}

// ModelConfig selects the embedding model.
type ModelConfig struct {
	Path        string `yaml:"path"`
	Format      string `yaml:"format"` // word2vec or sqlite
	SQLiteTable string `yaml:"sqlite_table"`
	Limit       int    `yaml:"limit"`
	Float16     bool   `yaml:"float16"`
}

// RunConfig holds the batch parameters.
type RunConfig struct {
	K          int    `yaml:"k"`
	Shards     int    `yaml:"shards"`
	OutputDir  string `yaml:"output_dir"`
	Start      int    `yaml:"start"`
	End        int    `yaml:"end"` // -1 means the vocabulary size
	RangeMode  bool   `yaml:"range_mode"`
	MaxWorkers int    `yaml:"max_workers"`
	FileLocks  bool   `yaml:"file_locks"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Format string `yaml:"format"` // text or json
	Level  string `yaml:"level"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // Empty disables the endpoint
}

// PublishConfig configures the upload of shard files after a run.
type PublishConfig struct {
	// Target is local:<dir>, minio:<bucket> or s3:<bucket>. Empty disables publishing.
	Target      string `yaml:"target"`
	Prefix      string `yaml:"prefix"`
	Compression string `yaml:"compression"`
	Concurrency int    `yaml:"concurrency"`

	// IOLimitBytesPerSec throttles uploads. Zero means unlimited.
	IOLimitBytesPerSec int64 `yaml:"io_limit_bytes_per_sec"`

	Endpoint string `yaml:"endpoint"` // MinIO host:port or custom S3 endpoint
	Region   string `yaml:"region"`
	Insecure bool   `yaml:"insecure"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Format:      "word2vec",
			SQLiteTable: "embeddings",
		},
		Run: RunConfig{
			K:      10,
			Shards: 1,
			End:    -1,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
		Publish: PublishConfig{
			Compression: "none",
			Concurrency: 4,
		},
	}
}

// Load reads the YAML file at path over the defaults. Unknown keys are
// rejected. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: open: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the command cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Model.Path == "" {
		errs = append(errs, errors.New("model.path is required"))
	}
	switch c.Model.Format {
	case "word2vec", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("model.format %q: want word2vec or sqlite", c.Model.Format))
	}
	if c.Model.Limit < 0 {
		errs = append(errs, fmt.Errorf("model.limit %d: must not be negative", c.Model.Limit))
	}
	if c.Run.K <= 0 {
		errs = append(errs, fmt.Errorf("run.k %d: must be positive", c.Run.K))
	}
	if c.Run.Shards <= 0 {
		errs = append(errs, fmt.Errorf("run.shards %d: must be positive", c.Run.Shards))
	}
	if c.Run.OutputDir == "" {
		errs = append(errs, errors.New("run.output_dir is required"))
	}
	if c.Run.Start < 0 {
		errs = append(errs, fmt.Errorf("run.start %d: must not be negative", c.Run.Start))
	}
	if c.Run.MaxWorkers < 0 {
		errs = append(errs, fmt.Errorf("run.max_workers %d: must not be negative", c.Run.MaxWorkers))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Publish.Target != "" {
		if _, err := ParseTarget(c.Publish.Target); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Publish.IOLimitBytesPerSec < 0 {
		errs = append(errs, fmt.Errorf("publish.io_limit_bytes_per_sec %d: must not be negative", c.Publish.IOLimitBytesPerSec))
	}
	return errors.Join(errs...)
}

// Target is a parsed publish destination.
type Target struct {
	Scheme string // local, minio or s3
	Name   string // Directory or bucket
}

// ParseTarget parses local:<dir>, minio:<bucket> or s3:<bucket>.
func ParseTarget(s string) (Target, error) {
	scheme, name, ok := strings.Cut(s, ":")
	if !ok || name == "" {
		return Target{}, fmt.Errorf("publish.target %q: want <scheme>:<name>", s)
	}
	switch scheme {
	case "local", "minio", "s3":
		return Target{Scheme: scheme, Name: name}, nil
	default:
		return Target{}, fmt.Errorf("publish.target %q: unknown scheme %q", s, scheme)
	}
}
