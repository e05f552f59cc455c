package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort              = 8080
	defaultDataDir           = "data"
	defaultMaxConcurrentJobs = 3
	defaultBuildWorkers      = 2
	defaultChunkSize         = 5
	defaultMaxParallel       = 3
	defaultCompressionLevel  = 6
	maxCompressionLevel      = 9
)

// Config describes runtime configuration for the service.
type Config struct {
	Port              int    `yaml:"port"`
	DataDir           string `yaml:"data_dir"`
	MaxConcurrentJobs int    `yaml:"max_concurrent_jobs"`
	BuildWorkers      int    `yaml:"build_workers"`
	ChunkSize         int    `yaml:"chunk_size"`
	MaxParallel       int    `yaml:"max_parallel"`
	CompressionLevel  int    `yaml:"compression_level"`
}

// Default returns sane defaults for a small deployment.
func Default() Config {
	return Config{
		Port:              defaultPort,
		DataDir:           defaultDataDir,
		MaxConcurrentJobs: defaultMaxConcurrentJobs,
		BuildWorkers:      defaultBuildWorkers,
		ChunkSize:         defaultChunkSize,
		MaxParallel:       defaultMaxParallel,
		CompressionLevel:  defaultCompressionLevel,
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error. Engine tuning knobs are
// clamped into their valid ranges rather than rejected; only the job
// concurrency is validated strictly since zero would deadlock the service.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	// basic normalization
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.MaxConcurrentJobs < 1 {
		return cfg, fmt.Errorf("invalid max_concurrent_jobs: %d (must be >= 1)", cfg.MaxConcurrentJobs)
	}
	cfg.clamp()
	return cfg, nil
}

func (c *Config) clamp() {
	if c.BuildWorkers < 1 {
		c.BuildWorkers = defaultBuildWorkers
	}
	if c.ChunkSize < 1 {
		c.ChunkSize = defaultChunkSize
	}
	if c.MaxParallel < 1 {
		c.MaxParallel = defaultMaxParallel
	}
	if c.CompressionLevel < 0 {
		c.CompressionLevel = 0
	}
	if c.CompressionLevel > maxCompressionLevel {
		c.CompressionLevel = maxCompressionLevel
	}
}
