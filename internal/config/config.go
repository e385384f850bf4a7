// Package config loads process configuration from environment variables (with
// an optional .env file) plus a small set of embedded defaults, following the
// same pattern as the teacher repo's internal/config package: os.Getenv for
// deployment-specific values, an embedded YAML file for values that are safe
// to bake into the binary.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// StoreConfig configures the embedded PhotoStore.
type StoreConfig struct {
	// Path is the directory badger opens (or creates) its data files in.
	Path string
}

// EmbedderConfig configures the local feature-extraction model server.
type EmbedderConfig struct {
	URL        string
	Dimensions int
}

// ServerConfig configures the local HTTP boundary (§6A/§6B).
type ServerConfig struct {
	Host string
	Port int
}

// AutoSelectConfig configures the remote auto-select collaborator client (§6C).
type AutoSelectConfig struct {
	BaseURL                       string
	UploadConcurrency             int
	RetryBaseSeconds              int
	RetryMaxAttempts              int
	PollIntervalSeconds           int
	MaxConsecutiveTransportErrors int
}

// LSHConfig configures the random-hyperplane index (§4.4).
type LSHConfig struct {
	NumHashFunctions int
	NumHashTables    int
}

// PipelineConfig configures EmbeddingPipeline batching (§4.3).
type PipelineConfig struct {
	BatchSize int
}

// GrouperConfig configures Grouper batching (§4.5).
type GrouperConfig struct {
	BatchSize int
}

// Config is the fully resolved process configuration.
type Config struct {
	Store      StoreConfig
	Embedder   EmbedderConfig
	Server     ServerConfig
	AutoSelect AutoSelectConfig
	LSH        LSHConfig
	Pipeline   PipelineConfig
	Grouper    GrouperConfig
}

type defaultsFile struct {
	LSH struct {
		NumHashFunctions int `yaml:"numHashFunctions"`
		NumHashTables    int `yaml:"numHashTables"`
	} `yaml:"lsh"`
	Pipeline struct {
		BatchSize int `yaml:"batchSize"`
	} `yaml:"pipeline"`
	Grouper struct {
		BatchSize int `yaml:"batchSize"`
	} `yaml:"grouper"`
	AutoSelect struct {
		UploadConcurrency             int `yaml:"uploadConcurrency"`
		RetryBaseSeconds              int `yaml:"retryBaseSeconds"`
		RetryMaxAttempts              int `yaml:"retryMaxAttempts"`
		PollIntervalSeconds           int `yaml:"pollIntervalSeconds"`
		MaxConsecutiveTransportErrors int `yaml:"maxConsecutiveTransportErrors"`
	} `yaml:"autoSelect"`
}

// envInt reads an environment variable and parses it as a positive integer,
// falling back to defaultVal when unset, empty or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Load reads Config from the environment and the embedded defaults file.
func Load() (*Config, error) {
	var d defaultsFile
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedded defaults.yaml: %w", err)
	}

	return &Config{
		Store: StoreConfig{
			Path: envString("PHOTODEDUPE_STORE_PATH", "./photodedupe-data"),
		},
		Embedder: EmbedderConfig{
			URL:        envString("EMBEDDER_URL", "http://localhost:8000"),
			Dimensions: envInt("EMBEDDER_DIM", 768),
		},
		Server: ServerConfig{
			Host: envString("PHOTODEDUPE_HOST", "127.0.0.1"),
			Port: envInt("PHOTODEDUPE_PORT", 8787),
		},
		AutoSelect: AutoSelectConfig{
			BaseURL:                       os.Getenv("AUTOSELECT_BASE_URL"),
			UploadConcurrency:             envInt("AUTOSELECT_UPLOAD_CONCURRENCY", d.AutoSelect.UploadConcurrency),
			RetryBaseSeconds:              envInt("AUTOSELECT_RETRY_BASE_SECONDS", d.AutoSelect.RetryBaseSeconds),
			RetryMaxAttempts:              envInt("AUTOSELECT_RETRY_MAX_ATTEMPTS", d.AutoSelect.RetryMaxAttempts),
			PollIntervalSeconds:           envInt("AUTOSELECT_POLL_INTERVAL_SECONDS", d.AutoSelect.PollIntervalSeconds),
			MaxConsecutiveTransportErrors: envInt("AUTOSELECT_MAX_CONSECUTIVE_ERRORS", d.AutoSelect.MaxConsecutiveTransportErrors),
		},
		LSH: LSHConfig{
			NumHashFunctions: envInt("LSH_NUM_HASH_FUNCTIONS", d.LSH.NumHashFunctions),
			NumHashTables:    envInt("LSH_NUM_HASH_TABLES", d.LSH.NumHashTables),
		},
		Pipeline: PipelineConfig{
			BatchSize: envInt("PIPELINE_BATCH_SIZE", d.Pipeline.BatchSize),
		},
		Grouper: GrouperConfig{
			BatchSize: envInt("GROUPER_BATCH_SIZE", d.Grouper.BatchSize),
		},
	}, nil
}
