// Package config loads the advisor configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Embedder names
const (
	EmbedderHash      = "hash"
	EmbedderSageMaker = "sagemaker"
)

// Config holds application configuration
type Config struct {
	// Addr is the HTTP listen address (e.g. :8080).
	Addr string `mapstructure:"PES_ADDR"`
	// DBPath is the SQLite passage store.
	DBPath string `mapstructure:"PES_DB_PATH"`
	// Dataset is the historical dataset indexed at startup; empty disables indexing.
	Dataset string `mapstructure:"PES_DATASET"`
	// DatasetFormat is csv or json.
	DatasetFormat string `mapstructure:"PES_DATASET_FORMAT"`
	// Embedder selects the embedding backend: hash or sagemaker.
	Embedder string `mapstructure:"PES_EMBEDDER"`
	// EmbedDim is the hashing embedder width.
	EmbedDim int `mapstructure:"PES_EMBED_DIM"`
	// SageMakerEndpoint names the embedding endpoint when Embedder is sagemaker.
	SageMakerEndpoint string `mapstructure:"PES_SAGEMAKER_ENDPOINT"`
	// AWSRegion is the region of the SageMaker endpoint.
	AWSRegion string `mapstructure:"PES_AWS_REGION"`
	// TopK is the number of passages retrieved per query.
	TopK int `mapstructure:"PES_TOP_K"`
}

// Load reads .env (if present), then the environment. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("PES_ADDR", ":8080")
	v.SetDefault("PES_DB_PATH", "pes_advisor.db")
	v.SetDefault("PES_DATASET", "")
	v.SetDefault("PES_DATASET_FORMAT", "csv")
	v.SetDefault("PES_EMBEDDER", EmbedderHash)
	v.SetDefault("PES_EMBED_DIM", 384)
	v.SetDefault("PES_SAGEMAKER_ENDPOINT", "")
	v.SetDefault("PES_AWS_REGION", "eu-west-1")
	v.SetDefault("PES_TOP_K", 5)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Embedder = strings.ToLower(strings.TrimSpace(cfg.Embedder))
	cfg.DatasetFormat = strings.ToLower(strings.TrimSpace(cfg.DatasetFormat))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field combinations
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: PES_ADDR must be set")
	}
	if c.DBPath == "" {
		return errors.New("config: PES_DB_PATH must be set")
	}
	switch c.Embedder {
	case EmbedderHash:
		if c.EmbedDim <= 0 {
			return errors.New("config: PES_EMBED_DIM must be positive")
		}
	case EmbedderSageMaker:
		if c.SageMakerEndpoint == "" {
			return errors.New("config: PES_SAGEMAKER_ENDPOINT must be set when PES_EMBEDDER=sagemaker")
		}
	default:
		return errors.New("config: PES_EMBEDDER must be hash or sagemaker")
	}
	if c.DatasetFormat != "csv" && c.DatasetFormat != "json" {
		return errors.New("config: PES_DATASET_FORMAT must be csv or json")
	}
	if c.TopK <= 0 {
		return errors.New("config: PES_TOP_K must be positive")
	}
	return nil
}
