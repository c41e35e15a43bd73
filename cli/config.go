package cli

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"kbqa/kb"
	"kbqa/kb/vector"
)

// RedisSettings contains connection details for the Redis vector store.
type RedisSettings struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// StoreSettings selects and configures the vector store implementation.
type StoreSettings struct {
	Type  string        `yaml:"type"` // "redis" or "memory"
	Redis RedisSettings `yaml:"redis"`
}

// AppConfig is the root CLI configuration structure. Values left unset fall
// back to environment variables and then to defaults.
type AppConfig struct {
	IndexName    string        `yaml:"index_name"`
	EmbeddingDim int           `yaml:"embedding_dim"`
	ChunkSize    int           `yaml:"chunk_size"`
	ChunkOverlap int           `yaml:"chunk_overlap"`
	Store        StoreSettings `yaml:"store"`
}

// LoadConfig reads the YAML config at path. A missing file is not an error;
// environment and defaults apply instead.
func LoadConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &AppConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// EngineConfig merges the file config over the environment-derived defaults.
func (c *AppConfig) EngineConfig() kb.Config {
	cfg := kb.ConfigFromEnv()
	if c.IndexName != "" {
		cfg.IndexName = c.IndexName
	}
	if c.EmbeddingDim > 0 {
		cfg.EmbeddingDim = c.EmbeddingDim
	}
	if c.ChunkSize > 0 {
		cfg.ChunkSize = c.ChunkSize
	}
	if c.ChunkOverlap > 0 {
		cfg.ChunkOverlap = c.ChunkOverlap
	}
	return cfg
}

// RedisConfig builds the store configuration for the Redis adapter.
func (c *AppConfig) RedisConfig(engine kb.Config) vector.RedisConfig {
	rc := vector.DefaultRedisConfig()
	rc.IndexName = engine.IndexName
	rc.VectorDim = engine.EmbeddingDim
	rc.BatchSize = engine.UpsertBatchSize
	if c.Store.Redis.Addr != "" {
		rc.Addr = c.Store.Redis.Addr
	} else if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rc.Addr = addr
	}
	if c.Store.Redis.Password != "" {
		rc.Password = c.Store.Redis.Password
	} else {
		rc.Password = os.Getenv("REDIS_PASSWORD")
	}
	rc.DB = c.Store.Redis.DB
	if c.Store.Redis.PoolSize > 0 {
		rc.PoolSize = c.Store.Redis.PoolSize
	}
	return rc
}
