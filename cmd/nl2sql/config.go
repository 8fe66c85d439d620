package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's YAML configuration.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Database struct {
		Driver string `yaml:"driver"` // mysql or sqlite
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`

	LLM struct {
		Provider  string `yaml:"provider"` // openai, anthropic, or google
		Model     string `yaml:"model"`
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"llm"`

	Store struct {
		Backend string `yaml:"backend"` // memory, sqlite, mysql, or redis
		DSN     string `yaml:"dsn"`     // path, mysql DSN, or redis address
	} `yaml:"store"`

	Knowledge struct {
		Examples string `yaml:"examples"` // few-shot examples YAML, optional
		Schema   string `yaml:"schema"`   // data dictionary YAML
		Embedder string `yaml:"embedder"` // hash (default) or openai
	} `yaml:"knowledge"`

	Logging struct {
		Level  string `yaml:"level"`  // debug, info, warn, or error
		Format string `yaml:"format"` // text (default) or json
	} `yaml:"logging"`
}

// LoadConfig reads and validates a YAML config file, filling defaults for
// optional settings.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Knowledge.Embedder == "" {
		cfg.Knowledge.Embedder = "hash"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	switch {
	case cfg.Database.Driver != "mysql" && cfg.Database.Driver != "sqlite":
		return Config{}, fmt.Errorf("database.driver must be mysql or sqlite, got %q", cfg.Database.Driver)
	case cfg.Database.DSN == "":
		return Config{}, fmt.Errorf("database.dsn is required")
	case cfg.LLM.Provider == "":
		return Config{}, fmt.Errorf("llm.provider is required")
	case cfg.Knowledge.Schema == "":
		return Config{}, fmt.Errorf("knowledge.schema is required")
	}
	return cfg, nil
}

// APIKey resolves the provider API key from the configured environment
// variable.
func (c Config) APIKey() (string, error) {
	env := c.LLM.APIKeyEnv
	if env == "" {
		return "", fmt.Errorf("llm.api_key_env is required for provider %q", c.LLM.Provider)
	}
	key := os.Getenv(env)
	if key == "" {
		return "", fmt.Errorf("environment variable %s is not set", env)
	}
	return key, nil
}
