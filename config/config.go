package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Collection string `yaml:"collection"`
	DataDir    string `yaml:"data_dir"`
	Storage    struct {
		Backend     string `yaml:"backend"` // sqlite or postgres
		Path        string `yaml:"path"`
		PostgresURL string `yaml:"postgres_url"`
	} `yaml:"storage"`
	Embeddings struct {
		Backend   string `yaml:"backend"` // ollama or openai
		Model     string `yaml:"model"`
		BaseURL   string `yaml:"base_url"`
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"embeddings"`
	LLM struct {
		Backend   string `yaml:"backend"` // ollama or openai
		Model     string `yaml:"model"`
		BaseURL   string `yaml:"base_url"`
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"llm"`
	Parser struct {
		Backend     string `yaml:"backend"` // local or service
		BaseURL     string `yaml:"base_url"`
		APIKeyEnv   string `yaml:"api_key_env"`
		TimeoutSecs int    `yaml:"timeout_secs"`
		MaxRetries  int    `yaml:"max_retries"`
	} `yaml:"parser"`
	Chat struct {
		TopK              int    `yaml:"top_k"`
		MemoryTokenBudget int    `yaml:"memory_token_budget"`
		Persona           string `yaml:"persona"`
		TurnTimeoutSecs   int    `yaml:"turn_timeout_secs"`
	} `yaml:"chat"`
	Chunking struct {
		MaxChunkChars int `yaml:"max_chunk_chars"`
	} `yaml:"chunking"`
}

// Load loads configuration from file or returns defaults
func Load() (*Config, error) {
	cfg := Default()

	configPath := filepath.Join(os.Getenv("HOME"), ".filingchat", "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to file
func (c *Config) Save() error {
	configDir := filepath.Join(os.Getenv("HOME"), ".filingchat")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

// Default returns default configuration
func Default() *Config {
	cfg := &Config{}

	cfg.Collection = "finance_10k"
	cfg.DataDir = "./data"

	cfg.Storage.Backend = "sqlite"
	cfg.Storage.Path = "./index_data"
	cfg.Storage.PostgresURL = "postgres://postgres@localhost/postgres?sslmode=disable"

	cfg.Embeddings.Backend = "ollama"
	cfg.Embeddings.Model = "nomic-embed-text"
	cfg.Embeddings.BaseURL = "http://localhost:11434"
	cfg.Embeddings.APIKeyEnv = "OPENAI_API_KEY"

	cfg.LLM.Backend = "ollama"
	cfg.LLM.Model = "llama3.1"
	cfg.LLM.BaseURL = "http://localhost:11434"
	cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"

	cfg.Parser.Backend = "local"
	cfg.Parser.BaseURL = ""
	cfg.Parser.APIKeyEnv = "PARSE_API_KEY"
	cfg.Parser.TimeoutSecs = 120
	cfg.Parser.MaxRetries = 3

	cfg.Chat.TopK = 5
	cfg.Chat.MemoryTokenBudget = 3000
	cfg.Chat.Persona = ""
	cfg.Chat.TurnTimeoutSecs = 120

	cfg.Chunking.MaxChunkChars = 2048

	return cfg
}
