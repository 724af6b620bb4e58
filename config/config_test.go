package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "finance_10k", cfg.Collection)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "./index_data", cfg.Storage.Path)
	assert.Equal(t, "ollama", cfg.Embeddings.Backend)
	assert.Equal(t, "nomic-embed-text", cfg.Embeddings.Model)
	assert.Equal(t, "local", cfg.Parser.Backend)
	assert.Equal(t, 5, cfg.Chat.TopK)
	assert.Equal(t, 3000, cfg.Chat.MemoryTokenBudget)
	assert.Equal(t, 2048, cfg.Chunking.MaxChunkChars)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".filingchat")
	require.NoError(t, os.MkdirAll(configDir, 0755))
	content := []byte("collection: my_filings\nchat:\n  top_k: 8\n")
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), content, 0644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "my_filings", cfg.Collection)
	assert.Equal(t, 8, cfg.Chat.TopK)
	// Untouched settings keep their defaults.
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := Default()
	cfg.Collection = "saved_collection"
	require.NoError(t, cfg.Save())

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "saved_collection", loaded.Collection)
}

func TestLoadMalformedConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".filingchat")
	require.NoError(t, os.MkdirAll(configDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte("{not yaml"), 0644))

	_, err := Load()
	assert.Error(t, err)
}
