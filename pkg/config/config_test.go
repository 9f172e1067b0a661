package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "OR", cfg.Search.DefaultOp)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 1000, cfg.Indexer.CommitBatch)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
database:
  path: /var/lib/querycore
  retryLock: true
search:
  defaultLimit: 20
  maxResults: 50
  defaultOp: AND
  timeout: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("QC_SERVER_PORT", "9999")
	t.Setenv("QC_REDIS_ADDR", "cache:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/querycore", cfg.Database.Path)
	assert.True(t, cfg.Database.RetryLock)
	assert.Equal(t, 20, cfg.Search.DefaultLimit)
	assert.Equal(t, "AND", cfg.Search.DefaultOp)
	assert.Equal(t, 2*time.Second, cfg.Search.Timeout)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero limit", func(c *Config) { c.Search.DefaultLimit = 0 }},
		{"max below default", func(c *Config) { c.Search.MaxResults = 1 }},
		{"bad op", func(c *Config) { c.Search.DefaultOp = "XOR" }},
		{"bad backend", func(c *Config) { c.Database.Backend = "chert" }},
		{"negative batch", func(c *Config) { c.Indexer.CommitBatch = -1 }},
		{"shared slot", func(c *Config) { c.Database.Slots["rating"] = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := defaultConfig()
	cfg.Search.DefaultOp = "XOR"
	cfg.Database.Backend = "chert"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")
	assert.Contains(t, err.Error(), "defaultOp")
	assert.Contains(t, err.Error(), "chert")
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	env := map[string]string{
		"QC_SERVER_PORT":         "eighty",
		"QC_DATABASE_RETRY_LOCK": "maybe",
		"QC_SEARCH_LANGUAGE":     "french",
		"QC_LOGGING_LEVEL":       "",
	}
	cfg := defaultConfig()
	err := cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QC_SERVER_PORT")
	assert.Contains(t, err.Error(), "QC_DATABASE_RETRY_LOCK")
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "french", cfg.Search.Language)
	assert.Equal(t, "french", cfg.Indexer.Language)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
