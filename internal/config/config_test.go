// ABOUTME: Tests for configuration loading, env expansion, and validation
// ABOUTME: Uses temp files to exercise the YAML parsing path

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "/tmp/gateway.db"
auth:
  jwt_secret: "secret"
upstream:
  model: "gpt-4o-mini"
  api_key: "sk-test"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/gateway.db", cfg.Database.Path)
	assert.Equal(t, "secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "gpt-4o-mini", cfg.Upstream.Model)
	assert.Equal(t, "sk-test", cfg.Upstream.APIKey)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_UPSTREAM_KEY", "sk-from-env")
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "/tmp/gateway.db"
auth:
  jwt_secret: "secret"
upstream:
  model: "gpt-4o-mini"
  api_key: "${TEST_UPSTREAM_KEY}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Upstream.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/gateway.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{
		Server:   ServerConfig{HTTPAddr: "localhost:8080"},
		Database: DatabaseConfig{Path: "/tmp/db"},
		Auth:     AuthConfig{JWTSecret: "secret"},
		Upstream: UpstreamConfig{Model: "gpt-4o-mini"},
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:    "missing http addr",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "" },
			wantErr: "server.http_addr",
		},
		{
			name: "tailscale replaces http addr",
			mutate: func(c *Config) {
				c.Server.HTTPAddr = ""
				c.Tailscale.Enabled = true
				c.Tailscale.Hostname = "gw"
			},
		},
		{
			name: "tailscale requires hostname",
			mutate: func(c *Config) {
				c.Tailscale.Enabled = true
			},
			wantErr: "tailscale.hostname",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "missing jwt secret",
			mutate:  func(c *Config) { c.Auth.JWTSecret = "" },
			wantErr: "auth.jwt_secret",
		},
		{
			name:    "missing model",
			mutate:  func(c *Config) { c.Upstream.Model = "" },
			wantErr: "upstream.model",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
