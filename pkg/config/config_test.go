package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.AccountID = "acct-1"
	cfg.WorkspaceID = "ws-1"
	cfg.APIKey = "key"
	cfg.StartDate = "2023-01-01T00:00:00Z"
	return cfg
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
account_id: acct-42
workspace_id: ws-42
api_key: secret
start_date: "2023-06-01T00:00:00Z"
page_size: 50
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "acct-42", cfg.AccountID)
	assert.Equal(t, "ws-42", cfg.WorkspaceID)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("account_id: from-file\n"), 0o600))

	t.Setenv("PREFECT_ACCOUNT_ID", "from-env")
	t.Setenv("PREFECT_PAGE_SIZE", "25")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.AccountID)
	assert.Equal(t, 25, cfg.PageSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing account", mutate: func(c *Config) { c.AccountID = "" }, errMsg: "account_id is required"},
		{name: "missing workspace", mutate: func(c *Config) { c.WorkspaceID = "" }, errMsg: "workspace_id is required"},
		{name: "missing api key", mutate: func(c *Config) { c.APIKey = "" }, errMsg: "api_key is required"},
		{name: "missing start date", mutate: func(c *Config) { c.StartDate = "" }, errMsg: "start_date is required"},
		{name: "bad start date", mutate: func(c *Config) { c.StartDate = "yesterday" }, errMsg: "start_date must be an ISO-8601 timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestWorkspacePath(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "/accounts/acct-1/workspaces/ws-1", cfg.WorkspacePath())
}
