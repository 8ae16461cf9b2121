// Package config loads and validates tap configuration from a YAML file
// and environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Default and Load.
const (
	DefaultBaseURL  = "https://api.prefect.cloud/api"
	DefaultPageSize = 200
)

// Config holds connection parameters and extraction defaults.
type Config struct {
	// AccountID and WorkspaceID scope every stream path.
	AccountID   string `yaml:"account_id"`
	WorkspaceID string `yaml:"workspace_id"`

	// APIKey authenticates against Prefect Cloud.
	APIKey string `yaml:"api_key"`

	// StartDate is the default lower bound (ISO-8601) when a stream has
	// no replication cursor yet.
	StartDate string `yaml:"start_date"`

	// BaseURL is the API root.
	BaseURL string `yaml:"base_url"`

	// PageSize is the limit sent with offset-paginated filter requests.
	PageSize int `yaml:"page_size"`

	// StatePath is the bookmark file used when no Redis URL is set.
	StatePath string `yaml:"state_path"`

	// RedisURL, when set, stores bookmarks in Redis instead of a file.
	RedisURL string `yaml:"redis_url"`

	// LogLevel controls logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// Default returns a configuration with defaults filled in. Connection
// parameters must still be provided via file or environment.
func Default() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		PageSize:  DefaultPageSize,
		StatePath: "state.json",
		LogLevel:  "info",
	}
}

// Load reads a YAML config file, applies environment overrides, and fills
// in defaults. An empty path loads from the environment only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}

	return cfg, nil
}

// applyEnv overrides config fields from PREFECT_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("PREFECT_ACCOUNT_ID"); v != "" {
		c.AccountID = v
	}
	if v := os.Getenv("PREFECT_WORKSPACE_ID"); v != "" {
		c.WorkspaceID = v
	}
	if v := os.Getenv("PREFECT_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("PREFECT_START_DATE"); v != "" {
		c.StartDate = v
	}
	if v := os.Getenv("PREFECT_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("PREFECT_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.PageSize = n
		}
	}
	if v := os.Getenv("PREFECT_STATE_PATH"); v != "" {
		c.StatePath = v
	}
	if v := os.Getenv("PREFECT_REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("PREFECT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate surfaces configuration errors before the first request is built.
func (c Config) Validate() error {
	if c.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if c.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if c.StartDate == "" {
		return fmt.Errorf("start_date is required")
	}
	if _, err := time.Parse(time.RFC3339, c.StartDate); err != nil {
		return fmt.Errorf("start_date must be an ISO-8601 timestamp: %w", err)
	}
	return nil
}

// WorkspacePath renders the account/workspace prefix shared by all
// stream paths.
func (c Config) WorkspacePath() string {
	return fmt.Sprintf("/accounts/%s/workspaces/%s", c.AccountID, c.WorkspaceID)
}
