// Package config loads mailtriage configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Account describes one mailbox to triage.
type Account struct {
	Email    string `mapstructure:"email"`
	Label    string `mapstructure:"label"`
	Provider string `mapstructure:"provider"` // "outlook" or "gmail"
	TenantID string `mapstructure:"tenant_id"`
}

// Azure holds Microsoft Graph auth settings shared by outlook accounts.
type Azure struct {
	TenantID     string   `mapstructure:"tenant_id"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	AuthMode     string   `mapstructure:"auth_mode"` // "delegated" or "application"
	Scopes       []string `mapstructure:"scopes"`
}

// Triage holds per-run behaviour toggles.
type Triage struct {
	LookbackDaysInitial     int    `mapstructure:"lookback_days_initial"`
	LookbackDaysIncremental int    `mapstructure:"lookback_days_incremental"`
	MaxMessagesPerRun       int    `mapstructure:"max_messages_per_run"`
	DraftReplies            bool   `mapstructure:"draft_replies"`
	CreateTasks             bool   `mapstructure:"create_tasks"`
	SendSummaryEmail        bool   `mapstructure:"send_summary_email"`
	SummaryEmailTo          string `mapstructure:"summary_email_to"`
}

// LLM holds decision-layer settings. The API key is read from the named
// environment variable so the config file stays secret-free.
type LLM struct {
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	APIKeyEnv string `mapstructure:"api_key_env"`
}

// Config is the full mailtriage configuration.
type Config struct {
	DataDir  string    `mapstructure:"data_dir"`
	Accounts []Account `mapstructure:"accounts"`
	Azure    Azure     `mapstructure:"azure"`
	Triage   Triage    `mapstructure:"triage"`
	LLM      LLM       `mapstructure:"llm"`
}

// Load reads configuration from the given file, or discovers
// mailtriage.yaml in the current directory when path is empty.
// Environment variables prefixed MT_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_dir", "./data")
	v.SetDefault("azure.auth_mode", "delegated")
	v.SetDefault("triage.lookback_days_initial", 30)
	v.SetDefault("triage.lookback_days_incremental", 3)
	v.SetDefault("triage.max_messages_per_run", 50)
	v.SetDefault("triage.draft_replies", true)
	v.SetDefault("triage.create_tasks", true)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api_key_env", "MT_LLM_API_KEY")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mailtriage")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("config has no accounts")
	}
	for i := range cfg.Accounts {
		a := &cfg.Accounts[i]
		if a.Email == "" {
			return nil, fmt.Errorf("account %d: email is required", i)
		}
		if a.Provider == "" {
			a.Provider = "outlook"
		}
		if a.Provider != "outlook" && a.Provider != "gmail" {
			return nil, fmt.Errorf("account %s: unknown provider %q", a.Email, a.Provider)
		}
	}

	return &cfg, nil
}

// SelectAccounts filters accounts by email; empty selection returns all.
func (c *Config) SelectAccounts(selected []string) ([]Account, error) {
	if len(selected) == 0 {
		return c.Accounts, nil
	}
	want := make(map[string]bool, len(selected))
	for _, s := range selected {
		want[strings.ToLower(s)] = true
	}
	var out []Account
	for _, a := range c.Accounts {
		if want[strings.ToLower(a.Email)] {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no accounts matched %v", selected)
	}
	return out, nil
}

// AccountDir returns (creating if needed) the per-account state directory
// holding the task file, credentials, and the advisory lock.
func (c *Config) AccountDir(email string) (string, error) {
	dir := filepath.Join(c.DataDir, email)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create account directory %s: %w", dir, err)
	}
	return dir, nil
}

// LedgerPath returns the ledger database location under the data dir.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// APIKey resolves the LLM API key from the configured environment variable.
func (c *Config) APIKey() string {
	return os.Getenv(c.LLM.APIKeyEnv)
}
