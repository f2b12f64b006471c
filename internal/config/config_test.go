package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailtriage.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
accounts:
  - email: a@example.com
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Accounts[0].Provider != "outlook" {
		t.Fatalf("default provider = %q", cfg.Accounts[0].Provider)
	}
	if cfg.Triage.LookbackDaysInitial != 30 || cfg.Triage.LookbackDaysIncremental != 3 {
		t.Fatalf("lookback defaults = %d/%d", cfg.Triage.LookbackDaysInitial, cfg.Triage.LookbackDaysIncremental)
	}
	if !cfg.Triage.DraftReplies || !cfg.Triage.CreateTasks {
		t.Fatal("side-effect defaults should be on")
	}
	if cfg.LLM.Model == "" || cfg.LLM.BaseURL == "" {
		t.Fatal("LLM defaults missing")
	}
}

func TestLoadRejectsEmptyAccounts(t *testing.T) {
	path := writeConfig(t, "data_dir: ./data\n")
	if _, err := Load(path); err == nil {
		t.Fatal("config without accounts accepted")
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := writeConfig(t, `
accounts:
  - email: a@example.com
    provider: fastmail
`)
	if _, err := Load(path); err == nil {
		t.Fatal("unknown provider accepted")
	}
}

func TestSelectAccounts(t *testing.T) {
	cfg := &Config{Accounts: []Account{
		{Email: "a@example.com"},
		{Email: "b@example.com"},
	}}

	all, err := cfg.SelectAccounts(nil)
	if err != nil || len(all) != 2 {
		t.Fatalf("empty selection = %v, %v", all, err)
	}

	one, err := cfg.SelectAccounts([]string{"B@Example.com"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(one) != 1 || one[0].Email != "b@example.com" {
		t.Fatalf("selection = %v", one)
	}

	if _, err := cfg.SelectAccounts([]string{"nobody@example.com"}); err == nil {
		t.Fatal("unknown selection accepted")
	}
}

func TestAccountDirAndLedgerPath(t *testing.T) {
	cfg := &Config{DataDir: t.TempDir()}
	dir, err := cfg.AccountDir("a@example.com")
	if err != nil {
		t.Fatalf("account dir: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("account dir not created: %v", err)
	}
	if cfg.LedgerPath() != filepath.Join(cfg.DataDir, "ledger.db") {
		t.Fatalf("ledger path = %q", cfg.LedgerPath())
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("MT_TEST_KEY", "secret")
	cfg := &Config{LLM: LLM{APIKeyEnv: "MT_TEST_KEY"}}
	if cfg.APIKey() != "secret" {
		t.Fatalf("api key = %q", cfg.APIKey())
	}
}
