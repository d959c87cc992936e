package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bwcarry.yaml")
	data := `
panel:
  base_url: https://panel.example.com:4085/index.php
  api_key: k
  api_pass: p
  timeout_sec: 30
engine:
  workers: 8
  overuse_policy: negative
audit:
  file: /var/log/bwcarry/audit.log
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Panel.BaseURL != "https://panel.example.com:4085/index.php" {
		t.Errorf("BaseURL = %q", cfg.Panel.BaseURL)
	}
	if cfg.Engine.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Engine.Workers)
	}
	if cfg.Engine.OverusePolicy != "negative" {
		t.Errorf("OverusePolicy = %q, want negative", cfg.Engine.OverusePolicy)
	}
	if cfg.Panel.TimeoutSec != 30 {
		t.Errorf("TimeoutSec = %d, want 30", cfg.Panel.TimeoutSec)
	}

	// Defaults survive for unset fields.
	if cfg.Panel.ConnectTimeoutSec != 10 {
		t.Errorf("ConnectTimeoutSec = %d, want default 10", cfg.Panel.ConnectTimeoutSec)
	}
	if cfg.Engine.RetryAttempts != 1 {
		t.Errorf("RetryAttempts = %d, want default 1", cfg.Engine.RetryAttempts)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bwcarry.yaml")
	data := `
panel:
  base_url: https://panel.example.com/index.php
  api_key: from-file
  api_pass: p
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("BWCARRY_API_KEY", "from-env")
	t.Setenv("BWCARRY_WORKERS", "3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Panel.APIKey != "from-env" {
		t.Errorf("APIKey = %q, want env override", cfg.Panel.APIKey)
	}
	if cfg.Engine.Workers != 3 {
		t.Errorf("Workers = %d, want 3", cfg.Engine.Workers)
	}
}

func TestValidateMissingCredentials(t *testing.T) {
	cfg := Default()
	cfg.Panel.BaseURL = "https://panel.example.com/index.php"

	err := cfg.Validate()
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("error = %v, want %v", err, ErrMissingCredentials)
	}

	cfg.Panel.APIKey = "k"
	cfg.Panel.APIPass = "p"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestValidateMissingBaseURL(t *testing.T) {
	cfg := Default()
	cfg.Panel.APIKey = "k"
	cfg.Panel.APIPass = "p"

	if err := cfg.Validate(); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("error = %v, want %v", err, ErrMissingCredentials)
	}
}
