package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pairing.MaxAttempts != 5 {
		t.Errorf("max attempts = %d", cfg.Pairing.MaxAttempts)
	}
	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("host = %q", cfg.Gateway.Host)
	}
	if _, ok := cfg.Auth.Providers["anthropic"]; !ok {
		t.Error("default anthropic provider missing")
	}
}

func TestLoadJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	content := `{
  // comments and trailing commas are fine
  workspace: "/srv/agent",
  pairing: {
    max_attempts: 3,
    lockout_secs: 60,
  },
  security: {
    extra_mounts: ["/srv/shared"],
  },
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Workspace != "/srv/agent" {
		t.Errorf("workspace = %q", cfg.Workspace)
	}
	if cfg.Pairing.MaxAttempts != 3 || cfg.Pairing.LockoutSecs != 60 {
		t.Errorf("pairing = %+v", cfg.Pairing)
	}
	if len(cfg.Security.ExtraMounts) != 1 {
		t.Errorf("extra mounts = %v", cfg.Security.ExtraMounts)
	}
	// Unset sections keep their defaults.
	if cfg.Gateway.Port != 18790 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte("{workspace: "), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadClampsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(`{pairing: {max_attempts: -1, lockout_secs: 0}}`), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pairing.MaxAttempts <= 0 || cfg.Pairing.LockoutSecs <= 0 {
		t.Errorf("insecure pairing values not clamped: %+v", cfg.Pairing)
	}
}
