// Package config loads the NanoClaw configuration file
// (~/.nanoclaw/config.json5) and supplies defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/nanoclaw/internal/auth"
	"github.com/nextlevelbuilder/nanoclaw/internal/sandbox"
)

// Config is the root configuration.
type Config struct {
	// Workspace is the agent's filesystem root. Tool calls may not touch
	// anything outside it.
	Workspace string `json:"workspace"`

	// DataDir holds runtime state (pairing store, token store, key file).
	DataDir string `json:"data_dir"`

	Gateway  GatewayConfig  `json:"gateway"`
	Pairing  PairingConfig  `json:"pairing"`
	Auth     AuthConfig     `json:"auth"`
	Security SecurityConfig `json:"security"`
}

// GatewayConfig configures the local WebSocket gateway.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// Token is the operator bearer token. Empty means operator access is
	// only possible from paired devices.
	Token string `json:"token"`
}

// PairingConfig tunes brute-force resistance of device pairing.
type PairingConfig struct {
	MaxAttempts int `json:"max_attempts"`
	LockoutSecs int `json:"lockout_secs"`
	// RedeemPerMinute rate-limits redemption attempts per remote address.
	RedeemPerMinute int `json:"redeem_per_minute"`
	RedeemBurst     int `json:"redeem_burst"`
}

// AuthConfig configures credential storage and OAuth providers.
type AuthConfig struct {
	// EncryptionKey optionally overrides the machine-derived store key
	// (hex 64 chars, base64 44 chars, or raw 32 bytes).
	EncryptionKey string `json:"encryption_key"`

	LoginTimeoutSecs int `json:"login_timeout_secs"`

	Providers map[string]auth.ProviderConfig `json:"providers"`
}

// SecurityConfig configures the sandbox guard.
type SecurityConfig struct {
	// PolicyPath points at the YAML policy override file; watched for
	// changes while the gateway runs.
	PolicyPath string `json:"policy_path"`

	// ExtraMounts are additional directories the agent may access. The
	// whole list must pass mount validation before the gateway starts.
	ExtraMounts []string `json:"extra_mounts"`

	Policy sandbox.Policy `json:"policy"`
}

// Dir returns the NanoClaw home directory (~/.nanoclaw).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nanoclaw"
	}
	return filepath.Join(home, ".nanoclaw")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.json5")
}

// Default returns the built-in configuration.
func Default() *Config {
	dir := Dir()
	return &Config{
		Workspace: filepath.Join(dir, "workspace"),
		DataDir:   filepath.Join(dir, "data"),
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18790,
		},
		Pairing: PairingConfig{
			MaxAttempts:     5,
			LockoutSecs:     300,
			RedeemPerMinute: 10,
			RedeemBurst:     5,
		},
		Auth: AuthConfig{
			LoginTimeoutSecs: 300,
			Providers: map[string]auth.ProviderConfig{
				"anthropic": {
					Name:     "anthropic",
					AuthURL:  "https://claude.ai/oauth/authorize",
					TokenURL: "https://console.anthropic.com/v1/oauth/token",
					ClientID: "9d1c250a-e61b-44d9-88ed-5944d1962f5e",
					Scopes:   []string{"org:create_api_key", "user:profile", "user:inference"},
				},
			},
		},
		Security: SecurityConfig{
			PolicyPath: filepath.Join(dir, "policy.yaml"),
		},
	}
}

// Load reads the config file at path, layering it over defaults. A missing
// file yields the defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Pairing.MaxAttempts <= 0 {
		cfg.Pairing.MaxAttempts = 5
	}
	if cfg.Pairing.LockoutSecs <= 0 {
		cfg.Pairing.LockoutSecs = 300
	}
	if cfg.Auth.LoginTimeoutSecs <= 0 {
		cfg.Auth.LoginTimeoutSecs = 300
	}
	return cfg, nil
}

// PairingStorePath returns the pairing store file location.
func (c *Config) PairingStorePath() string {
	return filepath.Join(c.DataDir, "pairing.json")
}

// TokenStorePath returns the encrypted token store file location.
func (c *Config) TokenStorePath() string {
	return filepath.Join(c.DataDir, "tokens.enc")
}
