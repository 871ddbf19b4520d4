package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanoclaw/internal/auth"
	"github.com/nextlevelbuilder/nanoclaw/internal/config"
	"github.com/nextlevelbuilder/nanoclaw/internal/crypto"
	"github.com/nextlevelbuilder/nanoclaw/internal/gateway"
	"github.com/nextlevelbuilder/nanoclaw/internal/pairing"
	"github.com/nextlevelbuilder/nanoclaw/internal/sandbox"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, watcher, err := buildServer(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if watcher != nil {
		defer watcher.Stop()
	}

	if err := srv.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildServer wires the trust core together. Extra mount validation is
// fail-closed: one bad mount and the gateway refuses to start.
func buildServer(cfg *config.Config) (*gateway.Server, *sandbox.PolicyWatcher, error) {
	key, err := storeKey(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("token store key: %w", err)
	}
	tokens := auth.NewStore(cfg.TokenStorePath(), key)

	ps := pairing.NewService(
		cfg.PairingStorePath(),
		cfg.Pairing.MaxAttempts,
		time.Duration(cfg.Pairing.LockoutSecs)*time.Second,
	)

	policy := cfg.Security.Policy
	if cfg.Security.PolicyPath != "" {
		loaded, err := sandbox.LoadPolicy(cfg.Security.PolicyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load policy: %w", err)
		}
		policy = sandbox.MergePolicies(policy, loaded)
	}
	guard := sandbox.NewGuard(cfg.Workspace, policy)

	if err := guard.CheckExtraMounts(cfg.Security.ExtraMounts); err != nil {
		return nil, nil, fmt.Errorf("extra mounts rejected: %w", err)
	}

	var watcher *sandbox.PolicyWatcher
	if cfg.Security.PolicyPath != "" {
		watcher, err = sandbox.NewPolicyWatcher(cfg.Security.PolicyPath, cfg.Security.Policy, guard)
		if err != nil {
			slog.Warn("policy watcher unavailable", "error", err)
		} else if err := watcher.Start(); err != nil {
			slog.Warn("policy watcher failed to start", "error", err)
			watcher = nil
		}
	}

	return gateway.NewServer(cfg, ps, guard, tokens), watcher, nil
}

// storeKey resolves the token store encryption key: explicit config key if
// set, otherwise the machine-derived key.
func storeKey(cfg *config.Config) ([]byte, error) {
	if cfg.Auth.EncryptionKey != "" {
		return crypto.ParseKey(cfg.Auth.EncryptionKey)
	}
	return crypto.MachineKey(cfg.DataDir)
}

func setupLogging() {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}
