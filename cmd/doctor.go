package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanoclaw/internal/sandbox"
	"github.com/nextlevelbuilder/nanoclaw/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("nanoclaw doctor")
	fmt.Printf("  Version:  0.1.0 (protocol %d)\n", protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	// Workspace
	fmt.Printf("  Workspace: %s", cfg.Workspace)
	if _, err := os.Stat(cfg.Workspace); err != nil {
		fmt.Println(" (MISSING)")
	} else {
		fmt.Println(" (OK)")
	}

	// Sandbox policy
	fmt.Println()
	fmt.Println("  Sandbox:")
	if cfg.Security.PolicyPath == "" {
		fmt.Println("    Policy file: not configured (built-in defaults)")
	} else if _, err := os.Stat(cfg.Security.PolicyPath); err != nil {
		fmt.Printf("    Policy file: %s (not present, built-in defaults)\n", cfg.Security.PolicyPath)
	} else if _, err := sandbox.LoadPolicy(cfg.Security.PolicyPath); err != nil {
		fmt.Printf("    Policy file: %s (PARSE ERROR: %v)\n", cfg.Security.PolicyPath, err)
	} else {
		fmt.Printf("    Policy file: %s (OK)\n", cfg.Security.PolicyPath)
	}

	if len(cfg.Security.ExtraMounts) > 0 {
		guard := localGuard()
		if err := guard.CheckExtraMounts(cfg.Security.ExtraMounts); err != nil {
			fmt.Printf("    Extra mounts: REJECTED (%v)\n", err)
		} else {
			fmt.Printf("    Extra mounts: %d allowed\n", len(cfg.Security.ExtraMounts))
		}
	} else {
		fmt.Println("    Extra mounts: none")
	}

	// Credentials
	fmt.Println()
	fmt.Println("  Credentials:")
	if _, store, err := openStore(); err != nil {
		fmt.Printf("    Store: unavailable (%v)\n", err)
	} else if providers := store.Providers(); len(providers) == 0 {
		fmt.Println("    Store: empty")
	} else {
		for _, name := range providers {
			tok, _ := store.Get(name)
			state := "valid"
			if tok.Expired() {
				state = "expired"
			}
			fmt.Printf("    %s: %s\n", name, state)
		}
	}

	// Gateway
	fmt.Println()
	if isGatewayReachable() {
		fmt.Printf("  Gateway:  running at %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	} else {
		fmt.Println("  Gateway:  not running (start with: nanoclaw)")
	}
}
