package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanoclaw/internal/sandbox"
)

func sandboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Check paths, commands, and mounts against the sandbox policy",
	}

	cmd.AddCommand(sandboxCheckPathCmd())
	cmd.AddCommand(sandboxCheckCommandCmd())
	cmd.AddCommand(sandboxCheckMountsCmd())

	return cmd
}

// localGuard builds a guard from the local config, the same way the gateway
// does at startup.
func localGuard() *sandbox.Guard {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	policy := cfg.Security.Policy
	if cfg.Security.PolicyPath != "" {
		loaded, err := sandbox.LoadPolicy(cfg.Security.PolicyPath)
		if err != nil {
			fmt.Printf("Error: load policy: %v\n", err)
			os.Exit(1)
		}
		policy = sandbox.MergePolicies(policy, loaded)
	}
	return sandbox.NewGuard(cfg.Workspace, policy)
}

func sandboxCheckPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-path <path>",
		Short: "Check whether a path resolves inside the workspace",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			resolved, err := localGuard().CheckPath(args[0])
			if err != nil {
				fmt.Printf("DENIED: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("OK: %s\n", resolved)
		},
	}
}

func sandboxCheckCommandCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-command <command...>",
		Short: "Check a shell command against the blocklist",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cmdline := strings.Join(args, " ")
			if err := localGuard().CheckCommand(cmdline); err != nil {
				fmt.Printf("DENIED: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("OK")
		},
	}
}

func sandboxCheckMountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-mounts [dir...]",
		Short: "Validate extra mounts (defaults to the configured list)",
		Run: func(cmd *cobra.Command, args []string) {
			mounts := args
			if len(mounts) == 0 {
				cfg, err := loadConfig()
				if err != nil {
					fmt.Printf("Error: %v\n", err)
					os.Exit(1)
				}
				mounts = cfg.Security.ExtraMounts
			}
			if len(mounts) == 0 {
				fmt.Println("No extra mounts configured.")
				return
			}

			if err := localGuard().CheckExtraMounts(mounts); err != nil {
				fmt.Printf("DENIED: %v\n", err)
				fmt.Println("The whole mount list is rejected; fix or remove the offending entry.")
				os.Exit(1)
			}
			fmt.Printf("OK: %d mount(s) allowed\n", len(mounts))
		},
	}
}
