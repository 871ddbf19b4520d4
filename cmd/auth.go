package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanoclaw/internal/auth"
	"github.com/nextlevelbuilder/nanoclaw/internal/config"
)

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage provider credentials (login, import, list, logout)",
	}

	cmd.AddCommand(authLoginCmd())
	cmd.AddCommand(authImportCmd())
	cmd.AddCommand(authListCmd())
	cmd.AddCommand(authLogoutCmd())

	return cmd
}

// openStore builds the encrypted token store from the local config. Used by
// auth subcommands, which work directly on the store rather than through
// the gateway.
func openStore() (*config.Config, *auth.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	key, err := storeKey(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("token store key: %w", err)
	}
	return cfg, auth.NewStore(cfg.TokenStorePath(), key), nil
}

func authLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <provider>",
		Short: "Log in to a provider via OAuth in the browser",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, store, err := openStore()
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}

			provider, ok := cfg.Auth.Providers[args[0]]
			if !ok {
				fmt.Printf("Unknown provider: %s\n", args[0])
				os.Exit(1)
			}

			flow := auth.NewFlow(provider, store)
			if cfg.Auth.LoginTimeoutSecs > 0 {
				flow.Timeout = time.Duration(cfg.Auth.LoginTimeoutSecs) * time.Second
			}

			fmt.Printf("Opening browser to log in to %s...\n", provider.Name)
			fmt.Println("Waiting for the provider to redirect back.")

			token, err := flow.Login(context.Background())
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrTimeout):
					fmt.Println("Login timed out. Run the command again when ready.")
				case errors.Is(err, auth.ErrProviderRejected):
					fmt.Printf("Provider rejected the authorization: %v\n", err)
				default:
					fmt.Printf("Login failed: %v\n", err)
				}
				os.Exit(1)
			}

			fmt.Printf("Logged in to %s. Token expires %s.\n",
				provider.Name, token.ExpiresAt.Local().Format("2006-01-02 15:04"))
		},
	}
}

func authImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Import existing Claude Code credentials from this machine",
		Run: func(cmd *cobra.Command, args []string) {
			_, store, err := openStore()
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}

			token, err := auth.NewImporter().Import()
			if err != nil {
				if errors.Is(err, auth.ErrImportNotFound) {
					fmt.Println("No existing credentials found on this machine.")
					fmt.Println("Use 'nanoclaw auth login anthropic' to log in instead.")
					os.Exit(1)
				}
				fmt.Printf("Import failed: %v\n", err)
				os.Exit(1)
			}

			if err := store.Set(token.Provider, *token); err != nil {
				fmt.Printf("Error saving credentials: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Imported %s credentials. Token expires %s.\n",
				token.Provider, token.ExpiresAt.Local().Format("2006-01-02 15:04"))
		},
	}
}

func authListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored credentials",
		Run: func(cmd *cobra.Command, args []string) {
			_, store, err := openStore()
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}

			all := store.All()
			if len(all) == 0 {
				fmt.Println("No stored credentials.")
				return
			}
			for _, name := range store.Providers() {
				tok := all[name]
				state := "valid"
				if tok.Expired() {
					state = "expired"
					if tok.RefreshToken != "" {
						state = "expired (refreshable)"
					}
				}
				fmt.Printf("  %-16s expires %s  [%s]\n",
					name, tok.ExpiresAt.Local().Format("2006-01-02 15:04"), state)
			}
		},
	}
}

func authLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout <provider>",
		Short: "Remove stored credentials for a provider",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			_, store, err := openStore()
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}

			removed, err := store.Remove(args[0])
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			if removed {
				fmt.Printf("Removed credentials for %s\n", args[0])
			} else {
				fmt.Printf("No stored credentials for %s\n", args[0])
			}
		},
	}
}
