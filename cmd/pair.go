package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanoclaw/pkg/protocol"
)

func pairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Manage device pairing (generate, list, revoke)",
	}

	cmd.AddCommand(pairGenerateCmd())
	cmd.AddCommand(pairListCmd())
	cmd.AddCommand(pairRevokeCmd())

	return cmd
}

func pairGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Generate a single-use pairing code",
		Run: func(cmd *cobra.Command, args []string) {
			resp, err := gatewayRPC(protocol.MethodPairGenerate, nil)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			if !resp.OK {
				fmt.Printf("Failed: %s\n", resp.Error.Message)
				os.Exit(1)
			}

			raw, _ := json.Marshal(resp.Payload)
			var result struct {
				Code      string `json:"code"`
				ExpiresIn int    `json:"expires_in"`
			}
			json.Unmarshal(raw, &result)

			fmt.Printf("Pairing code: %s\n", result.Code)
			fmt.Printf("Expires in:   %s\n", time.Duration(result.ExpiresIn)*time.Second)
			fmt.Println()
			fmt.Println("Enter this code on the device you want to pair. It works once.")
		},
	}
}

func pairListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List paired devices and outstanding codes",
		Run: func(cmd *cobra.Command, args []string) {
			resp, err := gatewayRPC(protocol.MethodPairList, nil)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			if !resp.OK {
				fmt.Printf("Failed: %s\n", resp.Error.Message)
				os.Exit(1)
			}

			raw, _ := json.Marshal(resp.Payload)
			var result struct {
				Devices []struct {
					Name     string `json:"name"`
					PairedAt int64  `json:"paired_at"`
					LastSeen int64  `json:"last_seen"`
				} `json:"devices"`
				Pending []struct {
					Code      string `json:"code"`
					ExpiresAt int64  `json:"expires_at"`
				} `json:"pending"`
			}
			json.Unmarshal(raw, &result)

			if len(result.Devices) == 0 {
				fmt.Println("No paired devices.")
			}
			for _, d := range result.Devices {
				paired := time.UnixMilli(d.PairedAt).Format("2006-01-02 15:04")
				seen := "never"
				if d.LastSeen > 0 {
					seen = time.Since(time.UnixMilli(d.LastSeen)).Truncate(time.Second).String() + " ago"
				}
				fmt.Printf("  %-24s paired %s, last seen %s\n", d.Name, paired, seen)
			}

			if len(result.Pending) > 0 {
				fmt.Println()
				fmt.Println("Outstanding pairing codes:")
				for _, c := range result.Pending {
					left := time.Until(time.UnixMilli(c.ExpiresAt)).Truncate(time.Second)
					fmt.Printf("  %s  (expires in %s)\n", c.Code, left)
				}
			}
		},
	}
}

func pairRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <device>",
		Short: "Revoke a paired device",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			params, _ := json.Marshal(map[string]string{
				"name": args[0],
			})

			resp, err := gatewayRPC(protocol.MethodPairRevoke, params)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			if !resp.OK {
				fmt.Printf("Failed: %s\n", resp.Error.Message)
				os.Exit(1)
			}

			raw, _ := json.Marshal(resp.Payload)
			var result struct {
				Revoked bool `json:"revoked"`
			}
			json.Unmarshal(raw, &result)

			if result.Revoked {
				fmt.Printf("Revoked %s\n", args[0])
			} else {
				fmt.Printf("No such device: %s\n", args[0])
			}
		},
	}
}
