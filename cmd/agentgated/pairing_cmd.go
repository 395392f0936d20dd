package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentgate/internal/config"
	"github.com/haasonsaas/agentgate/internal/pairing"
)

func buildPairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage node pairing tokens",
	}
	cmd.AddCommand(buildPairingShowCmd())
	cmd.AddCommand(buildPairingCreateCmd())
	return cmd
}

func buildPairingShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "List outstanding pairing tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			store := pairing.NewStore(cfg.Nodes.PairingPath)
			tokens, err := store.List()
			if err != nil {
				return fmt.Errorf("failed to read pairing tokens: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(tokens) == 0 {
				fmt.Fprintln(out, "no outstanding pairing tokens")
				return nil
			}
			for _, t := range tokens {
				status := "unclaimed"
				if t.IsClaimed() {
					status = "claimed by " + t.ClaimedBy
				}
				fmt.Fprintf(out, "%s  node=%s  expires=%s  %s\n", t.Token, t.NodeID, t.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"), status)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildPairingCreateCmd() *cobra.Command {
	var (
		configPath string
		nodeID     string
		qr         bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint a new pairing token for a node",
		Long: `Create a one-time pairing token a new node uses to complete the
connect handshake with role=node. Pass --qr to also print a terminal QR
code, for pairing a phone or a headless device.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			if nodeID == "" {
				return fmt.Errorf("--node is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			store := pairing.NewStore(cfg.Nodes.PairingPath)
			token, err := store.Create(nodeID, pairing.DefaultTTL)
			if err != nil {
				return fmt.Errorf("failed to create pairing token: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "token:   %s\n", token.Token)
			fmt.Fprintf(out, "node:    %s\n", token.NodeID)
			fmt.Fprintf(out, "expires: %s\n", token.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
			if qr {
				art, err := pairing.RenderTerminal(token.Token)
				if err != nil {
					return fmt.Errorf("failed to render QR code: %w", err)
				}
				fmt.Fprintln(out, art)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&nodeID, "node", "", "Node id the token is minted for")
	cmd.Flags().BoolVar(&qr, "qr", false, "Also print a terminal QR code for the token")
	return cmd
}
