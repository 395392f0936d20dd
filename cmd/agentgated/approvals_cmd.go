package main

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentgate/internal/config"
)

func buildApprovalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Inspect the Approval Store's policy document",
	}
	cmd.AddCommand(buildApprovalsShowCmd())
	return cmd
}

func buildApprovalsShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current approval policy document",
		Long: `Load the configured Approval Store and print its defaults and every
agent's exec allowlist, the same document a live gateway process consults
on every exec tool call.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			store, err := buildApprovalStore(cfg.Approvals, slog.Default())
			if err != nil {
				return fmt.Errorf("failed to open approval store: %w", err)
			}
			defer store.Close()

			doc, err := store.Snapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read approval document: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "defaults: security=%s ask=%s\n", doc.Defaults.Security, doc.Defaults.Ask)
			if len(doc.Agents) == 0 {
				fmt.Fprintln(out, "agents: none")
				return nil
			}

			ids := make([]string, 0, len(doc.Agents))
			for id := range doc.Agents {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			fmt.Fprintln(out, "agents:")
			for _, id := range ids {
				policy := doc.Agents[id]
				fmt.Fprintf(out, "  %s:\n", id)
				if len(policy.Allowlist) == 0 {
					fmt.Fprintln(out, "    allowlist: (empty)")
					continue
				}
				fmt.Fprintln(out, "    allowlist:")
				for _, cmdStr := range policy.Allowlist {
					fmt.Fprintf(out, "      - %s\n", cmdStr)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
