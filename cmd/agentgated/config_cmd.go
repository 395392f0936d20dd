package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentgate/internal/config"
)

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		Long: `Load the configuration file, applying env-var overrides and defaults the
same way serve does, and report every validation issue found rather than
stopping at the first one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			out := cmd.OutOrStdout()

			cfg, err := config.Load(configPath)
			if err != nil {
				if verr, ok := err.(*config.ValidationError); ok {
					fmt.Fprintf(out, "configuration invalid (%s):\n", configPath)
					for _, issue := range verr.Issues {
						fmt.Fprintf(out, "  - %s\n", issue)
					}
					return err
				}
				return fmt.Errorf("failed to load config: %w", err)
			}

			fmt.Fprintf(out, "configuration valid: %s\n", configPath)
			fmt.Fprintf(out, "  gateway:   %s:%d (auth_mode=%s)\n", cfg.Gateway.Host, cfg.Gateway.Port, cfg.Gateway.AuthMode)
			fmt.Fprintf(out, "  sessions:  backend=%s\n", cfg.Sessions.Backend)
			fmt.Fprintf(out, "  approvals: backend=%s path=%s\n", cfg.Approvals.Backend, cfg.Approvals.Path)
			fmt.Fprintf(out, "  safety:    mode=%s\n", cfg.Safety.Mode)
			fmt.Fprintf(out, "  workspace: %s\n", cfg.Workspace)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
