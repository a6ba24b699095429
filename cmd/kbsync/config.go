package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Bestie123/PromAi/internal/config"
)

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
		Long: `Settings are read from kbsync.yaml in the working directory or the data
directory, then from KBSYNC_* environment variables, then from flags.

Nested keys map to environment variables with underscores:
  github.token         KBSYNC_GITHUB_TOKEN
  sync.interval        KBSYNC_SYNC_INTERVAL
  sync.conflict_policy KBSYNC_SYNC_CONFLICT_POLICY`,
	}
	cmd.AddCommand(newConfigInitCmd(opts), newConfigShowCmd(opts))
	return cmd
}

func newConfigInitCmd(opts *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [FILE]",
		Short: "Write a configuration file with the default settings",
		Long: `Write the default settings as YAML. Without FILE the file is
<data-dir>/kbsync.yaml, or the --config path when given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				dir := config.DefaultDataDir()
				if f := cmd.Flags().Lookup("data-dir"); f != nil && f.Changed {
					dir = f.Value.String()
				}
				path = filepath.Join(dir, config.FileName+".yaml")
			}

			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Set github.token, github.owner and github.repo, or export KBSYNC_GITHUB_TOKEN.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			cfg.GitHub.Token = maskToken(cfg.GitHub.Token)

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode settings: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			if err != nil {
				return err
			}
			if verr := cfg.Validate(); verr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", verr)
			}
			return nil
		},
	}
}

// maskToken keeps the last four characters of a token.
func maskToken(tok string) string {
	if tok == "" {
		return ""
	}
	if len(tok) <= 4 {
		return strings.Repeat("*", len(tok))
	}
	return strings.Repeat("*", 8) + tok[len(tok)-4:]
}
