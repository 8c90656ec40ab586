package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexpool/internal/config"
	"github.com/Aman-CERP/indexpool/internal/errors"
)

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
		Long: `Manage the project and user configuration files.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/indexpool/config.yaml)
  3. Project config (.indexpool.yaml)
  4. Environment variables (INDEXPOOL_*)`,
		Example: `  # Write a project config with every default spelled out
  indexpool config init

  # Write the user config instead
  indexpool config init --user

  # Print user config file path
  indexpool config path`,
		// Config files may not exist or may be broken yet; skip loading them.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	}

	cmd.AddCommand(newConfigInitCmd(opts))
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	})

	return cmd
}

func newConfigInitCmd(opts *options) *cobra.Command {
	var force, user bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the defaults",
		Long: `Write the default configuration to .indexpool.yaml in --dir, or to the
user config file with --user. An existing file is left alone unless --force
is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := filepath.Join(opts.dir, config.ProjectConfigYAML)
			if user {
				path = config.GetUserConfigPath()
			}
			return runConfigInit(cmd, path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")

	return cmd
}

func runConfigInit(cmd *cobra.Command, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.New(errors.ErrCodeConfigInvalid, "configuration already exists: "+path, nil).
			WithSuggestion("use --force to overwrite it")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.ConfigError("create config directory", err)
	}
	if err := config.NewConfig().WriteYAML(path); err != nil {
		return errors.ConfigError("write configuration", err)
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return err
}
