// Package cmd provides the CLI commands for indexpool.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexpool/internal/config"
	"github.com/Aman-CERP/indexpool/internal/errors"
	"github.com/Aman-CERP/indexpool/internal/logging"
	"github.com/Aman-CERP/indexpool/pkg/version"
)

// options holds the persistent flags and what PersistentPreRunE derives from them.
type options struct {
	dir       string
	logLevel  string
	logFormat string
	logFile   string

	cfg     *config.Config
	logger  *slog.Logger
	cleanup func()
}

// NewRootCmd creates the root command for the indexpool CLI.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "indexpool",
		Short: "Deduplicating indexing coordinator for document repositories",
		Long: `indexpool keeps a full-text index of document repositories up to date.

Index and unindex requests are coalesced per document, executed by a bounded
worker pool that never runs two tasks on the same document at once, and
throttled when the queue is full. Whole-repository reindexing runs on its own
single-slot lane so it never starves interactive updates.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.cleanup != nil {
				opts.cleanup()
				opts.cleanup = nil
			}
		},
	}
	cmd.SetVersionTemplate("indexpool version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.dir, "dir", ".", "Project directory containing .indexpool.yaml")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: json or text (default: text on a terminal)")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Also write logs to this file, rotated by size (bare flag: default path)")
	cmd.PersistentFlags().Lookup("log-file").NoOptDefVal = logging.DefaultLogPath()

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup loads configuration and installs the logger.
func (o *options) setup(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}

	cfg, err := config.Load(o.dir)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFile != "" {
		cfg.Log.File = o.logFile
	}
	switch {
	case o.logFormat != "":
		cfg.Log.Format = o.logFormat
	case isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()):
		cfg.Log.Format = "text"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lc := logging.DefaultConfig()
	lc.Level = cfg.Log.Level
	lc.Format = cfg.Log.Format
	lc.FilePath = cfg.Log.File
	lc.Stderr = cmd.ErrOrStderr()

	logger, cleanup, err := logging.Setup(lc)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)

	o.cfg = cfg
	o.logger = logger
	o.cleanup = cleanup
	return nil
}

// Execute runs the root command and prints failures the way operators read them.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprint(os.Stderr, errors.FormatForCLI(err))
	}
	return err
}

// ExitCode maps the result of Execute to a process exit status: 0 on
// success, 2 for fatal errors such as a broken invariant, 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.IsFatal(err):
		return 2
	default:
		return 1
	}
}
