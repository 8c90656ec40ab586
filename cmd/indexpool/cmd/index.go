package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexpool/internal/errors"
	"github.com/Aman-CERP/indexpool/pkg/indexer"
)

// reindexPollInterval is how often index checks whether the bulk reindex finished.
const reindexPollInterval = 100 * time.Millisecond

func newIndexCmd(opts *options) *cobra.Command {
	var fulltext bool

	cmd := &cobra.Command{
		Use:   "index <repository> [path]",
		Short: "Reindex a repository (or one of its folders) and exit",
		Long: `Reindex every document of a repository on the bulk lane, wait for it to
finish, then print index statistics.

Unchanged documents are skipped unless --fulltext is given. Documents that
no longer exist on disk are removed from the index.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "/"
			if len(args) > 1 {
				path = args[1]
			}
			return runIndex(ctx, cmd, opts, indexer.NewDocRef(args[0], path), fulltext)
		},
	}

	cmd.Flags().BoolVar(&fulltext, "fulltext", false, "Rewrite every document even if its content is unchanged")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, opts *options, ref indexer.DocRef, fulltext bool) error {
	cfg := *opts.cfg
	cfg.Bulk.Enabled = true

	a, err := openApp(&cfg, opts.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.resolver.Root(ref.Repository); err != nil {
		return err
	}

	start := time.Now()
	if err := a.controller.ReindexAll(ref, true, fulltext); err != nil {
		return err
	}

	if err := waitForReindex(ctx, a); err != nil {
		opts.logger.Warn("reindex interrupted", slog.String("target", ref.ID()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	report := a.controller.Shutdown(shutdownCtx)

	lanes := a.controller.Stats()
	stats, err := a.backend.Stats(context.Background())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Reindexed %s in %s\n", ref, time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(out, "  index:     %s (%s)\n", stats.Index.Path, stats.Index.Backend)
	fmt.Fprintf(out, "  documents: %s\n", humanize.Comma(int64(stats.Index.Documents)))
	fmt.Fprintf(out, "  written:   %s\n", humanize.Comma(stats.Written))
	fmt.Fprintf(out, "  skipped:   %s\n", humanize.Comma(stats.Skipped))
	fmt.Fprintf(out, "  removed:   %s\n", humanize.Comma(stats.Removed))
	if info, err := os.Stat(stats.Index.Path); err == nil && !info.IsDir() {
		fmt.Fprintf(out, "  size:      %s\n", humanize.Bytes(uint64(info.Size())))
	}

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case lanes.Interactive.Violations+lanes.Bulk.Violations > 0:
		return errors.New(errors.ErrCodeInvariantViolation,
			"two tasks ran on the same document at once", nil).
			WithDetail("violations", fmt.Sprint(lanes.Interactive.Violations+lanes.Bulk.Violations))
	case report.Forced():
		return errors.New(errors.ErrCodeTaskTimeout,
			fmt.Sprintf("reindex did not finish within %s", cfg.ShutdownTimeout()), nil).
			WithSuggestion("raise pool.shutdown_timeout")
	case lanes.Bulk.Failed > 0:
		return errors.New(errors.ErrCodeInternal, "reindex failed", nil).
			WithSuggestion("run with --log-level debug for details")
	}
	return nil
}

// waitForReindex blocks until the bulk lane has no reindex outstanding.
func waitForReindex(ctx context.Context, a *app) error {
	ticker := time.NewTicker(reindexPollInterval)
	defer ticker.Stop()
	for a.controller.ReindexingAll() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
