package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/asyncview/internal/config"
	"github.com/conneroisu/asyncview/internal/logging"
	"github.com/conneroisu/asyncview/internal/projector"
	"github.com/conneroisu/asyncview/internal/registry"
	"github.com/conneroisu/asyncview/internal/validation"
)

var (
	watchExtensions []string
	watchDebounce   time.Duration
	watchFailFast   bool
)

var watchCmd = &cobra.Command{
	Use:     "watch [paths...]",
	Aliases: []string{"w"},
	Short:   "Print file change batches as a live console view",
	Long: `Bind a console view to the file change stream of the given paths and print
every re-render. Paths default to watch.paths from the configuration.

Examples:
  asyncview watch                    # Watch the configured paths
  asyncview watch ./src --ext .go    # Watch Go files under ./src
  asyncview watch . --fail-fast      # Stop on the first watcher error`,
	Args: func(cmd *cobra.Command, args []string) error {
		for _, p := range args {
			if err := validation.ValidatePath(p); err != nil {
				return err
			}
		}
		return nil
	},
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringSliceVar(&watchExtensions, "ext", nil, "Only report files with these extensions")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "Debounce window (default from config)")
	watchCmd.Flags().BoolVar(&watchFailFast, "fail-fast", false, "Treat watcher errors as stream failures")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyWatchFlags(cfg, args)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lp, stopLoop := runLoop(ctx, logger)
	defer stopLoop()

	sink := newConsoleSink(cmd.OutOrStdout())
	builder := &registry.Builder{Config: cfg, Sink: sink, Logger: logger, Dispatcher: lp}

	h, cleanup, err := builder.Build(ctx, config.ViewConfig{Name: "changes", Source: config.SourceWatch})
	if err != nil {
		return err
	}
	reg := registry.New(logger)
	if err := reg.Register(h, config.SourceWatch, cleanup...); err != nil {
		h.Detach()
		return err
	}
	defer releaseViews(ctx, reg, logger)

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %v (Ctrl+C to stop)\n", cfg.Watch.Paths)

	if err := sink.wait(ctx, "changes"); err != nil {
		// Interrupted: the normal way out.
		return nil
	}
	if h.State() == projector.StateFailed {
		return fmt.Errorf("file watcher failed")
	}
	return nil
}

// releaseViews detaches every view, logging cleanup failures.
func releaseViews(ctx context.Context, reg *registry.ViewRegistry, logger logging.Logger) {
	if err := reg.DetachAll(); err != nil {
		logger.Error(ctx, err, "failed to release views")
	}
}

func applyWatchFlags(cfg *config.Config, args []string) {
	if len(args) > 0 {
		cfg.Watch.Paths = args
	}
	if len(watchExtensions) > 0 {
		cfg.Watch.Extensions = watchExtensions
	}
	if watchDebounce > 0 {
		cfg.Watch.Debounce = watchDebounce
	}
	if watchFailFast {
		cfg.Watch.FailOnError = true
	}
}
