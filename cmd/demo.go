package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/asyncview/internal/config"
	"github.com/conneroisu/asyncview/internal/producer"
	"github.com/conneroisu/asyncview/internal/view"
)

var (
	demoValues []int
	demoDelay  time.Duration
	demoFail   string
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Bind a finite stream, then a one-shot future, and print each render",
	Long: `Run a console scenario on a single-goroutine event loop:

  1. a "numbers" view binds a finite stream and prints pending, each value,
     then completion with the last value retained
  2. a "greeting" view binds a one-shot future that settles after --delay

Examples:
  asyncview demo                        # Stream 1, 2, 3
  asyncview demo --values 5,8,13        # Stream other values
  asyncview demo --fail "backend down"  # Reject the future`,
	RunE: runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)

	demoCmd.Flags().IntSliceVar(&demoValues, "values", []int{1, 2, 3}, "Values emitted by the stream")
	demoCmd.Flags().DurationVar(&demoDelay, "delay", 200*time.Millisecond, "Delay before the future settles")
	demoCmd.Flags().StringVar(&demoFail, "fail", "", "Reject the future with this message")
}

func runDemo(cmd *cobra.Command, args []string) error {
	logger, closeLog, err := newLogger(config.LoggingConfig{
		Level:  viper.GetString("logging.level"),
		Format: viper.GetString("logging.format"),
	}, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	lp, stopLoop := runLoop(ctx, logger)
	defer stopLoop()

	sink := newConsoleSink(cmd.OutOrStdout())
	opts := []view.Option{view.WithSink(sink), view.WithDispatcher(lp), view.WithLogger(logger)}

	numbers := view.New[int]("numbers", nil, opts...)
	if err := numbers.AttachStream(producer.FromSlice(demoValues...)); err != nil {
		return err
	}
	if err := sink.wait(ctx, "numbers"); err != nil {
		return err
	}
	if last, ok := numbers.Current(); ok {
		fmt.Fprintf(cmd.OutOrStdout(), "numbers completed, retained %d\n", last)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "numbers completed without a value")
	}
	numbers.Detach()

	delay, failure := demoDelay, demoFail
	greeting := view.New[string]("greeting", nil, opts...)
	future := producer.Go(ctx, func(ctx context.Context) (string, error) {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
		if failure != "" {
			return "", errors.New(failure)
		}
		return "hello, world", nil
	})
	if err := greeting.AttachFuture(future); err != nil {
		return err
	}
	if err := sink.wait(ctx, "greeting"); err != nil {
		return err
	}
	greeting.Detach()

	return nil
}
