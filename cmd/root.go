// Package cmd provides the command-line interface for asyncview.
//
// Configuration System:
//
//	Settings are resolved with clear precedence:
//	1. Command-line flags (--config, --port, --log-level, etc.) - highest priority
//	2. ASYNCVIEW_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (ASYNCVIEW_SERVER_PORT, etc.)
//	4. Configuration files (.asyncview.yml) - lowest priority
//
// Environment Variables:
//
//	ASYNCVIEW_CONFIG_FILE: Path to custom configuration file
//	ASYNCVIEW_SERVER_PORT: Override server port
//	ASYNCVIEW_LOGGING_LEVEL: Override log level
//	And the rest following the ASYNCVIEW_<SECTION>_<OPTION> pattern
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/asyncview/internal/config"
	"github.com/conneroisu/asyncview/internal/logging"
	"github.com/conneroisu/asyncview/internal/loop"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "asyncview",
	Short: "Project asynchronous producers onto live views",
	Long: `asyncview binds one-shot futures and multi-emission streams to views and
re-renders each view whenever its producer emits, fails or completes.

Quick Start:
  asyncview serve                 Serve the configured views over HTTP
  asyncview watch ./src           Print file change batches as they happen
  asyncview demo                  Bind a finite stream, then a one-shot future
  asyncview config show           Show the effective configuration`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .asyncview.yml, can also use ASYNCVIEW_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig points viper at the config file.
//
// Loading priority (highest to lowest):
//  1. --config flag
//  2. ASYNCVIEW_CONFIG_FILE environment variable
//  3. .asyncview.yml in the current directory
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(config.EnvPrefix + "_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".asyncview")
	}

	config.BindEnv(viper.GetViper())

	// A missing or unreadable file falls back to defaults.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the logger described by cfg. When a log directory is
// configured, records are also written to a dated JSON file; the returned
// closer releases it.
func newLogger(cfg config.LoggingConfig, out io.Writer) (logging.Logger, func() error, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	lc := &logging.LoggerConfig{
		Level:  level,
		Format: cfg.Format,
		Output: out,
	}
	console := logging.NewLogger(lc)
	if cfg.Dir == "" {
		return console, func() error { return nil }, nil
	}

	file, err := logging.NewFileLogger(lc, cfg.Dir)
	if err != nil {
		return nil, nil, err
	}
	return logging.NewMultiLogger(console, file), file.Close, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// runLoop starts an event loop for projector callbacks. The returned stop
// function closes it and waits for queued callbacks to finish.
func runLoop(ctx context.Context, logger logging.Logger) (*loop.Loop, func()) {
	lp := loop.New(logger)
	go func() {
		if err := lp.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(ctx, err, "event loop stopped")
		}
	}()
	return lp, func() {
		lp.Close()
		<-lp.Done()
	}
}
