package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/asyncview/internal/config"
	"github.com/conneroisu/asyncview/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Serve the configured views with live updates",
	Long: `Start an HTTP server that renders every configured view and pushes each
re-render to connected browsers over a websocket.

Examples:
  asyncview serve                   # Serve on localhost:8080
  asyncview serve --port 9000       # Serve on another port
  asyncview serve --config demo.yml # Serve the views declared in demo.yml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().VarP(newPortValue(8080, &servePort), "port", "p", "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %d views at http://%s\n", srv.Registry().Count(), cfg.Addr())

	if err := srv.Start(ctx); err != nil {
		_ = srv.Shutdown(commandContext(cmd))
		return err
	}
	return nil
}
