// devsync is the multi-room real-time collaboration server.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/devsync/devsync/internal/collab"
	"github.com/devsync/devsync/internal/config"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string
	listen   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "devsync",
		Short: "DevSync - real-time collaboration server",
		Long: `DevSync coordinates multi-room real-time collaboration: shared file
trees, synchronized document editing, presence, and remote code execution.

QUICK START:

  # Start with defaults (local object storage, in-memory membership):
  devsync serve

  # Start with a config file:
  devsync serve --config /etc/devsync/config.yaml

Clients connect over websocket at /ws. Room metadata is also served
over plain HTTP at /api/v1/rooms/<id>.`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collaboration server",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("devsync %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Build Time: %s\n", BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("version", Version).
		Str("storage", cfg.Storage.Provider).
		Str("membership", cfg.Membership.Provider).
		Msg("devsync starting")

	srv, err := collab.NewServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	return srv.Run(ctx)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
