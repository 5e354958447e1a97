package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/spf13/cobra"

	"mercator-hq/arbiter/pkg/cli"
	"mercator-hq/arbiter/pkg/config"
	"mercator-hq/arbiter/pkg/telemetry/logging"
)

var serveFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the decision API server",
	Long: `Start the decision API server with the specified configuration.

Rules are loaded from the configured file path or git repository before the
server starts listening; a rule set that fails to load aborts startup. With
file watching or git polling enabled, later reload failures keep the rules
already loaded.

Examples:
  # Start with default config
  arbiter serve

  # Start with custom config
  arbiter serve --config /etc/arbiter/arbiter.yaml

  # Override listen address
  arbiter serve --listen 0.0.0.0:8080

  # Validate config without starting server
  arbiter serve --dry-run`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override listen address")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:         cfg.Telemetry.Logging.Level,
		Format:        cfg.Telemetry.Logging.Format,
		AddSource:     cfg.Telemetry.Logging.AddSource,
		RedactSecrets: true,
		Writer:        cmd.ErrOrStderr(),
	})
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	p := printerFor(cmd)
	if serveFlags.dryRun {
		p.Success("Configuration valid")
		return nil
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := cli.SetupSignalHandler(parent)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("serve", err)
	}
	defer a.Close()

	ln, err := net.Listen("tcp", cfg.Server.ListenAddress)
	if err != nil {
		return cli.NewCommandError("serve", err)
	}

	p.Success("Arbiter %s listening on %s", Version, ln.Addr())
	p.Detail("%d rules loaded, %d active", len(a.engine.ListRules()), len(a.engine.ListActiveRules(cfg.Engine.StrictMode)))
	p.Detail("health: http://%s/health", cfg.Server.ListenAddress)
	if cfg.Telemetry.Metrics.IsEnabled() {
		p.Detail("metrics: http://%s%s", cfg.Server.ListenAddress, cfg.Telemetry.Metrics.Path)
	}

	if err := a.server.Serve(ctx, ln); err != nil {
		return cli.NewCommandError("serve", err)
	}
	p.Success("Server stopped")
	return nil
}

// loadServeConfig loads the config file, applies flag overrides and
// validates the result.
func loadServeConfig() (*config.Config, error) {
	if err := config.Initialize(cfgFile); err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.GetConfig()

	if serveFlags.listenAddress != "" {
		cfg.Server.ListenAddress = serveFlags.listenAddress
	}
	if serveFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = serveFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	return cfg, nil
}
