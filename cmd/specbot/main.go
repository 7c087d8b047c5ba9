// Specbot runs the phase-gated specification workflow service.
//
// By default it serves the HTTP API. The mcp subcommand exposes the same
// workflow as MCP tools over stdio.
//
// Configuration is read from an optional YAML file overlaid with SPECBOT_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the HTTP server with defaults
//	specbot
//
//	# Serve MCP tools on stdio
//	specbot mcp
//
//	# Configure via environment
//	SPECBOT_SERVER_PORT=9000 SPECBOT_LLM_PROVIDER=anthropic specbot
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Mantoine56/spec-bot/internal/config"
	"github.com/Mantoine56/spec-bot/internal/logging"
	"github.com/Mantoine56/spec-bot/internal/mcp"
	"github.com/Mantoine56/spec-bot/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (default ~/.config/specbot/config.yaml)")
	flag.Parse()
	args := flag.Args()

	mode := "serve"
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		case "mcp", "serve":
			mode = args[0]
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  specbot           Start the HTTP server\n")
			fmt.Fprintf(os.Stderr, "  specbot mcp       Serve MCP tools on stdio\n")
			fmt.Fprintf(os.Stderr, "  specbot version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, mode, *configPath); err != nil {
		log.Fatalf("specbot: %v", err)
	}
}

func printVersion() {
	fmt.Printf("specbot\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run loads configuration, builds the application and serves until ctx is
// cancelled.
func run(ctx context.Context, mode, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel := telemetry.New(ctx, cfg.Telemetry, version)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	// stdout carries the MCP protocol in stdio mode.
	var out zapcore.WriteSyncer
	if mode == "mcp" {
		out = zapcore.Lock(os.Stderr)
	}
	logger, err := initLogger(cfg, tel, out)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.String("error", h.Error))
	}

	a, err := newApp(ctx, cfg, logger, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	if err != nil {
		return err
	}
	defer a.Close()

	if mode == "mcp" {
		return runMCP(ctx, a)
	}
	return a.Serve(ctx)
}

func initLogger(cfg *config.Config, tel *telemetry.Telemetry, out zapcore.WriteSyncer) (*logging.Logger, error) {
	lc, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	lc.Output = out
	lc.OTEL = cfg.Telemetry.Enabled
	lc.Fields = map[string]string{"service": telemetry.ServiceName, "version": version}
	return logging.NewLogger(lc, tel.LoggerProvider())
}

// runMCP serves MCP tools on stdio until the client disconnects or ctx ends.
func runMCP(ctx context.Context, a *app) error {
	a.logger.Info(ctx, "starting specbot in MCP stdio mode")
	fmt.Fprintf(os.Stderr, "specbot mcp mode started (version %s)\n", version)

	srv, err := mcp.NewServer(&mcp.Config{
		Name:             "spec-bot",
		Version:          version,
		Logger:           a.logger.Underlying(),
		Redactor:         a.redactor,
		CheckCredentials: a.registry.CheckCredentials,
	}, a.driver, a.gate, a.runner)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
