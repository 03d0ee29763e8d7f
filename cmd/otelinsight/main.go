package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel"

	"github.com/neox5/otelinsight/internal/app"
	"github.com/neox5/otelinsight/internal/config"
	"github.com/neox5/otelinsight/internal/rules"
	"github.com/neox5/otelinsight/internal/version"
)

func main() {
	cmd := &cli.Command{
		Name:    "otelinsight",
		Usage:   "Discover runtime, process and host resources and export them as OpenTelemetry metrics",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to configuration file (defaults apply when empty)",
				Sources: cli.EnvVars(config.EnvPrefix + "CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "rules",
				Usage:  "list the built-in rule sets",
				Action: listRules,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	// Configure logging level
	logLevel := slog.LevelInfo
	if cmd.Bool("debug") {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Route OTel SDK diagnostics into the same handler
	otel.SetLogger(logr.FromSlogHandler(handler))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		logger.Warn("otel error", "error", err)
	}))

	slog.Info("starting otelinsight", "version", version.String(), "config", configPath)

	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return err
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(shutdownCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	if err := application.Run(shutdownCtx); err != nil {
		return err
	}

	slog.Info("shutdown complete")
	return nil
}

func listRules(context.Context, *cli.Command) error {
	for _, name := range rules.Names() {
		set, _ := rules.Builtin(name)
		metrics := 0
		for _, r := range set.Rules {
			metrics += len(r.Mappings)
		}
		fmt.Printf("%-8s prefix=%-14s rules=%d metrics=%d\n", name, set.Prefix, len(set.Rules), metrics)
	}
	return nil
}
