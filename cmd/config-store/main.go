// Package main provides the entry point for the config-store server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/txn2/config-store/docs" // swagger spec
	"github.com/txn2/config-store/pkg/service"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	address     string
	logLevel    string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.address, "address", "", "Listen address (overrides config)")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}))
}

// loadConfig loads the configuration file when one is given, falling
// back to defaults (in-memory backend, no auth) otherwise.
func loadConfig(opts serverOptions) (*service.Config, error) {
	if opts.configPath == "" {
		return service.DefaultConfig(), nil
	}
	return service.LoadConfig(opts.configPath)
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("config-store version %s\n", version)
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if opts.address != "" {
		cfg.Server.Address = opts.address
	}

	logger := newLogger(opts.logLevel)
	slog.SetDefault(logger)

	svc, err := service.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	return svc.Run(setupSignalHandler())
}
