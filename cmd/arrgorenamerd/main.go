// Command arrgorenamerd runs the renamer pipeline as a long-lived daemon:
// it loads the configured libraries and users, then drives the
// filesystem watchers, the approved-series artwork worker, and the
// nightly sweep until it receives a termination signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vmunix/arrgo-renamer/internal/config"
	"github.com/vmunix/arrgo-renamer/internal/core"
	"github.com/vmunix/arrgo-renamer/internal/logsink"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to XDG discovery)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("arrgorenamerd %s\n", version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	path := configPath
	if path == "" {
		discovered, err := config.Discover()
		if err != nil {
			return fmt.Errorf("discover config: %w", err)
		}
		path = discovered
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, sink, err := logsink.NewLogger(cfg.Logging.Path, os.Stdout)
	if err != nil {
		return fmt.Errorf("open log sink: %w", err)
	}
	defer func() { _ = sink.Close() }()

	svc, err := core.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	defer func() {
		if closeErr := svc.Close(); closeErr != nil {
			logger.Error("shutdown flush failed", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	logger.Info("arrgorenamerd starting",
		"libraries", len(cfg.Libraries),
		"users", len(cfg.Users),
		"store", cfg.Store.Path,
	)

	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("service run: %w", err)
	}

	logger.Info("arrgorenamerd stopped")
	return nil
}
