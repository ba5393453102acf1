package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"courier/internal/app"
	"courier/internal/config"
	"courier/internal/observability"
)

// Main entry point with graceful shutdown on SIGINT/SIGTERM
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run serves until ctx is cancelled, then shuts down within the configured timeout.
// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
func run(ctx context.Context, args []string, out io.Writer) error {
	flags := flag.NewFlagSet("courier", flag.ContinueOnError)
	configPath := flags.String("config", os.Getenv("COURIER_CONFIG_FILE"), "path to a JSON configuration file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	// STEP 1: Load configuration with precedence (file > env > defaults)
	cfg, err := config.LoadConfigWithPrecedence(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := observability.NewLogger(cfg.Env, out)

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 3: Serve until a signal or a serve failure, then stop
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return application.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutdown requested")

		// FUNCTIONAL DISCOVERY: A stalled shutdown must not keep the process alive
		force := time.AfterFunc(cfg.ShutdownTimeout, func() {
			logger.Error().Dur("timeout", cfg.ShutdownTimeout).Msg("Forced exit after timeout")
			os.Exit(1)
		})
		defer force.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return application.Stop(shutdownCtx)
	})

	return g.Wait()
}
