package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gazepointer/internal/app"
	"gazepointer/internal/config"
	"gazepointer/internal/logging"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code: 0 when the input is exhausted or the
// run is interrupted, 1 on invalid configuration or any fatal error
func run(args []string) int {
	lookup, err := config.EnvLookup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gazepointer: %v\n", err)
		return 1
	}

	fs := flag.NewFlagSet("gazepointer", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: gazepointer [flags]\n\nMoves the mouse pointer where you look.\n\n")
		fs.PrintDefaults()
	}
	cfg, err := config.Load(args, lookup, fs)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "gazepointer: %v\n", err)
		return 1
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "gazepointer: %v\n", err)
		return 1
	}

	// SIGINT and SIGTERM stop the pipeline between frames
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithField("device", cfg.Device).WithField("input", cfg.InputType).Info("[Main] Starting gaze pointer")
	summary, err := app.Run(ctx, cfg, logger, app.Deps{})
	if err != nil {
		logger.WithError(err).Error("[Main] Run failed")
		return 1
	}

	if ctx.Err() != nil {
		logger.Info("[Main] Interrupted")
	}
	if summary.RunID != "" {
		logger.WithField("run_id", summary.RunID).Info("[Main] exited")
	} else {
		logger.Info("[Main] exited")
	}
	return 0
}
