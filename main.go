package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hbomb79/Lumen/internal"
	"github.com/hbomb79/Lumen/pkg/logger"
	"github.com/spf13/pflag"
)

var log = logger.Get("Bootstrap")

// main is the entry point to Lumen. Configuration is loaded from the
// optional YAML file given by --config, overlaid with environment variables.
// Lumen runs until it receives SIGINT/SIGTERM, or a service crashes.
func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML configuration file (optional)")
	logLevel := pflag.StringP("log-level", "l", "", "minimum log level, overriding the configured value (verbose, debug, info, warning, error)")
	pflag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		config.LogLevel = *logLevel
	}
	level, err := logger.ParseLevel(config.LogLevel)
	if err != nil {
		log.Emit(logger.FATAL, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logger.SetMinLoggingLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Lumen stopped due to error: %v\n", err)
		stop()
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Lumen shutdown complete\n")
}
