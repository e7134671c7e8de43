package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"kiro-gateway/internal/config"
	"kiro-gateway/internal/server"
)

const serveUsage = `Usage:
  kiro-gateway serve [--config <path>] [--port <port>] [--env-file <path>]

Flags:
  --config   string   Path to YAML configuration file (optional; env vars suffice)
  --port     int      Override server port from configuration
  --env-file string   Load environment variables from this file (default .env)`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath, envFile string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")
	fs.StringVar(&envFile, "env-file", "", "path to .env file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	cfg, err := loadConfig(cfgPath, envFile)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.models.Run(ctx)

	srv, err := server.New(cfg, a.router)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}

// loadConfig reads the env file and YAML, then installs the configured logger.
func loadConfig(cfgPath, envFile string) (config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, err
	}

	logger, err := cfg.Logging.NewLogger(os.Stderr)
	if err != nil {
		return config.Config{}, err
	}
	slog.SetDefault(logger)
	return cfg, nil
}
