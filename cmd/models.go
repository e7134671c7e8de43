package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"kiro-gateway/internal/models"
)

const modelsUsage = `Usage:
  kiro-gateway models [--config <path>] [--env-file <path>]

Prints the model catalogue reported by the upstream for the configured account.`

func listModels(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, modelsUsage)
	}

	var cfgPath, envFile string
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.StringVar(&envFile, "env-file", "", "path to .env file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse models flags: %w", err)
	}

	cfg, err := loadConfig(cfgPath, envFile)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.models.Refresh(ctx); err != nil {
		return err
	}
	return printModels(os.Stdout, a.cache.All())
}

func printModels(w io.Writer, records []models.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMAX INPUT\tMAX OUTPUT")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", rec.ID, rec.DisplayName, rec.MaxInputTokens, rec.MaxOutputTokens)
	}
	return tw.Flush()
}
