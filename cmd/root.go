package cmd

import (
	"context"
	"fmt"
	"strings"
)

const usage = `kiro-gateway is an OpenAI-compatible proxy for the Kiro API.

Usage:
  kiro-gateway <command> [flags]

Commands:
  serve    Start the HTTP server
  models   List the models available to the configured account

Flags:
  -h, --help  Show this help message`

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return printUsage()
	}

	switch args[0] {
	case "serve":
		return serve(ctx, args[1:])
	case "models":
		return listModels(ctx, args[1:])
	case "help", "-h", "--help":
		return printUsage()
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
}

func printUsage() error {
	fmt.Println(strings.TrimSpace(usage))
	return nil
}
