package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	mcpcmd "github.com/matt-davison/agent-quest/internal/cmd/mcp"
	"github.com/matt-davison/agent-quest/internal/platform/config"
	apperrors "github.com/matt-davison/agent-quest/internal/platform/errors"
)

// main starts the MCP server on stdio or HTTP.
func main() {
	log.SetPrefix("[MCP] ")
	cfg, err := mcpcmd.ParseConfig(flag.CommandLine, os.Args[1:], os.LookupEnv)
	if err != nil {
		config.Exitf(apperrors.ExitInvalidUsage, "parse flags: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mcpcmd.Run(ctx, cfg); err != nil {
		log.Printf("failed to serve MCP: %v", err)
		stop()
		os.Exit(apperrors.ExitCode(err))
	}
}
