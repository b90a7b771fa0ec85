package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	questlinecmd "github.com/matt-davison/agent-quest/internal/cmd/questline"
	"github.com/matt-davison/agent-quest/internal/platform/config"
	apperrors "github.com/matt-davison/agent-quest/internal/platform/errors"
)

// main runs one questline subcommand and exits with its status.
func main() {
	log.SetPrefix("[QUESTLINE] ")
	cfg, err := questlinecmd.ParseConfig(flag.CommandLine, os.Args[1:], os.LookupEnv)
	if err != nil {
		config.Exitf(apperrors.ExitInvalidUsage, "parse flags: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := questlinecmd.Run(ctx, cfg, os.Stdout); err != nil {
		log.Print(err)
		stop()
		os.Exit(apperrors.ExitCode(err))
	}
}
