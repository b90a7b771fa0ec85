// Package mcp parses MCP command flags and selects stdio or HTTP transport.
package mcp

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/matt-davison/agent-quest/internal/app"
	mcpservice "github.com/matt-davison/agent-quest/internal/mcp/service"
	platformcmd "github.com/matt-davison/agent-quest/internal/platform/cmd"
	"github.com/matt-davison/agent-quest/internal/platform/config"
	apperrors "github.com/matt-davison/agent-quest/internal/platform/errors"
)

// Config holds MCP command configuration.
type Config struct {
	app.Config
	// HTTPAddr is where the HTTP transport listens.
	HTTPAddr string
	// Transport is stdio or http.
	Transport string
}

type transportConfig struct {
	HTTPAddr  string `env:"QUESTLINE_MCP_HTTP_ADDR" envDefault:"localhost:8081"`
	Transport string `env:"QUESTLINE_MCP_TRANSPORT" envDefault:"stdio"`
}

// ParseConfig parses environment, settings file and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string, lookupEnv func(string) (string, bool)) (Config, error) {
	var transport transportConfig
	if err := config.ParseEnv(&transport); err != nil {
		return Config{}, err
	}
	fs.StringVar(&transport.HTTPAddr, "http-addr", transport.HTTPAddr, "HTTP server address (for HTTP transport)")
	fs.StringVar(&transport.Transport, "transport", transport.Transport, "Transport type: stdio or http")

	shared, err := app.ParseConfig(fs, args, lookupEnv)
	if err != nil {
		return Config{}, err
	}
	switch transport.Transport {
	case mcpservice.TransportStdio, mcpservice.TransportHTTP:
	default:
		return Config{}, apperrors.New(apperrors.CodeInvalidArgument,
			fmt.Sprintf("transport %q is not supported", transport.Transport))
	}
	return Config{Config: shared, HTTPAddr: transport.HTTPAddr, Transport: transport.Transport}, nil
}

// Run opens the session services and serves MCP tools until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return RunWithOptions(ctx, cfg, app.Options{})
}

// RunWithOptions is Run with overridable collaborators.
func RunWithOptions(ctx context.Context, cfg Config, opts app.Options) error {
	return platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceMCP, func(ctx context.Context) error {
		a, err := app.Open(ctx, cfg.Config, opts)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				log.Printf("close: %v", err)
			}
		}()
		return mcpservice.Run(ctx, a, cfg.Transport, cfg.HTTPAddr)
	})
}
