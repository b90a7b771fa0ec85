// Package questline parses the questline command line and dispatches its
// subcommands against the shared session services.
package questline

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/matt-davison/agent-quest/internal/app"
	platformcmd "github.com/matt-davison/agent-quest/internal/platform/cmd"
	apperrors "github.com/matt-davison/agent-quest/internal/platform/errors"
)

// Config holds questline command configuration.
type Config struct {
	app.Config
	// Args are the subcommand and its arguments.
	Args []string
}

// ParseConfig parses environment, settings file and global flags. Whatever
// follows the global flags is the subcommand.
func ParseConfig(fs *flag.FlagSet, args []string, lookupEnv func(string) (string, bool)) (Config, error) {
	cfg, err := app.ParseConfig(fs, args, lookupEnv)
	if err != nil {
		return Config{}, err
	}
	return Config{Config: cfg, Args: fs.Args()}, nil
}

// Env is what a subcommand runs against.
type Env struct {
	App    *app.App
	Stdout io.Writer
	Logger *log.Logger
}

// Run executes the configured subcommand, writing its result to stdout.
func Run(ctx context.Context, cfg Config, stdout io.Writer) error {
	return RunWithOptions(ctx, cfg, stdout, app.Options{})
}

// RunWithOptions is Run with overridable collaborators.
func RunWithOptions(ctx context.Context, cfg Config, stdout io.Writer, opts app.Options) error {
	if stdout == nil {
		stdout = os.Stdout
	}
	if len(cfg.Args) == 0 {
		fmt.Fprint(stdout, Usage())
		return apperrors.New(apperrors.CodeInvalidArgument, "command is required")
	}
	name, args := cfg.Args[0], cfg.Args[1:]
	if name == "help" {
		fmt.Fprint(stdout, Usage())
		return nil
	}
	run, ok := commands[name]
	if !ok {
		return apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("unknown command %q", name))
	}

	return platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceQuestline, func(ctx context.Context) error {
		a, err := app.Open(ctx, cfg.Config, opts)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				log.Printf("close: %v", err)
			}
		}()
		logger := opts.Logger
		if logger == nil {
			logger = log.Default()
		}
		result, err := run(ctx, Env{App: a, Stdout: stdout, Logger: logger}, args)
		if err != nil {
			return err
		}
		return write(stdout, result)
	})
}

// Usage lists the subcommands.
func Usage() string {
	names := make([]string, 0, len(usages))
	for name := range usages {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("Usage: questline [global flags] <command> [args]\n\nCommands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %-24s %s\n", name, usages[name])
	}
	return b.String()
}

// text is printed verbatim; anything else is printed as JSON.
type text string

func write(w io.Writer, result any) error {
	switch v := result.(type) {
	case nil:
		return nil
	case text:
		if v == "" {
			return nil
		}
		_, err := fmt.Fprintln(w, string(v))
		return err
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}
