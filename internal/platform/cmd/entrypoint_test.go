package cmd

import (
	"context"
	"errors"
	"flag"
	"testing"
)

func TestParseArgsParsesFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	mode := fs.String("mode", "local", "mode")
	if err := ParseArgs(fs, []string{"-mode", "remote", "status"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if *mode != "remote" {
		t.Fatalf("expected remote mode, got %q", *mode)
	}
	if fs.Arg(0) != "status" {
		t.Fatalf("expected status positional arg, got %q", fs.Arg(0))
	}
}

func TestParseArgsAcceptsNilArgs(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	if err := ParseArgs(fs, nil); err != nil {
		t.Fatalf("parse nil args: %v", err)
	}
}

func TestParseArgsRejectsNilParser(t *testing.T) {
	if err := ParseArgs(nil, []string{}); err == nil {
		t.Fatal("expected parse args to reject nil parser")
	}
}

func TestRunWithTelemetryRejectsMissingInputs(t *testing.T) {
	if err := RunWithTelemetry(context.Background(), "", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected missing service error")
	}
	if err := RunWithTelemetry(context.Background(), ServiceQuestline, nil); err == nil {
		t.Fatal("expected missing run function error")
	}
}

func TestRunWithTelemetryReturnsRunError(t *testing.T) {
	t.Setenv("QUESTLINE_OTEL_ENDPOINT", "")
	want := errors.New("boom")
	err := RunWithTelemetry(context.Background(), ServiceMCP, func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected run error, got %v", err)
	}
}
