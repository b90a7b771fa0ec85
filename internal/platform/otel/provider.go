// Package otel wires OpenTelemetry tracing for command processes.
package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/matt-davison/agent-quest/internal/platform/config"
)

// Settings select the trace exporter.
type Settings struct {
	Endpoint    string  `env:"QUESTLINE_OTEL_ENDPOINT"`
	Enabled     bool    `env:"QUESTLINE_OTEL_ENABLED" envDefault:"true"`
	SampleRatio float64 `env:"QUESTLINE_OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// LoadSettings reads Settings from the environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := config.ParseEnv(&s); err != nil {
		return Settings{}, err
	}
	if s.SampleRatio < 0 || s.SampleRatio > 1 {
		return Settings{}, fmt.Errorf("otel sample ratio %v is outside [0, 1]", s.SampleRatio)
	}
	return s, nil
}

// Setup initialises OpenTelemetry tracing for the given service.
//
// Tracing is opt-in: when QUESTLINE_OTEL_ENDPOINT is empty or
// QUESTLINE_OTEL_ENABLED is false, Setup returns a no-op shutdown function
// and no global provider is registered. Mailbox spans are recorded against
// the global provider, so every remote call shows up once tracing is on.
//
// The returned shutdown function flushes pending spans and should be deferred
// by the caller.
func Setup(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	settings, err := LoadSettings()
	if err != nil {
		return noop, err
	}
	if !settings.Enabled || settings.Endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(settings.Endpoint),
	)
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(settings.SampleRatio))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}
