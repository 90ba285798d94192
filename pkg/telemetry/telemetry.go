// Package telemetry wires turnloop's observability stack: an OpenTelemetry
// tracer for per-stage spans and a zap structured logger, both adapted to
// the orchestrator.Tracer/orchestrator.Logger interfaces so the core package
// never imports either SDK directly.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vocalrelay/turnloop/pkg/orchestrator"
)

// Config selects the tracing exporter. Exporter is one of "stdout" or
// "none"; turnloop has no collector of its own to ship an OTLP endpoint to,
// so unlike the provider this is grounded on, there is no "otlp" case.
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"`
	ServiceName string `yaml:"service_name"`
}

// DefaultConfig disables tracing.
func DefaultConfig() Config {
	return Config{Enabled: false, Exporter: "none", ServiceName: "turnloop"}
}

// Provider owns the tracer provider lifecycle and satisfies
// orchestrator.Tracer via StartStageSpan.
type Provider struct {
	cfg      Config
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// Span attribute names, namespaced to this module per the convention its
// tracing layer is grounded on.
const (
	attrSessionID = "turnloop.session.id"
	attrTurnID    = "turnloop.turn.id"
	attrStage     = "turnloop.stage"
)

// NewProvider builds a tracer provider. With Enabled false or Exporter
// "none" it still returns a usable no-op tracer (spans are created but never
// exported).
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "turnloop"
	}

	if !cfg.Enabled || cfg.Exporter == "none" || cfg.Exporter == "" {
		return &Provider{cfg: cfg, tracer: otel.Tracer(cfg.ServiceName)}, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)

	return &Provider{
		cfg:      cfg,
		tracer:   tp.Tracer(cfg.ServiceName),
		provider: tp,
	}, nil
}

// Shutdown flushes and releases the underlying tracer provider, if any.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}

// StartStageSpan implements orchestrator.Tracer.
func (p *Provider) StartStageSpan(ctx context.Context, sessionID string, turnID int64, stage string) (context.Context, func(err error)) {
	ctx, span := p.tracer.Start(ctx, "turn."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(attrSessionID, sessionID),
			attribute.Int64(attrTurnID, turnID),
			attribute.String(attrStage, stage),
		),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

var _ orchestrator.Tracer = (*Provider)(nil)

// ZapLogger adapts a *zap.Logger to orchestrator.Logger, translating the
// core's variadic key/value pairs into zap.Any fields.
type ZapLogger struct {
	l *zap.Logger
}

// NewZapLogger builds a production zap logger (JSON, info level).
func NewZapLogger() (*ZapLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{l: l}, nil
}

// NewDevelopmentZapLogger builds a human-readable console logger, suitable
// for the cmd/agent CLI entrypoint.
func NewDevelopmentZapLogger() (*ZapLogger, error) {
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{l: l}, nil
}

func (z *ZapLogger) Sync() error { return z.l.Sync() }

func fields(args []interface{}) []zap.Field {
	fs := make([]zap.Field, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		fs = append(fs, zap.Any(key, args[i+1]))
	}
	return fs
}

func (z *ZapLogger) Debug(msg string, args ...interface{}) { z.l.Debug(msg, fields(args)...) }
func (z *ZapLogger) Info(msg string, args ...interface{})  { z.l.Info(msg, fields(args)...) }
func (z *ZapLogger) Warn(msg string, args ...interface{})  { z.l.Warn(msg, fields(args)...) }
func (z *ZapLogger) Error(msg string, args ...interface{}) { z.l.Error(msg, fields(args)...) }

var _ orchestrator.Logger = (*ZapLogger)(nil)
