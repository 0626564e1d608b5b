package logger

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// newOTELHandler bridges slog to an OTLP/gRPC log exporter. The exporter reads
// its endpoint from the standard OTEL_EXPORTER_OTLP_* variables.
func newOTELHandler(ctx context.Context, service string) (slog.Handler, func(context.Context) error, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return nil, nil, fmt.Errorf("otel resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("otlp log exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	bridge := otelslog.NewHandler(service, otelslog.WithLoggerProvider(provider))
	return minLevel{min: level, next: bridge}, provider.Shutdown, nil
}

// minLevel drops records below min. The bridge handler has no level option.
type minLevel struct {
	min  slog.Leveler
	next slog.Handler
}

func (h minLevel) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.min.Level()
}

func (h minLevel) Handle(ctx context.Context, r slog.Record) error {
	return h.next.Handle(ctx, r)
}

func (h minLevel) WithAttrs(attrs []slog.Attr) slog.Handler {
	return minLevel{min: h.min, next: h.next.WithAttrs(attrs)}
}

func (h minLevel) WithGroup(name string) slog.Handler {
	return minLevel{min: h.min, next: h.next.WithGroup(name)}
}
