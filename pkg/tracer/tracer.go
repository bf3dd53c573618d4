package tracer

import (
	"context"
	"sync"

	"github.com/astro-web3/projecthub-auth/pkg/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	defaultTracer trace.Tracer
	initOnce      sync.Once
	errInit       error
	noopTracer    = noop.NewTracerProvider().Tracer("noop")
)

// Init sets up the process tracer once; later calls return the first result.
func Init(ctx context.Context, cfg otel.Config) error {
	initOnce.Do(func() {
		t, err := otel.InitTracer(ctx, cfg)
		if err != nil {
			errInit = err
			return
		}
		defaultTracer = t
	})
	return errInit
}

// Start opens a span on the process tracer, or a no-op span before Init.
func Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if defaultTracer == nil {
		return noopTracer.Start(ctx, spanName, opts...)
	}
	return defaultTracer.Start(ctx, spanName, opts...)
}
