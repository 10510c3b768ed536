package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/deepauth/internal/eventbus"
	events "github.com/hanpama/deepauth/internal/events"
	reqid "github.com/hanpama/deepauth/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const tracerName = "deepauth"

// Setup configures OpenTelemetry and attaches eventbus subscribers to the
// global bus. If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	detach := Attach(eventbus.Default(), tp)
	return func(ctx context.Context) error {
		detach()
		return tp.Shutdown(ctx)
	}, nil
}

// Attach opens a span per HTTP request and a child span per rewrite on b.
// Spans are correlated through the request id in the event context.
func Attach(b *eventbus.Bus, tp trace.TracerProvider) (detach func()) {
	s := &subscriber{tracer: tp.Tracer(tracerName)}
	return s.register(b)
}

type subscriber struct {
	tracer       trace.Tracer
	httpSpans    sync.Map // rid -> trace.Span
	rewriteSpans sync.Map // rid -> trace.Span
}

func (s *subscriber) register(b *eventbus.Bus) func() {
	unsubscribe := []func(){
		eventbus.On(b, func(ctx context.Context, e events.HTTPStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(ctx, "http.request", trace.WithSpanKind(trace.SpanKindServer))
			span.SetAttributes(
				semconv.HTTPMethodKey.String(e.Request.Method),
				attribute.String("http.target", e.Request.URL.Path),
				attribute.String("request.id", rid),
			)
			s.httpSpans.Store(rid, span)
		}),

		eventbus.On(b, func(ctx context.Context, e events.HTTPFinish) {
			rid, _ := reqid.FromContext(ctx)
			v, ok := s.httpSpans.LoadAndDelete(rid)
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(
				semconv.HTTPStatusCodeKey.Int(e.Status),
				attribute.String("http.route", e.Route),
			)
			if e.Status >= 500 {
				span.SetStatus(codes.Error, "")
			}
			span.End()
		}),

		eventbus.On(b, func(ctx context.Context, e events.RewriteStart) {
			rid, _ := reqid.FromContext(ctx)
			parent := ctx
			if v, ok := s.httpSpans.Load(rid); ok {
				parent = trace.ContextWithSpan(ctx, v.(trace.Span))
			}
			_, span := s.tracer.Start(parent, "deepauth.rewrite")
			span.SetAttributes(
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.String("graphql.operation.type", e.OperationType),
			)
			s.rewriteSpans.Store(rid, span)
		}),

		eventbus.On(b, func(ctx context.Context, e events.RewriteFinish) {
			rid, _ := reqid.FromContext(ctx)
			v, ok := s.rewriteSpans.LoadAndDelete(rid)
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(attribute.Int("deepauth.actions", e.Actions))
			if e.Err != nil {
				span.SetAttributes(attribute.String("deepauth.error_code", e.Code))
				span.RecordError(e.Err)
				span.SetStatus(codes.Error, e.Err.Error())
			}
			span.End()
		}),
	}
	return func() {
		for _, u := range unsubscribe {
			u()
		}
	}
}
