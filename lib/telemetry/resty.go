package telemetry

import (
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceResty opens a client span per request made through client.
// Only the host is recorded since request urls may carry secrets.
func TraceResty(client *resty.Client, tracerName string) {
	tracer := otel.Tracer(tracerName)

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		ctx, _ := tracer.Start(
			req.Context(),
			fmt.Sprintf("http %s", req.Method),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(semconv.HTTPRequestMethodKey.String(req.Method)),
		)
		req.SetContext(ctx)
		return nil
	})
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		span := trace.SpanFromContext(res.Request.Context())
		defer span.End()

		span.SetAttributes(semconv.HTTPResponseStatusCode(res.StatusCode()))
		if res.RawResponse != nil && res.RawResponse.Request != nil {
			span.SetAttributes(attribute.String("server.address", res.RawResponse.Request.URL.Host))
		}
		if res.IsError() {
			span.SetStatus(codes.Error, res.Status())
		}
		return nil
	})
	client.OnError(func(req *resty.Request, err error) {
		span := trace.SpanFromContext(req.Context())
		defer span.End()

		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
	})
}
