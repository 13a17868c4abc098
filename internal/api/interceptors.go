package api

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/crowdleaf-simulator/internal/logging"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/observability"
)

const (
	requestIDMetadataKey = "x-request-id"
	tracerName           = "github.com/signalsfoundry/crowdleaf-simulator/internal/api"
	spanPrefix           = "crowdleaf.api/"
)

// RequestIDUnaryServerInterceptor gives every call a request id, taken
// from the x-request-id header when the client sent one, echoes it
// back in the response header and logs the call outcome on a logger
// scoped to the method.
func RequestIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(requestIDMetadataKey); len(vals) > 0 && vals[0] != "" {
				ctx = logging.ContextWithRequestID(ctx, vals[0])
			}
		}
		_, method := observability.SplitMethod(info.FullMethod)
		ctx = logging.EnsureRequestID(ctx)
		reqLog := base.With(logging.String("rpc", method))
		ctx = logging.ContextWithLogger(ctx, reqLog)

		// No transport stream when invoked outside a server.
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, logging.RequestIDFromContext(ctx)))

		start := time.Now()
		resp, err := handler(ctx, req)
		reqLog.Debug(ctx, "viewer request served",
			logging.String("code", status.Code(err).String()),
			logging.Duration("elapsed", time.Since(start)),
		)
		return resp, err
	}
}

// TracingUnaryServerInterceptor names the span after the view being read
// and tags it with the run and tick the response describes. It starts a
// server span only when the stats handler has not created one.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		service, method := observability.SplitMethod(info.FullMethod)
		spanName := spanPrefix + method

		span := trace.SpanFromContext(ctx)
		created := false
		if !span.SpanContext().IsValid() {
			ctx, span = tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindServer))
			created = true
		} else {
			span.SetName(spanName)
		}
		if created {
			defer span.End()
		}

		span.SetAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
		)
		if reqID := logging.RequestIDFromContext(ctx); reqID != "" {
			span.SetAttributes(attribute.String("crowdleaf.request_id", reqID))
		}

		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, status.Code(err).String())
			return resp, err
		}
		if view, ok := resp.(*structpb.Struct); ok {
			span.SetAttributes(viewAttributes(view)...)
		}
		return resp, nil
	}
}

// viewAttributes extracts the run and tick counters present on a view.
func viewAttributes(view *structpb.Struct) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for _, key := range []string{"run", "tick", "ticks"} {
		if v, ok := view.GetFields()[key]; ok {
			attrs = append(attrs, attribute.Int64("crowdleaf."+key, int64(v.GetNumberValue())))
		}
	}
	return attrs
}
