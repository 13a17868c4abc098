package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// APICollector bundles Prometheus metrics for the gRPC API surface and
// the live comparison, and provides helpers to wire them into gRPC
// servers and HTTP handlers.
type APICollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	LiveRun   prometheus.Gauge
	LiveTick  prometheus.Gauge
	LiveTicks prometheus.Gauge
}

// NewAPICollector registers API Prometheus metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewAPICollector(reg prometheus.Registerer) (*APICollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := gathererFor(reg)

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdleaf_api_requests_total",
		Help: "Total number of handled API RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"})
	requests, err := registerCounterVec(reg, requests, "crowdleaf_api_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crowdleaf_api_request_duration_seconds",
		Help:    "API RPC latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"service", "method"})
	durations, err = registerHistogramVec(reg, durations, "crowdleaf_api_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	run, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crowdleaf_live_runs_completed",
		Help: "Number of live comparison cycles completed by the server.",
	}), "crowdleaf_live_runs_completed")
	if err != nil {
		return nil, err
	}
	tick, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crowdleaf_live_tick",
		Help: "Current tick of the live comparison.",
	}), "crowdleaf_live_tick")
	if err != nil {
		return nil, err
	}
	ticks, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crowdleaf_live_ticks",
		Help: "Total ticks in one live comparison cycle.",
	}), "crowdleaf_live_ticks")
	if err != nil {
		return nil, err
	}

	return &APICollector{
		gatherer:     gatherer,
		RPCRequests:  requests,
		RPCDurations: durations,
		LiveRun:      run,
		LiveTick:     tick,
		LiveTicks:    ticks,
	}, nil
}

func gathererFor(reg prometheus.Registerer) prometheus.Gatherer {
	if g, ok := reg.(prometheus.Gatherer); ok {
		return g
	}
	return prometheus.DefaultGatherer
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *APICollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *APICollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetProgress satisfies state.ProgressRecorder so the live state can
// drive gauge values directly from its tick loop.
func (c *APICollector) SetProgress(run, tick, ticks int) {
	if c == nil {
		return
	}
	if c.LiveRun != nil {
		c.LiveRun.Set(float64(run))
	}
	if c.LiveTick != nil {
		c.LiveTick.Set(float64(tick))
	}
	if c.LiveTicks != nil {
		c.LiveTicks.Set(float64(ticks))
	}
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
