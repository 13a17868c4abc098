package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/crowdleaf-simulator/internal/config"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/sim"
	"github.com/signalsfoundry/crowdleaf-simulator/model"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAPICollector(reg)
	if err != nil {
		t.Fatalf("NewAPICollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/crowdleaf.v1.SimulationService/GetState"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req any) (any, error) {
		time.Sleep(time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("SimulationService", "GetState", "OK")); got != 1 {
		t.Fatalf("crowdleaf_api_requests_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "crowdleaf_api_request_duration_seconds", map[string]string{
		"service": "SimulationService",
		"method":  "GetState",
	}); count != 1 {
		t.Fatalf("crowdleaf_api_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAPICollector(reg)
	if err != nil {
		t.Fatalf("NewAPICollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/crowdleaf.v1.SimulationService/GetMetrics"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.FailedPrecondition, "no run")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("SimulationService", "GetMetrics", "FailedPrecondition")); got != 1 {
		t.Fatalf("crowdleaf_api_requests_total error label = %v, want 1", got)
	}
}

func TestNewAPICollectorReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewAPICollector(reg)
	if err != nil {
		t.Fatalf("NewAPICollector: %v", err)
	}
	second, err := NewAPICollector(reg)
	if err != nil {
		t.Fatalf("second NewAPICollector: %v", err)
	}
	first.RPCRequests.WithLabelValues("s", "m", "OK").Inc()
	if got := testutil.ToFloat64(second.RPCRequests.WithLabelValues("s", "m", "OK")); got != 1 {
		t.Fatalf("shared counter = %v, want 1", got)
	}
}

func TestMetricsHandlerExposesLiveGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAPICollector(reg)
	if err != nil {
		t.Fatalf("NewAPICollector: %v", err)
	}
	collector.SetProgress(3, 42, 300)
	collector.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()
	collector.RPCDurations.WithLabelValues("svc", "method").Observe(0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, line := range []string{
		"crowdleaf_api_requests_total",
		"crowdleaf_api_request_duration_seconds",
		"crowdleaf_live_runs_completed 3",
		"crowdleaf_live_tick 42",
		"crowdleaf_live_ticks 300",
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected %q in /metrics output:\n%s", line, body)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	cases := []struct {
		in            string
		service, meth string
	}{
		{"/crowdleaf.v1.SimulationService/GetState", "SimulationService", "GetState"},
		{"SimulationService/GetDoorStates", "SimulationService", "GetDoorStates"},
		{"", "unknown", "unknown"},
		{"/nomethod", "unknown", "unknown"},
	}
	for _, tc := range cases {
		s, m := SplitMethod(tc.in)
		if s != tc.service || m != tc.meth {
			t.Fatalf("SplitMethod(%q) = %q, %q, want %q, %q", tc.in, s, m, tc.service, tc.meth)
		}
	}
}

func TestCrowdCollectorObserveTick(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCrowdCollector(reg)
	if err != nil {
		t.Fatalf("NewCrowdCollector: %v", err)
	}

	for i := 0; i < 2; i++ {
		c.ObserveTick("adaptive", sim.TickResult{
			Tick:         i,
			Injuries:     5,
			Deaths:       1,
			Evacuated:    7,
			Overcrowding: 2,
			MeanDensity:  1.5,
			Doors:        map[model.DoorState]int{model.DoorOpen: 3, model.DoorClosed: 1},
			Elapsed:      time.Millisecond,
		})
	}
	c.ObserveTick("baseline", sim.TickResult{Injuries: 9})

	if got := testutil.ToFloat64(c.Injuries.WithLabelValues("adaptive")); got != 5 {
		t.Fatalf("crowdleaf_injuries{adaptive} = %v, want 5", got)
	}
	if got := testutil.ToFloat64(c.Injuries.WithLabelValues("baseline")); got != 9 {
		t.Fatalf("crowdleaf_injuries{baseline} = %v, want 9", got)
	}
	if got := testutil.ToFloat64(c.Evacuated.WithLabelValues("adaptive")); got != 7 {
		t.Fatalf("crowdleaf_evacuated = %v, want 7", got)
	}
	if got := testutil.ToFloat64(c.Overcrowding.WithLabelValues("adaptive")); got != 4 {
		t.Fatalf("crowdleaf_overcrowding_events_total = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.Ticks.WithLabelValues("adaptive")); got != 2 {
		t.Fatalf("crowdleaf_ticks_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.ActiveDoors.WithLabelValues("closed")); got != 1 {
		t.Fatalf("crowdleaf_active_doors{closed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.ActiveDoors.WithLabelValues("redirect")); got != 0 {
		t.Fatalf("crowdleaf_active_doors{redirect} = %v, want 0", got)
	}
	if count := histogramSampleCount(t, c.Gatherer(), "crowdleaf_tick_duration_seconds", map[string]string{"mode": "adaptive"}); count != 2 {
		t.Fatalf("crowdleaf_tick_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestCrowdCollectorNilSafe(t *testing.T) {
	var c *CrowdCollector
	c.ObserveTick("baseline", sim.TickResult{})
	if c.Gatherer() != nil {
		t.Fatalf("nil collector Gatherer() should be nil")
	}
}

func TestTracingConfigFromConfig(t *testing.T) {
	t.Setenv("CROWDLEAF_TRACING_SERVICE_NAME", "")
	t.Setenv("CROWDLEAF_TRACING_SAMPLE_RATIO", "")

	cfg := TracingConfigFromConfig(config.TracingConfig{Enabled: true, Exporter: "OTLP", SampleRatio: 2})
	if cfg.Exporter != "otlp" {
		t.Fatalf("Exporter = %q, want otlp", cfg.Exporter)
	}
	if cfg.SampleRatio != 1 {
		t.Fatalf("SampleRatio = %v, want 1", cfg.SampleRatio)
	}
	if cfg.ServiceName != defaultServiceName {
		t.Fatalf("ServiceName = %q, want %q", cfg.ServiceName, defaultServiceName)
	}

	t.Setenv("CROWDLEAF_TRACING_SERVICE_NAME", "crowdleaf-test")
	t.Setenv("CROWDLEAF_TRACING_SAMPLE_RATIO", "0.25")
	cfg = TracingConfigFromConfig(config.TracingConfig{})
	if cfg.Exporter != "stdout" || cfg.ServiceName != "crowdleaf-test" || cfg.SampleRatio != 0.25 {
		t.Fatalf("TracingConfigFromConfig = %+v", cfg)
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 1}, nil); err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func TestNewSamplerByRatio(t *testing.T) {
	cases := map[float64]string{
		1:    "AlwaysOnSampler",
		0:    "AlwaysOffSampler",
		0.25: "TraceIDRatioBased{0.25}",
	}
	for ratio, want := range cases {
		got := newSampler(ratio).Description()
		if !strings.HasPrefix(got, "ParentBased{") || !strings.Contains(got, "root:"+want) {
			t.Errorf("newSampler(%v) = %q, want ParentBased root %s", ratio, got, want)
		}
	}
}

func TestNewResourceDescribesSimulator(t *testing.T) {
	res, err := newResource(context.Background(), TracingConfig{ServiceName: "crowdleaf-server", Topology: "dfw"})
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	set := res.Set()
	for key, want := range map[string]string{
		"service.name":       "crowdleaf-server",
		"service.namespace":  "crowdleaf",
		"crowdleaf.topology": "dfw",
	} {
		if v, ok := set.Value(attribute.Key(key)); !ok || v.AsString() != want {
			t.Fatalf("%s = %q, want %q", key, v.AsString(), want)
		}
	}
	if v, ok := set.Value("service.instance.id"); !ok || v.AsString() == "" {
		t.Fatalf("service.instance.id missing")
	}

	res, err = newResource(context.Background(), TracingConfig{ServiceName: "x", Instance: "node-1"})
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	if v, _ := res.Set().Value("service.instance.id"); v.AsString() != "node-1" {
		t.Fatalf("service.instance.id = %q, want node-1", v.AsString())
	}
	if _, ok := res.Set().Value("crowdleaf.topology"); ok {
		t.Fatalf("crowdleaf.topology set without a topology")
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
