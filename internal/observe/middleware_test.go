package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// probe wires Middleware to in-memory metric and span sinks. It swaps the
// global tracer provider, so tests using it must not run in parallel.
type probe struct {
	reader *sdkmetric.ManualReader
	spans  *tracetest.InMemoryExporter
	h      http.Handler
	seen   string
}

func newProbe(t *testing.T, status int) *probe {
	t.Helper()

	p := &probe{reader: sdkmetric.NewManualReader(), spans: tracetest.NewInMemoryExporter()}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(p.reader))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(p.spans))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	p.h = Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.seen = CorrelationID(r.Context())
		w.WriteHeader(status)
	}))
	return p
}

func (p *probe) get(path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	p.h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_Span(t *testing.T) {
	tests := []struct {
		path   string
		status int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable},
		{"/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			p := newProbe(t, tt.status)
			rec := p.get(tt.path, nil)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if len(p.seen) != 32 {
				t.Errorf("handler saw correlation ID %q, want a 32-char trace ID", p.seen)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != p.seen {
				t.Errorf("X-Correlation-ID = %q, want %q", got, p.seen)
			}

			spans := p.spans.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			if want := "HTTP GET " + tt.path; spans[0].Name != want {
				t.Errorf("span name = %q, want %q", spans[0].Name, want)
			}
			var code int64
			for _, a := range spans[0].Attributes {
				if a.Key == "http.response.status_code" {
					code = a.Value.AsInt64()
				}
			}
			if code != int64(tt.status) {
				t.Errorf("span status attribute = %d, want %d", code, tt.status)
			}
		})
	}
}

func TestMiddleware_Duration(t *testing.T) {
	p := newProbe(t, http.StatusOK)
	p.get("/metrics", nil)
	p.get("/metrics", nil)

	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "oralexam.http.request.duration")
	if met == nil {
		t.Fatal("request duration histogram not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("data = %T with %d points, want one float64 histogram point", met.Data, len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Errorf("count = %d, want 2", dp.Count)
	}
	for key, want := range map[attribute.Key]string{"method": "GET", "path": "/metrics"} {
		if v, ok := dp.Attributes.Value(key); !ok || v.AsString() != want {
			t.Errorf("attribute %s = %q, want %q", key, v.AsString(), want)
		}
	}
}

func TestMiddleware_ContinuesTraceparent(t *testing.T) {
	const traceID = "0af7651916cd43dd8448eb211c80319c"

	p := newProbe(t, http.StatusNoContent)
	rec := p.get("/healthz", http.Header{
		"Traceparent": {"00-" + traceID + "-b7ad6b7169203331-01"},
	})

	if p.seen != traceID {
		t.Errorf("correlation ID = %q, want incoming trace %q", p.seen, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}
