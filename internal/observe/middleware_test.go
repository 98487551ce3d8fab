package observe

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newMux returns a ServeMux with a few voxnav-shaped routes wrapped in
// Middleware.
func newMux(t *testing.T) (http.Handler, *Metrics, *tracetest.InMemoryExporter, func() metricdata.ResourceMetrics) {
	t.Helper()
	exp := installTracer(t)
	m, reader := newTestMetrics(t)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/command", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Correlation", CorrelationID(r.Context()))
		_, _ = w.Write([]byte(`{"message":"Scrolling down"}`))
	})
	mux.HandleFunc("POST /api/v1/speech/{op}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return Middleware(m)(mux), m, exp, func() metricdata.ResourceMetrics { return collect(t, reader) }
}

func TestMiddleware_CorrelationHeader(t *testing.T) {
	h, _, _, _ := newMux(t)

	tests := []struct {
		name        string
		traceparent string
		wantID      string
	}{
		{name: "new trace"},
		{
			name:        "continues caller trace",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			wantID:      "4bf92f3577b34da6a3ce929d0e0e4736",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/command", strings.NewReader(`{}`))
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get(CorrelationHeader)
			if !traceIDPattern.MatchString(got) {
				t.Fatalf("%s = %q, want trace ID", CorrelationHeader, got)
			}
			if tt.wantID != "" && got != tt.wantID {
				t.Errorf("%s = %q, want %q", CorrelationHeader, got, tt.wantID)
			}
			if seen := rec.Header().Get("X-Seen-Correlation"); seen != got {
				t.Errorf("handler saw %q, header says %q", seen, got)
			}
			if !strings.Contains(rec.Header().Get("traceparent"), got) {
				t.Errorf("traceparent = %q, want it to carry %s", rec.Header().Get("traceparent"), got)
			}
		})
	}
}

func TestMiddleware_SpanNamedByRoute(t *testing.T) {
	h, _, exp, _ := newMux(t)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/speech/pause", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}

	tests := []struct {
		name       string
		wantName   string
		wantStatus int64
	}{
		{"matched", "POST /api/v1/speech/{op}", http.StatusConflict},
		{"unmatched", "unmatched", http.StatusNotFound},
	}
	for i, tt := range tests {
		s := spans[i]
		if s.Name != tt.wantName {
			t.Errorf("%s: span name = %q, want %q", tt.name, s.Name, tt.wantName)
		}
		var status int64
		for _, kv := range s.Attributes {
			if kv.Key == "http.response.status_code" {
				status = kv.Value.AsInt64()
			}
		}
		if status != tt.wantStatus {
			t.Errorf("%s: status attribute = %d, want %d", tt.name, status, tt.wantStatus)
		}
	}
}

func TestMiddleware_RouteLabelledLatency(t *testing.T) {
	h, _, _, read := newMux(t)

	for _, op := range []string{"pause", "resume", "fastforward", "rewind"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/speech/"+op, nil))
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/command", strings.NewReader(`{}`)))

	met := findMetric(read(), "voxnav.http.request.duration")
	if met == nil {
		t.Fatal("voxnav.http.request.duration not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	counts := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value(attribute.Key("route"))
		counts[route.AsString()] = dp.Count
	}
	if len(counts) != 2 {
		t.Fatalf("routes = %v, want 2 series", counts)
	}
	if counts["POST /api/v1/speech/{op}"] != 4 || counts["POST /api/v1/command"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestMiddleware_AccessLog(t *testing.T) {
	h, _, _, _ := newMux(t)

	tests := []struct {
		name      string
		method    string
		path      string
		wantLevel string
	}{
		{"command", http.MethodPost, "/api/v1/command", "level=INFO"},
		{"failing probe", http.MethodGet, "/readyz", "level=WARN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{}`)))

			out := buf.String()
			if !strings.Contains(out, `msg="http request"`) || !strings.Contains(out, tt.wantLevel) {
				t.Errorf("log = %s, want %s access line", out, tt.wantLevel)
			}
			if !strings.Contains(out, "trace_id=") {
				t.Errorf("log = %s, want trace_id", out)
			}
		})
	}
}

func TestMiddleware_CountsBody(t *testing.T) {
	h, _, _, _ := newMux(t)
	buf := captureLogs(t)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/command", strings.NewReader(`{}`)))

	want := len(`{"message":"Scrolling down"}`)
	if !strings.Contains(buf.String(), "bytes="+strconv.Itoa(want)) || !strings.Contains(buf.String(), "status=200") {
		t.Errorf("log = %s, want bytes=%d status=200", buf, want)
	}
}

func TestMiddleware_NilMetrics(t *testing.T) {
	installTracer(t)
	h := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestResponseWriter_Unwrap(t *testing.T) {
	inner := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: inner}
	if rw.Unwrap() != inner {
		t.Fatal("Unwrap did not return the wrapped writer")
	}
	if err := http.NewResponseController(rw).Flush(); err != nil {
		t.Errorf("Flush through ResponseController: %v", err)
	}
}
