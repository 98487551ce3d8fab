package app_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxnav/internal/app"
	"github.com/MrWong99/voxnav/internal/config"
	"github.com/MrWong99/voxnav/internal/observe"
	pagemock "github.com/MrWong99/voxnav/internal/page/mock"
	"github.com/MrWong99/voxnav/internal/resilience"
	speechmock "github.com/MrWong99/voxnav/internal/speech/mock"
	"github.com/MrWong99/voxnav/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxnav/pkg/provider/llm/mock"
	"github.com/MrWong99/voxnav/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxnav/pkg/provider/tts/mock"
	"go.opentelemetry.io/otel/sdk/metric"
)

// testConfig returns a rules-only config with speech disabled.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Parser.Remote = false
	cfg.Speech.Backend = config.SpeechNone
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(metric.NewMeterProvider(metric.WithReader(metric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) (*app.App, *pagemock.Driver) {
	t.Helper()
	driver := &pagemock.Driver{CurrentURL: "https://example.com/"}
	opts = append([]app.Option{app.WithDriver(driver), app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a, driver
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_RulesOnly(t *testing.T) {
	t.Parallel()
	a, driver := newApp(t, testConfig(), nil)

	if a.Speech() != nil {
		t.Error("Speech() should be nil with backend none")
	}

	rec := post(t, a.Handler(), "/api/v1/command", `{"transcript":"go back"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got := driver.Called("Back"); len(got) != 1 {
		t.Errorf("Back calls = %d, want 1", len(got))
	}
	if a.Dispatcher().History().Len() != 1 {
		t.Errorf("history len = %d", a.Dispatcher().History().Len())
	}
}

func TestNew_RemoteParser(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Parser.Remote = true
	model := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{"action":"REFRESH"}`},
	}
	a, driver := newApp(t, cfg, &app.Providers{LLM: model})

	rec := post(t, a.Handler(), "/api/v1/command", `{"transcript":"reload it please"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(model.CompleteCalls) != 1 {
		t.Errorf("Complete calls = %d, want 1", len(model.CompleteCalls))
	}
	if len(driver.Called("Refresh")) != 1 {
		t.Errorf("driver calls = %v", driver.Methods())
	}
}

func TestNew_SpeechBackends(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		backend config.SpeechBackend
		opts    []app.Option
		wantErr string
	}{
		{name: "synth without tts", backend: config.SpeechSynth, wantErr: "requires a TTS provider"},
		{name: "browser without playwright", backend: config.SpeechBrowser, wantErr: "requires the playwright driver"},
		{name: "injected backend", backend: config.SpeechBrowser, opts: []app.Option{app.WithSpeechBackend(&speechmock.Backend{})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			cfg.Speech.Backend = tt.backend
			opts := append([]app.Option{
				app.WithDriver(&pagemock.Driver{}),
				app.WithMetrics(testMetrics(t)),
			}, tt.opts...)

			a, err := app.New(context.Background(), cfg, nil, opts...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer a.Shutdown(context.Background())
			if a.Speech() == nil {
				t.Fatal("Speech() = nil")
			}
		})
	}
}

func TestNew_SynthPicksVoice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		lang    string
		voices  []tts.Voice
		listErr error
		wantErr string
	}{
		{name: "language match", lang: "de-DE", voices: []tts.Voice{{ID: "en1", Language: "en"}, {ID: "de1", Language: "de"}}},
		{name: "no match uses first", lang: "fr-FR", voices: []tts.Voice{{ID: "en1", Language: "en"}}},
		{name: "no voices", lang: "en-US", wantErr: "no voices"},
		{name: "list fails", lang: "en-US", listErr: errors.New("401"), wantErr: "list tts voices"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			cfg.Speech.Backend = config.SpeechSynth
			cfg.Speech.Lang = tt.lang
			p := &ttsmock.Provider{ListVoicesResult: tt.voices, ListVoicesErr: tt.listErr}

			a, err := app.New(context.Background(), cfg, &app.Providers{TTS: p},
				app.WithDriver(&pagemock.Driver{}), app.WithMetrics(testMetrics(t)))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer a.Shutdown(context.Background())
			if a.Speech() == nil {
				t.Fatal("Speech() = nil")
			}
		})
	}
}

func TestApp_HealthRoutes(t *testing.T) {
	t.Parallel()
	a, driver := newApp(t, testConfig(), nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s = %d, want 200", path, rec.Code)
		}
	}

	driver.Errs = map[string]error{"URL": errors.New("browser crashed")}
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz with dead browser = %d, want 503", rec.Code)
	}
}

func TestApp_ReadyzReportsOpenBreakers(t *testing.T) {
	t.Parallel()
	failing := &llmmock.Provider{CompleteErr: errors.New("upstream down")}
	chain := resilience.NewLLMChain("primary", failing, resilience.BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	a, _ := newApp(t, testConfig(), &app.Providers{LLM: chain})

	if _, err := chain.Complete(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Fatal("expected chain error")
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"llm"`) {
		t.Errorf("body = %s, want llm check", rec.Body)
	}
}

func TestApp_ExtraRoute(t *testing.T) {
	t.Parallel()
	a, _ := newApp(t, testConfig(), nil, app.WithRoute("GET /metrics", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Body.String() != "# metrics" {
		t.Errorf("body = %q", rec.Body)
	}
}

func TestApp_MCPEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    string
		wantMCP bool
	}{
		{"default path", "/mcp", true},
		{"disabled", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			cfg.Server.MCPPath = tt.path
			a, _ := newApp(t, cfg, nil)

			rec := httptest.NewRecorder()
			a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))
			if got := rec.Code != http.StatusNotFound; got != tt.wantMCP {
				t.Errorf("GET /mcp = %d, mounted = %v, want %v", rec.Code, got, tt.wantMCP)
			}
		})
	}
}

func TestApp_Reload(t *testing.T) {
	t.Parallel()
	var lv slog.LevelVar
	cfg := testConfig()
	cfg.Speech.Backend = config.SpeechBrowser
	a, _ := newApp(t, cfg, nil, app.WithLogLevel(&lv), app.WithSpeechBackend(&speechmock.Backend{}))

	for range 3 {
		post(t, a.Handler(), "/api/v1/command", `{"transcript":"scroll down"}`)
	}

	next := *cfg
	next.Server.LogLevel = config.LogDebug
	next.History.Size = 1
	next.Browser.Headless = false
	a.Reload(cfg, &next)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", lv.Level())
	}
	if got := a.Dispatcher().History().Len(); got != 1 {
		t.Errorf("history len = %d, want 1 after resize", got)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()
	a, _ := newApp(t, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
	}()

	// Give Run a moment to start listening.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	// Second call is a no-op.
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}

func TestApp_ShutdownStopsSpeech(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Speech.Backend = config.SpeechBrowser
	backend := &speechmock.Backend{}
	a, _ := newApp(t, cfg, nil, app.WithSpeechBackend(backend))

	if _, err := a.Speech().Start(context.Background(), "Some text to read."); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if backend.Cancels() == 0 {
		t.Error("backend was not cancelled on shutdown")
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := app.SlogLevel(tt.in); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
