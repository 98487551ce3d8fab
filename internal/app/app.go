// Package app wires all voxnav subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, Reload applies
// hot-reloadable config changes, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithDriver,
// WithSpeechBackend, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxnav/internal/config"
	"github.com/MrWong99/voxnav/internal/dispatch"
	"github.com/MrWong99/voxnav/internal/health"
	"github.com/MrWong99/voxnav/internal/history"
	"github.com/MrWong99/voxnav/internal/mcp"
	"github.com/MrWong99/voxnav/internal/observe"
	"github.com/MrWong99/voxnav/internal/page"
	"github.com/MrWong99/voxnav/internal/page/playwright"
	"github.com/MrWong99/voxnav/internal/parse/remote"
	"github.com/MrWong99/voxnav/internal/resilience"
	"github.com/MrWong99/voxnav/internal/server"
	"github.com/MrWong99/voxnav/internal/speech"
	"github.com/MrWong99/voxnav/internal/speech/browser"
	"github.com/MrWong99/voxnav/internal/speech/synth"
	"github.com/MrWong99/voxnav/internal/vision"
	"github.com/MrWong99/voxnav/pkg/provider/llm"
	"github.com/MrWong99/voxnav/pkg/provider/tts"
)

// shutdownTimeout bounds the graceful HTTP shutdown inside Run.
const shutdownTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	// LLM parses commands. Usually a [*resilience.LLMChain].
	LLM    llm.Provider
	Vision llm.Provider
	TTS    tts.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics  *observe.Metrics
	logLevel *slog.LevelVar
	routes   []route

	// Subsystems: initialised in New, torn down in Shutdown.
	driver     page.Driver
	backend    speech.Backend
	controller *speech.Controller
	hub        *server.Hub
	history    *history.Store[dispatch.ExecutionResult]
	dispatcher *dispatch.Dispatcher
	health     *health.Handler
	handler    http.Handler

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

type route struct {
	pattern string
	handler http.Handler
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDriver injects a page driver instead of launching playwright. The
// caller keeps ownership; Shutdown does not close it.
func WithDriver(d page.Driver) Option {
	return func(a *App) { a.driver = d }
}

// WithSpeechBackend injects a speech backend instead of building the one
// named by speech.backend.
func WithSpeechBackend(b speech.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets Reload adjust the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithRoute mounts an extra handler, e.g. the Prometheus scrape endpoint.
func WithRoute(pattern string, h http.Handler) Option {
	return func(a *App) { a.routes = append(a.routes, route{pattern, h}) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. On error every
// subsystem created so far is closed again.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Browser ───────────────────────────────────────────────────────
	if err := a.initDriver(ctx); err != nil {
		return nil, fmt.Errorf("app: init browser: %w", err)
	}

	// ── 2. Event hub ─────────────────────────────────────────────────────
	a.hub = server.NewHub(
		server.WithOriginPatterns(cfg.Server.AllowedOrigins...),
		server.WithHubMetrics(a.metrics),
	)
	a.closers = append(a.closers, func() error {
		a.hub.Close()
		return nil
	})

	// ── 3. Speech ────────────────────────────────────────────────────────
	if err := a.initSpeech(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init speech: %w", err)
	}

	// ── 4. Dispatcher ────────────────────────────────────────────────────
	a.initDispatcher()

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initDriver launches the browser unless a driver was injected.
func (a *App) initDriver(ctx context.Context) error {
	if a.driver != nil {
		return nil
	}
	bc := a.cfg.Browser
	d, err := playwright.Launch(ctx, playwright.Options{
		Headless:       bc.Headless,
		StartURL:       bc.StartURL,
		ViewportWidth:  bc.Viewport.Width,
		ViewportHeight: bc.Viewport.Height,
		Timeout:        bc.Timeout,
		ClickDelay:     bc.ClickDelay,
		SkipInstall:    bc.SkipInstall,
	})
	if err != nil {
		return err
	}
	a.driver = d
	a.closers = append(a.closers, d.Close)
	slog.Info("browser launched", "headless", bc.Headless, "start_url", bc.StartURL)
	return nil
}

// initSpeech builds the backend named by speech.backend and the controller
// on top of it. With backend "none" no controller is created.
func (a *App) initSpeech(ctx context.Context) error {
	sc := a.cfg.Speech
	if a.backend == nil {
		switch sc.Backend {
		case config.SpeechNone:
			slog.Info("speech disabled")
			return nil

		case config.SpeechSynth:
			if a.providers.TTS == nil {
				return errors.New("synth backend requires a TTS provider")
			}
			voice := tts.Voice{
				ID:       optString(a.cfg.Providers.TTS.Options, "voice_id"),
				Language: sc.Lang,
				Rate:     sc.Rate,
			}
			if voice.ID == "" {
				id, err := pickVoice(ctx, a.providers.TTS, sc.Lang)
				if err != nil {
					return err
				}
				voice.ID = id
			}
			b := synth.New(a.providers.TTS, voice, a.hub)
			a.hub.OnPlayed(func(generation uint64, index int) { b.Played(generation, index) })
			a.backend = b

		default:
			d, ok := a.driver.(*playwright.Driver)
			if !ok {
				return errors.New("browser backend requires the playwright driver")
			}
			b, err := browser.New(d.Page(), browser.Voice{
				Lang:   sc.Lang,
				Rate:   sc.Rate,
				Pitch:  sc.Pitch,
				Volume: sc.Volume,
			})
			if err != nil {
				return err
			}
			a.backend = b
			a.closers = append(a.closers, b.Close)
		}
	}

	a.controller = speech.NewController(a.backend,
		speech.WithStep(sc.Step),
		speech.WithChunkSize(sc.ChunkSize),
		speech.WithIntro(sc.Intro),
		speech.WithNotifier(a.hub),
		speech.WithMetrics(a.metrics),
	)
	// Registered last so it runs first: the backend must be silent before
	// it is closed.
	a.closers = append(a.closers, func() error {
		a.controller.Stop()
		return nil
	})
	slog.Info("speech ready", "backend", sc.Backend, "step", sc.Step, "chunk_size", sc.ChunkSize)
	return nil
}

// initDispatcher assembles the parser, describer and dispatcher.
func (a *App) initDispatcher() {
	a.history = history.New[dispatch.ExecutionResult](a.cfg.History.Size)

	opts := []dispatch.Option{
		dispatch.WithHistory(a.history),
		dispatch.WithMetrics(a.metrics),
		dispatch.WithResultFunc(a.hub.CommandExecuted),
	}

	pc := a.cfg.Parser
	switch {
	case pc.Remote && a.providers.LLM != nil:
		opts = append(opts, dispatch.WithParser(remote.New(a.providers.LLM,
			remote.WithTemperature(pc.Temperature),
			remote.WithTimeout(pc.Timeout),
			remote.WithMetrics(a.metrics),
		)))
		slog.Info("parser ready", "mode", "remote")
	case pc.Remote:
		slog.Warn("remote parsing enabled but no LLM provider available, using rules only")
	default:
		slog.Info("parser ready", "mode", "rules")
	}

	if a.providers.Vision != nil {
		opts = append(opts, dispatch.WithDescriber(a.describer()))
	}
	if a.controller != nil {
		opts = append(opts, dispatch.WithSpeech(a.controller))
	}

	a.dispatcher = dispatch.New(a.driver, opts...)
}

func (a *App) describer() *vision.Describer {
	return vision.New(a.providers.Vision, vision.WithMetrics(a.metrics))
}

// initHTTP builds the API handler with health probes, the MCP endpoint and
// extra routes.
func (a *App) initHTTP() {
	a.health = health.New(a.checkers()...)

	opts := []server.Option{
		server.WithHub(a.hub),
		server.WithMetrics(a.metrics),
		server.WithRoute("GET /healthz", http.HandlerFunc(a.health.Healthz)),
		server.WithRoute("GET /readyz", http.HandlerFunc(a.health.Readyz)),
	}
	if a.controller != nil {
		opts = append(opts, server.WithSpeech(a.controller))
	}
	if a.providers.Vision != nil {
		opts = append(opts, server.WithDescriber(a.describer()))
	}
	if path := a.cfg.Server.MCPPath; path != "" {
		var mopts []mcp.Option
		if a.controller != nil {
			mopts = append(mopts, mcp.WithSpeech(a.controller))
		}
		opts = append(opts, server.WithRoute(path, mcp.Handler(mcp.NewServer(a.dispatcher, mopts...))))
		slog.Info("mcp endpoint enabled", "path", path)
	}
	for _, r := range a.routes {
		opts = append(opts, server.WithRoute(r.pattern, r.handler))
	}
	a.handler = server.New(a.dispatcher, opts...).Handler()
}

// checkers returns the readiness checks: the browser must answer and, when
// the parser model sits behind breakers, at least one of them must be closed.
func (a *App) checkers() []health.Checker {
	checks := []health.Checker{{
		Name: "browser",
		Check: func(ctx context.Context) error {
			_, err := a.driver.URL(ctx)
			return err
		},
	}}
	if chain, ok := a.providers.LLM.(*resilience.LLMChain); ok {
		checks = append(checks, health.Checker{
			Name: "llm",
			Check: func(context.Context) error {
				for _, m := range chain.Members() {
					if m.State != resilience.Open {
						return nil
					}
				}
				return resilience.ErrOpen
			},
		})
	}
	return checks
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the instrumented HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Dispatcher returns the command dispatcher.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Speech returns the playback controller, or nil when speech is disabled.
func (a *App) Speech() *speech.Controller { return a.controller }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on server.listen_addr and blocks until ctx is cancelled,
// then shuts the listener down gracefully. A clean shutdown returns nil.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tc := a.cfg.Server.TLS; tc != nil {
			err = srv.ListenAndServeTLS(tc.CertFile, tc.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve http: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		// Event streams are hijacked and not tracked by Shutdown.
		a.hub.Close()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("http server listening", "addr", a.cfg.Server.ListenAddr, "tls", a.cfg.Server.TLS != nil)
	return g.Wait()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable differences between old and new and
// logs the sections that only take effect after a restart. It matches the
// [config.Watcher] callback signature.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if a.controller != nil {
		if d.StepChanged {
			a.controller.SetStep(d.NewStep)
			slog.Info("speech step changed", "step", d.NewStep)
		}
		if d.IntroChanged {
			a.controller.SetIntro(d.NewIntro)
		}
	}
	if d.HistorySizeChanged {
		a.history.Resize(d.NewHistorySize)
		slog.Info("history size changed", "size", d.NewHistorySize)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs every closer, used when New fails halfway.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// SlogLevel converts a config.LogLevel to its slog counterpart.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// pickVoice returns the first voice whose language matches the primary
// subtag of lang ("en" for "en-US"), or the first voice at all.
func pickVoice(ctx context.Context, p tts.Provider, lang string) (string, error) {
	voices, err := p.ListVoices(ctx)
	if err != nil {
		return "", fmt.Errorf("list tts voices: %w", err)
	}
	if len(voices) == 0 {
		return "", errors.New("tts provider has no voices and no voice_id is configured")
	}
	primary, _, _ := strings.Cut(strings.ToLower(lang), "-")
	for _, v := range voices {
		vl, _, _ := strings.Cut(strings.ToLower(v.Language), "-")
		if primary != "" && vl == primary {
			return v.ID, nil
		}
	}
	return voices[0].ID, nil
}
