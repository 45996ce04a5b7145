// Package app wires the engine subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds the synthesizer, loads
// voice models and the user dictionary, and assembles the HTTP API; Run
// serves it; Shutdown tears everything down in order. Reload applies the
// hot-reloadable part of a config change.
//
// For testing, inject doubles via functional options (WithStore,
// WithAnalyzer, ...). When an option is not provided, New builds the real
// implementation from the config through the [config.Registry].
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/takejohn/voicevox-core/internal/analyzer"
	"github.com/takejohn/voicevox-core/internal/config"
	"github.com/takejohn/voicevox-core/internal/health"
	"github.com/takejohn/voicevox-core/internal/observe"
	"github.com/takejohn/voicevox-core/internal/resilience"
	"github.com/takejohn/voicevox-core/internal/server"
	"github.com/takejohn/voicevox-core/internal/synthesizer"
	"github.com/takejohn/voicevox-core/internal/userdict"
	"github.com/takejohn/voicevox-core/internal/voicemodel"
	"github.com/takejohn/voicevox-core/pkg/provider/inference"
	"github.com/takejohn/voicevox-core/pkg/types"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	reg *config.Registry

	// Subsystems, initialised in New.
	analyzer *analyzer.Analyzer
	synth    *synthesizer.Synthesizer
	dict     *userdict.Dictionary
	store    userdict.Store
	api      *server.Server
	failover *resilience.Failover
	metrics  *observe.Metrics
	promHTTP http.Handler

	// mu guards modelPaths and store during Reload.
	mu         sync.Mutex
	modelPaths map[string]types.VoiceModelID

	httpSrv *http.Server

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects the user dictionary store instead of creating one from
// config.
func WithStore(s userdict.Store) Option {
	return func(a *App) { a.store = s }
}

// WithAnalyzer injects a text analyzer instead of loading analyzer.dict_dir.
func WithAnalyzer(an *analyzer.Analyzer) Option {
	return func(a *App) { a.analyzer = an }
}

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h under /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.promHTTP = h }
}

// New creates an App from cfg, instantiating the inference backend and the
// user dictionary store through reg.
//
// New performs all initialisation synchronously: analyzer lexicon, backend
// and synthesizer, voice models, user dictionary, then the HTTP API.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:        cfg,
		reg:        reg,
		dict:       userdict.New(),
		modelPaths: make(map[string]types.VoiceModelID),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initSynthesizer(ctx); err != nil {
		return nil, fmt.Errorf("app: init synthesizer: %w", err)
	}
	if err := a.initModels(ctx); err != nil {
		return nil, fmt.Errorf("app: init models: %w", err)
	}
	// The store may change on Reload, so the closer resolves it late.
	a.closers = append(a.closers, a.closeStore)
	if err := a.initUserDict(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init user dictionary: %w", err)
	}
	a.initServer()
	return a, nil
}

// initSynthesizer loads the analyzer lexicon, builds the backend and creates
// the synthesizer.
func (a *App) initSynthesizer(ctx context.Context) error {
	if a.analyzer == nil && a.cfg.Analyzer.DictDir != "" {
		an, err := analyzer.New(a.cfg.Analyzer.DictDir)
		if err != nil {
			return err
		}
		a.analyzer = an
	}

	backend, err := a.buildBackend()
	if err != nil {
		return err
	}

	mode, err := a.cfg.Synthesizer.Mode()
	if err != nil {
		return err
	}
	opts := []synthesizer.Option{synthesizer.WithMetrics(a.metrics)}
	if a.analyzer != nil {
		opts = append(opts, synthesizer.WithAnalyzer(a.analyzer))
	}
	a.synth, err = synthesizer.New(ctx, backend, synthesizer.InitializeOptions{
		AccelerationMode: mode,
		CPUNumThreads:    a.cfg.Synthesizer.CPUNumThreads,
	}, opts...)
	return err
}

// buildBackend creates the configured backend. With fallbacks configured the
// backends are chained behind per-backend circuit breakers.
func (a *App) buildBackend() (inference.Provider, error) {
	sc := a.cfg.Synthesizer
	entry := sc.Backend
	if entry.Name == "" {
		entry.Name = "reference"
	}
	primary, err := a.reg.CreateBackend(entry)
	if err != nil {
		return nil, err
	}
	if len(sc.Fallbacks) == 0 {
		return primary, nil
	}

	fallbacks := make([]resilience.Backend, 0, len(sc.Fallbacks))
	for _, fb := range sc.Fallbacks {
		p, err := a.reg.CreateBackend(fb)
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", fb.Name, err)
		}
		fallbacks = append(fallbacks, resilience.Backend{Name: fb.Name, Provider: p})
	}
	a.failover = resilience.NewFailover(resilience.BreakerConfig{
		MaxFailures:  sc.CircuitBreaker.MaxFailures,
		ResetTimeout: sc.CircuitBreaker.ResetTimeout,
	}, resilience.Backend{Name: entry.Name, Provider: primary}, fallbacks...)
	slog.Info("backend failover enabled", "primary", entry.Name, "fallbacks", len(fallbacks))
	return a.failover, nil
}

// initModels opens every configured bundle and registers it.
func (a *App) initModels(ctx context.Context) error {
	mc := a.cfg.Models
	var models []*voicemodel.Model
	if mc.Dir != "" {
		found, err := voicemodel.OpenDir(ctx, mc.Dir, mc.OpenConcurrency)
		if err != nil {
			return err
		}
		models = append(models, found...)
	}
	if len(mc.Files) > 0 {
		listed, err := voicemodel.OpenFiles(ctx, mc.Files, mc.OpenConcurrency)
		if err != nil {
			return err
		}
		models = append(models, listed...)
	}

	for _, m := range models {
		if err := a.synth.LoadVoiceModel(ctx, m); err != nil {
			return fmt.Errorf("load %q: %w", m.Path(), err)
		}
		a.modelPaths[m.Path()] = m.ID()
	}
	slog.Info("voice models loaded", "count", len(models), "styles", countStyles(a.synth.Metas()))
	return nil
}

// initUserDict opens the configured store and loads the dictionary from it.
// A missing dictionary file starts an empty dictionary.
func (a *App) initUserDict(ctx context.Context) error {
	if a.store == nil && a.cfg.UserDict.Store != config.StoreNone {
		s, err := a.reg.CreateStore(ctx, a.cfg.UserDict)
		if err != nil {
			return err
		}
		a.store = s
	}
	if a.store == nil {
		return nil
	}
	if err := a.dict.LoadFrom(ctx, a.store); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		slog.Info("user dictionary file not found; starting empty", "path", a.cfg.UserDict.Path)
	}
	slog.Info("user dictionary loaded", "store", a.cfg.UserDict.Store, "words", a.dict.Len())
	return nil
}

// initServer assembles the HTTP API and its readiness checks.
func (a *App) initServer() {
	checks := []health.Checker{health.ModelsLoaded(a.synth.Registry().Len)}
	if a.analyzer != nil {
		checks = append(checks, health.LexiconLoaded(a.analyzer.LexiconSize))
	}
	if a.failover != nil {
		checks = append(checks, health.Ping("backend", a.failover))
	}
	if p, ok := a.store.(health.Pinger); ok {
		checks = append(checks, health.Ping("user_dict", p))
	}

	rl := a.cfg.Server.RateLimit
	opts := []server.Option{
		server.WithMetrics(a.metrics),
		server.WithRateLimit(rl.RequestsPerSecond, rl.Burst),
		server.WithHealth(health.New(checks...)),
	}
	if a.store != nil {
		opts = append(opts, server.WithStore(a.store))
	}
	if a.promHTTP != nil {
		opts = append(opts, server.WithMetricsHandler(a.promHTTP))
	}
	a.api = server.New(a.synth, a.dict, opts...)
}

// Synthesizer returns the engine's synthesizer.
func (a *App) Synthesizer() *synthesizer.Synthesizer { return a.synth }

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// Run serves the HTTP API on cfg.Server.ListenAddr and blocks until ctx is
// cancelled or the listener fails. On cancellation Run returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":50021"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.httpSrv = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.Serve(ln)
		}
		errCh <- err
	}()

	slog.Info("app running", "addr", ln.Addr().String(), "models", a.synth.Registry().Len())
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reload applies the hot-reloadable part of a config change: model files
// added to or removed from models.files and a moved user dictionary store.
// Failures are joined; the parts that succeeded stay applied.
func (a *App) Reload(ctx context.Context, next *config.Config, diff config.ConfigDiff) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for _, path := range diff.ModelsRemoved {
		id, ok := a.modelPaths[path]
		if !ok {
			continue
		}
		if err := a.synth.UnloadVoiceModel(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("unload %q: %w", path, err))
			continue
		}
		delete(a.modelPaths, path)
	}
	for _, path := range diff.ModelsAdded {
		m, err := a.synth.LoadVoiceModelFile(ctx, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("load %q: %w", path, err))
			continue
		}
		a.modelPaths[path] = m.ID()
	}
	if diff.ModelDirChanged {
		slog.Warn("models.dir changed; restart to rescan", "dir", next.Models.Dir)
	}

	if diff.UserDictChanged {
		if err := a.swapStore(ctx, next.UserDict); err != nil {
			errs = append(errs, fmt.Errorf("user dictionary: %w", err))
		}
	}

	a.cfg = next
	return errors.Join(errs...)
}

// swapStore moves the user dictionary to the store described by ud. The old
// store is closed once the new one is in use.
func (a *App) swapStore(ctx context.Context, ud config.UserDictConfig) error {
	var next userdict.Store
	if ud.Store != config.StoreNone {
		s, err := a.reg.CreateStore(ctx, ud)
		if err != nil {
			return err
		}
		next = s
	}
	if err := a.api.ReplaceStore(ctx, next); err != nil {
		if c, ok := next.(io.Closer); ok {
			_ = c.Close()
		}
		return err
	}
	if err := a.closeStore(); err != nil {
		slog.Warn("close previous user dictionary store", "err", err)
	}
	a.store = next
	slog.Info("user dictionary store replaced", "store", ud.Store, "words", a.dict.Len())
	return nil
}

// Shutdown stops the HTTP server and runs the closers. It respects the
// context deadline: if ctx expires first, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
				shutdownErr = err
			}
		}
		if err := a.runClosersCtx(ctx); err != nil {
			shutdownErr = err
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() { _ = a.runClosersCtx(context.Background()) }

func (a *App) runClosersCtx(ctx context.Context) error {
	for i, closer := range a.closers {
		select {
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
			return ctx.Err()
		default:
		}
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	return nil
}

// closeStore closes the current user dictionary store if it holds resources.
func (a *App) closeStore() error {
	if c, ok := a.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func countStyles(metas []types.SpeakerMeta) int {
	n := 0
	for _, m := range metas {
		n += len(m.Styles)
	}
	return n
}
