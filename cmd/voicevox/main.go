// Command voicevox runs the speech synthesis engine.
//
// By default it serves the HTTP API described by the config file and reloads
// the file when it changes. With -text or -kana it synthesizes a single
// utterance to a WAV file and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/takejohn/voicevox-core/internal/app"
	"github.com/takejohn/voicevox-core/internal/config"
	"github.com/takejohn/voicevox-core/internal/observe"
	"github.com/takejohn/voicevox-core/internal/synthesizer"
	"github.com/takejohn/voicevox-core/internal/userdict"
	"github.com/takejohn/voicevox-core/pkg/provider/inference"
	"github.com/takejohn/voicevox-core/pkg/provider/inference/reference"
	"github.com/takejohn/voicevox-core/pkg/types"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	text := flag.String("text", "", "synthesize this text to -out and exit")
	kana := flag.String("kana", "", "synthesize this kana notation to -out and exit")
	style := flag.Int("style", 0, "style id used with -text or -kana")
	out := flag.String("out", "out.wav", "output WAV path used with -text or -kana")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicevox: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicevox: %v\n", err)
		}
		return 1
	}

	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voicevox starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltins(reg)

	application, err := app.New(ctx, cfg, reg, app.WithMetricsHandler(telemetry.Handler()))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *text != "" || *kana != "" {
		code := synthesizeOnce(ctx, application.Synthesizer(), *text, *kana, types.StyleID(*style), *out)
		shutdown(application)
		return code
	}

	printStartupSummary(cfg, application)

	watcher, err := config.NewWatcher(*configPath, func(_, next *config.Config, diff config.ConfigDiff) {
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
		}
		if err := application.Reload(ctx, next, diff); err != nil {
			slog.Error("config reload incomplete", "err", err)
		}
	})
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		shutdown(application)
		return 1
	}
	defer watcher.Stop()

	slog.Info("server ready; press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		shutdown(application)
		return 1
	}

	slog.Info("shutdown signal received, stopping")
	if err := shutdown(application); err != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func shutdown(a *app.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
		return err
	}
	return nil
}

// synthesizeOnce runs the text or kana pipeline and writes the WAV to path.
func synthesizeOnce(ctx context.Context, synth *synthesizer.Synthesizer, text, kana string, style types.StyleID, path string) int {
	tts, input := synth.TTS, text
	if kana != "" {
		tts, input = synth.TTSFromKana, kana
	}
	wave, err := tts(ctx, input, style, synthesizer.DefaultTTSOptions())
	if err != nil {
		slog.Error("synthesis failed", "err", err)
		return 1
	}
	data, err := wave.WAV()
	if err != nil {
		slog.Error("encode wav", "err", err)
		return 1
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Error("write output", "path", path, "err", err)
		return 1
	}
	slog.Info("wrote audio", "path", path, "seconds", wave.Duration().Seconds())
	return 0
}

// ── Builtins ──────────────────────────────────────────────────────────────────

// registerBuiltins wires the inference backends and user dictionary stores
// compiled into this binary.
func registerBuiltins(reg *config.Registry) {
	reg.RegisterBackend("reference", func(config.BackendEntry) (inference.Provider, error) {
		return reference.New(), nil
	})

	reg.RegisterStore(config.StoreFile, func(_ context.Context, c config.UserDictConfig) (userdict.Store, error) {
		return userdict.NewFileStore(c.Path), nil
	})
	reg.RegisterStore(config.StoreSQLite, func(_ context.Context, c config.UserDictConfig) (userdict.Store, error) {
		return userdict.OpenSQLiteStore(c.Path)
	})
	reg.RegisterStore(config.StorePostgres, openPostgresStore)
}

// postgresStore owns the pool behind a [userdict.PostgresStore].
type postgresStore struct {
	*userdict.PostgresStore
	pool *pgxpool.Pool
}

func (s *postgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func openPostgresStore(ctx context.Context, c config.UserDictConfig) (userdict.Store, error) {
	pool, err := pgxpool.New(ctx, c.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := userdict.NewPostgresStore(pool, c.Name)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &postgresStore{PostgresStore: store, pool: pool}, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, a *app.App) {
	synth := a.Synthesizer()
	mode := "CPU"
	if synth.IsGPUMode() {
		mode = "GPU"
	}
	store := string(cfg.UserDict.Store)
	if store == "" {
		store = "(in memory)"
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       voicevox : startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Device          : %-19s ║\n", mode)
	fmt.Printf("║  CPU threads     : %-19d ║\n", synth.Threads())
	fmt.Printf("║  Voice models    : %-19d ║\n", synth.Registry().Len())
	fmt.Printf("║  Speakers        : %-19d ║\n", len(synth.Metas()))
	fmt.Printf("║  User dictionary : %-19s ║\n", store)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
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
