package app_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/takejohn/voicevox-core/internal/analyzer"
	"github.com/takejohn/voicevox-core/internal/app"
	"github.com/takejohn/voicevox-core/internal/config"
	"github.com/takejohn/voicevox-core/internal/observe"
	"github.com/takejohn/voicevox-core/internal/userdict"
	"github.com/takejohn/voicevox-core/internal/voicemodel/vvmtest"
	"github.com/takejohn/voicevox-core/pkg/provider/inference"
	"github.com/takejohn/voicevox-core/pkg/provider/inference/mock"
	"github.com/takejohn/voicevox-core/pkg/provider/inference/reference"
	"github.com/takejohn/voicevox-core/pkg/types"
)

const testLexicon = `
entries:
  - {surface: 雨, reading: アメ, accent: 1, pos: noun}
`

// testConfig returns a config loading one model file from a temp dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := vvmtest.WriteFile(t, dir, "alpha.vvm", vvmtest.Bundle("alpha", 0, 1))
	return &config.Config{
		Server:      config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo},
		Synthesizer: config.SynthesizerConfig{AccelerationMode: "CPU", CPUNumThreads: 1},
		Models:      config.ModelsConfig{Files: []string{path}},
	}
}

// closingStore records Close calls on top of a file store.
type closingStore struct {
	*userdict.FileStore
	closed int
}

func (s *closingStore) Close() error { s.closed++; return nil }

func testRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterBackend("reference", func(config.BackendEntry) (inference.Provider, error) {
		return reference.New(), nil
	})
	reg.RegisterStore(config.StoreFile, func(_ context.Context, c config.UserDictConfig) (userdict.Store, error) {
		return &closingStore{FileStore: userdict.NewFileStore(c.Path)}, nil
	})
	return reg
}

func testOptions(t *testing.T) []app.Option {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	lex, err := analyzer.LoadLexiconFromReader(strings.NewReader(testLexicon))
	if err != nil {
		t.Fatalf("LoadLexiconFromReader: %v", err)
	}
	return []app.Option{app.WithMetrics(m), app.WithAnalyzer(analyzer.NewWithLexicon(lex))}
}

func TestNew_LoadsModels(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), testRegistry(), testOptions(t)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if got := a.Synthesizer().Registry().Len(); got != 1 {
		t.Errorf("loaded models = %d, want 1", got)
	}
	if !a.Synthesizer().IsLoadedVoiceModel("alpha") {
		t.Error("model alpha not loaded")
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Synthesizer.Backend.Name = "onnx"
	_, err := app.New(context.Background(), cfg, testRegistry(), testOptions(t)...)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestNew_StyleConflict(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	dup := vvmtest.WriteFile(t, t.TempDir(), "beta.vvm", vvmtest.Bundle("beta", 1))
	cfg.Models.Files = append(cfg.Models.Files, dup)
	_, err := app.New(context.Background(), cfg, testRegistry(), testOptions(t)...)
	if !errors.Is(err, types.ErrStyleConflict) {
		t.Errorf("err = %v, want ErrStyleConflict", err)
	}
}

func TestNew_FallbackBackend(t *testing.T) {
	t.Parallel()

	reg := testRegistry()
	flaky := &mock.Provider{DurationErr: errors.New("device lost"), IntonationErr: errors.New("device lost")}
	reg.RegisterBackend("flaky", func(config.BackendEntry) (inference.Provider, error) { return flaky, nil })

	cfg := testConfig(t)
	cfg.Synthesizer.Backend = config.BackendEntry{Name: "flaky"}
	cfg.Synthesizer.Fallbacks = []config.BackendEntry{{Name: "reference"}}
	a, err := app.New(context.Background(), cfg, reg, testOptions(t)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	q, err := a.Synthesizer().AudioQuery(context.Background(), "雨", 0)
	if err != nil {
		t.Fatalf("AudioQuery through fallback: %v", err)
	}
	if len(q.AccentPhrases) != 1 {
		t.Errorf("phrases = %d, want 1", len(q.AccentPhrases))
	}
	if len(flaky.PredictDurationCalls) == 0 {
		t.Error("primary backend was never tried")
	}
}

func TestNew_MissingDictionaryStartsEmpty(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.UserDict = config.UserDictConfig{Store: config.StoreFile, Path: filepath.Join(t.TempDir(), "dict.json")}
	a, err := app.New(context.Background(), cfg, testRegistry(), testOptions(t)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	srv := httpTestServer(t, a)
	resp, err := http.Post(srv+"/user_dict_word?surface=VOX&accent_type=1&pronunciation="+url.QueryEscape("ボックス"), "", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add word status = %d", resp.StatusCode)
	}

	saved := userdict.New()
	if err := saved.Load(cfg.UserDict.Path); err != nil {
		t.Fatalf("Load saved dictionary: %v", err)
	}
	if saved.Len() != 1 {
		t.Errorf("saved words = %d, want 1", saved.Len())
	}
}

func TestReload_ModelsAndStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.UserDict = config.UserDictConfig{Store: config.StoreFile, Path: filepath.Join(t.TempDir(), "a.json")}
	a, err := app.New(context.Background(), cfg, testRegistry(), testOptions(t)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	next := *cfg
	gamma := vvmtest.WriteFile(t, t.TempDir(), "gamma.vvm", vvmtest.Bundle("gamma", 7))
	next.Models.Files = []string{gamma}
	next.UserDict.Path = filepath.Join(t.TempDir(), "b.json")

	diff := config.Diff(cfg, &next)
	if err := a.Reload(context.Background(), &next, diff); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	synth := a.Synthesizer()
	if synth.IsLoadedVoiceModel("alpha") {
		t.Error("alpha still loaded after removal")
	}
	if !synth.IsLoadedVoiceModel("gamma") {
		t.Error("gamma not loaded after addition")
	}

	moved := userdict.New()
	if err := moved.Load(next.UserDict.Path); err != nil {
		t.Errorf("moved dictionary not written: %v", err)
	}
}

func TestReload_PartialFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a, err := app.New(context.Background(), cfg, testRegistry(), testOptions(t)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	next := *cfg
	good := vvmtest.WriteFile(t, t.TempDir(), "delta.vvm", vvmtest.Bundle("delta", 9))
	next.Models.Files = append(append([]string{}, cfg.Models.Files...), filepath.Join(t.TempDir(), "missing.vvm"), good)

	err = a.Reload(context.Background(), &next, config.Diff(cfg, &next))
	if err == nil {
		t.Fatal("Reload with a missing file succeeded")
	}
	if !a.Synthesizer().IsLoadedVoiceModel("delta") {
		t.Error("valid addition not applied alongside the failure")
	}
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), testRegistry(), testOptions(t)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	resp, err := http.Post(base+"/audio_query?speaker=0&text="+url.QueryEscape("雨"), "", nil)
	if err != nil {
		t.Fatalf("POST /audio_query: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown() returned error: %v", err)
	}
}

func TestShutdown_ClosesStoreOnce(t *testing.T) {
	t.Parallel()

	store := &closingStore{FileStore: userdict.NewFileStore(filepath.Join(t.TempDir(), "dict.json"))}
	cfg := testConfig(t)
	opts := append(testOptions(t), app.WithStore(store))
	a, err := app.New(context.Background(), cfg, testRegistry(), opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	for range 2 {
		if err := a.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown() returned error: %v", err)
		}
	}
	if store.closed != 1 {
		t.Errorf("store closed %d times, want 1", store.closed)
	}
}

func TestShutdown_RespectsDeadline(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), testRegistry(), testOptions(t)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown() = %v, want context.Canceled", err)
	}
}

// httpTestServer serves a on a loopback listener for the test's lifetime.
func httpTestServer(t *testing.T, a *app.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = a.Shutdown(context.Background())
	})
	return "http://" + ln.Addr().String()
}
