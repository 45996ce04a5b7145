package main

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/takejohn/voicevox-core/internal/config"
	"github.com/takejohn/voicevox-core/internal/userdict"
)

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
		if got := slogLevel(tt.in); got != tt.want {
			t.Errorf("slogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRegisterBuiltins(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltins(reg)

	if _, err := reg.CreateBackend(config.BackendEntry{Name: "reference"}); err != nil {
		t.Errorf("CreateBackend(reference): %v", err)
	}

	dir := t.TempDir()
	file, err := reg.CreateStore(context.Background(), config.UserDictConfig{Store: config.StoreFile, Path: filepath.Join(dir, "dict.json")})
	if err != nil {
		t.Fatalf("CreateStore(file): %v", err)
	}
	if _, ok := file.(*userdict.FileStore); !ok {
		t.Errorf("file store type = %T", file)
	}

	sqlite, err := reg.CreateStore(context.Background(), config.UserDictConfig{Store: config.StoreSQLite, Path: filepath.Join(dir, "dict.db")})
	if err != nil {
		t.Fatalf("CreateStore(sqlite): %v", err)
	}
	t.Cleanup(func() { _ = sqlite.(*userdict.SQLiteStore).Close() })

	_, err = reg.CreateBackend(config.BackendEntry{Name: "onnx"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateBackend(onnx) err = %v, want ErrProviderNotRegistered", err)
	}
}
