package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcherReloadOnWrite(t *testing.T) {
	path := writeTempConfig(t, validYAML)

	updates := make(chan AppConfig, 1)
	w, err := NewWatcher(path, time.Millisecond, func(cfg AppConfig) {
		select {
		case updates <- cfg:
		default:
		}
	}, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	updated := validYAML + "\n# touched\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-updates:
		if cfg.Env != "dev" {
			t.Fatalf("unexpected reloaded config: %+v", cfg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}
}

func TestWatcherIgnoresBrokenConfig(t *testing.T) {
	path := writeTempConfig(t, validYAML)

	errs := make(chan error, 1)
	w, err := NewWatcher(path, time.Millisecond, func(AppConfig) {
		t.Error("broken config must not trigger update")
	}, func(e error) {
		select {
		case errs <- e:
		default:
		}
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(path, []byte("env: [broken"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error callback")
	}
}
