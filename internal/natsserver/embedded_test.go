package natsserver

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-vitals/internal/config"
)

func TestStartDisabledReturnsNil(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: false}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if srv != nil {
		t.Fatal("expected no server when embedded mode is off")
	}
}

func TestStartOnLoopback(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Shutdown()
	if url := srv.ClientURL(); !strings.HasPrefix(url, "nats://127.0.0.1:") {
		t.Fatalf("unexpected client url %q", url)
	}
}
