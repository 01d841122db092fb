package stt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/loqalabs/loqa-vitals/internal/audio"
	"github.com/loqalabs/loqa-vitals/internal/config"
)

var pcm = make([]byte, 3200)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func doubaoConfig(uri string) config.STTConfig {
	cfg := config.Default().STT
	cfg.Enabled = true
	cfg.Mode = "doubao"
	cfg.URI = uri
	cfg.AppID = "app-1"
	cfg.Token = "tok-1"
	return cfg
}

func fixedOffline() *Offline {
	return NewOffline(0, WithPicker(func(int) int { return 1 }))
}

func newTestGateway(t *testing.T, cfg config.STTConfig) *Gateway {
	t.Helper()
	g, err := NewGateway(cfg, fixedOffline(), quietLogger())
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return g
}

func TestGatewayUnconfiguredUsesOffline(t *testing.T) {
	g := newTestGateway(t, config.Default().STT)

	out := g.Attempt(context.Background(), pcm)
	if !errors.Is(out.Err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", out.Err)
	}
	if text := g.Transcribe(context.Background(), pcm); text != DefaultSamples[1] {
		t.Fatalf("unexpected offline text %q", text)
	}
}

func TestGatewayStreamingSuccess(t *testing.T) {
	fb := newFakeBackend(t, func(conn *websocket.Conn) {
		writeFrame(conn, `{"code":0,"data":{"segments":[{"text":"血糖5.8","final_result":true}],"is_final":true}}`)
		_, _, _ = conn.ReadMessage()
	})
	g := newTestGateway(t, doubaoConfig(fb.URL()))
	out := g.Resolve(context.Background(), pcm)
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Text != "血糖5.8" || out.Backend != BackendStreaming {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	sent, _ := fb.audio.Load().([]byte)
	if !audio.IsWAV(sent) {
		t.Fatal("expected raw pcm to be sent as wav")
	}
}

func TestGatewayFallsBackOnProtocolError(t *testing.T) {
	fb := newFakeBackend(t, func(conn *websocket.Conn) {
		writeFrame(conn, `{"code":1001,"message":"bad request"}`)
		_, _, _ = conn.ReadMessage()
	})

	g := newTestGateway(t, doubaoConfig(fb.URL()))
	out := g.Resolve(context.Background(), pcm)
	if out.Backend != BackendOffline || out.Text != DefaultSamples[1] {
		t.Fatalf("expected offline fallback, got %+v", out)
	}
	var perr *ProtocolError
	if !errors.As(out.Err, &perr) || perr.Code != 1001 {
		t.Fatalf("expected protocol error to be kept, got %v", out.Err)
	}
	if text := g.Transcribe(context.Background(), pcm); text == "" {
		t.Fatal("transcribe must never return empty text")
	}
}

func TestGatewayHTTPTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":{"text":"体重75公斤"}}`))
	}))
	defer srv.Close()

	g := newTestGateway(t, doubaoConfig(srv.URL))
	out := g.Resolve(context.Background(), pcm)
	if out.Err != nil || out.Backend != BackendHTTP || out.Text != "体重75公斤" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestGatewayDisabledBackend(t *testing.T) {
	cfg := doubaoConfig("ws://127.0.0.1:1/asr")
	cfg.Enabled = false
	g := newTestGateway(t, cfg)

	if out := g.Attempt(context.Background(), pcm); !errors.Is(out.Err, ErrNotConfigured) {
		t.Fatalf("expected disabled backend to count as not configured, got %v", out.Err)
	}
	if st := g.Status(); !st.Configured || st.Enabled {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestGatewayConfigure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":{"text":"睡了7个小时"}}`))
	}))
	defer srv.Close()

	g := newTestGateway(t, config.Default().STT)
	if err := g.Configure(doubaoConfig(srv.URL)); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if text := g.Transcribe(context.Background(), pcm); text != "睡了7个小时" {
		t.Fatalf("expected backend text after configure, got %q", text)
	}

	bad := doubaoConfig(srv.URL)
	bad.Mode = "carrier-pigeon"
	if err := g.Configure(bad); err == nil {
		t.Fatal("expected invalid config to be rejected")
	}
	if st := g.Status(); st.Backend != BackendHTTP {
		t.Fatalf("expected previous backend to stay, got %+v", st)
	}
}

func TestGatewayRejectsUnpreparableAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend should not be called")
	}))
	defer srv.Close()

	g := newTestGateway(t, doubaoConfig(srv.URL))
	out := g.Resolve(context.Background(), []byte{1, 2, 3})
	if out.Backend != BackendOffline || out.Err == nil {
		t.Fatalf("expected fallback after prepare failure, got %+v", out)
	}
}

func TestGatewayRejectsMismatchedWAV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend should not be called")
	}))
	defer srv.Close()

	stereo, err := audio.EncodePCM(pcm, audio.Format{SampleRate: 8000, Channels: 2, Bits: 16})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	g := newTestGateway(t, doubaoConfig(srv.URL))
	out := g.Resolve(context.Background(), stereo)
	if out.Backend != BackendOffline || !errors.Is(out.Err, audio.ErrFormatMismatch) {
		t.Fatalf("expected fallback on format mismatch, got %+v", out)
	}
}

func TestGatewayPassesMatchingWAV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":{"text":"血压120/80"}}`))
	}))
	defer srv.Close()

	mono, err := audio.EncodePCM(pcm, audio.Format{SampleRate: 16000, Channels: 1, Bits: 16})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	g := newTestGateway(t, doubaoConfig(srv.URL))
	if out := g.Resolve(context.Background(), mono); out.Err != nil || out.Text != "血压120/80" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestGatewayConcurrentUpdatesCompose(t *testing.T) {
	g := newTestGateway(t, config.Default().STT)

	var wg sync.WaitGroup
	edits := []func(*config.STTConfig){
		func(c *config.STTConfig) { c.AppID = "app-1" },
		func(c *config.STTConfig) { c.Token = "tok-1" },
		func(c *config.STTConfig) { c.Cluster = "volc_asr_pro" },
		func(c *config.STTConfig) { c.TimeoutMS = 5000 },
	}
	for _, edit := range edits {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Update(edit); err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	cfg := g.Config()
	if cfg.AppID != "app-1" || cfg.Token != "tok-1" || cfg.Cluster != "volc_asr_pro" || cfg.TimeoutMS != 5000 {
		t.Fatalf("expected every edit to survive, got %+v", cfg)
	}
}

func TestGatewayUpdateRejectsInvalid(t *testing.T) {
	g := newTestGateway(t, config.Default().STT)
	if err := g.Update(func(c *config.STTConfig) { c.Mode = "carrier-pigeon" }); err == nil {
		t.Fatal("expected invalid mode to be rejected")
	}
	if g.Config().Mode != config.Default().STT.Mode {
		t.Fatalf("rejected edit leaked into config: %+v", g.Config())
	}
}
