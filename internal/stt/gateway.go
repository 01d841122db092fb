package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-vitals/internal/audio"
	"github.com/loqalabs/loqa-vitals/internal/config"
)

// Outcome is the typed result of one transcription. On the fallback path
// Backend is BackendOffline and Err keeps the reason the real backend was
// not used.
type Outcome struct {
	Text    string
	Backend Backend
	Err     error
}

// Status describes the gateway's current backend selection.
type Status struct {
	Mode       string  `json:"mode"`
	Enabled    bool    `json:"enabled"`
	Configured bool    `json:"configured"`
	Backend    Backend `json:"backend"`
}

// Gateway owns the choice between a real backend and the offline substitute.
// Transcribe never fails.
type Gateway struct {
	mu      sync.RWMutex
	cfg     config.STTConfig
	backend Transcriber
	kind    Backend

	offline   Transcriber
	logger    *slog.Logger
	attempts  metric.Int64Counter
	fallbacks metric.Int64Counter
}

func NewGateway(cfg config.STTConfig, offline Transcriber, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if offline == nil {
		offline = NewOffline(0)
	}
	g := &Gateway{
		offline: offline,
		logger:  logger.With(slog.String("component", "stt-gateway")),
	}
	if err := g.initMetrics(); err != nil {
		g.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if err := g.Configure(cfg); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gateway) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-vitals/stt")
	var err error
	g.attempts, err = meter.Int64Counter("vitals.stt.attempts", metric.WithDescription("Transcriptions attempted against a real backend"))
	if err != nil {
		return err
	}
	g.fallbacks, err = meter.Int64Counter("vitals.stt.fallbacks", metric.WithDescription("Transcriptions served by the offline substitute after a backend failure"))
	return err
}

// Configure swaps the backend at runtime. An invalid config is rejected and
// the previous backend stays in place.
func (g *Gateway) Configure(cfg config.STTConfig) error {
	return g.Update(func(c *config.STTConfig) { *c = cfg })
}

// Update applies edit to a copy of the active config and swaps the backend.
// edit runs under the gateway lock. An invalid result is rejected and the
// previous backend stays.
func (g *Gateway) Update(edit func(*config.STTConfig)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cfg := g.cfg
	edit(&cfg)
	if err := config.ValidateSTT(cfg); err != nil {
		return err
	}
	var (
		backend Transcriber
		kind    Backend
	)
	if cfg.Configured() {
		var err error
		backend, kind, err = newBackend(cfg, g.logger)
		if err != nil {
			return err
		}
	}
	g.cfg = cfg
	g.backend = backend
	g.kind = kind

	g.logger.Info("stt backend configured",
		slog.String("mode", cfg.Mode),
		slog.Bool("enabled", cfg.Enabled),
		slog.String("backend", string(kind)))
	return nil
}

// Config returns the active transcription config.
func (g *Gateway) Config() config.STTConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

func (g *Gateway) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Status{
		Mode:       g.cfg.Mode,
		Enabled:    g.cfg.Enabled,
		Configured: g.backend != nil,
		Backend:    g.kind,
	}
}

// Attempt runs the real backend only. It returns ErrNotConfigured when there
// is none or it is disabled.
func (g *Gateway) Attempt(ctx context.Context, data []byte) Outcome {
	g.mu.RLock()
	cfg, backend, kind := g.cfg, g.backend, g.kind
	g.mu.RUnlock()

	if backend == nil || !cfg.Enabled {
		return Outcome{Err: ErrNotConfigured}
	}
	if g.attempts != nil {
		g.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", string(kind))))
	}

	payload := data
	if cfg.Format == "wav" {
		format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels, Bits: cfg.Bits}
		if audio.IsWAV(data) {
			info, err := audio.Inspect(data)
			if err == nil {
				err = info.Check(format)
			}
			if err != nil {
				return Outcome{Backend: kind, Err: fmt.Errorf("prepare audio: %w", err)}
			}
		}
		prepared, err := audio.Prepare(data, format)
		if err != nil {
			return Outcome{Backend: kind, Err: fmt.Errorf("prepare audio: %w", err)}
		}
		payload = prepared
	}

	text, err := backend.Transcribe(ctx, payload)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrNoResult
	}
	if err != nil {
		return Outcome{Backend: kind, Err: err}
	}
	return Outcome{Text: text, Backend: kind}
}

// Resolve is Attempt with the offline fallback applied. The returned text is
// never empty.
func (g *Gateway) Resolve(ctx context.Context, data []byte) Outcome {
	out := g.Attempt(ctx, data)
	if out.Err == nil {
		return out
	}
	if !errors.Is(out.Err, ErrNotConfigured) {
		g.logger.Warn("stt backend failed, using offline transcript",
			slog.String("backend", string(out.Backend)),
			slog.String("error", out.Err.Error()))
		if g.fallbacks != nil {
			g.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", string(out.Backend))))
		}
	}
	text, _ := g.offline.Transcribe(ctx, data)
	return Outcome{Text: text, Backend: BackendOffline, Err: out.Err}
}

// Transcribe returns a transcript for data, degrading silently to the
// offline substitute.
func (g *Gateway) Transcribe(ctx context.Context, data []byte) string {
	return g.Resolve(ctx, data).Text
}

func newBackend(cfg config.STTConfig, logger *slog.Logger) (Transcriber, Backend, error) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	switch cfg.Mode {
	case "doubao":
		creds := Credentials{URI: cfg.URI, AppID: cfg.AppID, Token: cfg.Token, Cluster: cfg.Cluster}
		spec := AudioSpec{Format: cfg.Format, SampleRate: cfg.SampleRate, Bits: cfg.Bits, Channels: cfg.Channels}
		if IsStreamingURI(cfg.URI) {
			return &streaming{creds: creds, audio: spec, timeout: timeout}, BackendStreaming, nil
		}
		return NewHTTPTransport(creds, spec, &http.Client{Timeout: timeout}), BackendHTTP, nil
	case "exec":
		t, err := NewExecTranscriber(cfg, logger)
		if err != nil {
			return nil, "", err
		}
		return t, BackendExec, nil
	default:
		return nil, "", fmt.Errorf("stt mode %q has no backend", cfg.Mode)
	}
}

// IsStreamingURI reports whether uri selects the websocket session.
func IsStreamingURI(uri string) bool {
	return strings.HasPrefix(uri, "ws://") || strings.HasPrefix(uri, "wss://")
}

// streaming opens a fresh Session per transcription.
type streaming struct {
	creds   Credentials
	audio   AudioSpec
	timeout time.Duration
}

func (s *streaming) Transcribe(ctx context.Context, data []byte) (string, error) {
	return NewSession(s.creds, s.audio, WithTimeout(s.timeout)).Run(ctx, data)
}
