// Package pipeline composes transcription and extraction into a single
// recognize call and hands results to storage and the bus.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/loqalabs/loqa-vitals/internal/config"
	"github.com/loqalabs/loqa-vitals/internal/extract"
	"github.com/loqalabs/loqa-vitals/internal/health"
	"github.com/loqalabs/loqa-vitals/internal/protocol"
	"github.com/loqalabs/loqa-vitals/internal/stt"
)

var (
	// ErrInsufficientInput means the recording or transcript was empty or too
	// short to work with; the user should record again.
	ErrInsufficientInput = errors.New("insufficient input")
	// ErrNothingRecognized means a transcript was obtained but no domain
	// matched; the user should restate the values more explicitly.
	ErrNothingRecognized = errors.New("nothing recognized")
	// ErrRecordingTooShort is the ErrInsufficientInput raised before any
	// transcription is attempted.
	ErrRecordingTooShort = fmt.Errorf("%w: recording too short", ErrInsufficientInput)
	// ErrRecordingTooLong means a bus session outgrew pipeline.max_audio_bytes.
	ErrRecordingTooLong = errors.New("recording too long")
)

// Transcriber resolves audio to text, never failing.
type Transcriber interface {
	Resolve(ctx context.Context, audio []byte) stt.Outcome
}

type RecordSaver interface {
	SaveMany(ctx context.Context, recs []health.Record) error
}

type Publisher interface {
	Publish(subject string, v any) error
}

// Result is what one recognition produced.
type Result struct {
	SessionID  string                  `json:"session_id"`
	Transcript string                  `json:"transcript"`
	Backend    stt.Backend             `json:"backend"`
	Degraded   bool                    `json:"degraded"`
	Extraction health.ExtractionResult `json:"result"`
	CapturedAt time.Time               `json:"captured_at"`
	Persisted  bool                    `json:"persisted"`
}

type Pipeline struct {
	stt    Transcriber
	engine *extract.Engine
	store  RecordSaver
	pub    Publisher
	cfg    config.PipelineConfig
	log    *slog.Logger
	clock  func() time.Time
	newID  func() string
	slots  *semaphore.Weighted

	tracer     trace.Tracer
	requests   metric.Int64Counter
	recognized metric.Int64Counter
}

type Option func(*Pipeline)

func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithStore enables persistence of confirmed records.
func WithStore(s RecordSaver) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithPublisher enables bus announcements.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.pub = pub }
}

func New(transcriber Transcriber, engine *extract.Engine, cfg config.PipelineConfig, log *slog.Logger, opts ...Option) *Pipeline {
	if engine == nil {
		engine = extract.NewEngine()
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		stt:    transcriber,
		engine: engine,
		cfg:    cfg,
		log:    log.With(slog.String("component", "pipeline")),
		clock:  time.Now,
		newID:  health.NewID,
		tracer: otel.Tracer("github.com/loqalabs/loqa-vitals/pipeline"),
	}
	if cfg.MaxConcurrent > 0 {
		p.slots = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.initMetrics(); err != nil {
		p.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return p
}

func (p *Pipeline) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-vitals/pipeline")
	var err error
	p.requests, err = meter.Int64Counter("vitals.pipeline.requests", metric.WithDescription("Recognition requests by outcome"))
	if err != nil {
		return err
	}
	p.recognized, err = meter.Int64Counter("vitals.pipeline.recognized", metric.WithDescription("Recognized records by domain"))
	return err
}

// Recognize transcribes audio and extracts records from the transcript.
func (p *Pipeline) Recognize(ctx context.Context, audio []byte) (Result, error) {
	return p.RecognizeSession(ctx, p.newID(), audio)
}

// RecognizeSession is Recognize with a caller-chosen session ID, used to
// correlate bus messages.
func (p *Pipeline) RecognizeSession(ctx context.Context, sessionID string, audio []byte) (res Result, err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.recognize",
		trace.WithAttributes(attribute.String("session_id", sessionID), attribute.Int("audio_bytes", len(audio))))
	defer func() {
		p.finish(ctx, span, err)
	}()

	res = Result{SessionID: sessionID, CapturedAt: p.clock()}
	if len(audio) == 0 || len(audio) < p.cfg.MinAudioBytes {
		return res, fmt.Errorf("%w (%d bytes)", ErrRecordingTooShort, len(audio))
	}

	out, err := p.transcribe(ctx, audio)
	if err != nil {
		return res, err
	}

	res.Transcript = out.Text
	res.Backend = out.Backend
	res.Degraded = out.Err != nil && !errors.Is(out.Err, stt.ErrNotConfigured)
	if strings.TrimSpace(out.Text) == "" {
		return res, fmt.Errorf("%w: empty transcript", ErrInsufficientInput)
	}
	p.publish(protocol.SubjectTranscriptFinal, protocol.Transcript{
		SessionID: sessionID,
		Text:      out.Text,
		Backend:   string(out.Backend),
		Degraded:  res.Degraded,
		Timestamp: res.CapturedAt.UTC(),
	})

	return p.extract(ctx, res)
}

// transcribe bounds concurrent backend sessions to cfg.MaxConcurrent.
func (p *Pipeline) transcribe(ctx context.Context, audio []byte) (stt.Outcome, error) {
	if p.slots != nil {
		if err := p.slots.Acquire(ctx, 1); err != nil {
			return stt.Outcome{}, fmt.Errorf("wait for transcription slot: %w", err)
		}
		defer p.slots.Release(1)
	}
	ctx, span := p.tracer.Start(ctx, "stt.transcribe")
	defer span.End()
	out := p.stt.Resolve(ctx, audio)
	span.SetAttributes(attribute.String("backend", string(out.Backend)))
	return out, nil
}

// Extract runs extraction on text that was transcribed elsewhere.
func (p *Pipeline) Extract(ctx context.Context, text string) (res Result, err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.extract")
	defer func() {
		p.finish(ctx, span, err)
	}()

	res = Result{SessionID: p.newID(), Transcript: text, CapturedAt: p.clock()}
	if strings.TrimSpace(text) == "" {
		return res, fmt.Errorf("%w: empty transcript", ErrInsufficientInput)
	}
	return p.extract(ctx, res)
}

func (p *Pipeline) extract(ctx context.Context, res Result) (Result, error) {
	_, span := p.tracer.Start(ctx, "extract")
	res.Extraction = p.engine.ExtractAt(res.Transcript, res.CapturedAt)
	domains := res.Extraction.Domains()
	span.SetAttributes(attribute.Int("domains", len(domains)))
	span.End()

	if len(domains) == 0 {
		return res, ErrNothingRecognized
	}
	if p.recognized != nil {
		for _, d := range domains {
			p.recognized.Add(ctx, 1, metric.WithAttributes(attribute.String("domain", string(d))))
		}
	}

	if p.cfg.Persist && p.store != nil {
		if _, err := p.Confirm(ctx, res.Extraction); err != nil {
			return res, err
		}
		res.Persisted = true
	}

	p.publish(protocol.SubjectRecordsExtracted, protocol.RecordsExtracted{
		SessionID:  res.SessionID,
		Transcript: res.Transcript,
		Domains:    domains,
		Result:     res.Extraction,
		CapturedAt: res.CapturedAt.UTC(),
		Persisted:  res.Persisted,
	})
	return res, nil
}

// Confirm stores every record of an extraction result.
func (p *Pipeline) Confirm(ctx context.Context, result health.ExtractionResult) ([]health.Record, error) {
	if p.store == nil {
		return nil, errors.New("record store not configured")
	}
	records, err := result.Records()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNothingRecognized
	}
	if err := p.store.SaveMany(ctx, records); err != nil {
		return nil, fmt.Errorf("persist records: %w", err)
	}
	return records, nil
}

func (p *Pipeline) publish(subject string, v any) {
	if !p.cfg.Publish || p.pub == nil {
		return
	}
	if err := p.pub.Publish(subject, v); err != nil {
		p.log.Warn("failed to publish", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

func (p *Pipeline) finish(ctx context.Context, span trace.Span, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientInput):
		outcome = "insufficient_input"
	case errors.Is(err, ErrNothingRecognized):
		outcome = "nothing_recognized"
	default:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	span.End()
	if p.requests != nil {
		p.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}
