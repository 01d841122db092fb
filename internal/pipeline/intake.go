package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-vitals/internal/bus"
	"github.com/loqalabs/loqa-vitals/internal/protocol"
)

const intakeTimeout = 45 * time.Second

// Limits applied when the pipeline config leaves them unset.
const (
	defaultMaxAudioBytes = 8 << 20
	defaultSessionIdle   = 30 * time.Second
)

// Intake collects audio frames from the bus and runs one recognition per
// session once its final frame arrives.
type Intake struct {
	pipeline *Pipeline
	bus      *bus.Client
	log      *slog.Logger

	maxBytes int
	idle     time.Duration
	now      func() time.Time

	sessions map[string]*sessionState
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	sub      *nats.Subscription
	wg       sync.WaitGroup
	ready    bool
}

type sessionState struct {
	buffer   []byte
	next     int
	inflight bool
	// rejected sessions swallow frames until their final frame or eviction.
	rejected bool
	lastSeen time.Time
}

func NewIntake(parent context.Context, p *Pipeline, busClient *bus.Client) *Intake {
	ctx, cancel := context.WithCancel(parent)
	in := &Intake{
		pipeline: p,
		bus:      busClient,
		log:      busClient.Logger().With(slog.String("component", "intake")),
		maxBytes: p.cfg.MaxAudioBytes,
		idle:     time.Duration(p.cfg.SessionIdleMS) * time.Millisecond,
		now:      time.Now,
		sessions: make(map[string]*sessionState),
		ctx:      ctx,
		cancel:   cancel,
	}
	if in.maxBytes <= 0 {
		in.maxBytes = defaultMaxAudioBytes
	}
	if in.idle <= 0 {
		in.idle = defaultSessionIdle
	}
	return in
}

func (in *Intake) Start() error {
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := in.bus.Conn().Subscribe(subject, in.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	in.mu.Lock()
	in.sub = sub
	in.ready = true
	in.mu.Unlock()

	in.wg.Add(1)
	go in.sweep()
	return nil
}

func (in *Intake) sweep() {
	defer in.wg.Done()
	ticker := time.NewTicker(in.idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-in.ctx.Done():
			return
		case <-ticker.C:
			if n := in.evictIdle(in.now()); n > 0 {
				in.log.Warn("evicted idle audio sessions", slog.Int("count", n))
			}
		}
	}
}

// evictIdle drops sessions that saw no frame since now minus the idle
// timeout. Sessions being recognized are left alone.
func (in *Intake) evictIdle(now time.Time) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	evicted := 0
	for id, state := range in.sessions {
		if !state.inflight && now.Sub(state.lastSeen) > in.idle {
			delete(in.sessions, id)
			evicted++
		}
	}
	return evicted
}

// Close stops accepting frames and waits for running recognitions.
func (in *Intake) Close() {
	in.cancel()
	in.mu.Lock()
	sub := in.sub
	in.mu.Unlock()
	if sub != nil {
		_ = sub.Drain()
	}
	in.wg.Wait()
}

func (in *Intake) Healthy() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.ready
}

func (in *Intake) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		in.log.Warn("failed to decode audio frame", slog.String("error", err.Error()))
		return
	}
	if frame.SessionID == "" {
		in.log.Warn("dropping audio frame without session id", slog.String("subject", msg.Subject))
		return
	}

	in.mu.Lock()
	state := in.sessions[frame.SessionID]
	if state == nil {
		state = &sessionState{}
		in.sessions[frame.SessionID] = state
	}
	if state.inflight {
		in.mu.Unlock()
		in.log.Warn("dropping frame for session already being recognized", slog.String("session_id", frame.SessionID))
		return
	}
	state.lastSeen = in.now()
	if state.rejected {
		if frame.Final {
			delete(in.sessions, frame.SessionID)
		}
		in.mu.Unlock()
		return
	}
	if len(state.buffer)+len(frame.Audio) > in.maxBytes {
		state.rejected = true
		state.buffer = nil
		if frame.Final {
			delete(in.sessions, frame.SessionID)
		}
		in.mu.Unlock()
		in.fail(frame.SessionID, fmt.Errorf("%w: over %d bytes", ErrRecordingTooLong, in.maxBytes))
		return
	}
	if frame.Sequence != state.next {
		in.log.Warn("audio frame out of sequence",
			slog.String("session_id", frame.SessionID),
			slog.Int("expected", state.next),
			slog.Int("got", frame.Sequence))
	}
	state.next = frame.Sequence + 1
	state.buffer = append(state.buffer, frame.Audio...)
	if !frame.Final {
		in.mu.Unlock()
		return
	}
	recording := append([]byte(nil), state.buffer...)
	state.inflight = true
	in.mu.Unlock()

	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		in.recognize(frame.SessionID, recording)
	}()
}

func (in *Intake) recognize(sessionID string, recording []byte) {
	defer func() {
		in.mu.Lock()
		delete(in.sessions, sessionID)
		in.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(in.ctx, intakeTimeout)
	defer cancel()

	res, err := in.pipeline.RecognizeSession(ctx, sessionID, recording)
	if err == nil {
		in.log.Info("recognized recording",
			slog.String("session_id", sessionID),
			slog.Any("domains", res.Extraction.Domains()),
			slog.Bool("persisted", res.Persisted))
		return
	}

	in.fail(sessionID, err)
}

// fail logs err and announces it on the bus with the user-facing message.
func (in *Intake) fail(sessionID string, err error) {
	reason, message := Describe(err)
	in.log.Warn("recognition failed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
	failure := protocol.RecognitionFailed{
		SessionID: sessionID,
		Reason:    reason,
		Message:   message,
		Timestamp: in.pipeline.clock().UTC(),
	}
	if err := in.bus.Publish(protocol.SubjectRecognitionFailed, failure); err != nil {
		in.log.Warn("failed to publish recognition failure", slog.String("error", err.Error()))
	}
}

// Describe maps a recognition error to a machine reason and the message
// shown to the user.
func Describe(err error) (reason, message string) {
	switch {
	case errors.Is(err, ErrRecordingTooShort):
		return "recording_too_short", "录音时间太短，请录至少2秒"
	case errors.Is(err, ErrInsufficientInput):
		return "insufficient_input", "未能识别到有效的语音内容，请重新录音"
	case errors.Is(err, ErrRecordingTooLong):
		return "recording_too_long", "录音时间太长，请分段录音"
	case errors.Is(err, ErrNothingRecognized):
		return "nothing_recognized", "未能识别到健康数据，请尝试明确说出体重、血压、血糖、运动或睡眠信息"
	default:
		return "internal", "处理失败，请稍后再试"
	}
}
