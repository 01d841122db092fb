package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultCluster        = "volc_asr_common"
	DefaultSessionTimeout = 10 * time.Second
)

// State is the lifecycle position of a streaming session.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingResult
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingResult:
		return "awaiting_result"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Credentials identify the caller to the remote backend.
type Credentials struct {
	URI     string
	AppID   string
	Token   string
	Cluster string
}

// AudioSpec is the format metadata announced in the handshake.
type AudioSpec struct {
	Format     string
	SampleRate int
	Bits       int
	Channels   int
}

type handshake struct {
	App struct {
		AppID   string `json:"appid"`
		Token   string `json:"token"`
		Cluster string `json:"cluster"`
	} `json:"app"`
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	Audio struct {
		Format  string `json:"format"`
		Rate    int    `json:"rate"`
		Bits    int    `json:"bits"`
		Channel int    `json:"channel"`
	} `json:"audio"`
	Request struct {
		ReqID string `json:"reqid"`
		NBest int    `json:"nbest"`
	} `json:"request"`
}

type response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		Segments []struct {
			Text        string `json:"text"`
			FinalResult bool   `json:"final_result"`
		} `json:"segments"`
		IsFinal bool `json:"is_final"`
	} `json:"data"`
}

var endMarker = []byte(`{"end":true}`)

// Session is a single streaming transcription over one websocket
// connection. It is not reusable.
type Session struct {
	creds   Credentials
	audio   AudioSpec
	timeout time.Duration
	dialer  *websocket.Dialer

	state atomic.Int32
	mu    sync.Mutex
	err   error
}

type SessionOption func(*Session)

// WithTimeout overrides the deadline covering connect and result wait.
func WithTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) SessionOption {
	return func(s *Session) {
		if d != nil {
			s.dialer = d
		}
	}
}

func NewSession(creds Credentials, audio AudioSpec, opts ...SessionOption) *Session {
	if creds.Cluster == "" {
		creds.Cluster = DefaultCluster
	}
	s := &Session{
		creds:   creds,
		audio:   audio,
		timeout: DefaultSessionTimeout,
		dialer:  websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Err returns the failure the session closed with, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Run connects, streams audio and waits for the final result. The deadline
// bounds the whole exchange; a non-zero response code ends it immediately.
func (s *Session) Run(ctx context.Context, audio []byte) (string, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return "", ErrSessionUsed
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.run(ctx, audio)
	if err != nil {
		err = s.classify(ctx, err)
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.state.Store(int32(StateClosed))
	return text, err
}

func (s *Session) run(ctx context.Context, audio []byte) (string, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.creds.URI, nil)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", s.creds.URI, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	if err := conn.WriteJSON(s.handshake()); err != nil {
		return "", fmt.Errorf("send handshake: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return "", fmt.Errorf("send audio: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, endMarker); err != nil {
		return "", fmt.Errorf("send end marker: %w", err)
	}
	s.state.Store(int32(StateAwaitingResult))

	var text strings.Builder
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				if text.Len() == 0 {
					return "", ErrNoResult
				}
				return text.String(), nil
			}
			return "", fmt.Errorf("read result: %w", err)
		}
		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			return "", fmt.Errorf("decode result: %w", err)
		}
		if resp.Code != 0 {
			return "", &ProtocolError{Code: resp.Code, Message: resp.Message}
		}
		if resp.Data == nil {
			continue
		}
		for _, seg := range resp.Data.Segments {
			if seg.FinalResult {
				text.WriteString(seg.Text)
			}
		}
		if resp.Data.IsFinal {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if text.Len() == 0 {
				return "", ErrNoResult
			}
			return text.String(), nil
		}
	}
}

// classify folds deadline expiry, from either the context or the socket, into
// ErrTimeout.
func (s *Session) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrTimeout, s.timeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w after %s: %w", ErrTimeout, s.timeout, err)
	}
	return err
}

func (s *Session) handshake() handshake {
	var h handshake
	h.App.AppID = s.creds.AppID
	h.App.Token = s.creds.Token
	h.App.Cluster = s.creds.Cluster
	h.User.UID = "user_" + uuid.NewString()
	h.Audio.Format = s.audio.Format
	h.Audio.Rate = s.audio.SampleRate
	h.Audio.Bits = s.audio.Bits
	h.Audio.Channel = s.audio.Channels
	h.Request.ReqID = uuid.NewString()
	h.Request.NBest = 1
	return h
}
