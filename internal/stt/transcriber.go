package stt

import (
	"context"
	"errors"
	"fmt"
)

// Transcriber turns a WAV payload into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Backend names the transcriber that produced a transcript.
type Backend string

const (
	BackendStreaming Backend = "doubao-ws"
	BackendHTTP      Backend = "doubao-http"
	BackendExec      Backend = "exec"
	BackendOffline   Backend = "offline"
)

var (
	// ErrTimeout is returned when a session exceeds its deadline.
	ErrTimeout = errors.New("stt: transcription timed out")
	// ErrNotConfigured means no real backend is configured or it is disabled.
	ErrNotConfigured = errors.New("stt: no backend configured")
	// ErrNoResult is returned when a backend finishes without any text.
	ErrNoResult = errors.New("stt: backend returned no text")
	// ErrSessionUsed is returned by a second Run on the same session.
	ErrSessionUsed = errors.New("stt: session already used")
)

// ProtocolError is a non-zero status code reported by the backend.
type ProtocolError struct {
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("stt: backend error %d: %s", e.Code, e.Message)
}

// HTTPStatusError is a non-2xx response from the request/response transport.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("stt: http %d: %s", e.StatusCode, e.Body)
}
