package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
)

// HTTPTransport is the request/response alternative to Session, used when
// the configured endpoint is not a websocket address. It has no intermediate
// states: one POST, one JSON answer.
type HTTPTransport struct {
	creds  Credentials
	audio  AudioSpec
	client *http.Client
}

type httpResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		Text string `json:"text"`
	} `json:"data"`
}

func NewHTTPTransport(creds Credentials, audio AudioSpec, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: DefaultSessionTimeout}
	}
	return &HTTPTransport{creds: creds, audio: audio, client: client}
}

func (t *HTTPTransport) Transcribe(ctx context.Context, audio []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", "recording.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("copy audio data: %w", err)
	}
	_ = writer.WriteField("app_id", t.creds.AppID)
	_ = writer.WriteField("format", t.audio.Format)
	_ = writer.WriteField("rate", strconv.Itoa(t.audio.SampleRate))
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("multipart write: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.creds.URI, &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.creds.Token)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HTTPStatusError{StatusCode: resp.StatusCode, Body: truncate(data, 200)}
	}

	var parsed httpResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Code != 0 {
		return "", &ProtocolError{Code: parsed.Code, Message: parsed.Message}
	}
	if parsed.Data == nil || parsed.Data.Text == "" {
		return "", ErrNoResult
	}
	return parsed.Data.Text, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
