package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-vitals/internal/config"
)

// execTranscriber runs a local speech-to-text command against a temporary
// WAV file and reads a JSON {text, confidence} object from its stdout.
type execTranscriber struct {
	cmd    []string
	cfg    config.STTConfig
	logger *slog.Logger
	mu     sync.Mutex
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecTranscriber(cfg config.STTConfig, logger *slog.Logger) (Transcriber, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &execTranscriber{cmd: args, cfg: cfg, logger: logger.With(slog.String("component", "stt-exec"))}, nil
}

func (r *execTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.CreateTemp("", "vitals_stt_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	if _, err := file.Write(audio); err != nil {
		file.Close()
		return "", fmt.Errorf("write temp audio: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close temp audio: %w", err)
	}

	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if r.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", r.cfg.ModelPath)
	}
	if r.cfg.Language != "" {
		cmdArgs = append(cmdArgs, "--language", r.cfg.Language)
	}

	command := exec.CommandContext(ctx, r.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	if resp.Text == "" {
		return "", ErrNoResult
	}
	r.logger.Debug("exec transcription complete", slog.Float64("confidence", resp.Confidence))
	return resp.Text, nil
}
