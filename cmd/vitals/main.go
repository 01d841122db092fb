package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-vitals/internal/config"
	"github.com/loqalabs/loqa-vitals/internal/extract"
	"github.com/loqalabs/loqa-vitals/internal/pipeline"
	"github.com/loqalabs/loqa-vitals/internal/stt"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "extract":
		err = runExtract(os.Args[2:])
	case "transcribe":
		err = runTranscribe(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, pipeline.ErrInsufficientInput) || errors.Is(err, pipeline.ErrNothingRecognized) {
			_, message := pipeline.Describe(err)
			fmt.Fprintln(os.Stderr, message)
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: vitals extract [-at RFC3339] <text...>")
	fmt.Fprintln(os.Stderr, "       vitals transcribe [-config file] <audio file>")
	fmt.Fprintln(os.Stderr, "       vitals version")
}

func runExtract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	at := fs.String("at", "", "Capture time (RFC3339), defaults to now")
	fs.Parse(args)

	text := strings.Join(fs.Args(), " ")
	if text == "" {
		return errors.New("extract: no text given")
	}
	clock := time.Now
	if *at != "" {
		t, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			return fmt.Errorf("extract: invalid -at: %w", err)
		}
		clock = func() time.Time { return t }
	}

	p := pipeline.New(nil, extract.NewEngine(), config.Default().Pipeline, quietLogger(), pipeline.WithClock(clock))
	res, err := p.Extract(context.Background(), text)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runTranscribe(args []string) error {
	fs := flag.NewFlagSet("transcribe", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("transcribe: expected one audio file")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	audio, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}

	logger := quietLogger()
	offline := stt.NewOffline(time.Duration(cfg.Offline.DelayMS) * time.Millisecond)
	gateway, err := stt.NewGateway(cfg.STT, offline, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(gateway, extract.NewEngine(), cfg.Pipeline, logger)
	res, err := p.Recognize(ctx, audio)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
