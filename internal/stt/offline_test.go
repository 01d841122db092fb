package stt

import (
	"context"
	"testing"
	"time"
)

func TestOfflineReturnsPickedSample(t *testing.T) {
	o := NewOffline(0, WithPicker(func(int) int { return 2 }))
	text, err := o.Transcribe(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != DefaultSamples[2] {
		t.Fatalf("unexpected sample %q", text)
	}
}

func TestOfflineHonoursCancellation(t *testing.T) {
	o := NewOffline(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan string, 1)
	go func() {
		text, _ := o.Transcribe(ctx, nil)
		done <- text
	}()
	select {
	case text := <-done:
		if text == "" {
			t.Fatal("expected a sample even when cancelled")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("offline substitute ignored cancellation")
	}
}

func TestOfflineClampsPicker(t *testing.T) {
	o := NewOffline(0, WithSamples([]string{"only"}), WithPicker(func(int) int { return 7 }))
	if text, _ := o.Transcribe(context.Background(), nil); text != "only" {
		t.Fatalf("unexpected sample %q", text)
	}
}
