package audio

import (
	"errors"
	"testing"
	"time"
)

func tone(samples int) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16((i % 100) * 100)
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}
	return pcm
}

func TestEncodeAndInspect(t *testing.T) {
	wavData, err := EncodePCM(tone(1600), Format{SampleRate: 16000, Channels: 1, Bits: 16})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !IsWAV(wavData) {
		t.Fatal("expected RIFF/WAVE header")
	}
	info, err := Inspect(wavData)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 || info.Bits != 16 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if d := info.Duration - 100*time.Millisecond; d < -time.Millisecond || d > time.Millisecond {
		t.Fatalf("expected 100ms, got %v", info.Duration)
	}
}

func TestPrepareKeepsWAV(t *testing.T) {
	wavData, err := EncodePCM(tone(160), Format{SampleRate: 16000, Channels: 1, Bits: 16})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Prepare(wavData, Format{SampleRate: 8000, Channels: 2, Bits: 16})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if len(out) != len(wavData) {
		t.Fatalf("expected wav payload to pass through unchanged")
	}
}

func TestEncodeRejectsOddPayload(t *testing.T) {
	if _, err := EncodePCM([]byte{1, 2, 3}, Format{SampleRate: 16000, Bits: 16}); err == nil {
		t.Fatal("expected alignment error")
	}
	if _, err := EncodePCM(tone(10), Format{SampleRate: 16000, Bits: 24}); err == nil {
		t.Fatal("expected bit depth error")
	}
}

func TestInspectRejectsRaw(t *testing.T) {
	if _, err := Inspect(tone(100)); !errors.Is(err, ErrNotWAV) {
		t.Fatalf("expected ErrNotWAV, got %v", err)
	}
}

func TestInfoCheck(t *testing.T) {
	info := Info{SampleRate: 16000, Channels: 1, Bits: 16}
	if err := info.Check(Format{SampleRate: 16000, Channels: 1, Bits: 16}); err != nil {
		t.Fatalf("expected matching format, got %v", err)
	}
	if err := info.Check(Format{}); err != nil {
		t.Fatalf("zero format should not be checked, got %v", err)
	}
	if err := info.Check(Format{SampleRate: 8000}); !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("expected ErrFormatMismatch for sample rate, got %v", err)
	}
	if err := info.Check(Format{SampleRate: 16000, Channels: 2}); !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("expected ErrFormatMismatch for channels, got %v", err)
	}
}
