// Package audio prepares captured recordings for transcription backends.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Format describes raw PCM as the capture side produces it.
type Format struct {
	SampleRate int
	Channels   int
	Bits       int
}

// Info is what a WAV header declares.
type Info struct {
	SampleRate int
	Channels   int
	Bits       int
	Duration   time.Duration
}

var (
	ErrNotWAV = errors.New("audio: not a wav container")
	// ErrFormatMismatch means a WAV header disagrees with the format a
	// backend was configured for.
	ErrFormatMismatch = errors.New("audio: wav format mismatch")
)

// Check compares the header against f. Zero fields in f are not checked.
func (i Info) Check(f Format) error {
	switch {
	case f.SampleRate != 0 && i.SampleRate != f.SampleRate:
		return fmt.Errorf("%w: sample rate %d, want %d", ErrFormatMismatch, i.SampleRate, f.SampleRate)
	case f.Channels != 0 && i.Channels != f.Channels:
		return fmt.Errorf("%w: %d channels, want %d", ErrFormatMismatch, i.Channels, f.Channels)
	case f.Bits != 0 && i.Bits != f.Bits:
		return fmt.Errorf("%w: %d bits, want %d", ErrFormatMismatch, i.Bits, f.Bits)
	}
	return nil
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

// Inspect decodes the header of a WAV payload.
func Inspect(data []byte) (Info, error) {
	if !IsWAV(data) {
		return Info{}, ErrNotWAV
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return Info{}, fmt.Errorf("read wav header: %w", err)
	}
	if !dec.IsValidFile() {
		return Info{}, ErrNotWAV
	}
	dur, err := dec.Duration()
	if err != nil {
		return Info{}, fmt.Errorf("wav duration: %w", err)
	}
	return Info{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		Bits:       int(dec.BitDepth),
		Duration:   dur,
	}, nil
}

// Prepare returns data unchanged when it is already a WAV file and wraps it
// as 16-bit PCM otherwise.
func Prepare(data []byte, f Format) ([]byte, error) {
	if IsWAV(data) {
		return data, nil
	}
	return EncodePCM(data, f)
}

// EncodePCM wraps little-endian 16-bit PCM in a WAV container.
func EncodePCM(pcm []byte, f Format) ([]byte, error) {
	if f.Bits != 0 && f.Bits != 16 {
		return nil, fmt.Errorf("unsupported pcm bit depth %d", f.Bits)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not aligned")
	}
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	buffer := &goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: channels, SampleRate: f.SampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	out := &seekBuffer{}
	enc := wav.NewEncoder(out, f.SampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return out.Bytes(), nil
}

// seekBuffer is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes on Close.
type seekBuffer struct {
	buf []byte
	pos int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.buf) {
		b.buf = append(b.buf, make([]byte, end-len(b.buf))...)
	}
	n := copy(b.buf[b.pos:], p)
	b.pos += n
	return n, nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position")
	}
	b.pos = int(next)
	return next, nil
}

func (b *seekBuffer) Bytes() []byte { return b.buf }
