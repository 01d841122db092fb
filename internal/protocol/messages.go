package protocol

import (
	"time"

	"github.com/loqalabs/loqa-vitals/internal/health"
)

// AudioFrame is a chunk of a recording submitted by a capture device. Frames
// of one session are concatenated until Final is set.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Audio      []byte `json:"audio"`
	Final      bool   `json:"final"`
}

// Transcript is the text a recording resolved to. Degraded marks text that
// came from the offline substitute after a backend failure.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Backend   string    `json:"backend"`
	Degraded  bool      `json:"degraded"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordsExtracted announces the structured result of one transcript.
type RecordsExtracted struct {
	SessionID  string                  `json:"session_id"`
	Transcript string                  `json:"transcript"`
	Domains    []health.RecordType     `json:"domains"`
	Result     health.ExtractionResult `json:"result"`
	CapturedAt time.Time               `json:"captured_at"`
	Persisted  bool                    `json:"persisted"`
}

// RecognitionFailed reports a user-facing failure for a bus-submitted
// recording.
type RecognitionFailed struct {
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix  = "vitals.audio"
	SubjectTranscriptFinal   = "vitals.transcript.final"
	SubjectRecordsExtracted  = "vitals.records.extracted"
	SubjectRecognitionFailed = "vitals.recognition.failed"

	// StreamName captures every vitals.* event except raw audio.
	StreamName = "VITALS"
)

// StreamSubjects are persisted in StreamName.
var StreamSubjects = []string{SubjectTranscriptFinal, SubjectRecordsExtracted, SubjectRecognitionFailed}
