package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-vitals/internal/bus"
	"github.com/loqalabs/loqa-vitals/internal/config"
	"github.com/loqalabs/loqa-vitals/internal/natsserver"
	"github.com/loqalabs/loqa-vitals/internal/protocol"
	"github.com/loqalabs/loqa-vitals/internal/stt"
)

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func sendFrames(t *testing.T, client *bus.Client, sessionID string, chunks ...[]byte) {
	t.Helper()
	subject := protocol.SubjectAudioFramePrefix + "." + sessionID
	for i, chunk := range chunks {
		frame := protocol.AudioFrame{
			SessionID:  sessionID,
			Sequence:   i,
			SampleRate: 16000,
			Channels:   1,
			Audio:      chunk,
			Final:      i == len(chunks)-1,
		}
		require.NoError(t, client.Publish(subject, frame))
	}
	require.NoError(t, client.Conn().Flush())
}

func TestIntakeRecognizesFinalSession(t *testing.T) {
	client := startBus(t)
	tr := &fixedTranscriber{out: stt.Outcome{Text: "血压125/82", Backend: stt.BackendStreaming}}
	p := newTestPipeline(tr, testConfig(), WithPublisher(client))

	sub, err := client.Conn().SubscribeSync(protocol.SubjectRecordsExtracted)
	require.NoError(t, err)

	intake := NewIntake(context.Background(), p, client)
	require.NoError(t, intake.Start())
	t.Cleanup(intake.Close)
	assert.True(t, intake.Healthy())

	sendFrames(t, client, "bedside-1", make([]byte, 80), make([]byte, 80))

	msg, err := sub.NextMsg(3 * time.Second)
	require.NoError(t, err)
	var got protocol.RecordsExtracted
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "bedside-1", got.SessionID)
	require.NotNil(t, got.Result.BloodPressure)
	assert.Equal(t, 125, got.Result.BloodPressure.Systolic)
	assert.Equal(t, 82, got.Result.BloodPressure.Diastolic)
}

func TestIntakePublishesFailure(t *testing.T) {
	client := startBus(t)
	tr := &fixedTranscriber{out: stt.Outcome{Text: "体重65公斤", Backend: stt.BackendStreaming}}
	p := newTestPipeline(tr, testConfig(), WithPublisher(client))

	sub, err := client.Conn().SubscribeSync(protocol.SubjectRecognitionFailed)
	require.NoError(t, err)

	intake := NewIntake(context.Background(), p, client)
	require.NoError(t, intake.Start())
	t.Cleanup(intake.Close)

	sendFrames(t, client, "bedside-2", make([]byte, 10))

	msg, err := sub.NextMsg(3 * time.Second)
	require.NoError(t, err)
	var got protocol.RecognitionFailed
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "bedside-2", got.SessionID)
	assert.Equal(t, "recording_too_short", got.Reason)
	assert.Zero(t, tr.calls)
}

func TestIntakeRejectsOversizedSession(t *testing.T) {
	client := startBus(t)
	tr := &fixedTranscriber{out: stt.Outcome{Text: "体重65公斤", Backend: stt.BackendStreaming}}
	cfg := testConfig()
	cfg.MaxAudioBytes = 150
	p := newTestPipeline(tr, cfg, WithPublisher(client))

	sub, err := client.Conn().SubscribeSync(protocol.SubjectRecognitionFailed)
	require.NoError(t, err)

	intake := NewIntake(context.Background(), p, client)
	require.NoError(t, intake.Start())
	t.Cleanup(intake.Close)

	sendFrames(t, client, "bedside-3", make([]byte, 100), make([]byte, 100), make([]byte, 100))

	msg, err := sub.NextMsg(3 * time.Second)
	require.NoError(t, err)
	var got protocol.RecognitionFailed
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "bedside-3", got.SessionID)
	assert.Equal(t, "recording_too_long", got.Reason)

	_, err = sub.NextMsg(200 * time.Millisecond)
	assert.ErrorIs(t, err, nats.ErrTimeout, "one failure per session")
	assert.Zero(t, tr.calls)

	assert.Eventually(t, func() bool {
		intake.mu.Lock()
		defer intake.mu.Unlock()
		return len(intake.sessions) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestIntakeEvictsIdleSessions(t *testing.T) {
	client := startBus(t)
	cfg := testConfig()
	cfg.SessionIdleMS = 1000
	p := newTestPipeline(&fixedTranscriber{}, cfg)

	start := time.Date(2025, 3, 4, 8, 0, 0, 0, time.UTC)
	intake := NewIntake(context.Background(), p, client)
	intake.now = func() time.Time { return start }

	data, err := json.Marshal(protocol.AudioFrame{SessionID: "abandoned", Audio: make([]byte, 80)})
	require.NoError(t, err)
	intake.handleFrame(&nats.Msg{Subject: protocol.SubjectAudioFramePrefix + ".abandoned", Data: data})

	assert.Zero(t, intake.evictIdle(start.Add(500*time.Millisecond)))
	assert.Equal(t, 1, intake.evictIdle(start.Add(2*time.Second)))
	assert.Empty(t, intake.sessions)
}
