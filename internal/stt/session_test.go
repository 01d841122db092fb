package stt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeBackend accepts one handshake, one binary frame and the end marker,
// then hands the connection to respond.
type fakeBackend struct {
	server      *httptest.Server
	connections atomic.Int32
	handshake   atomic.Value
	audio       atomic.Value
}

func newFakeBackend(t *testing.T, respond func(conn *websocket.Conn)) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	fb.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fb.connections.Add(1)

		var h handshake
		if err := conn.ReadJSON(&h); err != nil {
			return
		}
		fb.handshake.Store(h)
		mt, payload, err := conn.ReadMessage()
		if err != nil || mt != websocket.BinaryMessage {
			return
		}
		fb.audio.Store(payload)
		if _, data, err := conn.ReadMessage(); err != nil || string(data) != `{"end":true}` {
			return
		}
		respond(conn)
	}))
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBackend) URL() string {
	return "ws" + strings.TrimPrefix(fb.server.URL, "http")
}

func testCreds(uri string) Credentials {
	return Credentials{URI: uri, AppID: "app-1", Token: "tok-1"}
}

var testSpec = AudioSpec{Format: "wav", SampleRate: 16000, Bits: 16, Channels: 1}

func writeFrame(conn *websocket.Conn, frame string) {
	_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

func TestSessionAccumulatesFinalSegments(t *testing.T) {
	fb := newFakeBackend(t, func(conn *websocket.Conn) {
		writeFrame(conn, `{"code":0,"data":{"segments":[{"text":"体重","final_result":true},{"text":"ignored","final_result":false}]}}`)
		writeFrame(conn, `{"code":0,"data":{"segments":[{"text":"75公斤","final_result":true}],"is_final":true}}`)
		_, _, _ = conn.ReadMessage()
	})

	s := NewSession(testCreds(fb.URL()), testSpec)
	if s.State() != StateIdle {
		t.Fatalf("expected idle before run, got %v", s.State())
	}
	text, err := s.Run(context.Background(), []byte("RIFF-audio"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if text != "体重75公斤" {
		t.Fatalf("unexpected text %q", text)
	}
	if s.State() != StateClosed || s.Err() != nil {
		t.Fatalf("expected clean close, got %v / %v", s.State(), s.Err())
	}

	h, _ := fb.handshake.Load().(handshake)
	if h.App.AppID != "app-1" || h.App.Token != "tok-1" || h.App.Cluster != DefaultCluster {
		t.Fatalf("unexpected app block: %+v", h.App)
	}
	if h.Audio.Rate != 16000 || h.Audio.Bits != 16 || h.Audio.Channel != 1 || h.Audio.Format != "wav" {
		t.Fatalf("unexpected audio block: %+v", h.Audio)
	}
	if h.Request.NBest != 1 || h.Request.ReqID == "" || !strings.HasPrefix(h.User.UID, "user_") {
		t.Fatalf("unexpected request/user block: %+v %+v", h.Request, h.User)
	}
}

func TestSessionProtocolErrorFailsFast(t *testing.T) {
	fb := newFakeBackend(t, func(conn *websocket.Conn) {
		writeFrame(conn, `{"code":1013,"message":"invalid token"}`)
		_, _, _ = conn.ReadMessage()
	})

	start := time.Now()
	s := NewSession(testCreds(fb.URL()), testSpec, WithTimeout(5*time.Second))
	_, err := s.Run(context.Background(), []byte("audio"))
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if perr.Code != 1013 || perr.Message != "invalid token" {
		t.Fatalf("unexpected protocol error: %+v", perr)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("expected failure well before deadline, took %v", elapsed)
	}
	if got := fb.connections.Load(); got != 1 {
		t.Fatalf("expected exactly one connection, got %d", got)
	}
}

func TestSessionTimeout(t *testing.T) {
	fb := newFakeBackend(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	s := NewSession(testCreds(fb.URL()), testSpec, WithTimeout(150*time.Millisecond))
	_, err := s.Run(context.Background(), []byte("audio"))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected closed state, got %v", s.State())
	}
}

func TestSessionCloseWithoutText(t *testing.T) {
	fb := newFakeBackend(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	})

	_, err := NewSession(testCreds(fb.URL()), testSpec).Run(context.Background(), []byte("audio"))
	if !errors.Is(err, ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}
}

func TestSessionMalformedFrame(t *testing.T) {
	fb := newFakeBackend(t, func(conn *websocket.Conn) {
		writeFrame(conn, `not json`)
		_, _, _ = conn.ReadMessage()
	})

	_, err := NewSession(testCreds(fb.URL()), testSpec).Run(context.Background(), []byte("audio"))
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("expected json syntax error, got %v", err)
	}
}

func TestSessionDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	uri := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	s := NewSession(testCreds(uri), testSpec, WithTimeout(2*time.Second))
	_, err := s.Run(context.Background(), []byte("audio"))
	if err == nil || errors.Is(err, ErrTimeout) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if s.Err() == nil {
		t.Fatal("expected session to record its failure")
	}
}

func TestSessionIsSingleUse(t *testing.T) {
	fb := newFakeBackend(t, func(conn *websocket.Conn) {
		writeFrame(conn, `{"code":0,"data":{"segments":[{"text":"血糖5.8","final_result":true}],"is_final":true}}`)
		_, _, _ = conn.ReadMessage()
	})

	s := NewSession(testCreds(fb.URL()), testSpec)
	if _, err := s.Run(context.Background(), []byte("audio")); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := s.Run(context.Background(), []byte("audio")); !errors.Is(err, ErrSessionUsed) {
		t.Fatalf("expected ErrSessionUsed, got %v", err)
	}
}
