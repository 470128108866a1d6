package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/spottenn/wifi-talkie/pkg/protocol"
)

// newRelayServer starts a relay on an httptest server. Recording is off
// unless a directory is given.
func newRelayServer(t *testing.T, recordingsDir string) (*Server, *httptest.Server) {
	t.Helper()
	cfg := Config{
		Addr:               ":0",
		RecordingEnabled:   recordingsDir != "",
		RecordingsDir:      recordingsDir,
		MonitorBufferBytes: 64 * 1024,
	}
	s := NewServer(cfg)
	ts := httptest.NewServer(s.router)
	t.Cleanup(ts.Close)
	return s, ts
}

// dialPeer connects one websocket client to the relay and consumes its
// welcome message.
func dialPeer(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	dialURL := ts.URL
	if strings.HasPrefix(dialURL, "http://") {
		dialURL = "ws://" + strings.TrimPrefix(dialURL, "http://")
	} else if strings.HasPrefix(dialURL, "https://") {
		dialURL = "wss://" + strings.TrimPrefix(dialURL, "https://")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, dialURL+"/walkie", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })

	we := readServerMessage(t, conn)
	if we.Type != protocol.TypeWelcome {
		t.Fatalf("expected welcome as first message, got %s", we.Type)
	}
	return conn
}

// registerPeer sends a register message and consumes the registered reply.
func registerPeer(t *testing.T, conn *websocket.Conn, device string) {
	t.Helper()
	writeControl(t, conn, protocol.ClientMessage{Type: protocol.TypeRegister, Device: device})
	reply := readServerMessage(t, conn)
	if reply.Type != protocol.TypeRegistered {
		t.Fatalf("expected registered reply, got %s", reply.Type)
	}
}

func writeControl(t *testing.T, conn *websocket.Conn, msg protocol.ClientMessage) {
	t.Helper()
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal control message: %v", err)
	}
	writeText(t, conn, b)
}

func writeText(t *testing.T, conn *websocket.Conn, data []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write text frame: %v", err)
	}
}

func writeBinary(t *testing.T, conn *websocket.Conn, data []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		t.Fatalf("write binary frame: %v", err)
	}
}

// readServerMessage reads the next text frame and decodes it.
func readServerMessage(t *testing.T, conn *websocket.Conn) protocol.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgType, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read server message: %v", err)
	}
	if msgType != websocket.MessageText {
		t.Fatalf("expected text frame, got %v (%d bytes)", msgType, len(data))
	}
	var sm protocol.ServerMessage
	if err := json.Unmarshal(data, &sm); err != nil {
		t.Fatalf("unmarshal server message: %v", err)
	}
	return sm
}

// readBinary reads the next frame and requires it to be binary audio.
func readBinary(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgType, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read binary frame: %v", err)
	}
	if msgType != websocket.MessageBinary {
		t.Fatalf("expected binary frame, got %v: %s", msgType, data)
	}
	return data
}

// assertNothingReceived fails if any frame arrives within the window.
func assertNothingReceived(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()

	msgType, data, err := conn.Read(ctx)
	if err == nil {
		t.Fatalf("expected no traffic, received %v frame (%d bytes)", msgType, len(data))
	}
}
