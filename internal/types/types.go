package types

import (
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// Frame is one outbound websocket message queued for a session's writer
// goroutine. Kind distinguishes relayed binary audio from JSON control
// notifications so the writer can preserve the frame type on the wire.
type Frame struct {
	Kind websocket.MessageType
	Data []byte
}

// Session holds the server-side state for one connected walkie-talkie peer.
//
// The registry lock guards DeviceName and Transmitting; only the goroutine
// that owns the session's read loop triggers mutations, and it does so through
// the state manager.
type Session struct {
	ID          string
	Conn        *websocket.Conn
	ConnectedAt time.Time

	// DeviceName is set once by the first register message and never
	// changes afterward. Empty until registration.
	DeviceName string

	// Transmitting is true between start_transmission and
	// end_transmission (or disconnect) for this session.
	Transmitting bool

	// Send is the per-session outbound queue. A single writer goroutine
	// drains it, which keeps delivery FIFO per peer and serializes writes
	// when several senders broadcast through the same destination.
	Send chan Frame

	// Done is closed by the registry when the session is removed. Fan-out
	// checks it so a broadcast snapshot never queues to a torn-down
	// session, and the writer goroutine uses it to stop.
	Done chan struct{}

	lastActivity atomic.Int64
}

// Touch records inbound activity on the session. Diagnostics only; nothing
// evicts idle sessions.
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the most recent inbound frame, or the
// connect time if nothing has arrived yet.
func (s *Session) LastActivity() time.Time {
	ns := s.lastActivity.Load()
	if ns == 0 {
		return s.ConnectedAt
	}
	return time.Unix(0, ns)
}

// TrySend queues a frame for the session without blocking. It reports false
// when the session is gone or its queue is full; the caller logs and moves on
// so one slow or dead peer never stalls a broadcast.
func (s *Session) TrySend(f Frame) bool {
	select {
	case <-s.Done:
		return false
	default:
	}
	select {
	case s.Send <- f:
		return true
	case <-s.Done:
		return false
	default:
		return false
	}
}

// SessionInfo is the JSON shape for one session in the sessions listing.
type SessionInfo struct {
	ID           string    `json:"id"`
	Device       string    `json:"device"`
	Transmitting bool      `json:"transmitting"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

// ServerStats is the JSON shape returned by the stats endpoint.
type ServerStats struct {
	ConnectedClients   int    `json:"connected_clients"`
	RegisteredClients  int    `json:"registered_clients"`
	Transmitter        string `json:"transmitter,omitempty"`
	AudioFramesRelayed uint64 `json:"audio_frames_relayed"`
	AudioBytesRelayed  uint64 `json:"audio_bytes_relayed"`
	DroppedFrames      uint64 `json:"dropped_frames"`
	RecordingActive    bool   `json:"recording_active"`
}
