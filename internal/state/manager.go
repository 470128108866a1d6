// Package state owns the shared mutable state of the relay: the registry of
// live sessions and the single transmission-state slot. All access from the
// per-connection goroutines is serialized through the Manager's lock.
package state

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/spottenn/wifi-talkie/internal/types"
)

// sendQueueSize bounds each session's outbound queue. A full queue means the
// peer is too slow to keep up; frames to that peer are dropped rather than
// stalling the sender's read loop.
const sendQueueSize = 256

// Manager is the authoritative set of live sessions plus the transmission
// tracker. Safe for concurrent use by all per-connection goroutines.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*types.Session
	transmitter string // session ID of the tracked transmitter, "" when idle

	audioFrames   atomic.Uint64
	audioBytes    atomic.Uint64
	droppedFrames atomic.Uint64
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*types.Session),
	}
}

// Admit creates a session for a freshly upgraded connection and inserts it
// into the registry. It always succeeds; there is no capacity limit.
func (m *Manager) Admit(conn *websocket.Conn) *types.Session {
	sess := &types.Session{
		ID:          uuid.New().String(),
		Conn:        conn,
		ConnectedAt: time.Now(),
		Send:        make(chan types.Frame, sendQueueSize),
		Done:        make(chan struct{}),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = sess
	return sess
}

// Remove deletes the session from the registry and closes its Done channel.
// Idempotent: removing an unknown or already-removed session is a no-op. If
// the session was the tracked transmitter the tracker returns to idle;
// wasTracked reports that so the caller can close out the transmission.
// removed reports whether this call performed the removal.
func (m *Manager) Remove(sessionID string) (removed, wasTracked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return false, false
	}
	delete(m.sessions, sessionID)
	close(sess.Done)
	if m.transmitter == sessionID {
		m.transmitter = ""
		wasTracked = true
	}
	return true, wasTracked
}

func (m *Manager) GetSession(sessionID string) (*types.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SetDeviceName records the session's device name from its register message.
// The first registration wins; later attempts return ErrAlreadyRegistered and
// leave the name untouched.
func (m *Manager) SetDeviceName(sessionID, device string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.DeviceName != "" {
		return ErrAlreadyRegistered
	}
	sess.DeviceName = device
	return nil
}

// StartTransmission marks the session as transmitting and records it as the
// tracked transmitter, overwriting any previously tracked session. The
// protocol does not reject concurrent transmitters. Returns the session's
// device name for the notification broadcast.
func (m *Manager) StartTransmission(sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}
	sess.Transmitting = true
	m.transmitter = sessionID
	return sess.DeviceName, nil
}

// EndTransmission clears the session's transmitting flag. The tracker only
// returns to idle when the ending session is the tracked one; wasTracked
// reports that so callers can log mismatched ends.
func (m *Manager) EndTransmission(sessionID string) (device string, wasTracked bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return "", false, ErrSessionNotFound
	}
	sess.Transmitting = false
	if m.transmitter == sessionID {
		m.transmitter = ""
		wasTracked = true
	}
	return sess.DeviceName, wasTracked, nil
}

// Transmitter returns the tracked transmitter's session ID and device name,
// or ok=false when the tracker is idle.
func (m *Manager) Transmitter() (sessionID, device string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.transmitter == "" {
		return "", "", false
	}
	sess, found := m.sessions[m.transmitter]
	if !found {
		return "", "", false
	}
	return sess.ID, sess.DeviceName, true
}

// ForEachExcept invokes fn for every live session other than the given one,
// in arbitrary order, under the registry's read lock. fn must not block; it
// is expected to enqueue via Session.TrySend.
func (m *Manager) ForEachExcept(sessionID string, fn func(*types.Session)) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, sess := range m.sessions {
		if id == sessionID {
			continue
		}
		fn(sess)
	}
}

// BroadcastFrame queues the frame to every live session except the sender.
// The sender never receives its own traffic back. A peer whose queue is full
// or whose session is mid-teardown is skipped; remaining peers still get the
// frame. Returns how many peers had the frame queued and how many were
// skipped.
func (m *Manager) BroadcastFrame(senderID string, frame types.Frame) (delivered, dropped int) {
	if frame.Kind == websocket.MessageBinary {
		m.audioFrames.Add(1)
		m.audioBytes.Add(uint64(len(frame.Data)))
	}

	m.ForEachExcept(senderID, func(sess *types.Session) {
		if sess.TrySend(frame) {
			delivered++
		} else {
			dropped++
		}
	})
	if dropped > 0 {
		m.droppedFrames.Add(uint64(dropped))
	}
	return delivered, dropped
}

// SessionInfos returns a snapshot of live sessions ordered by connect time
// for consistent listings.
func (m *Manager) SessionInfos() []types.SessionInfo {
	m.mu.RLock()
	infos := make([]types.SessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		device := sess.DeviceName
		if device == "" {
			device = "unknown"
		}
		infos = append(infos, types.SessionInfo{
			ID:           sess.ID,
			Device:       device,
			Transmitting: sess.Transmitting,
			ConnectedAt:  sess.ConnectedAt,
			LastActivity: sess.LastActivity(),
		})
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Stats returns a snapshot of the relay counters. RecordingActive is owned by
// the server, which fills it in from the recorder.
func (m *Manager) Stats() types.ServerStats {
	m.mu.RLock()
	registered := 0
	transmitterDevice := ""
	for _, sess := range m.sessions {
		if sess.DeviceName != "" {
			registered++
		}
	}
	if m.transmitter != "" {
		if sess, ok := m.sessions[m.transmitter]; ok {
			transmitterDevice = sess.DeviceName
			if transmitterDevice == "" {
				transmitterDevice = "unknown"
			}
		}
	}
	connected := len(m.sessions)
	m.mu.RUnlock()

	return types.ServerStats{
		ConnectedClients:   connected,
		RegisteredClients:  registered,
		Transmitter:        transmitterDevice,
		AudioFramesRelayed: m.audioFrames.Load(),
		AudioBytesRelayed:  m.audioBytes.Load(),
		DroppedFrames:      m.droppedFrames.Load(),
	}
}
