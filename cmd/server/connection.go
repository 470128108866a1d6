package main

import (
	"context"
	"errors"
	"log"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/spottenn/wifi-talkie/internal/state"
	"github.com/spottenn/wifi-talkie/internal/types"
	"github.com/spottenn/wifi-talkie/pkg/protocol"
)

// handleWebSocket upgrades the connection, admits a session and runs its read
// loop. Cleanup is unconditional: every exit path of the read loop removes
// the session and clears any transmission state it held.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("failed to upgrade connection: %v", err)
		return
	}

	sess := s.stateManager.Admit(conn)
	cm := &ConnectionManager{server: s, stateManager: s.stateManager, sess: sess}

	log.Printf("session %s connected (%d clients)", sess.ID, s.stateManager.Count())

	if payload, err := protocol.EncodeWelcome("Connected to WiFi Walkie-Talkie server", s.stateManager.Count()); err == nil {
		sess.TrySend(types.Frame{Kind: websocket.MessageText, Data: payload})
	}

	go cm.writeLoop()

	defer cm.teardown()
	cm.readLoop()
}

// ConnectionManager owns one session's read loop. Only this goroutine
// triggers mutations of the session's registered state; peers reach the
// session exclusively through its send queue.
type ConnectionManager struct {
	server       *Server
	stateManager *state.Manager
	sess         *types.Session
}

func (cm *ConnectionManager) readLoop() {
	ctx := context.Background()
	for {
		msgType, data, err := cm.sess.Conn.Read(ctx)
		if err != nil {
			log.Printf("session %s read: %v", cm.sess.ID, err)
			return
		}
		cm.sess.Touch()

		switch msgType {
		case websocket.MessageText:
			cm.handleControl(data)
		case websocket.MessageBinary:
			cm.handleAudio(data)
		}
	}
}

// handleControl classifies one inbound text frame. Malformed and unknown
// control messages are logged and dropped; the connection stays open.
func (cm *ConnectionManager) handleControl(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Printf("session %s: dropping malformed control frame: %v", cm.sess.ID, err)
		return
	}

	switch m := msg.(type) {
	case protocol.Register:
		cm.handleRegister(m)
	case protocol.StartTransmission:
		cm.handleStartTransmission()
	case protocol.EndTransmission:
		cm.handleEndTransmission()
	case protocol.Unknown:
		log.Printf("session %s: ignoring unknown control type %q", cm.sess.ID, m.Type)
	}
}

func (cm *ConnectionManager) handleRegister(m protocol.Register) {
	err := cm.stateManager.SetDeviceName(cm.sess.ID, m.Device)
	if errors.Is(err, state.ErrAlreadyRegistered) {
		log.Printf("session %s: ignoring re-registration as %q", cm.sess.ID, m.Device)
		return
	}
	if err != nil {
		log.Printf("session %s: register failed: %v", cm.sess.ID, err)
		return
	}
	log.Printf("session %s registered as %s", cm.sess.ID, m.Device)

	payload, err := protocol.EncodeRegistered(cm.stateManager.Count())
	if err != nil {
		log.Printf("session %s: encode registered: %v", cm.sess.ID, err)
		return
	}
	cm.sess.TrySend(types.Frame{Kind: websocket.MessageText, Data: payload})
}

func (cm *ConnectionManager) handleStartTransmission() {
	device, err := cm.stateManager.StartTransmission(cm.sess.ID)
	if err != nil {
		log.Printf("session %s: start_transmission failed: %v", cm.sess.ID, err)
		return
	}
	log.Printf("%s started transmitting", deviceOrUnknown(device))

	cm.server.recorder.Start(deviceOrUnknown(device))

	payload, err := protocol.EncodeTransmissionStarted(device)
	if err != nil {
		log.Printf("session %s: encode notification: %v", cm.sess.ID, err)
		return
	}
	cm.broadcast(types.Frame{Kind: websocket.MessageText, Data: payload})
}

func (cm *ConnectionManager) handleEndTransmission() {
	device, wasTracked, err := cm.stateManager.EndTransmission(cm.sess.ID)
	if err != nil {
		log.Printf("session %s: end_transmission failed: %v", cm.sess.ID, err)
		return
	}
	log.Printf("%s stopped transmitting", deviceOrUnknown(device))

	if wasTracked {
		cm.server.recorder.Finish()
	} else {
		log.Printf("session %s sent end_transmission but was not the tracked transmitter", cm.sess.ID)
	}

	payload, err := protocol.EncodeTransmissionEnded(device)
	if err != nil {
		log.Printf("session %s: encode notification: %v", cm.sess.ID, err)
		return
	}
	cm.broadcast(types.Frame{Kind: websocket.MessageText, Data: payload})
}

// handleAudio relays one binary frame to every other live session. The frame
// is never inspected; zero-length frames are forwarded as-is.
func (cm *ConnectionManager) handleAudio(data []byte) {
	cm.broadcast(types.Frame{Kind: websocket.MessageBinary, Data: data})

	cm.server.recorder.Append(data)
	if len(data) > 0 {
		_, _ = cm.server.monitor.Write(data)
	}
}

func (cm *ConnectionManager) broadcast(f types.Frame) {
	_, dropped := cm.stateManager.BroadcastFrame(cm.sess.ID, f)
	if dropped > 0 {
		log.Printf("session %s: broadcast skipped %d unreachable or slow peers", cm.sess.ID, dropped)
	}
}

// writeLoop is the session's single outbound writer. A write failure means
// the peer is gone: the session is torn down immediately rather than waiting
// for its read loop to notice.
func (cm *ConnectionManager) writeLoop() {
	ctx := context.Background()
	for {
		select {
		case f := <-cm.sess.Send:
			if err := cm.sess.Conn.Write(ctx, f.Kind, f.Data); err != nil {
				log.Printf("session %s write: %v", cm.sess.ID, err)
				cm.teardown()
				return
			}
		case <-cm.sess.Done:
			return
		}
	}
}

// teardown removes the session from the registry, closes the connection and
// finishes any transmission the session was tracked for. Idempotent; the read
// loop's deferred call and the write loop's failure path both land here.
func (cm *ConnectionManager) teardown() {
	removed, wasTracked := cm.stateManager.Remove(cm.sess.ID)
	if !removed {
		return
	}
	_ = cm.sess.Conn.Close(websocket.StatusNormalClosure, "")

	if wasTracked {
		cm.server.recorder.Finish()
	}
	log.Printf("session %s disconnected (%d clients)", cm.sess.ID, cm.stateManager.Count())
}

func deviceOrUnknown(device string) string {
	if device == "" {
		return protocol.UnknownDevice
	}
	return device
}
