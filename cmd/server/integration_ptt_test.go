package main

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/spottenn/wifi-talkie/pkg/protocol"
)

// Transmission lifecycle across three peers: start notification, ordered
// audio, end notification; the transmitter receives none of it back.
func TestTransmissionLifecycle(t *testing.T) {
	s, ts := newRelayServer(t, "")

	alice := dialPeer(t, ts)
	bob := dialPeer(t, ts)
	carol := dialPeer(t, ts)
	registerPeer(t, alice, "Alice")
	registerPeer(t, bob, "Bob")
	registerPeer(t, carol, "Carol")

	writeControl(t, alice, protocol.ClientMessage{Type: protocol.TypeStartTransmission})
	for _, peer := range []*websocket.Conn{bob, carol} {
		n := readServerMessage(t, peer)
		if n.Type != protocol.TypeTransmissionStarted || n.Device != "Alice" {
			t.Fatalf("expected transmission_started from Alice, got %+v", n)
		}
	}

	if _, device, ok := s.stateManager.Transmitter(); !ok || device != "Alice" {
		t.Fatalf("expected Alice tracked as transmitter, got %q ok=%v", device, ok)
	}

	const frames = 10
	for i := 0; i < frames; i++ {
		writeBinary(t, alice, []byte(fmt.Sprintf("chunk-%02d", i)))
	}
	for _, peer := range []*websocket.Conn{bob, carol} {
		for i := 0; i < frames; i++ {
			got := readBinary(t, peer)
			want := fmt.Sprintf("chunk-%02d", i)
			if !bytes.Equal(got, []byte(want)) {
				t.Fatalf("frame %d out of order: got %q want %q", i, got, want)
			}
		}
	}

	writeControl(t, alice, protocol.ClientMessage{Type: protocol.TypeEndTransmission})
	for _, peer := range []*websocket.Conn{bob, carol} {
		n := readServerMessage(t, peer)
		if n.Type != protocol.TypeTransmissionEnded || n.Device != "Alice" {
			t.Fatalf("expected transmission_ended from Alice, got %+v", n)
		}
	}

	if _, _, ok := s.stateManager.Transmitter(); ok {
		t.Fatalf("expected tracker idle after end_transmission")
	}
	assertNothingReceived(t, alice, 300*time.Millisecond)
}

// A transmitter that never registered shows up as "unknown" in notifications.
func TestUnregisteredTransmitterReportedAsUnknown(t *testing.T) {
	_, ts := newRelayServer(t, "")

	anon := dialPeer(t, ts)
	bob := dialPeer(t, ts)

	writeControl(t, anon, protocol.ClientMessage{Type: protocol.TypeStartTransmission})
	n := readServerMessage(t, bob)
	if n.Type != protocol.TypeTransmissionStarted || n.Device != protocol.UnknownDevice {
		t.Fatalf("expected transmission_started from unknown, got %+v", n)
	}
}

// Disconnecting mid-transmission without end_transmission returns the tracker
// to idle and leaves the floor free for the next transmitter.
func TestTransmitterDisconnectClearsTracker(t *testing.T) {
	s, ts := newRelayServer(t, "")

	alice := dialPeer(t, ts)
	bob := dialPeer(t, ts)
	registerPeer(t, alice, "Alice")
	registerPeer(t, bob, "Bob")

	writeControl(t, alice, protocol.ClientMessage{Type: protocol.TypeStartTransmission})
	n := readServerMessage(t, bob)
	if n.Type != protocol.TypeTransmissionStarted {
		t.Fatalf("expected transmission_started, got %+v", n)
	}

	_ = alice.Close(websocket.StatusGoingAway, "battery died")

	waitForIdleTracker(t, s)

	// Bob can now take the floor without conflict.
	writeControl(t, bob, protocol.ClientMessage{Type: protocol.TypeStartTransmission})
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, device, ok := s.stateManager.Transmitter()
		if ok && device == "Bob" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected Bob tracked as transmitter, got %q ok=%v", device, ok)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// A second start_transmission overwrites the tracked transmitter; an
// end_transmission from the displaced session leaves the tracker alone.
func TestSecondTransmitterOverwritesTracker(t *testing.T) {
	s, ts := newRelayServer(t, "")

	alice := dialPeer(t, ts)
	bob := dialPeer(t, ts)
	registerPeer(t, alice, "Alice")
	registerPeer(t, bob, "Bob")

	writeControl(t, alice, protocol.ClientMessage{Type: protocol.TypeStartTransmission})
	if n := readServerMessage(t, bob); n.Type != protocol.TypeTransmissionStarted {
		t.Fatalf("expected transmission_started, got %+v", n)
	}

	writeControl(t, bob, protocol.ClientMessage{Type: protocol.TypeStartTransmission})
	if n := readServerMessage(t, alice); n.Type != protocol.TypeTransmissionStarted || n.Device != "Bob" {
		t.Fatalf("expected transmission_started from Bob, got %+v", n)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, device, _ := s.stateManager.Transmitter()
		if device == "Bob" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected tracker overwritten to Bob, got %q", device)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Alice ends her displaced transmission; Bob stays tracked.
	writeControl(t, alice, protocol.ClientMessage{Type: protocol.TypeEndTransmission})
	if n := readServerMessage(t, bob); n.Type != protocol.TypeTransmissionEnded || n.Device != "Alice" {
		t.Fatalf("expected transmission_ended from Alice, got %+v", n)
	}
	if _, device, ok := s.stateManager.Transmitter(); !ok || device != "Bob" {
		t.Fatalf("expected Bob still tracked, got %q ok=%v", device, ok)
	}
}

func waitForIdleTracker(t *testing.T, s *Server) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, _, ok := s.stateManager.Transmitter(); !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("tracker still holds a transmitter after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
