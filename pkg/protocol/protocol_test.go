package protocol_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/spottenn/wifi-talkie/pkg/protocol"
)

func TestDecodeRegister(t *testing.T) {
	msg, err := protocol.Decode([]byte(`{"type":"register","device":"Walkie-1"}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	reg, ok := msg.(protocol.Register)
	if !ok {
		t.Fatalf("expected Register, got %T", msg)
	}
	if reg.Device != "Walkie-1" {
		t.Fatalf("expected device Walkie-1, got %q", reg.Device)
	}
}

func TestDecodeRegisterWithoutDevice(t *testing.T) {
	msg, err := protocol.Decode([]byte(`{"type":"register"}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	reg := msg.(protocol.Register)
	if reg.Device != protocol.UnknownDevice {
		t.Fatalf("expected fallback device %q, got %q", protocol.UnknownDevice, reg.Device)
	}
}

func TestDecodeTransmissionControls(t *testing.T) {
	msg, err := protocol.Decode([]byte(`{"type":"start_transmission"}`))
	if err != nil {
		t.Fatalf("decode start failed: %v", err)
	}
	if _, ok := msg.(protocol.StartTransmission); !ok {
		t.Fatalf("expected StartTransmission, got %T", msg)
	}

	msg, err = protocol.Decode([]byte(`{"type":"end_transmission"}`))
	if err != nil {
		t.Fatalf("decode end failed: %v", err)
	}
	if _, ok := msg.(protocol.EndTransmission); !ok {
		t.Fatalf("expected EndTransmission, got %T", msg)
	}
}

// Unrecognized types decode to Unknown so the caller can log and ignore them.
func TestDecodeUnknownType(t *testing.T) {
	msg, err := protocol.Decode([]byte(`{"type":"future_feature","extra":42}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	u, ok := msg.(protocol.Unknown)
	if !ok {
		t.Fatalf("expected Unknown, got %T", msg)
	}
	if u.Type != "future_feature" {
		t.Fatalf("expected raw type preserved, got %q", u.Type)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := protocol.Decode([]byte(`not json at all`)); err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
	if _, err := protocol.Decode([]byte(`{"device":"NoType"}`)); !errors.Is(err, protocol.ErrMissingType) {
		t.Fatalf("expected ErrMissingType, got %v", err)
	}
}

func TestEncodeNotifications(t *testing.T) {
	b, err := protocol.EncodeTransmissionStarted("Alice")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var n protocol.Notification
	if err := json.Unmarshal(b, &n); err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if n.Type != protocol.TypeTransmissionStarted || n.Device != "Alice" {
		t.Fatalf("unexpected notification %+v", n)
	}

	// An unregistered transmitter encodes as "unknown".
	b, _ = protocol.EncodeTransmissionEnded("")
	if err := json.Unmarshal(b, &n); err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if n.Device != protocol.UnknownDevice {
		t.Fatalf("expected unknown device, got %q", n.Device)
	}
}

func TestEncodeWelcome(t *testing.T) {
	b, err := protocol.EncodeWelcome("hello there", 3)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var w protocol.Welcome
	if err := json.Unmarshal(b, &w); err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if w.Type != protocol.TypeWelcome || w.Message != "hello there" || w.Clients != 3 {
		t.Fatalf("unexpected welcome %+v", w)
	}
}
