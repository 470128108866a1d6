// Package protocol defines the wire control messages shared between the
// walkie-talkie relay server and its clients. Control messages travel as UTF-8
// JSON text frames; audio travels as opaque binary frames and never passes
// through this package.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Control message type strings on the wire.
const (
	TypeRegister          = "register"
	TypeStartTransmission = "start_transmission"
	TypeEndTransmission   = "end_transmission"

	TypeWelcome             = "welcome"
	TypeRegistered          = "registered"
	TypeTransmissionStarted = "transmission_started"
	TypeTransmissionEnded   = "transmission_ended"
)

// UnknownDevice is used in notifications when the transmitting session never
// sent a register message.
const UnknownDevice = "unknown"

// ErrMissingType reports a control frame that parsed as JSON but carried no
// type field.
var ErrMissingType = errors.New("control message missing type field")

// Control is a decoded client->server control message. Exactly one of the
// concrete types below is returned by Decode; unrecognized but well-formed
// messages decode to Unknown so callers can log and ignore them without
// treating them as protocol errors.
type Control interface {
	controlType() string
}

// Register announces the client's device name. Sent once after connecting;
// the server ignores re-registration.
type Register struct {
	Device string
}

// StartTransmission marks the sending session as the active transmitter.
type StartTransmission struct{}

// EndTransmission clears the sending session's transmitter state.
type EndTransmission struct{}

// Unknown is any well-formed control message with an unrecognized type.
type Unknown struct {
	Type string
}

func (Register) controlType() string          { return TypeRegister }
func (StartTransmission) controlType() string { return TypeStartTransmission }
func (EndTransmission) controlType() string   { return TypeEndTransmission }
func (u Unknown) controlType() string         { return u.Type }

// Decode parses one inbound text frame into its tagged variant. Malformed
// JSON and missing type fields are errors; the caller drops the frame and
// keeps the connection open. A register without a device name falls back to
// UnknownDevice rather than failing.
func Decode(data []byte) (Control, error) {
	var env struct {
		Type   string `json:"type"`
		Device string `json:"device"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse control message: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}

	switch env.Type {
	case TypeRegister:
		device := env.Device
		if device == "" {
			device = UnknownDevice
		}
		return Register{Device: device}, nil
	case TypeStartTransmission:
		return StartTransmission{}, nil
	case TypeEndTransmission:
		return EndTransmission{}, nil
	default:
		return Unknown{Type: env.Type}, nil
	}
}

// ClientMessage is the wire shape of client->server control messages. Used
// by the client library; the server decodes the same bytes via Decode.
type ClientMessage struct {
	Type   string `json:"type"`
	Device string `json:"device,omitempty"`
}

// ServerMessage is the union wire shape of server->client control messages.
// Exactly which fields are set depends on Type.
type ServerMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Device  string `json:"device,omitempty"`
	Clients int    `json:"clients,omitempty"`
}

// Welcome is sent to a client immediately after its connection is admitted.
type Welcome struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Clients int    `json:"clients"`
}

// Registered confirms the first successful registration.
type Registered struct {
	Type    string `json:"type"`
	Clients int    `json:"clients"`
}

// Notification reports a transmission state change to the other peers.
type Notification struct {
	Type   string `json:"type"`
	Device string `json:"device"`
}

// EncodeWelcome builds the welcome payload for a newly admitted connection.
func EncodeWelcome(message string, clients int) ([]byte, error) {
	return json.Marshal(Welcome{Type: TypeWelcome, Message: message, Clients: clients})
}

// EncodeRegistered builds the registration confirmation payload.
func EncodeRegistered(clients int) ([]byte, error) {
	return json.Marshal(Registered{Type: TypeRegistered, Clients: clients})
}

// EncodeTransmissionStarted builds the notification broadcast when a session
// starts transmitting. An empty device encodes as UnknownDevice.
func EncodeTransmissionStarted(device string) ([]byte, error) {
	return json.Marshal(Notification{Type: TypeTransmissionStarted, Device: orUnknown(device)})
}

// EncodeTransmissionEnded builds the notification broadcast when a
// transmission ends.
func EncodeTransmissionEnded(device string) ([]byte, error) {
	return json.Marshal(Notification{Type: TypeTransmissionEnded, Device: orUnknown(device)})
}

func orUnknown(device string) string {
	if device == "" {
		return UnknownDevice
	}
	return device
}
