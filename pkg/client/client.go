// Package client is a Go client library for the WiFi Walkie-Talkie relay.
// It handles the websocket connection, registration and push-to-talk control
// messages, and delivers relayed audio and notifications through an
// EventHandler.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	cidpkg "github.com/spottenn/wifi-talkie/internal/cid"
	"github.com/spottenn/wifi-talkie/pkg/protocol"
)

// Config holds the connection settings for a relay client.
type Config struct {
	// ServerURL is the websocket endpoint, e.g. ws://host:8080/walkie.
	ServerURL string
	// Device is the name sent in the register message.
	Device string
	// UserAgent is sent on the upgrade request; defaulted when empty.
	UserAgent string
}

// EventHandler receives server events and relayed audio. Callbacks run on the
// Listen goroutine; implementations should not block.
type EventHandler interface {
	OnConnected()
	OnDisconnected()
	OnWelcome(message string, clients int)
	OnRegistered(clients int)
	OnTransmissionStarted(device string)
	OnTransmissionEnded(device string)
	OnAudio(data []byte)
	OnServerEvent(eventType string)
}

// DefaultEventHandler logs every event.
type DefaultEventHandler struct{}

func (h *DefaultEventHandler) OnConnected()    { log.Printf("connected to server") }
func (h *DefaultEventHandler) OnDisconnected() { log.Printf("disconnected from server") }
func (h *DefaultEventHandler) OnWelcome(message string, clients int) {
	log.Printf("welcome: %s (%d clients)", message, clients)
}
func (h *DefaultEventHandler) OnRegistered(clients int) {
	log.Printf("registered (%d clients)", clients)
}
func (h *DefaultEventHandler) OnTransmissionStarted(device string) {
	log.Printf("%s started talking", device)
}
func (h *DefaultEventHandler) OnTransmissionEnded(device string) {
	log.Printf("%s stopped talking", device)
}
func (h *DefaultEventHandler) OnAudio(data []byte) {
	log.Printf("audio: %d bytes", len(data))
}
func (h *DefaultEventHandler) OnServerEvent(eventType string) {
	log.Printf("event: %s", eventType)
}

// buildDialHeaders constructs the HTTP header map used for websocket.Dial.
// Extracted to allow unit testing of header propagation.
func buildDialHeaders(ctx context.Context, userAgent string) map[string][]string {
	headers := map[string][]string{"User-Agent": {userAgent}}
	cidpkg.AddHeaderFromContext(headers, ctx)
	return headers
}

// Client is a walkie-talkie relay client.
type Client struct {
	conn      *websocket.Conn
	config    Config
	connected bool
	handler   EventHandler
}

// New creates a client for the given configuration.
func New(config Config) *Client {
	if config.UserAgent == "" {
		config.UserAgent = "wifi-talkie-client/1.0.0"
	}
	return &Client{
		config:  config,
		handler: &DefaultEventHandler{},
	}
}

// SetEventHandler replaces the default logging handler. Must be called before
// Listen.
func (c *Client) SetEventHandler(handler EventHandler) {
	c.handler = handler
}

// IsConnected reports whether the client currently holds a connection.
func (c *Client) IsConnected() bool {
	return c.connected
}

// Connect establishes the websocket connection.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.config.ServerURL, &websocket.DialOptions{
		HTTPHeader: buildDialHeaders(ctx, c.config.UserAgent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.handler.OnConnected()
	return nil
}

// Disconnect closes the connection.
func (c *Client) Disconnect() error {
	if c.conn == nil {
		return nil
	}
	c.connected = false
	err := c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
	c.handler.OnDisconnected()
	return err
}

// Register sends the device name. The server acknowledges the first
// registration with a registered event and ignores any later ones.
func (c *Client) Register(ctx context.Context) error {
	msg := protocol.ClientMessage{Type: protocol.TypeRegister, Device: c.config.Device}
	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}
	return nil
}

// StartTransmission signals the beginning of a push-to-talk transmission.
func (c *Client) StartTransmission(ctx context.Context) error {
	msg := protocol.ClientMessage{Type: protocol.TypeStartTransmission}
	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		return fmt.Errorf("failed to start transmission: %w", err)
	}
	return nil
}

// EndTransmission signals the end of a push-to-talk transmission.
func (c *Client) EndTransmission(ctx context.Context) error {
	msg := protocol.ClientMessage{Type: protocol.TypeEndTransmission}
	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		return fmt.Errorf("failed to end transmission: %w", err)
	}
	return nil
}

// SendAudio sends one raw audio frame. The relay forwards it verbatim to all
// other peers.
func (c *Client) SendAudio(ctx context.Context, data []byte) error {
	if err := c.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// Listen reads server messages and dispatches them to the event handler until
// the connection fails or ctx is done.
func (c *Client) Listen(ctx context.Context) error {
	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			c.connected = false
			return fmt.Errorf("read error: %w", err)
		}

		switch msgType {
		case websocket.MessageBinary:
			c.handler.OnAudio(data)
		case websocket.MessageText:
			var sm protocol.ServerMessage
			if err := json.Unmarshal(data, &sm); err != nil {
				log.Printf("ignoring unparseable server message: %v", err)
				continue
			}
			c.dispatch(sm)
		}
	}
}

func (c *Client) dispatch(sm protocol.ServerMessage) {
	switch sm.Type {
	case protocol.TypeWelcome:
		c.handler.OnWelcome(sm.Message, sm.Clients)
	case protocol.TypeRegistered:
		c.handler.OnRegistered(sm.Clients)
	case protocol.TypeTransmissionStarted:
		c.handler.OnTransmissionStarted(sm.Device)
	case protocol.TypeTransmissionEnded:
		c.handler.OnTransmissionEnded(sm.Device)
	default:
		c.handler.OnServerEvent(sm.Type)
	}
}
