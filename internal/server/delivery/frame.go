// Package delivery fans chat events out to connected clients. A Hub keeps
// connections and their topic (conversation) memberships; the WebSocket and
// gRPC gateways adapt their transports to the same Conn and frame envelope.
package delivery

import "encoding/json"

// Wire event names.
const (
	EventAck            = "ack"
	EventAuthError      = "auth_error"
	EventSendMessage    = "sendMessage"
	EventMessageRead    = "message_read"
	EventCreateRoom     = "create_room"
	EventIsTyping       = "is_typing"
	EventIsRecording    = "is_recording"
	EventUserIs         = "user_is"
	EventReadMsg        = "read_msg"
	EventSomeoneReadMsg = "someone_raed_msg"
)

// Frame is the envelope of every server-to-client message.
type Frame struct {
	Event string          `json:"event"`
	Data  any             `json:"data,omitempty"`
	Ack   json.RawMessage `json:"ack,omitempty"`
}

// Inbound is a client-to-server frame. Ack, when present, is echoed on the
// reply so the client can match it.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   json.RawMessage `json:"ack,omitempty"`
}

func encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}
