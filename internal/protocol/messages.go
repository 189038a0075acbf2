// ABOUTME: coview wire message type definitions
// ABOUTME: Defines the JSON control messages exchanged with the room relay
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
)

// Version is the protocol version sent in hello messages
const Version = 1

// Message types
const (
	TypeClientHello = "client/hello"
	TypeServerHello = "server/hello"
	TypeStreamStart = "stream/start"
	TypeStreamEnd   = "stream/end"
	TypeClientState = "client/state"
	TypeRoomUpdate  = "room/update"
)

// Message is the top-level wrapper for all protocol messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// envelope is the receiving side of Message
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ClientHello is sent by participants to join a room
type ClientHello struct {
	ClientID string       `json:"client_id"`
	Name     string       `json:"name"`
	Version  int          `json:"version"`
	Room     string       `json:"room"`
	Receive  []AudioFormat `json:"receive_formats,omitempty"`
}

// ServerHello is the relay's response to client/hello
type ServerHello struct {
	ServerID     string   `json:"server_id"`
	Name         string   `json:"name"`
	Version      int      `json:"version"`
	Participants []string `json:"participants"`
}

// AudioFormat describes an encoded stream
type AudioFormat struct {
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
	BitDepth   int    `json:"bit_depth"`
}

// PCM returns the audio format the stream decodes to
func (f AudioFormat) PCM() audio.Format {
	depth := f.BitDepth
	if f.Codec == "opus" || depth == 0 {
		depth = 16
	}
	return audio.Format{
		SampleRate:  float64(f.SampleRate),
		Channels:    f.Channels,
		BitDepth:    depth,
		Interleaved: true,
	}
}

// StreamStart announces a participant's outbound stream format. The relay
// forwards it to every other participant with From and Slot filled in.
type StreamStart struct {
	From   string      `json:"from,omitempty"`
	Slot   int         `json:"slot"`
	Format AudioFormat `json:"format"`
}

// StreamEnd announces that a participant stopped sending
type StreamEnd struct {
	From string `json:"from,omitempty"`
	Slot int    `json:"slot"`
}

// ClientState reports a participant's local playback state
type ClientState struct {
	State  string `json:"state"`  // "playing" or "idle"
	Volume int    `json:"volume"` // 0-100
	Muted  bool   `json:"muted"`
}

// RoomUpdate lists the participants currently in the room
type RoomUpdate struct {
	Participants []string `json:"participants"`
}

// Encode marshals a typed message
func Encode(typ string, payload interface{}) ([]byte, error) {
	return json.Marshal(Message{Type: typ, Payload: payload})
}

// Decode splits a text message into its type and raw payload
func Decode(data []byte) (string, json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if env.Type == "" {
		return "", nil, fmt.Errorf("message has no type")
	}
	return env.Type, env.Payload, nil
}

// DecodePayload unmarshals a raw payload into v
func DecodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("message has no payload")
	}
	return json.Unmarshal(raw, v)
}
