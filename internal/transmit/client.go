// ABOUTME: WebSocket client that sends captured audio to the room relay
// ABOUTME: Implements the device transmission sink and feeds relayed audio into a Room
package transmit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/coview-go/internal/protocol"
	"github.com/Resonate-Protocol/coview-go/pkg/audio"
	"github.com/Resonate-Protocol/coview-go/pkg/audio/convert"
	"github.com/Resonate-Protocol/coview-go/pkg/audio/encode"
)

// ErrNotConnected is returned by Deliver before Connect or after Close
var ErrNotConnected = errors.New("transmit: not connected")

// DefaultPath is the relay's websocket endpoint
const DefaultPath = "/coview"

// opusRate is the wire rate for Opus streams
const opusRate = 48000

// convertChunk bounds how many captured frames are converted per step
const convertChunk = 4096

// Config holds client configuration
type Config struct {
	ServerAddr string // host:port of the relay
	Path       string
	ClientID   string
	Name       string
	Room       string
	Codec      string // "opus" or "pcm"
	BitDepth   int    // PCM wire depth
	// Quality selects the converter in front of the encoder. It runs on
	// the transmission pump, never on an audio thread.
	Quality convert.Quality
	// Receiver gets relayed audio; nil ignores it
	Receiver     *Room
	DialTimeout  time.Duration
	WriteTimeout time.Duration // bounds each send on a stalled relay
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.ClientID == "" {
		c.ClientID = uuid.NewString()
	}
	if c.Codec == "" {
		c.Codec = "opus"
	}
	if c.BitDepth == 0 {
		c.BitDepth = 16
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = writeTimeout
	}
	return c
}

// outbound is the encoder chain for one capture format
type outbound struct {
	input   audio.Format
	wire    audio.Format       // encoder input
	conv    *convert.Converter // nil when input is already the encoder input
	enc     encode.Encoder
	scratch audio.BufferList
	pending []byte
	frame   int // bytes per Encode call
}

// Client represents a WebSocket connection to the relay
type Client struct {
	config Config
	conn   *websocket.Conn

	mu        sync.RWMutex
	connected bool

	writeMu sync.Mutex // gorilla allows one concurrent writer
	sendMu  sync.Mutex // serializes Deliver
	out     *outbound

	participants atomic.Pointer[[]string]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	sentChunks    atomic.Uint64
	sentBytes     atomic.Uint64
	receivedBytes atomic.Uint64
}

// NewClient creates a new WebSocket client
func NewClient(config Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config: config.withDefaults(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.participants.Store(&[]string{})
	return c
}

// ID returns the client's participant id
func (c *Client) ID() string { return c.config.ClientID }

// Connect dials the relay and joins the room
func (c *Client) Connect(ctx context.Context) error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: c.config.Path}
	log.Printf("Connecting to %s", u.String())

	dialer := websocket.Dialer{HandshakeTimeout: c.config.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()
	return nil
}

// handshake sends client/hello and waits for server/hello
func (c *Client) handshake() error {
	hello := protocol.ClientHello{
		ClientID: c.config.ClientID,
		Name:     c.config.Name,
		Version:  protocol.Version,
		Room:     c.config.Room,
	}
	if c.config.Receiver != nil {
		hello.Receive = []protocol.AudioFormat{
			{Codec: "opus", SampleRate: opusRate, Channels: 2, BitDepth: 16},
			{Codec: "pcm", SampleRate: opusRate, Channels: 2, BitDepth: 16},
		}
	}
	if err := c.send(protocol.TypeClientHello, hello); err != nil {
		return fmt.Errorf("failed to send client/hello: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(c.config.DialTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read server/hello: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{})

	typ, raw, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	if typ != protocol.TypeServerHello {
		return fmt.Errorf("expected server/hello, got %s", typ)
	}
	var sh protocol.ServerHello
	if err := protocol.DecodePayload(raw, &sh); err != nil {
		return fmt.Errorf("failed to parse server/hello: %w", err)
	}
	c.setParticipants(sh.Participants)

	log.Printf("Joined room %q on %s with %d participants", c.config.Room, sh.Name, len(sh.Participants))
	return nil
}

// send writes a JSON message
func (c *Client) send(typ string, payload interface{}) error {
	data, err := protocol.Encode(typ, payload)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

func (c *Client) write(messageType int, data []byte) error {
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return conn.WriteMessage(messageType, data)
}

// Deliver encodes captured audio and sends it in codec-sized chunks. It
// runs on the device's transmission pump.
func (c *Client) Deliver(samples []byte, format audio.Format) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.Connected() {
		return ErrNotConnected
	}
	if c.out == nil || c.out.input != format {
		if err := c.startStream(format); err != nil {
			return err
		}
	}
	o := c.out

	bpf := format.BytesPerFrame()
	frames := len(samples) / bpf
	for off := 0; off < frames; off += convertChunk {
		n := min(convertChunk, frames-off)
		chunk := samples[off*bpf : (off+n)*bpf]
		if o.conv == nil {
			o.pending = append(o.pending, chunk...)
			continue
		}
		res, err := o.conv.Convert(audio.BufferList{chunk}, n, o.scratch, o.conv.MaxOutputFrames(n))
		if err != nil {
			return fmt.Errorf("transmit: %w", err)
		}
		o.pending = append(o.pending, o.scratch[0][:res.Produced*o.wire.BytesPerFrame()]...)
	}

	return c.flush(o)
}

// flush encodes and sends every complete frame in pending
func (c *Client) flush(o *outbound) error {
	frame := o.frame
	if frame == 0 {
		frame = len(o.pending) / o.wire.BytesPerFrame() * o.wire.BytesPerFrame()
	}
	sent := 0
	for frame > 0 && len(o.pending)-sent >= frame {
		payload, err := o.enc.Encode(o.pending[sent : sent+frame])
		if err != nil {
			return fmt.Errorf("transmit: %w", err)
		}
		msg := protocol.AppendChunk(nil, protocol.ChunkAudio, time.Now().UnixMicro(), payload)
		if err := c.write(websocket.BinaryMessage, msg); err != nil {
			return err
		}
		c.sentChunks.Add(1)
		c.sentBytes.Add(uint64(len(payload)))
		sent += frame
	}
	o.pending = append(o.pending[:0], o.pending[sent:]...)
	return nil
}

// startStream builds the encoder chain for format and announces it. Streams
// with more than two channels are sent as mono.
func (c *Client) startStream(format audio.Format) error {
	channels := format.Channels
	if channels > 2 {
		channels = 1
	}

	var encInput, wire audio.Format
	switch c.config.Codec {
	case "opus":
		encInput = audio.Int16Interleaved(opusRate, channels)
		wire = encInput
	case "pcm":
		// the PCM encoder repacks sample depth itself
		encInput = format
		if channels != format.Channels {
			encInput = audio.Format{SampleRate: format.SampleRate, Channels: channels, BitDepth: 32, Float: true, Interleaved: true}
		}
		wire = audio.Format{SampleRate: format.SampleRate, Channels: channels, BitDepth: c.config.BitDepth, Interleaved: true}
	default:
		return fmt.Errorf("transmit: unsupported codec %q", c.config.Codec)
	}

	o := &outbound{input: format, wire: encInput}
	if encInput != format {
		conv, err := convert.New(convert.Config{
			Source:  format,
			Target:  encInput,
			Quality: c.config.Quality,
		})
		if err != nil {
			return fmt.Errorf("transmit: %w", err)
		}
		o.conv = conv
		o.scratch = audio.NewBufferList(encInput, conv.MaxOutputFrames(convertChunk))
	}

	enc, err := encode.New(c.config.Codec, encInput, c.config.BitDepth)
	if err != nil {
		return fmt.Errorf("transmit: %w", err)
	}
	o.enc = enc
	o.frame = enc.FrameSize() * encInput.BytesPerFrame()

	if c.out != nil {
		c.out.enc.Close()
	}
	c.out = o

	announce := protocol.AudioFormat{
		Codec:      c.config.Codec,
		Channels:   wire.Channels,
		SampleRate: int(wire.SampleRate),
		BitDepth:   wire.BitDepth,
	}
	if err := c.send(protocol.TypeStreamStart, protocol.StreamStart{Format: announce}); err != nil {
		return err
	}
	log.Printf("Sending %s %s (captured %s)", c.config.Codec, wire, format)
	return nil
}

// readMessages reads and routes incoming messages
func (c *Client) readMessages() {
	defer close(c.done)
	defer c.Close()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
			default:
				log.Printf("Read error: %v", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.handleBinaryMessage(data)
		case websocket.TextMessage:
			c.handleJSONMessage(data)
		}
	}
}

// handleBinaryMessage hands relayed audio to the receiver
func (c *Client) handleBinaryMessage(data []byte) {
	chunk, err := protocol.ParseChunk(data)
	if err != nil {
		log.Debugf("Dropping binary message: %v", err)
		return
	}
	if chunk.Type != protocol.ChunkRoom || c.config.Receiver == nil {
		return
	}
	slot, payload := chunk.Slot()
	c.receivedBytes.Add(uint64(len(payload)))
	if err := c.config.Receiver.Push(slot, payload); err != nil {
		log.Debugf("Room chunk from slot %d: %v", slot, err)
	}
}

// handleJSONMessage routes JSON messages
func (c *Client) handleJSONMessage(data []byte) {
	typ, raw, err := protocol.Decode(data)
	if err != nil {
		log.Printf("Failed to parse JSON message: %v", err)
		return
	}

	switch typ {
	case protocol.TypeStreamStart:
		var start protocol.StreamStart
		if err := protocol.DecodePayload(raw, &start); err != nil {
			log.Printf("Bad stream/start: %v", err)
			return
		}
		if c.config.Receiver == nil {
			return
		}
		if err := c.config.Receiver.StartStream(start); err != nil {
			log.Printf("Cannot play stream from %s: %v", start.From, err)
		}

	case protocol.TypeStreamEnd:
		var end protocol.StreamEnd
		if err := protocol.DecodePayload(raw, &end); err != nil {
			log.Printf("Bad stream/end: %v", err)
			return
		}
		if c.config.Receiver != nil {
			c.config.Receiver.EndStream(end.Slot)
		}

	case protocol.TypeRoomUpdate:
		var update protocol.RoomUpdate
		if err := protocol.DecodePayload(raw, &update); err != nil {
			log.Printf("Bad room/update: %v", err)
			return
		}
		c.setParticipants(update.Participants)
		log.Printf("Room update: %d participants", len(update.Participants))

	default:
		log.Printf("Unknown message type: %s", typ)
	}
}

func (c *Client) setParticipants(ids []string) {
	cp := append([]string(nil), ids...)
	c.participants.Store(&cp)
}

// Participants returns the ids currently in the room
func (c *Client) Participants() []string {
	return *c.participants.Load()
}

// SendState sends a client/state message
func (c *Client) SendState(state protocol.ClientState) error {
	return c.send(protocol.TypeClientState, state)
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.cancel()
		c.conn.Close()
		log.Printf("Connection closed")
	}
}

// Done is closed once the reader has exited
func (c *Client) Done() <-chan struct{} { return c.done }

// Connected returns connection status
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// ClientStats counts traffic
type ClientStats struct {
	Connected     bool
	Participants  int
	SentChunks    uint64
	SentBytes     uint64
	ReceivedBytes uint64
}

func (c *Client) Stats() ClientStats {
	return ClientStats{
		Connected:     c.Connected(),
		Participants:  len(c.Participants()),
		SentChunks:    c.sentChunks.Load(),
		SentBytes:     c.sentBytes.Load(),
		ReceivedBytes: c.receivedBytes.Load(),
	}
}
