// ABOUTME: Room relay server forwarding each participant's audio to the others
// ABOUTME: Assigns per-room slots, forwards stream announcements and tags relayed chunks
package transmit

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/coview-go/internal/protocol"
)

// maxSlots is the number of participants a room can hold
const maxSlots = 256

// peer is one connected participant
type peer struct {
	id    string
	name  string
	room  string
	slot  byte
	conn  *websocket.Conn
	start *protocol.StreamStart // last announced stream

	writeMu sync.Mutex
}

func (p *peer) write(messageType int, data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteMessage(messageType, data)
}

// writeTimeout bounds how long a slow participant can stall the sender
const writeTimeout = 2 * time.Second

// Relay is an http.Handler that runs rooms of participants
type Relay struct {
	id       string
	name     string
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[string]*peer
}

// NewRelay creates a relay
func NewRelay(name string) *Relay {
	return &Relay{
		id:   uuid.NewString(),
		name: name,
		upgrader: websocket.Upgrader{
			// participants are native clients on a trusted network
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rooms: make(map[string]map[string]*peer),
	}
}

// ListenAndServe serves the relay on addr until ctx is cancelled
func (r *Relay) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle(DefaultPath, r)
	srv := &http.Server{Addr: addr, Handler: mux}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()
	log.Printf("Relay %s listening on %s", r.name, addr)

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ServeHTTP upgrades the connection and runs one participant
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	p, err := r.join(conn)
	if err != nil {
		log.Printf("Join failed: %v", err)
		return
	}
	defer r.leave(p)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			log.Debugf("Participant %s disconnected: %v", p.id, err)
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			r.relayAudio(p, data)
		case websocket.TextMessage:
			r.handleJSON(p, data)
		}
	}
}

// join reads client/hello, assigns a slot and greets the participant
func (r *Relay) join(conn *websocket.Conn) (*peer, error) {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read client/hello: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	typ, raw, err := protocol.Decode(data)
	if err != nil {
		return nil, err
	}
	if typ != protocol.TypeClientHello {
		return nil, fmt.Errorf("expected client/hello, got %s", typ)
	}
	var hello protocol.ClientHello
	if err := protocol.DecodePayload(raw, &hello); err != nil {
		return nil, fmt.Errorf("failed to parse client/hello: %w", err)
	}
	if hello.ClientID == "" {
		hello.ClientID = uuid.NewString()
	}

	p := &peer{id: hello.ClientID, name: hello.Name, room: hello.Room, conn: conn}

	r.mu.Lock()
	members := r.rooms[p.room]
	if members == nil {
		members = make(map[string]*peer)
		r.rooms[p.room] = members
	}
	if _, dup := members[p.id]; dup {
		r.mu.Unlock()
		return nil, fmt.Errorf("participant %s already in room %q", p.id, p.room)
	}
	slot, ok := freeSlot(members)
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("room %q is full", p.room)
	}
	p.slot = slot
	members[p.id] = p
	others := peersExcept(members, p)
	ids := memberIDs(members)
	r.mu.Unlock()

	hi, _ := protocol.Encode(protocol.TypeServerHello, protocol.ServerHello{
		ServerID:     r.id,
		Name:         r.name,
		Version:      protocol.Version,
		Participants: ids,
	})
	if err := p.write(websocket.TextMessage, hi); err != nil {
		r.leave(p)
		return nil, err
	}

	// late joiners need the formats already being sent
	for _, o := range others {
		r.mu.RLock()
		start := o.start
		r.mu.RUnlock()
		if start == nil {
			continue
		}
		if msg, err := protocol.Encode(protocol.TypeStreamStart, *start); err == nil {
			p.write(websocket.TextMessage, msg)
		}
	}

	log.WithFields(log.Fields{"participant": p.id, "name": p.name, "room": p.room, "slot": p.slot}).Info("Participant joined")
	r.broadcastUpdate(p.room)
	return p, nil
}

// leave unregisters p and tells the room
func (r *Relay) leave(p *peer) {
	r.mu.Lock()
	members := r.rooms[p.room]
	if members[p.id] != p {
		r.mu.Unlock()
		return
	}
	delete(members, p.id)
	if len(members) == 0 {
		delete(r.rooms, p.room)
	}
	announced := p.start != nil
	r.mu.Unlock()

	if announced {
		if msg, err := protocol.Encode(protocol.TypeStreamEnd, protocol.StreamEnd{From: p.id, Slot: int(p.slot)}); err == nil {
			r.broadcast(p, websocket.TextMessage, msg)
		}
	}
	log.Printf("Participant %s left room %q", p.id, p.room)
	r.broadcastUpdate(p.room)
}

func (r *Relay) handleJSON(p *peer, data []byte) {
	typ, raw, err := protocol.Decode(data)
	if err != nil {
		log.Printf("Participant %s: %v", p.id, err)
		return
	}

	switch typ {
	case protocol.TypeStreamStart:
		var start protocol.StreamStart
		if err := protocol.DecodePayload(raw, &start); err != nil {
			log.Printf("Participant %s: bad stream/start: %v", p.id, err)
			return
		}
		start.From = p.id
		start.Slot = int(p.slot)
		r.mu.Lock()
		p.start = &start
		r.mu.Unlock()
		if msg, err := protocol.Encode(protocol.TypeStreamStart, start); err == nil {
			r.broadcast(p, websocket.TextMessage, msg)
		}
		log.Printf("Participant %s streams %s %dHz %dch", p.id, start.Format.Codec, start.Format.SampleRate, start.Format.Channels)

	case protocol.TypeStreamEnd:
		r.mu.Lock()
		p.start = nil
		r.mu.Unlock()
		if msg, err := protocol.Encode(protocol.TypeStreamEnd, protocol.StreamEnd{From: p.id, Slot: int(p.slot)}); err == nil {
			r.broadcast(p, websocket.TextMessage, msg)
		}

	case protocol.TypeClientState:
		var state protocol.ClientState
		if err := protocol.DecodePayload(raw, &state); err == nil {
			log.Debugf("Participant %s state: %s volume=%d muted=%v", p.id, state.State, state.Volume, state.Muted)
		}

	default:
		log.Printf("Participant %s: unknown message type %s", p.id, typ)
	}
}

// relayAudio forwards an audio chunk tagged with the sender's slot
func (r *Relay) relayAudio(p *peer, data []byte) {
	chunk, err := protocol.ParseChunk(data)
	if err != nil || chunk.Type != protocol.ChunkAudio {
		log.Debugf("Participant %s: dropping binary message", p.id)
		return
	}
	msg := protocol.AppendRoomChunk(make([]byte, 0, len(data)+1), p.slot, chunk.Timestamp, chunk.Payload)
	r.broadcast(p, websocket.BinaryMessage, msg)
}

// broadcast sends to everyone in from's room except from
func (r *Relay) broadcast(from *peer, messageType int, data []byte) {
	r.mu.RLock()
	others := peersExcept(r.rooms[from.room], from)
	r.mu.RUnlock()

	for _, o := range others {
		if err := o.write(messageType, data); err != nil {
			log.Debugf("Write to %s failed: %v", o.id, err)
		}
	}
}

func (r *Relay) broadcastUpdate(room string) {
	r.mu.RLock()
	members := r.rooms[room]
	ids := memberIDs(members)
	all := peersExcept(members, nil)
	r.mu.RUnlock()

	msg, err := protocol.Encode(protocol.TypeRoomUpdate, protocol.RoomUpdate{Participants: ids})
	if err != nil {
		return
	}
	for _, o := range all {
		o.write(websocket.TextMessage, msg)
	}
}

// Participants returns the ids in room
func (r *Relay) Participants(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return memberIDs(r.rooms[room])
}

func freeSlot(members map[string]*peer) (byte, bool) {
	var used [maxSlots]bool
	for _, m := range members {
		used[m.slot] = true
	}
	for i, u := range used {
		if !u {
			return byte(i), true
		}
	}
	return 0, false
}

func peersExcept(members map[string]*peer, skip *peer) []*peer {
	out := make([]*peer, 0, len(members))
	for _, m := range members {
		if m != skip {
			out = append(out, m)
		}
	}
	return out
}

func memberIDs(members map[string]*peer) []string {
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
