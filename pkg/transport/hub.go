// Package transport implements an optional gossip relay: a websocket hub
// that broadcasts locally-flushed operations to connected peers and hands
// inbound frames to the caller on Hub.Inbound, for the caller to apply to
// its Replica. It is a thin, single-purpose
// collaborator — the replica stays the source of truth, the hub only moves
// encoded operation bytes around.
package transport

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"pennycrdt/core"
)

// Frame is the wire message exchanged over a Hub connection: one encoded
// operation for a single named CRDT, alongside the author public key the
// operation's Encode form deliberately omits.
type Frame struct {
	Project string
	Author  core.UserPubKey
	Payload []byte
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub relays Frames between connected peers. Callers decode the Payload
// with core.DecodeOperation and feed the result into their own Replica;
// the hub itself never looks inside a Frame's payload.
type Hub struct {
	mu    sync.Mutex
	peers map[*peer]struct{}
	log   *logrus.Logger

	// Inbound carries frames received from any peer, for the caller to
	// apply to its replica.
	Inbound chan Frame
}

type peer struct {
	conn *websocket.Conn
	send chan Frame
}

// NewHub constructs an idle Hub. A nil logger defaults to a discard logger,
// matching core.NewReplica's convention.
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(discardWriter{})
	}
	return &Hub{
		peers:   make(map[*peer]struct{}),
		log:     logger,
		Inbound: make(chan Frame, 64),
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// ServeWS upgrades r into a websocket connection and registers it as a
// peer. It blocks until the connection closes, so callers run it as an
// http.HandlerFunc or in its own goroutine.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("transport: websocket upgrade failed")
		return
	}
	p := &peer{conn: conn, send: make(chan Frame, 64)}

	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(p)
	h.readLoop(p)
}

func (h *Hub) readLoop(p *peer) {
	defer h.remove(p)
	for {
		var frame Frame
		if err := p.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(err).Warn("transport: peer connection dropped")
			}
			return
		}
		h.Inbound <- frame
		h.Broadcast(frame, p)
	}
}

func (h *Hub) writeLoop(p *peer) {
	for frame := range p.send {
		if err := p.conn.WriteJSON(frame); err != nil {
			h.log.WithError(err).Warn("transport: write to peer failed")
			h.remove(p)
			return
		}
	}
}

func (h *Hub) remove(p *peer) {
	h.mu.Lock()
	if _, ok := h.peers[p]; ok {
		delete(h.peers, p)
		close(p.send)
	}
	h.mu.Unlock()
	p.conn.Close()
}

// Broadcast fans frame out to every connected peer except exclude (the
// peer it arrived from, if any). Call with exclude == nil to broadcast a
// locally-authored operation to every peer.
func (h *Hub) Broadcast(frame Frame, exclude *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for p := range h.peers {
		if p == exclude {
			continue
		}
		select {
		case p.send <- frame:
		default:
			h.log.Warn("transport: peer send buffer full, dropping frame")
		}
	}
}

// BroadcastOperation encodes op and broadcasts it to every connected peer.
// This is how a caller publishes its own outbox after Replica.Flush.
func BroadcastOperation[D core.Description](h *Hub, project string, op core.Operation[D]) {
	h.Broadcast(Frame{Project: project, Author: op.UserPubKey, Payload: op.Encode()}, nil)
}

// DecodeFrame recovers an Operation from an inbound Frame, using decodeDesc
// to interpret the opaque description bytes — the same contract
// core.DecodeOperation and store.Load use.
func DecodeFrame[D core.Description](frame Frame, decodeDesc func([]byte) (D, error)) (core.Operation[D], error) {
	return core.DecodeOperation[D](frame.Payload, frame.Author, decodeDesc)
}
