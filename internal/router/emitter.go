package router

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// EventKind discriminates the union of events the emitter publishes
// (spec §4.5).
type EventKind string

const (
	EventConnectionStateChanged EventKind = "connection_state_changed"
	EventSftpReady              EventKind = "sftp_ready"
	EventTerminalEndpointChanged EventKind = "terminal_endpoint_changed"
	EventForwardStatusChanged   EventKind = "forward_status_changed"
)

// Event is the discriminated union carried on the "node:state" channel
// (spec §4.5, §6). Every event carries (node_id, generation); fields
// irrelevant to Kind are left zero.
type Event struct {
	Kind       EventKind
	NodeID     string
	Generation uint64

	// ConnectionStateChanged
	State  Readiness
	Reason string

	// SftpReady
	SFTPReady bool
	SFTPCwd   string

	// TerminalEndpointChanged
	WSPort  int
	WSToken string

	// ForwardStatusChanged
	ForwardID     string
	ForwardStatus string
}

// Emitter maintains the per-node generation sequencer plus a
// connection_id -> node_id map (spec §4.5), and fans events out to
// subscribers. Events for unmapped connections are silently dropped:
// internal pool traffic does not itself produce UI events.
type Emitter struct {
	log  *logrus.Entry
	seq  *Sequencer

	mu        sync.RWMutex
	subs      map[chan Event]struct{}
	connToNode map[string]string
}

func NewEmitter(log *logrus.Entry) *Emitter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Emitter{
		log:        log.WithField("component", "emitter"),
		seq:        NewSequencer(),
		subs:       make(map[chan Event]struct{}),
		connToNode: make(map[string]string),
	}
}

func (e *Emitter) Sequencer() *Sequencer { return e.seq }

// Subscribe returns a channel of events; the caller must drain it (or
// call Unsubscribe) to avoid leaking goroutine-level backpressure onto
// the emitter. Buffered to absorb bursts without blocking emit.
func (e *Emitter) Subscribe() chan Event {
	ch := make(chan Event, 64)
	e.mu.Lock()
	e.subs[ch] = struct{}{}
	e.mu.Unlock()
	return ch
}

func (e *Emitter) Unsubscribe(ch chan Event) {
	e.mu.Lock()
	delete(e.subs, ch)
	e.mu.Unlock()
}

// BindNode associates connectionID with nodeID so that pool-level
// traffic on that connection produces UI events (spec §4.5).
func (e *Emitter) BindNode(connectionID, nodeID string) {
	e.mu.Lock()
	e.connToNode[connectionID] = nodeID
	e.mu.Unlock()
}

// UnbindConnection clears a connection_id -> node_id mapping, typically
// on disconnect (spec §4.5).
func (e *Emitter) UnbindConnection(connectionID string) {
	e.mu.Lock()
	delete(e.connToNode, connectionID)
	e.mu.Unlock()
}

func (e *Emitter) nodeFor(connectionID string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n, ok := e.connToNode[connectionID]
	return n, ok
}

func (e *Emitter) publish(ev Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.log.Warn("subscriber channel full, dropping event")
		}
	}
}

// EmitConnectionStateChanged emits for nodeID directly (used when the
// caller already knows the node, e.g. router-driven state changes).
func (e *Emitter) EmitConnectionStateChanged(nodeID string, state Readiness, reason string) {
	e.publish(Event{
		Kind:       EventConnectionStateChanged,
		NodeID:     nodeID,
		Generation: e.seq.Next(nodeID),
		State:      state,
		Reason:     reason,
	})
}

// EmitConnectionStateChangedForConnection resolves connectionID to its
// bound node via the connection_id -> node_id map, dropping silently if
// unmapped (spec §4.5).
func (e *Emitter) EmitConnectionStateChangedForConnection(connectionID string, state Readiness, reason string) {
	nodeID, ok := e.nodeFor(connectionID)
	if !ok {
		return
	}
	e.EmitConnectionStateChanged(nodeID, state, reason)
}

// EmitSftpReady emits once SFTP has been lazily established for a node's
// connection (spec §4.4 "SFTP acquisition").
func (e *Emitter) EmitSftpReady(connectionID string, ready bool, cwd string) {
	nodeID, ok := e.nodeFor(connectionID)
	if !ok {
		return
	}
	e.publish(Event{
		Kind:       EventSftpReady,
		NodeID:     nodeID,
		Generation: e.seq.Next(nodeID),
		SFTPReady:  ready,
		SFTPCwd:    cwd,
	})
}

// EmitForwardStatusChanged publishes a port-forward rule's status
// transition for connectionID's bound node (spec §4.5).
func (e *Emitter) EmitForwardStatusChanged(connectionID, forwardID, status, reason string) {
	nodeID, ok := e.nodeFor(connectionID)
	if !ok {
		return
	}
	e.publish(Event{
		Kind:          EventForwardStatusChanged,
		NodeID:        nodeID,
		Generation:    e.seq.Next(nodeID),
		ForwardID:     forwardID,
		ForwardStatus: status,
		Reason:        reason,
	})
}

// EmitTerminalEndpointChanged publishes a freshly-minted bridge endpoint.
func (e *Emitter) EmitTerminalEndpointChanged(nodeID string, wsPort int, wsToken string) {
	e.publish(Event{
		Kind:       EventTerminalEndpointChanged,
		NodeID:     nodeID,
		Generation: e.seq.Next(nodeID),
		WSPort:     wsPort,
		WSToken:    wsToken,
	})
}
