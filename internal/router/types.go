// Package router implements the node-to-resource router (spec §4.4) and
// its event emitter / generation sequencer (spec §4.5).
package router

import (
	"oxideterm/internal/pool"
	"oxideterm/internal/sshcore"
)

// Readiness is the UI-facing summary of a node's connection state (spec
// §4.4 "State snapshot").
type Readiness string

const (
	ReadinessConnecting  Readiness = "connecting"
	ReadinessReady       Readiness = "ready"
	ReadinessError       Readiness = "error"
	ReadinessDisconnected Readiness = "disconnected"
)

// TerminalEndpoint is the WebSocket bridge address for a bound shell
// session (spec §4.4 "Terminal endpoint", §4.8).
type TerminalEndpoint struct {
	SessionID string
	WSPort    int
	WSToken   string
}

// ResolvedConnection is what resolve_connection hands back (spec §4.4).
type ResolvedConnection struct {
	ConnectionID        string
	Controller          sshcore.HandleController
	TerminalSessionID    string
	SFTPSessionID        string
}

// NodeState is the typed bundle get_node_state returns (spec §4.4).
type NodeState struct {
	Readiness Readiness
	Error     string
	SFTPReady bool
	SFTPCwd   string
	Terminal  *TerminalEndpoint
}

// NodeStateSnapshot pairs a NodeState with the generation it was computed
// at, so the UI can initialize before subscribing to events (spec §4.4).
type NodeStateSnapshot struct {
	State      NodeState
	Generation uint64
}

// Node is the UI-tree entity spec §3.1 describes. NodeSource below is
// the read-only lookup the router needs; the fuller tree (with
// parent/child topology) lives in internal/session.Tree and implements
// that interface.
type Node struct {
	NodeID             string
	ParentNodeID       string
	SSHConnectionID    string
	TerminalSessionID  string
	SFTPSessionID      string
}

// NodeSource resolves node IDs to Node records. internal/session.Tree is
// the production implementation.
type NodeSource interface {
	GetNode(nodeID string) (Node, bool)
}

// TerminalLookup resolves a terminal session ID to its bridge endpoint.
// internal/session.Registry is the production implementation.
type TerminalLookup interface {
	Endpoint(sessionID string) (wsPort int, wsToken string, ok bool)
}

func stateToReadiness(s pool.State) Readiness {
	switch s {
	case pool.StateActive, pool.StateIdle:
		return ReadinessReady
	case pool.StateConnecting, pool.StateReconnecting:
		return ReadinessConnecting
	case pool.StateError, pool.StateLinkDown:
		return ReadinessError
	default:
		return ReadinessDisconnected
	}
}
