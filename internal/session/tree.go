// Package session implements the shell session state machine (spec
// §4.8), the session tree of UI-facing nodes (spec §3.1 "Session Node"),
// and the WebSocket bridge handoff.
package session

import (
	"sync"

	"oxideterm/internal/router"
)

// NodeState is the UI-tree node's own lifecycle, independent of any
// bound SSH connection's pool state (spec §3.1).
type NodeState string

const (
	NodePending     NodeState = "pending"
	NodeConnecting  NodeState = "connecting"
	NodeConnected   NodeState = "connected"
	NodeFailed      NodeState = "failed"
	NodeDisconnected NodeState = "disconnected"
)

// TreeNode is one entry of the session tree (spec §3.1 "Session Node").
type TreeNode struct {
	NodeID            string
	ParentNodeID      string
	SSHConnectionID   string
	TerminalSessionID string
	SFTPSessionID     string
	State             NodeState
	Error             string
}

// Tree is the concurrency-safe UI node hierarchy. It implements
// router.NodeSource so the Router can resolve node_id -> connection_id
// without a package import cycle.
type Tree struct {
	mu    sync.RWMutex
	nodes map[string]*TreeNode
}

func NewTree() *Tree {
	return &Tree{nodes: make(map[string]*TreeNode)}
}

// AddNode inserts a new node with the given ID and optional parent,
// starting in NodePending.
func (t *Tree) AddNode(nodeID, parentNodeID string) *TreeNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := &TreeNode{NodeID: nodeID, ParentNodeID: parentNodeID, State: NodePending}
	t.nodes[nodeID] = n
	return n
}

// RemoveNode deletes nodeID and, transitively, any descendants.
func (t *Tree) RemoveNode(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(nodeID)
}

func (t *Tree) removeLocked(nodeID string) {
	for id, n := range t.nodes {
		if n.ParentNodeID == nodeID {
			t.removeLocked(id)
		}
	}
	delete(t.nodes, nodeID)
}

// GetNode implements router.NodeSource.
func (t *Tree) GetNode(nodeID string) (router.Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[nodeID]
	if !ok {
		return router.Node{}, false
	}
	return router.Node{
		NodeID:            n.NodeID,
		ParentNodeID:      n.ParentNodeID,
		SSHConnectionID:   n.SSHConnectionID,
		TerminalSessionID: n.TerminalSessionID,
		SFTPSessionID:     n.SFTPSessionID,
	}, true
}

// BindConnection records the SSH connection a node has connected to
// (spec §3.1: "at most one connection ID is bound per node").
func (t *Tree) BindConnection(nodeID, connectionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[nodeID]; ok {
		n.SSHConnectionID = connectionID
		n.State = NodeConnected
	}
}

// BindTerminal records the shell session bound to a node.
func (t *Tree) BindTerminal(nodeID, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[nodeID]; ok {
		n.TerminalSessionID = sessionID
	}
}

// BindSFTP records the SFTP session id bound to a node.
func (t *Tree) BindSFTP(nodeID, sftpID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[nodeID]; ok {
		n.SFTPSessionID = sftpID
	}
}

// SetFailed transitions a node to Failed with the given reason.
func (t *Tree) SetFailed(nodeID, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[nodeID]; ok {
		n.State = NodeFailed
		n.Error = reason
	}
}

// SetDisconnected clears a node's bound connection and marks it
// disconnected, without removing the node itself.
func (t *Tree) SetDisconnected(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[nodeID]; ok {
		n.SSHConnectionID = ""
		n.TerminalSessionID = ""
		n.SFTPSessionID = ""
		n.State = NodeDisconnected
	}
}

// Children returns the node IDs whose ParentNodeID is nodeID, mirroring
// original_source's topology_graph helper.
func (t *Tree) Children(nodeID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for id, n := range t.nodes {
		if n.ParentNodeID == nodeID {
			out = append(out, id)
		}
	}
	return out
}
