package router

import (
	"time"

	"github.com/sirupsen/logrus"

	"oxideterm/internal/errs"
	"oxideterm/internal/pool"
)

// waitForActiveTimeout bounds how long resolve_connection polls a
// Connecting/Reconnecting entry before giving up (spec §4.4).
const waitForActiveTimeout = 15 * time.Second

// Router translates node_id to concrete pool resources, gating on
// connection readiness and emitting generation-stamped events (spec §4.4).
type Router struct {
	log      *logrus.Entry
	nodes    NodeSource
	registry *pool.Registry
	terminals TerminalLookup
	emitter  *Emitter
}

func New(log *logrus.Entry, nodes NodeSource, registry *pool.Registry, terminals TerminalLookup, emitter *Emitter) *Router {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Router{
		log:       log.WithField("component", "router"),
		nodes:     nodes,
		registry:  registry,
		terminals: terminals,
		emitter:   emitter,
	}
}

func (r *Router) Emitter() *Emitter { return r.emitter }

// ResolveConnection implements spec §4.4's resolution algorithm.
func (r *Router) ResolveConnection(nodeID string) (ResolvedConnection, error) {
	node, ok := r.nodes.GetNode(nodeID)
	if !ok {
		return ResolvedConnection{}, errs.NodeNotFound(nodeID)
	}
	if node.SSHConnectionID == "" {
		return ResolvedConnection{}, errs.NotConnected(nodeID)
	}

	entry := r.registry.Get(node.SSHConnectionID)
	if entry == nil {
		return ResolvedConnection{}, errs.NotConnected(nodeID)
	}

	switch entry.State() {
	case pool.StateActive, pool.StateIdle:
		return resolvedFrom(node, entry), nil

	case pool.StateConnecting, pool.StateReconnecting:
		r.log.WithFields(logrus.Fields{"node_id": nodeID, "connection_id": node.SSHConnectionID}).
			Debug("waiting for connection to become active")
		if _, err := r.registry.WaitForState(node.SSHConnectionID, waitForActiveTimeout); err != nil {
			return ResolvedConnection{}, err
		}
		entry = r.registry.Get(node.SSHConnectionID)
		if entry == nil {
			return ResolvedConnection{}, errs.NotConnected(nodeID)
		}
		return resolvedFrom(node, entry), nil

	case pool.StateError:
		return ResolvedConnection{}, errs.ConnectionError(entry.ErrorReason())

	default: // LinkDown, Disconnected, Disconnecting
		return ResolvedConnection{}, errs.NotConnected(nodeID)
	}
}

func resolvedFrom(node Node, entry *pool.Entry) ResolvedConnection {
	return ResolvedConnection{
		ConnectionID:      entry.ConnectionID,
		Controller:        entry.Controller,
		TerminalSessionID: node.TerminalSessionID,
		SFTPSessionID:     node.SFTPSessionID,
	}
}

// TerminalURL looks up the bound shell session's bridge endpoint. The
// router never rebuilds a destroyed shell session automatically (spec
// §4.4 "Terminal endpoint").
func (r *Router) TerminalURL(nodeID string) (TerminalEndpoint, error) {
	resolved, err := r.ResolveConnection(nodeID)
	if err != nil {
		return TerminalEndpoint{}, err
	}
	if resolved.TerminalSessionID == "" {
		return TerminalEndpoint{}, errs.NotConnected(nodeID)
	}
	port, token, ok := r.terminals.Endpoint(resolved.TerminalSessionID)
	if !ok {
		return TerminalEndpoint{}, errs.NotConnected(nodeID)
	}
	return TerminalEndpoint{SessionID: resolved.TerminalSessionID, WSPort: port, WSToken: token}, nil
}

// GetNodeState returns a typed snapshot for UI initialization (spec §4.4).
func (r *Router) GetNodeState(nodeID string) (NodeStateSnapshot, error) {
	node, ok := r.nodes.GetNode(nodeID)
	if !ok {
		return NodeStateSnapshot{}, errs.NodeNotFound(nodeID)
	}

	state := NodeState{Readiness: ReadinessDisconnected}

	if node.SSHConnectionID != "" {
		if entry := r.registry.Get(node.SSHConnectionID); entry != nil {
			state.Readiness = stateToReadiness(entry.State())
			if entry.State() == pool.StateError {
				state.Error = entry.ErrorReason()
			}
			state.SFTPReady = entry.HasSFTP()
			state.SFTPCwd = entry.SFTPCWD()
		}
	}

	if node.TerminalSessionID != "" && r.terminals != nil {
		if port, token, ok := r.terminals.Endpoint(node.TerminalSessionID); ok {
			state.Terminal = &TerminalEndpoint{SessionID: node.TerminalSessionID, WSPort: port, WSToken: token}
		}
	}

	return NodeStateSnapshot{State: state, Generation: r.emitter.Sequencer().Current(nodeID)}, nil
}
