package session

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/crypto/ssh"

	"oxideterm/internal/errs"
	"oxideterm/internal/sshcore"
)

// State is the shell session lifecycle state machine (spec §4.8).
type State string

const (
	StateCreated      State = "created"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnecting State = "disconnecting"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// validTransitions enumerates the guarded edges of spec §4.8's table.
// Error is reachable from any state and is checked separately.
var validTransitions = map[State][]State{
	StateCreated:       {StateConnecting},
	StateConnecting:    {StateConnected, StateError},
	StateConnected:     {StateDisconnecting, StateError},
	StateDisconnecting: {StateDisconnected, StateError},
}

// Command is sent to a session's command channel (spec §3.1 "command
// channel to the Handle Owner").
type Command struct {
	Kind   CommandKind
	Data   []byte // CommandData
	Cols   int    // CommandResize
	Rows   int
}

type CommandKind int

const (
	CommandData CommandKind = iota
	CommandResize
	CommandClose
)

// Config is a shell session's connect-time configuration.
type Config struct {
	ConnectionID string
	Cols, Rows   int
	Term         string
}

// Entry is one shell session (spec §3.1 "Shell Session Entry").
type Entry struct {
	SessionID    string
	Config       Config
	ConnectionID string
	Order        int

	WSPort  int
	WSToken string

	mu    sync.Mutex
	state State
	reason string

	controller sshcore.HandleController
	cmdCh      chan Command
	output     *Broadcast
	buffer     *ScrollBuffer

	channel ssh.Channel
	cancel  context.CancelFunc
}

// outputBroadcastCapacity is the bounded broadcast channel size (spec
// §4.8: "bounded (256 slots); slow consumers lose history but never
// stall the SSH reader").
const outputBroadcastCapacity = 256

func newEntry(id string, cfg Config, ctrl sshcore.HandleController, order int) *Entry {
	return &Entry{
		SessionID:    id,
		Config:       cfg,
		ConnectionID: cfg.ConnectionID,
		Order:        order,
		state:        StateCreated,
		controller:   ctrl,
		cmdCh:        make(chan Command, 16),
		output:       NewBroadcast(outputBroadcastCapacity),
		buffer:       NewScrollBuffer(DefaultMaxLines),
	}
}

func (e *Entry) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Entry) transition(to State, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if to == StateError {
		e.state = StateError
		e.reason = reason
		return nil
	}
	for _, allowed := range validTransitions[e.state] {
		if allowed == to {
			e.state = to
			return nil
		}
	}
	return errs.New(errs.KindProtocol, fmt.Sprintf("invalid session transition %s -> %s", e.state, to))
}

func (e *Entry) ScrollBuffer() *ScrollBuffer { return e.buffer }
func (e *Entry) Output() *Broadcast         { return e.output }
func (e *Entry) Commands() chan<- Command   { return e.cmdCh }

// Send pushes a command from the bridge/CLI caller into the session.
func (e *Entry) Send(cmd Command) error {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state != StateConnected {
		return errs.New(errs.KindRoute, "session not connected")
	}
	select {
	case e.cmdCh <- cmd:
		return nil
	default:
		return errs.New(errs.KindCapability, "session command queue full")
	}
}

// Close requests graceful shutdown; idempotent.
func (e *Entry) Close() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	_ = e.transition(StateDisconnecting, "")
	select {
	case e.cmdCh <- Command{Kind: CommandClose}:
	default:
	}
	if cancel != nil {
		cancel()
	}
}

// Registry holds all live shell sessions, implementing
// router.TerminalLookup for endpoint resolution.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Entry
	nextOrder int
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Entry)}
}

// Create registers a new session in StateConnecting (spec §4.8:
// "registry insert" is the Created -> Connecting trigger).
func (r *Registry) Create(id string, cfg Config, ctrl sshcore.HandleController) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextOrder++
	e := newEntry(id, cfg, ctrl, r.nextOrder)
	_ = e.transition(StateConnecting, "")
	r.sessions[id] = e
	return e
}

func (r *Registry) Get(id string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e)
	}
	return out
}

// WithSession runs fn with the session looked up by id, mirroring
// original_source's `with_session` helper used by NodeRouter.TerminalUrl.
func (r *Registry) WithSession(id string, fn func(*Entry)) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		fn(e)
	}
}

// Endpoint implements router.TerminalLookup.
func (r *Registry) Endpoint(sessionID string) (int, string, bool) {
	r.mu.RLock()
	e, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok || e.WSPort == 0 || e.WSToken == "" {
		return 0, "", false
	}
	return e.WSPort, e.WSToken, true
}

// MarkConnected transitions Connecting -> Connected once PTY+shell
// requests succeed and the bridge port is published (spec §4.8).
func (e *Entry) MarkConnected(channel ssh.Channel, ctx context.Context, cancel context.CancelFunc, wsPort int, wsToken string) error {
	if err := e.transition(StateConnected, ""); err != nil {
		return err
	}
	e.mu.Lock()
	e.channel = channel
	e.cancel = cancel
	e.WSPort = wsPort
	e.WSToken = wsToken
	e.mu.Unlock()
	return nil
}

// MarkFailed transitions to Error with reason (spec §4.8: any
// auth/channel error during Connecting).
func (e *Entry) MarkFailed(reason string) {
	_ = e.transition(StateError, reason)
}

// MarkDisconnected transitions Disconnecting -> Disconnected on channel
// EOF (spec §4.8), first moving Connected -> Disconnecting when the
// channel closed without a prior Close, and closes the output broadcast so every bridge
// subscriber sees the SSH-side close (spec §4.8/§6: "Close: server
// closes the ws on underlying SSH channel close").
func (e *Entry) MarkDisconnected() {
	_ = e.transition(StateDisconnecting, "") // rejected (and ignored) unless still Connected
	_ = e.transition(StateDisconnected, "")
	e.output.Close()
}

// Reason returns the Error state's reason, if any.
func (e *Entry) Reason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reason
}
