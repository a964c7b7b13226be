// Package pool implements the reference-counted SSH connection registry
// (spec §4.2): ssh_connection_registry's Go rendering.
package pool

import (
	"sync"
	"sync/atomic"
	"time"

	"oxideterm/internal/sshcore"
)

// State is a pool entry's lifecycle state (spec §3.1).
type State string

const (
	StateConnecting    State = "connecting"
	StateActive        State = "active"
	StateIdle          State = "idle"
	StateReconnecting  State = "reconnecting"
	StateLinkDown      State = "link_down"
	StateError         State = "error"
	StateDisconnecting State = "disconnecting"
	StateDisconnected  State = "disconnected"
)

// Config is the connect-time configuration for one connection (spec §3.1
// Pool Entry "config" field): host/port/username/auth/proxy chain.
type Config struct {
	Hops     []sshcore.HopConfig // ordered jump chain; last element is the destination
	KeepAlive bool               // suppresses idle eviction when true (spec §4.2 "Release")
}

func (c Config) destination() sshcore.HopConfig {
	return c.Hops[len(c.Hops)-1]
}

// fingerprint is the value find_by_config matches on (spec §4.2).
func (c Config) fingerprint() string {
	dst := c.destination()
	fp := dst.Username + "@" + dst.Host + ":" + itoa(dst.Port) + "#" + dst.Auth.Fingerprint()
	for _, h := range c.Hops[:len(c.Hops)-1] {
		fp += ">" + h.Username + "@" + h.Host + ":" + itoa(h.Port) + "#" + h.Auth.Fingerprint()
	}
	return fp
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Entry is one live SSH transport plus its cached capabilities (spec
// §3.1 "Connection Pool Entry").
type Entry struct {
	ConnectionID string
	Config       Config
	Controller   sshcore.HandleController

	mu         sync.Mutex
	state      State
	errReason  string
	refCount   int32
	connectedAt time.Time

	idleTimer   *time.Timer
	idleTimeout time.Duration

	dialResult *sshcore.DialResult

	terminalIDs map[string]struct{}
	forwardIDs  map[string]struct{}
	sftp        *cachedSFTP

	onIdleExpired func(entry *Entry)

	stateWaiters []chan struct{} // closed whenever state changes, for waitChange()
}

type cachedSFTP struct {
	mu  sync.Mutex
	cwd string
	// the concrete *sftp.Client lives in internal/sftpsvc.Session, which
	// wraps this cache; pool itself only tracks readiness + cwd so it has
	// no import-cycle dependency on pkg/sftp.
	ready bool
}

func newEntry(id string, cfg Config, ctrl sshcore.HandleController, idleTimeout time.Duration) *Entry {
	return &Entry{
		ConnectionID: id,
		Config:       cfg,
		Controller:   ctrl,
		state:        StateConnecting,
		idleTimeout:  idleTimeout,
		terminalIDs:  make(map[string]struct{}),
		forwardIDs:   make(map[string]struct{}),
		sftp:         &cachedSFTP{},
	}
}

// State returns the entry's current lifecycle state.
func (e *Entry) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ErrorReason returns the reason string when State() == StateError.
func (e *Entry) ErrorReason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errReason
}

// RefCount returns the current reference count.
func (e *Entry) RefCount() int32 {
	return atomic.LoadInt32(&e.refCount)
}

// HasSFTP reports whether an SFTP session has been cached on this entry.
func (e *Entry) HasSFTP() bool {
	e.sftp.mu.Lock()
	defer e.sftp.mu.Unlock()
	return e.sftp.ready
}

// SFTPCWD returns the cached SFTP session's working directory, if any.
func (e *Entry) SFTPCWD() string {
	e.sftp.mu.Lock()
	defer e.sftp.mu.Unlock()
	return e.sftp.cwd
}

// MarkSFTPReady records that an SFTP session now exists for this entry.
func (e *Entry) MarkSFTPReady(cwd string) {
	e.sftp.mu.Lock()
	e.sftp.ready = true
	e.sftp.cwd = cwd
	e.sftp.mu.Unlock()
}

// ClearSFTP drops the cached-SFTP marker (called on disconnect/eviction).
func (e *Entry) ClearSFTP() {
	e.sftp.mu.Lock()
	e.sftp.ready = false
	e.sftp.cwd = ""
	e.sftp.mu.Unlock()
}

func (e *Entry) setState(s State, reason string) {
	e.mu.Lock()
	e.state = s
	e.errReason = reason
	waiters := e.stateWaiters
	e.stateWaiters = nil
	e.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// waitChange returns a channel that closes the next time this entry's
// state changes.
func (e *Entry) waitChange() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan struct{})
	e.stateWaiters = append(e.stateWaiters, ch)
	return ch
}

// Uptime reports how long this entry has been connected.
func (e *Entry) Uptime() time.Duration {
	e.mu.Lock()
	connectedAt := e.connectedAt
	e.mu.Unlock()
	if connectedAt.IsZero() {
		return 0
	}
	return time.Since(connectedAt)
}
