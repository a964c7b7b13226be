package pool

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"oxideterm/internal/errs"
	"oxideterm/internal/sshcore"
)

const (
	// DefaultIdleTimeout is the interval an Idle entry survives before
	// eviction (spec §4.2 "Release").
	DefaultIdleTimeout = 10 * time.Minute
)

// Dialer abstracts sshcore.Dial for testability.
type Dialer interface {
	Dial(cfg sshcore.DialConfig) (*sshcore.DialResult, error)
}

type realDialer struct{}

func (realDialer) Dial(cfg sshcore.DialConfig) (*sshcore.DialResult, error) { return sshcore.Dial(cfg) }

// NewDialer returns the Dialer implementation that performs real SSH
// connects via sshcore.Dial, for callers that want New's default
// dialer but a non-default idle timeout (see NewWithDialer).
func NewDialer() Dialer { return realDialer{} }

// inflight tracks a connect in progress for a given fingerprint, so
// concurrent connect() calls for matching configs single-flight onto one
// dial (spec §4.2 "Concurrent connect deduplication").
type inflight struct {
	done chan struct{}
	id   string
	err  error
}

// Registry is the central connection_id -> Entry map (spec §4.2).
type Registry struct {
	log *logrus.Entry

	dialer      Dialer
	idleTimeout time.Duration

	mu      sync.RWMutex
	entries map[string]*Entry

	inflightMu sync.Mutex
	inflightByFingerprint map[string]*inflight
}

// New builds a Registry with the real dialer and default idle timeout.
func New(log *logrus.Entry) *Registry {
	return NewWithDialer(log, realDialer{}, DefaultIdleTimeout)
}

// NewWithDialer is the injectable constructor used by tests.
func NewWithDialer(log *logrus.Entry, dialer Dialer, idleTimeout time.Duration) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		log:                   log.WithField("component", "pool"),
		dialer:                dialer,
		idleTimeout:           idleTimeout,
		entries:               make(map[string]*Entry),
		inflightByFingerprint: make(map[string]*inflight),
	}
}

// FindByConfig walks live, non-errored entries for one matching cfg's
// fingerprint (spec §4.2 "Fingerprint matching").
func (r *Registry) FindByConfig(cfg Config) *Entry {
	fp := cfg.fingerprint()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Config.fingerprint() != fp {
			continue
		}
		switch e.State() {
		case StateError, StateDisconnected, StateDisconnecting:
			continue
		}
		return e
	}
	return nil
}

// ConnectResult reports whether Connect returned a freshly dialed entry
// or reused an existing one (spec §8 scenario 1).
type ConnectResult struct {
	ConnectionID string
	Reused       bool
}

// Connect resolves cfg to a connection, reusing a matching live entry if
// one exists, else dialing a fresh one. Concurrent calls for the same
// fingerprint are deduplicated onto a single dial (spec §4.2).
func (r *Registry) Connect(cfg Config) (ConnectResult, error) {
	if existing := r.FindByConfig(cfg); existing != nil {
		r.Acquire(existing.ConnectionID)
		return ConnectResult{ConnectionID: existing.ConnectionID, Reused: true}, nil
	}

	fp := cfg.fingerprint()

	r.inflightMu.Lock()
	if in, ok := r.inflightByFingerprint[fp]; ok {
		r.inflightMu.Unlock()
		<-in.done
		if in.err != nil {
			return ConnectResult{}, in.err
		}
		r.Acquire(in.id)
		return ConnectResult{ConnectionID: in.id, Reused: true}, nil
	}
	in := &inflight{done: make(chan struct{})}
	r.inflightByFingerprint[fp] = in
	r.inflightMu.Unlock()

	id, err := r.connectFresh(cfg)

	in.id, in.err = id, err
	close(in.done)

	r.inflightMu.Lock()
	delete(r.inflightByFingerprint, fp)
	r.inflightMu.Unlock()

	if err != nil {
		return ConnectResult{}, err
	}
	return ConnectResult{ConnectionID: id}, nil
}

func (r *Registry) connectFresh(cfg Config) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()

	result, err := r.dialer.Dial(sshcore.DialConfig{Hops: cfg.Hops})
	if err != nil {
		r.log.WithError(err).WithField("connection_id", id).Warn("connect failed")
		return "", err
	}

	owner := sshcore.NewHandleOwner(result.Client, result.ForwardedTCPIP)
	controller := sshcore.NewController(owner)
	go owner.Run()

	entry := newEntry(id, cfg, controller, r.idleTimeout)
	entry.dialResult = result
	entry.refCount = 1
	entry.connectedAt = time.Now()
	entry.setState(StateActive, "")

	r.mu.Lock()
	r.entries[id] = entry
	r.mu.Unlock()

	r.watchDisconnect(entry)
	r.watchKeepalive(entry)

	r.log.WithField("connection_id", id).Info("connected")
	return id, nil
}

// watchDisconnect arms a goroutine that moves the entry to LinkDown the
// moment its HandleOwner reports a disconnect, and cleans up capabilities.
func (r *Registry) watchDisconnect(entry *Entry) {
	go func() {
		<-entry.Controller.SubscribeDisconnect()
		entry.mu.Lock()
		already := entry.state == StateDisconnected || entry.state == StateDisconnecting
		entry.mu.Unlock()
		if already {
			return
		}
		entry.setState(StateLinkDown, "")
		r.log.WithField("connection_id", entry.ConnectionID).Warn("link down")
	}()
}

// watchKeepalive pings entry's transport every sshcore.TransportKeepaliveTick
// and moves it to LinkDown after sshcore.TransportKeepaliveMax consecutive
// non-ok results, so a silently-dead TCP connection is caught even when
// nothing else is reading or writing on it (spec §4.2 "Keepalive").
func (r *Registry) watchKeepalive(entry *Entry) {
	go func() {
		ticker := time.NewTicker(sshcore.TransportKeepaliveTick)
		defer ticker.Stop()
		disconnectCh := entry.Controller.SubscribeDisconnect()
		misses := 0
		for {
			select {
			case <-disconnectCh:
				return
			case <-ticker.C:
				if entry.Controller.Ping() == sshcore.PingOk {
					misses = 0
					continue
				}
				misses++
				if misses < sshcore.TransportKeepaliveMax {
					continue
				}
				entry.mu.Lock()
				already := entry.state == StateDisconnected || entry.state == StateDisconnecting || entry.state == StateLinkDown
				entry.mu.Unlock()
				if !already {
					entry.setState(StateLinkDown, "")
					r.log.WithField("connection_id", entry.ConnectionID).Warn("keepalive missed, link down")
				}
				return
			}
		}
	}()
}

// Get returns the entry for id, or nil.
func (r *Registry) Get(id string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// Acquire increments ref_count and cancels any armed idle timer (spec
// §4.2 "Acquire").
func (r *Registry) Acquire(id string) error {
	entry := r.Get(id)
	if entry == nil {
		return errs.New(errs.KindRoute, "no such connection")
	}
	entry.mu.Lock()
	entry.refCount++
	if entry.idleTimer != nil {
		entry.idleTimer.Stop()
		entry.idleTimer = nil
	}
	if entry.state == StateIdle {
		entry.state = StateActive
	}
	entry.mu.Unlock()
	return nil
}

// Release decrements ref_count; at zero it arms the idle timer (unless
// keep_alive is set) and moves the entry to Idle (spec §4.2 "Release").
func (r *Registry) Release(id string) error {
	entry := r.Get(id)
	if entry == nil {
		return errs.New(errs.KindRoute, "no such connection")
	}

	entry.mu.Lock()
	entry.refCount--
	if entry.refCount < 0 {
		entry.refCount = 0
	}
	becameIdle := entry.refCount == 0 && entry.state == StateActive
	if becameIdle {
		entry.state = StateIdle
		if !entry.Config.KeepAlive {
			entry.idleTimer = time.AfterFunc(entry.idleTimeout, func() {
				r.evictIfStillIdle(id)
			})
		}
	}
	entry.mu.Unlock()
	return nil
}

func (r *Registry) evictIfStillIdle(id string) {
	entry := r.Get(id)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	stillIdle := entry.state == StateIdle && entry.refCount == 0
	entry.mu.Unlock()
	if !stillIdle {
		return
	}
	r.log.WithField("connection_id", id).Info("idle timeout, disconnecting")
	_ = r.Disconnect(id)
}

// Disconnect tears an entry down: closes cached capabilities, sends SSH
// disconnect, removes the entry (spec §4.2 "Idle eviction").
func (r *Registry) Disconnect(id string) error {
	entry := r.Get(id)
	if entry == nil {
		return errs.New(errs.KindRoute, "no such connection")
	}
	entry.setState(StateDisconnecting, "")
	entry.ClearSFTP()
	entry.Controller.Disconnect()
	if entry.dialResult != nil {
		for _, c := range entry.dialResult.Closers {
			_ = c()
		}
	}
	entry.setState(StateDisconnected, "")

	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
	return nil
}

// List returns a snapshot slice of all entries.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// WaitForState polls entry id at 200ms intervals until it reaches Active
// or Idle, fails, or the timeout elapses (spec §4.4 resolution algorithm,
// step 4's Connecting/Reconnecting branch). Returns the terminal state.
func (r *Registry) WaitForState(id string, timeout time.Duration) (State, error) {
	entry := r.Get(id)
	if entry == nil {
		return "", errs.NotConnected(id)
	}
	deadline := time.Now().Add(timeout)
	for {
		switch entry.State() {
		case StateActive, StateIdle:
			return entry.State(), nil
		case StateError:
			return StateError, errs.ConnectionError(entry.ErrorReason())
		case StateDisconnected, StateDisconnecting, StateLinkDown:
			return entry.State(), errs.NotConnected(id)
		}
		if time.Now().After(deadline) {
			return entry.State(), errs.ConnectionTimeout("timed out waiting for connection to become active")
		}
		select {
		case <-entry.waitChange():
		case <-time.After(200 * time.Millisecond):
		}
	}
}
