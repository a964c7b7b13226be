package forward

import (
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	oerrs "oxideterm/internal/errs"
	"oxideterm/internal/router"
	"oxideterm/internal/sshcore"
)

// tunnel is the narrow interface every forward kind implements,
// allowing Manager to treat local/remote/dynamic forwards uniformly.
type tunnel interface {
	stats() Stats
}

// Manager owns every forward rule for a single pool connection and
// publishes status changes through a router.Emitter (spec §4.5).
type Manager struct {
	log          *logrus.Entry
	connectionID string
	controller   sshcore.HandleController
	emitter      *router.Emitter
	forwardedTCPIP <-chan ssh.NewChannel

	mu    sync.Mutex
	rules map[string]*Rule
	local map[string]*localForward
	remote map[string]*remoteForward
	dyn   map[string]*dynamicForward
}

func NewManager(log *logrus.Entry, connectionID string, controller sshcore.HandleController, emitter *router.Emitter, forwardedTCPIP <-chan ssh.NewChannel) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		log:            log.WithField("component", "forward"),
		connectionID:   connectionID,
		controller:     controller,
		emitter:        emitter,
		forwardedTCPIP: forwardedTCPIP,
		rules:          make(map[string]*Rule),
		local:          make(map[string]*localForward),
		remote:         make(map[string]*remoteForward),
		dyn:            make(map[string]*dynamicForward),
	}
}

// StartLocal opens a local TCP listener bridging to remoteHost:remotePort.
func (m *Manager) StartLocal(localHost string, localPort int, remoteHost string, remotePort int) (*Rule, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(localHost, itoa(localPort)))
	if err != nil {
		return nil, oerrs.Wrap(oerrs.KindCapability, err, "local forward listen failed")
	}
	rule := &Rule{
		ForwardID:    uuid.NewString(),
		ConnectionID: m.connectionID,
		Kind:         KindLocal,
		LocalHost:    localHost,
		LocalPort:    ln.Addr().(*net.TCPAddr).Port,
		RemoteHost:   remoteHost,
		RemotePort:   remotePort,
		Status:       StatusStarting,
	}
	lf := newLocalForward(m.log, m.controller, rule, ln)

	m.mu.Lock()
	m.rules[rule.ForwardID] = rule
	m.local[rule.ForwardID] = lf
	m.mu.Unlock()

	go lf.run()
	m.setStatus(rule, StatusActive, "")
	return rule, nil
}

// StartRemote asks the remote server to forward a port back to a local
// destination.
func (m *Manager) StartRemote(remoteHost string, remotePort int, localHost string, localPort int) (*Rule, error) {
	rule := &Rule{
		ForwardID:    uuid.NewString(),
		ConnectionID: m.connectionID,
		Kind:         KindRemote,
		LocalHost:    localHost,
		LocalPort:    localPort,
		RemoteHost:   remoteHost,
		RemotePort:   remotePort,
		Status:       StatusStarting,
	}
	rf, boundPort, err := newRemoteForward(m.log, m.controller, rule, m.forwardedTCPIP)
	if err != nil {
		m.setStatus(rule, StatusError, err.Error())
		return rule, err
	}
	rule.RemotePort = int(boundPort)

	m.mu.Lock()
	m.rules[rule.ForwardID] = rule
	m.remote[rule.ForwardID] = rf
	m.mu.Unlock()

	go rf.run(boundPort)
	m.setStatus(rule, StatusActive, "")
	return rule, nil
}

// StartDynamic opens a local SOCKS5 listener.
func (m *Manager) StartDynamic(localHost string, localPort int) (*Rule, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(localHost, itoa(localPort)))
	if err != nil {
		return nil, oerrs.Wrap(oerrs.KindCapability, err, "dynamic forward listen failed")
	}
	rule := &Rule{
		ForwardID:    uuid.NewString(),
		ConnectionID: m.connectionID,
		Kind:         KindDynamic,
		LocalHost:    localHost,
		LocalPort:    ln.Addr().(*net.TCPAddr).Port,
		Status:       StatusStarting,
	}
	df := newDynamicForward(m.log, m.controller, rule, ln)

	m.mu.Lock()
	m.rules[rule.ForwardID] = rule
	m.dyn[rule.ForwardID] = df
	m.mu.Unlock()

	go df.run()
	m.setStatus(rule, StatusActive, "")
	return rule, nil
}

// Stop tears down a forward by ID, honoring each kind's stop() contract
// (spec §4.5).
func (m *Manager) Stop(forwardID string) error {
	m.mu.Lock()
	rule, ok := m.rules[forwardID]
	lf, isLocal := m.local[forwardID]
	rf, isRemote := m.remote[forwardID]
	df, isDyn := m.dyn[forwardID]
	m.mu.Unlock()
	if !ok {
		return oerrs.New(oerrs.KindRoute, "forward not found")
	}

	m.setStatus(rule, StatusStopping, "")
	switch {
	case isLocal:
		lf.stop()
	case isRemote:
		rf.stop()
	case isDyn:
		df.stop()
	}

	m.mu.Lock()
	delete(m.rules, forwardID)
	delete(m.local, forwardID)
	delete(m.remote, forwardID)
	delete(m.dyn, forwardID)
	m.mu.Unlock()
	m.setStatus(rule, StatusStopped, "")
	return nil
}

// List returns a snapshot of every rule owned by this manager.
func (m *Manager) List() []Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, *r)
	}
	return out
}

// BytesForConnection implements pool.ForwardByteCounter.
func (m *Manager) BytesForConnection(connectionID string) (in, out uint64) {
	if connectionID != m.connectionID {
		return 0, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tunnels() {
		s := t.stats()
		in += s.BytesIn
		out += s.BytesOut
	}
	return in, out
}

func (m *Manager) tunnels() []tunnel {
	var out []tunnel
	for _, t := range m.local {
		out = append(out, t)
	}
	for _, t := range m.remote {
		out = append(out, t)
	}
	for _, t := range m.dyn {
		out = append(out, t)
	}
	return out
}

func (m *Manager) setStatus(rule *Rule, status Status, reason string) {
	m.mu.Lock()
	rule.Status = status
	rule.Error = reason
	forwardID := rule.ForwardID
	m.mu.Unlock()
	if m.emitter != nil {
		m.emitter.EmitForwardStatusChanged(m.connectionID, forwardID, string(status), reason)
	}
}
