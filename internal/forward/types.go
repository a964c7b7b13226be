// Package forward implements local, remote, and dynamic (SOCKS5) port
// forwarding over a pool connection's Handle Owner (spec §4.5).
package forward

import "time"

// Kind distinguishes the three forwarding modes (spec §4.5).
type Kind string

const (
	KindLocal   Kind = "local"
	KindRemote  Kind = "remote"
	KindDynamic Kind = "dynamic"
)

// Status is a forward rule's lifecycle (spec §4.5).
type Status string

const (
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Rule is one forwarding rule bound to a pool connection (spec §3.1
// "Port Forward Rule").
type Rule struct {
	ForwardID    string
	ConnectionID string
	Kind         Kind

	LocalHost  string
	LocalPort  int
	RemoteHost string
	RemotePort int

	Status Status
	Error  string

	CreatedAt time.Time
}

// Stats reports byte counters for a forward, aggregated across its
// active tunnels (spec §4.5, consumed by pool.ForwardByteCounter).
type Stats struct {
	BytesIn  uint64
	BytesOut uint64
	Tunnels  int
}

// idleTimeout closes an established local-forward TCP tunnel if it has
// carried no traffic for this long (spec §4.5 "5 minute idle timeout").
const idleTimeout = 5 * time.Minute

// stopPollInterval / stopTimeout bound how long Manager.Stop waits for
// a listener goroutine to exit cleanly before giving up (spec §4.5
// "stop() contract").
const (
	stopPollInterval = 50 * time.Millisecond
	stopTimeout      = 5 * time.Second
)
