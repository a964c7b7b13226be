package sshcore

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	oerrs "oxideterm/internal/errs"
)

// HopConfig describes one hop of a proxy chain (spec §4.2 "Proxy chain").
// The final element of a chain is the destination host itself.
type HopConfig struct {
	Host     string
	Port     int
	Username string
	Auth     AuthMethod
}

// DialConfig is everything sshcore.Dial needs: an ordered chain of one or
// more hops (a chain of length 1 is a direct connection) plus transport
// tuning knobs.
type DialConfig struct {
	Hops           []HopConfig
	ConnectTimeout time.Duration
	TrustHostKey   func(host string, key ssh.PublicKey) error // TOFU acceptance hook; nil rejects unknown hosts
}

const (
	defaultConnectTimeout = 30 * time.Second

	// TransportKeepaliveTick and TransportKeepaliveMax govern the pool's
	// liveness probe of an otherwise-idle transport (spec §4.2/§4.4): a
	// HandleController.Ping() every tick, and TransportKeepaliveMax
	// consecutive non-ok results before the caller should treat the link
	// as down. Exported because the pool, not sshcore, owns the loop that
	// calls Ping on this schedule.
	TransportKeepaliveTick = 30 * time.Second
	TransportKeepaliveMax  = 3
)

// DialResult is the product of a successful Dial: a live *ssh.Client for
// the final hop plus the forwarded-tcpip listener channel that must be
// wired into the HandleOwner for remote forwards to work.
type DialResult struct {
	Client         *ssh.Client
	ForwardedTCPIP <-chan ssh.NewChannel
	Closers        []func() error // intermediate hop clients, closed when the final client closes
}

// Dial connects through cfg.Hops in order, authenticating each hop
// per-hop, and tunneling subsequent hops through a direct-tcpip channel
// opened on the previous hop (spec §4.2 "Proxy chain"). Failure at any
// hop fails the whole connect and closes everything opened so far.
func Dial(cfg DialConfig) (*DialResult, error) {
	if len(cfg.Hops) == 0 {
		return nil, oerrs.New(oerrs.KindConnection, "no hops configured")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	var closers []func() error
	var prevClient *ssh.Client

	for i, hop := range cfg.Hops {
		addr := fmt.Sprintf("%s:%d", hop.Host, hop.Port)
		authMethods, err := hop.Auth.methods(context.Background())
		if err != nil {
			closeAll(closers)
			return nil, err
		}

		config := &ssh.ClientConfig{
			User:            hop.Username,
			Auth:            authMethods,
			Timeout:         timeout,
			HostKeyCallback: hostKeyCallbackFor(addr, cfg.TrustHostKey),
		}

		var client *ssh.Client
		if prevClient == nil {
			client, err = ssh.Dial("tcp", addr, config)
			if err != nil {
				closeAll(closers)
				return nil, oerrs.Wrap(oerrs.KindConnection, err, fmt.Sprintf("connect hop %d (%s)", i, addr))
			}
		} else {
			netConn, dialErr := prevClient.Dial("tcp", addr)
			if dialErr != nil {
				closeAll(closers)
				return nil, oerrs.Wrap(oerrs.KindConnection, dialErr, fmt.Sprintf("tunnel to hop %d (%s)", i, addr))
			}
			ncc, chans, reqs, hsErr := ssh.NewClientConn(netConn, addr, config)
			if hsErr != nil {
				netConn.Close()
				closeAll(closers)
				return nil, oerrs.Wrap(oerrs.KindConnection, hsErr, fmt.Sprintf("handshake hop %d (%s)", i, addr))
			}
			client = ssh.NewClient(ncc, chans, reqs)
		}

		if prevClient != nil {
			closers = append(closers, prevClient.Close)
		}
		prevClient = client
	}

	forwardedTCPIP := prevClient.HandleChannelOpen("forwarded-tcpip")

	return &DialResult{Client: prevClient, ForwardedTCPIP: forwardedTCPIP, Closers: closers}, nil
}

func closeAll(closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i]()
	}
}

// hostKeyCallbackFor wires TOFU acceptance into the handshake: unknown
// keys are forwarded to trust for a decision, changed keys are rejected
// outright; nil trust means "reject anything not already Verified".
func hostKeyCallbackFor(addr string, trust func(host string, key ssh.PublicKey) error) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		status := Default().Check(addr, key)
		switch status.Status {
		case StatusVerified:
			return nil
		case StatusChanged:
			return oerrs.New(oerrs.KindConnection, fmt.Sprintf(
				"host key for %s changed (expected %s, got %s): possible MITM", addr, status.Expected, status.Actual))
		default: // Unknown
			if trust == nil {
				return oerrs.New(oerrs.KindConnection, fmt.Sprintf("unknown host key for %s", addr))
			}
			return trust(addr, key)
		}
	}
}
