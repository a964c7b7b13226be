package forward

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"oxideterm/internal/sshcore"
)

// SOCKS5 protocol constants (RFC 1928), enough to serve CONNECT.
const (
	socks5Version    = 0x05
	socks5NoAuth     = 0x00
	socks5CmdConnect = 0x01
	socks5AtypIPv4   = 0x01
	socks5AtypDomain = 0x03
	socks5AtypIPv6   = 0x04
	socks5Succeeded  = 0x00
	socks5GeneralErr = 0x01
)

// dynamicForward serves a local SOCKS5 listener, tunneling each CONNECT
// through a direct-tcpip channel to the address the client requested
// (spec §4.5 "Dynamic forward").
type dynamicForward struct {
	log        *logrus.Entry
	controller sshcore.HandleController
	rule       *Rule
	listener   net.Listener
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64
	stopCh     chan struct{}
	stoppedCh  chan struct{}
}

func newDynamicForward(log *logrus.Entry, controller sshcore.HandleController, rule *Rule, ln net.Listener) *dynamicForward {
	return &dynamicForward{
		log:        log,
		controller: controller,
		rule:       rule,
		listener:   ln,
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
}

func (f *dynamicForward) run() {
	defer close(f.stoppedCh)

	disconnect := f.controller.SubscribeDisconnect()
	go func() {
		select {
		case <-disconnect:
			f.listener.Close()
		case <-f.stopCh:
		}
	}()

	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		go f.serve(conn)
	}
}

func (f *dynamicForward) serve(local net.Conn) {
	defer local.Close()
	_ = local.SetDeadline(time.Now().Add(10 * time.Second))

	host, port, err := socks5Handshake(local)
	if err != nil {
		f.log.WithError(err).Debug("socks5 handshake failed")
		return
	}
	_ = local.SetDeadline(time.Time{})

	originHost, originPort := splitHostPort(local.RemoteAddr())
	remote, err := f.controller.OpenDirectTCPIP(host, port, originHost, originPort)
	if err != nil {
		writeSocksReply(local, socks5GeneralErr)
		return
	}
	defer remote.Close()

	if err := writeSocksReply(local, socks5Succeeded); err != nil {
		return
	}

	done := make(chan struct{}, 2)
	go func() {
		n, _ := io.Copy(remote, local)
		f.bytesOut.Add(uint64(n))
		done <- struct{}{}
	}()
	go func() {
		n, _ := io.Copy(local, remote)
		f.bytesIn.Add(uint64(n))
		done <- struct{}{}
	}()
	<-done
}

// socks5Handshake reads the version/auth negotiation and the CONNECT
// request, replying NoAuth unconditionally (no SOCKS5 auth is offered
// by this forwarder, matching ssh -D's default behavior).
func socks5Handshake(conn net.Conn) (host string, port int, err error) {
	head := make([]byte, 2)
	if _, err = io.ReadFull(conn, head); err != nil {
		return "", 0, err
	}
	if head[0] != socks5Version {
		return "", 0, errors.New("unsupported socks version")
	}
	methods := make([]byte, head[1])
	if _, err = io.ReadFull(conn, methods); err != nil {
		return "", 0, err
	}
	if _, err = conn.Write([]byte{socks5Version, socks5NoAuth}); err != nil {
		return "", 0, err
	}

	reqHead := make([]byte, 4)
	if _, err = io.ReadFull(conn, reqHead); err != nil {
		return "", 0, err
	}
	if reqHead[0] != socks5Version || reqHead[1] != socks5CmdConnect {
		return "", 0, errors.New("unsupported socks command")
	}

	switch reqHead[3] {
	case socks5AtypIPv4:
		addr := make([]byte, 4)
		if _, err = io.ReadFull(conn, addr); err != nil {
			return "", 0, err
		}
		host = net.IP(addr).String()
	case socks5AtypIPv6:
		addr := make([]byte, 16)
		if _, err = io.ReadFull(conn, addr); err != nil {
			return "", 0, err
		}
		host = net.IP(addr).String()
	case socks5AtypDomain:
		lenBuf := make([]byte, 1)
		if _, err = io.ReadFull(conn, lenBuf); err != nil {
			return "", 0, err
		}
		domain := make([]byte, lenBuf[0])
		if _, err = io.ReadFull(conn, domain); err != nil {
			return "", 0, err
		}
		host = string(domain)
	default:
		return "", 0, errors.New("unsupported address type")
	}

	portBuf := make([]byte, 2)
	if _, err = io.ReadFull(conn, portBuf); err != nil {
		return "", 0, err
	}
	port = int(binary.BigEndian.Uint16(portBuf))
	return host, port, nil
}

func writeSocksReply(conn net.Conn, rep byte) error {
	reply := []byte{socks5Version, rep, 0x00, socks5AtypIPv4, 0, 0, 0, 0, 0, 0}
	_, err := conn.Write(reply)
	return err
}

func (f *dynamicForward) stop() bool {
	close(f.stopCh)
	f.listener.Close()
	deadline := time.After(stopTimeout)
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stoppedCh:
			return true
		case <-deadline:
			return false
		case <-ticker.C:
		}
	}
}

func (f *dynamicForward) stats() Stats {
	return Stats{BytesIn: f.bytesIn.Load(), BytesOut: f.bytesOut.Load(), Tunnels: 1}
}
