package forward

import (
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"oxideterm/internal/sshcore"
)

// localForward listens on a local TCP port and bridges each accepted
// connection to a direct-tcpip channel through the owning connection's
// Handle Owner (spec §4.5 "Local forward").
type localForward struct {
	log        *logrus.Entry
	controller sshcore.HandleController
	rule       *Rule
	listener   net.Listener
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64
	stopCh     chan struct{}
	stoppedCh  chan struct{}
}

func newLocalForward(log *logrus.Entry, controller sshcore.HandleController, rule *Rule, ln net.Listener) *localForward {
	return &localForward{
		log:        log,
		controller: controller,
		rule:       rule,
		listener:   ln,
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
}

// run accepts connections until stop() is called or the owning
// connection disconnects (spec §4.5 "disconnect-triggered listener
// exit").
func (f *localForward) run() {
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
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		go f.serve(conn)
	}
}

func (f *localForward) serve(local net.Conn) {
	defer local.Close()

	host := f.rule.RemoteHost
	port := f.rule.RemotePort
	originHost, originPort := splitHostPort(local.RemoteAddr())

	remote, err := f.controller.OpenDirectTCPIP(host, port, originHost, originPort)
	if err != nil {
		f.log.WithError(err).Warn("direct-tcpip open failed")
		return
	}
	defer remote.Close()

	closeBoth := func() {
		local.Close()
		remote.Close()
	}

	done := make(chan struct{}, 2)
	go func() {
		n, _ := io.Copy(remote, &idleConn{Conn: local, timeout: idleTimeout})
		f.bytesOut.Add(uint64(n))
		done <- struct{}{}
	}()
	go func() {
		n, _ := idleChannelCopy(local, remote, idleTimeout, closeBoth)
		f.bytesIn.Add(uint64(n))
		done <- struct{}{}
	}()
	<-done
}

// stop requests the listener goroutine exit, polling until it does or
// stopTimeout elapses (spec §4.5 "stop() contract").
func (f *localForward) stop() bool {
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
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

func (f *localForward) stats() Stats {
	return Stats{BytesIn: f.bytesIn.Load(), BytesOut: f.bytesOut.Load(), Tunnels: 1}
}

func splitHostPort(addr net.Addr) (string, int) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return "", 0
	}
	return tcp.IP.String(), tcp.Port
}

// idleConn closes itself if no bytes are read within timeout of each
// other (spec §4.5 "5 minute idle timeout" on local-forward tunnels).
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	_ = c.Conn.SetReadDeadline(timeNow().Add(c.timeout))
	return c.Conn.Read(p)
}

func timeNow() time.Time { return time.Now() }

// idleChannelCopy copies src to dst like io.Copy, but tears both ends of
// the tunnel down via onIdle if no read completes within timeout of the
// last one. It exists because ssh.Channel (the remote side of a local
// forward) has no SetReadDeadline to hang an idleConn off of, so the
// deadline has to be enforced by racing each Read against a timer instead
// — applied here to give the remote->local direction the same 5-minute
// idle timeout the local->remote direction already gets from idleConn,
// per original_source's forwarding/local.rs treating both tasks
// symmetrically.
func idleChannelCopy(dst io.Writer, src io.Reader, timeout time.Duration, onIdle func()) (int64, error) {
	type readResult struct {
		n   int
		err error
	}

	var total int64
	buf := make([]byte, 32*1024)
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			n, err := src.Read(buf)
			resultCh <- readResult{n: n, err: err}
		}()

		select {
		case r := <-resultCh:
			if r.n > 0 {
				if _, werr := dst.Write(buf[:r.n]); werr != nil {
					return total, werr
				}
				total += int64(r.n)
			}
			if r.err != nil {
				return total, r.err
			}
		case <-time.After(timeout):
			onIdle()
			<-resultCh // src.Read unblocks once onIdle closes the tunnel
			return total, errIdleTimeout
		}
	}
}

var errIdleTimeout = fmt.Errorf("forward: idle timeout")
