package forward

import (
	"io"
	"net"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"oxideterm/internal/sshcore"
)

// remoteForward asks the remote server to listen on its side and
// forward accepted connections back to a local host:port (spec §4.5
// "Remote forward": tcpip-forward / forwarded-tcpip).
type remoteForward struct {
	log        *logrus.Entry
	controller sshcore.HandleController
	rule       *Rule
	newChans   <-chan ssh.NewChannel
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64
	stopCh     chan struct{}
}

// newRemoteForward requests the forward and returns the bound port.
// newChans must be the "forwarded-tcpip" channel stream registered by
// the pool at connect time (spec §4.1 HandleOwner.forwardListeners).
func newRemoteForward(log *logrus.Entry, controller sshcore.HandleController, rule *Rule, newChans <-chan ssh.NewChannel) (*remoteForward, uint32, error) {
	port, err := controller.TCPIPForward(rule.RemoteHost, uint32(rule.RemotePort))
	if err != nil {
		return nil, 0, err
	}
	f := &remoteForward{
		log:        log,
		controller: controller,
		rule:       rule,
		newChans:   newChans,
		stopCh:     make(chan struct{}),
	}
	return f, port, nil
}

// run dispatches forwarded-tcpip channel-open requests matching this
// forward's bound port to the configured local destination.
func (f *remoteForward) run(boundPort uint32) {
	for {
		select {
		case <-f.stopCh:
			return
		case nc, ok := <-f.newChans:
			if !ok {
				return
			}
			var payload forwardedTCPIPPayload
			if err := ssh.Unmarshal(nc.ExtraData(), &payload); err != nil {
				nc.Reject(ssh.ConnectionFailed, "malformed forwarded-tcpip payload")
				continue
			}
			if payload.Port != boundPort {
				nc.Reject(ssh.ConnectionFailed, "port mismatch")
				continue
			}
			go f.serve(nc)
		}
	}
}

type forwardedTCPIPPayload struct {
	Addr           string
	Port           uint32
	OriginatorAddr string
	OriginatorPort uint32
}

func (f *remoteForward) serve(nc ssh.NewChannel) {
	ch, reqs, err := nc.Accept()
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	defer ch.Close()

	local, err := net.Dial("tcp", net.JoinHostPort(f.rule.LocalHost, itoa(f.rule.LocalPort)))
	if err != nil {
		f.log.WithError(err).Warn("remote forward local dial failed")
		return
	}
	defer local.Close()

	done := make(chan struct{}, 2)
	go func() {
		n, _ := io.Copy(local, ch)
		f.bytesIn.Add(uint64(n))
		done <- struct{}{}
	}()
	go func() {
		n, _ := io.Copy(ch, local)
		f.bytesOut.Add(uint64(n))
		done <- struct{}{}
	}()
	<-done
}

func (f *remoteForward) stop() {
	close(f.stopCh)
	_ = f.controller.CancelTCPIPForward(f.rule.RemoteHost, uint32(f.rule.RemotePort))
}

func (f *remoteForward) stats() Stats {
	return Stats{BytesIn: f.bytesIn.Load(), BytesOut: f.bytesOut.Load(), Tunnels: 1}
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
