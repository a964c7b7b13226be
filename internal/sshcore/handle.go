package sshcore

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	oerrs "oxideterm/internal/errs"
)

// PingResult categorizes the outcome of a keepalive ping (spec §4.1).
// Timeout is a retryable hint; IoError is an immediate-reconnect trigger.
type PingResult int

const (
	PingOk PingResult = iota
	PingTimeout
	PingIoError
)

func (p PingResult) String() string {
	switch p {
	case PingOk:
		return "ok"
	case PingTimeout:
		return "timeout"
	case PingIoError:
		return "io_error"
	default:
		return "unknown"
	}
}

const (
	pingDeadline         = 5 * time.Second
	keepaliveRequestName = "keepalive@oxideterm.core"
)

// forwardReplyGrace is how long doTCPIPForward's caller gets to still be
// listening on its reply channel before the owner assumes it walked away
// (e.g. its context was canceled) and tears the forward back down rather
// than leave a ghost listener running for nobody (spec §4.1
// "tcpip_forward crash safety"). A var, not a const, so tests can shrink
// it instead of taking seconds to exercise the timeout path.
var forwardReplyGrace = 2 * time.Second

// handleCommand is the sum type of operations submitted to a HandleOwner's
// inbox (spec §4.1). Exactly one command is executed at a time; no lock is
// ever held across a suspension point because the owner never shares the
// *ssh.Client with anyone else.
type handleCommand struct {
	kind handleCmdKind

	// openSessionChannel: no input.
	// openDirectTCPIP
	host           string
	port           int
	originatorHost string
	originatorPort int
	// tcpipForward / cancelTcpipForward
	bindAddr string
	bindPort uint32

	replySession  chan<- sessionReply
	replyChannel  chan<- channelReply
	replyForward  chan<- forwardReply
	replyCancel   chan<- error
	replyPing     chan<- PingResult
}

type handleCmdKind int

const (
	cmdOpenSessionChannel handleCmdKind = iota
	cmdOpenDirectTCPIP
	cmdTCPIPForward
	cmdCancelTCPIPForward
	cmdPing
	cmdDisconnect
)

type sessionReply struct {
	session *ssh.Session
	err     error
}

type channelReply struct {
	channel ssh.Channel
	err     error
}

type forwardReply struct {
	port uint32
	err  error
}

// HandleOwner is the single task owning one live SSH transport (spec §4.1).
// It is constructed by the pool on successful connect and run in its own
// goroutine via Run.
type HandleOwner struct {
	client *ssh.Client
	inbox  chan handleCommand

	disconnectMu sync.Mutex
	disconnectCh chan struct{}
	disconnected bool

	forwardListeners <-chan ssh.NewChannel // forwarded-tcpip channels, wired at connect time
}

// NewHandleOwner wraps conn into an owner task. forwardedTCPIP, if
// non-nil, is the channel the *ssh.Client delivers "forwarded-tcpip"
// channel-open requests on (registered by the caller via
// client.HandleChannelOpen("forwarded-tcpip")).
func NewHandleOwner(client *ssh.Client, forwardedTCPIP <-chan ssh.NewChannel) *HandleOwner {
	return &HandleOwner{
		client:           client,
		inbox:            make(chan handleCommand, 32),
		disconnectCh:     make(chan struct{}),
		forwardListeners: forwardedTCPIP,
	}
}

// Run is the owner's command loop. It executes commands to completion,
// one at a time, in submission order (spec §5 "Ordering guarantees").
// Run returns when the inbox is closed or the transport dies.
func (o *HandleOwner) Run() {
	defer o.shutdown()

	go func() {
		_ = o.client.Wait()
		select {
		case o.inbox <- handleCommand{kind: cmdDisconnect}:
		case <-o.disconnectCh:
		}
	}()

	for cmd := range o.inbox {
		switch cmd.kind {
		case cmdOpenSessionChannel:
			ch, reqs, err := o.openChannel("session", nil)
			_ = reqs
			cmd.replyChannel <- channelReply{channel: ch, err: err}

		case cmdOpenDirectTCPIP:
			payload := directTCPIPPayload{
				Host:           cmd.host,
				Port:           uint32(cmd.port),
				OriginatorHost: cmd.originatorHost,
				OriginatorPort: uint32(cmd.originatorPort),
			}
			ch, reqs, err := o.openChannel("direct-tcpip", ssh.Marshal(&payload))
			_ = reqs
			cmd.replyChannel <- channelReply{channel: ch, err: err}

		case cmdTCPIPForward:
			port, err := o.doTCPIPForward(cmd.bindAddr, cmd.bindPort)
			if !sendForwardReply(cmd.replyForward, forwardReply{port: port, err: err}) && err == nil {
				_ = o.doCancelTCPIPForward(cmd.bindAddr, port)
			}

		case cmdCancelTCPIPForward:
			err := o.doCancelTCPIPForward(cmd.bindAddr, cmd.bindPort)
			if cmd.replyCancel != nil {
				cmd.replyCancel <- err
			}

		case cmdPing:
			cmd.replyPing <- o.doPing()

		case cmdDisconnect:
			return
		}
	}
}

type directTCPIPPayload struct {
	Host           string
	Port           uint32
	OriginatorHost string
	OriginatorPort uint32
}

func (o *HandleOwner) openChannel(name string, payload []byte) (ssh.Channel, <-chan *ssh.Request, error) {
	ch, reqs, err := o.client.OpenChannel(name, payload)
	if err != nil {
		return nil, nil, err
	}
	return ch, reqs, nil
}

func (o *HandleOwner) doTCPIPForward(addr string, port uint32) (uint32, error) {
	type tcpipForwardPayload struct {
		Addr string
		Port uint32
	}
	type tcpipForwardReply struct {
		Port uint32
	}
	var reply tcpipForwardReply
	ok, data, err := o.client.SendRequest("tcpip-forward", true, ssh.Marshal(&tcpipForwardPayload{Addr: addr, Port: port}))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("tcpip-forward request denied")
	}
	if port == 0 && len(data) > 0 {
		if unmarshalErr := ssh.Unmarshal(data, &reply); unmarshalErr == nil {
			port = reply.Port
		}
	}
	return port, nil
}

// sendForwardReply delivers reply to ch, giving the caller up to
// forwardReplyGrace to still be receiving on it. Returns false if nobody
// picked it up in time, which callers treat as "the requester is gone"
// (spec §4.1 "tcpip_forward crash safety"). A nil ch (no caller ever
// wanted a reply) is treated as delivered.
func sendForwardReply(ch chan<- forwardReply, reply forwardReply) bool {
	if ch == nil {
		return true
	}
	select {
	case ch <- reply:
		return true
	case <-time.After(forwardReplyGrace):
		return false
	}
}

func (o *HandleOwner) doCancelTCPIPForward(addr string, port uint32) error {
	type cancelPayload struct {
		Addr string
		Port uint32
	}
	ok, _, err := o.client.SendRequest("cancel-tcpip-forward", true, ssh.Marshal(&cancelPayload{Addr: addr, Port: port}))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cancel-tcpip-forward denied")
	}
	return nil
}

func (o *HandleOwner) doPing() PingResult {
	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, _, err := o.client.SendRequest(keepaliveRequestName, true, nil)
		done <- result{ok: ok, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if isDisconnectClassError(r.err) {
				return PingIoError
			}
			return PingTimeout
		}
		return PingOk
	case <-time.After(pingDeadline):
		return PingTimeout
	}
}

func isDisconnectClassError(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(*net.OpError); ok {
		return true
	}
	return err.Error() == "EOF" || err.Error() == "ssh: disconnect"
}

// shutdown runs the graceful-shutdown sequence (spec §4.1): broadcast
// disconnect, drain any remaining inbox entries with Disconnected, then
// close the transport.
func (o *HandleOwner) shutdown() {
	o.disconnectMu.Lock()
	if !o.disconnected {
		o.disconnected = true
		close(o.disconnectCh)
	}
	o.disconnectMu.Unlock()

drain:
	for {
		select {
		case cmd, ok := <-o.inbox:
			if !ok {
				break drain
			}
			replyDisconnected(cmd)
		default:
			break drain
		}
	}

	o.client.Conn.Close()
}

func replyDisconnected(cmd handleCommand) {
	err := oerrs.New(oerrs.KindConnection, "Disconnected")
	switch cmd.kind {
	case cmdOpenSessionChannel, cmdOpenDirectTCPIP:
		if cmd.replyChannel != nil {
			cmd.replyChannel <- channelReply{err: err}
		}
	case cmdTCPIPForward:
		sendForwardReply(cmd.replyForward, forwardReply{err: err})
	case cmdCancelTCPIPForward:
		if cmd.replyCancel != nil {
			cmd.replyCancel <- err
		}
	case cmdPing:
		if cmd.replyPing != nil {
			cmd.replyPing <- PingIoError
		}
	}
}
