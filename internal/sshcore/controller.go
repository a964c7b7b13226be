package sshcore

import (
	"context"

	"golang.org/x/crypto/ssh"

	oerrs "oxideterm/internal/errs"
)

// HandleController is the cheap, clonable capability conferring full
// control over a HandleOwner's transport (spec §4.1, §3.2). It is never
// itself shared in the sense of the Handle being locked — every call is a
// channel send/receive against the owner's inbox.
type HandleController struct {
	inbox        chan handleCommand
	disconnectCh chan struct{}
}

// NewController mints a HandleController for owner. Owners are expected
// to hand this out to every caller that needs SSH capability; see spec
// §3.2 for the ownership model.
func NewController(o *HandleOwner) HandleController {
	return HandleController{inbox: o.inbox, disconnectCh: o.disconnectCh}
}

// OpenSessionChannel opens a "session" channel and issues pty-req and
// shell requests on it (spec §4.1 "open_session_channel", used by the
// shell session state machine to mint an interactive PTY). Once opened,
// requests and data on the channel are channel-local per the SSH
// protocol and do not need to pass back through the owner's inbox.
func (c HandleController) OpenSessionChannel(term string, cols, rows int) (ssh.Channel, error) {
	ch, err := c.OpenSessionRaw()
	if err != nil {
		return nil, err
	}
	ptyPayload := ssh.Marshal(&ptyRequestPayload{
		Term:     term,
		Columns:  uint32(cols),
		Rows:     uint32(rows),
		Width:    0,
		Height:   0,
		Modelist: nil,
	})
	ok, err := ch.SendRequest("pty-req", true, ptyPayload)
	if err != nil {
		_ = ch.Close()
		return nil, oerrs.Wrap(oerrs.KindCapability, err, "pty-req failed")
	}
	if !ok {
		_ = ch.Close()
		return nil, oerrs.New(oerrs.KindCapability, "pty-req denied")
	}
	ok, err = ch.SendRequest("shell", true, nil)
	if err != nil {
		_ = ch.Close()
		return nil, oerrs.Wrap(oerrs.KindCapability, err, "shell request failed")
	}
	if !ok {
		_ = ch.Close()
		return nil, oerrs.New(oerrs.KindCapability, "shell request denied")
	}
	return ch, nil
}

// Resize sends a window-change request on an already-opened PTY channel.
func (c HandleController) Resize(ch ssh.Channel, cols, rows int) error {
	payload := ssh.Marshal(&windowChangePayload{Columns: uint32(cols), Rows: uint32(rows)})
	_, err := ch.SendRequest("window-change", false, payload)
	return err
}

type ptyRequestPayload struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist []byte
}

type windowChangePayload struct {
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
}

// OpenDirectTCPIP opens a direct-tcpip channel to host:port, originated
// from originatorHost:originatorPort (spec §4.1).
func (c HandleController) OpenDirectTCPIP(host string, port int, originatorHost string, originatorPort int) (ssh.Channel, error) {
	reply := make(chan channelReply, 1)
	cmd := handleCommand{
		kind:           cmdOpenDirectTCPIP,
		host:           host,
		port:           port,
		originatorHost: originatorHost,
		originatorPort: originatorPort,
		replyChannel:   reply,
	}
	if err := c.send(cmd); err != nil {
		return nil, err
	}
	r := <-reply
	if r.err != nil {
		return nil, r.err
	}
	return r.channel, nil
}

// OpenSessionRaw opens a bare "session" channel (spec's
// open_session_channel operation).
func (c HandleController) OpenSessionRaw() (ssh.Channel, error) {
	reply := make(chan channelReply, 1)
	cmd := handleCommand{kind: cmdOpenSessionChannel, replyChannel: reply}
	if err := c.send(cmd); err != nil {
		return nil, err
	}
	r := <-reply
	if r.err != nil {
		return nil, r.err
	}
	return r.channel, nil
}

// TCPIPForward requests a remote forward; port 0 asks the server to
// choose, and the actual bound port is returned (spec §4.1). It waits
// indefinitely for the owner's reply; use TCPIPForwardContext to bound
// the wait.
func (c HandleController) TCPIPForward(bindAddr string, port uint32) (uint32, error) {
	return c.TCPIPForwardContext(context.Background(), bindAddr, port)
}

// TCPIPForwardContext is TCPIPForward with a caller-supplied deadline.
// If ctx is done before the owner replies, the call returns ctx.Err()
// immediately without waiting for the reply; the owner notices nobody
// picked up the reply within forwardReplyGrace and cancels the forward
// itself rather than leave a ghost listener running (spec §4.1
// "tcpip_forward crash safety").
func (c HandleController) TCPIPForwardContext(ctx context.Context, bindAddr string, port uint32) (uint32, error) {
	reply := make(chan forwardReply)
	cmd := handleCommand{kind: cmdTCPIPForward, bindAddr: bindAddr, bindPort: port, replyForward: reply}
	if err := c.send(cmd); err != nil {
		return 0, err
	}
	select {
	case r := <-reply:
		return r.port, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// CancelTCPIPForward cancels a previously-granted remote forward.
func (c HandleController) CancelTCPIPForward(bindAddr string, port uint32) error {
	reply := make(chan error, 1)
	cmd := handleCommand{kind: cmdCancelTCPIPForward, bindAddr: bindAddr, bindPort: port, replyCancel: reply}
	if err := c.send(cmd); err != nil {
		return err
	}
	return <-reply
}

// Ping issues a keepalive and categorizes the outcome (spec §4.1). It
// never returns an error: outcomes are folded into the PingResult itself.
func (c HandleController) Ping() PingResult {
	reply := make(chan PingResult, 1)
	cmd := handleCommand{kind: cmdPing, replyPing: reply}
	if err := c.send(cmd); err != nil {
		return PingIoError
	}
	return <-reply
}

// Disconnect requests owner shutdown. Idempotent.
func (c HandleController) Disconnect() {
	select {
	case c.inbox <- handleCommand{kind: cmdDisconnect}:
	case <-c.disconnectCh:
	default:
		// Inbox full or owner already gone; either way a disconnect is
		// already in flight or moot.
	}
}

// SubscribeDisconnect returns a channel that closes exactly once, when
// the owner's transport goes down (spec §4.1). Because it is a receive-only
// channel with no reference back to the owner, pool entry -> controller ->
// subscription stays acyclic (spec §9 "Cyclic ownership").
func (c HandleController) SubscribeDisconnect() <-chan struct{} {
	return c.disconnectCh
}

func (c HandleController) send(cmd handleCommand) error {
	select {
	case c.inbox <- cmd:
		return nil
	case <-c.disconnectCh:
		return oerrs.New(oerrs.KindConnection, "Disconnected")
	}
}
