package forward

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"

	"golang.org/x/crypto/ssh"

	"oxideterm/internal/sshcore"
)

// directTCPIPPayload mirrors the wire format of a direct-tcpip channel
// open request (RFC 4254 §7.2), used here only to decode what the test
// server's loopback accept loop receives.
type directTCPIPPayload struct {
	Host           string
	Port           uint32
	OriginatorHost string
	OriginatorPort uint32
}

// newLoopbackController spins up a real (net.Pipe-backed) SSH client/
// server pair and returns a HandleController whose direct-tcpip opens
// are serviced by a server that dials the requested host:port for real,
// exactly like an actual sshd would.
func newLoopbackController() sshcore.HandleController {
	_, hostKey, _ := ed25519.GenerateKey(rand.Reader)
	signer, _ := ssh.NewSignerFromKey(hostKey)

	serverConfig := &ssh.ServerConfig{NoClientAuth: true}
	serverConfig.AddHostKey(signer)

	clientConn, serverConn := net.Pipe()

	go func() {
		sconn, chans, reqs, err := ssh.NewServerConn(serverConn, serverConfig)
		if err != nil {
			return
		}
		go ssh.DiscardRequests(reqs)
		_ = sconn
		for newCh := range chans {
			if newCh.ChannelType() != "direct-tcpip" {
				newCh.Reject(ssh.UnknownChannelType, "unsupported")
				continue
			}
			var payload directTCPIPPayload
			if err := ssh.Unmarshal(newCh.ExtraData(), &payload); err != nil {
				newCh.Reject(ssh.ConnectionFailed, "bad payload")
				continue
			}
			ch, reqs, err := newCh.Accept()
			if err != nil {
				continue
			}
			go ssh.DiscardRequests(reqs)
			go bridgeToDestination(ch, payload)
		}
	}()

	clientConfig := &ssh.ClientConfig{
		User:            "loopback",
		Auth:            []ssh.AuthMethod{ssh.Password("p")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	ncc, chans, reqs, err := ssh.NewClientConn(clientConn, "loopback", clientConfig)
	if err != nil {
		panic(err)
	}
	client := ssh.NewClient(ncc, chans, reqs)

	owner := sshcore.NewHandleOwner(client, make(chan ssh.NewChannel))
	go owner.Run()
	return sshcore.NewController(owner)
}

func bridgeToDestination(ch ssh.Channel, payload directTCPIPPayload) {
	defer ch.Close()
	dest, err := net.Dial("tcp", net.JoinHostPort(payload.Host, itoaPort(payload.Port)))
	if err != nil {
		return
	}
	defer dest.Close()

	done := make(chan struct{}, 2)
	go func() { io.Copy(dest, ch); done <- struct{}{} }()
	go func() { io.Copy(ch, dest); done <- struct{}{} }()
	<-done
}

func itoaPort(p uint32) string { return itoa(int(p)) }
