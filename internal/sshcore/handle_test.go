package sshcore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type tcpipForwardPayload struct {
	Addr string
	Port uint32
}

type tcpipForwardReplyPayload struct {
	Port uint32
}

// loopbackForwardServer answers tcpip-forward/cancel-tcpip-forward global
// requests over a net.Pipe-backed ssh.ServerConn, recording whether a
// cancel was received so tests can assert on crash-safety behavior.
type loopbackForwardServer struct {
	grantDelay time.Duration
	canceled   chan tcpipForwardPayload
}

func newLoopbackForwardServer(t *testing.T, grantDelay time.Duration) (*HandleOwner, *loopbackForwardServer) {
	t.Helper()
	srv := &loopbackForwardServer{grantDelay: grantDelay, canceled: make(chan tcpipForwardPayload, 4)}

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(hostKey)
	require.NoError(t, err)

	serverConfig := &ssh.ServerConfig{NoClientAuth: true}
	serverConfig.AddHostKey(signer)

	clientConn, serverConn := net.Pipe()

	go func() {
		sconn, chans, reqs, err := ssh.NewServerConn(serverConn, serverConfig)
		if err != nil {
			return
		}
		go func() {
			for nc := range chans {
				nc.Reject(ssh.UnknownChannelType, "unsupported in test")
			}
		}()
		for req := range reqs {
			switch req.Type {
			case "tcpip-forward":
				var payload tcpipForwardPayload
				_ = ssh.Unmarshal(req.Payload, &payload)
				if srv.grantDelay > 0 {
					time.Sleep(srv.grantDelay)
				}
				if req.WantReply {
					req.Reply(true, ssh.Marshal(&tcpipForwardReplyPayload{Port: 40000}))
				}
			case "cancel-tcpip-forward":
				var payload tcpipForwardPayload
				_ = ssh.Unmarshal(req.Payload, &payload)
				srv.canceled <- payload
				if req.WantReply {
					req.Reply(true, nil)
				}
			case "keepalive@oxideterm.core":
				if req.WantReply {
					req.Reply(true, nil)
				}
			default:
				if req.WantReply {
					req.Reply(false, nil)
				}
			}
		}
		sconn.Close()
	}()

	clientConfig := &ssh.ClientConfig{
		User:            "loopback",
		Auth:            []ssh.AuthMethod{ssh.Password("p")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	ncc, clientChans, clientReqs, err := ssh.NewClientConn(clientConn, "loopback", clientConfig)
	require.NoError(t, err)
	client := ssh.NewClient(ncc, clientChans, clientReqs)

	owner := NewHandleOwner(client, make(chan ssh.NewChannel))
	go owner.Run()
	return owner, srv
}

func TestTCPIPForwardAbandonedContextTriggersCancel(t *testing.T) {
	old := forwardReplyGrace
	forwardReplyGrace = 30 * time.Millisecond
	defer func() { forwardReplyGrace = old }()

	owner, srv := newLoopbackForwardServer(t, 80*time.Millisecond)
	controller := NewController(owner)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := controller.TCPIPForwardContext(ctx, "0.0.0.0", 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case payload := <-srv.canceled:
		require.Equal(t, "0.0.0.0", payload.Addr)
		require.Equal(t, uint32(40000), payload.Port)
	case <-time.After(2 * time.Second):
		t.Fatal("owner never issued cancel-tcpip-forward for an abandoned caller")
	}
}

func TestTCPIPForwardNormalCallDoesNotCancel(t *testing.T) {
	owner, srv := newLoopbackForwardServer(t, 0)
	controller := NewController(owner)

	port, err := controller.TCPIPForward("0.0.0.0", 0)
	require.NoError(t, err)
	require.Equal(t, uint32(40000), port)

	select {
	case payload := <-srv.canceled:
		t.Fatalf("unexpected cancel-tcpip-forward for a caller still waiting: %+v", payload)
	case <-time.After(100 * time.Millisecond):
	}
}
