package pool

import (
	"crypto/rand"
	"crypto/ed25519"
	"net"

	"golang.org/x/crypto/ssh"
)

// newLoopbackClient spins up a real (in-process, net.Pipe-backed) SSH
// client/server pair using golang.org/x/crypto/ssh against itself, so
// pool tests exercise a genuine *ssh.Client without touching the network.
func newLoopbackClient(t interface{ Fatalf(string, ...interface{}) }) *ssh.Client {
	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	signer, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		panic(err)
	}

	serverConfig := &ssh.ServerConfig{NoClientAuth: true}
	serverConfig.AddHostKey(signer)

	clientConn, serverConn := net.Pipe()

	go func() {
		sconn, chans, reqs, err := ssh.NewServerConn(serverConn, serverConfig)
		if err != nil {
			return
		}
		go ssh.DiscardRequests(reqs)
		go func() {
			for range chans {
			}
		}()
		_ = sconn
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
	return ssh.NewClient(ncc, chans, reqs)
}
