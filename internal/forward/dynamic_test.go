package forward

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
)

func TestSocks5HandshakeIPv4Connect(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		// greeting: version 5, 1 method, no-auth
		client.Write([]byte{socks5Version, 1, socks5NoAuth})
		buf := make([]byte, 2)
		client.Read(buf)

		req := []byte{socks5Version, socks5CmdConnect, 0x00, socks5AtypIPv4, 10, 0, 0, 1, 0, 0}
		binary.BigEndian.PutUint16(req[8:], 2222)
		client.Write(req)
	}()

	host, port, err := socks5Handshake(server)
	if err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	if host != "10.0.0.1" || port != 2222 {
		t.Fatalf("got host=%s port=%d", host, port)
	}
}

func TestSocks5HandshakeDomain(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write([]byte{socks5Version, 1, socks5NoAuth})
		buf := make([]byte, 2)
		client.Read(buf)

		domain := "example.com"
		var req bytes.Buffer
		req.Write([]byte{socks5Version, socks5CmdConnect, 0x00, socks5AtypDomain, byte(len(domain))})
		req.WriteString(domain)
		portBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(portBuf, 443)
		req.Write(portBuf)
		client.Write(req.Bytes())
	}()

	host, port, err := socks5Handshake(server)
	if err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	if host != "example.com" || port != 443 {
		t.Fatalf("got host=%s port=%d", host, port)
	}
}
