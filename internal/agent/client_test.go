package agent

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"
)

// fakeServer replies to every request with a fixed echo of its params.
func fakeServer(t *testing.T, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			t.Errorf("server: bad request: %v", err)
			return
		}
		resp := Response{ID: req.ID, Result: req.Params}
		data, _ := json.Marshal(&resp)
		conn.Write(append(data, '\n'))
	}
}

func TestClientCallRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go fakeServer(t, serverConn)

	c := NewClient(nil, clientConn, clientConn)
	result, err := c.Call("fs/stat", map[string]string{"path": "/tmp"})
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(result, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got["path"] != "/tmp" {
		t.Fatalf("got %+v", got)
	}
}

func TestClientFailsPendingOnDisconnect(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	c := NewClient(nil, clientConn, clientConn)

	done := make(chan error, 1)
	go func() {
		_, err := c.Call("fs/stat", map[string]string{"path": "/tmp"})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	serverConn.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected disconnect error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect to fail pending call")
	}
}
