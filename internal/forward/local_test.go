package forward

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLog() *logrus.Entry { return logrus.NewEntry(logrus.StandardLogger()) }

func TestLocalForwardBridgesToRemoteDestination(t *testing.T) {
	echoLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer echoLn.Close()
	go func() {
		for {
			c, err := echoLn.Accept()
			if err != nil {
				return
			}
			go io.Copy(c, c)
		}
	}()

	controller := newLoopbackController()
	destAddr := echoLn.Addr().(*net.TCPAddr)

	localLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	rule := &Rule{
		ForwardID:  "fwd-1",
		Kind:       KindLocal,
		RemoteHost: "127.0.0.1",
		RemotePort: destAddr.Port,
	}
	lf := newLocalForward(testLog(), controller, rule, localLn)
	go lf.run()
	defer lf.stop()

	conn, err := net.Dial("tcp", localLn.Addr().String())
	if err != nil {
		t.Fatalf("dial local forward failed: %v", err)
	}
	defer conn.Close()

	msg := []byte("hello through the tunnel")
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(buf) != string(msg) {
		t.Fatalf("expected echo %q, got %q", msg, buf)
	}
}

func TestLocalForwardStopIsIdempotentContract(t *testing.T) {
	localLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	controller := newLoopbackController()
	rule := &Rule{ForwardID: "fwd-2", Kind: KindLocal, RemoteHost: "127.0.0.1", RemotePort: 1}
	lf := newLocalForward(testLog(), controller, rule, localLn)
	go lf.run()

	if ok := lf.stop(); !ok {
		t.Fatal("expected stop to report clean shutdown within timeout")
	}
	if ok := lf.stop(); !ok {
		t.Fatal("expected a second stop to report clean shutdown")
	}
}
