package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// tokenBytes is the width of the bridge's per-session auth token (spec
// §4.8: "256-bit URL-safe token").
const tokenBytes = 32

// mintToken generates a URL-safe, base64-encoded random token.
func mintToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// constantTimeEqual compares two tokens without leaking timing
// information about a partial match (spec §4.8 "constant-time token
// comparison").
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

var upgrader = websocket.Upgrader{
	Subprotocols:    []string{"binary"},
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Bridge binds a local TCP port and proxies exactly one WebSocket client
// per shell session, speaking the "binary" subprotocol (spec §4.8).
type Bridge struct {
	log      *logrus.Entry
	listener net.Listener
	srv      *http.Server
	entry    *Entry
	token    string
	claimed  atomic.Bool
	mu       sync.Mutex
}

// Listen binds an ephemeral local port and returns a Bridge ready to
// Serve. The returned port is what callers publish to Entry.Connect.
func Listen(log *logrus.Entry, entry *Entry) (*Bridge, int, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	token, err := mintToken()
	if err != nil {
		return nil, 0, err
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, err
	}
	b := &Bridge{
		log:      log.WithField("component", "ws_bridge"),
		listener: ln,
		entry:    entry,
		token:    token,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", b.handle)
	b.srv = &http.Server{Handler: mux}
	return b, ln.Addr().(*net.TCPAddr).Port, nil
}

func (b *Bridge) Token() string { return b.token }

// Serve runs the HTTP server accepting the single WebSocket upgrade.
// Call in its own goroutine; it returns when the listener is closed.
func (b *Bridge) Serve() error {
	err := b.srv.Serve(b.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (b *Bridge) Close() error {
	return b.srv.Close()
}

func (b *Bridge) handle(w http.ResponseWriter, r *http.Request) {
	if !constantTimeEqual(r.URL.Query().Get("token"), b.token) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	// Accept exactly one client per session (spec §4.8).
	if !b.claimed.CompareAndSwap(false, true) {
		http.Error(w, "session already bridged", http.StatusConflict)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.claimed.Store(false)
		b.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer func() {
		conn.Close()
		b.claimed.Store(false)
	}()

	sub := b.entry.Output().Subscribe()
	defer b.entry.Output().Unsubscribe(sub)

	done := make(chan struct{})
	go b.pumpOutbound(conn, sub, done)
	b.pumpInbound(conn)
	close(done)
}

// pumpOutbound relays broadcast chunks to the websocket client. When the
// subscription closes (the shell session's SSH channel closed, see
// Entry.MarkDisconnected), it closes conn so the blocking ReadMessage in
// pumpInbound unblocks and handle() can return — mirroring the
// original_source graphics bridge's tokio::select!, where either relay
// direction ending tears down both sides at once.
func (b *Bridge) pumpOutbound(conn *websocket.Conn, sub chan []byte, done chan struct{}) {
	for {
		select {
		case chunk, ok := <-sub:
			if !ok {
				conn.Close()
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

func (b *Bridge) pumpInbound(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		_ = b.entry.Send(Command{Kind: CommandData, Data: data})
	}
}
