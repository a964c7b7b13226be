package agent

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	oerrs "oxideterm/internal/errs"
)

// Client drives one line-delimited JSON-RPC session against a remote
// oxideterm-agent process, reached via a single SSH exec channel (spec
// §4.7). One request may be in flight per ID; multiple IDs may be in
// flight concurrently.
type Client struct {
	log      *logrus.Entry
	writer   io.Writer
	writeMu  sync.Mutex
	nextID   atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan Response
	closed  bool

	notifications chan Notification
}

// NewClient wraps rw (typically the stdin/stdout pipes of an SSH exec
// channel running the agent binary) and starts its read loop.
func NewClient(log *logrus.Entry, r io.Reader, w io.Writer) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Client{
		log:           log.WithField("component", "agent_client"),
		writer:        w,
		pending:       make(map[uint64]chan Response),
		notifications: make(chan Notification, 64),
	}
	go c.readLoop(r)
	return c
}

// Notifications returns the channel of server-pushed watch events.
func (c *Client) Notifications() <-chan Notification { return c.notifications }

// Call issues method(params) and blocks for the matching response.
func (c *Client) Call(method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, oerrs.Wrap(oerrs.KindAgentRPC, err, "marshal params")
	}
	req := Request{ID: id, Method: method, Params: raw}
	line, err := json.Marshal(&req)
	if err != nil {
		return nil, oerrs.Wrap(oerrs.KindAgentRPC, err, "marshal request")
	}

	reply := make(chan Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, oerrs.WithCode(oerrs.KindAgentRPC, ErrCodeDisconnected, "agent disconnected")
	}
	c.pending[id] = reply
	c.mu.Unlock()

	c.writeMu.Lock()
	_, writeErr := c.writer.Write(append(line, '\n'))
	c.writeMu.Unlock()
	if writeErr != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, oerrs.Wrap(oerrs.KindAgentRPC, writeErr, "write request")
	}

	resp := <-reply
	if resp.Error != nil {
		return nil, oerrs.WithCode(oerrs.KindAgentRPC, resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

// readLoop parses line-delimited JSON from r, dispatching Responses to
// their waiting Call and Notifications to the notification channel.
// On EOF every still-pending call fails with ErrCodeDisconnected (spec
// §4.7 "stdout-EOF -> fail-all-pending").
func (c *Client) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			c.log.WithError(err).Warn("malformed agent message")
			continue
		}
		if env.ID == nil {
			var note Notification
			if err := json.Unmarshal(line, &note); err == nil {
				select {
				case c.notifications <- note:
				default:
					c.log.Warn("notification channel full, dropping")
				}
			}
			continue
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
	c.failAllPending()
}

func (c *Client) failAllPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		ch <- Response{ID: id, Error: &RPCError{Code: ErrCodeDisconnected, Message: "agent stream closed"}}
		delete(c.pending, id)
	}
	close(c.notifications)
}
