package main

import (
	"bufio"
	"encoding/json"
	"io"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// rpcRequest/rpcResponse/rpcError mirror internal/agent's wire format;
// kept separate so this binary has no import-time dependency on the
// client-side agent package it's the counterpart of.
type rpcRequest struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type methodHandler func(params json.RawMessage) (any, *rpcError)

// server dispatches incoming JSON-RPC requests to registered methods
// and owns the write lock for outgoing notifications (spec §4.7).
type server struct {
	log      *logrus.Entry
	methods  map[string]methodHandler
	writeMu  sync.Mutex
	out      io.Writer
	notifyCh chan notification
}

func newServer(log *logrus.Entry) *server {
	s := &server{
		log:      log,
		methods:  make(map[string]methodHandler),
		notifyCh: make(chan notification, 256),
	}
	registerFSMethods(s)
	registerSearchMethods(s)
	registerGitMethods(s)
	registerWatchMethods(s)
	registerSymbolMethods(s)
	registerSysMethods(s)
	return s
}

func (s *server) register(name string, h methodHandler) {
	s.methods[name] = h
}

// capabilities lists every registered method name, sorted, for sys/info's
// capability list (spec §4.9).
func (s *server) capabilities() []string {
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Serve reads requests from in and writes responses to out until in is
// exhausted (SSH exec channel EOF on client disconnect).
func (s *server) Serve(in *bufio.Scanner, out io.Writer) {
	s.out = out
	go s.pumpNotifications()

	for in.Scan() {
		line := in.Bytes()
		if len(line) == 0 {
			continue
		}
		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.log.WithError(err).Warn("malformed request")
			continue
		}
		go s.dispatch(req)
	}
}

func (s *server) dispatch(req rpcRequest) {
	handler, ok := s.methods[req.Method]
	if !ok {
		s.reply(req.ID, nil, &rpcError{Code: -32601, Message: "method not found: " + req.Method})
		return
	}
	result, rpcErr := handler(req.Params)
	s.reply(req.ID, result, rpcErr)
}

func (s *server) reply(id uint64, result any, rpcErr *rpcError) {
	resp := rpcResponse{ID: id, Error: rpcErr}
	if rpcErr == nil {
		data, err := json.Marshal(result)
		if err != nil {
			resp.Error = &rpcError{Code: -32603, Message: "internal: marshal result"}
		} else {
			resp.Result = data
		}
	}
	s.writeLine(&resp)
}

func (s *server) notify(method string, params any) {
	data, err := json.Marshal(params)
	if err != nil {
		return
	}
	select {
	case s.notifyCh <- notification{Method: method, Params: data}:
	default:
		s.log.Warn("notification channel full, dropping")
	}
}

func (s *server) pumpNotifications() {
	for n := range s.notifyCh {
		s.writeLine(&n)
	}
}

func (s *server) writeLine(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.out.Write(data)
	s.out.Write([]byte("\n"))
	if f, ok := s.out.(*bufio.Writer); ok {
		f.Flush()
	}
}

func errParams(err error) *rpcError {
	return &rpcError{Code: -32602, Message: "invalid params: " + err.Error()}
}

func errIO(err error) *rpcError {
	return &rpcError{Code: -1, Message: err.Error()}
}

func errNotFound(msg string) *rpcError {
	return &rpcError{Code: -2, Message: msg}
}

func errPermission(err error) *rpcError {
	return &rpcError{Code: -3, Message: err.Error()}
}

func errHashMismatch() *rpcError {
	return &rpcError{Code: -4, Message: "hash mismatch: file changed since read"}
}
