// Package errs defines the core's error taxonomy.
//
// Errors are propagated as structured, tagged values rather than opaque
// strings so that callers (the pool, the router, the forwarding engine)
// can make retry/reconnect decisions by matching on Kind. Nothing below
// the Tauri-equivalent IPC boundary is expected to parse error text.
package errs

import "fmt"

// Kind tags the semantic category of an error, per spec §7.
type Kind string

const (
	KindProtocol       Kind = "protocol"
	KindAuthentication Kind = "authentication"
	KindConnection     Kind = "connection"
	KindRoute          Kind = "route"
	KindCapability     Kind = "capability"
	KindTransfer       Kind = "transfer"
	KindAgentRPC       Kind = "agent_rpc"
)

// Error is the taxonomy's tagged value. Code is optional, reserved for
// kinds that carry a wire-level numeric code (KindAgentRPC).
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target shares this error's Kind, allowing
// errors.Is(err, errs.New(errs.KindConnection, "")) style kind checks.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func WithCode(kind Kind, code int, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Convenience constructors for common route-layer failures (spec §4.4).
func NodeNotFound(nodeID string) *Error {
	return New(KindRoute, fmt.Sprintf("node %q not found", nodeID))
}

func NotConnected(nodeID string) *Error {
	return New(KindRoute, fmt.Sprintf("node %q not connected", nodeID))
}

func ConnectionTimeout(msg string) *Error {
	return New(KindRoute, msg)
}

func ConnectionError(reason string) *Error {
	return New(KindRoute, reason)
}

// KindOf reports the Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if ee, ok := err.(*Error); ok {
			e = ee
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return "", false
	}
	return e.Kind, true
}
