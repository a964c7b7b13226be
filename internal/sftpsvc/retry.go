package sftpsvc

import (
	"errors"
	"io"
	"net"
	"time"
)

// Retry/backoff policy for transfers (spec §4.6 "Transfer retry"):
// exponential backoff starting at 1s, doubling, capped at 30s, at most
// 3 retries.
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
	maxRetries     = 3
)

// BackoffDelay returns the delay before retry attempt n (1-indexed).
func BackoffDelay(attempt int) time.Duration {
	d := initialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// IsRetryable classifies transient I/O errors (timeouts, connection
// resets) as retryable; permission and not-found errors are not (spec
// §4.6 "retryable-vs-non-retryable error classification").
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return false
}
