package sshcore

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// preflightTTL bounds how long a cached preflight result is reused before
// a fresh dial+handshake is performed, per original_source ssh/preflight.rs.
const preflightTTL = 30 * time.Second

type preflightCacheEntry struct {
	result  VerifyResult
	cachedAt time.Time
}

// PreflightCache is the process-wide singleton in front of KnownHosts
// lookups (spec §9 "Global state"; supplemented per SPEC_FULL §5).
type PreflightCache struct {
	mu    sync.Mutex
	cache map[string]preflightCacheEntry
	hosts *KnownHosts
}

var (
	preflightOnce sync.Once
	preflightInst *PreflightCache
)

// DefaultPreflight returns the process-wide PreflightCache singleton.
func DefaultPreflight() *PreflightCache {
	preflightOnce.Do(func() {
		preflightInst = NewPreflightCache(Default())
	})
	return preflightInst
}

func NewPreflightCache(hosts *KnownHosts) *PreflightCache {
	return &PreflightCache{cache: make(map[string]preflightCacheEntry), hosts: hosts}
}

// Preflight dials the host, fetches its public key via the handshake's
// HostKeyCallback, and checks it against the known-hosts store, without
// authenticating. Results are cached for preflightTTL.
func (pc *PreflightCache) Preflight(host string, port int, dialTimeout time.Duration) (VerifyResult, error) {
	key := fmt.Sprintf("%s:%d", host, port)

	pc.mu.Lock()
	if entry, ok := pc.cache[key]; ok && time.Since(entry.cachedAt) < preflightTTL {
		pc.mu.Unlock()
		return entry.result, nil
	}
	pc.mu.Unlock()

	var observed VerifyResult
	var captureErr error
	config := &ssh.ClientConfig{
		User:    "preflight",
		Timeout: dialTimeout,
		HostKeyCallback: func(hostname string, remote net.Addr, pubKey ssh.PublicKey) error {
			observed = pc.hosts.Check(key, pubKey)
			return nil // never fail the handshake itself from preflight
		},
		Auth: []ssh.AuthMethod{ssh.Password("")}, // auth will fail; we only need the handshake
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := ssh.Dial("tcp", addr, config)
	if conn != nil {
		conn.Close()
	}
	if err != nil && observed.Status == "" {
		// Handshake never reached the host-key callback (TCP/DNS failure).
		return VerifyResult{}, fmt.Errorf("preflight dial %s: %w", addr, err)
	}
	_ = captureErr

	pc.mu.Lock()
	pc.cache[key] = preflightCacheEntry{result: observed, cachedAt: time.Now()}
	pc.mu.Unlock()

	return observed, nil
}

// Invalidate drops any cached preflight result for host:port, used after
// Trust() so the next preflight reflects the freshly-trusted key.
func (pc *PreflightCache) Invalidate(host string, port int) {
	key := fmt.Sprintf("%s:%d", host, port)
	pc.mu.Lock()
	delete(pc.cache, key)
	pc.mu.Unlock()
}
