package sshcore

import (
	"bufio"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
)

// VerifyStatus is the tri-state result of checking a host key against the
// known-hosts store (spec §3.1).
type VerifyStatus string

const (
	StatusVerified VerifyStatus = "verified"
	StatusUnknown  VerifyStatus = "unknown"
	StatusChanged  VerifyStatus = "changed"
)

// VerifyResult carries the outcome of a known-hosts lookup plus whatever
// fingerprints are relevant to the UI's MITM warning (spec §7).
type VerifyResult struct {
	Status   VerifyStatus
	Expected string // fingerprint on file, only set for Changed
	Actual   string // fingerprint observed, set for Unknown and Changed
}

// hostEntry is one "hostname[:port] -> key bytes per type" record.
type hostEntry struct {
	keyType string
	keyData []byte
}

// KnownHosts is the process-wide singleton known-hosts store (spec §9,
// "Global state"). It is initialized lazily and never torn down.
type KnownHosts struct {
	mu      sync.RWMutex
	path    string
	entries map[string][]hostEntry // host -> entries (one per key type seen)
}

var (
	knownHostsOnce sync.Once
	knownHostsInst *KnownHosts
)

// Default returns the process-wide KnownHosts singleton, loading it from
// ~/.ssh/known_hosts on first use.
func Default() *KnownHosts {
	knownHostsOnce.Do(func() {
		home, err := os.UserHomeDir()
		path := ""
		if err == nil {
			path = filepath.Join(home, ".ssh", "known_hosts")
		}
		knownHostsInst = NewKnownHosts(path)
		_ = knownHostsInst.Load()
	})
	return knownHostsInst
}

// NewKnownHosts builds a store bound to path without loading it; tests
// use this to avoid touching $HOME.
func NewKnownHosts(path string) *KnownHosts {
	return &KnownHosts{path: path, entries: make(map[string][]hostEntry)}
}

// Load (re)reads the known-hosts file in OpenSSH format. Hashed hostnames
// (`|1|salt|hash`) are tolerated on read by skipping — the core never
// writes them, per spec §6.
func (kh *KnownHosts) Load() error {
	if kh.path == "" {
		return nil
	}
	f, err := os.Open(kh.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open known_hosts: %w", err)
	}
	defer f.Close()

	entries := make(map[string][]hostEntry)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		hostsField, keyType, keyB64 := fields[0], fields[1], fields[2]
		if strings.HasPrefix(hostsField, "|1|") {
			continue // hashed hostname, tolerated but not indexed
		}
		keyData, err := decodeKeyBase64(keyB64)
		if err != nil {
			continue
		}
		for _, h := range strings.Split(hostsField, ",") {
			entries[h] = append(entries[h], hostEntry{keyType: keyType, keyData: keyData})
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan known_hosts: %w", err)
	}

	kh.mu.Lock()
	kh.entries = entries
	kh.mu.Unlock()
	return nil
}

func decodeKeyBase64(s string) ([]byte, error) {
	pk, err := ssh.ParseAuthorizedKey([]byte("k " + s))
	if err != nil {
		return nil, err
	}
	return pk.Marshal(), nil
}

// Check compares the observed key against the store for host (already
// formatted as "hostname:port" for non-default ports, matching the
// hostsField convention OpenSSH uses).
func (kh *KnownHosts) Check(host string, key ssh.PublicKey) VerifyResult {
	kh.mu.RLock()
	defer kh.mu.RUnlock()

	actual := ssh.FingerprintSHA256(key)
	existing, ok := kh.entries[host]
	if !ok {
		return VerifyResult{Status: StatusUnknown, Actual: actual}
	}

	for _, e := range existing {
		if e.keyType == key.Type() {
			if string(e.keyData) == string(key.Marshal()) {
				return VerifyResult{Status: StatusVerified, Actual: actual}
			}
			return VerifyResult{
				Status:   StatusChanged,
				Expected: fingerprintOf(e.keyData),
				Actual:   actual,
			}
		}
	}
	// Host known but never seen with this key type.
	return VerifyResult{Status: StatusUnknown, Actual: actual}
}

func fingerprintOf(marshaled []byte) string {
	sum := sha256.Sum256(marshaled)
	return "SHA256:" + base64.RawStdEncoding.EncodeToString(sum[:])
}

// Trust appends host's key to the on-disk store (TOFU acceptance) and to
// the in-memory index. Writes are append-only and flushed per entry, per
// spec §5 "Shared resources".
func (kh *KnownHosts) Trust(host string, key ssh.PublicKey) error {
	line := fmt.Sprintf("%s %s %s\n", host, key.Type(), encodeKeyBase64(key))

	kh.mu.Lock()
	defer kh.mu.Unlock()

	if kh.path != "" {
		if dir := filepath.Dir(kh.path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("create known_hosts dir: %w", err)
			}
		}
		f, err := os.OpenFile(kh.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open known_hosts for append: %w", err)
		}
		defer f.Close()
		if _, err := f.WriteString(line); err != nil {
			return fmt.Errorf("append known_hosts: %w", err)
		}
	}

	kh.entries[host] = append(kh.entries[host], hostEntry{keyType: key.Type(), keyData: key.Marshal()})
	return nil
}

func encodeKeyBase64(key ssh.PublicKey) string {
	return base64.StdEncoding.EncodeToString(key.Marshal())
}
