package pool

import (
	"testing"
	"time"

	"oxideterm/internal/sshcore"
)

// fakeDialer lets tests exercise Connect/reuse/eviction without a real
// network handshake.
type fakeDialer struct {
	dials int
}

func (f *fakeDialer) Dial(cfg sshcore.DialConfig) (*sshcore.DialResult, error) {
	f.dials++
	client := newLoopbackClient(nil)
	return &sshcore.DialResult{Client: client}, nil
}

func testConfig(host string) Config {
	return Config{Hops: []sshcore.HopConfig{{Host: host, Port: 22, Username: "u", Auth: sshcore.AuthMethod{Kind: sshcore.AuthPassword, Password: "p"}}}}
}

func TestConnectReuseAndEviction(t *testing.T) {
	dialer := &fakeDialer{}
	r := NewWithDialer(nil, dialer, 50*time.Millisecond)

	res1, err := r.Connect(testConfig("a"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if res1.Reused {
		t.Fatal("first connect should not be reused")
	}

	res2, err := r.Connect(testConfig("a"))
	if err != nil {
		t.Fatalf("connect again: %v", err)
	}
	if !res2.Reused || res2.ConnectionID != res1.ConnectionID {
		t.Fatalf("expected reuse of %s, got %+v", res1.ConnectionID, res2)
	}

	entry := r.Get(res1.ConnectionID)
	if entry.RefCount() != 2 {
		t.Fatalf("expected refcount 2, got %d", entry.RefCount())
	}

	if err := r.Release(res1.ConnectionID); err != nil {
		t.Fatal(err)
	}
	if err := r.Release(res1.ConnectionID); err != nil {
		t.Fatal(err)
	}
	if entry.State() != StateIdle {
		t.Fatalf("expected idle after both releases, got %s", entry.State())
	}

	time.Sleep(200 * time.Millisecond)
	if r.Get(res1.ConnectionID) != nil {
		t.Fatal("expected entry to be evicted after idle timeout")
	}

	res3, err := r.Connect(testConfig("a"))
	if err != nil {
		t.Fatalf("reconnect after eviction: %v", err)
	}
	if res3.ConnectionID == res1.ConnectionID {
		t.Fatal("expected a fresh connection id after eviction")
	}
	if dialer.dials != 2 {
		t.Fatalf("expected 2 real dials (reuse should not re-dial), got %d", dialer.dials)
	}
}

func TestFindByConfigDoesNotMatchDifferentAuth(t *testing.T) {
	dialer := &fakeDialer{}
	r := NewWithDialer(nil, dialer, time.Minute)

	cfgA := testConfig("a")
	if _, err := r.Connect(cfgA); err != nil {
		t.Fatal(err)
	}

	cfgB := testConfig("a")
	cfgB.Hops[0].Auth.Password = "different"
	if r.FindByConfig(cfgB) != nil {
		t.Fatal("expected no match for differing password fingerprint")
	}
}

func TestAcquireReleaseInvariant(t *testing.T) {
	dialer := &fakeDialer{}
	r := NewWithDialer(nil, dialer, time.Minute)

	res, err := r.Connect(testConfig("x"))
	if err != nil {
		t.Fatal(err)
	}
	entry := r.Get(res.ConnectionID)
	before := entry.RefCount()

	if err := r.Acquire(res.ConnectionID); err != nil {
		t.Fatal(err)
	}
	if err := r.Release(res.ConnectionID); err != nil {
		t.Fatal(err)
	}

	if entry.RefCount() != before {
		t.Fatalf("acquire+release should be a no-op on refcount: before=%d after=%d", before, entry.RefCount())
	}
}
