package router

import (
	"testing"
	"time"

	"oxideterm/internal/errs"
	"oxideterm/internal/pool"
	"oxideterm/internal/sshcore"
)

type fakeNodes struct{ nodes map[string]Node }

func (f fakeNodes) GetNode(id string) (Node, bool) { n, ok := f.nodes[id]; return n, ok }

type fakeTerminals struct{}

func (fakeTerminals) Endpoint(sessionID string) (int, string, bool) { return 0, "", false }

type stubDialer struct{}

func (stubDialer) Dial(cfg sshcore.DialConfig) (*sshcore.DialResult, error) {
	return nil, errs.New(errs.KindConnection, "stub dialer never dials in router tests")
}

func TestResolveConnectionNotFound(t *testing.T) {
	registry := pool.NewWithDialer(nil, stubDialer{}, time.Minute)
	nodes := fakeNodes{nodes: map[string]Node{}}
	r := New(nil, nodes, registry, fakeTerminals{}, NewEmitter(nil))

	_, err := r.ResolveConnection("missing")
	if kind, ok := errs.KindOf(err); !ok || kind != errs.KindRoute {
		t.Fatalf("expected route error, got %v", err)
	}
}

func TestResolveConnectionNotConnected(t *testing.T) {
	registry := pool.NewWithDialer(nil, stubDialer{}, time.Minute)
	nodes := fakeNodes{nodes: map[string]Node{"n1": {NodeID: "n1"}}}
	r := New(nil, nodes, registry, fakeTerminals{}, NewEmitter(nil))

	_, err := r.ResolveConnection("n1")
	if err == nil {
		t.Fatal("expected NotConnected error for node with no bound connection")
	}
}

func TestGenerationMonotonicity(t *testing.T) {
	e := NewEmitter(nil)
	sub := e.Subscribe()
	defer e.Unsubscribe(sub)

	e.BindNode("c1", "n1")
	e.EmitConnectionStateChangedForConnection("c1", ReadinessConnecting, "")
	e.EmitSftpReady("c1", true, "/")
	e.EmitConnectionStateChangedForConnection("c1", ReadinessReady, "")

	var gens []uint64
	for i := 0; i < 3; i++ {
		select {
		case ev := <-sub:
			gens = append(gens, ev.Generation)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	for i := 1; i < len(gens); i++ {
		if gens[i] <= gens[i-1] {
			t.Fatalf("expected strictly increasing generations, got %v", gens)
		}
	}
}

func TestEventsForUnmappedConnectionAreDropped(t *testing.T) {
	e := NewEmitter(nil)
	sub := e.Subscribe()
	defer e.Unsubscribe(sub)

	e.EmitConnectionStateChangedForConnection("unmapped", ReadinessReady, "")

	select {
	case ev := <-sub:
		t.Fatalf("expected no event for unmapped connection, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
