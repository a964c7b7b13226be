package session

import "testing"

func TestSessionTransitionGuard(t *testing.T) {
	e := newEntry("sess-1", Config{ConnectionID: "conn-1"}, nil, 1)
	if e.State() != StateCreated {
		t.Fatalf("expected Created, got %s", e.State())
	}
	if err := e.transition(StateConnected, ""); err == nil {
		t.Fatal("expected error transitioning Created -> Connected directly")
	}
	if err := e.transition(StateConnecting, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.transition(StateConnected, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.transition(StateConnecting, ""); err == nil {
		t.Fatal("expected error transitioning Connected -> Connecting")
	}
}

func TestSessionErrorReachableFromAnyState(t *testing.T) {
	e := newEntry("sess-1", Config{}, nil, 1)
	e.MarkFailed("boom")
	if e.State() != StateError {
		t.Fatalf("expected Error, got %s", e.State())
	}
	if e.Reason() != "boom" {
		t.Fatalf("expected reason 'boom', got %q", e.Reason())
	}
}

func TestSendRejectedUnlessConnected(t *testing.T) {
	e := newEntry("sess-1", Config{}, nil, 1)
	if err := e.Send(Command{Kind: CommandData, Data: []byte("x")}); err == nil {
		t.Fatal("expected Send to fail before Connected")
	}
}

func TestRegistryCreateGetRemove(t *testing.T) {
	r := NewRegistry()
	e := r.Create("sess-1", Config{ConnectionID: "conn-1"}, nil)
	if e.State() != StateConnecting {
		t.Fatalf("expected Create to transition to Connecting, got %s", e.State())
	}
	if got := r.Get("sess-1"); got != e {
		t.Fatal("Get did not return the created entry")
	}
	if _, _, ok := r.Endpoint("sess-1"); ok {
		t.Fatal("expected Endpoint to report not-ready before MarkConnected")
	}
	r.Remove("sess-1")
	if r.Get("sess-1") != nil {
		t.Fatal("expected entry to be gone after Remove")
	}
}

func TestRegistryEndpointAfterMarkConnected(t *testing.T) {
	r := NewRegistry()
	e := r.Create("sess-1", Config{ConnectionID: "conn-1"}, nil)
	if err := e.MarkConnected(nil, nil, nil, 4100, "tok"); err != nil {
		t.Fatalf("MarkConnected failed: %v", err)
	}
	port, token, ok := r.Endpoint("sess-1")
	if !ok || port != 4100 || token != "tok" {
		t.Fatalf("unexpected endpoint: %d %q %v", port, token, ok)
	}
}

func TestRegistryOrderIncrements(t *testing.T) {
	r := NewRegistry()
	a := r.Create("a", Config{}, nil)
	b := r.Create("b", Config{}, nil)
	if a.Order != 1 || b.Order != 2 {
		t.Fatalf("expected increasing order, got %d %d", a.Order, b.Order)
	}
}
