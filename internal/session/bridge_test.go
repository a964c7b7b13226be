package session

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
)

func TestConstantTimeEqual(t *testing.T) {
	if !constantTimeEqual("abc", "abc") {
		t.Fatal("expected equal tokens to compare equal")
	}
	if constantTimeEqual("abc", "abd") {
		t.Fatal("expected differing tokens to compare unequal")
	}
	if constantTimeEqual("abc", "abcd") {
		t.Fatal("expected differing-length tokens to compare unequal")
	}
}

func TestMintTokenIsUnique(t *testing.T) {
	a, err := mintToken()
	if err != nil {
		t.Fatalf("mintToken failed: %v", err)
	}
	b, err := mintToken()
	if err != nil {
		t.Fatalf("mintToken failed: %v", err)
	}
	if a == b {
		t.Fatal("expected two mints to differ")
	}
}

func TestBridgeRejectsBadTokenAndSecondClient(t *testing.T) {
	e := newEntry("sess-1", Config{}, nil, 1)
	b, _, err := Listen(nil, e)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer b.Close()
	go b.Serve()

	ts := httptest.NewServer(http.HandlerFunc(b.handle))
	defer ts.Close()

	wsURL := "ws" + ts.URL[len("http"):]

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=wrong", nil); err == nil {
		t.Fatal("expected bad token to be rejected")
	} else if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}

	conn1, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+b.Token(), nil)
	if err != nil {
		t.Fatalf("expected first client to connect: %v", err)
	}
	defer conn1.Close()

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token="+b.Token(), nil); err == nil {
		t.Fatal("expected second client to be rejected while first is connected")
	} else if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %+v", resp)
	}
}
