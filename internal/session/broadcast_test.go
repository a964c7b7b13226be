package session

import "testing"

func TestBroadcastFanOut(t *testing.T) {
	b := NewBroadcast(4)
	a := b.Subscribe()
	c := b.Subscribe()
	b.Publish([]byte("hi"))

	for _, ch := range []chan []byte{a, c} {
		select {
		case got := <-ch:
			if string(got) != "hi" {
				t.Fatalf("expected 'hi', got %q", got)
			}
		default:
			t.Fatal("expected subscriber to receive published chunk")
		}
	}
}

func TestBroadcastDropsOldestWhenFull(t *testing.T) {
	b := NewBroadcast(1)
	ch := b.Subscribe()
	b.Publish([]byte("first"))
	b.Publish([]byte("second"))

	got := <-ch
	if string(got) != "second" {
		t.Fatalf("expected slow subscriber to see newest chunk 'second', got %q", got)
	}
}

func TestBroadcastUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcast(4)
	ch := b.Subscribe()
	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after Unsubscribe")
	}
}

func TestBroadcastSubscribeAfterCloseYieldsClosedChannel(t *testing.T) {
	b := NewBroadcast(4)
	b.Close()
	ch := b.Subscribe()
	if _, ok := <-ch; ok {
		t.Fatal("expected channel subscribed after Close to already be closed")
	}
}
