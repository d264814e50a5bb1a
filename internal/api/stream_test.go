package api

import (
	"testing"
	"time"
)

func TestHubStops(t *testing.T) {
	t.Parallel()
	h := NewHub(testLogger())

	stopped := make(chan struct{})
	go func() {
		h.Run()
		close(stopped)
	}()

	h.Stop()
	h.Stop() // idempotent

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("hub loop did not exit after Stop")
	}

	// Events after stop are dropped, never blocking the caller.
	h.BroadcastEvent(Event{Type: "tick", Timestamp: time.Now()})
}

func TestBroadcastReachesClient(t *testing.T) {
	t.Parallel()
	h := NewHub(testLogger())
	go h.Run()
	defer h.Stop()

	client := &Client{hub: h, send: make(chan []byte, 8)}
	h.register <- client

	h.BroadcastEvent(Event{Type: "close", Timestamp: time.Now(), Data: CloseEvent{
		Ticket: 3,
		Symbol: "EURUSD",
		Profit: 48,
		Reason: "SL",
	}})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Fatal("empty broadcast payload")
		}
	case <-time.After(time.Second):
		t.Fatal("broadcast never reached the client")
	}
}
