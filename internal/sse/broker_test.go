package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishChange_Delivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishChange(Delta, map[string]string{"id": "18c-3"})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.HasPrefix(s, "id: 1\nevent: ring.delta\n") {
			t.Errorf("unexpected frame header in %q", s)
		}
		if !strings.Contains(s, `"id":"18c-3"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

// drain collects every message already queued for ch.
func drain(ch chan []byte) []string {
	time.Sleep(50 * time.Millisecond)
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func count(msgs []string, event string) int {
	n := 0
	for _, m := range msgs {
		if strings.Contains(m, "event: "+event+"\n") {
			n++
		}
	}
	return n
}

func TestPublishChange_ChronologyThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishChange(Registered, []string{"18c-2"})
	b.PublishChange(Archived, map[string][]string{"mio_ids": {"18c-2"}})

	msgs := drain(ch)
	if n := count(msgs, "ring.registered"); n != 1 {
		t.Errorf("ring.registered = %d, want 1", n)
	}
	if n := count(msgs, "ring.archived"); n != 1 {
		t.Errorf("ring.archived = %d, want 1", n)
	}
	if n := count(msgs, EventChronology); n != 1 {
		t.Errorf("chronology.updated = %d, want 1 (throttled)", n)
	}
}

func TestPublishChange_DeltaLeavesChronology(t *testing.T) {
	b := NewBroker(time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishChange(Delta, map[string]any{})
	b.PublishChange(Actualized, []string{"18c-5"})

	msgs := drain(ch)
	if len(msgs) != 2 {
		t.Fatalf("messages = %q, want 2", msgs)
	}
	if n := count(msgs, EventChronology); n != 0 {
		t.Errorf("chronology.updated = %d, want 0", n)
	}
}

func TestResume_ReplaysMissedFrames(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()

	b.PublishChange(Delta, 1) // id 1
	b.PublishChange(Delta, 2) // id 2
	b.PublishChange(Delta, 3) // id 3
	if b.ClientCount() != 0 {
		t.Fatal("no clients expected")
	}

	ch := b.Resume(1)
	defer b.Unsubscribe(ch)
	msgs := drain(ch)
	if len(msgs) != 2 {
		t.Fatalf("replayed = %q, want frames 2 and 3", msgs)
	}
	if !strings.HasPrefix(msgs[0], "id: 2\n") || !strings.HasPrefix(msgs[1], "id: 3\n") {
		t.Errorf("replay order = %q", msgs)
	}

	up := b.Resume(3)
	defer b.Unsubscribe(up)
	if msgs := drain(up); len(msgs) != 0 {
		t.Errorf("up-to-date client got %q", msgs)
	}
}

func TestResume_GapRequestsResync(t *testing.T) {
	b := NewBroker(time.Hour, WithBacklog(2))
	defer b.Close()
	for i := range 4 {
		b.PublishChange(Delta, i)
	}
	b.ClientCount() // queued changes are applied before the count is answered

	for _, last := range []uint64{1, 99} { // evicted, and from a previous broker
		ch := b.Resume(last)
		msgs := drain(ch)
		b.Unsubscribe(ch)
		if len(msgs) != 1 || count(msgs, EventResync) != 1 {
			t.Errorf("Resume(%d) = %q, want a single resync", last, msgs)
		}
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100*time.Millisecond, WithKeepAlive(0))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishChange(Purged, map[string]int{"compacted": 3})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: ring.purged") {
		t.Errorf("handler output missing event: %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestSSEHandler_LastEventIDAndKeepAlive(t *testing.T) {
	b := NewBroker(time.Hour, WithKeepAlive(20*time.Millisecond))
	defer b.Close()
	b.PublishChange(Delta, "first")
	b.PublishChange(Delta, "second")
	b.ClientCount()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if strings.Contains(body, `"first"`) || !strings.Contains(body, `"second"`) {
		t.Errorf("replay from Last-Event-ID wrong: %q", body)
	}
	if !strings.Contains(body, ": ping\n\n") {
		t.Errorf("no keepalive in %q", body)
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second, WithBacklog(0))
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// client buffer holds 64; the rest must be dropped, not block
	for i := 0; i < 70; i++ {
		b.PublishChange(Delta, map[string]int{"i": i})
	}
	if msgs := drain(ch); len(msgs) != 64 {
		t.Errorf("delivered %d, want 64", len(msgs))
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// no-ops after close
	b.PublishChange(Registered, nil)
	if ch := b.Resume(3); ch == nil {
		t.Fatal("Resume after close returned nil")
	}
}
