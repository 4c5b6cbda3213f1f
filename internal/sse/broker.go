// Package sse streams ring changes to browser clients as Server-Sent Events.
//
// Every frame carries a sequence id. A client reconnecting with Last-Event-ID
// gets the frames it missed replayed from a bounded backlog, or a ring.resync
// event when they are gone and it must refetch the view.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Change names a mutation of the ring.
type Change string

const (
	Registered Change = "registered"
	Delta      Change = "delta"
	Actualized Change = "actualized"
	Archived   Change = "archived"
	Deleted    Change = "deleted"
	Purged     Change = "purged"
)

// chronological reports whether c adds to or removes from the chronology.
func (c Change) chronological() bool {
	switch c {
	case Registered, Archived, Deleted, Purged:
		return true
	}
	return false
}

const (
	EventChronology = "chronology.updated"
	EventResync     = "ring.resync"
)

type Option func(*Broker)

// WithBacklog keeps the last n frames for replay. 0 disables replay.
func WithBacklog(n int) Option { return func(b *Broker) { b.backlog = max(n, 0) } }

// WithKeepAlive writes a comment line to idle streams every d. 0 disables it.
func WithKeepAlive(d time.Duration) Option { return func(b *Broker) { b.keepAlive = d } }

type change struct {
	change Change
	data   any
}

type subscription struct {
	ch     chan []byte
	resume bool
	after  uint64
}

// Broker fans ring changes out to subscribed streams. A single loop owns the
// clients, the sequence, the backlog and the chronology throttle.
type Broker struct {
	throttle  time.Duration
	backlog   int
	keepAlive time.Duration

	subscribe   chan subscription
	unsubscribe chan chan []byte
	changes     chan change
	counts      chan chan int

	stop    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker that emits chronology.updated at most once per throttle.
func NewBroker(throttle time.Duration, opts ...Option) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}
	b := &Broker{
		throttle:    throttle,
		backlog:     128,
		keepAlive:   30 * time.Second,
		subscribe:   make(chan subscription),
		unsubscribe: make(chan chan []byte),
		changes:     make(chan change, 256),
		counts:      make(chan chan int),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	go b.run()
	return b
}

type frame struct {
	seq uint64
	raw []byte
}

type hub struct {
	clients   map[chan []byte]struct{}
	recent    []frame
	backlog   int
	seq       uint64
	lastChron time.Time
}

func (h *hub) emit(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	h.seq++
	raw := fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", h.seq, event, payload)
	if h.backlog > 0 {
		if len(h.recent) == h.backlog {
			copy(h.recent, h.recent[1:])
			h.recent = h.recent[:len(h.recent)-1]
		}
		h.recent = append(h.recent, frame{seq: h.seq, raw: raw})
	}
	for ch := range h.clients {
		select {
		case ch <- raw:
		default: // slow client
		}
	}
}

// join registers s and, when it resumes, queues what it missed.
func (h *hub) join(s subscription) {
	h.clients[s.ch] = struct{}{}
	if !s.resume || s.after == h.seq {
		return
	}
	if s.after > h.seq || len(h.recent) == 0 || h.recent[0].seq > s.after+1 {
		s.ch <- fmt.Appendf(nil, "event: %s\ndata: {\"last\":%d,\"next\":%d}\n\n", EventResync, s.after, h.seq+1)
		return
	}
	for _, f := range h.recent {
		if f.seq > s.after {
			s.ch <- f.raw
		}
	}
}

func (b *Broker) apply(h *hub, c change) {
	h.emit("ring."+string(c.change), c.data)
	if !c.change.chronological() {
		return
	}
	if now := time.Now(); now.Sub(h.lastChron) >= b.throttle {
		h.lastChron = now
		h.emit(EventChronology, struct{}{})
	}
}

// flush applies queued changes, so that a change published before a
// subscribe or count is always seen by it.
func (b *Broker) flush(h *hub) {
	for {
		select {
		case c := <-b.changes:
			b.apply(h, c)
		default:
			return
		}
	}
}

func (b *Broker) run() {
	defer close(b.stopped)
	h := &hub{clients: make(map[chan []byte]struct{}), backlog: b.backlog}

	for {
		select {
		case <-b.stop:
			for ch := range h.clients {
				close(ch)
			}
			return

		case s := <-b.subscribe:
			b.flush(h)
			h.join(s)

		case ch := <-b.unsubscribe:
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}

		case c := <-b.changes:
			b.apply(h, c)

		case resp := <-b.counts:
			b.flush(h)
			resp <- len(h.clients)
		}
	}
}

// Close stops the loop and closes every subscriber channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stop)
	}
	<-b.stopped
}

// Subscribe adds a client that receives changes from now on.
func (b *Broker) Subscribe() chan []byte {
	return b.join(subscription{})
}

// Resume adds a client that already saw every frame up to lastID.
func (b *Broker) Resume(lastID uint64) chan []byte {
	return b.join(subscription{resume: true, after: lastID})
}

func (b *Broker) join(s subscription) chan []byte {
	// room for a full replay on top of the live buffer
	s.ch = make(chan []byte, b.backlog+64)
	if b.closed.Load() {
		close(s.ch)
		return s.ch
	}
	select {
	case b.subscribe <- s:
	case <-b.stopped:
		close(s.ch)
	}
	return s.ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribe <- ch:
	case <-b.stopped:
	}
}

func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.counts <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// PublishChange emits ring.<change>. Chronology changes also emit a
// throttled chronology.updated.
func (b *Broker) PublishChange(c Change, data any) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changes <- change{change: c, data: data}:
	case <-b.stopped:
	}
}

// ServeHTTP is the event stream (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var ch chan []byte
	if last, err := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64); err == nil {
		ch = b.Resume(last)
	} else {
		ch = b.Subscribe()
	}
	defer b.Unsubscribe(ch)

	var tick <-chan time.Time
	if b.keepAlive > 0 {
		t := time.NewTicker(b.keepAlive)
		defer t.Stop()
		tick = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
