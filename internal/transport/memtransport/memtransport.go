// Package memtransport is an in-process Transport for tests and
// single-node deployments. Delivery is asynchronous, mimicking the
// out-of-band callbacks of a real push transport.
package memtransport

import (
	"context"
	"sync"
	"time"

	"github.com/edulink/messaging/internal/transport"
)

type presenceEntry struct {
	meta    transport.Meta
	expires time.Time // zero means no expiry
	timer   *time.Timer
}

type Transport struct {
	mu       sync.Mutex
	nextID   int
	subs     map[string]map[int]transport.Handler
	syncs    map[string]map[int]*syncSub
	presence map[string]map[string]*presenceEntry
}

func New() *Transport {
	return &Transport{
		subs:     make(map[string]map[int]transport.Handler),
		syncs:    make(map[string]map[int]*syncSub),
		presence: make(map[string]map[string]*presenceEntry),
	}
}

type subscription struct {
	cancel func()
	once   sync.Once
}

func (s *subscription) Cancel() { s.once.Do(s.cancel) }

// syncSub delivers presence snapshots to one handler in publication order.
// A dedicated drainer invokes the handler with the newest pending snapshot;
// intermediate snapshots are skipped, never reordered, so an observer that
// recomputes from the full state always converges on the latest one.
type syncSub struct {
	h transport.SyncHandler

	mu      sync.Mutex
	pending map[string]transport.Meta
	has     bool
	wake    chan struct{}
	done    chan struct{}
}

func newSyncSub(h transport.SyncHandler) *syncSub {
	s := &syncSub{h: h, wake: make(chan struct{}, 1), done: make(chan struct{})}
	go s.drain()
	return s
}

// offer replaces any undelivered snapshot with state. Never blocks; safe to
// call while the transport lock is held.
func (s *syncSub) offer(state map[string]transport.Meta) {
	s.mu.Lock()
	s.pending = state
	s.has = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *syncSub) drain() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			for {
				s.mu.Lock()
				if !s.has {
					s.mu.Unlock()
					break
				}
				state := s.pending
				s.has = false
				s.mu.Unlock()
				s.h(state)
			}
		}
	}
}

func (s *syncSub) stop() { close(s.done) }

func (t *Transport) Subscribe(_ context.Context, channel string, h transport.Handler) (transport.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	if t.subs[channel] == nil {
		t.subs[channel] = make(map[int]transport.Handler)
	}
	t.subs[channel][id] = h
	return &subscription{cancel: func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs[channel], id)
	}}, nil
}

func (t *Transport) Publish(_ context.Context, channel string, payload []byte) error {
	t.mu.Lock()
	handlers := make([]transport.Handler, 0, len(t.subs[channel]))
	for _, h := range t.subs[channel] {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()

	ev := transport.Event{Channel: channel, Payload: payload}
	for _, h := range handlers {
		go h(ev)
	}
	return nil
}

func (t *Transport) Track(_ context.Context, channel, key string, meta transport.Meta, ttl time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.presence[channel] == nil {
		t.presence[channel] = make(map[string]*presenceEntry)
	}
	if prev, ok := t.presence[channel][key]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	e := &presenceEntry{meta: meta}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
		e.timer = time.AfterFunc(ttl, func() { t.expire(channel, key, e) })
	}
	t.presence[channel][key] = e
	t.fireSyncLocked(channel)
	return nil
}

func (t *Transport) Untrack(_ context.Context, channel, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.presence[channel][key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(t.presence[channel], key)
	}
	t.fireSyncLocked(channel)
	return nil
}

func (t *Transport) OnSync(channel string, h transport.SyncHandler) (transport.Subscription, error) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	if t.syncs[channel] == nil {
		t.syncs[channel] = make(map[int]*syncSub)
	}
	sub := newSyncSub(h)
	t.syncs[channel][id] = sub
	// Initial sync so a late joiner sees the current state. Offered under
	// the same lock as every later state change, so it can never clobber a
	// snapshot taken after it.
	sub.offer(t.stateLocked(channel))
	t.mu.Unlock()

	return &subscription{cancel: func() {
		t.mu.Lock()
		delete(t.syncs[channel], id)
		t.mu.Unlock()
		sub.stop()
	}}, nil
}

// expire drops an entry whose ttl elapsed; the backstop for clients that
// vanished without untracking.
func (t *Transport) expire(channel, key string, e *presenceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.presence[channel][key]
	if !ok || cur != e {
		return
	}
	delete(t.presence[channel], key)
	t.fireSyncLocked(channel)
}

// fireSyncLocked offers the current snapshot to every sync subscriber of
// channel. Called with t.mu held so snapshots reach each subscriber in
// state-mutation order.
func (t *Transport) fireSyncLocked(channel string) {
	if len(t.syncs[channel]) == 0 {
		return
	}
	state := t.stateLocked(channel)
	for _, s := range t.syncs[channel] {
		s.offer(state)
	}
}

func (t *Transport) stateLocked(channel string) map[string]transport.Meta {
	out := make(map[string]transport.Meta, len(t.presence[channel]))
	for k, e := range t.presence[channel] {
		out[k] = e.meta
	}
	return out
}
