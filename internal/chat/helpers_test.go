package chat

import (
	"context"
	"sync"
	"time"

	"github.com/edulink/messaging/internal/transport"
)

// fakeTransport records every transport call in order so tests can assert
// teardown-before-create and exactly-once cancellation.
type fakeTransport struct {
	mu      sync.Mutex
	ops     []string // "sub:<chan>", "sync:<chan>", "cancel:<chan>", "track:<chan>:<key>", "untrack:<chan>:<key>"
	subs    []*fakeSub
	tracks  []fakeTrack
	syncs   map[string][]transport.SyncHandler
	pubErr  error
	subErr  error
	pubMsgs map[string][][]byte
}

type fakeTrack struct {
	channel string
	key     string
	meta    transport.Meta
	ttl     time.Duration
	at      time.Time
}

type fakeSub struct {
	channel string
	cancels int
	t       *fakeTransport
}

func (s *fakeSub) Cancel() {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	s.cancels++
	s.t.ops = append(s.t.ops, "cancel:"+s.channel)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		syncs:   make(map[string][]transport.SyncHandler),
		pubMsgs: make(map[string][][]byte),
	}
}

func (t *fakeTransport) Subscribe(_ context.Context, channel string, _ transport.Handler) (transport.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subErr != nil {
		return nil, t.subErr
	}
	s := &fakeSub{channel: channel, t: t}
	t.subs = append(t.subs, s)
	t.ops = append(t.ops, "sub:"+channel)
	return s, nil
}

func (t *fakeTransport) Publish(_ context.Context, channel string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pubErr != nil {
		return t.pubErr
	}
	t.pubMsgs[channel] = append(t.pubMsgs[channel], payload)
	return nil
}

func (t *fakeTransport) Track(_ context.Context, channel, key string, meta transport.Meta, ttl time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = append(t.tracks, fakeTrack{channel: channel, key: key, meta: meta, ttl: ttl, at: time.Now()})
	t.ops = append(t.ops, "track:"+channel+":"+key)
	return nil
}

func (t *fakeTransport) Untrack(_ context.Context, channel, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops = append(t.ops, "untrack:"+channel+":"+key)
	return nil
}

func (t *fakeTransport) OnSync(channel string, h transport.SyncHandler) (transport.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subErr != nil {
		return nil, t.subErr
	}
	t.syncs[channel] = append(t.syncs[channel], h)
	s := &fakeSub{channel: channel, t: t}
	t.subs = append(t.subs, s)
	t.ops = append(t.ops, "sync:"+channel)
	return s, nil
}

func (t *fakeTransport) published(channel string) [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.pubMsgs[channel]))
	copy(out, t.pubMsgs[channel])
	return out
}

func (t *fakeTransport) opsSnapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.ops))
	copy(out, t.ops)
	return out
}

func (t *fakeTransport) subsFor(channel string) []*fakeSub {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*fakeSub
	for _, s := range t.subs {
		if s.channel == channel {
			out = append(out, s)
		}
	}
	return out
}

func (t *fakeTransport) lastTrack() (fakeTrack, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.tracks) == 0 {
		return fakeTrack{}, false
	}
	return t.tracks[len(t.tracks)-1], true
}

func (t *fakeTransport) opCount(op string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, o := range t.ops {
		if o == op {
			n++
		}
	}
	return n
}
