package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edulink/messaging/internal/transport"
)

const (
	// onlineTTL is the presence-expiry backstop: a session that vanishes
	// without Teardown drops out of every observer's online set at most
	// this long after its last heartbeat.
	onlineTTL = 60 * time.Second
	// onlineBeat is the re-track interval keeping a live session's entry
	// ahead of the ttl.
	onlineBeat = 25 * time.Second
)

// PresenceTracker maintains the global online-user set over one shared
// presence channel for the lifetime of the session. On every sync the set
// is recomputed from scratch from the full tracked state; no incremental
// diffing. The self entry is tracked with a ttl and re-tracked on a
// heartbeat so an abnormal disconnect expires instead of lingering.
type PresenceTracker struct {
	rt  transport.Transport
	log *zap.SugaredLogger

	mu       sync.Mutex
	self     string
	sub      transport.Subscription
	stop     chan struct{}
	online   map[string]bool
	onChange func()

	ttl  time.Duration
	beat time.Duration
}

func NewPresenceTracker(rt transport.Transport, log *zap.SugaredLogger) *PresenceTracker {
	return &PresenceTracker{
		rt:     rt,
		log:    log,
		online: make(map[string]bool),
		ttl:    onlineTTL,
		beat:   onlineBeat,
	}
}

// SetOnChange registers a callback fired after every recompute. Must be set
// before Init.
func (p *PresenceTracker) SetOnChange(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// Init opens the shared channel, self-tracks userID and starts the
// heartbeat. Idempotent; the channel stays open until Teardown.
func (p *PresenceTracker) Init(ctx context.Context, userID string) error {
	p.mu.Lock()
	if p.sub != nil {
		p.mu.Unlock()
		return nil
	}
	p.self = userID
	p.mu.Unlock()

	sub, err := p.rt.OnSync(onlineChannel, p.handleSync)
	if err != nil {
		return err
	}
	meta := transport.Meta{"user_id": userID, "online_at": time.Now().UTC().Format(time.RFC3339)}
	if err := p.rt.Track(ctx, onlineChannel, userID, meta, p.ttl); err != nil {
		sub.Cancel()
		return err
	}

	stop := make(chan struct{})
	p.mu.Lock()
	p.sub = sub
	p.stop = stop
	p.mu.Unlock()

	go p.heartbeat(stop, userID, meta)
	return nil
}

func (p *PresenceTracker) heartbeat(stop chan struct{}, userID string, meta transport.Meta) {
	ticker := time.NewTicker(p.beat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := p.rt.Track(ctx, onlineChannel, userID, meta, p.ttl); err != nil {
				p.log.Warnw("presence heartbeat failed", "err", err)
			}
			cancel()
		}
	}
}

func (p *PresenceTracker) handleSync(state map[string]transport.Meta) {
	p.mu.Lock()
	p.online = make(map[string]bool, len(state))
	for key := range state {
		p.online[key] = true
	}
	fn := p.onChange
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Online returns the current online user ids, sorted.
func (p *PresenceTracker) Online() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Teardown stops the heartbeat, untracks the local session and closes the
// channel; part of the sign-out path.
func (p *PresenceTracker) Teardown(ctx context.Context) {
	p.mu.Lock()
	sub := p.sub
	stop := p.stop
	self := p.self
	p.sub = nil
	p.stop = nil
	p.online = make(map[string]bool)
	p.mu.Unlock()

	if sub == nil {
		return
	}
	close(stop)
	if err := p.rt.Untrack(ctx, onlineChannel, self); err != nil {
		p.log.Warnw("presence untrack failed", "err", err)
	}
	sub.Cancel()
}
