package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edulink/messaging/internal/transport"
)

const (
	// typingIdle is how long after the last keystroke the typing entry is
	// untracked.
	typingIdle = 3 * time.Second
	// typingTTL is the presence-expiry backstop: observers stop seeing the
	// entry at most this long after the last broadcast even if the
	// broadcaster's connection drops without untracking.
	typingTTL = 4 * time.Second
)

// TypingBroadcaster emits the local user's ephemeral "is typing" state on
// the active conversation's presence channel. Rapid calls coalesce into one
// reset-on-call timer; silence untracks the entry.
type TypingBroadcaster struct {
	rt  transport.Transport
	log *zap.SugaredLogger
	deb Debouncer

	mu          sync.Mutex
	userID      string
	displayName string
	convID      string
	tracked     bool

	idle time.Duration
	ttl  time.Duration
}

func NewTypingBroadcaster(rt transport.Transport, log *zap.SugaredLogger, userID, displayName string) *TypingBroadcaster {
	return &TypingBroadcaster{
		rt:          rt,
		log:         log,
		userID:      userID,
		displayName: displayName,
		idle:        typingIdle,
		ttl:         typingTTL,
	}
}

// SetConversation rebinds the broadcaster to convID ("" unbinds), clearing
// any typing state still tracked on the previous channel.
func (b *TypingBroadcaster) SetConversation(ctx context.Context, convID string) {
	b.deb.Cancel()
	b.mu.Lock()
	prev := b.convID
	wasTracked := b.tracked
	b.convID = convID
	b.tracked = false
	b.mu.Unlock()

	if wasTracked && prev != "" {
		if err := b.rt.Untrack(ctx, typingChannel(prev), b.userID); err != nil {
			b.log.Warnw("typing untrack failed", "conversation", prev, "err", err)
		}
	}
}

// Broadcast tracks the typing entry and (re-)arms the idle timer. A no-op
// when no conversation is bound.
func (b *TypingBroadcaster) Broadcast(ctx context.Context) error {
	b.mu.Lock()
	convID := b.convID
	if convID == "" {
		b.mu.Unlock()
		return nil
	}
	b.tracked = true
	idle, ttl := b.idle, b.ttl
	b.mu.Unlock()

	meta := transport.Meta{
		"user_id":      b.userID,
		"display_name": b.displayName,
		"typing":       true,
	}
	if err := b.rt.Track(ctx, typingChannel(convID), b.userID, meta, ttl); err != nil {
		return err
	}
	b.deb.Trigger(idle, func() { b.stop(convID) })
	return nil
}

func (b *TypingBroadcaster) stop(convID string) {
	b.mu.Lock()
	if b.convID == convID {
		b.tracked = false
	}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.rt.Untrack(ctx, typingChannel(convID), b.userID); err != nil {
		b.log.Warnw("typing untrack failed", "conversation", convID, "err", err)
	}
}
