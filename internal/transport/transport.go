// Package transport defines the realtime pub/sub boundary: named channels
// carrying row-change payloads, plus a presence primitive (track, untrack,
// sync). Reconnection after a dropped link is the backing implementation's
// responsibility, not the consumer's.
package transport

import (
	"context"
	"time"
)

// Event is a single payload delivered on a channel.
type Event struct {
	Channel string
	Payload []byte
}

type Handler func(Event)

// Meta is the state a client tracks on a presence channel.
type Meta map[string]any

// SyncHandler receives the full presence state of a channel, keyed by the
// tracking client's key. Observers recompute derived sets from scratch on
// every sync; no incremental diffing.
type SyncHandler func(state map[string]Meta)

// Subscription is an open channel binding. Cancel stops delivery and
// releases the channel; it is safe to call once and must be called exactly
// once by the owner.
type Subscription interface {
	Cancel()
}

type Transport interface {
	// Subscribe delivers every payload published on channel to h until the
	// returned subscription is cancelled.
	Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error)

	// Publish broadcasts payload to all current subscribers of channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Track registers key with meta in channel's presence state. A ttl > 0
	// expires the entry if not re-tracked; ttl <= 0 keeps it until Untrack.
	Track(ctx context.Context, channel, key string, meta Meta, ttl time.Duration) error

	// Untrack removes key from channel's presence state.
	Untrack(ctx context.Context, channel, key string) error

	// OnSync invokes h with the full presence state whenever it changes,
	// including changes caused by entry expiry.
	OnSync(channel string, h SyncHandler) (Subscription, error)
}
