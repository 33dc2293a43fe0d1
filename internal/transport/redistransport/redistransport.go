// Package redistransport backs the Transport interface with Redis: plain
// pub/sub for row-change channels, TTL'd keys plus a sync-notification
// channel for presence.
//
// Keys used:
//   - <prefix>:presence:<channel>:<key> -> json meta (EX ttl)
//   - <prefix>:psync:<channel>          -> pub/sub sync notifications
package redistransport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edulink/messaging/internal/apperr"
	"github.com/edulink/messaging/internal/transport"
)

// expiryPoll bounds how stale an observer's presence view can get after an
// entry expires server-side with no accompanying notification.
const expiryPoll = time.Second

type Transport struct {
	client *redis.Client
	prefix string
	log    *zap.SugaredLogger
}

func New(client *redis.Client, prefix string, log *zap.SugaredLogger) *Transport {
	return &Transport{client: client, prefix: prefix, log: log}
}

func (t *Transport) chanKey(channel string) string {
	return fmt.Sprintf("%s:chan:%s", t.prefix, channel)
}

func (t *Transport) presenceKey(channel, key string) string {
	return fmt.Sprintf("%s:presence:%s:%s", t.prefix, channel, key)
}

func (t *Transport) syncKey(channel string) string {
	return fmt.Sprintf("%s:psync:%s", t.prefix, channel)
}

type subscription struct {
	cancel func()
	once   sync.Once
}

func (s *subscription) Cancel() { s.once.Do(s.cancel) }

func (t *Transport) Subscribe(ctx context.Context, channel string, h transport.Handler) (transport.Subscription, error) {
	ps := t.client.Subscribe(ctx, t.chanKey(channel))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %v", apperr.ErrTransport, err)
	}
	go func() {
		for msg := range ps.Channel() {
			h(transport.Event{Channel: channel, Payload: []byte(msg.Payload)})
		}
	}()
	return &subscription{cancel: func() { _ = ps.Close() }}, nil
}

func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.client.Publish(ctx, t.chanKey(channel), payload).Err()
}

func (t *Transport) Track(ctx context.Context, channel, key string, meta transport.Meta, ttl time.Duration) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if ttl > 0 {
		err = t.client.Set(ctx, t.presenceKey(channel, key), b, ttl).Err()
	} else {
		err = t.client.Set(ctx, t.presenceKey(channel, key), b, 0).Err()
	}
	if err != nil {
		return err
	}
	return t.client.Publish(ctx, t.syncKey(channel), "track").Err()
}

func (t *Transport) Untrack(ctx context.Context, channel, key string) error {
	if err := t.client.Del(ctx, t.presenceKey(channel, key)).Err(); err != nil {
		return err
	}
	return t.client.Publish(ctx, t.syncKey(channel), "untrack").Err()
}

func (t *Transport) OnSync(channel string, h transport.SyncHandler) (transport.Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	ps := t.client.Subscribe(ctx, t.syncKey(channel))
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %v", apperr.ErrTransport, err)
	}

	emit := func() {
		state, err := t.presenceState(ctx, channel)
		if err != nil {
			if ctx.Err() == nil {
				t.log.Warnw("presence state read failed", "channel", channel, "err", err)
			}
			return
		}
		h(state)
	}

	go func() {
		ticker := time.NewTicker(expiryPoll)
		defer ticker.Stop()
		emit()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ps.Channel():
				if !ok {
					return
				}
				emit()
			case <-ticker.C:
				emit()
			}
		}
	}()
	return &subscription{cancel: func() {
		cancel()
		_ = ps.Close()
	}}, nil
}

func (t *Transport) presenceState(ctx context.Context, channel string) (map[string]transport.Meta, error) {
	pattern := t.presenceKey(channel, "*")
	keyPrefix := t.presenceKey(channel, "")
	state := make(map[string]transport.Meta)

	var cursor uint64
	for {
		keys, next, err := t.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			b, err := t.client.Get(ctx, k).Bytes()
			if err != nil {
				continue // expired between scan and get
			}
			var meta transport.Meta
			if err := json.Unmarshal(b, &meta); err != nil {
				continue
			}
			state[strings.TrimPrefix(k, keyPrefix)] = meta
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return state, nil
}
