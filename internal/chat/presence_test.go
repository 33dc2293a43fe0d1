package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edulink/messaging/internal/logger"
	"github.com/edulink/messaging/internal/transport/memtransport"
)

func TestInitTracksSelfWithExpiryBackstop(t *testing.T) {
	rt := newFakeTransport()
	p := NewPresenceTracker(rt, logger.Nop())
	require.NoError(t, p.Init(context.Background(), "alice"))
	defer p.Teardown(context.Background())

	tr, ok := rt.lastTrack()
	require.True(t, ok)
	require.Equal(t, onlineChannel, tr.channel)
	require.Equal(t, "alice", tr.key)
	// The ttl outlives the heartbeat interval so a live session never
	// expires between beats.
	require.Greater(t, tr.ttl, p.beat)
}

func TestHeartbeatRetracksUntilTeardown(t *testing.T) {
	rt := newFakeTransport()
	p := NewPresenceTracker(rt, logger.Nop())
	p.beat = 20 * time.Millisecond
	p.ttl = 60 * time.Millisecond
	require.NoError(t, p.Init(context.Background(), "alice"))

	require.Eventually(t, func() bool {
		return rt.opCount("track:online-users:alice") >= 3
	}, time.Second, 5*time.Millisecond)

	p.Teardown(context.Background())
	require.Equal(t, 1, rt.opCount("untrack:online-users:alice"))
	time.Sleep(30 * time.Millisecond)
	n := rt.opCount("track:online-users:alice")
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, n, rt.opCount("track:online-users:alice"))
}

func TestAbandonedSessionExpiresFromOnlineSet(t *testing.T) {
	ctx := context.Background()
	tr := memtransport.New()

	// A session that dies without Teardown: short ttl, heartbeat too slow
	// to ever fire.
	ghost := NewPresenceTracker(tr, logger.Nop())
	ghost.ttl = 40 * time.Millisecond
	ghost.beat = time.Hour
	require.NoError(t, ghost.Init(ctx, "ghost"))
	t.Cleanup(func() { ghost.Teardown(ctx) })

	watcher := NewPresenceTracker(tr, logger.Nop())
	require.NoError(t, watcher.Init(ctx, "watcher"))
	defer watcher.Teardown(ctx)

	require.Eventually(t, func() bool {
		return len(watcher.Online()) == 2
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		online := watcher.Online()
		return len(online) == 1 && online[0] == "watcher"
	}, time.Second, 5*time.Millisecond)
}
