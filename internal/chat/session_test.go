package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edulink/messaging/internal/apperr"
	"github.com/edulink/messaging/internal/logger"
	"github.com/edulink/messaging/internal/model"
	"github.com/edulink/messaging/internal/objectstore/memobject"
	"github.com/edulink/messaging/internal/store/memstore"
	"github.com/edulink/messaging/internal/transport"
	"github.com/edulink/messaging/internal/transport/memtransport"
)

type world struct {
	store     *memstore.Store
	transport *memtransport.Transport
	objects   *memobject.Store
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		store:     memstore.New(),
		transport: memtransport.New(),
		objects:   memobject.New(),
	}
	w.store.PutProfile(model.Profile{ID: "alice", DisplayName: "Alice A"})
	w.store.PutProfile(model.Profile{ID: "bob", DisplayName: "Bob B"})
	return w
}

func (w *world) open(t *testing.T, userID, name string) *Session {
	t.Helper()
	s, err := Open(context.Background(), Options{
		Store:     w.store,
		Transport: w.transport,
		Objects:   w.objects,
		Log:       logger.Nop(),
		User:      model.Profile{ID: userID, DisplayName: name},
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestCreatePrivateConversationIsIdempotent(t *testing.T) {
	w := newWorld(t)
	alice := w.open(t, "alice", "Alice A")

	c1, err := alice.CreateConversation(context.Background(), model.KindPrivate, "", []string{"bob"})
	require.NoError(t, err)
	c2, err := alice.CreateConversation(context.Background(), model.KindPrivate, "", []string{"bob"})
	require.NoError(t, err)
	require.Equal(t, c1.ID, c2.ID)

	// The pair is unordered: bob creating with alice also dedupes.
	bob := w.open(t, "bob", "Bob B")
	c3, err := bob.CreateConversation(context.Background(), model.KindPrivate, "", []string{"alice"})
	require.NoError(t, err)
	require.Equal(t, c1.ID, c3.ID)
}

func TestCreatePrivateRejectsWrongParticipantCount(t *testing.T) {
	w := newWorld(t)
	alice := w.open(t, "alice", "Alice A")
	_, err := alice.CreateConversation(context.Background(), model.KindPrivate, "", []string{"bob", "carol"})
	require.ErrorIs(t, err, ErrBadConversation)
}

func TestUnreadBadgeLifecycle(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.open(t, "alice", "Alice A")
	bob := w.open(t, "bob", "Bob B")

	conv, err := alice.CreateConversation(ctx, model.KindPrivate, "", []string{"bob"})
	require.NoError(t, err)
	require.NoError(t, alice.SelectConversation(ctx, conv.ID))
	_, err = alice.SendMessage(ctx, "hi", model.TypeText, nil)
	require.NoError(t, err)

	// Bob never opened the conversation: sentinel unread of 1.
	require.NoError(t, bob.FetchConversations(ctx))
	convs := bob.Conversations()
	require.Len(t, convs, 1)
	require.Equal(t, 1, convs[0].Unread)

	// Opening it moves the watermark past the message.
	require.NoError(t, bob.SelectConversation(ctx, conv.ID))
	convs = bob.Conversations()
	require.Len(t, convs, 1)
	require.Equal(t, 0, convs[0].Unread)
	msgs := bob.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "hi", msgs[0].Content)
	require.NotNil(t, msgs[0].Sender)
	require.Equal(t, "Alice A", msgs[0].Sender.DisplayName)
}

func TestSenderSeesOwnMessageAfterRoundTrip(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.open(t, "alice", "Alice A")

	conv, err := alice.CreateConversation(ctx, model.KindPrivate, "", []string{"bob"})
	require.NoError(t, err)
	require.NoError(t, alice.SelectConversation(ctx, conv.ID))
	require.Empty(t, alice.Messages())

	m, err := alice.SendMessage(ctx, "hello", model.TypeText, nil)
	require.NoError(t, err)
	// No optimistic insert; the message arrives via the realtime channel.
	require.Eventually(t, func() bool {
		msgs := alice.Messages()
		return len(msgs) == 1 && msgs[0].ID == m.ID
	}, time.Second, 5*time.Millisecond)
}

func TestInboundEventsKeepBufferOrdered(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.open(t, "alice", "Alice A")
	bob := w.open(t, "bob", "Bob B")

	conv, err := alice.CreateConversation(ctx, model.KindPrivate, "", []string{"bob"})
	require.NoError(t, err)
	require.NoError(t, alice.SelectConversation(ctx, conv.ID))
	require.NoError(t, bob.SelectConversation(ctx, conv.ID))

	for _, body := range []string{"one", "two", "three"} {
		_, err := bob.SendMessage(ctx, body, model.TypeText, nil)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return len(alice.Messages()) == 3
	}, time.Second, 5*time.Millisecond)
	msgs := alice.Messages()
	for i := 1; i < len(msgs); i++ {
		require.False(t, model.MessageLess(msgs[i].Message, msgs[i-1].Message))
	}
}

func TestSwitchingConversationsReplacesBuffer(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	w.store.PutProfile(model.Profile{ID: "carol", DisplayName: "Carol C"})
	alice := w.open(t, "alice", "Alice A")

	withBob, err := alice.CreateConversation(ctx, model.KindPrivate, "", []string{"bob"})
	require.NoError(t, err)
	withCarol, err := alice.CreateConversation(ctx, model.KindPrivate, "", []string{"carol"})
	require.NoError(t, err)

	require.NoError(t, alice.SelectConversation(ctx, withBob.ID))
	_, err = alice.SendMessage(ctx, "for bob", model.TypeText, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(alice.Messages()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, alice.SelectConversation(ctx, withCarol.ID))
	require.Equal(t, withCarol.ID, alice.ActiveConversation())
	require.Empty(t, alice.Messages())

	// A message on the old conversation must not leak into the new buffer.
	require.NoError(t, w.transport.Publish(ctx, "messages:"+withBob.ID, []byte(`{"id":"zz","conversation_id":"`+withBob.ID+`","sender_id":"bob","content":"late","type":"text"}`)))
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, alice.Messages())
}

func TestStaleEventGenerationIsDiscarded(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.open(t, "alice", "Alice A")

	conv, err := alice.CreateConversation(ctx, model.KindPrivate, "", []string{"bob"})
	require.NoError(t, err)
	require.NoError(t, alice.SelectConversation(ctx, conv.ID))

	superseding := alice.subs.Select("other") // supersede without attaching
	payload, err := json.Marshal(model.Message{
		ID: "m1", ConversationID: conv.ID, SenderID: "bob",
		Content: "late", Type: model.TypeText, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	alice.handleMessageEvent(superseding-1, transport.Event{
		Channel: "messages:" + conv.ID,
		Payload: payload,
	})
	require.Empty(t, alice.Messages())
}

func TestSelectUnknownConversationFails(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.open(t, "alice", "Alice A")

	conv, err := alice.CreateConversation(ctx, model.KindPrivate, "", []string{"bob"})
	require.NoError(t, err)
	require.NoError(t, alice.SelectConversation(ctx, conv.ID))

	err = alice.SelectConversation(ctx, "no-such-conversation")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	// The active conversation is untouched.
	require.Equal(t, conv.ID, alice.ActiveConversation())
}

func openWithFake(t *testing.T, rt *fakeTransport, st *memstore.Store) *Session {
	t.Helper()
	s, err := Open(context.Background(), Options{
		Store:     st,
		Transport: rt,
		Objects:   memobject.New(),
		Log:       logger.Nop(),
		User:      model.Profile{ID: "alice", DisplayName: "Alice A"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestSendPublishesRowEventOnMessageChannel(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	rt := newFakeTransport()
	s := openWithFake(t, rt, st)

	conv, err := s.CreateConversation(ctx, model.KindPrivate, "", []string{"bob"})
	require.NoError(t, err)
	require.NoError(t, s.SelectConversation(ctx, conv.ID))

	m, err := s.SendMessage(ctx, "hi", model.TypeText, nil)
	require.NoError(t, err)

	payloads := rt.published("messages:" + conv.ID)
	require.Len(t, payloads, 1)
	var got model.Message
	require.NoError(t, json.Unmarshal(payloads[0], &got))
	require.Equal(t, m.ID, got.ID)
	require.Equal(t, "hi", got.Content)
}

func TestSendSucceedsWhenEventPublishFails(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	rt := newFakeTransport()
	s := openWithFake(t, rt, st)

	conv, err := s.CreateConversation(ctx, model.KindPrivate, "", []string{"bob"})
	require.NoError(t, err)
	require.NoError(t, s.SelectConversation(ctx, conv.ID))

	rt.pubErr = errors.New("broker down")
	m, err := s.SendMessage(ctx, "hi", model.TypeText, nil)
	require.NoError(t, err)

	// The message is persisted even though the event never went out.
	stored, err := st.MessagesAsc(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, m.ID, stored[0].ID)
	require.Empty(t, rt.published("messages:"+conv.ID))
}

func TestSendWithoutSelectionFails(t *testing.T) {
	w := newWorld(t)
	alice := w.open(t, "alice", "Alice A")
	_, err := alice.SendMessage(context.Background(), "hi", model.TypeText, nil)
	require.ErrorIs(t, err, ErrNoActiveConversation)
}

func TestTypingVisibleToPeerAndClearedOnClose(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.open(t, "alice", "Alice A")
	bob := w.open(t, "bob", "Bob B")

	conv, err := alice.CreateConversation(ctx, model.KindPrivate, "", []string{"bob"})
	require.NoError(t, err)
	require.NoError(t, alice.SelectConversation(ctx, conv.ID))
	require.NoError(t, bob.SelectConversation(ctx, conv.ID))

	require.NoError(t, bob.BroadcastTyping(ctx))
	require.Eventually(t, func() bool {
		typing := alice.TypingUsers()
		return typing["bob"] == "Bob B"
	}, time.Second, 5*time.Millisecond)

	// Observers exclude themselves.
	require.NotContains(t, bob.TypingUsers(), "bob")

	bob.Close(ctx)
	require.Eventually(t, func() bool {
		return len(alice.TypingUsers()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestOnlinePresenceLifecycle(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.open(t, "alice", "Alice A")
	bob := w.open(t, "bob", "Bob B")

	require.Eventually(t, func() bool {
		online := alice.OnlineUsers()
		return len(online) == 2 && online[0] == "alice" && online[1] == "bob"
	}, time.Second, 5*time.Millisecond)

	bob.Close(ctx)
	require.Eventually(t, func() bool {
		online := alice.OnlineUsers()
		return len(online) == 1 && online[0] == "alice"
	}, time.Second, 5*time.Millisecond)
}

func TestUploadThenSendFileMessage(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	alice := w.open(t, "alice", "Alice A")

	conv, err := alice.CreateConversation(ctx, model.KindPrivate, "", []string{"bob"})
	require.NoError(t, err)
	require.NoError(t, alice.SelectConversation(ctx, conv.ID))

	fm, err := alice.UploadFile(ctx, "report.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	require.Contains(t, fm.URL, "alice")

	m, err := alice.SendMessage(ctx, "", model.TypeFile, fm)
	require.NoError(t, err)
	require.Equal(t, fm.URL, m.FileURL)
}
