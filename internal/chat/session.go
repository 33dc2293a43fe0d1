package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edulink/messaging/internal/apperr"
	"github.com/edulink/messaging/internal/events"
	"github.com/edulink/messaging/internal/model"
	"github.com/edulink/messaging/internal/objectstore"
	"github.com/edulink/messaging/internal/store"
	"github.com/edulink/messaging/internal/transport"
)

var (
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrBadConversation      = errors.New("invalid conversation shape")
)

// Options wires a Session to its collaborators. Store, Transport, Objects
// and User are required; Events and Log are optional.
type Options struct {
	Store     store.Gateway
	Transport transport.Transport
	Objects   objectstore.Store
	Events    *events.Publisher
	Log       *zap.SugaredLogger
	User      model.Profile
	SchoolID  string
}

// Session is the per-signed-in-user façade over the messaging core. It owns
// the observable state (conversation list, active conversation's messages,
// typing users, online users) and keeps it consistent across polled
// fetches, pushed row events and presence broadcasts.
type Session struct {
	gw   store.Gateway
	rt   transport.Transport
	ev   *events.Publisher
	log  *zap.SugaredLogger
	user model.Profile
	org  string

	convStore *ConversationStore
	stream    *MessageStream
	subs      *SubscriptionManager
	presence  *PresenceTracker
	typing    *TypingBroadcaster

	mu          sync.Mutex
	convs       []ConversationView
	msgs        []MessageView
	typingUsers map[string]string // userID -> display name, excludes self
	onChange    func()
}

// Open builds the session and attaches it to the shared presence channel.
// The channel stays open until Close.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Store == nil || opts.Transport == nil || opts.Objects == nil {
		return nil, errors.New("store, transport and objects are required")
	}
	if opts.User.ID == "" {
		return nil, errors.New("signed-in user is required")
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	s := &Session{
		gw:          opts.Store,
		rt:          opts.Transport,
		ev:          opts.Events,
		log:         log,
		user:        opts.User,
		org:         opts.SchoolID,
		convStore:   NewConversationStore(opts.Store, log),
		stream:      NewMessageStream(opts.Store, opts.Objects, log),
		subs:        NewSubscriptionManager(opts.Transport, log),
		presence:    NewPresenceTracker(opts.Transport, log),
		typing:      NewTypingBroadcaster(opts.Transport, log, opts.User.ID, opts.User.DisplayName),
		typingUsers: make(map[string]string),
	}
	s.presence.SetOnChange(s.notify)
	if err := s.presence.Init(ctx, opts.User.ID); err != nil {
		return nil, fmt.Errorf("presence init: %w", err)
	}
	return s, nil
}

// FetchConversations re-aggregates the conversation list. On failure the
// previous list is kept; callers refreshing in the background log and move
// on.
func (s *Session) FetchConversations(ctx context.Context) error {
	views, err := s.convStore.Fetch(ctx, s.user.ID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.convs = views
	s.mu.Unlock()
	s.notify()
	return nil
}

// SelectConversation makes convID the active conversation: prior channels
// are torn down first, history is loaded (marking it read), then the new
// message and typing channels open. A result arriving after a newer
// selection is discarded. Selecting an unknown conversation fails without
// touching the current one.
func (s *Session) SelectConversation(ctx context.Context, convID string) error {
	convs, err := s.gw.ConversationsByID(ctx, []string{convID})
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if len(convs) == 0 {
		return fmt.Errorf("conversation %s: %w", convID, apperr.ErrNotFound)
	}

	gen := s.subs.Select(convID)
	s.typing.SetConversation(ctx, convID)

	s.mu.Lock()
	s.msgs = nil
	s.typingUsers = make(map[string]string)
	s.mu.Unlock()
	s.notify()

	views, err := s.stream.Fetch(ctx, convID, s.user.ID)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}
	if !s.subs.Current(gen) {
		return nil // superseded by a newer selection
	}

	s.mu.Lock()
	s.msgs = views
	s.mu.Unlock()

	ok, err := s.subs.Attach(ctx, convID, gen,
		func(ev transport.Event) { s.handleMessageEvent(gen, ev) },
		func(state map[string]transport.Meta) { s.handleTypingSync(gen, state) },
	)
	if err != nil {
		return fmt.Errorf("open channels: %w", err)
	}
	if !ok {
		return nil
	}

	// The watermark moved; refresh badges.
	if err := s.FetchConversations(ctx); err != nil {
		s.log.Warnw("conversation refresh failed", "err", err)
	}
	s.notify()
	return nil
}

// SendMessage inserts a message into the active conversation and publishes
// its row event. There is no optimistic local insert; the message shows up
// when the event round-trips. Failures surface to the caller, no retry.
func (s *Session) SendMessage(ctx context.Context, content, msgType string, fm *model.FileMeta) (*model.Message, error) {
	convID := s.subs.Active()
	if convID == "" {
		return nil, ErrNoActiveConversation
	}
	m, err := s.stream.Send(ctx, convID, s.user.ID, content, msgType, fm)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if err := s.rt.Publish(ctx, messagesChannel(convID), payload); err != nil {
		s.log.Warnw("message event publish failed", "conversation", convID, "err", err)
	}
	s.ev.MessageSent(ctx, *m)
	return m, nil
}

// UploadFile stores the blob and returns its metadata; a failed upload
// returns an error and no message may be constructed from it.
func (s *Session) UploadFile(ctx context.Context, name, contentType string, data []byte) (*model.FileMeta, error) {
	return s.stream.Upload(ctx, s.user.ID, name, contentType, data)
}

// CreateConversation creates a conversation with the given members plus the
// creator. Creating a private conversation with the same peer twice returns
// the existing one; the dedupe key is the unordered user pair.
func (s *Session) CreateConversation(ctx context.Context, kind, name string, memberIDs []string) (*model.Conversation, error) {
	if kind == model.KindPrivate {
		if len(memberIDs) != 1 {
			return nil, fmt.Errorf("%w: private conversations have exactly two participants", ErrBadConversation)
		}
		existing, err := s.gw.FindPrivateConversation(ctx, s.user.ID, memberIDs[0])
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	now := time.Now().UTC()
	conv := model.Conversation{
		ID:        uuid.NewString(),
		Kind:      kind,
		Name:      name,
		CreatedBy: s.user.ID,
		SchoolID:  s.org,
		CreatedAt: now,
		UpdatedAt: now,
	}
	parts := []model.Participant{{
		ConversationID: conv.ID,
		UserID:         s.user.ID,
		Role:           model.RoleAdmin,
		JoinedAt:       now,
	}}
	for _, id := range memberIDs {
		parts = append(parts, model.Participant{
			ConversationID: conv.ID,
			UserID:         id,
			Role:           model.RoleMember,
			JoinedAt:       now,
		})
	}
	if err := s.gw.InsertConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	if err := s.gw.InsertParticipants(ctx, parts); err != nil {
		return nil, fmt.Errorf("insert participants: %w", err)
	}
	s.ev.ConversationCreated(ctx, conv)

	if err := s.FetchConversations(ctx); err != nil {
		s.log.Warnw("conversation refresh failed", "err", err)
	}
	return &conv, nil
}

// BroadcastTyping signals that the local user is typing in the active
// conversation; repeated calls within the idle window coalesce.
func (s *Session) BroadcastTyping(ctx context.Context) error {
	return s.typing.Broadcast(ctx)
}

// Close tears everything down: active channels, typing state, the shared
// presence channel. The session returns to Idle and must not be reused.
func (s *Session) Close(ctx context.Context) {
	s.subs.TearDown()
	s.typing.SetConversation(ctx, "")
	s.presence.Teardown(ctx)

	s.mu.Lock()
	s.convs = nil
	s.msgs = nil
	s.typingUsers = make(map[string]string)
	s.mu.Unlock()
}

// handleMessageEvent applies an inbound row-insert. Events for superseded
// selections or other conversations are dropped. The transport may in
// principle redeliver, and a sender sees its own insert here; no dedup is
// attempted.
func (s *Session) handleMessageEvent(gen uint64, ev transport.Event) {
	var m model.Message
	if err := json.Unmarshal(ev.Payload, &m); err != nil {
		s.log.Warnw("bad message event", "channel", ev.Channel, "err", err)
		return
	}
	if !s.subs.Current(gen) || m.ConversationID != s.subs.Active() {
		return
	}

	sender := s.lookupSender(m.SenderID)

	s.mu.Lock()
	s.msgs = appendOrdered(s.msgs, MessageView{Message: m, Sender: sender})
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.gw.SetLastRead(ctx, m.ConversationID, s.user.ID, time.Now().UTC()); err != nil {
		s.log.Warnw("watermark refresh failed", "conversation", m.ConversationID, "err", err)
	}
	if err := s.FetchConversations(ctx); err != nil {
		s.log.Warnw("conversation refresh failed", "err", err)
	}
	s.notify()
}

// handleTypingSync recomputes the typing set from the full presence state,
// excluding the local user.
func (s *Session) handleTypingSync(gen uint64, state map[string]transport.Meta) {
	if !s.subs.Current(gen) {
		return
	}
	next := make(map[string]string, len(state))
	for key, meta := range state {
		if key == s.user.ID {
			continue
		}
		name, _ := meta["display_name"].(string)
		next[key] = name
	}
	s.mu.Lock()
	s.typingUsers = next
	s.mu.Unlock()
	s.notify()
}

// lookupSender resolves a sender profile, preferring what is already in
// memory over a gateway round-trip.
func (s *Session) lookupSender(userID string) *model.Profile {
	s.mu.Lock()
	for i := range s.msgs {
		if s.msgs[i].SenderID == userID && s.msgs[i].Sender != nil {
			p := *s.msgs[i].Sender
			s.mu.Unlock()
			return &p
		}
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	profiles, err := s.gw.ProfilesByID(ctx, []string{userID})
	if err != nil || len(profiles) == 0 {
		return nil
	}
	return &profiles[0]
}

func appendOrdered(msgs []MessageView, v MessageView) []MessageView {
	i := len(msgs)
	for i > 0 && model.MessageLess(v.Message, msgs[i-1].Message) {
		i--
	}
	msgs = append(msgs, MessageView{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = v
	return msgs
}

// SetOnChange registers a callback fired after every observable-state
// mutation.
func (s *Session) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Session) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Conversations returns a copy of the current enriched list.
func (s *Session) Conversations() []ConversationView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConversationView, len(s.convs))
	copy(out, s.convs)
	return out
}

// Messages returns a copy of the active conversation's buffer.
func (s *Session) Messages() []MessageView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MessageView, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// ActiveConversation returns the selected conversation id, or "".
func (s *Session) ActiveConversation() string {
	return s.subs.Active()
}

// TypingUsers returns who is typing in the active conversation, keyed by
// user id.
func (s *Session) TypingUsers() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.typingUsers))
	for k, v := range s.typingUsers {
		out[k] = v
	}
	return out
}

// OnlineUsers returns the ids currently attached to the shared presence
// channel.
func (s *Session) OnlineUsers() []string {
	return s.presence.Online()
}
