package chat

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/edulink/messaging/internal/apperr"
	"github.com/edulink/messaging/internal/transport"
)

// SlotState is the lifecycle of the active-conversation slot.
type SlotState int

const (
	StateIdle SlotState = iota
	StateLoading
	StateReady
	StateTearDown
)

// SubscriptionManager owns the invariant "at most one live message channel
// and one live typing channel, bound to the currently selected
// conversation". Teardown of the previous selection completes before any
// channel for the new one opens, and every in-flight fetch carries a
// selection generation so a stale result can be discarded.
type SubscriptionManager struct {
	mu  sync.Mutex
	rt  transport.Transport
	log *zap.SugaredLogger

	active    string
	state     SlotState
	gen       uint64
	msgSub    transport.Subscription
	typingSub transport.Subscription
}

func NewSubscriptionManager(rt transport.Transport, log *zap.SugaredLogger) *SubscriptionManager {
	return &SubscriptionManager{rt: rt, log: log}
}

// Select tears down the previous conversation's channels, claims the slot
// for convID and returns the new selection generation. Teardown is
// synchronous: no overlap window with the channels opened later by Attach.
func (m *SubscriptionManager) Select(convID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	m.active = convID
	m.state = StateLoading
	m.gen++
	return m.gen
}

// Attach opens the message and typing channels for convID, unless gen has
// been superseded by a newer Select; then it reports false and opens
// nothing.
func (m *SubscriptionManager) Attach(ctx context.Context, convID string, gen uint64, onMessage transport.Handler, onTyping transport.SyncHandler) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.active != convID {
		return false, nil
	}
	ms, err := m.rt.Subscribe(ctx, messagesChannel(convID), onMessage)
	if err != nil {
		m.state = StateIdle
		return false, fmt.Errorf("%w: %v", apperr.ErrTransport, err)
	}
	ts, err := m.rt.OnSync(typingChannel(convID), onTyping)
	if err != nil {
		ms.Cancel()
		m.state = StateIdle
		return false, fmt.Errorf("%w: %v", apperr.ErrTransport, err)
	}
	m.msgSub, m.typingSub = ms, ts
	m.state = StateReady
	return true, nil
}

// Current reports whether gen is still the live selection generation.
func (m *SubscriptionManager) Current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

// Active returns the currently selected conversation id, or "".
func (m *SubscriptionManager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *SubscriptionManager) State() SlotState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TearDown releases everything and returns the slot to Idle; the sign-out
// path. The generation bump invalidates any still-in-flight fetch.
func (m *SubscriptionManager) TearDown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	m.active = ""
	m.state = StateIdle
	m.gen++
}

func (m *SubscriptionManager) teardownLocked() {
	if m.msgSub == nil && m.typingSub == nil {
		return
	}
	m.state = StateTearDown
	if m.msgSub != nil {
		m.msgSub.Cancel()
		m.msgSub = nil
	}
	if m.typingSub != nil {
		m.typingSub.Cancel()
		m.typingSub = nil
	}
}
