// Package memstore is an in-memory Gateway used by tests and the
// single-node demo daemon.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/edulink/messaging/internal/model"
)

type Store struct {
	mu            sync.RWMutex
	conversations map[string]model.Conversation
	participants  []model.Participant
	messages      []model.Message
	profiles      map[string]model.Profile

	// FailReads makes every read return this error; test hook.
	FailReads error
}

func New() *Store {
	return &Store{
		conversations: make(map[string]model.Conversation),
		profiles:      make(map[string]model.Profile),
	}
}

func (s *Store) PutProfile(p model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

func (s *Store) ParticipantsOf(_ context.Context, userID string) ([]model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	var out []model.Participant
	for _, p := range s.participants {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) ParticipantsIn(_ context.Context, convIDs []string) ([]model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	in := make(map[string]bool, len(convIDs))
	for _, id := range convIDs {
		in[id] = true
	}
	var out []model.Participant
	for _, p := range s.participants {
		if in[p.ConversationID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) ConversationsByID(_ context.Context, ids []string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	out := make([]model.Conversation, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.conversations[id]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) ProfilesByID(_ context.Context, ids []string) ([]model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	out := make([]model.Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) LastMessage(_ context.Context, convID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	var last *model.Message
	for i := range s.messages {
		m := s.messages[i]
		if m.ConversationID != convID {
			continue
		}
		if last == nil || model.MessageLess(*last, m) {
			cp := m
			last = &cp
		}
	}
	return last, nil
}

func (s *Store) MessagesAsc(_ context.Context, convID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	var out []model.Message
	for _, m := range s.messages {
		if m.ConversationID == convID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return model.MessageLess(out[i], out[j]) })
	return out, nil
}

func (s *Store) CountUnread(_ context.Context, convID string, after time.Time, excludeSender string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads != nil {
		return 0, s.FailReads
	}
	n := 0
	for _, m := range s.messages {
		if m.ConversationID == convID && m.CreatedAt.After(after) && m.SenderID != excludeSender {
			n++
		}
	}
	return n, nil
}

func (s *Store) InsertConversation(_ context.Context, c model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	return nil
}

func (s *Store) InsertParticipants(_ context.Context, ps []model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants = append(s.participants, ps...)
	return nil
}

func (s *Store) InsertMessage(_ context.Context, m model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

func (s *Store) SetLastRead(_ context.Context, convID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.participants {
		p := &s.participants[i]
		if p.ConversationID == convID && p.UserID == userID {
			if p.LastReadAt == nil || at.After(*p.LastReadAt) {
				t := at
				p.LastReadAt = &t
			}
			return nil
		}
	}
	return nil
}

func (s *Store) TouchConversation(_ context.Context, convID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[convID]; ok {
		c.UpdatedAt = at
		s.conversations[convID] = c
	}
	return nil
}

func (s *Store) FindPrivateConversation(_ context.Context, userA, userB string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := make(map[string]map[string]bool) // convID -> userID set
	for _, p := range s.participants {
		if members[p.ConversationID] == nil {
			members[p.ConversationID] = make(map[string]bool)
		}
		members[p.ConversationID][p.UserID] = true
	}
	for id, set := range members {
		c, ok := s.conversations[id]
		if !ok || c.Kind != model.KindPrivate {
			continue
		}
		if len(set) == 2 && set[userA] && set[userB] {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}
