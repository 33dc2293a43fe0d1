package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edulink/messaging/internal/model"
	"github.com/edulink/messaging/internal/objectstore"
	"github.com/edulink/messaging/internal/store"
)

// MessageStream loads, orders and appends messages for one conversation and
// owns the viewer's last-read watermark update.
type MessageStream struct {
	gw   store.Gateway
	blob objectstore.Store
	log  *zap.SugaredLogger
}

func NewMessageStream(gw store.Gateway, blob objectstore.Store, log *zap.SugaredLogger) *MessageStream {
	return &MessageStream{gw: gw, blob: blob, log: log}
}

// Fetch returns the conversation history ascending by (created_at, id) with
// sender profiles resolved once per distinct sender. As a side effect it
// moves viewerID's watermark to now: viewing marks read, at fetch
// granularity.
func (s *MessageStream) Fetch(ctx context.Context, convID, viewerID string) ([]MessageView, error) {
	msgs, err := s.gw.MessagesAsc(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return model.MessageLess(msgs[i], msgs[j]) })

	seen := make(map[string]bool)
	var senderIDs []string
	for _, m := range msgs {
		if !seen[m.SenderID] {
			seen[m.SenderID] = true
			senderIDs = append(senderIDs, m.SenderID)
		}
	}
	profiles, err := s.gw.ProfilesByID(ctx, senderIDs)
	if err != nil {
		return nil, fmt.Errorf("load sender profiles: %w", err)
	}
	profileOf := make(map[string]*model.Profile, len(profiles))
	for i := range profiles {
		profileOf[profiles[i].ID] = &profiles[i]
	}

	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, MessageView{Message: m, Sender: profileOf[m.SenderID]})
	}

	if err := s.gw.SetLastRead(ctx, convID, viewerID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("set watermark: %w", err)
	}
	return views, nil
}

// Send inserts the message and bumps the conversation's UpdatedAt. The
// sender sees their own message only once it round-trips through the
// realtime channel; there is no optimistic local copy and no retry.
func (s *MessageStream) Send(ctx context.Context, convID, senderID, content, msgType string, fm *model.FileMeta) (*model.Message, error) {
	m := model.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       senderID,
		Content:        content,
		Type:           msgType,
		CreatedAt:      time.Now().UTC(),
	}
	if fm != nil {
		m.FileURL, m.FileName, m.FileSize = fm.URL, fm.Name, fm.Size
	}
	if err := s.gw.InsertMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if err := s.gw.TouchConversation(ctx, convID, m.CreatedAt); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	return &m, nil
}

// Upload writes the blob under the uploader's namespace keyed by upload
// time. Callers must not construct a message from a failed upload. Image
// uploads get a best-effort thumbnail alongside.
func (s *MessageStream) Upload(ctx context.Context, userID, name, contentType string, data []byte) (*model.FileMeta, error) {
	key := fmt.Sprintf("%s/%d_%s", userID, time.Now().UnixNano(), name)
	url, err := s.blob.Put(ctx, key, contentType, data)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	if strings.HasPrefix(contentType, "image/") {
		if thumb, err := objectstore.Thumbnail(data); err == nil {
			if _, err := s.blob.Put(ctx, key+"_thumb.jpg", "image/jpeg", thumb); err != nil {
				s.log.Warnw("thumbnail upload failed", "key", key, "err", err)
			}
		}
	}
	return &model.FileMeta{URL: url, Name: name, Size: int64(len(data))}, nil
}
