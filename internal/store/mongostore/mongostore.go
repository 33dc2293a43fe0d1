// Package mongostore backs the Gateway with MongoDB collections:
// conversations, conversation_participants, messages, profiles.
package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/edulink/messaging/internal/model"
)

type Store struct {
	convs    *mongo.Collection
	parts    *mongo.Collection
	msgs     *mongo.Collection
	profiles *mongo.Collection
}

func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return mongo.Connect(ctx, options.Client().ApplyURI(uri))
}

func New(db *mongo.Database) *Store {
	s := &Store{
		convs:    db.Collection("conversations"),
		parts:    db.Collection("conversation_participants"),
		msgs:     db.Collection("messages"),
		profiles: db.Collection("profiles"),
	}
	msgIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("conv_created_idx"),
	}
	_, _ = s.msgs.Indexes().CreateOne(context.Background(), msgIdx)
	partIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("conv_user_idx"),
	}
	_, _ = s.parts.Indexes().CreateOne(context.Background(), partIdx)
	return s
}

func (s *Store) ParticipantsOf(ctx context.Context, userID string) ([]model.Participant, error) {
	return decodeAll[model.Participant](ctx, s.parts, bson.M{"user_id": userID}, nil)
}

func (s *Store) ParticipantsIn(ctx context.Context, convIDs []string) ([]model.Participant, error) {
	return decodeAll[model.Participant](ctx, s.parts, bson.M{"conversation_id": bson.M{"$in": convIDs}}, nil)
}

func (s *Store) ConversationsByID(ctx context.Context, ids []string) ([]model.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	return decodeAll[model.Conversation](ctx, s.convs, bson.M{"_id": bson.M{"$in": ids}}, opts)
}

func (s *Store) ProfilesByID(ctx context.Context, ids []string) ([]model.Profile, error) {
	return decodeAll[model.Profile](ctx, s.profiles, bson.M{"_id": bson.M{"$in": ids}}, nil)
}

func (s *Store) LastMessage(ctx context.Context, convID string) (*model.Message, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	var m model.Message
	err := s.msgs.FindOne(ctx, bson.M{"conversation_id": convID}, opts).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) MessagesAsc(ctx context.Context, convID string) ([]model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	return decodeAll[model.Message](ctx, s.msgs, bson.M{"conversation_id": convID}, opts)
}

func (s *Store) CountUnread(ctx context.Context, convID string, after time.Time, excludeSender string) (int, error) {
	n, err := s.msgs.CountDocuments(ctx, bson.M{
		"conversation_id": convID,
		"created_at":      bson.M{"$gt": after},
		"sender_id":       bson.M{"$ne": excludeSender},
	})
	return int(n), err
}

func (s *Store) InsertConversation(ctx context.Context, c model.Conversation) error {
	_, err := s.convs.InsertOne(ctx, c)
	return err
}

func (s *Store) InsertParticipants(ctx context.Context, ps []model.Participant) error {
	docs := make([]any, len(ps))
	for i, p := range ps {
		docs[i] = p
	}
	_, err := s.parts.InsertMany(ctx, docs)
	return err
}

func (s *Store) InsertMessage(ctx context.Context, m model.Message) error {
	_, err := s.msgs.InsertOne(ctx, m)
	return err
}

func (s *Store) SetLastRead(ctx context.Context, convID, userID string, at time.Time) error {
	// $max keeps the watermark monotonic under concurrent updates.
	_, err := s.parts.UpdateOne(ctx,
		bson.M{"conversation_id": convID, "user_id": userID},
		bson.M{"$max": bson.M{"last_read_at": at}},
	)
	return err
}

func (s *Store) TouchConversation(ctx context.Context, convID string, at time.Time) error {
	_, err := s.convs.UpdateOne(ctx,
		bson.M{"_id": convID},
		bson.M{"$set": bson.M{"updated_at": at}},
	)
	return err
}

func (s *Store) FindPrivateConversation(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	rows, err := s.ParticipantsOf(ctx, userA)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(rows))
	for _, p := range rows {
		ids = append(ids, p.ConversationID)
	}
	convs, err := decodeAll[model.Conversation](ctx, s.convs,
		bson.M{"_id": bson.M{"$in": ids}, "kind": model.KindPrivate}, nil)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		n, err := s.parts.CountDocuments(ctx, bson.M{
			"conversation_id": convs[i].ID,
			"user_id":         userB,
		})
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return &convs[i], nil
		}
	}
	return nil, nil
}

func decodeAll[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, opts *options.FindOptions) ([]T, error) {
	var cur *mongo.Cursor
	var err error
	if opts != nil {
		cur, err = coll.Find(ctx, filter, opts)
	} else {
		cur, err = coll.Find(ctx, filter)
	}
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []T
	for cur.Next(ctx) {
		var v T
		if err := cur.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, cur.Err()
}
