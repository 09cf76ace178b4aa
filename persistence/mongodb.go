package persistence

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"backend/entities"
)

var mongoInstance *MongoPersistence
var onceMongodb sync.Once

// MongoPersistence implements the persistence boundary against MongoDB.
// Collections: messages, conversations, conversation_members, users,
// connections.
type MongoPersistence struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoPersistence creates or returns the MongoPersistence singleton
// with a pooled client.
func NewMongoPersistence(uri, dbName string) (*MongoPersistence, error) {
	log.Printf("MongoPersistence: NewMongoPersistence: connecting to %s, database %s", uri, dbName)
	onceMongodb.Do(func() {
		client, err := mongo.Connect(context.TODO(), options.Client().ApplyURI(uri).SetMaxPoolSize(20))
		if err != nil {
			log.Printf("MongoPersistence: NewMongoPersistence: MongoDB connection error: %v", err)
			return
		}
		if err := client.Ping(context.Background(), nil); err != nil {
			log.Printf("MongoPersistence: NewMongoPersistence: error pinging MongoDB: %v", err)
			return
		}
		mongoInstance = &MongoPersistence{client: client, db: client.Database(dbName)}
	})

	if mongoInstance == nil {
		return nil, fmt.Errorf("MongoPersistence: NewMongoPersistence: unable to create MongoPersistence instance")
	}
	log.Println("MongoPersistence: NewMongoPersistence: instance successfully created")
	return mongoInstance, nil
}

// PersistMessage inserts the message, then best-effort advances the
// conversation's last-message pointer and increments the unread counter of
// every other active participant. The insert is the critical write; the
// side effects are sequential and logged on failure.
func (mp *MongoPersistence) PersistMessage(ctx context.Context, conversationId, senderId uuid.UUID, content, messageType string, metadata map[string]interface{}) (uuid.UUID, error) {
	messageId := uuid.New()
	now := time.Now().UTC()

	document := bson.D{
		{Key: "messageId", Value: messageId.String()},
		{Key: "conversationId", Value: conversationId.String()},
		{Key: "senderId", Value: senderId.String()},
		{Key: "content", Value: content},
		{Key: "messageType", Value: messageType},
		{Key: "metadata", Value: metadata},
		{Key: "readBy", Value: bson.A{}},
		{Key: "createdAt", Value: now},
	}
	if _, err := mp.db.Collection("messages").InsertOne(ctx, document); err != nil {
		log.Printf("MongoPersistence: PersistMessage: error saving message in conversation %s: %v", conversationId, err)
		return uuid.Nil, fmt.Errorf("MongoPersistence: PersistMessage: error saving the message: %w", err)
	}

	if _, err := mp.db.Collection("conversations").UpdateOne(ctx,
		bson.M{"conversationId": conversationId.String()},
		bson.M{"$set": bson.M{"lastMessageId": messageId.String(), "lastMessageAt": now}},
	); err != nil {
		log.Printf("MongoPersistence: PersistMessage: error advancing last-message pointer of %s: %v", conversationId, err)
	}

	if _, err := mp.db.Collection("conversation_members").UpdateMany(ctx,
		bson.M{
			"conversationId": conversationId.String(),
			"userId":         bson.M{"$ne": senderId.String()},
			"leftAt":         nil,
		},
		bson.M{"$inc": bson.M{"unreadCount": 1}},
	); err != nil {
		log.Printf("MongoPersistence: PersistMessage: error incrementing unread counters in %s: %v", conversationId, err)
	}

	return messageId, nil
}

// AppendReadReceipt adds the reader to the message's read-by list and
// resets their unread counter. $addToSet makes the receipt idempotent per
// (messageId, userId).
func (mp *MongoPersistence) AppendReadReceipt(ctx context.Context, messageId, userId uuid.UUID) error {
	var message struct {
		ConversationId string `bson:"conversationId"`
	}
	err := mp.db.Collection("messages").FindOneAndUpdate(ctx,
		bson.M{"messageId": messageId.String()},
		bson.M{"$addToSet": bson.M{"readBy": userId.String()}},
	).Decode(&message)
	if err != nil {
		log.Printf("MongoPersistence: AppendReadReceipt: error appending receipt %s/%s: %v", messageId, userId, err)
		return fmt.Errorf("MongoPersistence: AppendReadReceipt: error appending receipt: %w", err)
	}

	if _, err := mp.db.Collection("conversation_members").UpdateOne(ctx,
		bson.M{"conversationId": message.ConversationId, "userId": userId.String()},
		bson.M{"$set": bson.M{"unreadCount": 0}},
	); err != nil {
		log.Printf("MongoPersistence: AppendReadReceipt: error resetting unread counter of %s: %v", userId, err)
	}
	return nil
}

// ListActiveParticipants returns the members of the conversation with no
// "left" timestamp.
func (mp *MongoPersistence) ListActiveParticipants(ctx context.Context, conversationId uuid.UUID) ([]uuid.UUID, error) {
	cursor, err := mp.db.Collection("conversation_members").Find(ctx,
		bson.M{"conversationId": conversationId.String(), "leftAt": nil},
	)
	if err != nil {
		return nil, fmt.Errorf("MongoPersistence: ListActiveParticipants: error querying members of %s: %w", conversationId, err)
	}
	defer cursor.Close(ctx)

	var participants []uuid.UUID
	for cursor.Next(ctx) {
		var member struct {
			UserId string `bson:"userId"`
		}
		if err := cursor.Decode(&member); err != nil {
			log.Printf("MongoPersistence: ListActiveParticipants: error decoding member: %v", err)
			continue
		}
		userId, err := uuid.Parse(member.UserId)
		if err != nil {
			log.Printf("MongoPersistence: ListActiveParticipants: invalid userId %q: %v", member.UserId, err)
			continue
		}
		participants = append(participants, userId)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("MongoPersistence: ListActiveParticipants: cursor error: %w", err)
	}
	return participants, nil
}

// ListConversationsForUser returns the conversations the user has not left.
func (mp *MongoPersistence) ListConversationsForUser(ctx context.Context, userId uuid.UUID) ([]uuid.UUID, error) {
	cursor, err := mp.db.Collection("conversation_members").Find(ctx,
		bson.M{"userId": userId.String(), "leftAt": nil},
	)
	if err != nil {
		return nil, fmt.Errorf("MongoPersistence: ListConversationsForUser: error querying memberships of %s: %w", userId, err)
	}
	defer cursor.Close(ctx)

	var conversations []uuid.UUID
	for cursor.Next(ctx) {
		var member struct {
			ConversationId string `bson:"conversationId"`
		}
		if err := cursor.Decode(&member); err != nil {
			log.Printf("MongoPersistence: ListConversationsForUser: error decoding membership: %v", err)
			continue
		}
		conversationId, err := uuid.Parse(member.ConversationId)
		if err != nil {
			log.Printf("MongoPersistence: ListConversationsForUser: invalid conversationId %q: %v", member.ConversationId, err)
			continue
		}
		conversations = append(conversations, conversationId)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("MongoPersistence: ListConversationsForUser: cursor error: %w", err)
	}
	return conversations, nil
}

// LookupDisplayName resolves a user id to its display name.
func (mp *MongoPersistence) LookupDisplayName(ctx context.Context, userId uuid.UUID) (string, error) {
	var user struct {
		DisplayName string `bson:"displayName"`
	}
	err := mp.db.Collection("users").FindOne(ctx, bson.M{"userId": userId.String()}).Decode(&user)
	if err != nil {
		return "", fmt.Errorf("MongoPersistence: LookupDisplayName: error looking up user %s: %w", userId, err)
	}
	return user.DisplayName, nil
}

// TrackConnection upserts the bookkeeping row for a live room socket.
func (mp *MongoPersistence) TrackConnection(ctx context.Context, conversationId, userId uuid.UUID, connectionId string) error {
	_, err := mp.db.Collection("connections").UpdateOne(ctx,
		bson.M{"connectionId": connectionId},
		bson.M{"$set": bson.M{
			"connectionId":   connectionId,
			"conversationId": conversationId.String(),
			"userId":         userId.String(),
			"connectedAt":    time.Now().UTC(),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("MongoPersistence: TrackConnection: error tracking connection %s: %w", connectionId, err)
	}
	return nil
}

// UntrackConnection deletes the bookkeeping row.
func (mp *MongoPersistence) UntrackConnection(ctx context.Context, connectionId string) error {
	_, err := mp.db.Collection("connections").DeleteOne(ctx, bson.M{"connectionId": connectionId})
	if err != nil {
		return fmt.Errorf("MongoPersistence: UntrackConnection: error untracking connection %s: %w", connectionId, err)
	}
	return nil
}

var _ entities.Persistence = (*MongoPersistence)(nil)
