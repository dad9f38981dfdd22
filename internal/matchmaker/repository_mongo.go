package matchmaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoRepo struct {
	entries       *mongo.Collection
	matches       *mongo.Collection
	notifications *mongo.Collection
}

func NewMongoRepo(db *mongo.Database) Repo {
	return &mongoRepo{
		entries:       db.Collection("queue_entries"),
		matches:       db.Collection("matches"),
		notifications: db.Collection("notifications"),
	}
}

// EnsureMongoIndexes 每个大厅只允许一个未处理条目；FIFO 与收件箱查询索引
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("queue_entries").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "lobbyId", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"processed": false}),
		},
		{Keys: bson.D{{Key: "processed", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create queue_entries indexes: %w", err)
	}
	_, err = db.Collection("notifications").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "recipientId", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create notifications index: %w", err)
	}
	return nil
}

// unprocessed 兼容 processed 字段缺失的旧文档
var unprocessed = bson.M{"$ne": true}

func (r *mongoRepo) Enqueue(ctx context.Context, e *QueueEntry) error {
	_, err := r.entries.InsertOne(ctx, e)
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyQueued
	}
	return err
}

func (r *mongoRepo) Pending(ctx context.Context) ([]*QueueEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.entries.Find(ctx, bson.M{"processed": unprocessed}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := make([]*QueueEntry, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	for _, e := range out {
		e.CreatedAt = e.CreatedAt.UTC()
	}
	return out, nil
}

func (r *mongoRepo) PendingByLobby(ctx context.Context, lobbyID string) (*QueueEntry, error) {
	var e QueueEntry
	err := r.entries.FindOne(ctx, bson.M{"lobbyId": lobbyID, "processed": unprocessed}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

// Claim 条件 UpdateMany 只会命中未处理的条目；命中数不足说明有条目已被别的运行抢走，
// 这时按 claimToken 撤回本次改动的那部分
func (r *mongoRepo) Claim(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	token := uuid.NewString()
	res, err := r.entries.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "processed": unprocessed},
		bson.M{"$set": bson.M{
			"processed":   true,
			"processedAt": time.Now().UTC(),
			"claimToken":  token,
		}},
	)
	if err != nil {
		return err
	}
	if res.ModifiedCount == int64(len(ids)) {
		return nil
	}

	_, err = r.entries.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "claimToken": token},
		bson.M{
			"$set":   bson.M{"processed": false},
			"$unset": bson.M{"processedAt": "", "claimToken": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("revert partial claim: %w", err)
	}
	return ErrAlreadyClaimed
}

func (r *mongoRepo) Release(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.entries.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "processed": true},
		bson.M{
			"$set":   bson.M{"processed": false},
			"$unset": bson.M{"processedAt": "", "claimToken": ""},
		},
	)
	return err
}

func (r *mongoRepo) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.entries.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	return err
}

func (r *mongoRepo) Cancel(ctx context.Context, lobbyID string) error {
	res, err := r.entries.DeleteOne(ctx, bson.M{"lobbyId": lobbyID, "processed": unprocessed})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoRepo) SaveMatch(ctx context.Context, m *Match) error {
	_, err := r.matches.InsertOne(ctx, m)
	return err
}

func (r *mongoRepo) GetMatch(ctx context.Context, id string) (*Match, error) {
	var m Match
	err := r.matches.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

func (r *mongoRepo) SaveNotification(ctx context.Context, n *Notification) error {
	_, err := r.notifications.InsertOne(ctx, n)
	return err
}

func (r *mongoRepo) Notifications(ctx context.Context, memberID string, limit int) ([]*Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.notifications.Find(ctx, bson.M{"recipientId": memberID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := make([]*Notification, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *mongoRepo) MarkRead(ctx context.Context, memberID, id string) error {
	res, err := r.notifications.UpdateOne(ctx,
		bson.M{"_id": id, "recipientId": memberID},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
