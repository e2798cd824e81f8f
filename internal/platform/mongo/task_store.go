package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/lottery-keeper/internal/store"
	"github.com/phrazzld/lottery-keeper/internal/task"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// CollectionName is the collection holding task documents.
	CollectionName = "tasks"

	// dedupIndexName is the partial unique index over active tasks.
	dedupIndexName = "tasks_active_dedup_key"
)

// MongoTaskStore implements task.Store on a MongoDB collection. Logs are
// embedded in the task document and appended with $push.
type MongoTaskStore struct {
	collection *mongo.Collection
	logger     *slog.Logger
	now        func() time.Time
}

var _ task.Store = (*MongoTaskStore)(nil)

// Connect opens a client and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return client, nil
}

// NewMongoTaskStore creates a store over the tasks collection of db.
func NewMongoTaskStore(db *mongo.Database, logger *slog.Logger) *MongoTaskStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoTaskStore{
		collection: db.Collection(CollectionName),
		logger:     logger.With("component", "mongo_task_store"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the store clock.
func (s *MongoTaskStore) SetClock(now func() time.Time) {
	s.now = now
}

// EnsureIndexes creates the dedup and polling indexes. It is safe to call on
// every start.
func (s *MongoTaskStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "dedupKey", Value: 1}},
			Options: options.Index().
				SetName(dedupIndexName).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"active": true}),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}},
			Options: options.Index().SetName("tasks_status_created_at"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "processingStartedAt", Value: 1}},
			Options: options.Index().SetName("tasks_status_processing_started_at"),
		},
	})
	if err != nil {
		return store.NewStoreError("task", "ensure_indexes", "failed to create indexes", err)
	}
	return nil
}

// Insert implements task.Store.
func (s *MongoTaskStore) Insert(ctx context.Context, t *task.Task) error {
	doc, err := newTaskDocument(t)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		mapped := mapWriteError("insert", err)
		if !errors.Is(mapped, store.ErrDuplicateTask) {
			s.logger.Error("failed to insert task", "task_id", t.ID, "error", err)
		}
		return mapped
	}
	return nil
}

// ClaimNextPending implements task.Store.
func (s *MongoTaskStore) ClaimNextPending(ctx context.Context) (*task.Task, error) {
	now := s.now()
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetReturnDocument(options.After)

	var doc taskDocument
	err := s.collection.FindOneAndUpdate(ctx,
		bson.M{"status": string(task.StatusPending)},
		claimUpdate(now),
		opts,
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("failed to claim next pending task", "error", err)
		return nil, store.NewStoreError("task", "claim", "database error", err)
	}
	return doc.toTask()
}

// ClaimByID implements task.Store.
func (s *MongoTaskStore) ClaimByID(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	var doc taskDocument
	err := s.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id.String(), "status": string(task.StatusPending)},
		claimUpdate(s.now()),
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, s.transitionError(ctx, id, store.ErrTaskNotClaimable)
	}
	if err != nil {
		return nil, store.NewStoreError("task", "claim_by_id", "database error", err)
	}
	return doc.toTask()
}

func claimUpdate(now time.Time) bson.M {
	return bson.M{"$set": bson.M{
		"status":              string(task.StatusInProgress),
		"processingStartedAt": now,
		"updatedAt":           now,
	}}
}

// AppendLog implements task.Store.
func (s *MongoTaskStore) AppendLog(ctx context.Context, id uuid.UUID, entry task.LogEntry) error {
	logDoc, err := newLogDocument(entry)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id.String()},
		bson.M{
			"$push": bson.M{"logs": logDoc},
			"$set":  bson.M{"updatedAt": s.now()},
		},
	)
	if err != nil {
		return store.NewStoreError("task", "append_log", "database error", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}

// Complete implements task.Store.
func (s *MongoTaskStore) Complete(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	resultDoc, err := jsonToBSON(result)
	if err != nil {
		return fmt.Errorf("%w: result: %v", store.ErrInvalidEntity, err)
	}
	now := s.now()
	set := bson.M{
		"status":      string(task.StatusCompleted),
		"active":      false,
		"completedAt": now,
		"updatedAt":   now,
	}
	if resultDoc != nil {
		set["result"] = resultDoc
	}
	return s.transition(ctx, id, "complete", bson.M{"$set": set})
}

// Fail implements task.Store.
func (s *MongoTaskStore) Fail(ctx context.Context, id uuid.UUID, message, stack string) error {
	return s.transition(ctx, id, "fail", failUpdate(s.now(), message, stack, nil))
}

func failUpdate(now time.Time, message, stack string, logDoc bson.M) bson.M {
	set := bson.M{
		"status":    string(task.StatusFailed),
		"active":    false,
		"error":     message,
		"failedAt":  now,
		"updatedAt": now,
	}
	if stack != "" {
		set["errorStack"] = stack
	}
	update := bson.M{"$set": set}
	if logDoc != nil {
		update["$push"] = bson.M{"logs": logDoc}
	}
	return update
}

func (s *MongoTaskStore) transition(ctx context.Context, id uuid.UUID, operation string, update bson.M) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": string(task.StatusInProgress)},
		update,
	)
	if err != nil {
		return store.NewStoreError("task", operation, "database error", err)
	}
	if res.MatchedCount == 0 {
		return s.transitionError(ctx, id, store.ErrInvalidTransition)
	}
	return nil
}

// Get implements task.Store.
func (s *MongoTaskStore) Get(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	var doc taskDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("task", "get", "database error", err)
	}
	return doc.toTask()
}

// Reset implements task.Store. Setting active back to true re-enters the
// partial unique index, so a taken dedup key fails the update.
func (s *MongoTaskStore) Reset(ctx context.Context, id uuid.UUID) error {
	now := s.now()
	entry := task.NewLogEntry(task.LevelInfo, "Task reset to pending by operator", nil)
	entry.Timestamp = now
	logDoc, err := newLogDocument(entry)
	if err != nil {
		return err
	}

	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": string(task.StatusFailed)},
		bson.M{
			"$set": bson.M{
				"status":    string(task.StatusPending),
				"active":    true,
				"updatedAt": now,
			},
			"$unset": bson.M{
				"error":               "",
				"errorStack":          "",
				"processingStartedAt": "",
				"failedAt":            "",
			},
			"$push": bson.M{"logs": logDoc},
		},
	)
	if err != nil {
		return mapWriteError("reset", err)
	}
	if res.MatchedCount == 0 {
		return s.transitionError(ctx, id, store.ErrInvalidTransition)
	}
	return nil
}

// ListPending implements task.Store.
func (s *MongoTaskStore) ListPending(ctx context.Context) ([]*task.Task, error) {
	cur, err := s.collection.Find(ctx,
		bson.M{"status": string(task.StatusPending)},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}),
	)
	if err != nil {
		return nil, store.NewStoreError("task", "list_pending", "database error", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	var pending []*task.Task
	for cur.Next(ctx) {
		var doc taskDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, store.NewStoreError("task", "list_pending", "decode failed", err)
		}
		t, err := doc.toTask()
		if err != nil {
			return nil, err
		}
		pending = append(pending, t)
	}
	if err := cur.Err(); err != nil {
		return nil, store.NewStoreError("task", "list_pending", "cursor error", err)
	}
	return pending, nil
}

// FailStale implements task.Store. Each candidate is failed with its own
// conditional update, so a task that finished in the meantime is left alone.
func (s *MongoTaskStore) FailStale(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	now := s.now()
	cutoff := now.Add(-olderThan)
	staleFilter := bson.M{
		"status":              string(task.StatusInProgress),
		"processingStartedAt": bson.M{"$lt": cutoff},
	}

	cur, err := s.collection.Find(ctx, staleFilter,
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, store.NewStoreError("task", "fail_stale", "database error", err)
	}
	var candidates []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &candidates); err != nil {
		return nil, store.NewStoreError("task", "fail_stale", "cursor error", err)
	}

	entry := task.NewLogEntry(task.LevelError, task.StaleTaskError, nil)
	entry.Timestamp = now
	logDoc, err := newLogDocument(entry)
	if err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	for _, c := range candidates {
		id, err := uuid.Parse(c.ID)
		if err != nil {
			s.logger.Warn("skipping task with malformed id", "id", c.ID)
			continue
		}
		filter := bson.M{"_id": c.ID}
		for k, v := range staleFilter {
			filter[k] = v
		}
		res, err := s.collection.UpdateOne(ctx, filter, failUpdate(now, task.StaleTaskError, "", logDoc))
		if err != nil {
			return ids, store.NewStoreError("task", "fail_stale", "database error", err)
		}
		if res.ModifiedCount == 1 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MongoTaskStore) transitionError(ctx context.Context, id uuid.UUID, transitionErr error) error {
	n, err := s.collection.CountDocuments(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return store.NewStoreError("task", "exists", "database error", err)
	}
	if n == 0 {
		return store.ErrTaskNotFound
	}
	return transitionErr
}

// mapWriteError maps a duplicate key on the active dedup index to
// store.ErrDuplicateTask and any other duplicate key to store.ErrDuplicate.
func mapWriteError(operation string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		if strings.Contains(err.Error(), dedupIndexName) {
			return fmt.Errorf("%w: %v", store.ErrDuplicateTask, err)
		}
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	}
	return store.NewStoreError("task", operation, "database error", err)
}
