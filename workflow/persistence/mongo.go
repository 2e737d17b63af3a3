package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/campaignflow/workflow"
)

// =============================================================================
// 🗄️ MongoDB Checkpoint Store
// =============================================================================

// checkpointDocument 快照文档，state 为完整 JSON 快照
type checkpointDocument struct {
	ID          string    `bson:"_id"`
	GraphID     string    `bson:"graph_id"`
	Status      string    `bson:"status"`
	CurrentNode string    `bson:"current_node"`
	Version     int64     `bson:"version"`
	State       string    `bson:"state"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

// MongoStore 基于 MongoDB 集合的快照存储
type MongoStore struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

// NewMongoStore 创建 Mongo 快照存储
func NewMongoStore(db *mongo.Database, collection string, logger *zap.Logger) *MongoStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if collection == "" {
		collection = "workflow_checkpoints"
	}
	return &MongoStore{
		coll:   db.Collection(collection),
		logger: logger.With(zap.String("store", "mongo_checkpoint")),
	}
}

// EnsureIndexes 创建 status + created_at 复合索引，供 List 使用
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create checkpoint index: %w", err)
	}
	return nil
}

// Save upsert 快照
func (s *MongoStore) Save(ctx context.Context, id string, state *workflow.WorkflowState) error {
	if state == nil {
		return fmt.Errorf("save checkpoint %s: state is nil", id)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s: %w", id, err)
	}

	doc := checkpointDocument{
		ID:          id,
		GraphID:     state.GraphID,
		Status:      string(state.Status),
		CurrentNode: state.CurrentNode,
		Version:     state.Version,
		State:       string(data),
		CreatedAt:   state.CreatedAt,
		UpdatedAt:   state.UpdatedAt,
	}
	_, err = s.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: id}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", id, err)
	}

	s.logger.Debug("checkpoint saved",
		zap.String("workflow_id", id),
		zap.String("status", doc.Status),
		zap.Int64("version", doc.Version))
	return nil
}

// Load 读取快照
func (s *MongoStore) Load(ctx context.Context, id string) (*workflow.WorkflowState, error) {
	var doc checkpointDocument
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("checkpoint %s: %w", id, workflow.ErrCheckpointNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", id, err)
	}
	return decodeDocument(doc)
}

// List 按状态过滤，按创建时间升序
func (s *MongoStore) List(ctx context.Context, statuses ...workflow.Status) ([]*workflow.WorkflowState, error) {
	filter := bson.D{}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		filter = bson.D{{Key: "status", Value: bson.D{{Key: "$in", Value: names}}}}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer cur.Close(ctx)

	var out []*workflow.WorkflowState
	for cur.Next(ctx) {
		var doc checkpointDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode checkpoint document: %w", err)
		}
		st, err := decodeDocument(doc)
		if err != nil {
			s.logger.Warn("skip unreadable checkpoint", zap.String("workflow_id", doc.ID), zap.Error(err))
			continue
		}
		out = append(out, st)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return out, nil
}

// Delete 删除快照
func (s *MongoStore) Delete(ctx context.Context, id string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", id, err)
	}
	return nil
}

func decodeDocument(doc checkpointDocument) (*workflow.WorkflowState, error) {
	var st workflow.WorkflowState
	if err := json.Unmarshal([]byte(doc.State), &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", doc.ID, err)
	}
	return &st, nil
}
