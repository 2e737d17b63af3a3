package persistence

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/campaignflow/config"
	"github.com/BaSui01/campaignflow/internal/cache"
	"github.com/BaSui01/campaignflow/workflow"
)

// Backends 已建立的连接，按 CheckpointConfig.Backend 取用其一
type Backends struct {
	Cache *cache.Manager
	DB    *gorm.DB
	Mongo *mongo.Database
}

// NewStore 按配置创建快照存储
func NewStore(cfg config.CheckpointConfig, b Backends, logger *zap.Logger) (workflow.CheckpointStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return workflow.NewMemoryStore(), nil
	case "redis":
		if b.Cache == nil {
			return nil, fmt.Errorf("checkpoint backend redis: cache manager is not configured")
		}
		return NewRedisStore(b.Cache, cfg.KeyPrefix, cfg.TTL, logger), nil
	case "database":
		if b.DB == nil {
			return nil, fmt.Errorf("checkpoint backend database: database is not configured")
		}
		return NewGormStore(b.DB, logger), nil
	case "mongo":
		if b.Mongo == nil {
			return nil, fmt.Errorf("checkpoint backend mongo: mongo is not configured")
		}
		return NewMongoStore(b.Mongo, cfg.Collection, logger), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// ConnectMongo 建立 Mongo 连接并探活
func ConnectMongo(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}
