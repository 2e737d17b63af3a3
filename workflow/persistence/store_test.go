package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/campaignflow/config"
	"github.com/BaSui01/campaignflow/internal/cache"
	"github.com/BaSui01/campaignflow/workflow"
)

// =============================================================================
// 🧪 通用契约
// =============================================================================

type fullStore interface {
	workflow.CheckpointStore
	workflow.CheckpointLister
	workflow.CheckpointDeleter
}

var baseTime = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func sampleState(id string, status workflow.Status, offset int) *workflow.WorkflowState {
	created := baseTime.Add(time.Duration(offset) * time.Second)
	st := workflow.NewWorkflowState(id, "campaign", "brief", []string{"approval"}, map[string]any{"brand": "acme"})
	st.Status = status
	st.CreatedAt, st.UpdatedAt = created, created
	st.CurrentNode = "evaluate"
	res := workflow.StageResult{
		NodeID:     "brief",
		Status:     workflow.StageSuccess,
		Data:       map[string]any{"headline": "Spring", "score": 7.5},
		VendorUsed: "v1",
		Cost:       0.25,
		LatencyMs:  320,
		Attempt:    1,
		StartedAt:  created,
		FinishedAt: created.Add(time.Second),
	}
	st.Results["brief"] = res
	st.History = append(st.History, res)
	st.NodeRetries["generate"] = 1
	st.Metadata["decision:approval"] = workflow.DecisionApproved
	st.Version = int64(offset + 1)
	return st
}

func runStoreContract(t *testing.T, s fullStore) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	require.ErrorIs(t, err, workflow.ErrCheckpointNotFound)

	st := sampleState("wf-1", workflow.StatusRunning, 0)
	require.NoError(t, s.Save(ctx, st.ID, st))

	// 保存后修改调用方的对象不影响已存快照
	st.Status = workflow.StatusFailed
	st.Results["mutated"] = workflow.StageResult{NodeID: "mutated"}

	got, err := s.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, sampleState("wf-1", workflow.StatusRunning, 0), got)

	// 覆盖写
	updated := sampleState("wf-1", workflow.StatusInterrupted, 0)
	updated.PendingDecision = &workflow.PendingDecision{NodeID: "approval", RequestedAt: baseTime}
	updated.Version = 9
	require.NoError(t, s.Save(ctx, updated.ID, updated))
	got, err = s.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusInterrupted, got.Status)
	assert.Equal(t, int64(9), got.Version)
	require.NotNil(t, got.PendingDecision)
	assert.Equal(t, "approval", got.PendingDecision.NodeID)

	require.NoError(t, s.Save(ctx, "wf-3", sampleState("wf-3", workflow.StatusRunning, 3)))
	require.NoError(t, s.Save(ctx, "wf-2", sampleState("wf-2", workflow.StatusCompleted, 2)))
	require.NoError(t, s.Save(ctx, "wf-0", sampleState("wf-0", workflow.StatusPending, -1)))

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-0", "wf-1", "wf-2", "wf-3"}, ids(all))

	active, err := s.List(ctx, workflow.StatusPending, workflow.StatusRunning)
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-0", "wf-3"}, ids(active))

	none, err := s.List(ctx, workflow.StatusFailed)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, s.Delete(ctx, "wf-2"))
	_, err = s.Load(ctx, "wf-2")
	assert.ErrorIs(t, err, workflow.ErrCheckpointNotFound)
	require.NoError(t, s.Delete(ctx, "wf-2"))
}

func ids(states []*workflow.WorkflowState) []string {
	out := make([]string, len(states))
	for i, st := range states {
		out[i] = st.ID
	}
	return out
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, workflow.NewMemoryStore())
}

// =============================================================================
// 🧪 Redis
// =============================================================================

func newTestCache(t *testing.T) (*miniredis.Miniredis, *cache.Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	m, err := cache.NewManager(cache.Config{Addr: mr.Addr(), DefaultTTL: time.Minute}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return mr, m
}

func TestRedisStore_Contract(t *testing.T) {
	_, m := newTestCache(t)
	runStoreContract(t, NewRedisStore(m, "test:checkpoint:", 0, zap.NewNop()))
}

func TestRedisStore_TTL(t *testing.T) {
	mr, m := newTestCache(t)
	ctx := context.Background()

	forever := NewRedisStore(m, "p:", 0, nil)
	require.NoError(t, forever.Save(ctx, "a", sampleState("a", workflow.StatusRunning, 0)))
	assert.Equal(t, time.Duration(0), mr.TTL("p:a"))

	expiring := NewRedisStore(m, "e:", time.Hour, nil)
	require.NoError(t, expiring.Save(ctx, "b", sampleState("b", workflow.StatusRunning, 0)))
	assert.Equal(t, time.Hour, mr.TTL("e:b"))

	mr.FastForward(2 * time.Hour)
	_, err := expiring.Load(ctx, "b")
	assert.ErrorIs(t, err, workflow.ErrCheckpointNotFound)
}

func TestRedisStore_ListSkipsCorruptEntries(t *testing.T) {
	mr, m := newTestCache(t)
	ctx := context.Background()
	s := NewRedisStore(m, "p:", 0, nil)

	require.NoError(t, s.Save(ctx, "ok", sampleState("ok", workflow.StatusRunning, 0)))
	require.NoError(t, mr.Set("p:bad", "{not json"))
	require.NoError(t, mr.Set("other:x", "ignored"))

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, ids(all))
}

func TestRedisStore_ClosedCache(t *testing.T) {
	_, m := newTestCache(t)
	s := NewRedisStore(m, "p:", 0, nil)
	require.NoError(t, m.Close())

	err := s.Save(context.Background(), "a", sampleState("a", workflow.StatusRunning, 0))
	assert.ErrorIs(t, err, cache.ErrClosed)
	_, err = s.Load(context.Background(), "a")
	assert.ErrorIs(t, err, cache.ErrClosed)
	assert.NotErrorIs(t, err, workflow.ErrCheckpointNotFound)
}

// =============================================================================
// 🧪 SQL
// =============================================================================

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "checkpoints.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := NewGormStore(db, zap.NewNop())
	require.NoError(t, s.AutoMigrate(context.Background()))
	return s
}

func TestGormStore_Contract(t *testing.T) {
	runStoreContract(t, newSQLiteStore(t))
}

func TestGormStore_IndexedColumns(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "wf", sampleState("wf", workflow.StatusInterrupted, 0)))

	var rec checkpointRecord
	require.NoError(t, s.db.First(&rec, "id = ?", "wf").Error)
	assert.Equal(t, "campaign", rec.GraphID)
	assert.Equal(t, "interrupted", rec.Status)
	assert.Equal(t, "evaluate", rec.CurrentNode)
	assert.Equal(t, int64(1), rec.Version)
}

func newMockStore(t *testing.T) (sqlmock.Sqlmock, *GormStore) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return mock, NewGormStore(db, nil)
}

func TestGormStore_LoadNotFound(t *testing.T) {
	mock, s := newMockStore(t)
	mock.ExpectQuery(`SELECT \* FROM "workflow_checkpoints"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "graph_id", "status", "state"}))

	_, err := s.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, workflow.ErrCheckpointNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_LoadDatabaseError(t *testing.T) {
	mock, s := newMockStore(t)
	mock.ExpectQuery(`SELECT \* FROM "workflow_checkpoints"`).WillReturnError(fmt.Errorf("connection reset"))

	_, err := s.Load(context.Background(), "wf")
	require.Error(t, err)
	assert.NotErrorIs(t, err, workflow.ErrCheckpointNotFound)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_LoadCorruptState(t *testing.T) {
	mock, s := newMockStore(t)
	mock.ExpectQuery(`SELECT \* FROM "workflow_checkpoints"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "graph_id", "status", "state"}).
			AddRow("wf", "campaign", "running", "{broken"))

	_, err := s.Load(context.Background(), "wf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode checkpoint wf")
}

// =============================================================================
// 🧪 Mongo（需要 MONGO_URI）
// =============================================================================

func TestMongoStore_Contract(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	ctx := context.Background()
	client, err := ConnectMongo(ctx, config.MongoConfig{URI: uri, ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	db := client.Database(fmt.Sprintf("campaignflow_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() { _ = db.Drop(context.Background()) })

	s := NewMongoStore(db, "", zap.NewNop())
	require.NoError(t, s.EnsureIndexes(ctx))
	runStoreContract(t, s)
}

// =============================================================================
// 🧪 Factory
// =============================================================================

func TestNewStore(t *testing.T) {
	_, m := newTestCache(t)

	st, err := NewStore(config.CheckpointConfig{Backend: "memory"}, Backends{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &workflow.MemoryStore{}, st)

	st, err = NewStore(config.CheckpointConfig{}, Backends{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &workflow.MemoryStore{}, st)

	st, err = NewStore(config.CheckpointConfig{Backend: "Redis", KeyPrefix: "x:"}, Backends{Cache: m}, nil)
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, st)

	for _, backend := range []string{"redis", "database", "mongo"} {
		_, err = NewStore(config.CheckpointConfig{Backend: backend}, Backends{}, nil)
		assert.ErrorContains(t, err, "not configured", backend)
	}

	_, err = NewStore(config.CheckpointConfig{Backend: "etcd"}, Backends{}, nil)
	assert.ErrorContains(t, err, `unknown checkpoint backend "etcd"`)
}
