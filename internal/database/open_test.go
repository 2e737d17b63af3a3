package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/campaignflow/config"
)

func TestDialector(t *testing.T) {
	tests := []struct {
		driver  string
		name    string
		want    string
		wantErr string
	}{
		{driver: "postgres", want: "postgres"},
		{driver: "mysql", want: "mysql"},
		{driver: "sqlite", name: "campaign.db", want: "sqlite"},
		{driver: "sqlite", wantErr: "path is required"},
		{driver: "oracle", wantErr: `unsupported database driver "oracle"`},
	}

	for _, tt := range tests {
		t.Run(tt.driver+tt.name, func(t *testing.T) {
			d, err := Dialector(config.DatabaseConfig{Driver: tt.driver, Name: tt.name, Host: "localhost", Port: 5432})
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Name())
		})
	}
}

func TestOpen_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaign.db")
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", Name: path}, zap.NewNop())
	require.NoError(t, err)

	manager, err := NewPoolManager(db, PoolConfigFrom(config.DatabaseConfig{Driver: "sqlite"}), nil)
	require.NoError(t, err)
	defer manager.Close()

	require.NoError(t, manager.Ping(context.Background()))
	var one int
	require.NoError(t, db.Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
	assert.Equal(t, 1, manager.GetStats().MaxOpenConnections)
}

func TestGormLogger_Trace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(zap.New(core), 50*time.Millisecond)
	fc := func() (string, int64) { return "SELECT 1", 1 }
	ctx := context.Background()

	l.Trace(ctx, time.Now(), fc, nil)
	assert.Zero(t, logs.Len(), "fast query at warn level is not logged")

	l.Trace(ctx, time.Now(), fc, gorm.ErrRecordNotFound)
	assert.Zero(t, logs.Len(), "record not found is not an error")

	l.Trace(ctx, time.Now(), fc, errors.New("boom"))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "sql failed", logs.All()[0].Message)

	l.Trace(ctx, time.Now().Add(-time.Second), fc, nil)
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "slow sql", logs.All()[1].Message)

	verbose := l.LogMode(gormlogger.Info)
	verbose.Trace(ctx, time.Now(), fc, nil)
	assert.Equal(t, 3, logs.Len())

	silent := l.LogMode(gormlogger.Silent)
	silent.Trace(ctx, time.Now(), fc, errors.New("boom"))
	silent.Error(ctx, "x %d", 1)
	assert.Equal(t, 3, logs.Len())

	// LogMode 返回副本
	l.Info(ctx, "hidden %s", "info")
	assert.Equal(t, 3, logs.Len())
	verbose.Info(ctx, "shown %s", "info")
	assert.Equal(t, "shown info", logs.All()[3].Message)
}
