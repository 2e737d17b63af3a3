package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHealthChecker_CheckAll(t *testing.T) {
	reg := NewRegistry(nil, WithSmoothing(0.5, 0.2))
	ctx := context.Background()

	up := testProfile("up", 0.1, 5)
	down := testProfile("down", 0.1, 5)
	off := testProfile("off", 0.1, 5)
	off.Enabled = false

	offAdapter := &stubAdapter{healthErr: errors.New("should not be probed")}
	require.NoError(t, reg.Register(ctx, up, &stubAdapter{}))
	require.NoError(t, reg.Register(ctx, down, &stubAdapter{healthErr: errors.New("connection refused")}))
	require.NoError(t, reg.Register(ctx, off, offAdapter))

	hc := NewHealthChecker(reg, time.Minute, time.Second, zap.NewNop())
	hc.CheckAll(ctx)

	gotUp, _ := reg.Get(ctx, "up")
	gotDown, _ := reg.Get(ctx, "down")
	gotOff, _ := reg.Get(ctx, "off")

	assert.InDelta(t, 0.95, gotUp.Observed.Availability, 1e-9)
	assert.InDelta(t, 0.45, gotDown.Observed.Availability, 1e-9)
	assert.Equal(t, "connection refused", gotDown.Observed.LastError)
	assert.InDelta(t, 0.9, gotOff.Observed.Availability, 1e-9)

	// 可用性跌破 SLA 下限后不再参与路由
	router := NewRouter(reg, DefaultOptions())
	decision, err := router.Route(ctx, imageRequest())
	require.NoError(t, err)
	assert.Equal(t, "up", decision.SelectedVendor)
	assert.Empty(t, decision.FallbackVendors)
}

func TestHealthChecker_StartStop(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(context.Background(), testProfile("a", 0.1, 5), &stubAdapter{}))

	hc := NewHealthChecker(reg, 10*time.Millisecond, time.Second, nil)
	done := make(chan struct{})
	go func() {
		hc.Start(context.Background())
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	hc.Stop()
	hc.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("health checker did not stop")
	}
}

func TestHealthChecker_DisabledInterval(t *testing.T) {
	hc := NewHealthChecker(NewRegistry(nil), 0, 0, nil)
	done := make(chan struct{})
	go func() {
		hc.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start should return immediately when interval is zero")
	}
}
