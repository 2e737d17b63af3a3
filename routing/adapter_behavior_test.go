package routing_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/campaignflow/routing"
	"github.com/BaSui01/campaignflow/testutil"
	"github.com/BaSui01/campaignflow/testutil/fixtures"
	"github.com/BaSui01/campaignflow/testutil/mocks"
)

func imageRequest() *routing.RoutingRequest {
	return &routing.RoutingRequest{Capability: routing.CapabilityImage, QualityTier: routing.QualityHigh}
}

func TestHealthChecker_FailedCheckTakesVendorOutOfRotation(t *testing.T) {
	ctx := testutil.TestContext(t)
	down := mocks.NewMockAdapter().WithHealthError(errors.New("GET /health: 503"))
	reg := fixtures.NewRegistry(t,
		fixtures.With(fixtures.ImageVendor("img-hq", 9), down),
		fixtures.With(fixtures.ImageVendor("img-fast", 5), mocks.NewMockAdapter()),
	)

	routing.NewHealthChecker(reg, time.Minute, time.Second, nil).CheckAll(ctx)

	hq, err := reg.Get(ctx, "img-hq")
	require.NoError(t, err)
	assert.Less(t, hq.Observed.Availability, hq.SLA.Availability)
	assert.Equal(t, "GET /health: 503", hq.Observed.LastError)

	decision, err := routing.NewRouter(reg, routing.DefaultOptions()).Route(ctx, imageRequest())
	require.NoError(t, err)
	assert.Equal(t, "img-fast", decision.SelectedVendor)
	assert.Empty(t, decision.FallbackVendors)
	assert.Zero(t, down.CallCount())
}

func TestRouter_Execute_TransientFailureFallsBackOnce(t *testing.T) {
	ctx := testutil.TestContext(t)
	flaky := mocks.NewMockAdapter().
		WithFailTimes(1, errors.New("upstream 502")).
		WithOutput(map[string]any{"url": "s3://assets/hq.png"})
	steady := mocks.NewMockAdapter().WithOutput(map[string]any{"url": "s3://assets/fast.png"})
	router := fixtures.NewRouter(t,
		fixtures.With(fixtures.ImageVendor("img-hq", 9), flaky),
		fixtures.With(fixtures.ImageVendor("img-fast", 5), steady),
	)

	decision, err := router.Route(ctx, imageRequest())
	require.NoError(t, err)
	require.Equal(t, "img-hq", decision.SelectedVendor)

	first, err := router.Execute(ctx, decision, map[string]any{"prompt": "trail runner at dawn"})
	require.NoError(t, err)
	assert.Equal(t, "img-fast", first.VendorUsed)
	require.Len(t, first.Attempts, 2)
	assert.Equal(t, "upstream 502", first.Attempts[0].Error)

	// 第二次调用主供应商已恢复
	second, err := router.Execute(ctx, decision, map[string]any{"prompt": "trail runner at dusk"})
	require.NoError(t, err)
	assert.Equal(t, "img-hq", second.VendorUsed)
	assert.Equal(t, "s3://assets/hq.png", second.Output["url"])
	assert.Equal(t, 2, flaky.CallCount())
	assert.Equal(t, 1, steady.CallCount())
	assert.Equal(t, "trail runner at dusk", flaky.Calls()[1].Payload["prompt"])
}

func TestRouter_Execute_SlowVendorHitsAdapterTimeout(t *testing.T) {
	ctx := testutil.TestContext(t)
	slow := mocks.NewMockAdapter().WithDelay(time.Second)
	fast := mocks.NewMockAdapter().WithCost(0.04)

	opts := routing.DefaultOptions()
	opts.AdapterTimeout = 20 * time.Millisecond
	router := routing.NewRouter(fixtures.NewRegistry(t,
		fixtures.With(fixtures.ImageVendor("img-slow", 9), slow),
		fixtures.With(fixtures.ImageVendor("img-fast", 5), fast),
	), opts)

	decision, err := router.Route(ctx, imageRequest())
	require.NoError(t, err)
	require.Equal(t, "img-slow", decision.SelectedVendor)

	start := time.Now()
	result, err := router.Execute(ctx, decision, nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, "img-fast", result.VendorUsed)
	assert.InDelta(t, 0.04, result.Cost, 1e-9)
	assert.Contains(t, result.Attempts[0].Error, "deadline exceeded")
}
