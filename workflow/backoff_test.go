package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/campaignflow/config"
)

func TestBackoffPolicy_Delay(t *testing.T) {
	p := BackoffPolicy{Base: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{10, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.retry), "retry %d", tt.retry)
	}

	assert.Zero(t, BackoffPolicy{}.Delay(3))
	assert.Equal(t, 100*time.Millisecond, BackoffPolicy{Base: 100 * time.Millisecond, Multiplier: 0.5}.Delay(4))
}

func TestBackoffPolicy_JitterBounds(t *testing.T) {
	p := BackoffPolicy{Base: 100 * time.Millisecond, Max: time.Second, Multiplier: 2, Jitter: true}
	for i := 0; i < 200; i++ {
		d := p.Delay(3)
		assert.GreaterOrEqual(t, d, 300*time.Millisecond)
		assert.LessOrEqual(t, d, 500*time.Millisecond)

		first := p.Delay(1)
		assert.GreaterOrEqual(t, first, 100*time.Millisecond)
		assert.LessOrEqual(t, first, 125*time.Millisecond)
	}
}

func TestBackoffFromConfig(t *testing.T) {
	cfg := config.DefaultOrchestratorConfig()
	p := BackoffFromConfig(cfg)
	assert.Equal(t, cfg.BackoffBase, p.Base)
	assert.Equal(t, cfg.BackoffMax, p.Max)
	assert.Equal(t, cfg.BackoffMultiplier, p.Multiplier)
	assert.Equal(t, cfg.BackoffJitter, p.Jitter)
}
