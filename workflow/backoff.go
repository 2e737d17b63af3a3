package workflow

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/BaSui01/campaignflow/config"
)

// BackoffPolicy 节点重试的指数退避参数
type BackoffPolicy struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool
}

// BackoffFromConfig 从编排器配置构造退避参数
func BackoffFromConfig(cfg config.OrchestratorConfig) BackoffPolicy {
	return BackoffPolicy{
		Base:       cfg.BackoffBase,
		Max:        cfg.BackoffMax,
		Multiplier: cfg.BackoffMultiplier,
		Jitter:     cfg.BackoffJitter,
	}
}

// Delay 第 retry 次重试（从 1 开始）前的等待时间：
// base * multiplier^(retry-1)，不超过 max，开启抖动时 ±25% 且不低于 base
func (p BackoffPolicy) Delay(retry int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if retry < 1 {
		retry = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(p.Base) * math.Pow(mult, float64(retry-1))
	if p.Max > 0 && delay > float64(p.Max) {
		delay = float64(p.Max)
	}

	if p.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}

	if delay < float64(p.Base) {
		delay = float64(p.Base)
	}
	return time.Duration(delay)
}
