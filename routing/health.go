package routing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthChecker 周期性探活供应商适配器，结果平滑写入观测可用性
type HealthChecker struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(registry *Registry, interval, timeout time.Duration, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HealthChecker{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "vendor_health")),
		stopCh:   make(chan struct{}),
	}
}

// Start 阻塞运行，直到 ctx 结束或调用 Stop
func (h *HealthChecker) Start(ctx context.Context) {
	if h.interval <= 0 {
		h.logger.Info("vendor health checks disabled")
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.CheckAll(ctx)
		}
	}
}

// Stop 停止健康检查
func (h *HealthChecker) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// CheckAll 探活全部已注册供应商
func (h *HealthChecker) CheckAll(ctx context.Context) {
	vendors, err := h.registry.List(ctx)
	if err != nil {
		h.logger.Warn("vendor health check skipped", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for _, p := range vendors {
		if !p.Enabled {
			continue
		}
		adapter, ok := h.registry.Adapter(p.ID)
		if !ok {
			continue
		}

		wg.Add(1)
		go func(id string, adapter ServiceAdapter) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			err := adapter.HealthCheck(probeCtx)
			h.registry.RecordHealth(id, err == nil, err)
			if err != nil {
				h.logger.Warn("vendor health check failed", zap.String("vendor", id), zap.Error(err))
			}
		}(p.ID, adapter)
	}
	wg.Wait()
}
