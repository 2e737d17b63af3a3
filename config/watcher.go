// 供应商清单文件变更监听器实现。
//
// 基于轮询检测修改时间与内容摘要，防抖后解析清单并触发回调。
package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 监听器类型定义 ---

// VendorsWatcher 监听供应商清单文件，变更后回调解析结果
type VendorsWatcher struct {
	mu sync.Mutex

	path          string
	pollInterval  time.Duration
	debounceDelay time.Duration

	running  bool
	stopChan chan struct{}
	doneChan chan struct{}

	callbacks []func([]VendorConfig)
	logger    *zap.Logger

	lastModTime time.Time
	lastDigest  [sha256.Size]byte
}

// WatcherOption configures the VendorsWatcher
type WatcherOption func(*VendorsWatcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *VendorsWatcher) {
		w.pollInterval = d
	}
}

// WithDebounceDelay sets the debounce delay for file changes
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *VendorsWatcher) {
		w.debounceDelay = d
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *VendorsWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewVendorsWatcher 创建供应商清单监听器
func NewVendorsWatcher(path string, opts ...WatcherOption) (*VendorsWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("vendors file path is required")
	}
	w := &VendorsWatcher{
		path:          path,
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "vendors_watcher"))

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
		}
		w.logger.Warn("vendors file does not exist, will watch for creation", zap.String("path", path))
	}
	return w, nil
}

// OnChange 注册变更回调
func (w *VendorsWatcher) OnChange(callback func([]VendorConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start 开始轮询，当前文件内容作为基线不触发回调
func (w *VendorsWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.stopChan = make(chan struct{})
	w.doneChan = make(chan struct{})
	if info, err := os.Stat(w.path); err == nil {
		w.lastModTime = info.ModTime()
		if data, err := os.ReadFile(w.path); err == nil {
			w.lastDigest = sha256.Sum256(data)
		}
	}
	w.mu.Unlock()

	go w.pollLoop(ctx)

	w.logger.Info("vendors watcher started",
		zap.String("path", w.path),
		zap.Duration("poll_interval", w.pollInterval))
	return nil
}

// Stop 停止监听并等待轮询协程退出
func (w *VendorsWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopChan)
	done := w.doneChan
	w.mu.Unlock()

	<-done
	w.logger.Info("vendors watcher stopped")
}

// IsRunning returns whether the watcher is running
func (w *VendorsWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *VendorsWatcher) pollLoop(ctx context.Context) {
	defer close(w.doneChan)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var pendingSince time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			if w.changed() && pendingSince.IsZero() {
				pendingSince = time.Now()
			}
			if !pendingSince.IsZero() && time.Since(pendingSince) >= w.debounceDelay {
				pendingSince = time.Time{}
				w.reload()
			}
		}
	}
}

// changed 检查修改时间，再用内容摘要排除 touch 之类的伪变更
func (w *VendorsWatcher) changed() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !info.ModTime().After(w.lastModTime) {
		return false
	}
	w.lastModTime = info.ModTime()

	data, err := os.ReadFile(w.path)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(data)
	if digest == w.lastDigest {
		return false
	}
	w.lastDigest = digest
	return true
}

func (w *VendorsWatcher) reload() {
	vendors, err := LoadVendorsFile(w.path)
	if err != nil {
		w.logger.Error("failed to reload vendors file", zap.String("path", w.path), zap.Error(err))
		return
	}

	w.mu.Lock()
	callbacks := make([]func([]VendorConfig), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("vendors file reloaded", zap.Int("vendors", len(vendors)))
	for _, cb := range callbacks {
		cb(vendors)
	}
}
