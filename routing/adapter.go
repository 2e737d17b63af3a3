package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/BaSui01/campaignflow/types"
)

// VendorRequest 下发给供应商适配器的一次调用
type VendorRequest struct {
	VendorID    string         `json:"vendor_id"`
	Capability  Capability     `json:"capability"`
	QualityTier QualityTier    `json:"quality_tier"`
	Resolution  string         `json:"resolution,omitempty"`
	Payload     map[string]any `json:"payload"`
}

// VendorResponse 供应商返回结果，Cost 为 0 时使用估算成本
type VendorResponse struct {
	Output map[string]any `json:"output"`
	Cost   float64        `json:"cost,omitempty"`
}

// ServiceAdapter 供应商调用契约，具体 HTTP 客户端由实现方提供
type ServiceAdapter interface {
	Invoke(ctx context.Context, req *VendorRequest) (*VendorResponse, error)
	HealthCheck(ctx context.Context) error
}

// AdapterFunc 将普通函数适配为 ServiceAdapter，健康检查总是成功
type AdapterFunc func(ctx context.Context, req *VendorRequest) (*VendorResponse, error)

func (f AdapterFunc) Invoke(ctx context.Context, req *VendorRequest) (*VendorResponse, error) {
	return f(ctx, req)
}

func (f AdapterFunc) HealthCheck(context.Context) error { return nil }

// AdapterFactory 根据供应商声明构造适配器
type AdapterFactory func(p VendorProfile, apiKey string, rps float64) (ServiceAdapter, error)

// =============================================================================
// HTTP JSON 适配器
// =============================================================================

// HTTPAdapter 以 JSON over HTTP 调用供应商网关
type HTTPAdapter struct {
	endpoint   string
	healthPath string
	apiKey     string
	client     *http.Client
	limiter    *rate.Limiter
}

// HTTPAdapterOption configures an HTTPAdapter
type HTTPAdapterOption func(*HTTPAdapter)

// WithHTTPClient 替换默认 http.Client
func WithHTTPClient(c *http.Client) HTTPAdapterOption {
	return func(a *HTTPAdapter) { a.client = c }
}

// WithHealthPath 设置健康检查路径，默认 /health
func WithHealthPath(path string) HTTPAdapterOption {
	return func(a *HTTPAdapter) { a.healthPath = path }
}

// WithAPIKey 设置 Bearer 凭证
func WithAPIKey(key string) HTTPAdapterOption {
	return func(a *HTTPAdapter) { a.apiKey = key }
}

// WithRateLimit 限制每秒调用次数，rps <= 0 表示不限制
func WithRateLimit(rps float64, burst int) HTTPAdapterOption {
	return func(a *HTTPAdapter) {
		if rps <= 0 {
			a.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewHTTPAdapter 创建 HTTP 适配器
func NewHTTPAdapter(endpoint string, opts ...HTTPAdapterOption) (*HTTPAdapter, error) {
	if endpoint == "" {
		return nil, invalidRequest("vendor endpoint is required")
	}
	a := &HTTPAdapter{
		endpoint:   strings.TrimRight(endpoint, "/"),
		healthPath: "/health",
		client:     &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// HTTPAdapterFactory 为带 endpoint 的供应商构造 HTTPAdapter
func HTTPAdapterFactory(client *http.Client) AdapterFactory {
	return func(p VendorProfile, apiKey string, rps float64) (ServiceAdapter, error) {
		opts := []HTTPAdapterOption{WithAPIKey(apiKey), WithRateLimit(rps, int(rps)+1)}
		if client != nil {
			opts = append(opts, WithHTTPClient(client))
		}
		return NewHTTPAdapter(p.Endpoint, opts...)
	}
}

// Invoke 发送 POST {endpoint}/invoke
func (a *HTTPAdapter) Invoke(ctx context.Context, req *VendorRequest) (*VendorResponse, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal vendor request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/invoke", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build vendor request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrVendorCall, "vendor request failed").
			WithVendor(req.VendorID).WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read vendor response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, types.NewError(types.ErrVendorCall, fmt.Sprintf("vendor returned %d: %s", resp.StatusCode, truncate(string(data), 256))).
			WithVendor(req.VendorID).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500)
	}

	var out VendorResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode vendor response: %w", err)
	}
	return &out, nil
}

// HealthCheck 发送 GET {endpoint}{healthPath}
func (a *HTTPAdapter) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+a.healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
