package handlers

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/campaignflow/workflow"
)

// =============================================================================
// 📡 工作流事件流（WebSocket）
// =============================================================================

// EventSubscriber 事件订阅源，由 workflow.EventBus 实现
type EventSubscriber interface {
	Subscribe(workflowID string) (<-chan workflow.Event, func())
}

var _ EventSubscriber = (*workflow.EventBus)(nil)

// EventsHandler 把事件总线转发到 WebSocket 客户端
type EventsHandler struct {
	bus            EventSubscriber
	originPatterns []string
	writeTimeout   time.Duration
	pingInterval   time.Duration
	logger         *zap.Logger
}

// EventsOption 配置 EventsHandler
type EventsOption func(*EventsHandler)

// WithOriginPatterns 允许跨域连接的 Origin 模式
func WithOriginPatterns(patterns ...string) EventsOption {
	return func(h *EventsHandler) { h.originPatterns = patterns }
}

// WithPingInterval 心跳间隔，<= 0 关闭心跳
func WithPingInterval(d time.Duration) EventsOption {
	return func(h *EventsHandler) { h.pingInterval = d }
}

// NewEventsHandler 创建事件流处理器
func NewEventsHandler(bus EventSubscriber, logger *zap.Logger, opts ...EventsOption) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &EventsHandler{
		bus:          bus,
		writeTimeout: 10 * time.Second,
		pingInterval: 30 * time.Second,
		logger:       logger.With(zap.String("component", "events_handler")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register 挂载路由
func (h *EventsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/workflows/events", h.HandleEvents)
}

// HandleEvents GET /api/v1/workflows/events?workflow_id=<id>&types=node_completed,workflow_failed
//
// 每条事件作为一个 JSON 文本帧发送。客户端只读，发来的数据帧会导致连接关闭。
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	workflowID := query.Get("workflow_id")
	filter := parseEventTypes(query.Get("types"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	events, cancel := h.bus.Subscribe(workflowID)
	defer cancel()

	logger := h.logger.With(
		zap.String("workflow_id", workflowID),
		zap.String("request_id", requestID(r)))
	logger.Debug("event stream opened")

	var ping <-chan time.Time
	if h.pingInterval > 0 {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug("event stream closed by peer", zap.Error(context.Cause(ctx)))
			return
		case <-ping:
			if err := h.withTimeout(ctx, conn.Ping); err != nil {
				logger.Debug("event stream ping failed", zap.Error(err))
				return
			}
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "event bus closed")
				return
			}
			if len(filter) > 0 && !slices.Contains(filter, ev.Type) {
				continue
			}
			err := h.withTimeout(ctx, func(ctx context.Context) error {
				return wsjson.Write(ctx, conn, ev)
			})
			if err != nil {
				logger.Debug("event stream write failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *EventsHandler) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return fn(ctx)
}

func parseEventTypes(raw string) []workflow.EventType {
	if raw == "" {
		return nil
	}
	var out []workflow.EventType
	for _, part := range strings.Split(raw, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, workflow.EventType(t))
		}
	}
	return out
}
