// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时实现 workflow.MetricsRecorder 与 routing.MetricsRecorder
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 工作流指标
	workflowsStarted      *prometheus.CounterVec
	workflowsFinished     *prometheus.CounterVec
	workflowDuration      *prometheus.HistogramVec
	workflowsActive       prometheus.Gauge
	nodeExecutionsTotal   *prometheus.CounterVec
	nodeExecutionDuration *prometheus.HistogramVec
	nodeRetriesTotal      *prometheus.CounterVec

	// 路由指标
	routingDecisions   *prometheus.CounterVec
	routingEligible    *prometheus.HistogramVec
	routingFailures    *prometheus.CounterVec
	vendorCallsTotal   *prometheus.CounterVec
	vendorCallDuration *prometheus.HistogramVec
	vendorCost         *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，使用默认 Registerer
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWith 在指定 Registerer 上注册指标
func NewCollectorWith(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 工作流指标
	c.workflowsStarted = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_started_total",
			Help:      "Total number of workflow runs started, including resumes",
		},
		[]string{"graph"},
	)

	c.workflowsFinished = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_finished_total",
			Help:      "Total number of workflow runs that stopped, by resulting status",
		},
		[]string{"graph", "status"},
	)

	c.workflowDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "Duration of a workflow run segment in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
		},
		[]string{"graph", "status"},
	)

	c.workflowsActive = f.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflows_active",
			Help:      "Number of workflow runs currently executing",
		},
	)

	c.nodeExecutionsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Total number of stage handler executions",
		},
		[]string{"graph", "node", "status"},
	)

	c.nodeExecutionDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_execution_duration_seconds",
			Help:      "Stage handler execution duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"graph", "node"},
	)

	c.nodeRetriesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_retries_total",
			Help:      "Total number of node retries, including loop-back re-entries",
		},
		[]string{"graph", "node"},
	)

	// 路由指标
	c.routingDecisions = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Total number of routing decisions by selected vendor",
		},
		[]string{"capability", "vendor"},
	)

	c.routingEligible = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "routing_eligible_vendors",
			Help:      "Number of vendors that passed filtering per routing decision",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		},
		[]string{"capability"},
	)

	c.routingFailures = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_failures_total",
			Help:      "Total number of routing failures by reason",
		},
		[]string{"capability", "reason"},
	)

	c.vendorCallsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vendor_calls_total",
			Help:      "Total number of vendor adapter calls",
		},
		[]string{"vendor", "capability", "status"},
	)

	c.vendorCallDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vendor_call_duration_seconds",
			Help:      "Vendor adapter call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"vendor", "capability"},
	)

	c.vendorCost = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vendor_cost_total",
			Help:      "Total cost of successful vendor calls in USD",
		},
		[]string{"vendor", "capability"},
	)

	// 数据库指标
	c.dbConnectionsOpen = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔄 工作流指标记录
// =============================================================================

// RecordWorkflowStarted 一次运行开始（新建或恢复）
func (c *Collector) RecordWorkflowStarted(graphID string) {
	c.workflowsStarted.WithLabelValues(graphID).Inc()
}

// RecordWorkflowFinished 一次运行结束，status 为结束时的实例状态
func (c *Collector) RecordWorkflowFinished(graphID, status string, duration time.Duration) {
	c.workflowsFinished.WithLabelValues(graphID, status).Inc()
	c.workflowDuration.WithLabelValues(graphID, status).Observe(duration.Seconds())
}

// RecordNodeExecution 记录节点处理器执行
func (c *Collector) RecordNodeExecution(graphID, nodeID, status string, duration time.Duration) {
	c.nodeExecutionsTotal.WithLabelValues(graphID, nodeID, status).Inc()
	c.nodeExecutionDuration.WithLabelValues(graphID, nodeID).Observe(duration.Seconds())
}

// RecordNodeRetry 记录节点重试
func (c *Collector) RecordNodeRetry(graphID, nodeID string) {
	c.nodeRetriesTotal.WithLabelValues(graphID, nodeID).Inc()
}

// RecordActiveWorkflows 调整活跃运行数
func (c *Collector) RecordActiveWorkflows(delta int) {
	c.workflowsActive.Add(float64(delta))
}

// =============================================================================
// 🧭 路由指标记录
// =============================================================================

// RecordRoutingDecision 记录路由决策
func (c *Collector) RecordRoutingDecision(capability, vendorID string, eligible int) {
	c.routingDecisions.WithLabelValues(capability, vendorID).Inc()
	c.routingEligible.WithLabelValues(capability).Observe(float64(eligible))
}

// RecordRoutingFailure 记录路由失败（no_eligible_vendor / all_vendors_failed）
func (c *Collector) RecordRoutingFailure(capability, reason string) {
	c.routingFailures.WithLabelValues(capability, reason).Inc()
}

// RecordVendorCall 记录一次供应商调用
func (c *Collector) RecordVendorCall(vendorID, capability, status string, duration time.Duration, cost float64) {
	c.vendorCallsTotal.WithLabelValues(vendorID, capability, status).Inc()
	c.vendorCallDuration.WithLabelValues(vendorID, capability).Observe(duration.Seconds())
	if cost > 0 {
		c.vendorCost.WithLabelValues(vendorID, capability).Add(cost)
	}
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码归类
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return strconv.Itoa(code)
	}
}
