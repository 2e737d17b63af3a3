// =============================================================================
// 📦 CampaignFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("CAMPAIGNFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 CampaignFlow 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Orchestrator 工作流编排器配置
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`

	// Router 供应商路由配置
	Router RouterConfig `yaml:"router" env:"ROUTER"`

	// Checkpoint 检查点存储配置
	Checkpoint CheckpointConfig `yaml:"checkpoint" env:"CHECKPOINT"`

	// Redis 缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Mongo 文档存储配置
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Vendors 启动时注册的供应商（仅 YAML）
	Vendors []VendorConfig `yaml:"vendors" env:"-"`

	// VendorsFile 可热加载的供应商清单文件
	VendorsFile string `yaml:"vendors_file" env:"VENDORS_FILE"`

	// GraphsDir 声明式工作流图定义目录（*.yaml / *.json）
	GraphsDir string `yaml:"graphs_dir" env:"GRAPHS_DIR"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每秒请求数限制
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求上限
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 最大并发连接数（0 表示不限制）
	MaxConnections int `yaml:"max_connections" env:"MAX_CONNECTIONS"`
}

// OrchestratorConfig 工作流编排器配置
type OrchestratorConfig struct {
	// 每个节点的最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 退避基础延迟
	BackoffBase time.Duration `yaml:"backoff_base" env:"BACKOFF_BASE"`
	// 退避最大延迟
	BackoffMax time.Duration `yaml:"backoff_max" env:"BACKOFF_MAX"`
	// 退避倍数
	BackoffMultiplier float64 `yaml:"backoff_multiplier" env:"BACKOFF_MULTIPLIER"`
	// 是否启用抖动
	BackoffJitter bool `yaml:"backoff_jitter" env:"BACKOFF_JITTER"`
	// 单个工作流总超时（0 表示不限制）
	WorkflowTimeout time.Duration `yaml:"workflow_timeout" env:"WORKFLOW_TIMEOUT"`
	// 取消后等待 Handler 返回的宽限期
	HandlerGracePeriod time.Duration `yaml:"handler_grace_period" env:"HANDLER_GRACE_PERIOD"`
	// 最大并发工作流数
	MaxConcurrentWorkflows int64 `yaml:"max_concurrent_workflows" env:"MAX_CONCURRENT_WORKFLOWS"`
	// 事件订阅者缓冲区大小
	EventBufferSize int `yaml:"event_buffer_size" env:"EVENT_BUFFER_SIZE"`
	// 事件投递重试次数
	EventSendRetries int `yaml:"event_send_retries" env:"EVENT_SEND_RETRIES"`
	// 启动时恢复 running 状态的工作流
	RecoverOnStart bool `yaml:"recover_on_start" env:"RECOVER_ON_START"`
}

// RouterConfig 供应商路由配置
type RouterConfig struct {
	// 未指定 MaxCost 时成本评分归零的上限
	CostCeiling float64 `yaml:"cost_ceiling" env:"COST_CEILING"`
	// 备选供应商数量
	MaxFallbacks int `yaml:"max_fallbacks" env:"MAX_FALLBACKS"`
	// 是否优先使用供应商声明的 fallback_chain 排序
	HonorFallbackChain bool `yaml:"honor_fallback_chain" env:"HONOR_FALLBACK_CHAIN"`
	// 成功率滑动平均系数
	SuccessRateAlpha float64 `yaml:"success_rate_alpha" env:"SUCCESS_RATE_ALPHA"`
	// 延迟滑动平均系数
	LatencyAlpha float64 `yaml:"latency_alpha" env:"LATENCY_ALPHA"`
	// 健康检查间隔（0 表示禁用）
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	// 健康检查超时
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout" env:"HEALTH_CHECK_TIMEOUT"`
	// 配额计数后端: memory, redis
	QuotaBackend string `yaml:"quota_backend" env:"QUOTA_BACKEND"`
	// 单次供应商调用超时
	AdapterTimeout time.Duration `yaml:"adapter_timeout" env:"ADAPTER_TIMEOUT"`
}

// CheckpointConfig 检查点存储配置
type CheckpointConfig struct {
	// 后端类型: memory, redis, database, mongo
	Backend string `yaml:"backend" env:"BACKEND"`
	// Redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 检查点过期时间（0 表示永久保留）
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// Mongo 集合名
	Collection string `yaml:"collection" env:"COLLECTION"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	// 连接 URI
	URI string `yaml:"uri" env:"URI"`
	// 数据库名
	Database string `yaml:"database" env:"DATABASE"`
	// 连接超时
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// VendorConfig 单个供应商的静态声明
type VendorConfig struct {
	ID                    string             `yaml:"id" json:"id"`
	Capability            string             `yaml:"capability" json:"capability"`
	Priority              int                `yaml:"priority" json:"priority"`
	CostPerRequest        float64            `yaml:"cost_per_request" json:"cost_per_request"`
	BaseLatencyMs         int64              `yaml:"base_latency_ms" json:"base_latency_ms"`
	MaxLatencyMs          int64              `yaml:"max_latency_ms" json:"max_latency_ms"`
	SuccessRate           float64            `yaml:"success_rate" json:"success_rate"`
	Availability          float64            `yaml:"availability" json:"availability"`
	DailyLimit            int64              `yaml:"daily_limit" json:"daily_limit"`
	Capabilities          []string           `yaml:"capabilities" json:"capabilities,omitempty"`
	FallbackChain         []string           `yaml:"fallback_chain" json:"fallback_chain,omitempty"`
	QualityMultipliers    map[string]float64 `yaml:"quality_multipliers" json:"quality_multipliers,omitempty"`
	ResolutionMultipliers map[string]float64 `yaml:"resolution_multipliers" json:"resolution_multipliers,omitempty"`
	Endpoint              string             `yaml:"endpoint" json:"endpoint,omitempty"`
	APIKey                string             `yaml:"api_key" json:"-"`
	RateLimitRPS          float64            `yaml:"rate_limit_rps" json:"rate_limit_rps,omitempty"`
	Disabled              bool               `yaml:"disabled" json:"disabled,omitempty"`
}

// VendorsFile 供应商清单文件的顶层结构
type VendorsFile struct {
	Vendors []VendorConfig `yaml:"vendors" json:"vendors"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CAMPAIGNFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadVendorsFile 读取供应商清单文件
func LoadVendorsFile(path string) ([]VendorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vendors file: %w", err)
	}
	var vf VendorsFile
	if err := yaml.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("failed to parse vendors file: %w", err)
	}
	if err := validateVendors(vf.Vendors); err != nil {
		return nil, err
	}
	return vf.Vendors, nil
}

var validCheckpointBackends = map[string]bool{
	"memory":   true,
	"redis":    true,
	"database": true,
	"mongo":    true,
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}

	o := c.Orchestrator
	if o.MaxRetries < 0 {
		errs = append(errs, "orchestrator.max_retries must not be negative")
	}
	if o.BackoffMultiplier < 1 {
		errs = append(errs, "orchestrator.backoff_multiplier must be >= 1")
	}
	if o.BackoffBase <= 0 || o.BackoffMax < o.BackoffBase {
		errs = append(errs, "orchestrator backoff bounds are invalid")
	}
	if o.MaxConcurrentWorkflows <= 0 {
		errs = append(errs, "orchestrator.max_concurrent_workflows must be positive")
	}

	r := c.Router
	if r.CostCeiling <= 0 {
		errs = append(errs, "router.cost_ceiling must be positive")
	}
	if r.MaxFallbacks < 0 {
		errs = append(errs, "router.max_fallbacks must not be negative")
	}
	if r.SuccessRateAlpha <= 0 || r.SuccessRateAlpha > 1 {
		errs = append(errs, "router.success_rate_alpha must be in (0, 1]")
	}
	if r.QuotaBackend != "memory" && r.QuotaBackend != "redis" {
		errs = append(errs, fmt.Sprintf("unknown router.quota_backend %q", r.QuotaBackend))
	}

	if !validCheckpointBackends[c.Checkpoint.Backend] {
		errs = append(errs, fmt.Sprintf("unknown checkpoint.backend %q", c.Checkpoint.Backend))
	}

	if err := validateVendors(c.Vendors); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateVendors 校验供应商声明
func validateVendors(vendors []VendorConfig) error {
	seen := make(map[string]bool, len(vendors))
	for _, v := range vendors {
		if v.ID == "" {
			return fmt.Errorf("vendor id is required")
		}
		if seen[v.ID] {
			return fmt.Errorf("duplicate vendor id %q", v.ID)
		}
		seen[v.ID] = true
		if v.Capability == "" {
			return fmt.Errorf("vendor %q: capability is required", v.ID)
		}
		if v.Priority < 1 || v.Priority > 10 {
			return fmt.Errorf("vendor %q: priority must be between 1 and 10", v.ID)
		}
		if v.SuccessRate < 0 || v.SuccessRate > 1 || v.Availability < 0 || v.Availability > 1 {
			return fmt.Errorf("vendor %q: success_rate and availability must be in [0, 1]", v.ID)
		}
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
