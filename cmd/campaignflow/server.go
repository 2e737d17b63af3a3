package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/campaignflow/api/handlers"
	"github.com/BaSui01/campaignflow/config"
	"github.com/BaSui01/campaignflow/internal/cache"
	"github.com/BaSui01/campaignflow/internal/database"
	"github.com/BaSui01/campaignflow/internal/metrics"
	"github.com/BaSui01/campaignflow/internal/migration"
	"github.com/BaSui01/campaignflow/internal/server"
	"github.com/BaSui01/campaignflow/internal/telemetry"
	"github.com/BaSui01/campaignflow/internal/tlsutil"
	"github.com/BaSui01/campaignflow/routing"
	"github.com/BaSui01/campaignflow/stages"
	"github.com/BaSui01/campaignflow/workflow"
	"github.com/BaSui01/campaignflow/workflow/dsl"
	"github.com/BaSui01/campaignflow/workflow/persistence"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// ServerOptions serve 命令行开关
type ServerOptions struct {
	// 启动前执行数据库迁移（database 检查点后端）
	AutoMigrate bool
}

// Server 持有全部组件，Build 组装、Run 运行、Close 释放
type Server struct {
	cfg    *config.Config
	opts   ServerOptions
	logger *zap.Logger

	telemetry *telemetry.Providers
	collector *metrics.Collector

	cache       *cache.Manager
	pool        *database.PoolManager
	mongoClient *mongo.Client

	registry      *routing.Registry
	router        *routing.Router
	healthChecker *routing.HealthChecker
	watcher       *config.VendorsWatcher
	orchestrator  *workflow.Orchestrator

	httpManager    *server.Manager
	metricsManager *server.Manager

	streamCtx    context.Context
	streamCancel context.CancelFunc

	closeOnce sync.Once
}

// NewServer 创建服务器；组件在 Build 中创建
func NewServer(cfg *config.Config, logger *zap.Logger, opts ServerOptions) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, opts: opts, logger: logger}
}

// =============================================================================
// 🔧 组装
// =============================================================================

// Build 按依赖顺序创建组件：遥测 → 指标 → 存储连接 → 路由 → 编排器 → HTTP
func (s *Server) Build(ctx context.Context) error {
	var err error
	if s.telemetry, err = telemetry.Init(ctx, s.cfg.Telemetry, s.logger); err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	s.collector = metrics.NewCollector("campaignflow", s.logger)

	if err := s.connectBackends(ctx); err != nil {
		return err
	}
	if err := s.buildRouter(ctx); err != nil {
		return err
	}
	if err := s.buildOrchestrator(ctx); err != nil {
		return err
	}
	s.buildHTTP()
	return nil
}

// connectBackends 只连接配置实际用到的后端
func (s *Server) connectBackends(ctx context.Context) error {
	backend := strings.ToLower(s.cfg.Checkpoint.Backend)

	if backend == "redis" || strings.EqualFold(s.cfg.Router.QuotaBackend, "redis") {
		cc := cache.DefaultConfig()
		cc.Addr = s.cfg.Redis.Addr
		cc.Password = s.cfg.Redis.Password
		cc.DB = s.cfg.Redis.DB
		if s.cfg.Redis.PoolSize > 0 {
			cc.PoolSize = s.cfg.Redis.PoolSize
		}
		cc.MinIdleConns = s.cfg.Redis.MinIdleConns
		c, err := cache.NewManager(cc, s.logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		s.cache = c
	}

	if backend == "database" {
		if s.opts.AutoMigrate {
			if err := s.migrate(ctx); err != nil {
				return err
			}
		}
		db, err := database.Open(s.cfg.Database, s.logger)
		if err != nil {
			return err
		}
		pool, err := database.NewPoolManager(db, database.PoolConfigFrom(s.cfg.Database), s.logger,
			database.WithStatsRecorder(s.collector),
			database.WithName(s.cfg.Database.Name))
		if err != nil {
			return fmt.Errorf("init database pool: %w", err)
		}
		s.pool = pool
	}

	if backend == "mongo" {
		client, err := persistence.ConnectMongo(ctx, s.cfg.Mongo)
		if err != nil {
			return err
		}
		s.mongoClient = client
	}
	return nil
}

func (s *Server) migrate(ctx context.Context) error {
	m, err := migration.NewMigratorFromConfig(s.cfg.Database, s.logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()
	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	s.logger.Info("database migrations applied")
	return nil
}

// buildRouter 注册供应商并创建路由器与健康检查
func (s *Server) buildRouter(ctx context.Context) error {
	var quota routing.QuotaCounter = routing.NewMemoryQuotaCounter()
	if strings.EqualFold(s.cfg.Router.QuotaBackend, "redis") {
		quota = routing.NewRedisQuotaCounter(s.cache, "")
	}

	s.registry = routing.NewRegistry(quota,
		routing.WithSmoothing(s.cfg.Router.SuccessRateAlpha, s.cfg.Router.LatencyAlpha),
		routing.WithRegistryLogger(s.logger))

	vendors, err := s.vendorConfigs(nil)
	if err != nil {
		return err
	}
	if err := s.registry.Sync(ctx, vendors, s.adapterFactory()); err != nil {
		return fmt.Errorf("register vendors: %w", err)
	}

	s.router = routing.NewRouter(s.registry, routing.OptionsFromConfig(s.cfg.Router),
		routing.WithMetrics(s.collector),
		routing.WithLogger(s.logger))
	s.healthChecker = routing.NewHealthChecker(s.registry,
		s.cfg.Router.HealthCheckInterval, s.cfg.Router.HealthCheckTimeout, s.logger)

	if s.cfg.VendorsFile != "" {
		w, err := config.NewVendorsWatcher(s.cfg.VendorsFile, config.WithWatcherLogger(s.logger))
		if err != nil {
			return fmt.Errorf("watch vendors file: %w", err)
		}
		w.OnChange(s.reloadVendors)
		s.watcher = w
	}
	return nil
}

func (s *Server) adapterFactory() routing.AdapterFactory {
	return routing.HTTPAdapterFactory(tlsutil.VendorHTTPClient(s.cfg.Router.AdapterTimeout))
}

// vendorConfigs 合并内联配置与供应商文件；fromFile 非 nil 时使用热更新后的文件内容
func (s *Server) vendorConfigs(fromFile []config.VendorConfig) ([]config.VendorConfig, error) {
	vendors := append([]config.VendorConfig(nil), s.cfg.Vendors...)
	if fromFile == nil && s.cfg.VendorsFile != "" {
		loaded, err := config.LoadVendorsFile(s.cfg.VendorsFile)
		if err != nil {
			return nil, fmt.Errorf("load vendors file: %w", err)
		}
		fromFile = loaded
	}
	return append(vendors, fromFile...), nil
}

func (s *Server) reloadVendors(fromFile []config.VendorConfig) {
	vendors, err := s.vendorConfigs(fromFile)
	if err != nil {
		s.logger.Error("vendors reload failed", zap.Error(err))
		return
	}
	if err := s.registry.Sync(context.Background(), vendors, s.adapterFactory()); err != nil {
		s.logger.Error("vendors reload failed", zap.Error(err))
		return
	}
	s.logger.Info("vendors reloaded", zap.Int("vendors", len(vendors)))
}

// buildOrchestrator 创建检查点存储、编排器、阶段处理器与图
func (s *Server) buildOrchestrator(ctx context.Context) error {
	backends := persistence.Backends{Cache: s.cache}
	if s.pool != nil {
		backends.DB = s.pool.DB()
	}
	if s.mongoClient != nil {
		backends.Mongo = s.mongoClient.Database(s.cfg.Mongo.Database)
	}
	store, err := persistence.NewStore(s.cfg.Checkpoint, backends, s.logger)
	if err != nil {
		return fmt.Errorf("init checkpoint store: %w", err)
	}
	if ms, ok := store.(*persistence.MongoStore); ok {
		if err := ms.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("ensure checkpoint indexes: %w", err)
		}
	}

	s.orchestrator = workflow.NewOrchestrator(s.cfg.Orchestrator,
		workflow.WithCheckpointStore(store),
		workflow.WithMetrics(s.collector),
		workflow.WithLogger(s.logger))

	handlerRegistry := workflow.NewHandlerRegistry()
	opts := stages.DefaultOptions()
	opts.Logger = s.logger
	set := stages.New(s.router, stages.NewLogPublisher(s.logger), opts)
	if err := set.Register(handlerRegistry); err != nil {
		return err
	}

	campaign, err := set.CampaignGraph()
	if err != nil {
		return fmt.Errorf("build campaign graph: %w", err)
	}
	graphs := []*workflow.ExecutableGraph{campaign}
	if s.cfg.GraphsDir != "" {
		loaded, err := dsl.NewParser(handlerRegistry, s.logger).LoadDir(s.cfg.GraphsDir)
		if err != nil {
			return fmt.Errorf("load graphs: %w", err)
		}
		graphs = append(graphs, loaded...)
	}
	for _, g := range graphs {
		if err := s.orchestrator.RegisterGraph(g); err != nil {
			return err
		}
	}

	if s.cfg.Orchestrator.RecoverOnStart {
		n, err := s.orchestrator.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recover workflows: %w", err)
		}
		s.logger.Info("workflows recovered", zap.Int("count", n))
	}
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) buildHTTP() {
	health := handlers.NewHealthHandler(s.logger)
	if s.cache != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", s.cache.Ping))
	}
	if s.pool != nil {
		health.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	}
	if s.mongoClient != nil {
		health.RegisterCheck(handlers.NewPingCheck("mongo", func(ctx context.Context) error {
			return s.mongoClient.Ping(ctx, nil)
		}))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	handlers.NewWorkflowHandler(s.orchestrator, s.logger).Register(mux)
	handlers.NewVendorHandler(s.registry, s.router, s.logger).Register(mux)

	// 事件流连接被劫持后不受 http.Server.Shutdown 管理，关闭时统一取消
	s.streamCtx, s.streamCancel = context.WithCancel(context.Background())
	events := http.NewServeMux()
	handlers.NewEventsHandler(s.orchestrator.Events(), s.logger).Register(events)
	mux.Handle("GET /api/v1/workflows/events", withLifetime(s.streamCtx, events))

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		RateLimiter(s.streamCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)

	s.httpManager = server.NewManager(handler, server.FromServerConfig(s.cfg.Server), s.logger)
	s.httpManager.RegisterOnShutdown(s.streamCancel)

	if s.cfg.Server.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", promhttp.Handler())
		mc := server.DefaultConfig()
		mc.Addr = fmt.Sprintf(":%d", s.cfg.Server.MetricsPort)
		s.metricsManager = server.NewManager(metricsMux, mc, s.logger)
	}
}

// withLifetime 请求上下文在 lifetime 结束时同样取消
func withLifetime(lifetime context.Context, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		stop := context.AfterFunc(lifetime, cancel)
		defer stop()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// Run 阻塞运行全部后台任务，ctx 结束或任一任务失败后关闭
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.httpManager.Run(gctx) })
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.Run(gctx) })
	}
	if s.pool != nil {
		g.Go(func() error { return s.pool.Run(gctx) })
	}
	g.Go(func() error {
		s.healthChecker.Start(gctx)
		return nil
	})
	if s.watcher != nil {
		g.Go(func() error {
			if err := s.watcher.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			s.watcher.Stop()
			return nil
		})
	}

	s.logger.Info("CampaignFlow started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Strings("graphs", s.orchestrator.Graphs()),
		zap.String("checkpoint_backend", s.cfg.Checkpoint.Backend))

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	closeErr := s.Close(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return closeErr
}

// Close 停止编排器并释放连接；可重复调用，也可用于 Build 失败后的清理
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	s.closeOnce.Do(func() {
		s.logger.Info("Starting graceful shutdown...")
		if s.streamCancel != nil {
			s.streamCancel()
		}
		if s.healthChecker != nil {
			s.healthChecker.Stop()
		}
		if s.orchestrator != nil {
			if err := s.orchestrator.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("orchestrator shutdown: %w", err))
			}
		}
		if s.telemetry != nil {
			if err := s.telemetry.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
			}
		}
		if s.cache != nil {
			if err := s.cache.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close redis: %w", err))
			}
		}
		if s.pool != nil {
			if err := s.pool.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close database: %w", err))
			}
		}
		if s.mongoClient != nil {
			if err := s.mongoClient.Disconnect(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close mongo: %w", err))
			}
		}
		s.logger.Info("Graceful shutdown completed")
	})
	return errors.Join(errs...)
}
