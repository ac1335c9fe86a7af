package svc

import (
	"context"
	"fmt"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"bridgesync/internal/application/port"
	"bridgesync/internal/application/service"
	"bridgesync/internal/infrastructure/bridge"
	"bridgesync/internal/infrastructure/config"
	"bridgesync/internal/infrastructure/storage/cache"
	"bridgesync/internal/infrastructure/storage/composite"
	postgresrepo "bridgesync/internal/infrastructure/storage/postgres"
	redisrepo "bridgesync/internal/infrastructure/storage/redis"
	sqliterepo "bridgesync/internal/infrastructure/storage/sqlite"
)

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	// 基础设施层（第一层初始化）
	cacheStore  *cache.Store
	redisClient *redisclient.Client
	publisher   *redisrepo.Publisher
	sqliteRepo  *sqliterepo.Repo
	pgRepo      *postgresrepo.Repo
	historyRepo port.Repository // composite over enabled backends, may be nil

	// 应用业务组件（依赖基础设施）
	router  *service.CacheRouter
	session *bridge.Session
	closer  *service.CloseService

	// 资源管理
	closerChain []func() error
}

// New 创建并初始化 ServiceContext。
// 这是应用启动的唯一入口点，所有依赖初始化都在这里完成。
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		closerChain: make([]func() error, 0),
	}

	if err := sc.initializeComponents(); err != nil {
		// 清理已初始化的资源
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

// initializeComponents 按依赖顺序初始化所有组件
func (sc *ServiceContext) initializeComponents() error {
	// 0. 存储层（最基础，被其他组件使用）
	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	// 1. 缓存 + 变更通知
	sc.cacheStore = cache.New()
	if sc.publisher != nil {
		sc.cacheStore.Subscribe(sc.publisher)
	}

	// 2. 路由器
	sc.router = service.NewCacheRouter(sc.cacheStore, sc.historyRepo)

	// 3. 连接会话
	wsURL, healthURL, err := bridge.Endpoints(sc.Config.Bridge.Origin)
	if err != nil {
		return fmt.Errorf("bridge endpoint derivation failed: %w", err)
	}
	sc.session = bridge.NewSession(bridge.Options{
		URL:             wsURL,
		HealthURL:       healthURL,
		Handler:         sc.router,
		ReconnectDelay:  time.Duration(sc.Config.Bridge.ReconnectDelayMs) * time.Millisecond,
		KeepalivePeriod: time.Duration(sc.Config.Bridge.KeepaliveSec) * time.Second,
		HealthPeriod:    time.Duration(sc.Config.Bridge.HealthProbeMin) * time.Minute,
		DialTimeout:     time.Duration(sc.Config.Bridge.DialTimeoutSec) * time.Second,
	})

	// 4. 平仓命令服务
	window := time.Duration(sc.Config.Bridge.PendingWindowMs) * time.Millisecond
	sc.closer = service.NewCloseService(sc.session, service.NewPendingTracker(window))

	log.Info().
		Str("ws_url", wsURL).
		Str("health_url", healthURL).
		Msg("✓ All components initialized")
	return nil
}

// initializeStorage 初始化可选的存储后端（Redis / SQLite / Postgres）
func (sc *ServiceContext) initializeStorage() error {
	if sc.Config.Redis.Enabled {
		if err := sc.initRedis(); err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
	}

	var repos []port.Repository
	if sc.Config.SQLite.Enabled {
		repo, err := sqliterepo.New(sc.Config.SQLite.Path)
		if err != nil {
			return fmt.Errorf("sqlite repo creation failed: %w", err)
		}
		sc.sqliteRepo = repo
		repos = append(repos, repo)
		sc.closerChain = append(sc.closerChain, func() error {
			log.Info().Msg("closing sqlite connection")
			return repo.Close()
		})
		log.Info().Str("path", sc.Config.SQLite.Path).Msg("✓ SQLite initialized")
	}

	if sc.Config.Postgres.Enabled {
		repo, err := postgresrepo.New(sc.Config.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres repo creation failed: %w", err)
		}
		sc.pgRepo = repo
		repos = append(repos, repo)
		sc.closerChain = append(sc.closerChain, func() error {
			log.Info().Msg("closing postgres connection")
			return repo.Close()
		})
		log.Info().Msg("✓ Postgres initialized")
	}

	switch len(repos) {
	case 0:
		// journal 关闭：路由器收到 nil repo 时跳过持久化
		log.Warn().Msg("history journal disabled, no storage backend enabled")
	case 1:
		sc.historyRepo = repos[0]
	default:
		sc.historyRepo = composite.New(repos...)
	}
	return nil
}

// initRedis 初始化 Redis 连接与缓存变更发布器
func (sc *ServiceContext) initRedis() error {
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     sc.Config.Redis.Addr,
		Password: sc.Config.Redis.Password,
		DB:       sc.Config.Redis.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	sc.redisClient = rdb
	sc.publisher = redisrepo.New(rdb, sc.Config.Redis.Prefix, sc.Config.Redis.Channel)

	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", sc.Config.Redis.Addr).
		Int("db", sc.Config.Redis.DB).
		Msg("✓ Redis initialized")
	return nil
}

// Start 启动连接会话（含保活与健康探测）
func (sc *ServiceContext) Start() {
	sc.session.Start(sc.Ctx)
}

// Session 获取连接会话
func (sc *ServiceContext) Session() *bridge.Session {
	return sc.session
}

// Closer 获取平仓命令服务
func (sc *ServiceContext) Closer() *service.CloseService {
	return sc.closer
}

// Cache 获取只读缓存（UI 层读取入口）
func (sc *ServiceContext) Cache() *cache.Store {
	return sc.cacheStore
}

// Close 关闭 ServiceContext 中的所有资源，应在应用退出时调用
func (sc *ServiceContext) Close() error {
	if sc.session != nil {
		sc.session.Stop()
	}
	if sc.closer != nil {
		sc.closer.Tracker().Stop()
	}

	// 按照相反的顺序关闭所有资源
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	return nil
}
