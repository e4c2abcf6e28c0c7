package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/acs-server/internal/acs"
	"github.com/taoyao-code/acs-server/internal/api"
	"github.com/taoyao-code/acs-server/internal/app"
	cfgpkg "github.com/taoyao-code/acs-server/internal/config"
	"github.com/taoyao-code/acs-server/internal/health"
	"github.com/taoyao-code/acs-server/internal/httpserver"
	"github.com/taoyao-code/acs-server/internal/logging"
	"github.com/taoyao-code/acs-server/internal/metrics"
	"github.com/taoyao-code/acs-server/internal/notify"
	"github.com/taoyao-code/acs-server/internal/storage/gormrepo"
	redisstorage "github.com/taoyao-code/acs-server/internal/storage/redis"
)

func main() {
	// 1) 加载配置
	cfg, err := cfgpkg.Load("")
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	log := zap.L()

	// 3) 指标注册与处理器
	reg := metrics.NewRegistry()
	metricsHandler := metrics.Handler(reg)
	appMetrics := metrics.NewAppMetrics(reg)

	// 4) 数据库（pgx 池 + GORM）
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, gdb, err := app.ConnectDB(bootCtx, cfg.Database, log)
	bootCancel()
	if err != nil {
		log.Fatal("database connect failed", zap.Error(err))
	}
	defer pool.Close()
	repo := gormrepo.New(gdb)

	// 5) Redis（可选，仅告警去重依赖）
	var dedup app.Deduper = app.NewMemoryDeduper()
	var redisClient *redisstorage.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisstorage.NewClient(cfg.Redis)
		if err != nil {
			log.Fatal("redis connect failed", zap.Error(err))
		}
		defer redisClient.Close()
		dedup = app.NewRedisDeduper(redisClient, log)
	}

	// 6) 告警链路：去重 → 落库 → 可选 webhook 外推
	var notifier app.Notifier
	if wh := notify.NewWebhookNotifier(cfg.Webhook, appMetrics, log); wh != nil {
		notifier = wh
		log.Info("alert webhook enabled", zap.String("url", cfg.Webhook.URL))
	}
	alerter := app.NewAlerter(repo, dedup, cfg.Alert.DedupWindow, notifier, appMetrics, log)

	// 7) 协议处理器与后台工作器
	tracker := acs.NewSessionTracker(cfg.ACS.SessionTimeout)
	sessions := acs.NewHandler(repo, tracker, appMetrics, log)

	monitor := app.NewMonitor(repo, alerter, cfg.Monitor, appMetrics, log)
	engine := app.NewAutomationEngine(repo, alerter, app.RandomChannelPicker{}, cfg.Automation, appMetrics, log)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	monitor.Start(rootCtx)
	engine.Start(rootCtx)

	// 8) 健康检查聚合
	aggregator := health.NewAggregator(
		health.NewDatabaseChecker(pool),
		health.NewWorkerChecker("monitor", monitor),
		health.NewWorkerChecker("automation", engine),
	)
	if redisClient != nil {
		aggregator.AddChecker(health.NewRedisChecker(redisClient))
	}

	// 9) HTTP 服务与路由
	httpSrv := httpserver.New(cfg.HTTP, cfg.Metrics.Path, metricsHandler, aggregator)
	api.RegisterRoutes(httpSrv.Engine(), sessions, repo, cfg.ACS, cfg.Auth, log)

	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.Start(); err != nil {
			log.Error("http server error", zap.Error(err))
		}
	}()

	// 信号处理，优雅关闭：先停工作器，再关HTTP
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	monitor.Stop()
	engine.Stop()
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
}
