package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/capgate/internal/capability"
	"github.com/xela07ax/capgate/internal/domain"
	"github.com/xela07ax/capgate/internal/engine"
	"github.com/xela07ax/capgate/internal/gateway"
	"github.com/xela07ax/capgate/internal/infra"
	"github.com/xela07ax/capgate/internal/journal"
	"github.com/xela07ax/capgate/internal/notify"
	"github.com/xela07ax/capgate/internal/repository/postgres"
	"github.com/xela07ax/capgate/internal/scheduler"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	// При завершении main() или срабатывании SIGTERM, cancel() остановит слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	if err := postgres.Migrate(appCtx, cfg.Database.URL, cfg.Database.MigrationsDir, logger); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	pool, err := postgres.NewPool(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	overrideRepo := postgres.NewOverrideRepo(pool)
	outcomeRepo := postgres.NewOutcomeRepo(pool)

	// Метрики
	reg := prometheus.NewRegistry()
	capMetrics := capability.NewMetrics(reg)
	engMetrics := engine.NewMetrics(reg)
	schedMetrics := scheduler.NewMetrics(reg)

	// 3. Control Plane (Резолвер + Паник-контроллер)
	notifier := notify.New(rdb, logger)

	resolver := capability.NewResolver(
		capability.DefaultRegistry(),
		overrideRepo,
		notifier,
		capMetrics,
		logger,
		capability.ResolverOptions{
			CacheTTL:     cfg.Resolver.CacheTTL,
			StoreTimeout: cfg.Resolver.StoreTimeout,
			EnvStaleTTL:  cfg.Resolver.EnvStaleTTL,
		},
	)

	monitor := engine.NewFailureMonitor(time.Minute)
	controller := engine.NewController(monitor, resolver, overrideRepo, notifier, engMetrics, logger)
	for name, ic := range cfg.Panic.Integrations {
		path, err := domain.ParseCapabilityPath(ic.Capability)
		if err != nil {
			logger.Fatal("invalid capability in panic config",
				zap.String("integration", name), zap.Error(err))
		}
		controller.Register(name, engine.IntegrationSettings{
			Capability:        path,
			FailureThreshold:  ic.FailureThreshold,
			Window:            ic.Window,
			RecoverySuccesses: ic.RecoverySuccesses,
			ProbeInterval:     ic.ProbeInterval,
			ProbeTimeout:      ic.ProbeTimeout,
		}, nil) // Пробер подключается кодом интеграции через RecordProbe
	}
	if err := controller.Init(appCtx); err != nil {
		logger.Fatal("failed to restore panic state", zap.Error(err))
	}
	go controller.Run(appCtx, cfg.Panic.EvaluateInterval)

	// Слушатели Pub/Sub: чужие изменения инвалидируют наш кэш.
	// При реконнекте кэш сбрасывается целиком — события могли потеряться.
	go notifier.ListenOverrides(appCtx,
		func() error { resolver.Reload(); return nil },
		func(path domain.CapabilityPath, orgID *string) { resolver.Invalidate(path, orgID) },
	)
	go notifier.ListenPanics(appCtx,
		func() error { resolver.Reload(); return nil },
		func(integration string, phase domain.PanicPhase) {
			logger.Info("panic phase change received",
				zap.String("integration", integration),
				zap.String("phase", string(phase)))
		},
	)

	// 4. Журнал исходов (батчами в Postgres)
	outcomeJournal := journal.New(outcomeRepo, logger)
	outcomeJournal.Start()
	defer outcomeJournal.Stop()

	// 5. Fair Scheduler + Sweeper
	limits := make(map[string]scheduler.QueueLimits, len(cfg.Scheduler.Queues))
	queueNames := make([]string, 0, len(cfg.Scheduler.Queues))
	for name, qc := range cfg.Scheduler.Queues {
		limits[name] = scheduler.QueueLimits{
			Capacity:        qc.Capacity,
			MaxPerOrg:       qc.MaxPerOrg,
			CapacityPercent: qc.CapacityPercent,
		}
		queueNames = append(queueNames, name)
	}
	sched := scheduler.New(scheduler.NewRedisState(rdb), limits, schedMetrics, logger)
	sweeper := scheduler.NewSweeper(sched, queueNames, cfg.Scheduler.MaxProcessing, logger)
	go sweeper.Run(appCtx, cfg.Scheduler.SweepInterval)

	// 6. Data-plane API для воркеров без встроенной библиотеки
	// (check, outcomes, допуск в очереди)
	gw := gateway.NewServer(resolver, controller, outcomeJournal, sched, logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      gw,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("gateway started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("gateway failed", zap.Error(err))
		}
	}()

	// 7. Экспорт метрик для Prometheus
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		logger.Info("metrics server started", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("capgate daemon started")

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("capgate daemon stopping...")

	cancel() // Останавливаем слушателей, цикл паники и свипер

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown failed", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", zap.Error(err))
	}

	logger.Info("capgate daemon exited properly")
}
