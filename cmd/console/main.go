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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/capgate/internal/capability"
	"github.com/xela07ax/capgate/internal/console/handler"
	"github.com/xela07ax/capgate/internal/console/server"
	"github.com/xela07ax/capgate/internal/console/service"
	"github.com/xela07ax/capgate/internal/domain"
	"github.com/xela07ax/capgate/internal/engine"
	"github.com/xela07ax/capgate/internal/infra"
	"github.com/xela07ax/capgate/internal/infra/auth"
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

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Ресурсы
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
	operatorRepo := postgres.NewOperatorRepo(pool)
	outcomeRepo := postgres.NewOutcomeRepo(pool)

	// 3. RSA ключи: консоль и подписывает токены, и проверяет их
	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("failed to parse private key", zap.Error(err))
	}
	publicKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse public key", zap.Error(err))
	}
	validator := auth.NewOperatorValidator(publicKey)

	// 4. Control Plane: консоль переиспользует те же компоненты, что и демон.
	// Запись идет через резолвер, поэтому инвалидация и Pub/Sub работают одинаково.
	notifier := notify.New(rdb, logger)
	resolver := capability.NewResolver(
		capability.DefaultRegistry(),
		overrideRepo,
		notifier,
		capability.NewMetrics(nil),
		logger,
		capability.ResolverOptions{
			CacheTTL:     cfg.Resolver.CacheTTL,
			StoreTimeout: cfg.Resolver.StoreTimeout,
			EnvStaleTTL:  cfg.Resolver.EnvStaleTTL,
		},
	)

	monitor := engine.NewFailureMonitor(time.Minute)
	controller := engine.NewController(monitor, resolver, overrideRepo, notifier, engine.NewMetrics(nil), logger)
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
		}, nil)
	}
	if err := controller.Init(appCtx); err != nil {
		logger.Fatal("failed to restore panic state", zap.Error(err))
	}

	// Слушаем чужие изменения, чтобы Status/Snapshot не отдавали протухшее
	go notifier.ListenOverrides(appCtx,
		func() error { resolver.Reload(); return nil },
		func(path domain.CapabilityPath, orgID *string) { resolver.Invalidate(path, orgID) },
	)
	go notifier.ListenPanics(appCtx,
		func() error { return controller.Init(appCtx) },
		func(integration string, phase domain.PanicPhase) {
			if err := controller.Init(appCtx); err != nil {
				logger.Warn("failed to resync panic state", zap.Error(err))
			}
		},
	)

	limits := make(map[string]scheduler.QueueLimits, len(cfg.Scheduler.Queues))
	for name, qc := range cfg.Scheduler.Queues {
		limits[name] = scheduler.QueueLimits{
			Capacity:        qc.Capacity,
			MaxPerOrg:       qc.MaxPerOrg,
			CapacityPercent: qc.CapacityPercent,
		}
	}
	sched := scheduler.New(scheduler.NewRedisState(rdb), limits, scheduler.NewMetrics(nil), logger)

	// 5. Сервисы и обработчики
	authService := service.NewAuthService(operatorRepo, privateKey, cfg.Auth.TokenTTL)
	overrideService := service.NewOverrideService(resolver, overrideRepo)
	statusService := service.NewStatusService(controller, sched, outcomeRepo)

	consoleSrv := server.NewConsoleServer(
		cfg,
		logger,
		validator,
		handler.NewAuthHandler(authService, logger),
		handler.NewOverrideHandler(overrideService),
		handler.NewPanicHandler(statusService),
		handler.NewStatusHandler(statusService),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 6. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("console API failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("console API stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("console API shutdown failed", zap.Error(err))
	}
	logger.Info("console API exited properly")
}
