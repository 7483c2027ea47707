// Точка входа lexdocs access core — сервис блокировок документов,
// внешних ссылок доступа и журнала аудита.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// собирает сервисный слой и HTTP API, запускает фоновые задачи
// (sweeper, уведомления, topologymetrics) и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/lexdocs/access-core/internal/admission"
	"github.com/bigkaa/lexdocs/access-core/internal/api/handlers"
	"github.com/bigkaa/lexdocs/access-core/internal/api/middleware"
	"github.com/bigkaa/lexdocs/access-core/internal/audit"
	"github.com/bigkaa/lexdocs/access-core/internal/clock"
	"github.com/bigkaa/lexdocs/access-core/internal/config"
	"github.com/bigkaa/lexdocs/access-core/internal/database"
	"github.com/bigkaa/lexdocs/access-core/internal/keycloak"
	"github.com/bigkaa/lexdocs/access-core/internal/notify"
	"github.com/bigkaa/lexdocs/access-core/internal/repository"
	"github.com/bigkaa/lexdocs/access-core/internal/server"
	"github.com/bigkaa/lexdocs/access-core/internal/service"
)

func main() {
	// 1. Конфигурация
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Логирование
	logger := config.SetupLogger(cfg)
	logger.Info("lexdocs access core запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("LD_DEPHEALTH_GROUP") == "" {
		logger.Warn("LD_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Миграции
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. PostgreSQL
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// Адаптер pgxpool → *sql.DB для topologymetrics: проверка идёт через тот же пул.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Репозитории и общие компоненты
	clk := clock.Real{}
	txRunner := repository.NewTxRunner(pool)
	docRepo := repository.NewDocumentRepository(pool)
	linkRepo := repository.NewSharedLinkRepository(pool, txRunner)
	accessLogRepo := repository.NewLinkAccessLogRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)

	recorder := audit.NewRecorder(auditRepo, clk, cfg.AuditWriteTimeout, logger)

	dispatcher := notify.NewDispatcher(notify.NewLogSink(logger), cfg.NotifyBufferSize, logger)
	dispatcher.Start(ctx)

	// 6. Keycloak: HTTP-клиент с CA, клиент token endpoint, JWT middleware
	kcHTTP, err := middleware.HTTPClient(cfg.CACertPath, 10*time.Second)
	if err != nil {
		logger.Error("Ошибка загрузки CA-сертификата",
			slog.String("path", cfg.CACertPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	kcClient := keycloak.New(
		cfg.KeycloakURL,
		cfg.KeycloakRealm,
		cfg.KeycloakClientID,
		cfg.KeycloakClientSecret,
		kcHTTP,
		logger,
	)

	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.CACertPath,
		cfg.JWTIssuer,
		cfg.RoleAdminGroups,
		cfg.RoleMemberGroups,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 7. Admission control: счётчики в памяти экземпляра или общие в Redis
	readiness := []handlers.ReadinessCheck{
		{Name: "postgresql", Checker: database.NewReadinessChecker(pool)},
		{Name: "keycloak", Checker: kcClient},
		{Name: "keycloak_jwks", Checker: middleware.NewKeycloakReadinessChecker(cfg.JWTJWKSURL, kcHTTP)},
	}

	var store admission.CounterStore
	switch cfg.AdmissionBackend {
	case config.AdmissionBackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		redisStore := admission.NewRedisStore(rdb)
		if err := redisStore.Ping(ctx); err != nil {
			logger.Warn("Redis недоступен, счётчики admission пропускают запросы до восстановления",
				slog.String("addr", cfg.RedisAddr),
				slog.String("error", err.Error()),
			)
		}
		readiness = append(readiness, handlers.ReadinessCheck{Name: "redis", Checker: redisStore})
		store = redisStore
	default:
		// Окно + запас: ключ предыдущего окна живёт до конца текущего.
		store = admission.NewMemoryStore(cfg.AdmissionMaxKeys, 2*cfg.AdmissionWindow)
	}
	limiter := admission.NewLimiter(store, clk, logger)
	logger.Info("Admission control инициализирован",
		slog.String("backend", cfg.AdmissionBackend),
		slog.String("window", cfg.AdmissionWindow.String()),
	)

	// 8. Сервисы
	lockSvc := service.NewLockService(docRepo, recorder, dispatcher, clk, cfg.LockTTL, logger)
	linkSvc := service.NewShareLinkService(
		linkRepo, accessLogRepo,
		recorder, dispatcher, clk,
		cfg.LinkMaxTTL, cfg.LinkBcryptCost,
		logger,
	)
	authSvc := service.NewAuthService(kcClient, recorder, cfg.KeycloakRealm, logger)
	sweeperSvc := service.NewSweeperService(
		docRepo, linkRepo,
		lockSvc, linkSvc,
		clk,
		cfg.LockSweepInterval, cfg.LinkSweepInterval,
		cfg.SweepBatchSize,
		logger,
	)

	// 9. HTTP API
	apiHandler := handlers.NewAPIHandler(handlers.Deps{
		Health:            handlers.NewHealthHandler(readiness...),
		Locks:             lockSvc,
		Links:             linkSvc,
		Auth:              authSvc,
		Audit:             recorder,
		Sweeper:           sweeperSvc,
		TrustForwardedFor: cfg.TrustForwardedFor,
	}, logger)

	// 10. Фоновые задачи
	sweeperSvc.Start(ctx)

	var dephealthSvc *service.DephealthService
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:       "lexdocs-access-core",
		Group:           cfg.DephealthGroup,
		DB:              pgDB,
		PostgresURL:     cfg.DatabaseURL(),
		KeycloakJWKSURL: cfg.JWTJWKSURL,
		CheckInterval:   cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	}

	// 11. HTTP-сервер
	srv := server.New(cfg, logger, server.Deps{
		Handler: apiHandler,
		JWTAuth: jwtAuth,
		Limiter: limiter,
		Audit:   recorder,
	})
	runErr := srv.Run(ctx)

	// 12. Остановка фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	sweeperSvc.Stop()
	cancel()
	dispatcher.Stop()

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1) //nolint:gocritic // отложенные Close не критичны при аварийном выходе
	}
	logger.Info("lexdocs access core остановлен")
}
