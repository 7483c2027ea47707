// Пакет server — HTTP-сервер access core с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/lexdocs/access-core/internal/admission"
	"github.com/bigkaa/lexdocs/access-core/internal/api/handlers"
	"github.com/bigkaa/lexdocs/access-core/internal/api/middleware"
	"github.com/bigkaa/lexdocs/access-core/internal/config"
	"github.com/bigkaa/lexdocs/access-core/internal/domain/model"
	"github.com/bigkaa/lexdocs/access-core/internal/domain/rbac"
)

// AuditRecorder — запись событий аудита (реализуется audit.Recorder).
type AuditRecorder interface {
	Record(ctx context.Context, entry *model.AuditEntry)
}

// Deps — зависимости маршрутизатора.
type Deps struct {
	Handler *handlers.APIHandler
	JWTAuth *middleware.JWTAuth
	Limiter *admission.Limiter
	Audit   AuditRecorder
}

// Server — HTTP-сервер.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewRouter(cfg, logger, deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Policies возвращает политики admission control из конфигурации.
func Policies(cfg *config.Config) (login, globalIP, user, anonymousIP admission.Policy) {
	p := func(name string, limit int) admission.Policy {
		return admission.Policy{Name: name, Limit: limit, Window: cfg.AdmissionWindow}
	}
	return p(admission.PolicyLogin, cfg.LoginLimit),
		p(admission.PolicyGlobalIP, cfg.GlobalIPLimit),
		p(admission.PolicyUser, cfg.UserLimit),
		p(admission.PolicyAnonymousIP, cfg.AnonymousIPLimit)
}

// NewRouter собирает маршруты.
//
// Порядок middleware для /api/v1: global_ip → JWT (необязательный) →
// user / anonymous_ip → аудит запроса. Health и metrics идут мимо
// аутентификации и admission control.
func NewRouter(cfg *config.Config, logger *slog.Logger, deps Deps) http.Handler {
	h := deps.Handler
	trust := cfg.TrustForwardedFor
	loginPolicy, globalIPPolicy, userPolicy, anonPolicy := Policies(cfg)

	recorder := deps.Audit
	clientIP := middleware.ClientIPFunc(trust)

	router := chi.NewRouter()
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger, trust))

	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.Limiter.Middleware(globalIPPolicy, middleware.IPKey(trust), clientIP, recorder))
		r.Use(deps.JWTAuth.Optional())
		r.Use(deps.Limiter.Middleware(userPolicy, middleware.UserKey(), clientIP, recorder))
		r.Use(deps.Limiter.Middleware(anonPolicy, middleware.AnonymousIPKey(trust), clientIP, recorder))
		if recorder != nil {
			r.Use(middleware.RequestAudit(recorder, trust, logger))
		}

		// Публичные маршруты
		r.With(deps.Limiter.Middleware(loginPolicy, middleware.IPKey(trust), clientIP, recorder)).
			Post("/auth/login", h.Login)
		r.Post("/public/share/{token}", h.AccessShareLink)

		// Пользователи (admin или member)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(rbac.RoleAdmin, rbac.RoleMember))

			r.Get("/auth/me", h.GetCurrentUser)

			r.Get("/documents/{id}/lock", h.GetLock)
			r.Post("/documents/{id}/lock", h.AcquireLock)
			r.Delete("/documents/{id}/lock", h.ReleaseLock)

			r.Post("/documents/{id}/share-links", h.CreateShareLink)
			r.Get("/documents/{id}/share-links", h.ListShareLinks)
			r.Post("/share-links/{id}/deactivate", h.DeactivateShareLink)
			r.Get("/share-links/{id}/access-log", h.ListShareLinkAccessLog)
		})

		// Администраторы
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(rbac.RoleAdmin))

			r.Post("/documents/{id}/lock/force-release", h.ForceReleaseLock)
			r.Post("/share-links/{id}/reactivate", h.ReactivateShareLink)
			r.Get("/audit", h.ListAudit)
			r.Post("/maintenance/sweep/{kind}", h.RunSweep)
			r.Get("/idp/status", h.GetIdpStatus)
		})
	})

	return router
}

// Handler возвращает корневой http.Handler (для тестов).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. После этого выполняется graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
