// auth.go — вход пользователя через Keycloak (password grant).
//
// Ограничение частоты попыток выполняет admission middleware до вызова
// сервиса; отказ по лимиту не меняет состояние учётной записи.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/lexdocs/access-core/internal/domain/model"
	"github.com/bigkaa/lexdocs/access-core/internal/keycloak"
)

var loginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ld_login_attempts_total",
	Help: "Количество попыток входа по исходам",
}, []string{"outcome"})

// IdentityProvider — операции Keycloak, нужные сервису входа.
type IdentityProvider interface {
	PasswordGrant(ctx context.Context, username, password string) (*keycloak.TokenResponse, error)
	RealmInfo(ctx context.Context) (*keycloak.RealmRepresentation, error)
}

// IDPStatus — статус подключения к Keycloak.
type IDPStatus struct {
	Connected bool    `json:"connected"`
	Realm     string  `json:"realm"`
	Error     *string `json:"error,omitempty"`
}

// AuthService — вход пользователей.
type AuthService struct {
	idp    IdentityProvider
	audit  AuditRecorder
	realm  string
	logger *slog.Logger
}

// NewAuthService создаёт сервис входа.
func NewAuthService(idp IdentityProvider, recorder AuditRecorder, realm string, logger *slog.Logger) *AuthService {
	return &AuthService{
		idp:    idp,
		audit:  recorder,
		realm:  realm,
		logger: logger.With(slog.String("component", "auth_service")),
	}
}

// Login обменивает имя и пароль на токены Keycloak.
// ErrUnauthorized — неверные учётные данные, ErrIDPUnavailable — Keycloak недоступен.
func (s *AuthService) Login(ctx context.Context, username, password string, rc RequestContext) (*keycloak.TokenResponse, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		loginAttempts.WithLabelValues("validation").Inc()
		s.recordFailed(ctx, username, "validation", rc)
		return nil, fmt.Errorf("%w: username и password обязательны", ErrValidation)
	}

	tokens, err := s.idp.PasswordGrant(ctx, username, password)
	if err != nil {
		reason := "idp_unavailable"
		if errors.Is(err, keycloak.ErrInvalidCredentials) {
			reason = "invalid_credentials"
		}
		loginAttempts.WithLabelValues(reason).Inc()
		s.recordFailed(ctx, username, reason, rc)

		if reason == "invalid_credentials" {
			return nil, fmt.Errorf("%w: неверное имя пользователя или пароль", ErrUnauthorized)
		}
		s.logger.Error("Keycloak недоступен при входе",
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrIDPUnavailable, err)
	}

	loginAttempts.WithLabelValues("success").Inc()
	e := anonymousEntry(model.AuditCategoryAuth, model.ActionLoginSucceeded, rc)
	e.SubjectName = &username
	s.audit.Record(ctx, e)

	s.logger.Info("Пользователь вошёл", slog.String("username", username))
	return tokens, nil
}

func (s *AuthService) recordFailed(ctx context.Context, username, reason string, rc RequestContext) {
	e := anonymousEntry(model.AuditCategoryAuth, model.ActionLoginFailed, rc)
	if username != "" {
		e.SubjectName = &username
	}
	e.Data["reason"] = reason
	s.audit.Record(ctx, e)
}

// IDPStatus проверяет доступность realm в Keycloak.
func (s *AuthService) IDPStatus(ctx context.Context) *IDPStatus {
	status := &IDPStatus{Realm: s.realm}
	info, err := s.idp.RealmInfo(ctx)
	if err != nil {
		msg := fmt.Sprintf("Keycloak недоступен: %v", err)
		status.Error = &msg
		return status
	}
	status.Connected = true
	status.Realm = info.Realm
	return status
}
