// client.go — HTTP-клиент к OpenID Connect endpoint'ам Keycloak.
// Вход пользователя выполняется через Resource Owner Password Credentials grant
// конфиденциального клиента; проверка готовности через публичную информацию realm.
package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Ошибки клиента Keycloak.
var (
	// ErrInvalidCredentials — неверное имя пользователя или пароль.
	ErrInvalidCredentials = errors.New("неверные учётные данные")
	// ErrUnavailable — Keycloak недоступен или вернул неожиданный ответ.
	ErrUnavailable = errors.New("Keycloak недоступен")
)

// Client — HTTP-клиент к Keycloak.
type Client struct {
	baseURL      string // Базовый URL Keycloak (без trailing slash)
	realm        string // Имя realm
	clientID     string // Client ID конфиденциального клиента
	clientSecret string // Client Secret

	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент Keycloak.
// baseURL — базовый URL Keycloak (например, https://keycloak.kryukov.lan).
// httpClient — HTTP-клиент (может содержать TLS конфигурацию).
func New(baseURL, realm, clientID, clientSecret string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		logger:       logger.With(slog.String("component", "keycloak_client")),
	}
}

// tokenEndpoint возвращает URL endpoint'а получения токена.
func (c *Client) tokenEndpoint() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.baseURL, c.realm)
}

// realmURL возвращает URL публичной информации realm.
func (c *Client) realmURL() string {
	return fmt.Sprintf("%s/realms/%s", c.baseURL, c.realm)
}

// PasswordGrant обменивает имя пользователя и пароль на токены.
// ErrInvalidCredentials — Keycloak отклонил учётные данные (invalid_grant),
// ErrUnavailable — сетевая ошибка или неожиданный ответ.
func (c *Client) PasswordGrant(ctx context.Context, username, password string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"password"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"username":      {username},
		"password":      {password},
		"scope":         {"openid"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: запрос токена: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
		var oauthErr OAuthError
		_ = json.NewDecoder(resp.Body).Decode(&oauthErr)
		if resp.StatusCode == http.StatusUnauthorized || oauthErr.Error == "invalid_grant" {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: ошибка OAuth %q: %s", ErrUnavailable, oauthErr.Error, oauthErr.Description)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: статус %d при запросе токена: %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("%w: декодирование токена: %w", ErrUnavailable, err)
	}

	c.logger.Debug("Токен пользователя получен",
		slog.String("username", username),
		slog.Int("expires_in", token.ExpiresIn),
	)
	return &token, nil
}

// RealmInfo возвращает публичную информацию о realm.
func (c *Client) RealmInfo(ctx context.Context) (*RealmRepresentation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.realmURL(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: статус %d", ErrUnavailable, resp.StatusCode)
	}

	var realm RealmRepresentation
	if err := json.NewDecoder(resp.Body).Decode(&realm); err != nil {
		return nil, fmt.Errorf("декодирование ответа Keycloak: %w", err)
	}
	return &realm, nil
}

// --- Readiness checker ---

// CheckReady проверяет доступность Keycloak через информацию realm.
// Реализует handlers.ReadinessChecker.
func (c *Client) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	realm, err := c.RealmInfo(ctx)
	if err != nil {
		return "fail", fmt.Sprintf("Keycloak недоступен: %v", err)
	}

	return "ok", fmt.Sprintf("Realm %s доступен", realm.Realm)
}
