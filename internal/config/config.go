// Пакет config — загрузка и валидация конфигурации access-core
// из переменных окружения (префикс LD_).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые backend'ы счётчиков admission control.
const (
	AdmissionBackendMemory = "memory"
	AdmissionBackendRedis  = "redis"
)

// Config содержит все параметры конфигурации access-core.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Keycloak ---

	// URL Keycloak (например, https://keycloak.kryukov.lan)
	KeycloakURL string
	// Имя realm в Keycloak
	KeycloakRealm string
	// Client ID для login (password grant) и Admin API
	KeycloakClientID string
	// Client Secret
	KeycloakClientSecret string

	// --- JWT ---

	// Issuer JWT (авто-вычисляется из KeycloakURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из KeycloakURL, если не задан)
	JWTJWKSURL string
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Путь к CA-сертификату для TLS-соединений с Keycloak (опционально)
	CACertPath string

	// --- Маппинг групп → ролей ---

	// Группы Keycloak, дающие роль admin (через запятую)
	RoleAdminGroups []string
	// Группы Keycloak, дающие роль member (через запятую)
	RoleMemberGroups []string

	// --- Блокировки документов ---

	// TTL блокировки: блокировка старше TTL снимается sweeper'ом
	LockTTL time.Duration
	// Интервал проверки просроченных блокировок
	LockSweepInterval time.Duration

	// --- Shared links ---

	// Максимальный срок жизни ссылки от момента создания
	LinkMaxTTL time.Duration
	// Стоимость bcrypt для паролей ссылок
	LinkBcryptCost int
	// Интервал деактивации просроченных/исчерпанных ссылок
	LinkSweepInterval time.Duration
	// Размер пакета строк за один проход sweeper'а
	SweepBatchSize int

	// --- Admission control ---

	// Длительность фиксированного окна
	AdmissionWindow time.Duration
	// Лимит попыток входа на IP за окно
	LoginLimit int
	// Глобальный лимит запросов на IP за окно
	GlobalIPLimit int
	// Лимит запросов на аутентифицированного пользователя за окно
	UserLimit int
	// Лимит запросов на IP для неаутентифицированного трафика
	AnonymousIPLimit int
	// Backend счётчиков: memory или redis
	AdmissionBackend string
	// Максимальное количество ключей в памяти (memory backend)
	AdmissionMaxKeys int
	// Адрес Redis (redis backend)
	RedisAddr string
	// Пароль Redis (опционально)
	RedisPassword string
	// Номер БД Redis
	RedisDB int
	// Доверять заголовку X-Forwarded-For (за reverse proxy)
	TrustForwardedFor bool

	// --- Аудит и уведомления ---

	// Таймаут записи одной записи аудита
	AuditWriteTimeout time.Duration
	// Размер буфера уведомлений
	NotifyBufferSize int

	// --- Мониторинг ---

	// Группа topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// LD_PORT — порт HTTP-сервера (по умолчанию 8020)
	cfg.Port, err = getEnvInt("LD_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("LD_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("LD_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("LD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LD_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("LD_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LD_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("LD_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("LD_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("LD_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("LD_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("LD_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("LD_DB_PASSWORD"); err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("LD_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("LD_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Keycloak ---

	if cfg.KeycloakURL, err = getEnvRequired("LD_KEYCLOAK_URL"); err != nil {
		return nil, err
	}
	cfg.KeycloakURL = strings.TrimRight(cfg.KeycloakURL, "/")
	cfg.KeycloakRealm = getEnvDefault("LD_KEYCLOAK_REALM", "lexdocs")
	if cfg.KeycloakClientID, err = getEnvRequired("LD_KEYCLOAK_CLIENT_ID"); err != nil {
		return nil, err
	}
	if cfg.KeycloakClientSecret, err = getEnvRequired("LD_KEYCLOAK_CLIENT_SECRET"); err != nil {
		return nil, err
	}

	// --- JWT ---

	cfg.JWTIssuer = getEnvDefault("LD_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.KeycloakRealm))
	cfg.JWTJWKSURL = getEnvDefault("LD_JWT_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.KeycloakRealm))

	if cfg.JWTLeeway, err = getEnvDuration("LD_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("LD_JWT_LEEWAY: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvDuration("LD_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("LD_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.CACertPath = getEnvDefault("LD_CA_CERT_PATH", "")

	// --- Маппинг групп → ролей ---

	cfg.RoleAdminGroups = parseCSV(getEnvDefault("LD_ROLE_ADMIN_GROUPS", "lexdocs-admins"))
	cfg.RoleMemberGroups = parseCSV(getEnvDefault("LD_ROLE_MEMBER_GROUPS", "lexdocs-members"))

	// --- Блокировки ---

	// LD_LOCK_TTL — блокировка старше этого значения считается брошенной (по умолчанию 8h)
	if cfg.LockTTL, err = getEnvDuration("LD_LOCK_TTL", 8*time.Hour); err != nil {
		return nil, fmt.Errorf("LD_LOCK_TTL: %w", err)
	}
	if cfg.LockTTL < time.Minute {
		return nil, fmt.Errorf("LD_LOCK_TTL: значение %s меньше минимального 1m", cfg.LockTTL)
	}
	if cfg.LockSweepInterval, err = getEnvDuration("LD_LOCK_SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, fmt.Errorf("LD_LOCK_SWEEP_INTERVAL: %w", err)
	}

	// --- Shared links ---

	if cfg.LinkMaxTTL, err = getEnvDuration("LD_LINK_MAX_TTL", 90*24*time.Hour); err != nil {
		return nil, fmt.Errorf("LD_LINK_MAX_TTL: %w", err)
	}
	if cfg.LinkBcryptCost, err = getEnvInt("LD_LINK_BCRYPT_COST", 10); err != nil {
		return nil, fmt.Errorf("LD_LINK_BCRYPT_COST: %w", err)
	}
	if cfg.LinkBcryptCost < 4 || cfg.LinkBcryptCost > 31 {
		return nil, fmt.Errorf("LD_LINK_BCRYPT_COST: значение %d вне допустимого диапазона 4-31", cfg.LinkBcryptCost)
	}
	if cfg.LinkSweepInterval, err = getEnvDuration("LD_LINK_SWEEP_INTERVAL", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("LD_LINK_SWEEP_INTERVAL: %w", err)
	}
	if cfg.SweepBatchSize, err = getEnvInt("LD_SWEEP_BATCH_SIZE", 500); err != nil {
		return nil, fmt.Errorf("LD_SWEEP_BATCH_SIZE: %w", err)
	}
	if cfg.SweepBatchSize < 1 || cfg.SweepBatchSize > 10000 {
		return nil, fmt.Errorf("LD_SWEEP_BATCH_SIZE: значение %d вне допустимого диапазона 1-10000", cfg.SweepBatchSize)
	}

	// --- Admission control ---

	if cfg.AdmissionWindow, err = getEnvDuration("LD_ADMISSION_WINDOW", time.Minute); err != nil {
		return nil, fmt.Errorf("LD_ADMISSION_WINDOW: %w", err)
	}
	if cfg.AdmissionWindow < time.Second {
		return nil, fmt.Errorf("LD_ADMISSION_WINDOW: значение %s меньше минимального 1s", cfg.AdmissionWindow)
	}

	limits := []struct {
		key    string
		target *int
		def    int
	}{
		{"LD_LOGIN_LIMIT", &cfg.LoginLimit, 5},
		{"LD_GLOBAL_IP_LIMIT", &cfg.GlobalIPLimit, 200},
		{"LD_USER_LIMIT", &cfg.UserLimit, 100},
		{"LD_ANONYMOUS_IP_LIMIT", &cfg.AnonymousIPLimit, 50},
	}
	for _, l := range limits {
		v, lerr := getEnvInt(l.key, l.def)
		if lerr != nil {
			return nil, fmt.Errorf("%s: %w", l.key, lerr)
		}
		if v < 1 {
			return nil, fmt.Errorf("%s: значение %d должно быть положительным", l.key, v)
		}
		*l.target = v
	}

	cfg.AdmissionBackend = getEnvDefault("LD_ADMISSION_BACKEND", AdmissionBackendMemory)
	if cfg.AdmissionBackend != AdmissionBackendMemory && cfg.AdmissionBackend != AdmissionBackendRedis {
		return nil, fmt.Errorf("LD_ADMISSION_BACKEND: недопустимое значение %q, допустимые: memory, redis", cfg.AdmissionBackend)
	}
	if cfg.AdmissionMaxKeys, err = getEnvInt("LD_ADMISSION_MAX_KEYS", 100000); err != nil {
		return nil, fmt.Errorf("LD_ADMISSION_MAX_KEYS: %w", err)
	}
	cfg.RedisAddr = getEnvDefault("LD_REDIS_ADDR", "")
	cfg.RedisPassword = getEnvDefault("LD_REDIS_PASSWORD", "")
	if cfg.RedisDB, err = getEnvInt("LD_REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("LD_REDIS_DB: %w", err)
	}
	if cfg.AdmissionBackend == AdmissionBackendRedis && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("LD_REDIS_ADDR: обязателен при LD_ADMISSION_BACKEND=redis")
	}
	if cfg.TrustForwardedFor, err = getEnvBool("LD_TRUST_FORWARDED_FOR", false); err != nil {
		return nil, fmt.Errorf("LD_TRUST_FORWARDED_FOR: %w", err)
	}

	// --- Аудит и уведомления ---

	if cfg.AuditWriteTimeout, err = getEnvDuration("LD_AUDIT_WRITE_TIMEOUT", 3*time.Second); err != nil {
		return nil, fmt.Errorf("LD_AUDIT_WRITE_TIMEOUT: %w", err)
	}
	if cfg.NotifyBufferSize, err = getEnvInt("LD_NOTIFY_BUFFER_SIZE", 256); err != nil {
		return nil, fmt.Errorf("LD_NOTIFY_BUFFER_SIZE: %w", err)
	}

	// --- Мониторинг ---

	cfg.DephealthGroup = getEnvDefault("LD_DEPHEALTH_GROUP", "lexdocs")
	if cfg.DephealthCheckInterval, err = getEnvDuration("LD_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("LD_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	if cfg.ShutdownTimeout, err = getEnvDuration("LD_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("LD_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
