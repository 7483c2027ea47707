// Пакет admission — ограничение частоты запросов (fixed window).
//
// Окно начинается в момент now.Truncate(window), начало окна входит в ключ
// счётчика: новое окно всегда начинается с нуля без явного сброса.
// Ошибки хранилища счётчиков пропускают запрос (fail open): недоступность
// счётчиков не должна останавливать сервис.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/lexdocs/access-core/internal/clock"
)

// Имена политик.
const (
	PolicyLogin       = "login"
	PolicyGlobalIP    = "global_ip"
	PolicyUser        = "user"
	PolicyAnonymousIP = "anonymous_ip"
)

// Prometheus-метрики admission control
var (
	admissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ld_admission_decisions_total",
			Help: "Количество решений admission control",
		},
		[]string{"policy", "outcome"},
	)
	admissionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ld_admission_rejections_total",
			Help: "Количество запросов, отклонённых admission control",
		},
		[]string{"policy"},
	)
	admissionStoreErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ld_admission_store_errors_total",
			Help: "Количество ошибок хранилища счётчиков (запрос пропущен)",
		},
	)
)

// Policy — правило ограничения: не более Limit запросов за Window.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Decision — результат проверки.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter — время до конца текущего окна
	RetryAfter time.Duration
	// ResetAt — начало следующего окна
	ResetAt time.Time
}

// RetryAfterSeconds возвращает значение заголовка Retry-After:
// секунды до конца окна, округлённые вверх, не меньше 1.
func (d Decision) RetryAfterSeconds() int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// CounterStore — хранилище счётчиков окон.
type CounterStore interface {
	// Incr увеличивает счётчик key на 1 и возвращает новое значение.
	// ttl — время жизни ключа (не меньше длительности окна).
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Limiter — проверка политик над CounterStore.
type Limiter struct {
	store  CounterStore
	clock  clock.Clock
	logger *slog.Logger
}

// NewLimiter создаёт Limiter.
func NewLimiter(store CounterStore, clk clock.Clock, logger *slog.Logger) *Limiter {
	return &Limiter{
		store:  store,
		clock:  clk,
		logger: logger.With(slog.String("component", "admission")),
	}
}

// Allow учитывает запрос в окне политики для partitionKey и возвращает решение.
// Отклонённые запросы тоже учитываются: повторные попытки не сдвигают окно.
func (l *Limiter) Allow(ctx context.Context, p Policy, partitionKey string) Decision {
	now := l.clock.Now()
	windowStart := now.Truncate(p.Window)
	resetAt := windowStart.Add(p.Window)

	decision := Decision{
		Limit:      p.Limit,
		RetryAfter: resetAt.Sub(now),
		ResetAt:    resetAt,
	}

	count, err := l.store.Incr(ctx, counterKey(p.Name, partitionKey, windowStart), p.Window)
	if err != nil {
		admissionStoreErrors.Inc()
		l.logger.Warn("Хранилище счётчиков недоступно, запрос пропущен",
			slog.String("policy", p.Name),
			slog.String("error", err.Error()),
		)
		decision.Allowed = true
		decision.Remaining = p.Limit
		admissionDecisions.WithLabelValues(p.Name, "fail_open").Inc()
		return decision
	}

	if count > int64(p.Limit) {
		admissionDecisions.WithLabelValues(p.Name, "rejected").Inc()
		admissionRejections.WithLabelValues(p.Name).Inc()
		return decision
	}

	decision.Allowed = true
	decision.Remaining = p.Limit - int(count)
	admissionDecisions.WithLabelValues(p.Name, "allowed").Inc()
	return decision
}

// counterKey — ключ счётчика: политика, раздел и начало окна.
func counterKey(policy, partition string, windowStart time.Time) string {
	return fmt.Sprintf("ld:admission:%s:%s:%s", policy, partition, strconv.FormatInt(windowStart.Unix(), 10))
}
