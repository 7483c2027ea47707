// Пакет notify — асинхронная доставка уведомлений о событиях доступа.
//
// Publish никогда не блокирует вызывающего: при переполнении буфера
// уведомление отбрасывается и учитывается в метрике. Доставка выполняется
// одной фоновой горутиной через Sink.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Типы уведомлений.
const (
	TypeLinkCreated      = "link.created"
	TypeLinkAccessed     = "link.accessed"
	TypeLockAutoReleased = "lock.auto_released"
	TypeLockForced       = "lock.force_released"
)

// Prometheus-метрики уведомлений
var (
	notificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ld_notifications_published_total",
			Help: "Количество уведомлений, принятых в очередь",
		},
		[]string{"type"},
	)
	notificationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ld_notifications_dropped_total",
			Help: "Количество уведомлений, отброшенных из-за переполнения очереди",
		},
		[]string{"type"},
	)
	notificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ld_notifications_failed_total",
			Help: "Количество уведомлений, которые не удалось доставить",
		},
		[]string{"type"},
	)
)

// Notification — уведомление получателю.
type Notification struct {
	Type string
	// Recipient — ID пользователя-получателя
	Recipient string
	// Data — параметры уведомления
	Data map[string]any
	// CreatedAt — время события
	CreatedAt time.Time
}

// Sink — канал доставки уведомлений (почта, очередь, лог).
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// Dispatcher — буферизованная асинхронная очередь уведомлений.
type Dispatcher struct {
	sink   Sink
	queue  chan Notification
	logger *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewDispatcher создаёт Dispatcher с буфером bufferSize.
func NewDispatcher(sink Sink, bufferSize int, logger *slog.Logger) *Dispatcher {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Dispatcher{
		sink:   sink,
		queue:  make(chan Notification, bufferSize),
		logger: logger.With(slog.String("component", "notify")),
	}
}

// Publish ставит уведомление в очередь. Не блокирует.
// Возвращает false, если очередь переполнена и уведомление отброшено.
func (d *Dispatcher) Publish(n Notification) bool {
	select {
	case d.queue <- n:
		notificationsPublished.WithLabelValues(n.Type).Inc()
		return true
	default:
		notificationsDropped.WithLabelValues(n.Type).Inc()
		d.logger.Warn("Очередь уведомлений переполнена, уведомление отброшено",
			slog.String("type", n.Type),
			slog.String("recipient", n.Recipient),
		)
		return false
	}
}

// Start запускает фоновую доставку.
func (d *Dispatcher) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go d.run(runCtx)

	d.logger.Info("Доставка уведомлений запущена", slog.Int("buffer", cap(d.queue)))
}

// Stop останавливает доставку и дожидается завершения горутины.
// Уведомления, оставшиеся в очереди, доставляются до выхода.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.logger.Info("Доставка уведомлений остановлена")
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case n := <-d.queue:
			d.deliver(context.WithoutCancel(ctx), n)
		}
	}
}

// drain доставляет всё, что осталось в очереди на момент остановки.
func (d *Dispatcher) drain() {
	for {
		select {
		case n := <-d.queue:
			d.deliver(context.Background(), n)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	deliverCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := d.sink.Deliver(deliverCtx, n); err != nil {
		notificationsFailed.WithLabelValues(n.Type).Inc()
		d.logger.Error("Ошибка доставки уведомления",
			slog.String("type", n.Type),
			slog.String("recipient", n.Recipient),
			slog.String("error", err.Error()),
		)
	}
}

// LogSink — Sink, записывающий уведомления в лог.
// Используется, пока внешний канал доставки не подключён.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink создаёт LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "notify_sink"))}
}

// Deliver записывает уведомление в лог.
func (s *LogSink) Deliver(_ context.Context, n Notification) error {
	s.logger.Info("Уведомление",
		slog.String("type", n.Type),
		slog.String("recipient", n.Recipient),
		slog.Any("data", n.Data),
	)
	return nil
}
