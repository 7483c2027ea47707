// sweeper.go — фоновая очистка просроченных блокировок и ссылок.
//
// SweeperService запускает два независимых ticker'а:
//   - очистка блокировок (LD_LOCK_SWEEP_INTERVAL) — снятие блокировок старше LD_LOCK_TTL;
//   - очистка ссылок (LD_LINK_SWEEP_INTERVAL) — деактивация истёкших и исчерпанных ссылок.
//
// Каждое изменение строки условное, поэтому параллельные экземпляры
// сервиса не мешают друг другу. Внутри процесса проходы одного типа
// не перекрываются.
//
// Prometheus-метрики:
//   - ld_sweep_runs_total{kind,outcome}
//   - ld_sweep_duration_seconds{kind}
//   - ld_sweep_items_total{kind,result}
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/lexdocs/access-core/internal/clock"
	"github.com/bigkaa/lexdocs/access-core/internal/domain/model"
	"github.com/bigkaa/lexdocs/access-core/internal/repository"
)

// Типы проходов очистки.
const (
	SweepKindLocks = "locks"
	SweepKindLinks = "links"
)

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ld_sweep_runs_total",
		Help: "Количество проходов очистки",
	}, []string{"kind", "outcome"})

	sweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ld_sweep_duration_seconds",
		Help:    "Длительность прохода очистки",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms … ~41s
	}, []string{"kind"})

	sweepItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ld_sweep_items_total",
		Help: "Количество обработанных строк по результатам",
	}, []string{"kind", "result"})
)

// SweepResult — итог одного прохода очистки.
type SweepResult struct {
	Kind string `json:"kind"`
	// Scanned — сколько строк выбрано
	Scanned int `json:"scanned"`
	// Processed — сколько строк изменено этим проходом
	Processed int `json:"processed"`
	// Skipped — строки, изменённые конкурентно (другим экземпляром или запросом)
	Skipped int `json:"skipped"`
	// Failed — строки с ошибкой записи
	Failed     int           `json:"failed"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// SweeperService — фоновые проходы очистки.
type SweeperService struct {
	docs      repository.DocumentRepository
	links     repository.SharedLinkRepository
	locks     *LockService
	share     *ShareLinkService
	clock     clock.Clock
	lockEvery time.Duration
	linkEvery time.Duration
	batchSize int
	logger    *slog.Logger

	lockMu sync.Mutex
	linkMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeperService создаёт сервис очистки.
func NewSweeperService(
	docs repository.DocumentRepository,
	links repository.SharedLinkRepository,
	locks *LockService,
	share *ShareLinkService,
	clk clock.Clock,
	lockEvery, linkEvery time.Duration,
	batchSize int,
	logger *slog.Logger,
) *SweeperService {
	return &SweeperService{
		docs:      docs,
		links:     links,
		locks:     locks,
		share:     share,
		clock:     clk,
		lockEvery: lockEvery,
		linkEvery: linkEvery,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "sweeper")),
	}
}

// Start запускает фоновые горутины обоих проходов.
func (s *SweeperService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.loop(ctx, SweepKindLocks, s.lockEvery, s.RunLockSweep)
	go s.loop(ctx, SweepKindLinks, s.linkEvery, s.RunLinkSweep)
}

// Stop останавливает горутины и ждёт завершения текущих проходов.
func (s *SweeperService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SweeperService) loop(
	ctx context.Context,
	kind string,
	interval time.Duration,
	run func(context.Context) (*SweepResult, error),
) {
	defer s.wg.Done()

	s.logger.Info("Периодическая очистка запущена",
		slog.String("kind", kind),
		slog.String("interval", interval.String()),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Периодическая очистка остановлена", slog.String("kind", kind))
			return
		case <-ticker.C:
			if _, err := run(ctx); err != nil {
				// Проход, запущенный вручную, ещё идёт: пропускаем тик
				s.logger.Warn("Периодическая очистка пропущена",
					slog.String("kind", kind),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunLockSweep снимает блокировки старше TTL.
// ErrSweepInProgress — проход уже выполняется в этом процессе.
func (s *SweeperService) RunLockSweep(ctx context.Context) (*SweepResult, error) {
	if !s.lockMu.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer s.lockMu.Unlock()

	result := s.newResult(SweepKindLocks)
	cutoff := result.StartedAt.Add(-s.locks.TTL())

	err := s.batches(ctx, result, func(ctx context.Context, after repository.Cursor) (int, repository.Cursor, error) {
		docs, err := s.docs.ListLockedBefore(ctx, cutoff, after, s.batchSize)
		if err != nil {
			return 0, after, fmt.Errorf("выборка просроченных блокировок: %w", err)
		}
		for _, doc := range docs {
			released, err := s.locks.ReleaseExpired(ctx, doc)
			s.tally(result, doc.ID, released, err)
			if doc.LockedAt != nil {
				after = repository.CursorAfter(*doc.LockedAt, doc.ID)
			}
		}
		return len(docs), after, nil
	})
	return s.finish(result, err)
}

// RunLinkSweep деактивирует активные ссылки, истёкшие или исчерпавшие лимит.
func (s *SweeperService) RunLinkSweep(ctx context.Context) (*SweepResult, error) {
	if !s.linkMu.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer s.linkMu.Unlock()

	result := s.newResult(SweepKindLinks)
	now := result.StartedAt

	err := s.batches(ctx, result, func(ctx context.Context, after repository.Cursor) (int, repository.Cursor, error) {
		links, err := s.links.ListStale(ctx, now, after, s.batchSize)
		if err != nil {
			return 0, after, fmt.Errorf("выборка устаревших ссылок: %w", err)
		}
		for _, link := range links {
			reason := model.DeactivationLimitReached
			if link.Expired(now) {
				reason = model.DeactivationExpired
			}
			deactivated, err := s.share.DeactivateStale(ctx, link, reason, now)
			s.tally(result, link.ID, deactivated, err)
			after = repository.CursorAfter(link.ExpiresAt, link.ID)
		}
		return len(links), after, nil
	})
	return s.finish(result, err)
}

// batches выбирает пакеты по курсору, пока очередной пакет полный.
// Курсор сдвигается за каждую просмотренную строку, в том числе за строки
// с ошибкой записи: они не мешают дойти до строк за ними, а повторная
// попытка будет в следующем проходе.
func (s *SweeperService) batches(
	ctx context.Context,
	result *SweepResult,
	step func(ctx context.Context, after repository.Cursor) (scanned int, next repository.Cursor, err error),
) error {
	var after repository.Cursor
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		scanned, next, err := step(ctx, after)
		if err != nil {
			return err
		}
		result.Scanned += scanned
		if scanned < s.batchSize {
			return nil
		}
		after = next
	}
}

// tally учитывает результат обработки одной строки.
func (s *SweeperService) tally(result *SweepResult, id string, changed bool, err error) {
	switch {
	case err != nil:
		result.Failed++
		sweepItems.WithLabelValues(result.Kind, "failed").Inc()
		s.logger.Error("Ошибка очистки строки",
			slog.String("kind", result.Kind),
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	case changed:
		result.Processed++
		sweepItems.WithLabelValues(result.Kind, "processed").Inc()
	default:
		result.Skipped++
		sweepItems.WithLabelValues(result.Kind, "skipped").Inc()
	}
}

func (s *SweeperService) newResult(kind string) *SweepResult {
	return &SweepResult{Kind: kind, StartedAt: s.clock.Now()}
}

func (s *SweeperService) finish(result *SweepResult, err error) (*SweepResult, error) {
	result.Duration = s.clock.Now().Sub(result.StartedAt)
	sweepDuration.WithLabelValues(result.Kind).Observe(result.Duration.Seconds())

	if err != nil {
		sweepRuns.WithLabelValues(result.Kind, "error").Inc()
		s.logger.Error("Ошибка прохода очистки",
			slog.String("kind", result.Kind),
			slog.Int("processed", result.Processed),
			slog.String("error", err.Error()),
		)
		return result, err
	}

	sweepRuns.WithLabelValues(result.Kind, "success").Inc()
	s.logger.Info("Проход очистки завершён",
		slog.String("kind", result.Kind),
		slog.Int("scanned", result.Scanned),
		slog.Int("processed", result.Processed),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}
