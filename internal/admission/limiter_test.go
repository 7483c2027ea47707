package admission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/lexdocs/access-core/internal/clock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// failingStore — хранилище, всегда возвращающее ошибку.
type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("store down")
}

func loginPolicy() Policy {
	return Policy{Name: PolicyLogin, Limit: 5, Window: time.Minute}
}

func TestAllow_LoginWindow(t *testing.T) {
	start := time.Date(2026, 4, 1, 9, 0, 10, 0, time.UTC)
	clk := clock.NewManual(start)
	l := NewLimiter(NewMemoryStore(1000, 2*time.Minute), clk, discardLogger())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d := l.Allow(ctx, loginPolicy(), "10.0.0.1")
		if !d.Allowed {
			t.Fatalf("попытка %d отклонена, ожидается разрешение", i)
		}
		if d.Remaining != 5-i {
			t.Errorf("попытка %d: Remaining = %d, ожидается %d", i, d.Remaining, 5-i)
		}
	}

	d := l.Allow(ctx, loginPolicy(), "10.0.0.1")
	if d.Allowed {
		t.Fatal("6-я попытка разрешена, ожидается отказ")
	}
	if got := d.RetryAfterSeconds(); got != 50 {
		t.Errorf("RetryAfterSeconds = %d, ожидается 50", got)
	}

	// Другой IP не затронут
	if !l.Allow(ctx, loginPolicy(), "10.0.0.2").Allowed {
		t.Error("другой IP отклонён")
	}

	// Следующее окно начинается с нуля
	clk.Advance(51 * time.Second)
	if !l.Allow(ctx, loginPolicy(), "10.0.0.1").Allowed {
		t.Error("попытка в новом окне отклонена")
	}
}

func TestRetryAfterSeconds_Minimum(t *testing.T) {
	tests := []struct {
		name  string
		after time.Duration
		want  int
	}{
		{"ноль", 0, 1},
		{"доли секунды", 300 * time.Millisecond, 1},
		{"округление вверх", 1500 * time.Millisecond, 2},
		{"ровно", 30 * time.Second, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Decision{RetryAfter: tt.after}).RetryAfterSeconds(); got != tt.want {
				t.Errorf("RetryAfterSeconds() = %d, ожидается %d", got, tt.want)
			}
		})
	}
}

func TestAllow_FailOpen(t *testing.T) {
	l := NewLimiter(failingStore{}, clock.Real{}, discardLogger())
	d := l.Allow(context.Background(), loginPolicy(), "10.0.0.1")
	if !d.Allowed {
		t.Error("при ошибке хранилища запрос должен быть пропущен")
	}
}

func TestAllow_ConcurrentNeverExceedsLimit(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	l := NewLimiter(NewMemoryStore(1000, time.Minute), clk, discardLogger())
	p := Policy{Name: PolicyGlobalIP, Limit: 20, Window: time.Minute}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(context.Background(), p, "10.0.0.9").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 20 {
		t.Errorf("разрешено %d запросов, ожидается 20", allowed)
	}
}

func TestRedisStore_Incr(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Не удалось запустить miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	store := NewRedisStore(client)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := store.Incr(ctx, "k", time.Minute)
		if err != nil {
			t.Fatalf("Incr() ошибка: %v", err)
		}
		if n != i {
			t.Errorf("Incr() = %d, ожидается %d", n, i)
		}
	}

	if ttl := s.TTL("k"); ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, ожидается (0, 1m]", ttl)
	}

	s.FastForward(2 * time.Minute)
	n, err := store.Incr(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Incr() после истечения: %v", err)
	}
	if n != 1 {
		t.Errorf("Incr() после истечения = %d, ожидается 1", n)
	}
}

func TestLimiter_RedisBackend(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Не удалось запустить miniredis: %v", err)
	}
	defer s.Close()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	clk := clock.NewManual(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	// Два экземпляра с общим Redis делят одно окно
	a := NewLimiter(NewRedisStore(client), clk, discardLogger())
	b := NewLimiter(NewRedisStore(client), clk, discardLogger())
	p := Policy{Name: PolicyLogin, Limit: 2, Window: time.Minute}

	if !a.Allow(context.Background(), p, "ip").Allowed || !b.Allow(context.Background(), p, "ip").Allowed {
		t.Fatal("первые две попытки должны пройти")
	}
	if a.Allow(context.Background(), p, "ip").Allowed {
		t.Error("третья попытка через другой экземпляр должна быть отклонена")
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Не удалось запустить miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()
	s.Close()

	l := NewLimiter(NewRedisStore(client), clock.Real{}, discardLogger())
	if !l.Allow(context.Background(), loginPolicy(), "ip").Allowed {
		t.Error("недоступный Redis должен пропускать запросы")
	}
}

func TestRedisStore_CheckReady(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Не удалось запустить miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()
	store := NewRedisStore(client)

	if status, msg := store.CheckReady(); status != "ok" {
		t.Errorf("CheckReady() = %q (%s), ожидается ok", status, msg)
	}

	s.Close()
	if status, _ := store.CheckReady(); status != "degraded" {
		t.Errorf("CheckReady() после остановки = %q, ожидается degraded", status)
	}
}
