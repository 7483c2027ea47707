package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore — общие для всех экземпляров счётчики в Redis.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore создаёт хранилище поверх клиента Redis.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Incr выполняет INCR и PEXPIRE одной транзакцией MULTI/EXEC.
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.PExpire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis INCR %s: %w", key, err)
	}
	return incr.Val(), nil
}

// Ping проверяет доступность Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// CheckReady — проверка готовности для /health/ready.
// Недоступность Redis не останавливает сервис (fail open), поэтому degraded.
func (s *RedisStore) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		return "degraded", fmt.Sprintf("redis недоступен: %v", err)
	}
	return "ok", ""
}
