package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore — счётчики в памяти процесса (LRU с TTL).
// Каждый экземпляр сервиса считает независимо.
type MemoryStore struct {
	// mu защищает get-or-create; само увеличение атомарно
	mu       sync.Mutex
	counters *expirable.LRU[string, *atomic.Int64]
}

// NewMemoryStore создаёт хранилище на maxKeys ключей.
// ttl — время жизни ключа; должно быть не меньше самого длинного окна.
func NewMemoryStore(maxKeys int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		counters: expirable.NewLRU[string, *atomic.Int64](maxKeys, nil, ttl),
	}
}

// Incr увеличивает счётчик. ttl ключа задаётся при создании хранилища.
func (s *MemoryStore) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	return s.counter(key).Add(1), nil
}

func (s *MemoryStore) counter(key string) *atomic.Int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.counters.Get(key); ok {
		return c
	}
	c := &atomic.Int64{}
	s.counters.Add(key, c)
	return c
}

// Len возвращает количество ключей в памяти.
func (s *MemoryStore) Len() int {
	return s.counters.Len()
}
