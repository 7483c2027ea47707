// Пакет clock — источник времени для сервисов.
// Все решения об истечении (TTL блокировок, срок жизни ссылок, окна admission)
// принимаются по времени из Clock, а не по time.Now напрямую.
package clock

import (
	"sync"
	"time"
)

// Clock возвращает текущее время.
type Clock interface {
	Now() time.Time
}

// Real — системные часы. Время всегда в UTC.
type Real struct{}

// Now возвращает текущее время в UTC.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Manual — управляемые часы для тестов.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual создаёт часы, остановленные на моменте start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// Now возвращает текущее значение часов.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance сдвигает часы вперёд на d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set устанавливает часы на момент t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t.UTC()
	m.mu.Unlock()
}
