package model

import "time"

// Document — документ с полями блокировки check-out.
// Хранится в таблице documents. Содержимое документа и его метаданные
// ведёт внешняя система, здесь только состояние блокировки.
type Document struct {
	// ID — UUID документа
	ID string
	// Title — название (для аудита и уведомлений)
	Title string
	// IsLocked — документ взят на редактирование
	IsLocked bool
	// LockedBy — ID пользователя-держателя блокировки (nil, если не заблокирован)
	LockedBy *string
	// LockedAt — время взятия блокировки (nil, если не заблокирован)
	LockedAt *time.Time
	// Version — счётчик изменений для оптимистичной конкуренции
	Version int64
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// HeldBy сообщает, держит ли userID блокировку документа.
func (d *Document) HeldBy(userID string) bool {
	return d.IsLocked && d.LockedBy != nil && *d.LockedBy == userID
}

// LockExpired возвращает true, если блокировка старше ttl на момент now.
// Для незаблокированного документа всегда false.
func (d *Document) LockExpired(now time.Time, ttl time.Duration) bool {
	if !d.IsLocked || d.LockedAt == nil {
		return false
	}
	return now.Sub(*d.LockedAt) > ttl
}

// LockToken — результат успешного Acquire.
type LockToken struct {
	DocumentID string
	LockedBy   string
	LockedAt   time.Time
	// AlreadyHeld — блокировка уже принадлежала пользователю (повторный Acquire)
	AlreadyHeld bool
}

// LockStatus — представление блокировки для чтения.
type LockStatus struct {
	DocumentID string
	IsLocked   bool
	LockedBy   *string
	LockedAt   *time.Time
	// ExpiresAt — момент, после которого блокировку снимет sweeper
	ExpiresAt *time.Time
}
