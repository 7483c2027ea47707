package model

import "time"

// Причины деактивации ссылки.
const (
	DeactivationExpired      = "expired"
	DeactivationLimitReached = "limit_reached"
	DeactivationManual       = "manual"
)

// SharedLink — внешняя ссылка доступа к документу.
// Хранится в таблице shared_links. Никогда не удаляется физически.
type SharedLink struct {
	// ID — UUID записи
	ID string
	// DocumentID — UUID документа
	DocumentID string
	// Token — секрет ссылки (base64url, 43 символа)
	Token string
	// CreatedBy — ID пользователя-создателя
	CreatedBy string
	// ExpiresAt — время истечения
	ExpiresAt time.Time
	// MaxAccessCount — лимит обращений (nil — без лимита)
	MaxAccessCount *int
	// CurrentAccessCount — число успешных обращений, только растёт
	CurrentAccessCount int
	// PasswordHash — bcrypt-хэш пароля (nil — без пароля)
	PasswordHash *string
	// IsActive — ссылка действует
	IsActive bool
	// Version — счётчик изменений
	Version int64
	// DeactivatedAt — время деактивации
	DeactivatedAt *time.Time
	// DeactivationReason — expired, limit_reached, manual
	DeactivationReason *string
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// Expired возвращает true, если срок ссылки истёк на момент now.
func (l *SharedLink) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Exhausted возвращает true, если лимит обращений исчерпан.
func (l *SharedLink) Exhausted() bool {
	return l.MaxAccessCount != nil && l.CurrentAccessCount >= *l.MaxAccessCount
}

// HasPassword сообщает, защищена ли ссылка паролем.
func (l *SharedLink) HasPassword() bool {
	return l.PasswordHash != nil
}

// LinkAccessLog — запись об успешном обращении по ссылке.
// Хранится в таблице link_access_logs, только вставка.
type LinkAccessLog struct {
	ID         string
	LinkID     string
	AccessedAt time.Time
	IPAddress  *string
	UserAgent  *string
}

// DocumentRef — ссылка на документ, выдаваемая после успешного Access.
type DocumentRef struct {
	DocumentID string
	LinkID     string
	// RemainingAccesses — оставшиеся обращения (nil — без лимита)
	RemainingAccesses *int
	ExpiresAt         time.Time
}
