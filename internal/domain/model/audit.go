package model

import "time"

// Категории записей аудита.
const (
	AuditCategoryLock      = "lock"
	AuditCategoryLink      = "link"
	AuditCategoryAuth      = "auth"
	AuditCategoryAdmission = "admission"
	AuditCategoryRequest   = "request"
)

// Действия, фиксируемые в журнале аудита.
const (
	ActionLockAcquired       = "lock_acquired"
	ActionLockAcquireDenied  = "lock_acquire_denied"
	ActionLockReleased       = "lock_released"
	ActionLockReleaseDenied  = "lock_release_denied"
	ActionLockForceReleased  = "lock_force_released"
	ActionLockAutoReleased   = "lock_auto_released"
	ActionLinkCreated        = "link_created"
	ActionLinkAccessed       = "link_accessed"
	ActionLinkAccessDenied   = "link_access_denied"
	ActionLinkDeactivated    = "link_deactivated"
	ActionLinkReactivated    = "link_reactivated"
	ActionLinkAutoDeactivated ="link_auto_deactivated"
	ActionLoginSucceeded     = "login_succeeded"
	ActionLoginFailed        = "login_failed"
	ActionRateLimitRejected  = "rate_limit_rejected"
	ActionRequestStarted     = "request_started"
	ActionRequestCompleted   = "request_completed"
	ActionRequestFailed      = "request_failed"
)

// AuditEntry — запись журнала аудита.
// Хранится в таблице audit_entries, только вставка.
type AuditEntry struct {
	// ID — UUID записи
	ID string
	// Event — тип события в формате <category>.<action>
	Event string
	// Category — lock, link, auth, admission, request
	Category string
	// Action — одно из Action*
	Action string
	// SubjectID — ID пользователя или system (nil для анонимного)
	SubjectID *string
	// SubjectName — имя пользователя
	SubjectName *string
	// Data — произвольные данные события (JSONB)
	Data map[string]any
	IPAddress *string
	UserAgent *string
	// CreatedAt — время события
	CreatedAt time.Time
}

// AuditFilter — фильтр выборки журнала аудита.
type AuditFilter struct {
	Category  *string
	Action    *string
	SubjectID *string
	From      *time.Time
	To        *time.Time
}
