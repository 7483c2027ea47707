// dto.go — типы запросов и ответов HTTP API и маппинг из доменных моделей.
package handlers

import (
	"time"

	"github.com/bigkaa/lexdocs/access-core/internal/domain/model"
	"github.com/bigkaa/lexdocs/access-core/internal/service"
)

// listResponse — страница списка.
type listResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// --- Блокировки ---

type lockTokenResponse struct {
	DocumentID  string    `json:"document_id"`
	LockedBy    string    `json:"locked_by"`
	LockedAt    time.Time `json:"locked_at"`
	AlreadyHeld bool      `json:"already_held"`
}

type lockStatusResponse struct {
	DocumentID string     `json:"document_id"`
	IsLocked   bool       `json:"is_locked"`
	LockedBy   *string    `json:"locked_by,omitempty"`
	LockedAt   *time.Time `json:"locked_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

func mapLockToken(t *model.LockToken) lockTokenResponse {
	return lockTokenResponse{
		DocumentID:  t.DocumentID,
		LockedBy:    t.LockedBy,
		LockedAt:    t.LockedAt,
		AlreadyHeld: t.AlreadyHeld,
	}
}

func mapLockStatus(s *model.LockStatus) lockStatusResponse {
	return lockStatusResponse{
		DocumentID: s.DocumentID,
		IsLocked:   s.IsLocked,
		LockedBy:   s.LockedBy,
		LockedAt:   s.LockedAt,
		ExpiresAt:  s.ExpiresAt,
	}
}

// --- Внешние ссылки ---

type createLinkRequest struct {
	ExpiresAt      time.Time `json:"expires_at"`
	MaxAccessCount *int      `json:"max_access_count,omitempty"`
	Password       *string   `json:"password,omitempty"`
}

type reactivateLinkRequest struct {
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	MaxAccessCount *int       `json:"max_access_count,omitempty"`
}

type accessLinkRequest struct {
	Password *string `json:"password,omitempty"`
}

// linkResponse — представление ссылки. Хэш пароля не выдаётся никогда,
// токен только в ответе на создание.
type linkResponse struct {
	ID                 string     `json:"id"`
	DocumentID         string     `json:"document_id"`
	Token              string     `json:"token,omitempty"`
	CreatedBy          string     `json:"created_by"`
	ExpiresAt          time.Time  `json:"expires_at"`
	MaxAccessCount     *int       `json:"max_access_count,omitempty"`
	CurrentAccessCount int        `json:"current_access_count"`
	PasswordProtected  bool       `json:"password_protected"`
	IsActive           bool       `json:"is_active"`
	DeactivatedAt      *time.Time `json:"deactivated_at,omitempty"`
	DeactivationReason *string    `json:"deactivation_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func mapLink(l *model.SharedLink, withToken bool) linkResponse {
	resp := linkResponse{
		ID:                 l.ID,
		DocumentID:         l.DocumentID,
		CreatedBy:          l.CreatedBy,
		ExpiresAt:          l.ExpiresAt,
		MaxAccessCount:     l.MaxAccessCount,
		CurrentAccessCount: l.CurrentAccessCount,
		PasswordProtected:  l.HasPassword(),
		IsActive:           l.IsActive,
		DeactivatedAt:      l.DeactivatedAt,
		DeactivationReason: l.DeactivationReason,
		CreatedAt:          l.CreatedAt,
	}
	if withToken {
		resp.Token = l.Token
	}
	return resp
}

type documentRefResponse struct {
	DocumentID        string    `json:"document_id"`
	LinkID            string    `json:"link_id"`
	RemainingAccesses *int      `json:"remaining_accesses,omitempty"`
	ExpiresAt         time.Time `json:"expires_at"`
}

func mapDocumentRef(d *model.DocumentRef) documentRefResponse {
	return documentRefResponse{
		DocumentID:        d.DocumentID,
		LinkID:            d.LinkID,
		RemainingAccesses: d.RemainingAccesses,
		ExpiresAt:         d.ExpiresAt,
	}
}

type accessLogResponse struct {
	ID         string    `json:"id"`
	LinkID     string    `json:"link_id"`
	AccessedAt time.Time `json:"accessed_at"`
	IPAddress  *string   `json:"ip_address,omitempty"`
	UserAgent  *string   `json:"user_agent,omitempty"`
}

func mapAccessLog(e *model.LinkAccessLog) accessLogResponse {
	return accessLogResponse{
		ID:         e.ID,
		LinkID:     e.LinkID,
		AccessedAt: e.AccessedAt,
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
	}
}

// --- Аутентификация ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"` //nolint:gosec // G117: учётные данные входа
}

type currentUserResponse struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Role     string   `json:"role"`
	Groups   []string `json:"groups,omitempty"`
}

type idpStatusResponse struct {
	Connected bool    `json:"connected"`
	Realm     string  `json:"realm"`
	Error     *string `json:"error,omitempty"`
}

func mapIDPStatus(s *service.IDPStatus) idpStatusResponse {
	return idpStatusResponse{Connected: s.Connected, Realm: s.Realm, Error: s.Error}
}

// --- Аудит ---

type auditEntryResponse struct {
	ID          string         `json:"id"`
	Event       string         `json:"event"`
	Category    string         `json:"category"`
	Action      string         `json:"action"`
	SubjectID   *string        `json:"subject_id,omitempty"`
	SubjectName *string        `json:"subject_name,omitempty"`
	Data        map[string]any `json:"data"`
	IPAddress   *string        `json:"ip_address,omitempty"`
	UserAgent   *string        `json:"user_agent,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func mapAuditEntry(e *model.AuditEntry) auditEntryResponse {
	return auditEntryResponse{
		ID:          e.ID,
		Event:       e.Event,
		Category:    e.Category,
		Action:      e.Action,
		SubjectID:   e.SubjectID,
		SubjectName: e.SubjectName,
		Data:        e.Data,
		IPAddress:   e.IPAddress,
		UserAgent:   e.UserAgent,
		CreatedAt:   e.CreatedAt,
	}
}

// mapSlice применяет fn к каждому элементу. Пустой вход даёт пустой (не nil) срез.
func mapSlice[S, D any](items []S, fn func(S) D) []D {
	out := make([]D, 0, len(items))
	for _, it := range items {
		out = append(out, fn(it))
	}
	return out
}
