package service

import (
	"context"

	"github.com/bigkaa/lexdocs/access-core/internal/audit"
	"github.com/bigkaa/lexdocs/access-core/internal/domain/model"
	"github.com/bigkaa/lexdocs/access-core/internal/domain/rbac"
	"github.com/bigkaa/lexdocs/access-core/internal/notify"
)

// SystemActorID — субъект автоматических действий (sweeper).
const SystemActorID = "system"

// Actor — субъект операции. Передаётся явно в каждый вызов сервиса;
// сервисы не читают идентичность из контекста запроса.
type Actor struct {
	// ID — sub из JWT или SystemActorID
	ID string
	// Name — preferred_username
	Name string
	// Role — роль (rbac.RoleAdmin, rbac.RoleMember или пусто)
	Role string
	// IP, UserAgent — данные клиента для аудита
	IP        string
	UserAgent string
}

// SystemActor возвращает субъекта для автоматических действий.
func SystemActor() Actor {
	return Actor{ID: SystemActorID, Name: SystemActorID, Role: rbac.RoleAdmin}
}

// IsAdmin сообщает, есть ли у субъекта административные права.
func (a Actor) IsAdmin() bool {
	return rbac.IsAdmin(a.Role)
}

// RequestContext — данные анонимного запроса (доступ по ссылке).
type RequestContext struct {
	IP        string
	UserAgent string
}

// AuditRecorder — запись событий аудита (реализуется audit.Recorder).
// Record не возвращает ошибок: сбой аудита не влияет на результат операции.
type AuditRecorder interface {
	Record(ctx context.Context, entry *model.AuditEntry)
}

// Notifier — неблокирующая отправка уведомлений (реализуется notify.Dispatcher).
type Notifier interface {
	Publish(n notify.Notification) bool
}

// actorEntry создаёт запись аудита от имени субъекта.
func actorEntry(category, action string, actor Actor) *model.AuditEntry {
	e := audit.WithSubject(audit.NewEntry(category, action), actor.ID, actor.Name)
	return audit.WithClient(e, actor.IP, actor.UserAgent)
}

// anonymousEntry создаёт запись аудита для анонимного запроса.
func anonymousEntry(category, action string, rc RequestContext) *model.AuditEntry {
	return audit.WithClient(audit.NewEntry(category, action), rc.IP, rc.UserAgent)
}
