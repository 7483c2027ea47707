package audit

import "github.com/bigkaa/lexdocs/access-core/internal/domain/model"

// NewEntry создаёт запись аудита с пустым набором данных.
func NewEntry(category, action string) *model.AuditEntry {
	return &model.AuditEntry{
		Category: category,
		Action:   action,
		Data:     map[string]any{},
	}
}

// WithSubject заполняет субъекта записи. Пустой id оставляет субъекта анонимным.
func WithSubject(e *model.AuditEntry, id, name string) *model.AuditEntry {
	if id != "" {
		e.SubjectID = &id
	}
	if name != "" {
		e.SubjectName = &name
	}
	return e
}

// WithClient заполняет IP-адрес и User-Agent клиента.
func WithClient(e *model.AuditEntry, ip, userAgent string) *model.AuditEntry {
	if ip != "" {
		e.IPAddress = &ip
	}
	if userAgent != "" {
		e.UserAgent = &userAgent
	}
	return e
}
