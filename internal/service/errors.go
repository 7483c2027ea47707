// errors.go — ошибки бизнес-логики сервисного слоя.
//
// Ошибки конкретных ситуаций оборачивают базовую категорию, поэтому
// errors.Is работает на обоих уровнях: errors.Is(ErrAlreadyLocked, ErrConflict) == true.
package service

import (
	"errors"
	"fmt"
)

// Базовые категории.
var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — состояние ресурса не позволяет выполнить операцию.
	ErrConflict = errors.New("конфликт состояния")
	// ErrForbidden — недостаточно прав.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrUnauthorized — требуется аутентификация или она не пройдена.
	ErrUnauthorized = errors.New("требуется аутентификация")
	// ErrGone — ресурс больше недоступен.
	ErrGone = errors.New("ресурс больше недоступен")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrIDPUnavailable — Identity Provider (Keycloak) недоступен.
	ErrIDPUnavailable = errors.New("Identity Provider недоступен")
)

// Блокировки документов.
var (
	ErrAlreadyLocked = fmt.Errorf("%w: документ заблокирован другим пользователем", ErrConflict)
	ErrNotLocked     = fmt.Errorf("%w: документ не заблокирован", ErrConflict)
	ErrNotOwner      = fmt.Errorf("%w: блокировка принадлежит другому пользователю", ErrForbidden)
)

// Внешние ссылки.
var (
	ErrLinkNotFound     = fmt.Errorf("%w: ссылка не найдена", ErrNotFound)
	ErrLinkInactive     = fmt.Errorf("%w: ссылка деактивирована", ErrGone)
	ErrLinkExpired      = fmt.Errorf("%w: срок действия ссылки истёк", ErrGone)
	ErrLinkLimitReached = fmt.Errorf("%w: лимит обращений по ссылке исчерпан", ErrConflict)
	ErrWrongPassword    = fmt.Errorf("%w: неверный пароль ссылки", ErrUnauthorized)
)

// ErrSweepInProgress — проход sweeper'а того же типа уже выполняется.
var ErrSweepInProgress = fmt.Errorf("%w: очистка уже выполняется", ErrConflict)
