// Пакет rbac — определение роли пользователя по группам и ролям IdP.
// Роли упорядочены по привилегиям: member < admin.
// При нескольких совпадениях берётся максимальная роль.
package rbac

// Роли в порядке возрастания привилегий.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// roleWeight — вес роли для сравнения.
// Чем выше вес, тем больше привилегий.
var roleWeight = map[string]int{
	RoleMember: 1,
	RoleAdmin:  2,
}

// maxRole возвращает роль с максимальными привилегиями из двух.
func maxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную роль из набора.
// Если набор пуст — возвращает пустую строку.
func HighestRole(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	highest := roles[0]
	for _, r := range roles[1:] {
		highest = maxRole(highest, r)
	}
	return highest
}

// MapGroupsToRole определяет роль пользователя на основе его групп IdP.
// Возвращает максимальную роль из всех совпадений.
// Если ни одна группа не совпала — возвращает пустую строку.
func MapGroupsToRole(groups []string, adminGroups, memberGroups []string) string {
	adminSet := toSet(adminGroups)
	memberSet := toSet(memberGroups)

	var roles []string
	for _, g := range groups {
		if adminSet[g] {
			roles = append(roles, RoleAdmin)
		}
		if memberSet[g] {
			roles = append(roles, RoleMember)
		}
	}

	return HighestRole(roles)
}

// ResolveRole вычисляет роль по группам, а если группы не дали роли —
// по realm-ролям токена (учитываются только известные роли).
func ResolveRole(groups, realmRoles, adminGroups, memberGroups []string) string {
	if role := MapGroupsToRole(groups, adminGroups, memberGroups); role != "" {
		return role
	}
	var known []string
	for _, r := range realmRoles {
		if IsValidRole(r) {
			known = append(known, r)
		}
	}
	return HighestRole(known)
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

// IsAdmin сообщает, даёт ли роль административные права.
func IsAdmin(role string) bool {
	return role == RoleAdmin
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
