package rbac

import "testing"

func TestHighestRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  string
	}{
		{name: "пустой набор", roles: nil, want: ""},
		{name: "один admin", roles: []string{RoleAdmin}, want: RoleAdmin},
		{name: "один member", roles: []string{RoleMember}, want: RoleMember},
		{name: "member + admin", roles: []string{RoleMember, RoleAdmin}, want: RoleAdmin},
		{name: "admin + member", roles: []string{RoleAdmin, RoleMember}, want: RoleAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HighestRole(tt.roles); got != tt.want {
				t.Errorf("HighestRole(%v) = %q, хотели %q", tt.roles, got, tt.want)
			}
		})
	}
}

func TestMapGroupsToRole(t *testing.T) {
	adminGroups := []string{"lexdocs-admins"}
	memberGroups := []string{"lexdocs-members", "partners"}

	tests := []struct {
		name   string
		groups []string
		want   string
	}{
		{name: "нет групп", groups: nil, want: ""},
		{name: "неизвестная группа", groups: []string{"guests"}, want: ""},
		{name: "member", groups: []string{"partners"}, want: RoleMember},
		{name: "admin", groups: []string{"lexdocs-admins"}, want: RoleAdmin},
		{name: "обе группы", groups: []string{"lexdocs-members", "lexdocs-admins"}, want: RoleAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapGroupsToRole(tt.groups, adminGroups, memberGroups); got != tt.want {
				t.Errorf("MapGroupsToRole(%v) = %q, хотели %q", tt.groups, got, tt.want)
			}
		})
	}
}

func TestResolveRole(t *testing.T) {
	adminGroups := []string{"lexdocs-admins"}
	memberGroups := []string{"lexdocs-members"}

	tests := []struct {
		name       string
		groups     []string
		realmRoles []string
		want       string
	}{
		{name: "роль из групп приоритетна", groups: []string{"lexdocs-members"}, realmRoles: []string{RoleAdmin}, want: RoleMember},
		{name: "fallback на realm роли", realmRoles: []string{"offline_access", RoleAdmin}, want: RoleAdmin},
		{name: "только неизвестные роли", realmRoles: []string{"uma_authorization"}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveRole(tt.groups, tt.realmRoles, adminGroups, memberGroups); got != tt.want {
				t.Errorf("ResolveRole() = %q, хотели %q", got, tt.want)
			}
		})
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range []string{RoleAdmin, RoleMember} {
		if !IsValidRole(r) {
			t.Errorf("IsValidRole(%q) = false", r)
		}
	}
	if IsValidRole("readonly") {
		t.Error("IsValidRole(readonly) = true, роль не поддерживается")
	}
	if !IsAdmin(RoleAdmin) || IsAdmin(RoleMember) {
		t.Error("IsAdmin вернул неверный результат")
	}
}
