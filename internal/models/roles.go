// internal/models/roles.go

package models

// UserRole представляє роль користувача в CRM
type UserRole string

// Константи для ролей
const (
	RoleClient     UserRole = "client"
	RoleAgent      UserRole = "agent"
	RoleAdmin      UserRole = "admin"
	RoleSuperAdmin UserRole = "superadmin"
)

// IsValid перевіряє чи роль валідна
func (r UserRole) IsValid() bool {
	switch r {
	case RoleClient, RoleAgent, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// staffHierarchy - ланцюг привілеїв для службових ролей.
// superadmin покриває admin, admin покриває agent.
// client не входить до ланцюга: токен адміністратора не дає
// доступу до клієнтських ресурсів і навпаки.
var staffHierarchy = map[UserRole]int{
	RoleAgent:      0,
	RoleAdmin:      1,
	RoleSuperAdmin: 2,
}

// Satisfies перевіряє чи токен з роллю r приймається там,
// де вимагається роль required.
func (r UserRole) Satisfies(required UserRole) bool {
	if r == required {
		return true
	}

	currentLevel, ok1 := staffHierarchy[r]
	requiredLevel, ok2 := staffHierarchy[required]
	if !ok1 || !ok2 {
		return false
	}

	return currentLevel >= requiredLevel
}

// IsStaff повертає true для службових ролей (agent/admin/superadmin)
func (r UserRole) IsStaff() bool {
	_, ok := staffHierarchy[r]
	return ok
}

// CanImpersonate перевіряє чи роль може працювати від імені клієнта
func (r UserRole) CanImpersonate() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// HomeRoute повертає стартовий маршрут дашборда для ролі
func (r UserRole) HomeRoute() string {
	switch r {
	case RoleSuperAdmin:
		return "/superadmin"
	case RoleAdmin:
		return "/admin"
	case RoleAgent:
		return "/agent"
	default:
		return "/client"
	}
}

// String повертає строкове представлення ролі
func (r UserRole) String() string {
	return string(r)
}

// AllRoles повертає список всіх доступних ролей
func AllRoles() []UserRole {
	return []UserRole{
		RoleClient,
		RoleAgent,
		RoleAdmin,
		RoleSuperAdmin,
	}
}

// SwitchPriority - порядок, у якому ролі перехоплюють активну сесію,
// коли активна роль розлогінюється: superadmin > admin > agent > client.
func SwitchPriority() []UserRole {
	return []UserRole{
		RoleSuperAdmin,
		RoleAdmin,
		RoleAgent,
		RoleClient,
	}
}

// RoleFromString конвертує string в UserRole
func RoleFromString(role string) (UserRole, bool) {
	r := UserRole(role)
	if r.IsValid() {
		return r, true
	}
	return "", false
}
