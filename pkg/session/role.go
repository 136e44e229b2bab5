// Package session реализует мультиролевое хранилище сессий: до
// четырёх одновременных Identity (client, agent, admin, superadmin)
// с одной активной ролью. Identity живут в подключаемом Repository,
// активную роль и инварианты держит Store.
package session

// Role - роль аккаунта в CRM
type Role string

const (
	RoleClient     Role = "client"
	RoleAgent      Role = "agent"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// RoleNone - сессия без активной роли (полный выход)
const RoleNone Role = ""

// Цепочка привилегий служебных ролей: superadmin ⊇ admin ⊇ agent.
// client в наследовании не участвует.
var staffChain = map[Role]int{
	RoleAgent:      0,
	RoleAdmin:      1,
	RoleSuperAdmin: 2,
}

func (r Role) IsValid() bool {
	switch r {
	case RoleClient, RoleAgent, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

func (r Role) IsStaff() bool {
	_, ok := staffChain[r]
	return ok
}

// Satisfies - единственная точка проверки привилегий: роль r
// покрывает required, если это та же роль или более высокая ступень
// служебной цепочки. client покрывает только client.
func (r Role) Satisfies(required Role) bool {
	if r == required {
		return true
	}
	own, ok := staffChain[r]
	if !ok {
		return false
	}
	need, ok := staffChain[required]
	if !ok {
		return false
	}
	return own >= need
}

// HomeRoute - домашний маршрут дашборда роли
func (r Role) HomeRoute() string {
	switch r {
	case RoleSuperAdmin:
		return "/superadmin"
	case RoleAdmin:
		return "/admin"
	case RoleAgent:
		return "/agent"
	case RoleClient:
		return "/client"
	}
	return "/login"
}

// SwitchPriority - порядок перехвата активной роли при logout и
// порядок разрешения токена: самая привилегированная первой
func SwitchPriority() []Role {
	return []Role{RoleSuperAdmin, RoleAdmin, RoleAgent, RoleClient}
}

// ParseRole нормализует строку в Role
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.IsValid()
}
