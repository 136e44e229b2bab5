// Package guard решает, что делать с запросом на защищённый маршрут:
// отрисовать, переключить роль или отправить на логин. Чистый
// синхронный автомат поверх сессионного Store, без обращений к сети.
package guard

import (
	"trading-crm/pkg/session"
)

// Decision - исход проверки маршрута
type Decision int

const (
	// RedirectLogin: ни одна разрешённая роль не имеет сохранённой
	// Identity, доступа нет
	RedirectLogin Decision = iota
	// Switched: подходящая Identity есть, но активна другая роль.
	// Переключение выполняется ровно один раз и не повторяется.
	Switched
	// Render: активная роль разрешена, терминальное состояние
	Render
)

func (d Decision) String() string {
	switch d {
	case RedirectLogin:
		return "redirect-login"
	case Switched:
		return "switched"
	case Render:
		return "render"
	}
	return "unknown"
}

// Sessions - срез сессионного Store, который нужен охране маршрутов
type Sessions interface {
	ActiveRole() session.Role
	HasIdentity(role session.Role) bool
	SwitchRole(role session.Role, navigate func(route string)) error
}

// Result - решение плюс роль и маршрут, к которым оно привело
type Result struct {
	Decision Decision
	Role     session.Role
	Route    string
}

// Guard охраняет маршруты, опираясь только на внедрённую сессию
type Guard struct {
	sessions Sessions
}

func New(sessions Sessions) *Guard {
	return &Guard{sessions: sessions}
}

// Decide проверяет маршрут, доступный ролям allowed. Если активная
// роль разрешена - Render. Иначе одна попытка переключения на самую
// привилегированную разрешённую роль с сохранённой Identity; если
// переключаться не на что - RedirectLogin.
func (g *Guard) Decide(allowed []session.Role, navigate func(route string)) Result {
	allowedSet := make(map[session.Role]bool, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = true
	}

	active := g.sessions.ActiveRole()
	if allowedSet[active] {
		return Result{Decision: Render, Role: active, Route: active.HomeRoute()}
	}

	for _, candidate := range session.SwitchPriority() {
		if !allowedSet[candidate] {
			continue
		}
		if !g.sessions.HasIdentity(candidate) {
			continue
		}
		// Единственная попытка: отказ переключения не повторяется,
		// а уходит в редирект
		if err := g.sessions.SwitchRole(candidate, navigate); err != nil {
			break
		}
		return Result{Decision: Switched, Role: candidate, Route: candidate.HomeRoute()}
	}

	return Result{Decision: RedirectLogin, Route: "/login"}
}
