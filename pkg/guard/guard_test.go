package guard_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-crm/pkg/guard"
	"trading-crm/pkg/session"
)

func newStore(t *testing.T, roles ...session.Role) *session.Store {
	t.Helper()

	repo := session.NewMemoryRepository()
	for _, role := range roles {
		require.NoError(t, repo.Set(role, session.Identity{
			Token:   "token-" + string(role),
			Role:    role,
			SavedAt: time.Now(),
		}))
	}
	return session.NewStore("http://unused.invalid", repo)
}

func TestRenderWhenActiveRoleAllowed(t *testing.T) {
	store := newStore(t, session.RoleClient)
	g := guard.New(store)

	result := g.Decide([]session.Role{session.RoleClient}, nil)

	assert.Equal(t, guard.Render, result.Decision)
	assert.Equal(t, session.RoleClient, result.Role)
	assert.Equal(t, "/client", result.Route)
}

func TestRedirectWithOnlyClientIdentityOnAdminRoute(t *testing.T) {
	store := newStore(t, session.RoleClient)
	g := guard.New(store)

	navigated := false
	result := g.Decide([]session.Role{session.RoleAdmin, session.RoleSuperAdmin}, func(string) {
		navigated = true
	})

	assert.Equal(t, guard.RedirectLogin, result.Decision)
	assert.Equal(t, "/login", result.Route)
	assert.False(t, navigated)
	// Сессия не тронута
	assert.Equal(t, session.RoleClient, store.ActiveRole())
}

func TestSwitchToStoredAllowedRole(t *testing.T) {
	store := newStore(t, session.RoleClient, session.RoleAdmin)
	require.NoError(t, store.SwitchRole(session.RoleClient, nil))
	g := guard.New(store)

	var route string
	calls := 0
	result := g.Decide([]session.Role{session.RoleAdmin}, func(r string) {
		route = r
		calls++
	})

	assert.Equal(t, guard.Switched, result.Decision)
	assert.Equal(t, session.RoleAdmin, result.Role)
	assert.Equal(t, "/admin", route)
	assert.Equal(t, 1, calls, "exactly one switch attempt")
	assert.Equal(t, session.RoleAdmin, store.ActiveRole())

	// Повторная проверка того же маршрута терминальна: Render
	again := g.Decide([]session.Role{session.RoleAdmin}, func(string) { calls++ })
	assert.Equal(t, guard.Render, again.Decision)
	assert.Equal(t, 1, calls)
}

func TestSwitchPrefersMostPrivilegedAllowed(t *testing.T) {
	store := newStore(t, session.RoleClient, session.RoleAgent, session.RoleSuperAdmin)
	require.NoError(t, store.SwitchRole(session.RoleClient, nil))
	g := guard.New(store)

	result := g.Decide([]session.Role{session.RoleAgent, session.RoleSuperAdmin}, nil)

	assert.Equal(t, guard.Switched, result.Decision)
	assert.Equal(t, session.RoleSuperAdmin, result.Role)
}

func TestRedirectWithNoIdentitiesAtAll(t *testing.T) {
	store := newStore(t)
	g := guard.New(store)

	result := g.Decide([]session.Role{session.RoleClient}, nil)
	assert.Equal(t, guard.RedirectLogin, result.Decision)
}
