package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newAuthStub поднимает REST-заглушку авторизации: роль выбирается
// по email вида role@example.com
func newAuthStub(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		// Без Content-Type resty не станет разбирать тело ответа
		w.Header().Set("Content-Type", "application/json")

		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "Invalid email or password"})
			return
		}

		role := strings.SplitN(req.Email, "@", 2)[0]
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"token":   "token-" + role,
			"user": map[string]interface{}{
				"id":              "id-" + role,
				"firstname":       "Test",
				"lastname":        "User",
				"email":           req.Email,
				"role":            role,
				"isEmailVerified": true,
			},
		})
	})
	mux.HandleFunc("/api/auth/impersonate/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer token-admin" {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"error": "Access denied"})
			return
		}
		clientID := strings.TrimPrefix(r.URL.Path, "/api/auth/impersonate/")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"token":   "token-impersonated",
			"user": map[string]interface{}{
				"id":        clientID,
				"firstname": "Borrowed",
				"lastname":  "Client",
				"email":     "client@example.com",
				"role":      "client",
			},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func seedIdentity(t *testing.T, repo Repository, role Role) {
	t.Helper()
	require.NoError(t, repo.Set(role, Identity{
		Token:   "token-" + string(role),
		UserID:  "id-" + string(role),
		Email:   string(role) + "@example.com",
		Role:    role,
		SavedAt: time.Now(),
	}))
}

// Инвариант сессии: аутентифицирована ровно тогда, когда для
// активной роли есть сохранённая Identity, на любой
// последовательности операций
func assertConsistent(t *testing.T, store *Store) {
	t.Helper()
	identity, err := store.Current()
	require.NoError(t, err)
	assert.Equal(t, store.IsAuthenticated(), identity != nil,
		"IsAuthenticated must match existence of an identity for the active role")
	if identity != nil {
		assert.Equal(t, store.ActiveRole(), identity.Role)
	}
}

func TestLoginStoresIdentityAndNavigatesHome(t *testing.T) {
	server := newAuthStub(t)
	store := NewStore(server.URL, NewMemoryRepository())

	role, home, err := store.Login(context.Background(), "client@example.com", "secret")
	require.NoError(t, err)

	assert.Equal(t, RoleClient, role)
	assert.Equal(t, "/client", home)
	assert.True(t, store.IsAuthenticated())

	identity, err := store.Current()
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "token-client", identity.Token)
	assert.Equal(t, "client@example.com", identity.Email)
	assertConsistent(t, store)
}

func TestLoginFailureIsErrorNotPanic(t *testing.T) {
	server := newAuthStub(t)
	store := NewStore(server.URL, NewMemoryRepository())

	_, _, err := store.Login(context.Background(), "client@example.com", "wrong")
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
	assert.False(t, store.IsAuthenticated())
	assertConsistent(t, store)
}

func TestSessionStateStaysConsistent(t *testing.T) {
	server := newAuthStub(t)
	store := NewStore(server.URL, NewMemoryRepository())
	ctx := context.Background()

	assertConsistent(t, store)

	_, _, err := store.Login(ctx, "client@example.com", "secret")
	require.NoError(t, err)
	assertConsistent(t, store)

	_, _, err = store.Login(ctx, "admin@example.com", "secret")
	require.NoError(t, err)
	assertConsistent(t, store)
	assert.True(t, store.HasMultipleRoles())

	require.NoError(t, store.SwitchRole(RoleClient, nil))
	assertConsistent(t, store)

	_, err = store.Logout(RoleClient)
	require.NoError(t, err)
	assertConsistent(t, store)

	_, err = store.Logout(RoleAdmin)
	require.NoError(t, err)
	assertConsistent(t, store)
	assert.False(t, store.IsAuthenticated())
}

func TestLogoutTakeoverPriority(t *testing.T) {
	server := newAuthStub(t)
	repo := NewMemoryRepository()
	seedIdentity(t, repo, RoleAdmin)
	seedIdentity(t, repo, RoleSuperAdmin)
	seedIdentity(t, repo, RoleClient)

	store := NewStore(server.URL, repo)
	require.NoError(t, store.SwitchRole(RoleAdmin, nil))

	// admin активен, superadmin сохранён: после выхода из admin
	// перехватывает самая привилегированная роль
	active, err := store.Logout(RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, RoleSuperAdmin, active)
	assertConsistent(t, store)

	active, err = store.Logout(RoleSuperAdmin)
	require.NoError(t, err)
	assert.Equal(t, RoleClient, active)

	active, err = store.Logout(RoleClient)
	require.NoError(t, err)
	assert.Equal(t, RoleNone, active)
	assert.False(t, store.IsAuthenticated())
}

func TestLogoutInactiveRoleKeepsActive(t *testing.T) {
	server := newAuthStub(t)
	repo := NewMemoryRepository()
	seedIdentity(t, repo, RoleAdmin)
	seedIdentity(t, repo, RoleClient)

	store := NewStore(server.URL, repo)
	require.Equal(t, RoleAdmin, store.ActiveRole())

	active, err := store.Logout(RoleClient)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, active)
	assertConsistent(t, store)
}

func TestResolveTokenPrivilegeChain(t *testing.T) {
	server := newAuthStub(t)
	repo := NewMemoryRepository()
	seedIdentity(t, repo, RoleSuperAdmin)
	store := NewStore(server.URL, repo)

	// superadmin покрывает всю служебную цепочку
	for _, required := range []Role{RoleSuperAdmin, RoleAdmin, RoleAgent} {
		token, err := store.ResolveToken(required)
		require.NoError(t, err, "required %s", required)
		assert.Equal(t, "token-superadmin", token)
	}

	// ...но не client: тот вне наследования
	_, err := store.ResolveToken(RoleClient)
	require.Error(t, err)

	seedIdentity(t, repo, RoleClient)
	token, err := store.ResolveToken(RoleClient)
	require.NoError(t, err)
	assert.Equal(t, "token-client", token)
}

func TestResolveTokenClientDoesNotCoverStaff(t *testing.T) {
	server := newAuthStub(t)
	repo := NewMemoryRepository()
	seedIdentity(t, repo, RoleClient)
	store := NewStore(server.URL, repo)

	_, err := store.ResolveToken(RoleAgent)
	require.Error(t, err)
}

func TestSwitchRoleWithoutIdentityIsNoOp(t *testing.T) {
	server := newAuthStub(t)
	repo := NewMemoryRepository()
	seedIdentity(t, repo, RoleClient)
	store := NewStore(server.URL, repo)

	navigated := false
	err := store.SwitchRole(RoleAdmin, func(string) { navigated = true })
	require.Error(t, err)
	assert.False(t, navigated)
	assert.Equal(t, RoleClient, store.ActiveRole())
	assertConsistent(t, store)
}

func TestSwitchRoleNavigatesHome(t *testing.T) {
	server := newAuthStub(t)
	repo := NewMemoryRepository()
	seedIdentity(t, repo, RoleClient)
	seedIdentity(t, repo, RoleAgent)
	store := NewStore(server.URL, repo)

	var route string
	require.NoError(t, store.SwitchRole(RoleClient, func(r string) { route = r }))
	assert.Equal(t, "/client", route)
	assert.Equal(t, RoleClient, store.ActiveRole())
}

func TestImpersonationLifecycle(t *testing.T) {
	server := newAuthStub(t)
	repo := NewMemoryRepository()
	seedIdentity(t, repo, RoleAdmin)
	store := NewStore(server.URL, repo)

	require.NoError(t, store.Impersonate(context.Background(), "client-42"))
	assert.True(t, store.IsImpersonated())
	assert.Equal(t, RoleClient, store.ActiveRole())

	identity, err := store.Current()
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "token-impersonated", identity.Token)
	assert.Equal(t, "id-admin", identity.ImpersonatorID)
	assertConsistent(t, store)

	require.NoError(t, store.EndImpersonation())
	assert.False(t, store.IsImpersonated())
	assert.Equal(t, RoleAdmin, store.ActiveRole())

	// Одолженная Identity не переживает возврат
	borrowed, err := repo.Get(RoleClient)
	require.NoError(t, err)
	assert.Nil(t, borrowed)
}

func TestEndImpersonationAfterAdminLogout(t *testing.T) {
	server := newAuthStub(t)
	repo := NewMemoryRepository()
	seedIdentity(t, repo, RoleAdmin)
	store := NewStore(server.URL, repo)

	require.NoError(t, store.Impersonate(context.Background(), "client-42"))

	// Админ выходит из собственного аккаунта, пока смотрит CRM
	// глазами клиента
	_, err := store.Logout(RoleAdmin)
	require.NoError(t, err)
	assertConsistent(t, store)

	// Возвращаться больше некуда: полный выход, а не зависшая
	// активная роль без Identity
	require.NoError(t, store.EndImpersonation())
	assert.False(t, store.IsImpersonated())
	assert.Equal(t, RoleNone, store.ActiveRole())
	assert.False(t, store.IsAuthenticated())
	assertConsistent(t, store)
}

func TestEndImpersonationFallsBackToStoredRole(t *testing.T) {
	server := newAuthStub(t)
	repo := NewMemoryRepository()
	seedIdentity(t, repo, RoleAdmin)
	seedIdentity(t, repo, RoleAgent)
	store := NewStore(server.URL, repo)

	require.NoError(t, store.Impersonate(context.Background(), "client-42"))
	_, err := store.Logout(RoleAdmin)
	require.NoError(t, err)

	// Агентская Identity осталась и перехватывает активную роль
	require.NoError(t, store.EndImpersonation())
	assert.Equal(t, RoleAgent, store.ActiveRole())
	assertConsistent(t, store)
}

func TestImpersonationRequiresAdmin(t *testing.T) {
	server := newAuthStub(t)
	repo := NewMemoryRepository()
	seedIdentity(t, repo, RoleAgent)
	store := NewStore(server.URL, repo)

	err := store.Impersonate(context.Background(), "client-42")
	require.Error(t, err)
	assert.False(t, store.IsImpersonated())
}
