package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRepositoryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.json")
	repo := NewFileRepository(path)

	identity := Identity{
		Token:   "token-client",
		UserID:  "id-client",
		Email:   "client@example.com",
		Role:    RoleClient,
		SavedAt: time.Now(),
	}
	require.NoError(t, repo.Set(RoleClient, identity))

	loaded, err := repo.Get(RoleClient)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, identity.Token, loaded.Token)
	assert.Equal(t, identity.Email, loaded.Email)

	roles, err := repo.Roles()
	require.NoError(t, err)
	assert.Equal(t, []Role{RoleClient}, roles)

	require.NoError(t, repo.Remove(RoleClient))
	loaded, err = repo.Get(RoleClient)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestFileRepositoryMissingFileIsEmpty(t *testing.T) {
	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.json"))

	identity, err := repo.Get(RoleAdmin)
	require.NoError(t, err)
	assert.Nil(t, identity)

	roles, err := repo.Roles()
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestFileRepositoryCorruptedEntryTreatedAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.json")

	// admin-запись повреждена, client валидна
	content := `{
  "admin": {"token": 12345},
  "client": {"token": "token-client", "userId": "id-client", "email": "client@example.com", "role": "client"}
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	repo := NewFileRepository(path)

	admin, err := repo.Get(RoleAdmin)
	require.NoError(t, err)
	assert.Nil(t, admin, "corrupted entry must read as absent, not as an error")

	client, err := repo.Get(RoleClient)
	require.NoError(t, err)
	require.NotNil(t, client, "corruption of one role must not affect the others")
	assert.Equal(t, "token-client", client.Token)

	roles, err := repo.Roles()
	require.NoError(t, err)
	assert.Equal(t, []Role{RoleClient}, roles)
}

func TestFileRepositoryWholeFileCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.json")
	require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0o600))

	repo := NewFileRepository(path)

	roles, err := repo.Roles()
	require.NoError(t, err)
	assert.Empty(t, roles)

	// Запись поверх мусора восстанавливает хранилище
	require.NoError(t, repo.Set(RoleClient, Identity{Token: "t", Role: RoleClient}))
	loaded, err := repo.Get(RoleClient)
	require.NoError(t, err)
	require.NotNil(t, loaded)
}
