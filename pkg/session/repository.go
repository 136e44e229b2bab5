package session

import (
	"sync"
	"time"
)

// Identity - сохранённый вход под одной ролью: токен плюс срез
// профиля, который вернул сервер при логине
type Identity struct {
	Token          string    `json:"token"`
	UserID         string    `json:"userId"`
	Email          string    `json:"email"`
	FirstName      string    `json:"firstname"`
	LastName       string    `json:"lastname"`
	Role           Role      `json:"role"`
	Impersonated   bool      `json:"impersonated,omitempty"`
	ImpersonatorID string    `json:"impersonatorId,omitempty"`
	SavedAt        time.Time `json:"savedAt"`
}

// Repository хранит Identity по ролям. Реализации: память (тесты),
// JSON-файл, системный keychain. Отсутствие Identity для роли - это
// (nil, nil), ошибка означает отказ самого хранилища.
type Repository interface {
	Get(role Role) (*Identity, error)
	Set(role Role, identity Identity) error
	Remove(role Role) error
	Roles() ([]Role, error)
}

// MemoryRepository - потокобезопасное хранилище в памяти
type MemoryRepository struct {
	mu         sync.Mutex
	identities map[Role]Identity
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		identities: make(map[Role]Identity),
	}
}

func (m *MemoryRepository) Get(role Role) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity, ok := m.identities[role]
	if !ok {
		return nil, nil
	}
	return &identity, nil
}

func (m *MemoryRepository) Set(role Role, identity Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.identities[role] = identity
	return nil
}

func (m *MemoryRepository) Remove(role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.identities, role)
	return nil
}

func (m *MemoryRepository) Roles() ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roles := make([]Role, 0, len(m.identities))
	// Стабильный порядок: по приоритету, а не по map-итерации
	for _, role := range SwitchPriority() {
		if _, ok := m.identities[role]; ok {
			roles = append(roles, role)
		}
	}
	return roles, nil
}
