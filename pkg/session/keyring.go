package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "identity:"

// KeyringRepository хранит Identity в системном keychain. Каждая
// роль - отдельная запись identity:<role>, значением служит
// JSON-снимок Identity.
type KeyringRepository struct {
	ring keyring.Keyring
	log  *logrus.Entry
}

// NewKeyringRepository открывает keychain сервиса. fileDir - каталог
// file-бэкенда на системах без нативного keychain.
func NewKeyringRepository(serviceName, fileDir string) (*KeyringRepository, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(serviceName + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}

	return &KeyringRepository{
		ring: ring,
		log:  logrus.WithField("component", "session-keyring"),
	}, nil
}

func (k *KeyringRepository) Get(role Role) (*Identity, error) {
	item, err := k.ring.Get(keyPrefix + string(role))
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading identity for %s: %w", role, err)
	}

	var identity Identity
	if err := json.Unmarshal(item.Data, &identity); err != nil {
		k.log.WithError(err).WithField("role", role).
			Warn("stored identity is corrupted, treating as absent")
		return nil, nil
	}
	return &identity, nil
}

func (k *KeyringRepository) Set(role Role, identity Identity) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("encoding identity for %s: %w", role, err)
	}

	if err := k.ring.Set(keyring.Item{
		Key:  keyPrefix + string(role),
		Data: data,
	}); err != nil {
		return fmt.Errorf("storing identity for %s: %w", role, err)
	}
	return nil
}

func (k *KeyringRepository) Remove(role Role) error {
	err := k.ring.Remove(keyPrefix + string(role))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("removing identity for %s: %w", role, err)
	}
	return nil
}

func (k *KeyringRepository) Roles() ([]Role, error) {
	keys, err := k.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("listing identities: %w", err)
	}

	stored := make(map[Role]bool, len(keys))
	for _, key := range keys {
		if !strings.HasPrefix(key, keyPrefix) {
			continue
		}
		role, ok := ParseRole(strings.TrimPrefix(key, keyPrefix))
		if !ok {
			continue
		}
		stored[role] = true
	}

	roles := make([]Role, 0, len(stored))
	for _, role := range SwitchPriority() {
		if stored[role] {
			roles = append(roles, role)
		}
	}
	return roles, nil
}
