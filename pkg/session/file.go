package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// FileRepository хранит Identity в одном JSON-файле (по записи на
// роль). Повреждённая запись логируется и считается отсутствующей
// только для своей роли, остальные продолжают работать.
type FileRepository struct {
	mu   sync.Mutex
	path string
	log  *logrus.Entry
}

func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: path,
		log:  logrus.WithField("component", "session-file"),
	}
}

// load читает файл в карту сырых записей. Отсутствующий или целиком
// нечитаемый файл - пустое хранилище, не ошибка.
func (f *FileRepository) load() map[Role]json.RawMessage {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			f.log.WithError(err).Warn("failed to read session file, treating as empty")
		}
		return map[Role]json.RawMessage{}
	}

	var raw map[Role]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		f.log.WithError(err).Warn("session file is corrupted, treating as empty")
		return map[Role]json.RawMessage{}
	}
	return raw
}

func (f *FileRepository) save(raw map[Role]json.RawMessage) error {
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	// Пишем во временный файл и переименовываем, чтобы упавшая
	// запись не портила существующие Identity
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

func (f *FileRepository) Get(role Role) (*Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, ok := f.load()[role]
	if !ok {
		return nil, nil
	}

	var identity Identity
	if err := json.Unmarshal(raw, &identity); err != nil {
		f.log.WithError(err).WithField("role", role).
			Warn("stored identity is corrupted, treating as absent")
		return nil, nil
	}
	return &identity, nil
}

func (f *FileRepository) Set(role Role, identity Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw := f.load()
	encoded, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}
	raw[role] = encoded
	return f.save(raw)
}

func (f *FileRepository) Remove(role Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw := f.load()
	if _, ok := raw[role]; !ok {
		return nil
	}
	delete(raw, role)
	return f.save(raw)
}

func (f *FileRepository) Roles() ([]Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw := f.load()
	roles := make([]Role, 0, len(raw))
	for _, role := range SwitchPriority() {
		entry, ok := raw[role]
		if !ok {
			continue
		}
		// Повреждённая запись не считается сохранённой ролью
		var identity Identity
		if err := json.Unmarshal(entry, &identity); err != nil {
			continue
		}
		roles = append(roles, role)
	}
	return roles, nil
}
