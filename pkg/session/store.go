package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Store - синглтон сессии поверх Repository. Держит инвариант:
// IsAuthenticated() истинно ровно тогда, когда для активной роли
// существует сохранённая Identity. Repository читается только при
// создании, логине, логауте и переключении; перезапись хранилища
// другим процессом до следующей операции не видна (принятое
// ограничение, как и у вкладок браузера).
type Store struct {
	mu   sync.Mutex
	repo Repository
	api  *apiClient
	log  *logrus.Entry

	active Role

	// Имперсонация: админ временно смотрит CRM глазами клиента.
	// impersonatorRole хранит его собственную роль для возврата.
	impersonated     bool
	impersonatorRole Role
}

// NewStore восстанавливает сессию из репозитория: активной становится
// самая привилегированная из сохранённых ролей, при пустом хранилище
// сессия не аутентифицирована.
func NewStore(baseURL string, repo Repository) *Store {
	s := &Store{
		repo: repo,
		api:  newAPIClient(baseURL),
		log:  logrus.WithField("component", "session"),
	}

	roles, err := repo.Roles()
	if err != nil {
		s.log.WithError(err).Warn("failed to restore session, starting logged out")
		return s
	}
	if len(roles) > 0 {
		s.active = roles[0]
	}
	return s
}

// ActiveRole возвращает текущую роль или RoleNone
func (s *Store) ActiveRole() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Store) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != RoleNone
}

func (s *Store) IsImpersonated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.impersonated
}

// Current возвращает Identity активной роли
func (s *Store) Current() (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == RoleNone {
		return nil, nil
	}
	return s.repo.Get(s.active)
}

// HasIdentity сообщает, есть ли сохранённая Identity для роли
func (s *Store) HasIdentity(role Role) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasIdentity(role)
}

func (s *Store) hasIdentity(role Role) bool {
	identity, err := s.repo.Get(role)
	if err != nil {
		s.log.WithError(err).WithField("role", role).Warn("repository read failed")
		return false
	}
	return identity != nil
}

// StoredRoles возвращает роли с сохранённой Identity по приоритету
func (s *Store) StoredRoles() []Role {
	s.mu.Lock()
	defer s.mu.Unlock()

	roles, err := s.repo.Roles()
	if err != nil {
		s.log.WithError(err).Warn("repository listing failed")
		return nil
	}
	return roles
}

// HasMultipleRoles - сохранено больше одной Identity (показывать ли
// переключатель ролей)
func (s *Store) HasMultipleRoles() bool {
	return len(s.StoredRoles()) > 1
}

// Login обменивает учётные данные на Identity, сохраняет её под
// ролью, которую выбрал сервер, делает роль активной и возвращает
// роль с её домашним маршрутом
func (s *Store) Login(ctx context.Context, email, password string) (Role, string, error) {
	identity, err := s.api.login(ctx, email, password)
	if err != nil {
		return RoleNone, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Set(identity.Role, identity); err != nil {
		return RoleNone, "", fmt.Errorf("failed to store identity: %w", err)
	}
	s.active = identity.Role
	s.impersonated = false

	s.log.WithFields(logrus.Fields{
		"role":  identity.Role,
		"email": identity.Email,
	}).Info("logged in")

	return identity.Role, identity.Role.HomeRoute(), nil
}

// Logout удаляет Identity одной роли. Если роль была активной,
// активную перехватывает самая привилегированная из оставшихся
// (superadmin > admin > agent > client); не осталось никого - полный
// выход. Возвращает новую активную роль (RoleNone при полном выходе).
func (s *Store) Logout(role Role) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Remove(role); err != nil {
		return s.active, fmt.Errorf("failed to remove identity: %w", err)
	}

	if s.impersonated && role == RoleClient {
		s.impersonated = false
		s.impersonatorRole = RoleNone
	}

	if s.active != role {
		return s.active, nil
	}

	s.active = RoleNone
	for _, candidate := range SwitchPriority() {
		if candidate == role {
			continue
		}
		if s.hasIdentity(candidate) {
			s.active = candidate
			break
		}
	}

	s.log.WithFields(logrus.Fields{
		"removed": role,
		"active":  s.active,
	}).Info("logged out")

	return s.active, nil
}

// LogoutAll удаляет все Identity и сбрасывает сессию
func (s *Store) LogoutAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roles, err := s.repo.Roles()
	if err != nil {
		return fmt.Errorf("failed to list identities: %w", err)
	}
	for _, role := range roles {
		if err := s.repo.Remove(role); err != nil {
			return fmt.Errorf("failed to remove identity for %s: %w", role, err)
		}
	}

	s.active = RoleNone
	s.impersonated = false
	s.impersonatorRole = RoleNone
	return nil
}

// ResolveToken возвращает токен для требуемой роли по явной цепочке
// привилегий: для служебной роли подходит любая сохранённая Identity,
// которая её покрывает (сначала самая привилегированная); client вне
// цепочки и разрешается только собственной Identity.
func (s *Store) ResolveToken(required Role) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, candidate := range SwitchPriority() {
		if !candidate.Satisfies(required) {
			continue
		}
		identity, err := s.repo.Get(candidate)
		if err != nil {
			s.log.WithError(err).WithField("role", candidate).Warn("repository read failed")
			continue
		}
		if identity != nil {
			return identity.Token, nil
		}
	}

	return "", &AuthError{Status: 401, Message: fmt.Sprintf("no stored identity satisfies role %s", required)}
}

// SwitchRole делает активной другую сохранённую роль и зовёт
// navigate с её домашним маршрутом. Без сохранённой Identity -
// залогированный no-op, состояние не меняется.
func (s *Store) SwitchRole(role Role, navigate func(route string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasIdentity(role) {
		s.log.WithField("role", role).Warn("switch requested for role without identity, ignoring")
		return fmt.Errorf("no stored identity for role %s", role)
	}

	s.active = role
	if role != RoleClient || !s.impersonated {
		s.impersonated = false
		s.impersonatorRole = RoleNone
	}

	if navigate != nil {
		navigate(role.HomeRoute())
	}
	return nil
}

// Impersonate берёт клиентскую Identity от имени активного админа и
// переключает сессию на неё. Собственный админский вид и
// имперсонация взаимоисключающие.
func (s *Store) Impersonate(ctx context.Context, clientID string) error {
	s.mu.Lock()
	admin := s.active
	s.mu.Unlock()

	if !admin.Satisfies(RoleAdmin) {
		return &AuthError{Status: 403, Message: "impersonation requires an admin role"}
	}

	adminIdentity, err := s.repo.Get(admin)
	if err != nil || adminIdentity == nil {
		return &AuthError{Status: 401, Message: "no active admin identity"}
	}

	identity, err := s.api.impersonate(ctx, adminIdentity.Token, clientID)
	if err != nil {
		return err
	}
	identity.ImpersonatorID = adminIdentity.UserID

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Set(RoleClient, identity); err != nil {
		return fmt.Errorf("failed to store impersonated identity: %w", err)
	}
	s.active = RoleClient
	s.impersonated = true
	s.impersonatorRole = admin

	s.log.WithFields(logrus.Fields{
		"admin":  adminIdentity.Email,
		"client": identity.Email,
	}).Info("impersonation started")

	return nil
}

// EndImpersonation удаляет одолженную клиентскую Identity и
// возвращает админа к собственному виду. Если админ за время
// имперсонации успел выйти, активную перехватывает оставшаяся роль
// по приоритету, как при обычном логауте.
func (s *Store) EndImpersonation() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.impersonated {
		return nil
	}

	if err := s.repo.Remove(RoleClient); err != nil {
		return fmt.Errorf("failed to remove impersonated identity: %w", err)
	}

	s.active = RoleNone
	if s.hasIdentity(s.impersonatorRole) {
		s.active = s.impersonatorRole
	} else {
		for _, candidate := range SwitchPriority() {
			if s.hasIdentity(candidate) {
				s.active = candidate
				break
			}
		}
	}
	s.impersonated = false
	s.impersonatorRole = RoleNone

	s.log.WithField("role", s.active).Info("impersonation ended")
	return nil
}
