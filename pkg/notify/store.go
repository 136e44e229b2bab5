package notify

import (
	"sync"
)

// Store - локальный список уведомлений получателя, новые сначала.
// Непрочитанные всегда выводятся пересчётом; после того как сервер
// прислал notificationCount, его значение считается авторитетным и
// дальше корректируется локальными мутациями.
type Store struct {
	mu    sync.Mutex
	items []Notification

	serverUnread int64
	serverSeen   bool
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) indexOf(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// Deliver вставляет новое уведомление в начало списка. Повторная
// доставка того же id заменяет запись, а не дублирует её.
func (s *Store) Deliver(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(n.ID); i >= 0 {
		wasUnread := !s.items[i].Read
		s.items[i] = n
		if s.serverSeen && wasUnread != !n.Read {
			if n.Read {
				s.serverUnread--
			} else {
				s.serverUnread++
			}
		}
		return
	}

	s.items = append([]Notification{n}, s.items...)
	if s.serverSeen && !n.Read {
		s.serverUnread++
	}
}

// MarkRead помечает уведомление прочитанным. Идемпотентно: повторный
// вызов и echo с сокета после REST-применения ничего не меняют.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 || s.items[i].Read {
		return false
	}

	s.items[i].Read = true
	if s.serverSeen && s.serverUnread > 0 {
		s.serverUnread--
	}
	return true
}

// MarkAllRead помечает всё прочитанным
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		s.items[i].Read = true
	}
	if s.serverSeen {
		s.serverUnread = 0
	}
}

// Delete удаляет уведомление. Удаление отсутствующего id - no-op.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return false
	}

	wasUnread := !s.items[i].Read
	s.items = append(s.items[:i], s.items[i+1:]...)
	if s.serverSeen && wasUnread && s.serverUnread > 0 {
		s.serverUnread--
	}
	return true
}

// Append добавляет страницу уведомлений из REST в конец списка,
// пропуская уже известные id
func (s *Store) Append(page []Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range page {
		if s.indexOf(n.ID) >= 0 {
			continue
		}
		s.items = append(s.items, n)
	}
}

// Replace целиком заменяет список (полное обновление)
func (s *Store) Replace(items []Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append([]Notification(nil), items...)
}

// Notifications возвращает снимок списка, новые сначала
func (s *Store) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Notification(nil), s.items...)
}

// Len - количество уведомлений в хранилище
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// UnreadCount - серверное значение, если оно уже приходило, иначе
// пересчёт по локальному списку. Счётчик нигде не хранится как
// самостоятельное изменяемое поле.
func (s *Store) UnreadCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.serverSeen {
		return s.serverUnread
	}

	var unread int64
	for i := range s.items {
		if !s.items[i].Read {
			unread++
		}
	}
	return unread
}

// SetServerUnread фиксирует авторитетный счётчик сервера
// (notificationCount или unreadCount из REST-ответа), перекрывая
// любой локальный дрейф
func (s *Store) SetServerUnread(unread int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.serverUnread = unread
	s.serverSeen = true
}
