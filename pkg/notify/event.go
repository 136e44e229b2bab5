// Package notify реализует клиентскую часть канала уведомлений:
// websocket-подключение с переподключением, локальное хранилище
// уведомлений и REST-фоллбек. Wire-протокол (имена событий и формы
// payload) описан здесь же и используется сервером напрямую, чтобы
// обе стороны не разъезжались.
package notify

import (
	"encoding/json"
	"fmt"
	"time"
)

// Имена событий client -> server
const (
	CmdJoinAdminRoom = "joinAdminRoom"
	CmdJoinUserRoom  = "join-user-room"
	CmdMarkRead      = "markNotificationAsRead"
	CmdMarkAllRead   = "markAllNotificationsAsRead"
	CmdDelete        = "deleteNotification"
	CmdGetCount      = "getNotificationCount"
)

// Имена событий server -> client
const (
	EvtNewNotification = "newNotification"
	EvtRead            = "notificationRead"
	EvtAllRead         = "allNotificationsRead"
	EvtDeleted         = "notificationDeleted"
	EvtCount           = "notificationCount"
	EvtError           = "error"
)

// Envelope - единственная форма кадра в обе стороны
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Notification - уведомление так, как его отдаёт сервер
type Notification struct {
	ID        string                 `json:"id"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Type      string                 `json:"type"`
	Priority  string                 `json:"priority"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Read      bool                   `json:"read"`
	ReadAt    *time.Time             `json:"readAt,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
	TimeAgo   string                 `json:"timeAgo,omitempty"`
}

// Payload-структуры закрытого множества серверных событий

type NewNotificationEvent struct {
	Notification Notification
}

type ReadEvent struct {
	ID string
}

type AllReadEvent struct{}

type DeletedEvent struct {
	ID string
}

type CountEvent struct {
	Unread int64
}

type ErrorEvent struct {
	Message string
}

// Сырые JSON-формы payload
type idPayload struct {
	ID string `json:"id"`
}

type countPayload struct {
	Unread int64 `json:"unread"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Event - закрытое объединение серверных событий. Конкретный тип -
// один из *Event выше; switch по типу заменяет ad hoc колбэки.
type Event interface {
	isEvent()
}

func (NewNotificationEvent) isEvent() {}
func (ReadEvent) isEvent()            {}
func (AllReadEvent) isEvent()         {}
func (DeletedEvent) isEvent()         {}
func (CountEvent) isEvent()           {}
func (ErrorEvent) isEvent()           {}

// DecodeEvent разбирает кадр в типизированное событие.
// Неизвестный kind - ошибка, решает вызывающий (канал логирует и
// пропускает кадр).
func DecodeEvent(env Envelope) (Event, error) {
	switch env.Event {
	case EvtNewNotification:
		var n Notification
		if err := json.Unmarshal(env.Data, &n); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return NewNotificationEvent{Notification: n}, nil

	case EvtRead:
		var p idPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return ReadEvent{ID: p.ID}, nil

	case EvtAllRead:
		return AllReadEvent{}, nil

	case EvtDeleted:
		var p idPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return DeletedEvent{ID: p.ID}, nil

	case EvtCount:
		var p countPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return CountEvent{Unread: p.Unread}, nil

	case EvtError:
		var p errorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return ErrorEvent{Message: p.Message}, nil
	}

	return nil, fmt.Errorf("unknown event kind %q", env.Event)
}

// Конструкторы кадров для серверной стороны

func NewNotificationFrame(n Notification) Envelope {
	data, _ := json.Marshal(n)
	return Envelope{Event: EvtNewNotification, Data: data}
}

func ReadFrame(id string) Envelope {
	data, _ := json.Marshal(idPayload{ID: id})
	return Envelope{Event: EvtRead, Data: data}
}

func AllReadFrame() Envelope {
	return Envelope{Event: EvtAllRead}
}

func DeletedFrame(id string) Envelope {
	data, _ := json.Marshal(idPayload{ID: id})
	return Envelope{Event: EvtDeleted, Data: data}
}

func CountFrame(unread int64) Envelope {
	data, _ := json.Marshal(countPayload{Unread: unread})
	return Envelope{Event: EvtCount, Data: data}
}

func ErrorFrame(message string) Envelope {
	data, _ := json.Marshal(errorPayload{Message: message})
	return Envelope{Event: EvtError, Data: data}
}

// Конструкторы команд для клиентской стороны

func JoinAdminRoomFrame() Envelope {
	return Envelope{Event: CmdJoinAdminRoom}
}

func JoinUserRoomFrame(userID string) Envelope {
	data, _ := json.Marshal(map[string]string{"userId": userID})
	return Envelope{Event: CmdJoinUserRoom, Data: data}
}

func GetCountFrame() Envelope {
	return Envelope{Event: CmdGetCount}
}
