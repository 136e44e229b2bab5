// internal/realtime/client.go
package realtime

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"trading-crm/internal/models"
	"trading-crm/pkg/notify"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// CommandHandler обрабатывает команды уведомлений, пришедшие по
// сокету (а не по REST). Реализация живёт в сервисе уведомлений.
type CommandHandler interface {
	MarkRead(userID, notificationID string) error
	MarkAllRead(userID string) error
	Delete(userID, notificationID string) error
	UnreadCount(userID string) (int64, error)
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	role   models.UserRole
	rooms  map[string]bool

	commands CommandHandler
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, role models.UserRole, commands CommandHandler) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		userID:   userID,
		role:     role,
		rooms:    make(map[string]bool),
		commands: commands,
	}
}

// Start регистрирует клиента и запускает обе горутины
func (c *Client) Start() {
	c.hub.register <- c
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env notify.Envelope
		err := c.conn.ReadJSON(&env)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		c.handleCommand(env)
	}
}

func (c *Client) handleCommand(env notify.Envelope) {
	switch env.Event {
	case notify.CmdJoinAdminRoom:
		// Общая комната - только для служебных ролей
		if !c.role.IsStaff() {
			c.sendError("admin room requires a staff role")
			return
		}
		c.hub.join <- roomChange{client: c, room: AdminRoom}

	case notify.CmdJoinUserRoom:
		// Клиент может слушать только собственную комнату,
		// payload с чужим userId игнорируется
		c.hub.join <- roomChange{client: c, room: UserRoom(c.userID)}

	case notify.CmdMarkRead:
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(env.Data, &p); err != nil || p.ID == "" {
			c.sendError("markNotificationAsRead requires an id")
			return
		}
		if err := c.commands.MarkRead(c.userID, p.ID); err != nil {
			c.sendError(err.Error())
		}

	case notify.CmdMarkAllRead:
		if err := c.commands.MarkAllRead(c.userID); err != nil {
			c.sendError(err.Error())
		}

	case notify.CmdDelete:
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(env.Data, &p); err != nil || p.ID == "" {
			c.sendError("deleteNotification requires an id")
			return
		}
		if err := c.commands.Delete(c.userID, p.ID); err != nil {
			c.sendError(err.Error())
		}

	case notify.CmdGetCount:
		unread, err := c.commands.UnreadCount(c.userID)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.sendFrame(notify.CountFrame(unread))

	default:
		log.Printf("Unknown realtime command %q from user %s", env.Event, c.userID)
	}
}

func (c *Client) sendFrame(env notify.Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *Client) sendError(message string) {
	c.sendFrame(notify.ErrorFrame(message))
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
