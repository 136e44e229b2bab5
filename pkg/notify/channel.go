package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"trading-crm/pkg/session"
)

// Состояния канала
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

const (
	reconnectAttempts = 5
	reconnectBase     = 1 * time.Second
	handshakeTimeout  = 10 * time.Second
)

// Channel - realtime-канал уведомлений: websocket с переподключением
// плюс REST-фоллбек. Все серверные события проходят через один
// редьюсер apply; мутации идут по правилу confirm-then-apply: сначала
// REST, локальное состояние меняется только после 2xx, echo с сокета
// догоняет остальные подключения и идемпотентен.
type Channel struct {
	baseURL string
	store   *Store
	log     *logrus.Entry

	mu     sync.Mutex
	conn   *websocket.Conn
	rest   *restClient
	state  State
	token  string
	role   session.Role
	userID string

	// gen инвалидирует читающие горутины старых подключений: после
	// Close или смены токена их события не применяются
	gen int

	writeMu sync.Mutex
}

func NewChannel(baseURL string, store *Store) *Channel {
	return &Channel{
		baseURL: baseURL,
		store:   store,
		log:     logrus.WithField("component", "notify-channel"),
	}
}

// Store возвращает локальное хранилище уведомлений канала
func (c *Channel) Store() *Store {
	return c.store
}

func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

func (c *Channel) wsURL() string {
	url := c.baseURL
	url = strings.Replace(url, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return url + "/ws?token=" + c.token
}

// Connect подключает канал под токеном. Повторный вызов с тем же
// токеном при живом подключении - no-op; новый токен рвёт старое
// подключение и поднимает новое.
func (c *Channel) Connect(ctx context.Context, token string, role session.Role, userID string) error {
	c.mu.Lock()
	if c.state == StateConnected && c.token == token {
		c.mu.Unlock()
		return nil
	}

	// Смена токена: старое подключение больше никого не представляет
	if c.conn != nil {
		c.gen++
		c.conn.Close()
		c.conn = nil
	}

	c.token = token
	c.role = role
	c.userID = userID
	c.rest = newRESTClient(c.baseURL, token)
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("websocket connect: %w", err)
	}

	c.attach(conn)
	return nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.wsURL(), nil)
	return conn, err
}

// attach вводит подключение в строй: комната по роли, запрос
// авторитетного счётчика, читающая горутина
func (c *Channel) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.conn = conn
	c.state = StateConnected

	userID := c.userID
	staff := c.role.IsStaff()
	c.mu.Unlock()

	// Персональная комната нужна всем: адресные уведомления уходят
	// именно туда. Служебные роли дополнительно слушают broadcast.
	c.sendFrame(conn, JoinUserRoomFrame(userID))
	if staff {
		c.sendFrame(conn, JoinAdminRoomFrame())
	}
	// Сервер знает точный unread, локальный список - нет
	c.sendFrame(conn, GetCountFrame())

	go c.readLoop(conn, gen)
}

func (c *Channel) sendFrame(conn *websocket.Conn, env Envelope) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(env); err != nil {
		c.log.WithError(err).Debug("frame write failed")
	}
}

func (c *Channel) stale(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.gen
}

func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			conn.Close()
			if c.stale(gen) {
				// Close или новый Connect уже разобрались
				return
			}
			c.reconnect(gen)
			return
		}

		if c.stale(gen) {
			// После Close обновления не применяются
			return
		}

		event, err := DecodeEvent(env)
		if err != nil {
			c.log.WithError(err).Warn("dropping unknown realtime frame")
			continue
		}
		c.apply(event)
	}
}

// apply - единственный редьюсер серверных событий
func (c *Channel) apply(event Event) {
	switch e := event.(type) {
	case NewNotificationEvent:
		c.store.Deliver(e.Notification)
		// Кадр в комнате - сигнал, а не истина: сверяем точный
		// unread у сервера
		c.RequestCount()

	case ReadEvent:
		c.store.MarkRead(e.ID)

	case AllReadEvent:
		c.store.MarkAllRead()

	case DeletedEvent:
		c.store.Delete(e.ID)

	case CountEvent:
		c.store.SetServerUnread(e.Unread)

	case ErrorEvent:
		c.log.WithField("message", e.Message).Warn("server reported realtime error")
	}
}

// reconnect - автомат Disconnected -> Connecting -> Connected:
// до 5 попыток с задержкой от 1s, удваивающейся на каждой. Исчерпав
// попытки, канал остаётся деградированным до нового Connect, фоновых
// циклов не держит.
func (c *Channel) reconnect(gen int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateConnecting
	c.mu.Unlock()

	delay := reconnectBase
	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		time.Sleep(delay)
		delay *= 2

		if c.stale(gen) {
			return
		}

		conn, err := c.dial(context.Background())
		if err != nil {
			c.log.WithError(err).WithField("attempt", attempt).Warn("reconnect attempt failed")
			continue
		}

		c.log.WithField("attempt", attempt).Info("reconnected")
		c.attach(conn)
		return
	}

	c.mu.Lock()
	if gen == c.gen {
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	c.log.Error("reconnect attempts exhausted, channel degraded until next Connect")
}

// Close рвёт подключение (логаут, размонтирование, смена токена).
// Уже читающие горутины перестают применять обновления.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.token = ""
}

func (c *Channel) restClient() (*restClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rest == nil {
		return nil, fmt.Errorf("channel has no credentials, call Connect first")
	}
	return c.rest, nil
}

// Fetch догружает страницу уведомлений по REST (аддитивно) и
// принимает серверный unread как авторитетный
func (c *Channel) Fetch(ctx context.Context, page, limit int) error {
	rest, err := c.restClient()
	if err != nil {
		return err
	}

	items, unread, err := rest.list(ctx, page, limit)
	if err != nil {
		return err
	}

	c.store.Append(items)
	c.store.SetServerUnread(unread)
	return nil
}

// Refresh целиком перезагружает первую страницу
func (c *Channel) Refresh(ctx context.Context, limit int) error {
	rest, err := c.restClient()
	if err != nil {
		return err
	}

	items, unread, err := rest.list(ctx, 1, limit)
	if err != nil {
		return err
	}

	c.store.Replace(items)
	c.store.SetServerUnread(unread)
	return nil
}

// MarkAsRead: REST, затем локальное применение. До 2xx хранилище не
// трогается; echo notificationRead с сокета после этого - no-op.
func (c *Channel) MarkAsRead(ctx context.Context, id string) error {
	rest, err := c.restClient()
	if err != nil {
		return err
	}

	if err := rest.markRead(ctx, id); err != nil {
		return err
	}
	c.store.MarkRead(id)
	return nil
}

// MarkAllAsRead - см. MarkAsRead
func (c *Channel) MarkAllAsRead(ctx context.Context) error {
	rest, err := c.restClient()
	if err != nil {
		return err
	}

	if err := rest.markAllRead(ctx); err != nil {
		return err
	}
	c.store.MarkAllRead()
	return nil
}

// Delete - см. MarkAsRead
func (c *Channel) Delete(ctx context.Context, id string) error {
	rest, err := c.restClient()
	if err != nil {
		return err
	}

	if err := rest.delete(ctx, id); err != nil {
		return err
	}
	c.store.Delete(id)
	return nil
}

// RequestCount просит у сервера авторитетный unread-счётчик. Без
// живого подключения - no-op, счётчик догонит ближайший Fetch.
func (c *Channel) RequestCount() {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return
	}
	c.sendFrame(conn, GetCountFrame())
}
