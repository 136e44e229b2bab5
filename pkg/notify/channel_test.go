package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-crm/pkg/session"
)

// notifyHarness - loopback-сервер: websocket-хаб на один клиент плюс
// REST-заглушка уведомлений
type notifyHarness struct {
	server *httptest.Server

	mu        sync.Mutex
	wmu       sync.Mutex
	conns     int
	lastConn  *websocket.Conn
	unread    int64
	items     []Notification
	dropFirst bool

	failNextMutation bool
}

func newNotifyHarness(t *testing.T) *notifyHarness {
	t.Helper()

	h := &notifyHarness{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		h.mu.Lock()
		h.conns++
		number := h.conns
		h.lastConn = conn
		drop := h.dropFirst && number == 1
		h.mu.Unlock()

		if drop {
			conn.Close()
			return
		}

		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if env.Event == CmdGetCount {
				h.mu.Lock()
				unread := h.unread
				h.mu.Unlock()
				h.write(conn, CountFrame(unread))
			}
		}
	})
	mux.HandleFunc("/api/notifications", func(w http.ResponseWriter, r *http.Request) {
		// Без Content-Type resty не станет разбирать тело ответа
		w.Header().Set("Content-Type", "application/json")
		h.mu.Lock()
		defer h.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"notifications": h.items,
				"unreadCount":   h.unread,
			},
		})
	})
	mux.HandleFunc("/api/notifications/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		h.mu.Lock()
		fail := h.failNextMutation
		h.failNextMutation = false
		h.mu.Unlock()

		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "storage unavailable"})
			return
		}
		if r.Method == http.MethodPatch && strings.HasSuffix(r.URL.Path, "/read") {
			json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
			return
		}
		if r.Method == http.MethodDelete {
			json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
	})

	h.server = httptest.NewServer(mux)
	t.Cleanup(h.server.Close)
	return h
}

func (h *notifyHarness) write(conn *websocket.Conn, env Envelope) {
	h.wmu.Lock()
	defer h.wmu.Unlock()
	conn.WriteJSON(env)
}

// push отправляет кадр в последнее живое подключение
func (h *notifyHarness) push(env Envelope) {
	h.mu.Lock()
	conn := h.lastConn
	h.mu.Unlock()
	if conn != nil {
		h.write(conn, env)
	}
}

func (h *notifyHarness) setUnread(n int64) {
	h.mu.Lock()
	h.unread = n
	h.mu.Unlock()
}

func (h *notifyHarness) connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns
}

func TestConnectReconcilesServerCount(t *testing.T) {
	h := newNotifyHarness(t)
	h.setUnread(3)

	channel := NewChannel(h.server.URL, NewStore())
	require.NoError(t, channel.Connect(context.Background(), "token", session.RoleClient, "user-1"))
	defer channel.Close()

	assert.True(t, channel.IsConnected())
	require.Eventually(t, func() bool {
		return channel.Store().UnreadCount() == 3
	}, 3*time.Second, 20*time.Millisecond, "server count must become authoritative after connect")
}

func TestConnectIdempotentForSameToken(t *testing.T) {
	h := newNotifyHarness(t)

	channel := NewChannel(h.server.URL, NewStore())
	require.NoError(t, channel.Connect(context.Background(), "token", session.RoleClient, "user-1"))
	defer channel.Close()

	require.NoError(t, channel.Connect(context.Background(), "token", session.RoleClient, "user-1"))
	assert.Equal(t, 1, h.connections(), "same token must not open a second connection")
}

func TestNewNotificationAppliedThroughReducer(t *testing.T) {
	h := newNotifyHarness(t)
	h.setUnread(1)

	channel := NewChannel(h.server.URL, NewStore())
	require.NoError(t, channel.Connect(context.Background(), "token", session.RoleAdmin, "admin-1"))
	defer channel.Close()

	h.push(NewNotificationFrame(testNotification("n-1", false)))

	require.Eventually(t, func() bool {
		items := channel.Store().Notifications()
		return len(items) == 1 && items[0].ID == "n-1"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestReconnectAfterDropReconcilesDrift(t *testing.T) {
	h := newNotifyHarness(t)
	h.dropFirst = true
	h.setUnread(7)

	store := NewStore()
	// Локальный дрейф: до подключения видна одна непрочитанная запись
	store.Deliver(testNotification("stale", false))
	require.Equal(t, int64(1), store.UnreadCount())

	channel := NewChannel(h.server.URL, store)
	require.NoError(t, channel.Connect(context.Background(), "token", session.RoleClient, "user-1"))
	defer channel.Close()

	// Первое подключение сервер рвёт сразу; вторая попытка (базовая
	// задержка 1s) должна подняться и принять серверный счётчик
	require.Eventually(t, func() bool {
		return h.connections() >= 2 && store.UnreadCount() == 7
	}, 5*time.Second, 50*time.Millisecond, "notificationCount after reconnect overrides local unread")
	assert.True(t, channel.IsConnected())
}

func TestCloseStopsApplyingUpdates(t *testing.T) {
	h := newNotifyHarness(t)

	channel := NewChannel(h.server.URL, NewStore())
	require.NoError(t, channel.Connect(context.Background(), "token", session.RoleClient, "user-1"))

	channel.Close()
	assert.False(t, channel.IsConnected())

	h.push(NewNotificationFrame(testNotification("late", false)))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, channel.Store().Len(), "no updates after Close")
}

func TestMarkAsReadConfirmThenApply(t *testing.T) {
	h := newNotifyHarness(t)

	channel := NewChannel(h.server.URL, NewStore())
	require.NoError(t, channel.Connect(context.Background(), "token", session.RoleClient, "user-1"))
	defer channel.Close()

	channel.Store().Deliver(testNotification("n-1", false))

	// Отказ REST: локальное состояние не меняется
	h.mu.Lock()
	h.failNextMutation = true
	h.mu.Unlock()
	require.Error(t, channel.MarkAsRead(context.Background(), "n-1"))
	assert.False(t, channel.Store().Notifications()[0].Read)

	// Успех REST: применяется, повторный echo идемпотентен
	require.NoError(t, channel.MarkAsRead(context.Background(), "n-1"))
	assert.True(t, channel.Store().Notifications()[0].Read)

	h.push(ReadFrame("n-1"))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(0), channel.Store().UnreadCount())
}

func TestFetchAppendsPage(t *testing.T) {
	h := newNotifyHarness(t)
	h.mu.Lock()
	h.items = []Notification{testNotification("r-1", true), testNotification("r-2", false)}
	h.unread = 1
	h.mu.Unlock()

	channel := NewChannel(h.server.URL, NewStore())
	require.NoError(t, channel.Connect(context.Background(), "token", session.RoleClient, "user-1"))
	defer channel.Close()

	require.NoError(t, channel.Fetch(context.Background(), 1, 20))
	assert.Equal(t, 2, channel.Store().Len())
	assert.Equal(t, int64(1), channel.Store().UnreadCount())
}
