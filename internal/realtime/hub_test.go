package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-crm/internal/models"
	"trading-crm/pkg/notify"
)

// stubCommands - фиксированные ответы вместо сервиса уведомлений
type stubCommands struct {
	unread int64
}

func (s *stubCommands) MarkRead(userID, notificationID string) error { return nil }
func (s *stubCommands) MarkAllRead(userID string) error              { return nil }
func (s *stubCommands) Delete(userID, notificationID string) error   { return nil }
func (s *stubCommands) UnreadCount(userID string) (int64, error)     { return s.unread, nil }

// startHub поднимает hub и loopback-сервер, который регистрирует
// каждого подключившегося как клиента с заданной ролью
func startHub(t *testing.T, role models.UserRole, commands CommandHandler) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		NewClient(hub, conn, r.URL.Query().Get("user"), role, commands).Start()
	}))
	t.Cleanup(server.Close)
	return hub, server
}

func dial(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()

	url := strings.Replace(server.URL, "http://", "ws://", 1) + "?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) notify.Envelope {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env notify.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestEmitReachesJoinedRoom(t *testing.T) {
	hub, server := startHub(t, models.RoleAdmin, &stubCommands{})
	conn := dial(t, server, "admin-1")

	require.NoError(t, conn.WriteJSON(notify.JoinAdminRoomFrame()))
	require.Eventually(t, func() bool {
		return hub.GetActiveRoomsCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.Emit(AdminRoom, notify.CountFrame(5))

	env := readFrame(t, conn)
	assert.Equal(t, notify.EvtCount, env.Event)

	event, err := notify.DecodeEvent(env)
	require.NoError(t, err)
	assert.Equal(t, notify.CountEvent{Unread: 5}, event)
}

func TestClientCannotJoinForeignUserRoom(t *testing.T) {
	hub, server := startHub(t, models.RoleClient, &stubCommands{})
	conn := dial(t, server, "client-1")

	// Payload с чужим userId игнорируется: клиент попадает только в
	// собственную комнату
	require.NoError(t, conn.WriteJSON(notify.JoinUserRoomFrame("client-999")))
	require.Eventually(t, func() bool {
		return hub.GetActiveRoomsCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.EmitToUser("client-1", notify.CountFrame(2))
	env := readFrame(t, conn)
	assert.Equal(t, notify.EvtCount, env.Event)
}

func TestAdminRoomRequiresStaffRole(t *testing.T) {
	_, server := startHub(t, models.RoleClient, &stubCommands{})
	conn := dial(t, server, "client-1")

	require.NoError(t, conn.WriteJSON(notify.JoinAdminRoomFrame()))

	env := readFrame(t, conn)
	assert.Equal(t, notify.EvtError, env.Event)
}

func TestGetCountCommandAnswersWithAuthoritativeUnread(t *testing.T) {
	_, server := startHub(t, models.RoleClient, &stubCommands{unread: 9})
	conn := dial(t, server, "client-1")

	require.NoError(t, conn.WriteJSON(notify.GetCountFrame()))

	env := readFrame(t, conn)
	require.Equal(t, notify.EvtCount, env.Event)

	event, err := notify.DecodeEvent(env)
	require.NoError(t, err)
	assert.Equal(t, notify.CountEvent{Unread: 9}, event)
}

func TestSlowClientEvictionKeepsRoomAlive(t *testing.T) {
	hub, server := startHub(t, models.RoleAdmin, &stubCommands{})

	healthy := dial(t, server, "admin-1")
	slow := dial(t, server, "admin-2")

	// Здоровый клиент слушает персональную комнату, медленный сидит
	// в общей и ничего не читает
	require.NoError(t, healthy.WriteJSON(notify.JoinUserRoomFrame("admin-1")))
	require.NoError(t, slow.WriteJSON(notify.JoinAdminRoomFrame()))
	require.Eventually(t, func() bool {
		return hub.GetConnectionsCount() == 2 && hub.GetActiveRoomsCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Медленный клиент продолжает слать команды: его readPump отвечает
	// в переполненный send ровно в момент выброса из комнаты
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				slow.WriteJSON(notify.GetCountFrame())
				time.Sleep(time.Millisecond)
			}
		}
	}()

	// Переполняем буфер медленного клиента, пока хаб его не выбросит.
	// Кадры крупные, чтобы TCP-буферы не проглотили весь поток
	payload := strings.Repeat("x", 64<<10)
	for i := 0; i < 600; i++ {
		hub.Emit(AdminRoom, notify.NewNotificationFrame(notify.Notification{
			ID:      "flood",
			Message: payload,
		}))
	}

	require.Eventually(t, func() bool {
		return hub.GetConnectionsCount() == 1
	}, 3*time.Second, 10*time.Millisecond, "slow client must be evicted")

	// Хаб переживает выброс: оставшийся клиент получает события
	hub.EmitToUser("admin-1", notify.CountFrame(42))
	env := readFrame(t, healthy)
	require.Equal(t, notify.EvtCount, env.Event)

	event, err := notify.DecodeEvent(env)
	require.NoError(t, err)
	assert.Equal(t, notify.CountEvent{Unread: 42}, event)
}

func TestUnregisterOnDisconnect(t *testing.T) {
	hub, server := startHub(t, models.RoleClient, &stubCommands{})
	conn := dial(t, server, "client-1")

	require.Eventually(t, func() bool {
		return hub.GetConnectionsCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return hub.GetConnectionsCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
