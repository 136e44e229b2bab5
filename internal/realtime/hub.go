// internal/realtime/hub.go
package realtime

import (
	"encoding/json"
	"log"
	"sync"

	"trading-crm/pkg/notify"
)

// AdminRoom - общая комната служебных ролей: в неё уходят
// broadcast-события для admin/superadmin/agent
const AdminRoom = "admins"

// UserRoom возвращает имя персональной комнаты пользователя
func UserRoom(userID string) string {
	return "user:" + userID
}

type roomChange struct {
	client *Client
	room   string
}

type roomMessage struct {
	room  string
	frame []byte
}

type Hub struct {
	// Зарегистрированные клиенты по комнатам
	rooms map[string]map[*Client]bool

	// Все подключённые клиенты
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	join       chan roomChange
	broadcast  chan roomMessage

	done chan struct{}

	mutex sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan roomChange),
		broadcast:  make(chan roomMessage, 64),
		done:       make(chan struct{}),
	}
}

func (hub *Hub) Run() {
	for {
		select {
		case client := <-hub.register:
			hub.mutex.Lock()
			hub.clients[client] = true
			hub.mutex.Unlock()
			log.Printf("Realtime client connected: user=%s role=%s", client.userID, client.role)

		case client := <-hub.unregister:
			hub.mutex.Lock()
			if _, ok := hub.clients[client]; ok {
				delete(hub.clients, client)
				for room := range client.rooms {
					hub.removeFromRoom(client, room)
				}
				close(client.send)
			}
			hub.mutex.Unlock()
			log.Printf("Realtime client disconnected: user=%s", client.userID)

		case change := <-hub.join:
			hub.mutex.Lock()
			if hub.rooms[change.room] == nil {
				hub.rooms[change.room] = make(map[*Client]bool)
			}
			hub.rooms[change.room][change.client] = true
			change.client.rooms[change.room] = true
			hub.mutex.Unlock()

		case message := <-hub.broadcast:
			hub.mutex.RLock()
			clients := make([]*Client, 0, len(hub.rooms[message.room]))
			for client := range hub.rooms[message.room] {
				clients = append(clients, client)
			}
			hub.mutex.RUnlock()

			for _, client := range clients {
				select {
				case client.send <- message.frame:
				default:
					// Медленный клиент: выкидываем из комнаты и рвём
					// соединение. Канал send закрывает только
					// unregister, который придёт из readPump клиента,
					// иначе гонка с его же ответами на команды.
					hub.mutex.Lock()
					hub.removeFromRoom(client, message.room)
					delete(client.rooms, message.room)
					hub.mutex.Unlock()
					client.conn.Close()
				}
			}

		case <-hub.done:
			return
		}
	}
}

// removeFromRoom вызывается только под hub.mutex
func (hub *Hub) removeFromRoom(client *Client, room string) {
	if clients, ok := hub.rooms[room]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(hub.rooms, room)
		}
	}
}

func (hub *Hub) Shutdown() {
	close(hub.done)
}

// Emit отправляет событие всем клиентам комнаты
func (hub *Hub) Emit(room string, env notify.Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		log.Printf("Error marshaling realtime frame: %v", err)
		return
	}

	select {
	case hub.broadcast <- roomMessage{room: room, frame: frame}:
	case <-hub.done:
	}
}

// EmitToUser - шорткат для персональной комнаты
func (hub *Hub) EmitToUser(userID string, env notify.Envelope) {
	hub.Emit(UserRoom(userID), env)
}

func (hub *Hub) GetConnectionsCount() int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.clients)
}

func (hub *Hub) GetActiveRoomsCount() int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.rooms)
}
