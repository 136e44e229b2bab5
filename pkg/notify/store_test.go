package notify

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testNotification(id string, read bool) Notification {
	return Notification{
		ID:        id,
		Title:     "Deposit approved",
		Message:   "Your deposit has been approved",
		Type:      "deposit",
		Priority:  "high",
		Read:      read,
		CreatedAt: time.Now(),
	}
}

func TestDeliverNewestFirst(t *testing.T) {
	store := NewStore()

	store.Deliver(testNotification("a", false))
	store.Deliver(testNotification("b", false))

	items := store.Notifications()
	assert.Equal(t, []string{"b", "a"}, []string{items[0].ID, items[1].ID})
	assert.Equal(t, int64(2), store.UnreadCount())
}

func TestDeliverDuplicateReplacesInsteadOfDuplicating(t *testing.T) {
	store := NewStore()

	store.Deliver(testNotification("a", false))
	store.Deliver(testNotification("a", false))

	assert.Equal(t, 1, store.Len())
	assert.Equal(t, int64(1), store.UnreadCount())
}

func TestMarkReadIdempotent(t *testing.T) {
	store := NewStore()
	store.Deliver(testNotification("a", false))

	// REST-применение, затем echo с сокета
	assert.True(t, store.MarkRead("a"))
	assert.False(t, store.MarkRead("a"), "socket echo after the REST apply must be a no-op")
	assert.Equal(t, int64(0), store.UnreadCount())

	// И ещё раз для отсутствующего id
	assert.False(t, store.MarkRead("missing"))
}

func TestDeliverDeleteRoundTrip(t *testing.T) {
	store := NewStore()

	store.Deliver(testNotification("a", false))
	store.Deliver(testNotification("b", true))
	assert.Equal(t, int64(1), store.UnreadCount())

	// Удаление непрочитанного уменьшает счётчик на единицу
	assert.True(t, store.Delete("a"))
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, int64(0), store.UnreadCount())

	// Удаление прочитанного счётчик не трогает
	assert.True(t, store.Delete("b"))
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, int64(0), store.UnreadCount())

	// Повторное удаление - no-op
	assert.False(t, store.Delete("a"))
}

func TestServerCountOverridesLocalDrift(t *testing.T) {
	store := NewStore()

	// Локально видна одна непрочитанная запись, но сервер знает о
	// большем (копии, доставленные в другие подключения)
	store.Deliver(testNotification("a", false))
	assert.Equal(t, int64(1), store.UnreadCount())

	store.SetServerUnread(7)
	assert.Equal(t, int64(7), store.UnreadCount(), "server figure wins once seen")

	// Локальные мутации продолжают корректировать серверное значение
	store.MarkRead("a")
	assert.Equal(t, int64(6), store.UnreadCount())

	store.Deliver(testNotification("b", false))
	assert.Equal(t, int64(7), store.UnreadCount())

	store.MarkAllRead()
	assert.Equal(t, int64(0), store.UnreadCount())
}

func TestAppendSkipsKnownIDs(t *testing.T) {
	store := NewStore()
	store.Deliver(testNotification("a", false))

	page := []Notification{testNotification("a", false), testNotification("b", true)}
	store.Append(page)

	assert.Equal(t, 2, store.Len())
	items := store.Notifications()
	assert.Equal(t, "a", items[0].ID, "append keeps realtime deliveries in front")
}

func TestReplaceWholesale(t *testing.T) {
	store := NewStore()
	for i := 0; i < 5; i++ {
		store.Deliver(testNotification(fmt.Sprintf("old-%d", i), false))
	}

	store.Replace([]Notification{testNotification("fresh", false)})
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, "fresh", store.Notifications()[0].ID)
}
