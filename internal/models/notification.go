package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Notification struct {
	ID        primitive.ObjectID     `bson:"_id,omitempty" json:"id,omitempty"`
	UserID    primitive.ObjectID     `bson:"user_id" json:"userId"`
	Role      UserRole               `bson:"role" json:"role"`
	Title     string                 `bson:"title" json:"title"`
	Message   string                 `bson:"message" json:"message"`
	Type      string                 `bson:"type" json:"type"`
	Priority  string                 `bson:"priority" json:"priority"`
	Data      map[string]interface{} `bson:"data,omitempty" json:"data,omitempty"` // Додаткові дані
	IsRead    bool                   `bson:"is_read" json:"read"`
	ReadAt    *time.Time             `bson:"read_at,omitempty" json:"readAt,omitempty"`
	CreatedAt time.Time              `bson:"created_at" json:"createdAt"`

	// Не зберігається: обчислюється при віддачі
	TimeAgo string `bson:"-" json:"timeAgo,omitempty"`
}

// Типи сповіщень
const (
	NotificationTypeDeposit    = "deposit"
	NotificationTypeWithdrawal = "withdrawal"
	NotificationTypeCommission = "commission"
	NotificationTypeTicket     = "ticket"
	NotificationTypeAccount    = "account"
	NotificationTypeSystem     = "system"
)

// Пріоритети сповіщень
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// ValidPriority перевіряє пріоритет, невідомий зводиться до medium
func ValidPriority(p string) string {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p
	}
	return PriorityMedium
}

// FillTimeAgo заповнює людське "5m ago" відносно now
func (n *Notification) FillTimeAgo(now time.Time) {
	d := now.Sub(n.CreatedAt)
	switch {
	case d < time.Minute:
		n.TimeAgo = "just now"
	case d < time.Hour:
		n.TimeAgo = fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		n.TimeAgo = fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		n.TimeAgo = fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
