package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Статуси тікетів підтримки
const (
	TicketStatusOpen       = "open"
	TicketStatusInProgress = "in_progress"
	TicketStatusResolved   = "resolved"
	TicketStatusClosed     = "closed"
)

type TicketMessage struct {
	AuthorID  primitive.ObjectID `bson:"author_id" json:"authorId"`
	Role      UserRole           `bson:"role" json:"role"`
	Body      string             `bson:"body" json:"body"`
	CreatedAt time.Time          `bson:"created_at" json:"createdAt"`
}

// Ticket - звернення клієнта в підтримку. Видимість: клієнт бачить
// свої тікети, службові ролі - всі.
type Ticket struct {
	ID         primitive.ObjectID  `bson:"_id,omitempty" json:"id,omitempty"`
	UserID     primitive.ObjectID  `bson:"user_id" json:"userId"`
	Subject    string              `bson:"subject" json:"subject"`
	Category   string              `bson:"category" json:"category"` // billing, trading, technical, other
	Priority   string              `bson:"priority" json:"priority"`
	Status     string              `bson:"status" json:"status"`
	Messages   []TicketMessage     `bson:"messages" json:"messages"`
	AssignedTo *primitive.ObjectID `bson:"assigned_to,omitempty" json:"assignedTo,omitempty"`
	CreatedAt  time.Time           `bson:"created_at" json:"createdAt"`
	UpdatedAt  time.Time           `bson:"updated_at" json:"updatedAt"`
}
