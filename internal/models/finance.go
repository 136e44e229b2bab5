package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Статуси фінансових заявок
const (
	RequestStatusPending  = "pending"
	RequestStatusApproved = "approved"
	RequestStatusRejected = "rejected"
)

// Deposit - заявка клієнта на поповнення торгового рахунку.
// Створюється клієнтом, підтверджується або відхиляється адміністратором.
type Deposit struct {
	ID          primitive.ObjectID  `bson:"_id,omitempty" json:"id,omitempty"`
	UserID      primitive.ObjectID  `bson:"user_id" json:"userId"`
	AmountCents int64               `bson:"amount_cents" json:"amountCents"`
	Currency    string              `bson:"currency" json:"currency"`
	Method      string              `bson:"method" json:"method"` // bank, card, crypto
	Status      string              `bson:"status" json:"status"`
	Reference   string              `bson:"reference,omitempty" json:"reference,omitempty"`
	ReviewedBy  *primitive.ObjectID `bson:"reviewed_by,omitempty" json:"reviewedBy,omitempty"`
	ReviewNote  string              `bson:"review_note,omitempty" json:"reviewNote,omitempty"`
	ReviewedAt  *time.Time          `bson:"reviewed_at,omitempty" json:"reviewedAt,omitempty"`
	CreatedAt   time.Time           `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time           `bson:"updated_at" json:"updatedAt"`
}

// Withdrawal - заявка клієнта на виведення коштів
type Withdrawal struct {
	ID          primitive.ObjectID  `bson:"_id,omitempty" json:"id,omitempty"`
	UserID      primitive.ObjectID  `bson:"user_id" json:"userId"`
	AmountCents int64               `bson:"amount_cents" json:"amountCents"`
	Currency    string              `bson:"currency" json:"currency"`
	Method      string              `bson:"method" json:"method"`
	Details     string              `bson:"details,omitempty" json:"details,omitempty"` // реквизиты
	Status      string              `bson:"status" json:"status"`
	ReviewedBy  *primitive.ObjectID `bson:"reviewed_by,omitempty" json:"reviewedBy,omitempty"`
	ReviewNote  string              `bson:"review_note,omitempty" json:"reviewNote,omitempty"`
	ReviewedAt  *time.Time          `bson:"reviewed_at,omitempty" json:"reviewedAt,omitempty"`
	CreatedAt   time.Time           `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time           `bson:"updated_at" json:"updatedAt"`
}

// Commission - нарахування IB-партнеру (агенту) з підтвердженого
// депозиту приведеного ним клієнта
type Commission struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	AgentID     primitive.ObjectID `bson:"agent_id" json:"agentId"`
	ClientID    primitive.ObjectID `bson:"client_id" json:"clientId"`
	DepositID   primitive.ObjectID `bson:"deposit_id" json:"depositId"`
	AmountCents int64              `bson:"amount_cents" json:"amountCents"`
	RateBps     int                `bson:"rate_bps" json:"rateBps"` // базисные пункты от суммы депозита
	CreatedAt   time.Time          `bson:"created_at" json:"createdAt"`
}

// CommissionRateBps - ставка IB-комиссии по умолчанию (2%)
const CommissionRateBps = 200
