package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User - обліковий запис у CRM. Один email може мати окремі
// акаунти для різних ролей (client і agent одночасно).
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Email        string             `bson:"email" json:"email" validate:"required,email"`
	PasswordHash string             `bson:"password_hash" json:"-"`

	// Личная информация
	FirstName string `bson:"first_name" json:"firstname" validate:"required,min=2,max=50"`
	LastName  string `bson:"last_name" json:"lastname" validate:"required,min=2,max=50"`
	Phone     string `bson:"phone,omitempty" json:"phone,omitempty"`
	Country   string `bson:"country,omitempty" json:"country,omitempty"`

	// Роль и статус аккаунта
	Role            UserRole `bson:"role" json:"role"`
	IsEmailVerified bool     `bson:"is_email_verified" json:"isEmailVerified"`
	IsBlocked       bool     `bson:"is_blocked" json:"-"`
	BlockReason     string   `bson:"block_reason,omitempty" json:"-"`

	// IB-партнерство: для агентов - собственный реферальный код,
	// для клиентов - код агента, который их привёл
	ReferralCode string              `bson:"referral_code,omitempty" json:"referralCode,omitempty"`
	AgentID      *primitive.ObjectID `bson:"agent_id,omitempty" json:"agentId,omitempty"`

	// Торговый баланс клиента (в центах, чтобы не плодить float-ошибки)
	BalanceCents int64 `bson:"balance_cents" json:"balanceCents"`

	LastLoginAt *time.Time `bson:"last_login_at,omitempty" json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updatedAt"`
}

// PublicUser - срез профиля, который уходит клиенту вместе с токеном
type PublicUser struct {
	ID              string   `json:"id"`
	FirstName       string   `json:"firstname"`
	LastName        string   `json:"lastname"`
	Email           string   `json:"email"`
	Role            UserRole `json:"role"`
	IsEmailVerified bool     `json:"isEmailVerified"`
}

// Public обрезает User до полей, которые видит фронтенд
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:              u.ID.Hex(),
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Email:           u.Email,
		Role:            u.Role,
		IsEmailVerified: u.IsEmailVerified,
	}
}

// BlockedUserResponse - відповідь для заблокованого користувача
type BlockedUserResponse struct {
	Error       string     `json:"error"`
	IsBlocked   bool       `json:"is_blocked"`
	Message     string     `json:"message"`
	BlockReason string     `json:"block_reason,omitempty"`
	BlockedAt   *time.Time `json:"blocked_at,omitempty"`
}
