// internal/handlers/auth.go

package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"

	"trading-crm/internal/models"
	"trading-crm/internal/services"
	"trading-crm/pkg/auth"
)

type AuthHandler struct {
	userCollection *mongo.Collection
	jwtManager     *auth.JWTManager
	notifications  *services.NotificationService
}

type RegisterRequest struct {
	Email        string `json:"email" binding:"required,email"`
	Password     string `json:"password" binding:"required,min=6,max=100"`
	FirstName    string `json:"firstname" binding:"required,min=2,max=50"`
	LastName     string `json:"lastname" binding:"required,min=2,max=50"`
	Phone        string `json:"phone,omitempty"`
	Country      string `json:"country,omitempty"`
	ReferralCode string `json:"referralCode,omitempty"` // код агента, который привёл клиента
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type UpdatePasswordRequest struct {
	OldPassword string `json:"oldPassword" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required,min=6,max=100"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// AuthResponse - форма, которую ждёт Session Store на фронтенде
type AuthResponse struct {
	Success bool              `json:"success"`
	Token   string            `json:"token"`
	User    models.PublicUser `json:"user"`
}

func NewAuthHandler(userCollection *mongo.Collection, jwtManager *auth.JWTManager, notifications *services.NotificationService) *AuthHandler {
	return &AuthHandler{
		userCollection: userCollection,
		jwtManager:     jwtManager,
		notifications:  notifications,
	}
}

// Register регистрирует аккаунт для роли из пути: /auth/register/:role.
// Публично доступны только client и agent; admin-аккаунты создаёт
// суперадмин через /users/staff.
func (h *AuthHandler) Register(c *gin.Context) {
	role, ok := models.RoleFromString(c.Param("role"))
	if !ok || role.IsStaff() && role != models.RoleAgent {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Registration is available for client and agent roles only",
		})
		return
	}

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Перевіряємо чи існує акаунт цієї ролі з таким email
	var existingUser models.User
	err := h.userCollection.FindOne(ctx, bson.M{"email": req.Email, "role": role.String()}).Decode(&existingUser)
	if err == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error": "User with this email already exists",
		})
		return
	} else if err != mongo.ErrNoDocuments {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Database error",
		})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error hashing password",
		})
		return
	}

	now := time.Now()
	user := models.User{
		Email:        req.Email,
		PasswordHash: string(hashedPassword),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Phone:        req.Phone,
		Country:      req.Country,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Клиент с реферальным кодом привязывается к агенту
	if role == models.RoleClient && req.ReferralCode != "" {
		var agent models.User
		err := h.userCollection.FindOne(ctx, bson.M{
			"referral_code": req.ReferralCode,
			"role":          models.RoleAgent.String(),
		}).Decode(&agent)
		if err == nil {
			user.AgentID = &agent.ID
		}
		// Невідомий код не блокує реєстрацію
	}

	// Агент получает собственный реферальный код
	if role == models.RoleAgent {
		user.ReferralCode = randomCode(8)
	}

	result, err := h.userCollection.InsertOne(ctx, user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error creating user",
		})
		return
	}

	user.ID = result.InsertedID.(primitive.ObjectID)

	token, err := h.jwtManager.GenerateToken(user.ID.Hex(), user.Email, user.Role.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error generating token",
		})
		return
	}

	// Привязанный агент узнаёт о новом клиенте
	if user.AgentID != nil {
		go func(agentID primitive.ObjectID, name string) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := h.notifications.NotifyUser(ctx, agentID, models.RoleAgent,
				"New referred client",
				name+" signed up with your referral code",
				models.NotificationTypeAccount, models.PriorityLow, nil,
			); err != nil {
				logrus.WithError(err).Warn("failed to notify agent about referral")
			}
		}(*user.AgentID, user.FirstName+" "+user.LastName)
	}

	c.JSON(http.StatusCreated, AuthResponse{
		Success: true,
		Token:   token,
		User:    user.Public(),
	})
}

// Login аутентифицирует по email+password и сам определяет роль.
// Если под одним email есть несколько аккаунтов с одинаковым паролем,
// выбирается старший по цепочке superadmin > admin > agent > client.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cursor, err := h.userCollection.Find(ctx, bson.M{"email": req.Email})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Database error",
		})
		return
	}
	defer cursor.Close(ctx)

	var candidates []models.User
	if err := cursor.All(ctx, &candidates); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Database error",
		})
		return
	}

	var user *models.User
	for _, role := range models.SwitchPriority() {
		for i := range candidates {
			if candidates[i].Role != role {
				continue
			}
			if bcrypt.CompareHashAndPassword([]byte(candidates[i].PasswordHash), []byte(req.Password)) == nil {
				user = &candidates[i]
				break
			}
		}
		if user != nil {
			break
		}
	}

	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid credentials",
		})
		return
	}

	if user.IsBlocked {
		response := models.BlockedUserResponse{
			Error:     "Account is blocked",
			IsBlocked: true,
			Message:   "Ваш акаунт заблоковано. Зверніться до підтримки для отримання додаткової інформації.",
		}
		if user.BlockReason != "" {
			response.BlockReason = user.BlockReason
		}
		c.JSON(http.StatusForbidden, response)
		return
	}

	// Оновлюємо last_login_at, помилка не критична
	now := time.Now()
	_, _ = h.userCollection.UpdateOne(ctx,
		bson.M{"_id": user.ID},
		bson.M{"$set": bson.M{"last_login_at": now}},
	)

	token, err := h.jwtManager.GenerateToken(user.ID.Hex(), user.Email, user.Role.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error generating token",
		})
		return
	}

	c.JSON(http.StatusOK, AuthResponse{
		Success: true,
		Token:   token,
		User:    user.Public(),
	})
}

// UpdatePassword меняет пароль аутентифицированного пользователя
func (h *AuthHandler) UpdatePassword(c *gin.Context) {
	var req UpdatePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	userID, _ := c.Get("user_id")
	userIDObj, err := primitive.ObjectIDFromHex(userID.(string))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid user ID",
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var user models.User
	if err := h.userCollection.FindOne(ctx, bson.M{"_id": userIDObj}).Decode(&user); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "User not found",
		})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Incorrect old password",
		})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error hashing password",
		})
		return
	}

	_, err = h.userCollection.UpdateOne(ctx,
		bson.M{"_id": userIDObj},
		bson.M{"$set": bson.M{
			"password_hash": string(hashedPassword),
			"updated_at":    time.Now(),
		}},
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error updating password",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Password changed successfully",
	})
}

// ForgotPassword выписывает reset-токен. Ответ одинаковый для
// существующего и несуществующего email, чтобы не светить базу.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resetToken := uuid.NewString()
	expiry := time.Now().Add(1 * time.Hour)

	result, err := h.userCollection.UpdateMany(ctx,
		bson.M{"email": req.Email},
		bson.M{"$set": bson.M{
			"reset_token":         resetToken,
			"reset_token_expires": expiry,
		}},
	)
	if err == nil && result.MatchedCount > 0 {
		// TODO: отправка письма через SMTP, когда появится почтовый сервис
		logrus.WithField("email", req.Email).Info("password reset token issued")
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "If the email exists, a reset link has been sent",
	})
}

// Impersonate выдаёт админу клиентский токен: админ работает от имени
// клиента без его пароля. Токен помечен impersonated, фронтенд
// показывает баннер и не даёт менять пароль клиента.
func (h *AuthHandler) Impersonate(c *gin.Context) {
	roleValue, _ := c.Get("role")
	role, _ := models.RoleFromString(roleValue.(string))
	if !role.CanImpersonate() {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Impersonation requires admin access",
		})
		return
	}

	clientID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid client ID",
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var client models.User
	err = h.userCollection.FindOne(ctx, bson.M{
		"_id":  clientID,
		"role": models.RoleClient.String(),
	}).Decode(&client)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Client not found",
		})
		return
	}

	adminID, _ := c.Get("user_id")
	token, err := h.jwtManager.GenerateImpersonationToken(client.ID.Hex(), client.Email, adminID.(string))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error generating token",
		})
		return
	}

	logrus.WithFields(logrus.Fields{
		"admin":  adminID,
		"client": client.ID.Hex(),
	}).Info("impersonation session started")

	c.JSON(http.StatusOK, AuthResponse{
		Success: true,
		Token:   token,
		User:    client.Public(),
	})
}

// randomCode генерирует hex-строку длиной n символов
func randomCode(n int) string {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		// rand.Read по контракту не возвращает ошибку на поддерживаемых платформах
		return hex.EncodeToString([]byte(time.Now().String()))[:n]
	}
	return hex.EncodeToString(buf)[:n]
}
