// internal/handlers/users.go

package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"

	"trading-crm/internal/models"
	"trading-crm/internal/services"
)

// UsersHandler обробляє запити для управління користувачами.
// Всі методи вимагають автентифікації та відповідних прав доступу.
type UsersHandler struct {
	userCollection *mongo.Collection
	notifications  *services.NotificationService
}

// BlockUserRequest - запит на блокування користувача
type BlockUserRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CreateStaffRequest - створення службового акаунта (superadmin)
type CreateStaffRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8,max=100"`
	FirstName string `json:"firstname" binding:"required,min=2,max=50"`
	LastName  string `json:"lastname" binding:"required,min=2,max=50"`
	Role      string `json:"role" binding:"required,oneof=agent admin"`
}

// UsersListResponse - відповідь зі списком користувачів
type UsersListResponse struct {
	Data       []models.User `json:"data"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"total_pages"`
}

func NewUsersHandler(userCollection *mongo.Collection, notifications *services.NotificationService) *UsersHandler {
	return &UsersHandler{
		userCollection: userCollection,
		notifications:  notifications,
	}
}

// GetProfile повертає профіль поточного користувача
func (h *UsersHandler) GetProfile(c *gin.Context) {
	userID, _ := c.Get("user_id")

	objectID, err := primitive.ObjectIDFromHex(userID.(string))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid user ID",
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var user models.User
	err = h.userCollection.FindOne(
		ctx,
		bson.M{"_id": objectID},
		options.FindOne().SetProjection(bson.M{"password_hash": 0}),
	).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "User not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Database error",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user":    user,
	})
}

// GetAllUsers отримує список користувачів з пагінацією та фільтрацією.
// Агент бачить тільки приведених ним клієнтів, admin+ - всіх.
func (h *UsersHandler) GetAllUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	search := c.Query("search")
	roleFilter := c.Query("role")

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	// Будуємо фільтр
	filter := bson.M{}

	callerID, _ := c.Get("user_id")
	callerRoleValue, _ := c.Get("role")
	callerRole, _ := models.RoleFromString(callerRoleValue.(string))

	if callerRole == models.RoleAgent {
		agentIDObj, err := primitive.ObjectIDFromHex(callerID.(string))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid user ID",
			})
			return
		}
		filter["agent_id"] = agentIDObj
		filter["role"] = models.RoleClient.String()
	} else if roleFilter != "" {
		filter["role"] = roleFilter
	}

	// Пошук за email або ім'ям
	if search != "" {
		filter["$or"] = []bson.M{
			{"email": bson.M{"$regex": search, "$options": "i"}},
			{"first_name": bson.M{"$regex": search, "$options": "i"}},
			{"last_name": bson.M{"$regex": search, "$options": "i"}},
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	total, err := h.userCollection.CountDocuments(ctx, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to count users",
		})
		return
	}

	skip := (page - 1) * limit
	findOptions := options.Find().
		SetSkip(int64(skip)).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"password_hash": 0}).
		SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := h.userCollection.Find(ctx, filter, findOptions)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch users",
		})
		return
	}
	defer cursor.Close(ctx)

	var users []models.User
	if err = cursor.All(ctx, &users); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to decode users",
		})
		return
	}

	totalPages := int(total) / limit
	if int(total)%limit != 0 {
		totalPages++
	}

	c.JSON(http.StatusOK, UsersListResponse{
		Data:       users,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	})
}

// GetUserByID отримує користувача за ID (admin+)
func (h *UsersHandler) GetUserByID(c *gin.Context) {
	objectID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid user ID",
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var user models.User
	err = h.userCollection.FindOne(
		ctx,
		bson.M{"_id": objectID},
		options.FindOne().SetProjection(bson.M{"password_hash": 0}),
	).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "User not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Database error",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": user,
	})
}

// CreateStaff створює службовий акаунт agent або admin (тільки superadmin)
func (h *UsersHandler) CreateStaff(c *gin.Context) {
	var req CreateStaffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	role, _ := models.RoleFromString(req.Role)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	count, err := h.userCollection.CountDocuments(ctx, bson.M{
		"email": req.Email,
		"role":  role.String(),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Database error",
		})
		return
	}
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Account with this email and role already exists",
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
		Email:           req.Email,
		PasswordHash:    string(hashedPassword),
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Role:            role,
		IsEmailVerified: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if role == models.RoleAgent {
		user.ReferralCode = randomCode(8)
	}

	result, err := h.userCollection.InsertOne(ctx, user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error creating account",
		})
		return
	}
	user.ID = result.InsertedID.(primitive.ObjectID)

	logrus.WithFields(logrus.Fields{
		"email": user.Email,
		"role":  user.Role,
	}).Info("staff account created")

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"user":    user.Public(),
	})
}

// BlockUser блокує користувача і закриває йому доступ
func (h *UsersHandler) BlockUser(c *gin.Context) {
	userID := c.Param("id")
	objectID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid user ID",
		})
		return
	}

	var req BlockUserRequest
	_ = c.ShouldBindJSON(&req)

	callerID, _ := c.Get("user_id")
	if callerID.(string) == userID {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Cannot block your own account",
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := h.userCollection.UpdateOne(
		ctx,
		bson.M{"_id": objectID},
		bson.M{
			"$set": bson.M{
				"is_blocked":   true,
				"block_reason": req.Reason,
				"blocked_at":   time.Now(),
				"updated_at":   time.Now(),
			},
		},
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to block user",
		})
		return
	}
	if result.MatchedCount == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "User not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "User blocked successfully",
		"user_id": userID,
	})
}

// UnblockUser розблоковує користувача
func (h *UsersHandler) UnblockUser(c *gin.Context) {
	userID := c.Param("id")
	objectID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid user ID",
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := h.userCollection.UpdateOne(
		ctx,
		bson.M{"_id": objectID},
		bson.M{
			"$set": bson.M{
				"is_blocked":   false,
				"block_reason": "",
				"blocked_at":   nil,
				"updated_at":   time.Now(),
			},
		},
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to unblock user",
		})
		return
	}
	if result.MatchedCount == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "User not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "User unblocked successfully",
		"user_id": userID,
	})
}

// VerifyEmail позначає email користувача підтвердженим (admin+)
func (h *UsersHandler) VerifyEmail(c *gin.Context) {
	objectID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid user ID",
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var user models.User
	err = h.userCollection.FindOneAndUpdate(
		ctx,
		bson.M{"_id": objectID},
		bson.M{
			"$set": bson.M{
				"is_email_verified": true,
				"updated_at":        time.Now(),
			},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&user)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "User not found",
		})
		return
	}

	if err := h.notifications.NotifyUser(ctx, user.ID, user.Role,
		"Account verified",
		"Your email address has been verified",
		models.NotificationTypeAccount, models.PriorityLow, nil,
	); err != nil {
		logrus.WithError(err).Warn("failed to notify user about verification")
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "User verified successfully",
	})
}

// GetUserStats отримує статистику користувачів для дашборда (admin+)
func (h *UsersHandler) GetUserStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	totalUsers, _ := h.userCollection.CountDocuments(ctx, bson.M{})
	verifiedUsers, _ := h.userCollection.CountDocuments(ctx, bson.M{"is_email_verified": true})
	blockedUsers, _ := h.userCollection.CountDocuments(ctx, bson.M{"is_blocked": true})

	// Користувачі за ролями
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":   "$role",
			"count": bson.M{"$sum": 1},
		}}},
	}

	cursor, err := h.userCollection.Aggregate(ctx, pipeline)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error fetching role statistics",
		})
		return
	}
	defer cursor.Close(ctx)

	var roleStats []bson.M
	if err := cursor.All(ctx, &roleStats); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error decoding statistics",
		})
		return
	}

	oneMonthAgo := time.Now().AddDate(0, -1, 0)
	newUsersLastMonth, _ := h.userCollection.CountDocuments(ctx, bson.M{
		"created_at": bson.M{"$gte": oneMonthAgo},
	})

	oneWeekAgo := time.Now().AddDate(0, 0, -7)
	newUsersLastWeek, _ := h.userCollection.CountDocuments(ctx, bson.M{
		"created_at": bson.M{"$gte": oneWeekAgo},
	})

	c.JSON(http.StatusOK, gin.H{
		"total_users":          totalUsers,
		"verified_users":       verifiedUsers,
		"blocked_users":        blockedUsers,
		"users_by_role":        roleStats,
		"new_users_last_month": newUsersLastMonth,
		"new_users_last_week":  newUsersLastWeek,
		"timestamp":            time.Now(),
	})
}
