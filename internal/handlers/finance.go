// internal/handlers/finance.go

package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trading-crm/internal/models"
	"trading-crm/internal/services"
)

// FinanceHandler обрабатывает заявки на депозиты и выводы.
// Клиент создаёт заявку, админ подтверждает или отклоняет; при
// подтверждении депозита агенту клиента начисляется IB-комиссия.
type FinanceHandler struct {
	depositCollection    *mongo.Collection
	withdrawalCollection *mongo.Collection
	commissionCollection *mongo.Collection
	userCollection       *mongo.Collection
	notifications        *services.NotificationService
}

type CreateDepositRequest struct {
	AmountCents int64  `json:"amountCents" binding:"required,gt=0"`
	Currency    string `json:"currency" binding:"required,len=3"`
	Method      string `json:"method" binding:"required,oneof=bank card crypto"`
	Reference   string `json:"reference,omitempty"`
}

type CreateWithdrawalRequest struct {
	AmountCents int64  `json:"amountCents" binding:"required,gt=0"`
	Currency    string `json:"currency" binding:"required,len=3"`
	Method      string `json:"method" binding:"required,oneof=bank card crypto"`
	Details     string `json:"details" binding:"required"`
}

type ReviewRequest struct {
	Note string `json:"note,omitempty"`
}

func NewFinanceHandler(
	depositCollection, withdrawalCollection, commissionCollection, userCollection *mongo.Collection,
	notifications *services.NotificationService,
) *FinanceHandler {
	return &FinanceHandler{
		depositCollection:    depositCollection,
		withdrawalCollection: withdrawalCollection,
		commissionCollection: commissionCollection,
		userCollection:       userCollection,
		notifications:        notifications,
	}
}

// CreateDeposit создаёт заявку на пополнение (только клиент)
func (h *FinanceHandler) CreateDeposit(c *gin.Context) {
	var req CreateDepositRequest
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

	now := time.Now()
	deposit := models.Deposit{
		UserID:      userIDObj,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Method:      req.Method,
		Reference:   req.Reference,
		Status:      models.RequestStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := h.depositCollection.InsertOne(ctx, deposit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error creating deposit request",
		})
		return
	}
	deposit.ID = result.InsertedID.(primitive.ObjectID)

	// Админы узнают о новой заявке сразу
	if err := h.notifications.NotifyAdmins(ctx,
		"New deposit request",
		fmt.Sprintf("Deposit of %s is waiting for review", formatAmount(req.AmountCents, req.Currency)),
		models.NotificationTypeDeposit, models.PriorityMedium,
		map[string]interface{}{"depositId": deposit.ID.Hex()},
	); err != nil {
		logrus.WithError(err).Warn("failed to notify admins about deposit")
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    deposit,
	})
}

// ListDeposits: клиент видит свои заявки, служебные роли - все,
// с фильтром по статусу
func (h *FinanceHandler) ListDeposits(c *gin.Context) {
	h.listRequests(c, h.depositCollection, "deposits")
}

// CreateWithdrawal создаёт заявку на вывод (только клиент)
func (h *FinanceHandler) CreateWithdrawal(c *gin.Context) {
	var req CreateWithdrawalRequest
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

	// Баланс проверяется и при создании, и при подтверждении:
	// между заявкой и ревью деньги могли уйти другим выводом
	var user models.User
	if err := h.userCollection.FindOne(ctx, bson.M{"_id": userIDObj}).Decode(&user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Database error",
		})
		return
	}
	if user.BalanceCents < req.AmountCents {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Insufficient balance",
		})
		return
	}

	now := time.Now()
	withdrawal := models.Withdrawal{
		UserID:      userIDObj,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Method:      req.Method,
		Details:     req.Details,
		Status:      models.RequestStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	result, err := h.withdrawalCollection.InsertOne(ctx, withdrawal)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error creating withdrawal request",
		})
		return
	}
	withdrawal.ID = result.InsertedID.(primitive.ObjectID)

	if err := h.notifications.NotifyAdmins(ctx,
		"New withdrawal request",
		fmt.Sprintf("Withdrawal of %s is waiting for review", formatAmount(req.AmountCents, req.Currency)),
		models.NotificationTypeWithdrawal, models.PriorityHigh,
		map[string]interface{}{"withdrawalId": withdrawal.ID.Hex()},
	); err != nil {
		logrus.WithError(err).Warn("failed to notify admins about withdrawal")
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    withdrawal,
	})
}

// ListWithdrawals - см. ListDeposits
func (h *FinanceHandler) ListWithdrawals(c *gin.Context) {
	h.listRequests(c, h.withdrawalCollection, "withdrawals")
}

// listRequests - общий листинг для депозитов и выводов
func (h *FinanceHandler) listRequests(c *gin.Context, collection *mongo.Collection, key string) {
	userID, _ := c.Get("user_id")
	roleValue, _ := c.Get("role")
	role, _ := models.RoleFromString(roleValue.(string))

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	status := c.Query("status")

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	filter := bson.M{}
	if !role.IsStaff() {
		userIDObj, err := primitive.ObjectIDFromHex(userID.(string))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid user ID",
			})
			return
		}
		filter["user_id"] = userIDObj
	}
	if status != "" {
		filter["status"] = status
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	total, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error counting requests",
		})
		return
	}

	skip := (page - 1) * limit
	findOptions := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64(skip)).
		SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := collection.Find(ctx, filter, findOptions)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error fetching requests",
		})
		return
	}
	defer cursor.Close(ctx)

	var items []bson.M
	if err := cursor.All(ctx, &items); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error decoding requests",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{key: items},
		"pagination": gin.H{
			"page":        page,
			"limit":       limit,
			"total":       total,
			"total_pages": (total + int64(limit) - 1) / int64(limit),
		},
	})
}

// ApproveDeposit подтверждает депозит: статус, баланс клиента,
// IB-комиссия агенту, уведомления клиенту и агенту
func (h *FinanceHandler) ApproveDeposit(c *gin.Context) {
	depositID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid deposit ID",
		})
		return
	}

	var req ReviewRequest
	_ = c.ShouldBindJSON(&req)

	adminID, _ := c.Get("user_id")
	adminIDObj, _ := primitive.ObjectIDFromHex(adminID.(string))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	now := time.Now()
	// Переводим pending -> approved атомарно, повторный approve не пройдёт
	var deposit models.Deposit
	err = h.depositCollection.FindOneAndUpdate(ctx,
		bson.M{"_id": depositID, "status": models.RequestStatusPending},
		bson.M{"$set": bson.M{
			"status":      models.RequestStatusApproved,
			"reviewed_by": adminIDObj,
			"review_note": req.Note,
			"reviewed_at": now,
			"updated_at":  now,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&deposit)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Deposit not found or already reviewed",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error approving deposit",
		})
		return
	}

	// Зачисляем на баланс клиента
	_, err = h.userCollection.UpdateOne(ctx,
		bson.M{"_id": deposit.UserID},
		bson.M{"$inc": bson.M{"balance_cents": deposit.AmountCents}},
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error updating balance",
		})
		return
	}

	if err := h.notifications.NotifyUser(ctx, deposit.UserID, models.RoleClient,
		"Deposit approved",
		fmt.Sprintf("Your deposit of %s has been approved", formatAmount(deposit.AmountCents, deposit.Currency)),
		models.NotificationTypeDeposit, models.PriorityHigh,
		map[string]interface{}{"depositId": deposit.ID.Hex()},
	); err != nil {
		logrus.WithError(err).Warn("failed to notify client about deposit approval")
	}

	h.accrueCommission(ctx, deposit)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    deposit,
	})
}

// accrueCommission начисляет агенту комиссию с подтверждённого
// депозита его клиента. Уникальный индекс по deposit_id гарантирует,
// что одна заявка не даст двух начислений.
func (h *FinanceHandler) accrueCommission(ctx context.Context, deposit models.Deposit) {
	var client models.User
	if err := h.userCollection.FindOne(ctx, bson.M{"_id": deposit.UserID}).Decode(&client); err != nil {
		logrus.WithError(err).Warn("commission: failed to load client")
		return
	}
	if client.AgentID == nil {
		return
	}

	commission := models.Commission{
		AgentID:     *client.AgentID,
		ClientID:    client.ID,
		DepositID:   deposit.ID,
		AmountCents: deposit.AmountCents * models.CommissionRateBps / 10000,
		RateBps:     models.CommissionRateBps,
		CreatedAt:   time.Now(),
	}

	if _, err := h.commissionCollection.InsertOne(ctx, commission); err != nil {
		logrus.WithError(err).Warn("commission: insert failed")
		return
	}

	if err := h.notifications.NotifyUser(ctx, commission.AgentID, models.RoleAgent,
		"Commission earned",
		fmt.Sprintf("You earned %s from a client deposit", formatAmount(commission.AmountCents, deposit.Currency)),
		models.NotificationTypeCommission, models.PriorityMedium,
		map[string]interface{}{"depositId": deposit.ID.Hex()},
	); err != nil {
		logrus.WithError(err).Warn("failed to notify agent about commission")
	}
}

// RejectDeposit отклоняет заявку с комментарием
func (h *FinanceHandler) RejectDeposit(c *gin.Context) {
	h.reject(c, h.depositCollection, models.NotificationTypeDeposit, "Deposit rejected", "Your deposit request was rejected")
}

// ApproveWithdrawal подтверждает вывод и списывает баланс
func (h *FinanceHandler) ApproveWithdrawal(c *gin.Context) {
	withdrawalID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid withdrawal ID",
		})
		return
	}

	var req ReviewRequest
	_ = c.ShouldBindJSON(&req)

	adminID, _ := c.Get("user_id")
	adminIDObj, _ := primitive.ObjectIDFromHex(adminID.(string))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var withdrawal models.Withdrawal
	if err := h.withdrawalCollection.FindOne(ctx, bson.M{
		"_id":    withdrawalID,
		"status": models.RequestStatusPending,
	}).Decode(&withdrawal); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Withdrawal not found or already reviewed",
		})
		return
	}

	// Списываем только если хватает средств, атомарно
	now := time.Now()
	balanceResult, err := h.userCollection.UpdateOne(ctx,
		bson.M{
			"_id":           withdrawal.UserID,
			"balance_cents": bson.M{"$gte": withdrawal.AmountCents},
		},
		bson.M{"$inc": bson.M{"balance_cents": -withdrawal.AmountCents}},
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error updating balance",
		})
		return
	}
	if balanceResult.MatchedCount == 0 {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Client balance is insufficient",
		})
		return
	}

	_, err = h.withdrawalCollection.UpdateOne(ctx,
		bson.M{"_id": withdrawalID, "status": models.RequestStatusPending},
		bson.M{"$set": bson.M{
			"status":      models.RequestStatusApproved,
			"reviewed_by": adminIDObj,
			"review_note": req.Note,
			"reviewed_at": now,
			"updated_at":  now,
		}},
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error approving withdrawal",
		})
		return
	}

	if err := h.notifications.NotifyUser(ctx, withdrawal.UserID, models.RoleClient,
		"Withdrawal approved",
		fmt.Sprintf("Your withdrawal of %s has been approved", formatAmount(withdrawal.AmountCents, withdrawal.Currency)),
		models.NotificationTypeWithdrawal, models.PriorityHigh,
		map[string]interface{}{"withdrawalId": withdrawal.ID.Hex()},
	); err != nil {
		logrus.WithError(err).Warn("failed to notify client about withdrawal approval")
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Withdrawal approved",
	})
}

// RejectWithdrawal отклоняет заявку на вывод
func (h *FinanceHandler) RejectWithdrawal(c *gin.Context) {
	h.reject(c, h.withdrawalCollection, models.NotificationTypeWithdrawal, "Withdrawal rejected", "Your withdrawal request was rejected")
}

// reject - общий путь отклонения заявки
func (h *FinanceHandler) reject(c *gin.Context, collection *mongo.Collection, notificationType, title, message string) {
	requestID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request ID",
		})
		return
	}

	var req ReviewRequest
	_ = c.ShouldBindJSON(&req)

	adminID, _ := c.Get("user_id")
	adminIDObj, _ := primitive.ObjectIDFromHex(adminID.(string))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now()
	var request struct {
		UserID primitive.ObjectID `bson:"user_id"`
	}
	err = collection.FindOneAndUpdate(ctx,
		bson.M{"_id": requestID, "status": models.RequestStatusPending},
		bson.M{"$set": bson.M{
			"status":      models.RequestStatusRejected,
			"reviewed_by": adminIDObj,
			"review_note": req.Note,
			"reviewed_at": now,
			"updated_at":  now,
		}},
	).Decode(&request)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Request not found or already reviewed",
		})
		return
	}

	body := message
	if req.Note != "" {
		body = message + ": " + req.Note
	}
	if err := h.notifications.NotifyUser(ctx, request.UserID, models.RoleClient,
		title, body, notificationType, models.PriorityHigh, nil,
	); err != nil {
		logrus.WithError(err).Warn("failed to notify client about rejection")
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Request rejected",
	})
}

// ListCommissions возвращает начисления агента с итоговой суммой.
// Админ может запросить чужие через ?agentId=
func (h *FinanceHandler) ListCommissions(c *gin.Context) {
	userID, _ := c.Get("user_id")
	roleValue, _ := c.Get("role")
	role, _ := models.RoleFromString(roleValue.(string))

	agentHex := userID.(string)
	if requested := c.Query("agentId"); requested != "" && role.Satisfies(models.RoleAdmin) {
		agentHex = requested
	}

	agentIDObj, err := primitive.ObjectIDFromHex(agentHex)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid agent ID",
		})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	filter := bson.M{"agent_id": agentIDObj}

	total, err := h.commissionCollection.CountDocuments(ctx, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error counting commissions",
		})
		return
	}

	skip := (page - 1) * limit
	findOptions := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64(skip)).
		SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := h.commissionCollection.Find(ctx, filter, findOptions)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error fetching commissions",
		})
		return
	}
	defer cursor.Close(ctx)

	var commissions []models.Commission
	if err := cursor.All(ctx, &commissions); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error decoding commissions",
		})
		return
	}

	// Итог считаем агрегацией, а не по странице
	var totalCents int64
	aggCursor, err := h.commissionCollection.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": "$amount_cents"},
		}}},
	})
	if err == nil {
		var aggResult []struct {
			Total int64 `bson:"total"`
		}
		if err := aggCursor.All(ctx, &aggResult); err == nil && len(aggResult) > 0 {
			totalCents = aggResult[0].Total
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"commissions":      commissions,
			"totalEarnedCents": totalCents,
		},
		"pagination": gin.H{
			"page":        page,
			"limit":       limit,
			"total":       total,
			"total_pages": (total + int64(limit) - 1) / int64(limit),
		},
	})
}

// formatAmount: 150000, "USD" -> "1500.00 USD"
func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, currency)
}
