// internal/handlers/ticket.go

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

	"trading-crm/internal/models"
	"trading-crm/internal/services"
)

// TicketHandler обрабатывает обращения клиентов в поддержку
type TicketHandler struct {
	ticketCollection *mongo.Collection
	notifications    *services.NotificationService
}

type CreateTicketRequest struct {
	Subject  string `json:"subject" binding:"required,min=3,max=200"`
	Category string `json:"category" binding:"required,oneof=billing trading technical other"`
	Priority string `json:"priority" binding:"omitempty,priority"`
	Body     string `json:"body" binding:"required,min=1,max=5000"`
}

type ReplyTicketRequest struct {
	Body string `json:"body" binding:"required,min=1,max=5000"`
}

type UpdateTicketStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=open in_progress resolved closed"`
}

func NewTicketHandler(ticketCollection *mongo.Collection, notifications *services.NotificationService) *TicketHandler {
	return &TicketHandler{
		ticketCollection: ticketCollection,
		notifications:    notifications,
	}
}

// CreateTicket создаёт обращение с первым сообщением
func (h *TicketHandler) CreateTicket(c *gin.Context) {
	var req CreateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	userID, _ := c.Get("user_id")
	roleValue, _ := c.Get("role")
	role, _ := models.RoleFromString(roleValue.(string))

	userIDObj, err := primitive.ObjectIDFromHex(userID.(string))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid user ID",
		})
		return
	}

	now := time.Now()
	ticket := models.Ticket{
		UserID:   userIDObj,
		Subject:  req.Subject,
		Category: req.Category,
		Priority: models.ValidPriority(req.Priority),
		Status:   models.TicketStatusOpen,
		Messages: []models.TicketMessage{{
			AuthorID:  userIDObj,
			Role:      role,
			Body:      req.Body,
			CreatedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := h.ticketCollection.InsertOne(ctx, ticket)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error creating ticket",
		})
		return
	}
	ticket.ID = result.InsertedID.(primitive.ObjectID)

	if err := h.notifications.NotifyAdmins(ctx,
		"New support ticket",
		ticket.Subject,
		models.NotificationTypeTicket, ticket.Priority,
		map[string]interface{}{"ticketId": ticket.ID.Hex()},
	); err != nil {
		logrus.WithError(err).Warn("failed to notify admins about ticket")
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    ticket,
	})
}

// ListTickets: клиент видит свои тикеты, служебные роли - все
func (h *TicketHandler) ListTickets(c *gin.Context) {
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

	total, err := h.ticketCollection.CountDocuments(ctx, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error counting tickets",
		})
		return
	}

	skip := (page - 1) * limit
	findOptions := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64(skip)).
		SetSort(bson.D{{Key: "updated_at", Value: -1}})

	cursor, err := h.ticketCollection.Find(ctx, filter, findOptions)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error fetching tickets",
		})
		return
	}
	defer cursor.Close(ctx)

	var tickets []models.Ticket
	if err := cursor.All(ctx, &tickets); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error decoding tickets",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"tickets": tickets},
		"pagination": gin.H{
			"page":        page,
			"limit":       limit,
			"total":       total,
			"total_pages": (total + int64(limit) - 1) / int64(limit),
		},
	})
}

// GetTicket возвращает тикет с полной перепиской
func (h *TicketHandler) GetTicket(c *gin.Context) {
	ticket, ok := h.loadVisible(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    ticket,
	})
}

// ReplyTicket добавляет сообщение в переписку. Ответ сотрудника
// переводит open -> in_progress и уведомляет клиента; ответ клиента
// уведомляет админов.
func (h *TicketHandler) ReplyTicket(c *gin.Context) {
	var req ReplyTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	ticket, ok := h.loadVisible(c)
	if !ok {
		return
	}
	if ticket.Status == models.TicketStatusClosed {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Ticket is closed",
		})
		return
	}

	userID, _ := c.Get("user_id")
	roleValue, _ := c.Get("role")
	role, _ := models.RoleFromString(roleValue.(string))
	userIDObj, _ := primitive.ObjectIDFromHex(userID.(string))

	now := time.Now()
	message := models.TicketMessage{
		AuthorID:  userIDObj,
		Role:      role,
		Body:      req.Body,
		CreatedAt: now,
	}

	update := bson.M{
		"$push": bson.M{"messages": message},
		"$set":  bson.M{"updated_at": now},
	}
	if role.IsStaff() && ticket.Status == models.TicketStatusOpen {
		update["$set"] = bson.M{
			"updated_at":  now,
			"status":      models.TicketStatusInProgress,
			"assigned_to": userIDObj,
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := h.ticketCollection.UpdateOne(ctx, bson.M{"_id": ticket.ID}, update); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Error saving reply",
		})
		return
	}

	if role.IsStaff() {
		if err := h.notifications.NotifyUser(ctx, ticket.UserID, models.RoleClient,
			"Support replied",
			"New reply in ticket: "+ticket.Subject,
			models.NotificationTypeTicket, models.PriorityMedium,
			map[string]interface{}{"ticketId": ticket.ID.Hex()},
		); err != nil {
			logrus.WithError(err).Warn("failed to notify client about ticket reply")
		}
	} else {
		if err := h.notifications.NotifyAdmins(ctx,
			"Ticket updated",
			"New client reply in ticket: "+ticket.Subject,
			models.NotificationTypeTicket, models.PriorityMedium,
			map[string]interface{}{"ticketId": ticket.ID.Hex()},
		); err != nil {
			logrus.WithError(err).Warn("failed to notify admins about ticket reply")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Reply added",
	})
}

// UpdateTicketStatus меняет статус (только служебные роли)
func (h *TicketHandler) UpdateTicketStatus(c *gin.Context) {
	ticketID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid ticket ID",
		})
		return
	}

	var req UpdateTicketStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var ticket models.Ticket
	err = h.ticketCollection.FindOneAndUpdate(ctx,
		bson.M{"_id": ticketID},
		bson.M{"$set": bson.M{"status": req.Status, "updated_at": time.Now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&ticket)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Ticket not found",
		})
		return
	}

	if req.Status == models.TicketStatusResolved || req.Status == models.TicketStatusClosed {
		if err := h.notifications.NotifyUser(ctx, ticket.UserID, models.RoleClient,
			"Ticket "+req.Status,
			"Your ticket has been updated: "+ticket.Subject,
			models.NotificationTypeTicket, models.PriorityLow,
			map[string]interface{}{"ticketId": ticket.ID.Hex()},
		); err != nil {
			logrus.WithError(err).Warn("failed to notify client about ticket status")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    ticket,
	})
}

// loadVisible загружает тикет и проверяет, что он виден текущему
// пользователю. При ошибке пишет ответ сама.
func (h *TicketHandler) loadVisible(c *gin.Context) (models.Ticket, bool) {
	var ticket models.Ticket

	ticketID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid ticket ID",
		})
		return ticket, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.ticketCollection.FindOne(ctx, bson.M{"_id": ticketID}).Decode(&ticket); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Ticket not found",
		})
		return ticket, false
	}

	userID, _ := c.Get("user_id")
	roleValue, _ := c.Get("role")
	role, _ := models.RoleFromString(roleValue.(string))

	if !role.IsStaff() && ticket.UserID.Hex() != userID.(string) {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Access denied",
		})
		return ticket, false
	}

	return ticket, true
}
