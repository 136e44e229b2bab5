package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"trading-crm/internal/models"
	"trading-crm/internal/realtime"
	"trading-crm/internal/services"
	"trading-crm/pkg/auth"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin фильтруется CORS-слоем, сюда доходит уже проверенный запрос
		return true
	},
}

type WebSocketHandler struct {
	hub                 *realtime.Hub
	jwtManager          *auth.JWTManager
	notificationService *services.NotificationService
}

func NewWebSocketHandler(hub *realtime.Hub, jwtManager *auth.JWTManager, notificationService *services.NotificationService) *WebSocketHandler {
	return &WebSocketHandler{
		hub:                 hub,
		jwtManager:          jwtManager,
		notificationService: notificationService,
	}
}

// HandleWebSocket апгрейдит соединение для канала уведомлений.
// Токен приходит в query (?token=), потому что браузерный WebSocket
// не умеет выставлять Authorization header.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Token is required",
		})
		return
	}

	claims, err := h.jwtManager.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid token",
		})
		return
	}

	role, ok := models.RoleFromString(claims.Role)
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Invalid role",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := realtime.NewClient(h.hub, conn, claims.UserID, role, h.notificationService)
	client.Start()
}
