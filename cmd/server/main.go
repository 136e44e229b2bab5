// cmd/server/main.go - Trading CRM Backend Server
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Внутренние пакеты проекта
	"trading-crm/internal/config"
	"trading-crm/internal/database"
	"trading-crm/internal/handlers"
	"trading-crm/internal/middleware"
	"trading-crm/internal/models"
	"trading-crm/internal/realtime"
	"trading-crm/internal/services"
	"trading-crm/pkg/auth"
	"trading-crm/pkg/validator"

	// Внешние зависимости
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"
)

var (
	// Время запуска сервера для health check
	serverStartTime = time.Now()

	appVersion = "1.0.0"
)

func main() {
	// Загружаем конфигурацию (.env подхватывается внутри)
	cfg := config.Load()

	setupLogging(cfg)
	printStartupInfo(cfg)

	// Подключаемся к MongoDB
	log.Println("🔌 Connecting to MongoDB...")
	db, err := database.NewMongoDB(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("⚠️  Error disconnecting from MongoDB: %v", err)
		} else {
			log.Println("✅ Disconnected from MongoDB")
		}
	}()

	// Создаем индексы
	{
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := db.CreateIndexes(ctx); err != nil {
			log.Printf("⚠️  Warning: Failed to create some indexes: %v", err)
		}
		cancel()
	}

	// Инициализируем валидатор
	validator.Init()

	// Инициализируем JWT менеджер
	jwtManager := auth.NewJWTManager(
		cfg.JWTSecret,
		time.Duration(cfg.JWTExpiration)*time.Hour,
	)

	collections := getCollections(db.Database)

	// Seed-суперадмин, чтобы в свежую базу можно было войти
	if err := seedSuperAdmin(cfg, collections["users"]); err != nil {
		log.Printf("⚠️  Warning: failed to seed superadmin: %v", err)
	}

	// Realtime hub для уведомлений
	hub := realtime.NewHub()
	go hub.Run()
	defer hub.Shutdown()

	notificationService := services.NewNotificationService(
		collections["notifications"],
		collections["users"],
		hub,
	)

	authHandler := handlers.NewAuthHandler(collections["users"], jwtManager, notificationService)
	usersHandler := handlers.NewUsersHandler(collections["users"], notificationService)
	notificationHandler := handlers.NewNotificationHandler(notificationService)
	financeHandler := handlers.NewFinanceHandler(
		collections["deposits"],
		collections["withdrawals"],
		collections["commissions"],
		collections["users"],
		notificationService,
	)
	ticketHandler := handlers.NewTicketHandler(collections["tickets"], notificationService)
	wsHandler := handlers.NewWebSocketHandler(hub, jwtManager, notificationService)

	router := setupRouter(cfg, jwtManager, hub,
		authHandler, usersHandler, notificationHandler, financeHandler, ticketHandler, wsHandler)

	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	// Запускаем сервер в горутине
	go func() {
		log.Printf("🚀 Trading CRM Backend Server v%s starting...", appVersion)
		log.Printf("🌐 Server running on http://%s:%s", cfg.Host, cfg.Port)
		log.Printf("📡 WebSocket endpoint: ws://%s:%s/ws", cfg.Host, cfg.Port)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed to start: %v", err)
		}
	}()

	// Ожидаем сигнал завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	} else {
		log.Println("✅ Server gracefully stopped")
	}

	log.Println("👋 Trading CRM Backend exited")
}

// setupLogging настраивает логирование в зависимости от окружения
func setupLogging(cfg *config.Config) {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
}

// printStartupInfo выводит информацию о запуске сервера
func printStartupInfo(cfg *config.Config) {
	log.Println("================================================================================")
	log.Printf("📈 Trading CRM Backend Server")
	log.Printf("📌 Version: %s", appVersion)
	log.Printf("🌍 Environment: %s", cfg.Env)
	log.Printf("🔧 Configuration:")
	log.Printf("   • Host: %s", cfg.Host)
	log.Printf("   • Port: %s", cfg.Port)
	log.Printf("   • Database: %s", cfg.DatabaseName)
	log.Printf("   • CORS Origins: %v", cfg.AllowedOrigins)
	if cfg.RateLimitEnabled {
		log.Printf("   • Rate Limit: %d requests per %s", cfg.RateLimitRequests, cfg.RateLimitWindow)
	}
	log.Println("================================================================================")
}

// getCollections возвращает все коллекции MongoDB
func getCollections(db *mongo.Database) map[string]*mongo.Collection {
	return map[string]*mongo.Collection{
		"users":         db.Collection("users"),
		"notifications": db.Collection("notifications"),
		"deposits":      db.Collection("deposits"),
		"withdrawals":   db.Collection("withdrawals"),
		"commissions":   db.Collection("commissions"),
		"tickets":       db.Collection("tickets"),
	}
}

// seedSuperAdmin создаёт суперадмина при первом запуске, если задан
// SEED_ADMIN_EMAIL. Повторный запуск ничего не делает.
func seedSuperAdmin(cfg *config.Config, userCollection *mongo.Collection) error {
	if cfg.SeedAdminEmail == "" || cfg.SeedAdminPassword == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	count, err := userCollection.CountDocuments(ctx, bson.M{
		"role": models.RoleSuperAdmin.String(),
	})
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(cfg.SeedAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	now := time.Now()
	_, err = userCollection.InsertOne(ctx, models.User{
		Email:           cfg.SeedAdminEmail,
		PasswordHash:    string(hashedPassword),
		FirstName:       "Super",
		LastName:        "Admin",
		Role:            models.RoleSuperAdmin,
		IsEmailVerified: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return err
	}

	log.Printf("👑 Seeded superadmin account: %s", cfg.SeedAdminEmail)
	return nil
}

// setupRouter настраивает все маршруты
func setupRouter(
	cfg *config.Config,
	jwtManager *auth.JWTManager,
	hub *realtime.Hub,
	authHandler *handlers.AuthHandler,
	usersHandler *handlers.UsersHandler,
	notificationHandler *handlers.NotificationHandler,
	financeHandler *handlers.FinanceHandler,
	ticketHandler *handlers.TicketHandler,
	wsHandler *handlers.WebSocketHandler,
) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	// CORS для фронтенда
	corsConfig := cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// WebSocket endpoint - должен быть до других маршрутов
	router.GET("/ws", wsHandler.HandleWebSocket)

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
			"uptime":    time.Since(serverStartTime).String(),
			"version":   appVersion,
			"stats": gin.H{
				"websocket_connections": hub.GetConnectionsCount(),
				"active_rooms":          hub.GetActiveRoomsCount(),
			},
		})
	})

	api := router.Group("/api")
	{
		// Публичные auth-маршруты, под rate limit
		authGroup := api.Group("/auth")
		if cfg.RateLimitEnabled {
			limiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
			authGroup.Use(limiter.RateLimit())
		}
		authGroup.POST("/register/:role", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/forgot-password", authHandler.ForgotPassword)

		// Защищенные маршруты
		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware(jwtManager))
		{
			protected.GET("/users/me", usersHandler.GetProfile)
			protected.POST("/update-password", authHandler.UpdatePassword)
			protected.POST("/auth/impersonate/:id",
				middleware.RequireRole(models.RoleAdmin), authHandler.Impersonate)

			// Уведомления
			protected.GET("/notifications", notificationHandler.GetNotifications)
			protected.PATCH("/notifications/:id/read", notificationHandler.MarkAsRead)
			protected.PATCH("/notifications/mark-all-read", notificationHandler.MarkAllAsRead)
			protected.DELETE("/notifications/:id", notificationHandler.DeleteNotification)

			// Финансовые заявки
			protected.POST("/deposits", financeHandler.CreateDeposit)
			protected.GET("/deposits", financeHandler.ListDeposits)
			protected.POST("/withdrawals", financeHandler.CreateWithdrawal)
			protected.GET("/withdrawals", financeHandler.ListWithdrawals)

			// Тикеты поддержки
			protected.POST("/tickets", ticketHandler.CreateTicket)
			protected.GET("/tickets", ticketHandler.ListTickets)
			protected.GET("/tickets/:id", ticketHandler.GetTicket)
			protected.POST("/tickets/:id/reply", ticketHandler.ReplyTicket)

			// Комиссии агента
			agent := protected.Group("")
			agent.Use(middleware.RequireRole(models.RoleAgent))
			{
				agent.GET("/commissions", financeHandler.ListCommissions)
				agent.GET("/users", usersHandler.GetAllUsers)
			}

			// Админские маршруты
			admin := protected.Group("/admin")
			admin.Use(middleware.RequireRole(models.RoleAdmin))
			{
				admin.GET("/users/:id", usersHandler.GetUserByID)
				admin.PUT("/users/:id/block", usersHandler.BlockUser)
				admin.PUT("/users/:id/unblock", usersHandler.UnblockUser)
				admin.PUT("/users/:id/verify", usersHandler.VerifyEmail)
				admin.GET("/users/stats", usersHandler.GetUserStats)

				admin.PUT("/deposits/:id/approve", financeHandler.ApproveDeposit)
				admin.PUT("/deposits/:id/reject", financeHandler.RejectDeposit)
				admin.PUT("/withdrawals/:id/approve", financeHandler.ApproveWithdrawal)
				admin.PUT("/withdrawals/:id/reject", financeHandler.RejectWithdrawal)

				admin.PUT("/tickets/:id/status", ticketHandler.UpdateTicketStatus)
			}

			// Только superadmin
			superadmin := protected.Group("/superadmin")
			superadmin.Use(middleware.RequireRole(models.RoleSuperAdmin))
			{
				superadmin.POST("/staff", usersHandler.CreateStaff)
			}
		}
	}

	// 404 handler
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Endpoint not found",
			"path":  c.Request.URL.Path,
		})
	})

	return router
}
