package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server настройки
	Port string
	Host string
	Env  string

	// MongoDB настройки
	MongoURI     string
	DatabaseName string
	MongoTimeout int

	// JWT настройки
	JWTSecret     string
	JWTExpiration int

	// CORS: origin фронтенда
	AllowedOrigins []string

	// Rate limit для auth-эндпоинтов
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Seed-доступ суперадмина при первом запуске
	SeedAdminEmail    string
	SeedAdminPassword string
}

func Load() *Config {
	// Загружаем переменные из .env файла
	if err := godotenv.Load(); err != nil {
		log.Printf("Не удалось загрузить .env файл: %v", err)
	}

	config := &Config{
		Port:              getEnv("PORT", "8080"),
		Host:              getEnv("HOST", "0.0.0.0"),
		Env:               getEnv("ENV", "development"),
		MongoURI:          getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DatabaseName:      getEnv("DATABASE_NAME", "trading_crm"),
		MongoTimeout:      getEnvAsInt("MONGO_TIMEOUT", 10),
		JWTSecret:         getEnv("JWT_SECRET", "your-secret-key"),
		JWTExpiration:     getEnvAsInt("JWT_EXPIRATION", 24), // часы
		AllowedOrigins:    []string{getEnv("FRONTEND_ORIGIN", "http://localhost:5173")},
		RateLimitEnabled:  getEnvAsBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: getEnvAsInt("RATE_LIMIT_REQUESTS", 20),
		RateLimitWindow:   time.Duration(getEnvAsInt("RATE_LIMIT_WINDOW_SEC", 60)) * time.Second,
		SeedAdminEmail:    getEnv("SEED_ADMIN_EMAIL", ""),
		SeedAdminPassword: getEnv("SEED_ADMIN_PASSWORD", ""),
	}

	return config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
