package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"trading-crm/internal/models"
	"trading-crm/pkg/auth"
)

func AuthMiddleware(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header is required",
			})
			c.Abort()
			return
		}

		// Проверяем формат "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization header format",
			})
			c.Abort()
			return
		}

		token := parts[1]
		claims, err := jwtManager.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
			})
			c.Abort()
			return
		}

		// Добавляем информацию о пользователе в контекст
		c.Set("user_id", claims.UserID)
		c.Set("user_email", claims.Email)
		c.Set("role", claims.Role)
		c.Set("impersonated", claims.Impersonated)
		if claims.Impersonated {
			c.Set("impersonator_id", claims.ImpersonatorID)
		}

		c.Next()
	}
}

// RequireRole пропускает токен, чья роль покрывает required по цепочке
// привилегий: superadmin принимается всюду, где нужен admin, admin -
// где нужен agent. Роль client стоит вне цепочки: клиентские маршруты
// доступны только клиентскому токену.
func RequireRole(required models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		roleValue, exists := c.Get("role")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "User not authenticated",
			})
			c.Abort()
			return
		}

		role, ok := models.RoleFromString(roleValue.(string))
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Invalid role",
			})
			c.Abort()
			return
		}

		if !role.Satisfies(required) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":     "Insufficient permissions",
				"required":  required.String(),
				"user_role": role.String(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireStaff пропускает любую служебную роль (agent и выше)
func RequireStaff() gin.HandlerFunc {
	return RequireRole(models.RoleAgent)
}
