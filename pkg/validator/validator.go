package validator

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"trading-crm/internal/models"
)

// Init регистрирует кастомные правила валидации поверх
// стандартного валидатора gin
func Init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("priority", validatePriority)
	}
}

// priority: low/medium/high/urgent
func validatePriority(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh, models.PriorityUrgent:
		return true
	}
	return false
}
