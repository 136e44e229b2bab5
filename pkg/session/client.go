package session

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// AuthError - отказ сервера авторизации (неверные данные,
// заблокированный аккаунт, недостаточно прав). Никогда не паника.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failed (%d): %s", e.Status, e.Message)
}

type wireUser struct {
	ID              string `json:"id"`
	FirstName       string `json:"firstname"`
	LastName        string `json:"lastname"`
	Email           string `json:"email"`
	Role            string `json:"role"`
	IsEmailVerified bool   `json:"isEmailVerified"`
}

type authResponse struct {
	Success bool     `json:"success"`
	Token   string   `json:"token"`
	User    wireUser `json:"user"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// apiClient - REST-обёртка над бэкендом авторизации
type apiClient struct {
	http *resty.Client
	log  *logrus.Entry
}

func newAPIClient(baseURL string) *apiClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &apiClient{
		http: client,
		log:  logrus.WithField("component", "session-api"),
	}
}

func (c *apiClient) toIdentity(resp authResponse) (Identity, error) {
	role, ok := ParseRole(resp.User.Role)
	if !ok {
		return Identity{}, fmt.Errorf("server returned unknown role %q", resp.User.Role)
	}
	return Identity{
		Token:     resp.Token,
		UserID:    resp.User.ID,
		Email:     resp.User.Email,
		FirstName: resp.User.FirstName,
		LastName:  resp.User.LastName,
		Role:      role,
		SavedAt:   time.Now(),
	}, nil
}

func (c *apiClient) authError(status int, failure errorResponse) *AuthError {
	message := failure.Error
	if message == "" {
		message = failure.Message
	}
	if message == "" {
		message = "authorization rejected"
	}
	return &AuthError{Status: status, Message: message}
}

// login обменивает email/password на Identity той роли, которую
// выбрал сервер
func (c *apiClient) login(ctx context.Context, email, password string) (Identity, error) {
	var success authResponse
	var failure errorResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&success).
		SetError(&failure).
		Post("/api/auth/login")
	if err != nil {
		return Identity{}, fmt.Errorf("login request failed: %w", err)
	}
	if resp.IsError() {
		return Identity{}, c.authError(resp.StatusCode(), failure)
	}

	return c.toIdentity(success)
}

// impersonate берёт клиентскую Identity от имени админа
func (c *apiClient) impersonate(ctx context.Context, adminToken, clientID string) (Identity, error) {
	var success authResponse
	var failure errorResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(adminToken).
		SetResult(&success).
		SetError(&failure).
		Post("/api/auth/impersonate/" + clientID)
	if err != nil {
		return Identity{}, fmt.Errorf("impersonate request failed: %w", err)
	}
	if resp.IsError() {
		return Identity{}, c.authError(resp.StatusCode(), failure)
	}

	identity, err := c.toIdentity(success)
	if err != nil {
		return Identity{}, err
	}
	identity.Impersonated = true
	return identity, nil
}
