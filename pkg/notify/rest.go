package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// restClient - REST-фоллбек канала уведомлений: загрузка страниц и
// мутации confirm-then-apply
type restClient struct {
	http *resty.Client
}

func newRESTClient(baseURL, token string) *restClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json")

	return &restClient{http: client}
}

type listResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Notifications []Notification `json:"notifications"`
		UnreadCount   int64          `json:"unreadCount"`
	} `json:"data"`
}

type restError struct {
	Error string `json:"error"`
}

func (c *restClient) fail(op string, status int, failure restError) error {
	message := failure.Error
	if message == "" {
		message = "request rejected"
	}
	return fmt.Errorf("%s failed (%d): %s", op, status, message)
}

// list загружает страницу уведомлений и серверный unread
func (c *restClient) list(ctx context.Context, page, limit int) ([]Notification, int64, error) {
	var success listResponse
	var failure restError

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("page", fmt.Sprintf("%d", page)).
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		SetResult(&success).
		SetError(&failure).
		Get("/api/notifications")
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	if resp.IsError() {
		return nil, 0, c.fail("list notifications", resp.StatusCode(), failure)
	}

	return success.Data.Notifications, success.Data.UnreadCount, nil
}

func (c *restClient) markRead(ctx context.Context, id string) error {
	var failure restError

	resp, err := c.http.R().
		SetContext(ctx).
		SetError(&failure).
		Patch("/api/notifications/" + id + "/read")
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if resp.IsError() {
		return c.fail("mark notification read", resp.StatusCode(), failure)
	}
	return nil
}

func (c *restClient) markAllRead(ctx context.Context) error {
	var failure restError

	resp, err := c.http.R().
		SetContext(ctx).
		SetError(&failure).
		Patch("/api/notifications/mark-all-read")
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	if resp.IsError() {
		return c.fail("mark all notifications read", resp.StatusCode(), failure)
	}
	return nil
}

func (c *restClient) delete(ctx context.Context, id string) error {
	var failure restError

	resp, err := c.http.R().
		SetContext(ctx).
		SetError(&failure).
		Delete("/api/notifications/" + id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if resp.IsError() {
		return c.fail("delete notification", resp.StatusCode(), failure)
	}
	return nil
}
