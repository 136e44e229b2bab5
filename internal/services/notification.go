package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trading-crm/internal/models"
	"trading-crm/internal/realtime"
	"trading-crm/pkg/notify"
)

// NotificationService сохраняет уведомления в MongoDB и рассылает
// realtime-события через hub. Копия уведомления всегда принадлежит
// одному получателю (user_id + role); кадры в комнатах - только
// сигнал для подключённых вкладок, истина живёт в коллекции.
type NotificationService struct {
	notificationCollection *mongo.Collection
	userCollection         *mongo.Collection
	hub                    *realtime.Hub
	log                    *logrus.Entry
}

func NewNotificationService(notificationCollection, userCollection *mongo.Collection, hub *realtime.Hub) *NotificationService {
	return &NotificationService{
		notificationCollection: notificationCollection,
		userCollection:         userCollection,
		hub:                    hub,
		log:                    logrus.WithField("component", "notifications"),
	}
}

func toWire(n models.Notification) notify.Notification {
	n.FillTimeAgo(time.Now())
	return notify.Notification{
		ID:        n.ID.Hex(),
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		Priority:  n.Priority,
		Data:      n.Data,
		Read:      n.IsRead,
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
		TimeAgo:   n.TimeAgo,
	}
}

func (ns *NotificationService) insert(ctx context.Context, userID primitive.ObjectID, role models.UserRole, title, message, notificationType, priority string, data map[string]interface{}) (models.Notification, error) {
	notification := models.Notification{
		UserID:    userID,
		Role:      role,
		Title:     title,
		Message:   message,
		Type:      notificationType,
		Priority:  models.ValidPriority(priority),
		Data:      data,
		IsRead:    false,
		CreatedAt: time.Now(),
	}

	result, err := ns.notificationCollection.InsertOne(ctx, notification)
	if err != nil {
		return notification, fmt.Errorf("failed to save notification: %w", err)
	}

	notification.ID = result.InsertedID.(primitive.ObjectID)
	return notification, nil
}

// NotifyUser сохраняет уведомление для одного получателя и шлёт кадр
// в его персональную комнату
func (ns *NotificationService) NotifyUser(ctx context.Context, userID primitive.ObjectID, role models.UserRole, title, message, notificationType, priority string, data map[string]interface{}) error {
	notification, err := ns.insert(ctx, userID, role, title, message, notificationType, priority, data)
	if err != nil {
		return err
	}

	ns.hub.EmitToUser(userID.Hex(), notify.NewNotificationFrame(toWire(notification)))
	return nil
}

// NotifyAdmins сохраняет копию уведомления каждому admin/superadmin
// и шлёт один кадр в общую комнату. У каждого админа своя копия со
// своим id; подключённые админы сверяют точный unread через
// getNotificationCount.
func (ns *NotificationService) NotifyAdmins(ctx context.Context, title, message, notificationType, priority string, data map[string]interface{}) error {
	cursor, err := ns.userCollection.Find(ctx, bson.M{
		"role":       bson.M{"$in": []string{models.RoleAdmin.String(), models.RoleSuperAdmin.String()}},
		"is_blocked": false,
	})
	if err != nil {
		return fmt.Errorf("failed to list admins: %w", err)
	}
	defer cursor.Close(ctx)

	var first *models.Notification
	for cursor.Next(ctx) {
		var admin models.User
		if err := cursor.Decode(&admin); err != nil {
			continue
		}

		notification, err := ns.insert(ctx, admin.ID, admin.Role, title, message, notificationType, priority, data)
		if err != nil {
			ns.log.WithError(err).Warn("skipping admin notification copy")
			continue
		}
		if first == nil {
			first = &notification
		}
	}

	if first != nil {
		ns.hub.Emit(realtime.AdminRoom, notify.NewNotificationFrame(toWire(*first)))
	}
	return nil
}

// List возвращает страницу уведомлений получателя (новые сначала)
// и текущее количество непрочитанных
func (ns *NotificationService) List(ctx context.Context, userID primitive.ObjectID, page, limit int) ([]models.Notification, int64, error) {
	skip := (page - 1) * limit
	findOptions := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64(skip)).
		SetSort(bson.D{{Key: "created_at", Value: -1}}) // Нові спочатку

	cursor, err := ns.notificationCollection.Find(ctx, bson.M{"user_id": userID}, findOptions)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch notifications: %w", err)
	}
	defer cursor.Close(ctx)

	var notifications []models.Notification
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, 0, fmt.Errorf("failed to decode notifications: %w", err)
	}

	now := time.Now()
	for i := range notifications {
		notifications[i].FillTimeAgo(now)
	}

	unread, err := ns.unreadCount(ctx, userID)
	if err != nil {
		unread = 0
	}

	return notifications, unread, nil
}

func (ns *NotificationService) unreadCount(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	return ns.notificationCollection.CountDocuments(ctx, bson.M{
		"user_id": userID,
		"is_read": false,
	})
}

// MarkRead помечает уведомление прочитанным и шлёт echo-кадр в
// персональную комнату, чтобы другие вкладки согласовали состояние.
// Повторный вызов для уже прочитанного - no-op.
func (ns *NotificationService) MarkRead(userID, notificationID string) error {
	userIDObj, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	notificationIDObj, err := primitive.ObjectIDFromHex(notificationID)
	if err != nil {
		return fmt.Errorf("invalid notification id: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := ns.notificationCollection.UpdateOne(ctx,
		bson.M{"_id": notificationIDObj, "user_id": userIDObj},
		bson.M{"$set": bson.M{"is_read": true, "read_at": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("notification not found")
	}

	ns.hub.EmitToUser(userID, notify.ReadFrame(notificationID))
	return nil
}

// MarkAllRead помечает все непрочитанные уведомления получателя
func (ns *NotificationService) MarkAllRead(userID string) error {
	userIDObj, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = ns.notificationCollection.UpdateMany(ctx,
		bson.M{"user_id": userIDObj, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true, "read_at": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark notifications as read: %w", err)
	}

	ns.hub.EmitToUser(userID, notify.AllReadFrame())
	return nil
}

// Delete удаляет уведомление получателя
func (ns *NotificationService) Delete(userID, notificationID string) error {
	userIDObj, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	notificationIDObj, err := primitive.ObjectIDFromHex(notificationID)
	if err != nil {
		return fmt.Errorf("invalid notification id: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := ns.notificationCollection.DeleteOne(ctx, bson.M{
		"_id":     notificationIDObj,
		"user_id": userIDObj,
	})
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("notification not found")
	}

	ns.hub.EmitToUser(userID, notify.DeletedFrame(notificationID))
	return nil
}

// UnreadCount - авторитетный счётчик для getNotificationCount
func (ns *NotificationService) UnreadCount(userID string) (int64, error) {
	userIDObj, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return 0, fmt.Errorf("invalid user id: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return ns.unreadCount(ctx, userIDObj)
}
