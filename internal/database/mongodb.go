// internal/database/mongodb.go
package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"trading-crm/internal/config"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

func NewMongoDB(cfg *config.Config) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.MongoTimeout)*time.Second)
	defer cancel()

	// Настройки клиента
	clientOptions := options.Client().
		ApplyURI(cfg.MongoURI).
		SetMaxPoolSize(100).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second)

	// Создание клиента
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к MongoDB: %w", err)
	}

	// Проверка подключения
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ошибка пинга MongoDB: %w", err)
	}

	database := client.Database(cfg.DatabaseName)

	log.Printf("Успешно подключен к MongoDB: %s", cfg.DatabaseName)

	return &MongoDB{
		Client:   client,
		Database: database,
	}, nil
}

func (m *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.Client.Disconnect(ctx); err != nil {
		return fmt.Errorf("ошибка отключения от MongoDB: %w", err)
	}

	log.Println("Отключен от MongoDB")
	return nil
}

// CreateIndexes создает индексы для всех коллекций
// ВАЖНО: Используем bson.D вместо map для сохранения порядка ключей
func (m *MongoDB) CreateIndexes(ctx context.Context) error {
	// Пользователи: email уникален в пределах роли - один человек
	// может иметь отдельные аккаунты client и agent
	userCollection := m.Database.Collection("users")
	userIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "email", Value: 1},
				{Key: "role", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "referral_code", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{
			Keys: bson.D{{Key: "agent_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "created_at", Value: -1}},
		},
	}

	if _, err := userCollection.Indexes().CreateMany(ctx, userIndexes); err != nil {
		return fmt.Errorf("ошибка создания индексов для пользователей: %w", err)
	}

	// Уведомления: выборка "мои, новые сначала" и подсчёт непрочитанных
	notificationCollection := m.Database.Collection("notifications")
	notificationIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "is_read", Value: 1},
			},
		},
	}

	if _, err := notificationCollection.Indexes().CreateMany(ctx, notificationIndexes); err != nil {
		return fmt.Errorf("ошибка создания индексов для уведомлений: %w", err)
	}

	// Депозиты и выводы: фильтрация по статусу в админке
	for _, name := range []string{"deposits", "withdrawals"} {
		coll := m.Database.Collection(name)
		indexes := []mongo.IndexModel{
			{
				Keys: bson.D{
					{Key: "status", Value: 1},
					{Key: "created_at", Value: -1},
				},
			},
			{
				Keys: bson.D{{Key: "user_id", Value: 1}},
			},
		}
		if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("ошибка создания индексов для %s: %w", name, err)
		}
	}

	// Комиссии IB-партнёров
	commissionCollection := m.Database.Collection("commissions")
	commissionIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "agent_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
		{
			Keys:    bson.D{{Key: "deposit_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := commissionCollection.Indexes().CreateMany(ctx, commissionIndexes); err != nil {
		return fmt.Errorf("ошибка создания индексов для комиссий: %w", err)
	}

	// Тикеты поддержки
	ticketCollection := m.Database.Collection("tickets")
	ticketIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "assigned_to", Value: 1}},
		},
	}

	if _, err := ticketCollection.Indexes().CreateMany(ctx, ticketIndexes); err != nil {
		return fmt.Errorf("ошибка создания индексов для тикетов: %w", err)
	}

	return nil
}
