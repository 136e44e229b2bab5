package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		log.Fatal(err)
	}
	defer client.Disconnect(ctx)

	collection := client.Database("trading_crm").Collection("users")

	// Миграция: проставить роль пользователям, у которых её нет.
	// Наличие referral_code означает агента, остальные считаются клиентами.
	result, err := collection.UpdateMany(
		ctx,
		bson.M{
			"$or": []bson.M{
				{"role": bson.M{"$exists": false}},
				{"role": ""},
			},
		},
		[]bson.M{
			{
				"$set": bson.M{
					"role": bson.M{
						"$cond": bson.A{
							bson.M{"$gt": bson.A{"$referral_code", nil}},
							"agent",
							"client",
						},
					},
				},
			},
		},
	)

	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Мигрировано %d пользователей\n", result.ModifiedCount)
}
