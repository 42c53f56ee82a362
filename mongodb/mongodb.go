package mongodb

import (
	"clinipratica/api/logger"
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

var (
	TenantCollection      string = "tenants"
	PatientCollection     string = "patients"
	TransactionCollection string = "transactions"
	MongoDatabase         string = "clinipratica"
	MongoClient           *mongo.Client
)

func InitMongoDB(ctx context.Context, mongoURI, database string) error {
	if mongoURI == "" {
		return fmt.Errorf("MONGO_URI environment variable not set")
	}
	if database != "" {
		MongoDatabase = database
	}

	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(mongoURI).SetServerAPIOptions(serverAPI).SetRegistry(Registry())

	client, err := mongo.Connect(opts)
	if err != nil {
		logger.Get().Error("failed to connect to MongoDB", zap.Error(err))
		return fmt.Errorf("error connecting to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		logger.Get().Error("failed to ping MongoDB", zap.Error(err))
		return fmt.Errorf("error pinging MongoDB: %w", err)
	}

	MongoClient = client
	logger.Get().Info("successfully connected to MongoDB",
		zap.String("database", MongoDatabase))
	return nil
}

// EnsureIndexes creates the indexes the lookups rely on.
func EnsureIndexes(ctx context.Context) error {
	db := MongoClient.Database(MongoDatabase)

	indexes := map[string][]mongo.IndexModel{
		TenantCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}},
			{Keys: bson.D{{Key: "external_subscription_id", Value: 1}}},
		},
		PatientCollection: {
			{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "monthly_fee.enabled", Value: 1}}},
		},
		TransactionCollection: {
			{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "date", Value: 1}}},
			{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "patient_id", Value: 1}, {Key: "type", Value: 1}}},
		},
	}
	for name, idx := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("error creating indexes on %s: %w", name, err)
		}
	}
	return nil
}

func CloseMongoDB() {
	if MongoClient != nil {
		if err := MongoClient.Disconnect(context.TODO()); err != nil {
			logger.Get().Error("failed to disconnect from MongoDB",
				zap.Error(err))
			return
		}
		logger.Get().Info("successfully disconnected from MongoDB")
	}
}

func collection(name string) *mongo.Collection {
	return MongoClient.Database(MongoDatabase).Collection(name)
}
