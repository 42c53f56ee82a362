package mongodb

import (
	"clinipratica/api/models"
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var ErrTransactionNotFound = errors.New("transaction not found")

func CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	_, err := collection(TransactionCollection).InsertOne(ctx, tx)
	if err != nil {
		return fmt.Errorf("error creating transaction: %w", err)
	}
	return nil
}

func GetTransaction(ctx context.Context, ownerID, id string) (*models.Transaction, error) {
	var tx models.Transaction
	err := collection(TransactionCollection).FindOne(ctx, bson.M{"_id": id, "owner_id": ownerID}).Decode(&tx)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("error fetching transaction: %w", err)
	}
	return &tx, nil
}

// ListTransactionsInRange returns the owner's transactions dated in [from, to),
// oldest first. An empty txType matches every type.
func ListTransactionsInRange(ctx context.Context, ownerID string, from, to time.Time, txType models.TransactionType) ([]models.Transaction, error) {
	filter := bson.M{
		"owner_id": ownerID,
		"date":     bson.M{"$gte": from, "$lt": to},
	}
	if txType != "" {
		filter["type"] = txType
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}})

	cursor, err := collection(TransactionCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error fetching transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var txs []models.Transaction
	if err := cursor.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("error decoding transactions: %w", err)
	}
	return txs, nil
}

// UpdateTransactionStatus only touches status, so the type set at creation
// is never rewritten. The current status is part of the filter; a concurrent
// change makes the update match nothing and ErrTransactionNotFound is returned.
func UpdateTransactionStatus(ctx context.Context, ownerID, id string, from, to models.TransactionStatus) error {
	result, err := collection(TransactionCollection).UpdateOne(ctx,
		bson.M{"_id": id, "owner_id": ownerID, "status": from},
		bson.M{"$set": bson.M{"status": to, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("error updating transaction status: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrTransactionNotFound
	}
	return nil
}
