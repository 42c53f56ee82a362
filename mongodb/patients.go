package mongodb

import (
	"clinipratica/api/models"
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var ErrPatientNotFound = errors.New("patient not found")

// GetPatient returns a patient only if it belongs to ownerID.
func GetPatient(ctx context.Context, ownerID, patientID string) (*models.Patient, error) {
	var patient models.Patient
	err := collection(PatientCollection).FindOne(ctx, bson.M{"_id": patientID, "owner_id": ownerID}).Decode(&patient)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("error fetching patient: %w", err)
	}
	return &patient, nil
}

func GetPatientsWithMonthlyFee(ctx context.Context, ownerID string) ([]models.Patient, error) {
	filter := bson.M{
		"owner_id":            ownerID,
		"monthly_fee.enabled": true,
	}
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})

	cursor, err := collection(PatientCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error fetching patients: %w", err)
	}
	defer cursor.Close(ctx)

	patients := []models.Patient{}
	for cursor.Next(ctx) {
		var patient models.Patient
		if err := cursor.Decode(&patient); err != nil {
			return nil, fmt.Errorf("error decoding patient: %w", err)
		}
		patients = append(patients, patient)
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return patients, nil
}

func UpdatePatientMonthlyFee(ctx context.Context, ownerID, patientID string, fee models.MonthlyFee) error {
	result, err := collection(PatientCollection).UpdateOne(ctx,
		bson.M{"_id": patientID, "owner_id": ownerID},
		bson.M{"$set": bson.M{"monthly_fee": fee}},
	)
	if err != nil {
		return fmt.Errorf("error updating monthly fee: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrPatientNotFound
	}
	return nil
}
