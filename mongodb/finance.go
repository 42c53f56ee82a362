package mongodb

import (
	"clinipratica/api/models"
	"context"
	"time"
)

// FinanceStore adapts the patient and transaction functions for handlers.
type FinanceStore struct{}

func (FinanceStore) GetPatient(ctx context.Context, ownerID, patientID string) (*models.Patient, error) {
	return GetPatient(ctx, ownerID, patientID)
}

func (FinanceStore) GetPatientsWithMonthlyFee(ctx context.Context, ownerID string) ([]models.Patient, error) {
	return GetPatientsWithMonthlyFee(ctx, ownerID)
}

func (FinanceStore) UpdatePatientMonthlyFee(ctx context.Context, ownerID, patientID string, fee models.MonthlyFee) error {
	return UpdatePatientMonthlyFee(ctx, ownerID, patientID, fee)
}

func (FinanceStore) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	return CreateTransaction(ctx, tx)
}

func (FinanceStore) GetTransaction(ctx context.Context, ownerID, id string) (*models.Transaction, error) {
	return GetTransaction(ctx, ownerID, id)
}

func (FinanceStore) ListTransactionsInRange(ctx context.Context, ownerID string, from, to time.Time, txType models.TransactionType) ([]models.Transaction, error) {
	return ListTransactionsInRange(ctx, ownerID, from, to, txType)
}

func (FinanceStore) UpdateTransactionStatus(ctx context.Context, ownerID, id string, from, to models.TransactionStatus) error {
	return UpdateTransactionStatus(ctx, ownerID, id, from, to)
}
