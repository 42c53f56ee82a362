package billing

import (
	"clinipratica/api/models"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidateTransaction(t *testing.T) {
	patient := "patient-1"
	valid := func() *models.Transaction {
		return &models.Transaction{
			OwnerID:   "tenant-1",
			PatientID: &patient,
			Date:      time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC),
			Amount:    decimal.NewFromInt(150),
			Method:    models.PaymentPix,
			Status:    models.TransactionReceived,
			Type:      models.TransactionMonthlyFee,
		}
	}
	assert.NoError(t, ValidateTransaction(valid()))

	for name, mutate := range map[string]func(*models.Transaction){
		"zero amount":         func(tx *models.Transaction) { tx.Amount = decimal.Zero },
		"negative amount":     func(tx *models.Transaction) { tx.Amount = decimal.NewFromInt(-10) },
		"no owner":            func(tx *models.Transaction) { tx.OwnerID = "" },
		"no date":             func(tx *models.Transaction) { tx.Date = time.Time{} },
		"bad status":          func(tx *models.Transaction) { tx.Status = "refunded" },
		"bad type":            func(tx *models.Transaction) { tx.Type = "donation" },
		"bad method":          func(tx *models.Transaction) { tx.Method = "cheque" },
		"fee without patient": func(tx *models.Transaction) { tx.PatientID = nil },
	} {
		tx := valid()
		mutate(tx)
		assert.ErrorIs(t, ValidateTransaction(tx), ErrInvalidTransaction, name)
	}
}

func TestTransitionTransaction(t *testing.T) {
	allowed := []struct{ from, to models.TransactionStatus }{
		{models.TransactionPending, models.TransactionReceived},
		{models.TransactionPending, models.TransactionCancelled},
		{models.TransactionReceived, models.TransactionCancelled},
		{models.TransactionCancelled, models.TransactionCancelled},
		{models.TransactionReceived, models.TransactionReceived},
	}
	for _, tc := range allowed {
		assert.NoError(t, TransitionTransaction(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to models.TransactionStatus }{
		{models.TransactionReceived, models.TransactionPending},
		{models.TransactionCancelled, models.TransactionPending},
		{models.TransactionCancelled, models.TransactionReceived},
		{models.TransactionPending, "refunded"},
	}
	for _, tc := range denied {
		assert.ErrorIs(t, TransitionTransaction(tc.from, tc.to), ErrInvalidTransition, "%s -> %s", tc.from, tc.to)
	}
}
