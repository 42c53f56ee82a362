package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionReceived  TransactionStatus = "received"
	TransactionPending   TransactionStatus = "pending"
	TransactionCancelled TransactionStatus = "cancelled"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionReceived, TransactionPending, TransactionCancelled:
		return true
	}
	return false
}

type TransactionType string

const (
	TransactionManual      TransactionType = "manual"
	TransactionAppointment TransactionType = "appointment"
	TransactionMonthlyFee  TransactionType = "monthly_fee"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionManual, TransactionAppointment, TransactionMonthlyFee:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentPix          PaymentMethod = "pix"
	PaymentCreditCard   PaymentMethod = "credit_card"
	PaymentDebitCard    PaymentMethod = "debit_card"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentOther        PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentPix, PaymentCreditCard, PaymentDebitCard, PaymentBankTransfer, PaymentOther:
		return true
	}
	return false
}

// Transaction is a payment record owned by a tenant.
type Transaction struct {
	ID          string            `bson:"_id" json:"id"`
	OwnerID     string            `bson:"owner_id" json:"owner_id"`
	PatientID   *string           `bson:"patient_id" json:"patient_id"`
	Date        time.Time         `bson:"date" json:"date"`
	Description string            `bson:"description" json:"description"`
	Amount      decimal.Decimal   `bson:"amount" json:"amount"`
	Method      PaymentMethod     `bson:"method" json:"method"`
	Status      TransactionStatus `bson:"status" json:"status"`
	Type        TransactionType   `bson:"type" json:"type"`
	CreatedAt   time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `bson:"updated_at" json:"updated_at"`
}
