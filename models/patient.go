package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MonthlyFee is the recurring fee configuration of a patient.
type MonthlyFee struct {
	Enabled bool            `bson:"enabled" json:"enabled"`
	Amount  decimal.Decimal `bson:"amount" json:"amount"`
	DueDay  int             `bson:"due_day" json:"due_day"`
}

type Patient struct {
	ID         string     `bson:"_id" json:"id"`
	OwnerID    string     `bson:"owner_id" json:"owner_id"`
	Name       string     `bson:"name" json:"name"`
	MonthlyFee MonthlyFee `bson:"monthly_fee" json:"monthly_fee"`
	CreatedAt  time.Time  `bson:"created_at" json:"created_at"`
}
