package billing

import (
	"clinipratica/api/models"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type FeeStatus string

const (
	FeePaid    FeeStatus = "paid"
	FeePending FeeStatus = "pending"
	FeeOverdue FeeStatus = "overdue"
)

var (
	ErrNoMonthlyFee      = errors.New("patient has no monthly fee")
	ErrInvalidMonthlyFee = errors.New("invalid monthly fee configuration")
)

// MonthlyFeeEntry is the read-time classification of one patient's fee for
// the month containing the evaluation date. It is never stored.
type MonthlyFeeEntry struct {
	PatientID     string          `json:"patient_id,omitempty"`
	PatientName   string          `json:"patient_name,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	DueDate       time.Time       `json:"due_date"`
	Status        FeeStatus       `json:"status"`
	TransactionID string          `json:"transaction_id,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
}

// MonthlyFeeSummary aggregates the entries of a dashboard or finance view.
type MonthlyFeeSummary struct {
	Month   string                 `json:"month"`
	Entries []MonthlyFeeEntry      `json:"entries"`
	Totals  map[FeeStatus]FeeTotal `json:"totals"`
}

type FeeTotal struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// ValidateMonthlyFee checks an enabled fee: positive amount and a due day in 1..31.
func ValidateMonthlyFee(fee models.MonthlyFee) error {
	if !fee.Enabled {
		return nil
	}
	if !fee.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidMonthlyFee)
	}
	if fee.DueDay < 1 || fee.DueDay > 31 {
		return fmt.Errorf("%w: due day must be between 1 and 31", ErrInvalidMonthlyFee)
	}
	return nil
}

// DueDateForMonth returns midnight of dueDay in the given month. A due day
// past the end of the month is clamped to the month's last day, so day 31 in
// February falls on the 28th or 29th rather than rolling into March.
func DueDateForMonth(year int, month time.Month, dueDay int, loc *time.Location) time.Time {
	if dueDay < 1 {
		dueDay = 1
	}
	if last := daysInMonth(year, month, loc); dueDay > last {
		dueDay = last
	}
	return time.Date(year, month, dueDay, 0, 0, 0, 0, loc)
}

func daysInMonth(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// MonthBounds returns [start, end) of the calendar month containing t, in t's location.
func MonthBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 1, 0)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ClassifyMonthlyFee decides whether the fee is paid, pending or overdue at
// now. Only received monthly-fee transactions dated inside now's calendar
// month count as payment; the rest of txs is ignored.
func ClassifyMonthlyFee(fee models.MonthlyFee, now time.Time, txs []models.Transaction) (MonthlyFeeEntry, error) {
	if !fee.Enabled {
		return MonthlyFeeEntry{}, ErrNoMonthlyFee
	}
	if err := ValidateMonthlyFee(fee); err != nil {
		return MonthlyFeeEntry{}, err
	}

	loc := now.Location()
	periodStart, periodEnd := MonthBounds(now)
	entry := MonthlyFeeEntry{
		Amount:  fee.Amount,
		DueDate: DueDateForMonth(now.Year(), now.Month(), fee.DueDay, loc),
	}

	if tx := paymentInPeriod(txs, periodStart, periodEnd); tx != nil {
		paidAt := tx.Date
		entry.Status = FeePaid
		entry.TransactionID = tx.ID
		entry.PaidAt = &paidAt
		return entry, nil
	}

	if entry.DueDate.Before(startOfDay(now)) {
		entry.Status = FeeOverdue
	} else {
		entry.Status = FeePending
	}
	return entry, nil
}

// paymentInPeriod returns the earliest received monthly-fee transaction in
// [start, end), or nil.
func paymentInPeriod(txs []models.Transaction, start, end time.Time) *models.Transaction {
	var found *models.Transaction
	for i := range txs {
		tx := &txs[i]
		if tx.Status != models.TransactionReceived || tx.Type != models.TransactionMonthlyFee {
			continue
		}
		if tx.Date.Before(start) || !tx.Date.Before(end) {
			continue
		}
		if found == nil || tx.Date.Before(found.Date) {
			found = tx
		}
	}
	return found
}

// MonthlyFeeEntries classifies every fee-paying patient against the
// transactions of the owner, grouped by patient.
func MonthlyFeeEntries(patients []models.Patient, txs []models.Transaction, now time.Time) MonthlyFeeSummary {
	byPatient := make(map[string][]models.Transaction)
	for _, tx := range txs {
		if tx.PatientID == nil {
			continue
		}
		byPatient[*tx.PatientID] = append(byPatient[*tx.PatientID], tx)
	}

	summary := MonthlyFeeSummary{
		Month:   now.Format("2006-01"),
		Entries: []MonthlyFeeEntry{},
		Totals:  map[FeeStatus]FeeTotal{FeePaid: {}, FeePending: {}, FeeOverdue: {}},
	}
	for _, p := range patients {
		entry, err := ClassifyMonthlyFee(p.MonthlyFee, now, byPatient[p.ID])
		if err != nil {
			continue
		}
		entry.PatientID = p.ID
		entry.PatientName = p.Name
		summary.Entries = append(summary.Entries, entry)

		total := summary.Totals[entry.Status]
		total.Count++
		total.Amount = total.Amount.Add(entry.Amount)
		summary.Totals[entry.Status] = total
	}

	sort.SliceStable(summary.Entries, func(i, j int) bool {
		a, b := summary.Entries[i], summary.Entries[j]
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		return a.PatientName < b.PatientName
	})
	return summary
}
