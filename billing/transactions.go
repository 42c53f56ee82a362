package billing

import (
	"clinipratica/api/models"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidTransition  = errors.New("invalid transaction status transition")
)

// ValidateTransaction checks the invariants of a new transaction.
func ValidateTransaction(tx *models.Transaction) error {
	switch {
	case strings.TrimSpace(tx.OwnerID) == "":
		return fmt.Errorf("%w: owner is required", ErrInvalidTransaction)
	case !tx.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransaction)
	case tx.Date.IsZero():
		return fmt.Errorf("%w: date is required", ErrInvalidTransaction)
	case !tx.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransaction, tx.Status)
	case !tx.Type.Valid():
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, tx.Type)
	case !tx.Method.Valid():
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidTransaction, tx.Method)
	case tx.Type == models.TransactionMonthlyFee && tx.PatientID == nil:
		return fmt.Errorf("%w: monthly fee payments need a patient", ErrInvalidTransaction)
	}
	return nil
}

// TransitionTransaction checks a status change. Pending may become Received
// and anything may become Cancelled; repeating the current status is a no-op.
// The transaction type is never changed after creation.
func TransitionTransaction(current, next models.TransactionStatus) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	switch {
	case current == next:
		return nil
	case next == models.TransactionCancelled:
		return nil
	case current == models.TransactionPending && next == models.TransactionReceived:
		return nil
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, next)
}
