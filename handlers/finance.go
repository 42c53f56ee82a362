package handlers

import (
	"clinipratica/api/billing"
	"clinipratica/api/logger"
	"clinipratica/api/models"
	"clinipratica/api/mongodb"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FinanceRepository is the patient and transaction persistence of the
// finance routes. Every call is scoped to the owning tenant.
type FinanceRepository interface {
	GetPatient(ctx context.Context, ownerID, patientID string) (*models.Patient, error)
	GetPatientsWithMonthlyFee(ctx context.Context, ownerID string) ([]models.Patient, error)
	UpdatePatientMonthlyFee(ctx context.Context, ownerID, patientID string, fee models.MonthlyFee) error
	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	GetTransaction(ctx context.Context, ownerID, id string) (*models.Transaction, error)
	ListTransactionsInRange(ctx context.Context, ownerID string, from, to time.Time, txType models.TransactionType) ([]models.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, ownerID, id string, from, to models.TransactionStatus) error
}

type FinanceHandler struct {
	store FinanceRepository
	loc   *time.Location
	now   func() time.Time
}

// NewFinanceHandler evaluates calendar months in loc.
func NewFinanceHandler(store FinanceRepository, loc *time.Location) *FinanceHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &FinanceHandler{store: store, loc: loc, now: time.Now}
}

type CreateTransactionRequest struct {
	PatientID   *string                  `json:"patient_id"`
	Date        *time.Time               `json:"date"`
	Description string                   `json:"description"`
	Amount      decimal.Decimal          `json:"amount"`
	Method      models.PaymentMethod     `json:"method" binding:"required"`
	Status      models.TransactionStatus `json:"status"`
	Type        models.TransactionType   `json:"type"`
}

type UpdateTransactionStatusRequest struct {
	Status models.TransactionStatus `json:"status" binding:"required"`
}

type RecordMonthlyFeePaymentRequest struct {
	Date   *time.Time           `json:"date"`
	Amount *decimal.Decimal     `json:"amount"`
	Method models.PaymentMethod `json:"method" binding:"required"`
}

// HandleGetMonthlyFees classifies every fee-paying patient for ?month=YYYY-MM,
// defaulting to the current month. Past months are evaluated at their last
// instant and future months at their first.
func (h *FinanceHandler) HandleGetMonthlyFees(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}

	now := h.now().In(h.loc)
	evalAt := now
	if raw := strings.TrimSpace(c.Query("month")); raw != "" {
		month, err := time.ParseInLocation("2006-01", raw, h.loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "month must be formatted as YYYY-MM"})
			return
		}
		evalAt = evaluationTime(month, now)
	}
	from, to := billing.MonthBounds(evalAt)

	ctx := c.Request.Context()
	patients, err := h.store.GetPatientsWithMonthlyFee(ctx, claims.Sub)
	if err != nil {
		logger.Get().Error("failed to load patients", zap.String("owner_id", claims.Sub), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading patients"})
		return
	}
	txs, err := h.store.ListTransactionsInRange(ctx, claims.Sub, from, to, models.TransactionMonthlyFee)
	if err != nil {
		logger.Get().Error("failed to load transactions", zap.String("owner_id", claims.Sub), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading transactions"})
		return
	}

	c.JSON(http.StatusOK, billing.MonthlyFeeEntries(patients, txs, evalAt))
}

func evaluationTime(month, now time.Time) time.Time {
	start, end := billing.MonthBounds(month)
	switch {
	case !now.Before(end):
		return end.Add(-time.Nanosecond)
	case now.Before(start):
		return start
	}
	return now
}

func (h *FinanceHandler) HandleCreateTransaction(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}

	var req CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := h.now().UTC()
	tx := &models.Transaction{
		ID:          uuid.NewString(),
		OwnerID:     claims.Sub,
		PatientID:   req.PatientID,
		Date:        now,
		Description: strings.TrimSpace(req.Description),
		Amount:      req.Amount,
		Method:      req.Method,
		Status:      req.Status,
		Type:        req.Type,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Date != nil {
		tx.Date = req.Date.UTC()
	}
	if tx.Status == "" {
		tx.Status = models.TransactionReceived
	}
	if tx.Type == "" {
		tx.Type = models.TransactionManual
	}
	if err := billing.ValidateTransaction(tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if tx.PatientID != nil {
		if _, err := h.store.GetPatient(c.Request.Context(), claims.Sub, *tx.PatientID); err != nil {
			h.patientError(c, claims.Sub, *tx.PatientID, err)
			return
		}
	}

	if err := h.store.CreateTransaction(c.Request.Context(), tx); err != nil {
		logger.Get().Error("failed to create transaction", zap.String("owner_id", claims.Sub), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating transaction"})
		return
	}
	c.JSON(http.StatusCreated, tx)
}

// HandleUpdateTransactionStatus moves a transaction between statuses. The
// type is never touched.
func (h *FinanceHandler) HandleUpdateTransactionStatus(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}

	var req UpdateTransactionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	tx, err := h.store.GetTransaction(ctx, claims.Sub, id)
	if err != nil {
		if errors.Is(err, mongodb.ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Transaction not found"})
			return
		}
		logger.Get().Error("failed to load transaction", zap.String("transaction_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading transaction"})
		return
	}

	if err := billing.TransitionTransaction(tx.Status, req.Status); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if tx.Status == req.Status {
		c.JSON(http.StatusOK, tx)
		return
	}

	if err := h.store.UpdateTransactionStatus(ctx, claims.Sub, id, tx.Status, req.Status); err != nil {
		if errors.Is(err, mongodb.ErrTransactionNotFound) {
			c.JSON(http.StatusConflict, gin.H{"error": "Transaction changed, reload and retry"})
			return
		}
		logger.Get().Error("failed to update transaction", zap.String("transaction_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error updating transaction"})
		return
	}

	tx.Status = req.Status
	tx.UpdatedAt = h.now().UTC()
	c.JSON(http.StatusOK, tx)
}

// HandleRecordMonthlyFeePayment records a received monthly-fee transaction
// for the patient. A second payment in the same month is refused.
func (h *FinanceHandler) HandleRecordMonthlyFeePayment(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}

	var req RecordMonthlyFeePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	patientID := c.Param("id")
	patient, err := h.store.GetPatient(ctx, claims.Sub, patientID)
	if err != nil {
		h.patientError(c, claims.Sub, patientID, err)
		return
	}
	if !patient.MonthlyFee.Enabled {
		c.JSON(http.StatusConflict, gin.H{"error": billing.ErrNoMonthlyFee.Error()})
		return
	}

	paidAt := h.now().In(h.loc)
	if req.Date != nil {
		paidAt = req.Date.In(h.loc)
	}
	from, to := billing.MonthBounds(paidAt)
	existing, err := h.store.ListTransactionsInRange(ctx, claims.Sub, from, to, models.TransactionMonthlyFee)
	if err != nil {
		logger.Get().Error("failed to load transactions", zap.String("owner_id", claims.Sub), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading transactions"})
		return
	}
	entry, err := billing.ClassifyMonthlyFee(patient.MonthlyFee, paidAt, forPatient(existing, patient.ID))
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if entry.Status == billing.FeePaid {
		c.JSON(http.StatusConflict, gin.H{"error": "Monthly fee already paid for this month", "transaction_id": entry.TransactionID})
		return
	}

	amount := patient.MonthlyFee.Amount
	if req.Amount != nil {
		amount = *req.Amount
	}
	now := h.now().UTC()
	tx := &models.Transaction{
		ID:          uuid.NewString(),
		OwnerID:     claims.Sub,
		PatientID:   &patient.ID,
		Date:        paidAt.UTC(),
		Description: "Mensalidade " + paidAt.Format("01/2006") + " - " + patient.Name,
		Amount:      amount,
		Method:      req.Method,
		Status:      models.TransactionReceived,
		Type:        models.TransactionMonthlyFee,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := billing.ValidateTransaction(tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.CreateTransaction(ctx, tx); err != nil {
		logger.Get().Error("failed to record monthly fee payment",
			zap.String("owner_id", claims.Sub),
			zap.String("patient_id", patient.ID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error recording payment"})
		return
	}
	c.JSON(http.StatusCreated, tx)
}

func (h *FinanceHandler) HandleUpdateMonthlyFee(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}

	var fee models.MonthlyFee
	if err := c.ShouldBindJSON(&fee); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := billing.ValidateMonthlyFee(fee); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	patientID := c.Param("id")
	if err := h.store.UpdatePatientMonthlyFee(c.Request.Context(), claims.Sub, patientID, fee); err != nil {
		h.patientError(c, claims.Sub, patientID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patient_id": patientID, "monthly_fee": fee})
}

func (h *FinanceHandler) patientError(c *gin.Context, ownerID, patientID string, err error) {
	if errors.Is(err, mongodb.ErrPatientNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Patient not found"})
		return
	}
	logger.Get().Error("patient lookup failed",
		zap.String("owner_id", ownerID),
		zap.String("patient_id", patientID),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading patient"})
}

func forPatient(txs []models.Transaction, patientID string) []models.Transaction {
	var out []models.Transaction
	for _, tx := range txs {
		if tx.PatientID != nil && *tx.PatientID == patientID {
			out = append(out, tx)
		}
	}
	return out
}
