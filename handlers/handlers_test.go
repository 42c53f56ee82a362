package handlers

import (
	"bytes"
	"clinipratica/api/billing"
	"clinipratica/api/mercadopago"
	"clinipratica/api/middleware"
	"clinipratica/api/models"
	"clinipratica/api/mongodb"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, time.June, 10, 12, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

func ptr[T any](v T) *T { return &v }

func clock() time.Time { return testNow }

func withUser(sub string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sub != "" {
			c.Set(middleware.UserKey, &models.SupabaseClaims{Sub: sub, Email: sub + "@clinic.test"})
		}
		c.Next()
	}
}

func doJSON(t *testing.T, r http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func testPlans() *billing.PlanTable {
	return billing.NewPlanTable(billing.DefaultPlans(map[string]string{
		"essential":    "plan-essential",
		"professional": "plan-professional",
		"clinic":       "plan-clinic",
	}))
}

// memoryTenants is an in-memory tenant store honoring the provider timestamp
// condition of ApplyBillingUpdate.
type memoryTenants struct {
	mu      sync.Mutex
	tenants map[string]*models.Tenant
	writes  int
}

func newMemoryTenants(tenants ...*models.Tenant) *memoryTenants {
	m := &memoryTenants{tenants: map[string]*models.Tenant{}}
	for _, t := range tenants {
		m.tenants[t.ID] = t
	}
	return m
}

func (m *memoryTenants) CreateTenant(_ context.Context, t *models.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[t.ID]; ok {
		return billing.ErrTenantExists
	}
	cp := *t
	m.tenants[t.ID] = &cp
	return nil
}

func (m *memoryTenants) GetTenant(_ context.Context, id string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, billing.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memoryTenants) FindTenantByEmail(_ context.Context, email string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.Email == email {
			cp := *t
			return &cp, nil
		}
	}
	return nil, billing.ErrTenantNotFound
}

func (m *memoryTenants) ApplyBillingUpdate(_ context.Context, id string, u models.TenantBillingUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return false, nil
	}
	if u.SubscriptionUpdatedAt != nil && t.SubscriptionUpdatedAt != nil && t.SubscriptionUpdatedAt.After(*u.SubscriptionUpdatedAt) {
		return false, nil
	}
	u.Apply(t)
	m.writes++
	return true, nil
}

func (m *memoryTenants) get(id string) models.Tenant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.tenants[id]
}

// memoryFinance is an in-memory FinanceRepository.
type memoryFinance struct {
	mu           sync.Mutex
	patients     map[string]models.Patient
	transactions map[string]models.Transaction
}

func newMemoryFinance() *memoryFinance {
	return &memoryFinance{patients: map[string]models.Patient{}, transactions: map[string]models.Transaction{}}
}

func (m *memoryFinance) addPatient(p models.Patient) {
	m.patients[p.ID] = p
}

func (m *memoryFinance) addTransaction(tx models.Transaction) {
	m.transactions[tx.ID] = tx
}

func (m *memoryFinance) GetPatient(_ context.Context, ownerID, patientID string) (*models.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[patientID]
	if !ok || p.OwnerID != ownerID {
		return nil, mongodb.ErrPatientNotFound
	}
	return &p, nil
}

func (m *memoryFinance) GetPatientsWithMonthlyFee(_ context.Context, ownerID string) ([]models.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Patient
	for _, p := range m.patients {
		if p.OwnerID == ownerID && p.MonthlyFee.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryFinance) UpdatePatientMonthlyFee(_ context.Context, ownerID, patientID string, fee models.MonthlyFee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[patientID]
	if !ok || p.OwnerID != ownerID {
		return mongodb.ErrPatientNotFound
	}
	p.MonthlyFee = fee
	m.patients[patientID] = p
	return nil
}

func (m *memoryFinance) CreateTransaction(_ context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.ID] = *tx
	return nil
}

func (m *memoryFinance) GetTransaction(_ context.Context, ownerID, id string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[id]
	if !ok || tx.OwnerID != ownerID {
		return nil, mongodb.ErrTransactionNotFound
	}
	return &tx, nil
}

func (m *memoryFinance) ListTransactionsInRange(_ context.Context, ownerID string, from, to time.Time, txType models.TransactionType) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, tx := range m.transactions {
		if tx.OwnerID != ownerID || tx.Date.Before(from) || !tx.Date.Before(to) {
			continue
		}
		if txType != "" && tx.Type != txType {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (m *memoryFinance) UpdateTransactionStatus(_ context.Context, ownerID, id string, from, to models.TransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[id]
	if !ok || tx.OwnerID != ownerID || tx.Status != from {
		return mongodb.ErrTransactionNotFound
	}
	tx.Status = to
	m.transactions[id] = tx
	return nil
}

func (m *memoryFinance) transactionsOf(ownerID string) []models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, tx := range m.transactions {
		if tx.OwnerID == ownerID {
			out = append(out, tx)
		}
	}
	return out
}

// fakeProvider serves canned provider resources.
type fakeProvider struct {
	preapprovals map[string]*mercadopago.Preapproval
	payments     map[string]*mercadopago.Payment
	err          error
}

func (f *fakeProvider) GetPreapproval(_ context.Context, id string) (*mercadopago.Preapproval, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.preapprovals[id]
	if !ok {
		return nil, mercadopago.ErrNotFound
	}
	return p, nil
}

func (f *fakeProvider) GetPayment(_ context.Context, id string) (*mercadopago.Payment, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.payments[id]
	if !ok {
		return nil, mercadopago.ErrNotFound
	}
	return p, nil
}
