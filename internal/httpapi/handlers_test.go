package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"bitetrack/backend/internal/domain"
	"bitetrack/backend/internal/importer"
	"bitetrack/backend/internal/metrics"
	"bitetrack/backend/internal/service"
	"bitetrack/backend/internal/store/memory"
)

type testAPI struct {
	*API
	handler  http.Handler
	svc      *service.Service
	customer domain.Customer
	muffin   domain.Product
}

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	repo := memory.New()
	m := metrics.New()
	svc := service.New(repo, service.WithMetrics(m))
	ctx := context.Background()

	_, err := svc.CreateSeller(ctx, domain.SellerCreateRequest{Name: "Admin", Email: "admin@bitetrack.local", Password: "admin12345", Role: domain.RoleAdmin})
	require.NoError(t, err)
	_, err = svc.CreateSeller(ctx, domain.SellerCreateRequest{Name: "Cashier", Email: "cashier@bitetrack.local", Password: "cashier12345"})
	require.NoError(t, err)
	customer, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Maria Lopez", Email: "maria.lopez@example.com", Phone: "5551234567"})
	require.NoError(t, err)
	muffin, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Blueberry Muffin", Price: decimal.RequireFromString("3.25"), Count: 10})
	require.NoError(t, err)

	auth := NewAuthManager("test-secret-key", time.Hour, repo)
	api := New(svc, importer.New(svc, importer.WithMetrics(m)), auth, "*", WithMetrics(m))
	return &testAPI{API: api, handler: api.Handler(), svc: svc, customer: customer, muffin: muffin}
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) login(t *testing.T, email, password string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Email: "admin@bitetrack.local", Password: "wrongpassword"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())
}

func TestHandleLogin_ValidationError(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "not-an-email", "password": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.NotEmpty(t, body["fields"])
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/v1/products", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleProducts_CashierCannotCreate(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(t, "cashier@bitetrack.local", "cashier12345")

	rec := api.do(t, http.MethodGet, "/api/v1/products", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/products", token, map[string]any{"productName": "Scone", "price": "2.00", "count": 5})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/inventory-drops", token, map[string]any{"productId": api.muffin.ID, "quantityToDrop": 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSaleLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(t, "cashier@bitetrack.local", "cashier12345")

	rec := api.do(t, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"customerId": api.customer.ID,
		"products":   []map[string]any{{"productId": api.muffin.ID, "quantity": 2}},
		"amountPaid": "1.50",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[struct{ Sale domain.Sale }](t, rec).Sale
	assert.False(t, created.Settled)
	assert.True(t, created.TotalAmount.Equal(decimal.RequireFromString("6.50")))

	rec = api.do(t, http.MethodPatch, "/api/v1/sales/"+created.ID+"/settle", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settled := decodeBody[struct{ Sale domain.Sale }](t, rec).Sale
	assert.True(t, settled.Settled)

	rec = api.do(t, http.MethodPatch, "/api/v1/sales/"+created.ID+"/settle", token, map[string]any{"amountPaid": "10"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/sales/"+created.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/sales?settled=true&customerId="+api.customer.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody[struct{ Sales []domain.Sale }](t, rec).Sales
	require.Len(t, listed, 1)

	rec = api.do(t, http.MethodGet, "/api/v1/sales/sale-missing", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSaleErrorsMapToStatus(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(t, "cashier@bitetrack.local", "cashier12345")

	rec := api.do(t, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"customerId": api.customer.ID,
		"products":   []map[string]any{{"productId": api.muffin.ID, "quantity": 11}},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"customerId": api.customer.ID,
		"products":   []map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"customerId": "cus-missing",
		"products":   []map[string]any{{"productId": api.muffin.ID, "quantity": 1}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	product, err := api.svc.GetProduct(context.Background(), api.muffin.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, product.Count)
}

func TestDropAndUndoOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(t, "admin@bitetrack.local", "admin12345")

	rec := api.do(t, http.MethodPost, "/api/v1/inventory-drops", token, map[string]any{
		"productId":      api.muffin.ID,
		"quantityToDrop": 3,
		"reason":         "end_of_day",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	drop := decodeBody[struct{ Drop domain.InventoryDrop }](t, rec).Drop
	assert.True(t, drop.CanBeUndone)

	rec = api.do(t, http.MethodGet, "/api/v1/inventory-drops/undoable", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[struct{ Drops []domain.InventoryDrop }](t, rec).Drops, 1)

	rec = api.do(t, http.MethodGet, "/api/v1/inventory-drops/analytics", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	analytics := decodeBody[struct{ Analytics domain.DropAnalytics }](t, rec).Analytics
	assert.Equal(t, 1, analytics.TotalDrops)

	rec = api.do(t, http.MethodPost, "/api/v1/inventory-drops/"+drop.ID+"/undo", token, map[string]any{"undoReason": "counted wrong"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPost, "/api/v1/inventory-drops/"+drop.ID+"/undo", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/inventory-drops", token, map[string]any{
		"productId":      api.muffin.ID,
		"quantityToDrop": 1,
		"reason":         "stolen",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(t, "admin@bitetrack.local", "admin12345")

	csv := "Date,Contact Name,Contact Phone,Contact Email,Product,Quantity,Unit Price,Total Amount,Amount Paid\n" +
		"2024-12-01T10:00:00Z,Maria Lopez,5551234567,,Blueberry Muffin,2,3.25,6.50,6.50\n" +
		"2024-12-01T11:00:00Z,Nobody,5550000000,,Blueberry Muffin,1,,,\n"

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", "sales.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(csv))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales/import", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	report := decodeBody[domain.ImportReport](t, rec)
	assert.Equal(t, 1, report.Summary.Imported)
	assert.Equal(t, 1, report.Summary.Skipped)

	rec = api.do(t, http.MethodGet, "/api/v1/sales/import/"+report.Summary.ImportBatchID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, report.Summary.ImportBatchID, decodeBody[domain.ImportReport](t, rec).Summary.ImportBatchID)

	raw := httptest.NewRequest(http.MethodPost, "/api/v1/sales/import", strings.NewReader(csv))
	raw.Header.Set("Content-Type", "text/csv")
	raw.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, raw)
	require.Equal(t, http.StatusOK, rec.Code)
	again := decodeBody[domain.ImportReport](t, rec)
	assert.Equal(t, 0, again.Summary.Imported)
	assert.Equal(t, 1, again.Summary.SkippedByReason[importer.ReasonAlreadyRegistered])

	rec = api.do(t, http.MethodGet, "/api/v1/sales/import/batch-missing", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	cashier := api.login(t, "cashier@bitetrack.local", "cashier12345")
	path := "/api/v1/sales/import/" + report.Summary.ImportBatchID
	rec = api.do(t, http.MethodDelete, path, cashier, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodDelete, path, token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = api.do(t, http.MethodGet, path, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = api.do(t, http.MethodDelete, path, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSellersAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login(t, "admin@bitetrack.local", "admin12345")
	cashier := api.login(t, "cashier@bitetrack.local", "cashier12345")

	rec := api.do(t, http.MethodGet, "/api/v1/sellers", cashier, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/sellers", admin, domain.SellerCreateRequest{Name: "Boss", Email: "boss@bitetrack.local", Password: "boss123456", Role: domain.RoleSuperAdmin})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/sellers", admin, domain.SellerCreateRequest{Name: "Sam", Email: "sam@bitetrack.local", Password: "sam1234567"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "$2a$")

	api.login(t, "sam@bitetrack.local", "sam1234567")
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.do(t, http.MethodGet, "/healthz", "", nil)

	rec := api.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bitetrack_http_requests_total")
}
