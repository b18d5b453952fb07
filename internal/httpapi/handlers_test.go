package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/observability"
	"minimarket/backend/internal/service"
	"minimarket/backend/internal/store/memory"
)

// newTestAPI wires the real service over a seeded in-memory store so handler tests
// exercise the complete request path.
func newTestAPI(t *testing.T) http.Handler {
	t.Helper()

	svc := service.New(memory.NewSeeded(zap.NewNop()), service.Options{Logger: zap.NewNop()})
	auth := NewAuthManager("test-secret-key-with-32-bytes-min", time.Hour, svc)
	api := New(svc, auth, Options{AllowedOrigin: "https://pos.example.pe", Metrics: observability.NewMetrics()})
	return api.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	return res
}

func decodeBody[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out), res.Body.String())
	return out
}

func login(t *testing.T, h http.Handler, username, password string) string {
	t.Helper()
	res := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	payload := decodeBody[domain.LoginResponse](t, res)
	require.NotEmpty(t, payload.AccessToken)
	return payload.AccessToken
}

func findProduct(t *testing.T, h http.Handler, token, code string) domain.Product {
	t.Helper()
	res := doJSON(t, h, http.MethodGet, "/api/v1/products?search="+code, token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	payload := decodeBody[struct {
		Products []domain.Product `json:"products"`
	}](t, res)
	for _, product := range payload.Products {
		if product.Code == code {
			return product
		}
	}
	t.Fatalf("product %s not found", code)
	return domain.Product{}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestAPI(t)

	res := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	body := decodeBody[map[string]any](t, res)
	require.Equal(t, true, body["ok"])

	res = doJSON(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `minimarket_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestCashSessionAmountsAcceptNumbersAndStrings(t *testing.T) {
	h := newTestAPI(t)
	token := login(t, h, "cajero", "cajero12345")

	for _, bad := range []any{"abc", -5, true} {
		res := doJSON(t, h, http.MethodPost, "/api/v1/cash-sessions/open", token, map[string]any{"start_amount": bad})
		require.Equal(t, http.StatusBadRequest, res.Code, "%v: %s", bad, res.Body.String())
		require.Contains(t, res.Body.String(), "amount")
	}

	res := doJSON(t, h, http.MethodPost, "/api/v1/cash-sessions/open", token, map[string]any{"start_amount": 100})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	opened := decodeBody[map[string]domain.CashSession](t, res)["session"]
	require.Equal(t, int64(10000), opened.StartAmountCents)

	res = doJSON(t, h, http.MethodPost, "/api/v1/cash-sessions/close", token, map[string]any{"counted_amount": 99.5})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	closed := decodeBody[map[string]domain.CashSession](t, res)["session"]
	require.NotNil(t, closed.DifferenceCents)
	require.Equal(t, int64(-50), *closed.DifferenceCents)
}

func TestLoginReturnsRoleAndCashSession(t *testing.T) {
	h := newTestAPI(t)

	res := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "cajero", Password: "wrong-pass"})
	require.Equal(t, http.StatusUnauthorized, res.Code)

	token := login(t, h, "cajero", "cajero12345")
	res = doJSON(t, h, http.MethodPost, "/api/v1/cash-sessions/open", token, domain.OpenCashSessionRequest{StartAmount: "80"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	res = doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "supervisor", Password: "super12345"})
	require.Equal(t, http.StatusOK, res.Code)
	payload := decodeBody[domain.LoginResponse](t, res)
	require.Equal(t, domain.RoleSupervisor, payload.Role)
	require.NotNil(t, payload.CashSession, "the till is shared across users")
	require.Equal(t, int64(8000), payload.CashSession.StartAmountCents)

	res = doJSON(t, h, http.MethodGet, "/api/v1/auth/me", payload.AccessToken, nil)
	require.Equal(t, http.StatusOK, res.Code)
	me := decodeBody[map[string]any](t, res)
	require.Equal(t, "supervisor", me["username"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newTestAPI(t)

	res := doJSON(t, h, http.MethodGet, "/api/v1/products", "", nil)
	require.Equal(t, http.StatusUnauthorized, res.Code)

	res = doJSON(t, h, http.MethodGet, "/api/v1/products", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestCheckoutOverHTTP(t *testing.T) {
	h := newTestAPI(t)
	token := login(t, h, "cajero", "cajero12345")
	rice := findProduct(t, h, token, "ARROZ-1KG")

	cart := []domain.CartItem{{ProductID: rice.ID, Quantity: 3}}
	res := doJSON(t, h, http.MethodPost, "/api/v1/sales", token, domain.CheckoutRequest{Items: cart})
	require.Equal(t, http.StatusConflict, res.Code, "no open till")

	res = doJSON(t, h, http.MethodPost, "/api/v1/cash-sessions/open", token, domain.OpenCashSessionRequest{StartAmount: "50"})
	require.Equal(t, http.StatusCreated, res.Code)
	res = doJSON(t, h, http.MethodPost, "/api/v1/cash-sessions/open", token, domain.OpenCashSessionRequest{StartAmount: "50"})
	require.Equal(t, http.StatusConflict, res.Code)

	res = doJSON(t, h, http.MethodPost, "/api/v1/sales", token, domain.CheckoutRequest{PaymentMethod: domain.PaymentYape, Items: cart})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = doJSON(t, h, http.MethodPost, "/api/v1/sales", token, domain.CheckoutRequest{PaymentMethod: domain.PaymentYape, OperationNumber: "YP-99", Items: cart})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	sale := decodeBody[struct {
		Sale domain.Sale `json:"sale"`
	}](t, res).Sale
	require.Equal(t, int64(1350), sale.TotalCents)
	require.Equal(t, "V-00000001", sale.Number)

	res = doJSON(t, h, http.MethodPost, "/api/v1/sales", token, domain.CheckoutRequest{Items: []domain.CartItem{{ProductID: rice.ID, Quantity: 1000}}})
	require.Equal(t, http.StatusConflict, res.Code)
	shortage := decodeBody[struct {
		Error     string           `json:"error"`
		Shortages []map[string]any `json:"shortages"`
	}](t, res)
	require.Contains(t, shortage.Error, "ARROZ-1KG (requested 1000, available 57)")
	require.Len(t, shortage.Shortages, 1)

	res = doJSON(t, h, http.MethodGet, "/api/v1/cash-sessions/active", token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	summary := decodeBody[domain.CashSessionSummary](t, res)
	require.Equal(t, int64(5000), summary.ExpectedCashCents)
	require.Equal(t, int64(1350), summary.ByMethod[domain.PaymentYape])

	res = doJSON(t, h, http.MethodGet, "/api/v1/sales/"+sale.ID+"/receipt", token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	doc := decodeBody[domain.ReceiptResponse](t, res)
	require.Equal(t, "B001-00000001", doc.Number)

	res = doJSON(t, h, http.MethodPost, "/api/v1/hardware/cash-drawer/open", token, nil)
	require.Equal(t, http.StatusOK, res.Code)
}

func TestVoidSaleRequiresSupervisor(t *testing.T) {
	h := newTestAPI(t)
	cashier := login(t, h, "cajero", "cajero12345")
	water := findProduct(t, h, cashier, "AGUA-625")

	res := doJSON(t, h, http.MethodPost, "/api/v1/cash-sessions/open", cashier, domain.OpenCashSessionRequest{StartAmount: "0"})
	require.Equal(t, http.StatusCreated, res.Code)
	res = doJSON(t, h, http.MethodPost, "/api/v1/sales", cashier, domain.CheckoutRequest{Items: []domain.CartItem{{ProductID: water.ID, Quantity: 2}}})
	require.Equal(t, http.StatusCreated, res.Code)
	sale := decodeBody[struct {
		Sale domain.Sale `json:"sale"`
	}](t, res).Sale

	res = doJSON(t, h, http.MethodPost, "/api/v1/sales/"+sale.ID+"/void", cashier, domain.VoidSaleRequest{Reason: "duplicado"})
	require.Equal(t, http.StatusForbidden, res.Code)

	supervisor := login(t, h, "supervisor", "super12345")
	res = doJSON(t, h, http.MethodPost, "/api/v1/sales/"+sale.ID+"/void", supervisor, domain.VoidSaleRequest{Reason: "duplicado"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = doJSON(t, h, http.MethodPost, "/api/v1/sales/"+sale.ID+"/void", supervisor, domain.VoidSaleRequest{Reason: "duplicado"})
	require.Equal(t, http.StatusConflict, res.Code)

	res = doJSON(t, h, http.MethodPost, "/api/v1/sales/missing/void", supervisor, domain.VoidSaleRequest{Reason: "x"})
	require.Equal(t, http.StatusNotFound, res.Code)

	require.Equal(t, 72, findProduct(t, h, cashier, "AGUA-625").CurrentStock)
}

func TestAdminOnlyRoutes(t *testing.T) {
	h := newTestAPI(t)
	cashier := login(t, h, "cajero", "cajero12345")
	admin := login(t, h, "admin", "admin12345")

	res := doJSON(t, h, http.MethodGet, "/api/v1/users", cashier, nil)
	require.Equal(t, http.StatusForbidden, res.Code)
	res = doJSON(t, h, http.MethodGet, "/api/v1/backup", cashier, nil)
	require.Equal(t, http.StatusForbidden, res.Code)

	res = doJSON(t, h, http.MethodPost, "/api/v1/users", admin, domain.UserCreateRequest{Username: "lucia", Password: "lucia-pass-1", Role: domain.RoleCashier})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	require.NotContains(t, res.Body.String(), "$2a$", "password hashes never leave the server")

	res = doJSON(t, h, http.MethodPost, "/api/v1/users", admin, domain.UserCreateRequest{Username: "lucia", Password: "lucia-pass-1", Role: domain.RoleCashier})
	require.Equal(t, http.StatusConflict, res.Code)

	settings := domain.DefaultSettings()
	settings.StoreName = "Minimarket La Esquina"
	res = doJSON(t, h, http.MethodPut, "/api/v1/settings", admin, settings)
	require.Equal(t, http.StatusOK, res.Code)
	res = doJSON(t, h, http.MethodGet, "/api/v1/settings", cashier, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), "Minimarket La Esquina")

	res = doJSON(t, h, http.MethodPost, "/api/v1/products", cashier, domain.ProductCreateRequest{Code: "X", Name: "X"})
	require.Equal(t, http.StatusForbidden, res.Code)
}

func TestInventoryEndpoints(t *testing.T) {
	h := newTestAPI(t)
	admin := login(t, h, "admin", "admin12345")

	res := doJSON(t, h, http.MethodPost, "/api/v1/products", admin, domain.ProductCreateRequest{Code: "queso-500", Name: "Queso Fresco", PriceCents: 1500, MinStock: 3})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	product := decodeBody[struct {
		Product domain.Product `json:"product"`
	}](t, res).Product
	require.Equal(t, "QUESO-500", product.Code)

	res = doJSON(t, h, http.MethodPost, "/api/v1/products", admin, domain.ProductCreateRequest{Code: "QUESO-500", Name: "Otro"})
	require.Equal(t, http.StatusConflict, res.Code)

	res = doJSON(t, h, http.MethodPost, "/api/v1/products/"+product.ID+"/batches", admin, domain.BatchCreateRequest{BatchNumber: "Q1", Quantity: 10, CostCents: 1100})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	res = doJSON(t, h, http.MethodPost, "/api/v1/products/"+product.ID+"/batches", admin, domain.BatchCreateRequest{BatchNumber: "q1", Quantity: 1, CostCents: 1100})
	require.Equal(t, http.StatusConflict, res.Code)

	res = doJSON(t, h, http.MethodGet, "/api/v1/products/"+product.ID, admin, nil)
	require.Equal(t, http.StatusOK, res.Code)
	detail := decodeBody[domain.ProductDetail](t, res)
	require.Equal(t, 10, detail.Product.CurrentStock)
	require.Len(t, detail.Batches, 1)

	res = doJSON(t, h, http.MethodGet, "/api/v1/products/"+product.ID+"/kardex", admin, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"type":"entry"`)

	res = doJSON(t, h, http.MethodGet, "/api/v1/inventory/alerts", admin, nil)
	require.Equal(t, http.StatusOK, res.Code)
	alerts := decodeBody[domain.AlertSnapshot](t, res)
	require.NotEmpty(t, alerts.Expiring, "seeded catalog has batches inside the expiry window")

	res = doJSON(t, h, http.MethodGet, "/api/v1/products/nope", admin, nil)
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestReportExports(t *testing.T) {
	h := newTestAPI(t)
	admin := login(t, h, "admin", "admin12345")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/sales.csv", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.True(t, strings.HasPrefix(res.Header().Get("Content-Type"), "text/csv"))
	require.Contains(t, res.Header().Get("Content-Disposition"), "attachment")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/reports/sales.html?from=2024-01-01&to=2024-01-31", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	res = httptest.NewRecorder()
	h.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.True(t, strings.HasPrefix(res.Header().Get("Content-Type"), "text/html"))

	res = doJSON(t, h, http.MethodGet, "/api/v1/reports/sales?bucket=decade", admin, nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
	res = doJSON(t, h, http.MethodGet, "/api/v1/reports/sales?from=01/02/2024", admin, nil)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = doJSON(t, h, http.MethodGet, "/api/v1/audit-logs.csv", admin, nil)
	require.Equal(t, http.StatusOK, res.Code)
}

func TestCustomersOverHTTP(t *testing.T) {
	h := newTestAPI(t)
	cashier := login(t, h, "cajero", "cajero12345")

	res := doJSON(t, h, http.MethodPost, "/api/v1/customers", cashier, domain.CustomerRequest{DocumentType: "DNI", DocumentNumber: "123", Name: "Juan"})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = doJSON(t, h, http.MethodPost, "/api/v1/customers", cashier, domain.CustomerRequest{DocumentType: "DNI", DocumentNumber: "70123456", Name: "Juan"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	customer := decodeBody[struct {
		Customer domain.Customer `json:"customer"`
	}](t, res).Customer

	res = doJSON(t, h, http.MethodDelete, "/api/v1/customers/"+customer.ID, cashier, nil)
	require.Equal(t, http.StatusForbidden, res.Code)

	res = doJSON(t, h, http.MethodGet, "/api/v1/customers?search=juan", cashier, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), "70123456")
}
