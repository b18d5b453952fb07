package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"minimarket/backend/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	h := newTestAPI(t)
	res := doJSON(t, h, http.MethodGet, "/healthz", "", nil)

	require.Equal(t, "nosniff", res.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", res.Header().Get("X-Frame-Options"))
	require.NotEmpty(t, res.Header().Get("Referrer-Policy"))
	require.NotEmpty(t, res.Header().Get("Content-Security-Policy"))
	require.Equal(t, "https://pos.example.pe", res.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflightShortCircuits(t *testing.T) {
	h := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sales", nil)
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)

	require.Equal(t, http.StatusNoContent, res.Code)
	require.Contains(t, res.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestLoginRateLimitReturns429(t *testing.T) {
	h := newTestAPI(t)

	for i := 0; i < 6; i++ {
		res := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrong-pass"})
		if i < 5 {
			require.Equal(t, http.StatusUnauthorized, res.Code, "attempt %d", i+1)
			continue
		}
		require.Equal(t, http.StatusTooManyRequests, res.Code)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	h := newTestAPI(t)
	veryLong := strings.Repeat("a", maxBodyBytes+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, res.Code)
}

func TestUnknownFieldsRejected(t *testing.T) {
	h := newTestAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"admin","password":"x","role":"admin"}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)

	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestInternalErrorsStayGeneric(t *testing.T) {
	res := httptest.NewRecorder()
	writeError(res, http.StatusInternalServerError, fmt.Errorf("pq: relation \"sales\" does not exist"))

	require.Equal(t, http.StatusInternalServerError, res.Code)
	require.NotContains(t, res.Body.String(), "relation")
	require.Contains(t, res.Body.String(), "internal server error")
}

func TestParsePositiveLimitCaps(t *testing.T) {
	require.Equal(t, 200, parsePositiveLimit("9999", 50, 200))
	require.Equal(t, 50, parsePositiveLimit("", 50, 200))
	require.Equal(t, 50, parsePositiveLimit("invalid", 50, 200))
	require.Equal(t, 10, parsePositiveLimit("10", 50, 200))
}

func TestParseDayEndOfDay(t *testing.T) {
	from, err := parseDay("2024-06-15", false, nil)
	require.NoError(t, err)
	to, err := parseDay("2024-06-15", true, nil)
	require.NoError(t, err)
	require.Equal(t, 0, from.Hour())
	require.Equal(t, 23, to.Hour())
	require.Equal(t, 15, to.Day())

	none, err := parseDay("", true, nil)
	require.NoError(t, err)
	require.Nil(t, none)

	_, err = parseDay("15/06/2024", false, nil)
	require.Error(t, err)
}

func TestParseDayUsesStoreLocation(t *testing.T) {
	lima := time.FixedZone("PET", -5*60*60)
	from, err := parseDay("2024-06-15", false, lima)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 6, 15, 5, 0, 0, 0, time.UTC), from.UTC())

	to, err := parseDay("2024-06-15", true, lima)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 6, 16, 4, 59, 59, 999999999, time.UTC), to.UTC())
}
