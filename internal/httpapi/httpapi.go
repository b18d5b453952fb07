package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"
	"go.uber.org/zap"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/observability"
	"minimarket/backend/internal/service"
	"minimarket/backend/internal/store"
)

const maxBodyBytes = 1 << 20

type Options struct {
	AllowedOrigin string
	Production    bool
	// LoginAttempts caps login requests per client IP per minute.
	LoginAttempts  int
	RequestTimeout time.Duration
	Logger         *zap.Logger
	Metrics        *observability.Metrics
}

type API struct {
	service      *service.Service
	auth         *AuthManager
	opts         Options
	log          *zap.Logger
	loginLimiter func(http.Handler) http.Handler
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	if opts.LoginAttempts <= 0 {
		opts.LoginAttempts = 5
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	limiter := httprate.Limit(opts.LoginAttempts, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		}),
	)
	return &API{
		service:      svc,
		auth:         auth,
		opts:         opts,
		log:          opts.Logger.Named("http"),
		loginLimiter: limiter,
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(a.middlewareStack()...)

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", a.opts.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.With(a.loginLimiter).Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth())

			r.Get("/auth/me", a.handleMe)

			r.Get("/products", a.handleListProducts)
			r.Post("/products", a.handleCreateProduct)
			r.Get("/products/categories", a.handleListCategories)
			r.Get("/products/{id}", a.handleGetProduct)
			r.Patch("/products/{id}", a.handleUpdateProduct)
			r.Delete("/products/{id}", a.handleDeleteProduct)
			r.Post("/products/{id}/stock", a.handleAdjustStock)
			r.Get("/products/{id}/batches", a.handleListBatches)
			r.Post("/products/{id}/batches", a.handleCreateBatch)
			r.Get("/products/{id}/kardex", a.handleProductKardex)
			r.Patch("/batches/{id}", a.handleUpdateBatch)
			r.Delete("/batches/{id}", a.handleDeleteBatch)

			r.Get("/inventory/expiring", a.handleExpiringBatches)
			r.Get("/inventory/alerts", a.handleInventoryAlerts)
			r.Post("/inventory/alerts/refresh", a.handleRefreshAlerts)
			r.Get("/kardex", a.handleKardex)

			r.Get("/cash-sessions", a.handleListCashSessions)
			r.Get("/cash-sessions/active", a.handleActiveCashSession)
			r.Post("/cash-sessions/open", a.handleOpenCashSession)
			r.Post("/cash-sessions/close", a.handleCloseCashSession)
			r.Get("/cash-sessions/{id}", a.handleCashSessionSummary)

			r.Get("/sales", a.handleListSales)
			r.Post("/sales", a.handleCheckout)
			r.Get("/sales/{id}", a.handleGetSale)
			r.Post("/sales/{id}/void", a.handleVoidSale)
			r.Get("/sales/{id}/receipt", a.handleReceipt)
			r.Post("/hardware/cash-drawer/open", a.handleCashDrawerOpen)

			r.Get("/reports/sales", a.handleSalesReport)
			r.Get("/reports/sales.csv", a.handleSalesReportCSV)
			r.Get("/reports/sales.html", a.handleSalesReportHTML)
			r.Get("/audit-logs", a.handleAuditLogs)
			r.Get("/audit-logs.csv", a.handleAuditLogsCSV)

			r.Get("/customers", a.handleListCustomers)
			r.Post("/customers", a.handleCreateCustomer)
			r.Get("/customers/{id}", a.handleGetCustomer)
			r.Put("/customers/{id}", a.handleUpdateCustomer)
			r.Delete("/customers/{id}", a.handleDeleteCustomer)

			r.Get("/suppliers", a.handleListSuppliers)
			r.Post("/suppliers", a.handleCreateSupplier)
			r.Get("/suppliers/{id}", a.handleGetSupplier)
			r.Put("/suppliers/{id}", a.handleUpdateSupplier)
			r.Delete("/suppliers/{id}", a.handleDeleteSupplier)

			r.Get("/settings", a.handleGetSettings)

			r.Group(func(r chi.Router) {
				r.Use(a.requireAuth(domain.RoleAdmin))
				r.Put("/settings", a.handleUpdateSettings)
				r.Get("/users", a.handleListUsers)
				r.Post("/users", a.handleCreateUser)
				r.Patch("/users/{username}", a.handleUpdateUser)
				r.Get("/backup", a.handleExportBackup)
				r.Post("/backup/import", a.handleImportBackup)
			})
		})
	})

	return r
}

func (a *API) middlewareStack() []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'; style-src 'unsafe-inline'; frame-ancestors 'none'",
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		STSSeconds:            31536000,
		IsDevelopment:         !a.opts.Production,
	})

	return []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		a.accessLog,
		middleware.Recoverer,
		middleware.Timeout(a.opts.RequestTimeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					a.log.Warn("secure headers blocked request", zap.Error(err))
					writeError(w, http.StatusBadRequest, errors.New("request blocked"))
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		a.cors,
		a.opts.Metrics.Middleware,
	}
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", a.opts.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.log.Info("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

// requireAuth rejects requests without a valid bearer token. With roles, the actor
// must also hold one of them.
func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if actor, ok := service.ActorFromContext(r.Context()); ok {
				if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
					writeError(w, http.StatusForbidden, errors.New("forbidden role"))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}
			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}
			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeDecodeError(w, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) || errors.Is(err, service.ErrInactiveAccount) {
			a.log.Info("login rejected", zap.String("username", strings.TrimSpace(req.Username)), zap.Error(err))
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	session, err := a.service.ActiveCashSession(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username":     actor.Username,
		"role":         actor.Role,
		"cash_session": session,
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInactiveAccount):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrDuplicateCode),
		errors.Is(err, store.ErrDuplicateBatch),
		errors.Is(err, store.ErrDuplicateDocument),
		errors.Is(err, store.ErrDuplicateUser),
		errors.Is(err, store.ErrNoActiveSession),
		errors.Is(err, store.ErrSessionAlreadyActive),
		errors.Is(err, store.ErrSessionClosed),
		errors.Is(err, store.ErrSaleVoided):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed", zap.Error(err))
	}

	var shortage *store.StockShortageError
	if errors.As(err, &shortage) {
		lines := make([]map[string]any, 0, len(shortage.Lines))
		for _, line := range shortage.Lines {
			lines = append(lines, map[string]any{
				"product_id": line.ProductID,
				"code":       line.Code,
				"requested":  line.Requested,
				"available":  line.Available,
			})
		}
		writeJSON(w, status, map[string]any{"error": err.Error(), "shortages": lines})
		return
	}
	writeError(w, status, err)
}

func (a *API) writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
		return
	}
	writeError(w, http.StatusBadRequest, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// parseDay reads a YYYY-MM-DD query value as local midnight in loc. endOfDay moves
// the result to the last instant of that day so that "to" filters include it.
func parseDay(raw string, endOfDay bool, loc *time.Location) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return nil, errors.New("dates must use YYYY-MM-DD")
	}
	if endOfDay {
		day = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &day, nil
}

func parseBool(raw string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && value
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; details go to the log.
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
