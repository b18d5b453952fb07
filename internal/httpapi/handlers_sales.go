package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/service"
)

func (a *API) handleActiveCashSession(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.CurrentCashSession(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleOpenCashSession(w http.ResponseWriter, r *http.Request) {
	var req domain.OpenCashSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeDecodeError(w, err)
		return
	}
	session, err := a.service.OpenCashSession(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": session})
}

func (a *API) handleCloseCashSession(w http.ResponseWriter, r *http.Request) {
	var req domain.CloseCashSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeDecodeError(w, err)
		return
	}
	session, err := a.service.CloseCashSession(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (a *API) handleListCashSessions(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
	sessions, err := a.service.ListCashSessions(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) handleCashSessionSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.CashSessionSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeDecodeError(w, err)
		return
	}
	sale, err := a.service.Checkout(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, err := parseDay(query.Get("from"), false, a.service.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseDay(query.Get("to"), true, a.service.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sales, err := a.service.ListSales(r.Context(), domain.SaleFilter{
		From:      from,
		To:        to,
		SessionID: query.Get("session_id"),
		Status:    query.Get("status"),
		Limit:     parsePositiveLimit(query.Get("limit"), 200, 1000),
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleVoidSale(w http.ResponseWriter, r *http.Request) {
	var req domain.VoidSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeDecodeError(w, err)
		return
	}
	sale, err := a.service.VoidSale(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleReceipt(w http.ResponseWriter, r *http.Request) {
	doc, err := a.service.BuildReceipt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) handleCashDrawerOpen(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.OpenCashDrawer(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) reportQuery(r *http.Request) (service.ReportQuery, error) {
	query := r.URL.Query()
	var q service.ReportQuery
	from, err := parseDay(query.Get("from"), false, a.service.Location())
	if err != nil {
		return q, err
	}
	to, err := parseDay(query.Get("to"), true, a.service.Location())
	if err != nil {
		return q, err
	}
	if from != nil {
		q.From = *from
	}
	if to != nil {
		q.To = *to
	}
	q.Bucket = query.Get("bucket")
	q.RankBy = query.Get("rank")
	q.Top, _ = strconv.Atoi(query.Get("top"))
	return q, nil
}

func (a *API) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	q, err := a.reportQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.Report(r.Context(), q)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleSalesReportCSV(w http.ResponseWriter, r *http.Request) {
	q, err := a.reportQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var buf bytes.Buffer
	if err := a.service.ExportReportCSV(r.Context(), &buf, q); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeAttachment(w, "text/csv; charset=utf-8", "ventas", "csv", buf.Bytes())
}

func (a *API) handleSalesReportHTML(w http.ResponseWriter, r *http.Request) {
	q, err := a.reportQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	page, err := a.service.ExportReportHTML(r.Context(), q)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(page))
}

func (a *API) auditFilter(r *http.Request) (domain.AuditFilter, error) {
	query := r.URL.Query()
	from, err := parseDay(query.Get("from"), false, a.service.Location())
	if err != nil {
		return domain.AuditFilter{}, err
	}
	to, err := parseDay(query.Get("to"), true, a.service.Location())
	if err != nil {
		return domain.AuditFilter{}, err
	}
	return domain.AuditFilter{
		From:       from,
		To:         to,
		Actor:      query.Get("actor"),
		Action:     query.Get("action"),
		EntityType: query.Get("entity_type"),
		Limit:      parsePositiveLimit(query.Get("limit"), 200, 5000),
	}, nil
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := a.auditFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	logs, err := a.service.ListAuditLogs(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) handleAuditLogsCSV(w http.ResponseWriter, r *http.Request) {
	filter, err := a.auditFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var buf bytes.Buffer
	if err := a.service.ExportAuditCSV(r.Context(), &buf, filter); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeAttachment(w, "text/csv; charset=utf-8", "auditoria", "csv", buf.Bytes())
}

func writeAttachment(w http.ResponseWriter, contentType string, name string, ext string, body []byte) {
	filename := fmt.Sprintf("%s-%s.%s", name, time.Now().Format("20060102"), ext)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
