// Package cash reconciles a cash session against the sales recorded while it was open.
package cash

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/store"
	"minimarket/backend/internal/xid"
)

var hundred = decimal.NewFromInt(100)

// ParseAmount reads a non-negative currency amount such as "100" or "100.50" into cents.
func ParseAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: amount is required", store.ErrValidation)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q is not a number", store.ErrValidation, raw)
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: amount cannot be negative", store.ErrValidation)
	}
	if amount.Exponent() < -2 && !amount.Equal(amount.Round(2)) {
		return 0, fmt.Errorf("%w: amount has more than two decimals", store.ErrValidation)
	}
	return amount.Mul(hundred).Round(0).IntPart(), nil
}

func NewSession(startCents int64, openedBy string, notes string, now time.Time) (domain.CashSession, error) {
	if startCents < 0 {
		return domain.CashSession{}, fmt.Errorf("%w: start amount cannot be negative", store.ErrValidation)
	}
	return domain.CashSession{
		ID:                 xid.New("cs"),
		StartAmountCents:   startCents,
		CurrentAmountCents: startCents,
		ExpectedCashCents:  startCents,
		Status:             domain.SessionActive,
		StartTime:          now.UTC(),
		OpenedBy:           openedBy,
		Notes:              strings.TrimSpace(notes),
	}, nil
}

type Summary struct {
	SalesCount        int
	TotalSalesCents   int64
	CashSalesCents    int64
	ExpectedCashCents int64
	ByMethod          map[string]int64
}

// Summarize totals the completed sales inside [StartTime, until]. Only cash sales move
// the expected drawer amount; every method counts toward the sales totals.
func Summarize(session domain.CashSession, sales []domain.Sale, until time.Time) Summary {
	summary := Summary{
		ExpectedCashCents: session.StartAmountCents,
		ByMethod:          map[string]int64{},
	}
	for _, sale := range sales {
		if sale.Status == domain.SaleVoided {
			continue
		}
		if sale.CreatedAt.Before(session.StartTime) || sale.CreatedAt.After(until) {
			continue
		}
		summary.SalesCount++
		summary.TotalSalesCents += sale.TotalCents
		summary.ByMethod[sale.PaymentMethod] += sale.TotalCents
		if sale.PaymentMethod == domain.PaymentCash {
			summary.CashSalesCents += sale.TotalCents
		}
	}
	summary.ExpectedCashCents += summary.CashSalesCents
	return summary
}

// Close finalizes an active session. counted is optional; when present the drawer
// difference (counted minus expected) is recorded.
func Close(session domain.CashSession, sales []domain.Sale, counted *int64, closedBy string, notes string, now time.Time) (domain.CashSession, error) {
	if session.Status != domain.SessionActive {
		return domain.CashSession{}, store.ErrSessionClosed
	}
	if counted != nil && *counted < 0 {
		return domain.CashSession{}, fmt.Errorf("%w: counted amount cannot be negative", store.ErrValidation)
	}

	end := now.UTC()
	summary := Summarize(session, sales, end)

	closed := session
	closed.Status = domain.SessionClosed
	closed.EndTime = &end
	closed.SalesCount = summary.SalesCount
	closed.TotalSalesCents = summary.TotalSalesCents
	closed.CashSalesCents = summary.CashSalesCents
	closed.ExpectedCashCents = summary.ExpectedCashCents
	closed.CurrentAmountCents = summary.ExpectedCashCents
	closed.ClosedBy = closedBy
	if counted != nil {
		countedCents := *counted
		diff := countedCents - summary.ExpectedCashCents
		closed.CountedCashCents = &countedCents
		closed.DifferenceCents = &diff
	}
	if notes = strings.TrimSpace(notes); notes != "" {
		if closed.Notes != "" {
			closed.Notes += "\n"
		}
		closed.Notes += notes
	}
	return closed, nil
}

// Live fills the running totals of an active session for display.
func Live(session domain.CashSession, sales []domain.Sale, now time.Time) domain.CashSessionSummary {
	until := now.UTC()
	if session.EndTime != nil {
		until = *session.EndTime
	}
	summary := Summarize(session, sales, until)
	if session.Status == domain.SessionActive {
		session.SalesCount = summary.SalesCount
		session.TotalSalesCents = summary.TotalSalesCents
		session.CashSalesCents = summary.CashSalesCents
		session.ExpectedCashCents = summary.ExpectedCashCents
		session.CurrentAmountCents = summary.ExpectedCashCents
	}
	return domain.CashSessionSummary{
		Session:           session,
		SalesCount:        summary.SalesCount,
		TotalSalesCents:   summary.TotalSalesCents,
		CashSalesCents:    summary.CashSalesCents,
		ExpectedCashCents: summary.ExpectedCashCents,
		ByMethod:          summary.ByMethod,
	}
}
