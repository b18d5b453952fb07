package cash

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/store"
)

func TestParseAmount(t *testing.T) {
	cents, err := ParseAmount("100")
	require.NoError(t, err)
	require.Equal(t, int64(10000), cents)

	cents, err = ParseAmount(" 12.5 ")
	require.NoError(t, err)
	require.Equal(t, int64(1250), cents)

	cents, err = ParseAmount("0")
	require.NoError(t, err)
	require.Zero(t, cents)

	for _, raw := range []string{"", "abc", "-1", "1.234", "10,00"} {
		_, err := ParseAmount(raw)
		require.ErrorIs(t, err, store.ErrValidation, raw)
	}
}

func TestCloseReconcilesCashOnly(t *testing.T) {
	opened := time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC)
	session, err := NewSession(10000, "cashier", "", opened)
	require.NoError(t, err)
	require.Equal(t, int64(10000), session.CurrentAmountCents)
	require.Equal(t, domain.SessionActive, session.Status)

	sales := []domain.Sale{
		{PaymentMethod: domain.PaymentCash, TotalCents: 3000, Status: domain.SaleCompleted, CreatedAt: opened.Add(time.Hour)},
		{PaymentMethod: domain.PaymentCash, TotalCents: 2000, Status: domain.SaleCompleted, CreatedAt: opened.Add(2 * time.Hour)},
		{PaymentMethod: domain.PaymentCard, TotalCents: 5000, Status: domain.SaleCompleted, CreatedAt: opened.Add(3 * time.Hour)},
		{PaymentMethod: domain.PaymentCash, TotalCents: 9900, Status: domain.SaleVoided, CreatedAt: opened.Add(3 * time.Hour)},
		{PaymentMethod: domain.PaymentCash, TotalCents: 7700, Status: domain.SaleCompleted, CreatedAt: opened.Add(-time.Hour)},
	}

	counted := int64(14800)
	closed, err := Close(session, sales, &counted, "cashier", "end of day", opened.Add(8*time.Hour))
	require.NoError(t, err)
	require.Equal(t, domain.SessionClosed, closed.Status)
	require.NotNil(t, closed.EndTime)
	require.Equal(t, int64(15000), closed.ExpectedCashCents)
	require.Equal(t, int64(5000), closed.CashSalesCents)
	require.Equal(t, int64(10000), closed.TotalSalesCents)
	require.Equal(t, 3, closed.SalesCount)
	require.Equal(t, int64(-200), *closed.DifferenceCents)
	require.Equal(t, "end of day", closed.Notes)

	_, err = Close(closed, sales, nil, "cashier", "", opened.Add(9*time.Hour))
	require.ErrorIs(t, err, store.ErrSessionClosed)
}

func TestCloseWithoutCountLeavesDifferenceEmpty(t *testing.T) {
	session, err := NewSession(0, "cashier", "", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	closed, err := Close(session, nil, nil, "cashier", "", time.Now())
	require.NoError(t, err)
	require.Nil(t, closed.CountedCashCents)
	require.Nil(t, closed.DifferenceCents)
	require.Zero(t, closed.ExpectedCashCents)

	negative := int64(-1)
	_, err = Close(session, nil, &negative, "cashier", "", time.Now())
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestNewSessionRejectsNegativeStart(t *testing.T) {
	_, err := NewSession(-1, "cashier", "", time.Now())
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestLiveSummaryGroupsByMethod(t *testing.T) {
	opened := time.Now().Add(-time.Hour)
	session, err := NewSession(5000, "cashier", "", opened)
	require.NoError(t, err)

	sales := []domain.Sale{
		{PaymentMethod: domain.PaymentYape, TotalCents: 3000, Status: domain.SaleCompleted, CreatedAt: opened.Add(time.Minute)},
		{PaymentMethod: domain.PaymentCash, TotalCents: 1000, Status: domain.SaleCompleted, CreatedAt: opened.Add(2 * time.Minute)},
	}
	live := Live(session, sales, time.Now())
	require.Equal(t, int64(6000), live.ExpectedCashCents)
	require.Equal(t, int64(6000), live.Session.CurrentAmountCents)
	require.Equal(t, map[string]int64{"yape": 3000, "cash": 1000}, live.ByMethod)
	require.Equal(t, 2, live.SalesCount)
}
