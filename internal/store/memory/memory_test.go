package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/store"
)

func newProduct(t *testing.T, s *Store, code string, stock int, cost int64) domain.Product {
	t.Helper()
	now := time.Now().UTC()
	product, err := s.CreateProduct(context.Background(), domain.Product{
		Code: code, Name: code, PriceCents: 1000, CurrentStock: stock, CostCents: cost,
		Active: true, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	return *product
}

func openSession(t *testing.T, s *Store) domain.CashSession {
	t.Helper()
	session, err := s.CreateCashSession(context.Background(), domain.CashSession{
		ID: "cs-1", Status: domain.SessionActive, StartTime: time.Now().UTC(),
	})
	require.NoError(t, err)
	return *session
}

func expiresIn(days int) *time.Time {
	d := time.Now().UTC().AddDate(0, 0, days)
	return &d
}

func TestBatchesDriveProductStockAndCost(t *testing.T) {
	ctx := context.Background()
	s := New()
	product := newProduct(t, s, "ARROZ", 0, 0)

	_, _, err := s.CreateBatch(ctx, domain.Batch{ProductID: product.ID, BatchNumber: "A", Quantity: 10, CostCents: 500}, domain.MovementMeta{CreatedBy: "admin"})
	require.NoError(t, err)
	batchB, updated, err := s.CreateBatch(ctx, domain.Batch{ProductID: product.ID, BatchNumber: "B", Quantity: 5, CostCents: 400}, domain.MovementMeta{CreatedBy: "admin"})
	require.NoError(t, err)
	require.Equal(t, 15, updated.CurrentStock)
	require.Equal(t, int64(467), updated.CostCents)

	_, _, err = s.CreateBatch(ctx, domain.Batch{ProductID: product.ID, BatchNumber: "a", Quantity: 1}, domain.MovementMeta{})
	require.ErrorIs(t, err, store.ErrDuplicateBatch)

	other := newProduct(t, s, "AZUCAR", 0, 0)
	_, _, err = s.CreateBatch(ctx, domain.Batch{ProductID: other.ID, BatchNumber: "A", Quantity: 1}, domain.MovementMeta{})
	require.NoError(t, err, "batch numbers are unique per product only")

	batchB.Quantity = 20
	_, updated, err = s.UpdateBatch(ctx, *batchB, domain.MovementMeta{})
	require.NoError(t, err)
	require.Equal(t, 30, updated.CurrentStock)

	updated, err = s.DeleteBatch(ctx, batchB.ID, domain.MovementMeta{})
	require.NoError(t, err)
	require.Equal(t, 10, updated.CurrentStock)
	require.Equal(t, int64(500), updated.CostCents)

	kardex, err := s.ListKardex(ctx, product.ID, 0)
	require.NoError(t, err)
	require.Len(t, kardex, 4)
	require.Equal(t, domain.MovementAdjustment, kardex[0].Type)
	require.Equal(t, -20, kardex[0].Quantity)
}

func TestFirstBatchKeepsLegacyStock(t *testing.T) {
	ctx := context.Background()
	s := New()
	product := newProduct(t, s, "AGUA", 12, 100)

	_, updated, err := s.CreateBatch(ctx, domain.Batch{ProductID: product.ID, BatchNumber: "N1", Quantity: 12, CostCents: 200}, domain.MovementMeta{})
	require.NoError(t, err)
	require.Equal(t, 24, updated.CurrentStock)
	require.Equal(t, int64(150), updated.CostCents)

	batches, err := s.ListBatches(ctx, product.ID)
	require.NoError(t, err)
	require.Len(t, batches, 2)

	_, err = s.AdjustStock(ctx, product.ID, 3, domain.MovementMeta{})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestOpeningBatchNumberIsReservedOverLegacyStock(t *testing.T) {
	ctx := context.Background()
	s := New()
	product := newProduct(t, s, "AGUA", 12, 100)

	_, _, err := s.CreateBatch(ctx, domain.Batch{ProductID: product.ID, BatchNumber: "inicial", Quantity: 5, CostCents: 200}, domain.MovementMeta{})
	require.ErrorIs(t, err, store.ErrValidation)

	got, err := s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	require.Equal(t, 12, got.CurrentStock)
	require.Equal(t, int64(100), got.CostCents)

	batches, err := s.ListBatches(ctx, product.ID)
	require.NoError(t, err)
	require.Empty(t, batches)

	kardex, err := s.ListKardex(ctx, product.ID, 0)
	require.NoError(t, err)
	require.Len(t, kardex, 1, "only the initial stock entry")
	require.Equal(t, 12, kardex[0].StockAfter)
}

func TestCreateSaleConsumesFEFOAndDeletesEmptyBatches(t *testing.T) {
	ctx := context.Background()
	s := New()
	session := openSession(t, s)
	product := newProduct(t, s, "LECHE", 0, 0)

	soon, _, err := s.CreateBatch(ctx, domain.Batch{ProductID: product.ID, BatchNumber: "SOON", Quantity: 2, CostCents: 300, ExpirationDate: expiresIn(5)}, domain.MovementMeta{})
	require.NoError(t, err)
	_, _, err = s.CreateBatch(ctx, domain.Batch{ProductID: product.ID, BatchNumber: "LATE", Quantity: 10, CostCents: 360, ExpirationDate: expiresIn(60)}, domain.MovementMeta{})
	require.NoError(t, err)
	_, _, err = s.CreateBatch(ctx, domain.Batch{ProductID: product.ID, BatchNumber: "OLD", Quantity: 50, CostCents: 100, ExpirationDate: expiresIn(-2)}, domain.MovementMeta{})
	require.NoError(t, err)

	sale, err := s.CreateSale(ctx, domain.Sale{
		SessionID: session.ID, PaymentMethod: domain.PaymentCash, TotalCents: 3000, CreatedBy: "cajero",
		Items: []domain.SaleItem{{ProductID: product.ID, ProductCode: "LECHE", Quantity: 3, UnitPriceCents: 1000, LineTotalCents: 3000}},
	})
	require.NoError(t, err)
	require.Equal(t, "V-00000001", sale.Number)
	require.Equal(t, domain.SaleCompleted, sale.Status)

	_, err = s.GetBatch(ctx, soon.ID)
	require.ErrorIs(t, err, store.ErrNotFound, "fully consumed batch is removed")

	got, err := s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	require.Equal(t, 59, got.CurrentStock, "9 LATE + 50 OLD remain")

	_, err = s.CreateSale(ctx, domain.Sale{
		SessionID: session.ID, PaymentMethod: domain.PaymentCash,
		Items: []domain.SaleItem{{ProductID: product.ID, ProductCode: "LECHE", Quantity: 10}},
	})
	var shortage *store.StockShortageError
	require.True(t, errors.As(err, &shortage))
	require.Equal(t, 9, shortage.Lines[0].Available, "expired units are not sellable")
}

func TestCreateSaleIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	session := openSession(t, s)
	plenty := newProduct(t, s, "PLENTY", 50, 100)
	scarce := newProduct(t, s, "SCARCE", 1, 100)

	_, err := s.CreateSale(ctx, domain.Sale{
		SessionID: session.ID, PaymentMethod: domain.PaymentCash,
		Items: []domain.SaleItem{
			{ProductID: plenty.ID, Quantity: 5},
			{ProductID: scarce.ID, Quantity: 2},
		},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	require.Contains(t, err.Error(), "SCARCE (requested 2, available 1)")

	got, err := s.GetProduct(ctx, plenty.ID)
	require.NoError(t, err)
	require.Equal(t, 50, got.CurrentStock)

	sales, err := s.ListSales(ctx, domain.SaleFilter{})
	require.NoError(t, err)
	require.Empty(t, sales)
}

func TestCreateSaleRequiresActiveSession(t *testing.T) {
	s := New()
	product := newProduct(t, s, "X", 5, 10)
	_, err := s.CreateSale(context.Background(), domain.Sale{
		SessionID: "missing",
		Items:     []domain.SaleItem{{ProductID: product.ID, Quantity: 1}},
	})
	require.ErrorIs(t, err, store.ErrNoActiveSession)
}

func TestVoidSaleRestocks(t *testing.T) {
	ctx := context.Background()
	s := New()
	session := openSession(t, s)
	legacy := newProduct(t, s, "LEGACY", 10, 100)
	batched := newProduct(t, s, "BATCHED", 0, 0)
	_, _, err := s.CreateBatch(ctx, domain.Batch{ProductID: batched.ID, BatchNumber: "B1", Quantity: 2, CostCents: 250}, domain.MovementMeta{})
	require.NoError(t, err)

	sale, err := s.CreateSale(ctx, domain.Sale{
		SessionID: session.ID, PaymentMethod: domain.PaymentCash,
		Items: []domain.SaleItem{
			{ProductID: legacy.ID, Quantity: 4, UnitCostCents: 100},
			{ProductID: batched.ID, Quantity: 2, UnitCostCents: 250},
		},
	})
	require.NoError(t, err)

	voided, err := s.VoidSale(ctx, sale.ID, "wrong item", "supervisor", time.Now())
	require.NoError(t, err)
	require.Equal(t, domain.SaleVoided, voided.Status)
	require.NotNil(t, voided.VoidedAt)

	got, err := s.GetProduct(ctx, legacy.ID)
	require.NoError(t, err)
	require.Equal(t, 10, got.CurrentStock)

	batches, err := s.ListBatches(ctx, batched.ID)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, "RET-"+sale.Number, batches[0].BatchNumber)
	require.Equal(t, int64(250), batches[0].CostCents)

	_, err = s.VoidSale(ctx, sale.ID, "again", "supervisor", time.Now())
	require.ErrorIs(t, err, store.ErrSaleVoided)
}

func TestSingleActiveCashSession(t *testing.T) {
	ctx := context.Background()
	s := New()
	session := openSession(t, s)

	_, err := s.CreateCashSession(ctx, domain.CashSession{ID: "cs-2", Status: domain.SessionActive, StartTime: time.Now()})
	require.ErrorIs(t, err, store.ErrSessionAlreadyActive)

	active, err := s.GetActiveCashSession(ctx)
	require.NoError(t, err)
	require.Equal(t, session.ID, active.ID)

	session.Status = domain.SessionClosed
	_, err = s.CloseCashSession(ctx, session)
	require.NoError(t, err)
	_, err = s.CloseCashSession(ctx, session)
	require.ErrorIs(t, err, store.ErrSessionClosed)

	_, err = s.GetActiveCashSession(ctx)
	require.ErrorIs(t, err, store.ErrNoActiveSession)
}

func TestSeededStoreIsConsistent(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded(zap.NewNop())

	products, err := s.ListProducts(ctx, domain.ProductFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, products)

	for _, product := range products {
		batches, err := s.ListBatches(ctx, product.ID)
		require.NoError(t, err)
		if len(batches) == 0 {
			continue
		}
		total := 0
		for _, b := range batches {
			total += b.Quantity
		}
		require.Equal(t, total, product.CurrentStock, product.Code)
	}

	admin, err := s.GetUser(ctx, "admin")
	require.NoError(t, err)
	require.Equal(t, domain.RoleAdmin, admin.Role)
}

func TestSeededStoreWarnsAboutDefaultCredentials(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "a-real-admin-secret")
	t.Setenv("SEED_SUPERVISOR_PASSWORD", "")
	t.Setenv("SEED_CASHIER_PASSWORD", "")
	core, logs := observer.New(zapcore.WarnLevel)

	NewSeeded(zap.New(core))

	warned := logs.FilterMessage("memory store using default dev credential").All()
	require.Len(t, warned, 2)
	users := []string{warned[0].ContextMap()["username"].(string), warned[1].ContextMap()["username"].(string)}
	require.ElementsMatch(t, []string{"supervisor", "cajero"}, users)
}
