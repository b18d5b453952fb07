package inventory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/store"
)

func day(t *testing.T, raw string) *time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", raw)
	require.NoError(t, err)
	return &parsed
}

func TestAggregateWeightsCostByQuantity(t *testing.T) {
	totals := Aggregate([]domain.Batch{
		{Quantity: 10, CostCents: 500},
		{Quantity: 5, CostCents: 800},
	})
	require.Equal(t, 15, totals.Quantity)
	require.Equal(t, int64(600), totals.CostCents)

	// (10*5.00 + 5*4.00) / 15 = 4.666.. rounds to 4.67
	totals = Aggregate([]domain.Batch{
		{Quantity: 10, CostCents: 500},
		{Quantity: 5, CostCents: 400},
	})
	require.Equal(t, 15, totals.Quantity)
	require.Equal(t, int64(467), totals.CostCents)
}

func TestAggregateWithoutBatchesIsZero(t *testing.T) {
	require.Equal(t, Totals{}, Aggregate(nil))

	product := domain.Product{CurrentStock: 7, CostCents: 120}
	Apply(&product, nil)
	require.Zero(t, product.CurrentStock, "last batch gone means no stock")
	require.Zero(t, product.CostCents)
}

func TestValidateBatch(t *testing.T) {
	valid := domain.Batch{BatchNumber: "L-01", Quantity: 1, CostCents: 0}
	require.NoError(t, ValidateBatch(valid))

	cases := map[string]domain.Batch{
		"missing number": {Quantity: 1},
		"zero quantity":  {BatchNumber: "L-01", Quantity: 0},
		"negative cost":  {BatchNumber: "L-01", Quantity: 1, CostCents: -1},
		"expires before purchase": {
			BatchNumber: "L-01", Quantity: 1,
			PurchaseDate: day(t, "2024-05-10"), ExpirationDate: day(t, "2024-05-01"),
		},
	}
	for name, batch := range cases {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, ValidateBatch(batch), store.ErrValidation)
		})
	}
}

func TestHasBatchNumberIgnoresSelf(t *testing.T) {
	batches := []domain.Batch{{ID: "b1", BatchNumber: "L-01"}, {ID: "b2", BatchNumber: "L-02"}}
	require.True(t, HasBatchNumber(batches, "l-01", ""))
	require.False(t, HasBatchNumber(batches, "L-01", "b1"))
	require.False(t, HasBatchNumber(batches, "L-03", ""))
}

func TestCheckReservedBatchNumber(t *testing.T) {
	for _, number := range []string{"INICIAL", " inicial ", "RET-V-00000042", "ret-x"} {
		require.ErrorIs(t, CheckReservedBatchNumber(number), store.ErrValidation, number)
	}
	for _, number := range []string{"L-01", "INICIAL-2", "RETAIL"} {
		require.NoError(t, CheckReservedBatchNumber(number), number)
	}
}

func TestClassify(t *testing.T) {
	today := time.Date(2024, 6, 15, 18, 30, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)
	tenDays := today.AddDate(0, 0, 10)
	thirtyDays := today.AddDate(0, 0, 30)
	ninetyDays := today.AddDate(0, 0, 90)

	require.Equal(t, StatusExpired, Classify(&yesterday, today, 30))
	require.Equal(t, StatusExpiring, Classify(&today, today, 30))
	require.Equal(t, StatusExpiring, Classify(&tenDays, today, 30))
	require.Equal(t, StatusExpiring, Classify(&thirtyDays, today, 30))
	require.Equal(t, StatusValid, Classify(&ninetyDays, today, 30))
	require.Equal(t, StatusNone, Classify(nil, today, 30))
	require.Equal(t, StatusExpiring, Classify(&tenDays, today, 0), "zero window falls back to default")
}

func TestNearestExpiration(t *testing.T) {
	product := domain.Product{ExpirationDate: day(t, "2025-01-01")}
	require.Equal(t, product.ExpirationDate, NearestExpiration(product, nil))

	batches := []domain.Batch{
		{ExpirationDate: day(t, "2024-09-01")},
		{},
		{ExpirationDate: day(t, "2024-07-01")},
	}
	nearest := NearestExpiration(product, batches)
	require.NotNil(t, nearest)
	require.Equal(t, "2024-07-01", nearest.Format("2006-01-02"))

	require.Nil(t, NearestExpiration(product, []domain.Batch{{}}))
}

func TestConsumePlanFirstExpiringFirstOutSkipsExpired(t *testing.T) {
	today := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	batches := []domain.Batch{
		{ID: "undated", Quantity: 10, CostCents: 100},
		{ID: "late", Quantity: 4, CostCents: 300, ExpirationDate: day(t, "2024-12-01")},
		{ID: "expired", Quantity: 50, CostCents: 50, ExpirationDate: day(t, "2024-06-01")},
		{ID: "soon", Quantity: 3, CostCents: 200, ExpirationDate: day(t, "2024-07-01")},
	}

	require.Equal(t, 17, Sellable(batches, today))

	plan, err := ConsumePlan(batches, 8, today)
	require.NoError(t, err)
	require.Equal(t, []Draw{
		{BatchID: "soon", Quantity: 3, Remaining: 0, CostCents: 200},
		{BatchID: "late", Quantity: 4, Remaining: 0, CostCents: 300},
		{BatchID: "undated", Quantity: 1, Remaining: 9, CostCents: 100},
	}, plan)
	require.Equal(t, "undated", batches[0].ID, "input order is untouched")

	_, err = ConsumePlan(batches, 18, today)
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	require.Contains(t, err.Error(), "available 17")

	_, err = ConsumePlan(batches, 0, today)
	require.True(t, errors.Is(err, store.ErrValidation))
}

func TestOpeningBatchCarriesLegacyStock(t *testing.T) {
	now := time.Now()
	product := domain.Product{ID: "p1", CurrentStock: 12, CostCents: 250}

	batch, ok := OpeningBatch(product, nil, now)
	require.True(t, ok)
	require.Equal(t, OpeningBatchNumber, batch.BatchNumber)
	require.Equal(t, 12, batch.Quantity)
	require.Equal(t, int64(250), batch.CostCents)

	_, ok = OpeningBatch(product, []domain.Batch{{ID: "b"}}, now)
	require.False(t, ok)
	_, ok = OpeningBatch(domain.Product{ID: "p2"}, nil, now)
	require.False(t, ok)
}

func TestBuildAlerts(t *testing.T) {
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)
	products := []domain.Product{
		{ID: "p1", Code: "LECHE", Active: true, CurrentStock: 2, MinStock: 5},
		{ID: "p2", Code: "ARROZ", Active: true, CurrentStock: 40, MinStock: 5},
		{ID: "p3", Code: "OLD", Active: false, CurrentStock: 0, MinStock: 5},
	}
	batches := []domain.Batch{
		{ID: "b1", ProductID: "p1", Quantity: 2, ExpirationDate: day(t, "2024-06-14")},
		{ID: "b2", ProductID: "p2", Quantity: 20, ExpirationDate: day(t, "2024-06-25")},
		{ID: "b3", ProductID: "p2", Quantity: 20, ExpirationDate: day(t, "2024-12-25")},
		{ID: "b4", ProductID: "p3", Quantity: 1, ExpirationDate: day(t, "2024-06-01")},
	}

	snapshot := BuildAlerts(products, batches, now, 30)
	require.Len(t, snapshot.LowStock, 1)
	require.Equal(t, "LECHE", snapshot.LowStock[0].Code)
	require.Len(t, snapshot.Expired, 1)
	require.Equal(t, "b1", snapshot.Expired[0].Batch.ID)
	require.Equal(t, -1, snapshot.Expired[0].DaysLeft)
	require.Len(t, snapshot.Expiring, 1)
	require.Equal(t, "b2", snapshot.Expiring[0].Batch.ID)
	require.Equal(t, 10, snapshot.Expiring[0].DaysLeft)
}
