package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/store"
)

func sampleSales() []domain.Sale {
	base := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC) // Monday
	return []domain.Sale{
		{
			ID: "s1", PaymentMethod: domain.PaymentCash, Status: domain.SaleCompleted, CreatedAt: base, TotalCents: 3000,
			Items: []domain.SaleItem{{ProductID: "p1", ProductCode: "ARROZ", ProductName: "Arroz 1kg", UnitPriceCents: 1000, UnitCostCents: 700, Quantity: 3, LineTotalCents: 3000}},
		},
		{
			ID: "s2", PaymentMethod: domain.PaymentYape, Status: domain.SaleCompleted, CreatedAt: base.AddDate(0, 0, 1), TotalCents: 2500,
			Items: []domain.SaleItem{
				{ProductID: "p1", ProductCode: "ARROZ", ProductName: "Arroz 1kg", UnitPriceCents: 1000, UnitCostCents: 700, Quantity: 1, LineTotalCents: 1000},
				{ProductID: "p2", ProductCode: "LECHE", ProductName: "Leche", UnitPriceCents: 500, UnitCostCents: 300, Quantity: 3, LineTotalCents: 1500},
			},
		},
		{
			ID: "s3", PaymentMethod: domain.PaymentCash, Status: domain.SaleVoided, CreatedAt: base, TotalCents: 9999,
			Items: []domain.SaleItem{{ProductID: "p2", Quantity: 99, LineTotalCents: 9999}},
		},
		{
			ID: "s4", PaymentMethod: domain.PaymentCash, Status: domain.SaleCompleted, CreatedAt: base.AddDate(0, 2, 0), TotalCents: 500,
			Items: []domain.SaleItem{{ProductID: "p2", ProductCode: "LECHE", ProductName: "Leche", UnitPriceCents: 500, UnitCostCents: 300, Quantity: 1, LineTotalCents: 500}},
		},
	}
}

func TestBuildAggregatesProfitAndPayments(t *testing.T) {
	products := []domain.Product{{ID: "p1", Category: "abarrotes"}, {ID: "p2", Category: "lacteos"}}
	r := Build(sampleSales(), products, Options{
		From:   time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		To:     time.Date(2024, 7, 31, 23, 59, 59, 0, time.UTC),
		Bucket: BucketDay,
	})

	require.Equal(t, 2, r.Summary.SalesCount)
	require.Equal(t, 1, r.Summary.VoidedCount)
	require.Equal(t, int64(5500), r.Summary.RevenueCents)
	require.Equal(t, int64(3700), r.Summary.CostCents)
	require.Equal(t, int64(1800), r.Summary.ProfitCents)
	require.Equal(t, int64(2750), r.Summary.AverageTicketCents)
	require.InDelta(t, 32.73, r.Summary.MarginPercent, 0.001)

	require.Len(t, r.Products, 2)
	require.Equal(t, "ARROZ", r.Products[0].Code)
	require.Equal(t, 4, r.Products[0].UnitsSold)
	require.Equal(t, int64(1200), r.Products[0].ProfitCents)
	require.Equal(t, "abarrotes", r.Products[0].Category)
	require.InDelta(t, 30.0, r.Products[0].MarginPercent, 0.001)

	require.Len(t, r.Series, 2)
	require.Equal(t, "2024-07-01", r.Series[0].Bucket)
	require.Equal(t, "2024-07-02", r.Series[1].Bucket)

	require.Equal(t, []PaymentTotal{
		{Method: "cash", Count: 1, TotalCents: 3000, SharePercent: 54.55},
		{Method: "yape", Count: 1, TotalCents: 2500, SharePercent: 45.45},
	}, r.Payments)
}

func TestBuildCutsBucketsAtLocalMidnight(t *testing.T) {
	lima := time.FixedZone("PET", -5*60*60)
	evening := time.Date(2024, 6, 16, 1, 30, 0, 0, time.UTC) // 20:30 on the 15th in Lima
	sales := []domain.Sale{{
		ID: "s1", PaymentMethod: domain.PaymentCash, Status: domain.SaleCompleted, CreatedAt: evening, TotalCents: 1000,
		Items: []domain.SaleItem{{ProductID: "p1", ProductCode: "PAN", Quantity: 1, LineTotalCents: 1000}},
	}}

	utc := Build(sales, nil, Options{Bucket: BucketDay})
	require.Equal(t, "2024-06-16", utc.Series[0].Bucket)

	local := Build(sales, nil, Options{Bucket: BucketDay, Location: lima})
	require.Equal(t, "2024-06-15", local.Series[0].Bucket)
	require.True(t, local.Series[0].Start.Equal(time.Date(2024, 6, 15, 5, 0, 0, 0, time.UTC)))
}

func TestBucketOf(t *testing.T) {
	ts := time.Date(2024, 8, 15, 13, 0, 0, 0, time.UTC) // Thursday

	label, start := BucketOf(ts, BucketWeek)
	require.Equal(t, "2024-W33", label)
	require.Equal(t, time.Date(2024, 8, 12, 0, 0, 0, 0, time.UTC), start)

	label, start = BucketOf(ts, BucketMonth)
	require.Equal(t, "2024-08", label)
	require.Equal(t, 1, start.Day())

	label, start = BucketOf(ts, BucketQuarter)
	require.Equal(t, "2024-Q3", label)
	require.Equal(t, time.July, start.Month())

	label, _ = BucketOf(ts, BucketDay)
	require.Equal(t, "2024-08-15", label)
}

func TestParseBucket(t *testing.T) {
	bucket, err := ParseBucket("")
	require.NoError(t, err)
	require.Equal(t, BucketDay, bucket)

	bucket, err = ParseBucket("Quarter")
	require.NoError(t, err)
	require.Equal(t, BucketQuarter, bucket)

	_, err = ParseBucket("year")
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestTopProductsRanking(t *testing.T) {
	rows := []ProductProfit{
		{Code: "A", UnitsSold: 5, RevenueCents: 100},
		{Code: "B", UnitsSold: 1, RevenueCents: 900},
		{Code: "C", UnitsSold: 5, RevenueCents: 50},
	}
	byUnits := TopProducts(rows, 2, RankByUnits)
	require.Equal(t, []string{"A", "C"}, []string{byUnits[0].Code, byUnits[1].Code})

	byRevenue := TopProducts(rows, 1, RankByRevenue)
	require.Equal(t, "B", byRevenue[0].Code)
	require.Equal(t, "A", rows[0].Code)
}

func TestExports(t *testing.T) {
	r := Build(sampleSales(), nil, Options{Bucket: BucketMonth})

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, r))
	csvText := buf.String()
	require.True(t, strings.HasPrefix(csvText, "section,key,value\n"))
	require.Contains(t, csvText, "summary,revenue,60.00")
	require.Contains(t, csvText, "series,2024-09,5.00")
	require.Contains(t, csvText, "ARROZ,Arroz 1kg,,4,40.00,28.00,12.00,30.00")

	page, err := RenderHTML(r, "Bodega <Don Pepe>", "S/")
	require.NoError(t, err)
	require.Contains(t, page, "Bodega &lt;Don Pepe&gt;")
	require.Contains(t, page, "S/ 60.00")
}

func TestMoney(t *testing.T) {
	require.Equal(t, "12.50", Money(1250))
	require.Equal(t, "0.05", Money(5))
	require.Equal(t, "-3.00", Money(-300))
}
