// Package report aggregates sales into profit, revenue and payment views. Reports are
// recomputed from raw sales on every call; nothing here is persisted.
package report

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/store"
)

const (
	BucketDay     = "day"
	BucketWeek    = "week"
	BucketMonth   = "month"
	BucketQuarter = "quarter"
)

const (
	RankByUnits   = "units"
	RankByRevenue = "revenue"
)

type ProductProfit struct {
	ProductID     string  `json:"product_id"`
	Code          string  `json:"code"`
	Name          string  `json:"name"`
	Category      string  `json:"category"`
	UnitsSold     int     `json:"units_sold"`
	RevenueCents  int64   `json:"revenue_cents"`
	CostCents     int64   `json:"cost_cents"`
	ProfitCents   int64   `json:"profit_cents"`
	MarginPercent float64 `json:"margin_percent"`
}

type SeriesPoint struct {
	Bucket       string    `json:"bucket"`
	Start        time.Time `json:"start"`
	SalesCount   int       `json:"sales_count"`
	RevenueCents int64     `json:"revenue_cents"`
	ProfitCents  int64     `json:"profit_cents"`
}

type PaymentTotal struct {
	Method       string  `json:"method"`
	Count        int     `json:"count"`
	TotalCents   int64   `json:"total_cents"`
	SharePercent float64 `json:"share_percent"`
}

type Summary struct {
	SalesCount         int     `json:"sales_count"`
	VoidedCount        int     `json:"voided_count"`
	UnitsSold          int     `json:"units_sold"`
	RevenueCents       int64   `json:"revenue_cents"`
	CostCents          int64   `json:"cost_cents"`
	ProfitCents        int64   `json:"profit_cents"`
	AverageTicketCents int64   `json:"average_ticket_cents"`
	MarginPercent      float64 `json:"margin_percent"`
}

type Report struct {
	From        time.Time       `json:"from"`
	To          time.Time       `json:"to"`
	Bucket      string          `json:"bucket"`
	Summary     Summary         `json:"summary"`
	Series      []SeriesPoint   `json:"series"`
	Payments    []PaymentTotal  `json:"payments"`
	Products    []ProductProfit `json:"products"`
	TopProducts []ProductProfit `json:"top_products"`
}

type Options struct {
	From     time.Time
	To       time.Time
	Bucket   string
	Top      int
	RankBy   string
	Location *time.Location
}

func ParseBucket(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", BucketDay:
		return BucketDay, nil
	case BucketWeek:
		return BucketWeek, nil
	case BucketMonth:
		return BucketMonth, nil
	case BucketQuarter:
		return BucketQuarter, nil
	default:
		return "", fmt.Errorf("%w: unknown bucket %q (use day, week, month or quarter)", store.ErrValidation, raw)
	}
}

// BucketOf returns the label and start instant of the bucket that contains t.
func BucketOf(t time.Time, bucket string) (string, time.Time) {
	y, m, d := t.Date()
	loc := t.Location()
	switch bucket {
	case BucketWeek:
		isoYear, isoWeek := t.ISOWeek()
		offset := (int(t.Weekday()) + 6) % 7
		start := time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
		return fmt.Sprintf("%04d-W%02d", isoYear, isoWeek), start
	case BucketMonth:
		return fmt.Sprintf("%04d-%02d", y, int(m)), time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case BucketQuarter:
		q := (int(m)-1)/3 + 1
		return fmt.Sprintf("%04d-Q%d", y, q), time.Date(y, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, loc)
	default:
		return fmt.Sprintf("%04d-%02d-%02d", y, int(m), d), time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
}

// Build aggregates completed sales within [From, To]. Products give the category of
// each line; names and costs come from the line snapshot.
func Build(sales []domain.Sale, products []domain.Product, opts Options) Report {
	if opts.Bucket == "" {
		opts.Bucket = BucketDay
	}
	if opts.Top <= 0 {
		opts.Top = 10
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	categories := make(map[string]string, len(products))
	for _, product := range products {
		categories[product.ID] = product.Category
	}

	out := Report{From: opts.From, To: opts.To, Bucket: opts.Bucket}
	byProduct := map[string]*ProductProfit{}
	byBucket := map[string]*SeriesPoint{}
	byMethod := map[string]*PaymentTotal{}

	for _, sale := range sales {
		if !opts.From.IsZero() && sale.CreatedAt.Before(opts.From) {
			continue
		}
		if !opts.To.IsZero() && sale.CreatedAt.After(opts.To) {
			continue
		}
		if sale.Status == domain.SaleVoided {
			out.Summary.VoidedCount++
			continue
		}

		saleCost := int64(0)
		for _, item := range sale.Items {
			lineCost := item.UnitCostCents * int64(item.Quantity)
			saleCost += lineCost
			out.Summary.UnitsSold += item.Quantity

			row, ok := byProduct[item.ProductID]
			if !ok {
				row = &ProductProfit{
					ProductID: item.ProductID,
					Code:      item.ProductCode,
					Name:      item.ProductName,
					Category:  categories[item.ProductID],
				}
				byProduct[item.ProductID] = row
			}
			row.UnitsSold += item.Quantity
			row.RevenueCents += item.LineTotalCents
			row.CostCents += lineCost
		}

		out.Summary.SalesCount++
		out.Summary.RevenueCents += sale.TotalCents
		out.Summary.CostCents += saleCost

		label, start := BucketOf(sale.CreatedAt.In(loc), opts.Bucket)
		point, ok := byBucket[label]
		if !ok {
			point = &SeriesPoint{Bucket: label, Start: start}
			byBucket[label] = point
		}
		point.SalesCount++
		point.RevenueCents += sale.TotalCents
		point.ProfitCents += sale.TotalCents - saleCost

		method, ok := byMethod[sale.PaymentMethod]
		if !ok {
			method = &PaymentTotal{Method: sale.PaymentMethod}
			byMethod[sale.PaymentMethod] = method
		}
		method.Count++
		method.TotalCents += sale.TotalCents
	}

	out.Summary.ProfitCents = out.Summary.RevenueCents - out.Summary.CostCents
	out.Summary.MarginPercent = percent(out.Summary.ProfitCents, out.Summary.RevenueCents)
	if out.Summary.SalesCount > 0 {
		out.Summary.AverageTicketCents = decimal.NewFromInt(out.Summary.RevenueCents).
			Div(decimal.NewFromInt(int64(out.Summary.SalesCount))).Round(0).IntPart()
	}

	out.Products = make([]ProductProfit, 0, len(byProduct))
	for _, row := range byProduct {
		row.ProfitCents = row.RevenueCents - row.CostCents
		row.MarginPercent = percent(row.ProfitCents, row.RevenueCents)
		out.Products = append(out.Products, *row)
	}
	slices.SortFunc(out.Products, func(a, b ProductProfit) int {
		if c := cmp.Compare(b.ProfitCents, a.ProfitCents); c != 0 {
			return c
		}
		return strings.Compare(a.Code, b.Code)
	})
	out.TopProducts = TopProducts(out.Products, opts.Top, opts.RankBy)

	out.Series = make([]SeriesPoint, 0, len(byBucket))
	for _, point := range byBucket {
		out.Series = append(out.Series, *point)
	}
	slices.SortFunc(out.Series, func(a, b SeriesPoint) int { return a.Start.Compare(b.Start) })

	out.Payments = make([]PaymentTotal, 0, len(byMethod))
	for _, method := range byMethod {
		method.SharePercent = percent(method.TotalCents, out.Summary.RevenueCents)
		out.Payments = append(out.Payments, *method)
	}
	slices.SortFunc(out.Payments, func(a, b PaymentTotal) int {
		if c := cmp.Compare(b.TotalCents, a.TotalCents); c != 0 {
			return c
		}
		return strings.Compare(a.Method, b.Method)
	})
	return out
}

// TopProducts ranks rows by units sold or revenue, keeping at most n.
func TopProducts(rows []ProductProfit, n int, by string) []ProductProfit {
	ranked := slices.Clone(rows)
	slices.SortFunc(ranked, func(a, b ProductProfit) int {
		var c int
		if by == RankByRevenue {
			c = cmp.Compare(b.RevenueCents, a.RevenueCents)
		} else {
			c = cmp.Compare(b.UnitsSold, a.UnitsSold)
		}
		if c != 0 {
			return c
		}
		return strings.Compare(a.Code, b.Code)
	})
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func percent(part int64, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return decimal.NewFromInt(part).Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(whole)).Round(2).InexactFloat64()
}
