package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"html/template"
	"io"
	"strconv"

	"github.com/shopspring/decimal"

	"minimarket/backend/internal/domain"
)

// WriteCSV emits the report as section,key,value rows followed by a product table.
func WriteCSV(w io.Writer, r Report) error {
	out := csv.NewWriter(w)
	rows := [][]string{
		{"section", "key", "value"},
		{"summary", "from", r.From.Format("2006-01-02")},
		{"summary", "to", r.To.Format("2006-01-02")},
		{"summary", "sales_count", strconv.Itoa(r.Summary.SalesCount)},
		{"summary", "voided_count", strconv.Itoa(r.Summary.VoidedCount)},
		{"summary", "units_sold", strconv.Itoa(r.Summary.UnitsSold)},
		{"summary", "revenue", Money(r.Summary.RevenueCents)},
		{"summary", "cost", Money(r.Summary.CostCents)},
		{"summary", "profit", Money(r.Summary.ProfitCents)},
		{"summary", "average_ticket", Money(r.Summary.AverageTicketCents)},
		{"summary", "margin_percent", fmt.Sprintf("%.2f", r.Summary.MarginPercent)},
	}
	for _, payment := range r.Payments {
		rows = append(rows,
			[]string{"payment", payment.Method + "_count", strconv.Itoa(payment.Count)},
			[]string{"payment", payment.Method + "_total", Money(payment.TotalCents)},
		)
	}
	for _, point := range r.Series {
		rows = append(rows, []string{"series", point.Bucket, Money(point.RevenueCents)})
	}
	if err := out.WriteAll(rows); err != nil {
		return err
	}

	if err := out.Write([]string{}); err != nil {
		return err
	}
	if err := out.Write([]string{"code", "name", "category", "units_sold", "revenue", "cost", "profit", "margin_percent"}); err != nil {
		return err
	}
	for _, p := range r.Products {
		if err := out.Write([]string{
			p.Code, p.Name, p.Category, strconv.Itoa(p.UnitsSold),
			Money(p.RevenueCents), Money(p.CostCents), Money(p.ProfitCents),
			fmt.Sprintf("%.2f", p.MarginPercent),
		}); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}

// Money renders cents with two decimals, e.g. 1250 -> "12.50".
func Money(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

var reportHTMLTmpl = template.Must(template.New("sales-report").Funcs(template.FuncMap{
	"money": Money,
	"date":  func(r Report) string { return r.From.Format("2006-01-02") + " / " + r.To.Format("2006-01-02") },
}).Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>{{.StoreName}} - Reporte {{date .Report}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    td.n { text-align: right; }
    h2, h3 { margin-bottom: 4px; }
  </style>
</head>
<body>
  <h2>{{.StoreName}}</h2>
  <p>Periodo: {{date .Report}} ({{.Report.Bucket}})</p>
  <p>Ventas: {{.Report.Summary.SalesCount}} | Ingresos: {{.Currency}} {{money .Report.Summary.RevenueCents}} | Costo: {{.Currency}} {{money .Report.Summary.CostCents}} | Utilidad: {{.Currency}} {{money .Report.Summary.ProfitCents}} | Margen: {{printf "%.2f" .Report.Summary.MarginPercent}}%</p>

  <h3>Por periodo</h3>
  <table>
    <thead><tr><th>Periodo</th><th>Ventas</th><th>Ingresos</th><th>Utilidad</th></tr></thead>
    <tbody>{{range .Report.Series}}<tr><td>{{.Bucket}}</td><td class="n">{{.SalesCount}}</td><td class="n">{{money .RevenueCents}}</td><td class="n">{{money .ProfitCents}}</td></tr>{{end}}</tbody>
  </table>

  <h3>Por medio de pago</h3>
  <table>
    <thead><tr><th>Medio</th><th>Ventas</th><th>Total</th><th>%</th></tr></thead>
    <tbody>{{range .Report.Payments}}<tr><td>{{.Method}}</td><td class="n">{{.Count}}</td><td class="n">{{money .TotalCents}}</td><td class="n">{{printf "%.2f" .SharePercent}}</td></tr>{{end}}</tbody>
  </table>

  <h3>Rentabilidad por producto</h3>
  <table>
    <thead><tr><th>Codigo</th><th>Producto</th><th>Unidades</th><th>Ingresos</th><th>Costo</th><th>Utilidad</th><th>Margen %</th></tr></thead>
    <tbody>{{range .Report.Products}}<tr><td>{{.Code}}</td><td>{{.Name}}</td><td class="n">{{.UnitsSold}}</td><td class="n">{{money .RevenueCents}}</td><td class="n">{{money .CostCents}}</td><td class="n">{{money .ProfitCents}}</td><td class="n">{{printf "%.2f" .MarginPercent}}</td></tr>{{end}}</tbody>
  </table>
</body>
</html>
`))

// RenderHTML renders a printable page. Store-controlled text is escaped by html/template.
func RenderHTML(r Report, storeName string, currency string) (string, error) {
	var buf bytes.Buffer
	err := reportHTMLTmpl.Execute(&buf, struct {
		Report    Report
		StoreName string
		Currency  string
	}{r, storeName, currency})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WriteAuditCSV emits audit entries one per row, newest first as given.
func WriteAuditCSV(w io.Writer, entries []domain.AuditLog) error {
	out := csv.NewWriter(w)
	if err := out.Write([]string{"created_at", "actor", "role", "action", "entity_type", "entity_id", "entity_name", "details"}); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := out.Write([]string{
			entry.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			entry.ActorUsername,
			entry.ActorRole,
			entry.Action,
			entry.EntityType,
			entry.EntityID,
			entry.EntityName,
			entry.Details,
		}); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}
