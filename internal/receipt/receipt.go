// Package receipt renders boleta and factura documents as plain text and ESC/POS bytes.
package receipt

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"minimarket/backend/internal/domain"
)

const width = 40

var (
	escposInit = []byte{0x1b, 0x40}
	escposCut  = []byte{0x1d, 0x56, 0x41, 0x10}
	// drawer kick on pin 2
	drawerPulse = []byte{0x1b, 0x70, 0x00, 0x19, 0xfa}
)

// SplitIGV separates a tax-inclusive total into taxable base and IGV.
func SplitIGV(totalCents int64, ratePercent int) (int64, int64) {
	if ratePercent <= 0 {
		return totalCents, 0
	}
	divisor := decimal.NewFromInt(int64(100 + ratePercent)).Div(decimal.NewFromInt(100))
	base := decimal.NewFromInt(totalCents).Div(divisor).Round(0).IntPart()
	return base, totalCents - base
}

func Series(documentType string) string {
	if documentType == domain.DocumentFactura {
		return "F001"
	}
	return "B001"
}

// DocumentNumber reuses the sale sequence: V-00000042 becomes B001-00000042.
func DocumentNumber(sale domain.Sale) string {
	seq := strings.TrimPrefix(sale.Number, "V-")
	return Series(sale.DocumentType) + "-" + seq
}

func Build(sale domain.Sale, settings domain.Settings, customer *domain.Customer) domain.ReceiptResponse {
	base, igv := SplitIGV(sale.TotalCents, settings.IGVRatePercent)
	money := func(cents int64) string {
		return settings.CurrencySymbol + " " + decimal.New(cents, -2).StringFixed(2)
	}
	title := "BOLETA DE VENTA ELECTRONICA"
	if sale.DocumentType == domain.DocumentFactura {
		title = "FACTURA ELECTRONICA"
	}

	lines := []string{center(settings.StoreName)}
	if settings.RUC != "" {
		lines = append(lines, center("RUC "+settings.RUC))
	}
	if settings.Address != "" {
		lines = append(lines, center(settings.Address))
	}
	if settings.Phone != "" {
		lines = append(lines, center("Tel. "+settings.Phone))
	}
	lines = append(lines,
		strings.Repeat("=", width),
		center(title),
		center(DocumentNumber(sale)),
		"Fecha: "+sale.CreatedAt.Format("2006-01-02 15:04:05"),
		"Cajero: "+sale.CreatedBy,
	)
	if customer != nil {
		lines = append(lines,
			"Cliente: "+customer.Name,
			customer.DocumentType+": "+customer.DocumentNumber,
		)
	}
	lines = append(lines, strings.Repeat("-", width))
	for _, item := range sale.Items {
		lines = append(lines, truncate(item.ProductName, width))
		lines = append(lines, columns(
			fmt.Sprintf("  %d x %s", item.Quantity, decimal.New(item.UnitPriceCents, -2).StringFixed(2)),
			decimal.New(item.LineTotalCents, -2).StringFixed(2),
		))
	}
	lines = append(lines,
		strings.Repeat("-", width),
		columns("Op. gravada", money(base)),
		columns(fmt.Sprintf("IGV %d%%", settings.IGVRatePercent), money(igv)),
		columns("TOTAL", money(sale.TotalCents)),
		columns("Pago", strings.ToUpper(sale.PaymentMethod)),
	)
	if sale.OperationNumber != "" {
		lines = append(lines, columns("Nro. operacion", sale.OperationNumber))
	}
	if sale.PaymentMethod == domain.PaymentCash && sale.CashReceivedCents > 0 {
		lines = append(lines,
			columns("Recibido", money(sale.CashReceivedCents)),
			columns("Vuelto", money(sale.ChangeCents)),
		)
	}
	if sale.Status == domain.SaleVoided {
		lines = append(lines, center("*** ANULADO ***"))
	}
	lines = append(lines, strings.Repeat("=", width))
	if settings.ReceiptFooter != "" {
		lines = append(lines, center(settings.ReceiptFooter))
	}
	lines = append(lines, "")

	escpos := append([]byte{}, escposInit...)
	for _, line := range lines {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, escposCut...)

	return domain.ReceiptResponse{
		SaleID:        sale.ID,
		DocumentType:  sale.DocumentType,
		Series:        Series(sale.DocumentType),
		Number:        DocumentNumber(sale),
		SubtotalCents: base,
		IGVCents:      igv,
		TotalCents:    sale.TotalCents,
		Text:          strings.Join(lines, "\n"),
		ESCPOSBase64:  base64.StdEncoding.EncodeToString(escpos),
	}
}

func DrawerPulse() domain.CashDrawerResponse {
	return domain.CashDrawerResponse{
		Command:     "drawer_kick_pin2",
		PulseBase64: base64.StdEncoding.EncodeToString(drawerPulse),
	}
}

func center(text string) string {
	text = truncate(text, width)
	pad := (width - len([]rune(text))) / 2
	return strings.Repeat(" ", pad) + text
}

func columns(left string, right string) string {
	gap := width - len([]rune(left)) - len([]rune(right))
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
