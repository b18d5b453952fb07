// Package inventory holds the batch arithmetic shared by every store: stock and
// weighted cost aggregation, expiry classification and FEFO consumption plans.
package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/store"
)

// OpeningBatchNumber names the batch that absorbs legacy stock the first time a
// product receives a batch.
const OpeningBatchNumber = "INICIAL"

// ReturnBatchPrefix starts the number of the batch a voided sale restocks into.
const ReturnBatchPrefix = "RET-"

type Totals struct {
	Quantity  int
	CostCents int64
}

// Aggregate derives a product's stock and quantity-weighted unit cost from its batches.
func Aggregate(batches []domain.Batch) Totals {
	qty := 0
	value := decimal.Zero
	for _, batch := range batches {
		if batch.Quantity <= 0 {
			continue
		}
		qty += batch.Quantity
		value = value.Add(decimal.NewFromInt(batch.CostCents).Mul(decimal.NewFromInt(int64(batch.Quantity))))
	}
	if qty == 0 {
		return Totals{}
	}
	return Totals{
		Quantity:  qty,
		CostCents: value.Div(decimal.NewFromInt(int64(qty))).Round(0).IntPart(),
	}
}

// Apply writes the aggregate of batches onto product. Callers only use it for
// products whose stock is batch managed; legacy stock is never passed through here.
func Apply(product *domain.Product, batches []domain.Batch) {
	totals := Aggregate(batches)
	product.CurrentStock = totals.Quantity
	product.CostCents = totals.CostCents
}

func ValidateBatch(batch domain.Batch) error {
	if strings.TrimSpace(batch.BatchNumber) == "" {
		return fmt.Errorf("%w: batch number is required", store.ErrValidation)
	}
	if batch.Quantity <= 0 {
		return fmt.Errorf("%w: batch quantity must be greater than zero", store.ErrValidation)
	}
	if batch.CostCents < 0 {
		return fmt.Errorf("%w: batch cost cannot be negative", store.ErrValidation)
	}
	if batch.PurchaseDate != nil && batch.ExpirationDate != nil && batch.ExpirationDate.Before(*batch.PurchaseDate) {
		return fmt.Errorf("%w: expiration date is before purchase date", store.ErrValidation)
	}
	return nil
}

// CheckReservedBatchNumber rejects the numbers the stores assign to opening and
// return batches.
func CheckReservedBatchNumber(number string) error {
	number = strings.ToUpper(strings.TrimSpace(number))
	if number == OpeningBatchNumber || strings.HasPrefix(number, ReturnBatchPrefix) {
		return fmt.Errorf("%w: batch number %s is reserved", store.ErrValidation, number)
	}
	return nil
}

// HasBatchNumber reports whether number is already used by a batch other than exceptID.
func HasBatchNumber(batches []domain.Batch, number string, exceptID string) bool {
	number = strings.TrimSpace(number)
	for _, batch := range batches {
		if batch.ID == exceptID {
			continue
		}
		if strings.EqualFold(batch.BatchNumber, number) {
			return true
		}
	}
	return false
}

// OpeningBatch turns the legacy stock of a product that has no batches yet into a
// batch, so that adding the first real batch does not drop units on the floor.
func OpeningBatch(product domain.Product, existing []domain.Batch, now time.Time) (domain.Batch, bool) {
	if len(existing) > 0 || product.CurrentStock <= 0 {
		return domain.Batch{}, false
	}
	return domain.Batch{
		ProductID:      product.ID,
		BatchNumber:    OpeningBatchNumber,
		Quantity:       product.CurrentStock,
		CostCents:      product.CostCents,
		ExpirationDate: product.ExpirationDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, true
}
