package inventory

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/store"
)

// Draw is one batch decrement of a consumption plan.
type Draw struct {
	BatchID   string
	Quantity  int
	Remaining int
	CostCents int64
}

// SortFEFO orders batches first-expiring-first-out: dated batches before undated,
// then by purchase date, then by creation.
func SortFEFO(batches []domain.Batch) {
	slices.SortStableFunc(batches, compareFEFO)
}

func compareFEFO(a domain.Batch, b domain.Batch) int {
	if c := compareOptionalDate(a.ExpirationDate, b.ExpirationDate); c != 0 {
		return c
	}
	if c := compareOptionalDate(a.PurchaseDate, b.PurchaseDate); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func compareOptionalDate(a *time.Time, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return a.Compare(*b)
	}
}

// Sellable is the quantity that can still be sold today: expired batches are held back.
func Sellable(batches []domain.Batch, today time.Time) int {
	total := 0
	for _, batch := range batches {
		if batch.Quantity <= 0 || IsExpired(batch, today) {
			continue
		}
		total += batch.Quantity
	}
	return total
}

// ConsumePlan decides which batches give up qty units. The input is not modified.
func ConsumePlan(batches []domain.Batch, qty int, today time.Time) ([]Draw, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be greater than zero", store.ErrValidation)
	}
	available := Sellable(batches, today)
	if available < qty {
		return nil, fmt.Errorf("%w: requested %d, available %d", store.ErrInsufficientStock, qty, available)
	}

	ordered := slices.Clone(batches)
	SortFEFO(ordered)

	remaining := qty
	plan := make([]Draw, 0, 2)
	for _, batch := range ordered {
		if remaining == 0 {
			break
		}
		if batch.Quantity <= 0 || IsExpired(batch, today) {
			continue
		}
		take := min(batch.Quantity, remaining)
		plan = append(plan, Draw{
			BatchID:   batch.ID,
			Quantity:  take,
			Remaining: batch.Quantity - take,
			CostCents: batch.CostCents,
		})
		remaining -= take
	}
	return plan, nil
}
