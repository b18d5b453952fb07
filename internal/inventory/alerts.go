package inventory

import (
	"slices"
	"strings"
	"time"

	"minimarket/backend/internal/domain"
)

// ExpiringBatches lists batches that are expired or inside the window, soonest first.
func ExpiringBatches(products []domain.Product, batches []domain.Batch, today time.Time, windowDays int) []domain.ExpiringBatch {
	byID := make(map[string]domain.Product, len(products))
	for _, product := range products {
		byID[product.ID] = product
	}

	out := make([]domain.ExpiringBatch, 0)
	for _, batch := range batches {
		if batch.Quantity <= 0 {
			continue
		}
		status := Classify(batch.ExpirationDate, today, windowDays)
		if status != StatusExpired && status != StatusExpiring {
			continue
		}
		product, ok := byID[batch.ProductID]
		if !ok || !product.Active {
			continue
		}
		out = append(out, domain.ExpiringBatch{
			Batch:       batch,
			ProductCode: product.Code,
			ProductName: product.Name,
			Status:      status,
			DaysLeft:    DaysUntil(*batch.ExpirationDate, today),
		})
	}
	slices.SortStableFunc(out, func(a, b domain.ExpiringBatch) int {
		if a.DaysLeft != b.DaysLeft {
			return a.DaysLeft - b.DaysLeft
		}
		return strings.Compare(a.ProductCode, b.ProductCode)
	})
	return out
}

func IsLowStock(product domain.Product) bool {
	return product.Active && product.CurrentStock <= product.MinStock
}

// BuildAlerts assembles the low stock and expiry view shown on the alerts screen.
func BuildAlerts(products []domain.Product, batches []domain.Batch, now time.Time, windowDays int) domain.AlertSnapshot {
	snapshot := domain.AlertSnapshot{
		GeneratedAt: now.UTC(),
		LowStock:    make([]domain.Product, 0),
		Expired:     make([]domain.ExpiringBatch, 0),
		Expiring:    make([]domain.ExpiringBatch, 0),
	}
	for _, product := range products {
		if IsLowStock(product) {
			snapshot.LowStock = append(snapshot.LowStock, product)
		}
	}
	slices.SortStableFunc(snapshot.LowStock, func(a, b domain.Product) int {
		return (a.CurrentStock - a.MinStock) - (b.CurrentStock - b.MinStock)
	})
	for _, entry := range ExpiringBatches(products, batches, now, windowDays) {
		if entry.Status == StatusExpired {
			snapshot.Expired = append(snapshot.Expired, entry)
			continue
		}
		snapshot.Expiring = append(snapshot.Expiring, entry)
	}
	return snapshot
}
