package inventory

import (
	"time"

	"minimarket/backend/internal/domain"
)

const (
	StatusExpired  = "expired"
	StatusExpiring = "expiring"
	StatusValid    = "valid"
	StatusNone     = "none"
)

const DefaultExpiringWindowDays = 30

// DateOnly drops the clock part of t, keeping the calendar date of t's location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysUntil counts calendar days from today to expiration; negative once past.
func DaysUntil(expiration time.Time, today time.Time) int {
	return int(DateOnly(expiration).Sub(DateOnly(today)).Hours() / 24)
}

// Classify buckets an expiration date relative to today. The window is inclusive.
func Classify(expiration *time.Time, today time.Time, windowDays int) string {
	if expiration == nil {
		return StatusNone
	}
	if windowDays <= 0 {
		windowDays = DefaultExpiringWindowDays
	}
	days := DaysUntil(*expiration, today)
	switch {
	case days < 0:
		return StatusExpired
	case days <= windowDays:
		return StatusExpiring
	default:
		return StatusValid
	}
}

func IsExpired(batch domain.Batch, today time.Time) bool {
	return batch.ExpirationDate != nil && DaysUntil(*batch.ExpirationDate, today) < 0
}

// NearestExpiration is the earliest expiration across batches, or the product's own
// date when it has none.
func NearestExpiration(product domain.Product, batches []domain.Batch) *time.Time {
	if len(batches) == 0 {
		return product.ExpirationDate
	}
	var nearest *time.Time
	for _, batch := range batches {
		if batch.ExpirationDate == nil {
			continue
		}
		if nearest == nil || batch.ExpirationDate.Before(*nearest) {
			exp := *batch.ExpirationDate
			nearest = &exp
		}
	}
	return nearest
}
