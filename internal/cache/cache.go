package cache

import (
	"context"
	"time"

	"minimarket/backend/internal/domain"
)

// SessionCache keeps the active cash session so login and checkout skip the database.
type SessionCache interface {
	GetActiveSession(ctx context.Context) (*domain.CashSession, bool, error)
	SetActiveSession(ctx context.Context, session *domain.CashSession) error
	ClearActiveSession(ctx context.Context) error
}

// AlertCache holds the latest inventory alert snapshot produced by the scan job.
type AlertCache interface {
	GetAlerts(ctx context.Context) (*domain.AlertSnapshot, bool, error)
	SetAlerts(ctx context.Context, snapshot *domain.AlertSnapshot, ttl time.Duration) error
	ClearAlerts(ctx context.Context) error
}

type Noop struct{}

func (Noop) GetActiveSession(_ context.Context) (*domain.CashSession, bool, error) {
	return nil, false, nil
}

func (Noop) SetActiveSession(_ context.Context, _ *domain.CashSession) error { return nil }

func (Noop) ClearActiveSession(_ context.Context) error { return nil }

func (Noop) GetAlerts(_ context.Context) (*domain.AlertSnapshot, bool, error) {
	return nil, false, nil
}

func (Noop) SetAlerts(_ context.Context, _ *domain.AlertSnapshot, _ time.Duration) error {
	return nil
}

func (Noop) ClearAlerts(_ context.Context) error { return nil }
