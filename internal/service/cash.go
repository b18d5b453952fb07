package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"minimarket/backend/internal/cash"
	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/store"
)

// ActiveCashSession returns the shared active session, or nil when the till is closed.
func (s *Service) ActiveCashSession(ctx context.Context) (*domain.CashSession, error) {
	if cached, ok, err := s.sessions.GetActiveSession(ctx); err != nil {
		s.log.Warn("session cache read failed", zap.Error(err))
	} else if ok && cached.Status == domain.SessionActive {
		return cached, nil
	}

	session, err := s.repo.GetActiveCashSession(ctx)
	if errors.Is(err, store.ErrNoActiveSession) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.sessions.SetActiveSession(ctx, session); err != nil {
		s.log.Warn("session cache write failed", zap.Error(err))
	}
	return session, nil
}

func (s *Service) OpenCashSession(ctx context.Context, req domain.OpenCashSessionRequest) (domain.CashSession, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CashSession{}, fmt.Errorf("%w: authentication required", store.ErrForbidden)
	}
	if err := s.validateStruct(req); err != nil {
		return domain.CashSession{}, err
	}
	startCents, err := cash.ParseAmount(string(req.StartAmount))
	if err != nil {
		return domain.CashSession{}, err
	}

	active, err := s.ActiveCashSession(ctx)
	if err != nil {
		return domain.CashSession{}, err
	}
	if active != nil {
		return domain.CashSession{}, store.ErrSessionAlreadyActive
	}

	session, err := cash.NewSession(startCents, actor.Username, req.Notes, s.now())
	if err != nil {
		return domain.CashSession{}, err
	}
	created, err := s.repo.CreateCashSession(ctx, session)
	if err != nil {
		return domain.CashSession{}, err
	}
	if err := s.sessions.SetActiveSession(ctx, created); err != nil {
		s.log.Warn("session cache write failed", zap.Error(err))
	}

	s.logAudit(ctx, auditEvent{
		action: "cash_session_open", entityType: "cash_session", entityID: created.ID,
		details: fmt.Sprintf("start=%d", created.StartAmountCents),
		after:   created,
	})
	s.log.Info("cash session opened", zap.String("session_id", created.ID), zap.String("opened_by", actor.Username))
	return *created, nil
}

func (s *Service) CloseCashSession(ctx context.Context, req domain.CloseCashSessionRequest) (domain.CashSession, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CashSession{}, fmt.Errorf("%w: authentication required", store.ErrForbidden)
	}
	if err := s.validateStruct(req); err != nil {
		return domain.CashSession{}, err
	}
	var counted *int64
	if req.CountedAmount != "" {
		cents, err := cash.ParseAmount(string(req.CountedAmount))
		if err != nil {
			return domain.CashSession{}, err
		}
		counted = &cents
	}

	session, err := s.repo.GetActiveCashSession(ctx)
	if err != nil {
		return domain.CashSession{}, err
	}
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{SessionID: session.ID})
	if err != nil {
		return domain.CashSession{}, err
	}
	closing, err := cash.Close(*session, sales, counted, actor.Username, req.Notes, s.now())
	if err != nil {
		return domain.CashSession{}, err
	}
	closed, err := s.repo.CloseCashSession(ctx, closing)
	if err != nil {
		return domain.CashSession{}, err
	}
	if err := s.sessions.ClearActiveSession(ctx); err != nil {
		s.log.Warn("session cache invalidation failed", zap.Error(err))
	}

	details := fmt.Sprintf("expected=%d,total_sales=%d,sales=%d", closed.ExpectedCashCents, closed.TotalSalesCents, closed.SalesCount)
	if closed.DifferenceCents != nil {
		details += fmt.Sprintf(",counted=%d,difference=%d", *closed.CountedCashCents, *closed.DifferenceCents)
	}
	s.logAudit(ctx, auditEvent{
		action: "cash_session_close", entityType: "cash_session", entityID: closed.ID,
		details: details, before: session, after: closed,
	})
	s.log.Info("cash session closed", zap.String("session_id", closed.ID), zap.String("closed_by", actor.Username))
	return *closed, nil
}

// CurrentCashSession returns the active session with its running totals.
func (s *Service) CurrentCashSession(ctx context.Context) (domain.CashSessionSummary, error) {
	session, err := s.ActiveCashSession(ctx)
	if err != nil {
		return domain.CashSessionSummary{}, err
	}
	if session == nil {
		return domain.CashSessionSummary{}, store.ErrNoActiveSession
	}
	return s.summarizeSession(ctx, *session)
}

func (s *Service) CashSessionSummary(ctx context.Context, id string) (domain.CashSessionSummary, error) {
	session, err := s.repo.GetCashSession(ctx, id)
	if err != nil {
		return domain.CashSessionSummary{}, err
	}
	return s.summarizeSession(ctx, *session)
}

func (s *Service) ListCashSessions(ctx context.Context, limit int) ([]domain.CashSession, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleSupervisor); err != nil {
		return nil, err
	}
	return s.repo.ListCashSessions(ctx, limit)
}

func (s *Service) summarizeSession(ctx context.Context, session domain.CashSession) (domain.CashSessionSummary, error) {
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{SessionID: session.ID})
	if err != nil {
		return domain.CashSessionSummary{}, err
	}
	return cash.Live(session, sales, s.now()), nil
}
