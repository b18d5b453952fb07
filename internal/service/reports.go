package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/report"
	"minimarket/backend/internal/store"
)

type ReportQuery struct {
	From   time.Time
	To     time.Time
	Bucket string
	Top    int
	RankBy string
}

// Report aggregates sales in [From, To]. A zero range covers the last 30 days.
func (s *Service) Report(ctx context.Context, query ReportQuery) (report.Report, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleSupervisor); err != nil {
		return report.Report{}, err
	}
	bucket, err := report.ParseBucket(query.Bucket)
	if err != nil {
		return report.Report{}, err
	}
	if query.To.IsZero() {
		query.To = s.now().UTC()
	}
	if query.From.IsZero() {
		query.From = query.To.AddDate(0, 0, -30)
	}
	if query.From.After(query.To) {
		return report.Report{}, errValidation("from must be before to")
	}
	switch query.RankBy {
	case "", report.RankByUnits, report.RankByRevenue:
	default:
		return report.Report{}, errValidation("rank must be units or revenue")
	}

	var (
		sales    []domain.Sale
		products []domain.Product
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sales, err = s.repo.ListSales(gctx, domain.SaleFilter{From: &query.From, To: &query.To})
		return err
	})
	g.Go(func() error {
		var err error
		products, err = s.repo.ListProducts(gctx, domain.ProductFilter{IncludeInactive: true})
		return err
	})
	if err := g.Wait(); err != nil {
		return report.Report{}, err
	}

	return report.Build(sales, products, report.Options{
		From:     query.From,
		To:       query.To,
		Bucket:   bucket,
		Top:      query.Top,
		RankBy:   query.RankBy,
		Location: s.location,
	}), nil
}

func (s *Service) ExportReportCSV(ctx context.Context, w io.Writer, query ReportQuery) error {
	r, err := s.Report(ctx, query)
	if err != nil {
		return err
	}
	return report.WriteCSV(w, r)
}

func (s *Service) ExportReportHTML(ctx context.Context, query ReportQuery) (string, error) {
	r, err := s.Report(ctx, query)
	if err != nil {
		return "", err
	}
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return "", err
	}
	return report.RenderHTML(r, settings.StoreName, settings.CurrencySymbol)
}

func (s *Service) ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleSupervisor); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 200
	}
	return s.repo.ListAuditLogs(ctx, filter)
}

func (s *Service) ExportAuditCSV(ctx context.Context, w io.Writer, filter domain.AuditFilter) error {
	entries, err := s.ListAuditLogs(ctx, filter)
	if err != nil {
		return err
	}
	return report.WriteAuditCSV(w, entries)
}

func errValidation(message string) error {
	return fmt.Errorf("%w: %s", store.ErrValidation, message)
}
