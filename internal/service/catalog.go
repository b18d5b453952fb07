package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/inventory"
	"minimarket/backend/internal/store"
)

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, filter)
}

func (s *Service) ListCategories(ctx context.Context) ([]string, error) {
	return s.repo.ListCategories(ctx)
}

// GetProduct returns the product with its batches in first-expiring-first-out order.
func (s *Service) GetProduct(ctx context.Context, id string) (domain.ProductDetail, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.ProductDetail{}, err
	}
	batches, err := s.repo.ListBatches(ctx, id)
	if err != nil {
		return domain.ProductDetail{}, err
	}
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.ProductDetail{}, err
	}
	inventory.SortFEFO(batches)

	nearest := inventory.NearestExpiration(*product, batches)
	return domain.ProductDetail{
		Product:          *product,
		Batches:          batches,
		NearestExpiry:    nearest,
		ExpirationStatus: inventory.Classify(nearest, s.now(), settings.ExpiringWindowDays),
	}, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleSupervisor)
	if err != nil {
		return domain.Product{}, err
	}

	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Brand = strings.TrimSpace(req.Brand)
	if err := s.validateStruct(req); err != nil {
		return domain.Product{}, err
	}
	if req.MaxStock > 0 && req.MaxStock < req.MinStock {
		return domain.Product{}, fmt.Errorf("%w: max stock must be greater than or equal to min stock", store.ErrValidation)
	}
	expiration, err := parseDate(req.ExpirationDate)
	if err != nil {
		return domain.Product{}, err
	}

	now := s.now().UTC()
	product := domain.Product{
		Code:           req.Code,
		Name:           req.Name,
		Category:       req.Category,
		Brand:          req.Brand,
		PriceCents:     req.PriceCents,
		CostCents:      req.CostCents,
		MinStock:       req.MinStock,
		MaxStock:       req.MaxStock,
		ExpirationDate: expiration,
		ImageURL:       strings.TrimSpace(req.ImageURL),
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	// Costed opening stock becomes the first batch; otherwise it stays as legacy stock.
	openAsBatch := req.InitialStock > 0 && req.CostCents > 0
	if !openAsBatch {
		product.CurrentStock = req.InitialStock
	} else {
		product.CostCents = 0
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	if openAsBatch {
		_, updated, err := s.repo.CreateBatch(ctx, domain.Batch{
			ProductID:      created.ID,
			BatchNumber:    inventory.OpeningBatchNumber,
			Quantity:       req.InitialStock,
			CostCents:      req.CostCents,
			PurchaseDate:   &now,
			ExpirationDate: expiration,
		}, domain.MovementMeta{Notes: "initial stock", CreatedBy: actor.Username})
		if err != nil {
			return domain.Product{}, err
		}
		created = updated
	}

	s.logAudit(ctx, auditEvent{
		action: "product_create", entityType: "product", entityID: created.ID, entityName: created.Name,
		details: fmt.Sprintf("code=%s,price=%d,stock=%d", created.Code, created.PriceCents, created.CurrentStock),
		after:   created,
	})
	s.invalidateAlerts(ctx)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleSupervisor); err != nil {
		return domain.Product{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Code != nil {
		updated.Code = strings.ToUpper(strings.TrimSpace(*req.Code))
		if updated.Code == "" {
			return domain.Product{}, fmt.Errorf("%w: code is required", store.ErrValidation)
		}
	}
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
		if updated.Name == "" {
			return domain.Product{}, fmt.Errorf("%w: name is required", store.ErrValidation)
		}
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Brand != nil {
		updated.Brand = strings.TrimSpace(*req.Brand)
	}
	if req.PriceCents != nil {
		updated.PriceCents = *req.PriceCents
	}
	if req.MinStock != nil {
		updated.MinStock = *req.MinStock
	}
	if req.MaxStock != nil {
		updated.MaxStock = *req.MaxStock
	}
	if req.ExpirationDate != nil {
		updated.ExpirationDate, err = parseDate(*req.ExpirationDate)
		if err != nil {
			return domain.Product{}, err
		}
	}
	if req.ImageURL != nil {
		updated.ImageURL = strings.TrimSpace(*req.ImageURL)
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	if updated.MaxStock > 0 && updated.MaxStock < updated.MinStock {
		return domain.Product{}, fmt.Errorf("%w: max stock must be greater than or equal to min stock", store.ErrValidation)
	}
	updated.UpdatedAt = s.now().UTC()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, auditEvent{
		action: "product_update", entityType: "product", entityID: saved.ID, entityName: saved.Name,
		before: existing, after: saved,
	})
	s.invalidateAlerts(ctx)
	return *saved, nil
}

// DeleteProduct deactivates the product. Sales history keeps referencing it.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	inactive := false
	_, err := s.UpdateProduct(ctx, id, domain.ProductUpdateRequest{Active: &inactive})
	return err
}

// AdjustStock overwrites the stock of a product that is not batch managed.
func (s *Service) AdjustStock(ctx context.Context, id string, req domain.StockAdjustRequest) (domain.Product, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleSupervisor)
	if err != nil {
		return domain.Product{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.Product{}, err
	}
	before, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	updated, err := s.repo.AdjustStock(ctx, id, req.Quantity, domain.MovementMeta{
		Reference: "adjustment",
		Notes:     strings.TrimSpace(req.Notes),
		CreatedBy: actor.Username,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, auditEvent{
		action: "stock_adjust", entityType: "product", entityID: updated.ID, entityName: updated.Name,
		details: fmt.Sprintf("from=%d,to=%d", before.CurrentStock, updated.CurrentStock),
		before:  before, after: updated,
	})
	s.invalidateAlerts(ctx)
	return *updated, nil
}

func (s *Service) ListBatches(ctx context.Context, productID string) ([]domain.Batch, error) {
	batches, err := s.repo.ListBatches(ctx, productID)
	if err != nil {
		return nil, err
	}
	inventory.SortFEFO(batches)
	return batches, nil
}

func (s *Service) AddBatch(ctx context.Context, productID string, req domain.BatchCreateRequest) (domain.Batch, domain.Product, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleSupervisor)
	if err != nil {
		return domain.Batch{}, domain.Product{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.Batch{}, domain.Product{}, err
	}
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return domain.Batch{}, domain.Product{}, err
	}
	existing, err := s.repo.ListBatches(ctx, productID)
	if err != nil {
		return domain.Batch{}, domain.Product{}, err
	}

	batch := domain.Batch{
		ProductID:   productID,
		BatchNumber: strings.TrimSpace(req.BatchNumber),
		Quantity:    req.Quantity,
		CostCents:   req.CostCents,
		Supplier:    strings.TrimSpace(req.Supplier),
	}
	if batch.BatchNumber == "" {
		batch.BatchNumber = s.nextBatchNumber(existing)
	}
	if batch.PurchaseDate, err = parseDate(req.PurchaseDate); err != nil {
		return domain.Batch{}, domain.Product{}, err
	}
	if batch.ExpirationDate, err = parseDate(req.ExpirationDate); err != nil {
		return domain.Batch{}, domain.Product{}, err
	}
	if err := inventory.ValidateBatch(batch); err != nil {
		return domain.Batch{}, domain.Product{}, err
	}
	if err := inventory.CheckReservedBatchNumber(batch.BatchNumber); err != nil {
		return domain.Batch{}, domain.Product{}, err
	}
	if inventory.HasBatchNumber(existing, batch.BatchNumber, "") {
		return domain.Batch{}, domain.Product{}, store.ErrDuplicateBatch
	}

	created, product, err := s.repo.CreateBatch(ctx, batch, domain.MovementMeta{CreatedBy: actor.Username})
	if err != nil {
		return domain.Batch{}, domain.Product{}, err
	}

	s.logAudit(ctx, auditEvent{
		action: "batch_create", entityType: "batch", entityID: created.ID, entityName: product.Name + " / " + created.BatchNumber,
		details: fmt.Sprintf("qty=%d,cost=%d,stock=%d,avg_cost=%d", created.Quantity, created.CostCents, product.CurrentStock, product.CostCents),
		after:   created,
	})
	s.invalidateAlerts(ctx)
	return *created, *product, nil
}

func (s *Service) UpdateBatch(ctx context.Context, batchID string, req domain.BatchUpdateRequest) (domain.Batch, domain.Product, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleSupervisor)
	if err != nil {
		return domain.Batch{}, domain.Product{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.Batch{}, domain.Product{}, err
	}
	current, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return domain.Batch{}, domain.Product{}, err
	}

	updated := *current
	if req.BatchNumber != nil {
		updated.BatchNumber = strings.TrimSpace(*req.BatchNumber)
	}
	if req.Quantity != nil {
		updated.Quantity = *req.Quantity
	}
	if req.CostCents != nil {
		updated.CostCents = *req.CostCents
	}
	if req.Supplier != nil {
		updated.Supplier = strings.TrimSpace(*req.Supplier)
	}
	if req.PurchaseDate != nil {
		if updated.PurchaseDate, err = parseDate(*req.PurchaseDate); err != nil {
			return domain.Batch{}, domain.Product{}, err
		}
	}
	if req.ExpirationDate != nil {
		if updated.ExpirationDate, err = parseDate(*req.ExpirationDate); err != nil {
			return domain.Batch{}, domain.Product{}, err
		}
	}
	if err := inventory.ValidateBatch(updated); err != nil {
		return domain.Batch{}, domain.Product{}, err
	}
	if !strings.EqualFold(updated.BatchNumber, current.BatchNumber) {
		if err := inventory.CheckReservedBatchNumber(updated.BatchNumber); err != nil {
			return domain.Batch{}, domain.Product{}, err
		}
	}
	siblings, err := s.repo.ListBatches(ctx, current.ProductID)
	if err != nil {
		return domain.Batch{}, domain.Product{}, err
	}
	if inventory.HasBatchNumber(siblings, updated.BatchNumber, updated.ID) {
		return domain.Batch{}, domain.Product{}, store.ErrDuplicateBatch
	}

	saved, product, err := s.repo.UpdateBatch(ctx, updated, domain.MovementMeta{CreatedBy: actor.Username})
	if err != nil {
		return domain.Batch{}, domain.Product{}, err
	}

	s.logAudit(ctx, auditEvent{
		action: "batch_update", entityType: "batch", entityID: saved.ID, entityName: product.Name + " / " + saved.BatchNumber,
		before: current, after: saved,
	})
	s.invalidateAlerts(ctx)
	return *saved, *product, nil
}

func (s *Service) DeleteBatch(ctx context.Context, batchID string) (domain.Product, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleSupervisor)
	if err != nil {
		return domain.Product{}, err
	}
	current, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.DeleteBatch(ctx, batchID, domain.MovementMeta{Notes: "batch deleted", CreatedBy: actor.Username})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, auditEvent{
		action: "batch_delete", entityType: "batch", entityID: current.ID, entityName: product.Name + " / " + current.BatchNumber,
		details: fmt.Sprintf("stock=%d,avg_cost=%d", product.CurrentStock, product.CostCents),
		before:  current,
	})
	s.invalidateAlerts(ctx)
	return *product, nil
}

// ListExpiringBatches returns expired and expiring batches. A window of zero uses the
// configured window.
func (s *Service) ListExpiringBatches(ctx context.Context, windowDays int) ([]domain.ExpiringBatch, error) {
	if windowDays <= 0 {
		settings, err := s.repo.GetSettings(ctx)
		if err != nil {
			return nil, err
		}
		windowDays = settings.ExpiringWindowDays
	}
	products, err := s.repo.ListProducts(ctx, domain.ProductFilter{})
	if err != nil {
		return nil, err
	}
	batches, err := s.repo.ListAllBatches(ctx)
	if err != nil {
		return nil, err
	}
	return inventory.ExpiringBatches(products, batches, s.now(), windowDays), nil
}

func (s *Service) ListKardex(ctx context.Context, productID string, limit int) ([]domain.KardexEntry, error) {
	if productID != "" {
		if _, err := s.repo.GetProduct(ctx, productID); err != nil {
			return nil, err
		}
	}
	return s.repo.ListKardex(ctx, productID, limit)
}

// InventoryAlerts serves the cached snapshot while it is fresh and recomputes otherwise.
func (s *Service) InventoryAlerts(ctx context.Context) (domain.AlertSnapshot, error) {
	cached, ok, err := s.alerts.GetAlerts(ctx)
	if err != nil {
		s.log.Warn("alert cache read failed", zap.Error(err))
	}
	if ok && s.now().Sub(cached.GeneratedAt) < s.alertTTL {
		return *cached, nil
	}
	return s.RefreshAlerts(ctx)
}

// RefreshAlerts recomputes low stock and expiry alerts and stores the snapshot.
func (s *Service) RefreshAlerts(ctx context.Context) (domain.AlertSnapshot, error) {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.AlertSnapshot{}, err
	}
	products, err := s.repo.ListProducts(ctx, domain.ProductFilter{})
	if err != nil {
		return domain.AlertSnapshot{}, err
	}
	batches, err := s.repo.ListAllBatches(ctx)
	if err != nil {
		return domain.AlertSnapshot{}, err
	}

	snapshot := inventory.BuildAlerts(products, batches, s.now(), settings.ExpiringWindowDays)
	if err := s.alerts.SetAlerts(ctx, &snapshot, s.alertTTL); err != nil {
		s.log.Warn("alert cache write failed", zap.Error(err))
	}
	s.metrics.ObserveAlerts(len(snapshot.LowStock), len(snapshot.Expiring), len(snapshot.Expired))
	return snapshot, nil
}

func (s *Service) invalidateAlerts(ctx context.Context) {
	if err := s.alerts.ClearAlerts(ctx); err != nil {
		s.log.Warn("alert cache invalidation failed", zap.Error(err))
	}
}

func (s *Service) nextBatchNumber(existing []domain.Batch) string {
	prefix := "L" + s.now().Format("20060102")
	for seq := len(existing) + 1; ; seq++ {
		candidate := fmt.Sprintf("%s-%02d", prefix, seq)
		if !inventory.HasBatchNumber(existing, candidate, "") {
			return candidate
		}
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
