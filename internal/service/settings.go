package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/store"
)

const backupVersion = 1

func (s *Service) GetSettings(ctx context.Context) (domain.Settings, error) {
	return s.repo.GetSettings(ctx)
}

func (s *Service) UpdateSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Settings{}, err
	}
	settings.StoreName = strings.TrimSpace(settings.StoreName)
	settings.RUC = strings.TrimSpace(settings.RUC)
	settings.CurrencySymbol = strings.TrimSpace(settings.CurrencySymbol)
	if err := s.validateStruct(settings); err != nil {
		return domain.Settings{}, err
	}
	before, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		return domain.Settings{}, err
	}

	s.logAudit(ctx, auditEvent{
		action: "settings_update", entityType: "settings", entityID: "settings", entityName: settings.StoreName,
		before: before, after: settings,
	})
	if before.ExpiringWindowDays != settings.ExpiringWindowDays {
		s.invalidateAlerts(ctx)
	}
	return settings, nil
}

func (s *Service) ExportBackup(ctx context.Context) (domain.Backup, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Backup{}, err
	}
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.Backup{}, err
	}
	products, err := s.repo.ListProducts(ctx, domain.ProductFilter{IncludeInactive: true})
	if err != nil {
		return domain.Backup{}, err
	}
	batches, err := s.repo.ListAllBatches(ctx)
	if err != nil {
		return domain.Backup{}, err
	}
	customers, err := s.repo.ListCustomers(ctx, "")
	if err != nil {
		return domain.Backup{}, err
	}
	suppliers, err := s.repo.ListSuppliers(ctx)
	if err != nil {
		return domain.Backup{}, err
	}

	s.logAudit(ctx, auditEvent{
		action: "backup_export", entityType: "backup", entityID: "backup",
		details: fmt.Sprintf("products=%d,batches=%d,customers=%d,suppliers=%d", len(products), len(batches), len(customers), len(suppliers)),
	})
	return domain.Backup{
		Version:    backupVersion,
		ExportedAt: s.now().UTC(),
		Settings:   settings,
		Products:   products,
		Batches:    batches,
		Customers:  customers,
		Suppliers:  suppliers,
	}, nil
}

// ImportBackup restores settings and adds customers and suppliers that are not already
// present. Catalog and batches in the document are ignored.
func (s *Service) ImportBackup(ctx context.Context, backup domain.Backup) (domain.BackupImportResult, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.BackupImportResult{}, err
	}
	if backup.Version != backupVersion {
		return domain.BackupImportResult{}, fmt.Errorf("%w: unsupported backup version %d", store.ErrValidation, backup.Version)
	}

	var result domain.BackupImportResult
	if backup.Settings.StoreName != "" {
		if err := s.validateStruct(backup.Settings); err != nil {
			return domain.BackupImportResult{}, err
		}
		if err := s.repo.SaveSettings(ctx, backup.Settings); err != nil {
			return domain.BackupImportResult{}, err
		}
		result.SettingsRestored = true
	}

	for _, customer := range backup.Customers {
		if ValidateDocument(customer.DocumentType, customer.DocumentNumber) != nil {
			result.CustomersSkipped++
			continue
		}
		if customer.ID != "" {
			if _, err := s.repo.GetCustomer(ctx, customer.ID); err == nil {
				result.CustomersSkipped++
				continue
			} else if !isNotFound(err) {
				return result, err
			}
		}
		if _, err := s.repo.CreateCustomer(ctx, customer); err != nil {
			if errors.Is(err, store.ErrDuplicateDocument) {
				result.CustomersSkipped++
				continue
			}
			return result, err
		}
		result.CustomersImported++
	}

	for _, supplier := range backup.Suppliers {
		if strings.TrimSpace(supplier.Name) == "" {
			result.SuppliersSkipped++
			continue
		}
		if supplier.ID != "" {
			if _, err := s.repo.GetSupplier(ctx, supplier.ID); err == nil {
				result.SuppliersSkipped++
				continue
			} else if !isNotFound(err) {
				return result, err
			}
		}
		if _, err := s.repo.CreateSupplier(ctx, supplier); err != nil {
			if errors.Is(err, store.ErrDuplicateDocument) {
				result.SuppliersSkipped++
				continue
			}
			return result, err
		}
		result.SuppliersImported++
	}

	s.logAudit(ctx, auditEvent{
		action: "backup_import", entityType: "backup", entityID: "backup",
		details: fmt.Sprintf("customers=%d/%d,suppliers=%d/%d,settings=%t",
			result.CustomersImported, len(backup.Customers), result.SuppliersImported, len(backup.Suppliers), result.SettingsRestored),
	})
	return result, nil
}
