package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/store"
)

var (
	dniPattern = regexp.MustCompile(`^\d{8}$`)
	rucPattern = regexp.MustCompile(`^\d{11}$`)
	cePattern  = regexp.MustCompile(`^[A-Z0-9]{9,12}$`)
)

// ValidateDocument checks a Peruvian identity document number against its type.
func ValidateDocument(documentType string, number string) error {
	var ok bool
	switch documentType {
	case domain.CustomerDNI:
		ok = dniPattern.MatchString(number)
	case domain.CustomerRUC:
		ok = rucPattern.MatchString(number)
	case domain.CustomerCE:
		ok = cePattern.MatchString(number)
	default:
		return fmt.Errorf("%w: unsupported document type %q", store.ErrValidation, documentType)
	}
	if !ok {
		return fmt.Errorf("%w: invalid %s number %q", store.ErrValidation, documentType, number)
	}
	return nil
}

func (s *Service) ListCustomers(ctx context.Context, search string) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx, search)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerRequest) (domain.Customer, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return domain.Customer{}, fmt.Errorf("%w: authentication required", store.ErrForbidden)
	}
	req = normalizeCustomer(req)
	if err := s.validateStruct(req); err != nil {
		return domain.Customer{}, err
	}
	if err := ValidateDocument(req.DocumentType, req.DocumentNumber); err != nil {
		return domain.Customer{}, err
	}

	now := s.now().UTC()
	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		DocumentType:   req.DocumentType,
		DocumentNumber: req.DocumentNumber,
		Name:           req.Name,
		Phone:          req.Phone,
		Email:          req.Email,
		Address:        req.Address,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, auditEvent{
		action: "customer_create", entityType: "customer", entityID: created.ID, entityName: created.Name,
		details: created.DocumentType + "=" + created.DocumentNumber,
		after:   created,
	})
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerRequest) (domain.Customer, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return domain.Customer{}, fmt.Errorf("%w: authentication required", store.ErrForbidden)
	}
	req = normalizeCustomer(req)
	if err := s.validateStruct(req); err != nil {
		return domain.Customer{}, err
	}
	if err := ValidateDocument(req.DocumentType, req.DocumentNumber); err != nil {
		return domain.Customer{}, err
	}
	existing, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}

	updated := *existing
	updated.DocumentType = req.DocumentType
	updated.DocumentNumber = req.DocumentNumber
	updated.Name = req.Name
	updated.Phone = req.Phone
	updated.Email = req.Email
	updated.Address = req.Address
	updated.UpdatedAt = s.now().UTC()

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, auditEvent{
		action: "customer_update", entityType: "customer", entityID: saved.ID, entityName: saved.Name,
		before: existing, after: saved,
	})
	return *saved, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleSupervisor); err != nil {
		return err
	}
	existing, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, auditEvent{
		action: "customer_delete", entityType: "customer", entityID: existing.ID, entityName: existing.Name,
		before: existing,
	})
	return nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) GetSupplier(ctx context.Context, id string) (domain.Supplier, error) {
	supplier, err := s.repo.GetSupplier(ctx, id)
	if err != nil {
		return domain.Supplier{}, err
	}
	return *supplier, nil
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierRequest) (domain.Supplier, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleSupervisor); err != nil {
		return domain.Supplier{}, err
	}
	req = normalizeSupplier(req)
	if err := s.validateStruct(req); err != nil {
		return domain.Supplier{}, err
	}

	now := s.now().UTC()
	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		RUC:       req.RUC,
		Name:      req.Name,
		Contact:   req.Contact,
		Phone:     req.Phone,
		Email:     req.Email,
		Address:   req.Address,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Supplier{}, err
	}
	s.logAudit(ctx, auditEvent{
		action: "supplier_create", entityType: "supplier", entityID: created.ID, entityName: created.Name,
		after: created,
	})
	return *created, nil
}

func (s *Service) UpdateSupplier(ctx context.Context, id string, req domain.SupplierRequest) (domain.Supplier, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleSupervisor); err != nil {
		return domain.Supplier{}, err
	}
	req = normalizeSupplier(req)
	if err := s.validateStruct(req); err != nil {
		return domain.Supplier{}, err
	}
	existing, err := s.repo.GetSupplier(ctx, id)
	if err != nil {
		return domain.Supplier{}, err
	}

	updated := *existing
	updated.RUC = req.RUC
	updated.Name = req.Name
	updated.Contact = req.Contact
	updated.Phone = req.Phone
	updated.Email = req.Email
	updated.Address = req.Address
	updated.UpdatedAt = s.now().UTC()

	saved, err := s.repo.UpdateSupplier(ctx, updated)
	if err != nil {
		return domain.Supplier{}, err
	}
	s.logAudit(ctx, auditEvent{
		action: "supplier_update", entityType: "supplier", entityID: saved.ID, entityName: saved.Name,
		before: existing, after: saved,
	})
	return *saved, nil
}

func (s *Service) DeleteSupplier(ctx context.Context, id string) error {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleSupervisor); err != nil {
		return err
	}
	existing, err := s.repo.GetSupplier(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSupplier(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, auditEvent{
		action: "supplier_delete", entityType: "supplier", entityID: existing.ID, entityName: existing.Name,
		before: existing,
	})
	return nil
}

func normalizeCustomer(req domain.CustomerRequest) domain.CustomerRequest {
	req.DocumentType = strings.ToUpper(strings.TrimSpace(req.DocumentType))
	req.DocumentNumber = strings.ToUpper(strings.TrimSpace(req.DocumentNumber))
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Address = strings.TrimSpace(req.Address)
	return req
}

func normalizeSupplier(req domain.SupplierRequest) domain.SupplierRequest {
	req.RUC = strings.TrimSpace(req.RUC)
	req.Name = strings.TrimSpace(req.Name)
	req.Contact = strings.TrimSpace(req.Contact)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Address = strings.TrimSpace(req.Address)
	return req
}
