package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/receipt"
	"minimarket/backend/internal/store"
)

func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Sale{}, fmt.Errorf("%w: authentication required", store.ErrForbidden)
	}

	req.PaymentMethod = strings.ToLower(strings.TrimSpace(defaultString(req.PaymentMethod, domain.PaymentCash)))
	req.DocumentType = strings.ToLower(strings.TrimSpace(defaultString(req.DocumentType, domain.DocumentBoleta)))
	req.OperationNumber = strings.TrimSpace(req.OperationNumber)
	if err := s.validateStruct(req); err != nil {
		return domain.Sale{}, s.rejectCheckout("validation", err)
	}
	if !isSupportedPaymentMethod(req.PaymentMethod) {
		return domain.Sale{}, s.rejectCheckout("validation", fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, req.PaymentMethod))
	}
	if req.DocumentType != domain.DocumentBoleta && req.DocumentType != domain.DocumentFactura {
		return domain.Sale{}, s.rejectCheckout("validation", fmt.Errorf("%w: unsupported document type %q", store.ErrValidation, req.DocumentType))
	}
	if req.PaymentMethod != domain.PaymentCash && req.OperationNumber == "" {
		return domain.Sale{}, s.rejectCheckout("operation_number", fmt.Errorf("%w: operation number is required for %s payments", store.ErrValidation, req.PaymentMethod))
	}

	session, err := s.ActiveCashSession(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	if session == nil {
		return domain.Sale{}, s.rejectCheckout("no_session", store.ErrNoActiveSession)
	}

	lines := normalizeItems(req.Items)
	if len(lines) == 0 {
		return domain.Sale{}, s.rejectCheckout("empty_cart", fmt.Errorf("%w: cart is empty", store.ErrValidation))
	}

	var customer *domain.Customer
	if req.CustomerID != "" {
		customer, err = s.repo.GetCustomer(ctx, req.CustomerID)
		if err != nil {
			return domain.Sale{}, s.rejectCheckout("customer", err)
		}
	}
	if req.DocumentType == domain.DocumentFactura && (customer == nil || customer.DocumentType != domain.CustomerRUC) {
		return domain.Sale{}, s.rejectCheckout("validation", fmt.Errorf("%w: factura requires a customer with RUC", store.ErrValidation))
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.Sale{}, err
	}

	shortage := &store.StockShortageError{}
	items := make([]domain.SaleItem, 0, len(lines))
	total := int64(0)
	for _, line := range lines {
		product, exists := products[line.ProductID]
		if !exists || !product.Active {
			return domain.Sale{}, s.rejectCheckout("product", fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID))
		}
		if product.CurrentStock < line.Quantity {
			shortage.Lines = append(shortage.Lines, store.ShortageLine{
				ProductID: product.ID, Code: product.Code, Requested: line.Quantity, Available: product.CurrentStock,
			})
			continue
		}
		lineTotal := product.PriceCents * int64(line.Quantity)
		items = append(items, domain.SaleItem{
			ProductID:      product.ID,
			ProductCode:    product.Code,
			ProductName:    product.Name,
			UnitPriceCents: product.PriceCents,
			UnitCostCents:  product.CostCents,
			Quantity:       line.Quantity,
			LineTotalCents: lineTotal,
		})
		total += lineTotal
	}
	if len(shortage.Lines) > 0 {
		return domain.Sale{}, s.rejectCheckout("insufficient_stock", shortage)
	}

	sale := domain.Sale{
		SessionID:       session.ID,
		PaymentMethod:   req.PaymentMethod,
		OperationNumber: req.OperationNumber,
		CustomerID:      req.CustomerID,
		DocumentType:    req.DocumentType,
		TotalCents:      total,
		CreatedBy:       actor.Username,
		Items:           items,
	}
	if req.PaymentMethod == domain.PaymentCash {
		received := req.CashReceivedCents
		if received == 0 {
			received = total
		}
		if received < total {
			return domain.Sale{}, s.rejectCheckout("cash_received", fmt.Errorf("%w: cash received is less than the total", store.ErrValidation))
		}
		sale.CashReceivedCents = received
		sale.ChangeCents = received - total
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		if errors.Is(err, store.ErrNoActiveSession) {
			if clearErr := s.sessions.ClearActiveSession(ctx); clearErr != nil {
				s.log.Warn("session cache invalidation failed", zap.Error(clearErr))
			}
			return domain.Sale{}, s.rejectCheckout("no_session", err)
		}
		if errors.Is(err, store.ErrInsufficientStock) {
			return domain.Sale{}, s.rejectCheckout("insufficient_stock", err)
		}
		return domain.Sale{}, err
	}

	s.metrics.ObserveSale(created.PaymentMethod, created.TotalCents)
	s.logAudit(ctx, auditEvent{
		action: "sale_create", entityType: "sale", entityID: created.ID, entityName: created.Number,
		details: fmt.Sprintf("total=%d,payment=%s,items=%d,document=%s", created.TotalCents, created.PaymentMethod, len(created.Items), created.DocumentType),
		after:   created,
	})
	s.invalidateAlerts(ctx)
	return *created, nil
}

func (s *Service) VoidSale(ctx context.Context, id string, req domain.VoidSaleRequest) (domain.Sale, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleSupervisor)
	if err != nil {
		return domain.Sale{}, err
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validateStruct(req); err != nil {
		return domain.Sale{}, err
	}
	before, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	if before.Status == domain.SaleVoided {
		return domain.Sale{}, store.ErrSaleVoided
	}

	voided, err := s.repo.VoidSale(ctx, id, req.Reason, actor.Username, s.now())
	if err != nil {
		return domain.Sale{}, err
	}

	s.metrics.SaleVoided()
	s.logAudit(ctx, auditEvent{
		action: "sale_void", entityType: "sale", entityID: voided.ID, entityName: voided.Number,
		details: "reason=" + req.Reason,
		before:  before, after: voided,
	})
	s.invalidateAlerts(ctx)
	return *voided, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 200
	}
	return s.repo.ListSales(ctx, filter)
}

// BuildReceipt renders the boleta or factura of a sale as text and ESC/POS bytes.
func (s *Service) BuildReceipt(ctx context.Context, saleID string) (domain.ReceiptResponse, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}
	var customer *domain.Customer
	if sale.CustomerID != "" {
		customer, err = s.repo.GetCustomer(ctx, sale.CustomerID)
		if err != nil && !isNotFound(err) {
			return domain.ReceiptResponse{}, err
		}
	}
	return receipt.Build(*sale, settings, customer), nil
}

func (s *Service) OpenCashDrawer(ctx context.Context) (domain.CashDrawerResponse, error) {
	session, err := s.ActiveCashSession(ctx)
	if err != nil {
		return domain.CashDrawerResponse{}, err
	}
	if session == nil {
		return domain.CashDrawerResponse{}, store.ErrNoActiveSession
	}
	s.logAudit(ctx, auditEvent{action: "cash_drawer_open", entityType: "cash_session", entityID: session.ID})
	return receipt.DrawerPulse(), nil
}

func (s *Service) rejectCheckout(reason string, err error) error {
	s.metrics.CheckoutRejected(reason)
	return err
}

// normalizeItems merges repeated products keeping first-seen order.
func normalizeItems(items []domain.CartItem) []domain.CartItem {
	index := make(map[string]int, len(items))
	out := make([]domain.CartItem, 0, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" || item.Quantity <= 0 {
			continue
		}
		if pos, ok := index[id]; ok {
			out[pos].Quantity += item.Quantity
			continue
		}
		index[id] = len(out)
		out = append(out, domain.CartItem{ProductID: id, Quantity: item.Quantity})
	}
	return out
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentYape, domain.PaymentPlin, domain.PaymentTransfer:
		return true
	default:
		return false
	}
}
