package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/inventory"
	"minimarket/backend/internal/store"
	"minimarket/backend/internal/xid"
)

// Store keeps everything in maps behind one mutex. Multi-entity writes such as a sale
// happen under the write lock so they are all-or-nothing.
type Store struct {
	mu        sync.RWMutex
	products  map[string]domain.Product
	batches   map[string]domain.Batch
	kardex    []domain.KardexEntry
	sales     map[string]*domain.Sale
	saleSeq   int64
	sessions  map[string]domain.CashSession
	auditLogs []domain.AuditLog
	customers map[string]domain.Customer
	suppliers map[string]domain.Supplier
	users     map[string]domain.UserAccount
	settings  domain.Settings
	now       func() time.Time
}

func New() *Store {
	return &Store{
		products:  make(map[string]domain.Product),
		batches:   make(map[string]domain.Batch),
		kardex:    make([]domain.KardexEntry, 0, 128),
		sales:     make(map[string]*domain.Sale),
		sessions:  make(map[string]domain.CashSession),
		auditLogs: make([]domain.AuditLog, 0, 128),
		customers: make(map[string]domain.Customer),
		suppliers: make(map[string]domain.Supplier),
		users:     make(map[string]domain.UserAccount),
		settings:  domain.DefaultSettings(),
		now:       time.Now,
	}
}

// WithClock replaces the store clock; tests use it to pin "today" for expiry checks.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

// NewSeeded returns a demo catalog plus admin, supervisor and cashier accounts.
// Passwords come from the SEED_*_PASSWORD variables, with dev defaults otherwise;
// each default in use is reported as a warning on log.
func NewSeeded(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := New()
	now := time.Now().UTC()
	for _, u := range []struct {
		username string
		env      string
		fallback string
		role     string
		fullName string
	}{
		{"admin", "SEED_ADMIN_PASSWORD", "admin12345", domain.RoleAdmin, "Administrador"},
		{"supervisor", "SEED_SUPERVISOR_PASSWORD", "super12345", domain.RoleSupervisor, "Supervisor de turno"},
		{"cajero", "SEED_CASHIER_PASSWORD", "cajero12345", domain.RoleCashier, "Cajero principal"},
	} {
		password := os.Getenv(u.env)
		if password == "" {
			password = u.fallback
			log.Warn("memory store using default dev credential", zap.String("username", u.username), zap.String("env", u.env))
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			panic(fmt.Sprintf("hash seed password for %s: %v", u.username, err))
		}
		s.users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			FullName:  u.fullName,
			Active:    true,
			CreatedAt: now,
		}
	}

	seed := []struct {
		product domain.Product
		batches []domain.Batch
	}{
		{domain.Product{Code: "ARROZ-1KG", Name: "Arroz Costeno 1kg", Category: "abarrotes", Brand: "Costeno", PriceCents: 450, MinStock: 10, MaxStock: 200},
			[]domain.Batch{{BatchNumber: "L-ARZ-01", Quantity: 60, CostCents: 360, Supplier: "Alicorp"}}},
		{domain.Product{Code: "AZUCAR-1KG", Name: "Azucar Rubia 1kg", Category: "abarrotes", Brand: "Cartavio", PriceCents: 420, MinStock: 10, MaxStock: 150},
			[]domain.Batch{{BatchNumber: "L-AZ-01", Quantity: 40, CostCents: 330}}},
		{domain.Product{Code: "ACEITE-1L", Name: "Aceite Vegetal 1L", Category: "abarrotes", Brand: "Primor", PriceCents: 1090, MinStock: 6, MaxStock: 60},
			[]domain.Batch{
				{BatchNumber: "L-AC-01", Quantity: 10, CostCents: 850, ExpirationDate: dateAt(now, 240)},
				{BatchNumber: "L-AC-02", Quantity: 5, CostCents: 900, ExpirationDate: dateAt(now, 400)},
			}},
		{domain.Product{Code: "LECHE-400", Name: "Leche Evaporada 400g", Category: "lacteos", Brand: "Gloria", PriceCents: 420, MinStock: 24, MaxStock: 240},
			[]domain.Batch{{BatchNumber: "L-LE-01", Quantity: 48, CostCents: 330, ExpirationDate: dateAt(now, 20)}}},
		{domain.Product{Code: "YOGURT-1L", Name: "Yogurt Fresa 1L", Category: "lacteos", Brand: "Laive", PriceCents: 690, MinStock: 6, MaxStock: 40},
			[]domain.Batch{{BatchNumber: "L-YO-01", Quantity: 8, CostCents: 520, ExpirationDate: dateAt(now, 9)}}},
		{domain.Product{Code: "PAN-MOLDE", Name: "Pan de Molde Blanco", Category: "panaderia", Brand: "Bimbo", PriceCents: 780, MinStock: 5, MaxStock: 30},
			[]domain.Batch{{BatchNumber: "L-PM-01", Quantity: 4, CostCents: 600, ExpirationDate: dateAt(now, 4)}}},
		{domain.Product{Code: "GASEOSA-1.5L", Name: "Gaseosa 1.5L", Category: "bebidas", Brand: "Inca Kola", PriceCents: 650, MinStock: 12, MaxStock: 120},
			[]domain.Batch{{BatchNumber: "L-GA-01", Quantity: 36, CostCents: 480, ExpirationDate: dateAt(now, 150)}}},
		{domain.Product{Code: "AGUA-625", Name: "Agua sin gas 625ml", Category: "bebidas", Brand: "San Luis", PriceCents: 150, MinStock: 24, MaxStock: 240, CurrentStock: 72, CostCents: 90}, nil},
		{domain.Product{Code: "DETERG-500", Name: "Detergente 500g", Category: "limpieza", Brand: "Bolivar", PriceCents: 690, MinStock: 6, MaxStock: 48, CurrentStock: 20, CostCents: 520}, nil},
	}
	for _, entry := range seed {
		product := entry.product
		product.ID = xid.New("prd")
		product.Active = true
		product.CreatedAt = now
		product.UpdatedAt = now
		for _, batch := range entry.batches {
			batch.ID = xid.New("bat")
			batch.ProductID = product.ID
			batch.CreatedAt = now
			batch.UpdatedAt = now
			s.batches[batch.ID] = batch
		}
		if len(entry.batches) > 0 {
			inventory.Apply(&product, entry.batches)
		}
		s.products[product.ID] = product
	}

	s.customers["cus-seed"] = domain.Customer{
		ID: "cus-seed", DocumentType: domain.CustomerRUC, DocumentNumber: "20601234567",
		Name: "Bodega El Sol SAC", CreatedAt: now, UpdatedAt: now,
	}
	return s
}

func dateAt(now time.Time, days int) *time.Time {
	d := inventory.DateOnly(now).AddDate(0, 0, days)
	return &d
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	out := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		if !filter.IncludeInactive && !product.Active {
			continue
		}
		if filter.Category != "" && !strings.EqualFold(product.Category, filter.Category) {
			continue
		}
		if filter.LowStock && !inventory.IsLowStock(product) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(product.Name), search) &&
			!strings.Contains(strings.ToLower(product.Code), search) &&
			!strings.Contains(strings.ToLower(product.Brand), search) {
			continue
		}
		out = append(out, product)
	}
	slices.SortFunc(out, func(a, b domain.Product) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProductByCode(_ context.Context, code string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, product := range s.products {
		if strings.EqualFold(product.Code, code) {
			p := product
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := s.products[id]; ok {
			out[id] = product
		}
	}
	return out, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.codeTakenLocked(product.Code, "") {
		return nil, store.ErrDuplicateCode
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	s.products[product.ID] = product
	if product.CurrentStock > 0 {
		s.appendKardexLocked(domain.KardexEntry{
			ProductID:     product.ID,
			Type:          domain.MovementEntry,
			Quantity:      product.CurrentStock,
			StockAfter:    product.CurrentStock,
			UnitCostCents: product.CostCents,
			Notes:         "initial stock",
			CreatedAt:     product.CreatedAt,
		})
	}
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if s.codeTakenLocked(product.Code, product.ID) {
		return nil, store.ErrDuplicateCode
	}
	// stock and cost are derived; callers cannot overwrite them here
	product.CurrentStock = current.CurrentStock
	product.CostCents = current.CostCents
	product.CreatedAt = current.CreatedAt
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) AdjustStock(_ context.Context, productID string, qty int, meta domain.MovementMeta) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if len(s.productBatchesLocked(productID)) > 0 {
		return nil, fmt.Errorf("%w: product stock is managed by batches", store.ErrValidation)
	}
	before := product.CurrentStock
	product.CurrentStock = qty
	product.UpdatedAt = s.now().UTC()
	s.products[productID] = product
	s.appendKardexLocked(domain.KardexEntry{
		ProductID:     productID,
		Type:          domain.MovementAdjustment,
		Quantity:      qty - before,
		StockBefore:   before,
		StockAfter:    qty,
		UnitCostCents: product.CostCents,
		Reference:     meta.Reference,
		Notes:         meta.Notes,
		CreatedBy:     meta.CreatedBy,
		CreatedAt:     product.UpdatedAt,
	})
	return &product, nil
}

func (s *Store) ListCategories(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := map[string]struct{}{}
	for _, product := range s.products {
		if product.Category != "" && product.Active {
			set[product.Category] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for category := range set {
		out = append(out, category)
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) ListBatches(_ context.Context, productID string) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.products[productID]; !ok {
		return nil, store.ErrNotFound
	}
	batches := s.productBatchesLocked(productID)
	inventory.SortFEFO(batches)
	return batches, nil
}

func (s *Store) ListAllBatches(_ context.Context) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Batch, 0, len(s.batches))
	for _, batch := range s.batches {
		out = append(out, batch)
	}
	inventory.SortFEFO(out)
	return out, nil
}

func (s *Store) GetBatch(_ context.Context, id string) (*domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &batch, nil
}

func (s *Store) CreateBatch(_ context.Context, batch domain.Batch, meta domain.MovementMeta) (*domain.Batch, *domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[batch.ProductID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	existing := s.productBatchesLocked(batch.ProductID)
	if inventory.HasBatchNumber(existing, batch.BatchNumber, "") {
		return nil, nil, store.ErrDuplicateBatch
	}

	now := s.now().UTC()
	if opening, ok := inventory.OpeningBatch(product, existing, now.Add(-time.Millisecond)); ok {
		if strings.EqualFold(strings.TrimSpace(batch.BatchNumber), opening.BatchNumber) {
			return nil, nil, fmt.Errorf("%w: batch number %s is reserved for legacy stock", store.ErrValidation, opening.BatchNumber)
		}
		opening.ID = xid.New("bat")
		s.batches[opening.ID] = opening
	}

	if batch.ID == "" {
		batch.ID = xid.New("bat")
	}
	batch.CreatedAt = now
	batch.UpdatedAt = now
	s.batches[batch.ID] = batch

	before := product.CurrentStock
	updated := s.recomputeLocked(batch.ProductID, now)
	s.appendKardexLocked(domain.KardexEntry{
		ProductID:     batch.ProductID,
		BatchID:       batch.ID,
		Type:          domain.MovementEntry,
		Quantity:      batch.Quantity,
		StockBefore:   before,
		StockAfter:    updated.CurrentStock,
		UnitCostCents: batch.CostCents,
		Reference:     firstNonEmpty(meta.Reference, batch.BatchNumber),
		Notes:         meta.Notes,
		CreatedBy:     meta.CreatedBy,
		CreatedAt:     now,
	})
	return &batch, &updated, nil
}

func (s *Store) UpdateBatch(_ context.Context, batch domain.Batch, meta domain.MovementMeta) (*domain.Batch, *domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.batches[batch.ID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	batch.ProductID = current.ProductID
	if inventory.HasBatchNumber(s.productBatchesLocked(current.ProductID), batch.BatchNumber, batch.ID) {
		return nil, nil, store.ErrDuplicateBatch
	}
	product := s.products[current.ProductID]

	now := s.now().UTC()
	batch.CreatedAt = current.CreatedAt
	batch.UpdatedAt = now
	s.batches[batch.ID] = batch

	before := product.CurrentStock
	updated := s.recomputeLocked(batch.ProductID, now)
	if delta := batch.Quantity - current.Quantity; delta != 0 || batch.CostCents != current.CostCents {
		s.appendKardexLocked(domain.KardexEntry{
			ProductID:     batch.ProductID,
			BatchID:       batch.ID,
			Type:          domain.MovementAdjustment,
			Quantity:      delta,
			StockBefore:   before,
			StockAfter:    updated.CurrentStock,
			UnitCostCents: batch.CostCents,
			Reference:     firstNonEmpty(meta.Reference, batch.BatchNumber),
			Notes:         meta.Notes,
			CreatedBy:     meta.CreatedBy,
			CreatedAt:     now,
		})
	}
	return &batch, &updated, nil
}

func (s *Store) DeleteBatch(_ context.Context, id string, meta domain.MovementMeta) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	before := s.products[batch.ProductID].CurrentStock
	delete(s.batches, id)

	now := s.now().UTC()
	updated := s.recomputeLocked(batch.ProductID, now)
	s.appendKardexLocked(domain.KardexEntry{
		ProductID:     batch.ProductID,
		BatchID:       batch.ID,
		Type:          domain.MovementAdjustment,
		Quantity:      -batch.Quantity,
		StockBefore:   before,
		StockAfter:    updated.CurrentStock,
		UnitCostCents: batch.CostCents,
		Reference:     firstNonEmpty(meta.Reference, batch.BatchNumber),
		Notes:         meta.Notes,
		CreatedBy:     meta.CreatedBy,
		CreatedAt:     now,
	})
	return &updated, nil
}

func (s *Store) ListKardex(_ context.Context, productID string, limit int) ([]domain.KardexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.KardexEntry, 0)
	for i := len(s.kardex) - 1; i >= 0; i-- {
		entry := s.kardex[i]
		if productID != "" && entry.ProductID != productID {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Items) == 0 {
		return nil, fmt.Errorf("%w: sale has no items", store.ErrValidation)
	}
	session, ok := s.sessions[sale.SessionID]
	if !ok || session.Status != domain.SessionActive {
		return nil, store.ErrNoActiveSession
	}

	now := s.now().UTC()
	today := now

	// Check every line before touching anything so a short line aborts the whole sale.
	requested := map[string]int{}
	for _, item := range sale.Items {
		requested[item.ProductID] += item.Quantity
	}
	shortage := &store.StockShortageError{}
	plans := map[string][]inventory.Draw{}
	for _, productID := range orderedKeys(sale.Items) {
		product, ok := s.products[productID]
		if !ok || !product.Active {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
		}
		qty := requested[productID]
		batches := s.productBatchesLocked(productID)
		if len(batches) == 0 {
			if product.CurrentStock < qty {
				shortage.Lines = append(shortage.Lines, store.ShortageLine{ProductID: productID, Code: product.Code, Requested: qty, Available: product.CurrentStock})
			}
			continue
		}
		plan, err := inventory.ConsumePlan(batches, qty, today)
		if err != nil {
			shortage.Lines = append(shortage.Lines, store.ShortageLine{ProductID: productID, Code: product.Code, Requested: qty, Available: inventory.Sellable(batches, today)})
			continue
		}
		plans[productID] = plan
	}
	if len(shortage.Lines) > 0 {
		return nil, shortage
	}

	s.saleSeq++
	sale.Number = store.SaleNumber(s.saleSeq)
	if sale.ID == "" {
		sale.ID = xid.New("sal")
	}
	sale.Status = domain.SaleCompleted
	sale.CreatedAt = now

	for _, productID := range orderedKeys(sale.Items) {
		product := s.products[productID]
		qty := requested[productID]
		before := product.CurrentStock

		plan, batched := plans[productID]
		if !batched {
			product.CurrentStock -= qty
			product.UpdatedAt = now
			s.products[productID] = product
			s.appendKardexLocked(domain.KardexEntry{
				ProductID: productID, Type: domain.MovementExit, Quantity: -qty,
				StockBefore: before, StockAfter: product.CurrentStock, UnitCostCents: product.CostCents,
				Reference: sale.Number, CreatedBy: sale.CreatedBy, CreatedAt: now,
			})
			continue
		}

		stock := before
		for _, draw := range plan {
			batch := s.batches[draw.BatchID]
			if draw.Remaining == 0 {
				delete(s.batches, draw.BatchID)
			} else {
				batch.Quantity = draw.Remaining
				batch.UpdatedAt = now
				s.batches[draw.BatchID] = batch
			}
			s.appendKardexLocked(domain.KardexEntry{
				ProductID: productID, BatchID: draw.BatchID, Type: domain.MovementExit, Quantity: -draw.Quantity,
				StockBefore: stock, StockAfter: stock - draw.Quantity, UnitCostCents: draw.CostCents,
				Reference: sale.Number, CreatedBy: sale.CreatedBy, CreatedAt: now,
			})
			stock -= draw.Quantity
		}
		s.recomputeLocked(productID, now)
	}

	stored := cloneSale(&sale)
	s.sales[sale.ID] = stored
	return cloneSale(stored), nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && sale.CreatedAt.After(*filter.To) {
			continue
		}
		if filter.SessionID != "" && sale.SessionID != filter.SessionID {
			continue
		}
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		out = append(out, *cloneSale(sale))
	}
	slices.SortFunc(out, func(a, b domain.Sale) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.Number, a.Number)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) VoidSale(_ context.Context, id string, reason string, voidedBy string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Status == domain.SaleVoided {
		return nil, store.ErrSaleVoided
	}

	at = at.UTC()
	for _, item := range sale.Items {
		product, ok := s.products[item.ProductID]
		if !ok {
			continue
		}
		before := product.CurrentStock
		batches := s.productBatchesLocked(item.ProductID)
		if len(batches) == 0 && !s.hadBatchesLocked(item.ProductID) {
			product.CurrentStock += item.Quantity
			product.UpdatedAt = at
			s.products[item.ProductID] = product
			s.appendKardexLocked(domain.KardexEntry{
				ProductID: item.ProductID, Type: domain.MovementEntry, Quantity: item.Quantity,
				StockBefore: before, StockAfter: product.CurrentStock, UnitCostCents: product.CostCents,
				Reference: sale.Number, Notes: "void: " + reason, CreatedBy: voidedBy, CreatedAt: at,
			})
			continue
		}

		number := inventory.ReturnBatchPrefix + sale.Number
		var restock domain.Batch
		found := false
		for _, batch := range batches {
			if strings.EqualFold(batch.BatchNumber, number) {
				restock, found = batch, true
				break
			}
		}
		if found {
			restock.Quantity += item.Quantity
			restock.UpdatedAt = at
		} else {
			restock = domain.Batch{
				ID: xid.New("bat"), ProductID: item.ProductID, BatchNumber: number,
				Quantity: item.Quantity, CostCents: item.UnitCostCents, CreatedAt: at, UpdatedAt: at,
			}
		}
		s.batches[restock.ID] = restock
		updated := s.recomputeLocked(item.ProductID, at)
		s.appendKardexLocked(domain.KardexEntry{
			ProductID: item.ProductID, BatchID: restock.ID, Type: domain.MovementEntry, Quantity: item.Quantity,
			StockBefore: before, StockAfter: updated.CurrentStock, UnitCostCents: item.UnitCostCents,
			Reference: sale.Number, Notes: "void: " + reason, CreatedBy: voidedBy, CreatedAt: at,
		})
	}

	sale.Status = domain.SaleVoided
	sale.VoidReason = reason
	sale.VoidedBy = voidedBy
	sale.VoidedAt = &at
	return cloneSale(sale), nil
}

func (s *Store) CreateCashSession(_ context.Context, session domain.CashSession) (*domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sessions {
		if existing.Status == domain.SessionActive {
			return nil, store.ErrSessionAlreadyActive
		}
	}
	s.sessions[session.ID] = session
	return &session, nil
}

func (s *Store) GetCashSession(_ context.Context, id string) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &session, nil
}

func (s *Store) GetActiveCashSession(_ context.Context) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.CashSession
	for _, session := range s.sessions {
		if session.Status != domain.SessionActive {
			continue
		}
		if latest == nil || session.StartTime.After(latest.StartTime) {
			current := session
			latest = &current
		}
	}
	if latest == nil {
		return nil, store.ErrNoActiveSession
	}
	return latest, nil
}

func (s *Store) CloseCashSession(_ context.Context, session domain.CashSession) (*domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[session.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if current.Status != domain.SessionActive {
		return nil, store.ErrSessionClosed
	}
	s.sessions[session.ID] = session
	return &session, nil
}

func (s *Store) ListCashSessions(_ context.Context, limit int) ([]domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CashSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	slices.SortFunc(out, func(a, b domain.CashSession) int { return b.StartTime.Compare(a.StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if filter.From != nil && entry.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && entry.CreatedAt.After(*filter.To) {
			continue
		}
		if filter.Actor != "" && entry.ActorUsername != filter.Actor {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if filter.EntityType != "" && entry.EntityType != filter.EntityType {
			continue
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListCustomers(_ context.Context, search string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search = strings.ToLower(strings.TrimSpace(search))
	out := make([]domain.Customer, 0, len(s.customers))
	for _, customer := range s.customers {
		if search != "" &&
			!strings.Contains(strings.ToLower(customer.Name), search) &&
			!strings.Contains(customer.DocumentNumber, search) {
			continue
		}
		out = append(out, customer)
	}
	slices.SortFunc(out, func(a, b domain.Customer) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.customers {
		if existing.DocumentNumber == customer.DocumentNumber {
			return nil, store.ErrDuplicateDocument
		}
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	s.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.customers[customer.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, existing := range s.customers {
		if existing.ID != customer.ID && existing.DocumentNumber == customer.DocumentNumber {
			return nil, store.ErrDuplicateDocument
		}
	}
	customer.CreatedAt = current.CreatedAt
	s.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.customers, id)
	return nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Supplier, 0, len(s.suppliers))
	for _, supplier := range s.suppliers {
		out = append(out, supplier)
	}
	slices.SortFunc(out, func(a, b domain.Supplier) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Store) GetSupplier(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, ok := s.suppliers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.supplierRUCTakenLocked(supplier.RUC, "") {
		return nil, store.ErrDuplicateDocument
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	s.suppliers[supplier.ID] = supplier
	return &supplier, nil
}

func (s *Store) UpdateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.suppliers[supplier.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if s.supplierRUCTakenLocked(supplier.RUC, supplier.ID) {
		return nil, store.ErrDuplicateDocument
	}
	supplier.CreatedAt = current.CreatedAt
	s.suppliers[supplier.ID] = supplier
	return &supplier, nil
}

func (s *Store) DeleteSupplier(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.suppliers[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.suppliers, id)
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	slices.SortFunc(out, func(a, b domain.UserAccount) int { return strings.Compare(a.Username, b.Username) })
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return nil, store.ErrDuplicateUser
	}
	s.users[user.Username] = user
	return &user, nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[user.Username]
	if !ok {
		return nil, store.ErrNotFound
	}
	user.CreatedAt = current.CreatedAt
	s.users[user.Username] = user
	return &user, nil
}

func (s *Store) GetSettings(_ context.Context) (domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Store) SaveSettings(_ context.Context, settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return nil
}

func (s *Store) productBatchesLocked(productID string) []domain.Batch {
	out := make([]domain.Batch, 0, 4)
	for _, batch := range s.batches {
		if batch.ProductID == productID {
			out = append(out, batch)
		}
	}
	slices.SortFunc(out, func(a, b domain.Batch) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// hadBatchesLocked reports whether kardex shows batch movements for the product, so a
// product whose batches were all sold keeps being batch managed.
func (s *Store) hadBatchesLocked(productID string) bool {
	for _, entry := range s.kardex {
		if entry.ProductID == productID && entry.BatchID != "" {
			return true
		}
	}
	return false
}

func (s *Store) recomputeLocked(productID string, now time.Time) domain.Product {
	product := s.products[productID]
	inventory.Apply(&product, s.productBatchesLocked(productID))
	product.UpdatedAt = now
	s.products[productID] = product
	return product
}

func (s *Store) appendKardexLocked(entry domain.KardexEntry) {
	if entry.ID == "" {
		entry.ID = xid.New("kdx")
	}
	s.kardex = append(s.kardex, entry)
}

func (s *Store) codeTakenLocked(code string, exceptID string) bool {
	for _, product := range s.products {
		if product.ID != exceptID && strings.EqualFold(product.Code, code) {
			return true
		}
	}
	return false
}

func (s *Store) supplierRUCTakenLocked(ruc string, exceptID string) bool {
	if ruc == "" {
		return false
	}
	for _, supplier := range s.suppliers {
		if supplier.ID != exceptID && supplier.RUC == ruc {
			return true
		}
	}
	return false
}

// orderedKeys returns the distinct product ids of items in cart order.
func orderedKeys(items []domain.SaleItem) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		out = append(out, item.ProductID)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Items = slices.Clone(src.Items)
	return &dup
}
