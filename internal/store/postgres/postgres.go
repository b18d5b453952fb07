package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/inventory"
	"minimarket/backend/internal/store"
	"minimarket/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

const (
	productColumns = `id, code, name, category, brand, current_stock, cost_cents, price_cents,
		min_stock, max_stock, expiration_date, image_url, active, created_at, updated_at`
	batchColumns = `id, product_id, batch_number, quantity, cost_cents, purchase_date, supplier,
		expiration_date, created_at, updated_at`
	saleColumns = `id, number, session_id, payment_method, operation_number,
		COALESCE(customer_id, '') AS customer_id, document_type, total_cents, cash_received_cents,
		change_cents, status, void_reason, voided_by, voided_at, created_by, created_at`
	sessionColumns = `id, start_amount_cents, current_amount_cents, status, start_time, end_time,
		total_sales_cents, sales_count, cash_sales_cents, expected_cash_cents, counted_cash_cents,
		difference_cents, opened_by, closed_by, notes`
	kardexColumns = `id, product_id, batch_id, type, quantity, stock_before, stock_after,
		unit_cost_cents, reference, notes, created_by, created_at`
	customerColumns = `id, document_type, document_number, name, phone, email, address, created_at, updated_at`
	supplierColumns = `id, ruc, name, contact, phone, email, address, created_at, updated_at`
	userColumns     = `username, password_hash, role, full_name, active, created_at`
)

type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates missing tables and indexes. Statements are idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: apply schema: %w", err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, isolation sql.IsolationLevel, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: isolation})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	conditions := []string{"1 = 1"}
	args := map[string]any{}
	if !filter.IncludeInactive {
		conditions = append(conditions, "active = true")
	}
	if filter.Category != "" {
		conditions = append(conditions, "lower(category) = lower(:category)")
		args["category"] = filter.Category
	}
	if filter.LowStock {
		conditions = append(conditions, "current_stock <= min_stock")
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		conditions = append(conditions, "(name ILIKE :search OR code ILIKE :search OR brand ILIKE :search)")
		args["search"] = "%" + search + "%"
	}

	query := `SELECT ` + productColumns + ` FROM products WHERE ` + strings.Join(conditions, " AND ") + ` ORDER BY name`
	query, bound, err := sqlx.Named(query, args)
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, 64)
	if err := s.db.SelectContext(ctx, &products, s.db.Rebind(query), bound...); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &product, nil
}

func (s *Store) GetProductByCode(ctx context.Context, code string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE lower(code) = lower($1)`, code)
	if err != nil {
		return nil, notFound(err)
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT `+productColumns+` FROM products WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var products []domain.Product
	if err := s.db.SelectContext(ctx, &products, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, product := range products {
		out[product.ID] = product
	}
	return out, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	product.ExpirationDate = dateOnly(product.ExpirationDate)
	err := s.withTx(ctx, sql.LevelReadCommitted, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO products (`+productColumns+`)
			VALUES (:id, :code, :name, :category, :brand, :current_stock, :cost_cents, :price_cents,
				:min_stock, :max_stock, :expiration_date, :image_url, :active, :created_at, :updated_at)
		`, product)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrDuplicateCode
			}
			return err
		}
		if product.CurrentStock > 0 {
			return insertKardex(ctx, tx, domain.KardexEntry{
				ProductID:     product.ID,
				Type:          domain.MovementEntry,
				Quantity:      product.CurrentStock,
				StockAfter:    product.CurrentStock,
				UnitCostCents: product.CostCents,
				Notes:         "initial stock",
				CreatedAt:     product.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.ExpirationDate = dateOnly(product.ExpirationDate)
	var updated domain.Product
	err := s.db.GetContext(ctx, &updated, `
		UPDATE products
		SET code = $2, name = $3, category = $4, brand = $5, price_cents = $6, min_stock = $7,
			max_stock = $8, expiration_date = $9, image_url = $10, active = $11, updated_at = $12
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.Code, product.Name, product.Category, product.Brand, product.PriceCents,
		product.MinStock, product.MaxStock, product.ExpirationDate, product.ImageURL, product.Active, product.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateCode
		}
		return nil, notFound(err)
	}
	return &updated, nil
}

func (s *Store) AdjustStock(ctx context.Context, productID string, qty int, meta domain.MovementMeta) (*domain.Product, error) {
	var product domain.Product
	err := s.withTx(ctx, sql.LevelSerializable, func(tx *sqlx.Tx) error {
		current, err := lockProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		var batchCount int
		if err := tx.GetContext(ctx, &batchCount, `SELECT count(*) FROM batches WHERE product_id = $1`, productID); err != nil {
			return err
		}
		if batchCount > 0 {
			return fmt.Errorf("%w: product stock is managed by batches", store.ErrValidation)
		}
		now := s.now().UTC()
		if err := tx.GetContext(ctx, &product, `
			UPDATE products SET current_stock = $2, updated_at = $3 WHERE id = $1 RETURNING `+productColumns,
			productID, qty, now,
		); err != nil {
			return err
		}
		return insertKardex(ctx, tx, domain.KardexEntry{
			ProductID:     productID,
			Type:          domain.MovementAdjustment,
			Quantity:      qty - current.CurrentStock,
			StockBefore:   current.CurrentStock,
			StockAfter:    qty,
			UnitCostCents: current.CostCents,
			Reference:     meta.Reference,
			Notes:         meta.Notes,
			CreatedBy:     meta.CreatedBy,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]string, error) {
	categories := make([]string, 0, 16)
	err := s.db.SelectContext(ctx, &categories, `
		SELECT DISTINCT category FROM products WHERE active = true AND category <> '' ORDER BY category
	`)
	return categories, err
}

func (s *Store) ListBatches(ctx context.Context, productID string) ([]domain.Batch, error) {
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	batches := make([]domain.Batch, 0, 8)
	err := s.db.SelectContext(ctx, &batches, `
		SELECT `+batchColumns+` FROM batches WHERE product_id = $1
		ORDER BY expiration_date ASC NULLS LAST, purchase_date ASC NULLS LAST, created_at, id
	`, productID)
	return batches, err
}

func (s *Store) ListAllBatches(ctx context.Context) ([]domain.Batch, error) {
	batches := make([]domain.Batch, 0, 64)
	err := s.db.SelectContext(ctx, &batches, `
		SELECT `+batchColumns+` FROM batches
		ORDER BY expiration_date ASC NULLS LAST, purchase_date ASC NULLS LAST, created_at, id
	`)
	return batches, err
}

func (s *Store) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	var batch domain.Batch
	if err := s.db.GetContext(ctx, &batch, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &batch, nil
}

func (s *Store) CreateBatch(ctx context.Context, batch domain.Batch, meta domain.MovementMeta) (*domain.Batch, *domain.Product, error) {
	var updated domain.Product
	err := s.withTx(ctx, sql.LevelSerializable, func(tx *sqlx.Tx) error {
		product, err := lockProduct(ctx, tx, batch.ProductID)
		if err != nil {
			return err
		}
		existing, err := productBatches(ctx, tx, batch.ProductID)
		if err != nil {
			return err
		}
		if inventory.HasBatchNumber(existing, batch.BatchNumber, "") {
			return store.ErrDuplicateBatch
		}

		now := s.now().UTC()
		if opening, ok := inventory.OpeningBatch(*product, existing, now.Add(-time.Millisecond)); ok {
			if strings.EqualFold(strings.TrimSpace(batch.BatchNumber), opening.BatchNumber) {
				return fmt.Errorf("%w: batch number %s is reserved for legacy stock", store.ErrValidation, opening.BatchNumber)
			}
			opening.ID = xid.New("bat")
			if err := insertBatch(ctx, tx, opening); err != nil {
				return err
			}
		}

		if batch.ID == "" {
			batch.ID = xid.New("bat")
		}
		batch.CreatedAt = now
		batch.UpdatedAt = now
		if err := insertBatch(ctx, tx, batch); err != nil {
			return err
		}

		updated, err = recompute(ctx, tx, batch.ProductID, now)
		if err != nil {
			return err
		}
		return insertKardex(ctx, tx, domain.KardexEntry{
			ProductID:     batch.ProductID,
			BatchID:       batch.ID,
			Type:          domain.MovementEntry,
			Quantity:      batch.Quantity,
			StockBefore:   product.CurrentStock,
			StockAfter:    updated.CurrentStock,
			UnitCostCents: batch.CostCents,
			Reference:     firstNonEmpty(meta.Reference, batch.BatchNumber),
			Notes:         meta.Notes,
			CreatedBy:     meta.CreatedBy,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return &batch, &updated, nil
}

func (s *Store) UpdateBatch(ctx context.Context, batch domain.Batch, meta domain.MovementMeta) (*domain.Batch, *domain.Product, error) {
	var updated domain.Product
	err := s.withTx(ctx, sql.LevelSerializable, func(tx *sqlx.Tx) error {
		var current domain.Batch
		if err := tx.GetContext(ctx, &current, `SELECT `+batchColumns+` FROM batches WHERE id = $1 FOR UPDATE`, batch.ID); err != nil {
			return notFound(err)
		}
		product, err := lockProduct(ctx, tx, current.ProductID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		batch.ProductID = current.ProductID
		batch.CreatedAt = current.CreatedAt
		batch.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			UPDATE batches
			SET batch_number = $2, quantity = $3, cost_cents = $4, purchase_date = $5, supplier = $6,
				expiration_date = $7, updated_at = $8
			WHERE id = $1
		`, batch.ID, batch.BatchNumber, batch.Quantity, batch.CostCents, dateOnly(batch.PurchaseDate),
			batch.Supplier, dateOnly(batch.ExpirationDate), now)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrDuplicateBatch
			}
			return err
		}

		updated, err = recompute(ctx, tx, batch.ProductID, now)
		if err != nil {
			return err
		}
		delta := batch.Quantity - current.Quantity
		if delta == 0 && batch.CostCents == current.CostCents {
			return nil
		}
		return insertKardex(ctx, tx, domain.KardexEntry{
			ProductID:     batch.ProductID,
			BatchID:       batch.ID,
			Type:          domain.MovementAdjustment,
			Quantity:      delta,
			StockBefore:   product.CurrentStock,
			StockAfter:    updated.CurrentStock,
			UnitCostCents: batch.CostCents,
			Reference:     firstNonEmpty(meta.Reference, batch.BatchNumber),
			Notes:         meta.Notes,
			CreatedBy:     meta.CreatedBy,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return &batch, &updated, nil
}

func (s *Store) DeleteBatch(ctx context.Context, id string, meta domain.MovementMeta) (*domain.Product, error) {
	var updated domain.Product
	err := s.withTx(ctx, sql.LevelSerializable, func(tx *sqlx.Tx) error {
		var batch domain.Batch
		if err := tx.GetContext(ctx, &batch, `SELECT `+batchColumns+` FROM batches WHERE id = $1 FOR UPDATE`, id); err != nil {
			return notFound(err)
		}
		product, err := lockProduct(ctx, tx, batch.ProductID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM batches WHERE id = $1`, id); err != nil {
			return err
		}
		now := s.now().UTC()
		updated, err = recompute(ctx, tx, batch.ProductID, now)
		if err != nil {
			return err
		}
		return insertKardex(ctx, tx, domain.KardexEntry{
			ProductID:     batch.ProductID,
			BatchID:       batch.ID,
			Type:          domain.MovementAdjustment,
			Quantity:      -batch.Quantity,
			StockBefore:   product.CurrentStock,
			StockAfter:    updated.CurrentStock,
			UnitCostCents: batch.CostCents,
			Reference:     firstNonEmpty(meta.Reference, batch.BatchNumber),
			Notes:         meta.Notes,
			CreatedBy:     meta.CreatedBy,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) ListKardex(ctx context.Context, productID string, limit int) ([]domain.KardexEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	entries := make([]domain.KardexEntry, 0, limit)
	var err error
	if productID == "" {
		err = s.db.SelectContext(ctx, &entries, `
			SELECT `+kardexColumns+` FROM kardex ORDER BY created_at DESC, id DESC LIMIT $1
		`, limit)
	} else {
		err = s.db.SelectContext(ctx, &entries, `
			SELECT `+kardexColumns+` FROM kardex WHERE product_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2
		`, productID, limit)
	}
	return entries, err
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, fmt.Errorf("%w: sale has no items", store.ErrValidation)
	}

	err := s.withTx(ctx, sql.LevelSerializable, func(tx *sqlx.Tx) error {
		var status string
		err := tx.GetContext(ctx, &status, `SELECT status FROM cash_sessions WHERE id = $1 FOR SHARE`, sale.SessionID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && status != domain.SessionActive) {
			return store.ErrNoActiveSession
		}
		if err != nil {
			return err
		}

		ids := uniqueProductIDs(sale.Items)
		products := make([]domain.Product, 0, len(ids))
		if err := tx.SelectContext(ctx, &products, `
			SELECT `+productColumns+` FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE
		`, ids); err != nil {
			return err
		}
		productByID := make(map[string]domain.Product, len(products))
		for _, product := range products {
			productByID[product.ID] = product
		}

		batches := make([]domain.Batch, 0, len(ids)*2)
		if err := tx.SelectContext(ctx, &batches, `
			SELECT `+batchColumns+` FROM batches WHERE product_id = ANY($1) ORDER BY id FOR UPDATE
		`, ids); err != nil {
			return err
		}
		batchesByProduct := make(map[string][]domain.Batch, len(ids))
		for _, batch := range batches {
			batchesByProduct[batch.ProductID] = append(batchesByProduct[batch.ProductID], batch)
		}

		now := s.now().UTC()
		requested := map[string]int{}
		for _, item := range sale.Items {
			requested[item.ProductID] += item.Quantity
		}
		shortage := &store.StockShortageError{}
		plans := map[string][]inventory.Draw{}
		for _, id := range ids {
			product, ok := productByID[id]
			if !ok || !product.Active {
				return fmt.Errorf("%w: product %s", store.ErrNotFound, id)
			}
			owned := batchesByProduct[id]
			if len(owned) == 0 {
				if product.CurrentStock < requested[id] {
					shortage.Lines = append(shortage.Lines, store.ShortageLine{ProductID: id, Code: product.Code, Requested: requested[id], Available: product.CurrentStock})
				}
				continue
			}
			plan, err := inventory.ConsumePlan(owned, requested[id], now)
			if err != nil {
				shortage.Lines = append(shortage.Lines, store.ShortageLine{ProductID: id, Code: product.Code, Requested: requested[id], Available: inventory.Sellable(owned, now)})
				continue
			}
			plans[id] = plan
		}
		if len(shortage.Lines) > 0 {
			return shortage
		}

		var seq int64
		if err := tx.GetContext(ctx, &seq, `SELECT nextval('sale_number_seq')`); err != nil {
			return err
		}
		sale.Number = store.SaleNumber(seq)
		if sale.ID == "" {
			sale.ID = xid.New("sal")
		}
		sale.Status = domain.SaleCompleted
		sale.CreatedAt = now

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sales (
				id, number, session_id, payment_method, operation_number, customer_id, document_type,
				total_cents, cash_received_cents, change_cents, status, created_by, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, sale.ID, sale.Number, sale.SessionID, sale.PaymentMethod, sale.OperationNumber, nullIfEmpty(sale.CustomerID),
			sale.DocumentType, sale.TotalCents, sale.CashReceivedCents, sale.ChangeCents, sale.Status, sale.CreatedBy, sale.CreatedAt,
		); err != nil {
			return err
		}
		for i, item := range sale.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sale_items (
					sale_id, line_no, product_id, product_code, product_name, unit_price_cents,
					unit_cost_cents, quantity, line_total_cents
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, sale.ID, i+1, item.ProductID, item.ProductCode, item.ProductName, item.UnitPriceCents,
				item.UnitCostCents, item.Quantity, item.LineTotalCents,
			); err != nil {
				return err
			}
		}

		for _, id := range ids {
			product := productByID[id]
			plan, batched := plans[id]
			if !batched {
				after := product.CurrentStock - requested[id]
				if _, err := tx.ExecContext(ctx, `
					UPDATE products SET current_stock = $2, updated_at = $3 WHERE id = $1
				`, id, after, now); err != nil {
					return err
				}
				if err := insertKardex(ctx, tx, domain.KardexEntry{
					ProductID: id, Type: domain.MovementExit, Quantity: -requested[id],
					StockBefore: product.CurrentStock, StockAfter: after, UnitCostCents: product.CostCents,
					Reference: sale.Number, CreatedBy: sale.CreatedBy, CreatedAt: now,
				}); err != nil {
					return err
				}
				continue
			}

			stock := product.CurrentStock
			for _, draw := range plan {
				if draw.Remaining == 0 {
					_, err = tx.ExecContext(ctx, `DELETE FROM batches WHERE id = $1`, draw.BatchID)
				} else {
					_, err = tx.ExecContext(ctx, `UPDATE batches SET quantity = $2, updated_at = $3 WHERE id = $1`, draw.BatchID, draw.Remaining, now)
				}
				if err != nil {
					return err
				}
				if err := insertKardex(ctx, tx, domain.KardexEntry{
					ProductID: id, BatchID: draw.BatchID, Type: domain.MovementExit, Quantity: -draw.Quantity,
					StockBefore: stock, StockAfter: stock - draw.Quantity, UnitCostCents: draw.CostCents,
					Reference: sale.Number, CreatedBy: sale.CreatedBy, CreatedAt: now,
				}); err != nil {
					return err
				}
				stock -= draw.Quantity
			}
			if _, err := recompute(ctx, tx, id, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	if err := s.db.GetContext(ctx, &sale, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	items, err := s.saleItems(ctx, s.db, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Items = items[sale.ID]
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	conditions := []string{"1 = 1"}
	args := map[string]any{}
	if filter.From != nil {
		conditions = append(conditions, "created_at >= :from")
		args["from"] = *filter.From
	}
	if filter.To != nil {
		conditions = append(conditions, "created_at <= :to")
		args["to"] = *filter.To
	}
	if filter.SessionID != "" {
		conditions = append(conditions, "session_id = :session_id")
		args["session_id"] = filter.SessionID
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = :status")
		args["status"] = filter.Status
	}
	query := `SELECT ` + saleColumns + ` FROM sales WHERE ` + strings.Join(conditions, " AND ") + ` ORDER BY created_at DESC, number DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	query, bound, err := sqlx.Named(query, args)
	if err != nil {
		return nil, err
	}

	sales := make([]domain.Sale, 0, 64)
	if err := s.db.SelectContext(ctx, &sales, s.db.Rebind(query), bound...); err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return sales, nil
	}
	ids := make([]string, 0, len(sales))
	for _, sale := range sales {
		ids = append(ids, sale.ID)
	}
	items, err := s.saleItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = items[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) saleItems(ctx context.Context, q sqlx.QueryerContext, saleIDs []string) (map[string][]domain.SaleItem, error) {
	rows := []struct {
		SaleID string `db:"sale_id"`
		domain.SaleItem
	}{}
	if err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT sale_id, product_id, product_code, product_name, unit_price_cents, unit_cost_cents,
			quantity, line_total_cents
		FROM sale_items WHERE sale_id = ANY($1) ORDER BY sale_id, line_no
	`, saleIDs); err != nil {
		return nil, err
	}
	out := make(map[string][]domain.SaleItem, len(saleIDs))
	for _, row := range rows {
		out[row.SaleID] = append(out[row.SaleID], row.SaleItem)
	}
	return out, nil
}

func (s *Store) VoidSale(ctx context.Context, id string, reason string, voidedBy string, at time.Time) (*domain.Sale, error) {
	var sale domain.Sale
	at = at.UTC()
	err := s.withTx(ctx, sql.LevelSerializable, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &sale, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id); err != nil {
			return notFound(err)
		}
		if sale.Status == domain.SaleVoided {
			return store.ErrSaleVoided
		}
		items, err := s.saleItems(ctx, tx, []string{id})
		if err != nil {
			return err
		}
		sale.Items = items[id]

		for _, item := range sale.Items {
			product, err := lockProduct(ctx, tx, item.ProductID)
			if err != nil {
				return err
			}
			owned, err := productBatches(ctx, tx, item.ProductID)
			if err != nil {
				return err
			}
			var hadBatches bool
			if err := tx.GetContext(ctx, &hadBatches, `
				SELECT EXISTS (SELECT 1 FROM kardex WHERE product_id = $1 AND batch_id <> '')
			`, item.ProductID); err != nil {
				return err
			}

			if len(owned) == 0 && !hadBatches {
				after := product.CurrentStock + item.Quantity
				if _, err := tx.ExecContext(ctx, `UPDATE products SET current_stock = $2, updated_at = $3 WHERE id = $1`, item.ProductID, after, at); err != nil {
					return err
				}
				if err := insertKardex(ctx, tx, domain.KardexEntry{
					ProductID: item.ProductID, Type: domain.MovementEntry, Quantity: item.Quantity,
					StockBefore: product.CurrentStock, StockAfter: after, UnitCostCents: product.CostCents,
					Reference: sale.Number, Notes: "void: " + reason, CreatedBy: voidedBy, CreatedAt: at,
				}); err != nil {
					return err
				}
				continue
			}

			batchID := xid.New("bat")
			if err := tx.GetContext(ctx, &batchID, `
				INSERT INTO batches (id, product_id, batch_number, quantity, cost_cents, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $6)
				ON CONFLICT (product_id, lower(batch_number))
				DO UPDATE SET quantity = batches.quantity + EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
				RETURNING id
			`, batchID, item.ProductID, inventory.ReturnBatchPrefix+sale.Number, item.Quantity, item.UnitCostCents, at); err != nil {
				return err
			}
			updated, err := recompute(ctx, tx, item.ProductID, at)
			if err != nil {
				return err
			}
			if err := insertKardex(ctx, tx, domain.KardexEntry{
				ProductID: item.ProductID, BatchID: batchID, Type: domain.MovementEntry, Quantity: item.Quantity,
				StockBefore: product.CurrentStock, StockAfter: updated.CurrentStock, UnitCostCents: item.UnitCostCents,
				Reference: sale.Number, Notes: "void: " + reason, CreatedBy: voidedBy, CreatedAt: at,
			}); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE sales SET status = $2, void_reason = $3, voided_by = $4, voided_at = $5 WHERE id = $1
		`, id, domain.SaleVoided, reason, voidedBy, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	sale.Status = domain.SaleVoided
	sale.VoidReason = reason
	sale.VoidedBy = voidedBy
	sale.VoidedAt = &at
	return &sale, nil
}

func (s *Store) CreateCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error) {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO cash_sessions (`+sessionColumns+`)
		VALUES (:id, :start_amount_cents, :current_amount_cents, :status, :start_time, :end_time,
			:total_sales_cents, :sales_count, :cash_sales_cents, :expected_cash_cents, :counted_cash_cents,
			:difference_cents, :opened_by, :closed_by, :notes)
	`, session)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrSessionAlreadyActive
		}
		return nil, err
	}
	return &session, nil
}

func (s *Store) GetCashSession(ctx context.Context, id string) (*domain.CashSession, error) {
	var session domain.CashSession
	if err := s.db.GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM cash_sessions WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

func (s *Store) GetActiveCashSession(ctx context.Context) (*domain.CashSession, error) {
	var session domain.CashSession
	err := s.db.GetContext(ctx, &session, `
		SELECT `+sessionColumns+` FROM cash_sessions WHERE status = 'active' ORDER BY start_time DESC LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoActiveSession
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Store) CloseCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error) {
	result, err := s.db.NamedExecContext(ctx, `
		UPDATE cash_sessions
		SET status = :status, end_time = :end_time, current_amount_cents = :current_amount_cents,
			total_sales_cents = :total_sales_cents, sales_count = :sales_count,
			cash_sales_cents = :cash_sales_cents, expected_cash_cents = :expected_cash_cents,
			counted_cash_cents = :counted_cash_cents, difference_cents = :difference_cents,
			closed_by = :closed_by, notes = :notes
		WHERE id = :id AND status = 'active'
	`, session)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := s.GetCashSession(ctx, session.ID); err != nil {
			return nil, err
		}
		return nil, store.ErrSessionClosed
	}
	return &session, nil
}

func (s *Store) ListCashSessions(ctx context.Context, limit int) ([]domain.CashSession, error) {
	if limit <= 0 {
		limit = 50
	}
	sessions := make([]domain.CashSession, 0, limit)
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT `+sessionColumns+` FROM cash_sessions ORDER BY start_time DESC LIMIT $1
	`, limit)
	return sessions, err
}

type auditRow struct {
	domain.AuditLog
	BeforeData sql.NullString `db:"before_data"`
	AfterData  sql.NullString `db:"after_data"`
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, entity_name, details,
			before_data, after_data, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb, $11)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID,
		entry.EntityName, entry.Details, nullJSON(entry.Before), nullJSON(entry.After), entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	conditions := []string{"1 = 1"}
	args := map[string]any{}
	if filter.From != nil {
		conditions = append(conditions, "created_at >= :from")
		args["from"] = *filter.From
	}
	if filter.To != nil {
		conditions = append(conditions, "created_at <= :to")
		args["to"] = *filter.To
	}
	if filter.Actor != "" {
		conditions = append(conditions, "actor_username = :actor")
		args["actor"] = filter.Actor
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = :action")
		args["action"] = filter.Action
	}
	if filter.EntityType != "" {
		conditions = append(conditions, "entity_type = :entity_type")
		args["entity_type"] = filter.EntityType
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query := fmt.Sprintf(`
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, entity_name, details,
			before_data::text AS before_data, after_data::text AS after_data, created_at
		FROM audit_logs WHERE %s ORDER BY created_at DESC, id DESC LIMIT %d
	`, strings.Join(conditions, " AND "), limit)
	query, bound, err := sqlx.Named(query, args)
	if err != nil {
		return nil, err
	}

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), bound...); err != nil {
		return nil, err
	}
	out := make([]domain.AuditLog, 0, len(rows))
	for _, row := range rows {
		entry := row.AuditLog
		if row.BeforeData.Valid {
			entry.Before = json.RawMessage(row.BeforeData.String)
		}
		if row.AfterData.Valid {
			entry.After = json.RawMessage(row.AfterData.String)
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Store) ListCustomers(ctx context.Context, search string) ([]domain.Customer, error) {
	customers := make([]domain.Customer, 0, 32)
	search = strings.TrimSpace(search)
	if search == "" {
		err := s.db.SelectContext(ctx, &customers, `SELECT `+customerColumns+` FROM customers ORDER BY name`)
		return customers, err
	}
	err := s.db.SelectContext(ctx, &customers, `
		SELECT `+customerColumns+` FROM customers
		WHERE name ILIKE $1 OR document_number LIKE $1
		ORDER BY name
	`, "%"+search+"%")
	return customers, err
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var customer domain.Customer
	if err := s.db.GetContext(ctx, &customer, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &customer, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES (:id, :document_type, :document_number, :name, :phone, :email, :address, :created_at, :updated_at)
	`, customer)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateDocument
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	var updated domain.Customer
	err := s.db.GetContext(ctx, &updated, `
		UPDATE customers
		SET document_type = $2, document_number = $3, name = $4, phone = $5, email = $6, address = $7, updated_at = $8
		WHERE id = $1
		RETURNING `+customerColumns,
		customer.ID, customer.DocumentType, customer.DocumentNumber, customer.Name, customer.Phone,
		customer.Email, customer.Address, customer.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateDocument
		}
		return nil, notFound(err)
	}
	return &updated, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	return deleteByID(ctx, s.db, `DELETE FROM customers WHERE id = $1`, id)
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	suppliers := make([]domain.Supplier, 0, 16)
	err := s.db.SelectContext(ctx, &suppliers, `SELECT `+supplierColumns+` FROM suppliers ORDER BY name`)
	return suppliers, err
}

func (s *Store) GetSupplier(ctx context.Context, id string) (*domain.Supplier, error) {
	var supplier domain.Supplier
	if err := s.db.GetContext(ctx, &supplier, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return &supplier, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO suppliers (`+supplierColumns+`)
		VALUES (:id, :ruc, :name, :contact, :phone, :email, :address, :created_at, :updated_at)
	`, supplier)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateDocument
		}
		return nil, err
	}
	return &supplier, nil
}

func (s *Store) UpdateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	var updated domain.Supplier
	err := s.db.GetContext(ctx, &updated, `
		UPDATE suppliers
		SET ruc = $2, name = $3, contact = $4, phone = $5, email = $6, address = $7, updated_at = $8
		WHERE id = $1
		RETURNING `+supplierColumns,
		supplier.ID, supplier.RUC, supplier.Name, supplier.Contact, supplier.Phone, supplier.Email,
		supplier.Address, supplier.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateDocument
		}
		return nil, notFound(err)
	}
	return &updated, nil
}

func (s *Store) DeleteSupplier(ctx context.Context, id string) error {
	return deleteByID(ctx, s.db, `DELETE FROM suppliers WHERE id = $1`, id)
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	if err := s.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE username = $1`, username); err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	users := make([]domain.UserAccount, 0, 8)
	err := s.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY username`)
	return users, err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (:username, :password_hash, :role, :full_name, :active, :created_at)
	`, user)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateUser
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) UpdateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	var updated domain.UserAccount
	err := s.db.GetContext(ctx, &updated, `
		UPDATE users SET password_hash = $2, role = $3, full_name = $4, active = $5
		WHERE username = $1
		RETURNING `+userColumns,
		user.Username, user.Password, user.Role, user.FullName, user.Active,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &updated, nil
}

func (s *Store) GetSettings(ctx context.Context) (domain.Settings, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, `SELECT data::text FROM settings WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.Settings{}, err
	}
	settings := domain.DefaultSettings()
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return domain.Settings{}, fmt.Errorf("postgres: decode settings: %w", err)
	}
	return settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings domain.Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (id, data, updated_at) VALUES (1, $1::jsonb, now())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`, string(raw))
	return err
}

func lockProduct(ctx context.Context, tx *sqlx.Tx, id string) (*domain.Product, error) {
	var product domain.Product
	if err := tx.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, notFound(err)
	}
	return &product, nil
}

func productBatches(ctx context.Context, tx *sqlx.Tx, productID string) ([]domain.Batch, error) {
	batches := make([]domain.Batch, 0, 8)
	err := tx.SelectContext(ctx, &batches, `
		SELECT `+batchColumns+` FROM batches WHERE product_id = $1 ORDER BY created_at, id FOR UPDATE
	`, productID)
	return batches, err
}

// recompute rewrites the product's derived stock and cost from its remaining batches.
func recompute(ctx context.Context, tx *sqlx.Tx, productID string, now time.Time) (domain.Product, error) {
	batches, err := productBatches(ctx, tx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	totals := inventory.Aggregate(batches)
	var product domain.Product
	err = tx.GetContext(ctx, &product, `
		UPDATE products SET current_stock = $2, cost_cents = $3, updated_at = $4
		WHERE id = $1
		RETURNING `+productColumns,
		productID, totals.Quantity, totals.CostCents, now,
	)
	return product, err
}

func insertBatch(ctx context.Context, tx *sqlx.Tx, batch domain.Batch) error {
	batch.PurchaseDate = dateOnly(batch.PurchaseDate)
	batch.ExpirationDate = dateOnly(batch.ExpirationDate)
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO batches (`+batchColumns+`)
		VALUES (:id, :product_id, :batch_number, :quantity, :cost_cents, :purchase_date, :supplier,
			:expiration_date, :created_at, :updated_at)
	`, batch)
	if isUniqueViolation(err) {
		return store.ErrDuplicateBatch
	}
	return err
}

func insertKardex(ctx context.Context, tx *sqlx.Tx, entry domain.KardexEntry) error {
	if entry.ID == "" {
		entry.ID = xid.New("kdx")
	}
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO kardex (`+kardexColumns+`)
		VALUES (:id, :product_id, :batch_id, :type, :quantity, :stock_before, :stock_after,
			:unit_cost_cents, :reference, :notes, :created_by, :created_at)
	`, entry)
	return err
}

func deleteByID(ctx context.Context, db *sqlx.DB, query string, id string) error {
	result, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func uniqueProductIDs(items []domain.SaleItem) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func dateOnly(val *time.Time) *time.Time {
	if val == nil {
		return nil
	}
	d := inventory.DateOnly(*val)
	return &d
}
