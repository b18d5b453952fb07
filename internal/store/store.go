package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"minimarket/backend/internal/domain"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrValidation           = errors.New("validation failed")
	ErrForbidden            = errors.New("forbidden")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrDuplicateCode        = errors.New("product code already exists")
	ErrDuplicateBatch       = errors.New("batch number already exists for this product")
	ErrDuplicateDocument    = errors.New("document number already registered")
	ErrDuplicateUser        = errors.New("username already exists")
	ErrNoActiveSession      = errors.New("no active cash session")
	ErrSessionAlreadyActive = errors.New("a cash session is already active")
	ErrSessionClosed        = errors.New("cash session is closed")
	ErrSaleVoided           = errors.New("sale is already voided")
)

// ShortageLine is one cart line that cannot be served from stock.
type ShortageLine struct {
	ProductID string
	Code      string
	Requested int
	Available int
}

// StockShortageError lists every short line of a checkout. It matches ErrInsufficientStock.
type StockShortageError struct {
	Lines []ShortageLine
}

func (e *StockShortageError) Error() string {
	parts := make([]string, 0, len(e.Lines))
	for _, line := range e.Lines {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", line.Code, line.Requested, line.Available))
	}
	return ErrInsufficientStock.Error() + ": " + strings.Join(parts, "; ")
}

func (e *StockShortageError) Unwrap() error {
	return ErrInsufficientStock
}

type Repository interface {
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductByCode(ctx context.Context, code string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	// AdjustStock overwrites the legacy stock of a product that has no batches.
	AdjustStock(ctx context.Context, productID string, qty int, meta domain.MovementMeta) (*domain.Product, error)
	ListCategories(ctx context.Context) ([]string, error)

	ListBatches(ctx context.Context, productID string) ([]domain.Batch, error)
	ListAllBatches(ctx context.Context) ([]domain.Batch, error)
	GetBatch(ctx context.Context, id string) (*domain.Batch, error)
	// Batch mutations recompute the owning product and append a kardex entry atomically.
	CreateBatch(ctx context.Context, batch domain.Batch, meta domain.MovementMeta) (*domain.Batch, *domain.Product, error)
	UpdateBatch(ctx context.Context, batch domain.Batch, meta domain.MovementMeta) (*domain.Batch, *domain.Product, error)
	DeleteBatch(ctx context.Context, id string, meta domain.MovementMeta) (*domain.Product, error)
	ListKardex(ctx context.Context, productID string, limit int) ([]domain.KardexEntry, error)

	// CreateSale assigns the sale number, consumes stock and writes kardex exits in one
	// unit. It fails with *StockShortageError when any line cannot be served.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	VoidSale(ctx context.Context, id string, reason string, voidedBy string, at time.Time) (*domain.Sale, error)

	CreateCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error)
	GetCashSession(ctx context.Context, id string) (*domain.CashSession, error)
	GetActiveCashSession(ctx context.Context) (*domain.CashSession, error)
	CloseCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error)
	ListCashSessions(ctx context.Context, limit int) ([]domain.CashSession, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error)

	ListCustomers(ctx context.Context, search string) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error

	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	GetSupplier(ctx context.Context, id string) (*domain.Supplier, error)
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	UpdateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	DeleteSupplier(ctx context.Context, id string) error

	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	UpdateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)

	GetSettings(ctx context.Context) (domain.Settings, error)
	SaveSettings(ctx context.Context, settings domain.Settings) error
}

// SaleNumber formats the human facing sale number from its sequence value.
func SaleNumber(seq int64) string {
	return fmt.Sprintf("V-%08d", seq)
}
