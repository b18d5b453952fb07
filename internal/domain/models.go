package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

const (
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
	RoleCashier    = "cashier"
)

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentYape     = "yape"
	PaymentPlin     = "plin"
	PaymentTransfer = "transfer"
)

const (
	DocumentBoleta  = "boleta"
	DocumentFactura = "factura"
)

const (
	SaleCompleted = "completed"
	SaleVoided    = "voided"
)

const (
	SessionActive = "active"
	SessionClosed = "closed"
)

const (
	MovementEntry      = "entry"
	MovementExit       = "exit"
	MovementAdjustment = "adjustment"
)

const (
	CustomerDNI = "DNI"
	CustomerRUC = "RUC"
	CustomerCE  = "CE"
)

type Product struct {
	ID             string     `json:"id" db:"id"`
	Code           string     `json:"code" db:"code"`
	Name           string     `json:"name" db:"name"`
	Category       string     `json:"category" db:"category"`
	Brand          string     `json:"brand" db:"brand"`
	CurrentStock   int        `json:"current_stock" db:"current_stock"`
	CostCents      int64      `json:"cost_cents" db:"cost_cents"`
	PriceCents     int64      `json:"price_cents" db:"price_cents"`
	MinStock       int        `json:"min_stock" db:"min_stock"`
	MaxStock       int        `json:"max_stock" db:"max_stock"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty" db:"expiration_date"`
	ImageURL       string     `json:"image_url,omitempty" db:"image_url"`
	Active         bool       `json:"active" db:"active"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

type ProductFilter struct {
	Search          string
	Category        string
	LowStock        bool
	IncludeInactive bool
}

type ProductCreateRequest struct {
	Code           string `json:"code" validate:"required,max=64"`
	Name           string `json:"name" validate:"required,max=200"`
	Category       string `json:"category" validate:"max=100"`
	Brand          string `json:"brand" validate:"max=100"`
	PriceCents     int64  `json:"price_cents" validate:"gte=0"`
	CostCents      int64  `json:"cost_cents" validate:"gte=0"`
	InitialStock   int    `json:"initial_stock" validate:"gte=0"`
	MinStock       int    `json:"min_stock" validate:"gte=0"`
	MaxStock       int    `json:"max_stock" validate:"gte=0"`
	ExpirationDate string `json:"expiration_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ImageURL       string `json:"image_url,omitempty" validate:"omitempty,url"`
}

type ProductUpdateRequest struct {
	Code           *string `json:"code,omitempty" validate:"omitempty,min=1,max=64"`
	Name           *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Category       *string `json:"category,omitempty" validate:"omitempty,max=100"`
	Brand          *string `json:"brand,omitempty" validate:"omitempty,max=100"`
	PriceCents     *int64  `json:"price_cents,omitempty" validate:"omitempty,gte=0"`
	MinStock       *int    `json:"min_stock,omitempty" validate:"omitempty,gte=0"`
	MaxStock       *int    `json:"max_stock,omitempty" validate:"omitempty,gte=0"`
	ExpirationDate *string `json:"expiration_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ImageURL       *string `json:"image_url,omitempty" validate:"omitempty,max=500"`
	Active         *bool   `json:"active,omitempty"`
}

type StockAdjustRequest struct {
	Quantity int    `json:"quantity" validate:"gte=0"`
	Notes    string `json:"notes" validate:"max=500"`
}

// ProductDetail is a product with its batches and the derived expiry view.
type ProductDetail struct {
	Product          Product    `json:"product"`
	Batches          []Batch    `json:"batches"`
	NearestExpiry    *time.Time `json:"nearest_expiration,omitempty"`
	ExpirationStatus string     `json:"expiration_status"`
}

type Batch struct {
	ID             string     `json:"id" db:"id"`
	ProductID      string     `json:"product_id" db:"product_id"`
	BatchNumber    string     `json:"batch_number" db:"batch_number"`
	Quantity       int        `json:"quantity" db:"quantity"`
	CostCents      int64      `json:"cost_cents" db:"cost_cents"`
	PurchaseDate   *time.Time `json:"purchase_date,omitempty" db:"purchase_date"`
	Supplier       string     `json:"supplier,omitempty" db:"supplier"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty" db:"expiration_date"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

type BatchCreateRequest struct {
	BatchNumber    string `json:"batch_number" validate:"max=64"`
	Quantity       int    `json:"quantity"`
	CostCents      int64  `json:"cost_cents"`
	PurchaseDate   string `json:"purchase_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Supplier       string `json:"supplier,omitempty" validate:"max=200"`
	ExpirationDate string `json:"expiration_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type BatchUpdateRequest struct {
	BatchNumber    *string `json:"batch_number,omitempty" validate:"omitempty,max=64"`
	Quantity       *int    `json:"quantity,omitempty"`
	CostCents      *int64  `json:"cost_cents,omitempty"`
	PurchaseDate   *string `json:"purchase_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Supplier       *string `json:"supplier,omitempty" validate:"omitempty,max=200"`
	ExpirationDate *string `json:"expiration_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// ExpiringBatch is a batch joined with the product it belongs to.
type ExpiringBatch struct {
	Batch       Batch  `json:"batch"`
	ProductCode string `json:"product_code"`
	ProductName string `json:"product_name"`
	Status      string `json:"status"`
	DaysLeft    int    `json:"days_left"`
}

// MovementMeta describes who caused a stock movement and why.
type MovementMeta struct {
	Reference string
	Notes     string
	CreatedBy string
}

type KardexEntry struct {
	ID            string    `json:"id" db:"id"`
	ProductID     string    `json:"product_id" db:"product_id"`
	BatchID       string    `json:"batch_id,omitempty" db:"batch_id"`
	Type          string    `json:"type" db:"type"`
	Quantity      int       `json:"quantity" db:"quantity"`
	StockBefore   int       `json:"stock_before" db:"stock_before"`
	StockAfter    int       `json:"stock_after" db:"stock_after"`
	UnitCostCents int64     `json:"unit_cost_cents" db:"unit_cost_cents"`
	Reference     string    `json:"reference,omitempty" db:"reference"`
	Notes         string    `json:"notes,omitempty" db:"notes"`
	CreatedBy     string    `json:"created_by" db:"created_by"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

type CartItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type CheckoutRequest struct {
	PaymentMethod     string     `json:"payment_method"`
	OperationNumber   string     `json:"operation_number,omitempty" validate:"max=64"`
	CustomerID        string     `json:"customer_id,omitempty"`
	DocumentType      string     `json:"document_type,omitempty"`
	CashReceivedCents int64      `json:"cash_received_cents" validate:"gte=0"`
	Items             []CartItem `json:"items" validate:"dive"`
}

type SaleItem struct {
	ProductID      string `json:"product_id" db:"product_id"`
	ProductCode    string `json:"product_code" db:"product_code"`
	ProductName    string `json:"product_name" db:"product_name"`
	UnitPriceCents int64  `json:"unit_price_cents" db:"unit_price_cents"`
	UnitCostCents  int64  `json:"unit_cost_cents" db:"unit_cost_cents"`
	Quantity       int    `json:"quantity" db:"quantity"`
	LineTotalCents int64  `json:"line_total_cents" db:"line_total_cents"`
}

type Sale struct {
	ID                string     `json:"id" db:"id"`
	Number            string     `json:"number" db:"number"`
	SessionID         string     `json:"session_id" db:"session_id"`
	PaymentMethod     string     `json:"payment_method" db:"payment_method"`
	OperationNumber   string     `json:"operation_number,omitempty" db:"operation_number"`
	CustomerID        string     `json:"customer_id,omitempty" db:"customer_id"`
	DocumentType      string     `json:"document_type" db:"document_type"`
	TotalCents        int64      `json:"total_cents" db:"total_cents"`
	CashReceivedCents int64      `json:"cash_received_cents" db:"cash_received_cents"`
	ChangeCents       int64      `json:"change_cents" db:"change_cents"`
	Status            string     `json:"status" db:"status"`
	VoidReason        string     `json:"void_reason,omitempty" db:"void_reason"`
	VoidedBy          string     `json:"voided_by,omitempty" db:"voided_by"`
	VoidedAt          *time.Time `json:"voided_at,omitempty" db:"voided_at"`
	CreatedBy         string     `json:"created_by" db:"created_by"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	Items             []SaleItem `json:"items" db:"-"`
}

type SaleFilter struct {
	From      *time.Time
	To        *time.Time
	SessionID string
	Status    string
	Limit     int
}

type VoidSaleRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type CashSession struct {
	ID                 string     `json:"id" db:"id"`
	StartAmountCents   int64      `json:"start_amount_cents" db:"start_amount_cents"`
	CurrentAmountCents int64      `json:"current_amount_cents" db:"current_amount_cents"`
	Status             string     `json:"status" db:"status"`
	StartTime          time.Time  `json:"start_time" db:"start_time"`
	EndTime            *time.Time `json:"end_time,omitempty" db:"end_time"`
	TotalSalesCents    int64      `json:"total_sales_cents" db:"total_sales_cents"`
	SalesCount         int        `json:"sales_count" db:"sales_count"`
	CashSalesCents     int64      `json:"cash_sales_cents" db:"cash_sales_cents"`
	ExpectedCashCents  int64      `json:"expected_cash_cents" db:"expected_cash_cents"`
	CountedCashCents   *int64     `json:"counted_cash_cents,omitempty" db:"counted_cash_cents"`
	DifferenceCents    *int64     `json:"difference_cents,omitempty" db:"difference_cents"`
	OpenedBy           string     `json:"opened_by" db:"opened_by"`
	ClosedBy           string     `json:"closed_by,omitempty" db:"closed_by"`
	Notes              string     `json:"notes,omitempty" db:"notes"`
}

// Amount is a currency amount exactly as the client sent it. It decodes from a JSON
// string ("100.50") or a bare JSON number (100.5); parsing into cents happens later.
type Amount string

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*a = ""
	case len(data) > 0 && data[0] == '"':
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*a = Amount(raw)
	default:
		*a = Amount(data)
	}
	return nil
}

type OpenCashSessionRequest struct {
	StartAmount Amount `json:"start_amount" validate:"required"`
	Notes       string `json:"notes,omitempty" validate:"max=500"`
}

type CloseCashSessionRequest struct {
	CountedAmount Amount `json:"counted_amount,omitempty"`
	Notes         string `json:"notes,omitempty" validate:"max=500"`
}

type CashSessionSummary struct {
	Session           CashSession      `json:"session"`
	SalesCount        int              `json:"sales_count"`
	TotalSalesCents   int64            `json:"total_sales_cents"`
	CashSalesCents    int64            `json:"cash_sales_cents"`
	ExpectedCashCents int64            `json:"expected_cash_cents"`
	ByMethod          map[string]int64 `json:"by_method"`
}

type AuditLog struct {
	ID            string          `json:"id" db:"id"`
	ActorUsername string          `json:"actor_username" db:"actor_username"`
	ActorRole     string          `json:"actor_role" db:"actor_role"`
	Action        string          `json:"action" db:"action"`
	EntityType    string          `json:"entity_type" db:"entity_type"`
	EntityID      string          `json:"entity_id" db:"entity_id"`
	EntityName    string          `json:"entity_name,omitempty" db:"entity_name"`
	Details       string          `json:"details,omitempty" db:"details"`
	Before        json.RawMessage `json:"before,omitempty" db:"-"`
	After         json.RawMessage `json:"after,omitempty" db:"-"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

type AuditFilter struct {
	From       *time.Time
	To         *time.Time
	Actor      string
	Action     string
	EntityType string
	Limit      int
}

type Customer struct {
	ID             string    `json:"id" db:"id"`
	DocumentType   string    `json:"document_type" db:"document_type"`
	DocumentNumber string    `json:"document_number" db:"document_number"`
	Name           string    `json:"name" db:"name"`
	Phone          string    `json:"phone,omitempty" db:"phone"`
	Email          string    `json:"email,omitempty" db:"email"`
	Address        string    `json:"address,omitempty" db:"address"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

type CustomerRequest struct {
	DocumentType   string `json:"document_type" validate:"required,oneof=DNI RUC CE"`
	DocumentNumber string `json:"document_number" validate:"required"`
	Name           string `json:"name" validate:"required,max=200"`
	Phone          string `json:"phone,omitempty" validate:"max=32"`
	Email          string `json:"email,omitempty" validate:"omitempty,email"`
	Address        string `json:"address,omitempty" validate:"max=300"`
}

type Supplier struct {
	ID        string    `json:"id" db:"id"`
	RUC       string    `json:"ruc,omitempty" db:"ruc"`
	Name      string    `json:"name" db:"name"`
	Contact   string    `json:"contact,omitempty" db:"contact"`
	Phone     string    `json:"phone,omitempty" db:"phone"`
	Email     string    `json:"email,omitempty" db:"email"`
	Address   string    `json:"address,omitempty" db:"address"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type SupplierRequest struct {
	RUC     string `json:"ruc,omitempty" validate:"omitempty,len=11,numeric"`
	Name    string `json:"name" validate:"required,max=200"`
	Contact string `json:"contact,omitempty" validate:"max=200"`
	Phone   string `json:"phone,omitempty" validate:"max=32"`
	Email   string `json:"email,omitempty" validate:"omitempty,email"`
	Address string `json:"address,omitempty" validate:"max=300"`
}

type UserAccount struct {
	Username  string    `json:"username" db:"username"`
	Password  string    `json:"-" db:"password_hash"`
	Role      string    `json:"role" db:"role"`
	FullName  string    `json:"full_name,omitempty" db:"full_name"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type UserCreateRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Role     string `json:"role" validate:"required,oneof=admin supervisor cashier"`
	FullName string `json:"full_name,omitempty" validate:"max=200"`
}

type UserUpdateRequest struct {
	Password *string `json:"password,omitempty" validate:"omitempty,min=8,max=128"`
	Role     *string `json:"role,omitempty" validate:"omitempty,oneof=admin supervisor cashier"`
	FullName *string `json:"full_name,omitempty" validate:"omitempty,max=200"`
	Active   *bool   `json:"active,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string       `json:"access_token"`
	Username    string       `json:"username"`
	Role        string       `json:"role"`
	ExpiresAt   string       `json:"expires_at"`
	CashSession *CashSession `json:"cash_session,omitempty"`
}

type Actor struct {
	Username string
	Role     string
}

type Settings struct {
	StoreName          string `json:"store_name" validate:"required,max=200"`
	RUC                string `json:"ruc,omitempty" validate:"omitempty,len=11,numeric"`
	Address            string `json:"address,omitempty" validate:"max=300"`
	Phone              string `json:"phone,omitempty" validate:"max=32"`
	IGVRatePercent     int    `json:"igv_rate_percent" validate:"gte=0,lte=100"`
	CurrencySymbol     string `json:"currency_symbol" validate:"required,max=8"`
	ExpiringWindowDays int    `json:"expiring_window_days" validate:"gte=1,lte=365"`
	Locale             string `json:"locale" validate:"max=16"`
	Theme              string `json:"theme" validate:"omitempty,oneof=light dark"`
	ReceiptFooter      string `json:"receipt_footer,omitempty" validate:"max=500"`
}

func DefaultSettings() Settings {
	return Settings{
		StoreName:          "Minimarket",
		IGVRatePercent:     18,
		CurrencySymbol:     "S/",
		ExpiringWindowDays: 30,
		Locale:             "es-PE",
		Theme:              "light",
		ReceiptFooter:      "Gracias por su compra",
	}
}

type AlertSnapshot struct {
	GeneratedAt time.Time       `json:"generated_at"`
	LowStock    []Product       `json:"low_stock"`
	Expired     []ExpiringBatch `json:"expired"`
	Expiring    []ExpiringBatch `json:"expiring"`
}

type ReceiptResponse struct {
	SaleID        string `json:"sale_id"`
	DocumentType  string `json:"document_type"`
	Series        string `json:"series"`
	Number        string `json:"number"`
	SubtotalCents int64  `json:"subtotal_cents"`
	IGVCents      int64  `json:"igv_cents"`
	TotalCents    int64  `json:"total_cents"`
	Text          string `json:"text"`
	ESCPOSBase64  string `json:"escpos_base64"`
}

type CashDrawerResponse struct {
	Command     string `json:"command"`
	PulseBase64 string `json:"pulse_base64"`
}

type Backup struct {
	Version    int        `json:"version"`
	ExportedAt time.Time  `json:"exported_at"`
	Settings   Settings   `json:"settings"`
	Products   []Product  `json:"products"`
	Batches    []Batch    `json:"batches"`
	Customers  []Customer `json:"customers"`
	Suppliers  []Supplier `json:"suppliers"`
}

type BackupImportResult struct {
	SettingsRestored  bool `json:"settings_restored"`
	CustomersImported int  `json:"customers_imported"`
	CustomersSkipped  int  `json:"customers_skipped"`
	SuppliersImported int  `json:"suppliers_imported"`
	SuppliersSkipped  int  `json:"suppliers_skipped"`
}
