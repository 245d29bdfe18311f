// Package trading coordinates purchases and sales with the stock ledger and
// the credit ledger. Every document operation runs as one unit of work.
package trading

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hirebirhan/amtradingplc/internal/payment"
	"github.com/hirebirhan/amtradingplc/internal/shared"
)

// Kind names a document type.
type Kind string

const (
	KindPurchase Kind = "purchase"
	KindSale     Kind = "sale"
)

// SaleMethod selects whether a sale line deducts whole pieces or units.
type SaleMethod string

const (
	MethodPiece SaleMethod = "piece"
	MethodUnit  SaleMethod = "unit"
)

// DocumentStatus tracks whether a document has touched stock.
type DocumentStatus string

const (
	StatusPending   DocumentStatus = "pending"
	StatusReceived  DocumentStatus = "received"
	StatusCompleted DocumentStatus = "completed"
)

// Item carries the fields of a catalogue item the ledger needs.
type Item struct {
	ID                  int64
	Name                string
	UnitCapacity        decimal.Decimal
	CostPrice           decimal.Decimal
	CostPricePerUnit    decimal.Decimal
	SellingPrice        decimal.Decimal
	SellingPricePerUnit decimal.Decimal
}

// PriceHistory records a cost change caused by a purchase receipt.
type PriceHistory struct {
	ItemID         int64
	OldCostPrice   decimal.Decimal
	NewCostPrice   decimal.Decimal
	OldCostPerUnit decimal.Decimal
	NewCostPerUnit decimal.Decimal
	ReferenceType  Kind
	ReferenceID    int64
	ActorID        int64
	CreatedAt      time.Time
}

// Settlement is the payment view of a document. Amounts are projected from
// the document's credit when one exists.
type Settlement struct {
	Total         decimal.Decimal
	PaidAmount    decimal.Decimal
	DueAmount     decimal.Decimal
	PaymentStatus payment.Status
	CreditID      int64
}

// Purchase is a supplier document that adds stock to one warehouse.
type Purchase struct {
	ID              int64
	ReferenceNo     string
	SupplierID      int64
	WarehouseID     int64
	Status          DocumentStatus
	Total           decimal.Decimal
	PaidAtCreation  decimal.Decimal
	PaymentMethod   string
	DueDate         time.Time
	UpdateCostPrice bool
	Note            string
	Items           []PurchaseItem
	CreatedBy       int64
	CreatedAt       time.Time
	ReceivedAt      *time.Time
	DeletedAt       *time.Time
	Settlement      Settlement
}

// PurchaseItem is one purchase line, quantity in whole pieces.
type PurchaseItem struct {
	ID         int64
	PurchaseID int64
	ItemID     int64
	Quantity   decimal.Decimal
	UnitCost   decimal.Decimal
	TaxRate    decimal.Decimal
	Discount   decimal.Decimal
	Subtotal   decimal.Decimal
}

// Sale is a customer document that draws stock from a warehouse or a branch.
type Sale struct {
	ID             int64
	ReferenceNo    string
	CustomerID     int64
	WarehouseID    int64
	BranchID       int64
	Status         DocumentStatus
	Total          decimal.Decimal
	PaidAtCreation decimal.Decimal
	PaymentMethod  string
	DueDate        time.Time
	Note           string
	Items          []SaleItem
	CreatedBy      int64
	CreatedAt      time.Time
	FulfilledAt    *time.Time
	DeletedAt      *time.Time
	Settlement     Settlement
}

// SaleItem is one sale line.
type SaleItem struct {
	ID        int64
	SaleID    int64
	ItemID    int64
	Method    SaleMethod
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	TaxRate   decimal.Decimal
	Discount  decimal.Decimal
	Subtotal  decimal.Decimal
}

// Allocation records how much of a sale line one warehouse supplied.
type Allocation struct {
	SaleItemID  int64
	WarehouseID int64
	ItemID      int64
	Method      SaleMethod
	Quantity    decimal.Decimal
}

// LineInput describes a purchase line.
type LineInput struct {
	ItemID   int64           `validate:"required,gt=0"`
	Quantity decimal.Decimal `validate:"-"`
	UnitCost decimal.Decimal `validate:"-"`
	TaxRate  decimal.Decimal `validate:"-"`
	Discount decimal.Decimal `validate:"-"`
}

// SaleLineInput describes a sale line.
type SaleLineInput struct {
	ItemID    int64           `validate:"required,gt=0"`
	Method    SaleMethod      `validate:"required,oneof=piece unit"`
	Quantity  decimal.Decimal `validate:"-"`
	UnitPrice decimal.Decimal `validate:"-"`
	TaxRate   decimal.Decimal `validate:"-"`
	Discount  decimal.Decimal `validate:"-"`
}

// CreatePurchaseInput carries a new purchase.
type CreatePurchaseInput struct {
	ReferenceNo     string          `validate:"required,max=64"`
	SupplierID      int64           `validate:"required,gt=0"`
	WarehouseID     int64           `validate:"required,gt=0"`
	PaidAmount      decimal.Decimal `validate:"-"`
	PaymentMethod   string          `validate:"max=32"`
	DueDate         time.Time
	UpdateCostPrice bool
	Note            string      `validate:"max=500"`
	Lines           []LineInput `validate:"required,min=1,dive"`
	ActorID         int64
}

// CreateSaleInput carries a new sale. Exactly one of WarehouseID and
// BranchID must be set.
type CreateSaleInput struct {
	ReferenceNo   string          `validate:"required,max=64"`
	CustomerID    int64           `validate:"gte=0"`
	WarehouseID   int64           `validate:"gte=0"`
	BranchID      int64           `validate:"gte=0"`
	PaidAmount    decimal.Decimal `validate:"-"`
	PaymentMethod string          `validate:"max=32"`
	DueDate       time.Time
	Note          string          `validate:"max=500"`
	Lines         []SaleLineInput `validate:"required,min=1,dive"`
	ActorID       int64
}

// PaymentInput carries a payment against a document.
type PaymentInput struct {
	Amount       decimal.Decimal
	Method       string
	ReferenceNo  string
	BankName     string
	ReceiverName string
	Note         string
	PaidAt       time.Time
	ActorID      int64
}

var (
	// ErrInvalidLocationConfiguration rejects a sale with neither or both of branch and warehouse.
	ErrInvalidLocationConfiguration = errors.New("trading: sale needs exactly one of branch or warehouse")
	// ErrAlreadyProcessed signals a document that already touched stock.
	ErrAlreadyProcessed = errors.New("trading: document already processed")
	// ErrNotFound indicates a missing or deleted document.
	ErrNotFound = fmt.Errorf("trading: %w", shared.ErrNotFound)
	// ErrInvalidLine indicates a malformed document line.
	ErrInvalidLine = errors.New("trading: invalid line")
	// ErrDuplicateReference indicates a reference number already in use.
	ErrDuplicateReference = errors.New("trading: reference number already exists")
	// ErrUnknownKind indicates an unsupported document kind.
	ErrUnknownKind = errors.New("trading: unknown document kind")
)
