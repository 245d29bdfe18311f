package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ReferenceType tags the business event behind a stock mutation.
type ReferenceType string

const (
	RefPurchase        ReferenceType = "purchase"
	RefSale            ReferenceType = "sale"
	RefPurchaseDeleted ReferenceType = "purchase_deleted"
	RefSaleDeleted     ReferenceType = "sale_deleted"
	RefReturnSale      ReferenceType = "return_sale"
	RefReturnPurchase  ReferenceType = "return_purchase"
	RefAdjustment      ReferenceType = "adjustment"
	RefTransferIn      ReferenceType = "transfer_in"
	RefTransferOut     ReferenceType = "transfer_out"
)

// Operation enumerates the ledger primitives.
type Operation string

const (
	// OpAddPieces receives whole pieces.
	OpAddPieces Operation = "add_pieces"
	// OpSellPieces deducts whole pieces.
	OpSellPieces Operation = "sell_pieces"
	// OpSellUnits deducts fractional units, rolling over pieces.
	OpSellUnits Operation = "sell_units"
	// OpReturnUnits puts fractional units back, refilling the open piece first.
	OpReturnUnits Operation = "return_units"
	// OpRemovePieces takes back whole pieces that were received.
	OpRemovePieces Operation = "remove_pieces"
	// OpReturnPieces puts back whole pieces that were sold.
	OpReturnPieces Operation = "return_pieces"
)

// Inverse returns the operation that undoes op.
func (op Operation) Inverse() Operation {
	switch op {
	case OpAddPieces:
		return OpRemovePieces
	case OpRemovePieces:
		return OpAddPieces
	case OpSellPieces:
		return OpReturnPieces
	case OpReturnPieces:
		return OpSellPieces
	case OpSellUnits:
		return OpReturnUnits
	case OpReturnUnits:
		return OpSellUnits
	default:
		return op
	}
}

// BalanceKey identifies one stock balance.
type BalanceKey struct {
	WarehouseID int64
	ItemID      int64
}

// Balance is the dual piece/unit stock of one item in one warehouse.
//
// CurrentPieceUnits holds the units left in the piece being drawn down by unit
// sales. When it is not Valid the open piece is treated as full.
type Balance struct {
	WarehouseID       int64
	ItemID            int64
	PieceCount        int64
	TotalUnits        decimal.Decimal
	CurrentPieceUnits decimal.NullDecimal
	UpdatedAt         time.Time
}

// Key returns the balance identity.
func (b Balance) Key() BalanceKey {
	return BalanceKey{WarehouseID: b.WarehouseID, ItemID: b.ItemID}
}

// HistoryEntry is an immutable record of one balance mutation.
type HistoryEntry struct {
	ID            int64
	ItemID        int64
	WarehouseID   int64
	PiecesBefore  int64
	PiecesAfter   int64
	PiecesChange  int64
	UnitsBefore   decimal.Decimal
	UnitsAfter    decimal.Decimal
	UnitsChange   decimal.Decimal
	ReferenceType ReferenceType
	ReferenceID   int64
	Description   string
	ActorID       int64
	CreatedAt     time.Time
}

// Mutation asks the ledger to apply one primitive to one balance.
type Mutation struct {
	Op            Operation
	WarehouseID   int64
	ItemID        int64
	Pieces        int64
	Units         decimal.Decimal
	UnitCapacity  decimal.Decimal
	ReferenceType ReferenceType
	ReferenceID   int64
	Description   string
	ActorID       int64
}

// Key returns the balance the mutation touches.
func (m Mutation) Key() BalanceKey {
	return BalanceKey{WarehouseID: m.WarehouseID, ItemID: m.ItemID}
}

// Reversal returns the mutation that undoes m, journalled under ref.
func (m Mutation) Reversal(ref ReferenceType, description string) Mutation {
	m.Op = m.Op.Inverse()
	m.ReferenceType = ref
	m.Description = description
	return m
}

// Scope selects the warehouses an availability query covers. Exactly one
// field must be set.
type Scope struct {
	WarehouseID int64
	BranchID    int64
}

// Availability summarises stock across a scope.
type Availability struct {
	ItemID int64
	Scope  Scope
	Pieces int64
	Units  decimal.Decimal
}

// HistoryFilter narrows history queries.
type HistoryFilter struct {
	ItemID      int64
	WarehouseID int64
	From        time.Time
	To          time.Time
	Limit       int
}

// AdjustmentInput describes a manual stock correction in whole pieces.
type AdjustmentInput struct {
	WarehouseID int64
	ItemID      int64
	Pieces      int64
	Note        string
	ActorID     int64
}

// TransferInput moves whole pieces between warehouses.
type TransferInput struct {
	ItemID       int64
	Pieces       int64
	SrcWarehouse int64
	DstWarehouse int64
	ReferenceID  int64
	Note         string
	ActorID      int64
}

// Violation reports a balance that breaks a ledger invariant.
type Violation struct {
	Balance Balance
	Reason  string
}

var (
	// ErrInsufficientStock is matched by every InsufficientStockError.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInvalidQuantity indicates a non-positive or over-precise quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive with at most 2 decimals")
	// ErrInvalidCapacity indicates a non-positive unit capacity.
	ErrInvalidCapacity = errors.New("inventory: unit capacity must be positive")
	// ErrLockNotHeld is returned when a mutation runs outside its balance lock scope.
	ErrLockNotHeld = errors.New("inventory: balance lock not held")
	// ErrInvalidScope indicates an availability scope with neither or both locations.
	ErrInvalidScope = errors.New("inventory: exactly one of warehouse or branch required")
	// ErrUnknownOperation indicates an unsupported mutation.
	ErrUnknownOperation = errors.New("inventory: unknown operation")
)

// InsufficientStockError carries what was available and what was asked for.
// WarehouseID is zero when the shortfall is across a whole branch.
type InsufficientStockError struct {
	ItemID      int64
	WarehouseID int64
	Available   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	where := "branch"
	if e.WarehouseID != 0 {
		where = fmt.Sprintf("warehouse %d", e.WarehouseID)
	}
	return fmt.Sprintf("inventory: insufficient stock for item %d in %s: available %s, requested %s",
		e.ItemID, where, e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

// Is lets errors.Is match ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Shortfall returns how much more stock the request needed.
func (e *InsufficientStockError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}
