package inventory

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Quantities are fixed point with two decimals.
const quantityPlaces = 2

// ValidQuantity reports whether q is positive and carries at most two decimals.
func ValidQuantity(q decimal.Decimal) bool {
	return q.IsPositive() && q.Equal(q.Round(quantityPlaces))
}

// WholePieces converts a quantity to a piece count, rejecting fractions.
func WholePieces(q decimal.Decimal) (int64, error) {
	if !q.IsPositive() || !q.IsInteger() {
		return 0, fmt.Errorf("%w: %s is not a whole number of pieces", ErrInvalidQuantity, q.String())
	}
	return q.IntPart(), nil
}

func checkCapacity(capacity decimal.Decimal) error {
	if !capacity.IsPositive() {
		return ErrInvalidCapacity
	}
	return nil
}

// openPiece returns the units left in the open piece, treating unset as full.
func (b Balance) openPiece(capacity decimal.Decimal) decimal.Decimal {
	if b.CurrentPieceUnits.Valid {
		return b.CurrentPieceUnits.Decimal
	}
	return capacity
}

// normalize enforces the zero-stock invariant.
func (b Balance) normalize() Balance {
	if b.PieceCount <= 0 {
		b.PieceCount = 0
		b.TotalUnits = decimal.Zero
		b.CurrentPieceUnits = decimal.NewNullDecimal(decimal.Zero)
	}
	return b
}

func (b Balance) shortage(available, requested decimal.Decimal) error {
	return &InsufficientStockError{
		ItemID:      b.ItemID,
		WarehouseID: b.WarehouseID,
		Available:   available,
		Requested:   requested,
	}
}

// AvailablePieces returns the whole pieces that SellByPiece would accept.
func (b Balance) AvailablePieces(capacity decimal.Decimal) int64 {
	if !capacity.IsPositive() || b.PieceCount <= 0 {
		return 0
	}
	byUnits := b.TotalUnits.Div(capacity).Floor().IntPart()
	if byUnits < b.PieceCount {
		return byUnits
	}
	return b.PieceCount
}

// AddPieces receives whole pieces. The receiver is not modified.
func (b Balance) AddPieces(pieces int64, capacity decimal.Decimal) (Balance, error) {
	if pieces <= 0 {
		return b, ErrInvalidQuantity
	}
	if err := checkCapacity(capacity); err != nil {
		return b, err
	}
	next := b
	wasEmpty := b.PieceCount == 0
	next.PieceCount += pieces
	next.TotalUnits = b.TotalUnits.Add(capacity.Mul(decimal.NewFromInt(pieces)))
	if wasEmpty || !b.CurrentPieceUnits.Valid {
		next.CurrentPieceUnits = decimal.NewNullDecimal(capacity)
	}
	return next, nil
}

// SellByPiece deducts whole pieces. Whole pieces never touch the open piece,
// which is reset to full capacity while stock remains.
func (b Balance) SellByPiece(pieces int64, capacity decimal.Decimal) (Balance, error) {
	if pieces <= 0 {
		return b, ErrInvalidQuantity
	}
	if err := checkCapacity(capacity); err != nil {
		return b, err
	}
	requestedUnits := capacity.Mul(decimal.NewFromInt(pieces))
	if pieces > b.PieceCount {
		return b, b.shortage(decimal.NewFromInt(b.PieceCount), decimal.NewFromInt(pieces))
	}
	if requestedUnits.GreaterThan(b.TotalUnits) {
		return b, b.shortage(decimal.NewFromInt(b.AvailablePieces(capacity)), decimal.NewFromInt(pieces))
	}
	next := b
	next.PieceCount -= pieces
	next.TotalUnits = b.TotalUnits.Sub(requestedUnits)
	if next.PieceCount > 0 {
		next.CurrentPieceUnits = decimal.NewNullDecimal(capacity)
	}
	return next.normalize(), nil
}

// SellByUnit deducts fractional units from the open piece, opening further
// pieces as it empties.
func (b Balance) SellByUnit(units, capacity decimal.Decimal) (Balance, error) {
	if !ValidQuantity(units) {
		return b, ErrInvalidQuantity
	}
	if err := checkCapacity(capacity); err != nil {
		return b, err
	}
	if units.GreaterThan(b.TotalUnits) {
		return b, b.shortage(b.TotalUnits, units)
	}
	next := b
	current := b.openPiece(capacity)
	if units.LessThanOrEqual(current) {
		next.CurrentPieceUnits = decimal.NewNullDecimal(current.Sub(units))
	} else {
		remaining := units.Sub(current)
		full, leftover := remaining.QuoRem(capacity, 0)
		piecesToDeduct := 1 + full.IntPart()
		next.PieceCount -= piecesToDeduct
		if next.PieceCount > 0 && leftover.IsPositive() {
			next.CurrentPieceUnits = decimal.NewNullDecimal(capacity.Sub(leftover))
		} else {
			next.CurrentPieceUnits = decimal.NewNullDecimal(capacity)
		}
	}
	next.TotalUnits = b.TotalUnits.Sub(units)
	return next.normalize(), nil
}

// ReturnUnits puts units back. The open piece is refilled first and any
// overflow opens new pieces, the last of which becomes the open piece.
func (b Balance) ReturnUnits(units, capacity decimal.Decimal) (Balance, error) {
	if !ValidQuantity(units) {
		return b, ErrInvalidQuantity
	}
	if err := checkCapacity(capacity); err != nil {
		return b, err
	}
	next := b
	next.TotalUnits = b.TotalUnits.Add(units)
	current := decimal.Zero
	space := decimal.Zero
	if b.PieceCount > 0 {
		current = b.openPiece(capacity)
		space = capacity.Sub(current)
	}
	if units.LessThanOrEqual(space) {
		next.CurrentPieceUnits = decimal.NewNullDecimal(current.Add(units))
		return next, nil
	}
	overflow := units.Sub(space)
	full, rest := overflow.QuoRem(capacity, 0)
	opened := full.IntPart()
	if rest.IsPositive() {
		opened++
		next.CurrentPieceUnits = decimal.NewNullDecimal(rest)
	} else {
		next.CurrentPieceUnits = decimal.NewNullDecimal(capacity)
	}
	next.PieceCount += opened
	return next, nil
}

// Apply runs op against the balance.
func (b Balance) Apply(op Operation, pieces int64, units, capacity decimal.Decimal) (Balance, error) {
	switch op {
	case OpAddPieces:
		return b.AddPieces(pieces, capacity)
	case OpSellPieces:
		return b.SellByPiece(pieces, capacity)
	case OpSellUnits:
		return b.SellByUnit(units, capacity)
	case OpReturnUnits:
		return b.ReturnUnits(units, capacity)
	case OpRemovePieces:
		return b.RemovePieces(pieces, capacity)
	case OpReturnPieces:
		return b.ReturnPieces(pieces, capacity)
	default:
		return b, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}
}

// Check reports invariant violations on a stored balance.
func (b Balance) Check() []string {
	var problems []string
	if b.PieceCount < 0 {
		problems = append(problems, "negative piece count")
	}
	if b.TotalUnits.IsNegative() {
		problems = append(problems, "negative total units")
	}
	if b.PieceCount == 0 {
		if !b.TotalUnits.IsZero() {
			problems = append(problems, "units left with zero pieces")
		}
		if b.CurrentPieceUnits.Valid && !b.CurrentPieceUnits.Decimal.IsZero() {
			problems = append(problems, "open piece left with zero pieces")
		}
	}
	if b.CurrentPieceUnits.Valid && b.CurrentPieceUnits.Decimal.IsNegative() {
		problems = append(problems, "negative open piece")
	}
	return problems
}

// entryFor builds the history entry describing before -> after.
func entryFor(before, after Balance, m Mutation) HistoryEntry {
	return HistoryEntry{
		ItemID:        m.ItemID,
		WarehouseID:   m.WarehouseID,
		PiecesBefore:  before.PieceCount,
		PiecesAfter:   after.PieceCount,
		PiecesChange:  after.PieceCount - before.PieceCount,
		UnitsBefore:   before.TotalUnits,
		UnitsAfter:    after.TotalUnits,
		UnitsChange:   after.TotalUnits.Sub(before.TotalUnits),
		ReferenceType: m.ReferenceType,
		ReferenceID:   m.ReferenceID,
		Description:   m.Description,
		ActorID:       m.ActorID,
	}
}

// RemovePieces takes back pieces that were added, with the same checks as SellByPiece.
func (b Balance) RemovePieces(pieces int64, capacity decimal.Decimal) (Balance, error) {
	return b.SellByPiece(pieces, capacity)
}

// ReturnPieces puts whole pieces back after a piece sale is undone.
func (b Balance) ReturnPieces(pieces int64, capacity decimal.Decimal) (Balance, error) {
	return b.AddPieces(pieces, capacity)
}
