package trading

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/hirebirhan/amtradingplc/internal/credit"
	"github.com/hirebirhan/amtradingplc/internal/inventory"
)

var hundred = decimal.NewFromInt(100)

// LineSubtotal returns round2((qty × price − discount) × (1 + tax/100)).
func LineSubtotal(qty, price, discount, taxRate decimal.Decimal) decimal.Decimal {
	net := qty.Mul(price).Sub(discount)
	return net.Mul(decimal.NewFromInt(1).Add(taxRate.Div(hundred))).Round(2)
}

func money(v decimal.Decimal) bool {
	return !v.IsNegative() && v.Equal(v.Round(2))
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidLine, strings.Join(msgs, "; "))
}

func checkLine(i int, qty, price, discount, taxRate decimal.Decimal) error {
	if !inventory.ValidQuantity(qty) {
		return fmt.Errorf("%w %d: %v", ErrInvalidLine, i+1, inventory.ErrInvalidQuantity)
	}
	if !money(price) || !money(discount) || !money(taxRate) {
		return fmt.Errorf("%w %d: price, discount and tax must be non-negative with 2 decimals", ErrInvalidLine, i+1)
	}
	if discount.GreaterThan(qty.Mul(price)) {
		return fmt.Errorf("%w %d: discount exceeds line amount", ErrInvalidLine, i+1)
	}
	return nil
}

func checkPaid(paid, total decimal.Decimal) error {
	if !money(paid) {
		return credit.ErrNegativeAmount
	}
	if paid.GreaterThan(total) {
		return fmt.Errorf("%w: paid %s exceeds total %s", credit.ErrOverPayment, paid.StringFixed(2), total.StringFixed(2))
	}
	return nil
}

// buildPurchase validates input and computes line subtotals and the total.
func (s *Service) buildPurchase(in CreatePurchaseInput) (Purchase, error) {
	if err := s.validator.Struct(in); err != nil {
		return Purchase{}, validationError(err)
	}
	p := Purchase{
		ReferenceNo:     strings.TrimSpace(in.ReferenceNo),
		SupplierID:      in.SupplierID,
		WarehouseID:     in.WarehouseID,
		Status:          StatusPending,
		PaidAtCreation:  in.PaidAmount,
		PaymentMethod:   in.PaymentMethod,
		DueDate:         in.DueDate,
		UpdateCostPrice: in.UpdateCostPrice,
		Note:            in.Note,
		CreatedBy:       in.ActorID,
		Total:           decimal.Zero,
	}
	for i, line := range in.Lines {
		if err := checkLine(i, line.Quantity, line.UnitCost, line.Discount, line.TaxRate); err != nil {
			return Purchase{}, err
		}
		if _, err := inventory.WholePieces(line.Quantity); err != nil {
			return Purchase{}, fmt.Errorf("%w %d: %v", ErrInvalidLine, i+1, err)
		}
		item := PurchaseItem{
			ItemID:   line.ItemID,
			Quantity: line.Quantity,
			UnitCost: line.UnitCost,
			TaxRate:  line.TaxRate,
			Discount: line.Discount,
			Subtotal: LineSubtotal(line.Quantity, line.UnitCost, line.Discount, line.TaxRate),
		}
		p.Total = p.Total.Add(item.Subtotal)
		p.Items = append(p.Items, item)
	}
	if err := checkPaid(in.PaidAmount, p.Total); err != nil {
		return Purchase{}, err
	}
	return p, nil
}

// buildSale validates input and computes line subtotals and the total. The
// location rule is checked before anything else about the lines.
func (s *Service) buildSale(in CreateSaleInput) (Sale, error) {
	if (in.WarehouseID == 0) == (in.BranchID == 0) {
		return Sale{}, ErrInvalidLocationConfiguration
	}
	if err := s.validator.Struct(in); err != nil {
		return Sale{}, validationError(err)
	}
	sale := Sale{
		ReferenceNo:    strings.TrimSpace(in.ReferenceNo),
		CustomerID:     in.CustomerID,
		WarehouseID:    in.WarehouseID,
		BranchID:       in.BranchID,
		Status:         StatusPending,
		PaidAtCreation: in.PaidAmount,
		PaymentMethod:  in.PaymentMethod,
		DueDate:        in.DueDate,
		Note:           in.Note,
		CreatedBy:      in.ActorID,
		Total:          decimal.Zero,
	}
	for i, line := range in.Lines {
		if err := checkLine(i, line.Quantity, line.UnitPrice, line.Discount, line.TaxRate); err != nil {
			return Sale{}, err
		}
		if line.Method == MethodPiece {
			if _, err := inventory.WholePieces(line.Quantity); err != nil {
				return Sale{}, fmt.Errorf("%w %d: %v", ErrInvalidLine, i+1, err)
			}
		}
		item := SaleItem{
			ItemID:    line.ItemID,
			Method:    line.Method,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			TaxRate:   line.TaxRate,
			Discount:  line.Discount,
			Subtotal:  LineSubtotal(line.Quantity, line.UnitPrice, line.Discount, line.TaxRate),
		}
		sale.Total = sale.Total.Add(item.Subtotal)
		sale.Items = append(sale.Items, item)
	}
	if err := checkPaid(in.PaidAmount, sale.Total); err != nil {
		return Sale{}, err
	}
	return sale, nil
}
