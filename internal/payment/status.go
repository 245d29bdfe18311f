// Package payment derives the payment state of sales and purchases and the
// lifecycle status of the credits opened for them.
package payment

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Status is the payment status shown on a sale or purchase.
type Status string

const (
	StatusPaid    Status = "paid"
	StatusPartial Status = "partial"
	StatusDue     Status = "due"
)

// CreditStatus is the lifecycle status of a credit record.
type CreditStatus string

const (
	CreditActive        CreditStatus = "active"
	CreditPartiallyPaid CreditStatus = "partially_paid"
	CreditPaid          CreditStatus = "paid"
	CreditOverdue       CreditStatus = "overdue"
	CreditCancelled     CreditStatus = "cancelled"
)

// ErrInvalidTransition is returned when a credit status change is not allowed.
var ErrInvalidTransition = errors.New("payment: invalid credit status transition")

// Resolve computes the due amount and status for a document total and the
// amount paid so far. It has no side effects.
func Resolve(total, paid decimal.Decimal) (decimal.Decimal, Status) {
	due := total.Sub(paid)
	switch {
	case !due.IsPositive():
		return due, StatusPaid
	case paid.IsPositive():
		return due, StatusPartial
	default:
		return due, StatusDue
	}
}

// Balance returns amount-paid floored at zero.
func Balance(amount, paid decimal.Decimal) decimal.Decimal {
	return decimal.Max(decimal.Zero, amount.Sub(paid))
}

// DeriveCreditStatus maps credit amounts to active, partially_paid or paid.
func DeriveCreditStatus(amount, paid decimal.Decimal) CreditStatus {
	if !Balance(amount, paid).IsPositive() {
		return CreditPaid
	}
	if paid.IsPositive() {
		return CreditPartiallyPaid
	}
	return CreditActive
}

var transitions = map[CreditStatus][]CreditStatus{
	CreditActive:        {CreditPartiallyPaid, CreditPaid, CreditOverdue, CreditCancelled},
	CreditPartiallyPaid: {CreditPartiallyPaid, CreditPaid, CreditOverdue, CreditCancelled},
	CreditOverdue:       {CreditPartiallyPaid, CreditPaid, CreditOverdue, CreditCancelled},
	CreditPaid:          {CreditCancelled},
}

// CanTransition reports whether a credit may move from one status to another.
func CanTransition(from, to CreditStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition validates a status change and returns the target status.
func Transition(from, to CreditStatus) (CreditStatus, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}
