package credit

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hirebirhan/amtradingplc/internal/payment"
	"github.com/hirebirhan/amtradingplc/internal/shared"
)

// Type distinguishes money owed to us from money we owe.
type Type string

const (
	TypeReceivable Type = "receivable"
	TypePayable    Type = "payable"
)

// ReferenceType names the document a credit belongs to.
type ReferenceType string

const (
	RefSale     ReferenceType = "sale"
	RefPurchase ReferenceType = "purchase"
	RefManual   ReferenceType = "manual"
)

// PaymentKind classifies a credit payment.
type PaymentKind string

const (
	KindAdvance PaymentKind = "advance"
	KindRegular PaymentKind = "regular"
	KindRefund  PaymentKind = "refund"
)

// Record is an outstanding balance opened for a document that was not fully
// paid at settlement. It is the only place paid and due amounts are stored.
type Record struct {
	ID            int64
	Type          Type
	ReferenceType ReferenceType
	ReferenceID   int64
	PartyID       int64
	Amount        decimal.Decimal
	PaidAmount    decimal.Decimal
	Balance       decimal.Decimal
	Status        payment.CreditStatus
	DueDate       time.Time
	Description   string
	CreatedBy     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// Closed reports whether the credit accepts no more payments.
func (r Record) Closed() bool {
	return r.Status == payment.CreditCancelled || r.DeletedAt != nil
}

// DocumentView projects the credit onto its document's paid/due/status fields.
func (r Record) DocumentView() (paid, due decimal.Decimal, status payment.Status) {
	due, status = payment.Resolve(r.Amount, r.PaidAmount)
	return r.PaidAmount, due, status
}

// Payment is one movement of money against a credit.
type Payment struct {
	ID           int64
	CreditID     int64
	Amount       decimal.Decimal
	Method       string
	ReferenceNo  string
	BankName     string
	ReceiverName string
	Note         string
	Kind         PaymentKind
	PaidAt       time.Time
	ActorID      int64
	CreatedAt    time.Time
	DeletedAt    *time.Time
}

// OpenInput describes a credit to open at document settlement.
type OpenInput struct {
	Type          Type
	ReferenceType ReferenceType
	ReferenceID   int64
	PartyID       int64
	Amount        decimal.Decimal
	Advance       decimal.Decimal
	AdvanceMethod string
	DueDate       time.Time
	Description   string
	ActorID       int64
}

// PaymentInput carries a payment to apply.
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

// ListFilter narrows credit listings.
type ListFilter struct {
	Type    Type
	Status  payment.CreditStatus
	PartyID int64
	Limit   int
	Offset  int
}

// AgingBucket summarises outstanding balances by days past due.
type AgingBucket struct {
	Current   decimal.Decimal
	Bucket30  decimal.Decimal
	Bucket60  decimal.Decimal
	Bucket90  decimal.Decimal
	Bucket120 decimal.Decimal
}

// Total sums every bucket.
func (b AgingBucket) Total() decimal.Decimal {
	return b.Current.Add(b.Bucket30).Add(b.Bucket60).Add(b.Bucket90).Add(b.Bucket120)
}

var (
	// ErrOverPayment rejects a payment that would push paid above the credit amount.
	ErrOverPayment = errors.New("credit: payment exceeds outstanding balance")
	// ErrNegativeAmount rejects non-positive or over-precise amounts.
	ErrNegativeAmount = errors.New("credit: amount must be positive with at most 2 decimals")
	// ErrCreditClosed rejects payments on cancelled or deleted credits.
	ErrCreditClosed = errors.New("credit: credit is closed")
	// ErrNotFound indicates a missing credit.
	ErrNotFound = fmt.Errorf("credit: %w", shared.ErrNotFound)
	// ErrInvalidType indicates an unknown credit or reference type.
	ErrInvalidType = errors.New("credit: invalid type")
	// ErrDocumentCredit rejects direct cancellation of a credit a document owns.
	ErrDocumentCredit = errors.New("credit: credit belongs to a document")
)
