package credit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hirebirhan/amtradingplc/internal/payment"
	"github.com/hirebirhan/amtradingplc/internal/platform/lock"
	"github.com/hirebirhan/amtradingplc/internal/shared"
)

// TxRepository exposes credit writes bound to one transaction.
type TxRepository interface {
	InsertCredit(ctx context.Context, rec Record) (int64, error)
	GetCreditForUpdate(ctx context.Context, id int64) (Record, error)
	FindByReferenceForUpdate(ctx context.Context, refType ReferenceType, refID int64) (Record, error)
	UpdateCredit(ctx context.Context, rec Record) error
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	SoftDeletePayments(ctx context.Context, creditID int64, at time.Time) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCredit(ctx context.Context, id int64) (Record, error)
	FindByReference(ctx context.Context, refType ReferenceType, refID int64) (Record, error)
	ListCredits(ctx context.Context, filter ListFilter) ([]Record, error)
	ListPayments(ctx context.Context, creditID int64) ([]Payment, error)
	ListOutstanding(ctx context.Context, creditType Type) ([]Record, error)
	MarkOverdue(ctx context.Context, asOf time.Time) (int64, error)
}

// Locker hands out per-key leases.
type Locker interface {
	Obtain(ctx context.Context, key string) (lock.Lease, error)
}

// Service owns the credit lifecycle.
type Service struct {
	repo   RepositoryPort
	locker Locker
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service. locker may be nil when callers serialise
// payments through the row lock alone.
func NewService(repo RepositoryPort, locker Locker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, locker: locker, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func validAmount(a decimal.Decimal) bool {
	return a.IsPositive() && a.Equal(a.Round(2))
}

// Open creates a credit inside tx. A positive Advance is stored as an advance
// payment in the same transaction.
func (s *Service) Open(ctx context.Context, tx TxRepository, in OpenInput) (Record, error) {
	switch in.Type {
	case TypeReceivable, TypePayable:
	default:
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidType, in.Type)
	}
	switch in.ReferenceType {
	case RefSale, RefPurchase, RefManual:
	default:
		return Record{}, fmt.Errorf("%w: reference %q", ErrInvalidType, in.ReferenceType)
	}
	if !validAmount(in.Amount) {
		return Record{}, ErrNegativeAmount
	}
	advance := in.Advance
	if advance.IsNegative() || !advance.Equal(advance.Round(2)) {
		return Record{}, ErrNegativeAmount
	}
	if advance.GreaterThan(in.Amount) {
		return Record{}, ErrOverPayment
	}
	now := s.now()
	rec := Record{
		Type:          in.Type,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		PartyID:       in.PartyID,
		Amount:        in.Amount,
		PaidAmount:    advance,
		Balance:       payment.Balance(in.Amount, advance),
		Status:        payment.DeriveCreditStatus(in.Amount, advance),
		DueDate:       in.DueDate,
		Description:   in.Description,
		CreatedBy:     in.ActorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	id, err := tx.InsertCredit(ctx, rec)
	if err != nil {
		return Record{}, fmt.Errorf("credit: insert: %w", err)
	}
	rec.ID = id
	if advance.IsPositive() {
		method := in.AdvanceMethod
		if method == "" {
			method = "cash"
		}
		_, err := tx.InsertPayment(ctx, Payment{
			CreditID:  id,
			Amount:    advance,
			Method:    method,
			Kind:      KindAdvance,
			Note:      "Advance payment at settlement",
			PaidAt:    now,
			ActorID:   in.ActorID,
			CreatedAt: now,
		})
		if err != nil {
			return Record{}, fmt.Errorf("credit: insert advance: %w", err)
		}
	}
	return rec, nil
}

// ApplyPayment appends a regular payment to the credit inside tx and
// recomputes its paid amount, balance and status.
func (s *Service) ApplyPayment(ctx context.Context, tx TxRepository, creditID int64, in PaymentInput) (Record, Payment, error) {
	if !validAmount(in.Amount) {
		return Record{}, Payment{}, ErrNegativeAmount
	}
	if strings.TrimSpace(in.Method) == "" {
		return Record{}, Payment{}, errors.New("credit: payment method required")
	}
	rec, err := tx.GetCreditForUpdate(ctx, creditID)
	if err != nil {
		return Record{}, Payment{}, err
	}
	if rec.Closed() {
		return Record{}, Payment{}, ErrCreditClosed
	}
	paid := rec.PaidAmount.Add(in.Amount)
	if paid.GreaterThan(rec.Amount) {
		return Record{}, Payment{}, fmt.Errorf("%w: outstanding %s, offered %s",
			ErrOverPayment, rec.Balance.StringFixed(2), in.Amount.StringFixed(2))
	}
	next, err := payment.Transition(rec.Status, payment.DeriveCreditStatus(rec.Amount, paid))
	if err != nil {
		return Record{}, Payment{}, err
	}
	now := s.now()
	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}
	p := Payment{
		CreditID:     rec.ID,
		Amount:       in.Amount,
		Method:       in.Method,
		ReferenceNo:  in.ReferenceNo,
		BankName:     in.BankName,
		ReceiverName: in.ReceiverName,
		Note:         in.Note,
		Kind:         KindRegular,
		PaidAt:       paidAt,
		ActorID:      in.ActorID,
		CreatedAt:    now,
	}
	if p.ID, err = tx.InsertPayment(ctx, p); err != nil {
		return Record{}, Payment{}, fmt.Errorf("credit: insert payment: %w", err)
	}
	rec.PaidAmount = paid
	rec.Balance = payment.Balance(rec.Amount, paid)
	rec.Status = next
	rec.UpdatedAt = now
	if err := tx.UpdateCredit(ctx, rec); err != nil {
		return Record{}, Payment{}, fmt.Errorf("credit: update: %w", err)
	}
	return rec, p, nil
}

// OpenManual opens a credit that no purchase or sale owns, such as an
// opening balance carried over from paper records.
func (s *Service) OpenManual(ctx context.Context, in OpenInput) (Record, error) {
	in.ReferenceType = RefManual
	in.ReferenceID = 0
	var rec Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rec, err = s.Open(ctx, tx, in)
		return err
	})
	if err != nil {
		return Record{}, err
	}
	s.logger.Info("manual credit opened",
		slog.Int64("credit_id", rec.ID),
		slog.String("type", string(rec.Type)),
		slog.String("amount", rec.Amount.StringFixed(2)))
	return rec, nil
}

// Cancel soft-deletes a manual credit and its payments while holding the
// credit lock. Credits owned by a document are cancelled by deleting the
// document. Cancelling an already cancelled credit is a no-op.
func (s *Service) Cancel(ctx context.Context, creditID int64) (Record, error) {
	var rec Record
	err := s.withCreditLock(ctx, creditID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			found, err := tx.GetCreditForUpdate(ctx, creditID)
			if err != nil {
				return err
			}
			if found.ReferenceType != RefManual {
				return fmt.Errorf("%w: credit %d belongs to %s %d",
					ErrDocumentCredit, creditID, found.ReferenceType, found.ReferenceID)
			}
			rec, err = s.cancel(ctx, tx, found)
			return err
		})
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// CancelByReference cancels the credit opened for a document, reporting
// whether one existed.
func (s *Service) CancelByReference(ctx context.Context, tx TxRepository, refType ReferenceType, refID int64) (bool, error) {
	rec, err := tx.FindByReferenceForUpdate(ctx, refType, refID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := s.cancel(ctx, tx, rec); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) cancel(ctx context.Context, tx TxRepository, rec Record) (Record, error) {
	if rec.Closed() {
		return rec, nil
	}
	status, err := payment.Transition(rec.Status, payment.CreditCancelled)
	if err != nil {
		return Record{}, err
	}
	now := s.now()
	rec.Status = status
	rec.UpdatedAt = now
	rec.DeletedAt = &now
	if err := tx.UpdateCredit(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("credit: cancel: %w", err)
	}
	if err := tx.SoftDeletePayments(ctx, rec.ID, now); err != nil {
		return Record{}, fmt.Errorf("credit: cancel payments: %w", err)
	}
	return rec, nil
}

// RecordPayment applies a payment in its own transaction while holding the
// credit lock.
func (s *Service) RecordPayment(ctx context.Context, creditID int64, in PaymentInput) (Record, Payment, error) {
	var rec Record
	var p Payment
	err := s.withCreditLock(ctx, creditID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			rec, p, err = s.ApplyPayment(ctx, tx, creditID, in)
			return err
		})
	})
	if err != nil {
		return Record{}, Payment{}, err
	}
	s.logger.Info("credit payment recorded",
		slog.Int64("credit_id", creditID),
		slog.String("amount", p.Amount.StringFixed(2)),
		slog.String("status", string(rec.Status)))
	return rec, p, nil
}

func (s *Service) withCreditLock(ctx context.Context, creditID int64, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	lease, err := s.locker.Obtain(ctx, shared.CreditLockKey(creditID))
	if err != nil {
		return fmt.Errorf("credit: lock %d: %w", creditID, err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release credit lock", slog.Any("error", err))
		}
	}()
	return fn(ctx)
}

// Get returns one credit.
func (s *Service) Get(ctx context.Context, id int64) (Record, error) {
	return s.repo.GetCredit(ctx, id)
}

// FindByReference returns the credit opened for a document.
func (s *Service) FindByReference(ctx context.Context, refType ReferenceType, refID int64) (Record, error) {
	return s.repo.FindByReference(ctx, refType, refID)
}

// List returns credits matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListCredits(ctx, filter)
}

// ListPayments returns the live payments of a credit, oldest first.
func (s *Service) ListPayments(ctx context.Context, creditID int64) ([]Payment, error) {
	if _, err := s.repo.GetCredit(ctx, creditID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, creditID)
}

// Aging groups outstanding balances of one credit type by days past due.
func (s *Service) Aging(ctx context.Context, asOf time.Time, creditType Type) (AgingBucket, error) {
	credits, err := s.repo.ListOutstanding(ctx, creditType)
	if err != nil {
		return AgingBucket{}, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	bucket := AgingBucket{
		Current:   decimal.Zero,
		Bucket30:  decimal.Zero,
		Bucket60:  decimal.Zero,
		Bucket90:  decimal.Zero,
		Bucket120: decimal.Zero,
	}
	for _, rec := range credits {
		if rec.Closed() || rec.Status == payment.CreditPaid || !rec.Balance.IsPositive() {
			continue
		}
		days := int(asOf.Sub(rec.DueDate).Hours() / 24)
		switch {
		case rec.DueDate.IsZero(), days <= 0:
			bucket.Current = bucket.Current.Add(rec.Balance)
		case days <= 30:
			bucket.Bucket30 = bucket.Bucket30.Add(rec.Balance)
		case days <= 60:
			bucket.Bucket60 = bucket.Bucket60.Add(rec.Balance)
		case days <= 90:
			bucket.Bucket90 = bucket.Bucket90.Add(rec.Balance)
		default:
			bucket.Bucket120 = bucket.Bucket120.Add(rec.Balance)
		}
	}
	return bucket, nil
}

// MarkOverdue flags open credits whose due date has passed.
func (s *Service) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	n, err := s.repo.MarkOverdue(ctx, asOf)
	if err != nil {
		return 0, fmt.Errorf("credit: mark overdue: %w", err)
	}
	return n, nil
}
