package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/hirebirhan/amtradingplc/internal/credit"
	"github.com/hirebirhan/amtradingplc/internal/inventory"
	"github.com/hirebirhan/amtradingplc/internal/payment"
	"github.com/hirebirhan/amtradingplc/internal/shared"
)

// DocumentStore exposes document writes bound to one transaction.
type DocumentStore interface {
	GetItem(ctx context.Context, id int64) (Item, error)
	UpdateItemCost(ctx context.Context, itemID int64, cost, costPerUnit decimal.Decimal) error
	InsertPriceHistory(ctx context.Context, h PriceHistory) error
	InsertPurchase(ctx context.Context, p Purchase) (Purchase, error)
	InsertSale(ctx context.Context, s Sale) (Sale, error)
	GetPurchaseForUpdate(ctx context.Context, id int64) (Purchase, error)
	GetSaleForUpdate(ctx context.Context, id int64) (Sale, error)
	MarkPurchaseReceived(ctx context.Context, id int64, at time.Time) error
	MarkSaleFulfilled(ctx context.Context, id int64, at time.Time) error
	InsertAllocations(ctx context.Context, allocations []Allocation) error
	ListAllocations(ctx context.Context, saleID int64) ([]Allocation, error)
	SoftDeletePurchase(ctx context.Context, id int64, at time.Time) error
	SoftDeleteSale(ctx context.Context, id int64, at time.Time) error
	BranchWarehouses(ctx context.Context, branchID int64) ([]int64, error)
}

// Stores groups the transactional stores sharing one database transaction.
type Stores struct {
	Documents DocumentStore
	Stock     inventory.TxRepository
	Credits   credit.TxRepository
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	// Do runs fn in one transaction; any error rolls back every store.
	Do(ctx context.Context, fn func(context.Context, Stores) error) error
	GetPurchase(ctx context.Context, id int64) (Purchase, error)
	GetSale(ctx context.Context, id int64) (Sale, error)
	BranchWarehouses(ctx context.Context, branchID int64) ([]int64, error)
	ListAllocations(ctx context.Context, saleID int64) ([]Allocation, error)
}

// CreditLookup resolves the credit of a document outside a transaction.
type CreditLookup interface {
	FindByReference(ctx context.Context, refType credit.ReferenceType, refID int64) (credit.Record, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsRecorder receives document counters.
type MetricsRecorder interface {
	ObserveDocument(kind, action string)
}

// Service coordinates documents, stock and credits.
type Service struct {
	repo      RepositoryPort
	ledger    *inventory.Service
	credits   *credit.Service
	lookup    CreditLookup
	audit     AuditPort
	metrics   MetricsRecorder
	logger    *slog.Logger
	validator *validator.Validate
	now       func() time.Time
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Audit   AuditPort
	Metrics MetricsRecorder
	Logger  *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *inventory.Service, credits *credit.Service, lookup CreditLookup, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		ledger:    ledger,
		credits:   credits,
		lookup:    lookup,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		logger:    logger,
		validator: validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreatePurchase persists a purchase and opens a payable credit for any
// unpaid remainder.
func (s *Service) CreatePurchase(ctx context.Context, in CreatePurchaseInput) (Purchase, error) {
	p, err := s.buildPurchase(in)
	if err != nil {
		return Purchase{}, err
	}
	p.CreatedAt = s.now()
	err = s.repo.Do(ctx, func(ctx context.Context, st Stores) error {
		for _, line := range p.Items {
			if _, err := st.Documents.GetItem(ctx, line.ItemID); err != nil {
				return err
			}
		}
		saved, err := st.Documents.InsertPurchase(ctx, p)
		if err != nil {
			return err
		}
		p = saved
		return s.settle(ctx, st, credit.OpenInput{
			Type:          credit.TypePayable,
			ReferenceType: credit.RefPurchase,
			ReferenceID:   p.ID,
			PartyID:       p.SupplierID,
			Amount:        p.Total,
			Advance:       p.PaidAtCreation,
			AdvanceMethod: p.PaymentMethod,
			DueDate:       p.DueDate,
			Description:   "Purchase " + p.ReferenceNo,
			ActorID:       in.ActorID,
		}, &p.Settlement)
	})
	if err != nil {
		return Purchase{}, err
	}
	s.record(ctx, in.ActorID, "purchase:create", "purchases", p.ID, map[string]any{"total": p.Total.StringFixed(2)})
	s.observe(KindPurchase, "create")
	return p, nil
}

// CreateSale persists a sale and opens a receivable credit for any unpaid
// remainder. Stock is not touched until FulfillSale.
func (s *Service) CreateSale(ctx context.Context, in CreateSaleInput) (Sale, error) {
	sale, err := s.buildSale(in)
	if err != nil {
		return Sale{}, err
	}
	sale.CreatedAt = s.now()
	err = s.repo.Do(ctx, func(ctx context.Context, st Stores) error {
		for _, line := range sale.Items {
			if _, err := st.Documents.GetItem(ctx, line.ItemID); err != nil {
				return err
			}
		}
		saved, err := st.Documents.InsertSale(ctx, sale)
		if err != nil {
			return err
		}
		sale = saved
		return s.settle(ctx, st, credit.OpenInput{
			Type:          credit.TypeReceivable,
			ReferenceType: credit.RefSale,
			ReferenceID:   sale.ID,
			PartyID:       sale.CustomerID,
			Amount:        sale.Total,
			Advance:       sale.PaidAtCreation,
			AdvanceMethod: sale.PaymentMethod,
			DueDate:       sale.DueDate,
			Description:   "Sale " + sale.ReferenceNo,
			ActorID:       in.ActorID,
		}, &sale.Settlement)
	})
	if err != nil {
		return Sale{}, err
	}
	s.record(ctx, in.ActorID, "sale:create", "sales", sale.ID, map[string]any{"total": sale.Total.StringFixed(2)})
	s.observe(KindSale, "create")
	return sale, nil
}

// settle opens the credit when something is left to pay and fills view.
func (s *Service) settle(ctx context.Context, st Stores, in credit.OpenInput, view *Settlement) error {
	due, status := payment.Resolve(in.Amount, in.Advance)
	*view = Settlement{Total: in.Amount, PaidAmount: in.Advance, DueAmount: due, PaymentStatus: status}
	if !due.IsPositive() {
		return nil
	}
	rec, err := s.credits.Open(ctx, st.Credits, in)
	if err != nil {
		return err
	}
	view.CreditID = rec.ID
	return nil
}

// ReceivePurchase adds the purchase's pieces to its warehouse. It returns
// false without error when the purchase was already received.
func (s *Service) ReceivePurchase(ctx context.Context, id int64) (bool, error) {
	p, err := s.repo.GetPurchase(ctx, id)
	if err != nil {
		return false, err
	}
	if p.Status == StatusReceived {
		return false, nil
	}
	keys := make([]inventory.BalanceKey, 0, len(p.Items))
	for _, line := range p.Items {
		keys = append(keys, inventory.BalanceKey{WarehouseID: p.WarehouseID, ItemID: line.ItemID})
	}
	actor := shared.ActorFromContext(ctx)
	err = s.ledger.WithLocks(ctx, keys, func(ctx context.Context) error {
		return s.repo.Do(ctx, func(ctx context.Context, st Stores) error {
			return s.applyPurchase(ctx, st, id, actor)
		})
	})
	if errors.Is(err, ErrAlreadyProcessed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.record(ctx, actor, "purchase:receive", "purchases", id, nil)
	s.observe(KindPurchase, "receive")
	return true, nil
}

func (s *Service) applyPurchase(ctx context.Context, st Stores, id, actor int64) error {
	p, err := st.Documents.GetPurchaseForUpdate(ctx, id)
	if err != nil {
		return err
	}
	if p.Status == StatusReceived {
		return ErrAlreadyProcessed
	}
	for _, line := range p.Items {
		item, err := st.Documents.GetItem(ctx, line.ItemID)
		if err != nil {
			return err
		}
		pieces, err := inventory.WholePieces(line.Quantity)
		if err != nil {
			return err
		}
		if _, err := s.ledger.Apply(ctx, st.Stock, purchaseMutation(p, line, item, pieces, actor)); err != nil {
			return err
		}
		if p.UpdateCostPrice && !line.UnitCost.Equal(item.CostPrice) {
			if err := s.updateCost(ctx, st, item, line.UnitCost, p.ID, actor); err != nil {
				return err
			}
		}
	}
	return st.Documents.MarkPurchaseReceived(ctx, p.ID, s.now())
}

func purchaseMutation(p Purchase, line PurchaseItem, item Item, pieces, actor int64) inventory.Mutation {
	return inventory.Mutation{
		Op:            inventory.OpAddPieces,
		WarehouseID:   p.WarehouseID,
		ItemID:        line.ItemID,
		Pieces:        pieces,
		UnitCapacity:  item.UnitCapacity,
		ReferenceType: inventory.RefPurchase,
		ReferenceID:   p.ID,
		Description:   "Purchase " + p.ReferenceNo,
		ActorID:       actor,
	}
}

func (s *Service) updateCost(ctx context.Context, st Stores, item Item, cost decimal.Decimal, purchaseID, actor int64) error {
	perUnit := cost
	if item.UnitCapacity.IsPositive() {
		perUnit = cost.Div(item.UnitCapacity).Round(2)
	}
	err := st.Documents.InsertPriceHistory(ctx, PriceHistory{
		ItemID:         item.ID,
		OldCostPrice:   item.CostPrice,
		NewCostPrice:   cost,
		OldCostPerUnit: item.CostPricePerUnit,
		NewCostPerUnit: perUnit,
		ReferenceType:  KindPurchase,
		ReferenceID:    purchaseID,
		ActorID:        actor,
		CreatedAt:      s.now(),
	})
	if err != nil {
		return fmt.Errorf("trading: price history: %w", err)
	}
	return st.Documents.UpdateItemCost(ctx, item.ID, cost, perUnit)
}

// FulfillSale deducts the sale's lines from its warehouse or branch. It
// returns false without error when the sale was already fulfilled.
func (s *Service) FulfillSale(ctx context.Context, id int64) (bool, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return false, err
	}
	if sale.Status == StatusCompleted {
		return false, nil
	}
	warehouses, err := s.saleWarehouses(ctx, sale)
	if err != nil {
		return false, err
	}
	var keys []inventory.BalanceKey
	for _, wh := range warehouses {
		for _, line := range sale.Items {
			keys = append(keys, inventory.BalanceKey{WarehouseID: wh, ItemID: line.ItemID})
		}
	}
	actor := shared.ActorFromContext(ctx)
	err = s.ledger.WithLocks(ctx, keys, func(ctx context.Context) error {
		return s.repo.Do(ctx, func(ctx context.Context, st Stores) error {
			return s.applySale(ctx, st, id, warehouses, actor)
		})
	})
	if errors.Is(err, ErrAlreadyProcessed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.record(ctx, actor, "sale:fulfill", "sales", id, nil)
	s.observe(KindSale, "fulfill")
	return true, nil
}

// saleWarehouses lists the warehouses a sale may draw from, ascending.
func (s *Service) saleWarehouses(ctx context.Context, sale Sale) ([]int64, error) {
	if (sale.WarehouseID == 0) == (sale.BranchID == 0) {
		return nil, ErrInvalidLocationConfiguration
	}
	if sale.WarehouseID != 0 {
		return []int64{sale.WarehouseID}, nil
	}
	warehouses, err := s.repo.BranchWarehouses(ctx, sale.BranchID)
	if err != nil {
		return nil, err
	}
	return sortedIDs(warehouses), nil
}

func (s *Service) applySale(ctx context.Context, st Stores, id int64, warehouses []int64, actor int64) error {
	sale, err := st.Documents.GetSaleForUpdate(ctx, id)
	if err != nil {
		return err
	}
	if sale.Status == StatusCompleted {
		return ErrAlreadyProcessed
	}
	if sale.BranchID != 0 {
		// the pivot may have changed since locks were taken; only the locked set is usable
		current, err := st.Documents.BranchWarehouses(ctx, sale.BranchID)
		if err != nil {
			return err
		}
		warehouses = intersect(warehouses, current)
	}
	var allocations []Allocation
	for _, line := range sale.Items {
		item, err := st.Documents.GetItem(ctx, line.ItemID)
		if err != nil {
			return err
		}
		var lineAllocs []Allocation
		if sale.WarehouseID != 0 {
			lineAllocs, err = s.deductFromWarehouse(ctx, st, sale, line, item, actor)
		} else {
			lineAllocs, err = s.deductFromBranch(ctx, st, sale, line, item, warehouses, actor)
		}
		if err != nil {
			return err
		}
		allocations = append(allocations, lineAllocs...)
	}
	if err := st.Documents.InsertAllocations(ctx, allocations); err != nil {
		return err
	}
	return st.Documents.MarkSaleFulfilled(ctx, sale.ID, s.now())
}

func saleMutation(sale Sale, line SaleItem, item Item, warehouseID int64, qty decimal.Decimal, actor int64) inventory.Mutation {
	m := inventory.Mutation{
		WarehouseID:   warehouseID,
		ItemID:        line.ItemID,
		UnitCapacity:  item.UnitCapacity,
		ReferenceType: inventory.RefSale,
		ReferenceID:   sale.ID,
		Description:   "Sale " + sale.ReferenceNo,
		ActorID:       actor,
	}
	if line.Method == MethodPiece {
		m.Op = inventory.OpSellPieces
		m.Pieces = qty.IntPart()
	} else {
		m.Op = inventory.OpSellUnits
		m.Units = qty
	}
	return m
}

func (s *Service) deductFromWarehouse(ctx context.Context, st Stores, sale Sale, line SaleItem, item Item, actor int64) ([]Allocation, error) {
	m := saleMutation(sale, line, item, sale.WarehouseID, line.Quantity, actor)
	if _, err := s.ledger.Apply(ctx, st.Stock, m); err != nil {
		return nil, err
	}
	return []Allocation{{
		SaleItemID:  line.ID,
		WarehouseID: sale.WarehouseID,
		ItemID:      line.ItemID,
		Method:      line.Method,
		Quantity:    line.Quantity,
	}}, nil
}

// deductFromBranch draws the line greedily from warehouses in ascending id
// order. A shortfall across the branch fails the whole line.
func (s *Service) deductFromBranch(ctx context.Context, st Stores, sale Sale, line SaleItem, item Item, warehouses []int64, actor int64) ([]Allocation, error) {
	remaining := line.Quantity
	var allocations []Allocation
	for _, wh := range warehouses {
		if !remaining.IsPositive() {
			break
		}
		balance, err := s.ledger.Load(ctx, st.Stock, inventory.BalanceKey{WarehouseID: wh, ItemID: line.ItemID})
		if err != nil {
			return nil, err
		}
		available := balance.TotalUnits
		if line.Method == MethodPiece {
			available = decimal.NewFromInt(balance.AvailablePieces(item.UnitCapacity))
		}
		take := decimal.Min(remaining, available)
		if !take.IsPositive() {
			continue
		}
		if _, err := s.ledger.Apply(ctx, st.Stock, saleMutation(sale, line, item, wh, take, actor)); err != nil {
			return nil, err
		}
		allocations = append(allocations, Allocation{
			SaleItemID:  line.ID,
			WarehouseID: wh,
			ItemID:      line.ItemID,
			Method:      line.Method,
			Quantity:    take,
		})
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		return nil, &inventory.InsufficientStockError{
			ItemID:    line.ItemID,
			Available: line.Quantity.Sub(remaining),
			Requested: line.Quantity,
		}
	}
	return allocations, nil
}

// ReverseDocument undoes a document's stock effect, cancels its credit and
// soft-deletes it, all in one transaction.
func (s *Service) ReverseDocument(ctx context.Context, id int64, kind Kind) error {
	actor := shared.ActorFromContext(ctx)
	var err error
	switch kind {
	case KindPurchase:
		err = s.reversePurchase(ctx, id, actor)
	case KindSale:
		err = s.reverseSale(ctx, id, actor)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return err
	}
	s.record(ctx, actor, string(kind)+":delete", string(kind)+"s", id, nil)
	s.observe(kind, "delete")
	return nil
}

func (s *Service) reversePurchase(ctx context.Context, id, actor int64) error {
	p, err := s.repo.GetPurchase(ctx, id)
	if err != nil {
		return err
	}
	var keys []inventory.BalanceKey
	for _, line := range p.Items {
		keys = append(keys, inventory.BalanceKey{WarehouseID: p.WarehouseID, ItemID: line.ItemID})
	}
	return s.ledger.WithLocks(ctx, keys, func(ctx context.Context) error {
		return s.repo.Do(ctx, func(ctx context.Context, st Stores) error {
			p, err := st.Documents.GetPurchaseForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if p.Status == StatusReceived {
				for _, line := range p.Items {
					item, err := st.Documents.GetItem(ctx, line.ItemID)
					if err != nil {
						return err
					}
					pieces, err := inventory.WholePieces(line.Quantity)
					if err != nil {
						return err
					}
					undo := purchaseMutation(p, line, item, pieces, actor).
						Reversal(inventory.RefPurchaseDeleted, "Purchase "+p.ReferenceNo+" deleted")
					if _, err := s.ledger.Apply(ctx, st.Stock, undo); err != nil {
						return err
					}
				}
			}
			if _, err := s.credits.CancelByReference(ctx, st.Credits, credit.RefPurchase, p.ID); err != nil {
				return err
			}
			return st.Documents.SoftDeletePurchase(ctx, p.ID, s.now())
		})
	})
}

func (s *Service) reverseSale(ctx context.Context, id, actor int64) error {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return err
	}
	// a pending sale holds no stock; a fulfilled one returns exactly what it drew
	var keys []inventory.BalanceKey
	if sale.Status == StatusCompleted {
		allocations, err := s.repo.ListAllocations(ctx, sale.ID)
		if err != nil {
			return err
		}
		for _, a := range allocations {
			keys = append(keys, inventory.BalanceKey{WarehouseID: a.WarehouseID, ItemID: a.ItemID})
		}
	}
	return s.ledger.WithLocks(ctx, keys, func(ctx context.Context) error {
		return s.repo.Do(ctx, func(ctx context.Context, st Stores) error {
			sale, err := st.Documents.GetSaleForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if sale.Status == StatusCompleted {
				allocations, err := st.Documents.ListAllocations(ctx, sale.ID)
				if err != nil {
					return err
				}
				for _, a := range allocations {
					if err := s.returnAllocation(ctx, st, sale, a, actor); err != nil {
						return err
					}
				}
			}
			if _, err := s.credits.CancelByReference(ctx, st.Credits, credit.RefSale, sale.ID); err != nil {
				return err
			}
			return st.Documents.SoftDeleteSale(ctx, sale.ID, s.now())
		})
	})
}

func (s *Service) returnAllocation(ctx context.Context, st Stores, sale Sale, a Allocation, actor int64) error {
	item, err := st.Documents.GetItem(ctx, a.ItemID)
	if err != nil {
		return err
	}
	drawn := saleMutation(sale, SaleItem{ItemID: a.ItemID, Method: a.Method}, item, a.WarehouseID, a.Quantity, actor)
	_, err = s.ledger.Apply(ctx, st.Stock, drawn.Reversal(inventory.RefSaleDeleted, "Sale "+sale.ReferenceNo+" deleted"))
	return err
}

// RecordPayment applies a payment to the document's credit.
func (s *Service) RecordPayment(ctx context.Context, id int64, kind Kind, in PaymentInput) (credit.Record, credit.Payment, error) {
	var refType credit.ReferenceType
	switch kind {
	case KindPurchase:
		refType = credit.RefPurchase
	case KindSale:
		refType = credit.RefSale
	default:
		return credit.Record{}, credit.Payment{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	var rec credit.Record
	var paid credit.Payment
	err := s.repo.Do(ctx, func(ctx context.Context, st Stores) error {
		var err error
		if kind == KindPurchase {
			_, err = st.Documents.GetPurchaseForUpdate(ctx, id)
		} else {
			_, err = st.Documents.GetSaleForUpdate(ctx, id)
		}
		if err != nil {
			return err
		}
		found, err := st.Credits.FindByReferenceForUpdate(ctx, refType, id)
		if errors.Is(err, credit.ErrNotFound) {
			return fmt.Errorf("%w: %s %d has nothing due", credit.ErrOverPayment, kind, id)
		}
		if err != nil {
			return err
		}
		rec, paid, err = s.credits.ApplyPayment(ctx, st.Credits, found.ID, credit.PaymentInput{
			Amount:       in.Amount,
			Method:       in.Method,
			ReferenceNo:  in.ReferenceNo,
			BankName:     in.BankName,
			ReceiverName: in.ReceiverName,
			Note:         in.Note,
			PaidAt:       in.PaidAt,
			ActorID:      in.ActorID,
		})
		return err
	})
	if err != nil {
		return credit.Record{}, credit.Payment{}, err
	}
	s.record(ctx, in.ActorID, string(kind)+":payment", "credit_payments", paid.ID, map[string]any{
		"credit_id": rec.ID,
		"amount":    paid.Amount.StringFixed(2),
		"status":    string(rec.Status),
	})
	s.observe(kind, "payment")
	return rec, paid, nil
}

// GetPurchase returns a purchase with its settlement projected from its credit.
func (s *Service) GetPurchase(ctx context.Context, id int64) (Purchase, error) {
	p, err := s.repo.GetPurchase(ctx, id)
	if err != nil {
		return Purchase{}, err
	}
	p.Settlement, err = s.project(ctx, credit.RefPurchase, p.ID, p.Total, p.PaidAtCreation)
	if err != nil {
		return Purchase{}, err
	}
	return p, nil
}

// GetSale returns a sale with its settlement projected from its credit.
func (s *Service) GetSale(ctx context.Context, id int64) (Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return Sale{}, err
	}
	sale.Settlement, err = s.project(ctx, credit.RefSale, sale.ID, sale.Total, sale.PaidAtCreation)
	if err != nil {
		return Sale{}, err
	}
	return sale, nil
}

func (s *Service) project(ctx context.Context, refType credit.ReferenceType, id int64, total, paidAtCreation decimal.Decimal) (Settlement, error) {
	rec, err := s.lookup.FindByReference(ctx, refType, id)
	if errors.Is(err, credit.ErrNotFound) {
		due, status := payment.Resolve(total, paidAtCreation)
		return Settlement{Total: total, PaidAmount: paidAtCreation, DueAmount: due, PaymentStatus: status}, nil
	}
	if err != nil {
		return Settlement{}, err
	}
	paid, due, status := rec.DocumentView()
	return Settlement{Total: total, PaidAmount: paid, DueAmount: due, PaymentStatus: status, CreditID: rec.ID}, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) observe(kind Kind, action string) {
	if s.metrics != nil {
		s.metrics.ObserveDocument(string(kind), action)
	}
}

func sortedIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// intersect keeps the ids of locked that are still present in current.
func intersect(locked, current []int64) []int64 {
	out := make([]int64, 0, len(locked))
	for _, id := range locked {
		if slices.Contains(current, id) {
			out = append(out, id)
		}
	}
	return out
}
