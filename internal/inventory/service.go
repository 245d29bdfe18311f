package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/hirebirhan/amtradingplc/internal/platform/lock"
	"github.com/hirebirhan/amtradingplc/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	SumBalances(ctx context.Context, itemID int64, warehouseIDs []int64) (int64, decimal.Decimal, error)
	BranchWarehouses(ctx context.Context, branchID int64) ([]int64, error)
	ListHistory(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error)
	ListBalances(ctx context.Context, afterWarehouse, afterItem int64, limit int) ([]Balance, error)
	UnitCapacity(ctx context.Context, itemID int64) (decimal.Decimal, error)
}

// Locker hands out per-key leases.
type Locker interface {
	Obtain(ctx context.Context, key string) (lock.Lease, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsRecorder receives ledger counters.
type MetricsRecorder interface {
	ObserveStockMutation(op, reference string)
	ObserveStockRejection(op string)
}

// Service applies ledger primitives to persisted balances.
type Service struct {
	repo    RepositoryPort
	locker  Locker
	audit   AuditPort
	metrics MetricsRecorder
	logger  *slog.Logger
	reads   singleflight.Group
	now     func() time.Time
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Audit   AuditPort
	Metrics MetricsRecorder
	Logger  *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, locker Locker, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		locker:  locker,
		audit:   cfg.Audit,
		metrics: cfg.Metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type lockScopeKey struct{}

type lockScope struct {
	held map[BalanceKey]struct{}
}

func scopeFrom(ctx context.Context) *lockScope {
	scope, _ := ctx.Value(lockScopeKey{}).(*lockScope)
	return scope
}

// Holds reports whether ctx carries the lock for key.
func Holds(ctx context.Context, key BalanceKey) bool {
	scope := scopeFrom(ctx)
	if scope == nil {
		return false
	}
	_, ok := scope.held[key]
	return ok
}

// SortKeys orders keys by warehouse then item and drops duplicates.
func SortKeys(keys []BalanceKey) []BalanceKey {
	out := make([]BalanceKey, 0, len(keys))
	seen := make(map[BalanceKey]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WarehouseID != out[j].WarehouseID {
			return out[i].WarehouseID < out[j].WarehouseID
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out
}

// WithLocks runs fn while holding the balance locks for keys. Locks are taken
// in ascending (warehouse, item) order; keys already held by an enclosing
// scope are not taken again. Every Apply call must happen inside fn.
func (s *Service) WithLocks(ctx context.Context, keys []BalanceKey, fn func(context.Context) error) error {
	if s.locker == nil {
		return errors.New("inventory: locker not configured")
	}
	parent := scopeFrom(ctx)
	scope := &lockScope{held: make(map[BalanceKey]struct{})}
	if parent != nil {
		for k := range parent.held {
			scope.held[k] = struct{}{}
		}
	}
	var leases []lock.Lease
	defer func() {
		// release in reverse acquisition order, detached from request cancellation
		releaseCtx := context.WithoutCancel(ctx)
		for i := len(leases) - 1; i >= 0; i-- {
			if err := leases[i].Release(releaseCtx); err != nil {
				s.logger.Warn("release stock lock", slog.Any("error", err))
			}
		}
	}()
	for _, key := range SortKeys(keys) {
		if _, ok := scope.held[key]; ok {
			continue
		}
		lease, err := s.locker.Obtain(ctx, shared.StockLockKey(key.WarehouseID, key.ItemID))
		if err != nil {
			return fmt.Errorf("inventory: lock warehouse %d item %d: %w", key.WarehouseID, key.ItemID, err)
		}
		leases = append(leases, lease)
		scope.held[key] = struct{}{}
	}
	return fn(context.WithValue(ctx, lockScopeKey{}, scope))
}

// Load reads a balance for update. The caller must hold its lock.
func (s *Service) Load(ctx context.Context, tx TxRepository, key BalanceKey) (Balance, error) {
	if !Holds(ctx, key) {
		return Balance{}, fmt.Errorf("%w: warehouse %d item %d", ErrLockNotHeld, key.WarehouseID, key.ItemID)
	}
	balance, err := tx.GetBalanceForUpdate(ctx, key.WarehouseID, key.ItemID)
	if errors.Is(err, ErrBalanceNotFound) {
		return Balance{WarehouseID: key.WarehouseID, ItemID: key.ItemID, TotalUnits: decimal.Zero}, nil
	}
	if err != nil {
		return Balance{}, err
	}
	return balance, nil
}

// Apply performs one mutation inside tx and appends its history entry. On
// any error nothing is written. The caller must hold the balance lock.
func (s *Service) Apply(ctx context.Context, tx TxRepository, m Mutation) (HistoryEntry, error) {
	if m.WarehouseID == 0 || m.ItemID == 0 {
		return HistoryEntry{}, errors.New("inventory: warehouse and item required")
	}
	before, err := s.Load(ctx, tx, m.Key())
	if err != nil {
		return HistoryEntry{}, err
	}
	after, err := before.Apply(m.Op, m.Pieces, m.Units, m.UnitCapacity)
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) && s.metrics != nil {
			s.metrics.ObserveStockRejection(string(m.Op))
		}
		return HistoryEntry{}, err
	}
	now := s.now()
	after.UpdatedAt = now
	if err := tx.UpsertBalance(ctx, after); err != nil {
		return HistoryEntry{}, err
	}
	entry := entryFor(before, after, m)
	entry.CreatedAt = now
	id, err := tx.InsertHistory(ctx, entry)
	if err != nil {
		return HistoryEntry{}, err
	}
	entry.ID = id
	if s.metrics != nil {
		s.metrics.ObserveStockMutation(string(m.Op), string(m.ReferenceType))
	}
	return entry, nil
}

// Adjust adds (positive) or removes (negative) whole pieces outside any document.
func (s *Service) Adjust(ctx context.Context, input AdjustmentInput) (HistoryEntry, error) {
	if input.WarehouseID == 0 || input.ItemID == 0 {
		return HistoryEntry{}, errors.New("inventory: warehouse and item required")
	}
	if input.Pieces == 0 {
		return HistoryEntry{}, ErrInvalidQuantity
	}
	capacity, err := s.capacityFor(ctx, input.ItemID)
	if err != nil {
		return HistoryEntry{}, err
	}
	m := Mutation{
		Op:            OpAddPieces,
		WarehouseID:   input.WarehouseID,
		ItemID:        input.ItemID,
		Pieces:        input.Pieces,
		UnitCapacity:  capacity,
		ReferenceType: RefAdjustment,
		Description:   input.Note,
		ActorID:       input.ActorID,
	}
	if input.Pieces < 0 {
		m.Op = OpSellPieces
		m.Pieces = -input.Pieces
	}
	var entry HistoryEntry
	err = s.WithLocks(ctx, []BalanceKey{m.Key()}, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			entry, err = s.Apply(ctx, tx, m)
			return err
		})
	})
	if err != nil {
		return HistoryEntry{}, err
	}
	s.record(ctx, input.ActorID, "inventory:adjust", entry)
	return entry, nil
}

// Transfer moves whole pieces between warehouses as OUT + IN in one transaction.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (HistoryEntry, HistoryEntry, error) {
	if input.SrcWarehouse == 0 || input.DstWarehouse == 0 || input.ItemID == 0 {
		return HistoryEntry{}, HistoryEntry{}, errors.New("inventory: warehouse and item required")
	}
	if input.SrcWarehouse == input.DstWarehouse {
		return HistoryEntry{}, HistoryEntry{}, errors.New("inventory: source and destination warehouse must differ")
	}
	if input.Pieces <= 0 {
		return HistoryEntry{}, HistoryEntry{}, ErrInvalidQuantity
	}
	capacity, err := s.capacityFor(ctx, input.ItemID)
	if err != nil {
		return HistoryEntry{}, HistoryEntry{}, err
	}
	out := Mutation{
		Op:            OpSellPieces,
		WarehouseID:   input.SrcWarehouse,
		ItemID:        input.ItemID,
		Pieces:        input.Pieces,
		UnitCapacity:  capacity,
		ReferenceType: RefTransferOut,
		ReferenceID:   input.ReferenceID,
		Description:   fmt.Sprintf("Transfer to warehouse %d: %s", input.DstWarehouse, input.Note),
		ActorID:       input.ActorID,
	}
	in := out
	in.Op = OpAddPieces
	in.WarehouseID = input.DstWarehouse
	in.ReferenceType = RefTransferIn
	in.Description = fmt.Sprintf("Transfer from warehouse %d: %s", input.SrcWarehouse, input.Note)

	var outEntry, inEntry HistoryEntry
	err = s.WithLocks(ctx, []BalanceKey{out.Key(), in.Key()}, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			if outEntry, err = s.Apply(ctx, tx, out); err != nil {
				return err
			}
			inEntry, err = s.Apply(ctx, tx, in)
			return err
		})
	})
	if err != nil {
		return HistoryEntry{}, HistoryEntry{}, err
	}
	s.record(ctx, input.ActorID, "inventory:transfer", outEntry)
	return outEntry, inEntry, nil
}

// PiecesAvailable returns the whole pieces of item that can be sold across the
// scope, counting per balance no more pieces than its units can cover.
func (s *Service) PiecesAvailable(ctx context.Context, itemID int64, scope Scope) (int64, error) {
	av, err := s.Availability(ctx, itemID, scope)
	if err != nil {
		return 0, err
	}
	return av.Pieces, nil
}

// UnitsAvailable returns total units of item across the scope.
func (s *Service) UnitsAvailable(ctx context.Context, itemID int64, scope Scope) (decimal.Decimal, error) {
	av, err := s.Availability(ctx, itemID, scope)
	if err != nil {
		return decimal.Zero, err
	}
	return av.Units, nil
}

const availabilityTimeout = 10 * time.Second

// Availability sums pieces and units for item across a warehouse or branch.
// Identical concurrent reads share one query.
func (s *Service) Availability(ctx context.Context, itemID int64, scope Scope) (Availability, error) {
	if itemID == 0 {
		return Availability{}, errors.New("inventory: item required")
	}
	if (scope.WarehouseID == 0) == (scope.BranchID == 0) {
		return Availability{}, ErrInvalidScope
	}
	key := fmt.Sprintf("%d:w%d:b%d", itemID, scope.WarehouseID, scope.BranchID)
	ch := s.reads.DoChan(key, func() (interface{}, error) {
		// shared by every waiter on key, so it must outlive the caller that started it
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), availabilityTimeout)
		defer cancel()
		warehouses := []int64{scope.WarehouseID}
		if scope.BranchID != 0 {
			ids, err := s.repo.BranchWarehouses(ctx, scope.BranchID)
			if err != nil {
				return nil, err
			}
			warehouses = ids
		}
		if len(warehouses) == 0 {
			return Availability{ItemID: itemID, Scope: scope, Units: decimal.Zero}, nil
		}
		pieces, units, err := s.repo.SumBalances(ctx, itemID, warehouses)
		if err != nil {
			return nil, err
		}
		return Availability{ItemID: itemID, Scope: scope, Pieces: pieces, Units: units}, nil
	})
	select {
	case <-ctx.Done():
		return Availability{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Availability{}, res.Err
		}
		return res.Val.(Availability), nil
	}
}

// History lists history entries for an item in a warehouse, oldest first.
func (s *Service) History(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error) {
	if filter.WarehouseID == 0 || filter.ItemID == 0 {
		return nil, errors.New("inventory: warehouse and item required")
	}
	return s.repo.ListHistory(ctx, filter)
}

// ScanIntegrity walks every balance and returns those breaking an invariant.
func (s *Service) ScanIntegrity(ctx context.Context, pageSize int) ([]Violation, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	var violations []Violation
	var afterWarehouse, afterItem int64
	for {
		page, err := s.repo.ListBalances(ctx, afterWarehouse, afterItem, pageSize)
		if err != nil {
			return nil, err
		}
		for _, b := range page {
			for _, reason := range b.Check() {
				violations = append(violations, Violation{Balance: b, Reason: reason})
			}
		}
		if len(page) < pageSize {
			return violations, nil
		}
		last := page[len(page)-1]
		afterWarehouse, afterItem = last.WarehouseID, last.ItemID
	}
}

// capacityFor returns the item's configured units per piece.
func (s *Service) capacityFor(ctx context.Context, itemID int64) (decimal.Decimal, error) {
	capacity, err := s.repo.UnitCapacity(ctx, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	if !capacity.IsPositive() {
		return decimal.Zero, ErrInvalidCapacity
	}
	return capacity, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, entry HistoryEntry) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_history",
		EntityID: fmt.Sprintf("%d", entry.ID),
		Meta: map[string]any{
			"warehouse_id":  entry.WarehouseID,
			"item_id":       entry.ItemID,
			"pieces_change": entry.PiecesChange,
			"units_change":  entry.UnitsChange.String(),
		},
	})
	if err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
