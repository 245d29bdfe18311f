package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hirebirhan/amtradingplc/internal/platform/lock"
	"github.com/hirebirhan/amtradingplc/internal/shared"
)

type memoryRepo struct {
	mu         sync.Mutex
	balances   map[BalanceKey]Balance
	history    []HistoryEntry
	branches   map[int64][]int64
	capacities map[int64]decimal.Decimal
	failInsert bool
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		balances:   make(map[BalanceKey]Balance),
		branches:   make(map[int64][]int64),
		capacities: map[int64]decimal.Decimal{7: decimal.NewFromInt(10)},
	}
}

// WithTx snapshots state and restores it when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[BalanceKey]Balance, len(r.balances))
	for k, v := range r.balances {
		snapshot[k] = v
	}
	historyLen := len(r.history)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.balances = snapshot
		r.history = r.history[:historyLen]
		return err
	}
	return nil
}

func (r *memoryRepo) SumBalances(_ context.Context, itemID int64, warehouseIDs []int64) (int64, decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pieces int64
	units := decimal.Zero
	for _, wh := range warehouseIDs {
		b := r.balances[BalanceKey{WarehouseID: wh, ItemID: itemID}]
		pieces += b.AvailablePieces(r.capacities[itemID])
		units = units.Add(b.TotalUnits)
	}
	return pieces, units, nil
}

func (r *memoryRepo) BranchWarehouses(_ context.Context, branchID int64) ([]int64, error) {
	return r.branches[branchID], nil
}

func (r *memoryRepo) ListHistory(_ context.Context, filter HistoryFilter) ([]HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []HistoryEntry
	for _, e := range r.history {
		if e.ItemID == filter.ItemID && e.WarehouseID == filter.WarehouseID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListBalances(_ context.Context, afterWarehouse, afterItem int64, limit int) ([]Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []Balance
	for _, b := range r.balances {
		if b.WarehouseID > afterWarehouse || (b.WarehouseID == afterWarehouse && b.ItemID > afterItem) {
			all = append(all, b)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].WarehouseID != all[j].WarehouseID {
			return all[i].WarehouseID < all[j].WarehouseID
		}
		return all[i].ItemID < all[j].ItemID
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *memoryRepo) UnitCapacity(_ context.Context, itemID int64) (decimal.Decimal, error) {
	c, ok := r.capacities[itemID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: item %d", shared.ErrNotFound, itemID)
	}
	return c, nil
}

func (tx *memoryTx) GetBalanceForUpdate(_ context.Context, warehouseID, itemID int64) (Balance, error) {
	if b, ok := tx.repo.balances[BalanceKey{WarehouseID: warehouseID, ItemID: itemID}]; ok {
		return b, nil
	}
	return Balance{WarehouseID: warehouseID, ItemID: itemID}, ErrBalanceNotFound
}

func (tx *memoryTx) UpsertBalance(_ context.Context, b Balance) error {
	tx.repo.balances[b.Key()] = b
	return nil
}

func (tx *memoryTx) InsertHistory(_ context.Context, e HistoryEntry) (int64, error) {
	if tx.repo.failInsert {
		return 0, fmt.Errorf("history insert failed")
	}
	e.ID = int64(len(tx.repo.history) + 1)
	tx.repo.history = append(tx.repo.history, e)
	return e.ID, nil
}

type recordingLocker struct {
	inner *lock.Local
	mu    sync.Mutex
	keys  []string
}

func (l *recordingLocker) Obtain(ctx context.Context, key string) (lock.Lease, error) {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return l.inner.Obtain(ctx, key)
}

type countingMetrics struct {
	mutations  int
	rejections int
}

func (m *countingMetrics) ObserveStockMutation(string, string) { m.mutations++ }
func (m *countingMetrics) ObserveStockRejection(string)        { m.rejections++ }

func newTestService(repo *memoryRepo) (*Service, *recordingLocker, *countingMetrics) {
	locker := &recordingLocker{inner: lock.NewLocal(lock.Options{RetryEvery: time.Millisecond, RetryLimit: 20})}
	metrics := &countingMetrics{}
	svc := NewService(repo, locker, ServiceConfig{Metrics: metrics})
	return svc, locker, metrics
}

func TestApplyRequiresLock(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := svc.Apply(ctx, tx, Mutation{Op: OpAddPieces, WarehouseID: 1, ItemID: 7, Pieces: 1, UnitCapacity: d("10")})
		return err
	})
	require.ErrorIs(t, err, ErrLockNotHeld)
	require.Empty(t, repo.balances)
}

func TestApplyWritesHistoryWithBeforeAfter(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, metrics := newTestService(repo)
	ctx := context.Background()
	key := BalanceKey{WarehouseID: 1, ItemID: 7}

	var entries []HistoryEntry
	err := svc.WithLocks(ctx, []BalanceKey{key}, func(ctx context.Context) error {
		return repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			e, err := svc.Apply(ctx, tx, Mutation{Op: OpAddPieces, WarehouseID: 1, ItemID: 7, Pieces: 2, UnitCapacity: d("10"), ReferenceType: RefPurchase, ReferenceID: 11})
			if err != nil {
				return err
			}
			entries = append(entries, e)
			e, err = svc.Apply(ctx, tx, Mutation{Op: OpSellUnits, WarehouseID: 1, ItemID: 7, Units: d("15"), UnitCapacity: d("10"), ReferenceType: RefSale, ReferenceID: 12})
			entries = append(entries, e)
			return err
		})
	})
	require.NoError(t, err)
	require.Equal(t, 2, metrics.mutations)

	requireBalance(t, repo.balances[key], 1, "5", "5")
	require.Len(t, repo.history, 2)
	sale := entries[1]
	require.EqualValues(t, 2, sale.PiecesBefore)
	require.EqualValues(t, 1, sale.PiecesAfter)
	require.EqualValues(t, -1, sale.PiecesChange)
	require.True(t, d("20").Equal(sale.UnitsBefore))
	require.True(t, d("5").Equal(sale.UnitsAfter))
	require.True(t, d("-15").Equal(sale.UnitsChange))
	require.Equal(t, RefSale, sale.ReferenceType)
	require.EqualValues(t, 12, sale.ReferenceID)
	for _, e := range repo.history {
		require.Equal(t, e.PiecesAfter-e.PiecesBefore, e.PiecesChange)
		require.True(t, e.UnitsAfter.Sub(e.UnitsBefore).Equal(e.UnitsChange))
	}
}

func TestApplyRejectionWritesNothing(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, metrics := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Adjust(ctx, AdjustmentInput{WarehouseID: 1, ItemID: 7, Pieces: 1})
	require.NoError(t, err)
	before := repo.balances[BalanceKey{WarehouseID: 1, ItemID: 7}]

	_, err = svc.Adjust(ctx, AdjustmentInput{WarehouseID: 1, ItemID: 7, Pieces: -2})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Equal(t, before, repo.balances[BalanceKey{WarehouseID: 1, ItemID: 7}])
	require.Len(t, repo.history, 1)
	require.Equal(t, 1, metrics.rejections)
}

func TestHistoryFailureRollsBackBalance(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo)
	repo.failInsert = true

	_, err := svc.Adjust(context.Background(), AdjustmentInput{WarehouseID: 1, ItemID: 7, Pieces: 3})
	require.Error(t, err)
	require.Empty(t, repo.balances)
}

func TestTransferMovesWholePieces(t *testing.T) {
	repo := newMemoryRepo()
	svc, locker, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Adjust(ctx, AdjustmentInput{WarehouseID: 2, ItemID: 7, Pieces: 4})
	require.NoError(t, err)

	out, in, err := svc.Transfer(ctx, TransferInput{ItemID: 7, Pieces: 3, SrcWarehouse: 2, DstWarehouse: 1})
	require.NoError(t, err)
	require.Equal(t, RefTransferOut, out.ReferenceType)
	require.Equal(t, RefTransferIn, in.ReferenceType)
	requireBalance(t, repo.balances[BalanceKey{WarehouseID: 2, ItemID: 7}], 1, "10", "10")
	requireBalance(t, repo.balances[BalanceKey{WarehouseID: 1, ItemID: 7}], 3, "30", "10")

	// locks taken in ascending warehouse order regardless of direction
	require.Equal(t, []string{
		shared.StockLockKey(2, 7),
		shared.StockLockKey(1, 7),
		shared.StockLockKey(2, 7),
	}, locker.keys)

	_, _, err = svc.Transfer(ctx, TransferInput{ItemID: 7, Pieces: 5, SrcWarehouse: 2, DstWarehouse: 1})
	require.ErrorIs(t, err, ErrInsufficientStock)
	requireBalance(t, repo.balances[BalanceKey{WarehouseID: 1, ItemID: 7}], 3, "30", "10")
}

func TestWithLocksIsReentrant(t *testing.T) {
	repo := newMemoryRepo()
	svc, locker, _ := newTestService(repo)
	key := BalanceKey{WarehouseID: 1, ItemID: 7}

	err := svc.WithLocks(context.Background(), []BalanceKey{key, key}, func(ctx context.Context) error {
		require.True(t, Holds(ctx, key))
		return svc.WithLocks(ctx, []BalanceKey{key}, func(ctx context.Context) error {
			require.True(t, Holds(ctx, key))
			return nil
		})
	})
	require.NoError(t, err)
	require.Len(t, locker.keys, 1)

	// released afterwards
	lease, err := locker.inner.Obtain(context.Background(), shared.StockLockKey(1, 7))
	require.NoError(t, err)
	require.NoError(t, lease.Release(context.Background()))
}

func TestConcurrentUnitSalesSerialise(t *testing.T) {
	repo := newMemoryRepo()
	locker := lock.NewLocal(lock.Options{RetryEvery: time.Millisecond, RetryLimit: 5000})
	svc := NewService(repo, locker, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Adjust(ctx, AdjustmentInput{WarehouseID: 1, ItemID: 7, Pieces: 5})
	require.NoError(t, err)

	key := BalanceKey{WarehouseID: 1, ItemID: 7}
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.WithLocks(ctx, []BalanceKey{key}, func(ctx context.Context) error {
				return repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
					_, err := svc.Apply(ctx, tx, Mutation{Op: OpSellUnits, WarehouseID: 1, ItemID: 7, Units: d("2.5"), UnitCapacity: d("10"), ReferenceType: RefSale})
					return err
				})
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	requireBalance(t, repo.balances[key], 0, "0", "0")
	require.Len(t, repo.history, 21)
}

func TestAvailabilityByBranch(t *testing.T) {
	repo := newMemoryRepo()
	repo.branches[9] = []int64{1, 2}
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Adjust(ctx, AdjustmentInput{WarehouseID: 1, ItemID: 7, Pieces: 2})
	require.NoError(t, err)
	_, err = svc.Adjust(ctx, AdjustmentInput{WarehouseID: 2, ItemID: 7, Pieces: 3})
	require.NoError(t, err)
	_, err = svc.Adjust(ctx, AdjustmentInput{WarehouseID: 3, ItemID: 7, Pieces: 8})
	require.NoError(t, err)

	pieces, err := svc.PiecesAvailable(ctx, 7, Scope{BranchID: 9})
	require.NoError(t, err)
	require.EqualValues(t, 5, pieces)

	units, err := svc.UnitsAvailable(ctx, 7, Scope{WarehouseID: 3})
	require.NoError(t, err)
	require.True(t, d("80").Equal(units))

	_, err = svc.Availability(ctx, 7, Scope{WarehouseID: 1, BranchID: 9})
	require.ErrorIs(t, err, ErrInvalidScope)

	empty, err := svc.Availability(ctx, 7, Scope{BranchID: 42})
	require.NoError(t, err)
	require.EqualValues(t, 0, empty.Pieces)
}

func TestScanIntegrityPages(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo)
	for wh := int64(1); wh <= 5; wh++ {
		b := stock(1, "10", "10")
		b.WarehouseID = wh
		repo.balances[b.Key()] = b
	}
	broken := stock(0, "4", "0")
	broken.WarehouseID = 3
	broken.ItemID = 8
	repo.balances[broken.Key()] = broken

	violations, err := svc.ScanIntegrity(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	require.Equal(t, broken.Key(), violations[0].Balance.Key())
}

func TestAdjustUnknownItem(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo)
	_, err := svc.Adjust(context.Background(), AdjustmentInput{WarehouseID: 1, ItemID: 99, Pieces: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPiecesAvailableMatchesWhatCanBeSold(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo)
	ctx := context.Background()
	key := BalanceKey{WarehouseID: 1, ItemID: 7}
	repo.balances[key] = stock(2, "15", "5")

	err := svc.WithLocks(ctx, []BalanceKey{key}, func(ctx context.Context) error {
		return repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			_, err := svc.Apply(ctx, tx, Mutation{Op: OpSellUnits, WarehouseID: 1, ItemID: 7, Units: d("5"), UnitCapacity: d("10"), ReferenceType: RefSale})
			return err
		})
	})
	require.NoError(t, err)
	requireBalance(t, repo.balances[key], 2, "10", "0")

	pieces, err := svc.PiecesAvailable(ctx, 7, Scope{WarehouseID: 1})
	require.NoError(t, err)
	require.EqualValues(t, 1, pieces)

	_, err = svc.Adjust(ctx, AdjustmentInput{WarehouseID: 1, ItemID: 7, Pieces: -1})
	require.NoError(t, err)
	require.EqualValues(t, 1, repo.balances[key].PieceCount)

	pieces, err = svc.PiecesAvailable(ctx, 7, Scope{WarehouseID: 1})
	require.NoError(t, err)
	require.Zero(t, pieces)
	_, err = svc.Adjust(ctx, AdjustmentInput{WarehouseID: 1, ItemID: 7, Pieces: -1})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

// slowSums blocks SumBalances until released and reports the context error
// the shared query saw.
type slowSums struct {
	*memoryRepo
	started chan struct{}
	release chan struct{}
	seen    chan error
}

func (r *slowSums) SumBalances(ctx context.Context, itemID int64, warehouseIDs []int64) (int64, decimal.Decimal, error) {
	select {
	case r.started <- struct{}{}:
	default:
	}
	<-r.release
	err := ctx.Err()
	r.seen <- err
	if err != nil {
		return 0, decimal.Zero, err
	}
	return r.memoryRepo.SumBalances(ctx, itemID, warehouseIDs)
}

func TestAvailabilitySurvivesFirstCallerCancel(t *testing.T) {
	repo := &slowSums{
		memoryRepo: newMemoryRepo(),
		started:    make(chan struct{}, 1),
		release:    make(chan struct{}),
		seen:       make(chan error, 2),
	}
	repo.balances[BalanceKey{WarehouseID: 1, ItemID: 7}] = stock(3, "30", "10")
	svc := NewService(repo, lock.NewLocal(lock.Options{}), ServiceConfig{})

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Availability(first, 7, Scope{WarehouseID: 1})
		firstErr <- err
	}()
	<-repo.started
	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	second := make(chan Availability, 1)
	secondErr := make(chan error, 1)
	go func() {
		av, err := svc.Availability(context.Background(), 7, Scope{WarehouseID: 1})
		second <- av
		secondErr <- err
	}()
	close(repo.release)

	require.NoError(t, <-repo.seen, "shared query must not inherit the first caller's cancellation")
	require.NoError(t, <-secondErr)
	require.EqualValues(t, 3, (<-second).Pieces)
}
