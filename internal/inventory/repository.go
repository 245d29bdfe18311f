package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hirebirhan/amtradingplc/internal/platform/db"
	"github.com/hirebirhan/amtradingplc/internal/shared"
)

// Repository persists stock balances and history in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, warehouseID, itemID int64) (Balance, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertHistory(ctx context.Context, entry HistoryEntry) (int64, error)
}

// ErrBalanceNotFound indicates missing balance row.
var ErrBalanceNotFound = errors.New("inventory balance not found")

type txRepo struct {
	q db.Querier
}

// NewTxRepository binds the stock queries to an open transaction so callers
// that own the transaction can mix stock writes with their own.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{q: tx}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const balanceColumns = `warehouse_id, item_id, piece_count, total_units, current_piece_units, updated_at`

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	var updated pgtype.Timestamptz
	if err := row.Scan(&b.WarehouseID, &b.ItemID, &b.PieceCount, &b.TotalUnits, &b.CurrentPieceUnits, &updated); err != nil {
		return Balance{}, err
	}
	b.UpdatedAt = updated.Time
	return b, nil
}

func (r *txRepo) GetBalanceForUpdate(ctx context.Context, warehouseID, itemID int64) (Balance, error) {
	row := r.q.QueryRow(ctx, `SELECT `+balanceColumns+`
		FROM stock_balances
		WHERE warehouse_id = $1 AND item_id = $2
		FOR UPDATE`, warehouseID, itemID)
	b, err := scanBalance(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{WarehouseID: warehouseID, ItemID: itemID}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func (r *txRepo) UpsertBalance(ctx context.Context, b Balance) error {
	// quantity mirrors piece_count for legacy reports
	_, err := r.q.Exec(ctx, `
		INSERT INTO stock_balances (warehouse_id, item_id, piece_count, quantity, total_units, current_piece_units, updated_at)
		VALUES ($1, $2, $3, $3, $4, $5, $6)
		ON CONFLICT (warehouse_id, item_id) DO UPDATE SET
			piece_count = EXCLUDED.piece_count,
			quantity = EXCLUDED.quantity,
			total_units = EXCLUDED.total_units,
			current_piece_units = EXCLUDED.current_piece_units,
			updated_at = EXCLUDED.updated_at`,
		b.WarehouseID, b.ItemID, b.PieceCount, b.TotalUnits, b.CurrentPieceUnits, b.UpdatedAt)
	return err
}

func (r *txRepo) InsertHistory(ctx context.Context, e HistoryEntry) (int64, error) {
	var refID, actor pgtype.Int8
	if e.ReferenceID > 0 {
		refID = pgtype.Int8{Int64: e.ReferenceID, Valid: true}
	}
	if e.ActorID > 0 {
		actor = pgtype.Int8{Int64: e.ActorID, Valid: true}
	}
	var id int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO stock_history (
			item_id, warehouse_id,
			pieces_before, pieces_after, pieces_change,
			units_before, units_after, units_change,
			reference_type, reference_id, description, user_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		e.ItemID, e.WarehouseID,
		e.PiecesBefore, e.PiecesAfter, e.PiecesChange,
		e.UnitsBefore, e.UnitsAfter, e.UnitsChange,
		string(e.ReferenceType), refID, e.Description, actor, e.CreatedAt,
	).Scan(&id)
	return id, err
}

// SumBalances totals units of item over the given warehouses and the pieces
// those balances can sell, each row capped at floor(units / capacity).
func (r *Repository) SumBalances(ctx context.Context, itemID int64, warehouseIDs []int64) (int64, decimal.Decimal, error) {
	var pieces int64
	var units decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(GREATEST(LEAST(b.piece_count, FLOOR(b.total_units / i.unit_quantity)), 0)), 0)::bigint,
		       COALESCE(SUM(b.total_units), 0)
		FROM stock_balances b
		JOIN items i ON i.id = b.item_id
		WHERE b.item_id = $1 AND b.warehouse_id = ANY($2)`, itemID, warehouseIDs).Scan(&pieces, &units)
	if err != nil {
		return 0, decimal.Zero, err
	}
	return pieces, units, nil
}

// BranchWarehouses lists the warehouses of a branch in ascending id order.
func (r *Repository) BranchWarehouses(ctx context.Context, branchID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT warehouse_id FROM branch_warehouses
		WHERE branch_id = $1
		ORDER BY warehouse_id`, branchID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ListHistory returns entries oldest first.
func (r *Repository) ListHistory(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, item_id, warehouse_id,
			pieces_before, pieces_after, pieces_change,
			units_before, units_after, units_change,
			reference_type, reference_id, description, user_id, created_at
		FROM stock_history
		WHERE item_id = $1 AND warehouse_id = $2
			AND ($3::timestamptz IS NULL OR created_at >= $3)
			AND ($4::timestamptz IS NULL OR created_at < $4)
		ORDER BY created_at, id
		LIMIT $5`,
		filter.ItemID, filter.WarehouseID,
		pgtype.Timestamptz{Time: filter.From, Valid: !filter.From.IsZero()},
		pgtype.Timestamptz{Time: filter.To, Valid: !filter.To.IsZero()},
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var ref string
		var refID, actor pgtype.Int8
		var created pgtype.Timestamptz
		if err := rows.Scan(&e.ID, &e.ItemID, &e.WarehouseID,
			&e.PiecesBefore, &e.PiecesAfter, &e.PiecesChange,
			&e.UnitsBefore, &e.UnitsAfter, &e.UnitsChange,
			&ref, &refID, &e.Description, &actor, &created); err != nil {
			return nil, err
		}
		e.ReferenceType = ReferenceType(ref)
		e.ReferenceID = refID.Int64
		e.ActorID = actor.Int64
		e.CreatedAt = created.Time
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListBalances pages through balances keyed after (afterWarehouse, afterItem).
func (r *Repository) ListBalances(ctx context.Context, afterWarehouse, afterItem int64, limit int) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+balanceColumns+`
		FROM stock_balances
		WHERE (warehouse_id, item_id) > ($1, $2)
		ORDER BY warehouse_id, item_id
		LIMIT $3`, afterWarehouse, afterItem, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// UnitCapacity returns the units per piece configured for item.
func (r *Repository) UnitCapacity(ctx context.Context, itemID int64) (decimal.Decimal, error) {
	var capacity decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT unit_quantity FROM items WHERE id = $1`, itemID).Scan(&capacity)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: item %d", shared.ErrNotFound, itemID)
	}
	return capacity, err
}
