package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hirebirhan/amtradingplc/internal/credit"
	"github.com/hirebirhan/amtradingplc/internal/inventory"
	"github.com/hirebirhan/amtradingplc/internal/platform/db"
)

// Repository persists purchases and sales in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Do binds document, stock and credit stores to one repeatable-read transaction.
func (r *Repository) Do(ctx context.Context, fn func(context.Context, Stores) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, Stores{
			Documents: &docStore{tx: tx},
			Stock:     inventory.NewTxRepository(tx),
			Credits:   credit.NewTxRepository(tx),
		})
	})
}

// GetPurchase loads a live purchase with its lines.
func (r *Repository) GetPurchase(ctx context.Context, id int64) (Purchase, error) {
	return loadPurchase(ctx, r.pool, id, "")
}

// GetSale loads a live sale with its lines.
func (r *Repository) GetSale(ctx context.Context, id int64) (Sale, error) {
	return loadSale(ctx, r.pool, id, "")
}

// BranchWarehouses lists the warehouses attached to a branch.
func (r *Repository) BranchWarehouses(ctx context.Context, branchID int64) ([]int64, error) {
	return branchWarehouses(ctx, r.pool, branchID)
}

// ListAllocations returns the warehouse draws recorded for a sale.
func (r *Repository) ListAllocations(ctx context.Context, saleID int64) ([]Allocation, error) {
	return listAllocations(ctx, r.pool, saleID)
}

type docStore struct {
	tx pgx.Tx
}

func (s *docStore) GetItem(ctx context.Context, id int64) (Item, error) {
	var item Item
	var perUnit, sellPerUnit pgtype.Numeric
	err := s.tx.QueryRow(ctx, `
		SELECT id, name, unit_quantity, cost_price, cost_price_per_unit, selling_price, selling_price_per_unit
		FROM items
		WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&item.ID, &item.Name, &item.UnitCapacity, &item.CostPrice, &perUnit, &item.SellingPrice, &sellPerUnit)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: item %d", ErrNotFound, id)
	}
	if err != nil {
		return Item{}, err
	}
	item.CostPricePerUnit = numeric(perUnit)
	item.SellingPricePerUnit = numeric(sellPerUnit)
	return item, nil
}

func (s *docStore) UpdateItemCost(ctx context.Context, itemID int64, cost, costPerUnit decimal.Decimal) error {
	_, err := s.tx.Exec(ctx, `
		UPDATE items SET cost_price = $2, cost_price_per_unit = $3, updated_at = NOW()
		WHERE id = $1`, itemID, cost, costPerUnit)
	return err
}

func (s *docStore) InsertPriceHistory(ctx context.Context, h PriceHistory) error {
	_, err := s.tx.Exec(ctx, `
		INSERT INTO item_price_history (
			item_id, old_cost_price, new_cost_price, old_cost_per_unit, new_cost_per_unit,
			reference_type, reference_id, user_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		h.ItemID, h.OldCostPrice, h.NewCostPrice, h.OldCostPerUnit, h.NewCostPerUnit,
		string(h.ReferenceType), h.ReferenceID, optionalInt(h.ActorID), h.CreatedAt)
	return err
}

func (s *docStore) InsertPurchase(ctx context.Context, p Purchase) (Purchase, error) {
	err := s.tx.QueryRow(ctx, `
		INSERT INTO purchases (
			reference_no, supplier_id, warehouse_id, status, total_amount, paid_at_creation,
			payment_method, due_date, update_cost_price, note, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		p.ReferenceNo, p.SupplierID, p.WarehouseID, string(p.Status), p.Total, p.PaidAtCreation,
		p.PaymentMethod, optionalDate(p.DueDate), p.UpdateCostPrice, p.Note, optionalInt(p.CreatedBy), p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Purchase{}, fmt.Errorf("%w: %s", ErrDuplicateReference, p.ReferenceNo)
		}
		return Purchase{}, err
	}
	for i := range p.Items {
		line := &p.Items[i]
		line.PurchaseID = p.ID
		err := s.tx.QueryRow(ctx, `
			INSERT INTO purchase_items (purchase_id, item_id, quantity, unit_cost, tax_rate, discount, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			p.ID, line.ItemID, line.Quantity, line.UnitCost, line.TaxRate, line.Discount, line.Subtotal,
		).Scan(&line.ID)
		if err != nil {
			return Purchase{}, err
		}
	}
	return p, nil
}

func (s *docStore) InsertSale(ctx context.Context, sale Sale) (Sale, error) {
	err := s.tx.QueryRow(ctx, `
		INSERT INTO sales (
			reference_no, customer_id, warehouse_id, branch_id, status, total_amount, paid_at_creation,
			payment_method, due_date, note, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		sale.ReferenceNo, optionalInt(sale.CustomerID), optionalInt(sale.WarehouseID), optionalInt(sale.BranchID),
		string(sale.Status), sale.Total, sale.PaidAtCreation, sale.PaymentMethod, optionalDate(sale.DueDate),
		sale.Note, optionalInt(sale.CreatedBy), sale.CreatedAt,
	).Scan(&sale.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Sale{}, fmt.Errorf("%w: %s", ErrDuplicateReference, sale.ReferenceNo)
		}
		return Sale{}, err
	}
	for i := range sale.Items {
		line := &sale.Items[i]
		line.SaleID = sale.ID
		err := s.tx.QueryRow(ctx, `
			INSERT INTO sale_items (sale_id, item_id, sale_method, quantity, unit_price, tax_rate, discount, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			sale.ID, line.ItemID, string(line.Method), line.Quantity, line.UnitPrice, line.TaxRate, line.Discount, line.Subtotal,
		).Scan(&line.ID)
		if err != nil {
			return Sale{}, err
		}
	}
	return sale, nil
}

func (s *docStore) GetPurchaseForUpdate(ctx context.Context, id int64) (Purchase, error) {
	return loadPurchase(ctx, s.tx, id, " FOR UPDATE")
}

func (s *docStore) GetSaleForUpdate(ctx context.Context, id int64) (Sale, error) {
	return loadSale(ctx, s.tx, id, " FOR UPDATE")
}

func (s *docStore) MarkPurchaseReceived(ctx context.Context, id int64, at time.Time) error {
	return s.mark(ctx, `UPDATE purchases SET status = $2, received_at = $3 WHERE id = $1 AND deleted_at IS NULL`,
		id, string(StatusReceived), at)
}

func (s *docStore) MarkSaleFulfilled(ctx context.Context, id int64, at time.Time) error {
	return s.mark(ctx, `UPDATE sales SET status = $2, fulfilled_at = $3 WHERE id = $1 AND deleted_at IS NULL`,
		id, string(StatusCompleted), at)
}

func (s *docStore) SoftDeletePurchase(ctx context.Context, id int64, at time.Time) error {
	return s.mark(ctx, `UPDATE purchases SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
}

func (s *docStore) SoftDeleteSale(ctx context.Context, id int64, at time.Time) error {
	return s.mark(ctx, `UPDATE sales SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
}

func (s *docStore) mark(ctx context.Context, sql string, args ...any) error {
	tag, err := s.tx.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *docStore) InsertAllocations(ctx context.Context, allocations []Allocation) error {
	if len(allocations) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range allocations {
		batch.Queue(`
			INSERT INTO sale_item_allocations (sale_item_id, warehouse_id, item_id, sale_method, quantity)
			VALUES ($1, $2, $3, $4, $5)`,
			a.SaleItemID, a.WarehouseID, a.ItemID, string(a.Method), a.Quantity)
	}
	return s.tx.SendBatch(ctx, batch).Close()
}

func (s *docStore) ListAllocations(ctx context.Context, saleID int64) ([]Allocation, error) {
	return listAllocations(ctx, s.tx, saleID)
}

func (s *docStore) BranchWarehouses(ctx context.Context, branchID int64) ([]int64, error) {
	return branchWarehouses(ctx, s.tx, branchID)
}

func loadPurchase(ctx context.Context, q db.Querier, id int64, lock string) (Purchase, error) {
	var p Purchase
	var status string
	var due pgtype.Date
	var createdBy pgtype.Int8
	var received pgtype.Timestamptz
	err := q.QueryRow(ctx, `
		SELECT id, reference_no, supplier_id, warehouse_id, status, total_amount, paid_at_creation,
		       payment_method, due_date, update_cost_price, note, created_by, created_at, received_at
		FROM purchases
		WHERE id = $1 AND deleted_at IS NULL`+lock, id).
		Scan(&p.ID, &p.ReferenceNo, &p.SupplierID, &p.WarehouseID, &status, &p.Total, &p.PaidAtCreation,
			&p.PaymentMethod, &due, &p.UpdateCostPrice, &p.Note, &createdBy, &p.CreatedAt, &received)
	if errors.Is(err, pgx.ErrNoRows) {
		return Purchase{}, fmt.Errorf("%w: purchase %d", ErrNotFound, id)
	}
	if err != nil {
		return Purchase{}, err
	}
	p.Status = DocumentStatus(status)
	p.CreatedBy = createdBy.Int64
	if due.Valid {
		p.DueDate = due.Time
	}
	if received.Valid {
		at := received.Time
		p.ReceivedAt = &at
	}
	rows, err := q.Query(ctx, `
		SELECT id, purchase_id, item_id, quantity, unit_cost, tax_rate, discount, subtotal
		FROM purchase_items
		WHERE purchase_id = $1
		ORDER BY id`, id)
	if err != nil {
		return Purchase{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line PurchaseItem
		if err := rows.Scan(&line.ID, &line.PurchaseID, &line.ItemID, &line.Quantity, &line.UnitCost,
			&line.TaxRate, &line.Discount, &line.Subtotal); err != nil {
			return Purchase{}, err
		}
		p.Items = append(p.Items, line)
	}
	return p, rows.Err()
}

func loadSale(ctx context.Context, q db.Querier, id int64, lock string) (Sale, error) {
	var sale Sale
	var status string
	var due pgtype.Date
	var customer, warehouse, branch, createdBy pgtype.Int8
	var fulfilled pgtype.Timestamptz
	err := q.QueryRow(ctx, `
		SELECT id, reference_no, customer_id, warehouse_id, branch_id, status, total_amount, paid_at_creation,
		       payment_method, due_date, note, created_by, created_at, fulfilled_at
		FROM sales
		WHERE id = $1 AND deleted_at IS NULL`+lock, id).
		Scan(&sale.ID, &sale.ReferenceNo, &customer, &warehouse, &branch, &status, &sale.Total, &sale.PaidAtCreation,
			&sale.PaymentMethod, &due, &sale.Note, &createdBy, &sale.CreatedAt, &fulfilled)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, fmt.Errorf("%w: sale %d", ErrNotFound, id)
	}
	if err != nil {
		return Sale{}, err
	}
	sale.Status = DocumentStatus(status)
	sale.CustomerID = customer.Int64
	sale.WarehouseID = warehouse.Int64
	sale.BranchID = branch.Int64
	sale.CreatedBy = createdBy.Int64
	if due.Valid {
		sale.DueDate = due.Time
	}
	if fulfilled.Valid {
		at := fulfilled.Time
		sale.FulfilledAt = &at
	}
	rows, err := q.Query(ctx, `
		SELECT id, sale_id, item_id, sale_method, quantity, unit_price, tax_rate, discount, subtotal
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id`, id)
	if err != nil {
		return Sale{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line SaleItem
		var method string
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ItemID, &method, &line.Quantity, &line.UnitPrice,
			&line.TaxRate, &line.Discount, &line.Subtotal); err != nil {
			return Sale{}, err
		}
		line.Method = SaleMethod(method)
		sale.Items = append(sale.Items, line)
	}
	return sale, rows.Err()
}

func listAllocations(ctx context.Context, q db.Querier, saleID int64) ([]Allocation, error) {
	rows, err := q.Query(ctx, `
		SELECT a.sale_item_id, a.warehouse_id, a.item_id, a.sale_method, a.quantity
		FROM sale_item_allocations a
		JOIN sale_items si ON si.id = a.sale_item_id
		WHERE si.sale_id = $1
		ORDER BY a.id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Allocation
	for rows.Next() {
		var a Allocation
		var method string
		if err := rows.Scan(&a.SaleItemID, &a.WarehouseID, &a.ItemID, &method, &a.Quantity); err != nil {
			return nil, err
		}
		a.Method = SaleMethod(method)
		out = append(out, a)
	}
	return out, rows.Err()
}

func branchWarehouses(ctx context.Context, q db.Querier, branchID int64) ([]int64, error) {
	rows, err := q.Query(ctx, `SELECT warehouse_id FROM branch_warehouses WHERE branch_id = $1 ORDER BY warehouse_id`, branchID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func optionalInt(v int64) pgtype.Int8 {
	return pgtype.Int8{Int64: v, Valid: v > 0}
}

func optionalDate(t time.Time) pgtype.Date {
	return pgtype.Date{Time: t, Valid: !t.IsZero()}
}

func numeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
