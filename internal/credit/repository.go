package credit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hirebirhan/amtradingplc/internal/payment"
	"github.com/hirebirhan/amtradingplc/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for credits.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	q db.Querier
}

// NewTxRepository binds credit writes to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{q: tx}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const creditColumns = `id, credit_type, reference_type, reference_id, party_id,
	amount, paid_amount, balance, status, due_date, description,
	created_by, created_at, updated_at, deleted_at`

func scanCredit(row pgx.Row) (Record, error) {
	var rec Record
	var creditType, refType, status string
	var refID, party, createdBy pgtype.Int8
	var due pgtype.Date
	var deleted pgtype.Timestamptz
	err := row.Scan(&rec.ID, &creditType, &refType, &refID, &party,
		&rec.Amount, &rec.PaidAmount, &rec.Balance, &status, &due, &rec.Description,
		&createdBy, &rec.CreatedAt, &rec.UpdatedAt, &deleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	rec.Type = Type(creditType)
	rec.ReferenceType = ReferenceType(refType)
	rec.ReferenceID = refID.Int64
	rec.PartyID = party.Int64
	rec.Status = payment.CreditStatus(status)
	rec.CreatedBy = createdBy.Int64
	if due.Valid {
		rec.DueDate = due.Time
	}
	if deleted.Valid {
		at := deleted.Time
		rec.DeletedAt = &at
	}
	return rec, nil
}

func optionalInt(v int64) pgtype.Int8 {
	return pgtype.Int8{Int64: v, Valid: v > 0}
}

func optionalText(v string) pgtype.Text {
	return pgtype.Text{String: v, Valid: v != ""}
}

func (r *txRepo) InsertCredit(ctx context.Context, rec Record) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO credits (
			credit_type, reference_type, reference_id, party_id,
			amount, paid_amount, balance, status, due_date, description,
			created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING id`,
		string(rec.Type), string(rec.ReferenceType), optionalInt(rec.ReferenceID), optionalInt(rec.PartyID),
		rec.Amount, rec.PaidAmount, rec.Balance, string(rec.Status),
		pgtype.Date{Time: rec.DueDate, Valid: !rec.DueDate.IsZero()}, rec.Description,
		optionalInt(rec.CreatedBy), rec.CreatedAt,
	).Scan(&id)
	return id, err
}

func (r *txRepo) GetCreditForUpdate(ctx context.Context, id int64) (Record, error) {
	return scanCredit(r.q.QueryRow(ctx, `SELECT `+creditColumns+` FROM credits WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) FindByReferenceForUpdate(ctx context.Context, refType ReferenceType, refID int64) (Record, error) {
	return scanCredit(r.q.QueryRow(ctx, `SELECT `+creditColumns+`
		FROM credits
		WHERE reference_type = $1 AND reference_id = $2 AND deleted_at IS NULL
		ORDER BY id DESC
		LIMIT 1
		FOR UPDATE`, string(refType), refID))
}

func (r *txRepo) UpdateCredit(ctx context.Context, rec Record) error {
	var deleted pgtype.Timestamptz
	if rec.DeletedAt != nil {
		deleted = pgtype.Timestamptz{Time: *rec.DeletedAt, Valid: true}
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE credits
		SET paid_amount = $2, balance = $3, status = $4, updated_at = $5, deleted_at = $6
		WHERE id = $1`,
		rec.ID, rec.PaidAmount, rec.Balance, string(rec.Status), rec.UpdatedAt, deleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO credit_payments (
			credit_id, amount, payment_method, reference_no, bank_name, receiver_name,
			note, kind, payment_date, user_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		p.CreditID, p.Amount, p.Method, optionalText(p.ReferenceNo), optionalText(p.BankName),
		optionalText(p.ReceiverName), optionalText(p.Note), string(p.Kind), p.PaidAt,
		optionalInt(p.ActorID), p.CreatedAt,
	).Scan(&id)
	return id, err
}

func (r *txRepo) SoftDeletePayments(ctx context.Context, creditID int64, at time.Time) error {
	_, err := r.q.Exec(ctx, `UPDATE credit_payments SET deleted_at = $2 WHERE credit_id = $1 AND deleted_at IS NULL`, creditID, at)
	return err
}

// GetCredit returns one credit including soft-deleted ones.
func (r *Repository) GetCredit(ctx context.Context, id int64) (Record, error) {
	return scanCredit(r.pool.QueryRow(ctx, `SELECT `+creditColumns+` FROM credits WHERE id = $1`, id))
}

// FindByReference returns the live credit of a document.
func (r *Repository) FindByReference(ctx context.Context, refType ReferenceType, refID int64) (Record, error) {
	return scanCredit(r.pool.QueryRow(ctx, `SELECT `+creditColumns+`
		FROM credits
		WHERE reference_type = $1 AND reference_id = $2 AND deleted_at IS NULL
		ORDER BY id DESC
		LIMIT 1`, string(refType), refID))
}

// ListCredits returns live credits matching filter, newest first.
func (r *Repository) ListCredits(ctx context.Context, filter ListFilter) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+creditColumns+`
		FROM credits
		WHERE deleted_at IS NULL
			AND ($1 = '' OR credit_type = $1)
			AND ($2 = '' OR status = $2)
			AND ($3 = 0 OR party_id = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5`,
		string(filter.Type), string(filter.Status), filter.PartyID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	return collectCredits(rows)
}

// ListOutstanding returns live credits of a type with a positive balance.
func (r *Repository) ListOutstanding(ctx context.Context, creditType Type) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+creditColumns+`
		FROM credits
		WHERE deleted_at IS NULL
			AND ($1 = '' OR credit_type = $1)
			AND status IN ('active', 'partially_paid', 'overdue')
			AND balance > 0
		ORDER BY due_date NULLS FIRST, id`, string(creditType))
	if err != nil {
		return nil, err
	}
	return collectCredits(rows)
}

func collectCredits(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanCredit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListPayments returns live payments of a credit, oldest first.
func (r *Repository) ListPayments(ctx context.Context, creditID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, credit_id, amount, payment_method, reference_no, bank_name, receiver_name,
			note, kind, payment_date, user_id, created_at
		FROM credit_payments
		WHERE credit_id = $1 AND deleted_at IS NULL
		ORDER BY payment_date, id`, creditID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var p Payment
		var refNo, bank, receiver, note pgtype.Text
		var kind string
		var actor pgtype.Int8
		if err := rows.Scan(&p.ID, &p.CreditID, &p.Amount, &p.Method, &refNo, &bank, &receiver,
			&note, &kind, &p.PaidAt, &actor, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.ReferenceNo = refNo.String
		p.BankName = bank.String
		p.ReceiverName = receiver.String
		p.Note = note.String
		p.Kind = PaymentKind(kind)
		p.ActorID = actor.Int64
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkOverdue flips open credits past their due date to overdue.
func (r *Repository) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE credits
		SET status = 'overdue', updated_at = NOW()
		WHERE deleted_at IS NULL
			AND status IN ('active', 'partially_paid')
			AND due_date IS NOT NULL
			AND due_date < $1::date`, asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
