package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"fatura/internal/core"

	_ "modernc.org/sqlite"
)

const (
	dateLayout = "2006-01-02"
	tsLayout   = time.RFC3339
)

var (
	ErrNotFound          = errors.New("not found")
	ErrPeriodAlreadyPaid = errors.New("billing period already paid")
	ErrPeriodNotPaid     = errors.New("billing period is not paid")
)

// PeriodKey identifies one statement aggregate. All read-modify-write on
// totals is scoped to a single key.
type PeriodKey struct {
	AccountID int64
	Period    core.Period
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// --- accounts ---

func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.BillingAccount) (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, fmt.Errorf("validate account: %w", err)
	}

	var closingDay, dueDay any
	if a.Billing != nil {
		closingDay, dueDay = a.Billing.ClosingDay, a.Billing.PaymentDueDay
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO billing_accounts (name, kind, closing_day, payment_due_day) VALUES (?, ?, ?, ?)`,
		a.Name, string(a.Kind), closingDay, dueDay)
	if err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("account insert id: %w", err)
	}

	slog.InfoContext(ctx, "Billing account created", "id", id, "name", a.Name, "kind", a.Kind)
	return id, nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, id int64) (core.BillingAccount, error) {
	var (
		a          core.BillingAccount
		kind       string
		closingDay sql.NullInt64
		dueDay     sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, kind, closing_day, payment_due_day FROM billing_accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &kind, &closingDay, &dueDay)
	if errors.Is(err, sql.ErrNoRows) {
		return a, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return a, fmt.Errorf("get account %d: %w", id, err)
	}

	a.Kind = core.AccountKind(kind)
	if closingDay.Valid && dueDay.Valid {
		a.Billing = &core.BillingConfig{
			ClosingDay:    int(closingDay.Int64),
			PaymentDueDay: int(dueDay.Int64),
		}
	}
	return a, nil
}

// --- purchases and installments ---

// CreatePurchase persists a purchase together with its full installment
// chain in one transaction, so a partial chain can never be observed.
func (r *SQLiteRepository) CreatePurchase(ctx context.Context, p core.Purchase, installments []core.Installment) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin purchase tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO purchases (account_id, description, total_amount_cents, total_installments, base_purchase_date)
		 VALUES (?, ?, ?, ?, ?)`,
		p.AccountID, p.Description, p.TotalAmount.Cents, p.TotalInstallments,
		p.BasePurchaseDate.UTC().Format(dateLayout))
	if err != nil {
		return 0, fmt.Errorf("insert purchase: %w", err)
	}
	purchaseID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("purchase insert id: %w", err)
	}

	for _, inst := range installments {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO installments (purchase_id, account_id, installment_number, amount_cents, purchase_date, billing_period, due_date)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			purchaseID, p.AccountID, inst.Number, inst.Amount.Cents,
			inst.PurchaseDate.UTC().Format(dateLayout),
			inst.BillingPeriod.String(),
			inst.DueDate.UTC().Format(dateLayout))
		if err != nil {
			return 0, fmt.Errorf("insert installment %d: %w", inst.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purchase: %w", err)
	}

	slog.InfoContext(ctx, "Purchase saved",
		"id", purchaseID,
		"account_id", p.AccountID,
		"description", p.Description,
		"total_amount_cents", p.TotalAmount.Cents,
		"installments", len(installments))
	return purchaseID, nil
}

func (r *SQLiteRepository) GetPurchase(ctx context.Context, id int64) (core.Purchase, error) {
	var (
		p        core.Purchase
		baseDate string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, account_id, description, total_amount_cents, total_installments, base_purchase_date
		 FROM purchases WHERE id = ?`, id).
		Scan(&p.ID, &p.AccountID, &p.Description, &p.TotalAmount.Cents, &p.TotalInstallments, &baseDate)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("purchase %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("get purchase %d: %w", id, err)
	}
	p.BasePurchaseDate, err = time.Parse(dateLayout, baseDate)
	if err != nil {
		return p, fmt.Errorf("parse purchase date %q: %w", baseDate, err)
	}
	return p, nil
}

func (r *SQLiteRepository) ListInstallmentsByPurchase(ctx context.Context, purchaseID int64) ([]core.Installment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, purchase_id, account_id, installment_number, amount_cents, purchase_date, billing_period, due_date, paid_at
		 FROM installments WHERE purchase_id = ? ORDER BY installment_number`, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("list installments: %w", err)
	}
	defer rows.Close()

	var out []core.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func scanInstallment(rows *sql.Rows) (core.Installment, error) {
	var (
		inst                  core.Installment
		purchaseDate, dueDate string
		period                string
		paidAt                sql.NullString
	)
	err := rows.Scan(&inst.ID, &inst.PurchaseID, &inst.AccountID, &inst.Number,
		&inst.Amount.Cents, &purchaseDate, &period, &dueDate, &paidAt)
	if err != nil {
		return inst, fmt.Errorf("scan installment: %w", err)
	}
	if inst.PurchaseDate, err = time.Parse(dateLayout, purchaseDate); err != nil {
		return inst, fmt.Errorf("parse installment date %q: %w", purchaseDate, err)
	}
	if inst.DueDate, err = time.Parse(dateLayout, dueDate); err != nil {
		return inst, fmt.Errorf("parse installment due date %q: %w", dueDate, err)
	}
	inst.BillingPeriod = core.Period(period)
	if paidAt.Valid {
		if t, err := time.Parse(tsLayout, paidAt.String); err == nil {
			inst.PaidAt = &t
		}
	}
	return inst, nil
}

// PurchasePeriodKeys returns the distinct period keys the purchase's
// installments and refunds touch, used to recompute after a cascade delete.
func (r *SQLiteRepository) PurchasePeriodKeys(ctx context.Context, purchaseID int64) ([]PeriodKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT account_id, billing_period FROM installments WHERE purchase_id = ?
		 UNION
		 SELECT account_id, billing_period FROM refunds WHERE purchase_id = ?`,
		purchaseID, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("purchase period keys: %w", err)
	}
	defer rows.Close()
	return collectPeriodKeys(rows)
}

// DeletePurchase removes the purchase; installments and refunds go with it
// via cascade. Aggregates must be recomputed by the caller afterwards.
func (r *SQLiteRepository) DeletePurchase(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM purchases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete purchase %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("purchase %d: %w", id, ErrNotFound)
	}
	slog.InfoContext(ctx, "Purchase deleted", "id", id)
	return nil
}

// --- refunds ---

func (r *SQLiteRepository) CreateRefund(ctx context.Context, ref core.Refund) (int64, error) {
	if err := ref.Validate(); err != nil {
		return 0, fmt.Errorf("validate refund: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO refunds (purchase_id, account_id, amount_cents, refund_date, billing_period)
		 VALUES (?, ?, ?, ?, ?)`,
		ref.PurchaseID, ref.AccountID, ref.Amount.Cents,
		ref.RefundDate.UTC().Format(dateLayout), ref.BillingPeriod.String())
	if err != nil {
		return 0, fmt.Errorf("create refund: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("refund insert id: %w", err)
	}

	slog.InfoContext(ctx, "Refund saved",
		"id", id,
		"purchase_id", ref.PurchaseID,
		"amount_cents", ref.Amount.Cents,
		"billing_period", ref.BillingPeriod)
	return id, nil
}

// --- billing periods ---

// UpsertPeriod lazily creates the aggregate row for a key. Re-running it
// for an existing key is a no-op; created reports whether a row was added.
func (r *SQLiteRepository) UpsertPeriod(ctx context.Context, bp core.BillingPeriod) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO billing_periods (account_id, period, closing_date, start_date, due_date)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (account_id, period) DO NOTHING`,
		bp.AccountID, bp.Period.String(),
		bp.ClosingDate.UTC().Format(dateLayout),
		bp.StartDate.UTC().Format(dateLayout),
		bp.DueDate.UTC().Format(dateLayout))
	if err != nil {
		return false, fmt.Errorf("upsert period %d/%s: %w", bp.AccountID, bp.Period, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert period rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) GetPeriod(ctx context.Context, accountID int64, period core.Period) (core.BillingPeriod, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, account_id, period, closing_date, start_date, due_date, total_amount_cents, paid_at, paid_from_account_id
		 FROM billing_periods WHERE account_id = ? AND period = ?`,
		accountID, period.String())
	return scanPeriod(row)
}

func (r *SQLiteRepository) GetPeriodByID(ctx context.Context, id int64) (core.BillingPeriod, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, account_id, period, closing_date, start_date, due_date, total_amount_cents, paid_at, paid_from_account_id
		 FROM billing_periods WHERE id = ?`, id)
	return scanPeriod(row)
}

func (r *SQLiteRepository) ListPeriods(ctx context.Context) ([]core.BillingPeriod, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, account_id, period, closing_date, start_date, due_date, total_amount_cents, paid_at, paid_from_account_id
		 FROM billing_periods ORDER BY account_id, period`)
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	defer rows.Close()

	var out []core.BillingPeriod
	for rows.Next() {
		bp, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bp)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPeriod(row rowScanner) (core.BillingPeriod, error) {
	var (
		bp                              core.BillingPeriod
		period                          string
		closingDate, startDate, dueDate string
		paidAt                          sql.NullString
		paidFrom                        sql.NullInt64
	)
	err := row.Scan(&bp.ID, &bp.AccountID, &period, &closingDate, &startDate, &dueDate,
		&bp.Total.Cents, &paidAt, &paidFrom)
	if errors.Is(err, sql.ErrNoRows) {
		return bp, ErrNotFound
	}
	if err != nil {
		return bp, fmt.Errorf("scan period: %w", err)
	}

	bp.Period = core.Period(period)
	if bp.ClosingDate, err = time.Parse(dateLayout, closingDate); err != nil {
		return bp, fmt.Errorf("parse closing date %q: %w", closingDate, err)
	}
	if bp.StartDate, err = time.Parse(dateLayout, startDate); err != nil {
		return bp, fmt.Errorf("parse start date %q: %w", startDate, err)
	}
	if bp.DueDate, err = time.Parse(dateLayout, dueDate); err != nil {
		return bp, fmt.Errorf("parse due date %q: %w", dueDate, err)
	}
	if paidAt.Valid {
		if t, perr := time.Parse(tsLayout, paidAt.String); perr == nil {
			bp.PaidAt = &t
		}
	}
	if paidFrom.Valid {
		v := paidFrom.Int64
		bp.PaidFromAccountID = &v
	}
	return bp, nil
}

// MissingPeriodKeys finds installments whose billing period has no
// aggregate row yet, the input to the backfill job.
func (r *SQLiteRepository) MissingPeriodKeys(ctx context.Context) ([]PeriodKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT i.account_id, i.billing_period
		 FROM installments i
		 LEFT JOIN billing_periods bp
		   ON bp.account_id = i.account_id AND bp.period = i.billing_period
		 WHERE bp.id IS NULL
		 ORDER BY i.account_id, i.billing_period`)
	if err != nil {
		return nil, fmt.Errorf("missing period keys: %w", err)
	}
	defer rows.Close()
	return collectPeriodKeys(rows)
}

func collectPeriodKeys(rows *sql.Rows) ([]PeriodKey, error) {
	var out []PeriodKey
	for rows.Next() {
		var (
			key    PeriodKey
			period string
		)
		if err := rows.Scan(&key.AccountID, &period); err != nil {
			return nil, fmt.Errorf("scan period key: %w", err)
		}
		key.Period = core.Period(period)
		out = append(out, key)
	}
	return out, rows.Err()
}

// RecomputePeriodTotal re-derives the aggregate from its installments and
// refunds inside one transaction scoped to the key. The formula here is the
// single source of truth for a period's total; the stored column is only a
// materialization of it.
func (r *SQLiteRepository) RecomputePeriodTotal(ctx context.Context, accountID int64, period core.Period) (oldTotal, newTotal int64, changed bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, false, fmt.Errorf("begin recompute tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`SELECT total_amount_cents FROM billing_periods WHERE account_id = ? AND period = ?`,
		accountID, period.String()).Scan(&oldTotal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, fmt.Errorf("period %d/%s: %w", accountID, period, ErrNotFound)
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("read period total: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		`SELECT
		   COALESCE((SELECT SUM(amount_cents) FROM installments WHERE account_id = ?1 AND billing_period = ?2), 0)
		 - COALESCE((SELECT SUM(amount_cents) FROM refunds WHERE account_id = ?1 AND billing_period = ?2), 0)`,
		accountID, period.String()).Scan(&newTotal)
	if err != nil {
		return 0, 0, false, fmt.Errorf("sum entries: %w", err)
	}

	if newTotal == oldTotal {
		return oldTotal, newTotal, false, tx.Commit()
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE billing_periods SET total_amount_cents = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE account_id = ? AND period = ?`,
		newTotal, accountID, period.String())
	if err != nil {
		return 0, 0, false, fmt.Errorf("store recomputed total: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, false, fmt.Errorf("commit recompute: %w", err)
	}

	slog.DebugContext(ctx, "Period total recomputed",
		"account_id", accountID,
		"period", period,
		"old_total_cents", oldTotal,
		"new_total_cents", newTotal)
	return oldTotal, newTotal, true, nil
}

// MarkPeriodPaid stamps the payment and its installments in one
// transaction. The conditional update makes concurrent double-payment
// impossible: only one writer sees paid_at still NULL.
func (r *SQLiteRepository) MarkPeriodPaid(ctx context.Context, periodID, fromAccountID int64, paidAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark-paid tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE billing_periods SET paid_at = ?, paid_from_account_id = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND paid_at IS NULL`,
		paidAt.UTC().Format(tsLayout), fromAccountID, periodID)
	if err != nil {
		return fmt.Errorf("mark period paid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := r.getPeriodIDTx(ctx, tx, periodID); getErr != nil {
			return getErr
		}
		return ErrPeriodAlreadyPaid
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE installments SET paid_at = ?
		 WHERE account_id = (SELECT account_id FROM billing_periods WHERE id = ?)
		   AND billing_period = (SELECT period FROM billing_periods WHERE id = ?)`,
		paidAt.UTC().Format(tsLayout), periodID, periodID)
	if err != nil {
		return fmt.Errorf("mark installments paid: %w", err)
	}

	return tx.Commit()
}

// MarkPeriodUnpaid reverses a recorded payment.
func (r *SQLiteRepository) MarkPeriodUnpaid(ctx context.Context, periodID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark-unpaid tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE billing_periods SET paid_at = NULL, paid_from_account_id = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND paid_at IS NOT NULL`, periodID)
	if err != nil {
		return fmt.Errorf("mark period unpaid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := r.getPeriodIDTx(ctx, tx, periodID); getErr != nil {
			return getErr
		}
		return ErrPeriodNotPaid
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE installments SET paid_at = NULL
		 WHERE account_id = (SELECT account_id FROM billing_periods WHERE id = ?)
		   AND billing_period = (SELECT period FROM billing_periods WHERE id = ?)`,
		periodID, periodID)
	if err != nil {
		return fmt.Errorf("mark installments unpaid: %w", err)
	}

	return tx.Commit()
}

func (r *SQLiteRepository) getPeriodIDTx(ctx context.Context, tx *sql.Tx, periodID int64) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM billing_periods WHERE id = ?`, periodID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("period %d: %w", periodID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("get period %d: %w", periodID, err)
	}
	return id, nil
}
