/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements payroll.TxStore, payroll.MasterData and audit.Sink using SQLite.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  payroll.TxStore:    Payments, line items, history, record holds
  payroll.MasterData: Workers, activities, criteria, work records
  audit.Sink:         Audit log

KEY TABLES:
  payments:        One row per payment; status and lifecycle stamps
  line_items:      Calculated wages; snapshot_json set at submission
  payment_history: Append-only ledger of payment changes
  work_records:    held_by is the only payability state
  salaries:        Versioned; at most one open (end_date IS NULL) per worker
  audit_log:       Append-only, written by the audit dispatcher

CONSTRAINTS:
  - idx_one_draft_per_period: at most one DRAFT per (month, year)
  - idx_one_open_salary:      at most one open salary per worker
  - HoldRecord is `UPDATE ... WHERE held_by IS NULL`, a compare-and-swap

CONCURRENCY:
  SQLite allows a single writer, and every ":memory:" connection is a
  separate database, so the pool is capped at one connection. WithTx also
  takes the store mutex, which keeps transactions strictly serialized.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := payroll.NewService(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - payroll/store.go: Interface definitions
  - payroll/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/audit"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/wage"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	queries
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{db: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		pf_account_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS criteria (
		id TEXT PRIMARY KEY,
		activity_id TEXT NOT NULL REFERENCES activities(id),
		unit TEXT NOT NULL,
		rate TEXT NOT NULL,
		effective_from TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_criteria_activity
		ON criteria(activity_id, effective_from);

	-- Salary records are versioned, never updated except to close them
	CREATE TABLE IF NOT EXISTS salaries (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL REFERENCES workers(id),
		amount TEXT NOT NULL,
		basis TEXT NOT NULL,
		employee_pf TEXT NOT NULL,
		voluntary_pf TEXT NOT NULL,
		employer_pf TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_one_open_salary
		ON salaries(worker_id) WHERE end_date IS NULL;

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		month INTEGER NOT NULL,
		year INTEGER NOT NULL,
		total TEXT NOT NULL,
		remarks TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		submitted_by TEXT NOT NULL DEFAULT '',
		submitted_at TEXT,
		approved_by TEXT NOT NULL DEFAULT '',
		approved_at TEXT,
		paid_by TEXT NOT NULL DEFAULT '',
		paid_at TEXT,
		payment_date TEXT,
		reference_number TEXT NOT NULL DEFAULT '',
		cancelled_by TEXT NOT NULL DEFAULT '',
		cancelled_at TEXT,
		cancellation_reason TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: one draft per period
	CREATE UNIQUE INDEX IF NOT EXISTS idx_one_draft_per_period
		ON payments(month, year) WHERE status = 'DRAFT';

	CREATE INDEX IF NOT EXISTS idx_payments_period
		ON payments(year, month);

	CREATE TABLE IF NOT EXISTS work_records (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL REFERENCES workers(id),
		activity_id TEXT NOT NULL REFERENCES activities(id),
		assigned_date TEXT NOT NULL,
		status TEXT NOT NULL,
		completion_percentage TEXT NOT NULL DEFAULT '0',
		actual_value TEXT NOT NULL DEFAULT '0',
		notes TEXT NOT NULL DEFAULT '',
		evaluated_at TEXT,
		completed_at TEXT,
		evaluation_count INTEGER NOT NULL DEFAULT 0,
		held_by TEXT REFERENCES payments(id),
		deleted_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_work_records_worker
		ON work_records(worker_id, assigned_date);
	CREATE INDEX IF NOT EXISTS idx_work_records_held_by
		ON work_records(held_by) WHERE held_by IS NOT NULL;

	CREATE TABLE IF NOT EXISTS line_items (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL REFERENCES payments(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		worker_id TEXT NOT NULL,
		record_id TEXT NOT NULL,
		salary_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		rate TEXT NOT NULL,
		amount TEXT NOT NULL,
		employee_pf TEXT NOT NULL,
		voluntary_pf TEXT NOT NULL,
		employer_pf TEXT NOT NULL,
		pf_total TEXT NOT NULL,
		other_deductions TEXT NOT NULL,
		net_amount TEXT NOT NULL,
		snapshot_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_line_items_payment
		ON line_items(payment_id, position);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL REFERENCES payments(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		reference TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		added_by TEXT NOT NULL,
		added_at TEXT NOT NULL
	);

	-- Payment history (append-only ledger)
	CREATE TABLE IF NOT EXISTS payment_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		payment_id TEXT NOT NULL,
		change_type TEXT NOT NULL,
		previous_status TEXT NOT NULL DEFAULT '',
		new_status TEXT NOT NULL,
		previous_amount TEXT NOT NULL,
		new_amount TEXT NOT NULL,
		line_item_id TEXT NOT NULL DEFAULT '',
		record_id TEXT NOT NULL DEFAULT '',
		actor_id TEXT NOT NULL,
		actor_name TEXT NOT NULL DEFAULT '',
		origin TEXT NOT NULL DEFAULT '',
		request_id TEXT NOT NULL DEFAULT '',
		remark TEXT NOT NULL DEFAULT '',
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payment_history_payment
		ON payment_history(payment_id, seq);

	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		at TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		actor_name TEXT NOT NULL DEFAULT '',
		origin TEXT NOT NULL DEFAULT '',
		request_id TEXT NOT NULL DEFAULT '',
		operation TEXT NOT NULL,
		target TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_target
		ON audit_log(target, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(payroll.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{db: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"audit_log", "payment_history", "documents", "line_items", "work_records",
		"payments", "salaries", "criteria", "activities", "workers",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// QUERIES - Shared by the store and its transactions
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs every statement against db, which is either the pool or a
// transaction. Rows are always drained and closed before a follow-up query,
// since the pool has a single connection.
type queries struct {
	db dbtx
}

// -----------------------------------------------------------------------------
// Master data
// -----------------------------------------------------------------------------

func (q *queries) SaveWorker(ctx context.Context, w payroll.Worker) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO workers (id, name, phone, pf_account_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, phone = excluded.phone,
			pf_account_id = excluded.pf_account_id
	`, w.ID, w.Name, w.Phone, w.PFAccountID)
	if err != nil {
		return fmt.Errorf("failed to save worker: %w", err)
	}
	return nil
}

func (q *queries) Worker(ctx context.Context, id payroll.WorkerID) (*payroll.Worker, error) {
	var w payroll.Worker
	err := q.db.QueryRowContext(ctx, `SELECT id, name, phone, pf_account_id FROM workers WHERE id = ?`, id).
		Scan(&w.ID, &w.Name, &w.Phone, &w.PFAccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorkers returns all workers by id.
func (q *queries) ListWorkers(ctx context.Context) ([]payroll.Worker, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id, name, phone, pf_account_id FROM workers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.Worker
	for rows.Next() {
		var w payroll.Worker
		if err := rows.Scan(&w.ID, &w.Name, &w.Phone, &w.PFAccountID); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (q *queries) SaveActivity(ctx context.Context, a payroll.Activity) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO activities (id, name, description) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description
	`, a.ID, a.Name, a.Description)
	if err != nil {
		return fmt.Errorf("failed to save activity: %w", err)
	}
	return nil
}

func (q *queries) Activity(ctx context.Context, id payroll.ActivityID) (*payroll.Activity, error) {
	var a payroll.Activity
	err := q.db.QueryRowContext(ctx, `SELECT id, name, description FROM activities WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &a.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (q *queries) SaveCriteria(ctx context.Context, c payroll.Criteria) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO criteria (id, activity_id, unit, rate, effective_from) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET unit = excluded.unit, rate = excluded.rate,
			effective_from = excluded.effective_from
	`, c.ID, c.ActivityID, c.Unit, c.Rate.String(), formatDate(c.EffectiveFrom))
	if err != nil {
		return fmt.Errorf("failed to save criteria: %w", err)
	}
	return nil
}

func (q *queries) ActiveCriteria(ctx context.Context, activity payroll.ActivityID, day time.Time) (*payroll.Criteria, error) {
	var (
		c    payroll.Criteria
		from string
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, activity_id, unit, rate, effective_from FROM criteria
		WHERE activity_id = ? AND effective_from <= ?
		ORDER BY effective_from DESC LIMIT 1
	`, activity, formatDate(day)).Scan(&c.ID, &c.ActivityID, &c.Unit, &c.Rate, &from)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.EffectiveFrom = parseTime(from)
	return &c, nil
}

// -----------------------------------------------------------------------------
// Salaries
// -----------------------------------------------------------------------------

const salaryColumns = `id, worker_id, amount, basis, employee_pf, voluntary_pf, employer_pf,
	start_date, end_date, active, created_at`

func (q *queries) SaveSalary(ctx context.Context, s wage.SalaryRecord) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO salaries (`+salaryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET end_date = excluded.end_date, active = excluded.active
	`,
		s.ID, s.WorkerID, s.Amount.String(), s.Basis,
		s.EmployeePfPercentage.String(), s.VoluntaryPfPercentage.String(), s.EmployerPfPercentage.String(),
		formatDate(s.StartDate), nullDate(s.EndDate), s.Active, formatTime(s.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: worker %s already has an open salary", payroll.ErrConflict, s.WorkerID)
		}
		return fmt.Errorf("failed to save salary: %w", err)
	}
	return nil
}

func (q *queries) Salary(ctx context.Context, id wage.SalaryID) (*wage.SalaryRecord, error) {
	return q.salaryWhere(ctx, `id = ?`, id)
}

func (q *queries) OpenSalary(ctx context.Context, worker payroll.WorkerID) (*wage.SalaryRecord, error) {
	return q.salaryWhere(ctx, `worker_id = ? AND end_date IS NULL`, worker)
}

func (q *queries) ActiveSalary(ctx context.Context, worker payroll.WorkerID, day time.Time) (*wage.SalaryRecord, error) {
	d := formatDate(day)
	return q.salaryWhere(ctx, `worker_id = ? AND start_date <= ? AND (end_date IS NULL OR end_date >= ?)
		ORDER BY start_date DESC`, worker, d, d)
}

func (q *queries) salaryWhere(ctx context.Context, where string, args ...any) (*wage.SalaryRecord, error) {
	var (
		s                  wage.SalaryRecord
		start, created     string
		end                sql.NullString
		employee, vol, emp string
	)
	err := q.db.QueryRowContext(ctx, `SELECT `+salaryColumns+` FROM salaries WHERE `+where+` LIMIT 1`, args...).
		Scan(&s.ID, &s.WorkerID, &s.Amount, &s.Basis, &employee, &vol, &emp, &start, &end, &s.Active, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.EmployeePfPercentage = parseDecimal(employee)
	s.VoluntaryPfPercentage = parseDecimal(vol)
	s.EmployerPfPercentage = parseDecimal(emp)
	s.StartDate = parseTime(start)
	s.EndDate = parseNullTime(end)
	s.CreatedAt = parseTime(created)
	return &s, nil
}

// -----------------------------------------------------------------------------
// Work records
// -----------------------------------------------------------------------------

const recordColumns = `id, worker_id, activity_id, assigned_date, status, completion_percentage,
	actual_value, notes, evaluated_at, completed_at, evaluation_count, held_by, deleted_at,
	created_at, updated_at`

func (q *queries) GetWorkRecord(ctx context.Context, id payroll.RecordID) (*payroll.WorkRecord, error) {
	recs, err := q.queryRecords(ctx, `SELECT `+recordColumns+` FROM work_records WHERE id = ?`, id)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

// ListWorkRecords returns live records, optionally for one worker.
func (q *queries) ListWorkRecords(ctx context.Context, worker payroll.WorkerID) ([]payroll.WorkRecord, error) {
	return q.queryRecords(ctx, `SELECT `+recordColumns+` FROM work_records
		WHERE deleted_at IS NULL AND (? = '' OR worker_id = ?)
		ORDER BY assigned_date, id`, worker, worker)
}

// SaveWorkRecord upserts a record. held_by is written by HoldRecord and
// ReleaseRecord only.
func (q *queries) SaveWorkRecord(ctx context.Context, r payroll.WorkRecord) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	if r.Status == "" {
		r.Status = payroll.WorkAssigned
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO work_records (id, worker_id, activity_id, assigned_date, status, completion_percentage,
			actual_value, notes, evaluated_at, completed_at, evaluation_count, deleted_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completion_percentage = excluded.completion_percentage,
			actual_value = excluded.actual_value,
			notes = excluded.notes,
			evaluated_at = excluded.evaluated_at,
			completed_at = excluded.completed_at,
			evaluation_count = excluded.evaluation_count,
			deleted_at = excluded.deleted_at,
			updated_at = excluded.updated_at
	`,
		r.ID, r.WorkerID, r.ActivityID, formatDate(r.AssignedDate), r.Status,
		r.CompletionPercentage.String(), r.ActualValue.String(), r.Notes,
		nullTime(r.EvaluatedAt), nullTime(r.CompletedAt), r.EvaluationCount, nullTime(r.DeletedAt),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save work record: %w", err)
	}
	return nil
}

// HoldRecord claims id for a payment only if nobody holds it.
func (q *queries) HoldRecord(ctx context.Context, id payroll.RecordID, by payroll.PaymentID) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE work_records SET held_by = ? WHERE id = ? AND held_by IS NULL`, by, id)
	if err != nil {
		return fmt.Errorf("failed to hold work record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var holder sql.NullString
	err = q.db.QueryRowContext(ctx, `SELECT held_by FROM work_records WHERE id = ?`, id).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", payroll.ErrRecordNotFound, id)
	}
	if err != nil {
		return err
	}
	return &payroll.RecordHeldError{RecordID: id, HeldBy: payroll.PaymentID(holder.String)}
}

func (q *queries) ReleaseRecord(ctx context.Context, id payroll.RecordID, by payroll.PaymentID) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE work_records SET held_by = NULL WHERE id = ? AND held_by = ?`, id, by)
	if err != nil {
		return fmt.Errorf("failed to release work record: %w", err)
	}
	return nil
}

func (q *queries) queryRecords(ctx context.Context, query string, args ...any) ([]payroll.WorkRecord, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.WorkRecord
	for rows.Next() {
		var (
			r                               payroll.WorkRecord
			assigned, created, updated      string
			completion, actual              string
			evaluated, completed, deleted   sql.NullString
			heldBy                          sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.WorkerID, &r.ActivityID, &assigned, &r.Status, &completion,
			&actual, &r.Notes, &evaluated, &completed, &r.EvaluationCount, &heldBy, &deleted,
			&created, &updated); err != nil {
			return nil, err
		}
		r.AssignedDate = parseTime(assigned)
		r.CompletionPercentage = parseDecimal(completion)
		r.ActualValue = parseDecimal(actual)
		r.EvaluatedAt = parseNullTime(evaluated)
		r.CompletedAt = parseNullTime(completed)
		r.DeletedAt = parseNullTime(deleted)
		r.CreatedAt = parseTime(created)
		r.UpdatedAt = parseTime(updated)
		if heldBy.Valid {
			p := payroll.PaymentID(heldBy.String)
			r.HeldBy = &p
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Payments
// -----------------------------------------------------------------------------

const paymentColumns = `id, status, month, year, total, remarks, created_by, created_at,
	submitted_by, submitted_at, approved_by, approved_at, paid_by, paid_at, payment_date,
	reference_number, cancelled_by, cancelled_at, cancellation_reason, updated_at`

// SavePayment upserts the payment row and rewrites its line items and
// documents.
func (q *queries) SavePayment(ctx context.Context, p payroll.Payment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			total = excluded.total,
			remarks = excluded.remarks,
			submitted_by = excluded.submitted_by,
			submitted_at = excluded.submitted_at,
			approved_by = excluded.approved_by,
			approved_at = excluded.approved_at,
			paid_by = excluded.paid_by,
			paid_at = excluded.paid_at,
			payment_date = excluded.payment_date,
			reference_number = excluded.reference_number,
			cancelled_by = excluded.cancelled_by,
			cancelled_at = excluded.cancelled_at,
			cancellation_reason = excluded.cancellation_reason,
			updated_at = excluded.updated_at
	`,
		p.ID, p.Status, p.Month, p.Year, p.Total.String(), p.Remarks, p.CreatedBy, formatTime(p.CreatedAt),
		p.SubmittedBy, nullTime(p.SubmittedAt), p.ApprovedBy, nullTime(p.ApprovedAt),
		p.PaidBy, nullTime(p.PaidAt), nullDate(p.PaymentDate), p.ReferenceNumber,
		p.CancelledBy, nullTime(p.CancelledAt), p.CancellationReason, formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "payments.month") {
			existing, ferr := q.FindDraft(ctx, p.Month, p.Year)
			if ferr == nil && existing != nil {
				return &payroll.PeriodDraftError{Month: p.Month, Year: p.Year, Existing: existing.ID}
			}
			return payroll.ErrPeriodAlreadyHasDraft
		}
		return fmt.Errorf("failed to save payment: %w", err)
	}

	if _, err := q.db.ExecContext(ctx, `DELETE FROM line_items WHERE payment_id = ?`, p.ID); err != nil {
		return fmt.Errorf("failed to replace line items: %w", err)
	}
	for i, item := range p.LineItems {
		if err := q.insertLineItem(ctx, i, item); err != nil {
			return err
		}
	}

	if _, err := q.db.ExecContext(ctx, `DELETE FROM documents WHERE payment_id = ?`, p.ID); err != nil {
		return fmt.Errorf("failed to replace documents: %w", err)
	}
	for i, d := range p.Documents {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO documents (id, payment_id, position, name, reference, kind, added_by, added_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, d.ID, p.ID, i, d.Name, d.Reference, d.Kind, d.AddedBy, formatTime(d.AddedAt))
		if err != nil {
			return fmt.Errorf("failed to save document: %w", err)
		}
	}
	return nil
}

func (q *queries) insertLineItem(ctx context.Context, position int, item payroll.LineItem) error {
	var snapshot sql.NullString
	if item.Snapshot != nil {
		b, err := json.Marshal(item.Snapshot)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
		snapshot = sql.NullString{String: string(b), Valid: true}
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO line_items (id, payment_id, position, worker_id, record_id, salary_id, quantity, rate,
			amount, employee_pf, voluntary_pf, employer_pf, pf_total, other_deductions, net_amount,
			snapshot_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID, item.PaymentID, position, item.WorkerID, item.RecordID, item.SalaryID,
		item.Quantity.String(), item.Rate.String(), item.Amount.String(),
		item.EmployeePf.String(), item.VoluntaryPf.String(), item.EmployerPf.String(),
		item.PfTotal.String(), item.OtherDeductions.String(), item.NetAmount.String(),
		snapshot, formatTime(item.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save line item: %w", err)
	}
	return nil
}

func (q *queries) GetPayment(ctx context.Context, id payroll.PaymentID) (*payroll.Payment, error) {
	ps, err := q.queryPayments(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	if err != nil || len(ps) == 0 {
		return nil, err
	}
	return &ps[0], nil
}

func (q *queries) FindDraft(ctx context.Context, month, year int) (*payroll.Payment, error) {
	ps, err := q.queryPayments(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE status = ? AND month = ? AND year = ?`, payroll.StatusDraft, month, year)
	if err != nil || len(ps) == 0 {
		return nil, err
	}
	return &ps[0], nil
}

// ListPayments returns matches newest period first.
func (q *queries) ListPayments(ctx context.Context, f payroll.PaymentFilter) ([]payroll.Payment, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *f.Status)
	}
	if f.Month != 0 {
		where = append(where, "month = ?")
		args = append(args, f.Month)
	}
	if f.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, f.Year)
	}

	query := `SELECT ` + paymentColumns + ` FROM payments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY year DESC, month DESC, created_at DESC"
	return q.queryPayments(ctx, query, args...)
}

// DeletePayment removes a payment with its line items, documents and history.
func (q *queries) DeletePayment(ctx context.Context, id payroll.PaymentID) error {
	for _, stmt := range []string{
		`DELETE FROM payment_history WHERE payment_id = ?`,
		`DELETE FROM line_items WHERE payment_id = ?`,
		`DELETE FROM documents WHERE payment_id = ?`,
		`DELETE FROM payments WHERE id = ?`,
	} {
		if _, err := q.db.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete payment: %w", err)
		}
	}
	return nil
}

func (q *queries) queryPayments(ctx context.Context, query string, args ...any) ([]payroll.Payment, error) {
	ps, err := q.scanPayments(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for i := range ps {
		if ps[i].LineItems, err = q.lineItems(ctx, ps[i].ID); err != nil {
			return nil, err
		}
		if ps[i].Documents, err = q.documents(ctx, ps[i].ID); err != nil {
			return nil, err
		}
	}
	return ps, nil
}

func (q *queries) scanPayments(ctx context.Context, query string, args ...any) ([]payroll.Payment, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.Payment
	for rows.Next() {
		var (
			p                                 payroll.Payment
			total, created, updated           string
			submitted, approved, paid, paidOn sql.NullString
			cancelled                         sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Status, &p.Month, &p.Year, &total, &p.Remarks, &p.CreatedBy, &created,
			&p.SubmittedBy, &submitted, &p.ApprovedBy, &approved, &p.PaidBy, &paid, &paidOn,
			&p.ReferenceNumber, &p.CancelledBy, &cancelled, &p.CancellationReason, &updated); err != nil {
			return nil, err
		}
		p.Total = parseDecimal(total)
		p.CreatedAt = parseTime(created)
		p.SubmittedAt = parseNullTime(submitted)
		p.ApprovedAt = parseNullTime(approved)
		p.PaidAt = parseNullTime(paid)
		p.PaymentDate = parseNullTime(paidOn)
		p.CancelledAt = parseNullTime(cancelled)
		p.UpdatedAt = parseTime(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *queries) lineItems(ctx context.Context, id payroll.PaymentID) ([]payroll.LineItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, payment_id, worker_id, record_id, salary_id, quantity, rate, amount, employee_pf,
			voluntary_pf, employer_pf, pf_total, other_deductions, net_amount, snapshot_json, created_at
		FROM line_items WHERE payment_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.LineItem
	for rows.Next() {
		var (
			item     payroll.LineItem
			snapshot sql.NullString
			created  string
			figures  [9]string
		)
		if err := rows.Scan(&item.ID, &item.PaymentID, &item.WorkerID, &item.RecordID, &item.SalaryID,
			&figures[0], &figures[1], &figures[2], &figures[3], &figures[4], &figures[5],
			&figures[6], &figures[7], &figures[8], &snapshot, &created); err != nil {
			return nil, err
		}
		item.Quantity = parseDecimal(figures[0])
		item.Rate = parseDecimal(figures[1])
		item.Amount = parseDecimal(figures[2])
		item.EmployeePf = parseDecimal(figures[3])
		item.VoluntaryPf = parseDecimal(figures[4])
		item.EmployerPf = parseDecimal(figures[5])
		item.PfTotal = parseDecimal(figures[6])
		item.OtherDeductions = parseDecimal(figures[7])
		item.NetAmount = parseDecimal(figures[8])
		item.CreatedAt = parseTime(created)
		if snapshot.Valid {
			var s payroll.Snapshot
			if err := json.Unmarshal([]byte(snapshot.String), &s); err != nil {
				return nil, fmt.Errorf("failed to decode snapshot of %s: %w", item.ID, err)
			}
			item.Snapshot = &s
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (q *queries) documents(ctx context.Context, id payroll.PaymentID) ([]payroll.Document, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, reference, kind, added_by, added_at
		FROM documents WHERE payment_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.Document
	for rows.Next() {
		var (
			d     payroll.Document
			added string
		)
		if err := rows.Scan(&d.ID, &d.Name, &d.Reference, &d.Kind, &d.AddedBy, &added); err != nil {
			return nil, err
		}
		d.AddedAt = parseTime(added)
		out = append(out, d)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// History
// -----------------------------------------------------------------------------

func (q *queries) AppendHistory(ctx context.Context, e payroll.HistoryEntry) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payment_history (id, payment_id, change_type, previous_status, new_status,
			previous_amount, new_amount, line_item_id, record_id, actor_id, actor_name, origin,
			request_id, remark, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.PaymentID, e.ChangeType, e.PreviousStatus, e.NewStatus,
		e.PreviousAmount.String(), e.NewAmount.String(), e.LineItemID, e.RecordID,
		e.ActorID, e.ActorName, e.Origin, e.RequestID, e.Remark, formatTime(e.At),
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// History returns entries newest first.
func (q *queries) History(ctx context.Context, id payroll.PaymentID) ([]payroll.HistoryEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, payment_id, change_type, previous_status, new_status, previous_amount, new_amount,
			line_item_id, record_id, actor_id, actor_name, origin, request_id, remark, at
		FROM payment_history WHERE payment_id = ? ORDER BY seq DESC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.HistoryEntry
	for rows.Next() {
		var (
			e              payroll.HistoryEntry
			prev, next, at string
		)
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.ChangeType, &e.PreviousStatus, &e.NewStatus,
			&prev, &next, &e.LineItemID, &e.RecordID, &e.ActorID, &e.ActorName, &e.Origin,
			&e.RequestID, &e.Remark, &at); err != nil {
			return nil, err
		}
		e.PreviousAmount = parseDecimal(prev)
		e.NewAmount = parseDecimal(next)
		e.At = parseTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// AUDIT SINK
// =============================================================================

func (q *queries) Append(ctx context.Context, e audit.Event) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, actor_id, actor_name, origin, request_id, operation, target, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, formatTime(e.At), e.ActorID, e.ActorName, e.Origin, e.RequestID, e.Operation, e.Target, e.Outcome, e.Detail)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// List returns matching events newest first.
func (q *queries) List(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	query := `SELECT id, at, actor_id, actor_name, origin, request_id, operation, target, outcome, detail
		FROM audit_log WHERE (? = '' OR target = ?) AND (? = '' OR actor_id = ?) ORDER BY seq DESC`
	args := []any{f.Target, f.Target, f.ActorID, f.ActorID}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			e  audit.Event
			at string
		)
		if err := rows.Scan(&e.ID, &at, &e.ActorID, &e.ActorName, &e.Origin, &e.RequestID,
			&e.Operation, &e.Target, &e.Outcome, &e.Detail); err != nil {
			return nil, err
		}
		e.At = parseTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// formatDate stores calendar dates as YYYY-MM-DD so they compare as text.
func formatDate(t time.Time) string { return wage.Date(t).Format(time.DateOnly) }

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(*t), Valid: true}
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	t, _ := time.Parse(time.DateOnly, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
