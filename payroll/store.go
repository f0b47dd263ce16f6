/*
store.go - Persistence interfaces for payments, work records and master data

KEY INTERFACES:
  Lookups:     Read-only collaborators (workers, salaries, activities)
  Store:       Payments, history ledger, work record holds
  TxStore:     Store plus all-or-nothing transactions
  MasterData:  Seeding/maintenance writes for workers, activities, records

NOT FOUND:
  Single-entity getters return (nil, nil) when the entity does not exist.
  The Service turns that into the matching ErrXNotFound.

HOLDS:
  HoldRecord is a compare-and-swap: it succeeds only when the record is not
  held by any payment, and returns *RecordHeldError otherwise. There is no
  read-then-write window between the check and the claim. ReleaseRecord only
  clears a hold owned by the given payment.

HISTORY:
  AppendHistory is the only history write. History returns newest first.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - payroll/store/memory.go: In-memory for tests and development
*/
package payroll

import (
	"context"
	"time"

	"github.com/warp/payroll-engine/wage"
)

// Lookups are the read-only collaborators the engine consumes.
type Lookups interface {
	Worker(ctx context.Context, id WorkerID) (*Worker, error)
	Activity(ctx context.Context, id ActivityID) (*Activity, error)

	// ActiveCriteria returns the criteria in force for activity on day.
	ActiveCriteria(ctx context.Context, activity ActivityID, day time.Time) (*Criteria, error)

	// ActiveSalary returns the active salary record covering day.
	ActiveSalary(ctx context.Context, worker WorkerID, day time.Time) (*wage.SalaryRecord, error)
	Salary(ctx context.Context, id wage.SalaryID) (*wage.SalaryRecord, error)
}

type PaymentFilter struct {
	Status *Status
	Month  int // 0 = any
	Year   int // 0 = any
}

func (f PaymentFilter) Matches(p Payment) bool {
	if f.Status != nil && p.Status != *f.Status {
		return false
	}
	if f.Month != 0 && p.Month != f.Month {
		return false
	}
	if f.Year != 0 && p.Year != f.Year {
		return false
	}
	return true
}

type Store interface {
	Lookups

	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error)

	// FindDraft returns the DRAFT payment for a period, if any.
	FindDraft(ctx context.Context, month, year int) (*Payment, error)

	// SavePayment upserts the payment and replaces its line items and documents.
	SavePayment(ctx context.Context, p Payment) error

	// DeletePayment removes the payment, its line items, documents and history.
	DeletePayment(ctx context.Context, id PaymentID) error

	AppendHistory(ctx context.Context, e HistoryEntry) error
	History(ctx context.Context, id PaymentID) ([]HistoryEntry, error)

	GetWorkRecord(ctx context.Context, id RecordID) (*WorkRecord, error)

	// SaveWorkRecord upserts everything except HeldBy, which only
	// HoldRecord and ReleaseRecord change.
	SaveWorkRecord(ctx context.Context, r WorkRecord) error

	HoldRecord(ctx context.Context, id RecordID, by PaymentID) error
	ReleaseRecord(ctx context.Context, id RecordID, by PaymentID) error

	// OpenSalary returns the worker's salary record with no end date.
	OpenSalary(ctx context.Context, worker WorkerID) (*wage.SalaryRecord, error)
	SaveSalary(ctx context.Context, s wage.SalaryRecord) error
}

// TxStore runs fn atomically: if fn returns an error nothing it wrote is kept.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// MasterData is used by seeding and administration, outside the core flow.
type MasterData interface {
	SaveWorker(ctx context.Context, w Worker) error
	SaveActivity(ctx context.Context, a Activity) error
	SaveCriteria(ctx context.Context, c Criteria) error
	ListWorkRecords(ctx context.Context, worker WorkerID) ([]WorkRecord, error)
}
