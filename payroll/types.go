/*
Package payroll implements monthly wage payments over evaluated work records.

KEY CONCEPTS:
  - WorkRecord: one evaluated unit of work (worker, activity, date)
  - Payment: a monthly batch moving DRAFT → PENDING_APPROVAL → APPROVED → PAID
  - LineItem: one work record's calculated wage inside a payment
  - Payability: whether, and by which payment, a work record is held
  - Snapshot: facts frozen onto a line item when its payment is submitted
  - HistoryEntry: append-only record of every state-changing operation

OWNERSHIP:
  The Payment aggregate owns its line items and documents. Only the Service
  mutates them, and always inside a single store transaction together with
  the record holds and the history entry.

SEE ALSO:
  - status.go: payment status transitions
  - payability.go: work record payability transitions
  - service.go: the operations
  - store.go: persistence interfaces
*/
package payroll

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PaymentID string
type LineItemID string
type RecordID string
type WorkerID string
type ActivityID string
type DocumentID string
type HistoryID string

// =============================================================================
// ACTOR - Who performs an operation
// =============================================================================

// Actor is captured from the caller's request and passed explicitly into
// every operation. Nothing in this package reads ambient request state.
type Actor struct {
	ID        string
	Name      string
	Origin    string // client address
	RequestID string
}

// SystemActor is used for seeding and maintenance.
func SystemActor() Actor { return Actor{ID: "system", Name: "System"} }

func (a Actor) String() string {
	if a.Name != "" {
		return fmt.Sprintf("%s (%s)", a.Name, a.ID)
	}
	return a.ID
}

// =============================================================================
// MASTER DATA - Read-only collaborators
// =============================================================================

type Worker struct {
	ID          WorkerID
	Name        string
	Phone       string
	PFAccountID string
}

type Activity struct {
	ID          ActivityID
	Name        string
	Description string
}

// Criteria is how completion of an activity is measured and paid. The one in
// force on a date is the latest with EffectiveFrom on or before it.
type Criteria struct {
	ID            string
	ActivityID    ActivityID
	Unit          string
	Rate          decimal.Decimal
	EffectiveFrom time.Time
}

// =============================================================================
// WORK RECORD
// =============================================================================

type WorkStatus string

const (
	WorkAssigned  WorkStatus = "ASSIGNED"
	WorkCompleted WorkStatus = "COMPLETED"
)

// WorkRecord is one unit of work for one worker on one activity and date.
// HeldBy is the only source of payability; see DerivePayability.
type WorkRecord struct {
	ID           RecordID
	WorkerID     WorkerID
	ActivityID   ActivityID
	AssignedDate time.Time
	Status       WorkStatus

	CompletionPercentage decimal.Decimal
	ActualValue          decimal.Decimal
	Notes                string
	EvaluatedAt          *time.Time
	CompletedAt          *time.Time
	EvaluationCount      int

	HeldBy *PaymentID

	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r WorkRecord) IsEvaluated() bool {
	return r.Status == WorkCompleted && r.EvaluatedAt != nil
}

func (r WorkRecord) IsDeleted() bool { return r.DeletedAt != nil }

// Evaluation is the outcome of inspecting completed work.
type Evaluation struct {
	CompletionPercentage decimal.Decimal
	ActualValue          decimal.Decimal
	Notes                string
	CompletedAt          time.Time
}

var hundred = decimal.NewFromInt(100)

// Evaluate records an evaluation. Records held by a payment are frozen.
func (r *WorkRecord) Evaluate(e Evaluation, at time.Time) error {
	if r.IsDeleted() {
		return ErrRecordDeleted
	}
	if r.HeldBy != nil {
		return fmt.Errorf("%w: held by payment %s", ErrRecordLocked, *r.HeldBy)
	}
	if e.CompletionPercentage.IsNegative() || e.CompletionPercentage.GreaterThan(hundred) {
		return fmt.Errorf("%w: completion percentage %s out of range", ErrInvalidEvaluation, e.CompletionPercentage)
	}
	if e.ActualValue.IsNegative() {
		return fmt.Errorf("%w: actual value must not be negative", ErrInvalidEvaluation)
	}

	completed := e.CompletedAt
	if completed.IsZero() {
		completed = at
	}
	evaluated := at

	r.Status = WorkCompleted
	r.CompletionPercentage = e.CompletionPercentage
	r.ActualValue = e.ActualValue
	r.Notes = e.Notes
	r.CompletedAt = &completed
	r.EvaluatedAt = &evaluated
	r.EvaluationCount++
	r.UpdatedAt = at
	return nil
}

// SoftDelete hides the record while keeping it for audit.
func (r *WorkRecord) SoftDelete(at time.Time) error {
	if r.HeldBy != nil {
		return fmt.Errorf("%w: held by payment %s", ErrRecordLocked, *r.HeldBy)
	}
	if r.IsDeleted() {
		return nil
	}
	r.DeletedAt = &at
	r.UpdatedAt = at
	return nil
}
