package payroll

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/wage"
)

// =============================================================================
// SNAPSHOT - Facts frozen at submission
// =============================================================================

// Snapshot is a copy of everything a line item was computed from, taken when
// its payment leaves DRAFT. Later edits to workers, salaries, activities or
// criteria do not reach it.
type Snapshot struct {
	WorkerName  string
	WorkerPhone string
	PFAccountID string

	SalaryID              wage.SalaryID
	SalaryAmount          decimal.Decimal
	RateBasis             wage.RateBasis
	EmployeePfPercentage  decimal.Decimal
	VoluntaryPfPercentage decimal.Decimal
	EmployerPfPercentage  decimal.Decimal

	ActivityName        string
	ActivityDescription string

	CriteriaUnit string
	CriteriaRate *decimal.Decimal // nil when the activity had no criteria

	CompletionPercentage decimal.Decimal
	ActualValue          decimal.Decimal
	CompletedDate        *time.Time
	EvaluationNotes      string

	CapturedAt time.Time
}

// SnapshotFacts are the live values read at submission.
type SnapshotFacts struct {
	Worker   Worker
	Salary   wage.SalaryRecord
	Activity Activity
	Criteria *Criteria
	Record   WorkRecord
}

// CaptureSnapshot fills item.Snapshot from facts. An item that already has a
// snapshot is left untouched; the return value reports whether one was taken.
func CaptureSnapshot(item *LineItem, facts SnapshotFacts, at time.Time) bool {
	if item.Snapshot != nil {
		return false
	}

	s := &Snapshot{
		WorkerName:            facts.Worker.Name,
		WorkerPhone:           facts.Worker.Phone,
		PFAccountID:           facts.Worker.PFAccountID,
		SalaryID:              facts.Salary.ID,
		SalaryAmount:          facts.Salary.Amount,
		RateBasis:             facts.Salary.Basis,
		EmployeePfPercentage:  facts.Salary.EmployeePfPercentage,
		VoluntaryPfPercentage: facts.Salary.VoluntaryPfPercentage,
		EmployerPfPercentage:  facts.Salary.EmployerPfPercentage,
		ActivityName:          facts.Activity.Name,
		ActivityDescription:   facts.Activity.Description,
		CompletionPercentage:  facts.Record.CompletionPercentage,
		ActualValue:           facts.Record.ActualValue,
		EvaluationNotes:       facts.Record.Notes,
		CapturedAt:            at,
	}
	if facts.Criteria != nil {
		rate := facts.Criteria.Rate
		s.CriteriaUnit = facts.Criteria.Unit
		s.CriteriaRate = &rate
	}
	if facts.Record.CompletedAt != nil {
		d := *facts.Record.CompletedAt
		s.CompletedDate = &d
	}

	item.Snapshot = s
	return true
}
