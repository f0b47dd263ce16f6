package wage

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SalaryRevision describes the next version of a worker's salary.
type SalaryRevision struct {
	Amount                decimal.Decimal
	Basis                 RateBasis
	VoluntaryPfPercentage decimal.Decimal
	StartDate             time.Time
}

// Revise closes current (when present) on the day before the revision starts
// and returns it together with the new open record. Salary is never updated
// in place, so callers persist both records atomically.
func Revise(current *SalaryRecord, rev SalaryRevision, newID SalaryID, workerID string, now time.Time) (closed *SalaryRecord, opened SalaryRecord, err error) {
	if !rev.Basis.Valid() {
		return nil, SalaryRecord{}, fmt.Errorf("%w: %w", ErrInvalidSalaryRevision, ErrUnknownRateBasis)
	}
	if rev.Amount.IsNegative() {
		return nil, SalaryRecord{}, fmt.Errorf("%w: %w", ErrInvalidSalaryRevision, ErrNegativeSalary)
	}
	if rev.VoluntaryPfPercentage.IsNegative() || rev.VoluntaryPfPercentage.GreaterThan(hundred) {
		return nil, SalaryRecord{}, fmt.Errorf("%w: voluntary PF percentage %s", ErrInvalidSalaryRevision, rev.VoluntaryPfPercentage)
	}
	if rev.StartDate.IsZero() {
		return nil, SalaryRecord{}, fmt.Errorf("%w: start date required", ErrInvalidSalaryRevision)
	}

	start := Date(rev.StartDate)

	if current != nil {
		if !current.IsOpen() {
			return nil, SalaryRecord{}, fmt.Errorf("%w: salary %s is already closed", ErrInvalidSalaryRevision, current.ID)
		}
		if !start.After(Date(current.StartDate)) {
			return nil, SalaryRecord{}, fmt.Errorf("%w: start %s must be after %s",
				ErrInvalidSalaryRevision, start.Format("2006-01-02"), Date(current.StartDate).Format("2006-01-02"))
		}
		end := start.AddDate(0, 0, -1)
		c := *current
		c.EndDate = &end
		c.Active = false
		closed = &c
	}

	opened = SalaryRecord{
		ID:                    newID,
		WorkerID:              workerID,
		Amount:                rev.Amount,
		Basis:                 rev.Basis,
		EmployeePfPercentage:  DefaultPfPercentage,
		VoluntaryPfPercentage: rev.VoluntaryPfPercentage,
		EmployerPfPercentage:  DefaultPfPercentage,
		StartDate:             start,
		Active:                true,
		CreatedAt:             now,
	}
	return closed, opened, nil
}
