/*
Package wage computes daily wages and provident fund (PF) deductions for
piece/time-rate workers.

KEY CONCEPTS:
  - SalaryRecord: versioned compensation for a worker (never edited in place)
  - RateBasis: how the salary amount is expressed (per day, week or month)
  - Breakdown: the calculated figures for one work record

PRECISION:
  All money uses decimal.Decimal. Money is rounded half-up to 2 decimal
  places, the completion rate to 4 decimal places.

SEE ALSO:
  - calculator.go: Compute
  - salary.go: Revise (salary versioning)
*/
package wage

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE BASIS
// =============================================================================

type RateBasis string

const (
	BasisDaily   RateBasis = "DAILY"
	BasisWeekly  RateBasis = "WEEKLY"
	BasisMonthly RateBasis = "MONTHLY"
)

func (b RateBasis) Valid() bool {
	switch b {
	case BasisDaily, BasisWeekly, BasisMonthly:
		return true
	}
	return false
}

// ParseRateBasis accepts the canonical upper-case names.
func ParseRateBasis(s string) (RateBasis, error) {
	b := RateBasis(s)
	if !b.Valid() {
		return "", ErrUnknownRateBasis
	}
	return b, nil
}

// =============================================================================
// SALARY RECORD
// =============================================================================

type SalaryID string

// SalaryRecord is one version of a worker's compensation. At most one record
// per worker has a nil EndDate.
type SalaryRecord struct {
	ID       SalaryID
	WorkerID string
	Amount   decimal.Decimal
	Basis    RateBasis

	// Percentages are expressed as 0-100 (12 means 12%).
	EmployeePfPercentage  decimal.Decimal
	VoluntaryPfPercentage decimal.Decimal
	EmployerPfPercentage  decimal.Decimal

	StartDate time.Time
	EndDate   *time.Time
	Active    bool

	CreatedAt time.Time
}

// IsOpen reports whether this is the current (unterminated) version.
func (s SalaryRecord) IsOpen() bool { return s.EndDate == nil }

// CoversDate reports whether the record's validity interval contains day.
func (s SalaryRecord) CoversDate(day time.Time) bool {
	d := Date(day)
	if d.Before(Date(s.StartDate)) {
		return false
	}
	return s.EndDate == nil || !d.After(Date(*s.EndDate))
}

// =============================================================================
// BREAKDOWN - Calculated figures for one line item
// =============================================================================

type Breakdown struct {
	Quantity        decimal.Decimal
	Rate            decimal.Decimal
	CompletionRate  decimal.Decimal
	Amount          decimal.Decimal
	EmployeePf      decimal.Decimal
	VoluntaryPf     decimal.Decimal
	EmployerPf      decimal.Decimal
	PfTotal         decimal.Decimal
	OtherDeductions decimal.Decimal
	NetAmount       decimal.Decimal
}

// Date truncates t to midnight UTC.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
