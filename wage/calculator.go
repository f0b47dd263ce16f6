package wage

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownRateBasis      = errors.New("unknown rate basis")
	ErrCompletionOutOfRange  = errors.New("completion percentage must be between 0 and 100")
	ErrNegativeSalary        = errors.New("salary amount must not be negative")
	ErrNegativeDeduction     = errors.New("deductions must not be negative")
	ErrInvalidSalaryRevision = errors.New("invalid salary revision")
)

// DefaultPfPercentage is the statutory employee and employer contribution.
var DefaultPfPercentage = decimal.NewFromInt(12)

var (
	hundred      = decimal.NewFromInt(100)
	daysPerWeek  = decimal.NewFromInt(7)
	daysPerMonth = decimal.NewFromInt(30) // fixed divisor, not calendar days
	oneDayCredit = decimal.NewFromInt(1)
)

// Round2 rounds money half-up to cents.
func Round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// Round4 rounds ratios half-up to 4 decimal places.
func Round4(d decimal.Decimal) decimal.Decimal { return d.Round(4) }

// DailyRate converts a salary amount to the rate for one day of work.
func DailyRate(amount decimal.Decimal, basis RateBasis) (decimal.Decimal, error) {
	switch basis {
	case BasisDaily:
		return Round2(amount), nil
	case BasisWeekly:
		return Round2(amount.Div(daysPerWeek)), nil
	case BasisMonthly:
		return Round2(amount.Div(daysPerMonth)), nil
	}
	return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownRateBasis, basis)
}

// Input carries everything Compute needs. OtherDeductions defaults to zero.
type Input struct {
	Salary               SalaryRecord
	CompletionPercentage decimal.Decimal
	OtherDeductions      decimal.Decimal
}

// Compute turns a salary and a completion percentage into the figures of a
// payment line item. Each record earns a credit of one work day, scaled by
// completion.
func Compute(in Input) (Breakdown, error) {
	pct := in.CompletionPercentage
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return Breakdown{}, fmt.Errorf("%w: %s", ErrCompletionOutOfRange, pct)
	}
	if in.Salary.Amount.IsNegative() {
		return Breakdown{}, ErrNegativeSalary
	}
	if in.OtherDeductions.IsNegative() {
		return Breakdown{}, ErrNegativeDeduction
	}

	rate, err := DailyRate(in.Salary.Amount, in.Salary.Basis)
	if err != nil {
		return Breakdown{}, err
	}

	completionRate := Round4(pct.Div(hundred))
	amount := Round2(rate.Mul(completionRate))

	employeePct := orDefault(in.Salary.EmployeePfPercentage)
	employerPct := orDefault(in.Salary.EmployerPfPercentage)

	employeePf := percentOf(amount, employeePct)
	voluntaryPf := percentOf(amount, in.Salary.VoluntaryPfPercentage)
	employerPf := percentOf(amount, employerPct)
	pfTotal := employeePf.Add(voluntaryPf)

	// Employer contribution is informational and never reduces net pay.
	net := amount.Sub(pfTotal).Sub(in.OtherDeductions)

	return Breakdown{
		Quantity:        oneDayCredit,
		Rate:            rate,
		CompletionRate:  completionRate,
		Amount:          amount,
		EmployeePf:      employeePf,
		VoluntaryPf:     voluntaryPf,
		EmployerPf:      employerPf,
		PfTotal:         pfTotal,
		OtherDeductions: in.OtherDeductions,
		NetAmount:       net,
	}, nil
}

func percentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return Round2(amount.Mul(pct).Div(hundred))
}

// Unset statutory percentages fall back to DefaultPfPercentage.
func orDefault(pct decimal.Decimal) decimal.Decimal {
	if pct.IsZero() {
		return DefaultPfPercentage
	}
	return pct
}
