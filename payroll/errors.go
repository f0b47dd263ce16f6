/*
errors.go - Error taxonomy for the payment engine

ERROR KINDS (use with errors.Is):
  ErrNotFound            payment, line item, record, salary or worker missing
  ErrInvalidTransition   operation attempted from the wrong status
  ErrPreconditionFailed  required input missing or entity not ready
  ErrConflict            period already has a draft, record held elsewhere

Every specific error unwraps to exactly one kind, so callers can match
either the precise failure or its category:

    errors.Is(err, payroll.ErrNotDraft)          // precise
    errors.Is(err, payroll.ErrInvalidTransition) // category

InvalidTransition and Conflict are business errors. They are never retried
and are surfaced to the caller verbatim.
*/
package payroll

import (
	"errors"
	"fmt"
)

// =============================================================================
// KINDS
// =============================================================================

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrConflict           = errors.New("conflict")
)

// kindError is a sentinel that belongs to one kind.
type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newKind(kind error, msg string) error { return &kindError{msg: msg, kind: kind} }

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	ErrPaymentNotFound  = newKind(ErrNotFound, "payment not found")
	ErrLineItemNotFound = newKind(ErrNotFound, "line item not found")
	ErrRecordNotFound   = newKind(ErrNotFound, "work record not found")
	ErrWorkerNotFound   = newKind(ErrNotFound, "worker not found")
	ErrActivityNotFound = newKind(ErrNotFound, "activity not found")
	ErrSalaryNotFound   = newKind(ErrNotFound, "salary record not found")

	ErrNotDraft           = newKind(ErrInvalidTransition, "payment is not a draft")
	ErrNotPendingApproval = newKind(ErrInvalidTransition, "payment is not pending approval")
	ErrNotApproved        = newKind(ErrInvalidTransition, "payment is not approved")
	ErrAlreadyPaid        = newKind(ErrInvalidTransition, "payment is already paid")
	ErrAlreadyCancelled   = newKind(ErrInvalidTransition, "payment is already cancelled")
	ErrPayabilityState    = newKind(ErrInvalidTransition, "work record is not in the expected payability state")
	ErrRecordPaid         = newKind(ErrInvalidTransition, "work record is paid")

	ErrNoLineItems         = newKind(ErrPreconditionFailed, "payment has no line items")
	ErrMissingReference    = newKind(ErrPreconditionFailed, "payment date and reference number are required")
	ErrMissingReason       = newKind(ErrPreconditionFailed, "cancellation reason is required")
	ErrRecordNotEvaluated  = newKind(ErrPreconditionFailed, "work record is not evaluated")
	ErrNoActiveSalary      = newKind(ErrPreconditionFailed, "worker has no active salary")
	ErrInvalidPeriod       = newKind(ErrPreconditionFailed, "invalid payment period")
	ErrInvalidEvaluation   = newKind(ErrPreconditionFailed, "invalid evaluation")
	ErrMissingDocumentInfo = newKind(ErrPreconditionFailed, "document name and reference are required")
	ErrRecordDeleted       = newKind(ErrPreconditionFailed, "work record is deleted")

	ErrPeriodAlreadyHasDraft = newKind(ErrConflict, "period already has a draft payment")
	ErrRecordAlreadyHeld     = newKind(ErrConflict, "work record is already held by a payment")
	ErrRecordLocked          = newKind(ErrConflict, "work record is held by a payment and cannot change")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// TransitionError reports an operation attempted from the wrong status.
type TransitionError struct {
	Op   string
	From Status
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %v (status %s)", e.Op, e.Err, e.From)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// RecordHeldError reports a work record already claimed by a payment.
type RecordHeldError struct {
	RecordID RecordID
	HeldBy   PaymentID
}

func (e *RecordHeldError) Error() string {
	return fmt.Sprintf("work record %s is already held by payment %s", e.RecordID, e.HeldBy)
}

func (e *RecordHeldError) Unwrap() error { return ErrRecordAlreadyHeld }

// PeriodDraftError reports the existing draft for a period.
type PeriodDraftError struct {
	Month    int
	Year     int
	Existing PaymentID
}

func (e *PeriodDraftError) Error() string {
	return fmt.Sprintf("period %02d/%d already has draft payment %s", e.Month, e.Year, e.Existing)
}

func (e *PeriodDraftError) Unwrap() error { return ErrPeriodAlreadyHasDraft }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidTransition)
}

// IsClientError returns true if the error is due to the caller's request
// rather than a storage or programming failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrPreconditionFailed) ||
		errors.Is(err, ErrConflict)
}

// ErrorKind names the category of err for metrics and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrPreconditionFailed):
		return "precondition_failed"
	case errors.Is(err, ErrConflict):
		return "conflict"
	}
	return "internal"
}
