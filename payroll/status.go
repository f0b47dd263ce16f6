package payroll

// =============================================================================
// PAYMENT STATUS
// =============================================================================
//
//   DRAFT ──submit──▶ PENDING_APPROVAL ──approve──▶ APPROVED ──pay──▶ PAID
//     │                      │                         │
//     └───────────cancel─────┴──────────cancel─────────┴──▶ CANCELLED
//
// PAID and CANCELLED are terminal. Each transition is a method on the
// current status that returns the next status or a *TransitionError.

type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusPaid            Status = "PAID"
	StatusCancelled       Status = "CANCELLED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusApproved, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool { return s == StatusPaid || s == StatusCancelled }

// RequireDraft guards the operations that edit a payment's contents.
func (s Status) RequireDraft(op string) error {
	if s != StatusDraft {
		return &TransitionError{Op: op, From: s, Err: ErrNotDraft}
	}
	return nil
}

func (s Status) Submit() (Status, error) {
	if err := s.RequireDraft("submit"); err != nil {
		return s, err
	}
	return StatusPendingApproval, nil
}

func (s Status) Approve() (Status, error) {
	if s != StatusPendingApproval {
		return s, &TransitionError{Op: "approve", From: s, Err: ErrNotPendingApproval}
	}
	return StatusApproved, nil
}

func (s Status) MarkPaid() (Status, error) {
	if s != StatusApproved {
		return s, &TransitionError{Op: "record payment", From: s, Err: ErrNotApproved}
	}
	return StatusPaid, nil
}

func (s Status) Cancel() (Status, error) {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusApproved:
		return StatusCancelled, nil
	case StatusPaid:
		return s, &TransitionError{Op: "cancel", From: s, Err: ErrAlreadyPaid}
	case StatusCancelled:
		return s, &TransitionError{Op: "cancel", From: s, Err: ErrAlreadyCancelled}
	}
	return s, &TransitionError{Op: "cancel", From: s, Err: ErrInvalidTransition}
}

// AcceptsDocuments reports whether supporting documents may still be attached.
func (s Status) AcceptsDocuments() error {
	if s == StatusCancelled {
		return &TransitionError{Op: "add document", From: s, Err: ErrAlreadyCancelled}
	}
	return nil
}
