package payroll

import "fmt"

// =============================================================================
// PAYABILITY - Which payment, if any, holds a work record
// =============================================================================
//
//   UNPAID ──include──▶ DRAFT_HELD ──lock──▶ LOCKED ──approve──▶ APPROVED ──pay──▶ PAID
//     ▲                     │                  │                    │
//     └──────unlock─────────┴──────────────────┴────────────────────┘
//
// Payability is never stored. It is derived from WorkRecord.HeldBy and the
// holding payment's status, so the two cannot drift apart. The transition
// methods below validate a move before the store applies it.

type PayabilityState string

const (
	PayabilityUnpaid    PayabilityState = "UNPAID"
	PayabilityDraftHeld PayabilityState = "DRAFT_HELD"
	PayabilityLocked    PayabilityState = "LOCKED"
	PayabilityApproved  PayabilityState = "APPROVED"
	PayabilityPaid      PayabilityState = "PAID"
)

type Payability struct {
	State     PayabilityState
	PaymentID PaymentID // empty when UNPAID
}

func Unpaid() Payability { return Payability{State: PayabilityUnpaid} }

// DerivePayability maps a record's holder and the holder's status onto a
// payability state. A cancelled holder never keeps a record.
func DerivePayability(heldBy *PaymentID, holderStatus Status) Payability {
	if heldBy == nil {
		return Unpaid()
	}
	p := Payability{PaymentID: *heldBy}
	switch holderStatus {
	case StatusDraft:
		p.State = PayabilityDraftHeld
	case StatusPendingApproval:
		p.State = PayabilityLocked
	case StatusApproved:
		p.State = PayabilityApproved
	case StatusPaid:
		p.State = PayabilityPaid
	default:
		return Unpaid()
	}
	return p
}

func (p Payability) IsHeld() bool { return p.State != PayabilityUnpaid }

func (p Payability) String() string {
	if !p.IsHeld() {
		return string(p.State)
	}
	return fmt.Sprintf("%s(%s)", p.State, p.PaymentID)
}

// Include claims an unpaid record for a draft payment.
func (p Payability) Include(rec RecordID, by PaymentID) (Payability, error) {
	if p.IsHeld() {
		return p, &RecordHeldError{RecordID: rec, HeldBy: p.PaymentID}
	}
	return Payability{State: PayabilityDraftHeld, PaymentID: by}, nil
}

// Lock freezes a draft-held record when its payment is submitted.
func (p Payability) Lock(rec RecordID, by PaymentID) (Payability, error) {
	return p.advance(rec, by, PayabilityDraftHeld, PayabilityLocked)
}

func (p Payability) Approve(rec RecordID, by PaymentID) (Payability, error) {
	return p.advance(rec, by, PayabilityLocked, PayabilityApproved)
}

func (p Payability) MarkPaid(rec RecordID, by PaymentID) (Payability, error) {
	return p.advance(rec, by, PayabilityApproved, PayabilityPaid)
}

// Unlock returns a record held by `by` to UNPAID. Paid records stay paid.
func (p Payability) Unlock(rec RecordID, by PaymentID) (Payability, error) {
	switch {
	case p.State == PayabilityPaid:
		return p, fmt.Errorf("unlock %s: %w", rec, ErrRecordPaid)
	case !p.IsHeld() || p.PaymentID != by:
		return p, fmt.Errorf("unlock %s: %w: %s, expected holder %s", rec, ErrPayabilityState, p, by)
	}
	return Unpaid(), nil
}

func (p Payability) advance(rec RecordID, by PaymentID, from, to PayabilityState) (Payability, error) {
	if p.State != from || p.PaymentID != by {
		return p, fmt.Errorf("%s → %s for %s: %w: is %s", from, to, rec, ErrPayabilityState, p)
	}
	return Payability{State: to, PaymentID: by}, nil
}
