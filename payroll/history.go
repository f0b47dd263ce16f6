package payroll

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// HISTORY LEDGER - Append-only
// =============================================================================
//
// One entry per state-changing operation on a payment. Entries are never
// updated. They disappear only with their draft, when the draft is deleted.
// Each entry stands on its own: status and total before and after, who, from
// where, and why, so no entity diffing is needed to read the trail.

type ChangeType string

const (
	ChangeCreated         ChangeType = "CREATED"
	ChangeLineItemAdded   ChangeType = "LINE_ITEM_ADDED"
	ChangeLineItemRemoved ChangeType = "LINE_ITEM_REMOVED"
	ChangeSubmitted       ChangeType = "SUBMITTED"
	ChangeApproved        ChangeType = "APPROVED"
	ChangePaid            ChangeType = "PAID"
	ChangeCancelled       ChangeType = "CANCELLED"
	ChangeDocumentAdded   ChangeType = "DOCUMENT_ADDED"
)

type HistoryEntry struct {
	ID         HistoryID
	PaymentID  PaymentID
	ChangeType ChangeType

	PreviousStatus Status // empty for CREATED
	NewStatus      Status
	PreviousAmount decimal.Decimal
	NewAmount      decimal.Decimal

	// Set for line item changes.
	LineItemID LineItemID
	RecordID   RecordID

	ActorID   string
	ActorName string
	Origin    string
	RequestID string

	Remark string
	At     time.Time
}

// change captures the payment before an operation mutates it.
type change struct {
	status Status
	amount decimal.Decimal
}

func before(p *Payment) change { return change{status: p.Status, amount: p.Total} }

// entry builds the history entry for p after the operation.
func (c change) entry(id HistoryID, p *Payment, ct ChangeType, actor Actor, remark string, at time.Time) HistoryEntry {
	return HistoryEntry{
		ID:             id,
		PaymentID:      p.ID,
		ChangeType:     ct,
		PreviousStatus: c.status,
		NewStatus:      p.Status,
		PreviousAmount: c.amount,
		NewAmount:      p.Total,
		ActorID:        actor.ID,
		ActorName:      actor.Name,
		Origin:         actor.Origin,
		RequestID:      actor.RequestID,
		Remark:         remark,
		At:             at,
	}
}
