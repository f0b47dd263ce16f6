package payroll

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/wage"
)

// =============================================================================
// PAYMENT - Aggregate root
// =============================================================================

// Payment is a monthly wage batch. Total is always the sum of the line item
// amounts; it is recomputed on every structural change, never adjusted.
type Payment struct {
	ID      PaymentID
	Status  Status
	Month   int
	Year    int
	Total   decimal.Decimal
	Remarks string

	CreatedBy string
	CreatedAt time.Time

	SubmittedBy string
	SubmittedAt *time.Time

	ApprovedBy string
	ApprovedAt *time.Time

	PaidBy          string
	PaidAt          *time.Time
	PaymentDate     *time.Time
	ReferenceNumber string

	CancelledBy        string
	CancelledAt        *time.Time
	CancellationReason string

	UpdatedAt time.Time

	LineItems []LineItem
	Documents []Document
}

// LineItem is one work record's wage inside a payment. The calculated figures
// are fixed when the item is added; Snapshot is set once, at submission.
type LineItem struct {
	ID        LineItemID
	PaymentID PaymentID
	WorkerID  WorkerID
	RecordID  RecordID
	SalaryID  wage.SalaryID

	Quantity        decimal.Decimal
	Rate            decimal.Decimal
	Amount          decimal.Decimal
	EmployeePf      decimal.Decimal
	VoluntaryPf     decimal.Decimal
	EmployerPf      decimal.Decimal
	PfTotal         decimal.Decimal
	OtherDeductions decimal.Decimal
	NetAmount       decimal.Decimal

	Snapshot *Snapshot

	CreatedAt time.Time
}

// Document is supporting material for a payment. Only its reference is
// stored; the content lives elsewhere.
type Document struct {
	ID        DocumentID
	Name      string
	Reference string
	Kind      string
	AddedBy   string
	AddedAt   time.Time
}

// DocumentInput is what a caller supplies to attach a document.
type DocumentInput struct {
	Name      string
	Reference string
	Kind      string
}

func newLineItem(id LineItemID, p PaymentID, rec WorkRecord, salary wage.SalaryRecord, b wage.Breakdown, at time.Time) LineItem {
	return LineItem{
		ID:              id,
		PaymentID:       p,
		WorkerID:        rec.WorkerID,
		RecordID:        rec.ID,
		SalaryID:        salary.ID,
		Quantity:        b.Quantity,
		Rate:            b.Rate,
		Amount:          b.Amount,
		EmployeePf:      b.EmployeePf,
		VoluntaryPf:     b.VoluntaryPf,
		EmployerPf:      b.EmployerPf,
		PfTotal:         b.PfTotal,
		OtherDeductions: b.OtherDeductions,
		NetAmount:       b.NetAmount,
		CreatedAt:       at,
	}
}

// =============================================================================
// AGGREGATE MUTATIONS (service only)
// =============================================================================

func (p *Payment) addLineItem(item LineItem) {
	p.LineItems = append(p.LineItems, item)
	p.recomputeTotal()
}

func (p *Payment) removeLineItem(id LineItemID) (LineItem, bool) {
	for i, item := range p.LineItems {
		if item.ID == id {
			p.LineItems = append(p.LineItems[:i:i], p.LineItems[i+1:]...)
			p.recomputeTotal()
			return item, true
		}
	}
	return LineItem{}, false
}

func (p *Payment) recomputeTotal() {
	p.Total = SumAmounts(p.LineItems)
}

// SumAmounts is the gross total of items.
func SumAmounts(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount)
	}
	return total
}

// =============================================================================
// READ HELPERS
// =============================================================================

func (p *Payment) LineItem(id LineItemID) (LineItem, bool) {
	for _, item := range p.LineItems {
		if item.ID == id {
			return item, true
		}
	}
	return LineItem{}, false
}

func (p *Payment) RecordIDs() []RecordID {
	ids := make([]RecordID, len(p.LineItems))
	for i, item := range p.LineItems {
		ids[i] = item.RecordID
	}
	return ids
}

// NetTotal sums the net amounts, for display only.
func (p *Payment) NetTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range p.LineItems {
		total = total.Add(item.NetAmount)
	}
	return total
}

// Clone returns a deep copy so stores never share slices with callers.
func (p Payment) Clone() Payment {
	c := p
	c.LineItems = make([]LineItem, len(p.LineItems))
	for i, item := range p.LineItems {
		if item.Snapshot != nil {
			s := *item.Snapshot
			item.Snapshot = &s
		}
		c.LineItems[i] = item
	}
	c.Documents = append([]Document(nil), p.Documents...)
	return c
}
