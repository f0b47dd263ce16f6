/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the payroll domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts and percentages are JSON strings, the way shopspring/decimal
  marshals them. Never floats.

DATES:
  Calendar dates are "2006-01-02"; timestamps are RFC 3339.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/audit"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/wage"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CreateDraftRequest struct {
	Month     int      `json:"month"`
	Year      int      `json:"year"`
	RecordIDs []string `json:"record_ids"`
}

type AddLineItemRequest struct {
	RecordID string `json:"record_id"`
}

// TransitionRequest carries the optional remarks of submit and approve.
type TransitionRequest struct {
	Remarks string `json:"remarks"`
}

type RecordPaymentRequest struct {
	PaymentDate     string `json:"payment_date"`
	ReferenceNumber string `json:"reference_number"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type AddDocumentRequest struct {
	Name      string `json:"name"`
	Reference string `json:"reference"`
	Kind      string `json:"kind"`
}

type EvaluateRequest struct {
	CompletionPercentage decimal.Decimal `json:"completion_percentage"`
	ActualValue          decimal.Decimal `json:"actual_value"`
	Notes                string          `json:"notes"`
	CompletedAt          string          `json:"completed_at,omitempty"`
}

type ReviseSalaryRequest struct {
	Amount                decimal.Decimal `json:"amount"`
	RateBasis             string          `json:"rate_basis"`
	VoluntaryPfPercentage decimal.Decimal `json:"voluntary_pf_percentage"`
	StartDate             string          `json:"start_date"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type PaymentDTO struct {
	ID                 string          `json:"id"`
	Status             string          `json:"status"`
	Month              int             `json:"month"`
	Year               int             `json:"year"`
	Total              decimal.Decimal `json:"total"`
	NetTotal           decimal.Decimal `json:"net_total"`
	Remarks            string          `json:"remarks,omitempty"`
	CreatedBy          string          `json:"created_by"`
	CreatedAt          string          `json:"created_at"`
	SubmittedBy        string          `json:"submitted_by,omitempty"`
	SubmittedAt        string          `json:"submitted_at,omitempty"`
	ApprovedBy         string          `json:"approved_by,omitempty"`
	ApprovedAt         string          `json:"approved_at,omitempty"`
	PaidBy             string          `json:"paid_by,omitempty"`
	PaidAt             string          `json:"paid_at,omitempty"`
	PaymentDate        string          `json:"payment_date,omitempty"`
	ReferenceNumber    string          `json:"reference_number,omitempty"`
	CancelledBy        string          `json:"cancelled_by,omitempty"`
	CancelledAt        string          `json:"cancelled_at,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	LineItems          []LineItemDTO   `json:"line_items"`
	Documents          []DocumentDTO   `json:"documents"`
}

type LineItemDTO struct {
	ID              string          `json:"id"`
	WorkerID        string          `json:"worker_id"`
	RecordID        string          `json:"record_id"`
	SalaryID        string          `json:"salary_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	Rate            decimal.Decimal `json:"rate"`
	Amount          decimal.Decimal `json:"amount"`
	EmployeePf      decimal.Decimal `json:"employee_pf"`
	VoluntaryPf     decimal.Decimal `json:"voluntary_pf"`
	EmployerPf      decimal.Decimal `json:"employer_pf"`
	PfTotal         decimal.Decimal `json:"pf_total"`
	OtherDeductions decimal.Decimal `json:"other_deductions"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	Snapshot        *SnapshotDTO    `json:"snapshot,omitempty"`
}

type SnapshotDTO struct {
	WorkerName            string           `json:"worker_name"`
	WorkerPhone           string           `json:"worker_phone,omitempty"`
	PFAccountID           string           `json:"pf_account_id,omitempty"`
	SalaryAmount          decimal.Decimal  `json:"salary_amount"`
	RateBasis             string           `json:"rate_basis"`
	EmployeePfPercentage  decimal.Decimal  `json:"employee_pf_percentage"`
	VoluntaryPfPercentage decimal.Decimal  `json:"voluntary_pf_percentage"`
	EmployerPfPercentage  decimal.Decimal  `json:"employer_pf_percentage"`
	ActivityName          string           `json:"activity_name"`
	ActivityDescription   string           `json:"activity_description,omitempty"`
	CriteriaUnit          string           `json:"criteria_unit,omitempty"`
	CriteriaRate          *decimal.Decimal `json:"criteria_rate,omitempty"`
	CompletionPercentage  decimal.Decimal  `json:"completion_percentage"`
	ActualValue           decimal.Decimal  `json:"actual_value"`
	CompletedDate         string           `json:"completed_date,omitempty"`
	EvaluationNotes       string           `json:"evaluation_notes,omitempty"`
	CapturedAt            string           `json:"captured_at"`
}

type DocumentDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Reference string `json:"reference"`
	Kind      string `json:"kind,omitempty"`
	AddedBy   string `json:"added_by"`
	AddedAt   string `json:"added_at"`
}

type HistoryEntryDTO struct {
	ID             string          `json:"id"`
	ChangeType     string          `json:"change_type"`
	PreviousStatus string          `json:"previous_status,omitempty"`
	NewStatus      string          `json:"new_status"`
	PreviousAmount decimal.Decimal `json:"previous_amount"`
	NewAmount      decimal.Decimal `json:"new_amount"`
	LineItemID     string          `json:"line_item_id,omitempty"`
	RecordID       string          `json:"record_id,omitempty"`
	ActorID        string          `json:"actor_id"`
	ActorName      string          `json:"actor_name,omitempty"`
	Origin         string          `json:"origin,omitempty"`
	RequestID      string          `json:"request_id,omitempty"`
	Remark         string          `json:"remark,omitempty"`
	At             string          `json:"at"`
}

type WorkRecordDTO struct {
	ID                   string          `json:"id"`
	WorkerID             string          `json:"worker_id"`
	ActivityID           string          `json:"activity_id"`
	AssignedDate         string          `json:"assigned_date"`
	Status               string          `json:"status"`
	CompletionPercentage decimal.Decimal `json:"completion_percentage"`
	ActualValue          decimal.Decimal `json:"actual_value"`
	Notes                string          `json:"notes,omitempty"`
	EvaluatedAt          string          `json:"evaluated_at,omitempty"`
	EvaluationCount      int             `json:"evaluation_count"`
	Payability           PayabilityDTO   `json:"payability"`
}

type PayabilityDTO struct {
	State     string `json:"state"`
	PaymentID string `json:"payment_id,omitempty"`
}

type BreakdownDTO struct {
	Quantity        decimal.Decimal `json:"quantity"`
	Rate            decimal.Decimal `json:"rate"`
	CompletionRate  decimal.Decimal `json:"completion_rate"`
	Amount          decimal.Decimal `json:"amount"`
	EmployeePf      decimal.Decimal `json:"employee_pf"`
	VoluntaryPf     decimal.Decimal `json:"voluntary_pf"`
	EmployerPf      decimal.Decimal `json:"employer_pf"`
	PfTotal         decimal.Decimal `json:"pf_total"`
	OtherDeductions decimal.Decimal `json:"other_deductions"`
	NetAmount       decimal.Decimal `json:"net_amount"`
}

type SalaryDTO struct {
	ID                    string          `json:"id"`
	WorkerID              string          `json:"worker_id"`
	Amount                decimal.Decimal `json:"amount"`
	RateBasis             string          `json:"rate_basis"`
	EmployeePfPercentage  decimal.Decimal `json:"employee_pf_percentage"`
	VoluntaryPfPercentage decimal.Decimal `json:"voluntary_pf_percentage"`
	EmployerPfPercentage  decimal.Decimal `json:"employer_pf_percentage"`
	StartDate             string          `json:"start_date"`
	EndDate               string          `json:"end_date,omitempty"`
}

type AuditEventDTO struct {
	ID        string `json:"id"`
	At        string `json:"at"`
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name,omitempty"`
	Origin    string `json:"origin,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Operation string `json:"operation"`
	Target    string `json:"target"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

const dateLayout = time.DateOnly

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func formatOptTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func formatOptDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func toPaymentDTO(p *payroll.Payment) PaymentDTO {
	dto := PaymentDTO{
		ID:                 string(p.ID),
		Status:             string(p.Status),
		Month:              p.Month,
		Year:               p.Year,
		Total:              p.Total,
		NetTotal:           p.NetTotal(),
		Remarks:            p.Remarks,
		CreatedBy:          p.CreatedBy,
		CreatedAt:          formatTime(p.CreatedAt),
		SubmittedBy:        p.SubmittedBy,
		SubmittedAt:        formatOptTime(p.SubmittedAt),
		ApprovedBy:         p.ApprovedBy,
		ApprovedAt:         formatOptTime(p.ApprovedAt),
		PaidBy:             p.PaidBy,
		PaidAt:             formatOptTime(p.PaidAt),
		PaymentDate:        formatOptDate(p.PaymentDate),
		ReferenceNumber:    p.ReferenceNumber,
		CancelledBy:        p.CancelledBy,
		CancelledAt:        formatOptTime(p.CancelledAt),
		CancellationReason: p.CancellationReason,
		LineItems:          make([]LineItemDTO, len(p.LineItems)),
		Documents:          make([]DocumentDTO, len(p.Documents)),
	}
	for i, item := range p.LineItems {
		dto.LineItems[i] = toLineItemDTO(item)
	}
	for i, d := range p.Documents {
		dto.Documents[i] = DocumentDTO{
			ID:        string(d.ID),
			Name:      d.Name,
			Reference: d.Reference,
			Kind:      d.Kind,
			AddedBy:   d.AddedBy,
			AddedAt:   formatTime(d.AddedAt),
		}
	}
	return dto
}

func toLineItemDTO(item payroll.LineItem) LineItemDTO {
	dto := LineItemDTO{
		ID:              string(item.ID),
		WorkerID:        string(item.WorkerID),
		RecordID:        string(item.RecordID),
		SalaryID:        string(item.SalaryID),
		Quantity:        item.Quantity,
		Rate:            item.Rate,
		Amount:          item.Amount,
		EmployeePf:      item.EmployeePf,
		VoluntaryPf:     item.VoluntaryPf,
		EmployerPf:      item.EmployerPf,
		PfTotal:         item.PfTotal,
		OtherDeductions: item.OtherDeductions,
		NetAmount:       item.NetAmount,
	}
	if s := item.Snapshot; s != nil {
		dto.Snapshot = &SnapshotDTO{
			WorkerName:            s.WorkerName,
			WorkerPhone:           s.WorkerPhone,
			PFAccountID:           s.PFAccountID,
			SalaryAmount:          s.SalaryAmount,
			RateBasis:             string(s.RateBasis),
			EmployeePfPercentage:  s.EmployeePfPercentage,
			VoluntaryPfPercentage: s.VoluntaryPfPercentage,
			EmployerPfPercentage:  s.EmployerPfPercentage,
			ActivityName:          s.ActivityName,
			ActivityDescription:   s.ActivityDescription,
			CriteriaUnit:          s.CriteriaUnit,
			CriteriaRate:          s.CriteriaRate,
			CompletionPercentage:  s.CompletionPercentage,
			ActualValue:           s.ActualValue,
			CompletedDate:         formatOptDate(s.CompletedDate),
			EvaluationNotes:       s.EvaluationNotes,
			CapturedAt:            formatTime(s.CapturedAt),
		}
	}
	return dto
}

func toHistoryDTOs(entries []payroll.HistoryEntry) []HistoryEntryDTO {
	dtos := make([]HistoryEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = HistoryEntryDTO{
			ID:             string(e.ID),
			ChangeType:     string(e.ChangeType),
			PreviousStatus: string(e.PreviousStatus),
			NewStatus:      string(e.NewStatus),
			PreviousAmount: e.PreviousAmount,
			NewAmount:      e.NewAmount,
			LineItemID:     string(e.LineItemID),
			RecordID:       string(e.RecordID),
			ActorID:        e.ActorID,
			ActorName:      e.ActorName,
			Origin:         e.Origin,
			RequestID:      e.RequestID,
			Remark:         e.Remark,
			At:             formatTime(e.At),
		}
	}
	return dtos
}

func toWorkRecordDTO(r *payroll.WorkRecord, p payroll.Payability) WorkRecordDTO {
	return WorkRecordDTO{
		ID:                   string(r.ID),
		WorkerID:             string(r.WorkerID),
		ActivityID:           string(r.ActivityID),
		AssignedDate:         r.AssignedDate.Format(dateLayout),
		Status:               string(r.Status),
		CompletionPercentage: r.CompletionPercentage,
		ActualValue:          r.ActualValue,
		Notes:                r.Notes,
		EvaluatedAt:          formatOptTime(r.EvaluatedAt),
		EvaluationCount:      r.EvaluationCount,
		Payability:           PayabilityDTO{State: string(p.State), PaymentID: string(p.PaymentID)},
	}
}

func toBreakdownDTO(b wage.Breakdown) BreakdownDTO {
	return BreakdownDTO{
		Quantity:        b.Quantity,
		Rate:            b.Rate,
		CompletionRate:  b.CompletionRate,
		Amount:          b.Amount,
		EmployeePf:      b.EmployeePf,
		VoluntaryPf:     b.VoluntaryPf,
		EmployerPf:      b.EmployerPf,
		PfTotal:         b.PfTotal,
		OtherDeductions: b.OtherDeductions,
		NetAmount:       b.NetAmount,
	}
}

func toSalaryDTO(s *wage.SalaryRecord) SalaryDTO {
	return SalaryDTO{
		ID:                    string(s.ID),
		WorkerID:              s.WorkerID,
		Amount:                s.Amount,
		RateBasis:             string(s.Basis),
		EmployeePfPercentage:  s.EmployeePfPercentage,
		VoluntaryPfPercentage: s.VoluntaryPfPercentage,
		EmployerPfPercentage:  s.EmployerPfPercentage,
		StartDate:             s.StartDate.Format(dateLayout),
		EndDate:               formatOptDate(s.EndDate),
	}
}

func toAuditDTOs(events []audit.Event) []AuditEventDTO {
	dtos := make([]AuditEventDTO, len(events))
	for i, e := range events {
		dtos[i] = AuditEventDTO{
			ID:        e.ID,
			At:        formatTime(e.At),
			ActorID:   e.ActorID,
			ActorName: e.ActorName,
			Origin:    e.Origin,
			RequestID: e.RequestID,
			Operation: e.Operation,
			Target:    e.Target,
			Outcome:   string(e.Outcome),
			Detail:    e.Detail,
		}
	}
	return dtos
}
