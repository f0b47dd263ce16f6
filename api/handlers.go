/*
handlers.go - HTTP API handlers for the wage payment engine

PURPOSE:
  Exposes the payroll service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to payroll.Service.

ENDPOINTS:
  Payments:
    GET    /api/payments                          List (status, month, year filters)
    POST   /api/payments                          Create draft
    GET    /api/payments/{id}                     Get payment with line items
    DELETE /api/payments/{id}                     Delete draft
    POST   /api/payments/{id}/line-items          Add work record
    DELETE /api/payments/{id}/line-items/{itemID} Remove line item
    POST   /api/payments/{id}/submit              DRAFT → PENDING_APPROVAL
    POST   /api/payments/{id}/approve             PENDING_APPROVAL → APPROVED
    POST   /api/payments/{id}/pay                 APPROVED → PAID
    POST   /api/payments/{id}/cancel              → CANCELLED
    POST   /api/payments/{id}/documents           Attach document reference
    GET    /api/payments/{id}/history             History, newest first

  Work records:
    GET    /api/work-records                      List (worker filter)
    GET    /api/work-records/{id}                 Record with payability
    DELETE /api/work-records/{id}                 Soft delete
    POST   /api/work-records/{id}/evaluate        Store evaluation
    GET    /api/work-records/{id}/preview         Wage preview

  Workers:
    POST   /api/workers/{id}/salary               Revise salary

  Audit:
    GET    /api/audit                             Audit trail (target, actor, limit)

  Scenarios (scenarios.go):
    GET    /api/scenarios                         List demo scenarios
    GET    /api/scenarios/current                 Loaded scenario
    POST   /api/scenarios/load                    Reset and load
    POST   /api/scenarios/reset                   Reset

ACTOR:
  X-Actor-ID and X-Actor-Name identify the caller. The origin comes from the
  client address (chi RealIP) and the request id from chi RequestID.

ERROR HANDLING:
  Errors are returned as JSON with a status derived from the error kind:
  - 400: Malformed request body or parameters
  - 404: Payment, line item, record or worker not found
  - 409: Invalid status transition, record held, period has a draft
  - 422: Precondition failed (no line items, missing reason, ...)
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Actor headers are trusted as sent.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/payroll-engine/audit"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/wage"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// DemoStore is what scenarios need beyond the service: master data writes,
// raw work records and a full reset.
type DemoStore interface {
	payroll.MasterData
	SaveWorkRecord(ctx context.Context, r payroll.WorkRecord) error
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *payroll.Service
	Store   DemoStore
	Audit   audit.Sink

	logger *slog.Logger

	// Track currently loaded scenario
	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(svc *payroll.Service, store DemoStore, sink audit.Sink, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Store: store, Audit: sink, logger: logger}
}

// actorFrom builds the explicit actor for a request.
func actorFrom(r *http.Request) payroll.Actor {
	id := strings.TrimSpace(r.Header.Get("X-Actor-ID"))
	if id == "" {
		id = "anonymous"
	}
	return payroll.Actor{
		ID:        id,
		Name:      strings.TrimSpace(r.Header.Get("X-Actor-Name")),
		Origin:    r.RemoteAddr,
		RequestID: middleware.GetReqID(r.Context()),
	}
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListPayments returns payments, newest period first.
// GET /api/payments?status=DRAFT&month=3&year=2024
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	var filter payroll.PaymentFilter
	q := r.URL.Query()

	if s := q.Get("status"); s != "" {
		status := payroll.Status(strings.ToUpper(s))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid status", fmt.Errorf("unknown status %q", s))
			return
		}
		filter.Status = &status
	}
	var err error
	if filter.Month, err = intParam(q.Get("month")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return
	}
	if filter.Year, err = intParam(q.Get("year")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}

	payments, err := h.Service.ListPayments(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	dtos := make([]PaymentDTO, len(payments))
	for i := range payments {
		dtos[i] = toPaymentDTO(&payments[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePayment opens a draft for a period.
// POST /api/payments
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreateDraftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ids := make([]payroll.RecordID, len(req.RecordIDs))
	for i, id := range req.RecordIDs {
		ids[i] = payroll.RecordID(id)
	}

	p, err := h.Service.CreateDraft(r.Context(), actorFrom(r), req.Month, req.Year, ids)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(p))
}

// GetPayment returns a payment with its line items and documents.
// GET /api/payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.GetPayment(r.Context(), paymentID(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// DeletePayment hard-deletes a draft.
// DELETE /api/payments/{id}
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteDraft(r.Context(), actorFrom(r), paymentID(r)); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddLineItem adds a work record to a draft.
// POST /api/payments/{id}/line-items
func (h *Handler) AddLineItem(w http.ResponseWriter, r *http.Request) {
	var req AddLineItemRequest
	if err := decodeJSON(r, &req); err != nil || req.RecordID == "" {
		writeError(w, http.StatusBadRequest, "record_id is required", err)
		return
	}

	p, err := h.Service.AddLineItem(r.Context(), actorFrom(r), paymentID(r), payroll.RecordID(req.RecordID))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(p))
}

// RemoveLineItem removes a line item from a draft.
// DELETE /api/payments/{id}/line-items/{itemID}
func (h *Handler) RemoveLineItem(w http.ResponseWriter, r *http.Request) {
	itemID := payroll.LineItemID(chi.URLParam(r, "itemID"))
	p, err := h.Service.RemoveLineItem(r.Context(), actorFrom(r), paymentID(r), itemID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// SubmitPayment sends a draft for approval.
// POST /api/payments/{id}/submit
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	p, err := h.Service.Submit(r.Context(), actorFrom(r), paymentID(r), req.Remarks)
	h.respondPayment(w, p, err)
}

// ApprovePayment approves a submitted payment.
// POST /api/payments/{id}/approve
func (h *Handler) ApprovePayment(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	p, err := h.Service.Approve(r.Context(), actorFrom(r), paymentID(r), req.Remarks)
	h.respondPayment(w, p, err)
}

// RecordPayment marks an approved payment as paid.
// POST /api/payments/{id}/pay
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var date time.Time
	if req.PaymentDate != "" {
		d, err := time.Parse(dateLayout, req.PaymentDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid payment_date, use YYYY-MM-DD", err)
			return
		}
		date = d
	}

	p, err := h.Service.RecordPayment(r.Context(), actorFrom(r), paymentID(r), date, req.ReferenceNumber)
	h.respondPayment(w, p, err)
}

// CancelPayment cancels a payment that has not been paid.
// POST /api/payments/{id}/cancel
func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	p, err := h.Service.Cancel(r.Context(), actorFrom(r), paymentID(r), req.Reason)
	h.respondPayment(w, p, err)
}

// AddDocument attaches a document reference.
// POST /api/payments/{id}/documents
func (h *Handler) AddDocument(w http.ResponseWriter, r *http.Request) {
	var req AddDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	p, err := h.Service.AddDocument(r.Context(), actorFrom(r), paymentID(r), payroll.DocumentInput{
		Name:      req.Name,
		Reference: req.Reference,
		Kind:      req.Kind,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(p))
}

// GetHistory returns the payment's history, newest first.
// GET /api/payments/{id}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.GetHistory(r.Context(), paymentID(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTOs(entries))
}

func (h *Handler) respondPayment(w http.ResponseWriter, p *payroll.Payment, err error) {
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// =============================================================================
// WORK RECORD HANDLERS
// =============================================================================

// ListWorkRecords returns live records, optionally for one worker.
// GET /api/work-records?worker=...
func (h *Handler) ListWorkRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	records, err := h.Store.ListWorkRecords(ctx, payroll.WorkerID(r.URL.Query().Get("worker")))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	dtos := make([]WorkRecordDTO, 0, len(records))
	for i := range records {
		pay, err := h.Service.RecordPayability(ctx, records[i].ID)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		dtos = append(dtos, toWorkRecordDTO(&records[i], pay))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetWorkRecord returns a record with its derived payability.
// GET /api/work-records/{id}
func (h *Handler) GetWorkRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := recordID(r)

	rec, err := h.Service.GetWorkRecord(ctx, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	pay, err := h.Service.RecordPayability(ctx, id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkRecordDTO(rec, pay))
}

// EvaluateWorkRecord stores an evaluation of an unheld record.
// POST /api/work-records/{id}/evaluate
func (h *Handler) EvaluateWorkRecord(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	e := payroll.Evaluation{
		CompletionPercentage: req.CompletionPercentage,
		ActualValue:          req.ActualValue,
		Notes:                req.Notes,
	}
	if req.CompletedAt != "" {
		t, err := parseDateOrTime(req.CompletedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid completed_at", err)
			return
		}
		e.CompletedAt = t
	}

	rec, err := h.Service.EvaluateRecord(r.Context(), actorFrom(r), recordID(r), e)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkRecordDTO(rec, payroll.Unpaid()))
}

// DeleteWorkRecord soft-deletes an unheld record.
// DELETE /api/work-records/{id}
func (h *Handler) DeleteWorkRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteRecord(r.Context(), actorFrom(r), recordID(r)); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PreviewWorkRecord computes the wage the record would earn now.
// GET /api/work-records/{id}/preview
func (h *Handler) PreviewWorkRecord(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.PreviewLineItem(r.Context(), recordID(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBreakdownDTO(b))
}

// =============================================================================
// WORKER HANDLERS
// =============================================================================

// ReviseSalary closes the open salary and opens a new version.
// POST /api/workers/{id}/salary
func (h *Handler) ReviseSalary(w http.ResponseWriter, r *http.Request) {
	var req ReviseSalaryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	basis, err := wage.ParseRateBasis(strings.ToUpper(strings.TrimSpace(req.RateBasis)))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rate_basis", err)
		return
	}
	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date, use YYYY-MM-DD", err)
		return
	}

	s, err := h.Service.ReviseSalary(r.Context(), actorFrom(r), payroll.WorkerID(chi.URLParam(r, "id")), wage.SalaryRevision{
		Amount:                req.Amount,
		Basis:                 basis,
		VoluntaryPfPercentage: req.VoluntaryPfPercentage,
		StartDate:             start,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSalaryDTO(s))
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// ListAudit returns audit events, newest first.
// GET /api/audit?target=...&actor=...&limit=50
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	if limit == 0 {
		limit = 100
	}

	events, err := h.Audit.List(r.Context(), audit.Filter{
		Target:  q.Get("target"),
		ActorID: q.Get("actor"),
		Limit:   limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list audit events", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(events))
}

// =============================================================================
// HELPERS
// =============================================================================

func paymentID(r *http.Request) payroll.PaymentID {
	return payroll.PaymentID(chi.URLParam(r, "id"))
}

func recordID(r *http.Request) payroll.RecordID {
	return payroll.RecordID(chi.URLParam(r, "id"))
}

// decodeJSON decodes the body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func parseDateOrTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(dateLayout, s)
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, payroll.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, payroll.ErrConflict), errors.Is(err, payroll.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, payroll.ErrPreconditionFailed):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
		writeError(w, status, "Internal error", nil)
		return
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: payroll.ErrorKind(err)})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
