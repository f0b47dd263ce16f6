/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- The payment workflow end to end over HTTP
- Error kind to status mapping
- Evaluation, preview and soft delete of work records
- Salary revisions
- Actor headers flowing into history and audit
- Metrics exposure
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/audit"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/sqlite"
)

type testServer struct {
	handler    *Handler
	router     http.Handler
	dispatcher *audit.Dispatcher
	metrics    *Metrics
}

// newTestServer wires the API the way main does, on an in-memory database.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	metrics := NewMetrics()
	dispatcher := audit.NewDispatcher(store, 64, nil)
	dispatcher.OnDrop = metrics.IncAuditDropped
	dispatcher.Start()
	t.Cleanup(dispatcher.Stop)

	svc := payroll.NewService(store,
		payroll.WithAuditor(dispatcher),
		payroll.WithObserver(metrics),
	)
	h := NewHandler(svc, store, store, nil)
	return &testServer{
		handler:    h,
		router:     NewRouter(h, RouterOptions{Metrics: metrics}),
		dispatcher: dispatcher,
		metrics:    metrics,
	}
}

func (s *testServer) load(t *testing.T, scenario string) {
	t.Helper()
	require.NoError(t, s.handler.LoadScenarioByID(context.Background(), scenario))
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "clerk")
	req.Header.Set("X-Actor-Name", "Estate Clerk")
	req.Header.Set("X-Real-IP", "10.0.0.7")

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestAPI_PaymentWorkflow(t *testing.T) {
	// GIVEN: One monthly worker (15000/month, 500/day) with evaluated records
	s := newTestServer(t)
	s.load(t, "single-worker")

	// WHEN: A draft is created with two records
	rec := s.do(t, http.MethodPost, "/api/payments", CreateDraftRequest{
		Month: 3, Year: 2024, RecordIDs: []string{"asha-0304", "asha-0305"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[PaymentDTO](t, rec)

	// THEN: 100% → 500, 80% → 400
	assert.Equal(t, "DRAFT", p.Status)
	assert.Equal(t, "clerk", p.CreatedBy)
	require.Len(t, p.LineItems, 2)
	assertDecimal(t, "900", p.Total)

	// WHEN: A third record is added
	rec = s.do(t, http.MethodPost, "/api/payments/"+p.ID+"/line-items", AddLineItemRequest{RecordID: "asha-0306"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p = decode[PaymentDTO](t, rec)

	// THEN: 50% → 250 and its PF of 12% is deducted
	require.Len(t, p.LineItems, 3)
	assertDecimal(t, "1150", p.Total)
	item := p.LineItems[2]
	assertDecimal(t, "250", item.Amount)
	assertDecimal(t, "30", item.EmployeePf)
	assertDecimal(t, "220", item.NetAmount)

	rec = s.do(t, http.MethodGet, "/api/work-records/asha-0306", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	wr := decode[WorkRecordDTO](t, rec)
	assert.Equal(t, "DRAFT_HELD", wr.Payability.State)
	assert.Equal(t, p.ID, wr.Payability.PaymentID)

	// WHEN: The payment moves through the workflow
	rec = s.do(t, http.MethodPost, "/api/payments/"+p.ID+"/submit", TransitionRequest{Remarks: "March"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PENDING_APPROVAL", decode[PaymentDTO](t, rec).Status)

	rec = s.do(t, http.MethodPost, "/api/payments/"+p.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "APPROVED", decode[PaymentDTO](t, rec).Status)

	rec = s.do(t, http.MethodPost, "/api/payments/"+p.ID+"/pay", RecordPaymentRequest{
		PaymentDate: "2024-04-02", ReferenceNumber: "NEFT-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decode[PaymentDTO](t, rec)

	// THEN: The payment is paid, the records follow and snapshots are frozen
	assert.Equal(t, "PAID", paid.Status)
	assert.Equal(t, "2024-04-02", paid.PaymentDate)
	assert.Equal(t, "NEFT-1", paid.ReferenceNumber)
	require.NotNil(t, paid.LineItems[0].Snapshot)
	assert.Equal(t, "Asha Devi", paid.LineItems[0].Snapshot.WorkerName)
	assert.Equal(t, "MONTHLY", paid.LineItems[0].Snapshot.RateBasis)

	rec = s.do(t, http.MethodGet, "/api/work-records/asha-0304", nil)
	assert.Equal(t, "PAID", decode[WorkRecordDTO](t, rec).Payability.State)

	rec = s.do(t, http.MethodGet, "/api/payments/"+p.ID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]HistoryEntryDTO](t, rec)
	require.Len(t, history, 7)
	assert.Equal(t, "PAID", history[0].ChangeType)
	assert.Equal(t, "clerk", history[0].ActorID)
	assert.Equal(t, "10.0.0.7", history[0].Origin)
	assert.NotEmpty(t, history[0].RequestID)

	// Audit is asynchronous; stopping the dispatcher flushes it
	s.dispatcher.Stop()
	rec = s.do(t, http.MethodGet, "/api/audit?target="+p.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]AuditEventDTO](t, rec)
	require.Len(t, events, 5)
	assert.Equal(t, "record_payment", events[0].Operation)
	assert.Equal(t, "create_draft", events[4].Operation)
	assert.Equal(t, "success", events[0].Outcome)
}

func TestAPI_ListPayments(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "month-in-progress")

	rec := s.do(t, http.MethodGet, "/api/payments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]PaymentDTO](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/api/payments?status=draft", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	drafts := decode[[]PaymentDTO](t, rec)
	require.Len(t, drafts, 1)
	assert.Equal(t, 4, drafts[0].Month)

	rec = s.do(t, http.MethodGet, "/api/payments?month=3&year=2024", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	march := decode[[]PaymentDTO](t, rec)
	require.Len(t, march, 1)
	assert.Equal(t, "PAID", march[0].Status)

	rec = s.do(t, http.MethodGet, "/api/payments?status=LOST", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "single-worker")

	rec := s.do(t, http.MethodPost, "/api/payments", CreateDraftRequest{Month: 3, Year: 2024})
	require.Equal(t, http.StatusCreated, rec.Code)
	draft := decode[PaymentDTO](t, rec)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"unknown payment", http.MethodGet, "/api/payments/missing", nil, http.StatusNotFound, "not_found"},
		{"invalid period", http.MethodPost, "/api/payments", CreateDraftRequest{Month: 13, Year: 2024}, http.StatusUnprocessableEntity, "precondition_failed"},
		{"second draft for period", http.MethodPost, "/api/payments", CreateDraftRequest{Month: 3, Year: 2024}, http.StatusConflict, "conflict"},
		{"submit without line items", http.MethodPost, "/api/payments/" + draft.ID + "/submit", nil, http.StatusUnprocessableEntity, "precondition_failed"},
		{"approve a draft", http.MethodPost, "/api/payments/" + draft.ID + "/approve", nil, http.StatusConflict, "invalid_transition"},
		{"pay a draft", http.MethodPost, "/api/payments/" + draft.ID + "/pay", RecordPaymentRequest{PaymentDate: "2024-04-01", ReferenceNumber: "X"}, http.StatusConflict, "invalid_transition"},
		{"cancel without reason", http.MethodPost, "/api/payments/" + draft.ID + "/cancel", CancelRequest{}, http.StatusUnprocessableEntity, "precondition_failed"},
		{"unevaluated record", http.MethodPost, "/api/payments/" + draft.ID + "/line-items", AddLineItemRequest{RecordID: "asha-0307"}, http.StatusUnprocessableEntity, "precondition_failed"},
		{"unknown record", http.MethodPost, "/api/payments/" + draft.ID + "/line-items", AddLineItemRequest{RecordID: "nope"}, http.StatusNotFound, "not_found"},
		{"unknown line item", http.MethodDelete, "/api/payments/" + draft.ID + "/line-items/nope", nil, http.StatusNotFound, "not_found"},
		{"document without reference", http.MethodPost, "/api/payments/" + draft.ID + "/documents", AddDocumentRequest{Name: "roll"}, http.StatusUnprocessableEntity, "precondition_failed"},
		{"history of unknown payment", http.MethodGet, "/api/payments/missing/history", nil, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.kind, resp.Kind)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestAPI_MalformedRequests(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "single-worker")

	req := httptest.NewRequest(http.MethodPost, "/api/payments", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/payments?month=march", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/payments", CreateDraftRequest{Month: 3, Year: 2024})
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decode[PaymentDTO](t, rec)

	rec = s.do(t, http.MethodPost, "/api/payments/"+p.ID+"/line-items", AddLineItemRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/payments/"+p.ID+"/pay", RecordPaymentRequest{PaymentDate: "02/04/2024"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_CancelReleasesRecords(t *testing.T) {
	// GIVEN: An approved payment holding a record
	s := newTestServer(t)
	s.load(t, "single-worker")

	rec := s.do(t, http.MethodPost, "/api/payments", CreateDraftRequest{Month: 3, Year: 2024, RecordIDs: []string{"asha-0304"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decode[PaymentDTO](t, rec)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/payments/"+p.ID+"/submit", nil).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/payments/"+p.ID+"/approve", nil).Code)

	rec = s.do(t, http.MethodGet, "/api/work-records/asha-0304", nil)
	assert.Equal(t, "APPROVED", decode[WorkRecordDTO](t, rec).Payability.State)

	// WHEN: It is cancelled
	rec = s.do(t, http.MethodPost, "/api/payments/"+p.ID+"/cancel", CancelRequest{Reason: "wrong period"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decode[PaymentDTO](t, rec)

	// THEN: The record is free again and the payment is final
	assert.Equal(t, "CANCELLED", cancelled.Status)
	assert.Equal(t, "wrong period", cancelled.CancellationReason)

	rec = s.do(t, http.MethodGet, "/api/work-records/asha-0304", nil)
	wr := decode[WorkRecordDTO](t, rec)
	assert.Equal(t, "UNPAID", wr.Payability.State)
	assert.Empty(t, wr.Payability.PaymentID)

	rec = s.do(t, http.MethodPost, "/api/payments/"+p.ID+"/documents", AddDocumentRequest{Name: "a", Reference: "b"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// And the record can go into a new draft for the same period
	rec = s.do(t, http.MethodPost, "/api/payments", CreateDraftRequest{Month: 3, Year: 2024, RecordIDs: []string{"asha-0304"}})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestAPI_DeleteDraftAndLineItem(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "single-worker")

	rec := s.do(t, http.MethodPost, "/api/payments", CreateDraftRequest{Month: 3, Year: 2024, RecordIDs: []string{"asha-0304", "asha-0305"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decode[PaymentDTO](t, rec)

	rec = s.do(t, http.MethodDelete, "/api/payments/"+p.ID+"/line-items/"+p.LineItems[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p = decode[PaymentDTO](t, rec)
	require.Len(t, p.LineItems, 1)
	assertDecimal(t, "400", p.Total)

	rec = s.do(t, http.MethodGet, "/api/work-records/asha-0304", nil)
	assert.Equal(t, "UNPAID", decode[WorkRecordDTO](t, rec).Payability.State)

	rec = s.do(t, http.MethodDelete, "/api/payments/"+p.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/payments/"+p.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/work-records/asha-0305", nil)
	assert.Equal(t, "UNPAID", decode[WorkRecordDTO](t, rec).Payability.State)
}

func TestAPI_WorkRecords(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "single-worker")

	// An unevaluated record cannot be previewed
	rec := s.do(t, http.MethodGet, "/api/work-records/asha-0307/preview", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// WHEN: It is evaluated
	rec = s.do(t, http.MethodPost, "/api/work-records/asha-0307/evaluate", map[string]any{
		"completion_percentage": "100",
		"actual_value":          "40",
		"notes":                 "full rows",
		"completed_at":          "2024-03-07",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	wr := decode[WorkRecordDTO](t, rec)
	assert.Equal(t, "COMPLETED", wr.Status)
	assert.Equal(t, 1, wr.EvaluationCount)

	// THEN: The preview shows a full day's wage
	rec = s.do(t, http.MethodGet, "/api/work-records/asha-0307/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	b := decode[BreakdownDTO](t, rec)
	assertDecimal(t, "500", b.Amount)
	assertDecimal(t, "60", b.EmployeePf)
	assertDecimal(t, "440", b.NetAmount)

	// Out-of-range evaluations are rejected
	rec = s.do(t, http.MethodPost, "/api/work-records/asha-0306/evaluate", map[string]any{"completion_percentage": "140"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Held records are frozen
	rec = s.do(t, http.MethodPost, "/api/payments", CreateDraftRequest{Month: 3, Year: 2024, RecordIDs: []string{"asha-0304"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/work-records/asha-0304/evaluate", map[string]any{"completion_percentage": "10"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/work-records/asha-0304", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Unheld records can be soft-deleted
	rec = s.do(t, http.MethodDelete, "/api/work-records/asha-0307", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/work-records/asha-0307", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/work-records?worker=asha", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records := decode[[]WorkRecordDTO](t, rec)
	assert.Len(t, records, 3)
}

func TestAPI_ReviseSalary(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "single-worker")

	rec := s.do(t, http.MethodPost, "/api/workers/asha/salary", map[string]any{
		"amount": "18000", "rate_basis": "monthly", "voluntary_pf_percentage": "2", "start_date": "2024-04-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	salary := decode[SalaryDTO](t, rec)
	assert.Equal(t, "asha", salary.WorkerID)
	assert.Equal(t, "MONTHLY", salary.RateBasis)
	assert.Equal(t, "2024-04-01", salary.StartDate)
	assert.Empty(t, salary.EndDate)
	assertDecimal(t, "12", salary.EmployeePfPercentage)

	// March records keep the old rate
	rec = s.do(t, http.MethodGet, "/api/work-records/asha-0304/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assertDecimal(t, "500", decode[BreakdownDTO](t, rec).Amount)

	tests := []struct {
		name   string
		path   string
		body   map[string]any
		status int
	}{
		{"unknown basis", "/api/workers/asha/salary", map[string]any{"amount": "1", "rate_basis": "HOURLY", "start_date": "2024-05-01"}, http.StatusBadRequest},
		{"bad date", "/api/workers/asha/salary", map[string]any{"amount": "1", "rate_basis": "DAILY", "start_date": "May 1"}, http.StatusBadRequest},
		{"not after current", "/api/workers/asha/salary", map[string]any{"amount": "1", "rate_basis": "DAILY", "start_date": "2024-03-01"}, http.StatusUnprocessableEntity},
		{"negative amount", "/api/workers/asha/salary", map[string]any{"amount": "-1", "rate_basis": "DAILY", "start_date": "2024-06-01"}, http.StatusUnprocessableEntity},
		{"unknown worker", "/api/workers/nobody/salary", map[string]any{"amount": "1", "rate_basis": "DAILY", "start_date": "2024-06-01"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestAPI_AnonymousActor(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "single-worker")

	req := httptest.NewRequest(http.MethodPost, "/api/payments", strings.NewReader(`{"month":3,"year":2024}`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "anonymous", decode[PaymentDTO](t, rec).CreatedBy)
}

func TestAPI_Metrics(t *testing.T) {
	s := newTestServer(t)
	s.load(t, "single-worker")

	s.do(t, http.MethodPost, "/api/payments", CreateDraftRequest{Month: 3, Year: 2024})
	s.do(t, http.MethodPost, "/api/payments", CreateDraftRequest{Month: 3, Year: 2024})

	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `payroll_operations_total{operation="create_draft",outcome="success"} 1`)
	assert.Contains(t, body, `payroll_operations_total{operation="create_draft",outcome="failure"} 1`)
	assert.Contains(t, body, `payroll_operation_failures_total{kind="conflict",operation="create_draft"} 1`)
}

func TestAPI_Healthz(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(payroll.ErrPaymentNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(&payroll.RecordHeldError{RecordID: "r", HeldBy: "p"}))
	assert.Equal(t, http.StatusConflict, statusFor(&payroll.TransitionError{Op: "approve", From: payroll.StatusDraft, Err: payroll.ErrNotPendingApproval}))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(payroll.ErrMissingReason))
	assert.Equal(t, http.StatusInternalServerError, statusFor(context.DeadlineExceeded))
}

func TestActorFrom(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Actor-ID", " u-9 ")
	req.Header.Set("X-Actor-Name", "Priya")
	req.RemoteAddr = "192.168.1.4:5555"

	actor := actorFrom(req)
	assert.Equal(t, "u-9", actor.ID)
	assert.Equal(t, "Priya", actor.Name)
	assert.Equal(t, "192.168.1.4:5555", actor.Origin)
	assert.Empty(t, actor.RequestID)
}
