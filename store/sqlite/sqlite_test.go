package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/audit"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/sqlite"
	"github.com/warp/payroll-engine/wage"
)

var march = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveWorker(ctx, payroll.Worker{ID: "w1", Name: "Asha", PFAccountID: "PF-1"}))
	require.NoError(t, store.SaveActivity(ctx, payroll.Activity{ID: "weed", Name: "Weeding"}))
	require.NoError(t, store.SaveCriteria(ctx, payroll.Criteria{
		ID: "c1", ActivityID: "weed", Unit: "rows", Rate: decimal.NewFromInt(3),
		EffectiveFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, store.SaveSalary(ctx, wage.SalaryRecord{
		ID: "s1", WorkerID: "w1", Amount: decimal.NewFromInt(15000), Basis: wage.BasisMonthly,
		EmployeePfPercentage: decimal.NewFromInt(12), VoluntaryPfPercentage: decimal.NewFromInt(2),
		EmployerPfPercentage: decimal.NewFromInt(12),
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Active: true, CreatedAt: march,
	}))
	return store
}

func saveRecord(t *testing.T, store *sqlite.Store, id payroll.RecordID) {
	t.Helper()
	evaluated := march.Add(8 * time.Hour)
	require.NoError(t, store.SaveWorkRecord(context.Background(), payroll.WorkRecord{
		ID: id, WorkerID: "w1", ActivityID: "weed", AssignedDate: march,
		Status: payroll.WorkCompleted, CompletionPercentage: decimal.NewFromInt(80),
		EvaluatedAt: &evaluated, CompletedAt: &evaluated, EvaluationCount: 1,
		CreatedAt: march, UpdatedAt: evaluated,
	}))
}

func TestSQLite_ServiceLifecycle(t *testing.T) {
	// GIVEN: A SQLite-backed service and two evaluated records
	store := newStore(t)
	ctx := context.Background()
	saveRecord(t, store, "r1")
	saveRecord(t, store, "r2")
	svc := payroll.NewService(store)
	actor := payroll.Actor{ID: "u1", Name: "Clerk", Origin: "127.0.0.1", RequestID: "abc"}

	// WHEN: A payment is drafted, submitted, approved and paid
	p, err := svc.CreateDraft(ctx, actor, 3, 2024, []payroll.RecordID{"r1", "r2"})
	require.NoError(t, err)
	_, err = svc.AddDocument(ctx, actor, p.ID, payroll.DocumentInput{Name: "Muster roll", Reference: "doc-7"})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, actor, p.ID, "ok")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, actor, p.ID, "")
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, actor, p.ID, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), "NEFT-1")
	require.NoError(t, err)

	// THEN: Everything round-trips through the database
	got, err := svc.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payroll.StatusPaid, got.Status)
	require.Len(t, got.LineItems, 2)
	require.Len(t, got.Documents, 1)

	// 15000/30 = 500; 80% = 400; PF 48 + 8
	item := got.LineItems[0]
	assert.Equal(t, "400", item.Amount.String())
	assert.Equal(t, "48", item.EmployeePf.String())
	assert.Equal(t, "8", item.VoluntaryPf.String())
	assert.Equal(t, "344", item.NetAmount.String())
	assert.Equal(t, "800", got.Total.String())

	require.NotNil(t, item.Snapshot)
	assert.Equal(t, "Asha", item.Snapshot.WorkerName)
	assert.Equal(t, "rows", item.Snapshot.CriteriaUnit)
	assert.Equal(t, "3", item.Snapshot.CriteriaRate.String())
	assert.Equal(t, wage.BasisMonthly, item.Snapshot.RateBasis)

	pay, err := svc.RecordPayability(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, payroll.PayabilityPaid, pay.State)

	history, err := svc.GetHistory(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 7)
	assert.Equal(t, payroll.ChangePaid, history[0].ChangeType)
	assert.Equal(t, payroll.ChangeCreated, history[6].ChangeType)
	assert.Equal(t, "abc", history[6].RequestID)
}

func TestSQLite_HoldRecordIsCompareAndSwap(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	saveRecord(t, store, "r1")
	svc := payroll.NewService(store)

	a, err := svc.CreateDraft(ctx, payroll.SystemActor(), 3, 2024, nil)
	require.NoError(t, err)
	b, err := svc.CreateDraft(ctx, payroll.SystemActor(), 4, 2024, nil)
	require.NoError(t, err)

	require.NoError(t, store.HoldRecord(ctx, "r1", a.ID))

	err = store.HoldRecord(ctx, "r1", b.ID)
	var held *payroll.RecordHeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, a.ID, held.HeldBy)

	// Release by the wrong payment is ignored
	require.NoError(t, store.ReleaseRecord(ctx, "r1", b.ID))
	rec, err := store.GetWorkRecord(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, rec.HeldBy)
	assert.Equal(t, a.ID, *rec.HeldBy)

	// Saving the record never touches the hold
	rec.Notes = "re-checked"
	rec.HeldBy = nil
	require.NoError(t, store.SaveWorkRecord(ctx, *rec))
	rec, err = store.GetWorkRecord(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, rec.HeldBy)
	assert.Equal(t, "re-checked", rec.Notes)

	err = store.HoldRecord(ctx, "missing", a.ID)
	require.ErrorIs(t, err, payroll.ErrRecordNotFound)
}

func TestSQLite_OneDraftPerPeriodIndex(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := payroll.Payment{ID: "p1", Status: payroll.StatusDraft, Month: 5, Year: 2024, CreatedBy: "u", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.SavePayment(ctx, first))

	second := first
	second.ID = "p2"
	err := store.SavePayment(ctx, second)

	var dup *payroll.PeriodDraftError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, payroll.PaymentID("p1"), dup.Existing)

	// A cancelled payment frees the period
	first.Status = payroll.StatusCancelled
	require.NoError(t, store.SavePayment(ctx, first))
	require.NoError(t, store.SavePayment(ctx, second))
}

func TestSQLite_WithTxRollsBack(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	saveRecord(t, store, "r1")
	svc := payroll.NewService(store)

	_, err := svc.CreateDraft(ctx, payroll.SystemActor(), 3, 2024, []payroll.RecordID{"r1", "nope"})
	require.ErrorIs(t, err, payroll.ErrRecordNotFound)

	payments, err := store.ListPayments(ctx, payroll.PaymentFilter{})
	require.NoError(t, err)
	assert.Empty(t, payments)

	rec, err := store.GetWorkRecord(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, rec.HeldBy)
}

func TestSQLite_SalaryLookups(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	closed, opened, err := wage.Revise(mustSalary(t, store, "s1"), wage.SalaryRevision{
		Amount: decimal.NewFromInt(18000), Basis: wage.BasisMonthly, StartDate: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
	}, "s2", "w1", march)
	require.NoError(t, err)
	require.NoError(t, store.SaveSalary(ctx, *closed))
	require.NoError(t, store.SaveSalary(ctx, opened))

	june, err := store.ActiveSalary(ctx, "w1", time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, wage.SalaryID("s1"), june.ID)

	july, err := store.ActiveSalary(ctx, "w1", time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, wage.SalaryID("s2"), july.ID)

	open, err := store.OpenSalary(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, wage.SalaryID("s2"), open.ID)

	before, err := store.ActiveSalary(ctx, "w1", time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, before)

	// A second open salary is refused
	err = store.SaveSalary(ctx, wage.SalaryRecord{ID: "s3", WorkerID: "w1", Basis: wage.BasisDaily, StartDate: march, CreatedAt: march})
	require.ErrorIs(t, err, payroll.ErrConflict)
}

func mustSalary(t *testing.T, store *sqlite.Store, id wage.SalaryID) *wage.SalaryRecord {
	t.Helper()
	s, err := store.Salary(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func TestSQLite_AuditSink(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	d := audit.NewDispatcher(store, 8, nil)
	d.Start()
	d.Emit(audit.Event{ActorID: "u1", Operation: "submit", Target: "p1", Outcome: audit.OutcomeSuccess})
	d.Emit(audit.Event{ActorID: "u2", Operation: "approve", Target: "p1", Outcome: audit.OutcomeFailure, Detail: "boom"})
	d.Emit(audit.Event{ActorID: "u1", Operation: "cancel", Target: "p2", Outcome: audit.OutcomeSuccess})
	d.Stop()

	events, err := store.List(ctx, audit.Filter{Target: "p1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "approve", events[0].Operation)
	assert.Equal(t, audit.OutcomeFailure, events[0].Outcome)
	assert.Equal(t, "boom", events[0].Detail)

	limited, err := store.List(ctx, audit.Filter{ActorID: "u1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "cancel", limited[0].Operation)
}

func TestSQLite_Reset(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	saveRecord(t, store, "r1")

	require.NoError(t, store.Reset(ctx))

	w, err := store.Worker(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, w)
	recs, err := store.ListWorkRecords(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, recs)
}
