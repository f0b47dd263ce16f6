/*
service.go - Payment lifecycle operations

PURPOSE:
  Orchestrates every state-changing operation on a payment. Each operation
  runs in one store transaction that covers the status change, the work
  record holds/releases, the line items and the history entry. Either all of
  it commits or none of it does.

FLOW:
  CreateDraft ──▶ AddLineItem* ──▶ Submit ──▶ Approve ──▶ RecordPayment
       │               │              │           │
       │          RemoveLineItem      └───────────┴──▶ Cancel
       └──▶ DeleteDraft (DRAFT only, hard delete)

  AddLineItem    computes the wage (wage.Compute) and claims the record
  Submit         locks every record and captures every snapshot
  Approve/Pay    advance record payability with the payment
  Cancel/Delete  release every record back to UNPAID

AUDIT:
  After each operation an audit.Event is built from the explicit Actor and
  handed to the Auditor, which may write it later on another goroutine.

SEE ALSO:
  - status.go, payability.go: transition rules
  - snapshot.go: CaptureSnapshot
  - history.go: history entries
*/
package payroll

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/audit"
	"github.com/warp/payroll-engine/wage"
)

// Auditor receives audit events. audit.Dispatcher implements it.
type Auditor interface {
	Emit(e audit.Event) bool
}

// Observer is notified of every operation outcome (metrics).
type Observer interface {
	ObserveOperation(op string, err error)
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store    TxStore
	auditor  Auditor
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

type Option func(*Service)

func WithAuditor(a Auditor) Option { return func(s *Service) { s.auditor = a } }
func WithObserver(o Observer) Option { return func(s *Service) { s.observer = o } }
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

func NewService(store TxStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// DRAFT CONSTRUCTION
// =============================================================================

// CreateDraft opens the single draft for a period and optionally fills it.
func (s *Service) CreateDraft(ctx context.Context, actor Actor, month, year int, recordIDs []RecordID) (*Payment, error) {
	var out *Payment
	err := s.store.WithTx(ctx, func(tx Store) error {
		if month < 1 || month > 12 || year < 1 {
			return fmt.Errorf("%w: month %d, year %d", ErrInvalidPeriod, month, year)
		}

		existing, err := tx.FindDraft(ctx, month, year)
		if err != nil {
			return err
		}
		if existing != nil {
			return &PeriodDraftError{Month: month, Year: year, Existing: existing.ID}
		}

		now := s.now()
		p := &Payment{
			ID:        PaymentID(s.newID()),
			Status:    StatusDraft,
			Month:     month,
			Year:      year,
			Total:     decimal.Zero,
			CreatedBy: actor.ID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		created := change{amount: decimal.Zero}
		if err := tx.SavePayment(ctx, *p); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, created.entry(s.historyID(), p, ChangeCreated, actor,
			fmt.Sprintf("draft for %02d/%d", month, year), now)); err != nil {
			return err
		}

		for _, id := range recordIDs {
			if err := s.addRecord(ctx, tx, p, id, actor, now); err != nil {
				return err
			}
		}

		out = p
		return nil
	})
	return out, s.finish(actor, "create_draft", string(paymentIDOf(out)), err)
}

// AddLineItem computes the wage for a record and claims it for the draft.
func (s *Service) AddLineItem(ctx context.Context, actor Actor, paymentID PaymentID, recordID RecordID) (*Payment, error) {
	var out *Payment
	err := s.store.WithTx(ctx, func(tx Store) error {
		p, err := loadPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if err := p.Status.RequireDraft("add line item"); err != nil {
			return err
		}
		if err := s.addRecord(ctx, tx, p, recordID, actor, s.now()); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, s.finish(actor, "add_line_item", string(paymentID), err)
}

func (s *Service) addRecord(ctx context.Context, tx Store, p *Payment, recordID RecordID, actor Actor, now time.Time) error {
	rec, err := loadRecord(ctx, tx, recordID)
	if err != nil {
		return err
	}
	if !rec.IsEvaluated() {
		return fmt.Errorf("%w: %s", ErrRecordNotEvaluated, recordID)
	}

	current, err := payabilityOf(ctx, tx, rec)
	if err != nil {
		return err
	}
	if _, err := current.Include(rec.ID, p.ID); err != nil {
		return err
	}

	salary, err := tx.ActiveSalary(ctx, rec.WorkerID, rec.AssignedDate)
	if err != nil {
		return err
	}
	if salary == nil {
		return fmt.Errorf("%w: worker %s on %s", ErrNoActiveSalary, rec.WorkerID, rec.AssignedDate.Format("2006-01-02"))
	}

	b, err := wage.Compute(wage.Input{Salary: *salary, CompletionPercentage: rec.CompletionPercentage})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvaluation, err)
	}

	if err := tx.HoldRecord(ctx, rec.ID, p.ID); err != nil {
		return err
	}

	prev := before(p)
	item := newLineItem(LineItemID(s.newID()), p.ID, *rec, *salary, b, now)
	p.addLineItem(item)
	p.UpdatedAt = now

	if err := tx.SavePayment(ctx, *p); err != nil {
		return err
	}
	e := prev.entry(s.historyID(), p, ChangeLineItemAdded, actor,
		fmt.Sprintf("record %s, amount %s", rec.ID, item.Amount.StringFixed(2)), now)
	e.LineItemID, e.RecordID = item.ID, rec.ID
	return tx.AppendHistory(ctx, e)
}

// RemoveLineItem deletes a line item from a draft and releases its record.
func (s *Service) RemoveLineItem(ctx context.Context, actor Actor, paymentID PaymentID, lineItemID LineItemID) (*Payment, error) {
	var out *Payment
	err := s.store.WithTx(ctx, func(tx Store) error {
		p, err := loadPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if err := p.Status.RequireDraft("remove line item"); err != nil {
			return err
		}

		prev := before(p)
		item, ok := p.removeLineItem(lineItemID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrLineItemNotFound, lineItemID)
		}
		if err := s.release(ctx, tx, p.ID, StatusDraft, item.RecordID); err != nil {
			return err
		}

		now := s.now()
		p.UpdatedAt = now
		if err := tx.SavePayment(ctx, *p); err != nil {
			return err
		}
		e := prev.entry(s.historyID(), p, ChangeLineItemRemoved, actor,
			fmt.Sprintf("record %s, amount %s", item.RecordID, item.Amount.StringFixed(2)), now)
		e.LineItemID, e.RecordID = item.ID, item.RecordID
		if err := tx.AppendHistory(ctx, e); err != nil {
			return err
		}

		out = p
		return nil
	})
	return out, s.finish(actor, "remove_line_item", string(paymentID), err)
}

// =============================================================================
// WORKFLOW TRANSITIONS
// =============================================================================

// Submit sends a draft for approval: every record is locked and every line
// item gets its snapshot. This is the only place snapshots are taken.
func (s *Service) Submit(ctx context.Context, actor Actor, paymentID PaymentID, remarks string) (*Payment, error) {
	var out *Payment
	err := s.store.WithTx(ctx, func(tx Store) error {
		p, err := loadPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		next, err := p.Status.Submit()
		if err != nil {
			return err
		}
		if len(p.LineItems) == 0 {
			return ErrNoLineItems
		}

		now := s.now()
		for i := range p.LineItems {
			item := &p.LineItems[i]
			rec, err := loadRecord(ctx, tx, item.RecordID)
			if err != nil {
				return err
			}
			if _, err := DerivePayability(rec.HeldBy, p.Status).Lock(rec.ID, p.ID); err != nil {
				return err
			}
			facts, err := gatherFacts(ctx, tx, *item, *rec)
			if err != nil {
				return err
			}
			CaptureSnapshot(item, facts, now)
		}

		prev := before(p)
		p.Status = next
		p.SubmittedBy = actor.ID
		p.SubmittedAt = &now
		p.UpdatedAt = now
		if remarks = strings.TrimSpace(remarks); remarks != "" {
			p.Remarks = remarks
		}

		if err := tx.SavePayment(ctx, *p); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, prev.entry(s.historyID(), p, ChangeSubmitted, actor, remarks, now)); err != nil {
			return err
		}

		out = p
		return nil
	})
	return out, s.finish(actor, "submit", string(paymentID), err)
}

// Approve accepts a submitted payment.
func (s *Service) Approve(ctx context.Context, actor Actor, paymentID PaymentID, remarks string) (*Payment, error) {
	var out *Payment
	err := s.store.WithTx(ctx, func(tx Store) error {
		p, err := loadPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		next, err := p.Status.Approve()
		if err != nil {
			return err
		}
		if err := s.advanceRecords(ctx, tx, p, Payability.Approve); err != nil {
			return err
		}

		now := s.now()
		prev := before(p)
		p.Status = next
		p.ApprovedBy = actor.ID
		p.ApprovedAt = &now
		p.UpdatedAt = now
		if remarks = strings.TrimSpace(remarks); remarks != "" {
			p.Remarks = remarks
		}

		if err := tx.SavePayment(ctx, *p); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, prev.entry(s.historyID(), p, ChangeApproved, actor, remarks, now)); err != nil {
			return err
		}

		out = p
		return nil
	})
	return out, s.finish(actor, "approve", string(paymentID), err)
}

// RecordPayment marks an approved payment as paid. Terminal for the payment
// and for every one of its records.
func (s *Service) RecordPayment(ctx context.Context, actor Actor, paymentID PaymentID, date time.Time, reference string) (*Payment, error) {
	var out *Payment
	err := s.store.WithTx(ctx, func(tx Store) error {
		p, err := loadPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		next, err := p.Status.MarkPaid()
		if err != nil {
			return err
		}
		reference = strings.TrimSpace(reference)
		if date.IsZero() || reference == "" {
			return ErrMissingReference
		}
		if err := s.advanceRecords(ctx, tx, p, Payability.MarkPaid); err != nil {
			return err
		}

		now := s.now()
		paid := wage.Date(date)
		prev := before(p)
		p.Status = next
		p.PaidBy = actor.ID
		p.PaidAt = &now
		p.PaymentDate = &paid
		p.ReferenceNumber = reference
		p.UpdatedAt = now

		if err := tx.SavePayment(ctx, *p); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, prev.entry(s.historyID(), p, ChangePaid, actor,
			fmt.Sprintf("paid on %s, reference %s", paid.Format("2006-01-02"), reference), now)); err != nil {
			return err
		}

		out = p
		return nil
	})
	return out, s.finish(actor, "record_payment", string(paymentID), err)
}

// Cancel abandons a payment that has not been paid and releases its records.
func (s *Service) Cancel(ctx context.Context, actor Actor, paymentID PaymentID, reason string) (*Payment, error) {
	var out *Payment
	err := s.store.WithTx(ctx, func(tx Store) error {
		p, err := loadPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		next, err := p.Status.Cancel()
		if err != nil {
			return err
		}
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return ErrMissingReason
		}
		for _, id := range p.RecordIDs() {
			if err := s.release(ctx, tx, p.ID, p.Status, id); err != nil {
				return err
			}
		}

		now := s.now()
		prev := before(p)
		p.Status = next
		p.CancelledBy = actor.ID
		p.CancelledAt = &now
		p.CancellationReason = reason
		p.UpdatedAt = now

		if err := tx.SavePayment(ctx, *p); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, prev.entry(s.historyID(), p, ChangeCancelled, actor, reason, now)); err != nil {
			return err
		}

		out = p
		return nil
	})
	return out, s.finish(actor, "cancel", string(paymentID), err)
}

// DeleteDraft releases a draft's records and removes the draft entirely,
// history included. It is the only hard delete.
func (s *Service) DeleteDraft(ctx context.Context, actor Actor, paymentID PaymentID) error {
	err := s.store.WithTx(ctx, func(tx Store) error {
		p, err := loadPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if err := p.Status.RequireDraft("delete"); err != nil {
			return err
		}
		for _, id := range p.RecordIDs() {
			if err := s.release(ctx, tx, p.ID, p.Status, id); err != nil {
				return err
			}
		}
		return tx.DeletePayment(ctx, p.ID)
	})
	return s.finish(actor, "delete_draft", string(paymentID), err)
}

// AddDocument attaches a supporting document reference.
func (s *Service) AddDocument(ctx context.Context, actor Actor, paymentID PaymentID, in DocumentInput) (*Payment, error) {
	var out *Payment
	err := s.store.WithTx(ctx, func(tx Store) error {
		p, err := loadPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if err := p.Status.AcceptsDocuments(); err != nil {
			return err
		}
		in.Name, in.Reference = strings.TrimSpace(in.Name), strings.TrimSpace(in.Reference)
		if in.Name == "" || in.Reference == "" {
			return ErrMissingDocumentInfo
		}

		now := s.now()
		prev := before(p)
		p.Documents = append(p.Documents, Document{
			ID:        DocumentID(s.newID()),
			Name:      in.Name,
			Reference: in.Reference,
			Kind:      in.Kind,
			AddedBy:   actor.ID,
			AddedAt:   now,
		})
		p.UpdatedAt = now

		if err := tx.SavePayment(ctx, *p); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, prev.entry(s.historyID(), p, ChangeDocumentAdded, actor, in.Name, now)); err != nil {
			return err
		}

		out = p
		return nil
	})
	return out, s.finish(actor, "add_document", string(paymentID), err)
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) GetPayment(ctx context.Context, id PaymentID) (*Payment, error) {
	return loadPayment(ctx, s.store, id)
}

func (s *Service) ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error) {
	return s.store.ListPayments(ctx, filter)
}

// GetHistory returns the payment's history, newest first.
func (s *Service) GetHistory(ctx context.Context, id PaymentID) ([]HistoryEntry, error) {
	if _, err := loadPayment(ctx, s.store, id); err != nil {
		return nil, err
	}
	return s.store.History(ctx, id)
}

// RecordPayability derives the record's current payability.
func (s *Service) RecordPayability(ctx context.Context, id RecordID) (Payability, error) {
	rec, err := loadRecord(ctx, s.store, id)
	if err != nil {
		return Payability{}, err
	}
	return payabilityOf(ctx, s.store, rec)
}

func (s *Service) GetWorkRecord(ctx context.Context, id RecordID) (*WorkRecord, error) {
	return loadRecord(ctx, s.store, id)
}

// PreviewLineItem computes what a record would earn if added now, from the
// current salary and evaluation. Nothing is stored.
func (s *Service) PreviewLineItem(ctx context.Context, id RecordID) (wage.Breakdown, error) {
	rec, err := loadRecord(ctx, s.store, id)
	if err != nil {
		return wage.Breakdown{}, err
	}
	if !rec.IsEvaluated() {
		return wage.Breakdown{}, fmt.Errorf("%w: %s", ErrRecordNotEvaluated, id)
	}
	salary, err := s.store.ActiveSalary(ctx, rec.WorkerID, rec.AssignedDate)
	if err != nil {
		return wage.Breakdown{}, err
	}
	if salary == nil {
		return wage.Breakdown{}, fmt.Errorf("%w: worker %s", ErrNoActiveSalary, rec.WorkerID)
	}
	b, err := wage.Compute(wage.Input{Salary: *salary, CompletionPercentage: rec.CompletionPercentage})
	if err != nil {
		return wage.Breakdown{}, fmt.Errorf("%w: %w", ErrInvalidEvaluation, err)
	}
	return b, nil
}

// =============================================================================
// WORK RECORDS AND SALARIES
// =============================================================================

// EvaluateRecord stores an evaluation. Held records are rejected, which is
// what keeps submitted payments and their records consistent.
func (s *Service) EvaluateRecord(ctx context.Context, actor Actor, id RecordID, e Evaluation) (*WorkRecord, error) {
	var out *WorkRecord
	err := s.store.WithTx(ctx, func(tx Store) error {
		rec, err := loadRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := rec.Evaluate(e, s.now()); err != nil {
			return err
		}
		if err := tx.SaveWorkRecord(ctx, *rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, s.finish(actor, "evaluate_record", string(id), err)
}

// DeleteRecord soft-deletes an unheld work record.
func (s *Service) DeleteRecord(ctx context.Context, actor Actor, id RecordID) error {
	err := s.store.WithTx(ctx, func(tx Store) error {
		rec, err := loadRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := rec.SoftDelete(s.now()); err != nil {
			return err
		}
		return tx.SaveWorkRecord(ctx, *rec)
	})
	return s.finish(actor, "delete_record", string(id), err)
}

// ReviseSalary closes the worker's open salary and opens the next version.
func (s *Service) ReviseSalary(ctx context.Context, actor Actor, workerID WorkerID, rev wage.SalaryRevision) (*wage.SalaryRecord, error) {
	var out *wage.SalaryRecord
	err := s.store.WithTx(ctx, func(tx Store) error {
		w, err := tx.Worker(ctx, workerID)
		if err != nil {
			return err
		}
		if w == nil {
			return fmt.Errorf("%w: %s", ErrWorkerNotFound, workerID)
		}
		current, err := tx.OpenSalary(ctx, workerID)
		if err != nil {
			return err
		}
		closed, opened, err := wage.Revise(current, rev, wage.SalaryID(s.newID()), string(workerID), s.now())
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPreconditionFailed, err)
		}
		if closed != nil {
			if err := tx.SaveSalary(ctx, *closed); err != nil {
				return err
			}
		}
		if err := tx.SaveSalary(ctx, opened); err != nil {
			return err
		}
		out = &opened
		return nil
	})
	return out, s.finish(actor, "revise_salary", string(workerID), err)
}

// =============================================================================
// HELPERS
// =============================================================================

// advanceRecords applies a payability transition to every record of p. The
// hold itself does not change; the check guards against records that drifted
// from their payment.
func (s *Service) advanceRecords(ctx context.Context, tx Store, p *Payment, step func(Payability, RecordID, PaymentID) (Payability, error)) error {
	for _, id := range p.RecordIDs() {
		rec, err := loadRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := step(DerivePayability(rec.HeldBy, p.Status), rec.ID, p.ID); err != nil {
			return err
		}
	}
	return nil
}

// release validates and applies an unlock of one record held by p.
func (s *Service) release(ctx context.Context, tx Store, p PaymentID, status Status, id RecordID) error {
	rec, err := loadRecord(ctx, tx, id)
	if err != nil {
		return err
	}
	if _, err := DerivePayability(rec.HeldBy, status).Unlock(rec.ID, p); err != nil {
		return err
	}
	return tx.ReleaseRecord(ctx, rec.ID, p)
}

func (s *Service) historyID() HistoryID { return HistoryID(s.newID()) }

// finish reports the outcome to the observer, the log and the auditor. The
// audit event is assembled here, synchronously, from the explicit actor.
func (s *Service) finish(actor Actor, op, target string, err error) error {
	if s.observer != nil {
		s.observer.ObserveOperation(op, err)
	}

	outcome, detail := audit.OutcomeSuccess, ""
	if err != nil {
		outcome, detail = audit.OutcomeFailure, err.Error()
		level := slog.LevelWarn
		if !IsClientError(err) {
			level = slog.LevelError
		}
		s.logger.Log(context.Background(), level, "payment operation failed",
			"op", op, "target", target, "actor", actor.ID, "request_id", actor.RequestID, "kind", ErrorKind(err), "error", err)
	} else {
		s.logger.Info("payment operation", "op", op, "target", target, "actor", actor.ID, "request_id", actor.RequestID)
	}

	if s.auditor != nil {
		s.auditor.Emit(audit.Event{
			At:        s.now(),
			ActorID:   actor.ID,
			ActorName: actor.Name,
			Origin:    actor.Origin,
			RequestID: actor.RequestID,
			Operation: op,
			Target:    target,
			Outcome:   outcome,
			Detail:    detail,
		})
	}
	return err
}

func loadPayment(ctx context.Context, st Store, id PaymentID) (*Payment, error) {
	p, err := st.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, id)
	}
	return p, nil
}

func loadRecord(ctx context.Context, st Store, id RecordID) (*WorkRecord, error) {
	r, err := st.GetWorkRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil || r.IsDeleted() {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return r, nil
}

// payabilityOf looks up the holder's status to derive rec's payability.
func payabilityOf(ctx context.Context, st Store, rec *WorkRecord) (Payability, error) {
	if rec.HeldBy == nil {
		return Unpaid(), nil
	}
	holder, err := st.GetPayment(ctx, *rec.HeldBy)
	if err != nil {
		return Payability{}, err
	}
	if holder == nil {
		return Unpaid(), nil
	}
	return DerivePayability(rec.HeldBy, holder.Status), nil
}

func gatherFacts(ctx context.Context, st Store, item LineItem, rec WorkRecord) (SnapshotFacts, error) {
	facts := SnapshotFacts{Record: rec}

	w, err := st.Worker(ctx, rec.WorkerID)
	if err != nil {
		return facts, err
	}
	if w == nil {
		return facts, fmt.Errorf("%w: %s", ErrWorkerNotFound, rec.WorkerID)
	}
	facts.Worker = *w

	salary, err := st.Salary(ctx, item.SalaryID)
	if err != nil {
		return facts, err
	}
	if salary == nil {
		return facts, fmt.Errorf("%w: %s", ErrSalaryNotFound, item.SalaryID)
	}
	facts.Salary = *salary

	a, err := st.Activity(ctx, rec.ActivityID)
	if err != nil {
		return facts, err
	}
	if a == nil {
		return facts, fmt.Errorf("%w: %s", ErrActivityNotFound, rec.ActivityID)
	}
	facts.Activity = *a

	facts.Criteria, err = st.ActiveCriteria(ctx, rec.ActivityID, rec.AssignedDate)
	return facts, err
}

func paymentIDOf(p *Payment) PaymentID {
	if p == nil {
		return ""
	}
	return p.ID
}
