// Package store provides in-memory payroll.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/payroll-engine/audit"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/wage"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory guards a data set with one lock. Values are copied in and out, so
// callers never share slices or pointers with the store.
type Memory struct {
	mu   sync.RWMutex
	data *data
	sink *audit.MemorySink
}

func NewMemory() *Memory {
	return &Memory{data: newData(), sink: audit.NewMemorySink()}
}

// Audit returns the store's audit sink.
func (m *Memory) Audit() audit.Sink { return m.sink }

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The lock is held for the whole of fn, so transactions are serialized.
func (m *Memory) WithTx(_ context.Context, fn func(payroll.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(m.data); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// Reset drops all data and audit events.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newData()
	m.sink.Reset()
	return nil
}

func (m *Memory) read(fn func(d *data)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(m.data)
}

func (m *Memory) write(fn func(d *data) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.data)
}

// -----------------------------------------------------------------------------
// Locked wrappers
// -----------------------------------------------------------------------------

func (m *Memory) Worker(ctx context.Context, id payroll.WorkerID) (w *payroll.Worker, err error) {
	m.read(func(d *data) { w, err = d.Worker(ctx, id) })
	return
}

func (m *Memory) Activity(ctx context.Context, id payroll.ActivityID) (a *payroll.Activity, err error) {
	m.read(func(d *data) { a, err = d.Activity(ctx, id) })
	return
}

func (m *Memory) ActiveCriteria(ctx context.Context, activity payroll.ActivityID, day time.Time) (c *payroll.Criteria, err error) {
	m.read(func(d *data) { c, err = d.ActiveCriteria(ctx, activity, day) })
	return
}

func (m *Memory) ActiveSalary(ctx context.Context, worker payroll.WorkerID, day time.Time) (s *wage.SalaryRecord, err error) {
	m.read(func(d *data) { s, err = d.ActiveSalary(ctx, worker, day) })
	return
}

func (m *Memory) Salary(ctx context.Context, id wage.SalaryID) (s *wage.SalaryRecord, err error) {
	m.read(func(d *data) { s, err = d.Salary(ctx, id) })
	return
}

func (m *Memory) OpenSalary(ctx context.Context, worker payroll.WorkerID) (s *wage.SalaryRecord, err error) {
	m.read(func(d *data) { s, err = d.OpenSalary(ctx, worker) })
	return
}

func (m *Memory) SaveSalary(ctx context.Context, s wage.SalaryRecord) error {
	return m.write(func(d *data) error { return d.SaveSalary(ctx, s) })
}

func (m *Memory) GetPayment(ctx context.Context, id payroll.PaymentID) (p *payroll.Payment, err error) {
	m.read(func(d *data) { p, err = d.GetPayment(ctx, id) })
	return
}

func (m *Memory) ListPayments(ctx context.Context, f payroll.PaymentFilter) (ps []payroll.Payment, err error) {
	m.read(func(d *data) { ps, err = d.ListPayments(ctx, f) })
	return
}

func (m *Memory) FindDraft(ctx context.Context, month, year int) (p *payroll.Payment, err error) {
	m.read(func(d *data) { p, err = d.FindDraft(ctx, month, year) })
	return
}

func (m *Memory) SavePayment(ctx context.Context, p payroll.Payment) error {
	return m.write(func(d *data) error { return d.SavePayment(ctx, p) })
}

func (m *Memory) DeletePayment(ctx context.Context, id payroll.PaymentID) error {
	return m.write(func(d *data) error { return d.DeletePayment(ctx, id) })
}

func (m *Memory) AppendHistory(ctx context.Context, e payroll.HistoryEntry) error {
	return m.write(func(d *data) error { return d.AppendHistory(ctx, e) })
}

func (m *Memory) History(ctx context.Context, id payroll.PaymentID) (h []payroll.HistoryEntry, err error) {
	m.read(func(d *data) { h, err = d.History(ctx, id) })
	return
}

func (m *Memory) GetWorkRecord(ctx context.Context, id payroll.RecordID) (r *payroll.WorkRecord, err error) {
	m.read(func(d *data) { r, err = d.GetWorkRecord(ctx, id) })
	return
}

func (m *Memory) SaveWorkRecord(ctx context.Context, r payroll.WorkRecord) error {
	return m.write(func(d *data) error { return d.SaveWorkRecord(ctx, r) })
}

func (m *Memory) HoldRecord(ctx context.Context, id payroll.RecordID, by payroll.PaymentID) error {
	return m.write(func(d *data) error { return d.HoldRecord(ctx, id, by) })
}

func (m *Memory) ReleaseRecord(ctx context.Context, id payroll.RecordID, by payroll.PaymentID) error {
	return m.write(func(d *data) error { return d.ReleaseRecord(ctx, id, by) })
}

func (m *Memory) SaveWorker(_ context.Context, w payroll.Worker) error {
	return m.write(func(d *data) error { d.workers[w.ID] = w; return nil })
}

func (m *Memory) SaveActivity(_ context.Context, a payroll.Activity) error {
	return m.write(func(d *data) error { d.activities[a.ID] = a; return nil })
}

func (m *Memory) SaveCriteria(_ context.Context, c payroll.Criteria) error {
	return m.write(func(d *data) error {
		for i, existing := range d.criteria {
			if existing.ID == c.ID {
				d.criteria[i] = c
				return nil
			}
		}
		d.criteria = append(d.criteria, c)
		return nil
	})
}

func (m *Memory) ListWorkRecords(_ context.Context, worker payroll.WorkerID) (out []payroll.WorkRecord, err error) {
	m.read(func(d *data) {
		for _, r := range d.records {
			if (worker == "" || r.WorkerID == worker) && !r.IsDeleted() {
				out = append(out, copyRecord(r))
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AssignedDate.Equal(out[j].AssignedDate) {
			return out[i].AssignedDate.Before(out[j].AssignedDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// DATA - Unlocked state, also the transactional view
// =============================================================================

type data struct {
	workers    map[payroll.WorkerID]payroll.Worker
	activities map[payroll.ActivityID]payroll.Activity
	criteria   []payroll.Criteria
	salaries   map[wage.SalaryID]wage.SalaryRecord
	records    map[payroll.RecordID]payroll.WorkRecord
	payments   map[payroll.PaymentID]payroll.Payment
	history    []payroll.HistoryEntry
}

func newData() *data {
	return &data{
		workers:    make(map[payroll.WorkerID]payroll.Worker),
		activities: make(map[payroll.ActivityID]payroll.Activity),
		salaries:   make(map[wage.SalaryID]wage.SalaryRecord),
		records:    make(map[payroll.RecordID]payroll.WorkRecord),
		payments:   make(map[payroll.PaymentID]payroll.Payment),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.workers {
		c.workers[k] = v
	}
	for k, v := range d.activities {
		c.activities[k] = v
	}
	c.criteria = append(c.criteria, d.criteria...)
	for k, v := range d.salaries {
		c.salaries[k] = v
	}
	for k, v := range d.records {
		c.records[k] = copyRecord(v)
	}
	for k, v := range d.payments {
		c.payments[k] = v.Clone()
	}
	c.history = append(c.history, d.history...)
	return c
}

func (d *data) Worker(_ context.Context, id payroll.WorkerID) (*payroll.Worker, error) {
	w, ok := d.workers[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (d *data) Activity(_ context.Context, id payroll.ActivityID) (*payroll.Activity, error) {
	a, ok := d.activities[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (d *data) ActiveCriteria(_ context.Context, activity payroll.ActivityID, day time.Time) (*payroll.Criteria, error) {
	var best *payroll.Criteria
	day = wage.Date(day)
	for i := range d.criteria {
		c := d.criteria[i]
		if c.ActivityID != activity || wage.Date(c.EffectiveFrom).After(day) {
			continue
		}
		if best == nil || c.EffectiveFrom.After(best.EffectiveFrom) {
			best = &c
		}
	}
	return best, nil
}

func (d *data) ActiveSalary(_ context.Context, worker payroll.WorkerID, day time.Time) (*wage.SalaryRecord, error) {
	var best *wage.SalaryRecord
	for _, s := range d.salaries {
		if s.WorkerID != string(worker) || !s.CoversDate(day) {
			continue
		}
		if best == nil || s.StartDate.After(best.StartDate) {
			s := s
			best = &s
		}
	}
	return best, nil
}

func (d *data) Salary(_ context.Context, id wage.SalaryID) (*wage.SalaryRecord, error) {
	s, ok := d.salaries[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (d *data) OpenSalary(_ context.Context, worker payroll.WorkerID) (*wage.SalaryRecord, error) {
	for _, s := range d.salaries {
		if s.WorkerID == string(worker) && s.IsOpen() {
			return &s, nil
		}
	}
	return nil, nil
}

func (d *data) SaveSalary(_ context.Context, s wage.SalaryRecord) error {
	if s.IsOpen() {
		for _, other := range d.salaries {
			if other.ID != s.ID && other.WorkerID == s.WorkerID && other.IsOpen() {
				return fmt.Errorf("%w: worker %s already has open salary %s", payroll.ErrConflict, s.WorkerID, other.ID)
			}
		}
	}
	d.salaries[s.ID] = s
	return nil
}

func (d *data) GetPayment(_ context.Context, id payroll.PaymentID) (*payroll.Payment, error) {
	p, ok := d.payments[id]
	if !ok {
		return nil, nil
	}
	c := p.Clone()
	return &c, nil
}

// ListPayments returns matches newest period first.
func (d *data) ListPayments(_ context.Context, f payroll.PaymentFilter) ([]payroll.Payment, error) {
	var out []payroll.Payment
	for _, p := range d.payments {
		if f.Matches(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Year != b.Year {
			return a.Year > b.Year
		}
		if a.Month != b.Month {
			return a.Month > b.Month
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return out, nil
}

func (d *data) FindDraft(_ context.Context, month, year int) (*payroll.Payment, error) {
	for _, p := range d.payments {
		if p.Status == payroll.StatusDraft && p.Month == month && p.Year == year {
			c := p.Clone()
			return &c, nil
		}
	}
	return nil, nil
}

func (d *data) SavePayment(_ context.Context, p payroll.Payment) error {
	if p.Status == payroll.StatusDraft {
		for _, other := range d.payments {
			if other.ID != p.ID && other.Status == payroll.StatusDraft && other.Month == p.Month && other.Year == p.Year {
				return &payroll.PeriodDraftError{Month: p.Month, Year: p.Year, Existing: other.ID}
			}
		}
	}
	d.payments[p.ID] = p.Clone()
	return nil
}

func (d *data) DeletePayment(_ context.Context, id payroll.PaymentID) error {
	delete(d.payments, id)
	kept := d.history[:0]
	for _, e := range d.history {
		if e.PaymentID != id {
			kept = append(kept, e)
		}
	}
	d.history = kept
	return nil
}

func (d *data) AppendHistory(_ context.Context, e payroll.HistoryEntry) error {
	d.history = append(d.history, e)
	return nil
}

// History returns entries newest first.
func (d *data) History(_ context.Context, id payroll.PaymentID) ([]payroll.HistoryEntry, error) {
	var out []payroll.HistoryEntry
	for i := len(d.history) - 1; i >= 0; i-- {
		if d.history[i].PaymentID == id {
			out = append(out, d.history[i])
		}
	}
	return out, nil
}

func (d *data) GetWorkRecord(_ context.Context, id payroll.RecordID) (*payroll.WorkRecord, error) {
	r, ok := d.records[id]
	if !ok {
		return nil, nil
	}
	c := copyRecord(r)
	return &c, nil
}

func (d *data) SaveWorkRecord(_ context.Context, r payroll.WorkRecord) error {
	r = copyRecord(r)
	if existing, ok := d.records[r.ID]; ok {
		r.HeldBy = existing.HeldBy
	} else {
		r.HeldBy = nil
	}
	d.records[r.ID] = r
	return nil
}

func (d *data) HoldRecord(_ context.Context, id payroll.RecordID, by payroll.PaymentID) error {
	r, ok := d.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", payroll.ErrRecordNotFound, id)
	}
	if r.HeldBy != nil {
		return &payroll.RecordHeldError{RecordID: id, HeldBy: *r.HeldBy}
	}
	holder := by
	r.HeldBy = &holder
	d.records[id] = r
	return nil
}

func (d *data) ReleaseRecord(_ context.Context, id payroll.RecordID, by payroll.PaymentID) error {
	r, ok := d.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", payroll.ErrRecordNotFound, id)
	}
	if r.HeldBy != nil && *r.HeldBy == by {
		r.HeldBy = nil
		d.records[id] = r
	}
	return nil
}

func copyRecord(r payroll.WorkRecord) payroll.WorkRecord {
	if r.HeldBy != nil {
		h := *r.HeldBy
		r.HeldBy = &h
	}
	return r
}
