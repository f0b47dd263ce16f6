/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates workers, activities,
	salaries and work records that demonstrate specific features.

AVAILABLE SCENARIOS:

	single-worker:     One monthly worker, evaluated and unevaluated records
	harvest-crew:      Daily, weekly and monthly workers across two activities
	salary-revision:   A raise in the middle of the month
	month-in-progress: Harvest crew with a paid March and an April draft

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Save activities and their criteria
 3. Seed each worker concurrently: worker, salary versions, records
 4. Evaluate records through the service, like a supervisor would
 5. Optionally drive payments through the workflow

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "harvest-crew"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenarioByID

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler and DemoStore
  - payroll/service.go: Operations used for seeding
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/wage"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-worker",
		Name:        "Single Worker",
		Description: "One monthly-salaried worker with three evaluated records and one pending evaluation",
	},
	{
		ID:          "harvest-crew",
		Name:        "Harvest Crew",
		Description: "Four workers on daily, weekly and monthly salaries across weeding and plucking",
	},
	{
		ID:          "salary-revision",
		Name:        "Salary Revision",
		Description: "A raise effective mid-March; records before and after use different rates",
	},
	{
		ID:          "month-in-progress",
		Name:        "Month In Progress",
		Description: "Harvest crew with March paid and an April draft holding half the records",
	},
}

// ErrUnknownScenario is returned for scenario ids not in the list.
var ErrUnknownScenario = errors.New("unknown scenario")

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, ErrUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.setScenario("")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// LoadScenarioByID resets the store and loads the named scenario.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	var load func(context.Context) error
	switch id {
	case "single-worker":
		load = h.loadSingleWorkerScenario
	case "harvest-crew":
		load = h.loadHarvestCrewScenario
	case "salary-revision":
		load = h.loadSalaryRevisionScenario
	case "month-in-progress":
		load = h.loadMonthInProgressScenario
	default:
		return ErrUnknownScenario
	}

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	h.setScenario("")

	if err := load(ctx); err != nil {
		return err
	}
	h.setScenario(id)
	h.logger.Info("scenario loaded", "scenario", id)
	return nil
}

func (h *Handler) setScenario(id string) {
	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

var (
	weeding  = payroll.Activity{ID: "weeding", Name: "Weeding", Description: "Clearing weeds between tea rows"}
	plucking = payroll.Activity{ID: "plucking", Name: "Plucking", Description: "Two leaves and a bud"}

	seedCriteria = []payroll.Criteria{
		{ID: "weeding-rows", ActivityID: weeding.ID, Unit: "rows", Rate: decimal.NewFromInt(3), EffectiveFrom: day(2024, 1, 1)},
		{ID: "plucking-kg", ActivityID: plucking.ID, Unit: "kg", Rate: decimal.RequireFromString("12.50"), EffectiveFrom: day(2024, 1, 1)},
	}
)

func (h *Handler) loadSingleWorkerScenario(ctx context.Context) error {
	return h.seed(ctx, []payroll.Activity{weeding}, seedCriteria[:1], []seedWorker{
		{
			worker:   payroll.Worker{ID: "asha", Name: "Asha Devi", Phone: "+91 98450 11111", PFAccountID: "PF-ASHA-001"},
			salaries: []wage.SalaryRevision{monthly(15000, 0, day(2024, 1, 1))},
			records: []seedRecord{
				{id: "asha-0304", activity: weeding.ID, date: day(2024, 3, 4), completion: 100, actual: 40},
				{id: "asha-0305", activity: weeding.ID, date: day(2024, 3, 5), completion: 80, actual: 32},
				{id: "asha-0306", activity: weeding.ID, date: day(2024, 3, 6), completion: 50, actual: 20},
				{id: "asha-0307", activity: weeding.ID, date: day(2024, 3, 7), completion: notEvaluated},
			},
		},
	})
}

func (h *Handler) loadHarvestCrewScenario(ctx context.Context) error {
	return h.seed(ctx, []payroll.Activity{weeding, plucking}, seedCriteria, harvestCrew())
}

func (h *Handler) loadSalaryRevisionScenario(ctx context.Context) error {
	return h.seed(ctx, []payroll.Activity{plucking}, seedCriteria[1:], []seedWorker{
		{
			worker: payroll.Worker{ID: "ravi", Name: "Ravi Kumar", PFAccountID: "PF-RAVI-002"},
			salaries: []wage.SalaryRevision{
				monthly(12000, 0, day(2024, 1, 1)),
				monthly(15000, 2, day(2024, 3, 16)),
			},
			records: []seedRecord{
				{id: "ravi-0310", activity: plucking.ID, date: day(2024, 3, 10), completion: 100, actual: 28},
				{id: "ravi-0320", activity: plucking.ID, date: day(2024, 3, 20), completion: 100, actual: 31},
			},
		},
	})
}

func (h *Handler) loadMonthInProgressScenario(ctx context.Context) error {
	if err := h.seed(ctx, []payroll.Activity{weeding, plucking}, seedCriteria, harvestCrew()); err != nil {
		return err
	}

	actor := payroll.Actor{ID: "clerk", Name: "Estate Clerk"}
	march, err := h.Service.CreateDraft(ctx, actor, 3, 2024, []payroll.RecordID{"meena-0328", "joseph-0328"})
	if err != nil {
		return fmt.Errorf("march draft: %w", err)
	}
	if _, err := h.Service.Submit(ctx, actor, march.ID, "March wages"); err != nil {
		return err
	}
	manager := payroll.Actor{ID: "manager", Name: "Estate Manager"}
	if _, err := h.Service.Approve(ctx, manager, march.ID, ""); err != nil {
		return err
	}
	if _, err := h.Service.RecordPayment(ctx, actor, march.ID, day(2024, 4, 2), "NEFT-240402-17"); err != nil {
		return err
	}

	if _, err := h.Service.CreateDraft(ctx, actor, 4, 2024, []payroll.RecordID{"meena-0401", "joseph-0401", "lakshmi-0401"}); err != nil {
		return fmt.Errorf("april draft: %w", err)
	}
	return nil
}

func harvestCrew() []seedWorker {
	return []seedWorker{
		{
			worker:   payroll.Worker{ID: "meena", Name: "Meena", PFAccountID: "PF-MEENA-010"},
			salaries: []wage.SalaryRevision{salary(450, wage.BasisDaily, 0, day(2024, 1, 1))},
			records: []seedRecord{
				{id: "meena-0328", activity: plucking.ID, date: day(2024, 3, 28), completion: 100, actual: 30},
				{id: "meena-0401", activity: plucking.ID, date: day(2024, 4, 1), completion: 90, actual: 27},
				{id: "meena-0402", activity: weeding.ID, date: day(2024, 4, 2), completion: 100, actual: 45},
			},
		},
		{
			worker:   payroll.Worker{ID: "joseph", Name: "Joseph", PFAccountID: "PF-JOSEPH-011"},
			salaries: []wage.SalaryRevision{salary(3500, wage.BasisWeekly, 2, day(2024, 1, 1))},
			records: []seedRecord{
				{id: "joseph-0328", activity: weeding.ID, date: day(2024, 3, 28), completion: 75, actual: 30},
				{id: "joseph-0401", activity: plucking.ID, date: day(2024, 4, 1), completion: 100, actual: 33},
				{id: "joseph-0402", activity: plucking.ID, date: day(2024, 4, 2), completion: notEvaluated},
			},
		},
		{
			worker:   payroll.Worker{ID: "lakshmi", Name: "Lakshmi", Phone: "+91 98450 22222"},
			salaries: []wage.SalaryRevision{monthly(16500, 0, day(2024, 2, 1))},
			records: []seedRecord{
				{id: "lakshmi-0401", activity: weeding.ID, date: day(2024, 4, 1), completion: 60, actual: 24},
				{id: "lakshmi-0402", activity: weeding.ID, date: day(2024, 4, 2), completion: 100, actual: 40},
			},
		},
		{
			// No salary yet: records cannot be paid until one is set
			worker: payroll.Worker{ID: "arjun", Name: "Arjun"},
			records: []seedRecord{
				{id: "arjun-0402", activity: plucking.ID, date: day(2024, 4, 2), completion: 100, actual: 25},
			},
		},
	}
}

// =============================================================================
// SEEDING
// =============================================================================

const notEvaluated = -1

type seedWorker struct {
	worker   payroll.Worker
	salaries []wage.SalaryRevision // applied in order
	records  []seedRecord
}

type seedRecord struct {
	id         payroll.RecordID
	activity   payroll.ActivityID
	date       time.Time
	completion int64 // notEvaluated leaves the record ASSIGNED
	actual     int64
}

// seed saves shared master data, then seeds every worker in parallel.
func (h *Handler) seed(ctx context.Context, activities []payroll.Activity, criteria []payroll.Criteria, workers []seedWorker) error {
	for _, a := range activities {
		if err := h.Store.SaveActivity(ctx, a); err != nil {
			return fmt.Errorf("activity %s: %w", a.ID, err)
		}
	}
	for _, c := range criteria {
		if err := h.Store.SaveCriteria(ctx, c); err != nil {
			return fmt.Errorf("criteria %s: %w", c.ID, err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, sw := range workers {
		sw := sw
		g.Go(func() error {
			if err := h.seedWorker(ctx, sw); err != nil {
				return fmt.Errorf("worker %s: %w", sw.worker.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (h *Handler) seedWorker(ctx context.Context, sw seedWorker) error {
	actor := payroll.SystemActor()

	if err := h.Store.SaveWorker(ctx, sw.worker); err != nil {
		return err
	}
	for _, rev := range sw.salaries {
		if _, err := h.Service.ReviseSalary(ctx, actor, sw.worker.ID, rev); err != nil {
			return err
		}
	}

	for _, sr := range sw.records {
		rec := payroll.WorkRecord{
			ID:           sr.id,
			WorkerID:     sw.worker.ID,
			ActivityID:   sr.activity,
			AssignedDate: sr.date,
			Status:       payroll.WorkAssigned,
			CreatedAt:    sr.date,
			UpdatedAt:    sr.date,
		}
		if err := h.Store.SaveWorkRecord(ctx, rec); err != nil {
			return err
		}
		if sr.completion == notEvaluated {
			continue
		}
		supervisor := payroll.Actor{ID: "supervisor", Name: "Field Supervisor"}
		if _, err := h.Service.EvaluateRecord(ctx, supervisor, sr.id, payroll.Evaluation{
			CompletionPercentage: decimal.NewFromInt(sr.completion),
			ActualValue:          decimal.NewFromInt(sr.actual),
			CompletedAt:          sr.date.Add(16 * time.Hour),
		}); err != nil {
			return err
		}
	}
	return nil
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func monthly(amount int64, voluntaryPf int64, start time.Time) wage.SalaryRevision {
	return salary(amount, wage.BasisMonthly, voluntaryPf, start)
}

func salary(amount int64, basis wage.RateBasis, voluntaryPf int64, start time.Time) wage.SalaryRevision {
	return wage.SalaryRevision{
		Amount:                decimal.NewFromInt(amount),
		Basis:                 basis,
		VoluntaryPfPercentage: decimal.NewFromInt(voluntaryPf),
		StartDate:             start,
	}
}
