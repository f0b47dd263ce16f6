package wage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/wage"
)

func TestRevise_ClosesCurrentOnPreviousDay(t *testing.T) {
	// GIVEN: An open weekly salary starting Jan 1
	// WHEN: A raise starts March 1
	// THEN: The old record ends Feb 28 and is inactive; the new one is open

	current := salary("3500", wage.BasisWeekly, "2")
	now := time.Date(2025, 2, 20, 10, 0, 0, 0, time.UTC)

	closed, opened, err := wage.Revise(&current, wage.SalaryRevision{
		Amount:                dec("4200"),
		Basis:                 wage.BasisWeekly,
		VoluntaryPfPercentage: dec("3"),
		StartDate:             time.Date(2025, 3, 1, 15, 30, 0, 0, time.UTC),
	}, "sal-2", "w-1", now)
	require.NoError(t, err)

	require.NotNil(t, closed)
	require.NotNil(t, closed.EndDate)
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), *closed.EndDate)
	assert.False(t, closed.Active)
	assert.Nil(t, current.EndDate, "input record must not be mutated")

	assert.Equal(t, wage.SalaryID("sal-2"), opened.ID)
	assert.True(t, opened.IsOpen())
	assert.True(t, opened.Active)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), opened.StartDate)
	assert.True(t, wage.DefaultPfPercentage.Equal(opened.EmployeePfPercentage))
	assert.Equal(t, now, opened.CreatedAt)

	assert.True(t, closed.CoversDate(time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)))
	assert.False(t, closed.CoversDate(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, opened.CoversDate(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestRevise_FirstSalary(t *testing.T) {
	closed, opened, err := wage.Revise(nil, wage.SalaryRevision{
		Amount:    dec("500"),
		Basis:     wage.BasisDaily,
		StartDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}, "sal-1", "w-1", time.Now())
	require.NoError(t, err)
	assert.Nil(t, closed)
	assert.Equal(t, "w-1", opened.WorkerID)
}

func TestRevise_Rejections(t *testing.T) {
	current := salary("3500", wage.BasisWeekly, "2")
	jan1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rev  wage.SalaryRevision
	}{
		{"start not after current start", wage.SalaryRevision{Amount: dec("1"), Basis: wage.BasisDaily, StartDate: jan1}},
		{"unknown basis", wage.SalaryRevision{Amount: dec("1"), Basis: "YEARLY", StartDate: jan1.AddDate(1, 0, 0)}},
		{"negative amount", wage.SalaryRevision{Amount: dec("-1"), Basis: wage.BasisDaily, StartDate: jan1.AddDate(1, 0, 0)}},
		{"voluntary over 100", wage.SalaryRevision{Amount: dec("1"), Basis: wage.BasisDaily, VoluntaryPfPercentage: dec("101"), StartDate: jan1.AddDate(1, 0, 0)}},
		{"missing start", wage.SalaryRevision{Amount: dec("1"), Basis: wage.BasisDaily}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := wage.Revise(&current, tt.rev, "sal-x", "w-1", time.Now())
			assert.ErrorIs(t, err, wage.ErrInvalidSalaryRevision)
		})
	}
}

func TestRevise_ClosedRecordCannotBeRevised(t *testing.T) {
	current := salary("3500", wage.BasisWeekly, "2")
	end := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	current.EndDate = &end

	_, _, err := wage.Revise(&current, wage.SalaryRevision{
		Amount: dec("1"), Basis: wage.BasisDaily, StartDate: end.AddDate(0, 1, 0),
	}, "sal-x", "w-1", time.Now())
	assert.ErrorIs(t, err, wage.ErrInvalidSalaryRevision)
}
