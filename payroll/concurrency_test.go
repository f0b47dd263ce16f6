package payroll_test

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/payroll"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// AT MOST ONE HOLDER
// =============================================================================

func TestConcurrentDrafts_RecordJoinsExactlyOnePayment(t *testing.T) {
	// GIVEN: One record and twelve drafts for different months
	f := newFixture(t)
	rec := f.record(t, "contested", 100)

	drafts := make([]payroll.PaymentID, 12)
	for i := range drafts {
		p, err := f.svc.CreateDraft(f.ctx, clerk, i+1, 2025, nil)
		require.NoError(t, err)
		drafts[i] = p.ID
	}

	// WHEN: Every draft tries to claim the record at once
	var won, held atomic.Int32
	var g errgroup.Group
	for _, id := range drafts {
		id := id
		g.Go(func() error {
			_, err := f.svc.AddLineItem(f.ctx, clerk, id, rec)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, payroll.ErrRecordAlreadyHeld):
				held.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// THEN: Exactly one succeeded and it is the holder
	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(len(drafts)-1), held.Load())

	owner := f.payability(t, rec).PaymentID
	items := 0
	for _, id := range drafts {
		p, err := f.svc.GetPayment(f.ctx, id)
		require.NoError(t, err)
		items += len(p.LineItems)
		if id == owner {
			assert.Len(t, p.LineItems, 1)
		}
	}
	assert.Equal(t, 1, items)
}

// =============================================================================
// PROPERTIES
// =============================================================================

// TestDraftEditing_Properties replays random add/remove sequences against a
// draft and checks the ledger invariants after every run.
func TestDraftEditing_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	const pool = 6

	properties.Property("total matches items and holds match items", prop.ForAll(
		func(ops []int) bool {
			f := newFixture(t)
			var records []payroll.RecordID
			for i := 0; i < pool; i++ {
				records = append(records, f.record(t, payroll.RecordID(fmt.Sprintf("r%d", i)), int64(50+i*10)))
			}
			p, err := f.svc.CreateDraft(f.ctx, clerk, 5, 2024, nil)
			if err != nil {
				return false
			}

			// Non-negative ops add records[op]; negative ops remove an item.
			for _, op := range ops {
				if op >= 0 {
					_, _ = f.svc.AddLineItem(f.ctx, clerk, p.ID, records[op])
					continue
				}
				cur, err := f.svc.GetPayment(f.ctx, p.ID)
				if err != nil || len(cur.LineItems) == 0 {
					continue
				}
				item := cur.LineItems[(-op-1)%len(cur.LineItems)]
				if _, err := f.svc.RemoveLineItem(f.ctx, clerk, p.ID, item.ID); err != nil {
					return false
				}
			}

			final, err := f.svc.GetPayment(f.ctx, p.ID)
			if err != nil || !final.Total.Equal(payroll.SumAmounts(final.LineItems)) {
				return false
			}
			inDraft := make(map[payroll.RecordID]bool)
			for _, id := range final.RecordIDs() {
				if inDraft[id] {
					return false
				}
				inDraft[id] = true
			}
			for _, id := range records {
				pay, err := f.svc.RecordPayability(f.ctx, id)
				if err != nil || pay.IsHeld() != inDraft[id] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(-pool, pool-1)),
	))

	properties.TestingRun(t)
}
