package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yawl-run/yawl/marking"
	"github.com/yawl-run/yawl/workitem"
)

const dynamicMultiInstanceSpec = `
specId: dynamic-mi
version: "1"
root: main
nets:
  main:
    inputCondition: c_in
    outputCondition: c_out
    tasks:
      M:
        joinCode: AND
        splitCode: AND
        multiInstance:
          min: 1
          max: 3
          threshold: 3
          creationMode: dynamic
          selector: ".grow"
    flows:
      - {id: f1, from: {kind: condition, id: c_in}, to: {kind: task, id: M}}
      - {id: f2, from: {kind: task, id: M}, to: {kind: condition, id: c_out}}
`

// checkinInstance drives an item through the same Checkout/Checkin custody
// handoff the allocator would perform in production, so EvaluateThreshold and
// EvaluateDynamicGrowth see a real Completed instance rather than one left
// Offered.
func checkinInstance(t *testing.T, items *workitem.Store, itemID string) {
	t.Helper()
	_, _, err := items.Checkout(itemID, "worker-1")
	require.NoError(t, err)
	res, err := items.Checkin(itemID, "worker-1", map[string]any{}, nil)
	require.NoError(t, err)
	require.True(t, res.Completed)
}

// TestDynamicMultiInstanceGrows exercises §4.4.2's dynamic growth path: a
// creationMode=dynamic task starts at min instances, and each completed
// sibling's growth predicate decides whether another instance is created,
// up to max.
func TestDynamicMultiInstanceGrows(t *testing.T) {
	ctx := context.Background()
	r, _, caseID := newTestRunner(t, dynamicMultiInstanceSpec)
	require.NoError(t, r.Advance(ctx, caseID))

	items := r.Items.ListByCase(caseID)
	require.Len(t, items, 1, "ExpandDynamicInitial creates exactly min instances")

	// Instance 0 completes with the growth predicate true: below max, so a
	// second instance is created even though min=1 was already satisfied.
	require.NoError(t, r.Marks.MutateData(caseID, func(d map[string]any) { d["grow"] = true }))
	checkinInstance(t, r.Items, items[0].ItemID)
	require.NoError(t, r.CompleteItem(ctx, caseID, items[0].ItemID, map[string]any{}))

	items = r.Items.ListByCase(caseID)
	require.Len(t, items, 2, "growth predicate true should add one more instance")
	require.Equal(t, "M", items[1].TaskID)

	// Instance 1 completes, still growing: reaches max (3).
	checkinInstance(t, r.Items, items[1].ItemID)
	require.NoError(t, r.CompleteItem(ctx, caseID, items[1].ItemID, map[string]any{}))

	items = r.Items.ListByCase(caseID)
	require.Len(t, items, 3, "growth continues until max is reached")

	// Instance 2 completes: all three are now Completed, meeting the
	// threshold (3), so the task finishes instead of growing further even
	// though the predicate is still true.
	checkinInstance(t, r.Items, items[2].ItemID)
	require.NoError(t, r.CompleteItem(ctx, caseID, items[2].ItemID, map[string]any{}))

	items = r.Items.ListByCase(caseID)
	require.Len(t, items, 3, "threshold met stops growth regardless of the predicate")

	completed := 0
	for _, it := range items {
		if it.State == workitem.Completed {
			completed++
		}
	}
	assert.Equal(t, 3, completed)

	cs, err := r.Marks.Snapshot(caseID)
	require.NoError(t, err)
	assert.Equal(t, 1, cs.Marking["c_out"], "task M's single output token fires once threshold is met")
	assert.Equal(t, marking.Completed, cs.Lifecycle)
}

// TestDynamicMultiInstanceStopsAtMaxEvenIfPredicateTrue unit-tests
// EvaluateDynamicGrowth's own Max cutoff directly: once as many instances
// exist as Max allows, growth must stop regardless of what the predicate
// says, because a task whose threshold is below Max can still have
// in-flight (not yet completed) siblings sitting at the Max count.
func TestDynamicMultiInstanceStopsAtMaxEvenIfPredicateTrue(t *testing.T) {
	_, sp, _ := newTestRunner(t, dynamicMultiInstanceSpec)
	net, err := sp.GetNet("main")
	require.NoError(t, err)
	task := net.Tasks["M"]

	items := workitem.NewStore()
	it, err := items.EvaluateDynamicGrowth("case-1", task, 3, map[string]any{"grow": true})
	require.NoError(t, err)
	assert.Nil(t, it, "at currentCount == Max, no further instance is created")
}
