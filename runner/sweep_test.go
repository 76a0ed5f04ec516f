package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yawl-run/yawl/marking"
	"github.com/yawl-run/yawl/workitem"
)

const singleTaskSpec = `
specId: single-task
version: "1"
root: main
nets:
  main:
    inputCondition: c_in
    outputCondition: c_out
    tasks:
      A: {joinCode: AND, splitCode: AND, maxAttempts: 2}
    flows:
      - {id: f1, from: {kind: condition, id: c_in}, to: {kind: task, id: A}}
      - {id: f2, from: {kind: task, id: A}, to: {kind: condition, id: c_out}}
`

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// TestSweepReclaimsExpiredLeaseAndReoffers drives two missed heartbeats
// across two Sweep passes and confirms the item comes back Offered, ready
// for the allocator's DispatchingSink to pick up again.
func TestSweepReclaimsExpiredLeaseAndReoffers(t *testing.T) {
	ctx := context.Background()
	r, _, caseID := newTestRunner(t, singleTaskSpec)
	require.NoError(t, r.Advance(ctx, caseID))

	items := r.Items.ListByCase(caseID)
	require.Len(t, items, 1)
	itemID := items[0].ItemID

	_, lease, err := r.Items.Checkout(itemID, "worker-1")
	require.NoError(t, err)

	clock := &fakeClock{now: lease.ExpiresAt}
	res := r.Sweep(ctx, clock, 0)
	assert.Equal(t, 0, res.ItemsReclaimed, "first missed beat only extends the lease")

	got, err := r.Items.Get(itemID)
	require.NoError(t, err)
	require.NotNil(t, got.Lease)
	clock.now = got.Lease.ExpiresAt

	res = r.Sweep(ctx, clock, 0)
	assert.Equal(t, 1, res.ItemsReclaimed)

	got, err = r.Items.Get(itemID)
	require.NoError(t, err)
	assert.Equal(t, workitem.Offered, got.State, "sweep re-offers a reclaimed item instead of leaving it Enabled")
	assert.Nil(t, got.Assignee)
}

// TestSweepCancelsCaseAfterHardDeadline confirms a live case is force-
// cancelled once the configured case-level deadline elapses since launch,
// and that a case within its deadline is left untouched.
func TestSweepCancelsCaseAfterHardDeadline(t *testing.T) {
	ctx := context.Background()
	r, _, caseID := newTestRunner(t, singleTaskSpec)
	require.NoError(t, r.Advance(ctx, caseID))
	require.NoError(t, r.Marks.SetLifecycle(caseID, marking.Executing))

	cs, err := r.Marks.Snapshot(caseID)
	require.NoError(t, err)
	require.False(t, cs.LaunchedAt.IsZero())

	deadline := 5 * time.Minute
	clock := &fakeClock{now: cs.LaunchedAt.Add(deadline / 2)}
	r.Sweep(ctx, clock, deadline)

	cs, err = r.Marks.Snapshot(caseID)
	require.NoError(t, err)
	assert.Equal(t, marking.Executing, cs.Lifecycle, "well within the deadline: untouched")

	clock.now = cs.LaunchedAt.Add(deadline + time.Second)
	res := r.Sweep(ctx, clock, deadline)
	assert.Equal(t, 1, res.CasesCancelled)

	cs, err = r.Marks.Snapshot(caseID)
	require.NoError(t, err)
	assert.Equal(t, marking.Cancelled, cs.Lifecycle)
}
