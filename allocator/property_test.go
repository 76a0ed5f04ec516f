package allocator

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/yawl-run/yawl/spec"
	"github.com/yawl-run/yawl/workitem"
)

// TestQueueModeFIFOFairnessBound checks §4.5.2's fairness bound directly: for
// any number of non-urgent items dispatched to the same queue key, claiming
// them back one at a time always returns them in arrival order, regardless
// of how many items were queued.
func TestQueueModeFIFOFairnessBound(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("claims drain in the same order items were queued", prop.ForAll(
		func(n int) bool {
			ctx := context.Background()
			items := workitem.NewStore()
			q := newFakeQueue()
			a := New(items, nil, q, nil)
			task := plainTask(spec.ModeQueue, []string{"review"}, false)

			var arrival []string
			for i := 0; i < n; i++ {
				idx := i
				it, err := items.Create(fmt.Sprintf("case-%d", i), task, &idx, map[string]any{})
				if err != nil {
					return false
				}
				if _, err := items.MarkOffered(it.ItemID); err != nil {
					return false
				}
				if err := a.dispatchQueue(ctx, it, task.MatchingRule, false); err != nil {
					return false
				}
				arrival = append(arrival, it.ItemID)
			}

			for _, want := range arrival {
				got, err := a.Claim(ctx, []string{"review"}, "worker-1")
				if err != nil || got == nil || got.ItemID != want {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 25),
	))

	properties.TestingRun(t)
}
