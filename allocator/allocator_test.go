package allocator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yawl-run/yawl/spec"
	"github.com/yawl-run/yawl/workitem"
)

type fakeQueue struct {
	lists map[string][]string
}

func newFakeQueue() *fakeQueue { return &fakeQueue{lists: make(map[string][]string)} }

func (q *fakeQueue) Push(ctx context.Context, key, itemID string, front bool) error {
	if front {
		q.lists[key] = append([]string{itemID}, q.lists[key]...)
	} else {
		q.lists[key] = append(q.lists[key], itemID)
	}
	return nil
}

func (q *fakeQueue) Pop(ctx context.Context, key string) (string, bool, error) {
	l := q.lists[key]
	if len(l) == 0 {
		return "", false, nil
	}
	q.lists[key] = l[1:]
	return l[0], true, nil
}

func plainTask(mode spec.AllocationMode, caps []string, urgent bool) *spec.Task {
	return &spec.Task{
		ID:        "T",
		JoinCode:  spec.JoinAND,
		SplitCode: spec.SplitAND,
		Urgent:    urgent,
		MatchingRule: spec.MatchingRule{
			RequiredCapabilities: caps,
			Mode:                 mode,
		},
	}
}

func TestQueueModePreservesFIFOOrder(t *testing.T) {
	ctx := context.Background()
	items := workitem.NewStore()
	q := newFakeQueue()
	a := New(items, nil, q, nil)

	task := plainTask(spec.ModeQueue, []string{"review"}, false)
	i0, i1 := 0, 1
	it1, err := items.Create("case-1", task, &i0, map[string]any{})
	require.NoError(t, err)
	it2, err := items.Create("case-1", task, &i1, map[string]any{})
	require.NoError(t, err)
	_, err = items.MarkOffered(it1.ItemID)
	require.NoError(t, err)
	_, err = items.MarkOffered(it2.ItemID)
	require.NoError(t, err)

	require.NoError(t, a.dispatchQueue(ctx, it1, task.MatchingRule, false))
	require.NoError(t, a.dispatchQueue(ctx, it2, task.MatchingRule, false))

	got, err := a.Claim(ctx, []string{"review"}, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, it1.ItemID, got.ItemID)
}

func TestUrgentItemJumpsQueue(t *testing.T) {
	ctx := context.Background()
	items := workitem.NewStore()
	q := newFakeQueue()
	a := New(items, nil, q, nil)

	task := plainTask(spec.ModeQueue, nil, false)
	urgentTask := plainTask(spec.ModeQueue, nil, true)
	i0, i1 := 0, 1
	normal, err := items.Create("case-1", task, &i0, map[string]any{})
	require.NoError(t, err)
	urgent, err := items.Create("case-1", urgentTask, &i1, map[string]any{})
	require.NoError(t, err)
	_, err = items.MarkOffered(normal.ItemID)
	require.NoError(t, err)
	_, err = items.MarkOffered(urgent.ItemID)
	require.NoError(t, err)

	require.NoError(t, a.dispatchQueue(ctx, normal, task.MatchingRule, false))
	require.NoError(t, a.dispatchQueue(ctx, urgent, urgentTask.MatchingRule, true))

	got, err := a.Claim(ctx, nil, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, urgent.ItemID, got.ItemID)
}

func TestQueueKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, queueKey([]string{"a", "b"}), queueKey([]string{"b", "a"}))
	assert.Equal(t, "default", queueKey(nil))
}
