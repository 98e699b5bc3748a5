package shuttle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandQueuePriorityOrder(t *testing.T) {
	q := newCommandQueue(10)
	require.True(t, q.TryPush(&queuedItem{priority: 6, seq: 1, id: "a"}))
	require.True(t, q.TryPush(&queuedItem{priority: 1, seq: 2, id: "b"}))
	require.True(t, q.TryPush(&queuedItem{priority: 6, seq: 3, id: "c"}))

	first, ok := q.PopNonBlocking()
	require.True(t, ok)
	assert.Equal(t, "b", first.id)

	second, ok := q.PopNonBlocking()
	require.True(t, ok)
	assert.Equal(t, "a", second.id, "same priority ties broken by submission order")

	third, ok := q.PopNonBlocking()
	require.True(t, ok)
	assert.Equal(t, "c", third.id)
}

func TestCommandQueueRespectsMaxSize(t *testing.T) {
	q := newCommandQueue(2)
	assert.True(t, q.TryPush(&queuedItem{priority: 1, seq: 1, id: "a"}))
	assert.True(t, q.TryPush(&queuedItem{priority: 1, seq: 2, id: "b"}))
	assert.False(t, q.TryPush(&queuedItem{priority: 1, seq: 3, id: "c"}))
}

func TestCommandQueueRemoveID(t *testing.T) {
	q := newCommandQueue(10)
	q.TryPush(&queuedItem{priority: 1, seq: 1, id: "a"})
	q.TryPush(&queuedItem{priority: 2, seq: 2, id: "b"})

	assert.True(t, q.RemoveID("a"))
	assert.False(t, q.RemoveID("a"))

	item, ok := q.PopNonBlocking()
	require.True(t, ok)
	assert.Equal(t, "b", item.id)
}
