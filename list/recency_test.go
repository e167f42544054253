package list_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashgrove/cacheproxy/list"
)

func TestEmptyListHasNoBack(t *testing.T) {
	l := list.New[string]()
	assert.Equal(t, 0, l.Len())
	_, ok := l.Back()
	assert.False(t, ok)
}

func TestPushFrontOrdering(t *testing.T) {
	l := list.New[string]()
	a := l.PushFront("a")
	b := l.PushFront("b")
	c := l.PushFront("c")

	require.Equal(t, 3, l.Len())

	back, ok := l.Back()
	require.True(t, ok)
	assert.Equal(t, "a", l.Value(back))
	assert.Equal(t, a, back)

	assert.Equal(t, "c", l.Value(c))
	assert.Equal(t, "b", l.Value(b))
}

func TestMoveToFrontPromotes(t *testing.T) {
	l := list.New[string]()
	a := l.PushFront("a")
	l.PushFront("b")
	l.PushFront("c")

	// order is c, b, a (a is LRU/back)
	l.MoveToFront(a)

	back, ok := l.Back()
	require.True(t, ok)
	assert.Equal(t, "b", l.Value(back))
}

func TestMoveToFrontNoopWhenAlreadyHead(t *testing.T) {
	l := list.New[string]()
	l.PushFront("a")
	b := l.PushFront("b")

	l.MoveToFront(b)

	back, ok := l.Back()
	require.True(t, ok)
	assert.Equal(t, "a", l.Value(back))
}

func TestUnlinkSoleNodeEmptiesList(t *testing.T) {
	l := list.New[string]()
	a := l.PushFront("a")
	l.Unlink(a)

	assert.Equal(t, 0, l.Len())
	_, ok := l.Back()
	assert.False(t, ok)
}

func TestUnlinkMiddleNodeRelinksNeighbors(t *testing.T) {
	l := list.New[string]()
	a := l.PushFront("a")
	b := l.PushFront("b")
	c := l.PushFront("c")

	l.Unlink(b)
	require.Equal(t, 2, l.Len())

	back, ok := l.Back()
	require.True(t, ok)
	assert.Equal(t, "a", l.Value(back))
	assert.Equal(t, a, back)
	assert.Equal(t, "c", l.Value(c))
}

func TestUnlinkedSlotIsRecycled(t *testing.T) {
	l := list.New[string]()
	a := l.PushFront("a")
	l.Unlink(a)

	b := l.PushFront("b")
	assert.Equal(t, a, b, "freed slot should be reused by the next PushFront")
	assert.Equal(t, "b", l.Value(b))
}

func TestLRUOrderAfterPromotionAndEviction(t *testing.T) {
	// Mirrors S6: insert a, b, c; promote a; one eviction must remove b.
	l := list.New[string]()
	a := l.PushFront("a")
	b := l.PushFront("b")
	l.PushFront("c")

	l.MoveToFront(a)

	victim, ok := l.Back()
	require.True(t, ok)
	assert.Equal(t, b, victim)
	assert.Equal(t, "b", l.Value(victim))
}
