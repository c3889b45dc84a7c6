package pmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexInsertCommittedRejectsDuplicate(t *testing.T) {
	ix := NewIndex()
	l := NewLayout(MakeObjID(1, OTypeMblock, 1), 1, 0, 4)

	require.Equal(t, Inserted, ix.InsertCommitted(l))
	require.Equal(t, AlreadyPresent, ix.InsertCommitted(l))
	require.Equal(t, 1, ix.CommittedLen())
}

func TestIndexSnapshotIsObjIDSorted(t *testing.T) {
	ix := NewIndex()
	ids := []uint64{40, 10, 30, 20}
	for _, u := range ids {
		ix.InsertCommitted(NewLayout(MakeObjID(1, OTypeMblock, u), 1, 0, 1))
	}
	snap := ix.Snapshot()
	require.Len(t, snap, 4)
	for i := 1; i < len(snap); i++ {
		require.Less(t, snap[i-1].ObjID, snap[i].ObjID)
	}
}

func TestIndexMoveToCommittedDetectsDuplicate(t *testing.T) {
	ix := NewIndex()
	id := MakeObjID(2, OTypeMblock, 1)
	l := NewLayout(id, 1, 0, 4)

	ix.InsertUncommitted(l)
	require.Equal(t, Inserted, ix.MoveToCommitted(l))
	require.Equal(t, 0, ix.UncommittedLen())
	require.Equal(t, 1, ix.CommittedLen())

	// A second committed layout under the same objid must be rejected and
	// must not disturb the uncommitted map.
	dup := NewLayout(id, 1, 0, 4)
	ix.InsertUncommitted(dup)
	require.Equal(t, AlreadyPresent, ix.MoveToCommitted(dup))
	require.Equal(t, 1, ix.UncommittedLen())
}

func TestIndexRemoveCommitted(t *testing.T) {
	ix := NewIndex()
	id := MakeObjID(0, OTypeMblock, 5)
	l := NewLayout(id, 1, 0, 1)
	ix.InsertCommitted(l)

	got, ok := ix.RemoveCommitted(id)
	require.True(t, ok)
	require.Same(t, l, got)

	_, ok = ix.FindCommitted(id)
	require.False(t, ok)
}

func TestLayoutVisibleRequiresCommittedNotRemovedNotDel(t *testing.T) {
	l := NewLayout(MakeObjID(0, OTypeMblock, 1), 1, 0, 1)
	require.False(t, l.Visible(), "uncommitted layout is never visible")

	l.setState(LStateCommitted)
	require.True(t, l.Visible())

	l.setState(LStateRemoved)
	require.False(t, l.Visible())

	l.clearState(LStateRemoved)
	require.True(t, l.Visible())

	l.isdel = true
	require.False(t, l.Visible())
}

func TestLayoutCloneIsDetached(t *testing.T) {
	l := NewLayout(MakeObjID(0, OTypeMblock, 1), 1, 0, 1)
	l.setState(LStateCommitted)
	c := l.clone()

	require.Equal(t, l.ObjID, c.ObjID)
	require.Equal(t, l.State(), c.State())

	l.setState(LStateRemoved)
	require.NotEqual(t, l.State(), c.State(), "clone must not observe later mutation")
}
