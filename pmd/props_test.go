package pmd

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/moneytech/mpool/pmd/omf"
)

func TestPropMCConfigPersistsAndSurvivesCompaction(t *testing.T) {
	h, fx := newLifecycleFixture(t)
	activateFresh(t, h, fx)
	t.Cleanup(func() { _ = h.Deactivate() })

	other := &Drive{Handle: 2, UUID: uuid.New(), ZonePg: 1, SectorSize: 512, Class: 0, NumZones: 10, State: DriveUnavail}
	require.NoError(t, h.PropMCConfig(other))

	slot0 := h.slots[0]
	slot0.mdc0.mu.Lock()
	staged, ok := slot0.mdc0.drives[[16]byte(other.UUID)]
	slot0.mdc0.mu.Unlock()
	require.True(t, ok)
	require.Equal(t, DriveUnavail, staged.State)

	// A compaction must re-derive the same MCCONFIG record from the
	// just-written in-memory state, not silently drop it.
	require.NoError(t, slot0.log.compact())
	slot0.mdc0.mu.Lock()
	_, ok = slot0.mdc0.drives[[16]byte(other.UUID)]
	slot0.mdc0.mu.Unlock()
	require.True(t, ok)

	// The compacted log itself carries the MCCONFIG record.
	var persisted bool
	require.NoError(t, slot0.log.replay(func(r *omf.Record) error {
		if r.Type == omf.TypeMCConfig && r.MCConfig.DriveUUID == [16]byte(other.UUID) {
			persisted = true
		}
		return nil
	}))
	require.True(t, persisted)
}

func TestPropMCSpareUpdatesLiveClassAndPersists(t *testing.T) {
	h, fx := newLifecycleFixture(t)
	activateFresh(t, h, fx)
	t.Cleanup(func() { _ = h.Deactivate() })

	require.NoError(t, h.PropMCSpare(fx.class.ID, 42))

	h.pdvlock.RLock()
	pct := h.classes[fx.class.ID].PctSpare
	h.pdvlock.RUnlock()
	require.EqualValues(t, 42, pct)

	slot0 := h.slots[0]
	slot0.mdc0.mu.Lock()
	staged := slot0.mdc0.spares[fx.class.ID]
	slot0.mdc0.mu.Unlock()
	require.EqualValues(t, 42, staged)
}

func TestPropMPConfigRoundTripsThroughCompaction(t *testing.T) {
	h, fx := newLifecycleFixture(t)
	activateFresh(t, h, fx)
	t.Cleanup(func() { _ = h.Deactivate() })

	payload := []byte("opaque mpool config blob")
	require.NoError(t, h.PropMPConfig(payload))

	slot0 := h.slots[0]
	require.NoError(t, slot0.log.compact())
	slot0.mdc0.mu.Lock()
	got := slot0.mdc0.mpconfig
	slot0.mdc0.mu.Unlock()
	require.Equal(t, payload, got)

	// Reading the compacted log back yields the same MPCONFIG payload.
	var replayed []byte
	require.NoError(t, slot0.log.replay(func(r *omf.Record) error {
		if r.Type == omf.TypeMPConfig {
			replayed = append([]byte(nil), r.MPConfig.Payload...)
		}
		return nil
	}))
	require.Equal(t, payload, replayed)
}

func TestMDCAllocGrowsSlotCount(t *testing.T) {
	h, fx := newLifecycleFixture(t)
	activateFresh(t, h, fx)
	t.Cleanup(func() { _ = h.Deactivate() })

	before := h.SlotVcnt()
	require.NoError(t, h.MDCAlloc())
	require.Greater(t, h.SlotVcnt(), before)
}

func TestMDCCapReportsEveryUserMDCButNotMDC0(t *testing.T) {
	h, fx := newLifecycleFixture(t)
	activateFresh(t, h, fx)
	t.Cleanup(func() { _ = h.Deactivate() })

	caps := h.MDCCap()
	require.Equal(t, int(h.SlotVcnt())-1, len(caps))
	for _, c := range caps {
		require.NotZero(t, c.Slot)
		require.Greater(t, c.Capacity, int64(0))
	}
}
