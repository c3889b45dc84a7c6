package smap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newInited(t *testing.T, numZones uint32) *InMemory {
	t.Helper()
	m := New()
	require.NoError(t, m.Init([]DriveDesc{{Handle: 1, NumZones: numZones}}))
	return m
}

func TestAllocFirstFit(t *testing.T) {
	m := newInited(t, 16)
	za, err := m.Alloc(1, 4, SpcCapacity, 1)
	require.NoError(t, err)
	require.EqualValues(t, 0, za)

	za2, err := m.Alloc(1, 4, SpcCapacity, 1)
	require.NoError(t, err)
	require.EqualValues(t, 4, za2)
}

func TestAllocHonorsAlignment(t *testing.T) {
	m := newInited(t, 16)
	// Consume zone 0 alone so the next first-fit run starting at 0 is no
	// longer all-free, forcing the aligned scan to skip to zone 4.
	_, err := m.Alloc(1, 1, SpcCapacity, 1)
	require.NoError(t, err)

	za, err := m.Alloc(1, 2, SpcCapacity, 4)
	require.NoError(t, err)
	require.EqualValues(t, 4, za, "alloc must only consider offsets that are multiples of align")
}

func TestAllocFailsWhenExhausted(t *testing.T) {
	m := newInited(t, 4)
	_, err := m.Alloc(1, 4, SpcCapacity, 1)
	require.NoError(t, err)

	_, err = m.Alloc(1, 1, SpcCapacity, 1)
	require.Error(t, err)
}

func TestFreeZonesMakesSpaceReusable(t *testing.T) {
	m := newInited(t, 4)
	za, err := m.Alloc(1, 4, SpcCapacity, 1)
	require.NoError(t, err)

	require.NoError(t, m.FreeZones(1, za, 4))

	za2, err := m.Alloc(1, 4, SpcCapacity, 1)
	require.NoError(t, err)
	require.EqualValues(t, 0, za2)
}

func TestInsertStakesZonesWithoutPriorAlloc(t *testing.T) {
	m := newInited(t, 8)
	require.NoError(t, m.Insert(1, 2, 3))

	// Zones [2,5) are now taken; a first-fit alloc of 2 zones still lands
	// at offset 0 since [0,2) is free.
	za, err := m.Alloc(1, 2, SpcCapacity, 1)
	require.NoError(t, err)
	require.EqualValues(t, 0, za)
}

func TestFreeBytesReflectsFreeZoneCount(t *testing.T) {
	m := newInited(t, 10)
	require.EqualValues(t, 10*4096, m.FreeBytes(1, 4096))

	_, err := m.Alloc(1, 3, SpcCapacity, 1)
	require.NoError(t, err)
	require.EqualValues(t, 7*4096, m.FreeBytes(1, 4096))
}

func TestUnknownDriveErrors(t *testing.T) {
	m := New()
	_, err := m.Alloc(99, 1, SpcCapacity, 1)
	require.Error(t, err)
}
