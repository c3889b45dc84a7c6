// Package smap is the external collaborator spec.md calls the "space map":
// it tracks zone allocation within a drive (spec §6: smap_mpool_init,
// smap_mpool_free, smap_alloc, smap_free, smap_insert). The PMD core only
// consumes the Map interface; this package's in-memory implementation
// exists to make the core drivable and testable, and is explicitly out of
// the "GC the space map" business per spec.md's Non-goals — it never
// compacts or defragments on its own, only on direct calls from the core.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package smap

import (
	"fmt"
	"sync"
)

type SpcType uint8

const (
	SpcCapacity SpcType = iota
	SpcStaging
)

type ZoneAddr uint32

// DriveDesc is what smap needs to know about a drive to initialize its
// free-space bitmap (spec §4.4 step 4: "Initialize smap over the finalized
// drive list").
type DriveDesc struct {
	Handle   uint64
	NumZones uint32
}

// Map is the interface the PMD core consumes; see package doc.
type Map interface {
	Init(drives []DriveDesc) error
	Free()
	Alloc(pdh uint64, zcnt uint32, spc SpcType, align uint32) (ZoneAddr, error)
	FreeZones(pdh uint64, zaddr ZoneAddr, zcnt uint32) error
	Insert(pdh uint64, zaddr ZoneAddr, zcnt uint32) error
	FreeBytes(pdh uint64, zoneBytes uint64) uint64
}

// InMemory is a reference Map: one free-zone bitmap per drive, first-fit
// allocation honoring an alignment request. Good enough to exercise the
// PMD core's alloc/erase/delete paths and crash-recovery replay (which
// re-inserts every surviving layout's zones via Insert).
type InMemory struct {
	mu     sync.Mutex
	drives map[uint64]*driveState
}

type driveState struct {
	numZones uint32
	free     []bool // true = free
}

func New() *InMemory { return &InMemory{drives: make(map[uint64]*driveState)} }

func (m *InMemory) Init(drives []DriveDesc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drives = make(map[uint64]*driveState, len(drives))
	for _, d := range drives {
		free := make([]bool, d.NumZones)
		for i := range free {
			free[i] = true
		}
		m.drives[d.Handle] = &driveState{numZones: d.NumZones, free: free}
	}
	return nil
}

func (m *InMemory) Free() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drives = nil
}

// Alloc finds the first zcnt contiguous free zones aligned to align
// (spec §4.5 step 4: "alignment = roundup_pow2(min(zcnt, class.smap_align))").
func (m *InMemory) Alloc(pdh uint64, zcnt uint32, _ SpcType, align uint32) (ZoneAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drives[pdh]
	if !ok {
		return 0, fmt.Errorf("smap: unknown drive %d", pdh)
	}
	if align == 0 {
		align = 1
	}
	for start := uint32(0); start+zcnt <= d.numZones; start += align {
		if allFree(d.free, start, zcnt) {
			for i := start; i < start+zcnt; i++ {
				d.free[i] = false
			}
			return ZoneAddr(start), nil
		}
	}
	return 0, fmt.Errorf("smap: no space for %d zones on drive %d", zcnt, pdh)
}

func allFree(free []bool, start, cnt uint32) bool {
	for i := start; i < start+cnt; i++ {
		if !free[i] {
			return false
		}
	}
	return true
}

func (m *InMemory) FreeZones(pdh uint64, zaddr ZoneAddr, zcnt uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drives[pdh]
	if !ok {
		return fmt.Errorf("smap: unknown drive %d", pdh)
	}
	for i := uint32(zaddr); i < uint32(zaddr)+zcnt; i++ {
		if i < d.numZones {
			d.free[i] = true
		}
	}
	return nil
}

// Insert marks [zaddr, zaddr+zcnt) as allocated without a prior Alloc call
// — used during activation replay to re-stake every surviving layout's
// zones (spec §4.4: "insert its zones into smap").
func (m *InMemory) Insert(pdh uint64, zaddr ZoneAddr, zcnt uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drives[pdh]
	if !ok {
		return fmt.Errorf("smap: unknown drive %d", pdh)
	}
	for i := uint32(zaddr); i < uint32(zaddr)+zcnt && i < d.numZones; i++ {
		d.free[i] = false
	}
	return nil
}

func (m *InMemory) FreeBytes(pdh uint64, zoneBytes uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drives[pdh]
	if !ok {
		return 0
	}
	var n uint64
	for _, f := range d.free {
		if f {
			n++
		}
	}
	return n * zoneBytes
}
