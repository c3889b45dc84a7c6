package pmd

import (
	"sort"
	"sync/atomic"
)

// needCompact evaluates spec §4.6 duty 1's predicate for slot: active mlog
// fill% over pcopctfull AND garbage% over pcopctgarbage.
func needCompact(s *Slot, cfg pcoThresholds) bool {
	cap := s.log.log.Capacity()
	if cap <= 0 {
		return false
	}
	fillPct := int(s.log.log.Len() * 100 / cap)
	rec := s.pco.rec()
	if rec == 0 {
		return false
	}
	garbagePct := int((rec - atomic.LoadInt64(&s.pco.cobj)) * 100 / rec)
	return fillPct > cfg.pctFull && garbagePct > cfg.pctGarbage
}

type pcoThresholds struct{ pctFull, pctGarbage int }

// mdcUsage is the overall-usage/garbage snapshot over user MDCs (slot>0)
// that mdcNeeded and updateCredit both consume.
type mdcUsage struct {
	usedBytes, capBytes, garbageBytes int64
}

func (h *Handle) collectUsage() mdcUsage {
	var u mdcUsage
	for i := 1; i < len(h.slots); i++ {
		s := h.slots[i]
		if s == nil {
			continue
		}
		cap := s.log.log.Capacity()
		u.capBytes += cap
		u.usedBytes += s.log.log.Len()
		rec := s.pco.rec()
		if rec > 0 {
			u.garbageBytes += (rec - atomic.LoadInt64(&s.pco.cobj)) * cap / rec
		}
	}
	return u
}

// mdcNeeded is spec §4.6 duty 2's predicate: room to grow, overall usage
// above crtmdcpctfull, overall garbage below crtmdcpctgrbg.
func (h *Handle) mdcNeeded() bool {
	if int(h.SlotVcnt()) >= MDCSlots {
		return false
	}
	u := h.collectUsage()
	if u.capBytes == 0 {
		return false
	}
	usagePct := int(u.usedBytes * 100 / u.capBytes)
	garbagePct := int(u.garbageBytes * 100 / u.capBytes)
	return usagePct > h.Cfg.CrtMDCPctFull && garbagePct < h.Cfg.CrtMDCPctGrbg
}

// updateCredit realizes free-space ratios into mds_tbl occupancy (spec
// §4.6 duty 3). compactingSlot is the slot the current tick is
// (re)compacting, so it and the following pconbnoalloc slots are skipped.
func (h *Handle) updateCredit(compactingSlot uint8) {
	h.slotvlock.Lock()
	n := len(h.slots)
	h.slotvlock.Unlock()
	if n <= 1 {
		return
	}

	skip := make(map[uint8]bool)
	for i, c := 0, compactingSlot; i <= h.Cfg.PconbNoAlloc; i++ {
		skip[c] = true
		c = uint8((int(c) % (n - 1)) + 1)
	}

	var totalFree uint64
	cands := make([]*Slot, 0, n-1)
	for i := 1; i < n; i++ {
		s := h.slots[i]
		if s == nil || skip[uint8(i)] {
			continue
		}
		free := h.smapMap.FreeBytes(uint64(h.firstDriveOf(s)), h.zoneBytes)
		cap := uint64(s.log.log.Capacity())
		if cap == 0 || float64(free)/float64(cap) <= 1.0/400 {
			continue
		}
		s.cred.freeBytes = free
		cands = append(cands, s)
		totalFree += free
	}
	if len(cands) == 0 || totalFree == 0 {
		return
	}

	sort.Slice(cands, func(i, j int) bool { return cands[i].cred.freeBytes > cands[j].cred.freeBytes })
	if len(cands) > MDCSetSz {
		cands = cands[:MDCSetSz]
	}

	var assigned uint32
	for _, s := range cands {
		c := uint32(uint64(MDCTblSz) * s.cred.freeBytes / totalFree)
		s.cred.credit = c
		assigned += c
	}
	// distribute rounding shortfall round-robin (spec §4.6 duty 3).
	shortfall := int(MDCTblSz) - int(assigned)
	for i := 0; shortfall > 0; i = (i + 1) % len(cands) {
		cands[i].cred.credit++
		shortfall--
	}

	h.placeInterleaved(cands)
}

// firstDriveOf returns the drive to sample for s's free space: the drive of
// s's lowest-objid committed layout, or any drive of the handle when s has
// no committed layout.
func (h *Handle) firstDriveOf(s *Slot) DriveHandle {
	var best *Layout
	s.ix.IterCommittedSorted(func(l *Layout) {
		if best == nil {
			best = l
		}
	})
	if best != nil {
		return best.Drive
	}
	for dh := range h.drives {
		return dh
	}
	return 0
}

// placeInterleaved fills mds_tbl so that no candidate's occupancy clusters:
// repeatedly consume one credit from each set member in turn (spec §4.6
// duty 3 "interleaved placement").
func (h *Handle) placeInterleaved(cands []*Slot) {
	remaining := make([]uint32, len(cands))
	for i, s := range cands {
		remaining[i] = s.cred.credit
	}
	var tbl [MDCTblSz]uint8
	pos := 0
	for pos < MDCTblSz {
		progressed := false
		for i, s := range cands {
			if remaining[i] == 0 {
				continue
			}
			if pos >= MDCTblSz {
				break
			}
			tbl[pos] = s.idx
			pos++
			remaining[i]--
			progressed = true
		}
		if !progressed {
			break
		}
	}
	// any leftover slots (shouldn't happen when credits sum to MDC_TBL_SZ)
	// default to the first candidate.
	for ; pos < MDCTblSz; pos++ {
		if len(cands) > 0 {
			tbl[pos] = cands[0].idx
		}
	}

	h.slotvlock.Lock()
	h.mdsTbl = tbl
	h.slotvlock.Unlock()
}
