package pmd

import (
	"sync/atomic"
	"time"

	"github.com/moneytech/mpool/cmn/cos"
	"github.com/moneytech/mpool/cmn/mono"
	"github.com/moneytech/mpool/cmn/nlog"
	"github.com/moneytech/mpool/pmd/mdcio"
	"github.com/moneytech/mpool/pmd/omf"
	"github.com/moneytech/mpool/pmd/smap"
	"github.com/moneytech/mpool/pmd/upg"
)

// precompactSlowTick is the elapsed-time floor above which a tick logs its
// own latency, so a compaction or MDC-set allocation that runs unexpectedly
// long shows up without logging every ordinary tick.
const precompactSlowTick = 250 * time.Millisecond

// PrecompactStart launches the periodic pre-compaction task (spec §4.6);
// period is Cfg.PcoPeriod seconds, already clamped to [1,3600] by
// config.Validate.
func (h *Handle) PrecompactStart() {
	h.pcoStop = make(chan struct{})
	h.pcoWG.Add(1)
	go func() {
		defer h.pcoWG.Done()
		t := time.NewTicker(time.Duration(h.Cfg.PcoPeriod) * time.Second)
		defer t.Stop()
		for {
			select {
			case <-h.pcoStop:
				return
			case <-t.C:
				h.precompactTick()
			}
		}
	}()
}

// PrecompactStop cancels and joins the pre-compaction task (spec §5
// "cancellable at deactivation via cancel_delayed_work_sync").
func (h *Handle) PrecompactStop() {
	h.stopPrecompactor()
}

func (h *Handle) stopPrecompactor() {
	if h.pcoStop == nil {
		return
	}
	close(h.pcoStop)
	h.pcoWG.Wait()
	h.pcoStop = nil
}

func (h *Handle) precompactTick() {
	start := mono.NR()
	n := int(h.SlotVcnt())
	if n <= 1 {
		return
	}
	slotIdx := uint8(int(atomic.AddUint64(&h.nmtoc, 1)-1)%(n-1) + 1)
	defer func() {
		if d := mono.Since(start); d > precompactSlowTick {
			nlog.Warningf("pre-compactor: tick for mdc[%d] took %s", slotIdx, d)
		}
	}()

	// duty 1: compact one MDC if needed.
	cfg := pcoThresholds{pctFull: h.Cfg.PcoPctFull, pctGarbage: h.Cfg.PcoPctGarbage}
	if s := h.slotAt(slotIdx); s != nil && needCompact(s, cfg) {
		s.log.compactlock.Lock()
		if needCompact(s, cfg) { // re-evaluate under the lock
			if err := s.log.compactLocked(); err != nil {
				nlog.Errorf("pre-compactor: mdc[%d] compact failed: %v", slotIdx, err)
			}
		}
		s.log.compactlock.Unlock()
	}

	// duty 2: grow the MDC set if overall usage warrants it.
	if h.mdcNeeded() {
		if err := h.allocMDCSet(); err != nil {
			nlog.Warningf("pre-compactor: MDC set allocation failed: %v", err)
		}
	}

	// duty 3: re-weight the allocation table.
	h.updateCredit(slotIdx)
}

// MDCAlloc mints a new MDC set on demand (spec §6 mdc_alloc), the same
// provisioning path the pre-compactor's duty 2 runs automatically — exposed
// for callers that want to grow capacity eagerly rather than wait for a
// tick.
func (h *Handle) MDCAlloc() error {
	return h.allocMDCSet()
}

// MDCCapInfo is one user MDC's capacity/used-bytes snapshot (spec §6
// mdc_cap).
type MDCCapInfo struct {
	Slot     uint8
	Capacity int64
	Used     int64
}

// MDCCap reports capacity and bytes used for every provisioned user MDC
// (spec §6 mdc_cap), walking the same len/cap the pre-compactor's
// need_compact/collect_usage read.
func (h *Handle) MDCCap() []MDCCapInfo {
	h.slotvlock.Lock()
	slots := append([]*Slot(nil), h.slots...)
	h.slotvlock.Unlock()

	out := make([]MDCCapInfo, 0, len(slots))
	for i, s := range slots {
		if i == 0 || s == nil {
			continue
		}
		out = append(out, MDCCapInfo{Slot: uint8(i), Capacity: s.log.log.Capacity(), Used: s.log.log.Len()})
	}
	return out
}

// allocMDCSet provisions MDCSetSz new MDCs (spec §4.6 duty 2), rounded down
// to fit within MDCSlots. Each new MDC: mint its two backing-mlog objids,
// reserve+commit their zones, open the paired log, seed it with a VERSION
// record, then publish it under slotvlock.
func (h *Handle) allocMDCSet() error {
	slot0 := h.slotAt(0)
	want := MDCSetSz
	if room := MDCSlots - int(h.SlotVcnt()); room < want {
		want = room
	}
	if want <= 0 {
		return nil
	}

	for i := 0; i < want; i++ {
		if err := h.allocOneMDC(slot0); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handle) allocOneMDC(slot0 *Slot) error {
	h.slotvlock.Lock()
	idx := uint8(len(h.slots))
	h.slotvlock.Unlock()

	id0, id1 := BackingMlogIDs(int(idx))

	class := h.capacityClass()
	if class == nil {
		return cos.Errf(cos.NoSpace, nil, "no capacity class available for new MDC")
	}

	drive := h.nextAllocDrive(class)
	if drive == nil {
		return cos.Errf(cos.NoSpace, nil, "no drive available in class %d", class.ID)
	}

	zcnt := uint32((uint64(h.Cfg.MDCNCap) + h.zoneBytes - 1) / h.zoneBytes)
	var layouts [2]*Layout
	for i, id := range [2]ObjID{id0, id1} {
		zaddr, err := h.smapMap.Alloc(uint64(drive.Handle), zcnt, smap.SpcCapacity, 1)
		if err != nil {
			return cos.Errf(cos.NoSpace, err, "reserving backing mlog %s", id)
		}
		l := NewLayout(id, drive.Handle, uint32(zaddr), zcnt)
		l.setState(LStateCommitted)
		layouts[i] = l
	}

	for _, l := range layouts {
		slot0.log.compactlock.Lock()
		err := slot0.log.addrec(ocreateRecord(l))
		slot0.log.compactlock.Unlock()
		if err != nil {
			return err
		}
		slot0.ix.InsertCommitted(l)
	}

	rawLog, err := h.opener.Open(uint64(id0), uint64(id1), mdcio.OpenCreate)
	if err != nil {
		return cos.Errf(cos.IoError, err, "opening new mdc[%d]", idx)
	}
	s := newSlot(idx, false)
	s.attachLog(newMdcLog(idx, rawLog, s))
	if err := s.log.appendNoSync(&omf.Record{Type: omf.TypeVersion, Version: upg.Latest()}); err != nil {
		return err
	}
	s.mdccver = upg.Latest()
	s.ids.RestoreFromCkpt(0)

	slot0.ids.uqlock.Lock()
	h.slotvlock.Lock()
	h.slots = append(h.slots, s)
	h.slotvcnt = uint32(len(h.slots))
	h.mdcmax = int(h.slotvcnt) - 1
	h.slotvlock.Unlock()
	slot0.ids.uqlock.Unlock()

	nlog.Infof("allocated mdc[%d] on drive %v", idx, drive.Handle)
	return nil
}

// capacityClass picks the lowest-ID media class as the default target for
// new MDCs (spec §4.6: "pick capacity-class PD").
func (h *Handle) capacityClass() *MediaClass {
	var best *MediaClass
	for _, c := range h.classes {
		if best == nil || c.ID < best.ID {
			best = c
		}
	}
	return best
}

// nextAllocDrive alternates across a class's active drives so active mlogs
// spread evenly (spec §4.6: "Per-PD alternation is applied").
func (h *Handle) nextAllocDrive(class *MediaClass) *Drive {
	var candidates []*Drive
	for _, d := range h.drives {
		if d.State == DriveActive && d.Class == class.ID {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	n := atomic.AddUint64(&h.driveCounter, 1) - 1
	return candidates[n%uint64(len(candidates))]
}
