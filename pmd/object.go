package pmd

import (
	"math/bits"
	"sync/atomic"
	"time"

	"github.com/moneytech/mpool/cmn/cos"
	"github.com/moneytech/mpool/cmn/mono"
	"github.com/moneytech/mpool/cmn/nlog"
	"github.com/moneytech/mpool/pmd/omf"
	"github.com/moneytech/mpool/pmd/smap"
)

// AllocArgs are the arguments to Alloc (spec §4.5).
type AllocArgs struct {
	Type     OType
	Capacity uint64
	Class    uint8
	Realloc  bool
	ObjID    ObjID // required when Realloc
}

// Alloc mints (or reuses, if Realloc) an objid, picks a drive/class via the
// allocation scheduler, reserves zones from smap, and inserts the resulting
// layout into the slot's uncommitted index (spec §4.5 "alloc").
func (h *Handle) Alloc(args AllocArgs) (*Layout, error) {
	if args.Realloc {
		if args.ObjID.Slot() == 0 || args.ObjID.Uniq() > h.slotAt(args.ObjID.Slot()).ids.Luniq() {
			return nil, cos.Errf(cos.InvalidArg, nil, "realloc objid %s invalid", args.ObjID)
		}
	}

	if h.SlotVcnt() < 2 {
		return nil, cos.Errf(cos.NoSpace, nil, "no user MDC provisioned yet")
	}

	h.pdvlock.RLock()
	defer h.pdvlock.RUnlock()

	class, ok := h.classes[args.Class]
	if !ok {
		return nil, cos.Errf(cos.InvalidArg, nil, "unknown class %d", args.Class)
	}

	zoneBytes := h.zoneBytes
	zcnt := uint32((args.Capacity + zoneBytes - 1) / zoneBytes)
	align := roundupPow2(minU32(zcnt, class.SmapAlign))

	drive, zaddr, err := h.allocZones(class, zcnt, align)
	if err != nil {
		return nil, err
	}

	var id ObjID
	slotIdx := h.nextTblSlot()
	if args.Realloc {
		id = args.ObjID
		slotIdx = id.Slot()
	} else {
		s := h.slotAt(slotIdx)
		id, err = s.ids.AllocID(slotIdx, args.Type)
		if err != nil {
			return nil, err
		}
	}

	l := NewLayout(id, DriveHandle(drive), uint32(zaddr), zcnt)
	s := h.slotAt(slotIdx)
	if s.ix.InsertUncommitted(l) == AlreadyPresent {
		return nil, cos.Errf(cos.Exists, nil, "objid %s already uncommitted", id)
	}
	s.st.add(args.Type, zcnt, zoneBytes)
	return l, nil
}

// allocZones walks class, and classes reachable via BestEffort fallback,
// retrying smap.Alloc with a bounded busy-wait (spec §4.5 step 4).
func (h *Handle) allocZones(class *MediaClass, zcnt, align uint32) (uint64, smap.ZoneAddr, error) {
	start := mono.NR()
	for attempt := 0; attempt < allocRetryMax; attempt++ {
		for _, d := range h.drives {
			if d.State != DriveActive || d.Class != class.ID {
				continue
			}
			zaddr, err := h.smapMap.Alloc(uint64(d.Handle), zcnt, smap.SpcCapacity, align)
			if err == nil {
				return uint64(d.Handle), zaddr, nil
			}
		}
		if class.BestEffort {
			if next, ok := h.nextClass(class); ok {
				if drv, zaddr, err := h.allocZones(next, zcnt, align); err == nil {
					return drv, zaddr, nil
				}
			}
		}
		if attempt%(allocRetryMax/8) == 0 {
			h.flushEraseQueue()
		}
		time.Sleep(busySleepDuration(attempt))
	}
	nlog.Warningf("alloc: no space for %d zones in class %d after %s", zcnt, class.ID, mono.Since(start))
	return 0, 0, cos.Errf(cos.NoSpace, nil, "no space for %d zones in class %d", zcnt, class.ID)
}

func (h *Handle) nextClass(c *MediaClass) (*MediaClass, bool) {
	var best *MediaClass
	for _, cc := range h.classes {
		if cc.ID > c.ID && (best == nil || cc.ID < best.ID) {
			best = cc
		}
	}
	return best, best != nil
}

// flushEraseQueue drains whatever erase jobs are ready without blocking,
// freeing smap space an alloc retry might need (spec §4.5 step 4: "periodic
// flush of the erase workqueue every 1/8 of retries").
func (h *Handle) flushEraseQueue() {
	for {
		select {
		case job := <-h.eraseCh:
			h.runErase(job)
		default:
			return
		}
	}
}

func roundupPow2(v uint32) uint32 {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len32(v-1)
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// Commit persists OCREATE for an uncommitted layout and moves it into the
// committed index (spec §4.5 "commit").
func (h *Handle) Commit(slotIdx uint8, l *Layout) error {
	s := h.slotAt(slotIdx)
	s.log.compactlock.Lock()
	defer s.log.compactlock.Unlock()

	rec := ocreateRecord(l)
	if err := s.log.addrec(rec); err != nil {
		return err // layout stays in uncobj, caller may retry or abort
	}

	l.setState(LStateCommitted)
	if s.ix.MoveToCommitted(l) == AlreadyPresent {
		l.clearState(LStateCommitted)
		s.ix.InsertUncommitted(l)
		return cos.Errf(cos.Critical, nil, "duplicate commit of %s", l.ObjID)
	}
	atomic.AddInt64(&s.pco.cr, 1)
	atomic.AddInt64(&s.pco.cobj, 1)
	return nil
}

func ocreateRecord(l *Layout) *omf.Record {
	return &omf.Record{
		Type: omf.TypeOCreate,
		Layout: omf.ObjLayout{
			ObjID: uint64(l.ObjID), Drive: uint64(l.Drive),
			ZoneStart: l.ZoneStart, ZoneCount: l.ZoneCount, Gen: l.Gen,
		},
	}
}

func odeleteRecord(id ObjID) *omf.Record {
	return &omf.Record{Type: omf.TypeODelete, ObjID: uint64(id)}
}

func oeraseRecord(id ObjID, gen uint64) *omf.Record {
	return &omf.Record{Type: omf.TypeOErase, ObjID: uint64(id), Gen: gen}
}

// Abort discards an uncommitted layout and hands it to the erase worker
// (spec §4.5 "abort").
func (h *Handle) Abort(slotIdx uint8, l *Layout) error {
	if l.Refcount() > 2 {
		return cos.Errf(cos.Busy, nil, "objid %s refcount too high to abort", l.ObjID)
	}
	s := h.slotAt(slotIdx)
	l.mu.Lock()
	l.isdel = true
	l.state |= LStateRemoved
	l.refcount = 0
	l.mu.Unlock()
	if _, ok := s.ix.RemoveUncommitted(l.ObjID); !ok {
		return cos.Errf(cos.NotFound, nil, "objid %s not uncommitted", l.ObjID)
	}
	s.st.sub(l.ObjID.Type(), l.ZoneCount, h.zoneBytes)
	h.enqueueErase(slotIdx, l)
	return nil
}

// Delete logs ODELETE for a committed layout, removes it from the index,
// and enqueues the async erase (spec §4.5 "delete").
func (h *Handle) Delete(slotIdx uint8, l *Layout) error {
	if l.Refcount() > 2 {
		return cos.Errf(cos.Busy, nil, "objid %s refcount too high to delete", l.ObjID)
	}
	s := h.slotAt(slotIdx)
	s.log.compactlock.Lock()
	defer s.log.compactlock.Unlock()

	l.mu.Lock()
	l.isdel = true
	l.state |= LStateRemoved
	l.mu.Unlock()

	rec := odeleteRecord(l.ObjID)
	if err := s.log.addrec(rec); err != nil {
		l.mu.Lock()
		l.isdel = false
		l.state &^= LStateRemoved
		l.mu.Unlock()
		return err
	}

	s.ix.RemoveCommitted(l.ObjID)
	atomic.AddInt64(&s.pco.del, 1)
	atomic.AddInt64(&s.pco.cobj, -1)
	s.st.sub(l.ObjID.Type(), l.ZoneCount, h.zoneBytes)
	h.enqueueErase(slotIdx, l)
	return nil
}

// Erase bumps a committed mlog layout's generation (spec §4.5 "erase").
// mblocks are never erased this way — only through the async post-delete
// erase worker.
func (h *Handle) Erase(slotIdx uint8, l *Layout, newGen uint64) error {
	if l.ObjID.Type() != OTypeMlog {
		return cos.Errf(cos.InvalidArg, nil, "erase is for mlogs only")
	}
	if !l.Visible() {
		return cos.Errf(cos.Gone, nil, "objid %s not committed", l.ObjID)
	}
	if newGen <= l.Gen {
		return cos.Errf(cos.InvalidArg, nil, "new gen %d must exceed current gen %d", newGen, l.Gen)
	}

	s := h.slotAt(slotIdx)
	if isBackingMlog(l.ObjID) {
		// MDC0 superblock path: caller already holds MDC0's compact-lock.
		l.Gen = newGen
		return nil
	}

	s.log.compactlock.Lock()
	defer s.log.compactlock.Unlock()
	rec := oeraseRecord(l.ObjID, newGen)
	if err := s.log.addrec(rec); err != nil {
		return err
	}
	l.Gen = newGen
	atomic.AddInt64(&s.pco.er, 1)
	return nil
}

// Get bumps refcount under the layout's mutex, failing Gone if the layout is tombstoned
// (spec §4.5 "get/put").
func (h *Handle) Get(l *Layout) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isdel {
		return cos.Errf(cos.Gone, nil, "objid %s deleted", l.ObjID)
	}
	l.refcount++
	return nil
}

// Put releases a reference; it never drops the layout below 1 — the erase
// worker owns the final reference (spec §4.5 "get/put").
func (h *Handle) Put(l *Layout) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refcount > 1 && !l.isdel {
		l.refcount--
	}
}

// Find looks up objid in the committed then uncommitted index and, if
// found, bumps its refcount (spec §4.5 "find").
func (h *Handle) Find(objid ObjID) (*Layout, error) {
	s := h.slotAt(objid.Slot())
	if l, ok := s.ix.FindCommitted(objid); ok {
		if err := h.Get(l); err != nil {
			return nil, err
		}
		return l, nil
	}
	if l, ok := s.ix.FindUncommitted(objid); ok {
		if err := h.Get(l); err != nil {
			return nil, err
		}
		return l, nil
	}
	return nil, cos.Errf(cos.NotFound, nil, "objid %s not found", objid)
}

// --- async erase worker ---

func (h *Handle) enqueueErase(slotIdx uint8, l *Layout) {
	h.eraseCh <- eraseJob{slotIdx: slotIdx, layout: l}
}

// startErase launches the erase worker pool consuming eraseCh (spec §5
// "dedicated erase workqueue").
func (h *Handle) startErase() {
	h.eraseWG.Add(1)
	go func() {
		defer h.eraseWG.Done()
		for job := range h.eraseCh {
			h.runErase(job)
		}
	}()
}

func (h *Handle) stopErase() {
	close(h.eraseCh)
	h.eraseWG.Wait()
}

// runErase performs the physical erase (mandatory for mblocks, advisory for
// mlogs), releases smap zones, then frees the layout (spec §4.5 "async
// erase worker": "the final outstanding reference is released here").
func (h *Handle) runErase(job eraseJob) {
	l := job.layout
	var err error
	if l.ObjID.Type() == OTypeMblock {
		err = h.ecioImpl.MblockErase(uint64(l.Drive), l.ZoneStart, l.ZoneCount)
	} else {
		err = h.ecioImpl.MlogErase(uint64(l.Drive), l.ZoneStart, l.ZoneCount)
	}
	if err != nil {
		nlog.Warningf("erase of %s failed: %v", l.ObjID, err)
	}
	if err := h.smapMap.FreeZones(uint64(l.Drive), smap.ZoneAddr(l.ZoneStart), l.ZoneCount); err != nil {
		nlog.Warningf("freeing zones for %s failed: %v", l.ObjID, err)
	}
	l.mu.Lock()
	l.refcount = 0
	l.mu.Unlock()
}
