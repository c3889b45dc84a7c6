package pmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/moneytech/mpool/cmn/cos"
	"github.com/moneytech/mpool/cmn/nlog"
	"github.com/moneytech/mpool/pmd/mdcio"
	"github.com/moneytech/mpool/pmd/omf"
	"github.com/moneytech/mpool/pmd/smap"
	"github.com/moneytech/mpool/pmd/upg"
)

// ActivateArgs are the caller-supplied inputs to mpool_activate (spec §4.4).
type ActivateArgs struct {
	Drives  []*Drive
	Classes []*MediaClass
	Fresh   bool // true = create a brand-new mpool rather than recover one
}

// Activate brings up the mpool: MDC0 properties, drive reconciliation,
// smap init, MDC0 object replay, parallel user-MDC load, and (if needed)
// a version-upgrade compaction pass (spec §4.4).
func (h *Handle) Activate(args ActivateArgs) error {
	h.activationMu.Lock()
	defer h.activationMu.Unlock()

	if h.activated {
		return cos.Errf(cos.InvalidArg, nil, "mpool already activated")
	}

	// step 1: zero-init slot array; MDC0 at index 0.
	slot0 := newSlot(0, true)
	h.slots = []*Slot{slot0}
	h.slotvcnt = 1
	h.mdcmax = 0

	for _, c := range args.Classes {
		h.classes[c.ID] = c
	}

	// step 2: open MDC0's paired log.
	flags := mdcio.OpenExisting
	if args.Fresh {
		flags = mdcio.OpenCreate
	}
	id0, id1 := BackingMlogIDs(0)
	rawLog, err := h.opener.Open(uint64(id0), uint64(id1), flags)
	if err != nil {
		return cos.Errf(cos.IoError, err, "opening MDC0")
	}
	slot0.attachLog(newMdcLog(0, rawLog, slot0))

	if !args.Fresh {
		// step 3: replay MDC0 for properties only.
		if err := h.replayMDC0Properties(slot0); err != nil {
			h.teardownPartial()
			return err
		}
		// reconcile staged drives against the caller-supplied array.
		if err := h.reconcileDrives(slot0, args.Drives); err != nil {
			h.teardownPartial()
			return err
		}
	} else {
		for _, d := range args.Drives {
			h.drives[d.Handle] = d
		}
		for _, d := range args.Drives {
			slot0.mdc0.mu.Lock()
			slot0.mdc0.drives[[16]byte(d.UUID)] = d
			slot0.mdc0.mu.Unlock()
		}
	}

	// step 4: initialize smap over the finalized drive list.
	dd := make([]smap.DriveDesc, 0, len(h.drives))
	for _, d := range h.drives {
		dd = append(dd, smap.DriveDesc{Handle: uint64(d.Handle), NumZones: d.NumZones})
	}
	if err := h.smapMap.Init(dd); err != nil {
		h.teardownPartial()
		return cos.Errf(cos.IoError, err, "initializing smap")
	}

	if !args.Fresh {
		// step 5: replay MDC0 again for object records (backing mlogs).
		if err := h.replayMDC0Objects(slot0); err != nil {
			h.teardownPartial()
			return err
		}
		// step 6: validate MDC0.
		if err := h.validateMDC0(); err != nil {
			h.teardownPartial()
			return err
		}
	}

	// step 7: load user MDCs in parallel.
	if h.mdcmax > 0 {
		if err := h.loadUserMDCsParallel(); err != nil {
			h.teardownPartial()
			return err
		}
	}

	// step 8: upgrade-compact if on-media version is behind current.
	if err := h.upgradeCompactIfNeeded(); err != nil {
		h.teardownPartial()
		return err
	}

	// step 9: guarantee at least one user MDC exists, then seed mds_tbl
	// before any caller can observe the handle — otherwise nextTblSlot's
	// zero-valued table would route a client alloc into slot 0 (spec §3
	// invariant I3: no client objid has slot 0). mds_tbl is in-memory-only
	// state, so it must be (re)built on every activation, not just a fresh
	// one.
	if h.mdcmax == 0 {
		if err := h.allocMDCSet(); err != nil {
			h.teardownPartial()
			return err
		}
	}
	h.updateCredit(0)

	h.activated = true
	h.startErase()
	nlog.Infoln("mpool activated:", "slots", h.slotvcnt, "drives", len(h.drives))
	return nil
}

// replayMDC0Properties replays MDC0 skipping object records, maintaining a
// staging set of MCCONFIG keyed by UUID (last-wins), MCSPARE percentages,
// VERSION, and MPCONFIG (spec §4.4 step 3).
func (h *Handle) replayMDC0Properties(slot0 *Slot) error {
	seenVersion := false
	return slot0.log.replay(func(rec *omf.Record) error {
		if rec.Type.IsObj() {
			return nil // object records handled in the second pass
		}
		switch rec.Type {
		case omf.TypeVersion:
			if seenVersion {
				return cos.Errf(cos.Corrupt, nil, "VERSION record not first")
			}
			seenVersion = true
			if upg.Cmp(rec.Version, upg.Latest()) > 0 {
				return cos.Errf(cos.Unsupported, nil, "on-media version %s newer than binary %s", rec.Version, upg.Latest())
			}
			slot0.mdccver = rec.Version
		case omf.TypeMCConfig:
			d := &Drive{
				UUID: uuid.UUID(rec.MCConfig.DriveUUID), ZonePg: rec.MCConfig.ZonePg,
				SectorSize: rec.MCConfig.SectorSz, DeviceType: rec.MCConfig.DeviceType,
				Features: rec.MCConfig.Features, Class: rec.MCConfig.Class,
				State: DriveState(rec.MCConfig.State),
			}
			slot0.mdc0.mu.Lock()
			slot0.mdc0.drives[rec.MCConfig.DriveUUID] = d // last-wins
			slot0.mdc0.mu.Unlock()
		case omf.TypeMCSpare:
			slot0.mdc0.mu.Lock()
			slot0.mdc0.spares[rec.MCSpare.Class] = rec.MCSpare.PctSpare
			slot0.mdc0.mu.Unlock()
		case omf.TypeMPConfig:
			slot0.mdc0.mu.Lock()
			slot0.mdc0.mpconfig = rec.MPConfig.Payload
			slot0.mdc0.mu.Unlock()
		}
		return nil
	})
}

// reconcileDrives matches MDC0's staged drive set against the caller's
// descriptor array (spec §4.4 step 3).
func (h *Handle) reconcileDrives(slot0 *Slot, supplied []*Drive) error {
	byUUID := make(map[[16]byte]*Drive, len(supplied))
	for _, d := range supplied {
		byUUID[[16]byte(d.UUID)] = d
		d.State = DriveDefunct // "mark every descriptor as defunct initially"
	}

	slot0.mdc0.mu.Lock()
	staged := make(map[[16]byte]*Drive, len(slot0.mdc0.drives))
	for k, v := range slot0.mdc0.drives {
		staged[k] = v
	}
	slot0.mdc0.mu.Unlock()

	unavailCnt := 0
	for uuid, sd := range staged {
		if sd.State == DriveDefunct {
			continue
		}
		d, ok := byUUID[uuid]
		if !ok {
			// unknown UUID: add as an "unavailable" drive entry.
			ud := &Drive{UUID: sd.UUID, ZonePg: sd.ZonePg, SectorSize: sd.SectorSize,
				DeviceType: sd.DeviceType, Features: sd.Features, Class: sd.Class, State: DriveUnavail}
			h.drives[ud.Handle] = ud
			unavailCnt++
			continue
		}
		mismatch := d.ZonePg != sd.ZonePg || d.SectorSize != sd.SectorSize ||
			d.DeviceType != sd.DeviceType || d.Features != sd.Features || d.Class != sd.Class
		if mismatch {
			if sd.State == DriveUnavail {
				nlog.Warningf("drive %x: parameter mismatch, tolerated because UNAVAIL", uuid)
			} else {
				return cos.Errf(cos.ParmMismatch, nil, "drive %x: staged config mismatches supplied descriptor", uuid)
			}
		}
		d.State = DriveActive
		h.drives[d.Handle] = d
		if sd.State == DriveUnavail {
			unavailCnt++
			d.State = DriveUnavail
		}
	}

	var zombies []*Drive
	for _, d := range supplied {
		if d.State == DriveDefunct {
			zombies = append(zombies, d)
		}
	}
	if len(zombies) > 0 {
		return cos.Errf(cos.Zombie, nil, "zombie drive(s): %v", zombieUUIDs(zombies))
	}
	if unavailCnt >= MPMedNumber {
		return cos.Errf(cos.InsufficientGood, nil, "%d UNAVAIL drives reaches threshold %d", unavailCnt, MPMedNumber)
	}

	// apply staged per-class spare percentages.
	slot0.mdc0.mu.Lock()
	for class, pct := range slot0.mdc0.spares {
		if mc, ok := h.classes[class]; ok {
			mc.PctSpare = pct
		}
	}
	slot0.mdc0.mu.Unlock()
	return nil
}

func zombieUUIDs(ds []*Drive) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.UUID.String()
	}
	return out
}

// replayMDC0Objects replays MDC0's object records, rebuilding mmi_obj of
// MDCi-backing mlog layouts, and derives mdcmax/slotvcnt (spec §4.4 step 5).
func (h *Handle) replayMDC0Objects(slot0 *Slot) error {
	if err := applyObjectReplay(slot0, nil); err != nil {
		return err
	}
	maxUniq := uint64(0)
	slot0.ix.IterCommittedSorted(func(l *Layout) {
		if l.ObjID.Uniq() > maxUniq {
			maxUniq = l.ObjID.Uniq()
		}
	})
	h.mdcmax = int(maxUniq >> 1)
	h.slotvcnt = uint32(h.mdcmax + 1)
	return nil
}

// validateMDC0 counts backing mlogs per expected MDCi in [1..mdcmax]
// (spec §4.4 step 6). MDC0's own pair is opened directly and never
// indexed, so it is not counted.
func (h *Handle) validateMDC0() error {
	if h.mdcmax == 0 {
		return nil
	}
	slot0 := h.slots[0]
	counts := make(map[int]int)
	slot0.ix.IterCommittedSorted(func(l *Layout) {
		counts[int(l.ObjID.Uniq()/2)]++
	})
	for i := 1; i < h.mdcmax; i++ {
		if counts[i] != 2 {
			return cos.Errf(cos.Corrupt, nil, "MDC%d has %d backing mlogs, want 2", i, counts[i])
		}
	}
	switch counts[h.mdcmax] {
	case 2:
		// fully provisioned
	case 0, 1:
		// torn MDC-allocation from a prior run: drop it.
		id0, id1 := BackingMlogIDs(h.mdcmax)
		slot0.ix.RemoveCommitted(id0)
		slot0.ix.RemoveCommitted(id1)
		h.mdcmax--
		h.slotvcnt = uint32(h.mdcmax + 1)
	default:
		return cos.Errf(cos.Corrupt, nil, "MDC%d has %d backing mlogs", h.mdcmax, counts[h.mdcmax])
	}
	return nil
}

// loadUserMDCsParallel opens and replays MDC1..MDCmax using a worker pool
// bounded by Cfg.ObjLoadJobs (spec §4.4 "Parallel load"), grounded on the
// teacher's jogger-per-mountpath pattern (space/cleanup.go) generalized to
// golang.org/x/sync/errgroup, which the teacher's own go.mod requires.
func (h *Handle) loadUserMDCsParallel() error {
	n := h.mdcmax
	jobs := h.Cfg.ObjLoadJobs
	if jobs > n {
		jobs = n
	}
	h.slots = append(h.slots, make([]*Slot, n)...)

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(jobs)
	for i := 1; i <= n; i++ {
		i := i
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err() // an earlier MDC already failed
			}
			s := newSlot(uint8(i), false)
			id0, id1 := BackingMlogIDs(i)
			rawLog, err := h.opener.Open(uint64(id0), uint64(id1), mdcio.OpenExisting)
			if err != nil {
				return cos.Errf(cos.IoError, err, "opening MDC%d", i)
			}
			s.attachLog(newMdcLog(uint8(i), rawLog, s))
			if err := applyObjectReplay(s, nil); err != nil {
				return fmt.Errorf("MDC%d: %w", i, err)
			}
			// insert surviving zones into smap and tally stats.
			s.ix.IterCommittedSorted(func(l *Layout) {
				_ = h.smapMap.Insert(uint64(l.Drive), smap.ZoneAddr(l.ZoneStart), l.ZoneCount)
				s.st.add(l.ObjID.Type(), l.ZoneCount, h.zoneBytes)
			})
			// mmi_luniq = mmi_lckpt.uniq + CkptDelta - 1 (spec §4.4, invariant P4).
			s.ids.RestoreFromCkpt(s.ids.Lckpt())
			h.slots[i] = s
			return nil
		})
	}
	return g.Wait()
}

// applyObjectReplay runs the object-record replay state machine (spec
// §4.4 table) against slot's index. extra, if non-nil, is called for
// every accepted record (used by tests to observe replay).
func applyObjectReplay(s *Slot, extra func(*omf.Record)) error {
	seenVersion := false
	return s.log.replay(func(rec *omf.Record) error {
		if extra != nil {
			extra(rec)
		}
		switch rec.Type {
		case omf.TypeVersion:
			if seenVersion {
				return cos.Errf(cos.Corrupt, nil, "VERSION record not first")
			}
			seenVersion = true
			if upg.Cmp(rec.Version, upg.Latest()) > 0 {
				return cos.Errf(cos.Unsupported, nil, "on-media version %s newer than binary", rec.Version)
			}
			s.mdccver = rec.Version
		case omf.TypeOCreate:
			id := ObjID(rec.Layout.ObjID)
			if _, ok := s.ix.FindCommitted(id); ok {
				return cos.Errf(cos.Corrupt, nil, "OCREATE for already-present objid %s", id)
			}
			l := NewLayout(id, DriveHandle(rec.Layout.Drive), rec.Layout.ZoneStart, rec.Layout.ZoneCount)
			l.Gen = rec.Layout.Gen
			l.setState(LStateCommitted)
			s.ix.InsertCommitted(l)
		case omf.TypeODelete:
			id := ObjID(rec.ObjID)
			if _, ok := s.ix.RemoveCommitted(id); !ok {
				return cos.Errf(cos.Corrupt, nil, "ODELETE for absent objid %s", id)
			}
		case omf.TypeOErase:
			id := ObjID(rec.ObjID)
			l, ok := s.ix.FindCommitted(id)
			if !ok {
				return cos.Errf(cos.Corrupt, nil, "OERASE for absent objid %s", id)
			}
			if rec.Gen < l.Gen {
				return cos.Errf(cos.Corrupt, nil, "OERASE gen %d < layout gen %d for %s", rec.Gen, l.Gen, id)
			}
			l.Gen = rec.Gen
		case omf.TypeOUpdate:
			id := ObjID(rec.Layout.ObjID)
			if _, ok := s.ix.FindCommitted(id); !ok {
				return cos.Errf(cos.Corrupt, nil, "OUPDATE for absent objid %s", id)
			}
			l := NewLayout(id, DriveHandle(rec.Layout.Drive), rec.Layout.ZoneStart, rec.Layout.ZoneCount)
			l.Gen = rec.Layout.Gen
			l.setState(LStateCommitted)
			s.ix.RemoveCommitted(id)
			s.ix.InsertCommitted(l)
		case omf.TypeOIDCkpt:
			id := ObjID(rec.ObjID)
			cur := s.ids.Lckpt()
			if !(id.Uniq() > cur.Uniq() || (id.Uniq() == 0 && cur.Uniq() == 0)) {
				return cos.Errf(cos.Corrupt, nil, "OIDCKPT uniq %d not above checkpoint %d", id.Uniq(), cur.Uniq())
			}
			s.ids.lckpt = id
		}
		return nil
	})
}

// upgradeCompactIfNeeded compacts every MDC (MDC0 first) when the on-media
// version trails the binary's (spec §4.4 step 8).
func (h *Handle) upgradeCompactIfNeeded() error {
	for _, s := range h.slots {
		if s == nil {
			continue
		}
		if upg.Cmp(s.mdccver, upg.Latest()) < 0 {
			if err := s.log.compact(); err != nil {
				return err
			}
			s.mdccver = upg.Latest()
		}
	}
	return nil
}

// teardownPartial tears down whatever activation managed to build before
// failing (spec §7 "mpool_activate failure tears down the partial state").
func (h *Handle) teardownPartial() {
	for i := len(h.slots) - 1; i >= 0; i-- {
		if h.slots[i] != nil && h.slots[i].log != nil {
			_ = h.slots[i].log.log.Close()
		}
	}
	h.slots = nil
	h.smapMap.Free()
}

// Deactivate closes all open user mlogs and frees in-memory state and
// smap, in reverse slot order (spec §4.4 "Deactivation").
func (h *Handle) Deactivate() error {
	h.activationMu.Lock()
	defer h.activationMu.Unlock()
	if !h.activated {
		return cos.Errf(cos.InvalidArg, nil, "mpool not activated")
	}
	h.stopPrecompactor()
	h.stopErase()
	for i := len(h.slots) - 1; i >= 0; i-- {
		if h.slots[i] != nil && h.slots[i].log != nil {
			if err := h.slots[i].log.log.Close(); err != nil {
				nlog.Warningf("closing MDC%d: %v", i, err)
			}
		}
	}
	h.smapMap.Free()
	h.slots = nil
	h.activated = false
	return nil
}
