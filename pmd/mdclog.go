package pmd

import (
	"io"
	"sync"

	"github.com/moneytech/mpool/cmn/cos"
	"github.com/moneytech/mpool/cmn/nlog"
	"github.com/moneytech/mpool/pmd/mdcio"
	"github.com/moneytech/mpool/pmd/omf"
	"github.com/moneytech/mpool/pmd/upg"
)

// mdcLog is the MDC log engine (C3, spec §4.3): append/read/compact a
// paired-mlog log with crash-consistent switchover. One mdcLog backs each
// MDC slot (including MDC0).
type mdcLog struct {
	slot   uint8
	log    mdcio.Log
	recbuf [MaxRecLen]byte // mmi_recbuf

	compactlock sync.Mutex // per-slot compactlock (lock hierarchy level 3)
	closed      bool

	// content providers, wired by the owning Slot so compact() can re-emit
	// the right records without this file knowing about lifecycle/object
	// concerns.
	content compactionContent
}

// compactionContent is implemented by the owning Slot (pmd/slot.go) so
// compact() stays ignorant of whether it is compacting MDC0 (properties)
// or a user MDC (objects).
type compactionContent interface {
	// isMDC0 selects which branch of spec §4.3 step 4 applies.
	isMDC0() bool
	// mcconfigRecords/mcspareRecords/mpconfigRecord are used when isMDC0.
	mcconfigRecords() []omf.Record
	mcspareRecords() []omf.Record
	mpconfigRecord() omf.Record
	// lckpt is used when !isMDC0; index is walked for every slot.
	lckpt() ObjID
	index() *Index
	// onCompactDone resets the pre-compaction counters (spec §4.3 step 7).
	onCompactDone(compacted int)
}

func newMdcLog(slot uint8, log mdcio.Log, content compactionContent) *mdcLog {
	return &mdcLog{slot: slot, log: log, content: content}
}

// addrec packs rec via omf and appends it, compacting-and-retrying once on
// TooBig (spec §4.3 "Append path"). Callers hold compactlock, so the retry
// compacts through compactLocked.
func (m *mdcLog) addrec(rec *omf.Record) error {
	n, err := omf.Pack(rec, m.recbuf[:])
	if err != nil {
		return cos.Errf(cos.InvalidArg, err, "packing %s record", rec.Type)
	}
	if n > MaxRecLen {
		return cos.Errf(cos.TooBig, nil, "packed record of %d bytes exceeds MaxRecLen", n)
	}
	err = m.log.Append(m.recbuf[:n], true)
	if cos.IsKind(err, cos.TooBig) {
		if cerr := m.compactLocked(); cerr != nil {
			return cerr
		}
		return m.log.Append(m.recbuf[:n], true)
	}
	return err
}

// appendNoSync appends without sync/recompaction — used by in-progress
// MDC0 compaction to fold property updates into the new active log
// (spec §4.7 second path).
func (m *mdcLog) appendNoSync(rec *omf.Record) error {
	n, err := omf.Pack(rec, m.recbuf[:])
	if err != nil {
		return cos.Errf(cos.InvalidArg, err, "packing %s record", rec.Type)
	}
	return m.log.Append(m.recbuf[:n], false)
}

func (m *mdcLog) appendOIDCkpt(lckpt ObjID) error {
	rec := &omf.Record{Type: omf.TypeOIDCkpt, ObjID: uint64(lckpt)}
	return m.addrec(rec)
}

// compact runs the compaction algorithm (spec §4.3) for a caller that does
// not already hold compactlock; compact acquires it itself. Callers that
// already hold it (the pre-compactor, addrec's TooBig retry) use
// compactLocked.
func (m *mdcLog) compact() error {
	m.compactlock.Lock()
	defer m.compactlock.Unlock()
	return m.compactLocked()
}

func (m *mdcLog) compactLocked() error {
	var lastErr error
	for attempt := 0; attempt < CompactRetryMax; attempt++ {
		if err := m.compactOnce(); err != nil {
			lastErr = err
			nlog.Warningf("mdc[%d] compaction attempt %d failed: %v", m.slot, attempt, err)
			if m.closed {
				continue // step 1: reopen handled by compactOnce itself
			}
			continue
		}
		return nil
	}
	nlog.Errorf("mdc[%d] compaction failed after %d retries: %v", m.slot, CompactRetryMax, lastErr)
	return cos.Errf(cos.Critical, lastErr, "mdc[%d] compaction exhausted retries", m.slot)
}

func (m *mdcLog) compactOnce() error {
	// step 1: reopen if closed from a prior failure — this reference
	// engine never actually closes m.log on failure, so this is a no-op
	// guard kept for parity with the documented step.
	m.closed = false

	if err := m.log.CompactStart(); err != nil {
		return cos.Errf(cos.IoError, err, "cstart")
	}

	if upg.Cmp(upg.Latest(), "1.0.0.1") >= 0 {
		vrec := &omf.Record{Type: omf.TypeVersion, Version: upg.Latest()}
		if err := m.appendNoSync(vrec); err != nil {
			return err
		}
	}

	var compacted int
	if m.content.isMDC0() {
		for _, r := range m.content.mcconfigRecords() {
			r := r
			if err := m.appendNoSync(&r); err != nil {
				return err
			}
		}
		for _, r := range m.content.mcspareRecords() {
			r := r
			if err := m.appendNoSync(&r); err != nil {
				return err
			}
		}
		mp := m.content.mpconfigRecord()
		if err := m.appendNoSync(&mp); err != nil {
			return err
		}
	} else {
		ck := &omf.Record{Type: omf.TypeOIDCkpt, ObjID: uint64(m.content.lckpt())}
		if err := m.appendNoSync(ck); err != nil {
			return err
		}
	}

	layouts := m.content.index().Snapshot()
	total := len(layouts)
	for _, l := range layouts {
		if isBackingMlog(l.ObjID) {
			continue
		}
		rec := &omf.Record{
			Type: omf.TypeOCreate,
			Layout: omf.ObjLayout{
				ObjID: uint64(l.ObjID), Drive: uint64(l.Drive),
				ZoneStart: l.ZoneStart, ZoneCount: l.ZoneCount, Gen: l.Gen,
			},
		}
		if err := m.appendNoSync(rec); err != nil {
			return err
		}
		compacted++
	}

	if err := m.log.CompactEnd(); err != nil {
		return cos.Errf(cos.IoError, err, "cend")
	}

	m.content.onCompactDone(compacted)
	nlog.Infof("mdc[%d] compacted: %d/%d objects retained", m.slot, compacted, total)
	return nil
}

// replay rewinds the backing log and calls cb for every record in log
// order until EOF, used by activation (spec §4.4) to rebuild in-memory
// state. A corrupt frame aborts replay and surfaces the underlying
// cos.Corrupt error (spec §4.4 "Any precondition violation aborts replay
// with Corrupt").
func (m *mdcLog) replay(cb func(*omf.Record) error) error {
	if err := m.log.Rewind(); err != nil {
		return cos.Errf(cos.IoError, err, "rewinding mdc[%d]", m.slot)
	}
	var buf [MaxRecLen]byte
	for {
		n, err := m.log.Read(buf[:])
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err := omf.Unpack(buf[:n])
		if err != nil {
			return cos.Errf(cos.Corrupt, err, "unpacking record in mdc[%d]", m.slot)
		}
		if err := cb(rec); err != nil {
			return err
		}
	}
}

// isBackingMlog reports whether id is one of an MDC's two backing mlogs
// (spec §4.3 step 5: "for each layout whose objid is not an MDC-backing
// mlog, append OCREATE").
func isBackingMlog(id ObjID) bool {
	return id.Slot() == 0 && id.Type() == OTypeMlog
}
