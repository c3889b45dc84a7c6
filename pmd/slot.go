package pmd

import (
	"sync"
	"sync/atomic"

	"github.com/moneytech/mpool/pmd/omf"
)

// stats is the per-slot running counts/bytes of mblocks and mlogs
// (mmi_stats, spec §3).
type stats struct {
	mu         sync.Mutex // stats_lock: very short (lock hierarchy level 10)
	MblockCnt  int64
	MblockAlen int64 // allocated length in bytes
	MlogCnt    int64
	MlogAlen   int64
}

func (s *stats) add(typ OType, zones uint32, zoneBytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alen := int64(zones) * int64(zoneBytes)
	if typ == OTypeMblock {
		s.MblockCnt++
		s.MblockAlen += alen
	} else {
		s.MlogCnt++
		s.MlogAlen += alen
	}
}

func (s *stats) sub(typ OType, zones uint32, zoneBytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alen := int64(zones) * int64(zoneBytes)
	if typ == OTypeMblock {
		s.MblockCnt--
		s.MblockAlen -= alen
	} else {
		s.MlogCnt--
		s.MlogAlen -= alen
	}
}

func (s *stats) snapshot() stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stats{MblockCnt: s.MblockCnt, MblockAlen: s.MblockAlen, MlogCnt: s.MlogCnt, MlogAlen: s.MlogAlen}
}

// pcoCounters are the per-MDC counters the pre-compactor reads to decide
// need_compact (spec §3 mmi_pco_cnt, §4.6).
type pcoCounters struct {
	cr, up, del, er, cobj int64 // creates, updates, deletes, erases, committed objects
}

func (p *pcoCounters) rec() int64 { return atomic.LoadInt64(&p.cr) + atomic.LoadInt64(&p.up) + atomic.LoadInt64(&p.del) + atomic.LoadInt64(&p.er) }

// credit is the per-slot allocation-scheduler weight (mmi_credit, spec §3).
type credit struct {
	slot      uint8
	freeBytes uint64
	credit    uint32
	freeShare float64
}

// Slot is the full per-MDC-slot state (spec §3 "MDC slot (per-slot
// state)"): index, log engine, id generator, drive config (MDC0 only),
// counters, and credit.
type Slot struct {
	idx uint8

	ix  *Index
	log *mdcLog
	ids idSlot

	mdccver string

	st  stats
	pco pcoCounters

	cred credit

	// MDC0-only staged property state (nil for slot > 0).
	mdc0 *mdc0Props
}

// mdc0Props is the MDC0-specific staging area for drive/class/mpool
// properties (spec §4.4 step 3, §4.7).
type mdc0Props struct {
	mu       sync.Mutex
	drives   map[[16]byte]*Drive // keyed by UUID
	spares   map[uint8]uint8     // class -> pct spare
	mpconfig []byte
}

func newSlot(idx uint8, isMDC0 bool) *Slot {
	s := &Slot{idx: idx, ix: NewIndex()}
	s.ids.ckptr = nil // wired by attachLog
	if isMDC0 {
		s.mdc0 = &mdc0Props{drives: make(map[[16]byte]*Drive), spares: make(map[uint8]uint8)}
	}
	return s
}

func (s *Slot) attachLog(l *mdcLog) {
	s.log = l
	s.ids.ckptr = l
}

// --- compactionContent interface, consumed by mdcLog.compact() ---

func (s *Slot) isMDC0() bool { return s.mdc0 != nil }

func (s *Slot) mcconfigRecords() []omf.Record {
	s.mdc0.mu.Lock()
	defer s.mdc0.mu.Unlock()
	out := make([]omf.Record, 0, len(s.mdc0.drives))
	for _, d := range s.mdc0.drives {
		if d.State == DriveDefunct {
			continue
		}
		out = append(out, omf.Record{
			Type: omf.TypeMCConfig,
			MCConfig: omf.MCConfig{
				DriveUUID: [16]byte(d.UUID), ZonePg: d.ZonePg, SectorSz: d.SectorSize,
				DeviceType: d.DeviceType, Features: d.Features, Class: d.Class,
				State: uint8(d.State),
			},
		})
	}
	return out
}

func (s *Slot) mcspareRecords() []omf.Record {
	s.mdc0.mu.Lock()
	defer s.mdc0.mu.Unlock()
	out := make([]omf.Record, 0, len(s.mdc0.spares))
	for class, pct := range s.mdc0.spares {
		out = append(out, omf.Record{Type: omf.TypeMCSpare, MCSpare: omf.MCSpare{Class: class, PctSpare: pct}})
	}
	return out
}

func (s *Slot) mpconfigRecord() omf.Record {
	s.mdc0.mu.Lock()
	defer s.mdc0.mu.Unlock()
	return omf.Record{Type: omf.TypeMPConfig, MPConfig: omf.MPConfig{Payload: s.mdc0.mpconfig}}
}

func (s *Slot) lckpt() ObjID { return s.ids.Lckpt() }

// index satisfies compactionContent's `index() *Index`.
func (s *Slot) index() *Index { return s.ix }

func (s *Slot) onCompactDone(compacted int) {
	if s.isMDC0() {
		return
	}
	atomic.StoreInt64(&s.pco.cr, int64(compacted))
	atomic.StoreInt64(&s.pco.cobj, int64(compacted))
	atomic.StoreInt64(&s.pco.up, 0)
	atomic.StoreInt64(&s.pco.del, 0)
	atomic.StoreInt64(&s.pco.er, 0)
}
