package pmd

import (
	"sync"
	"sync/atomic"

	"github.com/moneytech/mpool/cmn/config"
	"github.com/moneytech/mpool/cmn/cos"
	"github.com/moneytech/mpool/pmd/ecio"
	"github.com/moneytech/mpool/pmd/mdcio"
	"github.com/moneytech/mpool/pmd/smap"
)

// Handle is the mpool handle: the root of every piece of mutable state the
// PMD core owns. Per spec §9 "Global mutable state", the activation mutex
// and workqueue pool live here rather than as process-wide singletons.
type Handle struct {
	Cfg *config.Config

	opener    mdcio.Opener
	smapMap   smap.Map
	ecioImpl  ecio.IO
	zoneBytes uint64

	activationMu sync.Mutex // global activation_mutex (lock hierarchy level 1)

	pdvlock sync.RWMutex // drive-list rwsem (level 2)
	drives  map[DriveHandle]*Drive
	classes map[uint8]*MediaClass

	slotvlock sync.Mutex // spinlock stand-in (level 9)
	slotvcnt  uint32
	mdcmax    int
	slots     []*Slot

	mdsTbl       [MDCTblSz]uint8
	mdsCounter   uint64 // atomic: next mds_tbl entry to consume
	driveCounter uint64 // atomic: per-PD alternation for new-MDC placement

	eraseCh chan eraseJob
	eraseWG sync.WaitGroup

	pcoStop chan struct{}
	pcoWG   sync.WaitGroup
	nmtoc   uint64 // atomic: pre-compactor round-robin counter

	activated bool
}

type eraseJob struct {
	slotIdx uint8
	layout  *Layout
}

// NewHandle constructs an mpool handle wired to the given external
// collaborators; it does not activate the mpool.
func NewHandle(cfg *config.Config, opener mdcio.Opener, sm smap.Map, ec ecio.IO, zoneBytes uint64) *Handle {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Handle{
		Cfg:       cfg,
		opener:    opener,
		smapMap:   sm,
		ecioImpl:  ec,
		zoneBytes: zoneBytes,
		drives:    make(map[DriveHandle]*Drive),
		classes:   make(map[uint8]*MediaClass),
		eraseCh:   make(chan eraseJob, 1024),
	}
}

func (h *Handle) SlotVcnt() uint32 {
	h.slotvlock.Lock()
	defer h.slotvlock.Unlock()
	return h.slotvcnt
}

func (h *Handle) slotAt(i uint8) *Slot {
	h.slotvlock.Lock()
	defer h.slotvlock.Unlock()
	cos.Assert(int(i) < len(h.slots), "slot index out of range")
	return h.slots[i]
}

// nextTblSlot consumes the next mds_tbl entry (spec §4.1: "uses the
// current mds_tbl entry to choose a slot").
func (h *Handle) nextTblSlot() uint8 {
	n := atomic.AddUint64(&h.mdsCounter, 1) - 1
	h.slotvlock.Lock()
	defer h.slotvlock.Unlock()
	return h.mdsTbl[n%MDCTblSz]
}

// Usage is the public mpool_usage() snapshot (spec §6).
type Usage struct {
	MblockCnt  int64
	MblockAlen int64
	MlogCnt    int64
	MlogAlen   int64
}

func (h *Handle) Usage() Usage {
	var u Usage
	h.slotvlock.Lock()
	slots := append([]*Slot(nil), h.slots...)
	h.slotvlock.Unlock()
	for _, s := range slots {
		if s == nil {
			continue
		}
		snap := s.st.snapshot()
		u.MblockCnt += snap.MblockCnt
		u.MblockAlen += snap.MblockAlen
		u.MlogCnt += snap.MlogCnt
		u.MlogAlen += snap.MlogAlen
	}
	return u
}
