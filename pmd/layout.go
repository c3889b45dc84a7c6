package pmd

import "sync"

// LState is the committed/removed bitmask carried on a Layout (spec §3).
type LState uint32

const (
	LStateCommitted LState = 1 << iota
	LStateRemoved
)

// DriveHandle is the opaque identity of an owning drive, as handed back by
// the (external) block-device layer. The PMD core never dereferences it;
// it only threads it through to smap/ecio calls.
type DriveHandle uint64

// Layout is the immutable-after-commit descriptor of an object's on-drive
// placement (spec §3). Refcount, IsDel and State are mutated under the
// layout's own mu; RWLock isolates payload-visible mutation (erase) from
// readers.
type Layout struct {
	RWLock sync.RWMutex

	ObjID     ObjID
	Drive     DriveHandle
	ZoneStart uint32
	ZoneCount uint32
	Gen       uint64

	mu       sync.Mutex
	state    LState
	refcount int32
	isdel    bool
}

func NewLayout(id ObjID, drive DriveHandle, zoneStart, zoneCount uint32) *Layout {
	return &Layout{ObjID: id, Drive: drive, ZoneStart: zoneStart, ZoneCount: zoneCount, refcount: 1}
}

func (l *Layout) State() LState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Layout) setState(s LState) {
	l.mu.Lock()
	l.state |= s
	l.mu.Unlock()
}

func (l *Layout) clearState(s LState) {
	l.mu.Lock()
	l.state &^= s
	l.mu.Unlock()
}

// Visible reports committed & visible per invariant I7: COMMITTED &&
// !REMOVED && !isdel.
func (l *Layout) Visible() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state&LStateCommitted != 0 && l.state&LStateRemoved == 0 && !l.isdel
}

func (l *Layout) IsDel() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isdel
}

func (l *Layout) Refcount() int32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refcount
}

// clone produces a detached copy used when compaction needs a stable
// snapshot of a committed layout without holding colock across I/O.
func (l *Layout) clone() *Layout {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := &Layout{
		ObjID: l.ObjID, Drive: l.Drive, ZoneStart: l.ZoneStart,
		ZoneCount: l.ZoneCount, Gen: l.Gen, state: l.state,
		refcount: l.refcount, isdel: l.isdel,
	}
	return c
}
