package pmd

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/moneytech/mpool/cmn/cos"
)

// OType distinguishes the two object flavors an mpool stores (spec §1).
type OType uint8

const (
	OTypeMblock OType = iota
	OTypeMlog
)

func (t OType) String() string {
	if t == OTypeMlog {
		return "mlog"
	}
	return "mblock"
}

const (
	objidSlotBits = 8
	objidTypeBits = 2
	objidUniqBits = 64 - objidSlotBits - objidTypeBits
	objidSlotMask = 1<<objidSlotBits - 1
	objidTypeMask = 1<<objidTypeBits - 1
)

// ObjID is the 64-bit object identifier (spec §3): uniq (monotone per
// slot), type (mblock/mlog), slot (owning MDC; 0 = MDC0-internal).
type ObjID uint64

func MakeObjID(slot uint8, typ OType, uniq uint64) ObjID {
	cos.Assert(uniq < 1<<objidUniqBits, "uniq overflow")
	return ObjID(uniq<<(objidSlotBits+objidTypeBits) | uint64(typ&objidTypeMask)<<objidSlotBits | uint64(slot))
}

func (id ObjID) Slot() uint8 { return uint8(uint64(id) & objidSlotMask) }
func (id ObjID) Type() OType { return OType((uint64(id) >> objidSlotBits) & objidTypeMask) }
func (id ObjID) Uniq() uint64 { return uint64(id) >> (objidSlotBits + objidTypeBits) }

// Ckpt reports whether this id crosses a checkpoint boundary (spec §3).
func (id ObjID) Ckpt() bool { return id.Uniq()%CkptDelta == 0 }

func (id ObjID) String() string {
	return fmt.Sprintf("objid(slot=%d,type=%s,uniq=%d)", id.Slot(), id.Type(), id.Uniq())
}

// LogID constructs the objid of the n-th backing mlog, always slot 0
// (spec §3: "The two mlogs that back MDCi have IDs logid_make(2i,0) and
// logid_make(2i+1,0)").
func LogID(n uint64) ObjID { return MakeObjID(0, OTypeMlog, n) }

// BackingMlogIDs returns the pair of objids backing MDC index mdcIdx.
func BackingMlogIDs(mdcIdx int) (a, b ObjID) {
	return LogID(uint64(2 * mdcIdx)), LogID(uint64(2*mdcIdx + 1))
}

// UHandle is the opaque, externally-passable form of an ObjID (spec §6
// objid_to_uhandle/uhandle_to_objid): a value client code outside this core
// can store or transmit without reaching into the 64-bit slot/type/uniq
// encoding.
type UHandle string

// ObjIDToUHandle renders id as its opaque external handle.
func ObjIDToUHandle(id ObjID) UHandle {
	return UHandle(strconv.FormatUint(uint64(id), 16))
}

// UHandleToObjID parses an external handle back into an ObjID, failing
// InvalidArg on a malformed handle.
func UHandleToObjID(h UHandle) (ObjID, error) {
	v, err := strconv.ParseUint(string(h), 16, 64)
	if err != nil {
		return 0, cos.Errf(cos.InvalidArg, err, "malformed object handle %q", h)
	}
	return ObjID(v), nil
}

// ---------------------------------------------------------------------
// C1: object-ID generator
// ---------------------------------------------------------------------

// idCheckpointer is the narrow interface the generator needs from the MDC
// log engine (C3) to persist an OIDCKPT record synchronously. Implemented
// by *mdcLog.
type idCheckpointer interface {
	appendOIDCkpt(lckpt ObjID) error
}

// idSlot is the per-slot state the generator mutates: a uniq high-water
// mark and the last persisted checkpoint id, both protected by uqlock
// (spec lock hierarchy, level 4).
type idSlot struct {
	uqlock sync.Mutex
	luniq  uint64 // mmi_luniq
	lckpt  ObjID  // mmi_lckpt
	ckptr  idCheckpointer
}

// AllocID mints a fresh objid in the given slot for typ. It increments
// luniq under uqlock and, if the new id's ckpt bit is set, synchronously
// persists an OIDCKPT before returning (spec §4.1). On append failure the
// luniq increment is rolled back.
func (s *idSlot) AllocID(slot uint8, typ OType) (ObjID, error) {
	s.uqlock.Lock()
	defer s.uqlock.Unlock()

	next := s.luniq + 1
	id := MakeObjID(slot, typ, next)
	if id.Ckpt() {
		if err := s.ckptr.appendOIDCkpt(id); err != nil {
			// roll back: luniq not yet bumped, so nothing to undo but the
			// attempt itself; surface the failure to the caller.
			return 0, cos.Errf(cos.IoError, err, "persisting checkpoint for %s", id)
		}
		s.lckpt = id
	}
	s.luniq = next
	return id, nil
}

// RestoreFromCkpt sets luniq so that future ids are strictly greater than
// any id possibly allocated-but-uncommitted before a crash (spec §4.1
// "Why", invariant P4): luniq = lckpt.uniq + CkptDelta - 1.
func (s *idSlot) RestoreFromCkpt(lckpt ObjID) {
	s.lckpt = lckpt
	s.luniq = lckpt.Uniq() + CkptDelta - 1
}

func (s *idSlot) Luniq() uint64 {
	s.uqlock.Lock()
	defer s.uqlock.Unlock()
	return s.luniq
}

func (s *idSlot) Lckpt() ObjID {
	s.uqlock.Lock()
	defer s.uqlock.Unlock()
	return s.lckpt
}

// busySleepDuration backs the alloc-path retry loop (spec §5: 128-256us per
// iteration, up to 1024 iterations, periodic erase-workqueue flush).
func busySleepDuration(iter int) time.Duration {
	// Deterministic, cheap "ish" backoff without requiring math/rand:
	// alternate between the two documented bounds.
	if iter%2 == 0 {
		return allocRetrySleepMinUS * time.Microsecond
	}
	return allocRetrySleepMaxUS * time.Microsecond
}
