// Package omf is the record codec adapter (C4, spec §4.3/§6): it packs and
// unpacks the on-media metadata-log record taxonomy (VERSION, MCCONFIG,
// MCSPARE, MPCONFIG, OCREATE, ODELETE, OERASE, OUPDATE, OIDCKPT) to and
// from little-endian byte slices. Framing (length prefix, CRC32C, magic) is
// the concern of pmd/mdcio, not this package — omf only packs/unpacks the
// record body, mirroring the external omf_mdcrec_pack_htole/
// omf_mdcrec_unpack_letoh contract named in spec §6.
//
// No pack example implements this exact on-media tagged-record format, so
// this package is grounded directly on the spec's wire taxonomy rather than
// on borrowed code; it uses only encoding/binary (justified: a fixed-layout
// binary disk record is not a serialization-library concern — none of the
// pack's JSON/msgpack/protobuf dependencies fit a little-endian fixed frame
// that must byte-swap deterministically across architectures).
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package omf

import (
	"encoding/binary"
	"fmt"
)

// Type is the record type tag every record begins with (spec §6).
type Type uint8

const (
	TypeVersion Type = iota
	TypeMCConfig
	TypeMCSpare
	TypeMPConfig
	TypeOCreate
	TypeODelete
	TypeOErase
	TypeOUpdate
	TypeOIDCkpt
)

func (t Type) String() string {
	switch t {
	case TypeVersion:
		return "VERSION"
	case TypeMCConfig:
		return "MCCONFIG"
	case TypeMCSpare:
		return "MCSPARE"
	case TypeMPConfig:
		return "MPCONFIG"
	case TypeOCreate:
		return "OCREATE"
	case TypeODelete:
		return "ODELETE"
	case TypeOErase:
		return "OERASE"
	case TypeOUpdate:
		return "OUPDATE"
	case TypeOIDCkpt:
		return "OIDCKPT"
	default:
		return "UNKNOWN"
	}
}

// ObjLayout is the on-media shape of an object layout as carried by
// OCREATE/OUPDATE.
type ObjLayout struct {
	ObjID     uint64
	Drive     uint64
	ZoneStart uint32
	ZoneCount uint32
	Gen       uint64
}

// MCConfig is a drive descriptor as persisted into MDC0 (spec §4.4 step 3).
type MCConfig struct {
	DriveUUID  [16]byte
	ZonePg     uint32
	SectorSz   uint32
	DeviceType uint8
	Features   uint32
	Class      uint8
	State      uint8 // 0=ACTIVE, 1=UNAVAIL, 2=defunct (in-memory only, never packed as defunct)
}

// MCSpare is a per-class spare-zone percentage.
type MCSpare struct {
	Class   uint8
	PctSpare uint8
}

// MPConfig is the mpool-wide configuration blob (opaque to this codec:
// callers own the meaning of Payload, the codec only frames it).
type MPConfig struct {
	Payload []byte
}

// Record is the tagged-variant union every log entry unpacks into. Exactly
// one of the typed fields is meaningful, selected by Type — callers use an
// exhaustive switch at the replay state machine (spec §9 "Dynamic dispatch
// on record type").
type Record struct {
	Type Type

	Version string // TypeVersion

	MCConfig MCConfig // TypeMCConfig
	MCSpare  MCSpare  // TypeMCSpare
	MPConfig MPConfig // TypeMPConfig

	Layout ObjLayout // TypeOCreate, TypeOUpdate

	ObjID ObjID // TypeODelete, TypeOErase, TypeOIDCkpt
	Gen   uint64 // TypeOErase
}

// ObjID mirrors pmd.ObjID's underlying representation without importing
// package pmd (which imports omf), avoiding an import cycle.
type ObjID = uint64

// IsObj reports whether rec carries an object record (OCREATE/ODELETE/
// OERASE/OUPDATE/OIDCKPT) as opposed to a property record — mirrors the
// external omf_mdcrec_isobj_le predicate named in spec §6.
func (r Type) IsObj() bool {
	switch r {
	case TypeOCreate, TypeODelete, TypeOErase, TypeOUpdate, TypeOIDCkpt:
		return true
	default:
		return false
	}
}

var ErrShortBuffer = fmt.Errorf("omf: buffer too short")

// Pack writes rec little-endian into buf (starting at buf[0]) and returns
// the number of bytes written. Packed size is bounded by the caller's
// MaxRecLen; Pack itself does not enforce that bound (the MDC log engine
// does, by sizing mmi_recbuf to MaxRecLen).
func Pack(rec *Record, buf []byte) (int, error) {
	if len(buf) < 1 {
		return 0, ErrShortBuffer
	}
	buf[0] = byte(rec.Type)
	n := 1
	var err error
	switch rec.Type {
	case TypeVersion:
		n, err = packString(buf, n, rec.Version)
	case TypeMCConfig:
		n, err = packMCConfig(buf, n, &rec.MCConfig)
	case TypeMCSpare:
		n, err = packMCSpare(buf, n, &rec.MCSpare)
	case TypeMPConfig:
		n, err = packBytes(buf, n, rec.MPConfig.Payload)
	case TypeOCreate, TypeOUpdate:
		n, err = packLayout(buf, n, &rec.Layout)
	case TypeODelete, TypeOIDCkpt:
		n, err = packU64(buf, n, rec.ObjID)
	case TypeOErase:
		if n, err = packU64(buf, n, rec.ObjID); err != nil {
			return 0, err
		}
		n, err = packU64(buf, n, rec.Gen)
	default:
		return 0, fmt.Errorf("omf: unknown record type %d", rec.Type)
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Unpack decodes a record previously produced by Pack.
func Unpack(buf []byte) (*Record, error) {
	if len(buf) < 1 {
		return nil, ErrShortBuffer
	}
	rec := &Record{Type: Type(buf[0])}
	n := 1
	var err error
	switch rec.Type {
	case TypeVersion:
		rec.Version, _, err = unpackString(buf, n)
	case TypeMCConfig:
		err = unpackMCConfig(buf, n, &rec.MCConfig)
	case TypeMCSpare:
		err = unpackMCSpare(buf, n, &rec.MCSpare)
	case TypeMPConfig:
		rec.MPConfig.Payload, _, err = unpackBytes(buf, n)
	case TypeOCreate, TypeOUpdate:
		err = unpackLayout(buf, n, &rec.Layout)
	case TypeODelete, TypeOIDCkpt:
		rec.ObjID, _, err = unpackU64(buf, n)
	case TypeOErase:
		var m int
		if rec.ObjID, m, err = unpackU64(buf, n); err != nil {
			return nil, err
		}
		rec.Gen, _, err = unpackU64(buf, m)
	default:
		return nil, fmt.Errorf("omf: unknown record type %d", rec.Type)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UnpackType reads only the leading type tag, mirroring
// omf_mdcrec_unpack_type_le, for dispatch without a full decode. Log
// replay does not use it; it decodes every record with Unpack.
func UnpackType(buf []byte) (Type, error) {
	if len(buf) < 1 {
		return 0, ErrShortBuffer
	}
	return Type(buf[0]), nil
}

func packU64(buf []byte, off int, v uint64) (int, error) {
	if len(buf) < off+8 {
		return 0, ErrShortBuffer
	}
	binary.LittleEndian.PutUint64(buf[off:], v)
	return off + 8, nil
}

func unpackU64(buf []byte, off int) (uint64, int, error) {
	if len(buf) < off+8 {
		return 0, 0, ErrShortBuffer
	}
	return binary.LittleEndian.Uint64(buf[off:]), off + 8, nil
}

func packU32(buf []byte, off int, v uint32) (int, error) {
	if len(buf) < off+4 {
		return 0, ErrShortBuffer
	}
	binary.LittleEndian.PutUint32(buf[off:], v)
	return off + 4, nil
}

func unpackU32(buf []byte, off int) (uint32, int, error) {
	if len(buf) < off+4 {
		return 0, 0, ErrShortBuffer
	}
	return binary.LittleEndian.Uint32(buf[off:]), off + 4, nil
}

func packBytes(buf []byte, off int, b []byte) (int, error) {
	n, err := packU32(buf, off, uint32(len(b)))
	if err != nil {
		return 0, err
	}
	if len(buf) < n+len(b) {
		return 0, ErrShortBuffer
	}
	copy(buf[n:], b)
	return n + len(b), nil
}

func unpackBytes(buf []byte, off int) ([]byte, int, error) {
	l, n, err := unpackU32(buf, off)
	if err != nil {
		return nil, 0, err
	}
	if len(buf) < n+int(l) {
		return nil, 0, ErrShortBuffer
	}
	out := make([]byte, l)
	copy(out, buf[n:n+int(l)])
	return out, n + int(l), nil
}

func packString(buf []byte, off int, s string) (int, error) {
	return packBytes(buf, off, []byte(s))
}

func unpackString(buf []byte, off int) (string, int, error) {
	b, n, err := unpackBytes(buf, off)
	if err != nil {
		return "", 0, err
	}
	return string(b), n, nil
}

func packLayout(buf []byte, off int, l *ObjLayout) (int, error) {
	var err error
	if off, err = packU64(buf, off, l.ObjID); err != nil {
		return 0, err
	}
	if off, err = packU64(buf, off, l.Drive); err != nil {
		return 0, err
	}
	if off, err = packU32(buf, off, l.ZoneStart); err != nil {
		return 0, err
	}
	if off, err = packU32(buf, off, l.ZoneCount); err != nil {
		return 0, err
	}
	return packU64(buf, off, l.Gen)
}

func unpackLayout(buf []byte, off int, l *ObjLayout) error {
	var err error
	if l.ObjID, off, err = unpackU64(buf, off); err != nil {
		return err
	}
	if l.Drive, off, err = unpackU64(buf, off); err != nil {
		return err
	}
	if l.ZoneStart, off, err = unpackU32(buf, off); err != nil {
		return err
	}
	if l.ZoneCount, off, err = unpackU32(buf, off); err != nil {
		return err
	}
	l.Gen, _, err = unpackU64(buf, off)
	return err
}

func packMCConfig(buf []byte, off int, c *MCConfig) (int, error) {
	if len(buf) < off+16 {
		return 0, ErrShortBuffer
	}
	copy(buf[off:off+16], c.DriveUUID[:])
	off += 16
	var err error
	if off, err = packU32(buf, off, c.ZonePg); err != nil {
		return 0, err
	}
	if off, err = packU32(buf, off, c.SectorSz); err != nil {
		return 0, err
	}
	if len(buf) < off+3 {
		return 0, ErrShortBuffer
	}
	buf[off] = c.DeviceType
	off++
	if off, err = packU32(buf, off, c.Features); err != nil {
		return 0, err
	}
	if len(buf) < off+2 {
		return 0, ErrShortBuffer
	}
	buf[off] = c.Class
	buf[off+1] = c.State
	return off + 2, nil
}

func unpackMCConfig(buf []byte, off int, c *MCConfig) error {
	if len(buf) < off+16 {
		return ErrShortBuffer
	}
	copy(c.DriveUUID[:], buf[off:off+16])
	off += 16
	var err error
	if c.ZonePg, off, err = unpackU32(buf, off); err != nil {
		return err
	}
	if c.SectorSz, off, err = unpackU32(buf, off); err != nil {
		return err
	}
	if len(buf) < off+1 {
		return ErrShortBuffer
	}
	c.DeviceType = buf[off]
	off++
	if c.Features, off, err = unpackU32(buf, off); err != nil {
		return err
	}
	if len(buf) < off+2 {
		return ErrShortBuffer
	}
	c.Class = buf[off]
	c.State = buf[off+1]
	return nil
}

func packMCSpare(buf []byte, off int, s *MCSpare) (int, error) {
	if len(buf) < off+2 {
		return 0, ErrShortBuffer
	}
	buf[off] = s.Class
	buf[off+1] = s.PctSpare
	return off + 2, nil
}

func unpackMCSpare(buf []byte, off int, s *MCSpare) error {
	if len(buf) < off+2 {
		return ErrShortBuffer
	}
	s.Class = buf[off]
	s.PctSpare = buf[off+1]
	return nil
}
