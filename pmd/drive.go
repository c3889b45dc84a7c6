package pmd

import "github.com/google/uuid"

// DriveState mirrors the ACTIVE/UNAVAIL/defunct states spec §4.4 step 3
// reconciles MDC0's staged MCCONFIG records against.
type DriveState uint8

const (
	DriveActive DriveState = iota
	DriveUnavail
	DriveDefunct
)

func (s DriveState) String() string {
	switch s {
	case DriveActive:
		return "ACTIVE"
	case DriveUnavail:
		return "UNAVAIL"
	default:
		return "defunct"
	}
}

// Drive is a caller-supplied descriptor of one member block device (spec
// §4.4: "the caller-provided drive descriptor array"). UUID identity is
// what activation's MDC0 reconciliation matches against.
type Drive struct {
	Handle     DriveHandle
	UUID       uuid.UUID
	ZonePg     uint32
	SectorSize uint32
	DeviceType uint8
	Features   uint32
	Class      uint8
	NumZones   uint32
	State      DriveState
}

// MediaClass is a per-class configuration: capacity/staging tier, spare
// zone percentage, and allocation alignment (spec §3 "MDC slot",
// §4.5 step 4 "class.smap_align").
type MediaClass struct {
	ID          uint8
	Name        string
	PctSpare    uint8
	SmapAlign   uint32
	BestEffort  bool // walk upward to other classes on no available drive
}
