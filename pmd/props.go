package pmd

import (
	"github.com/moneytech/mpool/pmd/omf"
)

// PropMCConfig writes a drive's MCCONFIG record (spec §6 prop_mcconfig,
// §4.7 "Writing a property... during live operation, addrec into MDC0").
// It updates MDC0's staged drive set first so a compaction racing this
// call re-emits the new value, then persists the record under MDC0's
// compact-lock the same way Commit/Delete/Erase do for object records.
func (h *Handle) PropMCConfig(d *Drive) error {
	slot0 := h.slotAt(0)

	slot0.mdc0.mu.Lock()
	slot0.mdc0.drives[[16]byte(d.UUID)] = d
	slot0.mdc0.mu.Unlock()

	rec := &omf.Record{
		Type: omf.TypeMCConfig,
		MCConfig: omf.MCConfig{
			DriveUUID: [16]byte(d.UUID), ZonePg: d.ZonePg, SectorSz: d.SectorSize,
			DeviceType: d.DeviceType, Features: d.Features, Class: d.Class,
			State: uint8(d.State),
		},
	}
	slot0.log.compactlock.Lock()
	defer slot0.log.compactlock.Unlock()
	return slot0.log.addrec(rec)
}

// PropMCSpare writes a class's spare-zone percentage (spec §6
// prop_mcspare), applying it to the live MediaClass immediately.
func (h *Handle) PropMCSpare(class uint8, pctSpare uint8) error {
	slot0 := h.slotAt(0)

	slot0.mdc0.mu.Lock()
	slot0.mdc0.spares[class] = pctSpare
	slot0.mdc0.mu.Unlock()

	// Administrative write, same as drive add/remove: take pdvlock
	// exclusively rather than the alloc path's read-hold.
	h.pdvlock.Lock()
	if mc, ok := h.classes[class]; ok {
		mc.PctSpare = pctSpare
	}
	h.pdvlock.Unlock()

	rec := &omf.Record{Type: omf.TypeMCSpare, MCSpare: omf.MCSpare{Class: class, PctSpare: pctSpare}}
	slot0.log.compactlock.Lock()
	defer slot0.log.compactlock.Unlock()
	return slot0.log.addrec(rec)
}

// PropMPConfig writes the opaque mpool-wide configuration payload (spec §6
// prop_mpconfig).
func (h *Handle) PropMPConfig(payload []byte) error {
	slot0 := h.slotAt(0)

	slot0.mdc0.mu.Lock()
	slot0.mdc0.mpconfig = payload
	slot0.mdc0.mu.Unlock()

	rec := &omf.Record{Type: omf.TypeMPConfig, MPConfig: omf.MPConfig{Payload: payload}}
	slot0.log.compactlock.Lock()
	defer slot0.log.compactlock.Unlock()
	return slot0.log.addrec(rec)
}
