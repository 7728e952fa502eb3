package cpuif

import (
	"github.com/tinyrange/gicv5/internal/gic"
	"github.com/tinyrange/gicv5/internal/regfield"
	"github.com/tinyrange/gicv5/internal/tracerec"
)

// GIC CD* system instruction payload fields. Every payload carries a
// 32-bit INTID (type in the top bits) and a virtual flag; the remaining
// fields depend on the operation.
var (
	cdINTID    = regfield.F64(0, 32)
	cdVirtual  = regfield.Bit64(63)
	cdPriority = regfield.F64(32, 5)  // GIC CDPRI
	cdIAFFID   = regfield.F64(32, 16) // GIC CDAFF
	cdIRM      = regfield.Bit64(62)   // GIC CDAFF
	cdPending  = regfield.Bit64(32)   // GIC CDPEND
	cdHM       = regfield.Bit64(32)   // GIC CDHM
)

// decodeCD splits a CD* payload into its interrupt coordinates. A set
// virtual flag is reported so handlers can reject it: only physical
// interrupts are supported.
func (c *CPU) decodeCD(op string, value uint64) (t gic.IntType, id uint32, d gic.Domain, ok bool) {
	if cdVirtual.Get(value) != 0 {
		gic.GuestErr().Error("gicv5-cpuif: virtual interrupt not supported", "op", op)
		return 0, 0, 0, false
	}
	t, id = gic.SplitINTID(uint32(cdINTID.Get(value)))
	return t, id, c.physicalDomain(), true
}

// WriteCDPRI handles GIC CDPRI: set interrupt priority.
func (c *CPU) WriteCDPRI(value uint64) {
	t, id, d, ok := c.decodeCD("cdpri", value)
	if !ok {
		return
	}
	prio := uint8(cdPriority.Get(value)) & gic.PrioMask
	if t == gic.TypePPI {
		if id < gic.NumPPIs {
			c.ppiPrio[id] = prio
			c.recomputePPIHPPI()
			c.UpdateWake()
		}
		return
	}
	c.irs.SetPriority(id, prio, d, t, false)
}

// WriteCDEN handles GIC CDEN: enable an interrupt.
func (c *CPU) WriteCDEN(value uint64) {
	c.writeEnable(value, true)
}

// WriteCDDIS handles GIC CDDIS: disable an interrupt.
func (c *CPU) WriteCDDIS(value uint64) {
	c.writeEnable(value, false)
}

func (c *CPU) writeEnable(value uint64, enabled bool) {
	op := "cddis"
	if enabled {
		op = "cden"
	}
	t, id, d, ok := c.decodeCD(op, value)
	if !ok {
		return
	}
	if t == gic.TypePPI {
		if id < gic.NumPPIs {
			bank, bit := id/64, id%64
			if enabled {
				c.ppiEnable[bank] |= 1 << bit
			} else {
				c.ppiEnable[bank] &^= 1 << bit
			}
			c.recomputePPIHPPI()
			c.UpdateWake()
		}
		return
	}
	c.irs.SetEnabled(id, enabled, d, t, false)
}

// WriteCDPEND handles GIC CDPEND: set or clear pending state.
func (c *CPU) WriteCDPEND(value uint64) {
	t, id, d, ok := c.decodeCD("cdpend", value)
	if !ok {
		return
	}
	pending := cdPending.Get(value) != 0
	if t == gic.TypePPI {
		if id < gic.NumPPIs {
			bank, bit := id/64, id%64
			// Level-handled PPIs track their interrupt condition;
			// software cannot move their pending state.
			if c.ppiHM[bank]&(1<<bit) == 0 {
				if pending {
					c.ppiPend[bank] |= 1 << bit
				} else {
					c.ppiPend[bank] &^= 1 << bit
				}
				c.recomputePPIHPPI()
				c.UpdateWake()
			}
		}
		return
	}
	c.irs.SetPending(id, pending, d, t, false)
}

// WriteCDHM handles GIC CDHM: set the handling mode.
func (c *CPU) WriteCDHM(value uint64) {
	t, id, d, ok := c.decodeCD("cdhm", value)
	if !ok {
		return
	}
	hm := gic.HandlingMode(cdHM.Get(value))
	if t == gic.TypePPI {
		if id < gic.NumPPIs {
			bank, bit := id/64, id%64
			if fixedHMMask[bank]&(1<<bit) != 0 {
				gic.GuestErr().Error("gicv5-cpuif: handling mode of architected PPI is fixed",
					"ppi", id)
				return
			}
			if hm == gic.HMLevel {
				c.ppiHM[bank] |= 1 << bit
			} else {
				c.ppiHM[bank] &^= 1 << bit
			}
			c.recomputePPIHPPI()
			c.UpdateWake()
		}
		return
	}
	c.irs.SetHandling(id, hm, d, t, false)
}

// WriteCDAFF handles GIC CDAFF: retarget an interrupt. 1-of-N requests
// are not supported and collapse to targeted delivery.
func (c *CPU) WriteCDAFF(value uint64) {
	t, id, d, ok := c.decodeCD("cdaff", value)
	if !ok {
		return
	}
	if t == gic.TypePPI {
		gic.GuestErr().Error("gicv5-cpuif: PPIs cannot be retargeted", "ppi", id)
		return
	}
	iaffid := uint16(cdIAFFID.Get(value))
	irm := gic.RoutingMode(cdIRM.Get(value))
	c.irs.SetTarget(id, iaffid, irm, d, t, false)
}

// WriteCDRCFG handles GIC CDRCFG: fetch the interrupt configuration
// into ICC_ICSR_EL1.
func (c *CPU) WriteCDRCFG(value uint64) {
	t, id, d, ok := c.decodeCD("cdrcfg", value)
	if !ok {
		c.icsr = gic.ICSRFailure
		return
	}
	if t == gic.TypePPI {
		if id >= gic.NumPPIs {
			c.icsr = gic.ICSRFailure
			return
		}
		bank, bit := id/64, id%64
		mask := uint64(1) << bit
		c.icsr = gic.PackICSR(
			c.ppiPend[bank]&mask != 0,
			c.ppiActive[bank]&mask != 0,
			c.ppiEnable[bank]&mask != 0,
			gic.HandlingMode(gic.B32(c.ppiHM[bank]&mask != 0)),
			gic.RoutingTargeted,
			c.ppiPrio[id],
			c.iaffid)
		return
	}
	c.icsr = c.irs.RequestConfig(id, d, t, false)
}

// ReadICSR returns ICC_ICSR_EL1: the result of the last CDRCFG.
func (c *CPU) ReadICSR() uint64 { return c.icsr }

// WriteCDDI handles GIC CDDI: deactivate an interrupt. This is the
// second half of interrupt completion, independent of the priority
// drop.
func (c *CPU) WriteCDDI(value uint64) {
	t, id, d, ok := c.decodeCD("cddi", value)
	if !ok {
		return
	}
	if t == gic.TypePPI {
		if id < gic.NumPPIs {
			bank, bit := id/64, id%64
			c.ppiActive[bank] &^= 1 << bit
			c.recomputePPIHPPI()
			c.UpdateWake()
		}
		return
	}
	c.irs.Deactivate(id, d, t, false)
}

// WriteCDEOI handles GIC CDEOI, the priority drop: pop the most recent
// entry off the active-priority stack and recheck the wake lines.
func (c *CPU) WriteCDEOI() {
	d := c.physicalDomain()
	// Clearing the lowest set bit drops the priority we are running at.
	c.apr[d] &= c.apr[d] - 1
	c.UpdateWake()
}

// AcknowledgeIRQ handles a GICR CDIA read: acknowledge the highest
// priority pending non-NMI interrupt. Returns zero if there is nothing
// eligible or the candidate must be taken as an NMI instead.
func (c *CPU) AcknowledgeIRQ() uint64 {
	return c.acknowledge(false)
}

// AcknowledgeNMI handles a GICR CDNMIA read: the NMI flavour of
// AcknowledgeIRQ.
func (c *CPU) AcknowledgeNMI() uint64 {
	return c.acknowledge(true)
}

func (c *CPU) acknowledge(wantNMI bool) uint64 {
	d := c.physicalDomain()
	best := c.hppi(d)
	if best.IsIdle() {
		return 0
	}

	// Whether the interrupt is delivered as an NMI depends on both
	// superpriority and the CPU's NMI mode; reading the wrong
	// acknowledge register returns nothing and changes nothing.
	isNMI := best.Prio == 0 && c.proc.NMIEnabled()
	if isNMI != wantNMI {
		return 0
	}

	c.apr[d] |= 1 << best.Prio

	t, id := gic.SplitINTID(best.INTID)
	if t == gic.TypePPI {
		bank, bit := id/64, id%64
		c.ppiActive[bank] |= 1 << bit
		if c.ppiHM[bank]&(1<<bit) == 0 {
			c.ppiPend[bank] &^= 1 << bit
		}
		c.recomputePPIHPPI()
	} else {
		c.irs.Activate(id, d, t, false)
	}

	c.rec.InsertData("ack", tracerec.Ack{
		IAFFID: c.iaffid, INTID: best.INTID, Prio: best.Prio, NMI: isNMI,
	})
	c.UpdateWake()

	return uint64(best.INTID) | gic.HPPIV
}

// Banked ICC register accessors. The register instance is selected by
// the logical domain (the security state below EL3), kept as a
// four-element array rather than a current shadow.

// ReadICCCR0 returns ICC_CR0_EL1 for the current logical domain.
func (c *CPU) ReadICCCR0() uint32 {
	return c.cr0[c.logicalDomain()]
}

// WriteICCCR0 writes ICC_CR0_EL1. Only EN is writable; the link bits
// always read as set because the stream connection to the IRS is
// synchronous and always up.
func (c *CPU) WriteICCCR0(v uint32) {
	d := c.logicalDomain()
	cr0 := IccCr0EN.Insert(0, IccCr0EN.Get(v))
	cr0 = IccCr0Link.Insert(cr0, 1)
	cr0 = IccCr0LinkIdle.Insert(cr0, 1)
	c.cr0[d] = cr0
	c.UpdateWake()
}

// ReadICCPCR returns ICC_PCR_EL1, the priority mask, for the current
// logical domain.
func (c *CPU) ReadICCPCR() uint8 {
	return c.pcr[c.logicalDomain()]
}

// WriteICCPCR writes the priority mask and rechecks the wake lines.
func (c *CPU) WriteICCPCR(v uint8) {
	c.pcr[c.logicalDomain()] = v
	c.UpdateWake()
}

// ReadICCAPR returns ICC_APR_EL1, the active-priority bitmap, for the
// current logical domain.
func (c *CPU) ReadICCAPR() uint32 {
	return c.apr[c.logicalDomain()]
}

// WriteICCAPR writes the active-priority bitmap. Writable so context
// switch code can save and restore the priority stack.
func (c *CPU) WriteICCAPR(v uint32) {
	c.apr[c.logicalDomain()] = v
	c.UpdateWake()
}

// ReadICCHAPR returns ICC_HAPR_EL1: the running priority, or idle when
// the active-priority stack is empty.
func (c *CPU) ReadICCHAPR() uint8 {
	return c.runningPrio(c.logicalDomain())
}

// GSBSys implements the GSB SYS barrier. All interaction with the IRS
// is synchronous, so there is nothing to wait for.
func (c *CPU) GSBSys() {}

// GSBAck implements the GSB ACK barrier, the weaker acknowledge-only
// variant. Also a no-op in the synchronous model.
func (c *CPU) GSBAck() {}
