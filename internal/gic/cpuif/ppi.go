package cpuif

import (
	"math/bits"

	"github.com/tinyrange/gicv5/internal/gic"
)

// fixedHMMask marks the PPIs whose handling mode is architecturally
// fixed: the doorbells, the software PPI and the timer/debug PPIs in
// bank 0. Handling-mode writes to these are ignored.
var fixedHMMask = [2]uint64{
	1<<gic.PPISecureDoorbell | 1<<gic.PPIRealmDoorbell |
		1<<gic.PPINSDoorbell | 1<<gic.PPISW | 1<<gic.PPIHACDBSIRQ |
		func() uint64 {
			var m uint64
			for n := gic.PPICNTHVS; n <= gic.PPITRBIRQ; n++ {
				m |= 1 << n
			}
			return m
		}(),
	0,
}

// SetPPI is the wire-level PPI input: a rising edge makes the PPI
// pending; a falling edge clears pending for level-handled PPIs.
func (c *CPU) SetPPI(n uint32, level bool) {
	if n >= gic.NumPPIs {
		gic.GuestErr().Error("gicv5-cpuif: PPI wire out of range", "ppi", n)
		return
	}
	bank, bit := n/64, n%64
	if level {
		c.ppiPend[bank] |= 1 << bit
	} else if c.ppiHM[bank]&(1<<bit) != 0 {
		c.ppiPend[bank] &^= 1 << bit
	}
	c.recomputePPIHPPI()
	c.UpdateWake()
}

// recomputePPIHPPI rescans enable & pend & ~active over both banks and
// caches the best candidate per domain. Ties keep the lowest-numbered
// PPI. Until EL3 support is added all PPIs belong to the NS domain.
func (c *CPU) recomputePPIHPPI() {
	best := gic.Idle
	for bank := 0; bank < 2; bank++ {
		enPendNact := c.ppiEnable[bank] & c.ppiPend[bank] &^ c.ppiActive[bank]
		for enPendNact != 0 {
			bit := bits.TrailingZeros64(enPendNact)
			enPendNact &= enPendNact - 1
			n := uint32(bank*64 + bit)
			if prio := c.ppiPrio[n]; prio < best.Prio {
				best = gic.PendingIrq{
					INTID: gic.MakeINTID(gic.TypePPI, n),
					Prio:  prio,
				}
			}
		}
	}

	for d := 0; d < gic.NumDomains; d++ {
		c.ppiHPPI[d] = gic.Idle
	}
	c.ppiHPPI[gic.DomainNS] = best
}

// ppiDomain returns the domain a PPI belongs to. Until EL3 support is
// added this is always NS.
func (c *CPU) ppiDomain(uint32) gic.Domain {
	return gic.DomainNS
}

// ICC_PPI_* state register accessors. bank selects the 64-PPI register
// instance (ICC_PPI_xR0_EL1 or ICC_PPI_xR1_EL1).

// ReadPPIEnabler returns ICC_PPI_ENABLER<bank>_EL1.
func (c *CPU) ReadPPIEnabler(bank int) uint64 {
	if !validBank(bank) {
		return 0
	}
	return c.ppiEnable[bank]
}

// WritePPIEnabler writes ICC_PPI_ENABLER<bank>_EL1 straight through.
func (c *CPU) WritePPIEnabler(bank int, v uint64) {
	if !validBank(bank) {
		return
	}
	c.ppiEnable[bank] = v
	c.recomputePPIHPPI()
	c.UpdateWake()
}

// ReadPPIPendr returns the pending bits of the bank.
func (c *CPU) ReadPPIPendr(bank int) uint64 {
	if !validBank(bank) {
		return 0
	}
	return c.ppiPend[bank]
}

// WritePPICPendr clears the given pending bits. Bits of PPIs whose
// handling mode is level are read-only: their pending state tracks the
// interrupt condition and only the wire can clear it.
func (c *CPU) WritePPICPendr(bank int, v uint64) {
	if !validBank(bank) {
		return
	}
	c.ppiPend[bank] &^= v &^ c.ppiHM[bank]
	c.recomputePPIHPPI()
	c.UpdateWake()
}

// WritePPISPendr sets the given pending bits, with the same writable
// mask as WritePPICPendr.
func (c *CPU) WritePPISPendr(bank int, v uint64) {
	if !validBank(bank) {
		return
	}
	c.ppiPend[bank] |= v &^ c.ppiHM[bank]
	c.recomputePPIHPPI()
	c.UpdateWake()
}

// ReadPPIActiver returns the active bits of the bank.
func (c *CPU) ReadPPIActiver(bank int) uint64 {
	if !validBank(bank) {
		return 0
	}
	return c.ppiActive[bank]
}

// WritePPICActiver clears the given active bits.
func (c *CPU) WritePPICActiver(bank int, v uint64) {
	if !validBank(bank) {
		return
	}
	c.ppiActive[bank] &^= v
	c.recomputePPIHPPI()
	c.UpdateWake()
}

// WritePPISActiver sets the given active bits.
func (c *CPU) WritePPISActiver(bank int, v uint64) {
	if !validBank(bank) {
		return
	}
	c.ppiActive[bank] |= v
	c.recomputePPIHPPI()
	c.UpdateWake()
}

// ReadPPIHMR returns the handling-mode bits of the bank (1 = level).
func (c *CPU) ReadPPIHMR(bank int) uint64 {
	if !validBank(bank) {
		return 0
	}
	return c.ppiHM[bank]
}

// ReadPPIPriorityr returns ICC_PPI_PRIORITYR<n>_EL1: eight priority
// bytes packed little-endian, n in [0, 15].
func (c *CPU) ReadPPIPriorityr(n int) uint64 {
	if n < 0 || n >= gic.NumPPIs/8 {
		return 0
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(c.ppiPrio[n*8+i]) << (8 * i)
	}
	return v
}

// WritePPIPriorityr writes eight priority bytes. Unimplemented
// low-order priority bits read as zero.
func (c *CPU) WritePPIPriorityr(n int, v uint64) {
	if n < 0 || n >= gic.NumPPIs/8 {
		return
	}
	for i := 0; i < 8; i++ {
		c.ppiPrio[n*8+i] = uint8(v>>(8*i)) & gic.PrioMask
	}
	c.recomputePPIHPPI()
	c.UpdateWake()
}

func validBank(bank int) bool { return bank == 0 || bank == 1 }
