package cpuif

import (
	"math/bits"

	"github.com/tinyrange/gicv5/internal/gic"
	"github.com/tinyrange/gicv5/internal/tracerec"
)

// runningPrio is the current running priority: the highest priority
// (lowest set bit) on the active-priority stack, or idle when nothing
// is in flight.
func (c *CPU) runningPrio(d gic.Domain) uint8 {
	if c.apr[d] == 0 {
		return gic.PrioIdle
	}
	return uint8(bits.TrailingZeros32(c.apr[d]))
}

// hppi selects the highest priority pending interrupt for this CPU in
// the given domain: the better of the cached PPI candidate and whatever
// the IRS routes here, gated by the priority mask and the running
// priority. Ties between the PPI and IRS candidates go to the PPI.
func (c *CPU) hppi(d gic.Domain) gic.PendingIrq {
	if IccCr0EN.Get(c.cr0[d]) == 0 {
		return gic.Idle
	}

	best := gic.Idle
	if c.irs != nil {
		best = c.irs.HPPI(c.iaffid, d)
	}
	if p := c.ppiHPPI[d]; p.Better(best) {
		best = p
	}

	if best.IsIdle() {
		return gic.Idle
	}
	if best.Prio >= c.runningPrio(d) || best.Prio > c.pcr[d] {
		return gic.Idle
	}
	return best
}

// HPPI returns the current highest priority pending interrupt for the
// domain, or the idle candidate.
func (c *CPU) HPPI(d gic.Domain) gic.PendingIrq {
	return c.hppi(d)
}

// UpdateWake recomputes the wake lines from the HPPI of the current
// physical domain. Priority 0 is superpriority and drives the NMI line;
// everything else drives IRQ. FIQ is only used for preemptive
// cross-domain interrupts, which are not supported, so it always
// deasserts. Implements gic.Waker.
func (c *CPU) UpdateWake() {
	best := c.hppi(c.physicalDomain())

	super := !best.IsIdle() && best.Prio == 0
	irq := !best.IsIdle() && !super

	c.nmiLine.SetLevel(super)
	c.irqLine.SetLevel(irq)
	c.fiqLine.SetLevel(false)

	c.rec.InsertData("wake", tracerec.Wake{IAFFID: c.iaffid, IRQ: irq, NMI: super})
}

var _ gic.Waker = (*CPU)(nil)
