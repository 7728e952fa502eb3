// Package cpuif implements the GICv5 per-CPU interface: the system
// register file a CPU configures PPIs and acknowledges interrupts
// through, the active-priority stack, and the selection logic that
// merges the CPU's own PPI candidates with the best pending interrupt
// the IRS routes to it and drives the IRQ/FIQ/NMI wake lines.
package cpuif

import (
	"fmt"

	"github.com/tinyrange/gicv5/internal/chipset"
	"github.com/tinyrange/gicv5/internal/gic"
	"github.com/tinyrange/gicv5/internal/hv"
	"github.com/tinyrange/gicv5/internal/regfield"
	"github.com/tinyrange/gicv5/internal/tracerec"
)

// Processor is what the CPU interface needs to know about the CPU core
// it is attached to. NMI delivery mode is an architectural property of
// the CPU (SCTLR_ELx.NMI), not of the GIC, so it is a query here.
type Processor interface {
	// AtEL3 reports whether the CPU currently executes at EL3.
	AtEL3() bool

	// SecurityState returns the interrupt domain matching the current
	// security state below EL3 (Secure, NonSecure or Realm).
	SecurityState() gic.Domain

	// NMIEnabled reports whether NMI delivery is enabled at the
	// current exception level.
	NMIEnabled() bool
}

// ICC_CR0_EL1 fields. Only EN is writable by the guest; the link bits
// report the stream connection to the IRS, which in this model is always
// up and idle.
var (
	IccCr0EN       = regfield.Bit32(0)
	IccCr0Link     = regfield.Bit32(4)
	IccCr0LinkIdle = regfield.Bit32(5)
)

// Config carries the construction parameters of one CPU interface.
type Config struct {
	IAFFID uint16
	Proc   Processor

	// Wake lines into the CPU core. Nil lines are detached.
	IRQ chipset.LineInterrupt
	FIQ chipset.LineInterrupt
	NMI chipset.LineInterrupt

	// Trace receives emulation trace events; its tables must already
	// be registered with tracerec.Tables. Nil disables tracing.
	Trace tracerec.Recorder
}

// CPU is one GICv5 CPU interface.
type CPU struct {
	iaffid uint16
	proc   Processor
	rec    tracerec.Recorder

	irqLine chipset.LineInterrupt
	fiqLine chipset.LineInterrupt
	nmiLine chipset.LineInterrupt

	// Non-owning handle to the IRS, set at board-assembly time.
	irs gic.Stream

	// Banked registers, indexed by logical interrupt domain.
	cr0 [gic.NumDomains]uint32
	pcr [gic.NumDomains]uint8
	apr [gic.NumDomains]uint32

	// Last RequestConfig result, read back through ICC_ICSR_EL1.
	icsr uint64

	// PPI state, two 64-bit banks.
	ppiEnable [2]uint64
	ppiPend   [2]uint64
	ppiActive [2]uint64
	ppiHM     [2]uint64
	ppiPrio   [gic.NumPPIs]uint8

	// Cached best pending PPI per domain.
	ppiHPPI [gic.NumDomains]gic.PendingIrq
}

// New builds a CPU interface. The IRS attaches afterwards via AttachIRS.
func New(cfg Config) (*CPU, error) {
	if cfg.Proc == nil {
		return nil, fmt.Errorf("%w: cpu interface needs a processor", hv.ErrBadConfig)
	}

	rec := cfg.Trace
	if rec == nil {
		rec = tracerec.Nop{}
	}

	c := &CPU{
		iaffid:  cfg.IAFFID,
		proc:    cfg.Proc,
		rec:     rec,
		irqLine: orDetached(cfg.IRQ),
		fiqLine: orDetached(cfg.FIQ),
		nmiLine: orDetached(cfg.NMI),
	}
	c.reset()
	return c, nil
}

func orDetached(l chipset.LineInterrupt) chipset.LineInterrupt {
	if l == nil {
		return chipset.LineInterruptDetached()
	}
	return l
}

// AttachIRS wires the stream connection to the IRS. Must be called once
// at board-assembly time.
func (c *CPU) AttachIRS(s gic.Stream) {
	c.irs = s
}

// IAFFID implements gic.Waker.
func (c *CPU) IAFFID() uint16 { return c.iaffid }

// Reset restores power-on state.
func (c *CPU) Reset() {
	c.reset()
	c.UpdateWake()
}

func (c *CPU) reset() {
	for d := 0; d < gic.NumDomains; d++ {
		c.cr0[d] = IccCr0Link.Insert(IccCr0LinkIdle.Insert(0, 1), 1)
		c.pcr[d] = gic.PrioIdle
		c.apr[d] = 0
		c.ppiHPPI[d] = gic.Idle
	}
	c.icsr = 0

	for b := 0; b < 2; b++ {
		c.ppiEnable[b] = 0
		c.ppiPend[b] = 0
		c.ppiActive[b] = 0
		// Handling mode resets to level for everything except the
		// architected edge software PPI.
		c.ppiHM[b] = ^uint64(0)
	}
	c.ppiHM[0] &^= 1 << gic.PPISW
	for i := range c.ppiPrio {
		c.ppiPrio[i] = 0
	}
}

// logicalDomain is the domain matching the security state below EL3. It
// selects the bank for ICC_CR0/PCR/APR accesses.
func (c *CPU) logicalDomain() gic.Domain {
	return c.proc.SecurityState()
}

// physicalDomain is the domain interrupts are taken in right now: EL3
// when executing at EL3, the current security state otherwise.
func (c *CPU) physicalDomain() gic.Domain {
	if c.proc.AtEL3() {
		return gic.DomainEL3
	}
	return c.proc.SecurityState()
}
