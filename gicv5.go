// Package gicv5 emulates the core of an ARM Generic Interrupt Controller
// v5: the Interrupt Routing Service that owns SPI and LPI state and walks
// guest-resident interrupt state tables, and the per-CPU interface that
// acknowledges interrupts and drives the CPU wake lines. A System ties
// one IRS and its CPUs to guest memory and an MMIO bus; everything else
// (CPU cores, boards, devices) stays on the embedder's side of the
// interfaces re-exported here.
package gicv5

import (
	"github.com/tinyrange/gicv5/internal/chipset"
	"github.com/tinyrange/gicv5/internal/gic"
	"github.com/tinyrange/gicv5/internal/gic/cpuif"
	"github.com/tinyrange/gicv5/internal/hv"
	"github.com/tinyrange/gicv5/internal/tracerec"
)

// -----------------------------------------------------------------------------
// Type aliases - these re-export types from internal packages
// -----------------------------------------------------------------------------

// Domain is one of the four GICv5 interrupt domains.
type Domain = gic.Domain

// Interrupt domain values.
const (
	DomainS     = gic.DomainS
	DomainNS    = gic.DomainNS
	DomainEL3   = gic.DomainEL3
	DomainRealm = gic.DomainRealm
)

// IntType is the interrupt type encoded in the top bits of an INTID.
type IntType = gic.IntType

// Interrupt types.
const (
	TypePPI = gic.TypePPI
	TypeLPI = gic.TypeLPI
	TypeSPI = gic.TypeSPI
)

// TriggerMode is the wire-level trigger mode of an SPI.
type TriggerMode = gic.TriggerMode

// HandlingMode controls whether acknowledge clears pending state.
type HandlingMode = gic.HandlingMode

// Trigger and handling mode values.
const (
	TriggerEdge  = gic.TriggerEdge
	TriggerLevel = gic.TriggerLevel
	HMEdge       = gic.HMEdge
	HMLevel      = gic.HMLevel
)

// PrioIdle is the "no candidate" priority sentinel.
const PrioIdle = gic.PrioIdle

// HPPIV is the valid bit on a 64-bit acknowledge result.
const HPPIV = gic.HPPIV

// PendingIrq is a highest-priority-pending-interrupt candidate.
type PendingIrq = gic.PendingIrq

// Processor is what the CPU interface needs from the emulated CPU core:
// its exception level, security state and NMI mode.
type Processor = cpuif.Processor

// CPU is one per-CPU interface. Its register accessors must run under
// the System lock.
type CPU = cpuif.CPU

// LineInterrupt is an interrupt wire handle.
type LineInterrupt = chipset.LineInterrupt

// LineInterruptFromFunc adapts a level function to a LineInterrupt.
func LineInterruptFromFunc(fn func(bool)) LineInterrupt {
	return chipset.LineInterruptFromFunc(fn)
}

// GuestMemory is the guest physical memory the ISTs live in.
type GuestMemory = hv.GuestMemory

// NewRAM allocates flat guest memory at a base address, suitable for
// tests and simple boards.
func NewRAM(base, size uint64) *hv.RAM {
	return hv.NewRAM(base, size)
}

// TraceRecorder receives emulation trace events.
type TraceRecorder = tracerec.Recorder

// NewSQLiteTrace creates a trace recorder writing to path + ".sqlite3".
func NewSQLiteTrace(path string) (TraceRecorder, error) {
	return tracerec.NewSQLite(path)
}

// FixedProcessor is a Processor with constant state, handy for boards
// whose CPU model does not change security state and for tests.
type FixedProcessor struct {
	EL3   bool
	State Domain
	NMI   bool
}

// AtEL3 implements Processor.
func (p *FixedProcessor) AtEL3() bool { return p.EL3 }

// SecurityState implements Processor.
func (p *FixedProcessor) SecurityState() Domain { return p.State }

// NMIEnabled implements Processor.
func (p *FixedProcessor) NMIEnabled() bool { return p.NMI }

// MakeINTID packs an interrupt type and ID into a 32-bit INTID.
func MakeINTID(t IntType, id uint32) uint32 {
	return gic.MakeINTID(t, id)
}

// SplitINTID unpacks a 32-bit INTID.
func SplitINTID(intid uint32) (IntType, uint32) {
	return gic.SplitINTID(intid)
}
