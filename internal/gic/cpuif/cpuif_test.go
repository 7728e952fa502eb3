package cpuif

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyrange/gicv5/internal/chipset"
	"github.com/tinyrange/gicv5/internal/gic"
)

// testProc is a CPU core with settable state.
type testProc struct {
	el3 bool
	ss  gic.Domain
	nmi bool
}

func (p *testProc) AtEL3() bool               { return p.el3 }
func (p *testProc) SecurityState() gic.Domain { return p.ss }
func (p *testProc) NMIEnabled() bool          { return p.nmi }

// testIRS is a canned Stream that records calls and serves one HPPI.
type testIRS struct {
	hppi      gic.PendingIrq
	activated []uint32
	deactived []uint32
	commands  []string
}

func (s *testIRS) SetPriority(id uint32, prio uint8, d gic.Domain, t gic.IntType, virt bool) {
	s.commands = append(s.commands, "set_priority")
}
func (s *testIRS) SetEnabled(id uint32, enabled bool, d gic.Domain, t gic.IntType, virt bool) {
	s.commands = append(s.commands, "set_enabled")
}
func (s *testIRS) SetPending(id uint32, pending bool, d gic.Domain, t gic.IntType, virt bool) {
	s.commands = append(s.commands, "set_pending")
}
func (s *testIRS) SetHandling(id uint32, hm gic.HandlingMode, d gic.Domain, t gic.IntType, virt bool) {
	s.commands = append(s.commands, "set_handling")
}
func (s *testIRS) SetTarget(id uint32, iaffid uint16, irm gic.RoutingMode, d gic.Domain, t gic.IntType, virt bool) {
	s.commands = append(s.commands, "set_target")
}
func (s *testIRS) RequestConfig(id uint32, d gic.Domain, t gic.IntType, virt bool) uint64 {
	return gic.PackICSR(true, false, true, gic.HMEdge, gic.RoutingTargeted, 5, 0)
}
func (s *testIRS) Activate(id uint32, d gic.Domain, t gic.IntType, virt bool) {
	s.activated = append(s.activated, id)
	s.hppi = gic.Idle
}
func (s *testIRS) Deactivate(id uint32, d gic.Domain, t gic.IntType, virt bool) {
	s.deactived = append(s.deactived, id)
}
func (s *testIRS) HPPI(iaffid uint16, d gic.Domain) gic.PendingIrq {
	return s.hppi
}

type lineLog struct {
	level bool
}

func (l *lineLog) line() chipset.LineInterrupt {
	return chipset.LineInterruptFromFunc(func(level bool) { l.level = level })
}

func newTestCPU(t *testing.T) (*CPU, *testProc, *testIRS, *lineLog, *lineLog) {
	t.Helper()

	proc := &testProc{ss: gic.DomainNS, nmi: true}
	irs := &testIRS{hppi: gic.Idle}
	irq, nmi := &lineLog{}, &lineLog{}

	c, err := New(Config{
		IAFFID: 0,
		Proc:   proc,
		IRQ:    irq.line(),
		NMI:    nmi.line(),
	})
	require.NoError(t, err)
	c.AttachIRS(irs)

	// Open the gates most tests want: domain enabled, mask wide open.
	c.WriteICCCR0(1)
	c.WriteICCPCR(0xff)
	return c, proc, irs, irq, nmi
}

func TestNewRequiresProcessor(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestAcknowledgeIRS(t *testing.T) {
	c, _, irs, irq, _ := newTestCPU(t)

	irs.hppi = gic.PendingIrq{INTID: gic.MakeINTID(gic.TypeLPI, 0x17), Prio: 8}
	c.UpdateWake()
	require.True(t, irq.level)

	got := c.AcknowledgeIRQ()
	require.Equal(t, uint64(gic.MakeINTID(gic.TypeLPI, 0x17))|gic.HPPIV, got)
	require.Equal(t, []uint32{0x17}, irs.activated)
	require.Equal(t, uint32(1)<<8, c.ReadICCAPR())
	require.Equal(t, uint8(8), c.ReadICCHAPR())
	require.False(t, irq.level)

	// Nothing left: acknowledge returns zero and changes nothing.
	require.Equal(t, uint64(0), c.AcknowledgeIRQ())
	require.Equal(t, uint32(1)<<8, c.ReadICCAPR())
}

func TestAcknowledgeNMIMatching(t *testing.T) {
	c, proc, irs, irq, nmi := newTestCPU(t)

	irs.hppi = gic.PendingIrq{INTID: gic.MakeINTID(gic.TypeLPI, 2), Prio: 0}
	c.UpdateWake()
	require.True(t, nmi.level)
	require.False(t, irq.level)

	// Superpriority with NMI mode on: CDIA refuses, CDNMIA delivers.
	require.Equal(t, uint64(0), c.AcknowledgeIRQ())
	got := c.AcknowledgeNMI()
	require.Equal(t, uint64(gic.MakeINTID(gic.TypeLPI, 2))|gic.HPPIV, got)
	require.Equal(t, uint32(1), c.ReadICCAPR())
	require.False(t, nmi.level)

	// With NMI mode off, priority 0 is an ordinary interrupt.
	c.WriteCDEOI()
	c.WriteCDDI(uint64(gic.MakeINTID(gic.TypeLPI, 2)))
	require.Equal(t, []uint32{2}, irs.deactived)
	proc.nmi = false
	irs.hppi = gic.PendingIrq{INTID: gic.MakeINTID(gic.TypeLPI, 2), Prio: 0}
	require.Equal(t, uint64(0), c.AcknowledgeNMI())
	require.NotEqual(t, uint64(0), c.AcknowledgeIRQ())
}

func TestPriorityDropOrdering(t *testing.T) {
	c, _, irs, _, _ := newTestCPU(t)

	// Acknowledge at 4, then a nested preempt at 2.
	irs.hppi = gic.PendingIrq{INTID: gic.MakeINTID(gic.TypeSPI, 40), Prio: 4}
	require.NotEqual(t, uint64(0), c.AcknowledgeIRQ())
	irs.hppi = gic.PendingIrq{INTID: gic.MakeINTID(gic.TypeSPI, 41), Prio: 2}
	require.NotEqual(t, uint64(0), c.AcknowledgeIRQ())

	require.Equal(t, uint32(1<<4|1<<2), c.ReadICCAPR())
	require.Equal(t, uint8(2), c.ReadICCHAPR())

	c.WriteCDEOI()
	require.Equal(t, uint32(1)<<4, c.ReadICCAPR())
	require.Equal(t, uint8(4), c.ReadICCHAPR())

	c.WriteCDEOI()
	require.Equal(t, uint32(0), c.ReadICCAPR())
	require.Equal(t, uint8(gic.PrioIdle), c.ReadICCHAPR())
}

func TestRunningPriorityGatesHPPI(t *testing.T) {
	c, _, irs, _, _ := newTestCPU(t)

	irs.hppi = gic.PendingIrq{INTID: gic.MakeINTID(gic.TypeSPI, 40), Prio: 4}
	require.NotEqual(t, uint64(0), c.AcknowledgeIRQ())

	// Same priority cannot preempt itself.
	irs.hppi = gic.PendingIrq{INTID: gic.MakeINTID(gic.TypeSPI, 41), Prio: 4}
	require.True(t, c.HPPI(gic.DomainNS).IsIdle())

	// A better priority can.
	irs.hppi = gic.PendingIrq{INTID: gic.MakeINTID(gic.TypeSPI, 41), Prio: 3}
	require.False(t, c.HPPI(gic.DomainNS).IsIdle())
}

func TestPriorityMaskGatesHPPI(t *testing.T) {
	c, _, irs, irq, _ := newTestCPU(t)

	irs.hppi = gic.PendingIrq{INTID: gic.MakeINTID(gic.TypeLPI, 1), Prio: 16}
	c.WriteICCPCR(15)
	require.True(t, c.HPPI(gic.DomainNS).IsIdle())
	require.False(t, irq.level)

	// Raising the mask to the interrupt's priority re-asserts IRQ.
	c.WriteICCPCR(16)
	require.False(t, c.HPPI(gic.DomainNS).IsIdle())
	require.True(t, irq.level)
}

func TestCR0EnableGates(t *testing.T) {
	c, _, irs, irq, _ := newTestCPU(t)

	irs.hppi = gic.PendingIrq{INTID: gic.MakeINTID(gic.TypeLPI, 1), Prio: 8}
	c.UpdateWake()
	require.True(t, irq.level)

	c.WriteICCCR0(0)
	require.False(t, irq.level)
	require.True(t, c.HPPI(gic.DomainNS).IsIdle())

	// Only EN is writable; the link bits are forced set.
	require.Equal(t, uint32(0b110000), c.ReadICCCR0())
}

func TestBankedRegisters(t *testing.T) {
	c, proc, _, _, _ := newTestCPU(t)

	c.WriteICCPCR(0x10)
	proc.ss = gic.DomainS
	c.WriteICCPCR(0x08)

	require.Equal(t, uint8(0x08), c.ReadICCPCR())
	proc.ss = gic.DomainNS
	require.Equal(t, uint8(0x10), c.ReadICCPCR())
}

func TestPPIDelivery(t *testing.T) {
	c, _, _, irq, _ := newTestCPU(t)

	const ppi = 27 // virtual timer
	c.WritePPIPriorityr(ppi/8, uint64(6)<<(8*(ppi%8)))
	c.WritePPIEnabler(0, 1<<ppi)
	c.SetPPI(ppi, true)

	require.True(t, irq.level)
	got := c.AcknowledgeIRQ()
	require.Equal(t, uint64(gic.MakeINTID(gic.TypePPI, ppi))|gic.HPPIV, got)
	require.NotZero(t, c.ReadPPIActiver(0)&(1<<ppi))

	// Level-handled: pending stays while the wire is high, but the
	// active PPI is no longer a candidate.
	require.NotZero(t, c.ReadPPIPendr(0)&(1<<ppi))
	require.False(t, irq.level)

	c.WriteCDEOI()
	c.WriteCDDI(uint64(gic.MakeINTID(gic.TypePPI, ppi)))
	require.Zero(t, c.ReadPPIActiver(0)&(1<<ppi))
	// Wire still high: it comes right back.
	require.True(t, irq.level)

	c.SetPPI(ppi, false)
	require.Zero(t, c.ReadPPIPendr(0)&(1<<ppi))
	require.False(t, irq.level)
}

func TestPPIEdgeHandlingOnAck(t *testing.T) {
	c, _, _, _, _ := newTestCPU(t)

	// PPI 3 is the architected edge-handled software PPI.
	c.WritePPIPriorityr(0, uint64(5)<<(8*3))
	c.WritePPIEnabler(0, 1<<gic.PPISW)
	c.SetPPI(gic.PPISW, true)
	c.SetPPI(gic.PPISW, false) // edge: pending latches

	require.NotZero(t, c.ReadPPIPendr(0)&(1<<gic.PPISW))
	require.NotEqual(t, uint64(0), c.AcknowledgeIRQ())
	// Edge handling: acknowledge consumed the pending state.
	require.Zero(t, c.ReadPPIPendr(0)&(1<<gic.PPISW))
}

func TestPPIPendWritableOnlyForEdge(t *testing.T) {
	c, _, _, _, _ := newTestCPU(t)

	// Handling mode resets to level for everything except PPI 3.
	require.Equal(t, ^uint64(1<<gic.PPISW), c.ReadPPIHMR(0))
	require.Equal(t, ^uint64(0), c.ReadPPIHMR(1))

	// SPENDR/CPENDR only move edge-handled bits.
	c.WritePPISPendr(0, 1<<gic.PPISW|1<<gic.PPICNTP)
	require.Equal(t, uint64(1)<<gic.PPISW, c.ReadPPIPendr(0))

	c.SetPPI(gic.PPICNTP, true)
	c.WritePPICPendr(0, 1<<gic.PPISW|1<<gic.PPICNTP)
	require.Equal(t, uint64(1)<<gic.PPICNTP, c.ReadPPIPendr(0))
}

func TestPPIActiveRegisters(t *testing.T) {
	c, _, _, _, _ := newTestCPU(t)

	c.WritePPISActiver(0, 0b1010)
	require.Equal(t, uint64(0b1010), c.ReadPPIActiver(0))
	c.WritePPICActiver(0, 0b0010)
	require.Equal(t, uint64(0b1000), c.ReadPPIActiver(0))
}

func TestPPIHPPITieBreak(t *testing.T) {
	c, _, _, _, _ := newTestCPU(t)

	// Two PPIs at the same priority: the lower-numbered one wins.
	c.WritePPIPriorityr(2, uint64(6)|uint64(6)<<8) // PPIs 16 and 17
	c.WritePPIEnabler(0, 1<<16|1<<17)
	c.WritePPISPendr(0, 0) // both are level-handled; drive the wires
	c.SetPPI(16, true)
	c.SetPPI(17, true)

	got := c.HPPI(gic.DomainNS)
	require.Equal(t, gic.MakeINTID(gic.TypePPI, 16), got.INTID)
}

func TestCDCommandsDispatchToIRS(t *testing.T) {
	c, _, irs, _, _ := newTestCPU(t)

	spi := uint64(gic.MakeINTID(gic.TypeSPI, 40))
	c.WriteCDPRI(spi | 8<<32)
	c.WriteCDEN(spi)
	c.WriteCDDIS(spi)
	c.WriteCDPEND(spi | 1<<32)
	c.WriteCDHM(spi | 1<<32)
	c.WriteCDAFF(spi | 3<<32)
	require.Equal(t, []string{
		"set_priority", "set_enabled", "set_enabled",
		"set_pending", "set_handling", "set_target",
	}, irs.commands)

	c.WriteCDRCFG(uint64(gic.MakeINTID(gic.TypeLPI, 9)))
	require.Equal(t, uint64(5), gic.IcsrPriority.Get(c.ReadICSR()))

	// Virtual interrupts are rejected before they reach the IRS.
	n := len(irs.commands)
	c.WriteCDPEND(spi | 1<<63)
	require.Len(t, irs.commands, n)
	c.WriteCDRCFG(spi | 1<<63)
	require.Equal(t, gic.ICSRFailure, c.ReadICSR())
}

func TestCDPRIForPPIIsLocal(t *testing.T) {
	c, _, irs, _, _ := newTestCPU(t)

	c.WriteCDPRI(uint64(gic.MakeINTID(gic.TypePPI, 7)) | 9<<32)
	require.Empty(t, irs.commands)
	require.Equal(t, uint64(9)<<(8*7), c.ReadPPIPriorityr(0))
}

func TestFixedHandlingModePPIs(t *testing.T) {
	c, _, _, _, _ := newTestCPU(t)

	// The architected timer PPI's handling mode cannot change.
	c.WriteCDHM(uint64(gic.MakeINTID(gic.TypePPI, gic.PPICNTP)))
	require.NotZero(t, c.ReadPPIHMR(0)&(1<<gic.PPICNTP))

	// A non-architected PPI's can: a CDHM with the HM field clear
	// makes it edge-handled.
	const free = 40
	require.NotZero(t, c.ReadPPIHMR(0)&(1<<free))
	c.WriteCDHM(uint64(gic.MakeINTID(gic.TypePPI, free)))
	require.Zero(t, c.ReadPPIHMR(0)&(1<<free))
}

func TestEL3PhysicalDomain(t *testing.T) {
	c, proc, irs, _, _ := newTestCPU(t)

	// At EL3 the physical domain is EL3 regardless of security state;
	// the EL3 bank gates are closed by default so nothing delivers.
	proc.el3 = true
	irs.hppi = gic.PendingIrq{INTID: gic.MakeINTID(gic.TypeLPI, 1), Prio: 4}
	require.True(t, c.HPPI(gic.DomainEL3).IsIdle())
	require.Equal(t, uint64(0), c.AcknowledgeIRQ())
}
