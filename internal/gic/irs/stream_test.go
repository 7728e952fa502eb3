package irs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyrange/gicv5/internal/gic"
)

// setupLPI writes an L2 ISTE for the given LPI into a 1-level IST and
// returns its guest address.
func setupLPI(t *testing.T, s *IRS, ramWrite func(addr uint64, v uint32), id uint32, word uint32) uint64 {
	t.Helper()
	configureIST(t, s, gic.DomainNS, testRAMBase, 14)
	addr := uint64(testRAMBase) + uint64(id)*4
	ramWrite(addr, word)
	return addr
}

func TestStreamRejectsBadCommands(t *testing.T) {
	s, ram, w := newTestIRS(t, gic.MaskOf(gic.DomainNS))
	_ = setupLPI(t, s, func(addr uint64, v uint32) { write32(t, ram, addr, v) }, 7, 1<<3)

	wakes := w.wakes

	// Virtual interrupts and non-IRS types are rejected without
	// touching state.
	s.SetPending(7, true, gic.DomainNS, gic.TypeLPI, true)
	s.SetPending(7, true, gic.DomainNS, gic.TypePPI, false)
	s.SetPending(7, true, gic.DomainNS, gic.IntType(0), false)
	require.Equal(t, 0, s.cache.len())
	require.Equal(t, wakes, w.wakes)

	require.Equal(t, gic.ICSRFailure, s.RequestConfig(7, gic.DomainNS, gic.TypeLPI, true))
	require.Equal(t, gic.ICSRFailure, s.RequestConfig(7, gic.DomainNS, gic.TypePPI, false))
}

func TestStreamLPIPendingLifecycle(t *testing.T) {
	s, ram, w := newTestIRS(t, gic.MaskOf(gic.DomainNS))
	word := gic.L2ISTEEnable.Insert(0, 1)
	word = gic.L2ISTEPriority.Insert(word, 8)
	addr := setupLPI(t, s, func(a uint64, v uint32) { write32(t, ram, a, v) }, 0x17, word)

	s.SetPending(0x17, true, gic.DomainNS, gic.TypeLPI, false)
	require.Equal(t, 1, s.cache.len())
	require.Equal(t, 1, w.wakes)

	hppi := s.HPPI(0, gic.DomainNS)
	require.Equal(t, uint32(0x40000017), hppi.INTID)
	require.Equal(t, uint8(8), hppi.Prio)

	// Activation of an edge-handled LPI drops pending: the cache entry
	// evicts and writes back.
	s.Activate(0x17, gic.DomainNS, gic.TypeLPI, false)
	require.Equal(t, 0, s.cache.len())
	got := read32(t, ram, addr)
	require.Equal(t, uint32(0), gic.L2ISTEPending.Get(got))
	require.Equal(t, uint32(1), gic.L2ISTEActive.Get(got))
	require.True(t, s.HPPI(0, gic.DomainNS).IsIdle())

	s.Deactivate(0x17, gic.DomainNS, gic.TypeLPI, false)
	require.Equal(t, uint32(0), gic.L2ISTEActive.Get(read32(t, ram, addr)))
}

func TestStreamLevelHandledLPIKeepsPendingOnActivate(t *testing.T) {
	s, ram, _ := newTestIRS(t, gic.MaskOf(gic.DomainNS))
	word := gic.L2ISTEEnable.Insert(0, 1)
	word = gic.L2ISTEHM.Insert(word, uint32(gic.HMLevel))
	_ = setupLPI(t, s, func(a uint64, v uint32) { write32(t, ram, a, v) }, 5, word)

	s.SetPending(5, true, gic.DomainNS, gic.TypeLPI, false)
	s.Activate(5, gic.DomainNS, gic.TypeLPI, false)

	// Level handling: pending survives activation, so the entry stays
	// cached; it is just not a candidate while active.
	require.Equal(t, 1, s.cache.len())
	require.True(t, s.HPPI(0, gic.DomainNS).IsIdle())

	s.Deactivate(5, gic.DomainNS, gic.TypeLPI, false)
	require.False(t, s.HPPI(0, gic.DomainNS).IsIdle())
}

func TestStreamPriorityMasking(t *testing.T) {
	s, ram, _ := newTestIRS(t, gic.MaskOf(gic.DomainNS))
	_ = setupLPI(t, s, func(a uint64, v uint32) { write32(t, ram, a, v) }, 9, gic.L2ISTEEnable.Insert(0, 1))

	// Priority writes mask to the implemented bits.
	s.SetPriority(9, 0xff, gic.DomainNS, gic.TypeLPI, false)
	cfg := s.RequestConfig(9, gic.DomainNS, gic.TypeLPI, false)
	require.Equal(t, uint64(0x1f), gic.IcsrPriority.Get(cfg))
}

func TestStreamRequestConfigRoundTrip(t *testing.T) {
	s, ram, _ := newTestIRS(t, gic.MaskOf(gic.DomainNS))
	_ = setupLPI(t, s, func(a uint64, v uint32) { write32(t, ram, a, v) }, 9, 0)

	s.SetPriority(9, 16, gic.DomainNS, gic.TypeLPI, false)
	s.SetEnabled(9, true, gic.DomainNS, gic.TypeLPI, false)
	s.SetHandling(9, gic.HMLevel, gic.DomainNS, gic.TypeLPI, false)
	s.SetTarget(9, 3, gic.RoutingTargeted, gic.DomainNS, gic.TypeLPI, false)
	s.SetPending(9, true, gic.DomainNS, gic.TypeLPI, false)

	cfg := s.RequestConfig(9, gic.DomainNS, gic.TypeLPI, false)
	require.Equal(t, uint64(16), gic.IcsrPriority.Get(cfg))
	require.Equal(t, uint64(1), gic.IcsrEnabled.Get(cfg))
	require.Equal(t, uint64(1), gic.IcsrPending.Get(cfg))
	require.Equal(t, uint64(uint64(gic.HMLevel)), gic.IcsrHM.Get(cfg))
	require.Equal(t, uint64(3), gic.IcsrIAFFID.Get(cfg))

	// Walk failure reports the F bit only.
	require.Equal(t, gic.ICSRFailure, s.RequestConfig(1<<14, gic.DomainNS, gic.TypeLPI, false))
}

func TestStreamOneOfNCollapsesToTargeted(t *testing.T) {
	s, ram, _ := newTestIRS(t, gic.MaskOf(gic.DomainNS))
	_ = setupLPI(t, s, func(a uint64, v uint32) { write32(t, ram, a, v) }, 4, 0)

	s.SetTarget(4, 2, gic.Routing1OfN, gic.DomainNS, gic.TypeLPI, false)
	cfg := s.RequestConfig(4, gic.DomainNS, gic.TypeLPI, false)
	require.Equal(t, uint64(gic.RoutingTargeted), gic.IcsrIRM.Get(cfg))
	require.Equal(t, uint64(2), gic.IcsrIAFFID.Get(cfg))
}

func TestStreamSPICommands(t *testing.T) {
	s, _, w := newTestIRS(t, gic.MaskOf(gic.DomainNS))

	s.SetPriority(40, 4, gic.DomainNS, gic.TypeSPI, false)
	s.SetEnabled(40, true, gic.DomainNS, gic.TypeSPI, false)
	s.SetPending(40, true, gic.DomainNS, gic.TypeSPI, false)
	require.Greater(t, w.wakes, 0)

	hppi := s.HPPI(0, gic.DomainNS)
	require.Equal(t, gic.MakeINTID(gic.TypeSPI, 40), hppi.INTID)
	require.Equal(t, uint8(4), hppi.Prio)

	cfg := s.RequestConfig(40, gic.DomainNS, gic.TypeSPI, false)
	require.Equal(t, uint64(4), gic.IcsrPriority.Get(cfg))
	require.Equal(t, uint64(1), gic.IcsrPending.Get(cfg))

	s.Activate(40, gic.DomainNS, gic.TypeSPI, false)
	spi := s.spiByID(40)
	require.True(t, spi.active)
	require.False(t, spi.pending) // reset default handling mode is edge
	require.True(t, s.HPPI(0, gic.DomainNS).IsIdle())

	s.Deactivate(40, gic.DomainNS, gic.TypeSPI, false)
	require.False(t, spi.active)
}

func TestHPPISelection(t *testing.T) {
	s, ram, _ := newTestIRS(t, gic.MaskOf(gic.DomainNS))
	configureIST(t, s, gic.DomainNS, testRAMBase, 14)

	// SPI 40 at priority 6, LPI 3 at priority 4: the LPI wins.
	s.SetEnabled(40, true, gic.DomainNS, gic.TypeSPI, false)
	s.SetPriority(40, 6, gic.DomainNS, gic.TypeSPI, false)
	s.SetPending(40, true, gic.DomainNS, gic.TypeSPI, false)

	word := gic.L2ISTEEnable.Insert(0, 1)
	word = gic.L2ISTEPriority.Insert(word, 4)
	write32(t, ram, testRAMBase+3*4, word)
	s.SetPending(3, true, gic.DomainNS, gic.TypeLPI, false)

	require.Equal(t, gic.MakeINTID(gic.TypeLPI, 3), s.HPPI(0, gic.DomainNS).INTID)

	// Same priorities: the lower INTID wins deterministically.
	s.SetPriority(40, 4, gic.DomainNS, gic.TypeSPI, false)
	require.Equal(t, gic.MakeINTID(gic.TypeLPI, 3), s.HPPI(0, gic.DomainNS).INTID)

	// Candidates routed to other CPUs do not show up.
	require.True(t, s.HPPI(9, gic.DomainNS).IsIdle())

	// Disabled candidates do not show up.
	s.SetEnabled(40, false, gic.DomainNS, gic.TypeSPI, false)
	s.SetEnabled(3, false, gic.DomainNS, gic.TypeLPI, false)
	require.True(t, s.HPPI(0, gic.DomainNS).IsIdle())
}
