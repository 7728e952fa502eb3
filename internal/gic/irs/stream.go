package irs

import (
	"github.com/tinyrange/gicv5/internal/gic"
	"github.com/tinyrange/gicv5/internal/tracerec"
)

// Stream protocol implementation. Each command is a synchronous call:
// the emulator serializes all device state, so the asynchronous
// acknowledgement of the real bus collapses to the function return.
// Commands that mutate state finish by asking the target CPU to
// recompute its wake lines.

// checkCommand filters out the cases every command rejects the same way:
// virtual interrupts (unsupported) and interrupt types the IRS does not
// own.
func (s *IRS) checkCommand(op string, t gic.IntType, virt bool) bool {
	if virt {
		gic.GuestErr().Error("gicv5-irs: virtual interrupt not supported", "op", op)
		return false
	}
	if t != gic.TypeLPI && t != gic.TypeSPI {
		gic.GuestErr().Error("gicv5-irs: bad interrupt type",
			"op", op, "type", t.String())
		return false
	}
	return true
}

func (s *IRS) traceCommand(op string, d gic.Domain, t gic.IntType, id uint32, arg uint64) {
	s.rec.InsertData("stream_command", tracerec.StreamCommand{
		Op: op, Domain: d.String(), Type: t.String(), ID: id, Arg: arg,
	})
}

// SetPriority implements gic.Stream.
func (s *IRS) SetPriority(id uint32, prio uint8, d gic.Domain, t gic.IntType, virt bool) {
	if !s.checkCommand("set_priority", t, virt) {
		return
	}
	// Unimplemented low-order priority bits are ignored.
	prio &= gic.PrioMask
	s.traceCommand("set_priority", d, t, id, uint64(prio))

	if t == gic.TypeSPI {
		spi := s.resolveSPI(id, d, "set_priority")
		if spi == nil {
			return
		}
		spi.prio = prio
		s.signalCPU(spi.iaffid)
		return
	}

	h := s.getL2ISTE(d, id)
	if h == nil {
		return
	}
	h.word = gic.L2ISTEPriority.Insert(h.word, uint32(prio))
	s.putL2ISTE(h)
	s.signalCPU(uint16(gic.L2ISTEIAFFID.Get(h.word)))
}

// SetEnabled implements gic.Stream.
func (s *IRS) SetEnabled(id uint32, enabled bool, d gic.Domain, t gic.IntType, virt bool) {
	if !s.checkCommand("set_enabled", t, virt) {
		return
	}
	s.traceCommand("set_enabled", d, t, id, uint64(gic.B32(enabled)))

	if t == gic.TypeSPI {
		spi := s.resolveSPI(id, d, "set_enabled")
		if spi == nil {
			return
		}
		spi.enabled = enabled
		s.signalCPU(spi.iaffid)
		return
	}

	h := s.getL2ISTE(d, id)
	if h == nil {
		return
	}
	h.word = gic.L2ISTEEnable.Insert(h.word, gic.B32(enabled))
	s.putL2ISTE(h)
	s.signalCPU(uint16(gic.L2ISTEIAFFID.Get(h.word)))
}

// SetPending implements gic.Stream.
func (s *IRS) SetPending(id uint32, pending bool, d gic.Domain, t gic.IntType, virt bool) {
	if !s.checkCommand("set_pending", t, virt) {
		return
	}
	s.traceCommand("set_pending", d, t, id, uint64(gic.B32(pending)))

	if t == gic.TypeSPI {
		spi := s.resolveSPI(id, d, "set_pending")
		if spi == nil {
			return
		}
		spi.pending = pending
		s.signalCPU(spi.iaffid)
		return
	}

	h := s.getL2ISTE(d, id)
	if h == nil {
		return
	}
	h.word = gic.L2ISTEPending.Insert(h.word, gic.B32(pending))
	s.putL2ISTE(h)
	s.signalCPU(uint16(gic.L2ISTEIAFFID.Get(h.word)))
}

// SetHandling implements gic.Stream.
func (s *IRS) SetHandling(id uint32, hm gic.HandlingMode, d gic.Domain, t gic.IntType, virt bool) {
	if !s.checkCommand("set_handling", t, virt) {
		return
	}
	s.traceCommand("set_handling", d, t, id, uint64(hm))

	if t == gic.TypeSPI {
		spi := s.resolveSPI(id, d, "set_handling")
		if spi == nil {
			return
		}
		spi.hm = hm
		s.signalCPU(spi.iaffid)
		return
	}

	h := s.getL2ISTE(d, id)
	if h == nil {
		return
	}
	h.word = gic.L2ISTEHM.Insert(h.word, uint32(hm))
	s.putL2ISTE(h)
	s.signalCPU(uint16(gic.L2ISTEIAFFID.Get(h.word)))
}

// SetTarget implements gic.Stream. 1-of-N routing is not implemented:
// it is accepted with a guest error and treated as targeted.
func (s *IRS) SetTarget(id uint32, iaffid uint16, irm gic.RoutingMode, d gic.Domain, t gic.IntType, virt bool) {
	if !s.checkCommand("set_target", t, virt) {
		return
	}
	if irm == gic.Routing1OfN {
		gic.GuestErr().Error("gicv5-irs: 1-of-N routing not supported, treating as targeted",
			"id", id)
		irm = gic.RoutingTargeted
	}
	s.traceCommand("set_target", d, t, id, uint64(iaffid))

	if t == gic.TypeSPI {
		spi := s.resolveSPI(id, d, "set_target")
		if spi == nil {
			return
		}
		old := spi.iaffid
		spi.iaffid = iaffid
		spi.irm = irm
		s.signalCPU(old)
		s.signalCPU(iaffid)
		return
	}

	h := s.getL2ISTE(d, id)
	if h == nil {
		return
	}
	old := uint16(gic.L2ISTEIAFFID.Get(h.word))
	h.word = gic.L2ISTEIAFFID.Insert(h.word, uint32(iaffid))
	h.word = gic.L2ISTEIRM.Insert(h.word, uint32(irm))
	s.putL2ISTE(h)
	s.signalCPU(old)
	s.signalCPU(iaffid)
}

// RequestConfig implements gic.Stream: read the interrupt's state and
// repack it in the ICC_ICSR_EL1 layout. Failures report the F bit only.
func (s *IRS) RequestConfig(id uint32, d gic.Domain, t gic.IntType, virt bool) uint64 {
	if !s.checkCommand("request_config", t, virt) {
		return gic.ICSRFailure
	}
	s.traceCommand("request_config", d, t, id, 0)

	if t == gic.TypeSPI {
		spi := s.resolveSPI(id, d, "request_config")
		if spi == nil {
			return gic.ICSRFailure
		}
		return gic.PackICSR(spi.pending, spi.active, spi.enabled,
			spi.hm, spi.irm, spi.prio, spi.iaffid)
	}

	h := s.getL2ISTE(d, id)
	if h == nil {
		return gic.ICSRFailure
	}
	return gic.PackICSR(
		gic.L2ISTEPending.Get(h.word) != 0,
		gic.L2ISTEActive.Get(h.word) != 0,
		gic.L2ISTEEnable.Get(h.word) != 0,
		gic.HandlingMode(gic.L2ISTEHM.Get(h.word)),
		gic.RoutingMode(gic.L2ISTEIRM.Get(h.word)),
		uint8(gic.L2ISTEPriority.Get(h.word)),
		uint16(gic.L2ISTEIAFFID.Get(h.word)))
}

// Activate implements gic.Stream: mark the interrupt active on
// acknowledge. Edge-handled interrupts also drop their pending state.
func (s *IRS) Activate(id uint32, d gic.Domain, t gic.IntType, virt bool) {
	if !s.checkCommand("activate", t, virt) {
		return
	}
	s.traceCommand("activate", d, t, id, 0)

	if t == gic.TypeSPI {
		spi := s.resolveSPI(id, d, "activate")
		if spi == nil {
			return
		}
		spi.active = true
		if spi.hm == gic.HMEdge {
			spi.pending = false
		}
		s.signalCPU(spi.iaffid)
		return
	}

	h := s.getL2ISTE(d, id)
	if h == nil {
		return
	}
	h.word = gic.L2ISTEActive.Insert(h.word, 1)
	if gic.HandlingMode(gic.L2ISTEHM.Get(h.word)) == gic.HMEdge {
		h.word = gic.L2ISTEPending.Insert(h.word, 0)
	}
	s.putL2ISTE(h)
	s.signalCPU(uint16(gic.L2ISTEIAFFID.Get(h.word)))
}

// Deactivate implements gic.Stream.
func (s *IRS) Deactivate(id uint32, d gic.Domain, t gic.IntType, virt bool) {
	if !s.checkCommand("deactivate", t, virt) {
		return
	}
	s.traceCommand("deactivate", d, t, id, 0)

	if t == gic.TypeSPI {
		spi := s.resolveSPI(id, d, "deactivate")
		if spi == nil {
			return
		}
		spi.active = false
		s.signalCPU(spi.iaffid)
		return
	}

	h := s.getL2ISTE(d, id)
	if h == nil {
		return
	}
	h.word = gic.L2ISTEActive.Insert(h.word, 0)
	s.putL2ISTE(h)
	s.signalCPU(uint16(gic.L2ISTEIAFFID.Get(h.word)))
}

// HPPI implements gic.Stream: the best pending IRS-owned interrupt (SPI
// or LPI) routed to the CPU with the given affinity in the given domain.
// The scan is eager: SPIs come from the state table, LPI candidates can
// only be entries of the pending-LPI cache. Equal priorities resolve to
// the lower INTID so the result is deterministic.
func (s *IRS) HPPI(iaffid uint16, d gic.Domain) gic.PendingIrq {
	best := gic.Idle

	for i := range s.spis {
		spi := &s.spis[i]
		if spi.domain != d || spi.iaffid != iaffid {
			continue
		}
		if !spi.pending || !spi.enabled || spi.active {
			continue
		}
		intid := gic.MakeINTID(gic.TypeSPI, s.cfg.SPIBase+uint32(i))
		if spi.prio < best.Prio || (spi.prio == best.Prio && intid < best.INTID) {
			best = gic.PendingIrq{INTID: intid, Prio: spi.prio}
		}
	}

	s.cache.forEach(d, func(id uint32, e lpiEntry) {
		if gic.L2ISTEEnable.Get(e.word) == 0 || gic.L2ISTEActive.Get(e.word) != 0 {
			return
		}
		if uint16(gic.L2ISTEIAFFID.Get(e.word)) != iaffid {
			return
		}
		prio := uint8(gic.L2ISTEPriority.Get(e.word))
		intid := gic.MakeINTID(gic.TypeLPI, id)
		if prio < best.Prio || (prio == best.Prio && intid < best.INTID) {
			best = gic.PendingIrq{INTID: intid, Prio: prio}
		}
	})

	return best
}

var _ gic.Stream = (*IRS)(nil)
