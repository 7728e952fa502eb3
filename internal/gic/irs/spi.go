package irs

import (
	"github.com/tinyrange/gicv5/internal/gic"
	"github.com/tinyrange/gicv5/internal/tracerec"
)

// spiState is the per-SPI record for SPIs managed by this IRS.
type spiState struct {
	domain gic.Domain
	iaffid uint16
	prio   uint8

	level   bool
	pending bool
	active  bool
	enabled bool

	tm  gic.TriggerMode
	hm  gic.HandlingMode
	irm gic.RoutingMode
}

// spiByID resolves an SPI ID to its record, with no domain check.
// Returns nil if the ID is outside the range this IRS manages.
func (s *IRS) spiByID(id uint32) *spiState {
	if id < s.cfg.SPIBase || id >= s.cfg.SPIBase+s.cfg.SPIIRSRange {
		return nil
	}
	return &s.spis[id-s.cfg.SPIBase]
}

// resolveSPI resolves an SPI ID for an operation issued in the given
// domain. Unreachable SPIs (out of range or assigned to another domain)
// log a guest error and resolve to nil.
func (s *IRS) resolveSPI(id uint32, d gic.Domain, op string) *spiState {
	spi := s.spiByID(id)
	if spi == nil || spi.domain != d {
		gic.GuestErr().Error("gicv5-irs: unreachable SPI",
			"op", op, "domain", d.String(), "id", id)
		return nil
	}
	return spi
}

// SetWire is the wire-level SPI input: id is the absolute SPI ID.
// Implements chipset.InterruptSink for the board's SPI lines.
func (s *IRS) SetWire(id uint32, level bool) {
	spi := s.spiByID(id)
	if spi == nil {
		gic.GuestErr().Error("gicv5-irs: SPI wire out of range", "id", id)
		return
	}
	if spi.level == level {
		return
	}
	spi.level = level
	s.rec.InsertData("spi_edge", tracerec.SPIEdge{ID: id, Level: level})
	s.spiSample(spi)
	s.signalCPU(spi.iaffid)
}

// spiSample recomputes the pending state of an SPI from its current wire
// level and trigger mode.
func (s *IRS) spiSample(spi *spiState) {
	if spi.level {
		spi.pending = true
		if spi.tm == gic.TriggerEdge {
			spi.hm = gic.HMEdge
		} else {
			spi.hm = gic.HMLevel
		}
	} else if spi.tm == gic.TriggerLevel {
		spi.pending = false
	}
}

// spiSetTriggerMode applies an IRS_SPI_CFGR trigger mode change.
func (s *IRS) spiSetTriggerMode(spi *spiState, tm gic.TriggerMode) {
	if spi.tm == tm {
		return
	}
	spi.tm = tm
	switch tm {
	case gic.TriggerLevel:
		if spi.level {
			spi.pending = true
			spi.hm = gic.HMLevel
		} else {
			spi.pending = false
		}
	case gic.TriggerEdge:
		if spi.level {
			spi.pending = false
		}
	}
	s.signalCPU(spi.iaffid)
}

// spiResample handles IRS_SPI_RESAMPLER: re-derive pending from the
// current wire level.
func (s *IRS) spiResample(id uint32, d gic.Domain) {
	spi := s.resolveSPI(id, d, "spi_resample")
	if spi == nil {
		return
	}
	s.spiSample(spi)
	s.signalCPU(spi.iaffid)
}
