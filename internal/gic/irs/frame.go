package irs

import (
	"encoding/binary"

	"github.com/tinyrange/gicv5/internal/chipset"
	"github.com/tinyrange/gicv5/internal/gic"
	"github.com/tinyrange/gicv5/internal/hv"
	"github.com/tinyrange/gicv5/internal/regfield"
	"github.com/tinyrange/gicv5/internal/tracerec"
)

// Frames exposes the per-domain 64 KiB config frames of an IRS as one
// chipset device. Only implemented domains get an MMIO region; a frame
// for an unimplemented domain is simply not mapped, so accesses to it
// decode-fault at the chipset level.
type Frames struct {
	s     *IRS
	bases [gic.NumDomains]uint64
}

// NewFrames builds the MMIO frontend for an IRS. bases holds the frame
// base address per domain; entries for unimplemented domains are
// ignored.
func NewFrames(s *IRS, bases [gic.NumDomains]uint64) *Frames {
	return &Frames{s: s, bases: bases}
}

// Start implements chipset.ChangeDeviceState.
func (f *Frames) Start() error { return nil }

// Stop implements chipset.ChangeDeviceState.
func (f *Frames) Stop() error { return nil }

// Reset implements chipset.ChangeDeviceState.
func (f *Frames) Reset() error {
	f.s.Reset()
	return nil
}

// SupportsMmio implements chipset.ChipsetDevice.
func (f *Frames) SupportsMmio() *chipset.MmioIntercept {
	var regions []hv.MMIORegion
	for d := gic.Domain(0); d < gic.NumDomains; d++ {
		if f.s.DomainImplemented(d) {
			regions = append(regions, hv.MMIORegion{
				Address: f.bases[d],
				Size:    ConfigFrameSize,
			})
		}
	}
	return &chipset.MmioIntercept{Regions: regions, Handler: f}
}

func (f *Frames) domainFor(addr uint64) (gic.Domain, bool) {
	for d := gic.Domain(0); d < gic.NumDomains; d++ {
		if !f.s.DomainImplemented(d) {
			continue
		}
		if addr >= f.bases[d] && addr < f.bases[d]+ConfigFrameSize {
			return d, true
		}
	}
	return 0, false
}

// ReadMMIO implements chipset.MmioHandler.
func (f *Frames) ReadMMIO(addr uint64, data []byte) error {
	d, ok := f.domainFor(addr)
	if !ok {
		return errUnmappedFrame(addr)
	}
	offset := addr - f.bases[d]

	var value uint64
	handled := false
	switch len(data) {
	case 4:
		var v32 uint32
		v32, handled = f.s.configRead32(d, offset)
		value = uint64(v32)
	case 8:
		value, handled = f.s.configRead64(d, offset)
	}

	if !handled {
		// Reserved registers are RAZ/WI: log the guest error but
		// complete the bus transaction so there is no spurious data
		// abort.
		gic.GuestErr().Error("gicv5-irs: invalid config frame read",
			"domain", d.String(), "offset", offset, "size", len(data))
		value = 0
	}
	f.s.rec.InsertData("reg_access", tracerec.RegAccess{
		Domain: d.String(), Offset: offset, Value: value,
		Size: len(data), Write: false, Bad: !handled,
	})

	switch len(data) {
	case 4:
		binary.LittleEndian.PutUint32(data, uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(data, value)
	default:
		for i := range data {
			data[i] = 0
		}
	}
	return nil
}

// WriteMMIO implements chipset.MmioHandler.
func (f *Frames) WriteMMIO(addr uint64, data []byte) error {
	d, ok := f.domainFor(addr)
	if !ok {
		return errUnmappedFrame(addr)
	}
	offset := addr - f.bases[d]

	var value uint64
	handled := false
	switch len(data) {
	case 4:
		value = uint64(binary.LittleEndian.Uint32(data))
		handled = f.s.configWrite32(d, offset, uint32(value))
	case 8:
		value = binary.LittleEndian.Uint64(data)
		handled = f.s.configWrite64(d, offset, value)
	}

	if !handled {
		gic.GuestErr().Error("gicv5-irs: invalid config frame write",
			"domain", d.String(), "offset", offset, "size", len(data))
	}
	f.s.rec.InsertData("reg_access", tracerec.RegAccess{
		Domain: d.String(), Offset: offset, Value: value,
		Size: len(data), Write: true, Bad: !handled,
	})
	return nil
}

func errUnmappedFrame(addr uint64) error {
	return &unmappedFrameError{addr: addr}
}

type unmappedFrameError struct {
	addr uint64
}

func (e *unmappedFrameError) Error() string {
	return "gicv5-irs: access to unmapped config frame"
}

// configRead32 decodes a 32-bit config frame read. The bool result is
// false for reserved or write-only registers.
func (s *IRS) configRead32(d gic.Domain, offset uint64) (uint32, bool) {
	switch offset {
	case regIRSIDR0:
		return s.idr0(d), true
	case regIRSIDR1:
		return s.idr1(), true
	case regIRSIDR2:
		return s.idr2(), true
	case regIRSIDR3, regIRSIDR4:
		// Virtualization is not implemented, so these are zero.
		return 0, true
	case regIRSIDR5:
		return idr5SPIRange.Insert(0, s.cfg.SPIRange), true
	case regIRSIDR6:
		return idr6SPIIRSRange.Insert(0, s.cfg.SPIIRSRange), true
	case regIRSIDR7:
		return idr7SPIBase.Insert(0, s.cfg.SPIBase), true

	case regIRSIIDR:
		return s.iidr(), true
	case regIRSAIDR:
		// GICv5.0: all fields zero.
		return 0, true

	case regIRSCR0:
		// Writes take effect synchronously, so IDLE always reads 1.
		return cr0Idle.Insert(s.cr0[d], 1), true
	case regIRSCR1:
		return s.cr1[d], true

	case regIRSSYNCSTATUSR:
		return statusrIdle.Insert(0, 1), true

	case regIRSSPISELR:
		return s.spiSelr[d], true
	case regIRSSPIDOMAINR:
		if d != gic.DomainEL3 {
			return 0, false
		}
		spi := s.spiByID(s.spiSelr[d])
		if spi == nil {
			return 0, true
		}
		return spiDomainrDomain.Insert(0, uint32(spi.domain)), true
	case regIRSSPICFGR:
		spi := s.spiByID(s.spiSelr[d])
		if spi == nil || spi.domain != d {
			return 0, true
		}
		return uint32(spi.tm), true
	case regIRSSPISTATUSR:
		v := statusrIdle.Insert(0, 1)
		if spi := s.spiByID(s.spiSelr[d]); spi != nil && spi.domain == d {
			v = statusrV.Insert(v, 1)
		}
		return v, true

	case regIRSPESELR:
		return s.peSelr[d], true
	case regIRSPESTATUSR:
		v := statusrIdle.Insert(0, 1)
		if s.cpuByIAFFID(uint16(s.peSelr[d])) != nil {
			v = statusrV.Insert(v, 1)
		}
		return v, true

	case regIRSISTBASER:
		return uint32(s.istBaser[d]), true
	case regIRSISTBASER + 4:
		return uint32(s.istBaser[d] >> 32), true
	case regIRSISTCFGR:
		return s.istCfgr[d], true
	case regIRSISTSTATUSR:
		// IST_BASER and MAP_L2_ISTR writes take effect instantly, so
		// the guest can never observe IDLE as 0.
		return statusrIdle.Insert(0, 1), true

	case regIRSDEVARCH:
		return irsDevArch, true
	}

	if offset >= regIRSIDREGS && offset < regIRSIDREGS+uint64(len(irsIDRegs))*4 && offset%4 == 0 {
		return irsIDRegs[(offset-regIRSIDREGS)/4], true
	}

	return 0, false
}

// configWrite32 decodes a 32-bit config frame write.
func (s *IRS) configWrite32(d gic.Domain, offset uint64, value uint32) bool {
	switch offset {
	case regIRSCR0:
		s.cr0[d] = cr0EN.Insert(0, cr0EN.Get(value))
		return true
	case regIRSCR1:
		// Cacheability and shareability hints: stored, unused.
		s.cr1[d] = value
		return true

	case regIRSSYNCR:
		// All effects are synchronous; SYNC is a no-op.
		return true

	case regIRSSPISELR:
		s.spiSelr[d] = gic.IntidID.Get(value)
		return true
	case regIRSSPIDOMAINR:
		if d != gic.DomainEL3 {
			return false
		}
		spi := s.spiByID(s.spiSelr[d])
		if spi == nil {
			gic.GuestErr().Error("gicv5-irs: SPI_DOMAINR write with unreachable SPI selected",
				"id", s.spiSelr[d])
			return true
		}
		target := gic.Domain(spiDomainrDomain.Get(value))
		if !s.cfg.Domains.Has(target) {
			gic.GuestErr().Error("gicv5-irs: SPI_DOMAINR write with unimplemented domain",
				"id", s.spiSelr[d], "target", target.String())
			return true
		}
		spi.domain = target
		s.signalCPU(spi.iaffid)
		return true
	case regIRSSPIRESAMPLER:
		s.spiResample(gic.IntidID.Get(value), d)
		return true
	case regIRSSPICFGR:
		spi := s.resolveSPI(s.spiSelr[d], d, "spi_cfgr")
		if spi == nil {
			return true
		}
		s.spiSetTriggerMode(spi, gic.TriggerMode(value&1))
		return true

	case regIRSPESELR:
		s.peSelr[d] = value & (1<<gic.IAFFIDBits - 1)
		return true

	case regIRSISTBASER:
		s.istBaserWrite(d, regfield.Deposit64(s.istBaser[d], 0, 32, uint64(value)))
		return true
	case regIRSISTBASER + 4:
		s.istBaserWrite(d, regfield.Deposit64(s.istBaser[d], 32, 32, uint64(value)))
		return true
	case regIRSISTCFGR:
		if istBaserValid.Get(s.istBaser[d]) != 0 {
			gic.GuestErr().Error("gicv5-irs: IST_CFGR write while IST_BASER.VALID set",
				"domain", d.String())
		} else {
			s.istCfgr[d] = value
		}
		return true

	case regIRSMAPL2ISTR:
		s.mapL2IST(d, gic.IntidID.Get(value))
		return true
	}

	return false
}

// configRead64 decodes a 64-bit config frame read.
func (s *IRS) configRead64(d gic.Domain, offset uint64) (uint64, bool) {
	switch offset {
	case regIRSISTBASER:
		return s.istBaser[d], true
	}
	return 0, false
}

// configWrite64 decodes a 64-bit config frame write.
func (s *IRS) configWrite64(d gic.Domain, offset uint64, value uint64) bool {
	switch offset {
	case regIRSISTBASER:
		s.istBaserWrite(d, value)
		return true
	}
	return false
}

// istBaserWrite handles the VALID state machine of IRS_IST_BASER. While
// VALID is set ADDR is read-only and only a 1->0 transition is accepted;
// that transition flushes the pending-LPI cache and invalidates the
// captured configuration. A 0->1 transition captures the current
// IST_CFGR into the config struct, sanitizing reserved encodings.
func (s *IRS) istBaserWrite(d gic.Domain, value uint64) {
	if istBaserValid.Get(s.istBaser[d]) != 0 {
		if istBaserValid.Get(value) != 0 {
			// 1->1 transition: ignore.
			return
		}
		s.flushLPICache(d)
		s.istBaser[d] = istBaserValid.Insert(s.istBaser[d], 0)
		s.istCfg[d] = istConfig{}
		return
	}

	s.istBaser[d] = value

	if istBaserValid.Get(value) == 0 {
		return
	}

	cfg := &s.istCfg[d]

	idBits := uint8(istCfgrLPIIDBits.Get(s.istCfgr[d]))
	if idBits < gic.MinLPIIDBits {
		idBits = gic.MinLPIIDBits
	}
	if idBits > gic.IDBits {
		idBits = gic.IDBits
	}

	var istBits uint8
	switch istCfgrISTSZ.Get(s.istCfgr[d]) {
	case 1:
		istBits = 3
	case 2:
		istBits = 4
	case 0:
		istBits = 2
	default:
		// Reserved: acts like the minimum required size.
		gic.GuestErr().Error("gicv5-irs: reserved ISTSZ encoding",
			"domain", d.String())
		istBits = 2
	}

	var l2Bits uint8
	switch istCfgrL2SZ.Get(s.istCfgr[d]) {
	case 1:
		l2Bits = 14 // 16K
	case 2:
		l2Bits = 16 // 64K
	case 0:
		l2Bits = 12 // 4K
	default:
		// Reserved: CONSTRAINED UNPREDICTABLE, act like 4K.
		gic.GuestErr().Error("gicv5-irs: reserved L2SZ encoding",
			"domain", d.String())
		l2Bits = 12
	}

	cfg.base = s.istBaser[d] & istBaserAddr.Mask()
	cfg.attrs = gic.TxAttrs(s.cfg.Domains, d)
	cfg.idBits = idBits
	cfg.istsz = 1 << istBits
	// If we need l2Bits bits to index each byte of an L2 page and each
	// entry is istsz bytes, an ID needs l2Bits-istBits bits to index an
	// entry.
	cfg.l2IdxBits = l2Bits - istBits
	cfg.structure = istCfgrStructure.Get(s.istCfgr[d]) != 0
	cfg.valid = true
}

var (
	_ chipset.ChipsetDevice = (*Frames)(nil)
	_ chipset.MmioHandler   = (*Frames)(nil)
	_ chipset.InterruptSink = (*IRS)(nil)
)
