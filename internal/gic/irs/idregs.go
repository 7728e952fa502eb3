package irs

import (
	"github.com/tinyrange/gicv5/internal/gic"
	"github.com/tinyrange/gicv5/internal/regfield"
)

// Config frame register offsets.
const (
	regIRSIDR0 = 0x000
	regIRSIDR1 = 0x004
	regIRSIDR2 = 0x008
	regIRSIDR3 = 0x00c
	regIRSIDR4 = 0x010
	regIRSIDR5 = 0x014
	regIRSIDR6 = 0x018
	regIRSIDR7 = 0x01c

	regIRSIIDR = 0x040
	regIRSAIDR = 0x044

	regIRSCR0 = 0x080
	regIRSCR1 = 0x084

	regIRSSYNCR       = 0x0c0
	regIRSSYNCSTATUSR = 0x0c4

	regIRSSPISELR      = 0x108
	regIRSSPIDOMAINR   = 0x10c
	regIRSSPIRESAMPLER = 0x110
	regIRSSPICFGR      = 0x114
	regIRSSPISTATUSR   = 0x118

	regIRSPESELR    = 0x140
	regIRSPESTATUSR = 0x144

	regIRSISTBASER   = 0x180
	regIRSISTCFGR    = 0x190
	regIRSISTSTATUSR = 0x194

	regIRSMAPL2ISTR = 0x1c0

	regIRSDEVARCH = 0xffbc
	regIRSIDREGS  = 0xffd0
)

// IRS_IDR0 fields.
var (
	idr0IntDom  = regfield.F32(0, 2)
	idr0PARange = regfield.F32(2, 5)
	idr0Virt    = regfield.Bit32(6)
	idr0OneN    = regfield.Bit32(7)
	idr0SetLPI  = regfield.Bit32(9)
	idr0MEC     = regfield.Bit32(10)
	idr0MPAM    = regfield.Bit32(11)
	idr0SWE     = regfield.Bit32(12)
	idr0IRSID   = regfield.F32(16, 16)
)

// IRS_IDR1 fields.
var (
	idr1PECnt      = regfield.F32(0, 16)
	idr1IAFFIDBits = regfield.F32(16, 4)
	idr1PriBits    = regfield.F32(20, 3)
)

// IRS_IDR2 fields.
var (
	idr2IDBits       = regfield.F32(0, 5)
	idr2LPI          = regfield.Bit32(5)
	idr2MinLPIIDBits = regfield.F32(6, 4)
	idr2ISTLevels    = regfield.Bit32(10)
	idr2ISTL2SZ      = regfield.F32(11, 3)
)

// IRS_IDR5..7 fields.
var (
	idr5SPIRange    = regfield.F32(0, 25)
	idr6SPIIRSRange = regfield.F32(0, 25)
	idr7SPIBase     = regfield.F32(0, 24)
)

// IRS_IIDR fields.
var (
	iidrImplementer = regfield.F32(0, 12)
	iidrRevision    = regfield.F32(12, 4)
	iidrVariant     = regfield.F32(16, 4)
	iidrProductID   = regfield.F32(20, 12)
)

// IRS_CR0 fields.
var (
	cr0EN   = regfield.Bit32(0)
	cr0Idle = regfield.Bit32(1)
)

// IRS_SPI_STATUSR / IRS_PE_STATUSR fields.
var (
	statusrIdle = regfield.Bit32(0)
	statusrV    = regfield.Bit32(1)
)

// IRS_IST_BASER fields.
var (
	istBaserValid = regfield.Bit64(0)
	istBaserAddr  = regfield.F64(6, 50)
)

// IRS_IST_CFGR fields.
var (
	istCfgrLPIIDBits = regfield.F32(0, 5)
	istCfgrL2SZ      = regfield.F32(5, 2)
	istCfgrISTSZ     = regfield.F32(7, 2)
	istCfgrStructure = regfield.Bit32(16)
)

// IRS_SPI_DOMAINR field.
var spiDomainrDomain = regfield.F32(0, 2)

// Implementation identification reported through IRS_IIDR.
const (
	irsImplementer = 0x43b // Arm JEP106 code, as a software model of an Arm part
	irsRevision    = 0
	irsVariant     = 0
	irsProductID   = 0x5
)

// irsDevArch is the CoreSight IRS_DEVARCH value: Arm as architect,
// DEVARCH present, GICv5 architecture ID.
const irsDevArch = 0x23b<<21 | 1<<20 | 0x0075

// irsIDRegs are the CoreSight identification registers from 0xffd0 to
// 0xffff: PIDR4..7, PIDR0..3, CIDR0..3.
var irsIDRegs = [12]uint32{
	0x44, 0x00, 0x00, 0x00, // PIDR4..PIDR7
	0x92, 0xb4, 0x3b, 0x00, // PIDR0..PIDR3
	0x0d, 0xf0, 0x05, 0xb1, // CIDR0..CIDR3
}

// idr0 builds the IRS_IDR0 value as seen through a frame. INT_DOM
// reports the domain the frame belongs to; VIRT is forced to zero in the
// EL3 frame and MEC is only visible through the Realm frame.
func (s *IRS) idr0(d gic.Domain) uint32 {
	var v uint32
	// 56 bits of physical address space; none of the optional
	// features are implemented, so VIRT/ONE_N/SETLPI/MEC/MPAM/SWE
	// stay zero.
	v = idr0PARange.Insert(v, 7)
	v = idr0IRSID.Insert(v, uint32(s.cfg.IRSID))
	v = idr0IntDom.Insert(v, uint32(d))
	if d != gic.DomainRealm {
		v &^= idr0MEC.Mask()
	}
	if d == gic.DomainEL3 {
		v &^= idr0Virt.Mask()
	}
	return v
}

func (s *IRS) idr1() uint32 {
	var v uint32
	v = idr1PECnt.Insert(v, uint32(len(s.cpus)))
	v = idr1IAFFIDBits.Insert(v, gic.IAFFIDBits-1)
	v = idr1PriBits.Insert(v, gic.PriBits-1)
	return v
}

func (s *IRS) idr2() uint32 {
	var v uint32
	// Physical LPIs with 1- and 2-level ISTs of all sizes.
	v = idr2IDBits.Insert(v, gic.IDBits)
	v = idr2LPI.Insert(v, 1)
	v = idr2MinLPIIDBits.Insert(v, gic.MinLPIIDBits)
	v = idr2ISTLevels.Insert(v, 1)
	v = idr2ISTL2SZ.Insert(v, 7)
	return v
}

func (s *IRS) iidr() uint32 {
	var v uint32
	v = iidrImplementer.Insert(v, irsImplementer)
	v = iidrRevision.Insert(v, irsRevision)
	v = iidrVariant.Insert(v, irsVariant)
	v = iidrProductID.Insert(v, irsProductID)
	return v
}
