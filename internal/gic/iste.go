package gic

import "github.com/tinyrange/gicv5/internal/regfield"

// L1 ISTE layout: a 64-bit entry in the first level of a 2-level
// interrupt state table.
var (
	L1ISTEValid  = regfield.Bit64(0)
	L1ISTEL2Addr = regfield.F64(12, 44)
)

// L2 ISTE layout: the 32-bit per-LPI state word.
var (
	L2ISTEPending  = regfield.Bit32(0)
	L2ISTEActive   = regfield.Bit32(1)
	L2ISTEHM       = regfield.Bit32(2)
	L2ISTEEnable   = regfield.Bit32(3)
	L2ISTEIRM      = regfield.Bit32(4)
	L2ISTEHWU      = regfield.F32(9, 2)
	L2ISTEPriority = regfield.F32(11, 5)
	L2ISTEIAFFID   = regfield.F32(16, 16)
)

// ICC_ICSR_EL1 layout: the packed interrupt configuration returned by a
// GIC CDRCFG request. On failure only the F bit is set.
var (
	IcsrF        = regfield.Bit64(0)
	IcsrHM       = regfield.Bit64(1)
	IcsrActive   = regfield.Bit64(2)
	IcsrIRM      = regfield.Bit64(3)
	IcsrPending  = regfield.Bit64(4)
	IcsrEnabled  = regfield.Bit64(5)
	IcsrPriority = regfield.F64(8, 5)
	IcsrIAFFID   = regfield.F64(32, 16)
)

// PackICSR builds an ICC_ICSR_EL1 value from interrupt state.
func PackICSR(pending, active, enabled bool, hm HandlingMode, irm RoutingMode, prio uint8, iaffid uint16) uint64 {
	var v uint64
	v = IcsrPending.Insert(v, b64(pending))
	v = IcsrActive.Insert(v, b64(active))
	v = IcsrEnabled.Insert(v, b64(enabled))
	v = IcsrHM.Insert(v, uint64(hm))
	v = IcsrIRM.Insert(v, uint64(irm))
	v = IcsrPriority.Insert(v, uint64(prio))
	v = IcsrIAFFID.Insert(v, uint64(iaffid))
	return v
}

// ICSRFailure is the value reported when the interrupt configuration
// could not be read.
const ICSRFailure = uint64(1) // F bit only

func b64(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

// B32 converts a bool to a 0/1 register field value.
func B32(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}
