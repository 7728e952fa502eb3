// Package gic holds the types shared between the GICv5 Interrupt Routing
// Service and the per-CPU interface: interrupt domains, INTID packing,
// trigger/handling modes, the interrupt state table entry layouts and the
// stream protocol interface the two sides talk through.
package gic

import "github.com/tinyrange/gicv5/internal/regfield"

// Domain is one of the four physical GICv5 interrupt domains. The
// numbering must match the encoding used in IRS_IDR0.INT_DOM.
type Domain uint8

const (
	DomainS     Domain = 0
	DomainNS    Domain = 1
	DomainEL3   Domain = 2
	DomainRealm Domain = 3

	NumDomains = 4
)

func (d Domain) String() string {
	switch d {
	case DomainS:
		return "Secure"
	case DomainNS:
		return "NonSecure"
	case DomainEL3:
		return "EL3"
	case DomainRealm:
		return "Realm"
	}
	return "Unknown"
}

// DomainMask is a bitmask of implemented interrupt domains.
type DomainMask uint8

// Has reports whether the domain is part of the mask.
func (m DomainMask) Has(d Domain) bool {
	return m&(1<<d) != 0
}

// MaskOf builds a DomainMask from a list of domains.
func MaskOf(domains ...Domain) DomainMask {
	var m DomainMask
	for _, d := range domains {
		m |= 1 << d
	}
	return m
}

// MostPrivileged returns the most privileged domain in the mask. EL3
// outranks Secure and Realm, which outrank NonSecure.
func (m DomainMask) MostPrivileged() Domain {
	for _, d := range []Domain{DomainEL3, DomainS, DomainRealm, DomainNS} {
		if m.Has(d) {
			return d
		}
	}
	return DomainNS
}

// IntType is the interrupt type. The values match the 3-bit encoding used
// in the top bits of a 32-bit INTID.
type IntType uint8

const (
	TypePPI IntType = 1
	TypeLPI IntType = 2
	TypeSPI IntType = 3
)

func (t IntType) String() string {
	// The value can come straight from a guest register field, so be
	// careful about out-of-range encodings.
	switch t {
	case TypePPI:
		return "PPI"
	case TypeLPI:
		return "LPI"
	case TypeSPI:
		return "SPI"
	}
	return "RESERVED"
}

// TriggerMode tells the IRS what kinds of changes to an SPI input wire
// generate SET and CLEAR events. Same encoding as IRS_SPI_CFGR.TM.
type TriggerMode uint8

const (
	TriggerEdge  TriggerMode = 0
	TriggerLevel TriggerMode = 1
)

// HandlingMode controls whether the pending state of an interrupt is
// cleared when it is acknowledged. Same encoding as L2_ISTE.HM. Note this
// is not the same thing as TriggerMode even though the states share names.
type HandlingMode uint8

const (
	HMEdge  HandlingMode = 0
	HMLevel HandlingMode = 1
)

// RoutingMode selects targeted or 1-of-N delivery. Same encoding as
// L2_ISTE.IRM. 1-of-N is optional and this implementation does not
// support it.
type RoutingMode uint8

const (
	RoutingTargeted RoutingMode = 0
	Routing1OfN     RoutingMode = 1
)

// PrioIdle is the sentinel priority meaning "no candidate". Lower numeric
// values are higher priority; priority 0 is superpriority (NMI).
const PrioIdle = 0xff

// Implementation parameters reported through the IRS ID registers.
const (
	PriBits      = 5  // implemented priority bits
	IDBits       = 24 // max LPI ID bits
	MinLPIIDBits = 14 // minimum configurable LPI ID bits
	IAFFIDBits   = 16 // interrupt affinity ID bits
)

// PrioMask is the mask of implemented priority bits. Unimplemented
// low-order bits must be ignored on writes.
const PrioMask = byte((1<<PriBits - 1) << (5 - PriBits))

// Fields of a generic 32-bit INTID: the low 24 bits carry the ID and the
// top three bits carry the interrupt type.
var (
	IntidID   = regfield.F32(0, 24)
	IntidType = regfield.F32(29, 3)
)

// HPPIV is the valid bit set on a 64-bit acknowledge result alongside the
// 32-bit INTID.
const HPPIV = uint64(1) << 32

// MakeINTID packs a type and ID into a 32-bit INTID.
func MakeINTID(t IntType, id uint32) uint32 {
	v := IntidID.Insert(0, id)
	return IntidType.Insert(v, uint32(t))
}

// SplitINTID unpacks a 32-bit INTID into its type and ID.
func SplitINTID(intid uint32) (IntType, uint32) {
	return IntType(IntidType.Get(intid)), IntidID.Get(intid)
}

// PendingIrq is a candidate highest priority pending interrupt. The intid
// includes the interrupt type in its top bits. There is no separate NMI
// flag: superpriority is signalled by Prio == 0.
type PendingIrq struct {
	INTID uint32
	Prio  uint8
}

// Idle is the "no candidate" result.
var Idle = PendingIrq{INTID: 0, Prio: PrioIdle}

// IsIdle reports whether the candidate is the idle sentinel.
func (p PendingIrq) IsIdle() bool { return p.Prio == PrioIdle }

// Better reports whether p beats q. Ties go to p, so callers should pass
// the preferred candidate as the receiver.
func (p PendingIrq) Better(q PendingIrq) bool { return p.Prio <= q.Prio }

// Architected PPI numbers.
const (
	PPISecureDoorbell = 0
	PPIRealmDoorbell  = 1
	PPINSDoorbell     = 2
	PPISW             = 3
	PPIHACDBSIRQ      = 15
	PPICNTHVS         = 19
	PPICNTHPS         = 20
	PPIPMBIRQ         = 21
	PPICOMMIRQ        = 22
	PPIPMUIRQ         = 23
	PPICTIIRQ         = 24
	PPIGICMNT         = 25
	PPICNTHP          = 26
	PPICNTV           = 27
	PPICNTHV          = 28
	PPICNTPS          = 29
	PPICNTP           = 30
	PPITRBIRQ         = 31

	// NumPPIs is the number of PPIs per CPU: two 64-bit banks.
	NumPPIs = 128
)
