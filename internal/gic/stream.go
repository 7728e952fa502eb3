package gic

// Stream is the command interface from a CPU interface into the IRS,
// loosely modelled on the GICv5 Stream Protocol. The real protocol is an
// asynchronous bus; because the emulator serializes all device state, the
// acknowledgement semantics collapse to a function return. Keeping the
// command set intact as an interface leaves room for an asynchronous
// backend later.
//
// Every command carries a virtual-interrupt flag; only virt=false is
// supported, anything else logs a guest error and has no effect.
type Stream interface {
	SetPriority(id uint32, prio uint8, d Domain, t IntType, virt bool)
	SetEnabled(id uint32, enabled bool, d Domain, t IntType, virt bool)
	SetPending(id uint32, pending bool, d Domain, t IntType, virt bool)
	SetHandling(id uint32, hm HandlingMode, d Domain, t IntType, virt bool)
	SetTarget(id uint32, iaffid uint16, irm RoutingMode, d Domain, t IntType, virt bool)

	// RequestConfig reads the interrupt's state and repacks it in the
	// ICC_ICSR_EL1 layout. On failure only the F bit is set.
	RequestConfig(id uint32, d Domain, t IntType, virt bool) uint64

	Activate(id uint32, d Domain, t IntType, virt bool)
	Deactivate(id uint32, d Domain, t IntType, virt bool)

	// HPPI returns the best pending IRS-owned interrupt (SPI or LPI)
	// routed to the CPU with the given affinity ID in the given domain.
	HPPI(iaffid uint16, d Domain) PendingIrq
}

// Waker is the back-edge from the IRS to a CPU interface: after a state
// change that may affect the CPU's highest priority pending interrupt,
// the IRS asks the CPU to recompute its wake lines.
type Waker interface {
	IAFFID() uint16
	UpdateWake()
}
