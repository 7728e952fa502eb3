package gic

// MemTxAttrs tags a guest memory transaction with the security attributes
// of the interrupt domain it is issued on behalf of.
type MemTxAttrs struct {
	Space  Domain
	Secure bool
}

// TxAttrs returns the MemTxAttrs to use for IRS memory accesses in the
// given domain. IRS_CR1 carries the usual Arm cacheability and
// shareability attributes but an emulator only needs the security
// attributes, which depend on the interrupt domain. The Domain encoding
// matches the architectural security-space encoding, with one exception:
// the EL3 domain must issue Secure rather than Root accesses when the
// Realm domain is not implemented.
func TxAttrs(implemented DomainMask, d Domain) MemTxAttrs {
	if d == DomainEL3 && !implemented.Has(DomainRealm) {
		d = DomainS
	}
	return MemTxAttrs{
		Space:  d,
		Secure: d == DomainS || d == DomainEL3,
	}
}
