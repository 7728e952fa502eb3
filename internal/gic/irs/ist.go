package irs

import (
	"github.com/tinyrange/gicv5/internal/gic"
	"github.com/tinyrange/gicv5/internal/regfield"
)

// istConfig is the captured interrupt state table configuration for one
// domain. It is filled in when the guest sets IRS_IST_BASER.VALID and is
// immutable until VALID is cleared again.
type istConfig struct {
	valid bool

	base uint64

	// structure is true for a 2-level table, false for 1-level.
	structure bool

	idBits uint8

	// istsz is the size of one L2 entry in bytes (4, 8 or 16).
	istsz uint8

	// l2IdxBits is how many low-order ID bits index the L2 table.
	l2IdxBits uint8

	attrs gic.MemTxAttrs
}

// l2Handle is a mutable view of one L2 ISTE word, returned by getL2ISTE.
// The caller may modify word and must then commit with putL2ISTE; a
// read-only caller can drop the handle. cached records where the word
// came from, which is what makes the cache-versus-memory writeback
// discipline enforceable.
type l2Handle struct {
	domain gic.Domain
	id     uint32
	addr   uint64
	word   uint32
	cached bool
}

func l1ISTEAddr(cfg *istConfig, id uint32) uint64 {
	// In a 2-level configuration the bottom l2IdxBits of the ID index
	// the L2 table and the higher bits index the L1 table.
	l1Index := id >> cfg.l2IdxBits
	return cfg.base + uint64(l1Index)*8
}

// getL2ISTEAddr locates the L2 ISTE for the interrupt in guest memory.
func (s *IRS) getL2ISTEAddr(d gic.Domain, cfg *istConfig, id uint32) (uint64, bool) {
	if !cfg.valid {
		return 0, false
	}
	if id >= 1<<cfg.idBits {
		return 0, false
	}

	var l2Base uint64
	if cfg.structure {
		l1Addr := l1ISTEAddr(cfg, id)
		l1ISTE, ok := s.dmaRead64(l1Addr, cfg.attrs)
		if !ok {
			// Reportable with EC=0x01 if software error reporting
			// were implemented.
			gic.GuestErr().Error("gicv5-irs: L1 ISTE lookup failed",
				"domain", d.String(), "id", id, "addr", l1Addr)
			return 0, false
		}
		if gic.L1ISTEValid.Get(l1ISTE) == 0 {
			return 0, false
		}
		l2Base = l1ISTE & gic.L1ISTEL2Addr.Mask()
		id = uint32(regfield.Extract64(uint64(id), 0, cfg.l2IdxBits))
	} else {
		l2Base = cfg.base
	}

	return l2Base + uint64(id)*uint64(cfg.istsz), true
}

// getL2ISTE finds the L2 ISTE word for the interrupt, consulting the
// pending-LPI cache first. Returns nil if the domain has no valid IST
// configuration, the ID is out of range, the L1 entry is invalid or
// guest memory failed.
func (s *IRS) getL2ISTE(d gic.Domain, id uint32) *l2Handle {
	cfg := &s.istCfg[d]
	if !cfg.valid {
		return nil
	}

	if e, ok := s.cache.lookup(d, id); ok {
		return &l2Handle{domain: d, id: id, addr: e.addr, word: e.word, cached: true}
	}

	addr, ok := s.getL2ISTEAddr(d, cfg, id)
	if !ok {
		return nil
	}

	word, ok := s.dmaRead32(addr, cfg.attrs)
	if !ok {
		// Reportable with EC=0x02 if software error reporting were
		// implemented.
		gic.GuestErr().Error("gicv5-irs: L2 ISTE read failed",
			"domain", d.String(), "id", id, "addr", addr)
		return nil
	}

	return &l2Handle{domain: d, id: id, addr: addr, word: word}
}

// putL2ISTE commits a modified L2 ISTE word. A word that stops being
// pending leaves the cache and goes back to guest memory; a word that
// becomes pending enters the cache with the writeback deferred until
// eviction; anything else goes straight to guest memory (or updates the
// cached copy in place).
func (s *IRS) putL2ISTE(h *l2Handle) {
	cfg := &s.istCfg[h.domain]
	pending := gic.L2ISTEPending.Get(h.word) != 0

	switch {
	case h.cached && !pending:
		s.cache.remove(h.domain, h.id)
		s.writeL2ISTE(h, cfg)
	case h.cached:
		s.cache.insert(h.domain, h.id, lpiEntry{word: h.word, addr: h.addr})
	case pending:
		s.cache.insert(h.domain, h.id, lpiEntry{word: h.word, addr: h.addr})
	default:
		s.writeL2ISTE(h, cfg)
	}
}

func (s *IRS) writeL2ISTE(h *l2Handle, cfg *istConfig) {
	if !s.dmaWrite32(h.addr, h.word, cfg.attrs) {
		gic.GuestErr().Error("gicv5-irs: L2 ISTE write failed",
			"domain", h.domain.String(), "id", h.id, "addr", h.addr)
	}
}

// flushLPICache writes every cached entry of the domain back to guest
// memory and drops it. Used when the guest invalidates the IST.
func (s *IRS) flushLPICache(d gic.Domain) {
	cfg := &s.istCfg[d]
	var ids []uint32
	s.cache.forEach(d, func(id uint32, e lpiEntry) {
		if !s.dmaWrite32(e.addr, e.word, cfg.attrs) {
			gic.GuestErr().Error("gicv5-irs: L2 ISTE writeback failed",
				"domain", d.String(), "id", id, "addr", e.addr)
		}
		ids = append(ids, id)
	})
	for _, id := range ids {
		s.cache.remove(d, id)
	}
}

// mapL2IST handles IRS_MAP_L2_ISTR: mark the L1 ISTE covering the given
// LPI ID valid, via a guest-memory read-modify-write.
func (s *IRS) mapL2IST(d gic.Domain, id uint32) {
	cfg := &s.istCfg[d]
	if !cfg.valid || !cfg.structure {
		gic.GuestErr().Error("gicv5-irs: MAP_L2_ISTR without a valid 2-level IST",
			"domain", d.String(), "id", id)
		return
	}
	if id >= 1<<cfg.idBits {
		gic.GuestErr().Error("gicv5-irs: MAP_L2_ISTR ID out of range",
			"domain", d.String(), "id", id)
		return
	}

	l1Addr := l1ISTEAddr(cfg, id)
	l1ISTE, ok := s.dmaRead64(l1Addr, cfg.attrs)
	if !ok {
		gic.GuestErr().Error("gicv5-irs: MAP_L2_ISTR L1 read failed",
			"domain", d.String(), "id", id, "addr", l1Addr)
		return
	}
	l1ISTE = gic.L1ISTEValid.Insert(l1ISTE, 1)
	if !s.dmaWrite64(l1Addr, l1ISTE, cfg.attrs) {
		gic.GuestErr().Error("gicv5-irs: MAP_L2_ISTR L1 write failed",
			"domain", d.String(), "id", id, "addr", l1Addr)
	}
}
