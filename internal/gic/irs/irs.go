// Package irs implements the GICv5 Interrupt Routing Service: the
// memory-mapped part of the GIC that owns SPI and LPI state, walks
// guest-resident interrupt state tables and computes the best pending
// interrupt per CPU and interrupt domain.
package irs

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/gicv5/internal/gic"
	"github.com/tinyrange/gicv5/internal/hv"
	"github.com/tinyrange/gicv5/internal/tracerec"
)

// ConfigFrameSize is the size of each per-domain config frame.
const ConfigFrameSize = 0x10000

// Config carries the board-level parameters of one IRS.
type Config struct {
	IRSID uint16

	// SPI space: this IRS manages SPI IDs in
	// [SPIBase, SPIBase+SPIIRSRange), out of a system-wide space of
	// SPIRange interrupts.
	SPIBase     uint32
	SPIIRSRange uint32
	SPIRange    uint32

	// Domains is the set of implemented interrupt domains.
	Domains gic.DomainMask

	// Mem is the guest physical address space the ISTs live in.
	Mem hv.GuestMemory

	// Trace receives emulation trace events; its tables must already
	// be registered with tracerec.Tables. Nil disables tracing.
	Trace tracerec.Recorder
}

func (c *Config) validate() error {
	if c.SPIBase >= 1<<24 {
		return fmt.Errorf("%w: spi-base 0x%x exceeds 24 bits", hv.ErrBadConfig, c.SPIBase)
	}
	if c.SPIIRSRange > 1<<24 {
		return fmt.Errorf("%w: spi-irs-range 0x%x exceeds 24 bits", hv.ErrBadConfig, c.SPIIRSRange)
	}
	if c.SPIRange > 1<<24 {
		return fmt.Errorf("%w: spi-range 0x%x exceeds 24 bits", hv.ErrBadConfig, c.SPIRange)
	}
	if uint64(c.SPIBase)+uint64(c.SPIIRSRange) > uint64(c.SPIRange) {
		return fmt.Errorf("%w: spi-base 0x%x + spi-irs-range 0x%x exceeds spi-range 0x%x",
			hv.ErrBadConfig, c.SPIBase, c.SPIIRSRange, c.SPIRange)
	}
	if c.Domains == 0 {
		return fmt.Errorf("%w: no interrupt domains implemented", hv.ErrBadConfig)
	}
	if c.Mem == nil {
		return fmt.Errorf("%w: no guest memory attached", hv.ErrBadConfig)
	}
	return nil
}

// IRS is one Interrupt Routing Service instance.
type IRS struct {
	cfg Config
	rec tracerec.Recorder

	// Per-domain register state.
	cr0      [gic.NumDomains]uint32
	cr1      [gic.NumDomains]uint32
	istBaser [gic.NumDomains]uint64
	istCfgr  [gic.NumDomains]uint32
	spiSelr  [gic.NumDomains]uint32
	peSelr   [gic.NumDomains]uint32

	// Captured IST configuration, frozen while IST_BASER.VALID is set.
	istCfg [gic.NumDomains]istConfig

	cache *lpiCache
	spis  []spiState

	cpus []gic.Waker
}

// New validates the configuration and builds an IRS. CPUs attach
// afterwards via Attach, before the first interrupt flows.
func New(cfg Config) (*IRS, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	rec := cfg.Trace
	if rec == nil {
		rec = tracerec.Nop{}
	}

	s := &IRS{
		cfg:   cfg,
		rec:   rec,
		cache: newLPICache(),
		spis:  make([]spiState, cfg.SPIIRSRange),
	}
	s.resetSPIs()
	return s, nil
}

// Attach wires the CPU interfaces this IRS routes to. Must be called
// once at board-assembly time.
func (s *IRS) Attach(cpus []gic.Waker) {
	s.cpus = cpus
}

// Reset restores power-on state: IST_BASER/IST_CFGR to zero, LPI cache
// cleared without writeback, SPI state cleared.
func (s *IRS) Reset() {
	for d := 0; d < gic.NumDomains; d++ {
		s.cr0[d] = 0
		s.cr1[d] = 0
		s.istBaser[d] = 0
		s.istCfgr[d] = 0
		s.spiSelr[d] = 0
		s.peSelr[d] = 0
		s.istCfg[d] = istConfig{}
	}
	s.cache.clear()
	s.resetSPIs()
}

func (s *IRS) resetSPIs() {
	def := s.cfg.Domains.MostPrivileged()
	for i := range s.spis {
		s.spis[i] = spiState{domain: def}
	}
}

// DomainImplemented reports whether this IRS implements the domain.
func (s *IRS) DomainImplemented(d gic.Domain) bool {
	return s.cfg.Domains.Has(d)
}

// IRSID returns the configured IRS identifier.
func (s *IRS) IRSID() uint16 { return s.cfg.IRSID }

func (s *IRS) cpuByIAFFID(iaffid uint16) gic.Waker {
	for _, c := range s.cpus {
		if c.IAFFID() == iaffid {
			return c
		}
	}
	return nil
}

// signalCPU asks the CPU with the given affinity to recompute its wake
// lines after IRS state affecting it changed. Unknown affinities are
// ignored: the interrupt stays pending until a CPU with that IAFFID
// shows up, which for a fixed board is never, and that is the guest's
// problem.
func (s *IRS) signalCPU(iaffid uint16) {
	if c := s.cpuByIAFFID(iaffid); c != nil {
		c.UpdateWake()
	}
}

// Guest memory accessors, security-tagged per domain.

func (s *IRS) dmaRead32(addr uint64, attrs gic.MemTxAttrs) (uint32, bool) {
	_ = attrs // a single flat address space backs all security spaces
	var buf [4]byte
	if _, err := s.cfg.Mem.ReadAt(buf[:], int64(addr)); err != nil {
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf[:]), true
}

func (s *IRS) dmaWrite32(addr uint64, v uint32, attrs gic.MemTxAttrs) bool {
	_ = attrs
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := s.cfg.Mem.WriteAt(buf[:], int64(addr))
	return err == nil
}

func (s *IRS) dmaRead64(addr uint64, attrs gic.MemTxAttrs) (uint64, bool) {
	_ = attrs
	var buf [8]byte
	if _, err := s.cfg.Mem.ReadAt(buf[:], int64(addr)); err != nil {
		return 0, false
	}
	return binary.LittleEndian.Uint64(buf[:]), true
}

func (s *IRS) dmaWrite64(addr uint64, v uint64, attrs gic.MemTxAttrs) bool {
	_ = attrs
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := s.cfg.Mem.WriteAt(buf[:], int64(addr))
	return err == nil
}
