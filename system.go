package gicv5

import (
	"fmt"
	"sync"

	"github.com/tinyrange/gicv5/internal/chipset"
	"github.com/tinyrange/gicv5/internal/gic"
	"github.com/tinyrange/gicv5/internal/gic/cpuif"
	"github.com/tinyrange/gicv5/internal/gic/irs"
	"github.com/tinyrange/gicv5/internal/hv"
	"github.com/tinyrange/gicv5/internal/tracerec"
)

// CPUConfig describes one CPU interface of a System.
type CPUConfig struct {
	IAFFID uint16
	Proc   Processor

	// Wake lines into the CPU core. Nil lines are detached.
	IRQ LineInterrupt
	FIQ LineInterrupt
	NMI LineInterrupt
}

// Config describes a System: one IRS, its CPUs and the guest memory the
// interrupt state tables live in.
type Config struct {
	IRSID uint16

	// SPI space handled by this IRS.
	SPIBase     uint32
	SPIIRSRange uint32
	SPIRange    uint32

	// Domains lists the implemented interrupt domains. Empty means
	// NonSecure only.
	Domains []Domain

	CPUs []CPUConfig

	// Mem is the guest physical memory. If nil a RAM region of
	// RAMSize bytes at RAMBase is allocated.
	Mem     GuestMemory
	RAMBase uint64
	RAMSize uint64

	// FrameBases pins the per-domain config frame addresses. Frames
	// left at zero are placed above RAM.
	FrameBases [4]uint64

	// Trace receives emulation trace events. Nil disables tracing.
	Trace TraceRecorder
}

// System is an assembled GICv5: the IRS, its config frames on an MMIO
// bus, the CPU interfaces and the SPI input wires. All externally
// reachable entry points serialize on one lock, which stands in for the
// emulator's global device lock: under it every stream command and
// register access runs to completion, so the asynchronous parts of the
// architecture collapse to synchronous calls.
type System struct {
	mu sync.Mutex

	irs      *irs.IRS
	frames   *irs.Frames
	cpus     []*cpuif.CPU
	chip     *chipset.Chipset
	spiLines *chipset.LineSet
	mem      GuestMemory

	frameBases [4]uint64
}

// New validates the configuration and assembles a System.
func New(cfg Config) (*System, error) {
	if len(cfg.CPUs) == 0 {
		return nil, fmt.Errorf("%w: no CPUs", hv.ErrBadConfig)
	}
	seen := make(map[uint16]bool)
	for _, c := range cfg.CPUs {
		if seen[c.IAFFID] {
			return nil, fmt.Errorf("%w: duplicate IAFFID %d", hv.ErrBadConfig, c.IAFFID)
		}
		seen[c.IAFFID] = true
	}

	domains := gic.MaskOf(gic.DomainNS)
	if len(cfg.Domains) > 0 {
		domains = gic.MaskOf(cfg.Domains...)
	}

	if cfg.Trace != nil {
		tracerec.Tables(cfg.Trace)
	}

	mem := cfg.Mem
	ramBase, ramSize := cfg.RAMBase, cfg.RAMSize
	if mem == nil {
		if ramSize == 0 {
			ramSize = 64 << 20
		}
		ram := hv.NewRAM(ramBase, ramSize)
		mem = ram
	}

	// Place the config frames: pinned bases are registered as fixed
	// regions, the rest are allocated above RAM.
	space := hv.NewAddressSpace(ramBase, ramSize)
	var frameBases [4]uint64
	for d := Domain(0); d < gic.NumDomains; d++ {
		if !domains.Has(d) {
			continue
		}
		if base := cfg.FrameBases[d]; base != 0 {
			if err := space.RegisterFixed(frameName(d), base, irs.ConfigFrameSize); err != nil {
				return nil, fmt.Errorf("%w: %v", hv.ErrBadConfig, err)
			}
			frameBases[d] = base
			continue
		}
		alloc, err := space.Allocate(hv.MMIOAllocationRequest{
			Name: frameName(d),
			Size: irs.ConfigFrameSize,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", hv.ErrBadConfig, err)
		}
		frameBases[d] = alloc.Base
	}

	routing, err := irs.New(irs.Config{
		IRSID:       cfg.IRSID,
		SPIBase:     cfg.SPIBase,
		SPIIRSRange: cfg.SPIIRSRange,
		SPIRange:    cfg.SPIRange,
		Domains:     domains,
		Mem:         mem,
		Trace:       cfg.Trace,
	})
	if err != nil {
		return nil, err
	}

	sys := &System{
		irs:        routing,
		mem:        mem,
		frameBases: frameBases,
	}

	cpus := make([]*cpuif.CPU, 0, len(cfg.CPUs))
	wakers := make([]gic.Waker, 0, len(cfg.CPUs))
	for i, cc := range cfg.CPUs {
		cpu, err := cpuif.New(cpuif.Config{
			IAFFID: cc.IAFFID,
			Proc:   cc.Proc,
			IRQ:    cc.IRQ,
			FIQ:    cc.FIQ,
			NMI:    cc.NMI,
			Trace:  cfg.Trace,
		})
		if err != nil {
			return nil, fmt.Errorf("cpu %d: %w", i, err)
		}
		cpu.AttachIRS(routing)
		cpus = append(cpus, cpu)
		wakers = append(wakers, cpu)
	}
	routing.Attach(wakers)
	sys.cpus = cpus

	sys.frames = irs.NewFrames(routing, frameBases)

	builder := chipset.NewBuilder()
	if err := builder.RegisterDevice("gicv5-irs", sys.frames); err != nil {
		return nil, err
	}
	chip, err := builder.Build()
	if err != nil {
		return nil, err
	}
	sys.chip = chip

	// SPI input wires feed the IRS under the system lock.
	sys.spiLines = chipset.NewLineSet(lockedSink{sys})

	return sys, nil
}

func frameName(d Domain) string {
	return "gicv5-irs-" + d.String()
}

// lockedSink routes wire level changes into the IRS under the system
// lock.
type lockedSink struct {
	sys *System
}

func (l lockedSink) SetWire(id uint32, level bool) {
	l.sys.mu.Lock()
	defer l.sys.mu.Unlock()
	l.sys.irs.SetWire(id, level)
}

// Lock takes the global device lock. CPU register accessors obtained
// through CPU() must run with it held.
func (s *System) Lock() { s.mu.Lock() }

// Unlock releases the global device lock.
func (s *System) Unlock() { s.mu.Unlock() }

// CPU returns the i-th CPU interface.
func (s *System) CPU(i int) *CPU { return s.cpus[i] }

// NumCPUs returns the number of CPU interfaces.
func (s *System) NumCPUs() int { return len(s.cpus) }

// Mem returns the guest memory the System was assembled with.
func (s *System) Mem() GuestMemory { return s.mem }

// FrameBase returns the config frame base address for the domain, or 0
// if the domain is not implemented.
func (s *System) FrameBase(d Domain) uint64 { return s.frameBases[d] }

// SPILine returns the input wire for the given SPI ID, for boards to
// hand to their devices.
func (s *System) SPILine(id uint32) LineInterrupt {
	return s.spiLines.AllocateLine(id)
}

// SetSPI drives an SPI input wire directly.
func (s *System) SetSPI(id uint32, level bool) {
	s.spiLines.AllocateLine(id).SetLevel(level)
}

// MMIORead performs a bus read of the IRS config frames.
func (s *System) MMIORead(addr uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chip.HandleMMIO(addr, data, false)
}

// MMIOWrite performs a bus write of the IRS config frames.
func (s *System) MMIOWrite(addr uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chip.HandleMMIO(addr, data, true)
}

// Reset restores power-on state for the IRS and every CPU interface.
func (s *System) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.chip.Reset(); err != nil {
		return err
	}
	for _, c := range s.cpus {
		c.Reset()
	}
	return nil
}
