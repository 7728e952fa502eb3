// gicv5sim is a small testbench around the GICv5 emulation core: it
// assembles a System from a YAML board description and drives canned
// interrupt scenarios against it, printing register values and wake-line
// transitions along the way.
package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	gicv5 "github.com/tinyrange/gicv5"
	"github.com/tinyrange/gicv5/internal/boardcfg"
)

var (
	configPath string
	tracePath  string
)

func main() {
	root := &cobra.Command{
		Use:   "gicv5sim",
		Short: "Testbench for the GICv5 emulation core",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "board description YAML")
	root.PersistentFlags().StringVar(&tracePath, "trace", "", "record trace events into the SQLite database <path>.sqlite3")

	root.AddCommand(&cobra.Command{
		Use:   "idregs",
		Short: "Dump the IRS identification registers",
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, _, err := buildSystem()
			if err != nil {
				return err
			}
			return dumpIDRegs(sys)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "lpi-demo",
		Short: "Configure an IST, deliver an LPI and acknowledge it",
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, board, err := buildSystem()
			if err != nil {
				return err
			}
			return lpiDemo(sys, board)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "spi-demo",
		Short: "Drive an SPI wire through its trigger modes",
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, board, err := buildSystem()
			if err != nil {
				return err
			}
			return spiDemo(sys, board)
		},
	})

	// Exit through atexit so the trace recorder flushes its buffered rows.
	code := 0
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code = 1
	}
	atexit.Exit(code)
}

func buildSystem() (*gicv5.System, *boardcfg.Board, error) {
	if configPath == "" {
		return nil, nil, fmt.Errorf("--config is required")
	}
	board, err := boardcfg.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	var trace gicv5.TraceRecorder
	if tracePath != "" {
		trace, err = gicv5.NewSQLiteTrace(tracePath)
		if err != nil {
			return nil, nil, err
		}
	}

	var domains []gicv5.Domain
	for _, name := range board.IRS.Domains {
		d, err := boardcfg.DomainByName(name)
		if err != nil {
			return nil, nil, err
		}
		domains = append(domains, gicv5.Domain(d))
	}

	var frameBases [4]uint64
	for name, base := range board.IRS.FrameBases {
		d, err := boardcfg.DomainByName(name)
		if err != nil {
			return nil, nil, err
		}
		frameBases[d] = base
	}

	cfg := gicv5.Config{
		IRSID:       board.IRS.ID,
		SPIBase:     board.IRS.SPIBase,
		SPIIRSRange: board.IRS.SPIIRSRange,
		SPIRange:    board.IRS.SPIRange,
		Domains:     domains,
		RAMBase:     board.RAM.Base,
		RAMSize:     board.RAM.Size,
		FrameBases:  frameBases,
		Trace:       trace,
	}
	for i, c := range board.CPUs {
		idx := i
		cfg.CPUs = append(cfg.CPUs, gicv5.CPUConfig{
			IAFFID: c.IAFFID,
			Proc:   &gicv5.FixedProcessor{State: gicv5.DomainNS, NMI: true},
			IRQ: gicv5.LineInterruptFromFunc(func(level bool) {
				fmt.Printf("cpu%d: IRQ %v\n", idx, level)
			}),
			NMI: gicv5.LineInterruptFromFunc(func(level bool) {
				fmt.Printf("cpu%d: NMI %v\n", idx, level)
			}),
		})
	}

	sys, err := gicv5.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return sys, board, nil
}

func dumpIDRegs(sys *gicv5.System) error {
	for _, d := range []gicv5.Domain{gicv5.DomainS, gicv5.DomainNS, gicv5.DomainEL3, gicv5.DomainRealm} {
		base := sys.FrameBase(d)
		if base == 0 {
			continue
		}
		fmt.Printf("%s frame at 0x%x:\n", d, base)
		for i := 0; i < 8; i++ {
			var buf [4]byte
			if err := sys.MMIORead(base+uint64(i)*4, buf[:]); err != nil {
				return err
			}
			fmt.Printf("  IRS_IDR%d = 0x%08x\n", i, binary.LittleEndian.Uint32(buf[:]))
		}
	}
	return nil
}

// lpiDemo walks the canonical delivery flow: build a one-level IST in
// guest memory, point IRS_IST_BASER at it, make an LPI pending through
// the CPU interface and service it.
func lpiDemo(sys *gicv5.System, board *boardcfg.Board) error {
	const (
		lpiID   = 0x17
		istBase = 0x1000
		prio    = 8
	)

	base := sys.FrameBase(gicv5.DomainNS)
	if base == 0 {
		return fmt.Errorf("board does not implement the NS domain")
	}
	istAddr := board.RAM.Base + istBase

	// L2 ISTE: enabled, edge-handled, priority 8, routed to CPU 0.
	var iste [4]byte
	binary.LittleEndian.PutUint32(iste[:], 1<<3|uint32(prio)<<11|uint32(board.CPUs[0].IAFFID)<<16)
	if _, err := sys.Mem().WriteAt(iste[:], int64(istAddr+lpiID*4)); err != nil {
		return err
	}

	// IST_CFGR: 1-level, 4-byte entries, 14 ID bits. Then set
	// IST_BASER.VALID.
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], 14)
	if err := sys.MMIOWrite(base+0x190, buf[:4]); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(buf[:], istAddr|1)
	if err := sys.MMIOWrite(base+0x180, buf[:]); err != nil {
		return err
	}

	cpu := sys.CPU(0)
	sys.Lock()
	cpu.WriteICCPCR(0x1f)
	cpu.WriteICCCR0(1)
	cpu.WriteCDPEND(uint64(gicv5.MakeINTID(gicv5.TypeLPI, lpiID)) | 1<<32)
	sys.Unlock()

	sys.Lock()
	result := cpu.AcknowledgeIRQ()
	sys.Unlock()
	if result == 0 {
		return fmt.Errorf("no interrupt to acknowledge")
	}
	t, id := gicv5.SplitINTID(uint32(result))
	fmt.Printf("acknowledged %s %#x (raw %#x)\n", t, id, result)

	sys.Lock()
	cpu.WriteCDEOI()
	cpu.WriteCDDI(uint64(gicv5.MakeINTID(gicv5.TypeLPI, lpiID)))
	sys.Unlock()
	fmt.Println("priority dropped and deactivated")

	return nil
}

// spiDemo drives the first SPI the IRS manages: once edge-triggered
// (pending latches across the falling edge) and once level-triggered
// (pending follows the wire).
func spiDemo(sys *gicv5.System, board *boardcfg.Board) error {
	spi := board.IRS.SPIBase
	base := sys.FrameBase(gicv5.DomainNS)
	if base == 0 {
		return fmt.Errorf("board does not implement the NS domain")
	}

	cpu := sys.CPU(0)
	sys.Lock()
	cpu.WriteICCPCR(0x1f)
	cpu.WriteICCCR0(1)
	cpu.WriteCDPRI(uint64(gicv5.MakeINTID(gicv5.TypeSPI, spi)) | 8<<32)
	cpu.WriteCDEN(uint64(gicv5.MakeINTID(gicv5.TypeSPI, spi)))
	sys.Unlock()

	fmt.Printf("edge-triggered pulse on SPI %d:\n", spi)
	sys.SPILine(spi).PulseInterrupt()
	sys.Lock()
	ack := cpu.AcknowledgeIRQ()
	cpu.WriteCDEOI()
	cpu.WriteCDDI(uint64(gicv5.MakeINTID(gicv5.TypeSPI, spi)))
	sys.Unlock()
	fmt.Printf("  acknowledged %#x\n", ack)

	// Switch to level triggering through the config frame.
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], spi)
	if err := sys.MMIOWrite(base+0x108, buf[:]); err != nil { // IRS_SPI_SELR
		return err
	}
	binary.LittleEndian.PutUint32(buf[:], 1)
	if err := sys.MMIOWrite(base+0x114, buf[:]); err != nil { // IRS_SPI_CFGR.TM
		return err
	}

	fmt.Printf("level-triggered wire on SPI %d:\n", spi)
	sys.SetSPI(spi, true)
	sys.SetSPI(spi, false)
	sys.Lock()
	ack = cpu.AcknowledgeIRQ()
	sys.Unlock()
	fmt.Printf("  acknowledge after wire dropped: %#x (nothing pending)\n", ack)

	return nil
}
